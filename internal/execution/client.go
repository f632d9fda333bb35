package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wonny/vigil/internal/contracts"
	"github.com/wonny/vigil/pkg/config"
	"github.com/wonny/vigil/pkg/httputil"
	"github.com/wonny/vigil/pkg/logger"
)

// =============================================================================
// Execution service client
// =============================================================================

// RESTClient talks to the order execution service over HTTP. It is the
// production contracts.ExecutionClient: the kill switch's close-all
// command and the sizer's order intents both go through it.
//
// The close-all endpoint must be idempotent on the execution side; the
// kill switch retries it until confirmed.
type RESTClient struct {
	client  *httputil.Client
	baseURL string
	log     *logger.Logger
}

// NewRESTClient creates an execution service client.
func NewRESTClient(cfg config.ExecConfig, log *logger.Logger) *RESTClient {
	// The kill switch owns the close-all retry policy, so the HTTP
	// layer must not retry underneath it.
	client := httputil.New(log, 15*time.Second).WithRetry(0, 0)
	if cfg.APIKey != "" {
		client = client.WithHeader("X-API-Key", cfg.APIKey)
	}
	return &RESTClient{
		client:  client,
		baseURL: cfg.BaseURL,
		log:     log.WithComponent("execution"),
	}
}

type closeAllRequest struct {
	Reason string `json:"reason"`
}

type closeAllResponse struct {
	Status          string `json:"status"`
	PositionsClosed int    `json:"positions_closed"`
}

// CloseAllPositions implements contracts.ExecutionClient. It returns
// nil only when the execution service confirms completion.
func (c *RESTClient) CloseAllPositions(ctx context.Context, reason string) error {
	resp, err := c.client.PostJSON(ctx, c.baseURL+"/orders/close-all", closeAllRequest{Reason: reason})
	if err != nil {
		return fmt.Errorf("close-all request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("close-all rejected with status %d: %s", resp.StatusCode, body)
	}

	var result closeAllResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("close-all response unreadable: %w", err)
	}
	if result.Status != "closed" {
		return fmt.Errorf("close-all not confirmed: status %q", result.Status)
	}

	c.log.WithFields(map[string]interface{}{
		"reason":    reason,
		"positions": result.PositionsClosed,
	}).Warn("All positions closed")
	return nil
}

type submitResponse struct {
	OrderRef string `json:"order_ref"`
}

// SubmitIntent implements contracts.ExecutionClient.
func (c *RESTClient) SubmitIntent(ctx context.Context, intent *contracts.OrderIntent) (string, error) {
	resp, err := c.client.PostJSON(ctx, c.baseURL+"/orders", intent)
	if err != nil {
		return "", fmt.Errorf("order submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("order rejected with status %d: %s", resp.StatusCode, body)
	}

	var result submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("order response unreadable: %w", err)
	}
	if result.OrderRef == "" {
		return "", fmt.Errorf("order accepted without a reference")
	}

	c.log.WithFields(map[string]interface{}{
		"symbol":    intent.Symbol,
		"side":      intent.Side,
		"quantity":  intent.Quantity,
		"order_ref": result.OrderRef,
	}).Info("Order submitted")
	return result.OrderRef, nil
}

// DryRunClient logs commands instead of sending them. Used when no
// execution service is configured, so a triggered kill switch still
// completes its action sequence in development.
type DryRunClient struct {
	log *logger.Logger
}

// NewDryRunClient creates a dry-run execution client.
func NewDryRunClient(log *logger.Logger) *DryRunClient {
	return &DryRunClient{log: log.WithComponent("execution")}
}

// CloseAllPositions logs the close command and confirms immediately.
func (c *DryRunClient) CloseAllPositions(_ context.Context, reason string) error {
	c.log.WithField("reason", reason).Warn("DRY RUN: close all positions")
	return nil
}

// SubmitIntent logs the intent and fabricates an order reference.
func (c *DryRunClient) SubmitIntent(_ context.Context, intent *contracts.OrderIntent) (string, error) {
	c.log.WithFields(map[string]interface{}{
		"symbol":   intent.Symbol,
		"side":     intent.Side,
		"quantity": intent.Quantity,
	}).Info("DRY RUN: submit order")
	return fmt.Sprintf("dry-run-%s-%d", intent.Symbol, time.Now().UnixNano()), nil
}
