package execution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wonny/vigil/internal/contracts"
	"github.com/wonny/vigil/pkg/config"
	"github.com/wonny/vigil/pkg/logger"
)

func TestCloseAllConfirmed(t *testing.T) {
	var gotReason string
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/close-all" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotKey = r.Header.Get("X-API-Key")
		var req closeAllRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotReason = req.Reason
		json.NewEncoder(w).Encode(closeAllResponse{Status: "closed", PositionsClosed: 3})
	}))
	defer srv.Close()

	c := NewRESTClient(config.ExecConfig{BaseURL: srv.URL, APIKey: "secret"}, logger.NewNop())
	if err := c.CloseAllPositions(context.Background(), "drawdown breach"); err != nil {
		t.Fatalf("CloseAllPositions: %v", err)
	}
	if gotReason != "drawdown breach" {
		t.Errorf("reason = %q", gotReason)
	}
	if gotKey != "secret" {
		t.Errorf("api key header = %q", gotKey)
	}
}

func TestCloseAllUnconfirmedStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(closeAllResponse{Status: "pending"})
	}))
	defer srv.Close()

	c := NewRESTClient(config.ExecConfig{BaseURL: srv.URL}, logger.NewNop())
	if err := c.CloseAllPositions(context.Background(), "x"); err == nil {
		t.Fatal("unconfirmed close-all returned nil")
	}
}

func TestCloseAllHTTPErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "venue unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewRESTClient(config.ExecConfig{BaseURL: srv.URL}, logger.NewNop())
	if err := c.CloseAllPositions(context.Background(), "x"); err == nil {
		t.Fatal("HTTP 502 returned nil")
	}
}

func TestSubmitIntentReturnsRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var intent contracts.OrderIntent
		json.NewDecoder(r.Body).Decode(&intent)
		if intent.Symbol != "AAPL" {
			t.Errorf("symbol = %q", intent.Symbol)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(submitResponse{OrderRef: "ORD-42"})
	}))
	defer srv.Close()

	c := NewRESTClient(config.ExecConfig{BaseURL: srv.URL}, logger.NewNop())
	ref, err := c.SubmitIntent(context.Background(), &contracts.OrderIntent{
		Symbol:    "AAPL",
		Side:      contracts.SideBuy,
		Quantity:  100,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("SubmitIntent: %v", err)
	}
	if ref != "ORD-42" {
		t.Errorf("ref = %q, want ORD-42", ref)
	}
}

func TestSubmitIntentMissingRefFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(submitResponse{})
	}))
	defer srv.Close()

	c := NewRESTClient(config.ExecConfig{BaseURL: srv.URL}, logger.NewNop())
	if _, err := c.SubmitIntent(context.Background(), &contracts.OrderIntent{Symbol: "AAPL"}); err == nil {
		t.Fatal("missing order_ref returned nil")
	}
}

func TestDryRunClientAlwaysConfirms(t *testing.T) {
	c := NewDryRunClient(logger.NewNop())
	if err := c.CloseAllPositions(context.Background(), "test"); err != nil {
		t.Fatalf("CloseAllPositions: %v", err)
	}
	ref, err := c.SubmitIntent(context.Background(), &contracts.OrderIntent{Symbol: "AAPL"})
	if err != nil || ref == "" {
		t.Fatalf("SubmitIntent: ref=%q err=%v", ref, err)
	}
}
