package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/wonny/vigil/internal/contracts"
	"github.com/wonny/vigil/internal/engine"
	"github.com/wonny/vigil/internal/killswitch"
	"github.com/wonny/vigil/internal/metrics"
	"github.com/wonny/vigil/internal/monitor"
	"github.com/wonny/vigil/internal/riskconfig"
	"github.com/wonny/vigil/internal/sizing"
	"github.com/wonny/vigil/internal/stress"
	"github.com/wonny/vigil/pkg/logger"
)

// AlertStore reads back persisted alerts. nil when persistence is
// disabled.
type AlertStore interface {
	RecentAlerts(ctx context.Context, limit int) ([]monitor.Alert, error)
}

// RiskHandler handles risk view API endpoints.
type RiskHandler struct {
	engine *engine.Engine
	tester *stress.Tester
	sizer  *sizing.Sizer
	feed   contracts.MarketDataFeed
	alerts AlertStore
	exec   contracts.ExecutionClient
	cfg    *riskconfig.Config
	logger *logger.Logger
}

// NewRiskHandler creates a new risk handler.
func NewRiskHandler(
	eng *engine.Engine,
	tester *stress.Tester,
	feed contracts.MarketDataFeed,
	alerts AlertStore,
	exec contracts.ExecutionClient,
	cfg *riskconfig.Config,
	log *logger.Logger,
) *RiskHandler {
	return &RiskHandler{
		engine: eng,
		tester: tester,
		sizer:  sizing.NewSizer(cfg),
		feed:   feed,
		alerts: alerts,
		exec:   exec,
		cfg:    cfg,
		logger: log,
	}
}

// GetSnapshot returns the latest risk snapshot
// GET /api/risk/snapshot
func (h *RiskHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	if snap == nil {
		respondError(w, http.StatusServiceUnavailable, "No risk snapshot computed yet")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// GetAlerts returns recent alerts
// GET /api/risk/alerts?limit=50
func (h *RiskHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		respondError(w, http.StatusServiceUnavailable, "Persistence is disabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	alerts, err := h.alerts.RecentAlerts(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get alerts")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve alerts")
		return
	}
	if alerts == nil {
		alerts = []monitor.Alert{}
	}
	respondJSON(w, http.StatusOK, alerts)
}

// StressResponse represents a stress test run.
type StressResponse struct {
	RanAt   time.Time       `json:"ran_at"`
	Results []stress.Result `json:"results"`
}

// RunStress runs all configured stress scenarios against the current
// portfolio
// POST /api/risk/stress
func (h *RiskHandler) RunStress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	portfolio, err := h.feed.Portfolio(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get portfolio for stress run")
		respondError(w, http.StatusServiceUnavailable, "No portfolio available")
		return
	}

	history, err := h.tradeHistory(ctx, portfolio)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get return history for stress run")
		respondError(w, http.StatusServiceUnavailable, "No return history available")
		return
	}

	results, err := h.tester.Run(portfolio, history)
	if err != nil {
		h.logger.WithError(err).Error("Stress run failed")
		respondError(w, http.StatusInternalServerError, "Stress run failed")
		return
	}

	respondJSON(w, http.StatusOK, StressResponse{RanAt: time.Now(), Results: results})
}

// SizeRequest carries a trading signal to size against the live book.
// When Submit is set the resulting intent is handed to the execution
// service.
type SizeRequest struct {
	Signal contracts.Signal `json:"signal"`
	Submit bool             `json:"submit"`
}

// SizeResponse is the sizing proposal, plus the execution service's
// order reference when the intent was submitted.
type SizeResponse struct {
	Result   *sizing.Result `json:"result"`
	OrderRef string         `json:"order_ref,omitempty"`
}

// SizeSignal sizes a trading signal under the configured policy and
// portfolio limits
// POST /api/risk/size
func (h *RiskHandler) SizeSignal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Signal.Symbol == "" {
		respondError(w, http.StatusBadRequest, "signal.symbol is required")
		return
	}
	if req.Signal.Side != contracts.SideBuy && req.Signal.Side != contracts.SideSell {
		respondError(w, http.StatusBadRequest, "signal.side must be BUY or SELL")
		return
	}

	// New exposure while the switch is triggered or executed would race
	// the close-all action.
	if state := h.engine.KillSwitch().State(); state == killswitch.StateTriggered || state == killswitch.StateExecuted {
		respondError(w, http.StatusConflict, "Trading is halted, new orders are not sized")
		return
	}

	portfolio, err := h.feed.Portfolio(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get portfolio for sizing")
		respondError(w, http.StatusServiceUnavailable, "No portfolio available")
		return
	}

	vols, err := h.assetVolatility(ctx, portfolio)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get volatilities for sizing")
		respondError(w, http.StatusServiceUnavailable, "No return history available")
		return
	}

	result, err := h.sizer.Size(sizing.Input{
		Signal:          &req.Signal,
		Portfolio:       portfolio,
		AssetVolatility: vols,
	})
	if err != nil {
		if errors.Is(err, sizing.ErrInvalidSizingInput) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithError(err).Error("Sizing failed")
		respondError(w, http.StatusInternalServerError, "Sizing failed")
		return
	}

	resp := SizeResponse{Result: result}
	if req.Submit && result.Quantity > 0 {
		ref, err := h.exec.SubmitIntent(ctx, result.ToIntent(time.Now()))
		if err != nil {
			h.logger.WithError(err).Error("Failed to submit order intent")
			respondError(w, http.StatusBadGateway, "Order intent submission failed")
			return
		}
		resp.OrderRef = ref
	}
	respondJSON(w, http.StatusOK, resp)
}

// assetVolatility derives annualized volatilities from the feed's
// return series for the risk parity sleeve.
func (h *RiskHandler) assetVolatility(ctx context.Context, portfolio *contracts.Portfolio) (map[string]float64, error) {
	lookback := h.cfg.RiskCalculations.VaR.LookbackDays
	returns, err := h.feed.Returns(ctx, portfolio.Symbols(), lookback)
	if err != nil {
		return nil, err
	}

	vols := make(map[string]float64, len(returns))
	for sym, series := range returns {
		vols[sym] = metrics.AnnualizedVolatility(series)
	}
	return vols, nil
}

// tradeHistory converts the feed's return series into dated series for
// historical replay scenarios, assuming one return per calendar day
// ending today.
func (h *RiskHandler) tradeHistory(ctx context.Context, portfolio *contracts.Portfolio) (map[string][]stress.TimedReturn, error) {
	lookback := h.cfg.RiskCalculations.VaR.LookbackDays
	returns, err := h.feed.Returns(ctx, portfolio.Symbols(), lookback)
	if err != nil {
		return nil, err
	}

	today := time.Now().Truncate(24 * time.Hour)
	history := make(map[string][]stress.TimedReturn, len(returns))
	for sym, series := range returns {
		dated := make([]stress.TimedReturn, len(series))
		for i, r := range series {
			dated[i] = stress.TimedReturn{
				Date:  today.AddDate(0, 0, i-len(series)+1),
				Value: r,
			}
		}
		history[sym] = dated
	}
	return history, nil
}
