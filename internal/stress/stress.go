package stress

import (
	"fmt"
	"sync"
	"time"

	"github.com/wonny/vigil/internal/contracts"
	"github.com/wonny/vigil/internal/riskconfig"
)

// TimedReturn is one dated observation, used by historical replay
// scenarios to select the realized path between two dates.
type TimedReturn struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Result is the outcome of one scenario against one portfolio.
// Losses are positive.
type Result struct {
	Name              string                  `json:"name"`
	Type              riskconfig.ScenarioType `json:"type"`
	Loss              float64                 `json:"loss"`
	LossPct           float64                 `json:"loss_pct"`
	BreachThreshold   bool                    `json:"breach_threshold"`
	NewPortfolioValue float64                 `json:"new_portfolio_value"`
}

// Tester applies configured shock scenarios to a portfolio snapshot.
// Scenario evaluation is pure: identical inputs always produce
// identical results, and distinct scenarios share no mutable state, so
// they run in parallel.
type Tester struct {
	cfg *riskconfig.Config
}

func NewTester(cfg *riskconfig.Config) *Tester {
	return &Tester{cfg: cfg}
}

// Run evaluates every configured scenario concurrently and returns
// results in configuration order. history is only consulted by
// historical replay scenarios.
func (t *Tester) Run(portfolio *contracts.Portfolio, history map[string][]TimedReturn) ([]Result, error) {
	return t.RunScenarios(portfolio, t.cfg.StressTesting.Scenarios, history)
}

// RunScenarios evaluates an explicit scenario list, used by the API
// surface for ad hoc runs.
func (t *Tester) RunScenarios(
	portfolio *contracts.Portfolio,
	scenarios []riskconfig.ScenarioConfig,
	history map[string][]TimedReturn,
) ([]Result, error) {
	if portfolio == nil {
		return nil, fmt.Errorf("nil portfolio")
	}

	results := make([]Result, len(scenarios))
	errs := make([]error, len(scenarios))

	var wg sync.WaitGroup
	for i := range scenarios {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = t.runOne(portfolio, scenarios[idx], history)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", scenarios[i].Name, err)
		}
	}
	return results, nil
}

func (t *Tester) runOne(
	portfolio *contracts.Portfolio,
	sc riskconfig.ScenarioConfig,
	history map[string][]TimedReturn,
) (Result, error) {
	res := Result{Name: sc.Name, Type: sc.Type}

	currentValue := portfolio.TotalValue()
	if currentValue <= 0 {
		return res, fmt.Errorf("non-positive portfolio value %.2f", currentValue)
	}

	shocks, err := t.resolveShocks(portfolio, sc, history)
	if err != nil {
		return res, err
	}

	newValue := portfolio.Cash
	for i := range portfolio.Positions {
		pos := &portfolio.Positions[i]
		newValue += pos.MarketValue() * (1 + shocks[pos.Symbol])
	}

	res.NewPortfolioValue = newValue
	res.Loss = currentValue - newValue
	res.LossPct = res.Loss / currentValue
	res.BreachThreshold = res.LossPct > t.breachBoundary()
	return res, nil
}

// resolveShocks maps the scenario onto a per-symbol return shock.
// Symbols a scenario does not cover keep a zero shock.
func (t *Tester) resolveShocks(
	portfolio *contracts.Portfolio,
	sc riskconfig.ScenarioConfig,
	history map[string][]TimedReturn,
) (map[string]float64, error) {
	shocks := make(map[string]float64, len(portfolio.Positions))

	switch sc.Type {
	case riskconfig.ScenarioUniform:
		for _, sym := range portfolio.Symbols() {
			shocks[sym] = sc.Shock
		}

	case riskconfig.ScenarioPerSymbol:
		for _, sym := range portfolio.Symbols() {
			shocks[sym] = sc.SymbolShocks[sym]
		}

	case riskconfig.ScenarioSector:
		for i := range portfolio.Positions {
			pos := &portfolio.Positions[i]
			shocks[pos.Symbol] = sc.SectorShocks[pos.Sector]
		}

	case riskconfig.ScenarioAssetClass:
		for i := range portfolio.Positions {
			pos := &portfolio.Positions[i]
			shocks[pos.Symbol] = sc.AssetClassShocks[pos.AssetClass]
		}

	case riskconfig.ScenarioVolatility:
		// A vol spike scales the base shock: the multiplier stands in
		// for how much wider the distribution gets.
		for _, sym := range portfolio.Symbols() {
			shocks[sym] = sc.Shock * sc.VolMultiplier
		}

	case riskconfig.ScenarioHistorical:
		start, end, err := sc.DateRange()
		if err != nil {
			return nil, err
		}
		for _, sym := range portfolio.Symbols() {
			shocks[sym] = compoundWindow(history[sym], start, end)
		}

	default:
		return nil, fmt.Errorf("unknown scenario type %q", sc.Type)
	}

	return shocks, nil
}

// compoundWindow compounds the realized returns inside [start, end]
// into a single holding-period shock. No observations in the window
// means no shock.
func compoundWindow(series []TimedReturn, start, end time.Time) float64 {
	cum := 1.0
	seen := false
	for _, tr := range series {
		if tr.Date.Before(start) || tr.Date.After(end) {
			continue
		}
		cum *= 1 + tr.Value
		seen = true
	}
	if !seen {
		return 0
	}
	return cum - 1
}

// breachBoundary is the loss fraction above which a scenario is marked
// as breaching: the configured portfolio_drawdown alert threshold, or
// the hard drawdown limit when no alert threshold names it.
func (t *Tester) breachBoundary() float64 {
	for _, th := range t.cfg.RiskAlerts.Thresholds {
		if th.Metric == riskconfig.MetricPortfolioDrawdown {
			return th.Limit
		}
	}
	return t.cfg.RiskLimits.Portfolio.MaxDrawdown
}
