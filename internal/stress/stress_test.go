package stress

import (
	"math"
	"testing"
	"time"

	"github.com/wonny/vigil/internal/contracts"
	"github.com/wonny/vigil/internal/riskconfig"
)

func testConfig(scenarios ...riskconfig.ScenarioConfig) *riskconfig.Config {
	return &riskconfig.Config{
		RiskLimits: riskconfig.RiskLimits{
			Portfolio: riskconfig.PortfolioLimits{MaxDrawdown: 0.15, MaxLeverage: 2.0, MaxVaR95: 0.05},
		},
		RiskAlerts: riskconfig.RiskAlerts{
			Thresholds: []riskconfig.AlertThreshold{
				{Metric: riskconfig.MetricPortfolioDrawdown, Limit: 0.10, Direction: riskconfig.DirectionAbove},
			},
		},
		StressTesting: riskconfig.StressTesting{Scenarios: scenarios},
	}
}

func testPortfolio() *contracts.Portfolio {
	return &contracts.Portfolio{
		AsOf: time.Now(),
		Cash: 20_000,
		Positions: []contracts.Position{
			{Symbol: "AAPL", Quantity: 200, CurrentPrice: 200, Sector: "tech", AssetClass: "equity"},
			{Symbol: "XOM", Quantity: 400, CurrentPrice: 100, Sector: "energy", AssetClass: "equity"},
		},
	}
}

func TestUniformScenario(t *testing.T) {
	tester := NewTester(testConfig(riskconfig.ScenarioConfig{
		Name: "market_crash", Type: riskconfig.ScenarioUniform, Shock: -0.20,
	}))

	results, err := tester.Run(testPortfolio(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}

	// 80k of positions down 20% is a 16k loss on a 100k book.
	res := results[0]
	if math.Abs(res.Loss-16_000) > 1e-9 {
		t.Errorf("Loss = %v, want 16000", res.Loss)
	}
	if math.Abs(res.LossPct-0.16) > 1e-12 {
		t.Errorf("LossPct = %v, want 0.16", res.LossPct)
	}
	if math.Abs(res.NewPortfolioValue-84_000) > 1e-9 {
		t.Errorf("NewPortfolioValue = %v, want 84000", res.NewPortfolioValue)
	}
	if !res.BreachThreshold {
		t.Error("a 16% loss must breach the 10% drawdown threshold")
	}
}

func TestSectorScenarioOnlyHitsNamedSectors(t *testing.T) {
	tester := NewTester(testConfig(riskconfig.ScenarioConfig{
		Name: "tech_selloff",
		Type: riskconfig.ScenarioSector,
		SectorShocks: map[string]float64{
			"tech": -0.25,
		},
	}))

	results, err := tester.Run(testPortfolio(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Only the 40k tech position takes the shock.
	res := results[0]
	if math.Abs(res.Loss-10_000) > 1e-9 {
		t.Errorf("Loss = %v, want 10000", res.Loss)
	}
	if res.BreachThreshold {
		t.Error("a 10% loss must not breach a strictly-above 10% threshold")
	}
}

func TestAssetClassAndVolatilityScenarios(t *testing.T) {
	tester := NewTester(testConfig(
		riskconfig.ScenarioConfig{
			Name: "equity_down",
			Type: riskconfig.ScenarioAssetClass,
			AssetClassShocks: map[string]float64{
				"equity": -0.10,
			},
		},
		riskconfig.ScenarioConfig{
			Name: "vol_spike",
			Type: riskconfig.ScenarioVolatility,
			Shock: -0.05, VolMultiplier: 3.0,
		},
	))

	results, err := tester.Run(testPortfolio(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if math.Abs(results[0].Loss-8_000) > 1e-9 {
		t.Errorf("equity_down loss = %v, want 8000", results[0].Loss)
	}
	// -0.05 scaled by 3 hits all 80k of positions for 12k.
	if math.Abs(results[1].Loss-12_000) > 1e-9 {
		t.Errorf("vol_spike loss = %v, want 12000", results[1].Loss)
	}
}

func TestHistoricalReplayCompoundsWindow(t *testing.T) {
	tester := NewTester(testConfig(riskconfig.ScenarioConfig{
		Name: "crash_replay",
		Type: riskconfig.ScenarioHistorical,
		StartDate: "2020-02-19", EndDate: "2020-02-21",
	}))

	day := func(d int) time.Time { return time.Date(2020, 2, d, 0, 0, 0, 0, time.UTC) }
	history := map[string][]TimedReturn{
		"AAPL": {
			{Date: day(18), Value: 0.50}, // outside the window
			{Date: day(19), Value: -0.10},
			{Date: day(20), Value: -0.10},
			{Date: day(22), Value: 0.50}, // outside the window
		},
	}

	results, err := tester.Run(testPortfolio(), history)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// AAPL compounds to (0.9*0.9)-1 = -19% on 40k; XOM has no history
	// in the window and is untouched.
	res := results[0]
	wantLoss := 40_000 * 0.19
	if math.Abs(res.Loss-wantLoss) > 1e-6 {
		t.Errorf("Loss = %v, want %v", res.Loss, wantLoss)
	}
}

func TestShortPositionGainsOnCrash(t *testing.T) {
	tester := NewTester(testConfig(riskconfig.ScenarioConfig{
		Name: "market_crash", Type: riskconfig.ScenarioUniform, Shock: -0.20,
	}))

	portfolio := &contracts.Portfolio{
		AsOf: time.Now(),
		Cash: 120_000,
		Positions: []contracts.Position{
			{Symbol: "SPY", Quantity: -100, CurrentPrice: 200, Sector: "index", AssetClass: "equity"},
		},
	}

	results, err := tester.Run(portfolio, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Loss >= 0 {
		t.Errorf("short book must profit from a crash, got loss %v", results[0].Loss)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	scenarios := []riskconfig.ScenarioConfig{
		{Name: "crash", Type: riskconfig.ScenarioUniform, Shock: -0.20},
		{Name: "tech", Type: riskconfig.ScenarioSector, SectorShocks: map[string]float64{"tech": -0.15}},
		{Name: "vol", Type: riskconfig.ScenarioVolatility, Shock: -0.05, VolMultiplier: 2},
	}
	tester := NewTester(testConfig(scenarios...))
	portfolio := testPortfolio()

	first, err := tester.Run(portfolio, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i := 0; i < 20; i++ {
		again, err := tester.Run(portfolio, nil)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d scenario %s differs: %+v vs %+v", i, first[j].Name, again[j], first[j])
			}
		}
	}
}

func TestResultsKeepConfigurationOrder(t *testing.T) {
	scenarios := []riskconfig.ScenarioConfig{
		{Name: "a", Type: riskconfig.ScenarioUniform, Shock: -0.01},
		{Name: "b", Type: riskconfig.ScenarioUniform, Shock: -0.02},
		{Name: "c", Type: riskconfig.ScenarioUniform, Shock: -0.03},
	}
	tester := NewTester(testConfig(scenarios...))

	results, err := tester.Run(testPortfolio(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, sc := range scenarios {
		if results[i].Name != sc.Name {
			t.Errorf("results[%d] = %s, want %s", i, results[i].Name, sc.Name)
		}
	}
}

func TestRunRejectsNilPortfolio(t *testing.T) {
	tester := NewTester(testConfig())
	if _, err := tester.Run(nil, nil); err == nil {
		t.Error("expected error for nil portfolio")
	}
}
