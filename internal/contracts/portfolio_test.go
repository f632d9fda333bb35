package contracts

import (
	"math"
	"testing"
	"time"
)

func testPortfolio() *Portfolio {
	return &Portfolio{
		AsOf: time.Now(),
		Cash: 20000,
		Positions: []Position{
			{Symbol: "AAPL", Quantity: 100, EntryPrice: 150, CurrentPrice: 160, Sector: "tech", AssetClass: "equity"},
			{Symbol: "XOM", Quantity: 200, EntryPrice: 100, CurrentPrice: 95, Sector: "energy", AssetClass: "equity"},
			{Symbol: "ES", Quantity: -10, EntryPrice: 5000, CurrentPrice: 4900, Sector: "index", AssetClass: "future"},
		},
	}
}

func TestPortfolio_TotalValue(t *testing.T) {
	p := testPortfolio()

	// 20000 + 16000 + 19000 - 49000
	want := 20000.0 + 100*160 + 200*95 + (-10)*4900
	if got := p.TotalValue(); got != want {
		t.Errorf("TotalValue() = %v, want %v", got, want)
	}
}

func TestPortfolio_GrossExposure(t *testing.T) {
	p := testPortfolio()

	want := 100*160.0 + 200*95.0 + 10*4900.0
	if got := p.GrossExposure(); got != want {
		t.Errorf("GrossExposure() = %v, want %v", got, want)
	}
}

func TestPortfolio_Weights(t *testing.T) {
	p := testPortfolio()
	weights := p.Weights()

	value := p.TotalValue()
	if w := weights["AAPL"]; math.Abs(w-100*160/value) > 1e-12 {
		t.Errorf("AAPL weight = %v", w)
	}
	if w := weights["ES"]; w >= 0 {
		t.Errorf("short position weight should be negative, got %v", w)
	}
}

func TestPortfolio_GetPosition(t *testing.T) {
	p := testPortfolio()

	pos, ok := p.GetPosition("XOM")
	if !ok {
		t.Fatal("Expected to find XOM")
	}
	if pos.Sector != "energy" {
		t.Errorf("Got sector %s, want energy", pos.Sector)
	}

	if _, ok := p.GetPosition("TSLA"); ok {
		t.Error("Expected not to find TSLA")
	}
}

func TestPortfolio_CloneIsIndependent(t *testing.T) {
	p := testPortfolio()
	cp := p.Clone()

	cp.Positions[0].CurrentPrice = 1
	if p.Positions[0].CurrentPrice == 1 {
		t.Error("Clone() must not share position storage")
	}
}

func TestPosition_UnrealizedPnL(t *testing.T) {
	short := Position{Symbol: "ES", Quantity: -10, EntryPrice: 5000, CurrentPrice: 4900}
	if pnl := short.UnrealizedPnL(); pnl != 1000 {
		t.Errorf("short PnL = %v, want 1000", pnl)
	}
}
