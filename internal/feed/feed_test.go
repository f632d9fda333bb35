package feed

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/wonny/vigil/internal/contracts"
	"github.com/wonny/vigil/pkg/logger"
)

func newTestFeed(lookback int) *Feed {
	return New(lookback, "SPY", time.Hour, nil, logger.NewNop())
}

func tick(symbol string, price float64, at time.Time) *PriceTick {
	return &PriceTick{Symbol: symbol, Price: price, Timestamp: at}
}

func TestApplyTickBuildsReturns(t *testing.T) {
	f := newTestFeed(10)
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	if !f.ApplyTick(tick("AAPL", 100, t0)) {
		t.Fatal("first tick rejected")
	}
	if !f.ApplyTick(tick("AAPL", 102, t0.Add(time.Minute))) {
		t.Fatal("second tick rejected")
	}
	if !f.ApplyTick(tick("AAPL", 99.96, t0.Add(2*time.Minute))) {
		t.Fatal("third tick rejected")
	}

	returns, err := f.Returns(context.Background(), []string{"AAPL"}, 10)
	if err != nil {
		t.Fatalf("Returns: %v", err)
	}
	series := returns["AAPL"]
	if len(series) != 2 {
		t.Fatalf("got %d returns, want 2", len(series))
	}
	if math.Abs(series[0]-0.02) > 1e-9 {
		t.Errorf("first return = %v, want 0.02", series[0])
	}
	if math.Abs(series[1]-(-0.02)) > 1e-9 {
		t.Errorf("second return = %v, want -0.02", series[1])
	}
}

func TestApplyTickRejectsOutOfOrder(t *testing.T) {
	f := newTestFeed(10)
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	f.ApplyTick(tick("AAPL", 100, t0))
	if f.ApplyTick(tick("AAPL", 90, t0.Add(-time.Second))) {
		t.Error("older tick accepted")
	}
	if f.ApplyTick(tick("AAPL", 90, t0)) {
		t.Error("same-timestamp tick accepted")
	}

	returns, _ := f.Returns(context.Background(), []string{"AAPL"}, 10)
	if len(returns["AAPL"]) != 0 {
		t.Errorf("rejected ticks produced returns: %v", returns["AAPL"])
	}
}

func TestBenchmarkSymbolFeedsBenchmarkSeries(t *testing.T) {
	f := newTestFeed(10)
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	f.ApplyTick(tick("SPY", 500, t0))
	f.ApplyTick(tick("SPY", 505, t0.Add(time.Minute)))

	bench, err := f.BenchmarkReturns(context.Background(), 10)
	if err != nil {
		t.Fatalf("BenchmarkReturns: %v", err)
	}
	if len(bench) != 1 || math.Abs(bench[0]-0.01) > 1e-9 {
		t.Errorf("benchmark returns = %v, want [0.01]", bench)
	}
}

func TestReturnsTrimsToLookback(t *testing.T) {
	f := newTestFeed(100)
	values := make([]float64, 50)
	for i := range values {
		values[i] = float64(i)
	}
	f.SeedReturns("MSFT", values)

	returns, _ := f.Returns(context.Background(), []string{"MSFT"}, 10)
	got := returns["MSFT"]
	if len(got) != 10 {
		t.Fatalf("got %d returns, want 10", len(got))
	}
	if got[0] != 40 || got[9] != 49 {
		t.Errorf("got tail %v..%v, want 40..49", got[0], got[9])
	}
}

func TestTicksRefreshPortfolioPrices(t *testing.T) {
	f := newTestFeed(10)
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	f.SetPortfolio(&contracts.Portfolio{
		AsOf:      t0,
		Positions: []contracts.Position{{Symbol: "AAPL", Quantity: 10, CurrentPrice: 100}},
		Cash:      1000,
	})
	f.ApplyTick(tick("AAPL", 110, t0.Add(time.Minute)))

	p, err := f.Portfolio(context.Background())
	if err != nil {
		t.Fatalf("Portfolio: %v", err)
	}
	pos, ok := p.GetPosition("AAPL")
	if !ok {
		t.Fatal("position missing")
	}
	if pos.CurrentPrice != 110 {
		t.Errorf("current price = %v, want 110", pos.CurrentPrice)
	}

	last, _ := f.LastUpdate(context.Background())
	if !last.Equal(t0.Add(time.Minute)) {
		t.Errorf("last update = %v, want %v", last, t0.Add(time.Minute))
	}
}

func TestPortfolioRequiresLoad(t *testing.T) {
	f := newTestFeed(10)
	if _, err := f.Portfolio(context.Background()); err == nil {
		t.Error("expected error before SetPortfolio")
	}
}

func TestPortfolioReturnsClone(t *testing.T) {
	f := newTestFeed(10)
	f.SetPortfolio(&contracts.Portfolio{
		Positions: []contracts.Position{{Symbol: "AAPL", Quantity: 10, CurrentPrice: 100}},
	})

	p1, _ := f.Portfolio(context.Background())
	p1.Positions[0].CurrentPrice = 1

	p2, _ := f.Portfolio(context.Background())
	if p2.Positions[0].CurrentPrice != 100 {
		t.Error("caller mutation leaked into the feed's portfolio")
	}
}

func TestSnapshotStateIsolatesLiveMaps(t *testing.T) {
	f := newTestFeed(10)
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.SetPortfolio(&contracts.Portfolio{
		AsOf:      t0,
		Positions: []contracts.Position{{Symbol: "AAPL", Quantity: 10, CurrentPrice: 100}},
	})
	f.ApplyTick(tick("AAPL", 100, t0))

	state := f.snapshotState()
	f.ApplyTick(tick("AAPL", 200, t0.Add(time.Minute)))

	if state.Prices["AAPL"].Price != 100 {
		t.Errorf("snapshot price = %v, later tick leaked in", state.Prices["AAPL"].Price)
	}
	if state.Portfolio.Positions[0].CurrentPrice != 100 {
		t.Errorf("snapshot portfolio price = %v, later tick leaked in", state.Portfolio.Positions[0].CurrentPrice)
	}
}

func TestSnapshotStateMarshalsDuringTicks(t *testing.T) {
	f := newTestFeed(256)
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.SetPortfolio(&contracts.Portfolio{
		AsOf:      t0,
		Positions: []contracts.Position{{Symbol: "AAPL", Quantity: 10, CurrentPrice: 100}},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			f.ApplyTick(tick("AAPL", 100+float64(i%7), t0.Add(time.Duration(i)*time.Second)))
		}
	}()

	// The returned state must not alias feed internals; marshalling it
	// here races ApplyTick if it does.
	for i := 0; i < 200; i++ {
		state := f.snapshotState()
		if _, err := json.Marshal(&state); err != nil {
			t.Fatalf("marshal snapshot state: %v", err)
		}
	}
	<-done
}
