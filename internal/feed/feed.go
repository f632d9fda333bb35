package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/vigil/internal/contracts"
	"github.com/wonny/vigil/pkg/logger"
	"github.com/wonny/vigil/pkg/redis"
)

// =============================================================================
// Market data feed
// =============================================================================

// PriceTick is one price observation from a streaming source.
type PriceTick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

const stateKey = "feed:state"

// Feed accumulates ticks into per-symbol return series and serves the
// engine's MarketDataFeed contract. A tick older than the cached one
// for its symbol is rejected, so out-of-order delivery cannot corrupt
// the return series. State survives restarts through Redis when the
// cache is enabled.
type Feed struct {
	mu              sync.RWMutex
	lookback        int
	benchmarkSymbol string
	portfolio       *contracts.Portfolio
	prices          map[string]*PriceTick
	series          map[string]*contracts.ReturnSeries
	benchmark       *contracts.ReturnSeries
	lastUpdate      time.Time

	cache *redis.Cache // nil when Redis is disabled
	ttl   time.Duration
	log   *logger.Logger
}

// New creates a feed. cache may be nil.
func New(lookback int, benchmarkSymbol string, ttl time.Duration, cache *redis.Cache, log *logger.Logger) *Feed {
	return &Feed{
		lookback:        lookback,
		benchmarkSymbol: benchmarkSymbol,
		prices:          make(map[string]*PriceTick),
		series:          make(map[string]*contracts.ReturnSeries),
		benchmark:       contracts.NewReturnSeries(lookback),
		cache:           cache,
		ttl:             ttl,
		log:             log.WithComponent("feed"),
	}
}

// SetPortfolio replaces the tracked book. Position prices keep being
// refreshed by subsequent ticks.
func (f *Feed) SetPortfolio(p *contracts.Portfolio) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portfolio = p.Clone()
	if f.lastUpdate.Before(p.AsOf) {
		f.lastUpdate = p.AsOf
	}
}

// ApplyTick ingests one price observation. It returns false when the
// tick is rejected as stale relative to the cached price.
func (f *Feed) ApplyTick(tick *PriceTick) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, exists := f.prices[tick.Symbol]
	if exists && !tick.Timestamp.After(prev.Timestamp) {
		f.log.WithFields(map[string]interface{}{
			"symbol":   tick.Symbol,
			"new_time": tick.Timestamp,
			"old_time": prev.Timestamp,
		}).Debug("Rejected out-of-order tick")
		return false
	}

	if exists && prev.Price > 0 {
		r := tick.Price/prev.Price - 1
		f.seriesFor(tick.Symbol).Append(r)
		if tick.Symbol == f.benchmarkSymbol {
			f.benchmark.Append(r)
		}
	}

	f.prices[tick.Symbol] = tick
	if f.portfolio != nil {
		if pos, ok := f.portfolio.GetPosition(tick.Symbol); ok {
			pos.CurrentPrice = tick.Price
		}
	}
	if tick.Timestamp.After(f.lastUpdate) {
		f.lastUpdate = tick.Timestamp
	}
	return true
}

// SeedReturns preloads a historical return series, oldest first. Used
// at startup so the engine does not wait a full lookback window for
// live ticks to accumulate.
func (f *Feed) SeedReturns(symbol string, returns []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.seriesFor(symbol)
	for _, r := range returns {
		s.Append(r)
	}
	if symbol == f.benchmarkSymbol {
		for _, r := range returns {
			f.benchmark.Append(r)
		}
	}
}

func (f *Feed) seriesFor(symbol string) *contracts.ReturnSeries {
	s, ok := f.series[symbol]
	if !ok {
		s = contracts.NewReturnSeries(f.lookback)
		f.series[symbol] = s
	}
	return s
}

// Portfolio implements contracts.MarketDataFeed.
func (f *Feed) Portfolio(_ context.Context) (*contracts.Portfolio, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.portfolio == nil {
		return nil, fmt.Errorf("no portfolio loaded")
	}
	return f.portfolio.Clone(), nil
}

// Returns implements contracts.MarketDataFeed.
func (f *Feed) Returns(_ context.Context, symbols []string, lookback int) (map[string][]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		s, ok := f.series[sym]
		if !ok {
			continue
		}
		out[sym] = tail(s.Values(), lookback)
	}
	return out, nil
}

// BenchmarkReturns implements contracts.MarketDataFeed.
func (f *Feed) BenchmarkReturns(_ context.Context, lookback int) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return tail(f.benchmark.Values(), lookback), nil
}

// LastUpdate implements contracts.MarketDataFeed.
func (f *Feed) LastUpdate(_ context.Context) (time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastUpdate, nil
}

func tail(values []float64, n int) []float64 {
	if n <= 0 || len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

// =============================================================================
// Redis persistence
// =============================================================================

type feedState struct {
	Portfolio  *contracts.Portfolio  `json:"portfolio,omitempty"`
	Prices     map[string]*PriceTick `json:"prices"`
	Series     map[string][]float64  `json:"series"`
	Benchmark  []float64             `json:"benchmark"`
	LastUpdate time.Time             `json:"last_update"`
}

// snapshotState deep-copies the feed state under the lock. Callers
// marshal after release, while ApplyTick keeps mutating the live maps.
func (f *Feed) snapshotState() feedState {
	f.mu.RLock()
	defer f.mu.RUnlock()

	state := feedState{
		Prices:     make(map[string]*PriceTick, len(f.prices)),
		Series:     make(map[string][]float64, len(f.series)),
		Benchmark:  f.benchmark.Values(),
		LastUpdate: f.lastUpdate,
	}
	if f.portfolio != nil {
		state.Portfolio = f.portfolio.Clone()
	}
	for sym, t := range f.prices {
		tick := *t
		state.Prices[sym] = &tick
	}
	for sym, s := range f.series {
		state.Series[sym] = s.Values()
	}
	return state
}

// SaveState writes the current feed state to Redis. No-op when the
// cache is disabled.
func (f *Feed) SaveState(ctx context.Context) error {
	if f.cache == nil {
		return nil
	}

	state := f.snapshotState()
	return f.cache.Set(ctx, stateKey, &state, f.ttl)
}

// LoadState restores feed state from Redis. Missing state is not an
// error; the feed simply starts cold.
func (f *Feed) LoadState(ctx context.Context) error {
	if f.cache == nil {
		return nil
	}

	var state feedState
	found, err := f.cache.Get(ctx, stateKey, &state)
	if err != nil {
		return fmt.Errorf("load feed state: %w", err)
	}
	if !found {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.portfolio = state.Portfolio
	f.prices = state.Prices
	if f.prices == nil {
		f.prices = make(map[string]*PriceTick)
	}
	f.series = make(map[string]*contracts.ReturnSeries, len(state.Series))
	for sym, values := range state.Series {
		s := contracts.NewReturnSeries(f.lookback)
		for _, r := range values {
			s.Append(r)
		}
		f.series[sym] = s
	}
	f.benchmark = contracts.NewReturnSeries(f.lookback)
	for _, r := range state.Benchmark {
		f.benchmark.Append(r)
	}
	f.lastUpdate = state.LastUpdate

	f.log.WithFields(map[string]interface{}{
		"symbols":     len(f.series),
		"last_update": f.lastUpdate,
	}).Info("Restored feed state from cache")
	return nil
}
