package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wonny/vigil/internal/contracts"
	"github.com/wonny/vigil/internal/killswitch"
	"github.com/wonny/vigil/internal/metrics"
	"github.com/wonny/vigil/internal/monitor"
	"github.com/wonny/vigil/internal/notify"
	"github.com/wonny/vigil/internal/riskconfig"
	"github.com/wonny/vigil/internal/scheduler"
	"github.com/wonny/vigil/pkg/logger"
)

// =============================================================================
// Risk engine orchestrator
// =============================================================================

// Repository persists snapshots and alerts. Persistence is advisory:
// a write failure is logged and the cycle continues, because the live
// risk view must not depend on the database being up.
type Repository interface {
	SaveSnapshot(ctx context.Context, snap *metrics.Snapshot) error
	SaveAlert(ctx context.Context, alert monitor.Alert) error
}

// Engine ties the feed, calculator, monitor and kill switch together.
// Metrics cycles and evaluation ticks run on independent cadences: a
// slow or failing feed stalls the metrics side only, while evaluation
// keeps running against the last valid snapshot and eventually against
// the synthetic staleness signal.
type Engine struct {
	cfg      *riskconfig.Config
	feed     contracts.MarketDataFeed
	calc     *metrics.Engine
	mon      *monitor.Monitor
	ks       *killswitch.Switch
	notifier notify.Notifier
	repo     Repository
	sched    *scheduler.Scheduler
	log      *logger.Logger

	latest atomic.Pointer[metrics.Snapshot]
}

// New creates the orchestrator. repo may be nil when persistence is
// disabled.
func New(
	cfg *riskconfig.Config,
	feed contracts.MarketDataFeed,
	ks *killswitch.Switch,
	notifier notify.Notifier,
	repo Repository,
	log *logger.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		feed:     feed,
		calc:     metrics.NewEngine(cfg),
		mon:      monitor.NewMonitor(cfg),
		ks:       ks,
		notifier: notifier,
		repo:     repo,
		sched:    scheduler.New(log),
		log:      log.WithComponent("engine"),
	}
}

// Snapshot returns the last valid snapshot, or nil before the first
// successful cycle.
func (e *Engine) Snapshot() *metrics.Snapshot {
	return e.latest.Load()
}

// KillSwitch exposes the kill switch for the API layer.
func (e *Engine) KillSwitch() *killswitch.Switch {
	return e.ks
}

// Scheduler exposes job history for the API layer.
func (e *Engine) Scheduler() *scheduler.Scheduler {
	return e.sched
}

// MetricsCycle runs one compute pass: pull inputs from the feed,
// compute a snapshot, publish and persist it. On any failure the
// previous snapshot stays published.
func (e *Engine) MetricsCycle(ctx context.Context) error {
	now := time.Now()

	portfolio, err := e.feed.Portfolio(ctx)
	if err != nil {
		return fmt.Errorf("fetch portfolio: %w", err)
	}

	lookback := e.cfg.RiskCalculations.VaR.LookbackDays
	returns, err := e.feed.Returns(ctx, portfolio.Symbols(), lookback)
	if err != nil {
		return fmt.Errorf("fetch returns: %w", err)
	}

	bench, err := e.feed.BenchmarkReturns(ctx, lookback)
	if err != nil {
		e.log.WithError(err).Warn("Benchmark series unavailable, beta will be zero")
		bench = nil
	}

	lastUpdate, err := e.feed.LastUpdate(ctx)
	if err != nil {
		return fmt.Errorf("fetch feed timestamp: %w", err)
	}

	snap, err := e.calc.Compute(metrics.Input{
		Portfolio:        portfolio,
		AssetReturns:     returns,
		BenchmarkReturns: bench,
		FeedLastUpdate:   lastUpdate,
		Now:              now,
	})
	if err != nil {
		e.log.WithError(err).Warn("Metrics cycle failed, keeping previous snapshot")
		return err
	}

	e.latest.Store(snap)
	e.log.WithFields(map[string]interface{}{
		"run_id":   snap.RunID,
		"var_95":   snap.VaR95.VaR,
		"drawdown": snap.CurrentDrawdown,
		"leverage": snap.Leverage,
	}).Info("Risk snapshot published")

	if e.repo != nil {
		if err := e.repo.SaveSnapshot(ctx, snap); err != nil {
			e.log.WithError(err).Error("Failed to persist snapshot")
		}
	}
	return nil
}

// EvaluateOnce runs one evaluation tick against the current snapshot.
// A nil or stale snapshot does not pause evaluation: it becomes the
// synthetic staleness signal, which trips the kill switch immediately.
func (e *Engine) EvaluateOnce(ctx context.Context, now time.Time) {
	values := e.currentValues(now)

	alerts := e.mon.Evaluate(values, now)
	for _, alert := range alerts {
		if err := e.notifier.DispatchAlert(ctx, alert); err != nil {
			e.log.WithError(err).WithField("metric", alert.Metric).
				Error("Failed to dispatch alert")
		}
		if e.repo != nil {
			if err := e.repo.SaveAlert(ctx, alert); err != nil {
				e.log.WithError(err).Error("Failed to persist alert")
			}
		}
	}

	e.ks.Evaluate(ctx, values)
}

func (e *Engine) currentValues(now time.Time) map[string]float64 {
	snap := e.latest.Load()
	if snap == nil || snap.Age(now) > e.cfg.StalenessBound() {
		age := "never computed"
		if snap != nil {
			age = snap.Age(now).Round(time.Second).String()
		}
		e.log.WithField("snapshot_age", age).Warn("Risk view is stale")
		return map[string]float64{riskconfig.MetricRiskDataStale: 1}
	}
	return snap.Values()
}

// Run starts the metrics job and evaluation loop and blocks until ctx
// is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.sched.AddJob(&metricsJob{engine: e}); err != nil {
		return fmt.Errorf("register metrics job: %w", err)
	}

	// First cycle runs synchronously so the API has a snapshot to
	// serve as soon as Run returns control to the caller's goroutines.
	if err := e.MetricsCycle(ctx); err != nil {
		e.log.WithError(err).Warn("Initial metrics cycle failed")
	}

	e.sched.Start()
	defer e.sched.Stop()

	e.log.WithFields(map[string]interface{}{
		"update_frequency":    e.cfg.UpdateFrequency().String(),
		"evaluation_interval": e.cfg.EvaluationInterval().String(),
	}).Info("Risk engine started")

	ticker := time.NewTicker(e.cfg.EvaluationInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("Risk engine stopping")
			return ctx.Err()
		case now := <-ticker.C:
			e.EvaluateOnce(ctx, now)
		}
	}
}

// metricsJob adapts the metrics cycle to the scheduler.
type metricsJob struct {
	engine *Engine
}

func (j *metricsJob) Name() string { return "risk_metrics" }

func (j *metricsJob) Schedule() string {
	return "@every " + j.engine.cfg.UpdateFrequency().String()
}

func (j *metricsJob) Run(ctx context.Context) error {
	return j.engine.MetricsCycle(ctx)
}
