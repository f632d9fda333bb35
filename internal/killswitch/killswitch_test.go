package killswitch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/vigil/internal/contracts"
	"github.com/wonny/vigil/internal/riskconfig"
	"github.com/wonny/vigil/pkg/logger"
)

// =============================================================================
// Test doubles
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeAuthorizer struct {
	denied map[string]bool
}

func (a *fakeAuthorizer) Authorize(_ context.Context, actor, _ string) error {
	if a.denied[actor] {
		return contracts.ErrNotAuthorized
	}
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (n *fakeNotifier) NotifyAdmin(_ context.Context, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	return nil
}

func (n *fakeNotifier) count(subject string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.subjects {
		if s == subject {
			c++
		}
	}
	return c
}

type fakeSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *fakeSink) RecordEvent(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSink) transitions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		out = append(out, string(ev.From)+">"+string(ev.To))
	}
	return out
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	sw       *Switch
	exec     *contracts.MockExecutionClient
	clock    *fakeClock
	notifier *fakeNotifier
	sink     *fakeSink
}

func testConfig() *riskconfig.Config {
	return &riskconfig.Config{
		KillSwitch: riskconfig.KillSwitch{
			EvaluationIntervalSecs: 30,
			Triggers: []riskconfig.TriggerConfig{
				{Metric: riskconfig.MetricPortfolioDrawdown, Threshold: 0.15, TimeWindowMinutes: 1440},
				{Metric: riskconfig.MetricLeverage, Threshold: 3.0, TimeWindowMinutes: 60},
			},
			Actions: []riskconfig.KillAction{
				riskconfig.ActionCloseAllPositions,
				riskconfig.ActionNotifyAdmin,
				riskconfig.ActionLogEvent,
			},
			Override: riskconfig.OverrideConfig{
				AuthorizedRoles: []string{"risk_manager", "cto"},
				ExpirySecs:      3600,
			},
			CloseRetry: riskconfig.CloseRetryConfig{MaxAttempts: 5},
		},
	}
}

func newFixture(t *testing.T, cfg *riskconfig.Config) *fixture {
	t.Helper()
	f := &fixture{
		exec:     contracts.NewMockExecutionClient(),
		clock:    newFakeClock(),
		notifier: &fakeNotifier{},
		sink:     &fakeSink{},
	}
	f.sw = New(cfg, f.exec, &fakeAuthorizer{}, f.notifier, f.sink, logger.NewNop(), WithClock(f.clock))
	return f
}

func drawdown(v float64) map[string]float64 {
	return map[string]float64{riskconfig.MetricPortfolioDrawdown: v}
}

func waitClosed(t *testing.T, f *fixture) {
	t.Helper()
	require.Eventually(t, f.exec.Closed, 2*time.Second, 5*time.Millisecond,
		"close_all_positions never confirmed")
}

// =============================================================================
// Tests
// =============================================================================

func TestSustainedBreachExecutesExactlyOnce(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.sw.Evaluate(ctx, drawdown(0.20))
	require.Equal(t, StateArmed, f.sw.State(), "breach must not fire before the window")

	// Keep breaching through the 1440 minute window.
	for i := 0; i < 24; i++ {
		f.clock.Advance(time.Hour)
		f.sw.Evaluate(ctx, drawdown(0.20))
	}

	require.Equal(t, StateExecuted, f.sw.State())
	waitClosed(t, f)
	assert.Equal(t, 1, f.exec.CloseCalls())
	assert.Contains(t, f.exec.CloseReason(), riskconfig.MetricPortfolioDrawdown)
	assert.Equal(t, 1, f.notifier.count("kill switch executed"))

	// Executed is terminal: further evaluation must not re-run actions.
	f.clock.Advance(24 * time.Hour)
	f.sw.Evaluate(ctx, drawdown(0.50))
	assert.Equal(t, StateExecuted, f.sw.State())
	assert.Equal(t, 1, f.exec.CloseCalls())

	assert.Contains(t, f.sink.transitions(), "armed>triggered")
	assert.Contains(t, f.sink.transitions(), "triggered>executed")
}

func TestBreachBlipResetsWindow(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.sw.Evaluate(ctx, drawdown(0.20))
	for i := 0; i < 23; i++ {
		f.clock.Advance(time.Hour)
		f.sw.Evaluate(ctx, drawdown(0.20))
	}

	// One in-bounds reading at hour 23 resets the whole window.
	f.clock.Advance(30 * time.Minute)
	f.sw.Evaluate(ctx, drawdown(0.05))

	f.clock.Advance(time.Hour)
	f.sw.Evaluate(ctx, drawdown(0.20))
	assert.Equal(t, StateArmed, f.sw.State(), "window must restart after the blip")
	assert.Equal(t, 0, f.exec.CloseCalls())
}

func TestOverrideForcesOverriddenInsteadOfExecuted(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.sw.Evaluate(ctx, drawdown(0.20))
	for i := 0; i < 23; i++ {
		f.clock.Advance(time.Hour)
		f.sw.Evaluate(ctx, drawdown(0.20))
	}
	require.Equal(t, StateArmed, f.sw.State())

	// Override issued late in the window, still live when it elapses.
	f.clock.Advance(30 * time.Minute)
	f.sw.Evaluate(ctx, drawdown(0.20))
	ov, err := f.sw.RequestOverride(ctx, riskconfig.MetricPortfolioDrawdown, "alice", "risk_manager")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(time.Hour), ov.ExpiresAt)

	f.clock.Advance(30 * time.Minute)
	f.sw.Evaluate(ctx, drawdown(0.20))

	require.Equal(t, StateOverridden, f.sw.State())
	assert.Equal(t, 0, f.exec.CloseCalls(), "override must suspend execution")
}

func TestOverrideExpiryWithPersistentBreachExecutes(t *testing.T) {
	cfg := testConfig()
	cfg.KillSwitch.Triggers = cfg.KillSwitch.Triggers[1:2] // leverage, 60 minute window
	f := newFixture(t, cfg)
	ctx := context.Background()

	values := map[string]float64{riskconfig.MetricLeverage: 4.0}

	f.sw.Evaluate(ctx, values)
	f.clock.Advance(30 * time.Minute)
	_, err := f.sw.RequestOverride(ctx, riskconfig.MetricLeverage, "alice", "cto")
	require.NoError(t, err)

	// Window elapses at the hour mark with the override still live.
	f.clock.Advance(30 * time.Minute)
	f.sw.Evaluate(ctx, values)
	require.Equal(t, StateOverridden, f.sw.State())

	// The override expires while the breach persists.
	f.clock.Advance(2 * time.Hour)
	f.sw.Evaluate(ctx, values)

	require.Equal(t, StateExecuted, f.sw.State())
	waitClosed(t, f)
}

func TestOverrideExpiryWithClearedBreachRearms(t *testing.T) {
	cfg := testConfig()
	cfg.KillSwitch.Triggers = cfg.KillSwitch.Triggers[1:2]
	f := newFixture(t, cfg)
	ctx := context.Background()

	breach := map[string]float64{riskconfig.MetricLeverage: 4.0}
	calm := map[string]float64{riskconfig.MetricLeverage: 1.5}

	f.sw.Evaluate(ctx, breach)
	f.clock.Advance(30 * time.Minute)
	_, err := f.sw.RequestOverride(ctx, riskconfig.MetricLeverage, "alice", "cto")
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	f.sw.Evaluate(ctx, breach)
	require.Equal(t, StateOverridden, f.sw.State())

	f.clock.Advance(2 * time.Hour)
	f.sw.Evaluate(ctx, calm)

	assert.Equal(t, StateArmed, f.sw.State(), "cleared breach after override expiry must re-arm")
	assert.Equal(t, 0, f.exec.CloseCalls())
}

func TestOverrideAuthorization(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	_, err := f.sw.RequestOverride(ctx, riskconfig.MetricLeverage, "bob", "intern")
	assert.ErrorIs(t, err, contracts.ErrNotAuthorized, "unlisted role must be rejected")

	denying := &fakeAuthorizer{denied: map[string]bool{"mallory": true}}
	sw := New(testConfig(), f.exec, denying, f.notifier, f.sink, logger.NewNop(), WithClock(f.clock))
	_, err = sw.RequestOverride(ctx, riskconfig.MetricLeverage, "mallory", "risk_manager")
	assert.ErrorIs(t, err, contracts.ErrNotAuthorized, "authorizer verdict must be honored")

	_, err = f.sw.RequestOverride(ctx, "not_a_trigger", "alice", "risk_manager")
	assert.Error(t, err)
}

func TestCloseRetryRecoversFromTransientFailures(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.exec.FailNextCloses(2)

	f.sw.Evaluate(ctx, drawdown(0.20))
	for i := 0; i < 24; i++ {
		f.clock.Advance(time.Hour)
		f.sw.Evaluate(ctx, drawdown(0.20))
	}
	require.Equal(t, StateExecuted, f.sw.State())

	waitClosed(t, f)
	assert.Equal(t, 3, f.exec.CloseCalls(), "two failures then one confirmation")
	require.Eventually(t, func() bool {
		return f.notifier.count("kill switch close failed") == 2
	}, 2*time.Second, 5*time.Millisecond, "every failed attempt must escalate")
	assert.NoError(t, f.sw.ActionErr())
}

func TestCloseRetryBudgetExhaustedSurfacesFailure(t *testing.T) {
	cfg := testConfig()
	cfg.KillSwitch.CloseRetry.MaxAttempts = 3
	f := newFixture(t, cfg)
	ctx := context.Background()

	f.exec.FailNextCloses(10)

	f.sw.Evaluate(ctx, drawdown(0.20))
	for i := 0; i < 24; i++ {
		f.clock.Advance(time.Hour)
		f.sw.Evaluate(ctx, drawdown(0.20))
	}
	require.Equal(t, StateExecuted, f.sw.State())

	require.Eventually(t, func() bool {
		return errors.Is(f.sw.ActionErr(), ErrActionFailed)
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, f.exec.CloseCalls())
	assert.False(t, f.exec.Closed())
	assert.Equal(t, StateExecuted, f.sw.State(), "trading stays halted regardless of action failure")

	status := f.sw.Status()
	assert.Contains(t, status.ActionFailure, "close_all_positions")
}

func TestStaleRiskDataTriggersImmediately(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.sw.Evaluate(ctx, map[string]float64{riskconfig.MetricRiskDataStale: 1})

	require.Equal(t, StateExecuted, f.sw.State(), "unknown risk must fail closed")
	waitClosed(t, f)
	assert.Contains(t, f.exec.CloseReason(), riskconfig.MetricRiskDataStale)
}

func TestResetRearmsAfterExecution(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.sw.Evaluate(ctx, map[string]float64{riskconfig.MetricRiskDataStale: 1})
	require.Equal(t, StateExecuted, f.sw.State())
	waitClosed(t, f)

	require.Error(t, f.sw.Reset(ctx, "bob", "intern"), "reset needs an authorized role")

	require.NoError(t, f.sw.Reset(ctx, "alice", "risk_manager"))
	assert.Equal(t, StateArmed, f.sw.State())
	assert.NoError(t, f.sw.ActionErr())

	// Breach tracking was cleared: a fresh breach starts a fresh window.
	f.sw.Evaluate(ctx, drawdown(0.20))
	assert.Equal(t, StateArmed, f.sw.State())
	assert.Equal(t, 1, f.exec.CloseCalls())
}

func TestRestoreOverridesDropsExpired(t *testing.T) {
	f := newFixture(t, testConfig())
	now := f.clock.Now()

	f.sw.RestoreOverrides([]Override{
		{ID: "live", TriggerMetric: riskconfig.MetricLeverage, ExpiresAt: now.Add(time.Hour)},
		{ID: "lapsed", TriggerMetric: riskconfig.MetricPortfolioDrawdown, ExpiresAt: now.Add(-time.Minute)},
	})

	status := f.sw.Status()
	require.Len(t, status.ActiveOverrides, 1)
	assert.Equal(t, "live", status.ActiveOverrides[0].ID)
}

func TestConcurrentEvaluationExecutesOnce(t *testing.T) {
	cfg := testConfig()
	cfg.KillSwitch.Triggers = cfg.KillSwitch.Triggers[1:2]
	f := newFixture(t, cfg)
	ctx := context.Background()

	values := map[string]float64{riskconfig.MetricLeverage: 4.0}
	f.sw.Evaluate(ctx, values)
	f.clock.Advance(2 * time.Hour)

	// Many concurrent evaluations race to the Executed transition.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.sw.Evaluate(ctx, values)
		}()
	}
	wg.Wait()

	require.Equal(t, StateExecuted, f.sw.State())
	waitClosed(t, f)
	assert.Equal(t, 1, f.exec.CloseCalls(), "exactly one action sequence despite the race")
}
