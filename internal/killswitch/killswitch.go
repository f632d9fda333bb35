package killswitch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/vigil/internal/contracts"
	"github.com/wonny/vigil/internal/riskconfig"
	"github.com/wonny/vigil/pkg/logger"
)

// =============================================================================
// Types
// =============================================================================

// State is the kill switch lifecycle state. Exactly one State is
// active per engine; transitions happen only under the switch mutex.
type State string

const (
	StateArmed      State = "armed"
	StateTriggered  State = "triggered"
	StateOverridden State = "overridden"
	StateExecuted   State = "executed"
)

// ErrActionFailed means the execution collaborator did not confirm an
// action. The switch stays Executed: trading halts on intent, not on
// confirmation.
var ErrActionFailed = errors.New("kill switch action failed")

// Override suspends one trigger's automatic execution until expiry.
// Expiry is wall clock and persisted with the record, so an override
// never outlives its window across restarts.
type Override struct {
	ID            string    `json:"id"`
	TriggerMetric string    `json:"trigger_metric"`
	Actor         string    `json:"actor"`
	Role          string    `json:"role"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Expired reports whether the override has lapsed at the given instant.
func (o *Override) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// Event records one state transition or action outcome for the audit
// trail.
type Event struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Trigger   string    `json:"trigger,omitempty"`
	Reason    string    `json:"reason"`
	ActionErr string    `json:"action_err,omitempty"`
}

// EventSink receives audit events. Persistence failures are logged and
// swallowed; the audit trail must never block the halt itself.
type EventSink interface {
	RecordEvent(ctx context.Context, ev Event) error
}

// AdminNotifier escalates to humans. Used for the notify_admin action
// and for every failed close-all retry.
type AdminNotifier interface {
	NotifyAdmin(ctx context.Context, subject, body string) error
}

// Clock abstracts time so trigger windows and override expiry are
// testable. Production uses the wall clock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Status is a read-only view for the API surface.
type Status struct {
	State           State                `json:"state"`
	ExecutedAt      *time.Time           `json:"executed_at,omitempty"`
	ExecutedReason  string               `json:"executed_reason,omitempty"`
	ActionFailure   string               `json:"action_failure,omitempty"`
	BreachedSince   map[string]time.Time `json:"breached_since,omitempty"`
	ActiveOverrides []Override           `json:"active_overrides,omitempty"`
}

// =============================================================================
// Switch
// =============================================================================

// Switch is the kill switch state machine. All mutation goes through
// the mutex: concurrent trigger evaluations cannot double-execute, and
// override issuance observes a consistent state.
type Switch struct {
	cfg      *riskconfig.Config
	exec     contracts.ExecutionClient
	auth     contracts.RoleAuthorizer
	notifier AdminNotifier
	sink     EventSink
	log      *logger.Logger
	clock    Clock

	mu          sync.Mutex
	state       State
	breachSince map[string]time.Time
	overrides   map[string]*Override
	executedAt  time.Time
	executedFor string
	actionErr   error

	// retryCancel stops an in-flight close-all retry loop. Only a
	// confirmed close or an operator reset may call it.
	retryCancel context.CancelFunc
	actionsDone chan struct{}
}

// Option configures a Switch.
type Option func(*Switch)

// WithClock substitutes the time source.
func WithClock(c Clock) Option {
	return func(s *Switch) { s.clock = c }
}

func New(
	cfg *riskconfig.Config,
	exec contracts.ExecutionClient,
	auth contracts.RoleAuthorizer,
	notifier AdminNotifier,
	sink EventSink,
	log *logger.Logger,
	opts ...Option,
) *Switch {
	s := &Switch{
		cfg:         cfg,
		exec:        exec,
		auth:        auth,
		notifier:    notifier,
		sink:        sink,
		log:         log.WithComponent("killswitch"),
		clock:       realClock{},
		state:       StateArmed,
		breachSince: make(map[string]time.Time),
		overrides:   make(map[string]*Override),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// syntheticStaleTrigger fires as soon as the evaluation loop reports
// risk_data_stale. The engine only raises that metric after the
// staleness bound has already elapsed, so the window is zero: "risk
// unknown" is treated as unsafe immediately, never failed open.
var syntheticStaleTrigger = riskconfig.TriggerConfig{
	Metric:            riskconfig.MetricRiskDataStale,
	Threshold:         0.5,
	TimeWindowMinutes: 0,
}

func (s *Switch) triggers() []riskconfig.TriggerConfig {
	out := make([]riskconfig.TriggerConfig, 0, len(s.cfg.KillSwitch.Triggers)+1)
	out = append(out, s.cfg.KillSwitch.Triggers...)
	out = append(out, syntheticStaleTrigger)
	return out
}

// =============================================================================
// Evaluation
// =============================================================================

// Evaluate runs one kill switch cycle against the latest metric
// values. A trigger fires when its metric has stayed beyond threshold
// continuously for its whole window. Firing transitions through
// Triggered to either Overridden, when every fired trigger holds a
// live override, or Executed.
//
// Executed is terminal here: once entered, evaluation becomes a no-op
// until an operator reset.
func (s *Switch) Evaluate(ctx context.Context, values map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	if s.state == StateExecuted {
		return
	}

	s.trackBreaches(values, now)
	fired := s.firedTriggers(now)

	if s.state == StateOverridden {
		s.reevaluateOverridden(ctx, fired, now)
		return
	}

	if len(fired) == 0 {
		return
	}

	s.transition(ctx, StateTriggered, fired[0], "trigger window elapsed")

	if s.allOverridden(fired, now) {
		s.transition(ctx, StateOverridden, fired[0], "live override present")
		return
	}

	s.executeLocked(ctx, fired[0], now)
}

// trackBreaches records when each trigger metric first went beyond its
// threshold and clears the mark the moment it comes back.
func (s *Switch) trackBreaches(values map[string]float64, now time.Time) {
	for _, tr := range s.triggers() {
		value, ok := values[tr.Metric]
		if !ok || value <= tr.Threshold {
			delete(s.breachSince, tr.Metric)
			continue
		}
		if _, seen := s.breachSince[tr.Metric]; !seen {
			s.breachSince[tr.Metric] = now
		}
	}
}

// firedTriggers returns triggers whose breach has persisted for the
// full window, in configuration order.
func (s *Switch) firedTriggers(now time.Time) []riskconfig.TriggerConfig {
	var fired []riskconfig.TriggerConfig
	for _, tr := range s.triggers() {
		since, ok := s.breachSince[tr.Metric]
		if !ok {
			continue
		}
		if now.Sub(since) >= tr.Window() {
			fired = append(fired, tr)
		}
	}
	return fired
}

// allOverridden reports whether every fired trigger carries a live
// override. Overrides are keyed per trigger: one uncovered fired
// trigger is enough to execute.
func (s *Switch) allOverridden(fired []riskconfig.TriggerConfig, now time.Time) bool {
	for _, tr := range fired {
		ov, ok := s.overrides[tr.Metric]
		if !ok || ov.Expired(now) {
			return false
		}
	}
	return len(fired) > 0
}

// reevaluateOverridden handles the Overridden state: expired overrides
// are dropped, and the trigger condition is re-checked. A still-firing
// trigger without cover executes; all-clear re-arms.
func (s *Switch) reevaluateOverridden(ctx context.Context, fired []riskconfig.TriggerConfig, now time.Time) {
	for metric, ov := range s.overrides {
		if ov.Expired(now) {
			delete(s.overrides, metric)
		}
	}

	for _, tr := range fired {
		if _, ok := s.overrides[tr.Metric]; !ok {
			s.executeLocked(ctx, tr, now)
			return
		}
	}

	if len(fired) == 0 {
		s.transition(ctx, StateArmed, riskconfig.TriggerConfig{}, "breach cleared during override")
	}
}

// =============================================================================
// Execution
// =============================================================================

// executeLocked is the single place the Executed transition happens.
// Callers hold the mutex; the action sequence itself runs in its own
// goroutine so the evaluation loop is never blocked by retries.
func (s *Switch) executeLocked(ctx context.Context, tr riskconfig.TriggerConfig, now time.Time) {
	reason := fmt.Sprintf("trigger %s breached threshold %.4f for %s",
		tr.Metric, tr.Threshold, tr.Window())

	s.executedAt = now
	s.executedFor = tr.Metric
	s.transition(ctx, StateExecuted, tr, reason)

	retryCtx, cancel := context.WithCancel(context.Background())
	s.retryCancel = cancel
	s.actionsDone = make(chan struct{})

	go s.runActions(retryCtx, reason)
}

// runActions executes the configured action sequence in order. The
// context belongs to the retry loop and is cancelled only by confirmed
// completion or operator reset, never by later trigger evaluations.
func (s *Switch) runActions(ctx context.Context, reason string) {
	defer close(s.actionsDone)

	for _, action := range s.cfg.KillSwitch.Actions {
		switch action {
		case riskconfig.ActionCloseAllPositions:
			s.closeAllWithRetry(ctx, reason)

		case riskconfig.ActionNotifyAdmin:
			if err := s.notifier.NotifyAdmin(ctx, "kill switch executed", reason); err != nil {
				s.log.WithError(err).Error("admin notification failed")
			}

		case riskconfig.ActionLogEvent:
			s.log.WithField("reason", reason).Error("kill switch executed, trading halted")
		}
	}
}

// closeAllWithRetry drives the idempotent close-all command until the
// collaborator confirms or the retry budget runs out. Every failed
// attempt escalates to the admin channel; exhausting the budget leaves
// the switch Executed with the failure surfaced, because Executed
// means trading must not proceed, not that positions are known flat.
func (s *Switch) closeAllWithRetry(ctx context.Context, reason string) {
	retry := s.cfg.KillSwitch.CloseRetry
	backoff := retry.Backoff()

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}

		lastErr = s.exec.CloseAllPositions(ctx, reason)
		if lastErr == nil {
			s.setActionErr(nil)
			s.log.WithField("attempt", attempt).Info("all positions confirmed closed")
			return
		}

		failure := fmt.Errorf("%w: close_all_positions attempt %d: %v", ErrActionFailed, attempt, lastErr)
		s.setActionErr(failure)
		s.log.WithError(failure).Error("close all positions failed")

		if err := s.notifier.NotifyAdmin(ctx,
			"kill switch close failed",
			fmt.Sprintf("attempt %d/%d: %v", attempt, retry.MaxAttempts, lastErr)); err != nil {
			s.log.WithError(err).Error("escalation notification failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if limit := retry.MaxBackoff(); backoff > limit {
			backoff = limit
		}
	}

	s.setActionErr(fmt.Errorf("%w: close_all_positions: retry budget exhausted: %v", ErrActionFailed, lastErr))
}

func (s *Switch) setActionErr(err error) {
	s.mu.Lock()
	s.actionErr = err
	s.mu.Unlock()
}

// =============================================================================
// Overrides and reset
// =============================================================================

// RequestOverride issues a per-trigger override after checking the
// actor's role with the authorization collaborator. It is rejected
// once the switch has executed: an override suspends a pending halt,
// it does not undo one.
func (s *Switch) RequestOverride(ctx context.Context, triggerMetric, actor, role string) (*Override, error) {
	if !s.roleAuthorized(role) {
		return nil, fmt.Errorf("%w: role %q not in authorized_roles", contracts.ErrNotAuthorized, role)
	}
	if err := s.auth.Authorize(ctx, actor, role); err != nil {
		return nil, err
	}
	if !s.knownTrigger(triggerMetric) {
		return nil, fmt.Errorf("unknown trigger metric %q", triggerMetric)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateExecuted {
		return nil, fmt.Errorf("kill switch already executed, override rejected")
	}

	now := s.clock.Now()
	ov := &Override{
		ID:            uuid.New().String(),
		TriggerMetric: triggerMetric,
		Actor:         actor,
		Role:          role,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.cfg.OverrideExpiry()),
	}
	s.overrides[triggerMetric] = ov

	s.log.WithFields(map[string]interface{}{
		"trigger": triggerMetric,
		"actor":   actor,
		"expires": ov.ExpiresAt,
	}).Warn("kill switch override issued")

	return ov, nil
}

// RestoreOverrides reloads persisted overrides at startup. Expiry is
// wall clock, so anything that lapsed while the process was down is
// dropped here.
func (s *Switch) RestoreOverrides(overrides []Override) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for i := range overrides {
		ov := overrides[i]
		if ov.Expired(now) {
			continue
		}
		s.overrides[ov.TriggerMetric] = &ov
	}
}

// Reset re-arms an executed switch. This is the operator action the
// Executed state waits for; it cancels any in-flight close retry and
// clears breach tracking so stale windows cannot refire instantly.
func (s *Switch) Reset(ctx context.Context, actor, role string) error {
	if !s.roleAuthorized(role) {
		return fmt.Errorf("%w: role %q not in authorized_roles", contracts.ErrNotAuthorized, role)
	}
	if err := s.auth.Authorize(ctx, actor, role); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retryCancel != nil {
		s.retryCancel()
		s.retryCancel = nil
	}

	from := s.state
	s.state = StateArmed
	s.breachSince = make(map[string]time.Time)
	s.overrides = make(map[string]*Override)
	s.actionErr = nil
	s.executedFor = ""

	s.recordEvent(ctx, Event{
		ID:     uuid.New().String(),
		Time:   s.clock.Now(),
		From:   from,
		To:     StateArmed,
		Reason: fmt.Sprintf("operator reset by %s", actor),
	})
	s.log.WithField("actor", actor).Warn("kill switch reset, re-armed")
	return nil
}

func (s *Switch) roleAuthorized(role string) bool {
	for _, r := range s.cfg.KillSwitch.Override.AuthorizedRoles {
		if r == role {
			return true
		}
	}
	return false
}

func (s *Switch) knownTrigger(metric string) bool {
	for _, tr := range s.triggers() {
		if tr.Metric == metric {
			return true
		}
	}
	return false
}

// =============================================================================
// Introspection
// =============================================================================

// State returns the current lifecycle state.
func (s *Switch) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Halted reports whether trading must not proceed.
func (s *Switch) Halted() bool {
	return s.State() == StateExecuted
}

// Status snapshots the switch for the API surface.
func (s *Switch) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.state, ExecutedReason: s.executedFor}
	if s.state == StateExecuted {
		at := s.executedAt
		st.ExecutedAt = &at
	}
	if s.actionErr != nil {
		st.ActionFailure = s.actionErr.Error()
	}

	if len(s.breachSince) > 0 {
		st.BreachedSince = make(map[string]time.Time, len(s.breachSince))
		for m, at := range s.breachSince {
			st.BreachedSince[m] = at
		}
	}

	now := s.clock.Now()
	for _, ov := range s.overrides {
		if !ov.Expired(now) {
			st.ActiveOverrides = append(st.ActiveOverrides, *ov)
		}
	}
	return st
}

// ActionErr returns the latest action failure, nil when the last
// action sequence completed clean.
func (s *Switch) ActionErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actionErr
}

// transition records a state change. Caller holds the mutex.
func (s *Switch) transition(ctx context.Context, to State, tr riskconfig.TriggerConfig, reason string) {
	from := s.state
	s.state = to

	ev := Event{
		ID:      uuid.New().String(),
		Time:    s.clock.Now(),
		From:    from,
		To:      to,
		Trigger: tr.Metric,
		Reason:  reason,
	}
	if s.actionErr != nil {
		ev.ActionErr = s.actionErr.Error()
	}
	s.recordEvent(ctx, ev)

	s.log.WithFields(map[string]interface{}{
		"from":    string(from),
		"to":      string(to),
		"trigger": tr.Metric,
		"reason":  reason,
	}).Warn("kill switch transition")
}

func (s *Switch) recordEvent(ctx context.Context, ev Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.RecordEvent(ctx, ev); err != nil {
		s.log.WithError(err).Error("failed to record kill switch event")
	}
}
