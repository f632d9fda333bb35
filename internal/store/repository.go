package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/vigil/internal/killswitch"
	"github.com/wonny/vigil/internal/metrics"
	"github.com/wonny/vigil/internal/monitor"
)

// =============================================================================
// Persistence
// =============================================================================

// Repository handles risk data persistence. It implements both the
// engine's Repository and the kill switch's EventSink.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new risk repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the risk schema and tables if they do not
// exist. Called once at startup.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS risk`,
		`CREATE TABLE IF NOT EXISTS risk.snapshots (
			run_id      UUID PRIMARY KEY,
			as_of       TIMESTAMPTZ NOT NULL,
			var_95      DOUBLE PRECISION NOT NULL,
			drawdown    DOUBLE PRECISION NOT NULL,
			leverage    DOUBLE PRECISION NOT NULL,
			payload     JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_as_of ON risk.snapshots (as_of DESC)`,
		`CREATE TABLE IF NOT EXISTS risk.alerts (
			id          UUID PRIMARY KEY,
			metric      TEXT NOT NULL,
			value       DOUBLE PRECISION NOT NULL,
			threshold   DOUBLE PRECISION NOT NULL,
			direction   TEXT NOT NULL,
			channels    JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON risk.alerts (created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS risk.killswitch_events (
			id          UUID PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			from_state  TEXT NOT NULL,
			to_state    TEXT NOT NULL,
			trigger     TEXT,
			reason      TEXT NOT NULL,
			action_err  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ks_events_occurred_at ON risk.killswitch_events (occurred_at DESC)`,
		`CREATE TABLE IF NOT EXISTS risk.killswitch_overrides (
			id             UUID PRIMARY KEY,
			trigger_metric TEXT NOT NULL,
			actor          TEXT NOT NULL,
			role           TEXT NOT NULL,
			issued_at      TIMESTAMPTZ NOT NULL,
			expires_at     TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// snapshotArgs flattens a snapshot into the indexed-column bind values
// plus the JSONB payload. The indexed columns must stay scalar; pgx has
// no codec from a struct to DOUBLE PRECISION.
func snapshotArgs(snap *metrics.Snapshot) ([]interface{}, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return []interface{}{
		snap.RunID, snap.AsOf, snap.VaR95.VaR, snap.CurrentDrawdown, snap.Leverage, payload,
	}, nil
}

// SaveSnapshot saves a risk snapshot.
func (r *Repository) SaveSnapshot(ctx context.Context, snap *metrics.Snapshot) error {
	args, err := snapshotArgs(snap)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO risk.snapshots (run_id, as_of, var_95, drawdown, leverage, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot retrieves the most recent snapshot.
func (r *Repository) LatestSnapshot(ctx context.Context) (*metrics.Snapshot, error) {
	query := `
		SELECT payload
		FROM risk.snapshots
		ORDER BY as_of DESC
		LIMIT 1
	`

	var payload []byte
	err := r.pool.QueryRow(ctx, query).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("no snapshots recorded")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	var snap metrics.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// SaveAlert saves an emitted alert.
func (r *Repository) SaveAlert(ctx context.Context, alert monitor.Alert) error {
	channels, err := json.Marshal(alert.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}

	query := `
		INSERT INTO risk.alerts (id, metric, value, threshold, direction, channels, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.pool.Exec(ctx, query,
		alert.ID, alert.Metric, alert.Value, alert.Threshold,
		string(alert.Direction), channels, alert.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// RecentAlerts retrieves the most recent alerts, newest first.
func (r *Repository) RecentAlerts(ctx context.Context, limit int) ([]monitor.Alert, error) {
	query := `
		SELECT id, metric, value, threshold, direction, channels, created_at
		FROM risk.alerts
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get alerts: %w", err)
	}
	defer rows.Close()

	var alerts []monitor.Alert
	for rows.Next() {
		var alert monitor.Alert
		var channels []byte
		if err := rows.Scan(
			&alert.ID, &alert.Metric, &alert.Value, &alert.Threshold,
			&alert.Direction, &channels, &alert.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if err := json.Unmarshal(channels, &alert.Channels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// RecordEvent saves a kill switch state transition. Implements
// killswitch.EventSink.
func (r *Repository) RecordEvent(ctx context.Context, ev killswitch.Event) error {
	query := `
		INSERT INTO risk.killswitch_events (id, occurred_at, from_state, to_state, trigger, reason, action_err)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		ev.ID, ev.Time, string(ev.From), string(ev.To), ev.Trigger, ev.Reason, ev.ActionErr,
	)
	if err != nil {
		return fmt.Errorf("failed to record kill switch event: %w", err)
	}
	return nil
}

// RecentEvents retrieves the most recent kill switch transitions,
// newest first.
func (r *Repository) RecentEvents(ctx context.Context, limit int) ([]killswitch.Event, error) {
	query := `
		SELECT id, occurred_at, from_state, to_state, COALESCE(trigger, ''), reason, COALESCE(action_err, '')
		FROM risk.killswitch_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get kill switch events: %w", err)
	}
	defer rows.Close()

	var events []killswitch.Event
	for rows.Next() {
		var ev killswitch.Event
		if err := rows.Scan(&ev.ID, &ev.Time, &ev.From, &ev.To, &ev.Trigger, &ev.Reason, &ev.ActionErr); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SaveOverride saves an accepted override.
func (r *Repository) SaveOverride(ctx context.Context, o *killswitch.Override) error {
	query := `
		INSERT INTO risk.killswitch_overrides (id, trigger_metric, actor, role, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		o.ID, o.TriggerMetric, o.Actor, o.Role, o.IssuedAt, o.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save override: %w", err)
	}
	return nil
}

// ActiveOverrides retrieves overrides that have not yet expired. Used
// to restore kill switch state after a restart.
func (r *Repository) ActiveOverrides(ctx context.Context, now time.Time) ([]killswitch.Override, error) {
	query := `
		SELECT id, trigger_metric, actor, role, issued_at, expires_at
		FROM risk.killswitch_overrides
		WHERE expires_at > $1
	`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get overrides: %w", err)
	}
	defer rows.Close()

	var overrides []killswitch.Override
	for rows.Next() {
		var o killswitch.Override
		if err := rows.Scan(&o.ID, &o.TriggerMetric, &o.Actor, &o.Role, &o.IssuedAt, &o.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}
