// Package audit appends security events and sandbox violations to Postgres
// for after-the-fact review. Writes are best-effort with bounded timeouts:
// the audit trail supports forensics, it does not gate enforcement.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcpwarden/warden/pkg/metrics"
)

// Schema is applied by EnsureSchema at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS security_events (
	id          TEXT PRIMARY KEY,
	server_id   TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	severity    TEXT NOT NULL,
	description TEXT NOT NULL,
	metadata    JSONB,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_security_events_server ON security_events (server_id, recorded_at);

CREATE TABLE IF NOT EXISTS sandbox_violations (
	id             TEXT PRIMARY KEY,
	server_id      TEXT NOT NULL,
	violation_type TEXT NOT NULL,
	severity       TEXT NOT NULL,
	description    TEXT NOT NULL,
	action_taken   TEXT NOT NULL,
	metadata       JSONB,
	occurred_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sandbox_violations_server ON sandbox_violations (server_id, occurred_at);
`

// Logger writes audit rows. The zero value (or NewDisabled) is a no-op, so
// callers never need nil checks.
type Logger struct {
	pool      *pgxpool.Pool
	opTimeout time.Duration
}

// New connects an audit logger to Postgres. An empty DSN returns a disabled
// logger rather than an error.
func New(ctx context.Context, dsn string, opTimeout time.Duration) (*Logger, error) {
	if dsn == "" {
		return NewDisabled(), nil
	}
	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	return &Logger{pool: pool, opTimeout: opTimeout}, nil
}

// NewDisabled returns a logger that drops everything.
func NewDisabled() *Logger { return &Logger{} }

// Disabled reports whether this logger is a no-op.
func (l *Logger) Disabled() bool { return l == nil || l.pool == nil }

// EnsureSchema creates the audit tables if missing.
func (l *Logger) EnsureSchema(ctx context.Context) error {
	if l.Disabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := l.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("audit: ensure schema: %w", err)
	}
	return nil
}

// RecordEvent appends one security event row. Failures are logged and
// swallowed; the in-memory ledger remains authoritative.
func (l *Logger) RecordEvent(ctx context.Context, id, serverID, eventType, severity, description string, metadata map[string]interface{}) {
	if l.Disabled() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	meta, _ := json.Marshal(metadata)
	_, err := l.pool.Exec(ctx,
		`INSERT INTO security_events (id, server_id, event_type, severity, description, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		id, serverID, eventType, severity, description, meta)
	if err != nil {
		metrics.PersistenceErrors.WithLabelValues("postgres").Inc()
		log.Printf("[WARN] audit: event write failed (server=%s type=%s): %v", serverID, eventType, err)
	}
}

// RecordViolation appends one sandbox violation row, same failure semantics
// as RecordEvent.
func (l *Logger) RecordViolation(ctx context.Context, id, serverID, violationType, severity, description, actionTaken string, metadata map[string]interface{}, occurredAt time.Time) {
	if l.Disabled() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	meta, _ := json.Marshal(metadata)
	_, err := l.pool.Exec(ctx,
		`INSERT INTO sandbox_violations (id, server_id, violation_type, severity, description, action_taken, metadata, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`,
		id, serverID, violationType, severity, description, actionTaken, meta, occurredAt)
	if err != nil {
		metrics.PersistenceErrors.WithLabelValues("postgres").Inc()
		log.Printf("[WARN] audit: violation write failed (server=%s type=%s): %v", serverID, violationType, err)
	}
}

// Close releases the pool.
func (l *Logger) Close() {
	if !l.Disabled() {
		l.pool.Close()
	}
}
