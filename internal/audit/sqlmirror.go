package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// SQLMirror durably persists every appended record to a Postgres table as a
// secondary copy. The ndjson file Writer appends to remains the source of
// truth for hash-chain verification; the mirror exists so a compliance
// query can run against SQL instead of scanning the log file.
type SQLMirror struct {
	db *sql.DB
}

// OpenSQLMirror connects to dsn and verifies connectivity with a ping. The
// caller must ensure the audit_events table referenced by Mirror exists.
func OpenSQLMirror(ctx context.Context, dsn string) (*SQLMirror, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &SQLMirror{db: db}, nil
}

// Mirror inserts record into audit_events.
func (m *SQLMirror) Mirror(ctx context.Context, record Record) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO audit_events (hash, prev_hash, actor, role, action, resource, outcome, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.Hash, record.PrevHash, record.Event.Actor, record.Event.Role,
		record.Event.Action, record.Event.Resource, record.Event.Outcome, record.Timestamp)
	return err
}

// Close releases the underlying connection pool.
func (m *SQLMirror) Close() error {
	return m.db.Close()
}
