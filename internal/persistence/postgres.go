package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresEventStore appends breaker events and trade outcomes to
// Postgres. Writes sit off the decision path; callers treat failures
// as best-effort.
type PostgresEventStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresEventStore opens a connection pool against dsn.
func NewPostgresEventStore(dsn string, timeout time.Duration) (*PostgresEventStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresEventStore{db: db, timeout: timeout}, nil
}

// Append inserts one immutable breaker event.
func (s *PostgresEventStore) Append(ctx context.Context, event BreakerEvent) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
	}

	query := `
		INSERT INTO breaker_events
		(ts, event_type, breaker_type, reason, equity, operator_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := s.db.ExecContext(ctx, query,
		event.Timestamp, event.EventType, event.BreakerType,
		event.Reason, event.Equity, event.OperatorID, metadataJSON); err != nil {
		return fmt.Errorf("insert breaker event: %w", err)
	}
	return nil
}

// AppendOutcome inserts one realized trade outcome.
func (s *PostgresEventStore) AppendOutcome(ctx context.Context, symbol, pattern string, pnl float64, closedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO trade_outcomes (symbol, pattern, pnl, closed_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.db.ExecContext(ctx, query, symbol, pattern, pnl, closedAt); err != nil {
		return fmt.Errorf("insert trade outcome: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresEventStore) Close() error {
	return s.db.Close()
}

// Schema is the DDL for the event tables, applied by operators.
const Schema = `
CREATE TABLE IF NOT EXISTS breaker_events (
	id           BIGSERIAL PRIMARY KEY,
	ts           TIMESTAMPTZ NOT NULL,
	event_type   TEXT NOT NULL,
	breaker_type TEXT,
	reason       TEXT NOT NULL,
	equity       DOUBLE PRECISION NOT NULL,
	operator_id  TEXT,
	metadata     JSONB
);

CREATE TABLE IF NOT EXISTS trade_outcomes (
	id        BIGSERIAL PRIMARY KEY,
	symbol    TEXT NOT NULL,
	pattern   TEXT,
	pnl       DOUBLE PRECISION NOT NULL,
	closed_at TIMESTAMPTZ NOT NULL
);
`
