package weblog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/replypilot/replypilot/pkg/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS webhook_log (
	id            TEXT PRIMARY KEY,
	stage         TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	timestamp     TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	error_summary TEXT NOT NULL DEFAULT '',
	metadata      JSONB
);
CREATE INDEX IF NOT EXISTS idx_webhook_log_timestamp ON webhook_log (timestamp);
`

// PostgresStore persists webhook log entries in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig configures the Postgres store.
type PostgresConfig struct {
	// DSN is the connection string. Required unless DB is set.
	DSN string

	// DB reuses an existing connection pool (tests).
	DB *sql.DB

	// MaxConnections caps the pool size. Default: 10.
	MaxConnections int
}

// NewPostgresStore opens (or adopts) a connection and ensures the schema.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db := cfg.DB
	if db == nil {
		if cfg.DSN == "" {
			return nil, fmt.Errorf("weblog: postgres DSN is required")
		}
		var err error
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("weblog: opening postgres: %w", err)
		}
		if cfg.MaxConnections <= 0 {
			cfg.MaxConnections = 10
		}
		db.SetMaxOpenConns(cfg.MaxConnections)
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, fmt.Errorf("weblog: ensuring schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Append writes one entry.
func (s *PostgresStore) Append(ctx context.Context, entry *models.WebhookLogEntry) error {
	var metadata []byte
	if len(entry.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("weblog: encoding metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_log (id, stage, outcome, timestamp, duration_ms, error_summary, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.Stage, string(entry.Outcome), entry.Timestamp.UTC(),
		entry.DurationMs, entry.ErrorSummary, nullableBytes(metadata),
	)
	if err != nil {
		return fmt.Errorf("weblog: inserting entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]models.WebhookLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stage, outcome, timestamp, duration_ms, error_summary, metadata
		FROM webhook_log
		ORDER BY timestamp DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("weblog: querying entries: %w", err)
	}
	defer rows.Close()

	var entries []models.WebhookLogEntry
	for rows.Next() {
		var (
			entry    models.WebhookLogEntry
			outcome  string
			metadata []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Stage, &outcome, &entry.Timestamp,
			&entry.DurationMs, &entry.ErrorSummary, &metadata); err != nil {
			return nil, fmt.Errorf("weblog: scanning entry: %w", err)
		}
		entry.Outcome = models.WebhookOutcome(outcome)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("weblog: decoding metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// DeleteBefore removes entries older than cutoff.
func (s *PostgresStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_log WHERE timestamp < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("weblog: deleting entries: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
