package weblog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/replypilot/replypilot/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS webhook_log (
	id            TEXT PRIMARY KEY,
	stage         TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	timestamp     INTEGER NOT NULL,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	error_summary TEXT NOT NULL DEFAULT '',
	metadata      TEXT
);
CREATE INDEX IF NOT EXISTS idx_webhook_log_timestamp ON webhook_log (timestamp);
`

// SQLiteStore persists webhook log entries in a SQLite database file.
// Timestamps are stored as Unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" gives
// an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("weblog: opening sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("weblog: ensuring schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes one entry.
func (s *SQLiteStore) Append(ctx context.Context, entry *models.WebhookLogEntry) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Stage, string(entry.Outcome), entry.Timestamp.UTC().UnixMilli(),
		entry.DurationMs, entry.ErrorSummary, nullableBytes(metadata),
	)
	if err != nil {
		return fmt.Errorf("weblog: inserting entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]models.WebhookLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stage, outcome, timestamp, duration_ms, error_summary, metadata
		FROM webhook_log
		ORDER BY timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("weblog: querying entries: %w", err)
	}
	defer rows.Close()

	var entries []models.WebhookLogEntry
	for rows.Next() {
		var (
			entry    models.WebhookLogEntry
			outcome  string
			unixMs   int64
			metadata []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Stage, &outcome, &unixMs,
			&entry.DurationMs, &entry.ErrorSummary, &metadata); err != nil {
			return nil, fmt.Errorf("weblog: scanning entry: %w", err)
		}
		entry.Outcome = models.WebhookOutcome(outcome)
		entry.Timestamp = time.UnixMilli(unixMs).UTC()
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
func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_log WHERE timestamp < ?`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("weblog: deleting entries: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
