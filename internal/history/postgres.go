package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore persists failover records in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens a connection pool for dsn
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an existing connection pool
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateTables creates the failover_history table
func (s *PostgresStore) CreateTables(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS failover_history (
		id VARCHAR(64) PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		old_primary VARCHAR(255) NOT NULL,
		new_primary VARCHAR(255) NOT NULL,
		duration_ms BIGINT NOT NULL,
		trigger VARCHAR(32) NOT NULL,
		success BOOLEAN NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT ''
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create failover_history: %w", err)
	}
	return nil
}

// Save inserts a record
func (s *PostgresStore) Save(ctx context.Context, r Record) error {
	query := `
		INSERT INTO failover_history
		(id, started_at, old_primary, new_primary, duration_ms, trigger, success, error, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Timestamp, r.OldPrimary, r.NewPrimary, r.DurationMs,
		string(r.Trigger), r.Success, r.Error, r.Reason)
	if err != nil {
		return fmt.Errorf("insert failover record: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest records, oldest first
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	query := `
		SELECT id, started_at, old_primary, new_primary, duration_ms, trigger, success, error, reason
		FROM failover_history
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query failover history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var r Record
		var trigger string
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.OldPrimary, &r.NewPrimary,
			&r.DurationMs, &trigger, &r.Success, &r.Error, &r.Reason); err != nil {
			return nil, err
		}
		r.Trigger = TriggerKind(trigger)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
