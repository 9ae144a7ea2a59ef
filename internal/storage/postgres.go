package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	episode     INTEGER NOT NULL,
	steps       INTEGER NOT NULL,
	score       DOUBLE PRECISION NOT NULL,
	policy_loss DOUBLE PRECISION NOT NULL,
	value_loss  DOUBLE PRECISION NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS episodes_run_created_idx ON episodes (run_id, created_at);`

// PostgresBackend implements Backend backed by PostgreSQL
type PostgresBackend struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	p := NewPostgresBackend(db)
	if err := p.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresBackend wraps an open database handle.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// EnsureSchema creates the episodes table if needed.
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Store(ctx context.Context, record *EpisodeRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	query := `
		INSERT INTO episodes (id, run_id, mode, episode, steps, score, policy_loss, value_loss, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := p.db.ExecContext(ctx, query,
		record.ID, record.RunID, string(record.Mode), record.Episode, record.Steps,
		record.Score, record.PolicyLoss, record.ValueLoss, record.Timestamp)
	return err
}

func (p *PostgresBackend) Recent(ctx context.Context, runID string, limit int) ([]*EpisodeRecord, error) {
	query := `
		SELECT id, run_id, mode, episode, steps, score, policy_loss, value_loss, created_at
		FROM episodes
		WHERE ($1 = '' OR run_id = $1)
		ORDER BY created_at DESC`
	args := []interface{}{runID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*EpisodeRecord
	for rows.Next() {
		var r EpisodeRecord
		var mode string
		if err := rows.Scan(&r.ID, &r.RunID, &mode, &r.Episode, &r.Steps,
			&r.Score, &r.PolicyLoss, &r.ValueLoss, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Mode = Mode(mode)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *PostgresBackend) GetStats(ctx context.Context, runID string) (*Stats, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT score, created_at FROM episodes
		WHERE ($1 = '' OR run_id = $1)
		ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []float64
	var oldest, newest time.Time
	for rows.Next() {
		var score float64
		var ts time.Time
		if err := rows.Scan(&score, &ts); err != nil {
			return nil, err
		}
		if len(scores) == 0 {
			oldest = ts
		}
		newest = ts
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		if runID != "" {
			return nil, ErrNotFound
		}
		return &Stats{}, nil
	}
	return summarise(runID, scores, oldest, newest), nil
}

func (p *PostgresBackend) Clear(ctx context.Context, runID string, beforeTimestamp *time.Time, keepLastN uint32) (uint64, error) {
	var before interface{}
	if beforeTimestamp != nil {
		before = *beforeTimestamp
	}
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM episodes e
		WHERE ($1 = '' OR e.run_id = $1)
		  AND (
			($2::timestamptz IS NOT NULL AND e.created_at < $2::timestamptz)
			OR ($3 > 0 AND e.id NOT IN (
				SELECT id FROM episodes
				WHERE ($1 = '' OR run_id = $1)
				ORDER BY created_at DESC
				LIMIT $3))
		  )`, runID, before, int64(keepLastN))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (p *PostgresBackend) Close() error {
	return p.db.Close()
}
