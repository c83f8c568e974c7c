package database

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Run is one finished orchestration run in the caption_runs ledger.
type Run struct {
	RunID      string    `json:"run_id"`
	Digest     string    `json:"digest"`
	Reference  string    `json:"reference,omitempty"`
	Stage      string    `json:"stage"`
	Status     int       `json:"status"`
	Error      string    `json:"error,omitempty"`
	Cached     bool      `json:"cached"`
	Empty      bool      `json:"empty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// RunFilter specifies filters for listing runs.
type RunFilter struct {
	Digest string
	Since  *time.Time
	Limit  int
}

// InsertRun appends a run to the ledger.
func (db *DB) InsertRun(ctx context.Context, r Run) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO caption_runs (run_id, digest, reference, stage, status, error, cached, empty, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id) DO NOTHING`,
		r.RunID, r.Digest, r.Reference, r.Stage, r.Status, nullIfEmpty(r.Error),
		r.Cached, r.Empty, r.StartedAt, r.DurationMs,
	)
	return err
}

// ListRuns returns runs newest first, plus the total matching the filter.
func (db *DB) ListRuns(ctx context.Context, filter RunFilter) ([]Run, int, error) {
	where, args := filter.where()

	var total int
	if err := db.Pool.QueryRow(ctx, "SELECT count(*) FROM caption_runs"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.Pool.Query(ctx, fmt.Sprintf(`
		SELECT run_id::text, digest, reference, stage, status, COALESCE(error, ''),
			cached, empty, started_at, duration_ms
		FROM caption_runs%s
		ORDER BY started_at DESC
		LIMIT %d`, where, clampLimit(filter.Limit)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Digest, &r.Reference, &r.Stage, &r.Status, &r.Error,
			&r.Cached, &r.Empty, &r.StartedAt, &r.DurationMs); err != nil {
			return nil, 0, err
		}
		runs = append(runs, r)
	}
	return runs, total, rows.Err()
}

// where renders the filter as a parameterized WHERE clause.
func (f RunFilter) where() (string, []any) {
	var conds []string
	var args []any
	if f.Digest != "" {
		args = append(args, f.Digest)
		conds = append(conds, fmt.Sprintf("digest = $%d", len(args)))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		conds = append(conds, fmt.Sprintf("started_at >= $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// PurgeRuns deletes ledger rows older than retention.
func (db *DB) PurgeRuns(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM caption_runs WHERE started_at < $1`,
		time.Now().Add(-retention),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 50
	case n > 1000:
		return 1000
	default:
		return n
	}
}

// nullIfEmpty stores "" as NULL.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
