package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		name: "create caption_runs",
		sql: `CREATE TABLE IF NOT EXISTS caption_runs (
	run_id      uuid PRIMARY KEY,
	digest      text NOT NULL,
	reference   text NOT NULL DEFAULT '',
	stage       text NOT NULL,
	status      int NOT NULL,
	error       text,
	cached      boolean NOT NULL DEFAULT false,
	empty       boolean NOT NULL DEFAULT false,
	started_at  timestamptz NOT NULL,
	duration_ms bigint NOT NULL
)`,
		check: `SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'caption_runs')`,
	},
	{
		name:  "add caption_runs digest index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_caption_runs_digest ON caption_runs (digest, started_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_caption_runs_digest')`,
	},
	{
		name:  "add caption_runs started_at index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_caption_runs_started ON caption_runs (started_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_caption_runs_started')`,
	},
}

// Migrate runs all pending schema migrations.
// For each migration, it first checks whether the change is already present.
// If not, it attempts to apply it. If the apply fails (e.g. insufficient
// privileges), the error is returned. The caller should treat this as fatal
// since the ledger queries depend on the table existing.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	// Try to apply each pending migration
	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart caption-engine.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
