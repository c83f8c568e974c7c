// Command ledgercheck inspects and trims the caption_runs ledger.
//
//	ledgercheck                      stage/status summary
//	ledgercheck runs [digest]        latest runs, optionally for one digest
//	ledgercheck purge <age> [apply]  delete runs older than age (dry run without apply)
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/caption-engine/internal/database"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	ctx := context.Background()

	db, err := database.Connect(ctx, os.Getenv("DATABASE_URL"), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if len(os.Args) > 1 && os.Args[1] == "runs" {
		digest := ""
		if len(os.Args) > 2 {
			digest = os.Args[2]
		}
		listRuns(ctx, db, digest)
		return
	}

	if len(os.Args) > 2 && os.Args[1] == "purge" {
		age, err := time.ParseDuration(os.Args[2])
		if err != nil || age <= 0 {
			log.Fatal().Str("age", os.Args[2]).Msg("purge needs a positive duration, e.g. 720h")
		}
		apply := len(os.Args) > 3 && os.Args[3] == "apply"
		purge(ctx, db, age, apply)
		return
	}

	summary(ctx, db)
}

func summary(ctx context.Context, db *database.DB) {
	rows, err := db.Pool.Query(ctx, `
		SELECT stage, status, count(*), COALESCE(avg(duration_ms), 0)::bigint
		FROM caption_runs
		WHERE started_at > now() - interval '24 hours'
		GROUP BY stage, status
		ORDER BY stage, status
	`)
	if err != nil {
		fmt.Printf("Error reading ledger: %v\n", err)
		return
	}
	defer rows.Close()

	fmt.Println("── Runs in the last 24h ──")
	fmt.Println("Stage              Status  Count   Avg ms")
	fmt.Println("─────────────────────────────────────────")
	found := false
	for rows.Next() {
		var stage string
		var status, count int
		var avgMs int64
		if err := rows.Scan(&stage, &status, &count, &avgMs); err != nil {
			fmt.Printf("Error scanning row: %v\n", err)
			return
		}
		found = true
		fmt.Printf("%-18s %-7d %-7d %d\n", stage, status, count, avgMs)
	}
	if !found {
		fmt.Println("  (no runs)")
	}

	var total, cached, empty int64
	db.Pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE cached), count(*) FILTER (WHERE empty)
		FROM caption_runs`).Scan(&total, &cached, &empty)
	fmt.Printf("\nAll time: %d runs, %d served from cache, %d empty transcriptions\n", total, cached, empty)
}

func listRuns(ctx context.Context, db *database.DB, digest string) {
	runs, total, err := db.ListRuns(ctx, database.RunFilter{Digest: digest, Limit: 20})
	if err != nil {
		fmt.Printf("Error listing runs: %v\n", err)
		return
	}
	fmt.Printf("── Latest %d of %d runs ──\n", len(runs), total)
	for _, r := range runs {
		flags := ""
		if r.Cached {
			flags += " cached"
		}
		if r.Empty {
			flags += " empty"
		}
		fmt.Printf("  %s %s %-16s %d %6dms%s\n",
			r.StartedAt.Format(time.RFC3339), r.Digest, r.Stage, r.Status, r.DurationMs, flags)
		if r.Error != "" {
			fmt.Printf("      %s\n", r.Error)
		}
	}
}

func purge(ctx context.Context, db *database.DB, age time.Duration, apply bool) {
	if !apply {
		var n int64
		err := db.Pool.QueryRow(ctx,
			`SELECT count(*) FROM caption_runs WHERE started_at < $1`,
			time.Now().Add(-age),
		).Scan(&n)
		if err != nil {
			fmt.Printf("Error counting runs: %v\n", err)
			return
		}
		fmt.Printf("Would delete %d runs older than %s (re-run with 'apply')\n", n, age)
		return
	}
	n, err := db.PurgeRuns(ctx, age)
	if err != nil {
		fmt.Printf("Error purging runs: %v\n", err)
		return
	}
	fmt.Printf("Deleted %d runs older than %s\n", n, age)
}
