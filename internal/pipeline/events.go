package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/snarg/caption-engine/internal/database"
)

// Record summarizes a finished run for observers.
type Record struct {
	RunID       string        `json:"run_id"`
	Digest      string        `json:"digest"`
	Reference   string        `json:"reference,omitempty"`
	Stage       Stage         `json:"state"`
	FailedStage Stage         `json:"failed_stage,omitempty"`
	Status      int           `json:"status"`
	Error       string        `json:"error,omitempty"`
	Cached      bool          `json:"cached"`
	Empty       bool          `json:"empty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"-"`
}

// Observer is told about every finished run. Errors are logged, never fatal.
type Observer interface {
	RunFinished(ctx context.Context, rec Record) error
}

// RunInserter is the ledger write used by LedgerObserver.
type RunInserter interface {
	InsertRun(ctx context.Context, r database.Run) error
}

// LedgerObserver appends runs to the caption_runs table.
type LedgerObserver struct {
	DB RunInserter
}

func (l LedgerObserver) RunFinished(ctx context.Context, rec Record) error {
	stage := string(rec.Stage)
	if rec.FailedStage != "" {
		stage = string(rec.FailedStage)
	}
	return l.DB.InsertRun(ctx, database.Run{
		RunID:      rec.RunID,
		Digest:     rec.Digest,
		Reference:  rec.Reference,
		Stage:      stage,
		Status:     rec.Status,
		Error:      rec.Error,
		Cached:     rec.Cached,
		Empty:      rec.Empty,
		StartedAt:  rec.StartedAt,
		DurationMs: rec.Duration.Milliseconds(),
	})
}

// EventPublisher is the MQTT side used by EventObserver.
type EventPublisher interface {
	Topic(parts ...string) string
	Publish(topic string, payload []byte) error
}

// EventObserver publishes each run as JSON to <prefix>/runs/<digest>.
type EventObserver struct {
	Pub EventPublisher
}

type runEvent struct {
	Record
	DurationMs int64 `json:"duration_ms"`
}

func (e EventObserver) RunFinished(_ context.Context, rec Record) error {
	payload, err := json.Marshal(runEvent{Record: rec, DurationMs: rec.Duration.Milliseconds()})
	if err != nil {
		return err
	}
	digest := rec.Digest
	if digest == "" {
		digest = "unresolved"
	}
	return e.Pub.Publish(e.Pub.Topic("runs", digest), payload)
}
