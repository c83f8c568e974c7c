package transcribe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/caption-engine/internal/metrics"
)

// StatusSource is the read side of the Coordinator.
type StatusSource interface {
	Status(ctx context.Context, digest string) (*Job, error)
}

// Poller waits for a job to reach a terminal state. It never submits.
type Poller struct {
	status   StatusSource
	interval time.Duration
	maxPolls int // 0 = bounded only by the context
	log      zerolog.Logger
}

func NewPoller(status StatusSource, interval time.Duration, maxPolls int, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		status:   status,
		interval: interval,
		maxPolls: maxPolls,
		log:      log.With().Str("component", "poller").Logger(),
	}
}

// AwaitCompletion polls until the job is COMPLETED or FAILED and returns it.
// A FAILED job is returned without error; the caller decides what that means.
// Exhausting the poll budget or the context deadline yields ErrPollTimeout.
// A job that is not visible yet counts as not started.
func (p *Poller) AwaitCompletion(ctx context.Context, digest string) (*Job, error) {
	start := time.Now()
	var last State
	for attempt := 1; ; attempt++ {
		metrics.PollsTotal.Inc()
		job, err := p.status.Status(ctx, digest)
		switch {
		case errors.Is(err, ErrJobNotFound):
			job = &Job{Name: digest, State: StateNotStarted}
		case err != nil:
			if ctx.Err() != nil {
				return nil, p.contextErr(ctx, digest, attempt)
			}
			return nil, fmt.Errorf("poll job %s: %w", digest, err)
		}

		if job.State != last {
			p.log.Debug().
				Str("digest", digest).
				Str("state", string(job.State)).
				Int("attempt", attempt).
				Msg("job state observed")
			last = job.State
		}
		if job.State.Terminal() {
			p.log.Info().
				Str("digest", digest).
				Str("state", string(job.State)).
				Int("polls", attempt).
				Dur("waited", time.Since(start)).
				Msg("job finished")
			return job, nil
		}
		if p.maxPolls > 0 && attempt >= p.maxPolls {
			return job, fmt.Errorf("%w: %s still %s after %d polls", ErrPollTimeout, digest, job.State, attempt)
		}

		t := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, p.contextErr(ctx, digest, attempt)
		case <-t.C:
		}
	}
}

func (p *Poller) contextErr(ctx context.Context, digest string, attempt int) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %d polls", ErrPollTimeout, digest, attempt)
	}
	return ctx.Err()
}
