package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/snarg/caption-engine/internal/metrics"
)

// Coordinator maps each digest to exactly one external job. The job name is
// the digest, so the service's own name uniqueness backs the guarantee when
// two runs race past the lookup.
type Coordinator struct {
	svc  Service
	lang Language
	log  zerolog.Logger
}

func NewCoordinator(svc Service, lang Language, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		svc:  svc,
		lang: lang,
		log:  log.With().Str("component", "coordinator").Logger(),
	}
}

// EnsureSubmitted submits a job for digest unless one already exists in any
// state. It reports whether this call created the job.
func (c *Coordinator) EnsureSubmitted(ctx context.Context, digest, mediaLocation string) (bool, error) {
	job, err := c.svc.GetJob(ctx, digest)
	if err == nil {
		c.log.Debug().
			Str("digest", digest).
			Str("state", string(job.State)).
			Msg("job already exists, skipping submission")
		return false, nil
	}
	if !errors.Is(err, ErrJobNotFound) {
		return false, &SubmissionError{Name: digest, Err: fmt.Errorf("lookup: %w", err)}
	}

	err = c.svc.SubmitJob(ctx, SubmitRequest{
		Name:     digest,
		MediaURI: mediaLocation,
		Language: c.lang,
	})
	if errors.Is(err, ErrJobExists) {
		c.log.Info().Str("digest", digest).Msg("job created concurrently, skipping submission")
		return false, nil
	}
	if err != nil {
		return false, &SubmissionError{Name: digest, Err: err}
	}

	metrics.JobsSubmittedTotal.Inc()
	c.log.Info().
		Str("digest", digest).
		Str("media_location", mediaLocation).
		Str("language", c.languageLabel()).
		Msg("transcription job submitted")
	return true, nil
}

// Status reads the job for digest without side effects.
func (c *Coordinator) Status(ctx context.Context, digest string) (*Job, error) {
	return c.svc.GetJob(ctx, digest)
}

// List returns up to limit known jobs.
func (c *Coordinator) List(ctx context.Context, limit int) ([]Job, error) {
	return c.svc.ListJobs(ctx, limit)
}

func (c *Coordinator) languageLabel() string {
	if c.lang.Auto {
		return "auto"
	}
	return c.lang.Code
}
