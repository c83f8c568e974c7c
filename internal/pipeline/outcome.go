package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/snarg/caption-engine/internal/transcribe"
)

// Stage is a state of the orchestration state machine.
type Stage string

const (
	StageResolving       Stage = "RESOLVING"
	StageCheckingCache   Stage = "CHECKING_CACHE"
	StageSubmitting      Stage = "SUBMITTING"
	StagePolling         Stage = "POLLING"
	StagePersistingRaw   Stage = "PERSISTING_RAW"
	StageConverting      Stage = "CONVERTING"
	StagePersistingFinal Stage = "PERSISTING_FINAL"
	StageDelivering      Stage = "DELIVERING"
	StageDone            Stage = "DONE"
	StageFailed          Stage = "FAILED"
)

// EmptyTranscriptionBody is the response for a transcription with no captions.
const EmptyTranscriptionBody = "Transcription was empty."

// Request is one inbound captioning request.
type Request struct {
	Reference     string // media reference to caption
	Destination   string // upload URI for the caption file; empty skips delivery
	Authorization string // forwarded verbatim to Destination
}

// Outcome is the result of a run, ready to be written to the caller.
type Outcome struct {
	RunID          string
	Digest         string
	Stage          Stage // DONE, or the stage that failed
	Status         int
	Body           []byte
	ContentType    string
	Cached         bool
	Empty          bool
	DeliveryStatus int
	Err            error
}

// Failed reports whether the run ended in FAILED.
func (o *Outcome) Failed() bool { return o.Err != nil }

// JobFailedError is an external job that ended FAILED. Reason is the
// service's own text and is returned to the caller verbatim.
type JobFailedError struct {
	Digest string
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("transcription job %s failed: %s", e.Digest, e.Reason)
}

// StageError ties a failure to the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// statusFor maps a fatal error to the caller's HTTP status. Only the poll
// budget and the run's own deadline are timeouts; a component's client
// timeout (delivery, repository HEAD, transcript fetch) is an ordinary failure.
func statusFor(ctx context.Context, err error) int {
	runExpired := errors.Is(ctx.Err(), context.DeadlineExceeded) && errors.Is(err, context.DeadlineExceeded)
	switch {
	case errors.Is(err, transcribe.ErrPollTimeout), runExpired:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// bodyFor is the human-readable failure body. Job failures pass the
// service's reason through untouched.
func bodyFor(err error) string {
	var jf *JobFailedError
	if errors.As(err, &jf) {
		return jf.Reason
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Err.Error()
	}
	return err.Error()
}
