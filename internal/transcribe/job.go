package transcribe

import (
	"errors"
	"fmt"
	"time"
)

// State is the observed state of an external transcription job.
type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateInProgress State = "IN_PROGRESS"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further transitions will be observed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is one external transcription job. Name is the content digest.
type Job struct {
	Name          string     `json:"name"`
	State         State      `json:"state"`
	MediaURI      string     `json:"media_uri,omitempty"`
	ResultURI     string     `json:"result_uri,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	LanguageCode  string     `json:"language_code,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Language selects a fixed language code or automatic identification.
type Language struct {
	Code    string   // used when Auto is false
	Auto    bool     // let the service identify the language
	Options []string // optional candidates when Auto is set
}

// SubmitRequest is the input for creating a job.
type SubmitRequest struct {
	Name     string
	MediaURI string
	Language Language
}

var (
	// ErrJobNotFound is returned by Service.GetJob when no job has the name.
	ErrJobNotFound = errors.New("transcription job not found")
	// ErrJobExists is returned by Service.SubmitJob when the name is taken.
	ErrJobExists = errors.New("transcription job already exists")
	// ErrPollTimeout is returned when a job does not finish within the
	// deadline or poll budget.
	ErrPollTimeout = errors.New("transcription job did not finish in time")
)

// SubmissionError is a failed submission for any reason other than the job
// already existing.
type SubmissionError struct {
	Name string
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit transcription job %s: %v", e.Name, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
