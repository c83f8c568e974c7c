package transcribe

import "context"

// Service is the external asynchronous transcription service. Job names are
// unique, so submitting the same name twice is rejected with ErrJobExists.
type Service interface {
	SubmitJob(ctx context.Context, req SubmitRequest) error
	GetJob(ctx context.Context, name string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]Job, error)
}
