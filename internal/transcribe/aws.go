package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awstranscribe "github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/rs/zerolog"
)

// transcribeAPI is the subset of *transcribe.Client used by AWSService.
type transcribeAPI interface {
	StartTranscriptionJob(ctx context.Context, in *awstranscribe.StartTranscriptionJobInput, optFns ...func(*awstranscribe.Options)) (*awstranscribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, in *awstranscribe.GetTranscriptionJobInput, optFns ...func(*awstranscribe.Options)) (*awstranscribe.GetTranscriptionJobOutput, error)
	ListTranscriptionJobs(ctx context.Context, in *awstranscribe.ListTranscriptionJobsInput, optFns ...func(*awstranscribe.Options)) (*awstranscribe.ListTranscriptionJobsOutput, error)
}

// AWSService implements Service on Amazon Transcribe.
type AWSService struct {
	api transcribeAPI
	log zerolog.Logger
}

func NewAWSService(client *awstranscribe.Client, log zerolog.Logger) *AWSService {
	return newAWSService(client, log)
}

func newAWSService(api transcribeAPI, log zerolog.Logger) *AWSService {
	return &AWSService{
		api: api,
		log: log.With().Str("component", "aws-transcribe").Logger(),
	}
}

func (s *AWSService) SubmitJob(ctx context.Context, req SubmitRequest) error {
	in := &awstranscribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(req.Name),
		Media:                &types.Media{MediaFileUri: aws.String(req.MediaURI)},
	}
	if req.Language.Auto {
		in.IdentifyLanguage = aws.Bool(true)
		for _, code := range req.Language.Options {
			in.LanguageOptions = append(in.LanguageOptions, types.LanguageCode(code))
		}
	} else {
		in.LanguageCode = types.LanguageCode(req.Language.Code)
	}

	_, err := s.api.StartTranscriptionJob(ctx, in)
	if err != nil {
		var conflict *types.ConflictException
		if errors.As(err, &conflict) {
			return fmt.Errorf("%w: %s", ErrJobExists, req.Name)
		}
		s.log.Warn().Err(err).Str("job", req.Name).Msg("start transcription job rejected")
		return err
	}
	return nil
}

// GetJob maps a missing job to ErrJobNotFound. The service reports an
// unknown job name as a BadRequestException saying the job "couldn't be
// found"; any other bad request is a real error and must not be polled past.
func (s *AWSService) GetJob(ctx context.Context, name string) (*Job, error) {
	out, err := s.api.GetTranscriptionJob(ctx, &awstranscribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(name),
	})
	if err != nil {
		var badReq *types.BadRequestException
		var notFound *types.NotFoundException
		switch {
		case errors.As(err, &notFound):
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
		case errors.As(err, &badReq) && jobMissing(badReq.ErrorMessage()):
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
		}
		return nil, fmt.Errorf("get transcription job %s: %w", name, err)
	}
	if out.TranscriptionJob == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	tj := out.TranscriptionJob
	job := &Job{
		Name:          aws.ToString(tj.TranscriptionJobName),
		State:         mapStatus(tj.TranscriptionJobStatus),
		FailureReason: aws.ToString(tj.FailureReason),
		LanguageCode:  string(tj.LanguageCode),
		CreatedAt:     tj.CreationTime,
		CompletedAt:   tj.CompletionTime,
	}
	if job.Name == "" {
		job.Name = name
	}
	if tj.Media != nil {
		job.MediaURI = aws.ToString(tj.Media.MediaFileUri)
	}
	if tj.Transcript != nil && job.State == StateCompleted {
		job.ResultURI = aws.ToString(tj.Transcript.TranscriptFileUri)
	}
	return job, nil
}

func jobMissing(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "couldn't be found") ||
		strings.Contains(msg, "could not be found") ||
		strings.Contains(msg, "does not exist")
}

// ListJobs returns up to limit jobs, newest first as the service orders them.
// limit <= 0 lists everything.
func (s *AWSService) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	var jobs []Job
	var token *string
	for {
		in := &awstranscribe.ListTranscriptionJobsInput{NextToken: token}
		if limit > 0 {
			in.MaxResults = aws.Int32(int32(min(limit-len(jobs), 100)))
		}
		out, err := s.api.ListTranscriptionJobs(ctx, in)
		if err != nil {
			return nil, err
		}
		for _, sum := range out.TranscriptionJobSummaries {
			jobs = append(jobs, Job{
				Name:          aws.ToString(sum.TranscriptionJobName),
				State:         mapStatus(sum.TranscriptionJobStatus),
				FailureReason: aws.ToString(sum.FailureReason),
				LanguageCode:  string(sum.LanguageCode),
				CreatedAt:     sum.CreationTime,
				CompletedAt:   sum.CompletionTime,
			})
		}
		if out.NextToken == nil || (limit > 0 && len(jobs) >= limit) {
			break
		}
		token = out.NextToken
	}
	return jobs, nil
}

func mapStatus(s types.TranscriptionJobStatus) State {
	switch s {
	case types.TranscriptionJobStatusCompleted:
		return StateCompleted
	case types.TranscriptionJobStatusFailed:
		return StateFailed
	case types.TranscriptionJobStatusInProgress:
		return StateInProgress
	default:
		return StateNotStarted
	}
}
