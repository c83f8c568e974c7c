package transcribe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxTranscriptBytes = 64 << 20

// Fetcher downloads a finished job's transcript from its result URI.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

func (f *Fetcher) Fetch(ctx context.Context, resultURI string) ([]byte, error) {
	if resultURI == "" {
		return nil, fmt.Errorf("fetch transcript: job has no result uri")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURI, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch transcript: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch transcript: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTranscriptBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch transcript: %w", err)
	}
	if len(data) > maxTranscriptBytes {
		return nil, fmt.Errorf("fetch transcript: exceeds %d bytes", maxTranscriptBytes)
	}
	return data, nil
}
