package transcribe

import (
	"context"
	"fmt"
	"sync"
)

// fakeService is an in-memory Service with name uniqueness.
type fakeService struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	submits   int
	submitErr error
	getErr    error
	// script, when set, is consumed one state per GetJob call for a job.
	script map[string][]State
}

func newFakeService() *fakeService {
	return &fakeService{jobs: make(map[string]*Job), script: make(map[string][]State)}
}

func (f *fakeService) SubmitJob(ctx context.Context, req SubmitRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	if _, ok := f.jobs[req.Name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, req.Name)
	}
	f.submits++
	f.jobs[req.Name] = &Job{Name: req.Name, State: StateInProgress, MediaURI: req.MediaURI}
	return nil
}

func (f *fakeService) GetJob(ctx context.Context, name string) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	job, ok := f.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if steps := f.script[name]; len(steps) > 0 {
		job.State = steps[0]
		f.script[name] = steps[1:]
	}
	cp := *job
	return &cp, nil
}

func (f *fakeService) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Job
	for _, j := range f.jobs {
		out = append(out, *j)
	}
	return out, nil
}
