// Package pipeline runs one captioning request end to end: resolve the
// media, reuse or produce its caption artifacts, and deliver the result.
package pipeline

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/caption-engine/internal/caption"
	"github.com/snarg/caption-engine/internal/convert"
	"github.com/snarg/caption-engine/internal/delivery"
	"github.com/snarg/caption-engine/internal/identity"
	"github.com/snarg/caption-engine/internal/lock"
	"github.com/snarg/caption-engine/internal/metrics"
	"github.com/snarg/caption-engine/internal/storage"
	"github.com/snarg/caption-engine/internal/transcribe"
)

type Resolver interface {
	Resolve(ctx context.Context, ref string) (identity.Identity, error)
}

type JobCoordinator interface {
	EnsureSubmitted(ctx context.Context, digest, mediaLocation string) (bool, error)
}

type CompletionWaiter interface {
	AwaitCompletion(ctx context.Context, digest string) (*transcribe.Job, error)
}

type TranscriptFetcher interface {
	Fetch(ctx context.Context, resultURI string) ([]byte, error)
}

type Converter interface {
	Convert(ctx context.Context, digest, rawPath string) (*convert.Result, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, t delivery.Target, body []byte) (int, error)
}

// Options wires an Orchestrator. Locker, DistLocker and Observers are optional.
type Options struct {
	Resolver    Resolver
	Store       *storage.ArtifactStore
	Coordinator JobCoordinator
	Poller      CompletionWaiter
	Fetcher     TranscriptFetcher
	Converter   Converter
	Deliverer   Deliverer
	Locker      lock.Locker // in-process, per digest
	DistLocker  lock.Locker // shared across processes; failures degrade to Locker only
	Observers   []Observer
	RunTimeout  time.Duration
	Log         zerolog.Logger
}

// Orchestrator composes the pipeline components. It is safe for concurrent
// use; runs for different digests never wait on each other.
type Orchestrator struct {
	opts     Options
	inFlight atomic.Int64
	log      zerolog.Logger
}

func New(opts Options) *Orchestrator {
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	return &Orchestrator{
		opts: opts,
		log:  opts.Log.With().Str("component", "orchestrator").Logger(),
	}
}

// RunsInFlight reports runs currently executing.
func (o *Orchestrator) RunsInFlight() int { return int(o.inFlight.Load()) }

// run carries per-request state through the stages.
type run struct {
	id         string
	req        Request
	digest     string
	stage      Stage
	stageStart time.Time
	started    time.Time
	cached     bool
	log        zerolog.Logger
}

func (r *run) enter(s Stage) {
	now := time.Now()
	if r.stage != "" {
		metrics.StageDuration.WithLabelValues(string(r.stage)).Observe(now.Sub(r.stageStart).Seconds())
	}
	r.stage, r.stageStart = s, now
	r.log.Debug().Str("stage", string(s)).Msg("stage")
}

// Run executes one request and always returns an Outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Outcome {
	o.inFlight.Add(1)
	defer o.inFlight.Add(-1)

	r := &run{
		id:      uuid.NewString(),
		req:     req,
		started: time.Now(),
	}
	r.log = o.log.With().Str("run_id", r.id).Logger()

	if o.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.RunTimeout)
		defer cancel()
	}

	out, err := o.execute(ctx, r)
	if err != nil {
		out = o.fail(ctx, r, err)
	}
	out.RunID = r.id
	out.Digest = r.digest
	out.Cached = r.cached
	o.finish(r, out)
	return out
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (*Outcome, error) {
	r.enter(StageResolving)
	id, err := o.opts.Resolver.Resolve(ctx, r.req.Reference)
	if err != nil {
		return nil, err
	}
	r.digest = id.Digest
	r.log = r.log.With().Str("digest", id.Digest).Logger()

	r.enter(StageCheckingCache)
	if out, ok, err := o.fromFinal(ctx, r); ok || err != nil {
		return out, err
	}

	unlock, err := o.lock(ctx, r)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another run may have finished while we waited for the lock.
	if out, ok, err := o.fromFinal(ctx, r); ok || err != nil {
		return out, err
	}

	rawPath, cleanup, err := o.rawTranscript(ctx, r, id)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	r.enter(StageConverting)
	res, err := o.opts.Converter.Convert(ctx, r.digest, rawPath)
	if err != nil {
		var ioErr *storage.IOError
		if errors.As(err, &ioErr) {
			return nil, &StageError{Stage: StagePersistingFinal, Err: err}
		}
		return nil, err
	}

	r.enter(StagePersistingFinal)
	if res.Empty() {
		return o.respond(ctx, r, nil)
	}
	data, err := o.opts.Store.Read(ctx, r.digest, storage.Final)
	if err != nil {
		return nil, &StageError{Stage: StagePersistingFinal, Err: err}
	}
	return o.respond(ctx, r, data)
}

// fromFinal answers from an existing final artifact. ok is false on a miss.
func (o *Orchestrator) fromFinal(ctx context.Context, r *run) (*Outcome, bool, error) {
	if !o.opts.Store.Exists(ctx, r.digest, storage.Final) {
		return nil, false, nil
	}
	data, err := o.opts.Store.Read(ctx, r.digest, storage.Final)
	if err != nil {
		return nil, true, err
	}
	r.cached = true
	metrics.CacheHitsTotal.WithLabelValues("final").Inc()
	r.log.Info().Int("bytes", len(data)).Msg("final artifact cached, skipping transcription")
	out, err := o.respond(ctx, r, data)
	return out, true, err
}

func (o *Orchestrator) lock(ctx context.Context, r *run) (func(), error) {
	unlock, err := o.opts.Locker.Lock(ctx, r.digest)
	if err != nil {
		return nil, err
	}
	if o.opts.DistLocker == nil {
		return unlock, nil
	}
	distUnlock, err := o.opts.DistLocker.Lock(ctx, r.digest)
	if err != nil {
		if ctx.Err() != nil {
			unlock()
			return nil, ctx.Err()
		}
		r.log.Warn().Err(err).Msg("distributed lock unavailable, continuing with local lock only")
		return unlock, nil
	}
	return func() {
		distUnlock()
		unlock()
	}, nil
}

// rawTranscript returns a path holding a valid raw transcript, producing it
// through the external service when needed. cleanup removes scratch files.
func (o *Orchestrator) rawTranscript(ctx context.Context, r *run, id identity.Identity) (string, func(), error) {
	noop := func() {}
	store := o.opts.Store

	if store.Exists(ctx, r.digest, storage.Raw) {
		data, err := store.Read(ctx, r.digest, storage.Raw)
		if err == nil {
			_, err = caption.ParseTranscript(data)
		}
		if err == nil {
			metrics.CacheHitsTotal.WithLabelValues("raw").Inc()
			r.log.Info().Msg("raw transcript cached, skipping job submission")
			// A mirror hit is cached locally only on a best-effort basis.
			path := store.Path(r.digest, storage.Raw)
			if _, statErr := os.Stat(path); statErr != nil {
				r.log.Warn().Err(statErr).Msg("raw transcript not on local disk, converting from scratch copy")
				return scratchCopy(data)
			}
			return path, noop, nil
		}
		r.log.Warn().Err(err).Msg("cached raw transcript unusable, transcribing again")
	}

	r.enter(StageSubmitting)
	if _, err := o.opts.Coordinator.EnsureSubmitted(ctx, r.digest, id.MediaLocation); err != nil {
		return "", noop, err
	}

	r.enter(StagePolling)
	job, err := o.opts.Poller.AwaitCompletion(ctx, r.digest)
	if err != nil {
		return "", noop, err
	}
	if job.State == transcribe.StateFailed {
		return "", noop, &JobFailedError{Digest: r.digest, Reason: job.FailureReason}
	}

	data, err := o.opts.Fetcher.Fetch(ctx, job.ResultURI)
	if err != nil {
		return "", noop, err
	}
	if _, err := caption.ParseTranscript(data); err != nil {
		return "", noop, err
	}

	r.enter(StagePersistingRaw)
	if err := store.Write(ctx, r.digest, storage.Raw, data); err != nil {
		r.log.Warn().Err(err).Msg("raw transcript not persisted, converting from scratch copy")
		return scratchCopy(data)
	}
	return store.Path(r.digest, storage.Raw), noop, nil
}

func scratchCopy(data []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "caption-raw-*.json")
	if err != nil {
		return "", func() {}, err
	}
	name := f.Name()
	cleanup := func() { os.Remove(name) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return name, cleanup, nil
}

// respond delivers data when the request names a destination and builds the
// caller's response. An empty artifact is never delivered.
func (o *Orchestrator) respond(ctx context.Context, r *run, data []byte) (*Outcome, error) {
	if len(data) == 0 {
		r.log.Info().Msg("transcription produced no captions")
		return &Outcome{
			Stage:       StageDone,
			Status:      http.StatusOK,
			Body:        []byte(EmptyTranscriptionBody),
			ContentType: "text/plain",
			Empty:       true,
		}, nil
	}

	out := &Outcome{
		Stage:       StageDone,
		Status:      http.StatusOK,
		Body:        data,
		ContentType: "text/plain",
	}
	if r.req.Destination == "" {
		return out, nil
	}

	r.enter(StageDelivering)
	status, err := o.opts.Deliverer.Deliver(ctx, delivery.Target{
		URL:           r.req.Destination,
		Authorization: r.req.Authorization,
	}, data)
	if err != nil {
		return nil, err
	}
	out.DeliveryStatus = status
	return out, nil
}

func (o *Orchestrator) fail(ctx context.Context, r *run, err error) *Outcome {
	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: r.stage, Err: err}
	}
	ev := r.log.Error().
		Err(se.Err).
		Str("stage", string(se.Stage))
	var ce *convert.ConversionError
	if errors.As(err, &ce) && ce.Log.Command != "" {
		ev = ev.Str("command", ce.Log.Command).
			Strs("args", ce.Log.Args).
			Int("exit_code", ce.Log.ExitCode).
			Str("stdout", ce.Log.Stdout).
			Str("stderr", ce.Log.Stderr).
			Dur("took", ce.Log.Duration)
	}
	ev.Msg("run failed")
	return &Outcome{
		Stage:       StageFailed,
		Status:      statusFor(ctx, err),
		Body:        []byte(bodyFor(err)),
		ContentType: "text/plain",
		Err:         se,
	}
}

func (o *Orchestrator) finish(r *run, out *Outcome) {
	if r.stage != "" {
		metrics.StageDuration.WithLabelValues(string(r.stage)).Observe(time.Since(r.stageStart).Seconds())
	}
	label := "done"
	switch {
	case out.Failed():
		label = "failed"
	case out.Empty:
		label = "empty"
	case out.Cached:
		label = "cached"
	}
	metrics.RunsTotal.WithLabelValues(label).Inc()

	dur := time.Since(r.started)
	r.log.Info().
		Str("outcome", label).
		Int("status", out.Status).
		Dur("took", dur).
		Msg("run finished")

	if len(o.opts.Observers) == 0 {
		return
	}
	rec := Record{
		RunID:     r.id,
		Digest:    r.digest,
		Reference: r.req.Reference,
		Stage:     out.Stage,
		Status:    out.Status,
		Cached:    out.Cached,
		Empty:     out.Empty,
		StartedAt: r.started,
		Duration:  dur,
	}
	if out.Err != nil {
		rec.Error = out.Err.Error()
		var se *StageError
		if errors.As(out.Err, &se) {
			rec.FailedStage = se.Stage
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, obs := range o.opts.Observers {
		if err := obs.RunFinished(ctx, rec); err != nil {
			r.log.Warn().Err(err).Msg("run observer failed")
		}
	}
}
