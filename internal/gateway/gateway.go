// Package gateway is the public entry point of the generation pipeline. It
// composes admission control, the result cache, the job store, and the
// executor into one Submit/Status/Result/Cancel surface.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avelinsk/voiceforge/internal/artifact"
	"github.com/avelinsk/voiceforge/internal/cache"
	"github.com/avelinsk/voiceforge/internal/executor"
	"github.com/avelinsk/voiceforge/internal/ratelimit"
	"github.com/avelinsk/voiceforge/internal/store"
	"github.com/avelinsk/voiceforge/pkg/models"
)

var (
	// ErrOverloaded is the backpressure failure: the worker queue is at
	// capacity and the request was rejected rather than queued.
	ErrOverloaded = errors.New("generation pipeline overloaded")
	// ErrInvalidRequest marks requests that fail normalization checks.
	ErrInvalidRequest = errors.New("invalid generation request")
	// ErrJobPending is returned by Result while the job has not finished.
	ErrJobPending = errors.New("job still pending")
	// ErrJobFailed is returned by Result for a permanently failed job.
	ErrJobFailed = errors.New("job failed")
	// ErrJobCancelled is returned by Result for a cancelled job.
	ErrJobCancelled = errors.New("job cancelled")
)

// RateLimitedError rejects a submission at admission control and carries the
// wait until the client's bucket refills one token.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(100*time.Millisecond))
}

// Mode selects whether Submit waits for the result or returns a job id.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// SubmitParams is one generation submission.
type SubmitParams struct {
	Kind     models.JobKind
	Request  models.GenerateRequest
	ClientID string
	Mode     Mode
	// WaitTimeout bounds sync-mode polling; zero uses the configured
	// default. On expiry Submit degrades to async instead of blocking.
	WaitTimeout time.Duration
}

// SubmitResult is the outcome of Submit. Artifact is set on a cache hit or
// a sync-mode success; Job is nil only on a cache hit.
type SubmitResult struct {
	Job      *models.Job
	Artifact []byte
	Cached   bool
}

// Options carries gateway tunables.
type Options struct {
	ResultTTL       time.Duration
	MaxRetries      int
	SyncWaitTimeout time.Duration
}

// Gateway orchestrates the pipeline components. All dependencies are
// injected so tests can swap fakes for any of them.
type Gateway struct {
	limiter   *ratelimit.Limiter
	cache     cache.Cache
	store     store.Store
	exec      *executor.Executor
	artifacts artifact.Store
	opts      Options
}

// New creates a Gateway.
func New(limiter *ratelimit.Limiter, ca cache.Cache, st store.Store, exec *executor.Executor, artifacts artifact.Store, opts Options) *Gateway {
	if opts.SyncWaitTimeout <= 0 {
		opts.SyncWaitTimeout = 30 * time.Second
	}
	return &Gateway{
		limiter:   limiter,
		cache:     ca,
		store:     st,
		exec:      exec,
		artifacts: artifacts,
		opts:      opts,
	}
}

// Submit runs admission control, consults the result cache, and on a miss
// creates (or dedups onto) a job and enqueues it. Sync mode polls until the
// job is terminal or the wait ceiling passes, then degrades to async.
func (g *Gateway) Submit(ctx context.Context, params SubmitParams) (*SubmitResult, error) {
	if !g.limiter.Allow(params.ClientID) {
		return nil, &RateLimitedError{RetryAfter: g.limiter.RetryAfter(params.ClientID)}
	}

	req := params.Request
	req.Normalize()
	if err := validate(params.Kind, req); err != nil {
		return nil, err
	}

	fingerprint := req.Fingerprint(params.Kind)

	if res := g.cachedResult(ctx, fingerprint); res != nil {
		return res, nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:          uuid.New(),
		Kind:        params.Kind,
		Fingerprint: fingerprint,
		State:       models.StatePending,
		MaxRetries:  g.opts.MaxRetries,
		Payload:     payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	job, created, err := g.store.CreateJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if created {
		if err := g.exec.Enqueue(job.ID); err != nil {
			// The queue is full (or draining): undo the optimistic create
			// and reject with backpressure so the client retries later.
			if _, cerr := g.store.CancelJob(ctx, job.ID); cerr != nil {
				slog.Error("cancel overflowed job", "error", cerr, "job_id", job.ID)
			}
			return nil, fmt.Errorf("%w: %v", ErrOverloaded, err)
		}
		slog.Info("job submitted", "job_id", job.ID, "kind", job.Kind, "client", params.ClientID)
	} else {
		slog.Info("job deduplicated", "job_id", job.ID, "kind", job.Kind, "client", params.ClientID)
	}

	if params.Mode != ModeSync {
		return &SubmitResult{Job: job}, nil
	}
	return g.waitForResult(ctx, job, params.WaitTimeout)
}

// Status returns the job for id.
func (g *Gateway) Status(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return g.store.GetJob(ctx, id)
}

// Result returns the artifact for a succeeded job, or a sentinel describing
// why it is unavailable. The job is returned alongside for context.
func (g *Gateway) Result(ctx context.Context, id uuid.UUID) ([]byte, *models.Job, error) {
	job, err := g.store.GetJob(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	switch job.State {
	case models.StateSucceeded:
		if job.ResultRef == nil {
			return nil, job, fmt.Errorf("succeeded job %s has no result ref", id)
		}
		data, err := g.artifacts.Get(ctx, *job.ResultRef)
		if err != nil {
			return nil, job, fmt.Errorf("fetch artifact: %w", err)
		}
		return data, job, nil
	case models.StateFailed:
		return nil, job, ErrJobFailed
	case models.StateCancelled:
		return nil, job, ErrJobCancelled
	default:
		return nil, job, ErrJobPending
	}
}

// Cancel requests best-effort cancellation: pending jobs are never picked
// up, running jobs have their eventual outcome discarded.
func (g *Gateway) Cancel(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return g.store.CancelJob(ctx, id)
}

// List returns recent jobs, newest first.
func (g *Gateway) List(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error) {
	return g.store.ListJobs(ctx, state, limit)
}

// QueueStats exposes worker pool occupancy.
func (g *Gateway) QueueStats() executor.Stats {
	return g.exec.Stats()
}

// cachedResult returns a SubmitResult when the fingerprint has a live cache
// entry backed by an existing artifact, nil otherwise. Cache errors degrade
// to a miss.
func (g *Gateway) cachedResult(ctx context.Context, fingerprint string) *SubmitResult {
	key := cache.ResultKey(fingerprint)
	ref, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("cache lookup failed", "error", err, "fingerprint", fingerprint)
		return nil
	}
	if !ok {
		return nil
	}

	data, err := g.artifacts.Get(ctx, string(ref))
	if err != nil {
		// Entry outlived its artifact; drop it and regenerate.
		if err := g.cache.Delete(ctx, key); err != nil {
			slog.Warn("cache invalidation failed", "error", err, "fingerprint", fingerprint)
		}
		return nil
	}
	return &SubmitResult{Artifact: data, Cached: true}
}

// waitForResult polls the job with exponential backoff until it is terminal
// or the wait ceiling passes. Timing out returns the job in its current
// state so the caller can keep polling asynchronously.
func (g *Gateway) waitForResult(ctx context.Context, job *models.Job, wait time.Duration) (*SubmitResult, error) {
	if wait <= 0 || wait > g.opts.SyncWaitTimeout {
		wait = g.opts.SyncWaitTimeout
	}
	deadline := time.Now().Add(wait)
	backoff := 50 * time.Millisecond

	for {
		current, err := g.store.GetJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}

		if current.State == models.StateSucceeded {
			if current.ResultRef == nil {
				return nil, fmt.Errorf("succeeded job %s has no result ref", current.ID)
			}
			data, err := g.artifacts.Get(ctx, *current.ResultRef)
			if err != nil {
				return nil, fmt.Errorf("fetch artifact: %w", err)
			}
			return &SubmitResult{Job: current, Artifact: data}, nil
		}
		if current.State.Terminal() || !time.Now().Before(deadline) {
			return &SubmitResult{Job: current}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > time.Second {
			backoff = time.Second
		}
	}
}

func validate(kind models.JobKind, req models.GenerateRequest) error {
	if req.Text == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidRequest)
	}
	if req.Voice == "" {
		return fmt.Errorf("%w: voice is required", ErrInvalidRequest)
	}
	if req.Speed < 0.25 || req.Speed > 4.0 {
		return fmt.Errorf("%w: speed must be between 0.25 and 4.0", ErrInvalidRequest)
	}
	if kind == models.KindAvatar && req.ImageRef == "" {
		return fmt.Errorf("%w: image_ref is required for avatar jobs", ErrInvalidRequest)
	}
	return nil
}
