// Package executor runs generation jobs on a bounded pool of workers.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/avelinsk/voiceforge/internal/artifact"
	"github.com/avelinsk/voiceforge/internal/cache"
	"github.com/avelinsk/voiceforge/internal/generate"
	"github.com/avelinsk/voiceforge/internal/store"
	"github.com/avelinsk/voiceforge/pkg/models"
)

// ErrQueueFull is the backpressure signal: all workers are busy and the
// backlog is at capacity, so the caller should reject the request instead of
// queueing unboundedly.
var ErrQueueFull = errors.New("job queue full")

// ErrShuttingDown is returned by Enqueue after Shutdown has begun.
var ErrShuttingDown = errors.New("executor shutting down")

// Options bounds the pool. Workers should stay low for GPU-bound avatar
// generation; JobTimeout is the wall-clock ceiling for one external call.
type Options struct {
	Workers    int
	QueueDepth int
	JobTimeout time.Duration
	ResultTTL  time.Duration
}

// Stats is a point-in-time snapshot of the pool, exposed on /api/v1/queue.
type Stats struct {
	Workers    int `json:"workers"`
	Active     int `json:"active_workers"`
	Queued     int `json:"queue_size"`
	QueueDepth int `json:"queue_depth"`
}

// Executor owns the worker pool. Jobs enter through Enqueue as ids; workers
// claim them from the store (pending -> running), invoke the generation
// engine under a timeout, persist the artifact, and record the outcome.
// FIFO order follows enqueue order.
type Executor struct {
	store     store.Store
	gen       generate.Generator
	artifacts artifact.Store
	cache     cache.Cache
	opts      Options

	queue chan uuid.UUID

	mu     sync.Mutex
	closed bool

	wg     sync.WaitGroup
	active atomic.Int64
}

// New creates an Executor. Call Start to launch the workers.
func New(st store.Store, gen generate.Generator, artifacts artifact.Store, ca cache.Cache, opts Options) *Executor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueDepth < 1 {
		opts.QueueDepth = 1
	}
	return &Executor{
		store:     st,
		gen:       gen,
		artifacts: artifacts,
		cache:     ca,
		opts:      opts,
		queue:     make(chan uuid.UUID, opts.QueueDepth),
	}
}

// Start launches the worker goroutines. Workers run until Shutdown closes
// the queue; in-flight jobs use their own contexts so a cancelled start
// context does not abort them mid-generation.
func (e *Executor) Start() {
	for i := 0; i < e.opts.Workers; i++ {
		e.wg.Add(1)
		go func(worker int) {
			defer e.wg.Done()
			for id := range e.queue {
				e.active.Add(1)
				e.process(id, worker)
				e.active.Add(-1)
			}
		}(i)
	}
}

// Enqueue schedules a pending job for execution. Fails fast with
// ErrQueueFull when the backlog is at capacity.
func (e *Executor) Enqueue(id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrShuttingDown
	}
	select {
	case e.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// ResumePending re-enqueues every pending job in FIFO order, used at startup
// to pick up jobs that survived a restart. Jobs that do not fit in the queue
// stay pending and are retried by the cleanup sweep.
func (e *Executor) ResumePending(ctx context.Context) (int, error) {
	ids, err := e.store.PendingJobIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("resume pending: %w", err)
	}
	resumed := 0
	for _, id := range ids {
		if err := e.Enqueue(id); err != nil {
			break
		}
		resumed++
	}
	return resumed, nil
}

// Shutdown stops accepting jobs and waits for in-flight work to drain, up to
// the context deadline. Queued-but-unstarted jobs remain pending in the
// store and resume on next start.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor shutdown: %w", ctx.Err())
	}
}

// Stats returns a snapshot of pool occupancy.
func (e *Executor) Stats() Stats {
	return Stats{
		Workers:    e.opts.Workers,
		Active:     int(e.active.Load()),
		Queued:     len(e.queue),
		QueueDepth: e.opts.QueueDepth,
	}
}

// process runs one job end to end. It recovers from panics so a bad engine
// can never kill a worker, and always leaves the job in a well-defined state.
func (e *Executor) process(id uuid.UUID, worker int) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in job worker", "error", r, "job_id", id, "worker", worker)
			_, _ = e.store.FailJob(ctx, id, fmt.Sprintf("panic: %v", r), true)
		}
	}()

	job, err := e.store.StartJob(ctx, id)
	if err != nil {
		// Cancelled before pickup, duplicate enqueue, or pruned: skip.
		if !errors.Is(err, store.ErrInvalidTransition) && !errors.Is(err, store.ErrNotFound) {
			slog.Error("claim job failed", "error", err, "job_id", id)
		}
		return
	}

	slog.Info("job started", "job_id", job.ID, "kind", job.Kind, "attempt", job.RetryCount, "worker", worker)

	var req models.GenerateRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		e.fail(ctx, job, fmt.Sprintf("decode payload: %v", err), true)
		return
	}

	genCtx, cancel := context.WithTimeout(ctx, e.opts.JobTimeout)
	defer cancel()

	progress := func(pct int) {
		_ = e.store.UpdateProgress(ctx, job.ID, pct)
	}

	data, err := e.gen.Generate(genCtx, job.Kind, req, progress)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("generation exceeded %s wall-clock limit", e.opts.JobTimeout)
		}
		e.fail(ctx, job, msg, errors.Is(err, generate.ErrInvalidInput))
		return
	}

	ref, err := e.artifacts.Put(ctx, artifactKey(job), data)
	if err != nil {
		e.fail(ctx, job, fmt.Sprintf("store artifact: %v", err), false)
		return
	}

	if err := e.store.CompleteJob(ctx, job.ID, ref); err != nil {
		// Cancelled while running: the result is discarded, not recorded.
		if errors.Is(err, store.ErrInvalidTransition) {
			slog.Info("job cancelled mid-run, discarding artifact", "job_id", job.ID)
			_ = e.artifacts.Delete(ctx, ref)
			return
		}
		slog.Error("complete job failed", "error", err, "job_id", job.ID)
		return
	}

	if err := e.cache.Set(ctx, cache.ResultKey(job.Fingerprint), []byte(ref), e.opts.ResultTTL); err != nil {
		// The cache is an optimization; losing a write costs a recompute.
		slog.Warn("cache result failed", "error", err, "job_id", job.ID)
	}

	slog.Info("job succeeded", "job_id", job.ID, "kind", job.Kind, "result_ref", ref)
}

// fail records the failure and re-enqueues the job when a retry was granted.
func (e *Executor) fail(ctx context.Context, job *models.Job, msg string, permanent bool) {
	updated, err := e.store.FailJob(ctx, job.ID, msg, permanent)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Cancelled while running; the failure outcome is discarded.
			slog.Info("job cancelled mid-run", "job_id", job.ID)
			return
		}
		slog.Error("fail job failed", "error", err, "job_id", job.ID)
		return
	}

	if updated.State == models.StatePending {
		slog.Warn("job failed, retrying", "job_id", job.ID, "attempt", updated.RetryCount, "error", msg)
		if err := e.Enqueue(job.ID); err != nil {
			// Stays pending; the cleanup sweep re-enqueues it.
			slog.Warn("requeue after failure deferred", "job_id", job.ID, "error", err)
		}
		return
	}

	slog.Error("job failed permanently", "job_id", job.ID, "retries", updated.RetryCount, "error", msg)
}

func artifactKey(job *models.Job) string {
	ext := "wav"
	if job.Kind == models.KindAvatar {
		ext = "mp4"
	}
	return fmt.Sprintf("%s.%s", job.ID, ext)
}
