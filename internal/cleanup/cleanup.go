// Package cleanup reclaims resources on a fixed interval: expired cache
// entries, terminal jobs past retention, stale worker claims, idle rate
// buckets, and leftover temp files.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/avelinsk/voiceforge/internal/artifact"
	"github.com/avelinsk/voiceforge/internal/cache"
	"github.com/avelinsk/voiceforge/internal/executor"
	"github.com/avelinsk/voiceforge/internal/ratelimit"
	"github.com/avelinsk/voiceforge/internal/store"
)

// Options configures the sweep cadence and retention windows.
type Options struct {
	Interval     time.Duration
	JobRetention time.Duration
	StaleAfter   time.Duration
	BucketMaxAge time.Duration
	TempMaxAge   time.Duration
}

// Scheduler runs the periodic sweep. Each step is independent and
// fail-soft: an error in one is logged and never blocks the others.
type Scheduler struct {
	store     store.Store
	cache     cache.Cache
	artifacts artifact.Store
	limiter   *ratelimit.Limiter
	exec      *executor.Executor
	opts      Options
	now       func() time.Time
}

// New creates a Scheduler. Call Run to start sweeping.
func New(st store.Store, ca cache.Cache, artifacts artifact.Store, limiter *ratelimit.Limiter, exec *executor.Executor, opts Options) *Scheduler {
	return &Scheduler{
		store:     st,
		cache:     ca,
		artifacts: artifacts,
		limiter:   limiter,
		exec:      exec,
		opts:      opts,
		now:       time.Now,
	}
}

// SetNowFunc overrides the clock. For tests.
func (s *Scheduler) SetNowFunc(now func() time.Time) { s.now = now }

// Run sweeps every Interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single sweep.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.evictCache(ctx)
	s.pruneJobs(ctx)
	s.requeueStale(ctx)
	s.pruneBuckets()
	s.sweepTempFiles()
}

func (s *Scheduler) evictCache(ctx context.Context) {
	evicted, err := s.cache.EvictExpired(ctx)
	if err != nil {
		slog.Error("cleanup: evict cache", "error", err)
		return
	}
	if evicted > 0 {
		slog.Info("cleanup: evicted expired cache entries", "count", evicted)
	}
}

// pruneJobs drops terminal jobs past retention along with their artifacts.
// The result cache keeps serving the fingerprint until its own TTL passes.
func (s *Scheduler) pruneJobs(ctx context.Context) {
	cutoff := s.now().Add(-s.opts.JobRetention)
	refs, err := s.store.DeleteTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("cleanup: prune jobs", "error", err)
		return
	}
	for _, ref := range refs {
		if err := s.artifacts.Delete(ctx, ref); err != nil {
			slog.Warn("cleanup: delete artifact", "error", err, "ref", ref)
		}
	}
	if len(refs) > 0 {
		slog.Info("cleanup: pruned old jobs", "artifacts", len(refs))
	}
}

// requeueStale recovers running jobs whose worker stopped heartbeating,
// then feeds the whole pending backlog back to the executor so jobs whose
// enqueue was deferred get another chance.
func (s *Scheduler) requeueStale(ctx context.Context) {
	cutoff := s.now().Add(-s.opts.StaleAfter)
	requeued, err := s.store.RequeueStaleRunning(ctx, cutoff)
	if err != nil {
		slog.Error("cleanup: requeue stale", "error", err)
		return
	}
	if len(requeued) > 0 {
		slog.Warn("cleanup: recovered stale running jobs", "count", len(requeued))
	}

	if s.exec == nil {
		return
	}
	if _, err := s.exec.ResumePending(ctx); err != nil {
		slog.Error("cleanup: resume pending", "error", err)
	}
}

func (s *Scheduler) pruneBuckets() {
	if s.limiter == nil {
		return
	}
	if pruned := s.limiter.PruneIdle(s.opts.BucketMaxAge); pruned > 0 {
		slog.Info("cleanup: pruned idle rate buckets", "count", pruned)
	}
}

func (s *Scheduler) sweepTempFiles() {
	cleaned, err := s.artifacts.SweepTempFiles(s.opts.TempMaxAge)
	if err != nil {
		slog.Error("cleanup: sweep temp files", "error", err)
		return
	}
	if cleaned > 0 {
		slog.Info("cleanup: removed temp files", "count", cleaned)
	}
}
