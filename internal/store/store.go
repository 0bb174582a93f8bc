package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/avelinsk/voiceforge/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// ErrInvalidTransition indicates a job state change that the lifecycle state
// machine forbids. Under correct locking this is a race bug, so callers log
// it loudly rather than swallowing it.
var ErrInvalidTransition = errors.New("invalid job state transition")

// Store is the job data access interface. All job lifecycle mutations go
// through here; each method serializes against concurrent mutations of the
// same job.
//
// Lifecycle: pending -> running -> succeeded | failed | cancelled, with
// failed looping back to pending while retries remain and cancelled reachable
// from pending or running. Terminal states are never left.
type Store interface {
	Ping(ctx context.Context) error

	// CreateJob inserts job unless an active (pending or running) job with
	// the same fingerprint already exists, in which case the existing job is
	// returned with created=false. The check-then-insert is atomic: under
	// concurrent submission at most one active job per fingerprint exists.
	CreateJob(ctx context.Context, job *models.Job) (j *models.Job, created bool, err error)

	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// ListJobs returns the most recent jobs, newest first, optionally
	// filtered by state ("" means all states).
	ListJobs(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error)

	// StartJob transitions pending -> running and stamps StartedAt.
	StartJob(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// UpdateProgress records progress for a running job. It is a no-op for
	// jobs in any other state and never lowers the recorded percentage.
	// It also refreshes UpdatedAt, which the stale-worker reaper uses as a
	// liveness heartbeat.
	UpdateProgress(ctx context.Context, id uuid.UUID, pct int) error

	// CompleteJob transitions running -> succeeded and records the artifact
	// reference. Any other current state yields ErrInvalidTransition.
	CompleteJob(ctx context.Context, id uuid.UUID, resultRef string) error

	// FailJob records a failure for a running job. Transient failures with
	// retries remaining transition back to pending with RetryCount
	// incremented; permanent failures or exhausted retries transition to
	// failed with the message preserved. The updated job is returned so the
	// caller knows whether to requeue.
	FailJob(ctx context.Context, id uuid.UUID, msg string, permanent bool) (*models.Job, error)

	// CancelJob transitions pending or running -> cancelled. Cancelling an
	// already-terminal job is a no-op that returns the job unchanged.
	CancelJob(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// PendingJobIDs returns ids of all pending jobs in FIFO (CreatedAt)
	// order, for re-enqueueing after a restart or a missed enqueue.
	PendingJobIDs(ctx context.Context) ([]uuid.UUID, error)

	// DeleteTerminalJobsBefore prunes terminal jobs finished before cutoff
	// and returns the artifact references they held, so the caller can
	// delete the underlying blobs.
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) ([]string, error)

	// RequeueStaleRunning recovers running jobs whose heartbeat (UpdatedAt)
	// predates cutoff, e.g. because the owning worker died. Each recovery
	// counts as a retry: jobs with retries remaining go back to pending,
	// exhausted ones become failed. The jobs requeued to pending are
	// returned for re-enqueueing.
	RequeueStaleRunning(ctx context.Context, cutoff time.Time) ([]*models.Job, error)
}
