package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avelinsk/voiceforge/pkg/models"
)

// MemoryStore is an in-process Store backed by a mutex-guarded map. It is
// used by unit tests as a fake for the postgres implementation and is
// suitable for single-node runs that can afford to lose job history.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*models.Job),
		now:  time.Now,
	}
}

// SetNowFunc overrides the clock. For tests.
func (s *MemoryStore) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) (*models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.Fingerprint == job.Fingerprint && (j.State == models.StatePending || j.State == models.StateRunning) {
			return copyJob(j), false, nil
		}
	}

	s.jobs[job.ID] = copyJob(job)
	return copyJob(job), true, nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, state models.JobState, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	var jobs []*models.Job
	for _, j := range s.jobs {
		if state == "" || j.State == state {
			jobs = append(jobs, copyJob(j))
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) StartJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.State != models.StatePending {
		return nil, ErrInvalidTransition
	}

	now := s.now().UTC()
	j.State = models.StateRunning
	j.StartedAt = &now
	j.UpdatedAt = now
	return copyJob(j), nil
}

func (s *MemoryStore) UpdateProgress(_ context.Context, id uuid.UUID, pct int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.State != models.StateRunning {
		return nil
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct >= j.Progress {
		j.Progress = pct
		j.UpdatedAt = s.now().UTC()
	}
	return nil
}

func (s *MemoryStore) CompleteJob(_ context.Context, id uuid.UUID, resultRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.State != models.StateRunning {
		return ErrInvalidTransition
	}

	now := s.now().UTC()
	j.State = models.StateSucceeded
	j.ResultRef = &resultRef
	j.Progress = 100
	j.FinishedAt = &now
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) FailJob(_ context.Context, id uuid.UUID, msg string, permanent bool) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.State != models.StateRunning {
		return nil, ErrInvalidTransition
	}

	now := s.now().UTC()
	j.ErrorMessage = &msg
	j.UpdatedAt = now
	if permanent || j.RetryCount >= j.MaxRetries {
		j.State = models.StateFailed
		j.FinishedAt = &now
	} else {
		j.State = models.StatePending
		j.RetryCount++
		j.Progress = 0
		j.StartedAt = nil
	}
	return copyJob(j), nil
}

func (s *MemoryStore) CancelJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.State.Terminal() {
		return copyJob(j), nil
	}

	now := s.now().UTC()
	j.State = models.StateCancelled
	j.FinishedAt = &now
	j.UpdatedAt = now
	return copyJob(j), nil
}

func (s *MemoryStore) PendingJobIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*models.Job
	for _, j := range s.jobs {
		if j.State == models.StatePending {
			pending = append(pending, j)
		}
	}
	sort.Slice(pending, func(i, k int) bool { return pending[i].CreatedAt.Before(pending[k].CreatedAt) })

	ids := make([]uuid.UUID, 0, len(pending))
	for _, j := range pending {
		ids = append(ids, j.ID)
	}
	return ids, nil
}

func (s *MemoryStore) DeleteTerminalJobsBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var refs []string
	for id, j := range s.jobs {
		if !j.State.Terminal() {
			continue
		}
		finished := j.UpdatedAt
		if j.FinishedAt != nil {
			finished = *j.FinishedAt
		}
		if finished.Before(cutoff) {
			if j.ResultRef != nil {
				refs = append(refs, *j.ResultRef)
			}
			delete(s.jobs, id)
		}
	}
	return refs, nil
}

func (s *MemoryStore) RequeueStaleRunning(_ context.Context, cutoff time.Time) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	msg := "worker heartbeat lost"

	var requeued []*models.Job
	for _, j := range s.jobs {
		if j.State != models.StateRunning || !j.UpdatedAt.Before(cutoff) {
			continue
		}
		j.ErrorMessage = &msg
		j.UpdatedAt = now
		if j.RetryCount >= j.MaxRetries {
			j.State = models.StateFailed
			j.FinishedAt = &now
		} else {
			j.State = models.StatePending
			j.RetryCount++
			j.Progress = 0
			j.StartedAt = nil
			requeued = append(requeued, copyJob(j))
		}
	}
	sort.Slice(requeued, func(i, k int) bool { return requeued[i].CreatedAt.Before(requeued[k].CreatedAt) })
	return requeued, nil
}

func copyJob(j *models.Job) *models.Job {
	out := *j
	if j.Payload != nil {
		out.Payload = append([]byte(nil), j.Payload...)
	}
	if j.ResultRef != nil {
		ref := *j.ResultRef
		out.ResultRef = &ref
	}
	if j.ErrorMessage != nil {
		msg := *j.ErrorMessage
		out.ErrorMessage = &msg
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
