package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinsk/voiceforge/internal/artifact"
	"github.com/avelinsk/voiceforge/internal/cache"
	"github.com/avelinsk/voiceforge/internal/executor"
	"github.com/avelinsk/voiceforge/internal/generate"
	"github.com/avelinsk/voiceforge/internal/generate/mock"
	"github.com/avelinsk/voiceforge/internal/store"
	"github.com/avelinsk/voiceforge/pkg/models"
)

type fixture struct {
	store     *store.MemoryStore
	cache     *cache.MemoryCache
	artifacts *artifact.FileStore
	exec      *executor.Executor
}

func newFixture(t *testing.T, gen generate.Generator, opts executor.Options) *fixture {
	t.Helper()
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	if opts.QueueDepth == 0 {
		opts.QueueDepth = 16
	}
	if opts.JobTimeout == 0 {
		opts.JobTimeout = 5 * time.Second
	}
	if opts.ResultTTL == 0 {
		opts.ResultTTL = time.Hour
	}

	st := store.NewMemoryStore()
	ca := cache.NewMemoryCache()
	fs, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)

	exec := executor.New(st, gen, fs, ca, opts)
	exec.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, exec.Shutdown(ctx))
	})

	return &fixture{store: st, cache: ca, artifacts: fs, exec: exec}
}

func (f *fixture) submit(t *testing.T, job *models.Job) {
	t.Helper()
	_, _, err := f.store.CreateJob(context.Background(), job)
	require.NoError(t, err)
	require.NoError(t, f.exec.Enqueue(job.ID))
}

// waitTerminal polls until the job reaches a terminal state.
func (f *fixture) waitTerminal(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := f.store.GetJob(context.Background(), id)
		require.NoError(t, err)
		if job.State.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", id)
	return nil
}

func newQueuedJob(text string) *models.Job {
	req := models.GenerateRequest{Text: text, Voice: "en-01", Speed: 1.0}
	payload, _ := json.Marshal(req)
	now := time.Now().UTC()
	return &models.Job{
		ID:          uuid.New(),
		Kind:        models.KindTTS,
		Fingerprint: req.Fingerprint(models.KindTTS),
		State:       models.StatePending,
		MaxRetries:  2,
		Payload:     payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestExecutor_SuccessStoresArtifactAndCachesRef(t *testing.T) {
	f := newFixture(t, mock.NewGenerator(), executor.Options{})

	job := newQueuedJob("hello")
	f.submit(t, job)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, models.StateSucceeded, done.State)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.ResultRef)

	data, err := f.artifacts.Get(context.Background(), *done.ResultRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("tts:en-01:hello"), data)

	ref, found, err := f.cache.Get(context.Background(), cache.ResultKey(job.Fingerprint))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, *done.ResultRef, string(ref))
}

func TestExecutor_TransientFailureRetriesUntilExhausted(t *testing.T) {
	gen := mock.NewFailingGenerator(generate.ErrEngineUnavailable)
	f := newFixture(t, gen, executor.Options{})

	job := newQueuedJob("flaky")
	job.MaxRetries = 2
	f.submit(t, job)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, models.StateFailed, done.State)
	assert.Equal(t, 2, done.RetryCount)
	assert.Equal(t, 3, gen.Calls(), "initial attempt plus two retries")
}

func TestExecutor_PermanentFailureDoesNotRetry(t *testing.T) {
	gen := mock.NewFailingGenerator(generate.ErrInvalidInput)
	f := newFixture(t, gen, executor.Options{})

	job := newQueuedJob("bad input")
	job.MaxRetries = 5
	f.submit(t, job)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, models.StateFailed, done.State)
	assert.Zero(t, done.RetryCount)
	assert.Equal(t, 1, gen.Calls())
}

func TestExecutor_TimeoutIsTransient(t *testing.T) {
	f := newFixture(t, mock.NewBlockingGenerator(), executor.Options{
		JobTimeout: 50 * time.Millisecond,
	})

	job := newQueuedJob("slow")
	job.MaxRetries = 1
	f.submit(t, job)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, models.StateFailed, done.State)
	assert.Equal(t, 1, done.RetryCount, "timeout retries like any transient failure")
	require.NotNil(t, done.ErrorMessage)
	assert.Contains(t, *done.ErrorMessage, "wall-clock limit")
}

func TestExecutor_PanicFailsJobPermanently(t *testing.T) {
	gen := &mock.Generator{
		Name_: "mock-panic",
		GenerateFunc: func(context.Context, models.JobKind, models.GenerateRequest, generate.ProgressFunc) ([]byte, error) {
			panic("engine exploded")
		},
	}
	f := newFixture(t, gen, executor.Options{})

	job := newQueuedJob("boom")
	f.submit(t, job)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, models.StateFailed, done.State)
	require.NotNil(t, done.ErrorMessage)
	assert.Contains(t, *done.ErrorMessage, "panic")
}

func TestExecutor_MalformedPayloadFailsPermanently(t *testing.T) {
	gen := mock.NewGenerator()
	f := newFixture(t, gen, executor.Options{})

	job := newQueuedJob("ok")
	job.Payload = []byte("{not json")
	f.submit(t, job)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, models.StateFailed, done.State)
	assert.Zero(t, gen.Calls(), "engine must never see a malformed payload")
}

func TestExecutor_CancelledBeforePickupNeverRuns(t *testing.T) {
	gen := mock.NewGenerator()

	// One worker pinned on a blocker so the second job sits in the queue.
	release := make(chan struct{})
	blocker := &mock.Generator{
		Name_: "mock-gate",
		GenerateFunc: func(ctx context.Context, kind models.JobKind, req models.GenerateRequest, progress generate.ProgressFunc) ([]byte, error) {
			if req.Text == "blocker" {
				<-release
				return []byte("x"), nil
			}
			return gen.Generate(ctx, kind, req, progress)
		},
	}
	f := newFixture(t, blocker, executor.Options{Workers: 1})

	first := newQueuedJob("blocker")
	f.submit(t, first)

	victim := newQueuedJob("doomed")
	f.submit(t, victim)

	// Cancel the queued job before any worker touches it.
	_, err := f.store.CancelJob(context.Background(), victim.ID)
	require.NoError(t, err)
	close(release)

	done := f.waitTerminal(t, victim.ID)
	assert.Equal(t, models.StateCancelled, done.State)
	assert.Nil(t, done.ResultRef)
	f.waitTerminal(t, first.ID)
	assert.Zero(t, gen.Calls(), "a cancelled job must never reach the engine")
}

func TestExecutor_CancelMidRunDiscardsArtifact(t *testing.T) {
	proceed := make(chan struct{})
	gen := &mock.Generator{
		Name_: "mock-slow",
		GenerateFunc: func(ctx context.Context, _ models.JobKind, _ models.GenerateRequest, _ generate.ProgressFunc) ([]byte, error) {
			<-proceed
			return []byte("late result"), nil
		},
	}
	f := newFixture(t, gen, executor.Options{Workers: 1})

	job := newQueuedJob("cancelled mid-run")
	f.submit(t, job)

	// Wait until the worker has claimed the job, then cancel it.
	require.Eventually(t, func() bool {
		j, err := f.store.GetJob(context.Background(), job.ID)
		return err == nil && j.State == models.StateRunning
	}, 5*time.Second, 10*time.Millisecond)

	_, err := f.store.CancelJob(context.Background(), job.ID)
	require.NoError(t, err)
	close(proceed)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, models.StateCancelled, done.State)

	// Wait for the worker to finish discarding, then verify the late
	// artifact was neither stored nor cached.
	require.Eventually(t, func() bool {
		return f.exec.Stats().Active == 0
	}, 5*time.Second, 10*time.Millisecond)

	_, err = f.artifacts.Get(context.Background(), job.ID.String()+".wav")
	assert.True(t, errors.Is(err, artifact.ErrNotFound))
	_, found, err := f.cache.Get(context.Background(), cache.ResultKey(job.Fingerprint))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExecutor_QueueFull(t *testing.T) {
	release := make(chan struct{})
	gen := &mock.Generator{
		Name_: "mock-gate",
		GenerateFunc: func(context.Context, models.JobKind, models.GenerateRequest, generate.ProgressFunc) ([]byte, error) {
			<-release
			return []byte("x"), nil
		},
	}
	f := newFixture(t, gen, executor.Options{Workers: 1, QueueDepth: 1})
	defer close(release)

	first := newQueuedJob("occupies the worker")
	f.submit(t, first)

	// Wait for the worker to pull the first job off the queue.
	require.Eventually(t, func() bool {
		return f.exec.Stats().Active == 1
	}, 5*time.Second, 10*time.Millisecond)

	second := newQueuedJob("fills the queue")
	f.submit(t, second)

	third := newQueuedJob("rejected")
	_, _, err := f.store.CreateJob(context.Background(), third)
	require.NoError(t, err)
	assert.ErrorIs(t, f.exec.Enqueue(third.ID), executor.ErrQueueFull)
}

func TestExecutor_EnqueueAfterShutdown(t *testing.T) {
	st := store.NewMemoryStore()
	ca := cache.NewMemoryCache()
	fs, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)

	exec := executor.New(st, mock.NewGenerator(), fs, ca, executor.Options{Workers: 1, QueueDepth: 4})
	exec.Start()
	require.NoError(t, exec.Shutdown(context.Background()))

	assert.ErrorIs(t, exec.Enqueue(uuid.New()), executor.ErrShuttingDown)
}

func TestExecutor_ResumePending(t *testing.T) {
	gen := mock.NewGenerator()
	st := store.NewMemoryStore()
	ca := cache.NewMemoryCache()
	fs, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)

	// Jobs exist in the store before the pool starts, as after a restart.
	jobs := []*models.Job{newQueuedJob("one"), newQueuedJob("two")}
	for _, j := range jobs {
		_, _, err := st.CreateJob(context.Background(), j)
		require.NoError(t, err)
	}

	exec := executor.New(st, gen, fs, ca, executor.Options{Workers: 2, QueueDepth: 16, JobTimeout: 5 * time.Second, ResultTTL: time.Hour})
	exec.Start()
	t.Cleanup(func() { require.NoError(t, exec.Shutdown(context.Background())) })

	resumed, err := exec.ResumePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, resumed)

	f := &fixture{store: st, cache: ca, artifacts: fs, exec: exec}
	for _, j := range jobs {
		done := f.waitTerminal(t, j.ID)
		assert.Equal(t, models.StateSucceeded, done.State)
	}
}

func TestExecutor_Stats(t *testing.T) {
	f := newFixture(t, mock.NewGenerator(), executor.Options{Workers: 3, QueueDepth: 8})

	stats := f.exec.Stats()
	assert.Equal(t, 3, stats.Workers)
	assert.Equal(t, 8, stats.QueueDepth)
	assert.Zero(t, stats.Active)
	assert.Zero(t, stats.Queued)
}
