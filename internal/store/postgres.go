package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelinsk/voiceforge/pkg/models"
)

const jobColumns = `id, kind, fingerprint, state, progress, retry_count, max_retries,
	payload, result_ref, error_message, started_at, finished_at, created_at, updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) (*models.Job, bool, error) {
	// A partial unique index on fingerprint over active states makes the
	// check-then-insert atomic; on conflict we hand back the active job.
	for attempt := 0; attempt < 2; attempt++ {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO jobs (id, kind, fingerprint, state, progress, retry_count, max_retries, payload, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			job.ID, job.Kind, job.Fingerprint, job.State, job.Progress,
			job.RetryCount, job.MaxRetries, job.Payload, job.CreatedAt, job.UpdatedAt)
		if err == nil {
			return job, true, nil
		}
		if !isDuplicateKeyError(err) {
			return nil, false, fmt.Errorf("create job: %w", err)
		}

		existing, err := s.activeJobByFingerprint(ctx, job.Fingerprint)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
		// The conflicting job reached a terminal state between our insert
		// and lookup; insert again.
	}
	return nil, false, fmt.Errorf("create job: lost fingerprint race for %s", job.Fingerprint)
}

func (s *PostgresStore) activeJobByFingerprint(ctx context.Context, fingerprint string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE fingerprint = $1 AND state IN ('pending', 'running') LIMIT 1`, fingerprint)
	return scanJob(row)
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows pgx.Rows
		err  error
	)
	if state == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE state = $1 ORDER BY created_at DESC LIMIT $2`, state, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) StartJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`UPDATE jobs SET state = 'running', started_at = $2, updated_at = $2
		 WHERE id = $1 AND state = 'pending'
		 RETURNING `+jobColumns, id, now)
	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("start job: %w", err)
	}
	return nil, s.transitionFailure(ctx, id)
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, id uuid.UUID, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET progress = $2, updated_at = $3
		 WHERE id = $1 AND state = 'running' AND progress <= $2`,
		id, pct, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, resultRef string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = 'succeeded', result_ref = $2, progress = 100, finished_at = $3, updated_at = $3
		 WHERE id = $1 AND state = 'running'`, id, resultRef, now)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, msg string, permanent bool) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("fail job: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fail job: %w", err)
	}
	if j.State != models.StateRunning {
		return nil, ErrInvalidTransition
	}

	now := time.Now().UTC()
	if permanent || j.RetryCount >= j.MaxRetries {
		row = tx.QueryRow(ctx,
			`UPDATE jobs SET state = 'failed', error_message = $2, finished_at = $3, updated_at = $3
			 WHERE id = $1 RETURNING `+jobColumns, id, msg, now)
	} else {
		row = tx.QueryRow(ctx,
			`UPDATE jobs SET state = 'pending', retry_count = retry_count + 1, error_message = $2,
			        progress = 0, started_at = NULL, updated_at = $3
			 WHERE id = $1 RETURNING `+jobColumns, id, msg, now)
	}
	j, err = scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("fail job: commit: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) CancelJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`UPDATE jobs SET state = 'cancelled', finished_at = $2, updated_at = $2
		 WHERE id = $1 AND state IN ('pending', 'running')
		 RETURNING `+jobColumns, id, now)
	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("cancel job: %w", err)
	}

	// Already terminal, or unknown: cancelling a terminal job is a no-op.
	j, err = s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *PostgresStore) PendingJobIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM jobs WHERE state = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("pending job ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM jobs
		 WHERE state IN ('succeeded', 'failed', 'cancelled') AND COALESCE(finished_at, updated_at) < $1
		 RETURNING result_ref`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete terminal jobs: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref *string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan result ref: %w", err)
		}
		if ref != nil {
			refs = append(refs, *ref)
		}
	}
	return refs, rows.Err()
}

func (s *PostgresStore) RequeueStaleRunning(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("requeue stale: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE state = 'running' AND updated_at < $1
		 ORDER BY created_at FOR UPDATE`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("requeue stale: select: %w", err)
	}
	var stale []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("requeue stale: scan: %w", err)
		}
		stale = append(stale, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("requeue stale: %w", err)
	}

	now := time.Now().UTC()
	var requeued []*models.Job
	for _, j := range stale {
		if j.RetryCount >= j.MaxRetries {
			_, err = tx.Exec(ctx,
				`UPDATE jobs SET state = 'failed', error_message = $2, finished_at = $3, updated_at = $3
				 WHERE id = $1`, j.ID, "worker heartbeat lost", now)
		} else {
			row := tx.QueryRow(ctx,
				`UPDATE jobs SET state = 'pending', retry_count = retry_count + 1, error_message = $2,
				        progress = 0, started_at = NULL, updated_at = $3
				 WHERE id = $1 RETURNING `+jobColumns, j.ID, "worker heartbeat lost", now)
			var updated *models.Job
			updated, err = scanJob(row)
			if err == nil {
				requeued = append(requeued, updated)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("requeue stale: update: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("requeue stale: commit: %w", err)
	}
	return requeued, nil
}

// transitionFailure distinguishes "job gone" from "job in the wrong state"
// after a guarded UPDATE matched no rows.
func (s *PostgresStore) transitionFailure(ctx context.Context, id uuid.UUID) error {
	var state string
	err := s.pool.QueryRow(ctx, `SELECT state FROM jobs WHERE id = $1`, id).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job state: %w", err)
	}
	return ErrInvalidTransition
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Kind, &j.Fingerprint, &j.State, &j.Progress,
		&j.RetryCount, &j.MaxRetries, &j.Payload, &j.ResultRef, &j.ErrorMessage,
		&j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
