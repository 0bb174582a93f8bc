package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avelinsk/voiceforge/internal/api/response"
	"github.com/avelinsk/voiceforge/internal/gateway"
	"github.com/avelinsk/voiceforge/internal/store"
	"github.com/avelinsk/voiceforge/pkg/models"
)

type jobView struct {
	ID           uuid.UUID       `json:"id"`
	Kind         models.JobKind  `json:"kind"`
	State        models.JobState `json:"state"`
	Progress     int             `json:"progress"`
	RetryCount   int             `json:"retry_count"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func jobResponse(j *models.Job) jobView {
	return jobView{
		ID:           j.ID,
		Kind:         j.Kind,
		State:        j.State,
		Progress:     j.Progress,
		RetryCount:   j.RetryCount,
		ErrorMessage: j.ErrorMessage,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
		CreatedAt:    j.CreatedAt,
	}
}

func jobIDParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	return id, err == nil
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewJobStatusHandler(svc GenerationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(r)
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "jobID must be a UUID", nil)
			return
		}

		job, err := svc.Status(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Unknown job id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, jobResponse(job))
	}
}

// NewJobResultHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/result.
// Answers 425 while the job is still in flight and 409 once it terminated
// without a result.
func NewJobResultHandler(svc GenerationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(r)
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "jobID must be a UUID", nil)
			return
		}

		data, job, err := svc.Result(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Unknown job id", nil)
			case errors.Is(err, gateway.ErrJobPending):
				response.Error(w, http.StatusTooEarly, "JOB_PENDING",
					"Job has not finished yet", map[string]any{"state": job.State, "progress": job.Progress})
			case errors.Is(err, gateway.ErrJobFailed):
				details := map[string]any{"state": job.State}
				if job.ErrorMessage != nil {
					details["error_message"] = *job.ErrorMessage
				}
				response.Error(w, http.StatusConflict, "JOB_FAILED", "Job failed", details)
			case errors.Is(err, gateway.ErrJobCancelled):
				response.Error(w, http.StatusConflict, "JOB_CANCELLED", "Job was cancelled", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}
		response.Binary(w, contentTypeFor(job.Kind), data)
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for DELETE /api/v1/jobs/{jobID}.
// Cancellation is best-effort: a job already running keeps the worker busy
// but its outcome is discarded.
func NewCancelJobHandler(svc GenerationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(r)
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "jobID must be a UUID", nil)
			return
		}

		job, err := svc.Cancel(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Unknown job id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, jobResponse(job))
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc GenerationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var state models.JobState
		if s := r.URL.Query().Get("state"); s != "" {
			state = models.JobState(s)
			switch state {
			case models.StatePending, models.StateRunning, models.StateSucceeded,
				models.StateFailed, models.StateCancelled:
			default:
				response.Error(w, http.StatusBadRequest, "INVALID_STATE",
					"state must be one of pending, running, succeeded, failed, cancelled", nil)
				return
			}
		}

		limit := 100
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", nil)
				return
			}
			limit = n
		}

		jobs, err := svc.List(r.Context(), state, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		views := make([]jobView, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, jobResponse(j))
		}
		response.JSON(w, views)
	}
}

// NewQueueStatsHandler returns an http.HandlerFunc for GET /api/v1/queue.
func NewQueueStatsHandler(svc GenerationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, svc.QueueStats())
	}
}
