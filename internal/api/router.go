package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/avelinsk/voiceforge/internal/api/middleware"
	"github.com/avelinsk/voiceforge/internal/api/response"
)

// Dependencies holds all handler dependencies for the router.
type Dependencies struct {
	HealthHandler    http.HandlerFunc
	GenerateHandler  http.HandlerFunc
	JobStatusHandler http.HandlerFunc
	JobResultHandler http.HandlerFunc
	CancelJobHandler http.HandlerFunc
	ListJobsHandler  http.HandlerFunc
	QueueHandler     http.HandlerFunc
}

// NewRouter builds the Chi router with the middleware stack and all routes.
// Rate limiting is not middleware here: the gateway applies it at submission
// so status polling stays cheap and unthrottled.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.ClientIP)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Post("/api/v1/generate/{kind}", orNotImplemented(deps.GenerateHandler))

	r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
	r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.JobStatusHandler))
	r.Get("/api/v1/jobs/{jobID}/result", orNotImplemented(deps.JobResultHandler))
	r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.CancelJobHandler))

	r.Get("/api/v1/queue", orNotImplemented(deps.QueueHandler))

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
