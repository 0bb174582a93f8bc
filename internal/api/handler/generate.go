package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	mw "github.com/avelinsk/voiceforge/internal/api/middleware"
	"github.com/avelinsk/voiceforge/internal/api/response"
	"github.com/avelinsk/voiceforge/internal/gateway"
	"github.com/avelinsk/voiceforge/pkg/models"
)

// NewGenerateHandler returns an http.HandlerFunc for POST /api/v1/generate/{kind}.
// mode=async (the default) answers 202 with a job to poll; mode=sync waits up
// to the configured ceiling and answers with artifact bytes when the job
// finishes in time.
func NewGenerateHandler(svc GenerationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := models.ParseJobKind(chi.URLParam(r, "kind"))
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_KIND",
				"kind must be tts or avatar", nil)
			return
		}

		mode := gateway.ModeAsync
		switch r.URL.Query().Get("mode") {
		case "", "async":
		case "sync":
			mode = gateway.ModeSync
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_MODE",
				"mode must be sync or async", nil)
			return
		}

		var req models.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		clientID, ok := mw.GetClientIP(r)
		if !ok {
			clientID = r.RemoteAddr
		}

		result, err := svc.Submit(r.Context(), gateway.SubmitParams{
			Kind:     kind,
			Request:  req,
			ClientID: clientID,
			Mode:     mode,
		})
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		if result.Artifact != nil {
			if result.Cached {
				w.Header().Set("X-Cache", "HIT")
			}
			response.Binary(w, contentTypeFor(kind), result.Artifact)
			return
		}

		response.Accepted(w, jobResponse(result.Job))
	}
}

func writeSubmitError(w http.ResponseWriter, err error) {
	var rateErr *gateway.RateLimitedError
	switch {
	case errors.As(err, &rateErr):
		retrySecs := int(rateErr.RetryAfter.Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(retrySecs))
		response.Error(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
			fmt.Sprintf("Rate limit exceeded. Please try again in %d seconds.", retrySecs), nil)
	case errors.Is(err, gateway.ErrOverloaded):
		w.Header().Set("Retry-After", "30")
		response.Error(w, http.StatusServiceUnavailable, "OVERLOADED",
			"All generation workers are busy, retry later", nil)
	case errors.Is(err, gateway.ErrInvalidRequest):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
