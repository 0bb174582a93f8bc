package handler

import (
	"context"

	"github.com/google/uuid"

	"github.com/avelinsk/voiceforge/internal/executor"
	"github.com/avelinsk/voiceforge/internal/gateway"
	"github.com/avelinsk/voiceforge/pkg/models"
)

// GenerationService defines the gateway surface the handlers depend on.
type GenerationService interface {
	Submit(ctx context.Context, params gateway.SubmitParams) (*gateway.SubmitResult, error)
	Status(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Result(ctx context.Context, id uuid.UUID) ([]byte, *models.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error)
	QueueStats() executor.Stats
}

func contentTypeFor(kind models.JobKind) string {
	if kind == models.KindAvatar {
		return "video/mp4"
	}
	return "audio/wav"
}
