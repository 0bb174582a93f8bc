package mock

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/avelinsk/voiceforge/internal/generate"
	"github.com/avelinsk/voiceforge/pkg/models"
)

// Generator satisfies generate.Generator for testing.
type Generator struct {
	Name_        string
	GenerateFunc func(ctx context.Context, kind models.JobKind, req models.GenerateRequest, progress generate.ProgressFunc) ([]byte, error)

	calls atomic.Int64
}

func (g *Generator) Name() string { return g.Name_ }

// Calls returns how many times Generate was invoked.
func (g *Generator) Calls() int { return int(g.calls.Load()) }

func (g *Generator) Generate(ctx context.Context, kind models.JobKind, req models.GenerateRequest, progress generate.ProgressFunc) ([]byte, error) {
	g.calls.Add(1)
	if g.GenerateFunc != nil {
		return g.GenerateFunc(ctx, kind, req, progress)
	}
	return nil, nil
}

// NewGenerator returns a Generator producing a deterministic artifact.
func NewGenerator() *Generator {
	return &Generator{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, kind models.JobKind, req models.GenerateRequest, progress generate.ProgressFunc) ([]byte, error) {
			if progress != nil {
				progress(50)
			}
			return fmt.Appendf(nil, "%s:%s:%s", kind, req.Voice, req.Text), nil
		},
	}
}

// NewFailingGenerator returns a Generator that always returns the given error.
func NewFailingGenerator(err error) *Generator {
	return &Generator{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ models.JobKind, _ models.GenerateRequest, _ generate.ProgressFunc) ([]byte, error) {
			return nil, err
		},
	}
}

// NewBlockingGenerator returns a Generator that blocks until its context is
// cancelled, for exercising job timeouts.
func NewBlockingGenerator() *Generator {
	return &Generator{
		Name_: "mock-blocking",
		GenerateFunc: func(ctx context.Context, _ models.JobKind, _ models.GenerateRequest, _ generate.ProgressFunc) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

// Compile-time check that Generator implements generate.Generator.
var _ generate.Generator = (*Generator)(nil)
