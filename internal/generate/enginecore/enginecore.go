// Package enginecore holds the generation engine contract shared by package
// generate and the engine implementations. It exists so engine subpackages
// can implement the interface without importing package generate, whose
// factory imports them. Package generate re-exports everything here via
// aliases; all other code should keep importing generate.
package enginecore

import (
	"context"
	"errors"

	"github.com/avelinsk/voiceforge/pkg/models"
)

// ProgressFunc reports coarse generation progress in percent. Engines call
// it best-effort; implementations must tolerate it being invoked from the
// engine's goroutine at any point before Generate returns.
type ProgressFunc func(pct int)

// Generator is the interface all generation engines implement. Never call a
// specific engine directly — always inject this interface.
type Generator interface {
	// Generate synchronously produces the artifact bytes for req. It must
	// honor ctx cancellation: the executor wraps every call in a wall-clock
	// timeout.
	Generate(ctx context.Context, kind models.JobKind, req models.GenerateRequest, progress ProgressFunc) ([]byte, error)
	// Name returns the engine identifier (e.g., "http", "mock").
	Name() string
}

var (
	// ErrEngineUnavailable marks transient engine failures; jobs hitting it
	// are eligible for retry.
	ErrEngineUnavailable = errors.New("generation engine unavailable")
	// ErrInvalidInput marks permanently bad requests; retrying cannot help.
	ErrInvalidInput = errors.New("invalid generation input")
)
