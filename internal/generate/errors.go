package generate

import "github.com/avelinsk/voiceforge/internal/generate/enginecore"

var (
	// ErrEngineUnavailable marks transient engine failures; jobs hitting it
	// are eligible for retry.
	ErrEngineUnavailable = enginecore.ErrEngineUnavailable
	// ErrInvalidInput marks permanently bad requests; retrying cannot help.
	ErrInvalidInput = enginecore.ErrInvalidInput
)
