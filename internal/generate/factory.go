package generate

import (
	"fmt"

	"github.com/avelinsk/voiceforge/internal/config"
	"github.com/avelinsk/voiceforge/internal/generate/httpengine"
)

// NewGenerator constructs the configured generation engine.
// Called once at server startup. The mock engine is registered by tests via
// direct construction, not here.
func NewGenerator(cfg config.GenerationConfig) (Generator, error) {
	switch cfg.Engine {
	case "http":
		return httpengine.New(cfg.EngineBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown generation engine %q: must be http", cfg.Engine)
	}
}
