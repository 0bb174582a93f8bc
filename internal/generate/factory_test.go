package generate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinsk/voiceforge/internal/config"
	"github.com/avelinsk/voiceforge/internal/generate"
)

func TestNewGenerator_HTTP(t *testing.T) {
	gen, err := generate.NewGenerator(config.GenerationConfig{
		Engine:        "http",
		EngineBaseURL: "http://localhost:5002",
	})
	require.NoError(t, err)
	assert.Equal(t, "http", gen.Name())
}

func TestNewGenerator_Unknown(t *testing.T) {
	_, err := generate.NewGenerator(config.GenerationConfig{Engine: "quantum"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantum")
}
