// Package httpengine invokes a standalone model server over HTTP. The server
// hosts the actual TTS and avatar models; this client only ships requests
// and collects artifact bytes.
package httpengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avelinsk/voiceforge/internal/generate/enginecore"
	"github.com/avelinsk/voiceforge/pkg/models"
)

const maxArtifactBytes = 256 << 20 // refuse absurd responses

// Engine implements enginecore.Generator against a model server exposing
// POST /tts and POST /avatar, each returning raw artifact bytes.
type Engine struct {
	baseURL string
	client  *http.Client
}

// New creates an Engine for the model server at baseURL. Per-call deadlines
// come from the caller's context, so the underlying client sets none.
func New(baseURL string) *Engine {
	return &Engine{
		baseURL: baseURL,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   2,
				ResponseHeaderTimeout: 0, // model servers stream slowly; ctx bounds the call
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

func (e *Engine) Name() string { return "http" }

func (e *Engine) Generate(ctx context.Context, kind models.JobKind, req models.GenerateRequest, progress enginecore.ProgressFunc) ([]byte, error) {
	if progress != nil {
		progress(10)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", enginecore.ErrInvalidInput, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint(kind), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build engine request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", enginecore.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if progress != nil {
		progress(50)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: engine returned %d: %s", enginecore.ErrInvalidInput, resp.StatusCode, detail)
	default:
		return nil, fmt.Errorf("%w: engine returned %d", enginecore.ErrEngineUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: read artifact: %v", enginecore.ErrEngineUnavailable, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: engine returned empty artifact", enginecore.ErrEngineUnavailable)
	}

	if progress != nil {
		progress(90)
	}
	return data, nil
}

func (e *Engine) endpoint(kind models.JobKind) string {
	return fmt.Sprintf("%s/%s", e.baseURL, kind)
}

// Compile-time check that Engine implements Generator.
var _ enginecore.Generator = (*Engine)(nil)
