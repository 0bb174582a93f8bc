package httpengine_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinsk/voiceforge/internal/generate"
	"github.com/avelinsk/voiceforge/internal/generate/httpengine"
	"github.com/avelinsk/voiceforge/pkg/models"
)

func testRequest() models.GenerateRequest {
	return models.GenerateRequest{Text: "hello", Voice: "en-01", Speed: 1.0}
}

func TestGenerate_Success(t *testing.T) {
	var gotPath string
	var gotReq models.GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte("RIFF-audio-bytes"))
	}))
	defer srv.Close()

	e := httpengine.New(srv.URL)
	var checkpoints []int
	data, err := e.Generate(context.Background(), models.KindTTS, testRequest(), func(pct int) {
		checkpoints = append(checkpoints, pct)
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("RIFF-audio-bytes"), data)
	assert.Equal(t, "/tts", gotPath)
	assert.Equal(t, "hello", gotReq.Text)
	assert.Equal(t, []int{10, 50, 90}, checkpoints)
}

func TestGenerate_AvatarEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/avatar", r.URL.Path)
		w.Write([]byte("mp4"))
	}))
	defer srv.Close()

	e := httpengine.New(srv.URL)
	_, err := e.Generate(context.Background(), models.KindAvatar, testRequest(), nil)
	require.NoError(t, err)
}

func TestGenerate_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "text too long", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	e := httpengine.New(srv.URL)
	_, err := e.Generate(context.Background(), models.KindTTS, testRequest(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, generate.ErrInvalidInput)
	assert.Contains(t, err.Error(), "text too long")
}

func TestGenerate_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := httpengine.New(srv.URL)
	_, err := e.Generate(context.Background(), models.KindTTS, testRequest(), nil)
	assert.ErrorIs(t, err, generate.ErrEngineUnavailable)
}

func TestGenerate_ConnectionRefusedIsTransient(t *testing.T) {
	e := httpengine.New("http://127.0.0.1:1") // nothing listens here
	_, err := e.Generate(context.Background(), models.KindTTS, testRequest(), nil)
	assert.ErrorIs(t, err, generate.ErrEngineUnavailable)
}

func TestGenerate_EmptyArtifactIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := httpengine.New(srv.URL)
	_, err := e.Generate(context.Background(), models.KindTTS, testRequest(), nil)
	assert.ErrorIs(t, err, generate.ErrEngineUnavailable)
}

func TestGenerate_ContextDeadlineWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body first: the server only notices the client
		// disconnect (and cancels r.Context()) once the request body has
		// been consumed, and srv.Close blocks until the handler returns.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	e := httpengine.New(srv.URL)
	_, err := e.Generate(ctx, models.KindTTS, testRequest(), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
