package generativeAI

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-poi-concierge/config"
)

func TestVisualEncoderClient(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody = nil
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		if gotBody["text"] == "boom" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
			return
		}
		if gotBody["text"] == "empty" {
			_, _ = w.Write([]byte(`{"embedding":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"embedding":[0.25,-0.5,1]}`))
	}))
	defer srv.Close()

	client := NewVisualEncoderClient(config.EncoderConfig{VisualURL: srv.URL + "/"}, logger)

	t.Run("text into visual space", func(t *testing.T) {
		vec, err := client.EncodeVisualText(ctx, "노을 지는 바다")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.25, -0.5, 1}, vec)
		assert.Equal(t, "/encode/text", gotPath)
		assert.Equal(t, "노을 지는 바다", gotBody["text"])
	})

	t.Run("image is sent as base64", func(t *testing.T) {
		ref := base64.StdEncoding.EncodeToString(pngHeader)
		vec, err := client.EncodeVisualImage(ctx, ref)
		require.NoError(t, err)
		assert.Len(t, vec, 3)
		assert.Equal(t, "/encode/image", gotPath)
		assert.Equal(t, ref, gotBody["image"])
		assert.Equal(t, "image/png", gotBody["mime_type"])
	})

	t.Run("server error", func(t *testing.T) {
		_, err := client.EncodeVisualText(ctx, "boom")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model not loaded")
	})

	t.Run("empty embedding", func(t *testing.T) {
		_, err := client.EncodeVisualText(ctx, "empty")
		assert.Error(t, err)
	})

	t.Run("unloadable image", func(t *testing.T) {
		_, err := client.EncodeVisualImage(ctx, "")
		assert.Error(t, err)
	})
}

func TestCheckDimensions(t *testing.T) {
	require.NoError(t, checkDimensions(make([]float32, 768), 768))

	err := checkDimensions(make([]float32, 1024), 768)
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "got 1024, index expects 768")

	assert.ErrorIs(t, checkDimensions(nil, 768), ErrDimensionMismatch)
}

func TestNewEmbeddingService_DefaultDimensions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewEmbeddingService(nil, config.GenAIConfig{}, logger)
	assert.Equal(t, defaultTextDimensions, svc.dimensions)
	assert.Equal(t, defaultEmbeddingModel, svc.model)
}
