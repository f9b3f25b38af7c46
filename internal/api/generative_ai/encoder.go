package generativeAI

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/FACorreiaa/go-poi-concierge/config"
)

const (
	defaultEmbeddingModel = "text-embedding-004"
	// defaultTextDimensions matches places.text_vec.
	defaultTextDimensions int32 = 768
)

// TextEncoder embeds text into the textual space (places.text_vec).
type TextEncoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
}

// VisualEncoder embeds text or images into the shared visual space
// (places.img_vec_agg, photos.img_vec).
type VisualEncoder interface {
	EncodeVisualText(ctx context.Context, text string) ([]float32, error)
	EncodeVisualImage(ctx context.Context, imageRef string) ([]float32, error)
}

var (
	_ TextEncoder   = (*EmbeddingService)(nil)
	_ VisualEncoder = (*VisualEncoderClient)(nil)
)

type EmbeddingService struct {
	client     *genai.Client
	model      string
	dimensions int32
	logger     *slog.Logger
}

func NewEmbeddingService(client *genai.Client, cfg config.GenAIConfig, logger *slog.Logger) *EmbeddingService {
	model := cfg.EmbeddingModel
	if model == "" {
		model = defaultEmbeddingModel
	}
	dimensions := cfg.TextDimensions
	if dimensions <= 0 {
		dimensions = defaultTextDimensions
	}
	return &EmbeddingService{client: client, model: model, dimensions: dimensions, logger: logger}
}

func (s *EmbeddingService) EncodeText(ctx context.Context, text string) ([]float32, error) {
	ctx, span := otel.Tracer("EmbeddingService").Start(ctx, "EncodeText", trace.WithAttributes(
		attribute.Int("text.length", len(text)),
		attribute.String("model", s.model),
	))
	defer span.End()

	cfg := &genai.EmbedContentConfig{
		TaskType:             "RETRIEVAL_QUERY",
		OutputDimensionality: genai.Ptr(s.dimensions),
	}
	resp, err := s.client.Models.EmbedContent(ctx, s.model, genai.Text(text), cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to embed text")
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		err := errors.New("embedding response is empty")
		span.RecordError(err)
		span.SetStatus(codes.Error, "Empty embedding")
		return nil, err
	}

	values := resp.Embeddings[0].Values
	span.SetAttributes(attribute.Int("embedding.dimensions", len(values)))
	if err := checkDimensions(values, s.dimensions); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Wrong embedding size")
		return nil, fmt.Errorf("model %s: %w", s.model, err)
	}
	span.SetStatus(codes.Ok, "Text embedded")
	return values, nil
}

// ErrDimensionMismatch means an encoder returned a vector the index column cannot hold.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

func checkDimensions(values []float32, want int32) error {
	if int32(len(values)) != want {
		return fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(values), want)
	}
	return nil
}

// VisualEncoderClient talks to the CLIP sidecar that owns the visual space.
// POST /encode/text {"text"} and POST /encode/image {"image","mime_type"} both
// answer {"embedding": [...]}.
type VisualEncoderClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewVisualEncoderClient(cfg config.EncoderConfig, logger *slog.Logger) *VisualEncoderClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &VisualEncoderClient{
		baseURL: strings.TrimRight(cfg.VisualURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *VisualEncoderClient) EncodeVisualText(ctx context.Context, text string) ([]float32, error) {
	ctx, span := otel.Tracer("EmbeddingService").Start(ctx, "EncodeVisualText", trace.WithAttributes(
		attribute.Int("text.length", len(text)),
	))
	defer span.End()

	vec, err := c.encode(ctx, "/encode/text", map[string]string{"text": text})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to encode text into visual space")
		return nil, err
	}
	span.SetStatus(codes.Ok, "Text encoded into visual space")
	return vec, nil
}

func (c *VisualEncoderClient) EncodeVisualImage(ctx context.Context, imageRef string) ([]float32, error) {
	ctx, span := otel.Tracer("EmbeddingService").Start(ctx, "EncodeVisualImage")
	defer span.End()

	img, err := LoadImage(ctx, c.http, imageRef)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load image")
		return nil, err
	}
	vec, err := c.encode(ctx, "/encode/image", map[string]string{
		"image":     img.Base64(),
		"mime_type": img.MIMEType,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to encode image")
		return nil, err
	}
	span.SetStatus(codes.Ok, "Image encoded")
	return vec, nil
}

func (c *VisualEncoderClient) encode(ctx context.Context, path string, payload map[string]string) ([]float32, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal encoder request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build encoder request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("encoder request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoder response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("encoder returned status %d: %s", resp.StatusCode, gjson.GetBytes(raw, "error").String())
	}

	values := gjson.GetBytes(raw, "embedding").Array()
	if len(values) == 0 {
		return nil, errors.New("encoder returned an empty embedding")
	}
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v.Float())
	}
	return vec, nil
}
