package generativeAI

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/FACorreiaa/go-poi-concierge/config"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

const defaultModel = "gemini-2.0-flash"

// Generator is the text generation contract used by every pipeline stage.
type Generator interface {
	Invoke(ctx context.Context, p Prompt) (string, error)
	InvokeStream(ctx context.Context, p Prompt) iter.Seq2[string, error]
	// InvokeStructured asks for JSON matching schema, validates it and decodes it into out.
	InvokeStructured(ctx context.Context, p Prompt, schema *Schema, out any) error
}

var _ Generator = (*AIClient)(nil)

type AIClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	images  *http.Client
	logger  *slog.Logger
}

func NewAIClient(ctx context.Context, cfg config.GenAIConfig, logger *slog.Logger) (*AIClient, error) {
	ctx, span := otel.Tracer("GenerativeAI").Start(ctx, "NewAIClient")
	defer span.End()

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_GEMINI_API_KEY")
	}
	if apiKey == "" {
		err := errors.New("gemini api key is not configured")
		span.RecordError(err)
		span.SetStatus(codes.Error, "API key not set")
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create Gemini client")
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	span.SetStatus(codes.Ok, "AI client created successfully")
	return &AIClient{
		client:  client,
		model:   model,
		timeout: timeout,
		images:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Client exposes the underlying genai client so encoders can share it.
func (ai *AIClient) Client() *genai.Client { return ai.client }

func (ai *AIClient) Invoke(ctx context.Context, p Prompt) (string, error) {
	ctx, span := otel.Tracer("GenerativeAI").Start(ctx, "Invoke", trace.WithAttributes(
		attribute.Int("prompt.length", len(p.User)),
		attribute.Bool("prompt.image", p.ImageRef != ""),
		attribute.String("model", ai.model),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, ai.timeout)
	defer cancel()

	contents, err := ai.contents(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to build prompt")
		return "", err
	}

	result, err := ai.client.Models.GenerateContent(ctx, ai.model, contents, p.config())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to generate content")
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	responseText := result.Text()
	span.SetAttributes(attribute.Int("response.length", len(responseText)))
	span.SetStatus(codes.Ok, "Content generated successfully")
	return responseText, nil
}

// InvokeStream yields text chunks as the model produces them. The first error,
// including the client timeout expiring mid-stream, ends the stream.
func (ai *AIClient) InvokeStream(ctx context.Context, p Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := otel.Tracer("GenerativeAI").Start(ctx, "InvokeStream", trace.WithAttributes(
			attribute.Int("prompt.length", len(p.User)),
			attribute.String("model", ai.model),
		))
		defer span.End()

		// The deadline covers the whole stream, not just the first chunk.
		ctx, cancel := context.WithTimeout(ctx, ai.timeout)
		defer cancel()

		contents, err := ai.contents(ctx, p)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to build prompt")
			yield("", err)
			return
		}

		chunks := 0
		for resp, err := range ai.client.Models.GenerateContentStream(ctx, ai.model, contents, p.config()) {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "Stream failed")
				yield("", fmt.Errorf("stream failed: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			chunks++
			if !yield(text, nil) {
				break
			}
		}
		span.SetAttributes(attribute.Int("response.chunks", chunks))
		span.SetStatus(codes.Ok, "Stream completed")
	}
}

func (ai *AIClient) InvokeStructured(ctx context.Context, p Prompt, schema *Schema, out any) error {
	ctx, span := otel.Tracer("GenerativeAI").Start(ctx, "InvokeStructured", trace.WithAttributes(
		attribute.String("schema", schema.Name),
		attribute.String("model", ai.model),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, ai.timeout)
	defer cancel()

	contents, err := ai.contents(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to build prompt")
		return err
	}

	cfg := p.config()
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = schema.Response

	result, err := ai.client.Models.GenerateContent(ctx, ai.model, contents, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to generate structured content")
		return fmt.Errorf("failed to generate structured content: %w", err)
	}

	raw := []byte(cleanJSONResponse(result.Text()))
	if err := schema.Validate(raw); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Structured output rejected")
		ai.logger.WarnContext(ctx, "Structured output failed validation",
			slog.String("schema", schema.Name), slog.Any("error", err))
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to decode structured output")
		return fmt.Errorf("%w: %s: %v", types.ErrInvalidSchema, schema.Name, err)
	}

	span.SetStatus(codes.Ok, "Structured content generated")
	return nil
}

// contents turns the prompt into genai contents: history first, then the user turn.
func (ai *AIClient) contents(ctx context.Context, p Prompt) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(p.History)+1)
	for _, m := range p.History {
		if m.Content == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == types.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	var parts []*genai.Part
	if p.User != "" {
		parts = append(parts, genai.NewPartFromText(p.User))
	}
	if p.ImageRef != "" {
		img, err := LoadImage(ctx, ai.images, p.ImageRef)
		if err != nil {
			return nil, err
		}
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	if len(parts) == 0 {
		return nil, errors.New("prompt has neither text nor image")
	}
	return append(contents, genai.NewContentFromParts(parts, genai.RoleUser)), nil
}
