package intent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	generativeAI "github.com/FACorreiaa/go-poi-concierge/internal/api/generative_ai"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

type Service interface {
	Classify(ctx context.Context, state *types.TurnState) types.StateDelta
}

var _ Service = (*ServiceImpl)(nil)

type ServiceImpl struct {
	generator generativeAI.Generator
	logger    *slog.Logger
}

func NewServiceImpl(generator generativeAI.Generator, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		generator: generator,
		logger:    logger,
	}
}

// classification is the structured classifier output.
type classification struct {
	Intents       []string       `json:"intents"`
	PrimaryIntent string         `json:"primary_intent"`
	Slots         types.RawSlots `json:"slots"`
}

// Classify reads the intent set and slots of a turn.
// A turn with neither text nor image is passed through untouched; an image-only
// turn is marked IMAGE_SIMILAR without calling the classifier.
func (s *ServiceImpl) Classify(ctx context.Context, state *types.TurnState) types.StateDelta {
	ctx, span := otel.Tracer("Intent").Start(ctx, "Classify", trace.WithAttributes(
		attribute.String("thread.id", state.ThreadID.String()),
		attribute.Bool("has_text", state.HasText()),
		attribute.Bool("has_image", state.HasImage()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "Classify"), slog.String("thread_id", state.ThreadID.String()))

	switch {
	case !state.HasText() && !state.HasImage():
		l.DebugContext(ctx, "Turn has no text or image, leaving state unchanged")
		span.SetStatus(codes.Ok, "Pass-through")
		return types.StateDelta{}
	case !state.HasText():
		primary := types.IntentImageSimilar
		slots := types.ModalityOnlySlots(types.InputImage)
		span.SetAttributes(attribute.String("intent.primary", primary.String()))
		span.SetStatus(codes.Ok, "Image-only turn")
		return types.StateDelta{
			Intents:       []types.Intent{primary},
			PrimaryIntent: &primary,
			Slots:         &slots,
		}
	}

	modality := types.InputTypeFor(state.HasText(), state.HasImage())

	var out classification
	if err := s.generator.InvokeStructured(ctx, buildPrompt(state), classificationSchema, &out); err != nil {
		err = fmt.Errorf("%w: %w", types.ErrClassificationFailure, err)
		l.WarnContext(ctx, "Intent classification failed, using default intent", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Classification failed")
		return fallback(modality)
	}

	intents, primary := resolveIntents(out.Intents, out.PrimaryIntent)
	slots := types.NormalizeSlots(&out.Slots, modality)

	l.InfoContext(ctx, "Intent classified",
		slog.String("primary_intent", primary.String()),
		slog.Any("intents", intents))
	span.SetAttributes(attribute.String("intent.primary", primary.String()), attribute.Int("intents.count", len(intents)))
	span.SetStatus(codes.Ok, "Classified")
	return types.StateDelta{
		Intents:       intents,
		PrimaryIntent: &primary,
		Slots:         &slots,
	}
}

func fallback(modality types.InputType) types.StateDelta {
	primary := types.DefaultIntent
	slots := types.ModalityOnlySlots(modality)
	return types.StateDelta{
		Intents:       []types.Intent{primary},
		PrimaryIntent: &primary,
		Slots:         &slots,
	}
}

// resolveIntents drops unknown labels and guarantees the primary intent is listed first.
func resolveIntents(labels []string, primaryLabel string) ([]types.Intent, types.Intent) {
	var intents []types.Intent
	for _, label := range labels {
		if in, ok := types.ParseIntent(label); ok {
			intents = append(intents, in)
		}
	}
	intents = lo.Uniq(intents)

	primary, ok := types.ParseIntent(primaryLabel)
	if !ok {
		primary = types.DefaultIntent
		if len(intents) > 0 {
			primary = intents[0]
		}
	}
	if !lo.Contains(intents, primary) {
		intents = append([]types.Intent{primary}, intents...)
	}
	return intents, primary
}
