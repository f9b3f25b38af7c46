package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	generativeAI "github.com/FACorreiaa/go-poi-concierge/internal/api/generative_ai"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

// DefaultMissingSlots is what a turn asks for when no itinerary could be drafted.
var DefaultMissingSlots = []string{"location", "duration"}

// MaxMissingSlots is the most missing slots a drafted itinerary may carry and
// still go on to retrieval.
const MaxMissingSlots = 2

// DefaultFollowUp pairs DefaultMissingSlots so a non-empty missing list always carries a question.
const DefaultFollowUp = "어느 지역으로, 며칠 정도 여행을 계획하고 계신가요? 알려주시면 일정에 맞춰 장소를 찾아볼게요."

type Service interface {
	Plan(ctx context.Context, state *types.TurnState) types.StateDelta
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

type plan struct {
	Itinerary        []types.ItinerarySegment `json:"itinerary"`
	MissingSlots     []string                 `json:"missing_slots"`
	FollowupQuestion *string                  `json:"followup_question"`
}

// Plan drafts the itinerary for a trip-planning turn. It never fails: an
// unusable draft degrades to an empty itinerary with the default missing slots.
func (s *ServiceImpl) Plan(ctx context.Context, state *types.TurnState) types.StateDelta {
	ctx, span := otel.Tracer("Planner").Start(ctx, "Plan", trace.WithAttributes(
		attribute.String("thread.id", state.ThreadID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "Plan"), slog.String("thread_id", state.ThreadID.String()))

	if !state.HasText() {
		l.DebugContext(ctx, "No text to plan from")
		return defaults()
	}

	var out plan
	if err := s.generator.InvokeStructured(ctx, buildPrompt(state), planSchema, &out); err != nil {
		err = fmt.Errorf("%w: %w", types.ErrPlanningFailure, err)
		l.WarnContext(ctx, "Planning failed, asking for defaults", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Planning failed")
		return defaults()
	}

	itinerary := cleanItinerary(out.Itinerary)
	if len(itinerary) == 0 {
		l.InfoContext(ctx, "Planner produced no itinerary")
		span.SetStatus(codes.Ok, "Empty itinerary")
		return defaults()
	}

	missing := lo.Uniq(lo.Compact(lo.Map(out.MissingSlots, func(s string, _ int) string { return strings.TrimSpace(s) })))
	followUp := ""
	if out.FollowupQuestion != nil {
		followUp = strings.TrimSpace(*out.FollowupQuestion)
	}
	// A short missing list without a question is dropped; a long one is kept
	// so the turn stops and a question gets generated for it.
	if len(missing) == 0 || (followUp == "" && len(missing) <= MaxMissingSlots) {
		missing, followUp = []string{}, ""
	}

	l.InfoContext(ctx, "Itinerary drafted",
		slog.Int("segments", len(itinerary)),
		slog.Any("missing_slots", missing))
	span.SetAttributes(attribute.Int("itinerary.length", len(itinerary)), attribute.Int("missing_slots", len(missing)))
	span.SetStatus(codes.Ok, "Planned")

	delta := types.StateDelta{
		Itinerary:    &itinerary,
		MissingSlots: &missing,
		FollowUp:     &followUp,
	}
	if followUp != "" {
		delta.Answer = types.Ptr(followUp)
	}
	return delta
}

func defaults() types.StateDelta {
	missing := append([]string(nil), DefaultMissingSlots...)
	return types.StateDelta{
		Itinerary:    &[]types.ItinerarySegment{},
		MissingSlots: &missing,
		FollowUp:     types.Ptr(DefaultFollowUp),
		Answer:       types.Ptr(DefaultFollowUp),
	}
}

// cleanItinerary trims segment text and drops segments with nothing to search for.
func cleanItinerary(in []types.ItinerarySegment) []types.ItinerarySegment {
	out := make([]types.ItinerarySegment, 0, len(in))
	for _, seg := range in {
		seg.TimeSlot = strings.TrimSpace(seg.TimeSlot)
		seg.Activity = strings.TrimSpace(seg.Activity)
		seg.SearchQuery = strings.TrimSpace(seg.SearchQuery)
		seg.Category = strings.TrimSpace(seg.Category)
		if seg.Query() == "" {
			continue
		}
		if seg.Day < 1 {
			seg.Day = 1
		}
		out = append(out, seg)
	}
	return out
}
