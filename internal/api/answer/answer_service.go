package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	generativeAI "github.com/FACorreiaa/go-poi-concierge/internal/api/generative_ai"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/websearch"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

const (
	// FallbackAnswer is returned when generation fails before producing any text.
	FallbackAnswer = "죄송해요, 지금은 답변을 만들지 못했어요. 잠시 후 다시 시도해 주세요."
	// FallbackMissingInfo is asked when neither the planner nor the generator produced a question.
	FallbackMissingInfo = "여행 계획을 도와드리려면 정보가 조금 더 필요해요. 어느 지역으로, 언제, 며칠 정도 다녀오실 계획인가요?"
)

// WebSearcher backs the answer with web snippets when the place index is empty.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]types.WebResult, error)
}

type Service interface {
	// Answer generates the final reply. onChunk, when set, receives every streamed
	// piece of text in order, including the appended follow-up question.
	Answer(ctx context.Context, state *types.TurnState, onChunk func(string)) types.StateDelta
	MissingInfo(ctx context.Context, state *types.TurnState) types.StateDelta
}

var _ Service = (*ServiceImpl)(nil)

type ServiceImpl struct {
	generator generativeAI.Generator
	web       WebSearcher
	logger    *slog.Logger
}

func NewServiceImpl(generator generativeAI.Generator, web WebSearcher, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		generator: generator,
		web:       web,
		logger:    logger,
	}
}

func (s *ServiceImpl) Answer(ctx context.Context, state *types.TurnState, onChunk func(string)) types.StateDelta {
	ctx, span := otel.Tracer("Answer").Start(ctx, "Answer", trace.WithAttributes(
		attribute.String("thread.id", state.ThreadID.String()),
		attribute.Int("candidates.count", len(state.Candidates)),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "Answer"), slog.String("thread_id", state.ThreadID.String()))
	emit := func(chunk string) {
		if onChunk != nil && chunk != "" {
			onChunk(chunk)
		}
	}

	var web []types.WebResult
	if len(state.Candidates) == 0 {
		l.InfoContext(ctx, "No candidates, trying web fallback", slog.Any("error", types.ErrEmptyResult))
		web = s.webFallback(ctx, state)
	}

	var sb strings.Builder
	var streamErr error
	for chunk, err := range s.generator.InvokeStream(ctx, buildPrompt(state, web)) {
		if err != nil {
			streamErr = err
			break
		}
		sb.WriteString(chunk)
		emit(chunk)
	}

	answer := sb.String()
	if streamErr != nil {
		l.ErrorContext(ctx, "Answer generation failed", slog.Any("error", streamErr), slog.Int("partial_length", len(answer)))
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "Generation failed")
		if strings.TrimSpace(answer) == "" {
			answer = FallbackAnswer
			emit(answer)
		}
	}

	if followUp := strings.TrimSpace(state.FollowUp); followUp != "" && len(state.MissingSlots) > 0 {
		suffix := "\n\n" + followUp
		answer += suffix
		emit(suffix)
	}

	l.InfoContext(ctx, "Answer generated",
		slog.Int("length", len(answer)),
		slog.Int("web_results", len(web)))
	span.SetAttributes(attribute.Int("answer.length", len(answer)), attribute.Int("web.results", len(web)))
	if streamErr == nil {
		span.SetStatus(codes.Ok, "Answered")
	}
	return types.StateDelta{Answer: &answer}
}

func (s *ServiceImpl) webFallback(ctx context.Context, state *types.TurnState) []types.WebResult {
	if s.web == nil {
		return nil
	}
	query := websearch.FallbackQuery(state.Slots.Location, state.Text)
	results, err := s.web.Search(ctx, query)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, websearch.ErrNotConfigured) {
			level = slog.LevelDebug
		}
		s.logger.Log(ctx, level, "Web fallback failed", slog.String("query", query), slog.Any("error", err))
		return nil
	}
	return results
}

// MissingInfo answers a turn that stopped at planning. The planner's own
// question wins; otherwise one is generated from the missing slot list.
func (s *ServiceImpl) MissingInfo(ctx context.Context, state *types.TurnState) types.StateDelta {
	ctx, span := otel.Tracer("Answer").Start(ctx, "MissingInfo", trace.WithAttributes(
		attribute.String("thread.id", state.ThreadID.String()),
		attribute.StringSlice("missing_slots", state.MissingSlots),
	))
	defer span.End()

	if followUp := strings.TrimSpace(state.FollowUp); followUp != "" {
		span.SetStatus(codes.Ok, "Planner follow-up")
		return types.StateDelta{Answer: &followUp}
	}

	answer, err := s.generator.Invoke(ctx, buildMissingInfoPrompt(state))
	answer = strings.TrimSpace(answer)
	if err != nil || answer == "" {
		if err == nil {
			err = errors.New("empty response")
		}
		err = fmt.Errorf("missing-info question: %w", err)
		s.logger.WarnContext(ctx, "Falling back to fixed question", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Generation failed")
		answer = FallbackMissingInfo
	} else {
		span.SetStatus(codes.Ok, "Question generated")
	}
	return types.StateDelta{Answer: &answer, FollowUp: types.Ptr(answer)}
}
