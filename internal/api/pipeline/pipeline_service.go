package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-poi-concierge/app/observability/metrics"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/answer"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/history"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/intent"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/planner"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/retrieval"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

type EventType string

const (
	EventTypeStage      EventType = "stage"
	EventTypeCandidates EventType = "candidates"
	EventTypeChunk      EventType = "chunk"
	EventTypeDone       EventType = "done"
	EventTypeError      EventType = "error"
)

// Event is one progress notification of a streamed turn.
type Event struct {
	Type       EventType         `json:"type"`
	EventID    string            `json:"event_id"`
	Stage      string            `json:"stage,omitempty"`
	Candidates []types.Candidate `json:"candidates,omitempty"`
	Chunk      string            `json:"chunk,omitempty"`
	Output     *types.TurnOutput `json:"output,omitempty"`
	Error      string            `json:"error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

type Service interface {
	RunTurn(ctx context.Context, in types.TurnInput) (types.TurnOutput, error)
	// RunTurnStream runs the same turn and reports progress to emit, which is
	// called from the calling goroutine only.
	RunTurnStream(ctx context.Context, in types.TurnInput, emit func(Event)) (types.TurnOutput, error)
	Messages(ctx context.Context, threadID uuid.UUID, limit int) ([]types.Message, error)
	// Checkpoint returns the output of the thread's last finished turn, or nil.
	Checkpoint(ctx context.Context, threadID uuid.UUID) (*types.TurnOutput, error)
}

var _ Service = (*Controller)(nil)

// Controller drives one turn through INTENT, PLAN, RETRIEVE and ANSWER. Stages
// run one after another and only talk to the turn through deltas.
type Controller struct {
	intent    intent.Service
	planner   planner.Service
	retriever retrieval.Service
	answer    answer.Service
	history   history.Store
	logger    *slog.Logger
}

func NewController(
	intentService intent.Service,
	plannerService planner.Service,
	retriever retrieval.Service,
	answerService answer.Service,
	store history.Store,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		intent:    intentService,
		planner:   plannerService,
		retriever: retriever,
		answer:    answerService,
		history:   store,
		logger:    logger,
	}
}

func (c *Controller) RunTurn(ctx context.Context, in types.TurnInput) (types.TurnOutput, error) {
	return c.run(ctx, in, nil)
}

func (c *Controller) RunTurnStream(ctx context.Context, in types.TurnInput, emit func(Event)) (types.TurnOutput, error) {
	return c.run(ctx, in, emit)
}

func (c *Controller) Messages(ctx context.Context, threadID uuid.UUID, limit int) ([]types.Message, error) {
	if threadID == uuid.Nil {
		return nil, types.ErrMissingThreadID
	}
	return c.history.Load(ctx, threadID, limit)
}

func (c *Controller) Checkpoint(ctx context.Context, threadID uuid.UUID) (*types.TurnOutput, error) {
	if threadID == uuid.Nil {
		return nil, types.ErrMissingThreadID
	}
	return c.history.Checkpoint(ctx, threadID)
}

func (c *Controller) run(ctx context.Context, in types.TurnInput, emit func(Event)) (types.TurnOutput, error) {
	ctx, span := otel.Tracer("Pipeline").Start(ctx, "RunTurn", trace.WithAttributes(
		attribute.String("thread.id", in.ThreadID.String()),
		attribute.Bool("input.text", strings.TrimSpace(in.Text) != ""),
		attribute.Bool("input.image", in.ImageRef != ""),
		attribute.Bool("input.location", in.Location != nil),
	))
	defer span.End()

	if in.ThreadID == uuid.Nil {
		span.SetStatus(codes.Error, "Missing thread id")
		return types.TurnOutput{}, types.ErrMissingThreadID
	}
	in.Text = strings.TrimSpace(in.Text)
	in.ImageRef = strings.TrimSpace(in.ImageRef)

	l := c.logger.With(slog.String("method", "RunTurn"), slog.String("thread_id", in.ThreadID.String()))

	past, err := c.history.Load(ctx, in.ThreadID, types.HistoryWindow)
	if err != nil {
		l.ErrorContext(ctx, "Failed to load history", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "History load failed")
		return types.TurnOutput{}, fmt.Errorf("failed to load thread history: %w", err)
	}

	state := types.NewTurnState(in, past)
	notify := func(e Event) {
		if emit == nil {
			return
		}
		e.EventID = uuid.NewString()
		e.Timestamp = time.Now()
		emit(e)
	}

	for stage := StageIntent; stage != StageEnd; stage = next(stage, state) {
		notify(Event{Type: EventTypeStage, Stage: stage.String()})
		start := time.Now()
		state.Apply(c.runStage(ctx, stage, state, notify))
		metrics.Get().StageDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("stage", stage.String())))

		if stage == StageRetrieve {
			notify(Event{Type: EventTypeCandidates, Candidates: state.Candidates})
		}
		l.DebugContext(ctx, "Stage finished",
			slog.String("stage", stage.String()),
			slog.Duration("elapsed", time.Since(start)))
	}

	if err := c.history.Save(ctx, state); err != nil {
		// The turn is already answered; a failed save is only logged.
		l.WarnContext(ctx, "Failed to save history", slog.Any("error", err))
		span.RecordError(err)
	}

	out := state.Output()
	metrics.Get().TurnsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", out.PrimaryIntent.String())))
	notify(Event{Type: EventTypeDone, Output: &out})

	l.InfoContext(ctx, "Turn completed",
		slog.String("intent", out.PrimaryIntent.String()),
		slog.Int("candidates", len(out.Candidates)),
		slog.Int("missing_slots", len(out.MissingSlots)))
	span.SetAttributes(
		attribute.String("intent", out.PrimaryIntent.String()),
		attribute.Int("candidates.count", len(out.Candidates)),
	)
	span.SetStatus(codes.Ok, "Turn completed")
	return out, nil
}

func (c *Controller) runStage(ctx context.Context, stage Stage, state *types.TurnState, notify func(Event)) types.StateDelta {
	switch stage {
	case StageIntent:
		return c.intent.Classify(ctx, state)
	case StagePlan:
		return c.planner.Plan(ctx, state)
	case StageRetrieve:
		return c.retriever.Retrieve(ctx, state)
	case StageAnswer:
		return c.answer.Answer(ctx, state, func(chunk string) {
			notify(Event{Type: EventTypeChunk, Chunk: chunk})
		})
	case StageAnswerMissingInfo:
		delta := c.answer.MissingInfo(ctx, state)
		if delta.Answer != nil {
			notify(Event{Type: EventTypeChunk, Chunk: *delta.Answer})
		}
		return delta
	default:
		return types.StateDelta{}
	}
}
