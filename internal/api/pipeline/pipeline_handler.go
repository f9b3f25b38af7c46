package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-poi-concierge/internal/api"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

const maxMessages = 50

// TurnRequest is the body of a chat turn. Coordinates must come as a pair.
type TurnRequest struct {
	ThreadID    string   `json:"thread_id"`
	Text        string   `json:"text,omitempty"`
	ImageRef    string   `json:"image_ref,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
	Preferences string   `json:"preferences,omitempty"`
}

type MessagesResponse struct {
	ThreadID uuid.UUID       `json:"thread_id"`
	Messages []types.Message `json:"messages"`
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (req TurnRequest) toInput() (types.TurnInput, error) {
	raw := strings.TrimSpace(req.ThreadID)
	if raw == "" {
		return types.TurnInput{}, types.ErrMissingThreadID
	}
	threadID, err := uuid.Parse(raw)
	if err != nil {
		return types.TurnInput{}, errors.New("invalid thread_id format")
	}

	in := types.TurnInput{
		ThreadID:    threadID,
		Text:        req.Text,
		ImageRef:    req.ImageRef,
		Preferences: req.Preferences,
	}
	switch {
	case req.Lat == nil && req.Lng == nil:
	case req.Lat == nil || req.Lng == nil:
		return types.TurnInput{}, errors.New("lat and lng must be provided together")
	case *req.Lat < -90 || *req.Lat > 90 || *req.Lng < -180 || *req.Lng > 180:
		return types.TurnInput{}, errors.New("lat/lng out of range")
	default:
		in.Location = &types.Coordinates{Latitude: *req.Lat, Longitude: *req.Lng}
	}
	return in, nil
}

func (h *Handler) decodeTurn(w http.ResponseWriter, r *http.Request, l *slog.Logger) (types.TurnInput, bool) {
	var req TurnRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(r.Context(), "Invalid turn request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return types.TurnInput{}, false
	}
	in, err := req.toInput()
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return types.TurnInput{}, false
	}
	return in, true
}

// Turn runs one conversation turn and returns the final output.
//
// @Summary      Run a chat turn
// @Description  Classifies the message, plans a trip when asked, retrieves places and answers.
// @Tags         chat
// @Accept       json
// @Produce      json
// @Param        request  body      TurnRequest  true  "Turn input"
// @Success      200      {object}  types.TurnOutput
// @Failure      400      {object}  api.ErrorBody
// @Failure      500      {object}  api.ErrorBody
// @Router       /api/v1/chat/turn [post]
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("PipelineHandler").Start(r.Context(), "Turn", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/api/v1/chat/turn"),
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "Turn"))

	in, ok := h.decodeTurn(w, r, l)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("thread.id", in.ThreadID.String()))

	out, err := h.service.RunTurn(ctx, in)
	if err != nil {
		l.ErrorContext(ctx, "Turn failed", slog.Any("error", err))
		span.RecordError(err)
		if errors.Is(err, types.ErrMissingThreadID) {
			api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
			return
		}
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to process turn")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, out)
}

// TurnStream runs a turn and reports every stage as a server-sent event.
//
// @Summary      Stream a chat turn
// @Description  Same as the turn endpoint, sent as stage, candidates, chunk and done events.
// @Tags         chat
// @Accept       json
// @Produce      text/event-stream
// @Param        request  body      TurnRequest  true  "Turn input"
// @Success      200      {object}  Event
// @Failure      400      {object}  api.ErrorBody
// @Router       /api/v1/chat/turn/stream [post]
func (h *Handler) TurnStream(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("PipelineHandler").Start(r.Context(), "TurnStream", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/api/v1/chat/turn/stream"),
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "TurnStream"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	in, ok := h.decodeTurn(w, r, l)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("thread.id", in.ThreadID.String()))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	_, err := h.service.RunTurnStream(ctx, in, func(e Event) {
		if ctx.Err() != nil {
			return
		}
		writeSSE(w, flusher, e, l)
	})
	if err != nil {
		l.ErrorContext(ctx, "Streamed turn failed", slog.Any("error", err))
		span.RecordError(err)
		writeSSE(w, flusher, Event{
			Type:      EventTypeError,
			EventID:   uuid.NewString(),
			Error:     err.Error(),
			Timestamp: time.Now(),
		}, l)
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, e Event, l *slog.Logger) {
	data, err := json.Marshal(e)
	if err != nil {
		l.Error("Failed to marshal event", slog.Any("error", err))
		return
	}
	fmt.Fprintf(w, "id: %s\n", e.EventID)
	fmt.Fprintf(w, "event: %s\n", e.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// Messages returns the stored conversation of a thread.
//
// @Summary      Thread messages
// @Description  Returns the most recent stored messages of a thread, oldest first.
// @Tags         chat
// @Produce      json
// @Param        threadID  path      string  true   "Thread ID (UUID)"
// @Param        limit     query     int     false  "Maximum messages (1-50)"
// @Success      200       {object}  MessagesResponse
// @Failure      400       {object}  api.ErrorBody
// @Failure      500       {object}  api.ErrorBody
// @Router       /api/v1/chat/threads/{threadID}/messages [get]
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("PipelineHandler").Start(r.Context(), "Messages", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/api/v1/chat/threads/{threadID}/messages"),
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "Messages"))

	threadID, err := uuid.Parse(chi.URLParam(r, "threadID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid thread ID format")
		return
	}
	limit, err := api.QueryInt(r, "limit", types.HistoryWindow)
	if err != nil || limit <= 0 || limit > maxMessages {
		api.ErrorResponse(w, r, http.StatusBadRequest, "limit must be between 1 and 50")
		return
	}

	messages, err := h.service.Messages(ctx, threadID, limit)
	if err != nil {
		l.ErrorContext(ctx, "Failed to load messages", slog.Any("error", err))
		span.RecordError(err)
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	if messages == nil {
		messages = []types.Message{}
	}
	api.WriteJSONResponse(w, r, http.StatusOK, MessagesResponse{ThreadID: threadID, Messages: messages})
}

// Checkpoint returns the output of the thread's last finished turn.
//
// @Summary      Last turn of a thread
// @Description  Returns the saved output of the most recent completed turn.
// @Tags         chat
// @Produce      json
// @Param        threadID  path      string  true  "Thread ID (UUID)"
// @Success      200       {object}  types.TurnOutput
// @Failure      400       {object}  api.ErrorBody
// @Failure      404       {object}  api.ErrorBody  "No finished turn"
// @Failure      500       {object}  api.ErrorBody
// @Router       /api/v1/chat/threads/{threadID}/checkpoint [get]
func (h *Handler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("PipelineHandler").Start(r.Context(), "Checkpoint", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/api/v1/chat/threads/{threadID}/checkpoint"),
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "Checkpoint"))

	threadID, err := uuid.Parse(chi.URLParam(r, "threadID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid thread ID format")
		return
	}
	span.SetAttributes(attribute.String("thread.id", threadID.String()))

	out, err := h.service.Checkpoint(ctx, threadID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to load checkpoint", slog.Any("error", err))
		span.RecordError(err)
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to load checkpoint")
		return
	}
	if out == nil {
		api.ErrorResponse(w, r, http.StatusNotFound, "No finished turn for this thread")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, out)
}
