package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-poi-concierge/config"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

const keyPrefix = "concierge:thread:"

// Store keeps the per-thread conversation. A turn reads the recent window
// before it starts and appends its exchange once it reaches END.
type Store interface {
	Load(ctx context.Context, threadID uuid.UUID, limit int) ([]types.Message, error)
	Save(ctx context.Context, state *types.TurnState) error
	Checkpoint(ctx context.Context, threadID uuid.UUID) (*types.TurnOutput, error)
}

var _ Store = (*RedisStore)(nil)

type RedisStore struct {
	client    *redis.Client
	ttl       time.Duration
	maxStored int
	logger    *slog.Logger
	now       func() time.Time
}

func NewRedisStore(client *redis.Client, cfg config.HistoryConfig, logger *slog.Logger) *RedisStore {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	maxStored := cfg.MaxStored
	if maxStored < types.HistoryWindow {
		maxStored = 50
	}
	return &RedisStore{
		client:    client,
		ttl:       ttl,
		maxStored: maxStored,
		logger:    logger,
		now:       time.Now,
	}
}

func messagesKey(threadID uuid.UUID) string   { return keyPrefix + threadID.String() + ":messages" }
func checkpointKey(threadID uuid.UUID) string { return keyPrefix + threadID.String() + ":checkpoint" }

// Load returns the last limit messages of the thread, oldest first. An unknown
// thread has an empty history.
func (s *RedisStore) Load(ctx context.Context, threadID uuid.UUID, limit int) ([]types.Message, error) {
	ctx, span := otel.Tracer("History").Start(ctx, "Load", trace.WithAttributes(
		attribute.String("thread.id", threadID.String()),
	))
	defer span.End()

	if limit <= 0 {
		limit = types.HistoryWindow
	}
	raw, err := s.client.LRange(ctx, messagesKey(threadID), int64(-limit), -1).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "LRANGE failed")
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	messages := make([]types.Message, 0, len(raw))
	for _, item := range raw {
		var m types.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			s.logger.WarnContext(ctx, "Skipping unreadable history entry",
				slog.String("thread_id", threadID.String()), slog.Any("error", err))
			continue
		}
		messages = append(messages, m)
	}
	span.SetAttributes(attribute.Int("messages.count", len(messages)))
	span.SetStatus(codes.Ok, "Loaded")
	return messages, nil
}

// Save appends the user message and the answer of a finished turn, trims the
// list and stores the turn output as the thread checkpoint.
func (s *RedisStore) Save(ctx context.Context, state *types.TurnState) error {
	ctx, span := otel.Tracer("History").Start(ctx, "Save", trace.WithAttributes(
		attribute.String("thread.id", state.ThreadID.String()),
	))
	defer span.End()

	now := s.now().UTC()
	entries := make([]any, 0, 2)
	for _, m := range []types.Message{
		{Role: types.RoleUser, Content: state.Text, ImageRef: state.ImageRef, Timestamp: now},
		{Role: types.RoleAssistant, Content: state.Answer, Timestamp: now},
	} {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		entries = append(entries, data)
	}
	checkpoint, err := json.Marshal(state.Output())
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	key := messagesKey(state.ThreadID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, entries...)
		pipe.LTrim(ctx, key, int64(-s.maxStored), -1)
		pipe.Expire(ctx, key, s.ttl)
		pipe.Set(ctx, checkpointKey(state.ThreadID), checkpoint, s.ttl)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Save failed")
		return fmt.Errorf("failed to save history: %w", err)
	}
	span.SetStatus(codes.Ok, "Saved")
	return nil
}

// Checkpoint returns the output of the thread's last finished turn, or nil when
// there is none.
func (s *RedisStore) Checkpoint(ctx context.Context, threadID uuid.UUID) (*types.TurnOutput, error) {
	data, err := s.client.Get(ctx, checkpointKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	var out types.TurnOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &out, nil
}
