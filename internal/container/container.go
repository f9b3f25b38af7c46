package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	database "github.com/FACorreiaa/go-poi-concierge/app/db"
	"github.com/FACorreiaa/go-poi-concierge/config"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/answer"
	generativeAI "github.com/FACorreiaa/go-poi-concierge/internal/api/generative_ai"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/geocoding"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/history"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/intent"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/pipeline"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/planner"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/retrieval"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/websearch"
)

// Container holds all application dependencies
type Container struct {
	Config           *config.Config
	Logger           *slog.Logger
	Pool             *pgxpool.Pool
	Redis            *redis.Client
	Controller       *pipeline.Controller
	PipelineHandler  *pipeline.Handler
	RetrievalHandler *retrieval.Handler
}

// NewContainer opens the stores and wires every service behind the HTTP handlers.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	connectionURL, err := database.ConnectionURL(cfg)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		return nil, err
	}

	pool, err := database.Init(ctx, connectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		return nil, err
	}

	redisClient := NewRedisClient(cfg)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		pool.Close()
		logger.Error("Failed to reach redis", slog.String("addr", cfg.Repositories.Redis.Addr), slog.Any("error", err))
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	aiClient, err := generativeAI.NewAIClient(ctx, cfg.GenAI, logger)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		logger.Error("Failed to initialize generative AI client", slog.Any("error", err))
		return nil, err
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
		Pool:   pool,
		Redis:  redisClient,
	}
	c.wire(aiClient)
	return c, nil
}

// NewRedisClient builds the go-redis client for the history store.
func NewRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Repositories.Redis.Addr,
		Password: cfg.Repositories.Redis.Password,
		DB:       cfg.Repositories.Redis.DB,
	})
}

func (c *Container) wire(aiClient *generativeAI.AIClient) {
	cfg, logger := c.Config, c.Logger

	// encoders and external lookups
	textEncoder := generativeAI.NewEmbeddingService(aiClient.Client(), cfg.GenAI, logger)
	visualEncoder := generativeAI.NewVisualEncoderClient(cfg.Encoder, logger)
	captioner := generativeAI.NewCaptionService(aiClient, cfg.GenAI.CaptionTTL, logger)
	geocoder := geocoding.NewNaverClient(cfg.Geocoding, logger)
	webSearch := websearch.NewTavilyClient(cfg.WebSearch, logger)

	retrievalRepo := retrieval.NewRepository(c.Pool, logger)
	retrievalService := retrieval.NewServiceImpl(retrievalRepo, textEncoder, visualEncoder, captioner, geocoder, cfg.Retrieval, logger)

	c.Controller = pipeline.NewController(
		intent.NewServiceImpl(aiClient, logger),
		planner.NewServiceImpl(aiClient, logger),
		retrievalService,
		answer.NewServiceImpl(aiClient, webSearch, logger),
		history.NewRedisStore(c.Redis, cfg.History, logger),
		logger,
	)
	c.PipelineHandler = pipeline.NewHandler(c.Controller, logger)
	c.RetrievalHandler = retrieval.NewHandler(retrievalService, geocoder, logger)
}

// Close releases all resources held by the container
func (c *Container) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("Error closing redis client", slog.Any("error", err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// WaitForDB waits for the database to be ready
func (c *Container) WaitForDB(ctx context.Context) bool {
	return database.WaitForDB(ctx, c.Pool, c.Logger)
}
