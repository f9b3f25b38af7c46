package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/FACorreiaa/go-poi-concierge/internal/api/pipeline"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/retrieval"
)

// Config contains dependencies needed for the router setup
type Config struct {
	PipelineHandler  *pipeline.Handler
	RetrievalHandler *retrieval.Handler
	// RequestsPerMinute caps /api/v1 traffic per client IP. Zero disables the limit.
	RequestsPerMinute int
}

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (logger, requestID, recoverer) is applied in main.go
// before this router is mounted.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RequestsPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RequestsPerMinute, time.Minute))
		}

		r.Route("/chat", func(r chi.Router) {
			r.Post("/turn", cfg.PipelineHandler.Turn)
			r.Post("/turn/stream", cfg.PipelineHandler.TurnStream)
			r.Get("/threads/{threadID}/messages", cfg.PipelineHandler.Messages)
			r.Get("/threads/{threadID}/checkpoint", cfg.PipelineHandler.Checkpoint)
		})

		r.Route("/places", func(r chi.Router) {
			r.Get("/nearby", cfg.RetrievalHandler.Nearby)
			r.Post("/search", cfg.RetrievalHandler.Search)
		})
	})

	return r
}
