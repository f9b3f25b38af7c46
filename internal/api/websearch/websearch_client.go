package websearch

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

	"github.com/FACorreiaa/go-poi-concierge/app/observability/metrics"
	"github.com/FACorreiaa/go-poi-concierge/config"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

const (
	defaultQuery      = "한국 여행 추천"
	defaultMaxResults = 3
	snippetRunes      = 200
)

var ErrNotConfigured = errors.New("web search is not configured")

type Client interface {
	Search(ctx context.Context, query string) ([]types.WebResult, error)
}

var _ Client = (*TavilyClient)(nil)

// TavilyClient queries the Tavily search API.
type TavilyClient struct {
	http       *http.Client
	url        string
	apiKey     string
	maxResults int
	logger     *slog.Logger
}

func NewTavilyClient(cfg config.WebSearchConfig, logger *slog.Logger) *TavilyClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 || maxResults > defaultMaxResults {
		maxResults = defaultMaxResults
	}
	return &TavilyClient{
		http:       &http.Client{Timeout: timeout},
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		maxResults: maxResults,
		logger:     logger,
	}
}

// FallbackQuery builds the query used when the place index found nothing.
func FallbackQuery(location, text string) string {
	query := strings.TrimSpace(text)
	if query == "" {
		query = defaultQuery
	}
	if location = strings.TrimSpace(location); location != "" {
		query = fmt.Sprintf("%s 여행 %s", location, query)
	}
	return query
}

// Search returns at most three results with their content cut to 200 characters.
func (c *TavilyClient) Search(ctx context.Context, query string) ([]types.WebResult, error) {
	ctx, span := otel.Tracer("WebSearch").Start(ctx, "Search", trace.WithAttributes(
		attribute.String("query", query),
	))
	defer span.End()

	if c.apiKey == "" || c.url == "" {
		span.SetStatus(codes.Error, "Not configured")
		return nil, ErrNotConfigured
	}
	metrics.Get().WebFallbacksTotal.Add(ctx, 1)

	body, err := json.Marshal(map[string]any{
		"query":        query,
		"max_results":  c.maxResults,
		"search_depth": "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Request failed")
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("web search API error: %s - %s", resp.Status, gjson.GetBytes(data, "detail").String())
		span.RecordError(err)
		span.SetStatus(codes.Error, "API error")
		return nil, err
	}

	var results []types.WebResult
	gjson.GetBytes(data, "results").ForEach(func(_, r gjson.Result) bool {
		content := strings.TrimSpace(r.Get("content").String())
		if content == "" {
			return true
		}
		results = append(results, types.WebResult{
			Title:   r.Get("title").String(),
			URL:     r.Get("url").String(),
			Content: truncate(content, snippetRunes),
		})
		return len(results) < c.maxResults
	})

	c.logger.DebugContext(ctx, "Web search completed", slog.Int("results", len(results)))
	span.SetAttributes(attribute.Int("results.count", len(results)))
	span.SetStatus(codes.Ok, "Search completed")
	return results, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
