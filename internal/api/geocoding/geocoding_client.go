package geocoding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-poi-concierge/config"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

var ErrNoResult = errors.New("geocoding returned no result")

type Client interface {
	Forward(ctx context.Context, address string) (*types.Address, error)
	Reverse(ctx context.Context, lat, lng float64) (*types.Address, error)
}

var _ Client = (*NaverClient)(nil)

// NaverClient talks to the Naver Cloud Platform geocoding APIs. Results are
// cached in memory; coordinates are cached at six decimal places.
type NaverClient struct {
	http   *http.Client
	cfg    config.GeocodingConfig
	cache  *cache.Cache
	logger *slog.Logger
}

func NewNaverClient(cfg config.GeocodingConfig, logger *slog.Logger) *NaverClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &NaverClient{
		http:   &http.Client{Timeout: timeout},
		cfg:    cfg,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
	}
}

func (c *NaverClient) Forward(ctx context.Context, address string) (*types.Address, error) {
	ctx, span := otel.Tracer("Geocoding").Start(ctx, "Forward", trace.WithAttributes(
		attribute.String("address", address),
	))
	defer span.End()

	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrNoResult
	}
	key := "fwd:" + address
	if cached, ok := c.cache.Get(key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached.(*types.Address), nil
	}

	data, err := c.get(ctx, c.cfg.GeocodeURL, url.Values{"query": {address}})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Request failed")
		return nil, err
	}
	if gjson.GetBytes(data, "status").String() != "OK" || !gjson.GetBytes(data, "addresses.0").Exists() {
		c.logger.DebugContext(ctx, "No geocoding result", slog.String("address", address))
		return nil, ErrNoResult
	}

	target := gjson.GetBytes(data, "addresses.0")
	addr := &types.Address{
		Latitude:     target.Get("y").Float(),
		Longitude:    target.Get("x").Float(),
		RoadAddress:  target.Get("roadAddress").String(),
		JibunAddress: target.Get("jibunAddress").String(),
	}
	c.cache.SetDefault(key, addr)
	span.SetStatus(codes.Ok, "Geocoded")
	return addr, nil
}

// Reverse resolves coordinates to road and jibun addresses, preferring the
// road-address result when the API returns one.
func (c *NaverClient) Reverse(ctx context.Context, lat, lng float64) (*types.Address, error) {
	ctx, span := otel.Tracer("Geocoding").Start(ctx, "Reverse", trace.WithAttributes(
		attribute.Float64("lat", lat),
		attribute.Float64("lng", lng),
	))
	defer span.End()

	key := fmt.Sprintf("rev:%.6f,%.6f", lat, lng)
	if cached, ok := c.cache.Get(key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached.(*types.Address), nil
	}

	coords := strconv.FormatFloat(lng, 'f', -1, 64) + "," + strconv.FormatFloat(lat, 'f', -1, 64)
	data, err := c.get(ctx, c.cfg.ReverseURL, url.Values{
		"coords": {coords},
		"orders": {"roadaddr,addr"},
		"output": {"json"},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Request failed")
		return nil, err
	}

	status := gjson.GetBytes(data, "status")
	results := gjson.GetBytes(data, "results").Array()
	if (status.Get("name").String() != "ok" && status.String() != "OK") || len(results) == 0 {
		c.logger.DebugContext(ctx, "No reverse geocoding result", slog.Float64("lat", lat), slog.Float64("lng", lng))
		return nil, ErrNoResult
	}

	target := results[0]
	for _, r := range results {
		if r.Get("name").String() == "roadaddr" {
			target = r
			break
		}
	}

	road, jibun := buildAddress(target)
	addr := &types.Address{Latitude: lat, Longitude: lng, RoadAddress: road, JibunAddress: jibun}
	c.cache.SetDefault(key, addr)
	span.SetStatus(codes.Ok, "Reverse geocoded")
	return addr, nil
}

// buildAddress assembles road and jibun forms from the region and land parts of
// one reverse-geocoding result. Land type "2" marks a mountain lot (산).
func buildAddress(result gjson.Result) (road, jibun string) {
	var admin []string
	for i := 1; i <= 4; i++ {
		if name := result.Get(fmt.Sprintf("region.area%d.name", i)).String(); name != "" {
			admin = append(admin, name)
		}
	}
	region := strings.Join(admin, " ")

	land := result.Get("land")
	number1 := land.Get("number1").String()
	road = joinNonEmpty(region, land.Get("name").String(), number1)

	lot := number1
	if number2 := land.Get("number2").String(); number2 != "" {
		lot = number1 + "-" + number2
	}
	if land.Get("type").String() == "2" && lot != "" {
		lot = "산 " + lot
	}
	jibun = joinNonEmpty(region, lot)
	return road, jibun
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func (c *NaverClient) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if endpoint == "" || c.cfg.ClientID == "" {
		return nil, errors.New("geocoding is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("X-NCP-APIGW-API-KEY-ID", c.cfg.ClientID)
	req.Header.Set("X-NCP-APIGW-API-KEY", c.cfg.ClientSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding API error: %s - %s", resp.Status, gjson.GetBytes(data, "errorMessage").String())
	}
	return data, nil
}
