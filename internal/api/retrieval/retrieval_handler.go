package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-poi-concierge/internal/api"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/geocoding"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

const (
	defaultNearbyLimit    = 3
	defaultNearbyRadiusKm = 5.0
	maxResults            = 50
)

type SearchResponse struct {
	Results []types.Candidate `json:"results"`
	Count   int               `json:"count"`
	// Origin is the geocoded address a nearby search was centred on.
	Origin *types.Address `json:"origin,omitempty"`
}

// AddressResolver turns a free-form address into coordinates.
type AddressResolver interface {
	Forward(ctx context.Context, address string) (*types.Address, error)
}

type Handler struct {
	service  Service
	geocoder AddressResolver
	logger   *slog.Logger
}

// NewHandler builds the places handler. geocoder may be nil, in which case
// nearby searches need explicit coordinates.
func NewHandler(service Service, geocoder AddressResolver, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		geocoder: geocoder,
		logger:   logger,
	}
}

// Nearby lists places around lat/lng, nearest first. An address query
// parameter can stand in for the coordinates.
//
// @Summary      Nearby places
// @Description  Lists indexed places within radius_km of a point, nearest first. Pass lat and lng, or an address to geocode.
// @Tags         places
// @Produce      json
// @Param        lat        query     number  false  "Latitude, required unless address is given"
// @Param        lng        query     number  false  "Longitude, required unless address is given"
// @Param        address    query     string  false  "Address to geocode when lat and lng are absent"
// @Param        limit      query     int     false  "Maximum results (1-50)" default(3)
// @Param        radius_km  query     number  false  "Search radius in kilometres" default(5)
// @Success      200  {object}  SearchResponse
// @Failure      400  {object}  api.ErrorBody
// @Failure      404  {object}  api.ErrorBody  "Address not found"
// @Failure      500  {object}  api.ErrorBody
// @Failure      502  {object}  api.ErrorBody  "Geocoding failed"
// @Router       /api/v1/places/nearby [get]
func (h *Handler) Nearby(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("RetrievalHandler").Start(r.Context(), "Nearby", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/api/v1/places/nearby"),
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "Nearby"))

	q := r.URL.Query()
	address := strings.TrimSpace(q.Get("address"))
	hasCoords := q.Get("lat") != "" && q.Get("lng") != ""
	if !hasCoords && (address == "" || h.geocoder == nil) {
		api.ErrorResponse(w, r, http.StatusBadRequest, "lat and lng are required unless address is given")
		return
	}

	var lat, lng float64
	var err error
	if hasCoords {
		lat, err = api.QueryFloat(r, "lat", 0)
		if err != nil || lat < -90 || lat > 90 {
			api.ErrorResponse(w, r, http.StatusBadRequest, "lat must be a number between -90 and 90")
			return
		}
		lng, err = api.QueryFloat(r, "lng", 0)
		if err != nil || lng < -180 || lng > 180 {
			api.ErrorResponse(w, r, http.StatusBadRequest, "lng must be a number between -180 and 180")
			return
		}
	}
	limit, err := api.QueryInt(r, "limit", defaultNearbyLimit)
	if err != nil || limit <= 0 || limit > maxResults {
		api.ErrorResponse(w, r, http.StatusBadRequest, "limit must be between 1 and 50")
		return
	}
	radius, err := api.QueryFloat(r, "radius_km", defaultNearbyRadiusKm)
	if err != nil || radius <= 0 {
		api.ErrorResponse(w, r, http.StatusBadRequest, "radius_km must be a positive number")
		return
	}

	var origin *types.Address
	if !hasCoords {
		origin, err = h.geocoder.Forward(ctx, address)
		if err != nil {
			span.RecordError(err)
			if errors.Is(err, geocoding.ErrNoResult) {
				api.ErrorResponse(w, r, http.StatusNotFound, "address not found")
				return
			}
			l.ErrorContext(ctx, "Address lookup failed", slog.String("address", address), slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusBadGateway, "Failed to look up address")
			return
		}
		lat, lng = origin.Latitude, origin.Longitude
	}
	span.SetAttributes(attribute.Float64("lat", lat), attribute.Float64("lng", lng))

	results, err := h.service.Nearby(ctx, lat, lng, limit, radius)
	if err != nil {
		l.ErrorContext(ctx, "Nearby search failed", slog.Any("error", err))
		span.RecordError(err)
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to search nearby places")
		return
	}
	if results == nil {
		results = []types.Candidate{}
	}

	l.InfoContext(ctx, "Nearby search served", slog.Int("count", len(results)))
	api.WriteJSONResponse(w, r, http.StatusOK, SearchResponse{Results: results, Count: len(results), Origin: origin})
}

// Search runs a fused search over the text and image channels.
//
// @Summary      Search places
// @Description  Runs the text-semantic, cross-modal and image-visual channels and fuses their rankings.
// @Tags         places
// @Accept       json
// @Produce      json
// @Param        request  body      SearchRequest  true  "Query text and/or image reference"
// @Success      200      {object}  SearchResponse
// @Failure      400      {object}  api.ErrorBody
// @Router       /api/v1/places/search [post]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("RetrievalHandler").Start(r.Context(), "Search", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/api/v1/places/search"),
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "Search"))

	var req SearchRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Invalid search request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" && strings.TrimSpace(req.ImageRef) == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "query or image_ref is required")
		return
	}
	if req.Limit < 0 || req.Limit > maxResults {
		api.ErrorResponse(w, r, http.StatusBadRequest, "limit must be between 1 and 50")
		return
	}

	results := h.service.HybridSearch(ctx, req)
	if results == nil {
		results = []types.Candidate{}
	}

	l.InfoContext(ctx, "Search served", slog.Int("count", len(results)))
	api.WriteJSONResponse(w, r, http.StatusOK, SearchResponse{Results: results, Count: len(results)})
}
