package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/go-poi-concierge/app/observability/metrics"
	"github.com/FACorreiaa/go-poi-concierge/config"
	generativeAI "github.com/FACorreiaa/go-poi-concierge/internal/api/generative_ai"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

// SearchRequest drives one fused search. Caption, when set, is reused instead of
// describing the image again; an empty caption disables the caption channel.
type SearchRequest struct {
	Query    string  `json:"query,omitempty"`
	ImageRef string  `json:"image_ref,omitempty"`
	Category string  `json:"category,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	Caption  *string `json:"caption,omitempty"`
}

// ReverseGeocoder resolves coordinates to an address.
type ReverseGeocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (*types.Address, error)
}

type Service interface {
	HybridSearch(ctx context.Context, req SearchRequest) []types.Candidate
	Nearby(ctx context.Context, lat, lng float64, limit int, radiusKm float64) ([]types.Candidate, error)
	ItineraryFanout(ctx context.Context, segments []types.ItinerarySegment, imageRef string, caption *string) []types.Candidate
	// Retrieve runs the turn-level orchestration and returns the capped candidate list.
	Retrieve(ctx context.Context, state *types.TurnState) types.StateDelta
}

var _ Service = (*ServiceImpl)(nil)

type ServiceImpl struct {
	index     Index
	text      generativeAI.TextEncoder
	visual    generativeAI.VisualEncoder
	captioner generativeAI.Captioner
	geocoder  ReverseGeocoder
	weights   Weights
	cfg       config.RetrievalConfig
	logger    *slog.Logger
}

func NewServiceImpl(
	index Index,
	text generativeAI.TextEncoder,
	visual generativeAI.VisualEncoder,
	captioner generativeAI.Captioner,
	geocoder ReverseGeocoder,
	cfg config.RetrievalConfig,
	logger *slog.Logger,
) *ServiceImpl {
	cfg = withDefaults(cfg)
	return &ServiceImpl{
		index:     index,
		text:      text,
		visual:    visual,
		captioner: captioner,
		geocoder:  geocoder,
		weights: Weights{
			types.ChannelTextSemantic: cfg.Weights.TextSemantic,
			types.ChannelTextToImage:  cfg.Weights.TextToImage,
			types.ChannelImageVisual:  cfg.Weights.ImageVisual,
			types.ChannelImageCaption: cfg.Weights.ImageCaption,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// withDefaults fills zero values; a zero weight means "unset", not "disabled".
func withDefaults(cfg config.RetrievalConfig) config.RetrievalConfig {
	def := DefaultWeights()
	if cfg.Weights.TextSemantic == 0 {
		cfg.Weights.TextSemantic = def[types.ChannelTextSemantic]
	}
	if cfg.Weights.TextToImage == 0 {
		cfg.Weights.TextToImage = def[types.ChannelTextToImage]
	}
	if cfg.Weights.ImageVisual == 0 {
		cfg.Weights.ImageVisual = def[types.ChannelImageVisual]
	}
	if cfg.Weights.ImageCaption == 0 {
		cfg.Weights.ImageCaption = def[types.ChannelImageCaption]
	}
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = 5
	}
	if cfg.MultiMatchBoost == 0 {
		cfg.MultiMatchBoost = DefaultMultiMatchBoost
	}
	if cfg.PhotoGroupSize <= 0 {
		cfg.PhotoGroupSize = 3
	}
	if cfg.GeneralLimit <= 0 {
		cfg.GeneralLimit = 5
	}
	if cfg.SegmentLimit <= 0 {
		cfg.SegmentLimit = 3
	}
	if cfg.NearbyLimit <= 0 {
		cfg.NearbyLimit = 3
	}
	if cfg.NearbyRadiusKm <= 0 {
		cfg.NearbyRadiusKm = 5.0
	}
	if cfg.ScrollPageSize <= 0 {
		cfg.ScrollPageSize = 100
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 5
	}
	if cfg.FanoutConcurrency <= 0 {
		cfg.FanoutConcurrency = 4
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 15 * time.Second
	}
	return cfg
}

// imageContext is the per-turn image work shared by every search of the turn.
type imageContext struct {
	ref     string
	caption string
	vec     []float32
}

type searchPlan struct {
	query  string
	image  *imageContext
	filter Filter
	limit  int
}

func (s *ServiceImpl) HybridSearch(ctx context.Context, req SearchRequest) []types.Candidate {
	ctx, span := otel.Tracer("Retrieval").Start(ctx, "HybridSearch", trace.WithAttributes(
		attribute.Int("query.length", len(req.Query)),
		attribute.Bool("image", req.ImageRef != ""),
		attribute.String("category", req.Category),
		attribute.Int("limit", req.Limit),
	))
	defer span.End()

	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.GeneralLimit
	}
	var image *imageContext
	if req.ImageRef != "" {
		image = s.prepareImage(ctx, req.ImageRef, req.Caption)
	}

	results := s.search(ctx, searchPlan{
		query:  strings.TrimSpace(req.Query),
		image:  image,
		filter: Filter{Category: NormalizeCategory(req.Category)},
		limit:  limit,
	})
	span.SetAttributes(attribute.Int("results.count", len(results)))
	span.SetStatus(codes.Ok, "Hybrid search completed")
	return results
}

// prepareImage captions and embeds the image once. Either half may fail on its
// own; the matching channel is then left out of every search that uses the context.
func (s *ServiceImpl) prepareImage(ctx context.Context, ref string, caption *string) *imageContext {
	img := &imageContext{ref: ref}
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		vec, err := timed(s, ctx, types.ChannelImageVisual, func(ctx context.Context) ([]float32, error) {
			return s.visual.EncodeVisualImage(ctx, ref)
		})
		if err != nil {
			s.channelFailed(ctx, types.ChannelImageVisual, err)
			return
		}
		img.vec = vec
	}()

	if caption != nil {
		img.caption = strings.TrimSpace(*caption)
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(ctx, s.cfg.ChannelTimeout)
			defer cancel()
			text, err := s.captioner.Caption(ctx, ref)
			if err != nil {
				s.channelFailed(ctx, types.ChannelImageCaption, err)
				return
			}
			img.caption = strings.TrimSpace(text)
		}()
	}

	wg.Wait()
	return img
}

type channelRun struct {
	channel types.Channel
	query   func(ctx context.Context) ([]types.PlaceHit, error)
}

// search runs every active channel concurrently and fuses them in a fixed channel order.
func (s *ServiceImpl) search(ctx context.Context, plan searchPlan) []types.Candidate {
	fetch := plan.limit * s.cfg.OverfetchFactor
	var runs []channelRun

	if plan.query != "" {
		query := plan.query
		runs = append(runs,
			channelRun{channel: types.ChannelTextSemantic, query: func(ctx context.Context) ([]types.PlaceHit, error) {
				vec, err := s.text.EncodeText(ctx, query)
				if err != nil {
					return nil, err
				}
				return s.index.Query(ctx, vec, FieldTextVec, fetch, plan.filter)
			}},
			channelRun{channel: types.ChannelTextToImage, query: func(ctx context.Context) ([]types.PlaceHit, error) {
				vec, err := s.visual.EncodeVisualText(ctx, query)
				if err != nil {
					return nil, err
				}
				return s.index.Query(ctx, vec, FieldImageVec, fetch, plan.filter)
			}},
		)
	}

	if img := plan.image; img != nil {
		if img.vec != nil {
			runs = append(runs, channelRun{channel: types.ChannelImageVisual, query: func(ctx context.Context) ([]types.PlaceHit, error) {
				return s.index.QueryGrouped(ctx, img.vec, fetch, s.cfg.PhotoGroupSize, plan.filter)
			}})
		}
		if img.caption != "" {
			caption := img.caption
			runs = append(runs, channelRun{channel: types.ChannelImageCaption, query: func(ctx context.Context) ([]types.PlaceHit, error) {
				vec, err := s.text.EncodeText(ctx, caption)
				if err != nil {
					return nil, err
				}
				return s.index.Query(ctx, vec, FieldTextVec, fetch, plan.filter)
			}})
		}
	}

	hits := make([][]types.PlaceHit, len(runs))
	var wg sync.WaitGroup
	for i, run := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := timed(s, ctx, run.channel, run.query)
			if err != nil {
				s.channelFailed(ctx, run.channel, err)
				return
			}
			hits[i] = res
		}()
	}
	wg.Wait()

	f := newFusion(s.weights, s.cfg.MultiMatchBoost)
	for i, run := range runs {
		f.add(run.channel, hits[i])
	}
	return f.ranked(plan.limit)
}

// timed bounds one channel call and records its duration.
func timed[T any](s *ServiceImpl, ctx context.Context, ch types.Channel, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ChannelTimeout)
	defer cancel()
	start := time.Now()
	res, err := fn(ctx)
	metrics.Get().ChannelDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("channel", string(ch))))
	return res, err
}

func (s *ServiceImpl) channelFailed(ctx context.Context, ch types.Channel, err error) {
	err = fmt.Errorf("%w: %s: %w", types.ErrChannelFailure, ch, err)
	s.logger.WarnContext(ctx, "Retrieval channel failed, contributing no hits",
		slog.String("channel", string(ch)), slog.Any("error", err))
	trace.SpanFromContext(ctx).RecordError(err)
	metrics.Get().ChannelFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", string(ch))))
}

func (s *ServiceImpl) Nearby(ctx context.Context, lat, lng float64, limit int, radiusKm float64) ([]types.Candidate, error) {
	ctx, span := otel.Tracer("Retrieval").Start(ctx, "Nearby", trace.WithAttributes(
		attribute.Float64("lat", lat),
		attribute.Float64("lng", lng),
		attribute.Int("limit", limit),
		attribute.Float64("radius_km", radiusKm),
	))
	defer span.End()

	// Full scan: there is no geospatial index, so cost grows with the number of places.
	var all []types.Place
	after := ""
	for {
		page, next, err := s.index.Scroll(ctx, Filter{}, s.cfg.ScrollPageSize, after)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Scroll failed")
			return nil, fmt.Errorf("failed to scan places: %w", err)
		}
		all = append(all, page...)
		if next == "" {
			break
		}
		after = next
	}

	results := rankNearby(all, lat, lng, limit, radiusKm)
	s.logger.DebugContext(ctx, "Nearby search completed",
		slog.Int("scanned", len(all)), slog.Int("returned", len(results)))
	span.SetAttributes(attribute.Int("scanned", len(all)), attribute.Int("results.count", len(results)))
	span.SetStatus(codes.Ok, "Nearby search completed")
	return results, nil
}

func (s *ServiceImpl) ItineraryFanout(ctx context.Context, segments []types.ItinerarySegment, imageRef string, caption *string) []types.Candidate {
	var image *imageContext
	if imageRef != "" {
		image = s.prepareImage(ctx, imageRef, caption)
	}
	return s.fanout(ctx, segments, image)
}

// fanout searches every segment concurrently, bounded by FanoutConcurrency.
// Results are flattened in segment order and tagged with their segment.
func (s *ServiceImpl) fanout(ctx context.Context, segments []types.ItinerarySegment, image *imageContext) []types.Candidate {
	ctx, span := otel.Tracer("Retrieval").Start(ctx, "ItineraryFanout", trace.WithAttributes(
		attribute.Int("segments", len(segments)),
		attribute.Int("concurrency", s.cfg.FanoutConcurrency),
	))
	defer span.End()

	results := make([][]types.Candidate, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FanoutConcurrency)

	searched := 0
	for i, seg := range segments {
		query := strings.TrimSpace(seg.Query())
		if query == "" {
			continue
		}
		searched++
		g.Go(func() error {
			found := s.search(gctx, searchPlan{
				query:  query,
				image:  image,
				filter: Filter{Category: NormalizeCategory(seg.Category)},
				limit:  s.cfg.SegmentLimit,
			})
			link := &types.ItineraryLink{Day: seg.Day, TimeSlot: seg.TimeSlot, Activity: seg.Activity}
			for j := range found {
				found[j].Itinerary = link
			}
			results[i] = found
			return nil
		})
	}
	_ = g.Wait()
	metrics.Get().FanoutSegments.Record(ctx, int64(searched))

	flat := dedupCandidates(lo.Flatten(results), -1)
	span.SetAttributes(attribute.Int("segments.searched", searched), attribute.Int("results.count", len(flat)))
	span.SetStatus(codes.Ok, "Fan-out completed")
	return flat
}

func (s *ServiceImpl) Retrieve(ctx context.Context, state *types.TurnState) types.StateDelta {
	ctx, span := otel.Tracer("Retrieval").Start(ctx, "Retrieve", trace.WithAttributes(
		attribute.String("thread.id", state.ThreadID.String()),
		attribute.String("intent", state.PrimaryIntent.String()),
		attribute.Int("itinerary.length", len(state.Itinerary)),
	))
	defer span.End()

	var image *imageContext
	if state.HasImage() {
		image = s.prepareImage(ctx, state.ImageRef, nil)
	}

	var lists [][]types.Candidate
	if state.PrimaryIntent == types.IntentTripPlanning && len(state.Itinerary) > 0 {
		lists = append(lists, s.fanout(ctx, state.Itinerary, image))
	}

	address := ""
	if state.Location != nil && s.geocoder != nil {
		addr, err := s.geocoder.Reverse(ctx, state.Location.Latitude, state.Location.Longitude)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "Reverse geocoding failed, searching without address", slog.Any("error", err))
		case addr != nil:
			address = addr.Formatted()
		}
	}

	query := EnrichQuery(state.Text, state.Slots, address)
	if query != "" || image != nil {
		general := s.search(ctx, searchPlan{
			query:  query,
			image:  image,
			filter: Filter{Category: NormalizeCategory(state.Slots.Category)},
			limit:  s.cfg.GeneralLimit,
		})
		lists = append(lists, general)
	}

	if state.Location != nil {
		nearby, err := s.Nearby(ctx, state.Location.Latitude, state.Location.Longitude, s.cfg.NearbyLimit, s.cfg.NearbyRadiusKm)
		if err != nil {
			s.channelFailed(ctx, types.ChannelNearby, err)
		} else {
			lists = append(lists, nearby)
		}
	}

	candidates := dedupCandidates(lo.Flatten(lists), s.cfg.MaxCandidates)
	metrics.Get().CandidatesReturned.Record(ctx, int64(len(candidates)))
	if len(candidates) == 0 {
		s.logger.InfoContext(ctx, "Retrieval produced no candidates", slog.Any("error", types.ErrEmptyResult))
	}

	span.SetAttributes(attribute.Int("candidates.count", len(candidates)))
	span.SetStatus(codes.Ok, "Retrieval completed")
	return types.StateDelta{Candidates: &candidates}
}

// dedupCandidates keeps the first occurrence of each place id and caps the list
// when limit is non-negative.
func dedupCandidates(in []types.Candidate, limit int) []types.Candidate {
	out := lo.UniqBy(in, func(c types.Candidate) string { return c.ID })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []types.Candidate{}
	}
	return out
}
