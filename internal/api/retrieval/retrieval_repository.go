package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-poi-concierge/app/observability/metrics"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

// VectorField names one embedding column of the places table.
type VectorField string

const (
	FieldTextVec  VectorField = "text_vec"
	FieldImageVec VectorField = "img_vec_agg"
)

// Filter is applied inside every index query. An empty category matches all places.
type Filter struct {
	Category string
}

// Index is the vector index over places and their photos.
type Index interface {
	// Query ranks places by cosine similarity on one embedding column.
	Query(ctx context.Context, vector []float32, field VectorField, limit int, filter Filter) ([]types.PlaceHit, error)
	// QueryGrouped ranks photos, groups them by place and keeps the top groupSize photo urls
	// per place. A group scores as its best photo.
	QueryGrouped(ctx context.Context, vector []float32, limit, groupSize int, filter Filter) ([]types.PlaceHit, error)
	// Scroll returns one page of places in id order starting after the given id.
	// next is empty once the last page has been read.
	Scroll(ctx context.Context, filter Filter, pageSize int, after string) (page []types.Place, next string, err error)
}

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ Index = (*RepositoryImpl)(nil)

type RepositoryImpl struct {
	logger *slog.Logger
	db     DB
}

func NewRepository(db DB, logger *slog.Logger) *RepositoryImpl {
	return &RepositoryImpl{
		logger: logger,
		db:     db,
	}
}

const placeColumns = `p.id, p.title, COALESCE(p.address, ''), COALESCE(p.description, ''),
            COALESCE(p.emotional_description, ''), p.category, COALESCE(p.image_url, ''), p.lat, p.lng`

func (r *RepositoryImpl) Query(ctx context.Context, vector []float32, field VectorField, limit int, filter Filter) ([]types.PlaceHit, error) {
	ctx, span := otel.Tracer("Repository").Start(ctx, "Query", trace.WithAttributes(
		attribute.String("field", string(field)),
		attribute.Int("embedding.dimension", len(vector)),
		attribute.Int("limit", limit),
		attribute.String("filter.category", filter.Category),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Query"), slog.String("field", string(field)))

	if field != FieldTextVec && field != FieldImageVec {
		err := fmt.Errorf("unknown vector field %q", field)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Unknown vector field")
		return nil, err
	}

	query := fmt.Sprintf(`
        SELECT %[1]s,
            1 - (p.%[2]s <=> $1::vector) AS score
        FROM places p
        WHERE p.%[2]s IS NOT NULL
          AND ($3 = '' OR p.category = $3)
        ORDER BY p.%[2]s <=> $1::vector
        LIMIT $2
    `, placeColumns, field)

	rows, err := r.db.Query(ctx, query, vectorLiteral(vector), limit, filter.Category)
	if err != nil {
		l.ErrorContext(ctx, "Failed to query places", slog.Any("error", err))
		queryFailed(ctx, "query")
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, fmt.Errorf("failed to query places by %s: %w", field, err)
	}
	defer rows.Close()

	var hits []types.PlaceHit
	for rows.Next() {
		var hit types.PlaceHit
		if err := rows.Scan(placeScanTargets(&hit.Place, &hit.Score)...); err != nil {
			l.ErrorContext(ctx, "Failed to scan place row", slog.Any("error", err))
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan place row: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating place rows: %w", err)
	}

	l.DebugContext(ctx, "Places ranked", slog.Int("count", len(hits)))
	span.SetAttributes(attribute.Int("results.count", len(hits)))
	span.SetStatus(codes.Ok, "Places ranked")
	return hits, nil
}

func (r *RepositoryImpl) QueryGrouped(ctx context.Context, vector []float32, limit, groupSize int, filter Filter) ([]types.PlaceHit, error) {
	ctx, span := otel.Tracer("Repository").Start(ctx, "QueryGrouped", trace.WithAttributes(
		attribute.Int("embedding.dimension", len(vector)),
		attribute.Int("limit", limit),
		attribute.Int("group_size", groupSize),
		attribute.String("filter.category", filter.Category),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "QueryGrouped"))

	query := `
        WITH ranked AS (
            SELECT ph.place_id, ph.image_url,
                1 - (ph.img_vec <=> $1::vector) AS score,
                ROW_NUMBER() OVER (PARTITION BY ph.place_id ORDER BY ph.img_vec <=> $1::vector) AS rn
            FROM photos ph
            JOIN places pl ON pl.id = ph.place_id
            WHERE ph.img_vec IS NOT NULL
              AND ($3 = '' OR pl.category = $3)
        )
        SELECT ` + placeColumns + `,
            MAX(r.score) AS score,
            ARRAY_AGG(r.image_url ORDER BY r.rn) AS photo_urls
        FROM ranked r
        JOIN places p ON p.id = r.place_id
        WHERE r.rn <= $4
        GROUP BY p.id
        ORDER BY score DESC
        LIMIT $2
    `

	rows, err := r.db.Query(ctx, query, vectorLiteral(vector), limit, filter.Category, groupSize)
	if err != nil {
		l.ErrorContext(ctx, "Failed to query photo groups", slog.Any("error", err))
		queryFailed(ctx, "query_grouped")
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, fmt.Errorf("failed to query photo groups: %w", err)
	}
	defer rows.Close()

	var hits []types.PlaceHit
	for rows.Next() {
		var hit types.PlaceHit
		targets := append(placeScanTargets(&hit.Place, &hit.Score), &hit.Place.PhotoURLs)
		if err := rows.Scan(targets...); err != nil {
			l.ErrorContext(ctx, "Failed to scan photo group row", slog.Any("error", err))
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan photo group row: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating photo group rows: %w", err)
	}

	span.SetAttributes(attribute.Int("results.count", len(hits)))
	span.SetStatus(codes.Ok, "Photo groups ranked")
	return hits, nil
}

func (r *RepositoryImpl) Scroll(ctx context.Context, filter Filter, pageSize int, after string) ([]types.Place, string, error) {
	ctx, span := otel.Tracer("Repository").Start(ctx, "Scroll", trace.WithAttributes(
		attribute.Int("page_size", pageSize),
		attribute.String("after", after),
	))
	defer span.End()

	query := `
        SELECT ` + placeColumns + `
        FROM places p
        WHERE p.id > $1
          AND ($3 = '' OR p.category = $3)
        ORDER BY p.id
        LIMIT $2
    `

	rows, err := r.db.Query(ctx, query, after, pageSize, filter.Category)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to scroll places", slog.Any("error", err))
		queryFailed(ctx, "scroll")
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, "", fmt.Errorf("failed to scroll places: %w", err)
	}
	defer rows.Close()

	var page []types.Place
	for rows.Next() {
		var p types.Place
		if err := rows.Scan(placeScanTargets(&p)...); err != nil {
			span.RecordError(err)
			return nil, "", fmt.Errorf("failed to scan place row: %w", err)
		}
		page = append(page, p)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, "", fmt.Errorf("error iterating place rows: %w", err)
	}

	next := ""
	if pageSize > 0 && len(page) == pageSize {
		next = page[len(page)-1].ID
	}
	span.SetAttributes(attribute.Int("results.count", len(page)))
	span.SetStatus(codes.Ok, "Page read")
	return page, next, nil
}

func placeScanTargets(p *types.Place, extra ...any) []any {
	targets := []any{
		&p.ID, &p.Title, &p.Address, &p.Description,
		&p.EmotionalDescription, &p.Category, &p.ImageURL, &p.Latitude, &p.Longitude,
	}
	return append(targets, extra...)
}

// vectorLiteral renders a pgvector text literal, e.g. [0.1,0.2].
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.Grow(len(v) * 10)
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

func queryFailed(ctx context.Context, op string) {
	metrics.Get().DbQueryErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
