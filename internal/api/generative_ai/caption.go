package generativeAI

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const captionPrompt = `당신은 여행 사진을 읽는 큐레이터입니다.
사진 속 장소의 분위기, 감정, 풍경, 계절감, 어울리는 여행 테마를 한국어 한두 문장으로 묘사하세요.
장소 이름을 추측하지 말고, 검색에 쓰일 수 있도록 구체적인 형용사와 명사를 사용하세요.`

// Captioner turns an image into a short descriptive caption. An empty caption
// with a nil error means the model had nothing to say.
type Captioner interface {
	Caption(ctx context.Context, imageRef string) (string, error)
}

var _ Captioner = (*CaptionService)(nil)

type CaptionService struct {
	generator Generator
	cache     *cache.Cache
	logger    *slog.Logger
}

func NewCaptionService(generator Generator, ttl time.Duration, logger *slog.Logger) *CaptionService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CaptionService{
		generator: generator,
		cache:     cache.New(ttl, 2*ttl),
		logger:    logger,
	}
}

func (c *CaptionService) Caption(ctx context.Context, imageRef string) (string, error) {
	ctx, span := otel.Tracer("GenerativeAI").Start(ctx, "Caption", trace.WithAttributes(
		attribute.Int("image_ref.length", len(imageRef)),
	))
	defer span.End()

	key := captionKey(imageRef)
	if cached, found := c.cache.Get(key); found {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		span.SetStatus(codes.Ok, "Caption served from cache")
		return cached.(string), nil
	}

	caption, err := c.generator.Invoke(ctx, Prompt{
		System:      captionPrompt,
		ImageRef:    imageRef,
		Temperature: Temperature(0.2),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Caption generation failed")
		return "", fmt.Errorf("failed to caption image: %w", err)
	}

	caption = strings.TrimSpace(caption)
	if caption != "" {
		c.cache.Set(key, caption, cache.DefaultExpiration)
	}
	c.logger.DebugContext(ctx, "Image captioned", slog.Int("caption_length", len(caption)))
	span.SetStatus(codes.Ok, "Image captioned")
	return caption, nil
}

// captionKey hashes the reference so inline base64 images do not become cache keys.
func captionKey(imageRef string) string {
	sum := sha256.Sum256([]byte(imageRef))
	return hex.EncodeToString(sum[:])
}
