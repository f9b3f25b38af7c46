package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	TurnsTotal         metric.Int64Counter
	StageDuration      metric.Float64Histogram
	ChannelFailures    metric.Int64Counter
	ChannelDuration    metric.Float64Histogram
	FanoutSegments     metric.Int64Histogram
	CandidatesReturned metric.Int64Histogram
	WebFallbacksTotal  metric.Int64Counter
	DbQueryErrorsTotal metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics creates the instruments once, from the global MeterProvider.
// Call it after the provider is installed so instruments reach the exporter.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("PoiConcierge")
		var err error
		m := &AppMetrics{}

		m.TurnsTotal, err = meter.Int64Counter(
			"turns_total",
			metric.WithDescription("Total number of conversation turns processed"),
			metric.WithUnit("{turn}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create turns_total: %v", err)
		}

		m.StageDuration, err = meter.Float64Histogram(
			"turn_stage_duration_seconds",
			metric.WithDescription("Duration of each pipeline stage in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create turn_stage_duration_seconds: %v", err)
		}

		m.ChannelFailures, err = meter.Int64Counter(
			"retrieval_channel_failures_total",
			metric.WithDescription("Retrieval channels that failed and contributed no hits"),
			metric.WithUnit("{failure}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create retrieval_channel_failures_total: %v", err)
		}

		m.ChannelDuration, err = meter.Float64Histogram(
			"retrieval_channel_duration_seconds",
			metric.WithDescription("Duration of a single retrieval channel in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create retrieval_channel_duration_seconds: %v", err)
		}

		m.FanoutSegments, err = meter.Int64Histogram(
			"itinerary_fanout_segments",
			metric.WithDescription("Number of itinerary segments searched per turn"),
			metric.WithUnit("{segment}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create itinerary_fanout_segments: %v", err)
		}

		m.CandidatesReturned, err = meter.Int64Histogram(
			"retrieval_candidates_returned",
			metric.WithDescription("Candidates handed to the answer stage per turn"),
			metric.WithUnit("{candidate}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create retrieval_candidates_returned: %v", err)
		}

		m.WebFallbacksTotal, err = meter.Int64Counter(
			"web_fallbacks_total",
			metric.WithDescription("Turns that fell back to web search"),
			metric.WithUnit("{turn}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create web_fallbacks_total: %v", err)
		}

		m.DbQueryErrorsTotal, err = meter.Int64Counter(
			"db_query_errors_total",
			metric.WithDescription("Total number of database query errors"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_errors_total: %v", err)
		}

		appMetrics = m
	})
}

// Get returns the instruments, creating them against the current global
// provider on first use (a no-op provider in tests).
func Get() *AppMetrics {
	InitAppMetrics()
	return appMetrics
}
