package resourcecache

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

type resourceCacheMetricsCollection struct {
	fetchCount    metric.Int64Counter
	fetchDuration metric.Float64Histogram
	dedupCount    metric.Int64Counter
	hitCount      metric.Int64Counter
}

func setupResourceCacheMetrics(meter metric.Meter) (resourceCacheMetricsCollection, error) {
	fetchCount, err := meter.Int64Counter(
		"resourcecache/fetch_count",
		metric.WithDescription("Settled image fetches"),
	)
	if err != nil {
		return resourceCacheMetricsCollection{}, fmt.Errorf("failed to create fetch count metric: %w", err)
	}

	fetchDuration, err := meter.Float64Histogram(
		"resourcecache/fetch_duration_seconds",
		metric.WithDescription("Time from starting an image fetch until it settled"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return resourceCacheMetricsCollection{}, fmt.Errorf("failed to create fetch duration metric: %w", err)
	}

	dedupCount, err := meter.Int64Counter(
		"resourcecache/dedup_count",
		metric.WithDescription("Subscriptions attached to an in-flight fetch"),
	)
	if err != nil {
		return resourceCacheMetricsCollection{}, fmt.Errorf("failed to create dedup count metric: %w", err)
	}

	hitCount, err := meter.Int64Counter(
		"resourcecache/hit_count",
		metric.WithDescription("Subscriptions served from a ready record"),
	)
	if err != nil {
		return resourceCacheMetricsCollection{}, fmt.Errorf("failed to create hit count metric: %w", err)
	}

	return resourceCacheMetricsCollection{
		fetchCount:    fetchCount,
		fetchDuration: fetchDuration,
		dedupCount:    dedupCount,
		hitCount:      hitCount,
	}, nil
}
