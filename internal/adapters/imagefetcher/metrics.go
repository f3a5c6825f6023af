package imagefetcher

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

type imageFetcherMetricsCollection struct {
	requestCount metric.Int64Counter
}

func setupImageFetcherMetrics(meter metric.Meter) (imageFetcherMetricsCollection, error) {
	requestCount, err := meter.Int64Counter(
		"imagefetcher/request_count",
		metric.WithDescription("Image requests by status code and error category"),
	)
	if err != nil {
		return imageFetcherMetricsCollection{}, fmt.Errorf("failed to create request count metric: %w", err)
	}

	return imageFetcherMetricsCollection{
		requestCount: requestCount,
	}, nil
}
