package viewport

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

type schedulerMetricsCollection struct {
	observedCount metric.Int64Counter
	triggerCount  metric.Int64Counter
}

func setupSchedulerMetrics(meter metric.Meter) (schedulerMetricsCollection, error) {
	observedCount, err := meter.Int64Counter(
		"viewport/observed_count",
		metric.WithDescription("Elements registered for deferred loading"),
	)
	if err != nil {
		return schedulerMetricsCollection{}, fmt.Errorf("failed to create observed count metric: %w", err)
	}

	triggerCount, err := meter.Int64Counter(
		"viewport/trigger_count",
		metric.WithDescription("Deferred loads started"),
	)
	if err != nil {
		return schedulerMetricsCollection{}, fmt.Errorf("failed to create trigger count metric: %w", err)
	}

	return schedulerMetricsCollection{
		observedCount: observedCount,
		triggerCount:  triggerCount,
	}, nil
}
