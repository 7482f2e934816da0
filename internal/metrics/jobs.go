package metrics

import (
	"context"

	"github.com/alecthomas/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/block/repokeeper/internal/jobscheduler"
)

// JobMetrics records one duration sample and one count per worker iteration.
type JobMetrics struct {
	duration metric.Float64Histogram
	count    metric.Int64Counter
}

var _ jobscheduler.Observer = (*JobMetrics)(nil)

func NewJobMetrics(provider metric.MeterProvider) (*JobMetrics, error) {
	meter := provider.Meter("repokeeper")

	duration, err := meter.Float64Histogram(
		"repokeeper.job.duration",
		metric.WithDescription("Duration of maintenance job runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create duration histogram")
	}

	count, err := meter.Int64Counter(
		"repokeeper.job.count",
		metric.WithDescription("Count of maintenance job runs by job and result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create count counter")
	}

	return &JobMetrics{duration: duration, count: count}, nil
}

func (m *JobMetrics) Observe(ctx context.Context, result jobscheduler.Result) {
	outcome := "success"
	if result.Failed() {
		outcome = "failure"
	}
	attrs := resultAttrs(result.Job, outcome)
	m.duration.Record(ctx, result.Duration.Seconds(), attrs)
	m.count.Add(ctx, 1, attrs)
}

func resultAttrs(job, result string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("result", result),
	)
}
