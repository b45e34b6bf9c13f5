package conversion

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "fileconv"

	LabelFamily  = "family"
	LabelOutcome = "outcome"
	LabelStage   = "stage"
)

// MetricsObserver exports conversion events as Prometheus metrics.
type MetricsObserver struct {
	conversions  *prometheus.CounterVec
	failures     *prometheus.CounterVec
	pollFailures *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	transferred  *prometheus.CounterVec
}

var _ Observer = (*MetricsObserver)(nil)

// NewMetricsObserver registers the conversion metrics with reg.
func NewMetricsObserver(reg prometheus.Registerer) *MetricsObserver {
	factory := promauto.With(reg)

	return &MetricsObserver{
		conversions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "conversions_total",
			Help:      "Finished conversions by outcome",
		}, []string{LabelFamily, LabelOutcome}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "conversion_failures_total",
			Help:      "Failed conversions by stage",
		}, []string{LabelFamily, LabelStage}),
		pollFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "poll_failures_total",
			Help:      "Job status queries that failed and were retried",
		}, []string{LabelFamily}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Wall time of conversions",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{LabelFamily, LabelOutcome}),
		transferred: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "converted_bytes_total",
			Help:      "Bytes of converted artifacts written",
		}, []string{LabelFamily}),
	}
}

func (o *MetricsObserver) Observe(_ context.Context, e Event) {
	family := string(e.Family)

	switch e.Kind {
	case EventPollFailed:
		o.pollFailures.WithLabelValues(family).Inc()
	case EventCompleted:
		o.conversions.WithLabelValues(family, "success").Inc()
		o.duration.WithLabelValues(family, "success").Observe(e.Duration.Seconds())
		o.transferred.WithLabelValues(family).Add(float64(e.OutputSize))
	case EventFailed:
		o.conversions.WithLabelValues(family, "failure").Inc()
		o.failures.WithLabelValues(family, string(e.Stage)).Inc()
		o.duration.WithLabelValues(family, "failure").Observe(e.Duration.Seconds())
	}
}
