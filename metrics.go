package gelfpipe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const metricNamespace = "gelfpipe"

// Metrics is the registry holding the pipeline counters. A forwarder lives
// for one record, so the counters are pushed rather than scraped; see
// PushMetrics.
var Metrics = prometheus.NewRegistry()

var (
	// bodyBytes counts message body bytes read from the input
	bodyBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "body_bytes_total",
			Help:      "Number of message body bytes read",
		},
		[]string{"mode"},
	)

	// wireBytes counts compressed bytes handed to a destination
	wireBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "wire_bytes_total",
			Help:      "Number of compressed bytes written",
		},
		[]string{"codec"},
	)

	// deliveries counts envelopes by transport and outcome
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "deliveries_total",
			Help:      "Number of delivery attempts",
		},
		[]string{"mode", "result"},
	)
)

func init() {
	Metrics.MustRegister(bodyBytes)
	Metrics.MustRegister(wireBytes)
	Metrics.MustRegister(deliveries)
}

// observeDelivery records the outcome of one delivery.
func observeDelivery(mode string, body int64, err error) {
	bodyBytes.WithLabelValues(mode).Add(float64(body))
	result := "ok"
	if err != nil {
		result = "error"
		var e *Error
		if errors.As(err, &e) {
			result = e.Kind.String()
		}
	}
	deliveries.WithLabelValues(mode, result).Inc()
}

// PushMetrics sends the counters to a Prometheus Pushgateway at url, grouped
// under job and instance.
func PushMetrics(ctx context.Context, url, job, instance string) error {
	p := push.New(url, job).Gatherer(Metrics)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
