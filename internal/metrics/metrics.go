// Package metrics collects per-run Prometheus metrics and pushes them to a
// Pushgateway when one is configured.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
)

const (
	namespace = "stockagent"
	subsystem = "agent"
)

// Metrics holds the collectors of one process in a private registry.
type Metrics struct {
	registry *prometheus.Registry
	pushURL  string
	job      string

	StageDuration    *prometheus.HistogramVec
	AlertsTriggered  *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec
	DataErrors       prometheus.Counter
	Runs             *prometheus.CounterVec
}

// New creates and registers the collectors. An empty pushURL disables Push.
func New(pushURL, job string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pushURL:  pushURL,
		job:      job,
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each agent stage",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		AlertsTriggered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "alerts_triggered_total",
				Help:      "Number of threshold crossings per ticker",
			},
			[]string{"ticker"},
		),
		DeliveryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "delivery_failures_total",
				Help:      "Number of failed notification deliveries per channel",
			},
			[]string{"channel"},
		),
		DataErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "data_errors_total",
			Help:      "Number of tickers skipped because of missing or malformed data",
		}),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "runs_total",
				Help:      "Number of agent runs by outcome",
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(m.StageDuration, m.AlertsTriggered, m.DeliveryFailures, m.DataErrors, m.Runs)
	return m
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// AlertTriggered counts one threshold crossing.
func (m *Metrics) AlertTriggered(ticker string) {
	m.AlertsTriggered.WithLabelValues(ticker).Inc()
}

// DeliveryFailed counts one failed delivery.
func (m *Metrics) DeliveryFailed(channel string) {
	m.DeliveryFailures.WithLabelValues(channel).Inc()
}

// DataError counts one skipped ticker.
func (m *Metrics) DataError() {
	m.DataErrors.Inc()
}

// RunFinished counts one run with its outcome ("ok" or "error").
func (m *Metrics) RunFinished(outcome string) {
	m.Runs.WithLabelValues(outcome).Inc()
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Push sends every collector to the Pushgateway. It is a no-op without a URL.
func (m *Metrics) Push(ctx context.Context) error {
	if m.pushURL == "" {
		return nil
	}
	if err := push.New(m.pushURL, m.job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}

// CounterValue reads the current value of a counter or gauge.
func CounterValue(c prometheus.Collector) float64 {
	ch := make(chan prometheus.Metric, 1)
	go func() {
		c.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		pb := &dto.Metric{}
		if err := metric.Write(pb); err != nil {
			continue
		}
		if pb.Counter != nil {
			total += pb.Counter.GetValue()
		} else if pb.Gauge != nil {
			total += pb.Gauge.GetValue()
		}
	}
	return total
}
