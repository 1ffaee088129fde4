package writer

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// writerMetrics holds Prometheus metrics for a writer. A nil *writerMetrics
// is valid and records nothing.
type writerMetrics struct {
	sent      prometheus.Counter
	failed    prometheus.Counter
	buffered  prometheus.Counter
	dropped   prometheus.Counter
	discarded prometheus.Counter
	pending   prometheus.Gauge
}

// newWriterMetrics creates and registers writer metrics.
func newWriterMetrics(reg prometheus.Registerer, name string) (*writerMetrics, error) {
	labels := prometheus.Labels{"writer": name}
	counter := func(metric, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "ohmage",
			Subsystem:   "stream_writer",
			Name:        metric,
			ConstLabels: labels,
			Help:        help,
		})
	}

	m := &writerMetrics{
		sent:      counter("points_sent_total", "Points handed to the sink"),
		failed:    counter("transport_failures_total", "Points whose send call failed"),
		buffered:  counter("points_buffered_total", "Points appended to the pending buffer"),
		dropped:   counter("points_dropped_total", "Points dropped by the overflow policy"),
		discarded: counter("points_discarded_total", "Buffered points discarded after a rejected bind"),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ohmage",
			Subsystem:   "stream_writer",
			Name:        "pending_points",
			ConstLabels: labels,
			Help:        "Points currently waiting for a connection",
		}),
	}

	for _, c := range []prometheus.Collector{m.sent, m.failed, m.buffered, m.dropped, m.discarded, m.pending} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering writer metrics: %w", err)
		}
	}
	return m, nil
}

func (m *writerMetrics) recordSent() {
	if m != nil {
		m.sent.Inc()
	}
}

func (m *writerMetrics) recordFailed() {
	if m != nil {
		m.failed.Inc()
	}
}

func (m *writerMetrics) recordBuffered(pending int) {
	if m != nil {
		m.buffered.Inc()
		m.pending.Set(float64(pending))
	}
}

func (m *writerMetrics) recordDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *writerMetrics) recordDiscarded(n int) {
	if m != nil {
		m.discarded.Add(float64(n))
		m.pending.Set(0)
	}
}

func (m *writerMetrics) setPending(pending int) {
	if m != nil {
		m.pending.Set(float64(pending))
	}
}
