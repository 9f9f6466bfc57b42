package eventbus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements prometheus.Collector for bus delivery
// statistics. Metrics are generated as ConstMetrics on scrape from a
// Stats() snapshot, so the posting hot path carries no additional
// instrumentation.
//
// Usage:
//
//	collector := eventbus.NewPrometheusCollector(bus, "eventbus")
//	prometheus.MustRegister(collector)
type PrometheusCollector struct {
	bus *EventBus

	postedDesc    *prometheus.Desc
	deliveredDesc *prometheus.Desc
	droppedDesc   *prometheus.Desc
	failuresDesc  *prometheus.Desc
	unmatchedDesc *prometheus.Desc
	pendingDesc   *prometheus.Desc
}

// NewPrometheusCollector creates a collector for the given bus.
// namespace is used as the metric prefix (default if empty: eventbus).
func NewPrometheusCollector(bus *EventBus, namespace string) *PrometheusCollector {
	if namespace == "" {
		namespace = "eventbus"
	}
	return &PrometheusCollector{
		bus: bus,
		postedDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_posted_total", namespace),
			"Total events posted (cumulative)",
			nil, nil,
		),
		deliveredDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_delivered_total", namespace),
			"Total delivered events by thread mode (cumulative)",
			[]string{"mode"}, nil,
		),
		droppedDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_dropped_total", namespace),
			"Total deliveries dropped due to inactive subscriptions (cumulative)",
			nil, nil,
		),
		failuresDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_handler_failures_total", namespace),
			"Total handler errors and recovered panics (cumulative)",
			nil, nil,
		),
		unmatchedDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_no_subscriber_total", namespace),
			"Total posts that matched no subscription (cumulative)",
			nil, nil,
		),
		pendingDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_pending_posts", namespace),
			"Current dispatcher queue depth",
			[]string{"dispatcher"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.postedDesc
	ch <- c.deliveredDesc
	ch <- c.droppedDesc
	ch <- c.failuresDesc
	ch <- c.unmatchedDesc
	ch <- c.pendingDesc
}

// Collect implements prometheus.Collector.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.bus.Stats()

	ch <- prometheus.MustNewConstMetric(c.postedDesc, prometheus.CounterValue, float64(stats.Posted))
	ch <- prometheus.MustNewConstMetric(c.deliveredDesc, prometheus.CounterValue, float64(stats.DeliveredInline), "inline")
	ch <- prometheus.MustNewConstMetric(c.deliveredDesc, prometheus.CounterValue, float64(stats.DeliveredMain), "main")
	ch <- prometheus.MustNewConstMetric(c.deliveredDesc, prometheus.CounterValue, float64(stats.DeliveredBackground), "background")
	ch <- prometheus.MustNewConstMetric(c.deliveredDesc, prometheus.CounterValue, float64(stats.DeliveredAsync), "async")
	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(stats.Dropped))
	ch <- prometheus.MustNewConstMetric(c.failuresDesc, prometheus.CounterValue, float64(stats.HandlerFailures))
	ch <- prometheus.MustNewConstMetric(c.unmatchedDesc, prometheus.CounterValue, float64(stats.NoSubscriberEvents))
	ch <- prometheus.MustNewConstMetric(c.pendingDesc, prometheus.GaugeValue, float64(stats.PendingMain), "main")
	ch <- prometheus.MustNewConstMetric(c.pendingDesc, prometheus.GaugeValue, float64(stats.PendingBackground), "background")
	ch <- prometheus.MustNewConstMetric(c.pendingDesc, prometheus.GaugeValue, float64(stats.PendingAsync), "async")
}
