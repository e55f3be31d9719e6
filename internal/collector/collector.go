package collector

import (
	"log/slog"

	"github.com/clambin/smokeping/internal/check"
	"github.com/prometheus/client_golang/prometheus"
)

// Source returns the per-target statistics of the last completed invocation of a check.
type Source interface {
	Statistics() map[string]check.Statistics
}

var _ Source = &check.Check{}

// Collector exports the statistics of the last completed invocation of a check as Prometheus gauges.
type Collector struct {
	Source Source
	Logger *slog.Logger
}

var (
	sentMetric = prometheus.NewDesc(
		prometheus.BuildFQName("smokeping", "last", "packets_sent"),
		"Packets sent during the last check",
		[]string{"dst_addr"},
		nil,
	)
	receivedMetric = prometheus.NewDesc(
		prometheus.BuildFQName("smokeping", "last", "packets_received"),
		"Packets received during the last check",
		[]string{"dst_addr"},
		nil,
	)
	latencyMetric = prometheus.NewDesc(
		prometheus.BuildFQName("smokeping", "last", "latency_seconds"),
		"Average latency during the last check",
		[]string{"dst_addr"},
		nil,
	)
)

// Describe implements the Prometheus Collector interface
func (c Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sentMetric
	ch <- receivedMetric
	ch <- latencyMetric
}

// Collect implements the Prometheus Collector interface
func (c Collector) Collect(ch chan<- prometheus.Metric) {
	for address, stats := range c.Source.Statistics() {
		if c.Logger != nil {
			c.Logger.Debug("stats", "dst_addr", address, "sent", stats.Sent, "received", stats.Received, "latency", stats.Latency)
		}
		ch <- prometheus.MustNewConstMetric(sentMetric, prometheus.GaugeValue, float64(stats.Sent), address)
		ch <- prometheus.MustNewConstMetric(receivedMetric, prometheus.GaugeValue, float64(stats.Received), address)
		ch <- prometheus.MustNewConstMetric(latencyMetric, prometheus.GaugeValue, stats.Latency.Seconds(), address)
	}
}
