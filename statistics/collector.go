package statistics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "echoprobe"

// Collector exposes an Aggregator to Prometheus.
type Collector struct {
	agg *Aggregator

	probes   *prometheus.Desc
	sent     *prometheus.Desc
	recv     *prometheus.Desc
	loss     *prometheus.Desc
	avgRtt   *prometheus.Desc
	minRtt   *prometheus.Desc
	duration *prometheus.Desc
}

func NewCollector(host string, agg *Aggregator) *Collector {
	labels := prometheus.Labels{"host": host}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}

	return &Collector{
		agg:      agg,
		probes:   desc("probes_total", "Probes issued."),
		sent:     desc("packets_sent_total", "Echo requests transmitted."),
		recv:     desc("packets_received_total", "Valid echo replies received."),
		loss:     desc("packet_loss_percent", "Probes without a valid reply, as a percentage of probes issued."),
		avgRtt:   desc("rtt_avg_seconds", "Accumulated round-trip time divided by probes issued."),
		minRtt:   desc("rtt_min_seconds", "Smallest round-trip time recorded."),
		duration: desc("session_duration_seconds", "Time since the session started, frozen when it finishes."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.probes
	ch <- c.sent
	ch <- c.recv
	ch <- c.loss
	ch <- c.avgRtt
	ch <- c.minRtt
	ch <- c.duration
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.agg.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.probes, prometheus.CounterValue, float64(s.Count))
	ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(s.PacketsSent))
	ch <- prometheus.MustNewConstMetric(c.recv, prometheus.CounterValue, float64(s.PacketsRecv))
	ch <- prometheus.MustNewConstMetric(c.loss, prometheus.GaugeValue, s.PacketLoss)
	ch <- prometheus.MustNewConstMetric(c.avgRtt, prometheus.GaugeValue, s.AvgRtt.Seconds())
	ch <- prometheus.MustNewConstMetric(c.minRtt, prometheus.GaugeValue, s.MinRtt.Seconds())
	ch <- prometheus.MustNewConstMetric(c.duration, prometheus.GaugeValue, s.Duration.Seconds())
}
