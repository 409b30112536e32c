package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var eventsDesc = prometheus.NewDesc(
	"signal_relay_events_total",
	"Signaling relay event counters.",
	[]string{"event"},
	nil,
)

// eventCollector exports every Metrics counter as one series of
// signal_relay_events_total, labelled by event name.
type eventCollector struct {
	m *Metrics
}

func (c eventCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- eventsDesc
}

func (c eventCollector) Collect(ch chan<- prometheus.Metric) {
	for name, v := range c.m.Snapshot() {
		ch <- prometheus.MustNewConstMetric(eventsDesc, prometheus.CounterValue, float64(v), name)
	}
}

// PrometheusHandler serves m, plus any extra collectors, from a private
// registry.
func PrometheusHandler(m *Metrics, extra ...prometheus.Collector) http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(eventCollector{m: m})
	reg.MustRegister(extra...)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// PeerGauges reports live registry sizes at scrape time.
func PeerGauges(senders, receivers func() int) []prometheus.Collector {
	gauge := func(name, help string, f func() int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "signal_relay",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(f()) })
	}
	return []prometheus.Collector{
		gauge("registered_senders", "Senders currently registered.", senders),
		gauge("registered_receivers", "Receivers currently registered.", receivers),
	}
}
