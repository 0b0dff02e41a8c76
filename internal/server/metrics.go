package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/muurk/otafleet/internal/fleet"
)

const metricsNamespace = "otafleet"

// metrics exposes fleet counters to Prometheus. Each server owns its own
// registry so several can coexist in one process.
type metrics struct {
	registry        *prometheus.Registry
	tokenMismatches prometheus.Counter
	actions         *prometheus.CounterVec
}

func newMetrics(f *fleet.Fleet) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		tokenMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_mismatches_total",
			Help:      "OTA requests rejected for a wrong provisioning hash.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operator_actions_total",
			Help:      "Operator approve/deny actions by outcome.",
		}, []string{"action", "outcome"}),
	}

	counter := func(name, help string, value func(fleet.Counters) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(f.Counters())) })
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.tokenMismatches,
		m.actions,
		counter("version_checks_total", "Version checks received.",
			func(c fleet.Counters) uint64 { return c.VersionChecks }),
		counter("ota_requests_total", "OTA requests received.",
			func(c fleet.Counters) uint64 { return c.OTARequests }),
		counter("downloads_started_total", "Firmware downloads started.",
			func(c fleet.Counters) uint64 { return c.StartedDownloads }),
		counter("downloads_completed_total", "Firmware downloads completed.",
			func(c fleet.Counters) uint64 { return c.CompletedDownloads }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "devices",
			Help:      "Devices known to the registry.",
		}, func() float64 { return float64(f.Registry().Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_transfers",
			Help:      "Firmware downloads in progress.",
		}, func() float64 { return float64(f.Tracker().Len()) }),
	)
	return m
}

func (m *metrics) recordAction(action fleet.Action, res fleet.ActionResult) {
	outcome := "ok"
	if !res.OK {
		outcome = res.Reason
	}
	m.actions.WithLabelValues(string(action), outcome).Inc()
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
