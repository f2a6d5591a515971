package offlinecache

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts lifecycle and resolution outcomes. A nil *Metrics records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	resolves      *prometheus.CounterVec
	installs      *prometheus.CounterVec
	retired       prometheus.Counter
	activeEntries prometheus.Gauge
	activeVersion *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	resolves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_cache_resolves_total",
		Help: "Total resolved requests",
	}, []string{"result"})

	installs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_cache_installs_total",
		Help: "Total snapshot installs",
	}, []string{"result"})

	retired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offline_cache_retired_versions_total",
		Help: "Total snapshot versions deleted by retirement",
	})

	activeEntries := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offline_cache_active_entries",
		Help: "Number of entries in the active snapshot",
	})

	activeVersion := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "offline_cache_active_version",
		Help: "Active snapshot version",
	}, []string{"version"})

	registry.MustRegister(resolves, installs, retired, activeEntries, activeVersion)

	return &Metrics{
		registry:      registry,
		resolves:      resolves,
		installs:      installs,
		retired:       retired,
		activeEntries: activeEntries,
		activeVersion: activeVersion,
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveResolve records a resolution with result hit, miss or error.
func (m *Metrics) ObserveResolve(result string) {
	if m == nil {
		return
	}
	m.resolves.WithLabelValues(result).Inc()
}

// ObserveInstall records an install with result ok or failed.
func (m *Metrics) ObserveInstall(result string) {
	if m == nil {
		return
	}
	m.installs.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRetired(n int) {
	if m == nil {
		return
	}
	m.retired.Add(float64(n))
}

func (m *Metrics) SetActive(version string, entries int) {
	if m == nil {
		return
	}
	m.activeVersion.Reset()
	if version != "" {
		m.activeVersion.WithLabelValues(version).Set(1)
	}
	m.activeEntries.Set(float64(entries))
}
