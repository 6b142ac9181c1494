package licensekey

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "licensekey"

type cacheMetrics struct {
	hits              prometheus.Counter
	misses            prometheus.Counter
	parseFailures     prometheus.Counter
	signatureFailures prometheus.Counter
	entries           prometheus.GaugeFunc
}

func newCacheMetrics(size func() float64) *cacheMetrics {
	return &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "License keys served from the deserialization cache.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "License keys parsed because they were not cached.",
		}),
		parseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "parse_failures_total",
			Help:      "License keys rejected as malformed.",
		}),
		signatureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "signature_failures_total",
			Help:      "Parsed license keys whose signature did not verify.",
		}),
		entries: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "License keys held by the deserialization cache.",
		}, size),
	}
}

func (m *cacheMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.hits, m.misses, m.parseFailures, m.signatureFailures, m.entries}
}

// register adds the collectors to reg. Counters already registered by another
// cache are shared so that several caches report into one series.
func (m *cacheMetrics) register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		err := reg.Register(c)
		if err == nil {
			continue
		}
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
		if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
			m.swap(c, existing)
		}
	}
	return nil
}

func (m *cacheMetrics) swap(c prometheus.Collector, existing prometheus.Counter) {
	switch c {
	case m.hits:
		m.hits = existing
	case m.misses:
		m.misses = existing
	case m.parseFailures:
		m.parseFailures = existing
	case m.signatureFailures:
		m.signatureFailures = existing
	}
}
