package cache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	reasonTTL      = "ttl"
	reasonCapacity = "capacity"
	reasonSweep    = "sweep"
)

// metrics holds the Prometheus collectors shared by all namespaces.
type metrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	evictions *prometheus.CounterVec
	entries   *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfse",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		}, []string{"namespace"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfse",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		}, []string{"namespace"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfse",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of cache evictions",
		}, []string{"namespace", "reason"}),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nfse",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of entries in cache",
		}, []string{"namespace"}),
	}

	var err error
	if m.hits, err = register(reg, m.hits); err != nil {
		return nil, err
	}
	if m.misses, err = register(reg, m.misses); err != nil {
		return nil, err
	}
	if m.evictions, err = register(reg, m.evictions); err != nil {
		return nil, err
	}
	if m.entries, err = register(reg, m.entries); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing an identical collector that is already
// registered so several caches can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) forNamespace(ns Namespace) *storeMetrics {
	if m == nil {
		return nil
	}
	label := string(ns)
	return &storeMetrics{
		hits:      m.hits.WithLabelValues(label),
		misses:    m.misses.WithLabelValues(label),
		evictions: m.evictions.MustCurryWith(prometheus.Labels{"namespace": label}),
		entries:   m.entries.WithLabelValues(label),
	}
}

// storeMetrics is the per-namespace view. A nil *storeMetrics records nothing.
type storeMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions *prometheus.CounterVec
	entries   prometheus.Gauge
}

func (m *storeMetrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *storeMetrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *storeMetrics) evicted(reason string, n int) {
	if m != nil {
		m.evictions.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *storeMetrics) setSize(size int) {
	if m != nil {
		m.entries.Set(float64(size))
	}
}
