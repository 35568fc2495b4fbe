package download

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const resultFailed = "failed"

type metrics struct {
	jobs        *prometheus.CounterVec
	artifacts   *prometheus.CounterVec
	pageRetries prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfse",
			Name:      "jobs_total",
			Help:      "Job state transitions by target state",
		}, []string{"state"}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfse",
			Name:      "artifacts_total",
			Help:      "Artifacts handled by placement result",
		}, []string{"result"}),
		pageRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nfse",
			Name:      "page_retries_total",
			Help:      "Listing page fetches retried after a transient error",
		}),
	}

	var err error
	if m.jobs, err = register(reg, m.jobs); err != nil {
		return nil, err
	}
	if m.artifacts, err = register(reg, m.artifacts); err != nil {
		return nil, err
	}
	if m.pageRetries, err = register(reg, m.pageRetries); err != nil {
		return nil, err
	}
	return m, nil
}

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

// A nil *metrics records nothing.

func (m *metrics) jobState(s State) {
	if m != nil {
		m.jobs.WithLabelValues(s.String()).Inc()
	}
}

func (m *metrics) artifact(result string) {
	if m != nil {
		m.artifacts.WithLabelValues(result).Inc()
	}
}

func (m *metrics) pageRetry() {
	if m != nil {
		m.pageRetries.Inc()
	}
}
