package cache

import (
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Cache.
type Option func(*cacheOptions)

type cacheOptions struct {
	now        func() time.Time
	registerer prometheus.Registerer
	logger     *slog.Logger
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *cacheOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics exports per-namespace counters to the given registerer.
// A nil registerer is ignored.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *cacheOptions) {
		o.registerer = reg
	}
}

// WithLogger sets the logger used by the background sweep.
func WithLogger(logger *slog.Logger) Option {
	return func(o *cacheOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func applyOptions(options ...Option) *cacheOptions {
	o := &cacheOptions{
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range options {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
