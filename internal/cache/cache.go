package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/handiism/nfse-downloader/internal/model"
)

// Namespace names a logical cache region.
type Namespace string

const (
	NamespaceListing  Namespace = "file-listing"
	NamespaceHash     Namespace = "content-hash"
	NamespaceParsed   Namespace = "parsed-artifact"
	NamespaceDecision Namespace = "duplicate-decision"
)

// Namespaces lists every namespace in a stable order.
var Namespaces = []Namespace{
	NamespaceListing,
	NamespaceHash,
	NamespaceParsed,
	NamespaceDecision,
}

// Policy bounds a namespace. A zero TTL never expires entries and a zero
// MaxEntries never evicts for capacity.
type Policy struct {
	TTL        time.Duration
	MaxEntries int
}

// Config holds the per-namespace policies and the sweep interval.
type Config struct {
	Policies      map[Namespace]Policy
	SweepInterval time.Duration
}

// DefaultConfig returns the policies used when nothing is configured.
//
// Listings go stale within seconds while hashes stay valid for the whole run,
// hence the spread.
func DefaultConfig() Config {
	return Config{
		Policies: map[Namespace]Policy{
			NamespaceListing:  {TTL: 30 * time.Second, MaxEntries: 1_000},
			NamespaceHash:     {TTL: 24 * time.Hour, MaxEntries: 100_000},
			NamespaceParsed:   {TTL: time.Hour, MaxEntries: 10_000},
			NamespaceDecision: {TTL: 6 * time.Hour, MaxEntries: 100_000},
		},
		SweepInterval: time.Minute,
	}
}

// namespaceStore is the untyped view of a Store used for sweeping,
// clearing and reporting.
type namespaceStore interface {
	Namespace() Namespace
	Sweep() int
	Clear()
	Stats() Stats
}

// Cache groups the four namespace stores shared by all download jobs.
type Cache struct {
	Listings  *Store[[]string]
	Hashes    *Store[string]
	Parsed    *Store[model.Document]
	Decisions *Store[model.Verdict]

	stores        []namespaceStore
	sweepInterval time.Duration
	logger        *slog.Logger

	lifecycleMu sync.Mutex
	started     bool
	shutdown    chan struct{}
	done        chan struct{}
}

// New creates a Cache. Namespaces missing from cfg.Policies get their
// default policy.
func New(cfg Config, opts ...Option) (*Cache, error) {
	o := applyOptions(opts...)

	defaults := DefaultConfig()
	policy := func(ns Namespace) Policy {
		if p, ok := cfg.Policies[ns]; ok {
			return p
		}
		return defaults.Policies[ns]
	}

	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = defaults.SweepInterval
	}

	var m *metrics
	if o.registerer != nil {
		var err error
		m, err = newMetrics(o.registerer)
		if err != nil {
			return nil, fmt.Errorf("cache metrics: %w", err)
		}
	}

	c := &Cache{
		Listings:      newStore[[]string](NamespaceListing, policy(NamespaceListing), o.now, m.forNamespace(NamespaceListing)),
		Hashes:        newStore[string](NamespaceHash, policy(NamespaceHash), o.now, m.forNamespace(NamespaceHash)),
		Parsed:        newStore[model.Document](NamespaceParsed, policy(NamespaceParsed), o.now, m.forNamespace(NamespaceParsed)),
		Decisions:     newStore[model.Verdict](NamespaceDecision, policy(NamespaceDecision), o.now, m.forNamespace(NamespaceDecision)),
		sweepInterval: interval,
		logger:        o.logger,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
	}
	c.stores = []namespaceStore{c.Listings, c.Hashes, c.Parsed, c.Decisions}

	return c, nil
}

// Start launches the background sweep. It stops when ctx is done or Close is
// called. Calling Start more than once has no effect.
func (c *Cache) Start(ctx context.Context) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.started {
		return
	}
	c.started = true

	go c.sweepLoop(ctx)
}

// Close stops the background sweep and waits for it to exit.
func (c *Cache) Close() error {
	c.lifecycleMu.Lock()
	started := c.started
	select {
	case <-c.shutdown:
	default:
		close(c.shutdown)
	}
	c.lifecycleMu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for cache sweep to finish")
	}
}

// SweepAll removes expired entries from every namespace, one namespace lock
// at a time, and returns the total removed.
func (c *Cache) SweepAll() int {
	total := 0
	for _, s := range c.stores {
		total += s.Sweep()
	}
	return total
}

// Clear empties one namespace.
func (c *Cache) Clear(ns Namespace) error {
	s, ok := c.store(ns)
	if !ok {
		return fmt.Errorf("unknown cache namespace %q", ns)
	}
	s.Clear()
	return nil
}

// ClearAll empties every namespace.
func (c *Cache) ClearAll() {
	for _, s := range c.stores {
		s.Clear()
	}
}

// Stats returns the statistics of one namespace.
func (c *Cache) Stats(ns Namespace) (Stats, bool) {
	s, ok := c.store(ns)
	if !ok {
		return Stats{}, false
	}
	return s.Stats(), true
}

// AllStats returns the statistics of every namespace in Namespaces order.
func (c *Cache) AllStats() []Stats {
	out := make([]Stats, 0, len(c.stores))
	for _, s := range c.stores {
		out = append(out, s.Stats())
	}
	return out
}

func (c *Cache) store(ns Namespace) (namespaceStore, bool) {
	for _, s := range c.stores {
		if s.Namespace() == ns {
			return s, true
		}
	}
	return nil, false
}

func (c *Cache) sweepLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			if n := c.SweepAll(); n > 0 {
				c.logger.Debug("cache sweep", "removed", n)
			}
		}
	}
}
