package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// entry is a cached value with its bookkeeping. insertedAt never changes and
// hitCount only grows.
type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
	hitCount   int64
}

// Store is a thread-safe TTL and capacity bounded key/value store for a
// single namespace.
type Store[V any] struct {
	name    Namespace
	policy  Policy
	now     func() time.Time
	metrics *storeMetrics

	mu    sync.Mutex
	items map[string]*list.Element
	// order holds entries by insertion; front is the oldest.
	order *list.List

	misses    int64
	evictions int64
}

func newStore[V any](name Namespace, policy Policy, now func() time.Time, m *storeMetrics) *Store[V] {
	return &Store[V]{
		name:    name,
		policy:  policy,
		now:     now,
		metrics: m,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Namespace returns the namespace this store serves.
func (s *Store[V]) Namespace() Namespace {
	return s.name
}

// Policy returns the TTL and capacity of the store.
func (s *Store[V]) Policy() Policy {
	return s.policy
}

// Get returns the value stored under key if it has not expired.
// A stale entry is removed and reported as absent.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V

	s.mu.Lock()
	el, ok := s.items[key]
	if !ok {
		s.mu.Unlock()
		s.recordMiss()
		return zero, false
	}

	e := el.Value.(*entry[V])
	if s.expired(e, s.now()) {
		s.removeLocked(el)
		size := s.order.Len()
		s.mu.Unlock()

		s.recordEvictions(reasonTTL, 1, size)
		s.recordMiss()
		return zero, false
	}

	e.hitCount++
	value := e.value
	s.mu.Unlock()

	s.metrics.hit()
	return value, true
}

// Put inserts or overwrites key, then evicts the oldest entries until the
// store is within MaxEntries. An overwrite starts a fresh entry.
func (s *Store[V]) Put(key string, value V) {
	s.mu.Lock()
	evicted := s.insertLocked(key, value)
	size := s.order.Len()
	s.mu.Unlock()

	s.recordEvictions(reasonCapacity, evicted, size)
}

// PutIfAbsent stores value only when key holds no live entry. It returns the
// value now associated with key and whether value was stored. Finding a live
// entry is not a lookup and does not count as a hit.
func (s *Store[V]) PutIfAbsent(key string, value V) (V, bool) {
	s.mu.Lock()
	if el, ok := s.items[key]; ok {
		e := el.Value.(*entry[V])
		if !s.expired(e, s.now()) {
			existing := e.value
			s.mu.Unlock()
			return existing, false
		}
		s.removeLocked(el)
	}

	evicted := s.insertLocked(key, value)
	size := s.order.Len()
	s.mu.Unlock()

	s.recordEvictions(reasonCapacity, evicted, size)
	return value, true
}

// Delete removes key and reports whether it was present.
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	el, ok := s.items[key]
	if ok {
		s.removeLocked(el)
	}
	size := s.order.Len()
	s.mu.Unlock()

	s.metrics.setSize(size)
	return ok
}

// Clear removes every entry immediately.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	s.items = make(map[string]*list.Element)
	s.order.Init()
	s.mu.Unlock()

	s.metrics.setSize(0)
}

// Len returns the number of entries, including expired ones not yet removed.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Sweep removes every expired entry and returns how many were removed.
//
// Entries are ordered by insertion and the clock only moves forward, so the
// scan stops at the first live entry.
func (s *Store[V]) Sweep() int {
	if s.policy.TTL <= 0 {
		return 0
	}

	now := s.now()
	removed := 0

	s.mu.Lock()
	for el := s.order.Front(); el != nil; {
		e := el.Value.(*entry[V])
		if !s.expired(e, now) {
			break
		}
		next := el.Next()
		s.removeLocked(el)
		removed++
		el = next
	}
	size := s.order.Len()
	s.mu.Unlock()

	s.recordEvictions(reasonSweep, removed, size)
	return removed
}

// Stats computes a snapshot of the store. Nothing is cached between calls.
// Expired entries that have not been swept yet are left out.
func (s *Store[V]) Stats() Stats {
	now := s.now()

	s.mu.Lock()
	size := 0
	var hits int64
	var age time.Duration
	for el := s.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[V])
		if s.expired(e, now) {
			continue
		}
		size++
		hits += e.hitCount
		age += now.Sub(e.insertedAt)
	}
	s.mu.Unlock()

	st := Stats{
		Namespace:  s.name,
		Size:       size,
		MaxEntries: s.policy.MaxEntries,
		TTLSeconds: s.policy.TTL.Seconds(),
		TotalHits:  hits,
		Misses:     atomic.LoadInt64(&s.misses),
		Evictions:  atomic.LoadInt64(&s.evictions),
	}
	if size > 0 {
		st.AverageAgeSeconds = age.Seconds() / float64(size)
	}
	return st
}

func (s *Store[V]) expired(e *entry[V], now time.Time) bool {
	return s.policy.TTL > 0 && now.Sub(e.insertedAt) >= s.policy.TTL
}

func (s *Store[V]) insertLocked(key string, value V) int {
	if el, ok := s.items[key]; ok {
		s.removeLocked(el)
	}

	s.items[key] = s.order.PushBack(&entry[V]{
		key:        key,
		value:      value,
		insertedAt: s.now(),
	})

	if s.policy.MaxEntries <= 0 {
		return 0
	}

	evicted := 0
	for s.order.Len() > s.policy.MaxEntries {
		s.removeLocked(s.order.Front())
		evicted++
	}
	return evicted
}

func (s *Store[V]) removeLocked(el *list.Element) {
	e := s.order.Remove(el).(*entry[V])
	delete(s.items, e.key)
}

func (s *Store[V]) recordMiss() {
	atomic.AddInt64(&s.misses, 1)
	s.metrics.miss()
}

func (s *Store[V]) recordEvictions(reason string, n, size int) {
	if n > 0 {
		atomic.AddInt64(&s.evictions, int64(n))
		s.metrics.evicted(reason, n)
	}
	s.metrics.setSize(size)
}
