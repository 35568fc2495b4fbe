package download

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/handiism/nfse-downloader/internal/fetch"
)

var (
	// ErrJobNotFound is returned for an unknown execution id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotTerminal is returned when consuming a job that is still
	// queued or running.
	ErrJobNotTerminal = errors.New("job has not finished")
)

// Archiver keeps consumed job snapshots.
type Archiver interface {
	Save(ctx context.Context, s Snapshot) error
}

// Summary aggregates the live jobs.
type Summary struct {
	Jobs             map[string]int `json:"jobs"`
	Written          int            `json:"written"`
	SkippedDuplicate int            `json:"skippedDuplicate"`
	Conflicted       int            `json:"conflicted"`
	FailedWrites     int            `json:"failedWrites"`
	Retries          int            `json:"retries"`
}

// Tracker is the registry of live jobs, keyed by execution id.
type Tracker struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	archiver Archiver
	now      func() time.Time
	m        *metrics
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker) error

// WithArchiver stores consumed jobs in a.
func WithArchiver(a Archiver) TrackerOption {
	return func(t *Tracker) error {
		t.archiver = a
		return nil
	}
}

// WithTrackerClock replaces time.Now.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) error {
		if now != nil {
			t.now = now
		}
		return nil
	}
}

// WithRegisterer exports job metrics to reg.
func WithRegisterer(reg prometheus.Registerer) TrackerOption {
	return func(t *Tracker) error {
		if reg == nil {
			return nil
		}
		m, err := newMetrics(reg)
		if err != nil {
			return fmt.Errorf("job metrics: %w", err)
		}
		t.m = m
		return nil
	}
}

// NewTracker creates an empty Tracker.
func NewTracker(opts ...TrackerOption) (*Tracker, error) {
	t := &Tracker{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Create registers a queued job.
func (t *Tracker) Create(taxpayerID string, from, to time.Time) *Job {
	q := fetch.Query{TaxpayerID: taxpayerID, From: from, To: to}
	job := newJob(uuid.NewString(), q, t.now, t.m)

	t.mu.Lock()
	t.jobs[job.ID()] = job
	t.mu.Unlock()

	t.m.jobState(StateQueued)
	return job
}

// Get returns the live job with the given id.
func (t *Tracker) Get(id string) (*Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	return job, ok
}

// Snapshot returns a copy of the live job with the given id.
func (t *Tracker) Snapshot(id string) (Snapshot, bool) {
	job, ok := t.Get(id)
	if !ok {
		return Snapshot{}, false
	}
	return job.Snapshot(), true
}

// List returns snapshots of every live job, oldest first.
func (t *Tracker) List() []Snapshot {
	t.mu.RLock()
	jobs := make([]*Job, 0, len(t.jobs))
	for _, job := range t.jobs {
		jobs = append(jobs, job)
	}
	t.mu.RUnlock()

	snaps := make([]Snapshot, len(jobs))
	for i, job := range jobs {
		snaps[i] = job.Snapshot()
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps
}

// Summary totals the counters of every live job.
func (t *Tracker) Summary() Summary {
	s := Summary{Jobs: make(map[string]int)}
	for _, state := range []State{StateQueued, StateRunning, StateCompleted, StateFailed} {
		s.Jobs[state.String()] = 0
	}
	for _, snap := range t.List() {
		s.Jobs[snap.Status.String()]++
		s.Written += snap.Progress.Written
		s.SkippedDuplicate += snap.Progress.SkippedDuplicate
		s.Conflicted += snap.Progress.Conflicted
		s.FailedWrites += snap.FailedWrites
		s.Retries += snap.Retries
	}
	return s
}

// Consume hands over a finished job: it is archived, when an archiver is
// configured, and removed from the live set. The job stays live if archiving
// fails.
func (t *Tracker) Consume(ctx context.Context, id string) (Snapshot, error) {
	job, ok := t.Get(id)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	snap := job.Snapshot()
	if !snap.Status.Terminal() {
		return Snapshot{}, fmt.Errorf("%w: %s is %s", ErrJobNotTerminal, id, snap.Status)
	}

	if t.archiver != nil {
		if err := t.archiver.Save(ctx, snap); err != nil {
			return Snapshot{}, fmt.Errorf("archive job %s: %w", id, err)
		}
	}

	t.mu.Lock()
	delete(t.jobs, id)
	t.mu.Unlock()

	return snap, nil
}
