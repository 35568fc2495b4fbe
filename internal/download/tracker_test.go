package download

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/nfse-downloader/internal/placement"
)

type memoryArchive struct {
	mu    sync.Mutex
	saved []Snapshot
	err   error
}

func (a *memoryArchive) Save(_ context.Context, s Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.saved = append(a.saved, s)
	return nil
}

var (
	julyFirst   = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	augustFirst = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
)

func TestTracker_CreateGetList(t *testing.T) {
	tick := time.Date(2025, 8, 2, 10, 0, 0, 0, time.UTC)
	tracker, err := NewTracker(WithTrackerClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))
	require.NoError(t, err)

	first := tracker.Create("52399222000122", julyFirst, augustFirst)
	second := tracker.Create("11222333000181", julyFirst, augustFirst)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, StateQueued, first.State())

	got, ok := tracker.Get(first.ID())
	require.True(t, ok)
	assert.Same(t, first, got)

	_, ok = tracker.Snapshot("missing")
	assert.False(t, ok)

	list := tracker.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID(), list[0].ID)
	assert.Equal(t, second.ID(), list[1].ID)
}

func TestTracker_Consume(t *testing.T) {
	archive := &memoryArchive{}
	tracker, err := NewTracker(WithArchiver(archive))
	require.NoError(t, err)

	job := tracker.Create("52399222000122", julyFirst, augustFirst)

	_, err = tracker.Consume(context.Background(), job.ID())
	assert.ErrorIs(t, err, ErrJobNotTerminal)

	require.NoError(t, job.Start())
	job.Record(placement.Outcome{Result: placement.Written}, "")
	require.NoError(t, job.Complete())

	snap, err := tracker.Consume(context.Background(), job.ID())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.Status)
	assert.Equal(t, 1, snap.Progress.Written)
	require.Len(t, archive.saved, 1)
	assert.Equal(t, job.ID(), archive.saved[0].ID)

	_, ok := tracker.Get(job.ID())
	assert.False(t, ok)

	_, err = tracker.Consume(context.Background(), job.ID())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestTracker_ConsumeKeepsJobWhenArchiveFails(t *testing.T) {
	archive := &memoryArchive{err: errors.New("connection refused")}
	tracker, err := NewTracker(WithArchiver(archive))
	require.NoError(t, err)

	job := tracker.Create("52399222000122", julyFirst, augustFirst)
	require.NoError(t, job.Fail(errors.New("boom")))

	_, err = tracker.Consume(context.Background(), job.ID())
	require.Error(t, err)

	_, ok := tracker.Get(job.ID())
	assert.True(t, ok)
}

func TestTracker_Summary(t *testing.T) {
	tracker, err := NewTracker()
	require.NoError(t, err)

	a := tracker.Create("52399222000122", julyFirst, augustFirst)
	require.NoError(t, a.Start())
	a.Record(placement.Outcome{Result: placement.Written}, "")
	a.Record(placement.Outcome{Result: placement.Skipped}, "")
	require.NoError(t, a.Complete())

	b := tracker.Create("11222333000181", julyFirst, augustFirst)
	require.NoError(t, b.Start())
	b.Record(placement.Outcome{Result: placement.Conflicted}, "")

	tracker.Create("33444555000100", julyFirst, augustFirst)

	s := tracker.Summary()
	assert.Equal(t, map[string]int{"queued": 1, "running": 1, "completed": 1, "failed": 0}, s.Jobs)
	assert.Equal(t, 1, s.Written)
	assert.Equal(t, 1, s.SkippedDuplicate)
	assert.Equal(t, 1, s.Conflicted)
}

func TestTracker_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	tracker, err := NewTracker(WithRegisterer(reg))
	require.NoError(t, err)

	// A second tracker on the same registry shares the collectors.
	_, err = NewTracker(WithRegisterer(reg))
	require.NoError(t, err)

	job := tracker.Create("52399222000122", julyFirst, augustFirst)
	require.NoError(t, job.Start())
	job.Record(placement.Outcome{Result: placement.Written}, "")
	job.Record(placement.Outcome{Result: placement.Written}, "")
	job.Retried()
	require.NoError(t, job.Complete())

	m := tracker.m
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.artifacts.WithLabelValues("written")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pageRetries))
}
