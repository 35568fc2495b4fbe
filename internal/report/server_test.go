package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/nfse-downloader/internal/cache"
	"github.com/handiism/nfse-downloader/internal/download"
	"github.com/handiism/nfse-downloader/internal/fetch"
	"github.com/handiism/nfse-downloader/internal/model"
	"github.com/handiism/nfse-downloader/internal/placement"
)

var (
	from = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	to   = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	server  *httptest.Server
	tracker *download.Tracker
	cache   *cache.Cache
	report  *Server
}

type stubArchive struct {
	gotTaxpayer string
	gotLimit    uint64
	err         error
}

func (a *stubArchive) List(_ context.Context, taxpayerID string, limit uint64) ([]download.Snapshot, error) {
	a.gotTaxpayer, a.gotLimit = taxpayerID, limit
	return nil, a.err
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	reg := prometheus.NewRegistry()
	c, err := cache.New(cache.DefaultConfig(), cache.WithMetrics(reg))
	require.NoError(t, err)
	tracker, err := download.NewTracker(download.WithRegisterer(reg))
	require.NoError(t, err)

	s := NewServer(tracker, c, append([]Option{WithGatherer(reg)}, opts...)...)
	server := httptest.NewServer(s)
	t.Cleanup(server.Close)

	return &fixture{server: server, tracker: tracker, cache: c, report: s}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestServer_GetExecution(t *testing.T) {
	f := newFixture(t)

	job := f.tracker.Create("52399222000122", from, to)
	require.NoError(t, job.Start())
	job.PageFetched(1, 2)
	job.Record(placement.Outcome{Result: placement.Written}, "")

	resp, raw := f.do(t, http.MethodGet, "/api/executions/"+job.ID(), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, job.ID(), body["id"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, map[string]any{
		"currentPage":      1.0,
		"totalPages":       2.0,
		"written":          1.0,
		"skippedDuplicate": 0.0,
		"conflicted":       0.0,
	}, body["progress"])

	resp, _ = f.do(t, http.MethodGet, "/api/executions/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ListAndSummary(t *testing.T) {
	f := newFixture(t)
	f.tracker.Create("52399222000122", from, to)
	f.tracker.Create("11222333000181", from, to)

	resp, raw := f.do(t, http.MethodGet, "/api/executions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []download.Snapshot
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Len(t, list, 2)

	resp, raw = f.do(t, http.MethodGet, "/api/summary", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary download.Summary
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, 2, summary.Jobs["queued"])
}

func TestServer_Ack(t *testing.T) {
	f := newFixture(t)
	job := f.tracker.Create("52399222000122", from, to)
	require.NoError(t, job.Start())

	resp, _ := f.do(t, http.MethodPost, "/api/executions/"+job.ID()+"/ack", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, job.Complete())
	resp, _ = f.do(t, http.MethodPost, "/api/executions/"+job.ID()+"/ack", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/executions/"+job.ID(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Cache(t *testing.T) {
	f := newFixture(t)
	f.cache.Hashes.Put("2025/072025/52399222000122/a.xml", "abc")
	f.cache.Hashes.Get("2025/072025/52399222000122/a.xml")

	resp, raw := f.do(t, http.MethodGet, "/api/cache", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats []cache.Stats
	require.NoError(t, json.Unmarshal(raw, &stats))
	require.Len(t, stats, len(cache.Namespaces))
	for _, s := range stats {
		if s.Namespace == cache.NamespaceHash {
			assert.Equal(t, 1, s.Size)
			assert.Equal(t, int64(1), s.TotalHits)
		}
	}

	resp, _ = f.do(t, http.MethodDelete, "/api/cache/content-hash", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, f.cache.Hashes.Len())

	resp, _ = f.do(t, http.MethodDelete, "/api/cache/thumbnails", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/cache", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t)
	f.tracker.Create("52399222000122", from, to)
	f.cache.Hashes.Put("a.xml", "abc")

	resp, raw := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `nfse_jobs_total{state="queued"} 1`)
	assert.Contains(t, string(raw), `nfse_cache_entries{namespace="content-hash"} 1`)
}

func TestServer_Archive(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/api/archive", "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	archive := &stubArchive{}
	f = newFixture(t, WithArchive(archive))
	resp, raw := f.do(t, http.MethodGet, "/api/archive?taxpayerId=52399222000122&limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(raw))
	assert.Equal(t, "52399222000122", archive.gotTaxpayer)
	assert.Equal(t, uint64(5), archive.gotLimit)

	resp, _ = f.do(t, http.MethodGet, "/api/archive?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	archive.err = errors.New("connection refused")
	resp, _ = f.do(t, http.MethodGet, "/api/archive", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestServer_StartExecution(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := cache.New(cache.DefaultConfig())
	require.NoError(t, err)
	tracker, err := download.NewTracker(download.WithRegisterer(reg))
	require.NoError(t, err)

	empty := fetch.FetcherFunc(func(context.Context, fetch.Query, int) (fetch.Page, error) {
		return fetch.Page{Number: 1}, nil
	})
	placer := placement.NewPlacer(&model.PathConfig{DownloadsPath: t.TempDir()}, c)
	runner := download.NewRunner(download.DefaultConfig(), empty, placer, tracker)

	s := NewServer(tracker, c, WithGatherer(reg), WithRunner(context.Background(), runner))
	server := httptest.NewServer(s)
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/executions", "application/json",
		strings.NewReader(`{"taxpayerId":"52399222000122","from":"2025-07-01","to":"2025-08-01"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var snap download.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "/api/executions/"+snap.ID, resp.Header.Get("Location"))

	s.Wait()
	got, ok := tracker.Snapshot(snap.ID)
	require.True(t, ok)
	assert.Equal(t, download.StateCompleted, got.Status)

	bad, err := http.Post(server.URL+"/api/executions", "application/json",
		strings.NewReader(`{"taxpayerId":"52399222000122","from":"2025-08-01","to":"2025-07-01"}`))
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestServer_StartDisabled(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/api/executions", `{}`)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestServer_ListenAndServeStops(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.report.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
