package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/handiism/nfse-downloader/internal/cache"
	"github.com/handiism/nfse-downloader/internal/download"
	"github.com/handiism/nfse-downloader/internal/fetch"
)

const shutdownTimeout = 5 * time.Second

// ArchiveReader lists archived job snapshots.
type ArchiveReader interface {
	List(ctx context.Context, taxpayerID string, limit uint64) ([]download.Snapshot, error)
}

// Server exposes the tracker and the cache over HTTP.
type Server struct {
	tracker  *download.Tracker
	cache    *cache.Cache
	runner   *download.Runner
	archive  ArchiveReader
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	// jobsCtx bounds jobs started through the API.
	jobsCtx context.Context
	jobs    sync.WaitGroup

	mux *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithRunner enables POST /api/executions. Jobs started through the API run
// until ctx is done.
func WithRunner(ctx context.Context, r *download.Runner) Option {
	return func(s *Server) {
		s.runner = r
		s.jobsCtx = ctx
	}
}

// WithArchive enables GET /api/archive.
func WithArchive(a ArchiveReader) Option {
	return func(s *Server) {
		s.archive = a
	}
}

// WithGatherer serves g on /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a Server. c may be nil, in which case the cache
// endpoints answer 404.
func NewServer(tracker *download.Tracker, c *cache.Cache, opts ...Option) *Server {
	s := &Server{
		tracker:  tracker,
		cache:    c,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		jobsCtx:  context.Background(),
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/executions", s.handleList)
	s.mux.HandleFunc("POST /api/executions", s.handleStart)
	s.mux.HandleFunc("GET /api/executions/{id}", s.handleGet)
	s.mux.HandleFunc("POST /api/executions/{id}/ack", s.handleAck)
	s.mux.HandleFunc("GET /api/summary", s.handleSummary)
	s.mux.HandleFunc("GET /api/archive", s.handleArchive)
	s.mux.HandleFunc("GET /api/cache", s.handleCacheStats)
	s.mux.HandleFunc("DELETE /api/cache", s.handleCacheClearAll)
	s.mux.HandleFunc("DELETE /api/cache/{namespace}", s.handleCacheClear)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("report server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("report server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown report server: %w", err)
	}
	return nil
}

// Wait blocks until every job started through the API has finished.
func (s *Server) Wait() {
	s.jobs.Wait()
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tracker.List())
}

type startRequest struct {
	TaxpayerID string `json:"taxpayerId"`
	From       string `json:"from"`
	To         string `json:"to"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("starting jobs is disabled"))
		return
	}

	var req startRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	from, err := time.Parse(time.DateOnly, req.From)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("from: %w", err))
		return
	}
	to, err := time.Parse(time.DateOnly, req.To)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("to: %w", err))
		return
	}

	q := fetch.Query{TaxpayerID: req.TaxpayerID, From: from, To: to}
	if err := q.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	job := s.runner.Submit(download.Request{TaxpayerID: q.TaxpayerID, From: q.From, To: q.To})
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		_ = s.runner.Execute(s.jobsCtx, job)
	}()

	s.logger.Info("job submitted", "job", job.ID(), "taxpayer", req.TaxpayerID)
	w.Header().Set("Location", "/api/executions/"+job.ID())
	s.writeJSON(w, http.StatusAccepted, job.Snapshot())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.tracker.Snapshot(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, download.ErrJobNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	snap, err := s.tracker.Consume(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, snap)
	case errors.Is(err, download.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, download.ErrJobNotTerminal):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.logger.Error("consume job", "job", r.PathValue("id"), "error", err)
		s.writeError(w, http.StatusBadGateway, err)
	}
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tracker.Summary())
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("archive is not configured"))
		return
	}

	var limit uint64 = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("limit: %w", err))
			return
		}
		limit = n
	}

	snaps, err := s.archive.List(r.Context(), r.URL.Query().Get("taxpayerId"), limit)
	if err != nil {
		s.logger.Error("list archive", "error", err)
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	if snaps == nil {
		snaps = []download.Snapshot{}
	}
	s.writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		s.writeError(w, http.StatusNotFound, errors.New("no cache"))
		return
	}
	s.writeJSON(w, http.StatusOK, s.cache.AllStats())
}

func (s *Server) handleCacheClearAll(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		s.writeError(w, http.StatusNotFound, errors.New("no cache"))
		return
	}
	s.cache.ClearAll()
	s.logger.Info("cache cleared", "namespace", "all")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeError(w, http.StatusNotFound, errors.New("no cache"))
		return
	}
	ns := r.PathValue("namespace")
	if err := s.cache.Clear(cache.Namespace(ns)); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.logger.Info("cache cleared", "namespace", ns)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
