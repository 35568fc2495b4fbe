// Package app wires settings into a ready-to-run downloader: cache, portal
// client, placer, tracker, runner and the optional archive and report server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/handiism/nfse-downloader/internal/archive"
	"github.com/handiism/nfse-downloader/internal/cache"
	"github.com/handiism/nfse-downloader/internal/config"
	"github.com/handiism/nfse-downloader/internal/download"
	"github.com/handiism/nfse-downloader/internal/fetch"
	nhttp "github.com/handiism/nfse-downloader/internal/http"
	"github.com/handiism/nfse-downloader/internal/placement"
	"github.com/handiism/nfse-downloader/internal/portal"
	"github.com/handiism/nfse-downloader/internal/report"
)

// App holds the wired components.
type App struct {
	Settings *config.Settings
	Registry *prometheus.Registry
	Cache    *cache.Cache
	Tracker  *download.Tracker
	Runner   *download.Runner
	Archive  *archive.PostgresStore

	logger *slog.Logger
	db     *sql.DB
}

// Option configures New.
type Option func(*options)

type options struct {
	fetcher    fetch.Fetcher
	onProgress func(download.ProgressEvent)
}

// WithFetcher replaces the portal fetcher.
func WithFetcher(f fetch.Fetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

// WithProgress sets the runner's progress callback.
func WithProgress(fn func(download.ProgressEvent)) Option {
	return func(o *options) {
		o.onProgress = fn
	}
}

// New validates settings and builds an App. The cache sweep runs until ctx is
// done or Close is called.
func New(ctx context.Context, settings *config.Settings, logger *slog.Logger, opts ...Option) (*App, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c, err := cache.New(settings.CachePolicies(),
		cache.WithMetrics(reg),
		cache.WithLogger(logger.With("component", "cache")),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	a := &App{Settings: settings, Registry: reg, Cache: c, logger: logger}

	var trackerOpts []download.TrackerOption
	trackerOpts = append(trackerOpts, download.WithRegisterer(reg))
	if settings.ArchiveDSN != "" {
		db, err := archive.Open(ctx, settings.ArchiveDSN)
		if err != nil {
			return nil, err
		}
		store := archive.NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		a.db, a.Archive = db, store
		trackerOpts = append(trackerOpts, download.WithArchiver(store))
		logger.Info("archive enabled")
	}

	a.Tracker, err = download.NewTracker(trackerOpts...)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("create tracker: %w", err)
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = a.portal()
	}

	var placerOpts []placement.Option
	if settings.ConflictsPath != "" {
		placerOpts = append(placerOpts, placement.WithConflictsDir(settings.ConflictsPath))
	}
	placer := placement.NewPlacer(settings.ToPathConfig(), c, placerOpts...)

	runnerOpts := []download.RunnerOption{download.WithLogger(logger.With("component", "runner"))}
	if o.onProgress != nil {
		runnerOpts = append(runnerOpts, download.WithProgress(o.onProgress))
	}
	a.Runner = download.NewRunner(settings.RunnerConfig(), fetcher, placer, a.Tracker, runnerOpts...)

	c.Start(ctx)
	return a, nil
}

func (a *App) portal() *portal.Portal {
	s := a.Settings
	clientOpts := []nhttp.Option{
		nhttp.WithTimeout(s.Timeout()),
		nhttp.WithUserAgent(s.UserAgent),
	}
	if s.PortalToken != "" {
		clientOpts = append(clientOpts, nhttp.WithToken(s.PortalToken))
	}
	if name, value := s.Cookie(); name != "" {
		clientOpts = append(clientOpts, nhttp.WithSessionCookie(name, value))
	}

	return portal.New(s.PortalURL, nhttp.NewClient(clientOpts...), a.Cache.Parsed,
		portal.WithConcurrentDownloads(s.MaxConcurrentDocuments),
		portal.WithLogger(a.logger.With("component", "portal")),
	)
}

// ReportServer builds the HTTP report server. Jobs started through it run
// until ctx is done.
func (a *App) ReportServer(ctx context.Context) *report.Server {
	opts := []report.Option{
		report.WithRunner(ctx, a.Runner),
		report.WithGatherer(a.Registry),
		report.WithLogger(a.logger.With("component", "report")),
	}
	if a.Archive != nil {
		opts = append(opts, report.WithArchive(a.Archive))
	}
	return report.NewServer(a.Tracker, a.Cache, opts...)
}

// Close stops the cache sweep and closes the archive connection.
func (a *App) Close() error {
	var errs []error
	if err := a.Cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
	}
	return errors.Join(errs...)
}
