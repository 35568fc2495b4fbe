package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/handiism/nfse-downloader/internal/fetch"
	ioutils "github.com/handiism/nfse-downloader/internal/io"
	"github.com/handiism/nfse-downloader/internal/model"
	"github.com/handiism/nfse-downloader/internal/placement"
)

// ConflictAction is what the runner does with a conflicting artifact.
type ConflictAction string

const (
	// ConflictReport counts and lists the conflict and leaves it for review.
	ConflictReport ConflictAction = "report"

	// ConflictQuarantine also copies the incoming bytes to the conflicts
	// directory.
	ConflictQuarantine ConflictAction = "quarantine"
)

// Config controls how jobs are run.
type Config struct {
	// MaxConcurrentJobs bounds how many jobs run at once.
	MaxConcurrentJobs int

	// DownloadMaxRetries is the retry budget for a single listing page.
	DownloadMaxRetries int

	// The n-th retry of a page waits
	// DownloadRetryCooldown * DownloadRetryExponent^n seconds.
	DownloadRetryCooldown float64
	DownloadRetryExponent float64

	ConflictAction ConflictAction
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs:     2,
		DownloadMaxRetries:    5,
		DownloadRetryCooldown: 0.5,
		DownloadRetryExponent: 2.0,
		ConflictAction:        ConflictReport,
	}
}

// Request asks for one job.
type Request struct {
	TaxpayerID string
	From       time.Time
	To         time.Time
}

// ErrRetryBudgetExhausted wraps the last transient error of a page that was
// retried DownloadMaxRetries times.
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// Runner drives jobs: it pulls pages from a Fetcher and hands each artifact
// to the Placer.
type Runner struct {
	cfg        Config
	fetcher    fetch.Fetcher
	placer     *placement.Placer
	tracker    *Tracker
	logger     *slog.Logger
	onProgress func(ProgressEvent)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithProgress sets the callback that receives user-facing progress.
func WithProgress(fn func(ProgressEvent)) RunnerOption {
	return func(r *Runner) {
		r.onProgress = fn
	}
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, fetcher fetch.Fetcher, placer *placement.Placer, tracker *Tracker, opts ...RunnerOption) *Runner {
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.DownloadMaxRetries < 0 {
		cfg.DownloadMaxRetries = 0
	}
	if cfg.ConflictAction == "" {
		cfg.ConflictAction = ConflictReport
	}
	r := &Runner{
		cfg:     cfg,
		fetcher: fetcher,
		placer:  placer,
		tracker: tracker,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tracker returns the tracker jobs are registered in.
func (r *Runner) Tracker() *Tracker {
	return r.tracker
}

// Submit registers a job for req without running it.
func (r *Runner) Submit(req Request) *Job {
	return r.tracker.Create(req.TaxpayerID, req.From, req.To)
}

// Run creates one job per request and runs them, at most MaxConcurrentJobs
// at a time. It returns once every job is terminal. Job failures are
// recorded on the jobs, not returned.
func (r *Runner) Run(ctx context.Context, reqs []Request) []*Job {
	jobs := make([]*Job, len(reqs))
	for i, req := range reqs {
		jobs[i] = r.Submit(req)
	}
	r.RunJobs(ctx, jobs)
	return jobs
}

// RunJobs runs already submitted jobs.
func (r *Runner) RunJobs(ctx context.Context, jobs []*Job) {
	var g errgroup.Group
	g.SetLimit(r.cfg.MaxConcurrentJobs)

	for _, job := range jobs {
		g.Go(func() error {
			_ = r.Execute(ctx, job)
			return nil
		})
	}

	_ = g.Wait()
}

// Execute runs a single queued job to a terminal state and returns the error
// that failed it, if any.
//
// Pages are pulled in order. The job becomes running when its first page
// arrives and completes after the last page. A fatal fetch error, an
// exhausted page retry budget, a systemic write failure or cancellation of
// ctx fail the job.
func (r *Runner) Execute(ctx context.Context, job *Job) error {
	logger := r.logger.With("job", job.ID(), "taxpayer", job.Query().TaxpayerID)
	q := job.Query()

	r.progress(job, LevelInfo, fmt.Sprintf("Starting %s", q))
	logger.Info("job started", "from", q.From.Format(time.DateOnly), "to", q.To.Format(time.DateOnly))

	err := r.execute(ctx, job, logger)
	if err != nil {
		if ferr := job.Fail(err); ferr != nil {
			logger.Error("fail job", "error", ferr)
		}
		logger.Error("job failed", "error", err)
		r.progress(job, LevelError, fmt.Sprintf("Failed %s: %v", q, err))
		return err
	}

	snap := job.Snapshot()
	logger.Info("job completed",
		"written", snap.Progress.Written,
		"skipped_duplicate", snap.Progress.SkippedDuplicate,
		"conflicted", snap.Progress.Conflicted,
		"failed_writes", snap.FailedWrites)

	level := LevelSuccess
	if snap.Progress.Conflicted > 0 || snap.FailedWrites > 0 {
		level = LevelWarning
	}
	r.progress(job, level, fmt.Sprintf("Finished %s: %d written, %d duplicates, %d conflicts, %d failed writes",
		q, snap.Progress.Written, snap.Progress.SkippedDuplicate, snap.Progress.Conflicted, snap.FailedWrites))
	return nil
}

func (r *Runner) execute(ctx context.Context, job *Job, logger *slog.Logger) error {
	if err := job.Query().Validate(); err != nil {
		return err
	}

	for pageNum := 1; ; pageNum++ {
		page, err := r.fetchPage(ctx, job, pageNum, logger)
		if err != nil {
			return err
		}

		if job.State() == StateQueued {
			if err := job.Start(); err != nil {
				return err
			}
		}
		job.PageFetched(page.Number, page.TotalPages)
		r.progress(job, LevelVerbose, fmt.Sprintf("Page %d/%d: %d documents", page.Number, page.TotalPages, len(page.Artifacts)))
		for _, rerr := range page.Rejected {
			job.RecordError(rerr)
			logger.Warn("document rejected", "page", page.Number, "error", rerr)
			r.progress(job, LevelError, fmt.Sprintf("Skipped unreadable document: %v", rerr))
		}

		if err := r.placeAll(ctx, job, page.Artifacts, logger); err != nil {
			return err
		}

		if page.Last() {
			return job.Complete()
		}
	}
}

// fetchPage pulls one page, retrying transient failures. The retry counter
// starts over for every page.
func (r *Runner) fetchPage(ctx context.Context, job *Job, pageNum int, logger *slog.Logger) (fetch.Page, error) {
	for tries := 0; ; tries++ {
		if err := ctx.Err(); err != nil {
			return fetch.Page{}, err
		}

		page, err := r.fetcher.FetchPage(ctx, job.Query(), pageNum)
		if err == nil {
			if page.Number == 0 {
				page.Number = pageNum
			}
			return page, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fetch.Page{}, ctxErr
		}
		if !fetch.IsTransient(err) {
			return fetch.Page{}, err
		}
		if tries >= r.cfg.DownloadMaxRetries {
			return fetch.Page{}, fmt.Errorf("page %d: %w after %d retries: %w", pageNum, ErrRetryBudgetExhausted, tries, err)
		}

		job.Retried()
		logger.Warn("page fetch failed, retrying", "page", pageNum, "attempt", tries+1, "error", err)
		r.progress(job, LevelWarning, fmt.Sprintf("Retry %d/%d for page %d: %v", tries+1, r.cfg.DownloadMaxRetries, pageNum, err))
		r.waitForRetry(ctx, tries)
	}
}

func (r *Runner) placeAll(ctx context.Context, job *Job, artifacts []*model.Artifact, logger *slog.Logger) error {
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := r.placer.Place(ctx, a)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return ctxErr
			}
			job.RecordWriteError(out.RelPath, err)
			logger.Error("write failed", "path", out.RelPath, "error", err)
			if ioutils.IsSystemic(err) {
				return fmt.Errorf("systemic write failure: %w", err)
			}
			r.progress(job, LevelError, fmt.Sprintf("Error writing %s: %v", out.RelPath, err))
			continue
		}

		var quarantined string
		if out.Result == placement.Conflicted {
			logger.Warn("conflict", "path", out.RelPath, "existing", out.Existing, "incoming", out.Incoming)
			if r.cfg.ConflictAction == ConflictQuarantine {
				quarantined, err = r.placer.Quarantine(a, out)
				if err != nil {
					job.RecordError(fmt.Errorf("quarantine %s: %w", out.RelPath, err))
					logger.Error("quarantine failed", "path", out.RelPath, "error", err)
				}
			}
			r.progress(job, LevelWarning, fmt.Sprintf("Conflict at %s", out.RelPath))
		} else {
			r.progress(job, LevelVerbose, fmt.Sprintf("%s: %s", out.Result, out.RelPath))
		}

		job.Record(out, quarantined)
	}
	return nil
}

func (r *Runner) waitForRetry(ctx context.Context, tries int) {
	cooldown := r.cfg.DownloadRetryCooldown * math.Pow(r.cfg.DownloadRetryExponent, float64(tries))
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(cooldown * float64(time.Second))):
	}
}

func (r *Runner) progress(job *Job, level ProgressLevel, message string) {
	if r.onProgress != nil {
		r.onProgress(ProgressEvent{JobID: job.ID(), Message: message, Level: level})
	}
}
