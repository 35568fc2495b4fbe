package placement

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/handiism/nfse-downloader/internal/cache"
	"github.com/handiism/nfse-downloader/internal/dedup"
	ioutils "github.com/handiism/nfse-downloader/internal/io"
	"github.com/handiism/nfse-downloader/internal/model"
)

// Result is what happened to an artifact.
type Result int

const (
	Written Result = iota
	Skipped
	Conflicted
)

// String returns the lowercase name of the result.
func (r Result) String() string {
	switch r {
	case Written:
		return "written"
	case Skipped:
		return "skipped"
	case Conflicted:
		return "conflicted"
	default:
		return "unknown"
	}
}

// ReasonDuplicate is the Reason of an artifact skipped because the same
// content is already placed.
const ReasonDuplicate = "duplicate"

// Outcome describes a placement.
type Outcome struct {
	Result Result

	// Path is the absolute canonical path of the artifact.
	Path string

	// RelPath is Path relative to the downloads root.
	RelPath string

	// Reason explains a Skipped result.
	Reason string

	// Existing and Incoming are the fingerprints at Path and of the artifact.
	// They differ only for Conflicted.
	Existing string
	Incoming string
}

// Placer files artifacts under the downloads root.
type Placer struct {
	root         string
	conflictsDir string
	resolver     *dedup.Resolver
	prober       *diskProber
	locks        *pathLocks
}

// Option configures a Placer.
type Option func(*Placer)

// WithConflictsDir sets where Quarantine copies conflicting artifacts.
// Defaults to "_conflicts" under the downloads root.
func WithConflictsDir(dir string) Option {
	return func(p *Placer) {
		if dir != "" {
			p.conflictsDir = dir
		}
	}
}

// NewPlacer creates a Placer writing below cfg.DownloadsPath and sharing c
// with every other placer in the process.
func NewPlacer(cfg *model.PathConfig, c *cache.Cache, opts ...Option) *Placer {
	prober := &diskProber{root: cfg.DownloadsPath, listings: c.Listings}
	p := &Placer{
		root:         cfg.DownloadsPath,
		conflictsDir: filepath.Join(cfg.DownloadsPath, "_conflicts"),
		resolver:     dedup.NewResolver(c.Hashes, c.Decisions, prober),
		prober:       prober,
		locks:        newPathLocks(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Root returns the downloads root.
func (p *Placer) Root() string {
	return p.root
}

// Place classifies a and writes it if it is new.
//
// A duplicate is skipped without touching the filesystem. A conflict is
// reported with both fingerprints and the file at the canonical path is left
// as is. ctx is checked before the write starts; a write in progress always
// completes. When an error is returned the artifact is not considered placed.
func (p *Placer) Place(ctx context.Context, a *model.Artifact) (Outcome, error) {
	rel := a.RelativePath()
	out := Outcome{
		Path:    filepath.Join(p.root, rel),
		RelPath: rel,
	}

	unlock := p.locks.lock(rel)
	defer unlock()

	for attempt := 0; ; attempt++ {
		d, err := p.resolver.Classify(a, rel)
		if err != nil {
			return out, fmt.Errorf("classify %s: %w", rel, err)
		}
		out.Incoming = d.Fingerprint
		out.Existing = d.Existing

		switch d.Verdict {
		case model.VerdictDuplicate:
			out.Result = Skipped
			out.Reason = ReasonDuplicate
			return out, nil

		case model.VerdictConflict:
			out.Result = Conflicted
			return out, nil
		}

		if err := ctx.Err(); err != nil {
			p.resolver.Forget(d)
			return out, err
		}

		err = ioutils.WriteFileExclusive(out.Path, a.RawBytes)
		if err == nil {
			dir, name := filepath.Split(rel)
			p.prober.added(dir, name)
			out.Result = Written
			out.Existing = ""
			return out, nil
		}

		p.resolver.Forget(d)
		if errors.Is(err, ioutils.ErrExists) && attempt == 0 {
			// The file appeared after the listing was cached. Look again.
			dir, _ := filepath.Split(rel)
			p.prober.invalidate(dir)
			continue
		}
		return out, fmt.Errorf("write %s: %w", rel, err)
	}
}

// Quarantine stores the incoming side of a conflict next to the tree for
// manual review and returns where it went. The canonical file is untouched.
// Quarantining the same artifact twice is not an error.
func (p *Placer) Quarantine(a *model.Artifact, out Outcome) (string, error) {
	if out.Result != Conflicted {
		return "", fmt.Errorf("quarantine %s: not a conflict", out.RelPath)
	}

	fp := out.Incoming
	if fp == "" {
		fp = dedup.FingerprintOf(a)
	}
	if len(fp) > 12 {
		fp = fp[:12]
	}

	ext := filepath.Ext(out.RelPath)
	name := strings.TrimSuffix(out.RelPath, ext) + "." + fp + ext
	path := filepath.Join(p.conflictsDir, name)

	exists, err := ioutils.FileExists(path)
	if err != nil {
		return "", fmt.Errorf("quarantine %s: %w", out.RelPath, err)
	}
	if exists {
		return path, nil
	}
	if err := ioutils.WriteFileExclusive(path, a.RawBytes); err != nil && !errors.Is(err, ioutils.ErrExists) {
		return "", fmt.Errorf("quarantine %s: %w", out.RelPath, err)
	}
	return path, nil
}
