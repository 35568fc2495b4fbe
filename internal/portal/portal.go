package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/handiism/nfse-downloader/internal/cache"
	"github.com/handiism/nfse-downloader/internal/dedup"
	"github.com/handiism/nfse-downloader/internal/fetch"
	nhttp "github.com/handiism/nfse-downloader/internal/http"
	"github.com/handiism/nfse-downloader/internal/model"
)

const defaultConcurrentDownloads = 4

// Portal fetches listing pages and their XML documents.
//
// Example usage:
//
//	p := portal.New("https://portal.example", nhttp.NewClient(nhttp.WithToken(token)), c.Parsed)
//
//	page, err := p.FetchPage(ctx, fetch.Query{
//	    TaxpayerID: "52399222000122",
//	    From:       from,
//	    To:         to,
//	}, 1)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("page 1/%d: %d documents\n", page.TotalPages, len(page.Artifacts))
type Portal struct {
	baseURL     string
	client      *nhttp.Client
	parser      *DocumentParser
	concurrency int
	logger      *slog.Logger
}

var _ fetch.Fetcher = (*Portal)(nil)

// Option configures a Portal.
type Option func(*Portal)

// WithConcurrentDownloads bounds how many documents of one page are
// downloaded at once.
func WithConcurrentDownloads(n int) Option {
	return func(p *Portal) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Portal) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Portal rooted at baseURL. parsed is the parsed-artifact
// namespace and may be nil.
func New(baseURL string, client *nhttp.Client, parsed *cache.Store[model.Document], opts ...Option) *Portal {
	p := &Portal{
		baseURL:     baseURL,
		client:      client,
		parser:      NewDocumentParser(parsed),
		concurrency: defaultConcurrentDownloads,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FetchPage downloads one listing page of q and every XML document on it.
//
// Artifacts keep the order of the rows on the page. A document that cannot
// be downloaded fails the page with the download's classified error, so the
// caller retries the whole page. A document that downloads but cannot be
// parsed is listed in Page.Rejected. Documents are never silently dropped.
func (p *Portal) FetchPage(ctx context.Context, q fetch.Query, page int) (fetch.Page, error) {
	if err := q.Validate(); err != nil {
		return fetch.Page{}, err
	}
	if page < 1 {
		return fetch.Page{}, fetch.Fatal("fetch page", fmt.Errorf("invalid page %d", page))
	}

	pageURL, err := buildPageURL(p.baseURL, q, page)
	if err != nil {
		return fetch.Page{}, fetch.Fatal("fetch page", err)
	}

	html, err := p.client.GetString(ctx, pageURL)
	if err != nil {
		return fetch.Page{}, fmt.Errorf("listing page %d: %w", page, err)
	}

	listing, err := ParseListing(strings.NewReader(html))
	if err != nil {
		return fetch.Page{}, fmt.Errorf("listing page %d: %w", page, err)
	}

	p.logger.Debug("listing page parsed",
		"taxpayer", q.TaxpayerID, "page", page, "total_pages", listing.TotalPages, "entries", len(listing.Entries))

	artifacts := make([]*model.Artifact, len(listing.Entries))
	rejected := make([]error, len(listing.Entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, entry := range listing.Entries {
		g.Go(func() error {
			a, err := p.fetchDocument(gctx, q, pageURL, entry)
			var unreadable *unreadableError
			switch {
			case errors.As(err, &unreadable):
				rejected[i] = unreadable
			case err != nil:
				return err
			default:
				artifacts[i] = a
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fetch.Page{}, fmt.Errorf("page %d: %w", page, err)
	}

	out := fetch.Page{Number: page, TotalPages: listing.TotalPages}
	for i := range listing.Entries {
		if rejected[i] != nil {
			p.logger.Warn("document rejected", "taxpayer", q.TaxpayerID, "page", page, "error", rejected[i])
			out.Rejected = append(out.Rejected, rejected[i])
			continue
		}
		out.Artifacts = append(out.Artifacts, artifacts[i])
	}
	return out, nil
}

// unreadableError marks a document that downloaded but could not be parsed.
type unreadableError struct {
	url string
	err error
}

func (e *unreadableError) Error() string {
	return fmt.Sprintf("document %s: %v", e.url, e.err)
}

func (e *unreadableError) Unwrap() error {
	return e.err
}

func (p *Portal) fetchDocument(ctx context.Context, q fetch.Query, pageURL string, entry Entry) (*model.Artifact, error) {
	docURL, err := resolve(pageURL, entry.Href)
	if err != nil {
		return nil, fetch.Fatal("document link", fmt.Errorf("%q: %w", entry.Href, err))
	}

	dl, err := p.client.Download(ctx, docURL, nil)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", docURL, err)
	}

	fp := dedup.Fingerprint(dl.Body)
	doc, err := p.parser.Parse(dl.Body, fp)
	if err != nil {
		return nil, &unreadableError{url: docURL, err: err}
	}

	sourceID := doc.AccessKey
	if sourceID == "" {
		sourceID = entry.AccessKey
	}
	if sourceID == "" {
		sourceID = docURL
	}

	name := dl.FileName
	if !strings.HasSuffix(strings.ToLower(name), ".xml") {
		name = ""
	}
	if name == "" {
		name = fileNameFor(doc, entry)
	}

	a := model.NewArtifact(dl.Body, q.TaxpayerID, doc.Competencia, sourceID, name)
	a.ContentHash = fp
	return a, nil
}

func fileNameFor(doc model.Document, entry Entry) string {
	switch {
	case doc.Number != "":
		return "NFSe_" + doc.Number + ".xml"
	case entry.Number != "":
		return "NFSe_" + entry.Number + ".xml"
	default:
		return doc.FileName()
	}
}
