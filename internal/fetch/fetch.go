package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/handiism/nfse-downloader/internal/model"
)

// Query selects the documents of one taxpayer issued in [From, To].
type Query struct {
	TaxpayerID string
	From       time.Time
	To         time.Time
}

// Validate reports whether q can be sent to a Fetcher.
func (q Query) Validate() error {
	if model.NormalizeTaxpayerID(q.TaxpayerID) == "" {
		return Fatal("query", errors.New("taxpayer id is required"))
	}
	if q.From.IsZero() || q.To.IsZero() {
		return Fatal("query", errors.New("date range is required"))
	}
	if q.To.Before(q.From) {
		return Fatal("query", fmt.Errorf("end date %s is before start date %s",
			q.To.Format(time.DateOnly), q.From.Format(time.DateOnly)))
	}
	return nil
}

// String formats q for logs.
func (q Query) String() string {
	return fmt.Sprintf("%s [%s..%s]", q.TaxpayerID, q.From.Format(time.DateOnly), q.To.Format(time.DateOnly))
}

// Page is one listing page worth of artifacts.
type Page struct {
	// Number is the 1-based page number.
	Number int

	// TotalPages is the number of pages for the query. Zero means the query
	// matched no documents.
	TotalPages int

	Artifacts []*model.Artifact

	// Rejected holds one error per document that was downloaded but could
	// not be read. Retrying the page would return the same bytes, so these
	// are reported instead of failing the page.
	Rejected []error
}

// Last reports whether no page follows p.
func (p Page) Last() bool {
	return p.Number >= p.TotalPages
}

// Fetcher pulls listing pages for a query.
type Fetcher interface {
	FetchPage(ctx context.Context, q Query, page int) (Page, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, q Query, page int) (Page, error)

// FetchPage calls f.
func (f FetcherFunc) FetchPage(ctx context.Context, q Query, page int) (Page, error) {
	return f(ctx, q, page)
}
