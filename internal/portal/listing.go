package portal

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/handiism/nfse-downloader/internal/fetch"
	"github.com/handiism/nfse-downloader/internal/model"
)

// Listing is one parsed listing page.
type Listing struct {
	// TotalPages is the page count shown by the portal. Zero when the query
	// matched nothing.
	TotalPages int

	Entries []Entry
}

// Entry is one invoice row.
type Entry struct {
	// Href is the XML download link as found on the page.
	Href string

	// Number is the invoice number column, if present.
	Number string

	// AccessKey is the row's data-chave attribute, if present.
	AccessKey string
}

// ParseListing extracts the invoice rows and the page count from a listing
// page.
//
// Returns a fatal error wrapping fetch.ErrUnauthenticated if the page is a
// login form.
func ParseListing(r io.Reader) (*Listing, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fetch.Transient("parse listing", err)
	}
	return parseListing(doc)
}

func parseListing(doc *goquery.Document) (*Listing, error) {
	if isLoginPage(doc) {
		return nil, fetch.Fatal("listing", fetch.ErrUnauthenticated)
	}

	table := doc.Find("table.nfse-list")
	if table.Length() == 0 {
		if isEmptyResult(doc) {
			return &Listing{}, nil
		}
		return nil, fetch.Fatal("listing", fmt.Errorf("%w: no invoice table", fetch.ErrMalformedPage))
	}

	listing := &Listing{}
	table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		href, ok := row.Find("a.xml-download").First().Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}
		key, _ := row.Attr("data-chave")
		listing.Entries = append(listing.Entries, Entry{
			Href:      href,
			Number:    strings.TrimSpace(row.Find("td.numero").First().Text()),
			AccessKey: strings.TrimSpace(key),
		})
	})

	listing.TotalPages = totalPages(doc)
	if listing.TotalPages == 0 && len(listing.Entries) > 0 {
		listing.TotalPages = 1
	}

	return listing, nil
}

// totalPages reads data-total-pages, falling back to the highest numbered
// pagination link.
func totalPages(doc *goquery.Document) int {
	if v, ok := doc.Find("[data-total-pages]").First().Attr("data-total-pages"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			return n
		}
	}

	highest := 0
	doc.Find(".pagination a").Each(func(_ int, a *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(a.Text())); err == nil && n > highest {
			highest = n
		}
	})
	return highest
}

func isLoginPage(doc *goquery.Document) bool {
	return doc.Find(`form input[type="password"]`).Length() > 0 ||
		doc.Find("form#login, form.login").Length() > 0
}

func isEmptyResult(doc *goquery.Document) bool {
	return doc.Find(".nfse-empty, .sem-resultados").Length() > 0
}

// buildPageURL assembles the listing URL for one page of q.
func buildPageURL(base string, q fetch.Query, page int) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/notas")
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	values := u.Query()
	values.Set("cnpj", model.NormalizeTaxpayerID(q.TaxpayerID))
	values.Set("dataInicio", q.From.Format(time.DateOnly))
	values.Set("dataFim", q.To.Format(time.DateOnly))
	values.Set("pagina", strconv.Itoa(page))
	u.RawQuery = values.Encode()

	return u.String(), nil
}

// resolve makes href absolute relative to the page it was found on.
func resolve(pageURL, href string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
