package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/handiism/nfse-downloader/internal/fetch"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "nfse-downloader"
)

// Client wraps HTTP operations with portal-specific configuration.
//
// Client provides:
//   - Configured User-Agent header
//   - Bearer token or session cookie authentication
//   - Timeout handling
//   - Status code classification into fetch errors
//
// Example usage:
//
//	client := NewClient(WithToken(os.Getenv("NFSE_PORTAL_TOKEN")))
//
//	// Fetch HTML content
//	html, err := client.GetString(ctx, "https://portal.example/notas?cnpj=52399222000122")
//	if fetch.IsFatal(err) {
//	    return err
//	}
type Client struct {
	httpClient *http.Client
	userAgent  string
	token      string
	cookie     *http.Cookie
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithToken authenticates every request with "Authorization: Bearer token".
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithSessionCookie sends the named cookie on every request. Portals that
// keep the session in a cookie rather than a header use this instead of
// WithToken.
func WithSessionCookie(name, value string) Option {
	return func(c *Client) {
		if name != "" && value != "" {
			c.cookie = &http.Cookie{Name: name, Value: value}
		}
	}
}

// NewClient creates a new HTTP client configured for the portal.
//
// The client is configured with:
//   - 60 second timeout
//   - "nfse-downloader" User-Agent header
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProgressWriter wraps a writer to track download progress.
//
// Use this to monitor large downloads by providing an OnUpdate callback
// that receives the current bytes written and total expected bytes.
type ProgressWriter struct {
	// Writer is the underlying writer to write data to.
	Writer io.Writer

	// Total is the expected total bytes (from Content-Length header).
	Total int64

	// Written is the current number of bytes written.
	Written int64

	// OnUpdate is called after each Write with current progress.
	// Parameters are (bytesWritten, totalExpected).
	OnUpdate func(written, total int64)
}

// Write implements io.Writer, tracking progress and calling OnUpdate.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.Written += int64(n)
	if pw.OnUpdate != nil {
		pw.OnUpdate(pw.Written, pw.Total)
	}
	return n, err
}

// Download is a fetched document.
type Download struct {
	// URL is the final URL after redirects.
	URL string

	// FileName comes from the Content-Disposition header, falling back to
	// the last segment of the URL path. It may be empty.
	FileName string

	ContentType string
	Body        []byte
}

// Get performs a GET request and returns the response body as bytes.
//
// The request includes the configured User-Agent and session headers.
//
// Returns a classified error if:
//   - The request fails (transient, unless ctx was cancelled)
//   - The response status is not 200 OK (see StatusError)
//   - Reading the body fails (transient)
//
// Example:
//
//	data, err := client.Get(ctx, "https://portal.example/notas/1.xml")
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	dl, err := c.Download(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return dl.Body, nil
}

// GetString performs a GET request and returns the response body as a string.
//
// This is a convenience wrapper around Get for fetching text content like HTML.
func (c *Client) GetString(ctx context.Context, url string) (string, error) {
	body, err := c.Get(ctx, url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Download performs a GET request and returns the body together with the
// filename the server suggested.
//
// Parameters:
//   - ctx: Context for cancellation
//   - url: URL to download from
//   - onProgress: Optional callback called with (bytesWritten, totalBytes)
//     Pass nil to disable progress tracking
//
// Example:
//
//	dl, err := client.Download(ctx, xmlURL, nil)
//	if err != nil {
//	    return err
//	}
//	name := dl.FileName // "NFSe_12345.xml"
func (c *Client) Download(ctx context.Context, url string, onProgress func(written, total int64)) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fetch.Fatal("build request", err)
	}
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain a little so the connection can be reused
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return nil, ClassifyStatus(resp.StatusCode, resp.Status)
	}

	var buf bytes.Buffer
	pw := &ProgressWriter{Writer: &buf, Total: resp.ContentLength, OnUpdate: onProgress}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		return nil, classifyTransport(ctx, fmt.Errorf("read body: %w", err))
	}

	return &Download{
		URL:         resp.Request.URL.String(),
		FileName:    fileName(resp),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        buf.Bytes(),
	}, nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
}

// StatusError is an unexpected HTTP status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Status)
}

// ClassifyStatus turns a non-200 status into a classified fetch error.
func ClassifyStatus(code int, status string) error {
	se := &StatusError{Code: code, Status: status}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fetch.Fatal("portal", fmt.Errorf("%w: %w", fetch.ErrUnauthenticated, se))
	case code == http.StatusTooManyRequests:
		return fetch.Transient("portal", fmt.Errorf("%w: %w", fetch.ErrRateLimited, se))
	case code == http.StatusRequestTimeout || code >= 500:
		return fetch.Transient("portal", se)
	default:
		return fetch.Fatal("portal", se)
	}
}

func classifyTransport(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
		return ctxErr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fetch.Transient("portal timeout", err)
	}
	return fetch.Transient("portal request", err)
}

// fileName prefers Content-Disposition and falls back to the URL basename.
func fileName(resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := path.Base(params["filename"]); name != "" && name != "." && name != "/" {
				return name
			}
		}
	}
	base := path.Base(resp.Request.URL.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
