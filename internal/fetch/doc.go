// Package fetch defines how the downloader pulls NFSe documents from a
// source, one listing page at a time.
//
// A Fetcher is asked for page 1 of a Query first. The returned Page carries
// the total page count, and the caller then asks for pages 2..TotalPages in
// order. Pulling a single page per call lets the caller retry just the page
// that failed.
//
// # Errors
//
// Fetchers classify failures with Transient and Fatal. A transient error
// (timeouts, rate limiting, server errors) is worth retrying; a fatal one
// (rejected credentials, malformed query) ends the job. Errors that carry no
// classification are treated as transient, except context cancellation,
// which is neither.
package fetch
