// Package http provides the HTTP client used to talk to the NFSe portal.
//
// The Client in this package handles:
//   - User-Agent and session headers on every request
//   - Timeout handling
//   - Classifying failed responses as transient or fatal fetch errors
//   - Downloads with progress tracking and Content-Disposition filenames
//
// # Basic Usage
//
//	client := http.NewClient(http.WithToken(token))
//
//	// Fetch a listing page
//	html, err := client.GetString(ctx, "https://portal.example/notas?cnpj=52399222000122&pagina=1")
//
//	// Download a document
//	dl, err := client.Download(ctx, xmlURL, nil)
//	fmt.Println(dl.FileName, len(dl.Body))
//
// # Error Classification
//
// Every error returned by the client is classified with the fetch package:
//
//	401, 403            fatal (session rejected)
//	408, 429, 5xx       transient
//	other 4xx           fatal
//	network timeouts    transient
//
// Context cancellation is returned unclassified so callers can tell it apart.
package http
