package model

import (
	"path/filepath"
	"regexp"
	"strings"

	ioutils "github.com/handiism/nfse-downloader/internal/io"
)

var nonDigits = regexp.MustCompile(`\D`)

// PathConfig holds the root under which placement paths are resolved.
type PathConfig struct {
	// DownloadsPath is the root of the on-disk tree.
	// Example: "/srv/nfse"
	DownloadsPath string
}

// Resolve returns the absolute placement path of a.
func (cfg *PathConfig) Resolve(a *Artifact) string {
	return filepath.Join(cfg.DownloadsPath, a.RelativePath())
}

// PlacementPath computes the canonical relative path
// {year}/{month}{year}/{taxpayerId}/{filename}.
//
// The same inputs always yield the same path. Punctuation in a formatted
// CNPJ ("52.399.222/0001-22") is dropped so both spellings file together.
func PlacementPath(comp Competencia, taxpayerID, fileName string) string {
	return filepath.Join(
		comp.YearDir(),
		comp.MonthDir(),
		NormalizeTaxpayerID(taxpayerID),
		ioutils.SanitizeFileName(fileName),
	)
}

// NormalizeTaxpayerID strips formatting from a CNPJ/CPF. Identifiers without
// any digits are only sanitized.
func NormalizeTaxpayerID(id string) string {
	digits := nonDigits.ReplaceAllString(id, "")
	if digits == "" {
		return ioutils.SanitizeFileName(strings.TrimSpace(id))
	}
	return digits
}
