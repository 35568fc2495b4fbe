package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	ioutils "github.com/handiism/nfse-downloader/internal/io"
)

// Competencia is the year/month period an invoice belongs to.
type Competencia struct {
	Year  int
	Month time.Month
}

// NewCompetencia creates a Competencia for the given year and month.
func NewCompetencia(year int, month time.Month) Competencia {
	return Competencia{Year: year, Month: month}
}

// CompetenciaOf returns the Competencia containing t.
func CompetenciaOf(t time.Time) Competencia {
	return Competencia{Year: t.Year(), Month: t.Month()}
}

// ParseCompetencia accepts "2025-07", "2025-07-15", "07/2025" and "072025".
func ParseCompetencia(s string) (Competencia, error) {
	s = strings.TrimSpace(s)

	for _, layout := range []string{"2006-01-02", "2006-01", "01/2006", "012006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return CompetenciaOf(t), nil
		}
	}

	// dCompet sometimes carries a full timestamp
	if len(s) > 10 {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return CompetenciaOf(t), nil
		}
		return ParseCompetencia(s[:10])
	}

	return Competencia{}, fmt.Errorf("invalid competência %q", s)
}

// Valid reports whether the competência has a plausible year and month.
func (c Competencia) Valid() bool {
	return c.Year > 0 && c.Month >= time.January && c.Month <= time.December
}

// String returns the competência as "YYYY-MM".
func (c Competencia) String() string {
	return fmt.Sprintf("%04d-%02d", c.Year, int(c.Month))
}

// YearDir returns the first path segment, e.g. "2025".
func (c Competencia) YearDir() string {
	return strconv.Itoa(c.Year)
}

// MonthDir returns the second path segment, e.g. "072025".
func (c Competencia) MonthDir() string {
	return fmt.Sprintf("%02d%04d", int(c.Month), c.Year)
}

// Artifact represents one downloaded NFSe XML document.
//
// Artifacts are produced by a Fetcher and are never mutated afterwards; the
// core only fingerprints, classifies and places them.
type Artifact struct {
	// RawBytes is the XML payload exactly as served by the portal.
	RawBytes []byte

	// ContentHash is the hex sha256 of RawBytes. Empty means not computed yet.
	ContentHash string

	// TaxpayerID is the CNPJ/CPF the download job was run for.
	TaxpayerID string

	// Competencia is the period the invoice belongs to.
	Competencia Competencia

	// SourceIdentifier identifies the document at the source, usually the
	// NFSe access key.
	SourceIdentifier string

	// FileName is the original filename. When empty, one is derived from
	// SourceIdentifier.
	FileName string
}

// NewArtifact creates a new Artifact. ContentHash is left for the caller.
func NewArtifact(raw []byte, taxpayerID string, comp Competencia, sourceID, fileName string) *Artifact {
	return &Artifact{
		RawBytes:         raw,
		TaxpayerID:       taxpayerID,
		Competencia:      comp,
		SourceIdentifier: sourceID,
		FileName:         fileName,
	}
}

// Name returns the filename the artifact is stored under.
func (a *Artifact) Name() string {
	name := ioutils.SanitizeFileName(a.FileName)
	if name == "" {
		name = ioutils.SanitizeFileName(a.SourceIdentifier)
		if name == "" {
			name = "NFSe"
		}
		if !strings.HasSuffix(strings.ToLower(name), ".xml") {
			name += ".xml"
		}
	}
	return name
}

// RelativePath returns the canonical placement path of the artifact.
func (a *Artifact) RelativePath() string {
	return PlacementPath(a.Competencia, a.TaxpayerID, a.Name())
}
