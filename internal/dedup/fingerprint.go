package dedup

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/handiism/nfse-downloader/internal/model"
)

// Fingerprint returns the hex sha256 of raw.
func Fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// FingerprintOf returns the artifact's ContentHash, computing it from the raw
// bytes when the fetcher did not.
func FingerprintOf(a *model.Artifact) string {
	if a.ContentHash != "" {
		return a.ContentHash
	}
	return Fingerprint(a.RawBytes)
}
