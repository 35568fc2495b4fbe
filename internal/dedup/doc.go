// Package dedup decides whether a freshly fetched artifact is already
// represented on disk.
//
// The Resolver classifies an artifact against its canonical placement path:
//
//	NEW        nothing is recorded at the path yet
//	DUPLICATE  the same content is recorded at the path
//	CONFLICT   different content is recorded at the path
//
// Verdicts are cached in the duplicate-decision namespace, keyed by
// fingerprint and path, so repeated lookups during a run never touch the
// disk. On a cache miss the Resolver may ask a Prober for the fingerprint of
// the file already on disk.
//
//	r := dedup.NewResolver(c.Hashes, c.Decisions, prober)
//	d, err := r.Classify(artifact, artifact.RelativePath())
//	switch d.Verdict {
//	case model.VerdictNew:       // write it, or r.Forget(d) if the write fails
//	case model.VerdictDuplicate: // skip
//	case model.VerdictConflict:  // report d.Existing and d.Fingerprint
//	}
package dedup
