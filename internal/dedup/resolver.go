package dedup

import (
	"fmt"

	"github.com/handiism/nfse-downloader/internal/cache"
	"github.com/handiism/nfse-downloader/internal/model"
)

// Prober looks up what is already stored at a placement path outside the
// cache, typically on disk. found is false when nothing is there.
type Prober interface {
	Probe(path string) (fingerprint string, found bool, err error)
}

// Decision is the result of classifying one artifact.
type Decision struct {
	Verdict model.Verdict

	// Path is the placement path the artifact was classified against.
	Path string

	// Fingerprint is the incoming artifact's fingerprint.
	Fingerprint string

	// Existing is the fingerprint already recorded at Path. Empty for NEW.
	Existing string

	// Cached reports whether the verdict came from the decision cache.
	Cached bool
}

// Resolver classifies artifacts using the content-hash and
// duplicate-decision namespaces.
type Resolver struct {
	hashes    *cache.Store[string]
	decisions *cache.Store[model.Verdict]
	prober    Prober
}

// NewResolver creates a Resolver. prober may be nil, in which case a cache
// miss is treated as nothing stored.
func NewResolver(hashes *cache.Store[string], decisions *cache.Store[model.Verdict], prober Prober) *Resolver {
	return &Resolver{
		hashes:    hashes,
		decisions: decisions,
		prober:    prober,
	}
}

// Classify decides whether a is NEW, DUPLICATE or CONFLICT at path.
//
// A NEW verdict records the fingerprint at path immediately, so the first
// writer wins and any later classification of the same content at the same
// path is DUPLICATE. If the caller cannot persist a NEW artifact it must call
// Forget.
func (r *Resolver) Classify(a *model.Artifact, path string) (Decision, error) {
	fp := FingerprintOf(a)
	d := Decision{Path: path, Fingerprint: fp}

	key := decisionKey(fp, path)
	if v, ok := r.decisions.Get(key); ok {
		if v == model.VerdictDuplicate {
			d.Verdict, d.Existing, d.Cached = v, fp, true
			return d, nil
		}
		// A cached conflict is only answered from the cache while the
		// fingerprint it conflicts with is still recorded. Otherwise the
		// lookup below recovers it from the prober.
		if existing, found := r.hashes.Get(path); found || r.prober == nil {
			d.Verdict, d.Existing, d.Cached = v, existing, true
			return d, nil
		}
	}

	existing, ok := r.hashes.Get(path)
	if !ok && r.prober != nil {
		onDisk, found, err := r.prober.Probe(path)
		if err != nil {
			return Decision{}, fmt.Errorf("probe %s: %w", path, err)
		}
		if found {
			existing, _ = r.hashes.PutIfAbsent(path, onDisk)
			ok = true
		}
	}

	if !ok {
		recorded, stored := r.hashes.PutIfAbsent(path, fp)
		if stored {
			d.Verdict = model.VerdictNew
			// Once accepted, the same content at the same path is a duplicate.
			r.decisions.Put(key, model.VerdictDuplicate)
			return d, nil
		}
		// Lost the race to another classification of the same path.
		existing = recorded
	}

	d.Existing = existing
	if existing == fp {
		d.Verdict = model.VerdictDuplicate
	} else {
		d.Verdict = model.VerdictConflict
	}
	r.decisions.Put(key, d.Verdict)
	return d, nil
}

// Forget rolls back a NEW decision whose artifact was never persisted, so the
// path is free again and no later check treats it as placed.
func (r *Resolver) Forget(d Decision) {
	if d.Verdict != model.VerdictNew {
		return
	}
	if current, ok := r.hashes.Get(d.Path); ok && current == d.Fingerprint {
		r.hashes.Delete(d.Path)
	}
	r.decisions.Delete(decisionKey(d.Fingerprint, d.Path))
}

func decisionKey(fingerprint, path string) string {
	return fingerprint + "|" + path
}
