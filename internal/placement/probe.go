package placement

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/handiism/nfse-downloader/internal/cache"
	"github.com/handiism/nfse-downloader/internal/dedup"
	ioutils "github.com/handiism/nfse-downloader/internal/io"
)

// diskProber answers dedup.Prober lookups from the downloads tree. Directory
// listings go through the file-listing namespace so a run over thousands of
// new artifacts lists each directory once instead of stat-ing every path.
type diskProber struct {
	root     string
	listings *cache.Store[[]string]
}

var _ dedup.Prober = (*diskProber)(nil)

// Probe returns the fingerprint of the file at the relative path rel.
func (p *diskProber) Probe(rel string) (string, bool, error) {
	dir, name := filepath.Split(rel)

	names, err := p.listing(dir)
	if err != nil {
		return "", false, err
	}
	if !contains(names, name) {
		return "", false, nil
	}

	raw, err := os.ReadFile(filepath.Join(p.root, rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// removed behind our back; the listing is stale
			p.listings.Delete(dir)
			return "", false, nil
		}
		return "", false, err
	}
	return dedup.Fingerprint(raw), true, nil
}

func (p *diskProber) listing(dir string) ([]string, error) {
	if names, ok := p.listings.Get(dir); ok {
		return names, nil
	}
	names, err := ioutils.ListDir(filepath.Join(p.root, dir))
	if err != nil {
		return nil, err
	}
	p.listings.Put(dir, names)
	return names, nil
}

// added records a freshly written file in the cached listing of dir, if one
// is cached. A lost update only costs an extra ErrExists round trip.
func (p *diskProber) added(dir, name string) {
	names, ok := p.listings.Get(dir)
	if !ok || contains(names, name) {
		return
	}
	updated := make([]string, 0, len(names)+1)
	updated = append(updated, names...)
	updated = append(updated, name)
	sort.Strings(updated)
	p.listings.Put(dir, updated)
}

func (p *diskProber) invalidate(dir string) {
	p.listings.Delete(dir)
}

func contains(sorted []string, name string) bool {
	i := sort.SearchStrings(sorted, name)
	return i < len(sorted) && sorted[i] == name
}
