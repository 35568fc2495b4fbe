package cache

// Stats is a point-in-time view of one namespace.
type Stats struct {
	Namespace  Namespace `json:"namespace"`
	Size       int       `json:"size"`
	MaxEntries int       `json:"maxEntries"`
	TTLSeconds float64   `json:"ttlSeconds"`

	// TotalHits sums the hit counts of the entries currently held.
	TotalHits int64 `json:"totalHits"`

	// AverageAgeSeconds is the mean age of the entries currently held.
	AverageAgeSeconds float64 `json:"averageAgeSeconds"`

	// Misses and Evictions are cumulative since construction.
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}
