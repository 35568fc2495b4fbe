package model

// Verdict is the outcome of duplicate classification.
type Verdict int

const (
	// VerdictNew means nothing is recorded at the placement path yet.
	VerdictNew Verdict = iota

	// VerdictDuplicate means the same content is already at the placement path.
	VerdictDuplicate

	// VerdictConflict means different content is already at the placement path.
	VerdictConflict
)

// String returns the lowercase name of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictNew:
		return "new"
	case VerdictDuplicate:
		return "duplicate"
	case VerdictConflict:
		return "conflict"
	default:
		return "unknown"
	}
}
