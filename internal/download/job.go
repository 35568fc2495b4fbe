package download

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/handiism/nfse-downloader/internal/fetch"
	"github.com/handiism/nfse-downloader/internal/placement"
)

// State is the lifecycle state of a job.
type State int

const (
	StateQueued State = iota
	StateRunning
	StateCompleted
	StateFailed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for _, candidate := range []State{StateQueued, StateRunning, StateCompleted, StateFailed} {
		if candidate.String() == string(b) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown job state %q", b)
}

// ErrInvalidTransition is returned when a state change is not allowed.
var ErrInvalidTransition = errors.New("invalid job state transition")

func isAllowedTransition(from, to State) bool {
	switch from {
	case StateQueued:
		// Failed straight from queued covers jobs whose first page never arrives.
		return to == StateRunning || to == StateFailed
	case StateRunning:
		return to == StateCompleted || to == StateFailed
	default:
		return false
	}
}

// Progress is the part of a job the dashboard polls.
type Progress struct {
	CurrentPage      int `json:"currentPage"`
	TotalPages       int `json:"totalPages"`
	Written          int `json:"written"`
	SkippedDuplicate int `json:"skippedDuplicate"`
	Conflicted       int `json:"conflicted"`
}

// Conflict is a placement that found different content at the canonical path.
type Conflict struct {
	Path        string `json:"path"`
	Existing    string `json:"existing"`
	Incoming    string `json:"incoming"`
	Quarantined string `json:"quarantined,omitempty"`
}

// Snapshot is a point-in-time copy of a job.
type Snapshot struct {
	ID           string     `json:"id"`
	TaxpayerID   string     `json:"taxpayerId"`
	From         time.Time  `json:"from"`
	To           time.Time  `json:"to"`
	Status       State      `json:"status"`
	Progress     Progress   `json:"progress"`
	FailedWrites int        `json:"failedWrites"`
	Retries      int        `json:"retries"`
	Error        string     `json:"error,omitempty"`
	Errors       []string   `json:"errors"`
	Conflicts    []Conflict `json:"conflicts"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// Job is one download run for a taxpayer and date range. All methods are
// safe for concurrent use.
type Job struct {
	id    string
	query fetch.Query
	now   func() time.Time
	m     *metrics

	mu           sync.Mutex
	state        State
	progress     Progress
	failedWrites int
	retries      int
	errs         []string
	conflicts    []Conflict
	err          error
	createdAt    time.Time
	startedAt    time.Time
	finishedAt   time.Time
	done         chan struct{}
}

func newJob(id string, q fetch.Query, now func() time.Time, m *metrics) *Job {
	return &Job{
		id:        id,
		query:     q,
		now:       now,
		m:         m,
		state:     StateQueued,
		createdAt: now(),
		done:      make(chan struct{}),
	}
}

// ID returns the execution id.
func (j *Job) ID() string {
	return j.id
}

// Query returns what the job downloads.
func (j *Job) Query() fetch.Query {
	return j.query
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the error that failed the job, or nil.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Start moves a queued job to running.
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(StateRunning)
}

// Complete moves a running job to completed.
func (j *Job) Complete() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(StateCompleted)
}

// Fail moves the job to failed and keeps err as the reason.
func (j *Job) Fail(err error) error {
	if err == nil {
		err = errors.New("job failed")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if terr := j.transitionLocked(StateFailed); terr != nil {
		return terr
	}
	j.err = err
	return nil
}

func (j *Job) transitionLocked(to State) error {
	if !isAllowedTransition(j.state, to) {
		return fmt.Errorf("%w: job %s %s -> %s", ErrInvalidTransition, j.id, j.state, to)
	}
	j.state = to
	switch {
	case to == StateRunning:
		j.startedAt = j.now()
	case to.Terminal():
		j.finishedAt = j.now()
		close(j.done)
	}
	j.m.jobState(to)
	return nil
}

// PageFetched advances the page progress.
func (j *Job) PageFetched(page, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.CurrentPage = page
	j.progress.TotalPages = total
}

// Retried counts one page retry.
func (j *Job) Retried() {
	j.mu.Lock()
	j.retries++
	j.mu.Unlock()
	j.m.pageRetry()
}

// Record counts a placement outcome. quarantined is where the incoming side
// of a conflict was copied, if anywhere.
func (j *Job) Record(out placement.Outcome, quarantined string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch out.Result {
	case placement.Written:
		j.progress.Written++
	case placement.Skipped:
		j.progress.SkippedDuplicate++
	case placement.Conflicted:
		j.progress.Conflicted++
		j.conflicts = append(j.conflicts, Conflict{
			Path:        out.RelPath,
			Existing:    out.Existing,
			Incoming:    out.Incoming,
			Quarantined: quarantined,
		})
	}
	j.m.artifact(out.Result.String())
}

// RecordWriteError keeps a failed write without failing the job.
func (j *Job) RecordWriteError(path string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failedWrites++
	j.errs = append(j.errs, fmt.Sprintf("%s: %v", path, err))
	j.m.artifact(resultFailed)
}

// RecordError keeps a non-fatal error that is not tied to a write.
func (j *Job) RecordError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errs = append(j.errs, err.Error())
}

// Snapshot copies the job.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		ID:           j.id,
		TaxpayerID:   j.query.TaxpayerID,
		From:         j.query.From,
		To:           j.query.To,
		Status:       j.state,
		Progress:     j.progress,
		FailedWrites: j.failedWrites,
		Retries:      j.retries,
		Errors:       append([]string{}, j.errs...),
		Conflicts:    append([]Conflict{}, j.conflicts...),
		CreatedAt:    j.createdAt,
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		s.FinishedAt = &t
	}
	return s
}
