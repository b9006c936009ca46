// Package task holds the per-transfer state machine and the registry
// that enforces one active transfer per owner.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a transfer's position in its lifecycle.
type State int32

const (
	StatePending State = iota
	StateResolving
	StateDownloading
	StateSplitting
	StateUploading
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolving:
		return "resolving"
	case StateDownloading:
		return "downloading"
	case StateSplitting:
		return "splitting"
	case StateUploading:
		return "uploading"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// validNext enumerates the forward edges of the state machine.
// Cancelled is reachable from every non-terminal state and handled
// separately.
var validNext = map[State][]State{
	StatePending:     {StateResolving},
	StateResolving:   {StateDownloading},
	StateDownloading: {StateSplitting, StateUploading},
	StateSplitting:   {StateUploading},
	StateUploading:   {StateCompleted},
}

// PartStatus records one delivered (or in-flight) part of a transfer.
type PartStatus struct {
	Index     int    `json:"index"`
	Count     int    `json:"count"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	Path      string `json:"-"`
	MessageID int64  `json:"message_id,omitempty"`
}

// Transfer is the mutable record of one in-flight transfer. It is owned
// by the pipeline stage currently processing it; the registry holds a
// reference keyed by owner.
type Transfer struct {
	ID        string
	Owner     int64
	SourceURL string
	StartedAt time.Time

	mu        sync.Mutex
	state     State
	errKind   string
	err       error
	filename  string
	directURL string
	total     int64 // negative while unknown
	done      int64
	speedBps  float64
	parts     []PartStatus
	degraded  bool
	cancel    context.CancelFunc
}

func New(owner int64, sourceURL string) *Transfer {
	return &Transfer{
		ID:        uuid.NewString(),
		Owner:     owner,
		SourceURL: sourceURL,
		StartedAt: time.Now(),
		state:     StatePending,
		total:     -1,
	}
}

// Bind attaches the cancellation function for the transfer's run
// context. Cancel requests arriving before Bind take effect on the
// first post-Bind check.
func (t *Transfer) Bind(cancel context.CancelFunc) {
	t.mu.Lock()
	cancelled := t.state == StateCancelled
	t.cancel = cancel
	t.mu.Unlock()
	if cancelled {
		cancel()
	}
}

// To advances the state machine. Illegal transitions are an error;
// transitions out of a terminal state are always illegal. Re-entering
// the current state is a no-op so interleaved split/upload stages can
// report freely.
func (t *Transfer) To(next State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == next {
		return nil
	}
	if t.state.Terminal() {
		return fmt.Errorf("task: transition from terminal state %s", t.state)
	}
	for _, allowed := range validNext[t.state] {
		if allowed == next {
			t.state = next
			return nil
		}
	}
	return fmt.Errorf("task: illegal transition %s -> %s", t.state, next)
}

// Fail moves the transfer to Failed, recording the error kind.
func (t *Transfer) Fail(kind string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = StateFailed
	t.errKind = kind
	t.err = err
}

// MarkCancelled moves the transfer to Cancelled.
func (t *Transfer) MarkCancelled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = StateCancelled
	t.errKind = "cancelled"
}

// Cancel requests cooperative cancellation. The pipeline observes it at
// the next chunk boundary.
func (t *Transfer) Cancel() {
	t.mu.Lock()
	cancel := t.cancel
	if !t.state.Terminal() && cancel == nil {
		// Not bound yet; mark directly so the submit path sees it.
		t.state = StateCancelled
		t.errKind = "cancelled"
	}
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *Transfer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the recorded failure kind and error, if any.
func (t *Transfer) Err() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errKind, t.err
}

// SetResolved stores the resolver's output on the transfer.
func (t *Transfer) SetResolved(filename, directURL string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filename = filename
	t.directURL = directURL
	t.total = size
}

func (t *Transfer) Filename() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.filename
}

// Progress updates the transferred byte counters.
func (t *Transfer) Progress(done, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = done
	if total >= 0 {
		t.total = total
	}
}

func (t *Transfer) SetSpeed(bps float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speedBps = bps
}

// AddPart appends a delivered part record.
func (t *Transfer) AddPart(p PartStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parts = append(t.parts, p)
}

// MarkDegraded flags that at least one delivery confirmation was lost
// to rate limiting.
func (t *Transfer) MarkDegraded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.degraded = true
}

// Snapshot is an immutable copy for status reporting.
type Snapshot struct {
	ID        string       `json:"id"`
	Owner     int64        `json:"owner"`
	SourceURL string       `json:"source_url"`
	Filename  string       `json:"filename,omitempty"`
	State     string       `json:"state"`
	Done      int64        `json:"bytes_done"`
	Total     int64        `json:"bytes_total"`
	SpeedBps  float64      `json:"speed_bps"`
	Parts     []PartStatus `json:"parts,omitempty"`
	Degraded  bool         `json:"degraded,omitempty"`
	Error     string       `json:"error,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

func (t *Transfer) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		ID:        t.ID,
		Owner:     t.Owner,
		SourceURL: t.SourceURL,
		Filename:  t.filename,
		State:     t.state.String(),
		Done:      t.done,
		Total:     t.total,
		SpeedBps:  t.speedBps,
		Degraded:  t.degraded,
		StartedAt: t.StartedAt,
	}
	if t.errKind != "" {
		snap.Error = t.errKind
	}
	snap.Parts = append(snap.Parts, t.parts...)
	return snap
}
