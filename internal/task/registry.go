package task

import (
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrAlreadyActive means the owner already has a non-terminal transfer.
var ErrAlreadyActive = errors.New("task: owner already has an active transfer")

// ErrBusy means the global concurrency ceiling is reached.
var ErrBusy = errors.New("task: transfer slots exhausted, try again later")

// Registry is the process-wide owner→transfer map. It enforces at most
// one non-terminal transfer per owner and a global ceiling on
// simultaneous transfers.
type Registry struct {
	mu      sync.Mutex
	byOwner map[int64]*Transfer
	holding map[*Transfer]struct{} // transfers holding a slot
	slots   *semaphore.Weighted
}

func NewRegistry(maxConcurrent int64) *Registry {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Registry{
		byOwner: make(map[int64]*Transfer),
		holding: make(map[*Transfer]struct{}),
		slots:   semaphore.NewWeighted(maxConcurrent),
	}
}

// Add registers t. Under concurrent submission for one owner exactly one
// call wins; the rest get ErrAlreadyActive. Submissions beyond the
// global ceiling fail fast with ErrBusy.
func (r *Registry) Add(t *Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byOwner[t.Owner]; ok && !existing.State().Terminal() {
		return ErrAlreadyActive
	}
	if !r.slots.TryAcquire(1) {
		return ErrBusy
	}
	r.byOwner[t.Owner] = t
	r.holding[t] = struct{}{}
	return nil
}

// Get returns the owner's registered transfer.
func (r *Registry) Get(owner int64) (*Transfer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byOwner[owner]
	return t, ok
}

// Cancel requests cancellation of the owner's transfer and reports
// whether one existed.
func (r *Registry) Cancel(owner int64) bool {
	r.mu.Lock()
	t, ok := r.byOwner[owner]
	r.mu.Unlock()
	if !ok {
		return false
	}
	t.Cancel()
	return true
}

// Remove deregisters t and frees its slot. Called exactly once, on the
// terminal transition.
func (r *Registry) Remove(t *Transfer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.holding[t]; !held {
		return
	}
	delete(r.holding, t)
	r.slots.Release(1)
	// A terminal entry may already have been replaced by a newer
	// submission for the same owner; never evict that one.
	if current, ok := r.byOwner[t.Owner]; ok && current == t {
		delete(r.byOwner, t.Owner)
	}
}

// Snapshots returns status copies of every registered transfer.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	transfers := make([]*Transfer, 0, len(r.byOwner))
	for _, t := range r.byOwner {
		transfers = append(transfers, t)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(transfers))
	for _, t := range transfers {
		snaps = append(snaps, t.Snapshot())
	}
	return snaps
}

// Len reports the number of registered transfers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byOwner)
}
