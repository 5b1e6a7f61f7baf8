package watcher

import "sync"

// Counts summarizes filesystem activity between two drains.
type Counts struct {
	Modified int
	Renamed  int
	Deleted  int
}

// Total returns the combined event count.
func (c Counts) Total() int {
	return c.Modified + c.Renamed + c.Deleted
}

// Accumulator coalesces filesystem events per path. Ten writes to the same
// file inside one poll window count once, which keeps an editor autosave from
// looking like mass encryption while a real sweep across many files still
// produces a large count.
type Accumulator struct {
	mu       sync.Mutex
	modified map[string]struct{}
	renamed  map[string]struct{}
	deleted  map[string]struct{}
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	a := &Accumulator{}
	a.reset()
	return a
}

func (a *Accumulator) reset() {
	a.modified = make(map[string]struct{})
	a.renamed = make(map[string]struct{})
	a.deleted = make(map[string]struct{})
}

// RecordModified marks path as modified. Newly created files are recorded
// here too, because a mass-encryption pass that writes ciphertext copies
// shows up as a burst of creations.
func (a *Accumulator) RecordModified(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.modified[path] = struct{}{}
}

// RecordRenamed marks path as the destination of a rename.
func (a *Accumulator) RecordRenamed(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.renamed[path] = struct{}{}
}

// RecordDeleted marks path as deleted.
func (a *Accumulator) RecordDeleted(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted[path] = struct{}{}
}

// Drain returns the distinct-path counts accumulated since the previous
// drain and atomically resets the sets, so no event is counted twice and
// none is lost between cycles.
func (a *Accumulator) Drain() Counts {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := Counts{
		Modified: len(a.modified),
		Renamed:  len(a.renamed),
		Deleted:  len(a.deleted),
	}
	a.reset()
	return counts
}
