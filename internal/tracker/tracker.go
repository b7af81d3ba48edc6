// Package tracker accumulates the tables the system under test touches
// between two test boundaries.
package tracker

import (
	"sync"

	"github.com/mesh-intelligence/baseline/pkg/types"
)

// Tracker records table accesses for the current window. RecordAccess is
// safe for concurrent use. Boundary gives the coordinator exclusive access
// to the window while it resets the database.
type Tracker struct {
	mu       sync.Mutex
	writes   map[types.TableName]int
	reads    map[types.TableName]int
	recorded uint64
	observe  func(types.Access)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithObserver calls fn for every recorded access, outside the lock.
func WithObserver(fn func(types.Access)) Option {
	return func(t *Tracker) { t.observe = fn }
}

// New returns an empty Tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		writes: make(map[types.TableName]int),
		reads:  make(map[types.TableName]int),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// RecordAccess notes that the SUT issued a statement of the given kind
// naming table. Reads are kept for diagnostics only.
func (t *Tracker) RecordAccess(table types.TableName, kind types.OperationKind) {
	name := types.NormalizeTableName(string(table))
	if name == "" {
		return
	}

	t.mu.Lock()
	if kind.IsWrite() {
		t.writes[name]++
	} else {
		t.reads[name]++
	}
	t.recorded++
	t.mu.Unlock()

	if t.observe != nil {
		t.observe(types.Access{Table: name, Kind: kind})
	}
}

// CurrentAccessSet returns a copy of the tables written in this window.
func (t *Tracker) CurrentAccessSet() types.AccessSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return setOf(t.writes)
}

// ReadSet returns a copy of the tables only read in this window.
func (t *Tracker) ReadSet() types.AccessSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := make(types.AccessSet, len(t.reads))
	for name := range t.reads {
		if _, written := t.writes[name]; !written {
			s.Add(name)
		}
	}
	return s
}

// Reset clears the window.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
}

// Boundary runs fn with the window's write set while holding the tracker
// lock, so accesses arriving meanwhile wait and are counted in the next
// window. The window is cleared only when fn succeeds; on error the set is
// kept so a retry resets the same tables.
func (t *Tracker) Boundary(fn func(writes types.AccessSet) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := fn(setOf(t.writes)); err != nil {
		return err
	}
	t.clearLocked()
	return nil
}

// Stats describes the current window.
type Stats struct {
	Writes   []types.TableName `json:"writes"`
	Reads    []types.TableName `json:"reads"`
	Recorded uint64            `json:"recorded"`
}

// Stats returns a summary of the current window. Recorded counts every
// access since the tracker was created.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	reads := make(types.AccessSet, len(t.reads))
	for name := range t.reads {
		reads.Add(name)
	}
	return Stats{
		Writes:   setOf(t.writes).Tables(),
		Reads:    reads.Tables(),
		Recorded: t.recorded,
	}
}

func (t *Tracker) clearLocked() {
	clear(t.writes)
	clear(t.reads)
}

func setOf(m map[types.TableName]int) types.AccessSet {
	s := make(types.AccessSet, len(m))
	for name := range m {
		s.Add(name)
	}
	return s
}
