package term

import (
	"fmt"
	"sync"
)

// MaxAtomLength is the longest atom name, in bytes, the table accepts.
const MaxAtomLength = 255

// DefaultAtomLimit is the atom table capacity used when none is given.
const DefaultAtomLimit = 1 << 20

// AtomTable interns atom names to indices and resolves them back.
type AtomTable interface {
	Intern(name string) (uint64, error)
	Name(index uint64) (string, bool)
}

// preinterned atoms occupy the first indices of every table.
var preinterned = []string{"false", "true", "ok", "error", "undefined", "badarg", "nil"}

// Atoms is the default AtomTable. Indices are dense and never reused.
type Atoms struct {
	mu     sync.RWMutex
	byName map[string]uint64
	byID   []string
	limit  int
}

// NewAtoms creates a table that holds at most limit atoms. A limit below
// the number of preinterned atoms is raised to it.
func NewAtoms(limit int) *Atoms {
	if limit <= 0 {
		limit = DefaultAtomLimit
	}
	if limit < len(preinterned) {
		limit = len(preinterned)
	}
	a := &Atoms{
		byName: make(map[string]uint64, len(preinterned)),
		byID:   make([]string, 0, len(preinterned)),
		limit:  limit,
	}
	for _, name := range preinterned {
		a.byName[name] = uint64(len(a.byID))
		a.byID = append(a.byID, name)
	}
	return a
}

// Intern returns the index of name, adding it when absent. It fails with
// ErrSystemLimit when the table is full or the name is too long.
func (a *Atoms) Intern(name string) (uint64, error) {
	a.mu.RLock()
	if id, ok := a.byName[name]; ok {
		a.mu.RUnlock()
		return id, nil
	}
	a.mu.RUnlock()

	if len(name) > MaxAtomLength {
		return 0, fmt.Errorf("%w: atom name of %d bytes", ErrSystemLimit, len(name))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.byName[name]; ok {
		return id, nil
	}
	if len(a.byID) >= a.limit {
		return 0, fmt.Errorf("%w: atom table full (%d)", ErrSystemLimit, a.limit)
	}
	id := uint64(len(a.byID))
	a.byName[name] = id
	a.byID = append(a.byID, name)
	return id, nil
}

// Lookup returns the index of name without interning it.
func (a *Atoms) Lookup(name string) (uint64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.byName[name]
	return id, ok
}

// Name returns the atom name at index.
func (a *Atoms) Name(index uint64) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if index >= uint64(len(a.byID)) {
		return "", false
	}
	return a.byID[index], true
}

// Len returns the number of interned atoms.
func (a *Atoms) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byID)
}
