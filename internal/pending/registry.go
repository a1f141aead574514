// Package pending implements the pending-write registry: the per-session
// ordered set of speculative writes submitted to the server but not yet
// acknowledged. The registry's one job is computing locally visible
// values by overlaying pending writes atop the last-known server value.
package pending

import (
	"sync"

	"github.com/roach88/rowan/internal/tree"
)

// Write is a speculative write awaiting server acknowledgment.
// Writes are owned exclusively by the Registry; callers hold copies.
type Write struct {
	Path    tree.Path
	Value   tree.Value
	WriteID int64
	Visible bool
}

// Registry holds pending writes in WriteID order.
//
// WriteIDs are strictly increasing and define overlay order: a later
// write overlays an earlier one where their paths overlap. All mutation
// goes through Add/Remove/SetVisible; the slice is never handed out.
//
// Thread-safety: all methods are safe for concurrent use. In practice
// the transaction manager serializes access, but raw Set() calls from
// the public surface may race with a runner goroutine.
type Registry struct {
	mu     sync.Mutex
	writes []Write
	nextID int64
}

// NewRegistry creates an empty registry. The first Add returns WriteID 1.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a pending write and returns its WriteID.
// If visible is false the write is tracked for acknowledgment but does
// not participate in overlay computation (applyLocally=false
// transactions).
func (r *Registry) Add(path tree.Path, value tree.Value, visible bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.writes = append(r.writes, Write{
		Path:    path,
		Value:   value,
		WriteID: r.nextID,
		Visible: visible,
	})
	return r.nextID
}

// Remove deletes the write with the given ID on acknowledgment or
// rejection. Removal is idempotent: removing an already-removed write
// is a no-op and returns false.
func (r *Registry) Remove(writeID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, w := range r.writes {
		if w.WriteID == writeID {
			r.writes = append(r.writes[:i], r.writes[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns a copy of the write with the given ID.
func (r *Registry) Get(writeID int64) (Write, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.writes {
		if w.WriteID == writeID {
			return w, true
		}
	}
	return Write{}, false
}

// Len returns the number of pending writes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

// OverlayedValue returns the locally visible value at path: serverValue
// with every visible pending write that overlaps path applied in
// WriteID order. The second return reports whether any write shadowed
// the server value.
//
// A write at an ancestor of path replaces the whole subtree seen at
// path (later descendant writes may patch it again); a write at a
// descendant of path patches into the accumulating value.
func (r *Registry) OverlayedValue(path tree.Path, serverValue tree.Value) (tree.Value, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := serverValue
	if tree.IsNull(current) {
		current = tree.Null{}
	}
	shadowed := false

	for _, w := range r.writes {
		if !w.Visible {
			continue
		}
		switch {
		case w.Path.Contains(path):
			// Ancestor (or exact) write: the value at path is carved
			// out of the written subtree, superseding everything before.
			rel, _ := path.RelativeTo(w.Path)
			current = tree.GetAt(w.Value, rel)
			shadowed = true
		case path.Contains(w.Path):
			// Descendant write: patch into the accumulating value.
			rel, _ := w.Path.RelativeTo(path)
			current = tree.SetAt(current, rel, w.Value)
			shadowed = true
		}
	}

	return current, shadowed
}

// HasOverlapping reports whether any pending write (visible or not)
// overlaps path. Used to detect transactions endangered by an external
// overwrite.
func (r *Registry) HasOverlapping(path tree.Path) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.writes {
		if w.Path.Overlaps(path) {
			return true
		}
	}
	return false
}

// WritesOverlapping returns copies of all writes overlapping path in
// WriteID order.
func (r *Registry) WritesOverlapping(path tree.Path) []Write {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Write
	for _, w := range r.writes {
		if w.Path.Overlaps(path) {
			out = append(out, w)
		}
	}
	return out
}
