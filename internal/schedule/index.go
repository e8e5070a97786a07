// Package schedule indexes scheduled tasks and subtasks by start time and
// rejects overlapping windows.
package schedule

import (
	"cmp"
	"slices"
	"time"

	"taskline/internal/domain"
)

type Entry struct {
	ID     int
	Kind   domain.Kind
	Window domain.Schedule
}

func compareEntries(a, b Entry) int {
	if c := a.Window.Start.Compare(b.Window.Start); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Index is an ordered set of entries keyed by (start, id). Stored entries
// never overlap each other, which is what lets a lookup stop at the nearest
// non-empty predecessor.
type Index struct {
	entries []Entry
	byID    map[int]Entry
}

func New() *Index {
	return &Index{byID: make(map[int]Entry)}
}

func (ix *Index) Len() int {
	return len(ix.entries)
}

// Get returns the indexed entry for id.
func (ix *Index) Get(id int) (Entry, bool) {
	e, ok := ix.byID[id]
	return e, ok
}

// Conflict returns the first stored entry, other than the candidate's own
// id, whose window overlaps the candidate's.
func (ix *Index) Conflict(candidate Entry) (Entry, bool) {
	pos, _ := slices.BinarySearchFunc(ix.entries, candidate.Window.Start, func(e Entry, start time.Time) int {
		return e.Window.Start.Compare(start)
	})
	end := candidate.Window.End()
	for i := pos; i < len(ix.entries) && ix.entries[i].Window.Start.Before(end); i++ {
		if e := ix.entries[i]; e.ID != candidate.ID && e.Window.Overlaps(candidate.Window) {
			return e, true
		}
	}
	// Zero-length predecessors cannot reach forward; skip to the first one
	// that can.
	for i := pos - 1; i >= 0; i-- {
		e := ix.entries[i]
		if e.ID == candidate.ID || e.Window.Minutes == 0 {
			continue
		}
		if e.Window.Overlaps(candidate.Window) {
			return e, true
		}
		break
	}
	return Entry{}, false
}

func (ix *Index) WouldConflict(candidate Entry) bool {
	_, ok := ix.Conflict(candidate)
	return ok
}

// Insert adds or replaces the entry for e.ID. It does not check for
// conflicts; callers validate first.
func (ix *Index) Insert(e Entry) {
	ix.Remove(e.ID)
	pos, _ := slices.BinarySearchFunc(ix.entries, e, compareEntries)
	ix.entries = slices.Insert(ix.entries, pos, e)
	ix.byID[e.ID] = e
}

// Remove drops the entry for id if present.
func (ix *Index) Remove(id int) {
	old, ok := ix.byID[id]
	if !ok {
		return
	}
	delete(ix.byID, id)
	if pos, found := slices.BinarySearchFunc(ix.entries, old, compareEntries); found {
		ix.entries = slices.Delete(ix.entries, pos, pos+1)
	}
}

// Snapshot returns all entries ordered by start time.
func (ix *Index) Snapshot() []Entry {
	return slices.Clone(ix.entries)
}

func (ix *Index) Reset() {
	ix.entries = nil
	ix.byID = make(map[int]Entry)
}
