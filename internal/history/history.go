// Package history keeps the distinct set of viewed entities in
// least-recently to most-recently viewed order.
//
// Nodes live in a slot arena and link to each other by slot index; the id
// map points at slots. Released slots go on a free list and are reused, so
// recording, forgetting and moving an entry to the recent end are O(1).
package history

const none = -1

type node[T any] struct {
	id      int
	payload T
	prev    int
	next    int
}

// Tracker is not safe for concurrent use; callers serialize access.
type Tracker[T any] struct {
	limit int
	slots []node[T]
	free  []int
	index map[int]int
	head  int // least recently viewed
	tail  int // most recently viewed
}

// New returns a tracker. A limit of zero or less keeps every distinct id;
// otherwise the least recently viewed entry is evicted once limit is exceeded.
func New[T any](limit int) *Tracker[T] {
	if limit < 0 {
		limit = 0
	}
	return &Tracker[T]{
		limit: limit,
		index: make(map[int]int),
		head:  none,
		tail:  none,
	}
}

// Record marks id as just viewed. An id already present is moved to the
// recent end with its payload replaced, never duplicated.
func (t *Tracker[T]) Record(id int, payload T) {
	if slot, ok := t.index[id]; ok {
		t.unlink(slot)
		t.slots[slot].payload = payload
		t.linkLast(slot)
		return
	}
	slot := t.alloc(id, payload)
	t.index[id] = slot
	t.linkLast(slot)
	if t.limit > 0 && len(t.index) > t.limit {
		t.Forget(t.slots[t.head].id)
	}
}

// Forget drops id. Unknown ids are ignored.
func (t *Tracker[T]) Forget(id int) {
	slot, ok := t.index[id]
	if !ok {
		return
	}
	delete(t.index, id)
	t.unlink(slot)
	t.release(slot)
}

// Contains reports whether id is tracked.
func (t *Tracker[T]) Contains(id int) bool {
	_, ok := t.index[id]
	return ok
}

func (t *Tracker[T]) Len() int {
	return len(t.index)
}

// Snapshot returns the payloads from least to most recently viewed. The
// slice is a fresh copy.
func (t *Tracker[T]) Snapshot() []T {
	out := make([]T, 0, len(t.index))
	for slot := t.head; slot != none; slot = t.slots[slot].next {
		out = append(out, t.slots[slot].payload)
	}
	return out
}

// IDs returns the tracked ids in the same order as Snapshot.
func (t *Tracker[T]) IDs() []int {
	out := make([]int, 0, len(t.index))
	for slot := t.head; slot != none; slot = t.slots[slot].next {
		out = append(out, t.slots[slot].id)
	}
	return out
}

// Reset forgets everything and drops the arena.
func (t *Tracker[T]) Reset() {
	t.slots = nil
	t.free = nil
	t.index = make(map[int]int)
	t.head, t.tail = none, none
}

func (t *Tracker[T]) alloc(id int, payload T) int {
	n := node[T]{id: id, payload: payload, prev: none, next: none}
	if k := len(t.free); k > 0 {
		slot := t.free[k-1]
		t.free = t.free[:k-1]
		t.slots[slot] = n
		return slot
	}
	t.slots = append(t.slots, n)
	return len(t.slots) - 1
}

func (t *Tracker[T]) release(slot int) {
	var zero T
	t.slots[slot] = node[T]{payload: zero, prev: none, next: none}
	t.free = append(t.free, slot)
}

func (t *Tracker[T]) linkLast(slot int) {
	n := &t.slots[slot]
	n.prev = t.tail
	n.next = none
	if t.tail == none {
		t.head = slot
	} else {
		t.slots[t.tail].next = slot
	}
	t.tail = slot
}

func (t *Tracker[T]) unlink(slot int) {
	n := &t.slots[slot]
	if n.prev == none {
		t.head = n.next
	} else {
		t.slots[n.prev].next = n.next
	}
	if n.next == none {
		t.tail = n.prev
	} else {
		t.slots[n.next].prev = n.prev
	}
	n.prev, n.next = none, none
}
