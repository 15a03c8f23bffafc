package ack

import "sync"

// DefaultHistorySize bounds the number of remembered acknowledgements.
const DefaultHistorySize = 1000

// Record is the fact that status was already sent for an event.
type Record struct {
	MRID   string
	Status Status
}

// History is a bounded most-recent-N set of records. The oldest record is
// evicted once the capacity is exceeded.
type History struct {
	mu    sync.Mutex
	ring  []Record
	next  int
	full  bool
	index map[Record]struct{}
}

// NewHistory returns an empty history holding at most size records. A
// non-positive size selects DefaultHistorySize.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{ring: make([]Record, size), index: make(map[Record]struct{}, size)}
}

// Contains reports whether r is remembered.
func (h *History) Contains(r Record) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.index[r]
	return ok
}

// Add records r. It returns false if r was already present.
func (h *History) Add(r Record) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addLocked(r)
}

func (h *History) addLocked(r Record) bool {
	if _, ok := h.index[r]; ok {
		return false
	}
	if h.full {
		delete(h.index, h.ring[h.next])
	}
	h.ring[h.next] = r
	h.index[r] = struct{}{}
	h.next++
	if h.next == len(h.ring) {
		h.next = 0
		h.full = true
	}
	return true
}

// Len returns the number of remembered records.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.index)
}
