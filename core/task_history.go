package core

import (
	"sync"
)

const defaultHistoryCapacity = 100

// actionHistory is a fixed-size ring of the most recent ActionRecords.
type actionHistory struct {
	mu    sync.Mutex
	items []ActionRecord
	head  int
	count int
}

func newActionHistory(capacity int) *actionHistory {
	if capacity < 1 {
		capacity = defaultHistoryCapacity
	}
	return &actionHistory{items: make([]ActionRecord, capacity)}
}

func (h *actionHistory) Add(record ActionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first. limit <= 0 means all.
func (h *actionHistory) Recent(limit int) []ActionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]ActionRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *actionHistory) Last() (ActionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return ActionRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}
