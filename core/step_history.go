package core

import "sync"

const defaultStepHistoryCapacity = 100

// stepHistory is a fixed-size ring of the most recent step records.
type stepHistory struct {
	mu    sync.Mutex
	items []StepRecord
	head  int
	count int
}

func newStepHistory(capacity int) *stepHistory {
	if capacity < 1 {
		capacity = defaultStepHistoryCapacity
	}
	return &stepHistory{items: make([]StepRecord, capacity)}
}

func (h *stepHistory) Add(record StepRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first. limit <= 0 means all.
func (h *stepHistory) Recent(limit int) []StepRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]StepRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *stepHistory) Last() (StepRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return StepRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}
