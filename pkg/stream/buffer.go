package stream

import (
	"sync"
)

// Buffer accumulates stream rows in memory.
// It is safe for one writer and many readers.
type Buffer struct {
	mu      sync.RWMutex
	rows    [][]string
	limit   int
	dropped uint64
}

// NewBuffer creates a buffer. A positive limit bounds the number of
// retained rows; once full, the oldest rows are evicted. 0 means
// unbounded.
func NewBuffer(limit int) *Buffer {
	return &Buffer{limit: limit}
}

// Append adds a row.
func (b *Buffer) Append(row []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rows = append(b.rows, row)
	if b.limit > 0 && len(b.rows) > b.limit {
		evict := len(b.rows) - b.limit
		b.rows = append(b.rows[:0:0], b.rows[evict:]...)
		b.dropped += uint64(evict)
	}
}

// Len returns the number of retained rows.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rows)
}

// Rows returns a copy of the retained rows in arrival order.
func (b *Buffer) Rows() [][]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([][]string(nil), b.rows...)
}

// Latest returns the most recent row, if any.
func (b *Buffer) Latest() ([]string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.rows) == 0 {
		return nil, false
	}
	return b.rows[len(b.rows)-1], true
}

// Dropped returns the number of rows evicted due to the limit.
func (b *Buffer) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
