package ingest

import (
	"sync"

	"github.com/reugn/hostwatch"
)

// Buffer is an unbounded, append-only, in-memory list of received
// snapshots. It is safe for concurrent use.
type Buffer struct {
	mu        sync.RWMutex
	snapshots []hostwatch.Snapshot
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds s to the end of the buffer.
func (b *Buffer) Append(s hostwatch.Snapshot) {
	b.mu.Lock()
	b.snapshots = append(b.snapshots, s)
	b.mu.Unlock()
}

// All returns a copy of the buffered snapshots in append order.
func (b *Buffer) All() []hostwatch.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]hostwatch.Snapshot, len(b.snapshots))
	copy(out, b.snapshots)
	return out
}

// Len returns the number of buffered snapshots.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.snapshots)
}
