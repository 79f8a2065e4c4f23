// Package handoff holds the single pending line shared between connection
// handlers and the background relay loops.
package handoff

import (
	"sync"
	"sync/atomic"
)

const DefaultMaxBytes = 1024

// Buffer is a one-slot mailbox. A write replaces whatever is pending, read
// or not; ReadAndClear empties it. Readers never see a partial write.
type Buffer struct {
	max int

	mu   sync.Mutex
	data []byte
	full bool

	notify     chan struct{}
	overwrites atomic.Uint64
}

func New(maxBytes int) *Buffer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Buffer{
		max:    maxBytes,
		data:   make([]byte, 0, maxBytes),
		notify: make(chan struct{}, 1),
	}
}

// Write stores a copy of p, truncated to the configured maximum, and reports
// whether an unread value was discarded.
func (b *Buffer) Write(p []byte) (overwrote bool) {
	if len(p) > b.max {
		p = p[:b.max]
	}
	b.mu.Lock()
	overwrote = b.full
	b.data = append(b.data[:0], p...)
	b.full = true
	b.mu.Unlock()

	if overwrote {
		b.overwrites.Add(1)
	}
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return overwrote
}

// MaxBytes is the longest value Write keeps intact.
func (b *Buffer) MaxBytes() int { return b.max }

// ReadAndClear returns the pending value and empties the slot.
func (b *Buffer) ReadAndClear() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return nil, false
	}
	out := append([]byte(nil), b.data...)
	b.data = b.data[:0]
	b.full = false
	return out, true
}

// Peek copies the pending value without consuming it. Empty slot yields nil.
func (b *Buffer) Peek() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return nil
	}
	return append([]byte(nil), b.data...)
}

// Notify is signalled after every Write. Signals coalesce.
func (b *Buffer) Notify() <-chan struct{} { return b.notify }

// Overwrites counts writes that replaced an unread value.
func (b *Buffer) Overwrites() uint64 { return b.overwrites.Load() }
