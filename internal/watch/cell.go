// Package watch provides a single-writer, multi-reader snapshot cell.
//
// The writer swaps in a new immutable value; readers load the latest value
// with a single atomic read and never block the writer or each other.
// Readers that want to react to changes wait on Changed.
package watch

import (
	"sync"
	"sync/atomic"
)

// Cell holds the latest published value of type T. Published values must be
// treated as immutable by every holder.
type Cell[T any] struct {
	current atomic.Pointer[entry[T]]

	mu      sync.Mutex // serializes writers and guards changed
	changed chan struct{}
}

type entry[T any] struct {
	value    *T
	revision uint64
}

// New returns a cell holding initial at revision 1.
func New[T any](initial *T) *Cell[T] {
	c := &Cell[T]{changed: make(chan struct{})}
	c.current.Store(&entry[T]{value: initial, revision: 1})
	return c
}

// Load returns the latest value. It never blocks.
func (c *Cell[T]) Load() *T {
	return c.current.Load().value
}

// LoadWithRevision returns the latest value together with its revision,
// read atomically.
func (c *Cell[T]) LoadWithRevision() (*T, uint64) {
	e := c.current.Load()
	return e.value, e.revision
}

// Revision returns the revision of the latest value.
func (c *Cell[T]) Revision() uint64 {
	return c.current.Load().revision
}

// Store publishes v and wakes everyone waiting on Changed. It returns the new
// revision. Concurrent writers are serialized; the last one wins.
func (c *Cell[T]) Store(v *T) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	rev := c.current.Load().revision + 1
	c.current.Store(&entry[T]{value: v, revision: rev})

	close(c.changed)
	c.changed = make(chan struct{})
	return rev
}

// Changed returns a channel that is closed the next time a value is
// published after the call.
func (c *Cell[T]) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}
