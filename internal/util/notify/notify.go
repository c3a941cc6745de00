// Package notify provides a generic, goroutine-safe "last value wins"
// variable with a channel-based wakeup, the same shape as the
// notify.Var[hlc.Time] used internally by cdc-sink's resolver loop to
// wake a consumer when a new mark or retirement time is recorded.
//
// internal/channel uses it to queue patches and wake its flush loop.
package notify

import "sync"

// Var holds a value of type T plus a channel that is closed and
// replaced every time the value changes, so that any number of
// goroutines can cheaply wait for the next update without missing one
// that occurs between their calls to Get and their receive on the
// channel.
type Var[T any] struct {
	mu      sync.Mutex
	val     T
	changed chan struct{}
}

// Get returns the current value and a channel that will be closed the
// next time Set is called. Callers should re-invoke Get after the
// channel fires to pick up the new value and a fresh wakeup channel.
func (v *Var[T]) Get() (T, <-chan struct{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.changed == nil {
		v.changed = make(chan struct{})
	}
	return v.val, v.changed
}

// Set stores a new value and wakes all current waiters.
func (v *Var[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.val = val
	if v.changed != nil {
		close(v.changed)
	}
	v.changed = make(chan struct{})
}

// Peek returns the current value without allocating a wakeup channel.
func (v *Var[T]) Peek() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.val
}
