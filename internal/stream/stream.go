// Package stream implements the lazy, single-pass, finite iterator
// abstraction that every operator's fetch/cleanup path returns. It
// takes the place of the channel-based Message iteration in cdc-sink's
// logical.Loop (ReadInto writing into a chan<- Message, Process
// draining a <-chan Message) but inverted into a pull-based next/stop
// generator shape, per the design note that Streams should be modeled
// as next()+cancel() rather than multi-pass iterables.
package stream

import "github.com/rocicorp/zero-ivm/internal/types"

// Stream is a lazy, single-pass, finite iterator of T. A Stream must
// be either drained to exhaustion (Next returning ok=false) or
// explicitly Cleanup'd; consuming it twice, or calling Next after
// Cleanup, is a programmer error operators are expected to avoid by
// construction (Streams are always privately owned by exactly one
// consumer between creation and completion).
type Stream[T any] interface {
	// Next returns the next element, or ok=false once the stream is
	// exhausted. After ok=false, Next must not be called again.
	Next() (T, bool)

	// Cleanup releases any resources the stream holds (open Storage
	// cursors, nested child streams) without requiring the consumer to
	// drain the remainder. It is idempotent.
	Cleanup()
}

// Func adapts a pull function plus a cleanup callback into a Stream.
type Func[T any] struct {
	NextFn    func() (T, bool)
	CleanupFn func()
	done      bool
}

// Next implements Stream.
func (f *Func[T]) Next() (T, bool) {
	if f.done {
		var zero T
		return zero, false
	}
	v, ok := f.NextFn()
	if !ok {
		f.done = true
		if f.CleanupFn != nil {
			f.CleanupFn()
		}
	}
	return v, ok
}

// Cleanup implements Stream.
func (f *Func[T]) Cleanup() {
	if f.done {
		return
	}
	f.done = true
	if f.CleanupFn != nil {
		f.CleanupFn()
	}
}

// FromSlice returns a Stream that yields each element of s in order.
func FromSlice[T any](s []T) Stream[T] {
	i := 0
	return &Func[T]{
		NextFn: func() (T, bool) {
			if i >= len(s) {
				var zero T
				return zero, false
			}
			v := s[i]
			i++
			return v, true
		},
	}
}

// Empty returns a Stream with no elements.
func Empty[T any]() Stream[T] {
	return &Func[T]{NextFn: func() (T, bool) {
		var zero T
		return zero, false
	}}
}

// Collect drains s into a slice and calls Cleanup once exhausted. It
// is a convenience used by tests and by the view assembler's initial
// population pass, which needs every Node up front.
func Collect[T any](s Stream[T]) []T {
	var out []T
	for {
		v, ok := s.Next()
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}

// Map lazily transforms each element of s with fn.
func Map[T, U any](s Stream[T], fn func(T) U) Stream[U] {
	return &Func[U]{
		NextFn: func() (U, bool) {
			v, ok := s.Next()
			if !ok {
				var zero U
				return zero, false
			}
			return fn(v), true
		},
		CleanupFn: s.Cleanup,
	}
}

// Filter lazily keeps only elements of s for which keep returns true.
func Filter[T any](s Stream[T], keep func(T) bool) Stream[T] {
	return &Func[T]{
		NextFn: func() (T, bool) {
			for {
				v, ok := s.Next()
				if !ok {
					var zero T
					return zero, false
				}
				if keep(v) {
					return v, true
				}
			}
		},
		CleanupFn: s.Cleanup,
	}
}

// NodeStream is the Stream[types.Node] alias satisfying
// types.NodeStream, letting a *Func[types.Node] be stored directly in
// a Node's Relationships map.
type NodeStream = Stream[types.Node]
