// Package hlc implements a minimal hybrid logical clock, the same
// (nanos, logical) pairing cdc-sink uses to order resolved timestamps.
// Here it orders transaction commits: the change coordinator stamps
// every batch of pushes with a Time so that the query lifecycle
// manager and view listeners can agree on commit order even when two
// commits land within the same wall-clock nanosecond.
package hlc

import "fmt"

// Time is a (physical, logical) pair. Physical is nanoseconds since the
// Unix epoch; Logical disambiguates multiple Times sharing a physical
// component.
type Time struct {
	nanos   int64
	logical int
}

// Zero is the smallest possible Time, used as a sentinel "no previous
// commit" value.
func Zero() Time { return Time{} }

// New constructs a Time from its components.
func New(nanos int64, logical int) Time { return Time{nanos: nanos, logical: logical} }

// Nanos returns the physical component.
func (t Time) Nanos() int64 { return t.nanos }

// Logical returns the logical component.
func (t Time) Logical() int { return t.logical }

// String renders the time as "nanos.logical".
func (t Time) String() string { return fmt.Sprintf("%d.%d", t.nanos, t.logical) }

// Compare returns -1, 0, or 1 as a is before, equal to, or after b.
func Compare(a, b Time) int {
	switch {
	case a.nanos < b.nanos:
		return -1
	case a.nanos > b.nanos:
		return 1
	case a.logical < b.logical:
		return -1
	case a.logical > b.logical:
		return 1
	default:
		return 0
	}
}

// Next returns a Time strictly after t, sharing t's physical component
// when given the same nanos, or advancing to nanos with a zero logical
// component otherwise. It is used by the change coordinator to stamp
// successive commits observed at the same wall-clock nanosecond.
func (t Time) Next(nanos int64) Time {
	if nanos <= t.nanos {
		return Time{nanos: t.nanos, logical: t.logical + 1}
	}
	return Time{nanos: nanos, logical: 0}
}
