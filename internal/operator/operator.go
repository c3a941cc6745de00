// Package operator implements the IVM pipeline operators: Filter, Skip
// (start), Take (limit), Join, Exists, and the fan-out/fan-in pair used
// to evaluate OR without duplicate emission. Every operator in this
// package -- and the Source connectors in internal/source -- implement
// the common Operator capability set described by the pipeline design:
// getSchema/setOutput/fetch/cleanup/push/destroy, modeled as an
// interface rather than a class hierarchy, per the "dynamic dispatch of
// operators" design note.
package operator

import (
	"context"

	"github.com/rocicorp/zero-ivm/internal/stream"
	"github.com/rocicorp/zero-ivm/internal/types"
)

// FetchRequest carries per-call fetch options. It is currently empty
// but kept as a distinct type (rather than passing no arguments) since
// cleanup shares its shape with fetch and a future option (e.g. a
// caller-supplied row budget) should not change either signature.
type FetchRequest struct{}

// Output is implemented by anything that can receive a pushed Change
// from its upstream Operator. Every Operator is itself a valid Output
// for the Operator directly above it in the graph.
type Output interface {
	Push(ctx context.Context, change types.Change)
}

// Input is the upstream-facing capability set: producing Nodes on
// demand and reporting whether its own filtering already subsumes the
// where clause of whoever connects to it.
type Input interface {
	// Schema describes the rows this Input yields: table, columns, PK,
	// relationships, and the Ordering the Input's Fetch stream is
	// sorted under.
	Schema() *types.SourceSchema

	// Fetch returns a Stream of every Node currently matching this
	// Input's filter, in Schema().Ordering order.
	Fetch(ctx context.Context, req FetchRequest) stream.Stream[types.Node]

	// Cleanup mirrors Fetch but signals to the Input (and transitively
	// its own upstream) that the result does not need to be retained;
	// it is used when a downstream operator is being destroyed mid-use.
	Cleanup(ctx context.Context, req FetchRequest) stream.Stream[types.Node]

	// FullyAppliedFilters reports whether this Input already enforces
	// the entirety of the where clause it was built/connected with, so
	// that a downstream Filter for the same predicate can be elided.
	FullyAppliedFilters() bool

	// Destroy releases this Input and, transitively, propagates the
	// destroy upward to whatever it was built from.
	Destroy()
}

// Operator is an Input that also accepts pushed Changes from its
// upstream and forwards (possibly transformed, split, or suppressed)
// Changes to a configured downstream Output.
type Operator interface {
	Input
	Output

	// SetOutput wires this Operator's downstream consumer. It must be
	// called exactly once, before any Push.
	SetOutput(o Output)
}
