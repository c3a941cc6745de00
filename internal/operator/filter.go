package operator

import (
	"context"

	"github.com/rocicorp/zero-ivm/internal/stream"
	"github.com/rocicorp/zero-ivm/internal/types"
)

// Filter wraps an Input and applies a RowPredicate to every Node it
// yields or is pushed, implementing the edit-split law: an incoming
// edit is forwarded unchanged only when both the old and new row
// satisfy the predicate; if only one side satisfies it, the edit is
// rewritten into a remove or add; if neither satisfies it, the edit is
// dropped.
type Filter struct {
	input     Input
	predicate RowPredicate
	output    Output
}

var _ Operator = (*Filter)(nil)

// NewFilter constructs a Filter. The pipeline builder is expected to
// skip constructing one at all when input.FullyAppliedFilters()
// already covers predicate (e.g. a Source Connector opened with the
// same where clause).
func NewFilter(input Input, predicate RowPredicate) *Filter {
	return &Filter{input: input, predicate: predicate}
}

func (f *Filter) Schema() *types.SourceSchema { return f.input.Schema() }

// FullyAppliedFilters is always true for a Filter: whatever its own
// predicate doesn't cover, it has no way to enforce, so it only ever
// reports on the condition it itself was built with, which it always
// fully applies.
func (f *Filter) FullyAppliedFilters() bool { return true }

func (f *Filter) SetOutput(o Output) { f.output = o }

func (f *Filter) Fetch(ctx context.Context, req FetchRequest) stream.Stream[types.Node] {
	return stream.Filter(f.input.Fetch(ctx, req), func(n types.Node) bool {
		return f.predicate(n.Row)
	})
}

func (f *Filter) Cleanup(ctx context.Context, req FetchRequest) stream.Stream[types.Node] {
	return stream.Filter(f.input.Cleanup(ctx, req), func(n types.Node) bool {
		return f.predicate(n.Row)
	})
}

func (f *Filter) Destroy() { f.input.Destroy() }

func (f *Filter) Push(ctx context.Context, change types.Change) {
	if f.output == nil {
		return
	}
	switch change.Kind {
	case types.ChangeAdd:
		if f.predicate(change.Node.Row) {
			f.output.Push(ctx, change)
		}
	case types.ChangeRemove:
		if f.predicate(change.OldNode.Row) {
			f.output.Push(ctx, change)
		}
	case types.ChangeEdit:
		oldMatch := f.predicate(change.OldNode.Row)
		newMatch := f.predicate(change.Node.Row)
		switch {
		case oldMatch && newMatch:
			f.output.Push(ctx, change)
		case oldMatch && !newMatch:
			f.output.Push(ctx, types.Remove(change.OldNode))
		case !oldMatch && newMatch:
			f.output.Push(ctx, types.Add(change.Node))
		}
	case types.ChangeChild:
		// A child change passes through a row-predicate Filter
		// untouched: it carries no information about this operator's
		// own row, only about a relationship hung off it.
		f.output.Push(ctx, change)
	}
}
