package operator

import (
	"context"

	"github.com/rocicorp/zero-ivm/internal/stream"
	"github.com/rocicorp/zero-ivm/internal/types"
)

// Skip implements the start.row/exclusive bound: it drops every
// upstream Node strictly (or, when !exclusive, loosely) less than the
// bound row under the active Ordering, both on Fetch and on Push.
type Skip struct {
	input     Input
	ordering  types.Ordering
	bound     types.Row
	exclusive bool
	output    Output
}

var _ Operator = (*Skip)(nil)

// NewSkip constructs a Skip operator. bound is compared against rows
// using ordering, which must be the same Ordering input.Schema()
// reports (Skip does not re-sort; it only drops a prefix).
func NewSkip(input Input, ordering types.Ordering, bound types.Row, exclusive bool) *Skip {
	return &Skip{input: input, ordering: ordering, bound: bound, exclusive: exclusive}
}

func (s *Skip) Schema() *types.SourceSchema { return s.input.Schema() }

func (s *Skip) FullyAppliedFilters() bool { return s.input.FullyAppliedFilters() }

func (s *Skip) SetOutput(o Output) { s.output = o }

func (s *Skip) keep(row types.Row) bool {
	c := types.CompareRows(s.ordering, row, s.bound)
	if s.exclusive {
		return c > 0
	}
	return c >= 0
}

func (s *Skip) Fetch(ctx context.Context, req FetchRequest) stream.Stream[types.Node] {
	return stream.Filter(s.input.Fetch(ctx, req), func(n types.Node) bool { return s.keep(n.Row) })
}

func (s *Skip) Cleanup(ctx context.Context, req FetchRequest) stream.Stream[types.Node] {
	return stream.Filter(s.input.Cleanup(ctx, req), func(n types.Node) bool { return s.keep(n.Row) })
}

func (s *Skip) Destroy() { s.input.Destroy() }

func (s *Skip) Push(ctx context.Context, change types.Change) {
	if s.output == nil {
		return
	}
	switch change.Kind {
	case types.ChangeAdd:
		if s.keep(change.Node.Row) {
			s.output.Push(ctx, change)
		}
	case types.ChangeRemove:
		if s.keep(change.OldNode.Row) {
			s.output.Push(ctx, change)
		}
	case types.ChangeEdit:
		oldKeep := s.keep(change.OldNode.Row)
		newKeep := s.keep(change.Node.Row)
		switch {
		case oldKeep && newKeep:
			s.output.Push(ctx, change)
		case oldKeep && !newKeep:
			s.output.Push(ctx, types.Remove(change.OldNode))
		case !oldKeep && newKeep:
			s.output.Push(ctx, types.Add(change.Node))
		}
	case types.ChangeChild:
		s.output.Push(ctx, change)
	}
}
