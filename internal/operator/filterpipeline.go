package operator

import (
	"context"

	"github.com/rocicorp/zero-ivm/internal/stream"
	"github.com/rocicorp/zero-ivm/internal/types"
)

// FilterOperator is the alternate, cheaper shape used inside complex
// where clauses (especially OR): instead of a full fetch, it exposes
// only filter(node) -> bool. It cannot mutate a row or its
// relationships, only decide whether to keep it, which is what lets
// FilterEnd evaluate several of these against a single upstream fetch
// rather than materializing one sub-fetch per branch and unioning the
// results.
type FilterOperator interface {
	Filter(node types.Node) bool
}

// PredicateFilterOperator adapts a compiled RowPredicate into a
// FilterOperator, for an OR/AND branch with no correlated subquery.
type PredicateFilterOperator struct {
	Predicate RowPredicate
}

func (p PredicateFilterOperator) Filter(node types.Node) bool { return p.Predicate(node.Row) }

// FilterInput is what FilterStart produces: a Stream already adapted
// so FilterEnd can probe it node-by-node against any number of
// FilterOperators without re-fetching per branch.
type FilterInput = stream.Stream[types.Node]

// FilterStart adapts a normal Input's Fetch into a FilterInput.
func FilterStart(ctx context.Context, input Input, req FetchRequest) FilterInput {
	return input.Fetch(ctx, req)
}

// Combine selects how FilterEnd combines multiple FilterOperators:
// CombineAnd keeps a node iff every operator keeps it; CombineOr keeps
// it iff any operator does.
type Combine int

const (
	CombineAnd Combine = iota
	CombineOr
)

// FilterEnd re-wraps a FilterInput back into a normal Stream[Node],
// keeping only nodes that pass every (CombineAnd) or any (CombineOr)
// of ops, in a single pass over in.
func FilterEnd(in FilterInput, combine Combine, ops []FilterOperator) stream.Stream[types.Node] {
	keep := func(n types.Node) bool {
		switch combine {
		case CombineOr:
			for _, op := range ops {
				if op.Filter(n) {
					return true
				}
			}
			return len(ops) == 0
		default:
			for _, op := range ops {
				if !op.Filter(n) {
					return false
				}
			}
			return true
		}
	}
	return stream.Filter(in, keep)
}
