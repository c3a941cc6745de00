package operator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rocicorp/zero-ivm/internal/ast"
	"github.com/rocicorp/zero-ivm/internal/storage"
	"github.com/rocicorp/zero-ivm/internal/stream"
	"github.com/rocicorp/zero-ivm/internal/types"
)

// Exists wraps a correlated subquery as a boolean filter (EXISTS or
// NOT EXISTS). It maintains, in Storage, a count of matching children
// per parent correlation key, and synthesizes an add/remove on the
// parent exactly when that count crosses the 0 <-> >=1 boundary.
type Exists struct {
	input       Input
	child       Input // the child connector/operator the subquery is rooted at
	correlation ast.Correlation
	negate      bool // true for NOT EXISTS

	store  storage.Storage
	output Output
}

var _ Operator = (*Exists)(nil)

// NewExists constructs an Exists operator. op must be ast.Exists or
// ast.NotExists. The count for every parent row currently in input is
// seeded from a one-time probe of child at construction time.
func NewExists(ctx context.Context, input, child Input, correlation ast.Correlation, op ast.ExistsOp, store storage.Storage) *Exists {
	e := &Exists{input: input, child: child, correlation: correlation, negate: op == ast.NotExists, store: store}

	childRows := stream.Collect(child.Fetch(ctx, FetchRequest{}))
	counts := map[string]int{}
	for _, n := range childRows {
		counts[e.childKey(n.Row)]++
	}
	for key, n := range counts {
		store.Set(storage.Encode(key), n)
	}
	return e
}

func (e *Exists) Schema() *types.SourceSchema { return e.input.Schema() }

func (e *Exists) FullyAppliedFilters() bool { return true }

func (e *Exists) SetOutput(o Output) { e.output = o }

func (e *Exists) childKey(row types.Row) string {
	var b []byte
	for _, f := range e.correlation.ChildField {
		b = append(b, []byte(storage.EncodePart(valueString(row[f])))...)
	}
	return string(b)
}

func (e *Exists) parentKey(row types.Row) string {
	var b []byte
	for _, f := range e.correlation.ParentField {
		b = append(b, []byte(storage.EncodePart(valueString(row[f])))...)
	}
	return string(b)
}

// valueString encodes a correlation-field value into a string safe to
// feed through storage.EncodePart, tagging its dynamic type so that,
// say, the string "1" and the number 1 never collide. Numeric values
// (spec.md §3 allows numeric/boolean primary and foreign keys, not
// just strings) are normalized through the same float64 conversion
// internal/operator's predicate comparisons use, so an int-typed join
// key on one side and a float64-typed key on the other (e.g. after a
// JSON round-trip) still encode identically.
func valueString(v types.Value) string {
	if v == nil {
		return "z"
	}
	return toComparableString(v)
}

func toComparableString(v any) string {
	switch t := v.(type) {
	case string:
		return "s" + t
	case bool:
		if t {
			return "bt"
		}
		return "bf"
	default:
		if f, ok := toFloat(v); ok {
			return "n" + strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "o" + fmt.Sprint(t)
	}
}

func (e *Exists) countFor(row types.Row) int {
	v, ok := e.store.Get(storage.Encode(e.parentKey(row)))
	if !ok {
		return 0
	}
	return v.(int)
}

func (e *Exists) satisfied(row types.Row) bool {
	has := e.countFor(row) > 0
	if e.negate {
		return !has
	}
	return has
}

// Filter implements FilterOperator, letting an Exists operator serve
// as one probed branch of an OR evaluated via FilterStart/FilterEnd
// instead of its own Fetch path.
func (e *Exists) Filter(node types.Node) bool { return e.satisfied(node.Row) }

func (e *Exists) Fetch(ctx context.Context, req FetchRequest) stream.Stream[types.Node] {
	return stream.Filter(e.input.Fetch(ctx, req), func(n types.Node) bool { return e.satisfied(n.Row) })
}

func (e *Exists) Cleanup(ctx context.Context, req FetchRequest) stream.Stream[types.Node] {
	return stream.Filter(e.input.Cleanup(ctx, req), func(n types.Node) bool { return e.satisfied(n.Row) })
}

func (e *Exists) Destroy() {
	e.store.Destroy()
	e.input.Destroy()
}

// Push handles a Change arriving from the PARENT input: the
// correlation key does not change the count, only whether the
// (already-known) count satisfies this parent's predicate.
func (e *Exists) Push(ctx context.Context, change types.Change) {
	if e.output == nil {
		return
	}
	switch change.Kind {
	case types.ChangeAdd:
		if e.satisfied(change.Node.Row) {
			e.output.Push(ctx, change)
		}
	case types.ChangeRemove:
		if e.satisfied(change.OldNode.Row) {
			e.output.Push(ctx, change)
		}
	case types.ChangeEdit:
		oldMatch := e.satisfied(change.OldNode.Row)
		newMatch := e.satisfied(change.Node.Row)
		switch {
		case oldMatch && newMatch:
			e.output.Push(ctx, change)
		case oldMatch && !newMatch:
			e.output.Push(ctx, types.Remove(change.OldNode))
		case !oldMatch && newMatch:
			e.output.Push(ctx, types.Add(change.Node))
		}
	case types.ChangeChild:
		if e.satisfied(change.Node.Row) {
			e.output.Push(ctx, change)
		}
	}
}

// PushChild handles a Change arriving from the CHILD connector this
// Exists subquery is rooted at. It is wired by the pipeline builder as
// the child connector's Output instead of (or in addition to) whatever
// consumes the subquery's own rows, since a correlated EXISTS has no
// other use for the child's row-level changes beyond maintaining its
// count.
func (e *Exists) PushChild(ctx context.Context, change types.Change) {
	delta := 0
	var row types.Row
	switch change.Kind {
	case types.ChangeAdd:
		delta, row = 1, change.Node.Row
	case types.ChangeRemove:
		delta, row = -1, change.OldNode.Row
	case types.ChangeEdit:
		oldKey := e.childKey(change.OldNode.Row)
		newKey := e.childKey(change.Node.Row)
		if oldKey == newKey {
			return // count unaffected; no parent row's membership changes
		}
		e.adjustCount(ctx, oldKey, -1)
		e.adjustCount(ctx, newKey, 1)
		return
	default:
		return
	}
	e.adjustCount(ctx, e.childKey(row), delta)
}

// adjustCount updates the per-parent count and, if it crossed the
// 0<->>=1 boundary, re-probes the parent input to find every row whose
// correlation key matches and re-emits its membership accordingly.
func (e *Exists) adjustCount(ctx context.Context, key string, delta int) {
	storeKey := storage.Encode(key)
	cur := 0
	if v, ok := e.store.Get(storeKey); ok {
		cur = v.(int)
	}
	next := cur + delta
	if next <= 0 {
		e.store.Delete(storeKey)
		next = 0
	} else {
		e.store.Set(storeKey, next)
	}

	crossed := (cur == 0) != (next == 0)
	if !crossed || e.output == nil {
		return
	}

	s := e.input.Fetch(ctx, FetchRequest{})
	defer s.Cleanup()
	for {
		n, ok := s.Next()
		if !ok {
			break
		}
		if e.parentKey(n.Row) != key {
			continue
		}
		if e.satisfied(n.Row) {
			e.output.Push(ctx, types.Add(n))
		} else {
			e.output.Push(ctx, types.Remove(n))
		}
	}
}
