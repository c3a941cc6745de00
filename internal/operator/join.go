package operator

import (
	"context"

	"github.com/rocicorp/zero-ivm/internal/ast"
	"github.com/rocicorp/zero-ivm/internal/storage"
	"github.com/rocicorp/zero-ivm/internal/stream"
	"github.com/rocicorp/zero-ivm/internal/types"
)

// Join expands a parent Input with a named relationship backed by a
// child connector, correlated on a compound field tuple. For every
// parent Node it exposes a lazily-evaluated relationship stream that
// re-queries the child connector constrained to that parent's
// correlation key.
//
// Storage holds an index from child-correlation-tuple -> the set of
// currently-known parent rows matching it (keyed by
// correlation-tuple then parent PK), so that a child-side push can
// locate every affected parent via Storage.Scan(prefix) without
// re-scanning the whole parent set.
type Join struct {
	input        Input
	child        Input
	relationship string
	correlation  ast.Correlation
	hidden       bool
	parentPK     types.PrimaryKey

	store  storage.Storage
	output Output
}

var _ Operator = (*Join)(nil)

// NewJoin constructs a Join. hidden marks a junction-table hop that
// the pipeline traverses but the view assembler must suppress from its
// output shape.
func NewJoin(input, child Input, relationship string, correlation ast.Correlation, hidden bool, parentPK types.PrimaryKey, store storage.Storage) *Join {
	return &Join{input: input, child: child, relationship: relationship, correlation: correlation, hidden: hidden, parentPK: parentPK, store: store}
}

func (j *Join) Schema() *types.SourceSchema {
	s := j.input.Schema()
	out := *s
	out.Relationships = map[string]*types.SourceSchema{}
	for k, v := range s.Relationships {
		out.Relationships[k] = v
	}
	child := *j.child.Schema()
	child.Hidden = j.hidden
	out.Relationships[j.relationship] = &child
	return &out
}

func (j *Join) FullyAppliedFilters() bool { return j.input.FullyAppliedFilters() }

func (j *Join) SetOutput(o Output) { j.output = o }

func (j *Join) childKeyFor(row types.Row) string {
	return correlationKey(j.correlation.ChildField, row)
}

func (j *Join) parentKeyFor(row types.Row) string {
	return correlationKey(j.correlation.ParentField, row)
}

func correlationKey(fields []string, row types.Row) string {
	var b []byte
	for _, f := range fields {
		b = append(b, []byte(storage.EncodePart(valueString(row[f])))...)
	}
	return string(b)
}

// decorate attaches a relationship thunk to node that, when invoked,
// fetches the child connector filtered to node's correlation key.
func (j *Join) decorate(ctx context.Context, node types.Node) types.Node {
	out := types.Node{Row: node.Row, Relationships: map[string]func() types.NodeStream{}}
	for k, v := range node.Relationships {
		out.Relationships[k] = v
	}
	key := j.parentKeyFor(node.Row)
	out.Relationships[j.relationship] = func() types.NodeStream {
		return stream.Filter(j.child.Fetch(ctx, FetchRequest{}), func(n types.Node) bool {
			return j.childKeyFor(n.Row) == key
		})
	}
	return out
}

func (j *Join) Fetch(ctx context.Context, req FetchRequest) stream.Stream[types.Node] {
	return stream.Map(j.input.Fetch(ctx, req), func(n types.Node) types.Node { return j.decorate(ctx, n) })
}

func (j *Join) Cleanup(ctx context.Context, req FetchRequest) stream.Stream[types.Node] {
	return stream.Map(j.input.Cleanup(ctx, req), func(n types.Node) types.Node { return j.decorate(ctx, n) })
}

func (j *Join) Destroy() {
	j.store.Destroy()
	j.input.Destroy()
	j.child.Destroy()
}

func (j *Join) indexEntry(row types.Row) storage.Key {
	return storage.Encode(j.parentKeyFor(row), pkString(j.parentPK, row))
}

func pkString(pk types.PrimaryKey, row types.Row) string {
	var b []byte
	for _, v := range pk.Values(row) {
		b = append(b, []byte(storage.EncodePart(valueString(v)))...)
	}
	return string(b)
}

// Push handles Changes from the PARENT input.
func (j *Join) Push(ctx context.Context, change types.Change) {
	if j.output == nil {
		return
	}
	switch change.Kind {
	case types.ChangeAdd:
		j.store.Set(j.indexEntry(change.Node.Row), change.Node.Row)
		j.output.Push(ctx, types.Add(j.decorate(ctx, change.Node)))
	case types.ChangeRemove:
		node := j.decorate(ctx, change.OldNode)
		j.store.Delete(j.indexEntry(change.OldNode.Row))
		j.output.Push(ctx, types.Remove(node))
	case types.ChangeEdit:
		if j.parentKeyFor(change.OldNode.Row) != j.parentKeyFor(change.Node.Row) {
			j.store.Delete(j.indexEntry(change.OldNode.Row))
			j.store.Set(j.indexEntry(change.Node.Row), change.Node.Row)
			j.output.Push(ctx, types.Remove(j.decorate(ctx, change.OldNode)))
			j.output.Push(ctx, types.Add(j.decorate(ctx, change.Node)))
			return
		}
		j.store.Set(j.indexEntry(change.Node.Row), change.Node.Row)
		j.output.Push(ctx, types.Edit(j.decorate(ctx, change.Node), j.decorate(ctx, change.OldNode)))
	case types.ChangeChild:
		j.output.Push(ctx, types.ChildOf(j.decorate(ctx, change.Node), change.Child.Relationship, *change.Child.Change))
	}
}

// PushChild handles a Change arriving from the CHILD connector this
// join is rooted at. It is wired by the pipeline builder as the child
// connector's Output. For every parent row currently indexed under the
// child's correlation key, it emits a ChangeChild carrying the nested
// change.
func (j *Join) PushChild(ctx context.Context, change types.Change) {
	if j.output == nil {
		return
	}
	var row types.Row
	switch change.Kind {
	case types.ChangeAdd:
		row = change.Node.Row
	case types.ChangeRemove:
		row = change.OldNode.Row
	case types.ChangeEdit:
		row = change.Node.Row
	default:
		return
	}
	key := j.childKeyFor(row)

	var parents []types.Row
	j.store.Scan(storage.Encode(key), func(k storage.Key, v any) bool {
		parents = append(parents, v.(types.Row))
		return true
	})
	for _, parentRow := range parents {
		parentNode := j.decorate(ctx, types.Node{Row: parentRow, Relationships: map[string]func() types.NodeStream{}})
		j.output.Push(ctx, types.ChildOf(parentNode, j.relationship, change))
	}
}
