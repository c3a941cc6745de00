// Package view implements the view assembler (spec §4.4): it turns a
// pipeline's initial Fetch plus subsequent pushed Changes into a
// hierarchical, copy-on-write result tree shaped by a Format, and
// notifies listeners with the new snapshot after every Change it
// applies.
package view

import (
	"context"
	"sort"

	"github.com/rocicorp/zero-ivm/internal/operator"
	"github.com/rocicorp/zero-ivm/internal/types"
)

// Entry is one node of the assembled result tree: a row plus, for each
// non-hidden relationship, either a single child Entry (singular) or
// an ordered slice of them.
type Entry struct {
	Row           types.Row
	Relationships map[string]*Relationship
}

// Relationship holds one named relationship's assembled children,
// shaped according to its Format.Singular.
type Relationship struct {
	Format *types.Format
	Single *Entry
	Many   []*Entry
}

func (e *Entry) clone() *Entry {
	out := &Entry{Row: e.Row.Clone()}
	if len(e.Relationships) > 0 {
		out.Relationships = make(map[string]*Relationship, len(e.Relationships))
		for name, r := range e.Relationships {
			out.Relationships[name] = r
		}
	}
	return out
}

func (e *Entry) setRelationship(name string, r *Relationship) {
	if e.Relationships == nil {
		e.Relationships = map[string]*Relationship{}
	}
	e.Relationships[name] = r
}

// ResultType tracks a materialized View's "unknown -> complete"
// transition (spec §4.6); View exposes it but the Query Lifecycle
// Manager owns flipping it.
type ResultType int

const (
	ResultUnknown ResultType = iota
	ResultComplete
)

// Listener is called after every Change the View applies (and on every
// SetResultType) with the new root snapshot and the View's current
// ResultType. A commit whose changes reach the View as several Changes
// calls it once per Change, not once per commit.
type Listener func(root []*Entry, rt ResultType)

// View assembles and incrementally maintains a query's result tree. It
// implements operator.Output so a pipeline's terminal operator can be
// wired directly to it.
type View struct {
	schema *types.SourceSchema
	format *types.Format
	pk     types.PrimaryKey

	root       []*Entry
	resultType ResultType
	listeners  []Listener

	onDestroy func()
}

var _ operator.Output = (*View)(nil)

// New constructs a View over input's initial Fetch, shaped by format.
// schema is input's own Schema(), consulted recursively to suppress
// hidden (junction-table) relationships that Join always attaches to a
// Node but that no consumer should ever see. pk is the root table's
// primary key, used to address root Entries by identity on
// add/remove/edit. If input has a SetOutput method, New attaches the
// View as input's Output so later pushes reach it.
func New(ctx context.Context, input operator.Input, format *types.Format, pk types.PrimaryKey) *View {
	v := &View{schema: input.Schema(), format: format, pk: pk}
	s := input.Fetch(ctx, operator.FetchRequest{})
	for {
		n, ok := s.Next()
		if !ok {
			break
		}
		v.root = append(v.root, assembleFromNode(n, v.schema, format))
	}
	s.Cleanup()
	if o, ok := input.(interface{ SetOutput(operator.Output) }); ok {
		o.SetOutput(v)
	}
	return v
}

// Data returns the current root snapshot. The returned slice and every
// Entry reachable from it must be treated as immutable by the caller:
// the assembler never mutates a published Entry in place, only
// produces new ones along the path from root to a changed node
// (copy-on-write), so a reference taken before a later Push remains
// valid and unchanged.
func (v *View) Data() []*Entry { return v.root }

// ResultType returns the View's current result-type.
func (v *View) ResultType() ResultType { return v.resultType }

// SetResultType is called by the Query Lifecycle Manager when the
// server's "got" signal (or defaultQueryComplete) fires.
func (v *View) SetResultType(rt ResultType) {
	v.resultType = rt
	v.notify()
}

// AddListener registers cb to be called after every subsequent Change
// and SetResultType (cb is not itself called synchronously with the current snapshot;
// the caller already has Data() for that).
func (v *View) AddListener(cb Listener) { v.listeners = append(v.listeners, cb) }

func (v *View) notify() {
	for _, l := range v.listeners {
		l(v.root, v.resultType)
	}
}

// UpdateTTL is a no-op at the View level; TTL is tracked per holder by
// the Query Lifecycle Manager, which aggregates the effective TTL
// across all holders of this View's query. It exists on View only so
// the manager has one call it can forward to every interested party
// uniformly.
func (v *View) UpdateTTL(ttl int64) {}

// SetOnDestroy wires the callback Destroy invokes; the Query Lifecycle
// Manager uses this to decrement the query's reference count.
func (v *View) SetOnDestroy(fn func()) { v.onDestroy = fn }

// Destroy tears down the view and calls back into the lifecycle
// manager (if wired) to release this view's reference.
func (v *View) Destroy() {
	if v.onDestroy != nil {
		v.onDestroy()
	}
}

// Push implements operator.Output: it applies change to the tree
// (copy-on-write along the root-to-change path) and notifies
// listeners. View.Push applies one Change at a time and fires listeners
// on every call; neither the View nor the Change Coordinator groups the
// Changes of one commit into a single notification.
func (v *View) Push(ctx context.Context, change types.Change) {
	switch change.Kind {
	case types.ChangeAdd:
		e := assembleFromNode(change.Node, v.schema, v.format)
		v.root = insertRows(v.root, e, v.format.Ordering)
	case types.ChangeRemove:
		v.root = removeRow(v.root, change.OldNode.Row, v.pk)
	case types.ChangeEdit:
		if indexByPK(v.root, change.OldNode.Row, v.pk) >= 0 &&
			types.CompareRows(v.format.Ordering, change.OldNode.Row, change.Node.Row) != 0 {
			without := removeRow(v.root, change.OldNode.Row, v.pk)
			v.root = insertRows(without, assembleFromNode(change.Node, v.schema, v.format), v.format.Ordering)
		} else {
			v.root = editRow(v.root, change.OldNode.Row, change.Node.Row, v.pk)
		}
	case types.ChangeChild:
		v.root = applyChildAtRoot(v.root, change, v.schema, v.format, v.pk)
	}
	v.notify()
}

func insertRows(entries []*Entry, e *Entry, ordering types.Ordering) []*Entry {
	pos := sort.Search(len(entries), func(i int) bool {
		return types.CompareRows(ordering, entries[i].Row, e.Row) >= 0
	})
	out := append(entries[:pos:pos], e)
	out = append(out, entries[pos:]...)
	return out
}

func removeRow(entries []*Entry, row types.Row, pk types.PrimaryKey) []*Entry {
	idx := indexByPK(entries, row, pk)
	if idx < 0 {
		return entries
	}
	out := make([]*Entry, 0, len(entries)-1)
	out = append(out, entries[:idx]...)
	out = append(out, entries[idx+1:]...)
	return out
}

func editRow(entries []*Entry, oldRow, newRow types.Row, pk types.PrimaryKey) []*Entry {
	idx := indexByPK(entries, oldRow, pk)
	if idx < 0 {
		return entries
	}
	out := append([]*Entry(nil), entries...)
	next := entries[idx].clone()
	next.Row = newRow
	out[idx] = next
	return out
}

func applyChildAtRoot(entries []*Entry, change types.Change, schema *types.SourceSchema, format *types.Format, pk types.PrimaryKey) []*Entry {
	idx := indexByPK(entries, change.Node.Row, pk)
	if idx < 0 {
		return entries
	}
	out := append([]*Entry(nil), entries...)
	out[idx] = applyChild(entries[idx], change.Child.Relationship, change.Child.Change, schema, format)
	return out
}

// applyChild returns a copy-on-write replacement for entry with the
// named relationship's subtree updated per nested.
func applyChild(entry *Entry, relationship string, nested *types.Change, schema *types.SourceSchema, format *types.Format) *Entry {
	childSchema := schema.Relationships[relationship]
	rf := format.RelationshipFormat(relationship)
	rel := entry.Relationships[relationship]
	if rel == nil {
		rel = &Relationship{Format: rf}
	}

	next := entry.clone()
	nextRel := &Relationship{Format: rel.Format}

	if rf.Singular {
		nextRel.Single = applyToSingular(rel.Single, nested, childSchema, rf)
	} else {
		nextRel.Many = applyToMany(rel.Many, nested, childSchema, rf)
	}
	next.setRelationship(relationship, nextRel)
	return next
}

func applyToSingular(cur *Entry, change *types.Change, schema *types.SourceSchema, format *types.Format) *Entry {
	switch change.Kind {
	case types.ChangeAdd:
		return assembleFromNode(change.Node, schema, format)
	case types.ChangeRemove:
		return nil
	case types.ChangeEdit:
		if cur == nil {
			return assembleFromNode(change.Node, schema, format)
		}
		next := cur.clone()
		next.Row = change.Node.Row
		return next
	case types.ChangeChild:
		if cur == nil {
			return nil
		}
		return applyChild(cur, change.Child.Relationship, change.Child.Change, schema, format)
	}
	return cur
}

func applyToMany(entries []*Entry, change *types.Change, schema *types.SourceSchema, format *types.Format) []*Entry {
	pk := schema.PrimaryKey
	switch change.Kind {
	case types.ChangeAdd:
		e := assembleFromNode(change.Node, schema, format)
		return insertRows(entries, e, format.Ordering)
	case types.ChangeRemove:
		return removeRow(entries, change.OldNode.Row, pk)
	case types.ChangeEdit:
		idx := indexByPK(entries, change.OldNode.Row, pk)
		if idx < 0 {
			return entries
		}
		if types.CompareRows(format.Ordering, change.OldNode.Row, change.Node.Row) != 0 {
			without := removeRow(entries, change.OldNode.Row, pk)
			return insertRows(without, assembleFromNode(change.Node, schema, format), format.Ordering)
		}
		out := append([]*Entry(nil), entries...)
		next := entries[idx].clone()
		next.Row = change.Node.Row
		out[idx] = next
		return out
	case types.ChangeChild:
		idx := indexByPK(entries, change.Node.Row, pk)
		if idx < 0 {
			return entries
		}
		out := append([]*Entry(nil), entries...)
		out[idx] = applyChild(entries[idx], change.Child.Relationship, change.Child.Change, schema, format)
		return out
	}
	return entries
}

// assembleFromNode builds a fresh Entry tree from a Node, consulting
// schema to suppress hidden (junction-table) relationships and to
// recurse with each child relationship's own schema.
func assembleFromNode(n types.Node, schema *types.SourceSchema, format *types.Format) *Entry {
	e := &Entry{Row: n.Row}
	for name, thunk := range n.Relationships {
		childSchema, ok := schema.Relationships[name]
		if !ok || childSchema.Hidden {
			continue
		}
		rf := format.RelationshipFormat(name)
		s := thunk()
		var nodes []types.Node
		for {
			cn, ok := s.Next()
			if !ok {
				break
			}
			nodes = append(nodes, cn)
		}
		s.Cleanup()

		if rf.Singular {
			if len(nodes) > 0 {
				e.setRelationship(name, &Relationship{Format: rf, Single: assembleFromNode(nodes[0], childSchema, rf)})
			} else {
				e.setRelationship(name, &Relationship{Format: rf})
			}
			continue
		}
		many := make([]*Entry, len(nodes))
		for i, cn := range nodes {
			many[i] = assembleFromNode(cn, childSchema, rf)
		}
		e.setRelationship(name, &Relationship{Format: rf, Many: many})
	}
	return e
}

func indexByPK(entries []*Entry, row types.Row, pk types.PrimaryKey) int {
	target := pk.KeyOf(row)
	for i, e := range entries {
		if pk.KeyOf(e.Row) == target {
			return i
		}
	}
	return -1
}
