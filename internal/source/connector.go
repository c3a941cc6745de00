package source

import (
	"context"
	"reflect"

	"github.com/rocicorp/zero-ivm/internal/operator"
	"github.com/rocicorp/zero-ivm/internal/stream"
	"github.com/rocicorp/zero-ivm/internal/types"
)

// Connector is a per-consumer Input opened on a Source via Connect. It
// owns its own Ordering and where predicate, independent of any sibling
// connector opened against the same Source -- the design rationale
// being that sibling joins sharing a table should not have to serialize
// through a single shared comparator.
type Connector struct {
	source        *Source
	schema        *types.SourceSchema
	where         Predicate
	splitEditKeys []string

	output    operator.Output
	destroyed bool
}

var _ operator.Input = (*Connector)(nil)
var _ operator.Output = (*Connector)(nil)

// Schema implements operator.Input.
func (c *Connector) Schema() *types.SourceSchema { return c.schema }

// FullyAppliedFilters implements operator.Input: a Connector always
// enforces exactly the predicate it was opened with, over the whole
// row set, so whatever where clause it was given is fully applied.
func (c *Connector) FullyAppliedFilters() bool { return true }

// SetOutput wires the downstream consumer that will receive Changes
// forwarded by receive (called internally when the backing Source is
// pushed to). Connector does not implement operator.Operator itself
// (it has no upstream Operator to wrap), but offers the same
// SetOutput shape so the pipeline builder can treat it uniformly with
// real operators when wiring the first stage of a graph.
func (c *Connector) SetOutput(o operator.Output) { c.output = o }

// Fetch implements operator.Input.
func (c *Connector) Fetch(ctx context.Context, _ operator.FetchRequest) stream.Stream[types.Node] {
	return c.snapshot()
}

// Cleanup implements operator.Input. A Connector holds no per-fetch
// resources beyond the snapshot slice itself, so Cleanup is equivalent
// to an already-drained Fetch.
func (c *Connector) Cleanup(ctx context.Context, _ operator.FetchRequest) stream.Stream[types.Node] {
	return stream.Empty[types.Node]()
}

func (c *Connector) snapshot() stream.Stream[types.Node] {
	rows := c.source.Snapshot()
	matched := rows[:0]
	for _, row := range rows {
		if c.where == nil || c.where(row) {
			matched = append(matched, row)
		}
	}
	types.SortRows(c.schema.Ordering, matched)
	nodes := make([]types.Node, len(matched))
	for i, row := range matched {
		nodes[i] = leafNode(row)
	}
	return stream.FromSlice(nodes)
}

// Push implements operator.Output so that Connector satisfies the same
// interface its downstream wiring expects, but a Connector is never
// itself the target of a Push call from the pipeline above it; changes
// only flow into a Connector from its backing Source via receive.
func (c *Connector) Push(ctx context.Context, change types.Change) {}

// receive is called by Source.genPush for every registered connector,
// in registration order. It applies this connector's predicate and
// splitEditKeys configuration, possibly splitting an edit into a
// remove+add pair, and forwards the result(s) to the connector's
// configured Output.
func (c *Connector) receive(ctx context.Context, change types.Change) {
	if c.destroyed || c.output == nil {
		return
	}

	switch change.Kind {
	case types.ChangeAdd:
		if c.matches(change.Node.Row) {
			c.output.Push(ctx, change)
		}

	case types.ChangeRemove:
		if c.matches(change.OldNode.Row) {
			c.output.Push(ctx, change)
		}

	case types.ChangeEdit:
		oldMatch := c.matches(change.OldNode.Row)
		newMatch := c.matches(change.Node.Row)
		switch {
		case oldMatch && newMatch:
			if c.splitKeyChanged(change.OldNode.Row, change.Node.Row) {
				c.output.Push(ctx, types.Remove(change.OldNode))
				c.output.Push(ctx, types.Add(change.Node))
			} else {
				c.output.Push(ctx, change)
			}
		case oldMatch && !newMatch:
			c.output.Push(ctx, types.Remove(change.OldNode))
		case !oldMatch && newMatch:
			c.output.Push(ctx, types.Add(change.Node))
		}
	}
}

func (c *Connector) matches(row types.Row) bool {
	return c.where == nil || c.where(row)
}

func (c *Connector) splitKeyChanged(oldRow, newRow types.Row) bool {
	for _, col := range c.splitEditKeys {
		if !reflect.DeepEqual(oldRow[col], newRow[col]) {
			return true
		}
	}
	return false
}

// Destroy implements operator.Input.
func (c *Connector) Destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.source.deregister(c)
}
