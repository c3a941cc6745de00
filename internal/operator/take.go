package operator

import (
	"context"
	"fmt"

	"github.com/rocicorp/zero-ivm/internal/storage"
	"github.com/rocicorp/zero-ivm/internal/stream"
	"github.com/rocicorp/zero-ivm/internal/types"
)

// Take retains the first limit nodes in the upstream Ordering,
// recording the window in Storage keyed by zero-padded position so
// Storage.Scan yields it back out in order. Position limit-1, the
// "boundary", is the row that must be evicted whenever a new row sorts
// ahead of it. The window holds full Nodes, not just Rows: related[]
// is wired ahead of limit in the pipeline (internal/pipeline), so any
// relationship subtree attached by an upstream Join must survive a
// pass through Take unchanged.
type Take struct {
	input    Input
	ordering types.Ordering
	limit    int
	store    storage.Storage
	output   Output

	window []types.Node // always len() <= limit, sorted by ordering; mirrors store
}

var _ Operator = (*Take)(nil)

// NewTake constructs a Take operator, seeding its window from a
// one-time Fetch of input (the pipeline builder calls this once at
// construction time; subsequent rows arrive only via Push).
func NewTake(ctx context.Context, input Input, limit int, store storage.Storage) *Take {
	t := &Take{input: input, ordering: input.Schema().Ordering, limit: limit, store: store}
	s := input.Fetch(ctx, FetchRequest{})
	for {
		n, ok := s.Next()
		if !ok {
			break
		}
		if len(t.window) >= limit {
			break
		}
		t.window = append(t.window, n)
	}
	s.Cleanup()
	t.persist()
	return t
}

func (t *Take) Schema() *types.SourceSchema { return t.input.Schema() }

func (t *Take) FullyAppliedFilters() bool { return t.input.FullyAppliedFilters() }

func (t *Take) SetOutput(o Output) { t.output = o }

func (t *Take) Fetch(ctx context.Context, req FetchRequest) stream.Stream[types.Node] {
	return stream.FromSlice(append([]types.Node(nil), t.window...))
}

func (t *Take) Cleanup(ctx context.Context, req FetchRequest) stream.Stream[types.Node] {
	return t.input.Cleanup(ctx, req)
}

func (t *Take) Destroy() {
	t.store.Destroy()
	t.input.Destroy()
}

func (t *Take) persist() {
	t.store.Scan("", func(k storage.Key, _ any) bool { t.store.Delete(k); return true })
	for i, node := range t.window {
		t.store.Set(positionKey(i), node.Row)
	}
}

func positionKey(i int) storage.Key {
	return storage.Key(fmt.Sprintf("%020d", i))
}

func (t *Take) full() bool { return len(t.window) >= t.limit }

// position returns the index row would occupy if inserted (the count
// of existing window rows that sort strictly before it).
func (t *Take) position(row types.Row) int {
	lo, hi := 0, len(t.window)
	for lo < hi {
		mid := (lo + hi) / 2
		if types.CompareRows(t.ordering, t.window[mid].Row, row) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (t *Take) insertAt(pos int, node types.Node) {
	t.window = append(t.window, types.Node{})
	copy(t.window[pos+1:], t.window[pos:])
	t.window[pos] = node
}

func (t *Take) removeAt(pos int) types.Node {
	node := t.window[pos]
	t.window = append(t.window[:pos], t.window[pos+1:]...)
	return node
}

func (t *Take) indexOf(row types.Row) int {
	pos := t.position(row)
	// position() finds the insertion point; the row itself, if present,
	// sorts at or after it once ties (broken by PK) settle.
	for i := pos; i < len(t.window) && types.CompareRows(t.ordering, t.window[i].Row, row) == 0; i++ {
		if rowsEqual(t.window[i].Row, row) {
			return i
		}
	}
	for i := pos - 1; i >= 0 && types.CompareRows(t.ordering, t.window[i].Row, row) == 0; i-- {
		if rowsEqual(t.window[i].Row, row) {
			return i
		}
	}
	return -1
}

func rowsEqual(a, b types.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if fmt.Sprint(v) != fmt.Sprint(b[k]) {
			return false
		}
	}
	return true
}

func (t *Take) Push(ctx context.Context, change types.Change) {
	if t.output == nil {
		return
	}
	switch change.Kind {
	case types.ChangeAdd:
		t.pushAdd(ctx, change.Node)
	case types.ChangeRemove:
		t.pushRemove(ctx, change.OldNode)
	case types.ChangeEdit:
		t.pushEdit(ctx, change)
	case types.ChangeChild:
		if t.indexOf(change.Node.Row) >= 0 {
			t.output.Push(ctx, change)
		}
	}
}

func (t *Take) pushAdd(ctx context.Context, node types.Node) {
	pos := t.position(node.Row)
	if pos >= t.limit {
		return
	}
	var evicted types.Node
	haveEvicted := false
	if t.full() {
		evicted = t.window[t.limit-1]
		haveEvicted = true
	}
	t.insertAt(pos, node)
	if len(t.window) > t.limit {
		t.window = t.window[:t.limit]
	}
	t.persist()
	if haveEvicted {
		t.output.Push(ctx, types.Remove(evicted))
	}
	t.output.Push(ctx, types.Add(node))
}

func (t *Take) pushRemove(ctx context.Context, node types.Node) {
	pos := t.indexOf(node.Row)
	if pos < 0 {
		return
	}
	t.removeAt(pos)
	t.output.Push(ctx, types.Remove(node))

	// Pull the next upstream successor, if any, into the freed slot.
	successor, ok := t.nextSuccessor(ctx)
	if ok {
		t.window = append(t.window, successor)
		t.output.Push(ctx, types.Add(successor))
	}
	t.persist()
}

// nextSuccessor re-fetches upstream and returns the first node sorting
// after the current window's last row that is not already present in
// the window.
func (t *Take) nextSuccessor(ctx context.Context) (types.Node, bool) {
	var after types.Row
	if len(t.window) > 0 {
		after = t.window[len(t.window)-1].Row
	}
	s := t.input.Fetch(ctx, FetchRequest{})
	defer s.Cleanup()
	for {
		n, ok := s.Next()
		if !ok {
			break
		}
		if after != nil && types.CompareRows(t.ordering, n.Row, after) <= 0 {
			continue
		}
		if t.indexOf(n.Row) >= 0 {
			continue
		}
		return n, true
	}
	return types.Node{}, false
}

func (t *Take) pushEdit(ctx context.Context, change types.Change) {
	oldPos := t.indexOf(change.OldNode.Row)
	sameKey := types.CompareRows(t.ordering, change.OldNode.Row, change.Node.Row) == 0
	if oldPos >= 0 && sameKey {
		t.window[oldPos] = change.Node
		t.persist()
		t.output.Push(ctx, change)
		return
	}
	if oldPos >= 0 {
		t.pushRemove(ctx, change.OldNode)
		t.pushAdd(ctx, change.Node)
		return
	}
	// Row was out of window before; it might enter now.
	t.pushAdd(ctx, change.Node)
}
