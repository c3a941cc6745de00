// Package source implements the root of every pipeline: a Source holds
// one table's rows and multicasts SourceChanges to every connector
// opened against it, in registration order. It plays the role
// cdc-sink's per-table Stager/Watcher pair plays for that project
// (an ordered, per-table collection that multiple consumers observe),
// adapted here to live entirely in memory and to support multiple,
// independently-filtered, independently-ordered fan-out connectors
// rather than a single durable changefeed consumer.
package source

import (
	"context"
	"sync"

	"github.com/rocicorp/zero-ivm/internal/operator"
	"github.com/rocicorp/zero-ivm/internal/stream"
	"github.com/rocicorp/zero-ivm/internal/types"
)

// Predicate is a compiled where-clause evaluator a connector is opened
// with; internal/operator provides the canonical implementation
// (operator.CompilePredicate), whose RowPredicate result the pipeline
// builder converts to this function type.
type Predicate func(types.Row) bool

// Source is the root operator for one table.
type Source struct {
	table *types.SourceSchema

	mu          sync.Mutex
	rows        map[string]types.Row // PK tuple key -> row
	connectors  []*Connector
	destroyed   bool
	lastPushErr error
}

// New constructs a Source for the given table schema (PrimaryKey must
// be set; Ordering/Relationships are not meaningful on the root
// SourceSchema and are ignored).
func New(schema *types.SourceSchema) *Source {
	return &Source{
		table: &types.SourceSchema{
			Table:      schema.Table,
			Columns:    schema.Columns,
			PrimaryKey: schema.PrimaryKey,
		},
		rows: make(map[string]types.Row),
	}
}

// Table returns the source's table name.
func (s *Source) Table() string { return s.table.Table }

// PrimaryKey returns the source's primary key column list, for
// collaborators (internal/coordinator's net-effect combining) that
// need to compute a row's identity without duplicating the schema.
func (s *Source) PrimaryKey() types.PrimaryKey { return s.table.PrimaryKey }

// Connect opens a new Connector against this Source, filtered by where
// (nil means "all rows") and ordered by sort. If splitEditKeys is
// non-empty, incoming edits that change any of those columns are
// rewritten, for this connector only, into a remove(oldRow) followed by
// an add(newRow).
func (s *Source) Connect(sort types.Ordering, where Predicate, splitEditKeys []string) *Connector {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordering := sort.WithPKTiebreak(s.table.PrimaryKey)
	c := &Connector{
		source: s,
		schema: &types.SourceSchema{
			Table:      s.table.Table,
			Columns:    s.table.Columns,
			PrimaryKey: s.table.PrimaryKey,
			Ordering:   ordering,
		},
		where:         where,
		splitEditKeys: splitEditKeys,
	}
	s.connectors = append(s.connectors, c)
	return c
}

// deregister removes c from the fan-out list; called by Connector.Destroy.
func (s *Source) deregister(c *Connector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.connectors {
		if existing == c {
			s.connectors = append(s.connectors[:i], s.connectors[i+1:]...)
			return
		}
	}
}

// Push validates change against the PK invariants, mutates the
// Source's internal row collection, then synchronously delivers it to
// every connector in registration order. Once Push returns, the change
// is durable: a subsequent Fetch on any connector will reflect it.
func (s *Source) Push(ctx context.Context, change types.SourceChange) error {
	ps := s.genPush(ctx, change)
	for {
		if _, ok := ps.Next(); !ok {
			break
		}
	}
	return s.lastPushErr
}

// GenPush mirrors Push but returns a Stream that yields once per
// connector fan-out step, letting a caller interleave effects between
// each connector's delivery (e.g. to synchronize with an embedding
// scheduler). After the Stream is exhausted, the change is durable.
func (s *Source) GenPush(ctx context.Context, change types.SourceChange) stream.Stream[struct{}] {
	return s.genPush(ctx, change)
}

func (s *Source) genPush(ctx context.Context, change types.SourceChange) *pushStream {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return &pushStream{done: true}
	}

	pk := s.table.PrimaryKey
	var out types.Change
	var err error

	switch change.Kind {
	case types.SourceAdd:
		key := pk.KeyOf(change.Row)
		if _, found := s.rows[key]; found {
			err = types.NewInvariantViolation("add of duplicate primary key in table " + s.table.Table)
			break
		}
		s.rows[key] = change.Row.Clone()
		out = types.Add(leafNode(change.Row))

	case types.SourceRemove:
		key := pk.KeyOf(change.Row)
		existing, found := s.rows[key]
		if !found {
			err = types.NewInvariantViolation("remove of missing primary key in table " + s.table.Table)
			break
		}
		delete(s.rows, key)
		out = types.Remove(leafNode(existing))

	case types.SourceEdit:
		oldKey := pk.KeyOf(change.OldRow)
		newKey := pk.KeyOf(change.Row)
		existing, found := s.rows[oldKey]
		if !found {
			err = types.NewInvariantViolation("edit of missing primary key in table " + s.table.Table)
			break
		}
		if newKey != oldKey {
			if _, collide := s.rows[newKey]; collide {
				err = types.NewInvariantViolation("edit would collide with existing primary key in table " + s.table.Table)
				break
			}
			delete(s.rows, oldKey)
		}
		s.rows[newKey] = change.Row.Clone()
		out = types.Edit(leafNode(change.Row), leafNode(existing))

	case types.SourceSet:
		key := pk.KeyOf(change.Row)
		if existing, found := s.rows[key]; found {
			s.rows[key] = change.Row.Clone()
			out = types.Edit(leafNode(change.Row), leafNode(existing))
		} else {
			s.rows[key] = change.Row.Clone()
			out = types.Add(leafNode(change.Row))
		}
	}

	connectors := append([]*Connector(nil), s.connectors...)
	s.lastPushErr = err
	s.mu.Unlock()

	if err != nil {
		return &pushStream{done: true}
	}

	return &pushStream{ctx: ctx, change: out, connectors: connectors}
}

// Destroy tears down the Source, invalidating every connector still
// registered against it.
func (s *Source) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	s.connectors = nil
}

// Snapshot returns a defensive copy of every row currently held,
// keyed by the source's PK tuple encoding. It exists for test fixtures
// and diagnostics; pipeline code always goes through a Connector.
func (s *Source) Snapshot() []types.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Row, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row.Clone())
	}
	return out
}

func leafNode(row types.Row) types.Node {
	return types.Node{Row: row, Relationships: map[string]func() types.NodeStream{}}
}

// pushStream yields once per connector, delivering the already-computed
// change to each in turn.
type pushStream struct {
	ctx        context.Context
	change     types.Change
	connectors []*Connector
	i          int
	done       bool
}

func (p *pushStream) Next() (struct{}, bool) {
	if p.done || p.i >= len(p.connectors) {
		p.done = true
		return struct{}{}, false
	}
	c := p.connectors[p.i]
	p.i++
	c.receive(p.ctx, p.change)
	return struct{}{}, true
}

func (p *pushStream) Cleanup() { p.done = true }

var _ operator.Input = (*Connector)(nil)
