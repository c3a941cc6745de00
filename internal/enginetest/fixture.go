// Package enginetest provides a shared, in-memory fixture for package
// tests across the engine: a typed schema, one Source per declared
// table wired into a Coordinator and a pipeline.Builder, a
// lifecycle.Manager, and a no-op server channel. It plays the role the
// teacher's internal/sinktest/all.Fixture plays for cdc-sink --
// everything a test needs to build a Query and materialize it without
// each package test standing up its own wiring -- adapted from a
// database-backed fixture (target pool, schema watcher) to an
// entirely in-memory one, since this engine has no persistent store of
// its own to spin up.
package enginetest

import (
	"context"
	"time"

	"github.com/rocicorp/zero-ivm/internal/channel"
	"github.com/rocicorp/zero-ivm/internal/coordinator"
	"github.com/rocicorp/zero-ivm/internal/lifecycle"
	"github.com/rocicorp/zero-ivm/internal/pipeline"
	"github.com/rocicorp/zero-ivm/internal/query"
	"github.com/rocicorp/zero-ivm/internal/schema"
	"github.com/rocicorp/zero-ivm/internal/source"
	"github.com/rocicorp/zero-ivm/internal/types"
	"github.com/rocicorp/zero-ivm/internal/util/diag"
	"github.com/rocicorp/zero-ivm/internal/util/msort"
	"github.com/rocicorp/zero-ivm/internal/util/stopper"
)

// Fixture bundles everything a test needs to build and materialize a
// Query against an in-memory schema.
type Fixture struct {
	Schema      *schema.Schema
	Sources     map[string]*source.Source
	Builder     *pipeline.Builder
	Coordinator *coordinator.Coordinator
	Lifecycle   *lifecycle.Manager
	Channel     *channel.Channel
	Stop        *stopper.Context
	Diagnostics *diag.Diagnostics
}

// DiscardSink is a channel.Sink that drops every patch, for tests that
// don't care about the server-registration side effect.
type DiscardSink struct{}

// Flush implements channel.Sink.
func (DiscardSink) Flush(context.Context, []channel.Patch) error { return nil }

// New constructs a Fixture over the given table declarations, with a
// Source for each, a DiscardSink-backed channel, and a lifecycle.Manager
// configured with cfg (zero value is a reasonable default: no TTL,
// ResultType left unknown until a "got" acknowledgement, no
// slow-materialize logging).
func New(ctx context.Context, tables []schema.TableDef, cfg lifecycle.Config) *Fixture {
	sch := schema.New()
	sources := make(map[string]*source.Source, len(tables))
	for _, t := range tables {
		sch.Table(t)
		sources[t.Name] = source.New(&types.SourceSchema{
			Table:      t.Name,
			Columns:    t.Columns,
			PrimaryKey: t.PrimaryKey,
		})
	}

	stop := stopper.WithContext(ctx)
	coord := coordinator.New(nil)
	for _, s := range sources {
		coord.Register(s)
	}

	builder := pipeline.New(sch, pipeline.Delegate{
		GetSource: func(table string) (*source.Source, error) {
			s, ok := sources[table]
			if !ok {
				return nil, types.NewBuilderError("unknown table: " + table)
			}
			return s, nil
		},
	})

	ch := channel.New(DiscardSink{}, 10*time.Millisecond, stop)
	mgr := lifecycle.New(builder, cfg, ch, nil, stop)

	diags, _ := diag.New(ctx)
	_ = diags.Register("lifecycle", mgr)
	_ = diags.Register("coordinator", coord)

	return &Fixture{
		Schema:      sch,
		Sources:     sources,
		Builder:     builder,
		Coordinator: coord,
		Lifecycle:   mgr,
		Channel:     ch,
		Stop:        stop,
		Diagnostics: diags,
	}
}

// Query starts a new Query builder rooted at table.
func (f *Fixture) Query(table string) query.Query {
	return query.New(f.Schema, table)
}

// Push applies change directly to table's Source, bypassing the
// Coordinator's transaction batching -- the right choice for tests
// that don't care about multi-table commit atomicity.
func (f *Fixture) Push(ctx context.Context, table string, change types.SourceChange) error {
	s, ok := f.Sources[table]
	if !ok {
		return types.NewBuilderError("unknown table: " + table)
	}
	return s.Push(ctx, change)
}

// Seed pushes rows into table as a single transaction of SourceAdds,
// first deduplicating rows by primary key (last occurrence wins) via
// msort.UniqueByKey -- a convenience for tests that build their seed
// data from a generator that may emit the same key more than once.
func (f *Fixture) Seed(ctx context.Context, table string, rows []types.Row) error {
	s, ok := f.Sources[table]
	if !ok {
		return types.NewBuilderError("unknown table: " + table)
	}
	rows = msort.UniqueByKey(s.PrimaryKey(), append([]types.Row(nil), rows...))
	return f.Transaction(func() error {
		for _, row := range rows {
			if err := f.Coordinator.Push(table, types.SourceChange{Kind: types.SourceAdd, Row: row}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Transaction runs fn between a Coordinator Begin/Commit pair,
// rolling back if fn returns an error.
func (f *Fixture) Transaction(fn func() error) error {
	if err := f.Coordinator.Begin(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		_ = f.Coordinator.Rollback()
		return err
	}
	return f.Coordinator.Commit(context.Background())
}

// Close tears down the fixture's background goroutines (the
// lifecycle manager's TTL timers, the channel's flush loop).
func (f *Fixture) Close(timeout time.Duration) {
	f.Lifecycle.Stop(timeout)
}
