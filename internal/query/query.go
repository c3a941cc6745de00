// Package query implements the immutable Query builder (spec §4.5): a
// value that accumulates an ast.AST across where/related/whereExists/
// start/limit/orderBy/one calls, each returning a new Query, and that
// terminates the chain with materialize/run/preload against a
// pipeline.Builder.
package query

import (
	"context"
	"time"

	"github.com/rocicorp/zero-ivm/internal/ast"
	"github.com/rocicorp/zero-ivm/internal/operator"
	"github.com/rocicorp/zero-ivm/internal/pipeline"
	"github.com/rocicorp/zero-ivm/internal/schema"
	"github.com/rocicorp/zero-ivm/internal/types"
	"github.com/rocicorp/zero-ivm/internal/view"
)

// Query is an immutable AST builder rooted at a table. Every mutating
// method returns a new Query; the receiver is never modified, so a
// Query value may be freely shared and branched (e.g. two different
// `.where()` calls off the same base Query build independent subtrees).
type Query struct {
	schema *schema.Schema
	table  string
	ast    ast.AST
	format types.Format

	name string
	args any
}

// New constructs the identity Query over table: no where clause, no
// related[], default ordering, no limit.
func New(sch *schema.Schema, table string) Query {
	return Query{schema: sch, table: table, ast: ast.AST{Table: table}}
}

func (q Query) clone() Query {
	next := q
	next.ast.Related = append([]ast.Related(nil), q.ast.Related...)
	next.ast.OrderBy = append(types.Ordering(nil), q.ast.OrderBy...)
	if q.format.Relationships != nil {
		next.format.Relationships = make(map[string]*types.Format, len(q.format.Relationships))
		for k, v := range q.format.Relationships {
			next.format.Relationships[k] = v
		}
	}
	return next
}

// AST returns the accumulated query IR, for the pipeline builder.
func (q Query) AST() *ast.AST { return &q.ast }

// Format returns the accumulated output-shape descriptor.
func (q Query) Format() *types.Format { return &q.format }

// Where inserts a simple condition, AND-ed with whatever where clause
// already exists. An omitted op (zero value) defaults to OpEQ, per
// "type-driven operator inference: omitted op defaults to =".
func (q Query) Where(field string, op ast.Op, value any) Query {
	if op == "" {
		op = ast.OpEQ
	}
	cond := ast.Simple(field, op, value)
	return q.and(cond)
}

// WhereCond inserts an arbitrary, already-built Condition (And/Or/
// correlated subquery), AND-ed with the existing where clause. This is
// the escape hatch whereExists and nested and/or construction build on
// top of.
func (q Query) WhereCond(cond ast.Condition) Query {
	return q.and(cond)
}

func (q Query) and(cond ast.Condition) Query {
	next := q.clone()
	if next.ast.Where == nil {
		next.ast.Where = &cond
		return next
	}
	merged := ast.And(*next.ast.Where, cond)
	next.ast.Where = &merged
	return next
}

// Related appends name as a correlated subquery, resolved against the
// schema-declared relationship on q's own table. build customizes the
// nested Query (e.g. its own where/orderBy/limit); a nil build takes
// the related table's default Query unmodified.
func (q Query) Related(name string, build func(Query) Query) (Query, error) {
	rel, ok := q.schema.Relationship(q.table, name)
	if !ok {
		return Query{}, types.NewBuilderError("unknown relationship: " + q.table + "." + name)
	}

	sub := New(q.schema, rel.DestTable)
	if build != nil {
		sub = build(sub)
	}

	next := q.clone()
	next.ast.Related = append(next.ast.Related, ast.Related{
		Relationship: name,
		Correlation: ast.Correlation{
			ParentField: rel.SourceField,
			ChildField:  rel.DestField,
		},
		Hidden:   rel.Hidden,
		Subquery: sub.AST(),
	})
	if next.format.Relationships == nil {
		next.format.Relationships = map[string]*types.Format{}
	}
	next.format.Relationships[name] = sub.Format()
	return next, nil
}

// WhereExists is shorthand for an EXISTS correlated-subquery condition
// over the named relationship; NOT EXISTS is obtained by passing a
// negate=true.
func (q Query) WhereExists(name string, build func(Query) Query, negate bool) (Query, error) {
	rel, ok := q.schema.Relationship(q.table, name)
	if !ok {
		return Query{}, types.NewBuilderError("unknown relationship: " + q.table + "." + name)
	}

	sub := New(q.schema, rel.DestTable)
	if build != nil {
		sub = build(sub)
	}

	op := ast.Exists
	if negate {
		op = ast.NotExists
	}
	related := ast.Related{
		Relationship: name,
		Correlation: ast.Correlation{
			ParentField: rel.SourceField,
			ChildField:  rel.DestField,
		},
		Subquery: sub.AST(),
	}
	return q.WhereCond(ast.CorrelatedSubqueryCondition(related, op)), nil
}

// Start seeks past (or at, if !exclusive) partialRow under the
// effective ordering.
func (q Query) Start(partialRow types.Row, exclusive bool) Query {
	next := q.clone()
	next.ast.Start = &ast.Bound{Row: partialRow, Exclusive: exclusive}
	return next
}

// Limit sets a result-size cap; 0 means unlimited.
func (q Query) Limit(n int) Query {
	next := q.clone()
	next.ast.Limit = n
	return next
}

// OrderBy appends a sort key. The first OrderBy call on a Query
// replaces the default (primary-key-ascending) ordering; subsequent
// calls append additional tiebreak columns ahead of the automatic PK
// tiebreak every Ordering eventually gets.
func (q Query) OrderBy(column string, dir types.Direction) Query {
	next := q.clone()
	next.ast.OrderBy = append(next.ast.OrderBy, types.OrderPart{Column: column, Direction: dir})
	return next
}

// One marks this Query's result as a single Entry (or undefined)
// rather than an array, and caps it at one row -- "one() sets
// Format.singular and limit(1)". Neither One nor the pipeline builder
// checks whether an outer relationship's Format is compatible with a
// singular result; no BuilderError is raised for that case.
func (q Query) One() Query {
	next := q.Limit(1)
	next.format.Singular = true
	return next
}

// NameAndArgs turns q into a named ("custom") query: identified
// server-side by (name, args) rather than by hash(AST), letting many
// divergent client ASTs share one backend subscription.
func (q Query) NameAndArgs(name string, args any) Query {
	next := q.clone()
	next.name = name
	next.args = args
	return next
}

// IsNamed reports whether NameAndArgs has been called.
func (q Query) IsNamed() bool { return q.name != "" }

// NameArgs returns the (name, args) pair set by NameAndArgs (zero
// values if IsNamed is false).
func (q Query) NameArgs() (string, any) { return q.name, q.args }

// Hash returns this query's identity hash: hash(name, args) if named,
// otherwise hash(AST).
func (q Query) Hash() string {
	if q.IsNamed() {
		return ast.HashNameAndArgs(q.name, q.args)
	}
	return q.ast.Hash()
}

// BuildInput constructs the operator graph for q via builder, returning
// its terminal Input (retained by the caller so it can later call
// Destroy to tear down the pipeline), the output Format, and the root
// table's primary key. internal/lifecycle uses this lower-level
// entrypoint instead of Materialize so it can hold onto the Input
// across the query's materialized lifetime.
func (q Query) BuildInput(ctx context.Context, builder *pipeline.Builder) (operator.Input, *types.Format, types.PrimaryKey, error) {
	tableDef, ok := q.schema.Lookup(q.table)
	if !ok {
		return nil, nil, nil, types.NewBuilderError("unknown table: " + q.table)
	}
	if q.format.Ordering == nil {
		q.format.Ordering = q.ast.EffectiveOrdering(tableDef.PrimaryKey)
	}

	input, err := builder.Build(ctx, &q.ast)
	if err != nil {
		return nil, nil, nil, err
	}
	return input, &q.format, tableDef.PrimaryKey, nil
}

// Materialize builds the operator graph (via builder) and an
// assembled View over it, applying the ordering the root table's
// primary key requires. ttl is left to the caller (the Query Lifecycle
// Manager owns TTL bookkeeping); Materialize itself only constructs
// the pipeline and initial snapshot. The returned View's underlying
// Input is not retained by the caller; use BuildInput directly when
// the pipeline must be torn down later (as internal/lifecycle does).
func (q Query) Materialize(ctx context.Context, builder *pipeline.Builder) (*view.View, error) {
	input, format, pk, err := q.BuildInput(ctx, builder)
	if err != nil {
		return nil, err
	}
	return view.New(ctx, input, format, pk), nil
}

// RunResult is the one-shot snapshot returned by Run.
type RunResult struct {
	View *view.View
}

// Run materializes q, waits (up to timeout, 0 meaning no wait) for its
// ResultType to become complete if complete is requested, and returns
// a single snapshot. Since this engine does not itself drive a server
// round-trip (internal/channel defines only the interface boundary;
// see Non-goals), a zero timeout with complete=true returns
// immediately with whatever ResultType Materialize produced --
// embedding applications that do wire a live channel are expected to
// drive completeness via lifecycle.Manager.Materialize instead of this
// convenience path.
func (q Query) Run(ctx context.Context, builder *pipeline.Builder, complete bool, timeout time.Duration) (RunResult, error) {
	v, err := q.Materialize(ctx, builder)
	if err != nil {
		return RunResult{}, err
	}
	if !complete || timeout <= 0 {
		return RunResult{View: v}, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	done := make(chan struct{})
	v.AddListener(func(_ []*view.Entry, rt view.ResultType) {
		if rt == view.ResultComplete {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	})
	if v.ResultType() == view.ResultComplete {
		return RunResult{View: v}, nil
	}
	select {
	case <-done:
	case <-deadline.C:
	case <-ctx.Done():
	}
	return RunResult{View: v}, nil
}

// Preload is the fire-and-forget counterpart to Run: it materializes q
// and returns a cleanup func (drop the reference) and a complete
// channel (closed once ResultType reaches complete) without blocking
// the caller.
type Preload struct {
	Cleanup  func()
	Complete <-chan struct{}
}

func (q Query) PreloadQuery(ctx context.Context, builder *pipeline.Builder) (Preload, error) {
	v, err := q.Materialize(ctx, builder)
	if err != nil {
		return Preload{}, err
	}
	complete := make(chan struct{})
	if v.ResultType() == view.ResultComplete {
		close(complete)
	} else {
		v.AddListener(func(_ []*view.Entry, rt view.ResultType) {
			if rt == view.ResultComplete {
				select {
				case <-complete:
				default:
					close(complete)
				}
			}
		})
	}
	return Preload{Cleanup: v.Destroy, Complete: complete}, nil
}
