// Package pipeline builds an operator graph from an AST: it resolves
// the root table's Source, opens a connector with as much of the where
// clause pushed down as possible, then layers Skip/Filter/Exists/Or/
// Join/Take on top in the order the design calls for (start, where,
// related[], limit), recursing into each related[] entry's own
// subquery.
package pipeline

import (
	"context"

	"github.com/rocicorp/zero-ivm/internal/ast"
	"github.com/rocicorp/zero-ivm/internal/operator"
	"github.com/rocicorp/zero-ivm/internal/schema"
	"github.com/rocicorp/zero-ivm/internal/source"
	"github.com/rocicorp/zero-ivm/internal/storage"
	"github.com/rocicorp/zero-ivm/internal/types"

	lru "github.com/hashicorp/golang-lru/v2"
)

// predicateCacheSize bounds the number of distinct, parameter-free
// condition subtrees whose compiled RowPredicate the builder keeps
// around. Parameter-bearing conditions are never cached (see
// ast.HasParameter): a Parameter resolves to a concrete value at
// compile time, and the same condition structure may resolve
// differently across builds (distinct authData, say), so caching it
// would leak one build's resolved value into another's pipeline.
const predicateCacheSize = 256

// SourceProvider resolves a table name to the Source instance backing
// it; the same Source is shared by every pipeline built against that
// table, while each pipeline opens its own Connector.
type SourceProvider func(table string) (*source.Source, error)

// Delegate supplies everything the builder needs beyond the schema and
// AST itself. CreateStorage, DecorateInput, and MapAST are optional;
// a nil DecorateInput/MapAST is treated as a no-op.
type Delegate struct {
	GetSource     SourceProvider
	CreateStorage storage.Factory

	// DecorateInput lets an embedding application wrap the connector
	// Input immediately after it is opened (e.g. to enforce a
	// server-side authorization filter ast.Where doesn't itself
	// encode), before Start/Filter/Join/Take are layered on top.
	DecorateInput func(input operator.Input, a *ast.AST) operator.Input

	// MapAST translates client-declared table/column names to their
	// server-side equivalents before resolution, when the two differ.
	MapAST func(a *ast.AST) *ast.AST

	// ResolveParameter resolves a late-bound ast.Parameter to its
	// concrete value at build time.
	ResolveParameter operator.ParameterResolver
}

// Builder constructs operator graphs against a fixed application
// schema and Delegate.
type Builder struct {
	schema   *schema.Schema
	delegate Delegate

	predicates *lru.Cache[string, operator.RowPredicate]
}

// New constructs a Builder.
func New(sch *schema.Schema, delegate Delegate) *Builder {
	predicates, err := lru.New[string, operator.RowPredicate](predicateCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// predicateCacheSize is not.
		panic(err)
	}
	return &Builder{schema: sch, delegate: delegate, predicates: predicates}
}

// Build constructs the operator graph for a, returning its terminal
// Input (which is also an operator.Operator; the caller type-asserts
// and calls SetOutput to attach the consumer -- the view assembler or
// a nested Join/Exists/Or -- since a bare operator.Input doesn't
// itself promise a SetOutput method).
func (b *Builder) Build(ctx context.Context, a *ast.AST) (operator.Input, error) {
	if b.delegate.MapAST != nil {
		a = b.delegate.MapAST(a)
	}

	tableDef, ok := b.schema.Lookup(a.Table)
	if !ok {
		return nil, types.NewBuilderError("unknown table: " + a.Table)
	}

	src, err := b.delegate.GetSource(a.Table)
	if err != nil {
		return nil, err
	}

	ordering := a.EffectiveOrdering(tableDef.PrimaryKey)

	var pushedDown bool
	var connPredicate source.Predicate
	if a.Where != nil && !operator.HasCorrelatedSubquery(a.Where) {
		pred, err := b.compilePredicate(a.Where)
		if err != nil {
			return nil, err
		}
		connPredicate = source.Predicate(pred)
		pushedDown = true
	}

	conn := src.Connect(ordering, connPredicate, orderingColumns(ordering))
	var input operator.Input = conn

	if b.delegate.DecorateInput != nil {
		input = b.delegate.DecorateInput(input, a)
	}

	if a.Start != nil {
		skip := operator.NewSkip(input, ordering, a.Start.Row, a.Start.Exclusive)
		wire(input, skip)
		input = skip
	}

	if a.Where != nil && !pushedDown {
		input, err = b.buildWhere(ctx, input, a.Where, tableDef.PrimaryKey)
		if err != nil {
			return nil, err
		}
	}

	for _, related := range a.Related {
		input, err = b.buildJoin(ctx, input, related, tableDef)
		if err != nil {
			return nil, err
		}
	}

	if a.Limit > 0 {
		take := operator.NewTake(ctx, input, a.Limit, b.storage())
		wire(input, take)
		input = take
	}

	return input, nil
}

// buildJoin resolves the named relationship against tableDef, builds
// its child subquery pipeline, and wires a Join operator over input.
func (b *Builder) buildJoin(ctx context.Context, input operator.Input, related ast.Related, tableDef schema.TableDef) (operator.Input, error) {
	rel, ok := tableDef.Relationships[related.Relationship]
	if !ok {
		return nil, types.NewBuilderError("unknown relationship: " + tableDef.Name + "." + related.Relationship)
	}

	childInput, err := b.Build(ctx, related.Subquery)
	if err != nil {
		return nil, err
	}

	join := operator.NewJoin(input, childInput, related.Relationship, related.Correlation, related.Hidden || rel.Hidden, tableDef.PrimaryKey, b.storage())
	wire(input, join)
	wireChild(childInput, pushAdapter(join.PushChild))
	return join, nil
}

// buildWhere wires the operator chain implementing cond over input,
// recursing for And/Or/CorrelatedSubquery combinations per the design:
// a plain boolean subtree compiles to one Filter; a bare
// correlatedSubquery becomes one Exists; an And chains its conjuncts'
// operators in sequence; an Or containing at least one correlated
// subquery wires a Fan-out/Fan-in gate, one branch operator per
// disjunct.
func (b *Builder) buildWhere(ctx context.Context, input operator.Input, cond *ast.Condition, pk types.PrimaryKey) (operator.Input, error) {
	switch cond.Kind {
	case ast.CondSimple:
		return b.wireFilter(input, cond)

	case ast.CondCorrelatedSubquery:
		return b.wireExists(ctx, input, cond)

	case ast.CondAnd:
		return b.buildAnd(ctx, input, cond, pk)

	case ast.CondOr:
		if !operator.HasCorrelatedSubquery(cond) {
			return b.wireFilter(input, cond)
		}
		return b.buildOr(ctx, input, cond, pk)

	default:
		return input, nil
	}
}

func (b *Builder) wireFilter(input operator.Input, cond *ast.Condition) (operator.Input, error) {
	pred, err := b.compilePredicate(cond)
	if err != nil {
		return nil, err
	}
	f := operator.NewFilter(input, pred)
	wire(input, f)
	return f, nil
}

// compilePredicate compiles cond, memoizing the result by condition
// hash when cond carries no late-bound Parameter (see predicateCacheSize).
func (b *Builder) compilePredicate(cond *ast.Condition) (operator.RowPredicate, error) {
	if ast.HasParameter(cond) {
		return operator.CompilePredicate(cond, b.delegate.ResolveParameter)
	}
	key := ast.ConditionHash(cond)
	if pred, ok := b.predicates.Get(key); ok {
		return pred, nil
	}
	pred, err := operator.CompilePredicate(cond, b.delegate.ResolveParameter)
	if err != nil {
		return nil, err
	}
	b.predicates.Add(key, pred)
	return pred, nil
}

func (b *Builder) wireExists(ctx context.Context, input operator.Input, cond *ast.Condition) (operator.Input, error) {
	childInput, err := b.Build(ctx, cond.Related.Subquery)
	if err != nil {
		return nil, err
	}
	ex := operator.NewExists(ctx, input, childInput, cond.Related.Correlation, cond.ExistsOp, b.storage())
	wire(input, ex)
	wireChild(childInput, pushAdapter(ex.PushChild))
	return ex, nil
}

func (b *Builder) buildAnd(ctx context.Context, input operator.Input, cond *ast.Condition, pk types.PrimaryKey) (operator.Input, error) {
	var plain []ast.Condition
	var rest []ast.Condition
	for _, c := range cond.Conditions {
		if operator.HasCorrelatedSubquery(&c) {
			rest = append(rest, c)
		} else {
			plain = append(plain, c)
		}
	}

	cur := input
	if len(plain) > 0 {
		combined := ast.And(plain...)
		var err error
		cur, err = b.wireFilter(cur, &combined)
		if err != nil {
			return nil, err
		}
	}
	for i := range rest {
		var err error
		cur, err = b.buildWhere(ctx, cur, &rest[i], pk)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

func (b *Builder) buildOr(ctx context.Context, input operator.Input, cond *ast.Condition, pk types.PrimaryKey) (operator.Input, error) {
	gate := operator.NewOr(input, pk)
	branchUpstream := gate.Branch()

	for i := range cond.Conditions {
		disjunct := &cond.Conditions[i]
		branch, filterOp, err := b.buildBranch(ctx, branchUpstream, disjunct, pk)
		if err != nil {
			return nil, err
		}
		op, ok := branch.(operator.Operator)
		if !ok {
			return nil, types.NewInvariantViolation("or branch did not produce an operator")
		}
		gate.AddBranch(op, filterOp)
	}
	return gate, nil
}

// buildBranch builds one Or disjunct's operator chain, along with the
// cheap FilterOperator used to probe Fetch results for that disjunct
// without a separate sub-fetch.
func (b *Builder) buildBranch(ctx context.Context, upstream operator.Input, cond *ast.Condition, pk types.PrimaryKey) (operator.Input, operator.FilterOperator, error) {
	switch {
	case cond.Kind == ast.CondCorrelatedSubquery:
		childInput, err := b.Build(ctx, cond.Related.Subquery)
		if err != nil {
			return nil, nil, err
		}
		ex := operator.NewExists(ctx, upstream, childInput, cond.Related.Correlation, cond.ExistsOp, b.storage())
		wireChild(childInput, pushAdapter(ex.PushChild))
		return ex, ex, nil

	case !operator.HasCorrelatedSubquery(cond):
		pred, err := b.compilePredicate(cond)
		if err != nil {
			return nil, nil, err
		}
		f := operator.NewFilter(upstream, pred)
		return f, operator.PredicateFilterOperator{Predicate: pred}, nil

	default:
		sub, err := b.buildWhere(ctx, upstream, cond, pk)
		if err != nil {
			return nil, nil, err
		}
		return sub, operator.NewCachedMembership(ctx, sub, pk), nil
	}
}

func (b *Builder) storage() storage.Storage {
	if b.delegate.CreateStorage != nil {
		return b.delegate.CreateStorage()
	}
	return storage.DefaultFactory()
}

// orderingColumns extracts the column list from an Ordering, used as a
// connector's splitEditKeys: an edit that changes a row's own ordering
// position must be split into remove+add so every downstream Take
// and the view assembler keep arrays sorted.
func orderingColumns(o types.Ordering) []string {
	cols := make([]string, len(o))
	for i, part := range o {
		cols[i] = part.Column
	}
	return cols
}

// wire connects the upstream Input's Output to downstream (both the
// root Connector and every concrete operator.Operator implement
// SetOutput; this helper just performs the type assertion once in a
// single place).
func wire(upstream operator.Input, downstream operator.Output) {
	type setter interface{ SetOutput(operator.Output) }
	if s, ok := upstream.(setter); ok {
		s.SetOutput(downstream)
	}
}

// wireChild wires a child Input's Output to a Join/Exists operator's
// PushChild method, which has a different receiver shape than a
// normal Output.Push call.
func wireChild(childInput operator.Input, out operator.Output) {
	wire(childInput, out)
}

// pushAdapter adapts a PushChild(ctx, change)-shaped method into an
// operator.Output.
type pushAdapter func(ctx context.Context, change types.Change)

func (p pushAdapter) Push(ctx context.Context, change types.Change) { p(ctx, change) }
