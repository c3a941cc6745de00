// Package ast defines the query intermediate representation: the
// immutable tree a Query builder (internal/query) constructs and the
// pipeline builder (internal/pipeline) consumes to assemble an operator
// graph. It also implements canonicalization and the hash function
// used for both AST identity (ad-hoc queries) and custom-query
// (name, args) identity.
package ast

import (
	"github.com/rocicorp/zero-ivm/internal/types"
	"github.com/rocicorp/zero-ivm/internal/util/hash"
)

// Op is a simple-condition comparison operator.
type Op string

const (
	OpEQ       Op = "="
	OpNE       Op = "!="
	OpLT       Op = "<"
	OpLE       Op = "<="
	OpGT       Op = ">"
	OpGE       Op = ">="
	OpIs       Op = "IS"
	OpIsNot    Op = "IS NOT"
	OpLike     Op = "LIKE"
	OpNotLike  Op = "NOT LIKE"
	OpILike    Op = "ILIKE"
	OpNotILike Op = "NOT ILIKE"
	OpIn       Op = "IN"
	OpNotIn    Op = "NOT IN"
)

// ExistsOp distinguishes EXISTS from NOT EXISTS in a CorrelatedSubquery
// condition.
type ExistsOp string

const (
	Exists    ExistsOp = "EXISTS"
	NotExists ExistsOp = "NOT EXISTS"
)

// ConditionKind tags the variant of a Condition.
type ConditionKind int

const (
	CondSimple ConditionKind = iota
	CondAnd
	CondOr
	CondCorrelatedSubquery
)

// Parameter is a late-bound reference the pipeline builder substitutes
// at build time: 'authData' is resolved via a static substitution pass,
// 'preMutationRow' via a capture closure supplied by the join operator
// that owns the enclosing subquery.
type Parameter struct {
	Anchor string // "authData" | "preMutationRow"
	Field  string
}

// Condition is a boolean expression tree node appearing in a where
// clause or a correlatedSubquery's nested AST.
type Condition struct {
	Kind ConditionKind

	// CondSimple fields.
	Op    Op
	Left  string // column name
	Right any    // literal Value, *Parameter, or []any for IN/NOT IN

	// CondAnd / CondOr fields.
	Conditions []Condition

	// CondCorrelatedSubquery fields.
	Related   *Related
	ExistsOp  ExistsOp
}

// Simple constructs a CondSimple Condition.
func Simple(left string, op Op, right any) Condition {
	return Condition{Kind: CondSimple, Left: left, Op: op, Right: right}
}

// And constructs a CondAnd Condition. A single-element slice collapses
// to that element so that canonicalization never has to special-case a
// trivial conjunction.
func And(conds ...Condition) Condition {
	flat := flatten(CondAnd, conds)
	if len(flat) == 1 {
		return flat[0]
	}
	return Condition{Kind: CondAnd, Conditions: flat}
}

// Or constructs a CondOr Condition.
func Or(conds ...Condition) Condition {
	flat := flatten(CondOr, conds)
	if len(flat) == 1 {
		return flat[0]
	}
	return Condition{Kind: CondOr, Conditions: flat}
}

// flatten inlines nested conditions of the same commutative kind, per
// the canonicalization rule "flatten nested and/or".
func flatten(kind ConditionKind, conds []Condition) []Condition {
	var out []Condition
	for _, c := range conds {
		if c.Kind == kind {
			out = append(out, c.Conditions...)
		} else {
			out = append(out, c)
		}
	}
	return out
}

// CorrelatedSubqueryCondition constructs an EXISTS/NOT EXISTS
// condition over a Related subquery.
func CorrelatedSubqueryCondition(related Related, op ExistsOp) Condition {
	return Condition{Kind: CondCorrelatedSubquery, Related: &related, ExistsOp: op}
}

// Correlation is the compound-key join predicate between a parent AST
// and a related child AST: parent row field i corresponds to child row
// field i for all i.
type Correlation struct {
	ParentField []string
	ChildField  []string
}

// Related is one entry of an AST's related[] list: a correlated
// subquery reached via a schema-declared relationship name.
type Related struct {
	Relationship string
	Correlation  Correlation
	Hidden       bool
	Subquery     *AST
}

// Bound is the `start` seek position: resume after (or at, if
// inclusive) the given partial row under the query's effective
// ordering.
type Bound struct {
	Row       types.Row
	Exclusive bool
}

// AST is the query intermediate representation.
type AST struct {
	Table   string
	Alias   string
	Where   *Condition
	Related []Related
	Start   *Bound
	Limit   int // 0 means unlimited
	OrderBy types.Ordering
}

// EffectiveOrdering returns a's OrderBy defaulted to primary-key
// ascending, with the PK tiebreak appended either way, per "orderBy
// defaulting to primary-key ascending when omitted" and "ties always
// broken by appending the primary key".
func (a *AST) EffectiveOrdering(pk types.PrimaryKey) types.Ordering {
	if len(a.OrderBy) == 0 {
		return types.DefaultOrdering(pk)
	}
	return a.OrderBy.WithPKTiebreak(pk)
}

// Hash returns the canonical, deterministic hash of a, used to dedupe
// server-side query registrations for ad-hoc (unnamed) queries.
func (a *AST) Hash() string {
	return hash.Of(a.canonicalValue())
}

// HashNameAndArgs returns the hash used to identify a custom query by
// its (name, args) pair, independent of whatever client-side AST
// happens to back it locally.
func HashNameAndArgs(name string, args any) string {
	return hash.Of(map[string]any{"name": name, "args": args})
}

// canonicalValue renders a as a plain JSON-able value (map[string]any /
// []any / scalars) suitable for hash.Of, which performs recursive key
// sorting. Commutative and/or lists are additionally sorted here by
// their own canonical hash, per "sort disjuncts/conjuncts by
// structural hash".
func (a *AST) canonicalValue() map[string]any {
	m := map[string]any{
		"table": a.Table,
		"limit": a.Limit,
	}
	if a.Alias != "" {
		m["alias"] = a.Alias
	}
	if a.Where != nil {
		m["where"] = conditionValue(*a.Where)
	}
	if len(a.Related) > 0 {
		related := make([]any, len(a.Related))
		for i, r := range a.Related {
			related[i] = relatedValue(r)
		}
		m["related"] = related
	}
	if a.Start != nil {
		m["start"] = map[string]any{
			"row":       map[string]any(a.Start.Row),
			"exclusive": a.Start.Exclusive,
		}
	}
	m["orderBy"] = orderingValue(a.OrderBy)
	return m
}

func orderingValue(o types.Ordering) []any {
	out := make([]any, len(o))
	for i, part := range o {
		dir := "asc"
		if part.Direction == types.Desc {
			dir = "desc"
		}
		out[i] = []any{part.Column, dir}
	}
	return out
}

// ConditionHash returns the canonical hash of cond alone, independent
// of whatever AST it's embedded in. internal/pipeline uses it to
// memoize compiled predicates for condition subtrees that recur across
// many distinct queries (a common filter reused in several related[]
// subqueries, a disjunct shared by more than one OR) -- but only for
// conditions HasParameter reports false for, since a Parameter resolves
// to a concrete value at compile time and two builds may resolve the
// same structural condition differently (e.g. two queries with
// distinct authData).
func ConditionHash(cond *Condition) string {
	return hash.Of(conditionValue(*cond))
}

// HasParameter reports whether cond (or any descendant) references a
// late-bound Parameter rather than only literal values.
func HasParameter(cond *Condition) bool {
	if cond == nil {
		return false
	}
	switch cond.Kind {
	case CondSimple:
		if _, ok := cond.Right.(*Parameter); ok {
			return true
		}
		if values, ok := cond.Right.([]any); ok {
			for _, v := range values {
				if _, ok := v.(*Parameter); ok {
					return true
				}
			}
		}
		return false
	case CondAnd, CondOr:
		for i := range cond.Conditions {
			if HasParameter(&cond.Conditions[i]) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func conditionValue(c Condition) map[string]any {
	switch c.Kind {
	case CondSimple:
		return map[string]any{
			"kind":  "simple",
			"op":    string(c.Op),
			"left":  c.Left,
			"right": parameterOrValue(c.Right),
		}
	case CondAnd, CondOr:
		kind := "and"
		if c.Kind == CondOr {
			kind = "or"
		}
		values := make([]any, len(c.Conditions))
		for i, sub := range c.Conditions {
			values[i] = conditionValue(sub)
		}
		// Sort by each sub-condition's own hash so that semantically
		// identical and/or lists hash identically regardless of the
		// order the caller built them in.
		sortByHash(values)
		return map[string]any{"kind": kind, "conditions": values}
	case CondCorrelatedSubquery:
		return map[string]any{
			"kind":    "correlatedSubquery",
			"op":      string(c.ExistsOp),
			"related": relatedValue(*c.Related),
		}
	default:
		return map[string]any{"kind": "unknown"}
	}
}

func relatedValue(r Related) map[string]any {
	m := map[string]any{
		"relationship": r.Relationship,
		"correlation": map[string]any{
			"parentField": toAnySlice(r.Correlation.ParentField),
			"childField":  toAnySlice(r.Correlation.ChildField),
		},
		"hidden": r.Hidden,
	}
	if r.Subquery != nil {
		m["subquery"] = r.Subquery.canonicalValue()
	}
	return m
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func parameterOrValue(v any) any {
	if p, ok := v.(*Parameter); ok {
		return map[string]any{"parameter": map[string]any{"anchor": p.Anchor, "field": p.Field}}
	}
	return v
}

func sortByHash(values []any) {
	// Insertion sort is sufficient: and/or lists are small (predicate
	// trees, not data), and this avoids pulling in sort for a handful
	// of string-keyed comparisons.
	keyed := make([]string, len(values))
	for i, v := range values {
		keyed[i] = hash.Of(v)
	}
	for i := 1; i < len(values); i++ {
		j := i
		for j > 0 && keyed[j-1] > keyed[j] {
			keyed[j-1], keyed[j] = keyed[j], keyed[j-1]
			values[j-1], values[j] = values[j], values[j-1]
			j--
		}
	}
}
