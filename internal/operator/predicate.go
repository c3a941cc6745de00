package operator

import (
	"strings"

	"github.com/rocicorp/zero-ivm/internal/ast"
	"github.com/rocicorp/zero-ivm/internal/types"
)

// RowPredicate is a compiled, stateless boolean test over a single
// row's own columns. It is what source.Predicate (re-declared there to
// avoid an import cycle) is expected to satisfy, and what a Filter
// operator applies to every pushed/fetched Node.
type RowPredicate func(types.Row) bool

// ParameterResolver supplies the concrete value a late-bound
// ast.Parameter resolves to at pipeline build time: auth-data
// parameters come from a static substitution pass, preMutationRow
// parameters from a capture closure owned by the enclosing Join.
type ParameterResolver func(p *ast.Parameter) (any, error)

// CompilePredicate compiles a Condition tree containing only Simple,
// And, and Or nodes (no CorrelatedSubquery) into a single RowPredicate.
// Callers that need to handle CorrelatedSubquery build an operator
// graph instead (see Exists, FanOut/FanIn); CompilePredicate panics if
// handed a tree containing one, since that decision belongs to the
// pipeline builder, which chooses the right shape before ever calling
// this function.
func CompilePredicate(cond *ast.Condition, resolve ParameterResolver) (RowPredicate, error) {
	if cond == nil {
		return func(types.Row) bool { return true }, nil
	}
	switch cond.Kind {
	case ast.CondSimple:
		return compileSimple(*cond, resolve)
	case ast.CondAnd:
		preds, err := compileAll(cond.Conditions, resolve)
		if err != nil {
			return nil, err
		}
		return func(row types.Row) bool {
			for _, p := range preds {
				if !p(row) {
					return false
				}
			}
			return true
		}, nil
	case ast.CondOr:
		preds, err := compileAll(cond.Conditions, resolve)
		if err != nil {
			return nil, err
		}
		return func(row types.Row) bool {
			for _, p := range preds {
				if p(row) {
					return true
				}
			}
			return false
		}, nil
	default:
		panic("CompilePredicate: condition tree contains a correlated subquery")
	}
}

func compileAll(conds []ast.Condition, resolve ParameterResolver) ([]RowPredicate, error) {
	out := make([]RowPredicate, len(conds))
	for i := range conds {
		p, err := CompilePredicate(&conds[i], resolve)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// HasCorrelatedSubquery reports whether cond (or any descendant)
// contains a CorrelatedSubquery node.
func HasCorrelatedSubquery(cond *ast.Condition) bool {
	if cond == nil {
		return false
	}
	switch cond.Kind {
	case ast.CondCorrelatedSubquery:
		return true
	case ast.CondAnd, ast.CondOr:
		for i := range cond.Conditions {
			if HasCorrelatedSubquery(&cond.Conditions[i]) {
				return true
			}
		}
	}
	return false
}

func compileSimple(cond ast.Condition, resolve ParameterResolver) (RowPredicate, error) {
	right, err := resolveRight(cond.Right, resolve)
	if err != nil {
		return nil, err
	}
	col := cond.Left
	op := cond.Op

	switch op {
	case ast.OpIs:
		return func(row types.Row) bool { return isEqual(row[col], right) }, nil
	case ast.OpIsNot:
		return func(row types.Row) bool { return !isEqual(row[col], right) }, nil
	case ast.OpIn:
		set := right.([]any)
		return func(row types.Row) bool {
			v := row[col]
			if v == nil {
				return false
			}
			for _, want := range set {
				if isEqual(v, want) {
					return true
				}
			}
			return false
		}, nil
	case ast.OpNotIn:
		set := right.([]any)
		return func(row types.Row) bool {
			v := row[col]
			if v == nil {
				return false
			}
			for _, want := range set {
				if isEqual(v, want) {
					return false
				}
			}
			return true
		}, nil
	case ast.OpLike, ast.OpNotLike, ast.OpILike, ast.OpNotILike:
		pattern, _ := right.(string)
		ci := op == ast.OpILike || op == ast.OpNotILike
		negate := op == ast.OpNotLike || op == ast.OpNotILike
		re := compileLike(pattern, ci)
		return func(row types.Row) bool {
			v, ok := row[col].(string)
			if !ok {
				return false
			}
			m := re(v)
			if negate {
				return !m
			}
			return m
		}, nil
	default:
		// =, !=, <, <=, >, >= are three-valued: null never compares
		// true against anything, including null, under these operators.
		return func(row types.Row) bool {
			v := row[col]
			if v == nil || right == nil {
				return false
			}
			c := compareForOp(v, right)
			switch op {
			case ast.OpEQ:
				return c == 0
			case ast.OpNE:
				return c != 0
			case ast.OpLT:
				return c < 0
			case ast.OpLE:
				return c <= 0
			case ast.OpGT:
				return c > 0
			case ast.OpGE:
				return c >= 0
			default:
				return false
			}
		}, nil
	}
}

func resolveRight(right any, resolve ParameterResolver) (any, error) {
	p, ok := right.(*ast.Parameter)
	if !ok {
		return right, nil
	}
	if resolve == nil {
		return nil, types.NewBuilderError("unresolved parameter at fetch time: " + p.Anchor + "." + p.Field)
	}
	return resolve(p)
}

// isEqual implements the IS/IN null-aware equality check: two Values
// are equal if both are nil, or if they are the same dynamic type and
// compare equal, falling back to a numeric comparison for mixed
// int/float representations so that callers handing in Go literals
// (int 1) match stored float64(1) columns.
func isEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return compareForOp(a, b) == 0
}

func compareForOp(a, b any) int {
	af, aIsNum := toFloat(a)
	bf, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return strings.Compare(as, bs)
	}
	ab, aIsBool := a.(bool)
	bb, bIsBool := b.(bool)
	if aIsBool && bIsBool {
		if ab == bb {
			return 0
		}
		if !ab {
			return -1
		}
		return 1
	}
	// Incomparable dynamic types: never equal, and arbitrarily (but
	// consistently) ordered so that < / > never panic.
	return strings.Compare(typeName(a), typeName(b))
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	default:
		return "other"
	}
}

// compileLike turns a SQL LIKE pattern ('%' any run, '_' any one char,
// '\' escapes the next character) into a matcher function. ILIKE folds
// case before comparing.
func compileLike(pattern string, caseInsensitive bool) func(string) bool {
	var b strings.Builder
	b.WriteByte('^')
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '\\':
			if i+1 < len(runes) {
				i++
				b.WriteString(regexpQuote(runes[i]))
			}
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexpQuote(r))
		}
	}
	b.WriteByte('$')
	re := mustCompileAnchored(b.String(), caseInsensitive)
	return func(s string) bool { return re(s) }
}
