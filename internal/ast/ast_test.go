package ast_test

import (
	"testing"

	"github.com/rocicorp/zero-ivm/internal/ast"

	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministicAcrossEqualButDifferentlyConstructedASTs(t *testing.T) {
	a := ast.AST{
		Table: "issue",
		Where: ptr(ast.And(
			ast.Simple("closed", ast.OpEQ, false),
			ast.Simple("ownerId", ast.OpEQ, "u1"),
		)),
	}
	b := ast.AST{
		Table: "issue",
		Where: ptr(ast.And(
			ast.Simple("ownerId", ast.OpEQ, "u1"),
			ast.Simple("closed", ast.OpEQ, false),
		)),
	}

	require.Equal(t, a.Hash(), b.Hash(), "conjuncts built in a different order must hash identically")
}

func TestHashDiffersForDifferentConditions(t *testing.T) {
	a := ast.AST{Table: "issue", Where: ptr(ast.Simple("closed", ast.OpEQ, false))}
	b := ast.AST{Table: "issue", Where: ptr(ast.Simple("closed", ast.OpEQ, true))}
	require.NotEqual(t, a.Hash(), b.Hash())
}

func TestHashNameAndArgsIsIndependentOfLocalAST(t *testing.T) {
	h1 := ast.HashNameAndArgs("myQuery", map[string]any{"id": "1"})
	h2 := ast.HashNameAndArgs("myQuery", map[string]any{"id": "1"})
	require.Equal(t, h1, h2)

	h3 := ast.HashNameAndArgs("myQuery", map[string]any{"id": "2"})
	require.NotEqual(t, h1, h3)
}

func TestHasParameterDetectsNestedParameter(t *testing.T) {
	withParam := ast.And(
		ast.Simple("closed", ast.OpEQ, false),
		ast.Simple("ownerId", ast.OpEQ, &ast.Parameter{Anchor: "authData", Field: "sub"}),
	)
	require.True(t, ast.HasParameter(&withParam))

	withoutParam := ast.And(
		ast.Simple("closed", ast.OpEQ, false),
		ast.Simple("ownerId", ast.OpEQ, "u1"),
	)
	require.False(t, ast.HasParameter(&withoutParam))
}

func TestHasParameterDetectsParameterInInList(t *testing.T) {
	cond := ast.Simple("id", ast.OpIn, []any{"a", &ast.Parameter{Anchor: "authData", Field: "sub"}})
	require.True(t, ast.HasParameter(&cond))
}

func TestConditionHashIgnoresEnclosingAST(t *testing.T) {
	cond := ast.Simple("closed", ast.OpEQ, false)
	h1 := ast.ConditionHash(&cond)

	// The same condition embedded in two structurally different ASTs
	// still hashes identically on its own.
	a := ast.AST{Table: "issue", Where: &cond}
	b := ast.AST{Table: "issue", Where: &cond, Limit: 10}
	require.NotEqual(t, a.Hash(), b.Hash())
	require.Equal(t, h1, ast.ConditionHash(a.Where))
	require.Equal(t, h1, ast.ConditionHash(b.Where))
}

func ptr(c ast.Condition) *ast.Condition { return &c }
