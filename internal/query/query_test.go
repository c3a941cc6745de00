package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/rocicorp/zero-ivm/internal/ast"
	"github.com/rocicorp/zero-ivm/internal/enginetest"
	"github.com/rocicorp/zero-ivm/internal/lifecycle"
	"github.com/rocicorp/zero-ivm/internal/operator"
	"github.com/rocicorp/zero-ivm/internal/query"
	"github.com/rocicorp/zero-ivm/internal/schema"
	"github.com/rocicorp/zero-ivm/internal/types"

	"github.com/stretchr/testify/require"
)

func userSchema() *schema.Schema {
	return schema.New().Table(schema.TableDef{
		Name:       "user",
		Columns:    []string{"id", "name"},
		PrimaryKey: types.PrimaryKey{"id"},
	})
}

func TestWhereDoesNotMutateReceiver(t *testing.T) {
	base := query.New(userSchema(), "user")
	filtered := base.Where("name", ast.OpEQ, "Ann")

	require.Nil(t, base.AST().Where, "the original Query must be unaffected by a derived Where call")
	require.NotNil(t, filtered.AST().Where)
}

func TestWhereDefaultsOmittedOpToEQ(t *testing.T) {
	q := query.New(userSchema(), "user").Where("name", "", "Ann")
	require.Equal(t, ast.OpEQ, q.AST().Where.Op)
}

func TestWhereANDsSuccessiveCalls(t *testing.T) {
	q := query.New(userSchema(), "user").
		Where("name", ast.OpEQ, "Ann").
		Where("id", ast.OpEQ, "u1")
	require.Equal(t, ast.CondAnd, q.AST().Where.Kind)
	require.Len(t, q.AST().Where.Conditions, 2)
}

func TestOneSetsSingularFormatAndCapsLimitToOne(t *testing.T) {
	q := query.New(userSchema(), "user").One()
	require.True(t, q.Format().Singular)
	require.Equal(t, 1, q.AST().Limit)
}

func TestHashIsStableAcrossEquivalentBuilds(t *testing.T) {
	a := query.New(userSchema(), "user").Where("name", ast.OpEQ, "Ann")
	b := query.New(userSchema(), "user").Where("name", ast.OpEQ, "Ann")
	require.Equal(t, a.Hash(), b.Hash())
}

func TestHashDiffersForDifferentWhereValues(t *testing.T) {
	a := query.New(userSchema(), "user").Where("name", ast.OpEQ, "Ann")
	b := query.New(userSchema(), "user").Where("name", ast.OpEQ, "Bob")
	require.NotEqual(t, a.Hash(), b.Hash())
}

func TestNamedQueryHashesByNameAndArgsNotAST(t *testing.T) {
	a := query.New(userSchema(), "user").Where("name", ast.OpEQ, "Ann").NameAndArgs("byName", map[string]any{"name": "Ann"})
	b := query.New(userSchema(), "user").NameAndArgs("byName", map[string]any{"name": "Ann"})
	require.True(t, a.IsNamed())
	require.Equal(t, a.Hash(), b.Hash(), "two differently-built ASTs with the same (name, args) must hash equal")
}

func TestRelatedOnUnknownRelationshipIsBuilderError(t *testing.T) {
	_, err := query.New(userSchema(), "user").Related("nonexistent", nil)
	require.Error(t, err)
	_, ok := types.IsBuilderError(err)
	require.True(t, ok)
}

func issueUserSchema() []schema.TableDef {
	return []schema.TableDef{
		{Name: "user", Columns: []string{"id", "name"}, PrimaryKey: types.PrimaryKey{"id"}},
		{
			Name:       "issue",
			Columns:    []string{"id", "ownerId"},
			PrimaryKey: types.PrimaryKey{"id"},
			Relationships: map[string]schema.RelationshipDef{
				"owner": {Name: "owner", DestTable: "user", SourceField: []string{"ownerId"}, DestField: []string{"id"}},
			},
		},
	}
}

func TestBuildInputProducesAWorkingOperatorGraph(t *testing.T) {
	ctx := context.Background()
	f := enginetest.New(ctx, issueUserSchema(), lifecycle.Config{})
	defer f.Close(time.Second)

	require.NoError(t, f.Seed(ctx, "user", []types.Row{{"id": "u1", "name": "Ann"}}))
	require.NoError(t, f.Seed(ctx, "issue", []types.Row{{"id": "i1", "ownerId": "u1"}}))

	q := f.Query("issue")
	input, format, pk, err := q.BuildInput(ctx, f.Builder)
	require.NoError(t, err)
	require.NotNil(t, format)
	require.Equal(t, types.PrimaryKey{"id"}, pk)
	defer input.Destroy()

	s := input.Fetch(ctx, operator.FetchRequest{})
	var rows []types.Row
	for {
		n, ok := s.Next()
		if !ok {
			break
		}
		rows = append(rows, n.Row)
	}
	s.Cleanup()
	require.Len(t, rows, 1)
	require.Equal(t, "i1", rows[0]["id"])
}
