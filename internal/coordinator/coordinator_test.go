package coordinator_test

import (
	"context"
	"testing"

	"github.com/rocicorp/zero-ivm/internal/coordinator"
	"github.com/rocicorp/zero-ivm/internal/source"
	"github.com/rocicorp/zero-ivm/internal/types"

	"github.com/stretchr/testify/require"
)

func newUserSource() *source.Source {
	return source.New(&types.SourceSchema{
		Table:      "user",
		Columns:    []string{"id", "name"},
		PrimaryKey: types.PrimaryKey{"id"},
	})
}

func TestPushOutsideTransactionIsInvariantViolation(t *testing.T) {
	c := coordinator.New(nil)
	src := newUserSource()
	c.Register(src)

	err := c.Push("user", types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "u1"}})
	require.Error(t, err)
	_, ok := types.IsInvariantViolation(err)
	require.True(t, ok)
}

func TestDoubleBeginIsInvariantViolation(t *testing.T) {
	c := coordinator.New(nil)
	require.NoError(t, c.Begin())
	err := c.Begin()
	require.Error(t, err)
	_, ok := types.IsInvariantViolation(err)
	require.True(t, ok)
}

func TestCommitWithoutBeginIsInvariantViolation(t *testing.T) {
	c := coordinator.New(nil)
	err := c.Commit(context.Background())
	require.Error(t, err)
	_, ok := types.IsInvariantViolation(err)
	require.True(t, ok)
}

func TestAddThenRemoveNetsToNoOp(t *testing.T) {
	c := coordinator.New(nil)
	src := newUserSource()
	c.Register(src)

	require.NoError(t, c.Begin())
	require.NoError(t, c.Push("user", types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "u1", "name": "Ann"}}))
	require.NoError(t, c.Push("user", types.SourceChange{Kind: types.SourceRemove, Row: types.Row{"id": "u1", "name": "Ann"}}))
	require.NoError(t, c.Commit(context.Background()))

	require.Empty(t, src.Snapshot())
}

func TestAddThenEditNetsToAddOfFinalValue(t *testing.T) {
	c := coordinator.New(nil)
	src := newUserSource()
	c.Register(src)

	require.NoError(t, c.Begin())
	require.NoError(t, c.Push("user", types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "u1", "name": "Ann"}}))
	require.NoError(t, c.Push("user", types.SourceChange{
		Kind:   types.SourceEdit,
		OldRow: types.Row{"id": "u1", "name": "Ann"},
		Row:    types.Row{"id": "u1", "name": "Annie"},
	}))
	require.NoError(t, c.Commit(context.Background()))

	rows := src.Snapshot()
	require.Len(t, rows, 1)
	require.Equal(t, "Annie", rows[0]["name"])
}

func TestEditThenEditNetsToSingleEdit(t *testing.T) {
	c := coordinator.New(nil)
	src := newUserSource()
	require.NoError(t, src.Push(context.Background(), types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "u1", "name": "Ann"}}))
	c.Register(src)

	require.NoError(t, c.Begin())
	require.NoError(t, c.Push("user", types.SourceChange{
		Kind: types.SourceEdit, OldRow: types.Row{"id": "u1", "name": "Ann"}, Row: types.Row{"id": "u1", "name": "Ann2"},
	}))
	require.NoError(t, c.Push("user", types.SourceChange{
		Kind: types.SourceEdit, OldRow: types.Row{"id": "u1", "name": "Ann2"}, Row: types.Row{"id": "u1", "name": "Ann3"},
	}))
	require.NoError(t, c.Commit(context.Background()))

	rows := src.Snapshot()
	require.Len(t, rows, 1)
	require.Equal(t, "Ann3", rows[0]["name"])
}

func TestEditThenRemoveNetsToRemoveOfOriginal(t *testing.T) {
	c := coordinator.New(nil)
	src := newUserSource()
	require.NoError(t, src.Push(context.Background(), types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "u1", "name": "Ann"}}))
	c.Register(src)

	require.NoError(t, c.Begin())
	require.NoError(t, c.Push("user", types.SourceChange{
		Kind: types.SourceEdit, OldRow: types.Row{"id": "u1", "name": "Ann"}, Row: types.Row{"id": "u1", "name": "Ann2"},
	}))
	require.NoError(t, c.Push("user", types.SourceChange{Kind: types.SourceRemove, Row: types.Row{"id": "u1", "name": "Ann2"}}))
	require.NoError(t, c.Commit(context.Background()))

	require.Empty(t, src.Snapshot())
}

func TestRemoveThenAddNetsToEdit(t *testing.T) {
	c := coordinator.New(nil)
	src := newUserSource()
	require.NoError(t, src.Push(context.Background(), types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "u1", "name": "Ann"}}))
	c.Register(src)

	require.NoError(t, c.Begin())
	require.NoError(t, c.Push("user", types.SourceChange{Kind: types.SourceRemove, Row: types.Row{"id": "u1", "name": "Ann"}}))
	require.NoError(t, c.Push("user", types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "u1", "name": "Ann2"}}))
	require.NoError(t, c.Commit(context.Background()))

	rows := src.Snapshot()
	require.Len(t, rows, 1)
	require.Equal(t, "Ann2", rows[0]["name"])
}

func TestRollbackDiscardsPendingPushes(t *testing.T) {
	c := coordinator.New(nil)
	src := newUserSource()
	c.Register(src)

	require.NoError(t, c.Begin())
	require.NoError(t, c.Push("user", types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "u1", "name": "Ann"}}))
	require.NoError(t, c.Rollback())

	require.Empty(t, src.Snapshot())

	err := c.Commit(context.Background())
	require.Error(t, err)
}

func TestBatchFuncWrapsCommitApply(t *testing.T) {
	var batched bool
	c := coordinator.New(func(apply func()) {
		batched = true
		apply()
	})
	src := newUserSource()
	c.Register(src)

	require.NoError(t, c.Begin())
	require.NoError(t, c.Push("user", types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "u1", "name": "Ann"}}))
	require.NoError(t, c.Commit(context.Background()))

	require.True(t, batched)
	require.Len(t, src.Snapshot(), 1)
}

func TestSourceSetAsFirstTouchInsertsNewRow(t *testing.T) {
	c := coordinator.New(nil)
	src := newUserSource()
	c.Register(src)

	require.NoError(t, c.Begin())
	require.NoError(t, c.Push("user", types.SourceChange{Kind: types.SourceSet, Row: types.Row{"id": "u1", "name": "Ann"}}))
	require.NoError(t, c.Commit(context.Background()))

	rows := src.Snapshot()
	require.Len(t, rows, 1)
	require.Equal(t, "Ann", rows[0]["name"])
}

func TestSourceSetAsFirstTouchUpsertsExistingRow(t *testing.T) {
	c := coordinator.New(nil)
	src := newUserSource()
	require.NoError(t, src.Push(context.Background(), types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "u1", "name": "Ann"}}))
	c.Register(src)

	// SourceSet is the documented upsert path: the coordinator must not
	// require a caller to know in advance whether u1 already exists, nor
	// to supply an OldRow, even though this is the transaction's first
	// touch of u1.
	require.NoError(t, c.Begin())
	require.NoError(t, c.Push("user", types.SourceChange{Kind: types.SourceSet, Row: types.Row{"id": "u1", "name": "Ann2"}}))
	require.NoError(t, c.Commit(context.Background()))

	rows := src.Snapshot()
	require.Len(t, rows, 1)
	require.Equal(t, "Ann2", rows[0]["name"])
}

func TestDiagnosticReportsTransactionState(t *testing.T) {
	c := coordinator.New(nil)
	diag := c.Diagnostic(context.Background()).(map[string]any)
	require.Equal(t, false, diag["txOpen"])

	require.NoError(t, c.Begin())
	diag = c.Diagnostic(context.Background()).(map[string]any)
	require.Equal(t, true, diag["txOpen"])
}
