package source_test

import (
	"context"
	"testing"

	"github.com/rocicorp/zero-ivm/internal/source"
	"github.com/rocicorp/zero-ivm/internal/types"

	"github.com/stretchr/testify/require"
)

func newSource() *source.Source {
	return source.New(&types.SourceSchema{
		Table:      "item",
		Columns:    []string{"id", "closed"},
		PrimaryKey: types.PrimaryKey{"id"},
	})
}

func TestPushAddOfDuplicatePrimaryKeyIsInvariantViolation(t *testing.T) {
	ctx := context.Background()
	src := newSource()
	require.NoError(t, src.Push(ctx, types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "a"}}))

	err := src.Push(ctx, types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "a"}})
	require.Error(t, err)
	_, ok := types.IsInvariantViolation(err)
	require.True(t, ok)
}

func TestPushRemoveOfMissingPrimaryKeyIsInvariantViolation(t *testing.T) {
	ctx := context.Background()
	src := newSource()
	err := src.Push(ctx, types.SourceChange{Kind: types.SourceRemove, Row: types.Row{"id": "missing"}})
	require.Error(t, err)
	_, ok := types.IsInvariantViolation(err)
	require.True(t, ok)
}

func TestPushEditOfMissingPrimaryKeyIsInvariantViolation(t *testing.T) {
	ctx := context.Background()
	src := newSource()
	err := src.Push(ctx, types.SourceChange{
		Kind: types.SourceEdit, OldRow: types.Row{"id": "missing"}, Row: types.Row{"id": "missing", "closed": true},
	})
	require.Error(t, err)
	_, ok := types.IsInvariantViolation(err)
	require.True(t, ok)
}

func TestSourceSetUpsertsAddOrEdit(t *testing.T) {
	ctx := context.Background()
	src := newSource()
	conn := src.Connect(nil, nil, nil)
	var got []types.Change
	conn.SetOutput(recordOutput(func(c types.Change) { got = append(got, c) }))

	require.NoError(t, src.Push(ctx, types.SourceChange{Kind: types.SourceSet, Row: types.Row{"id": "a", "closed": false}}))
	require.Len(t, got, 1)
	require.Equal(t, types.ChangeAdd, got[0].Kind)

	require.NoError(t, src.Push(ctx, types.SourceChange{Kind: types.SourceSet, Row: types.Row{"id": "a", "closed": true}}))
	require.Len(t, got, 2)
	require.Equal(t, types.ChangeEdit, got[1].Kind)
}

// TestMultipleConnectorsEachSeeOnlyTheirOwnPredicateMatches exercises
// fan-out: two independently-filtered connectors opened on the same
// Source each only forward changes matching their own predicate, in
// registration order.
func TestMultipleConnectorsEachSeeOnlyTheirOwnPredicateMatches(t *testing.T) {
	ctx := context.Background()
	src := newSource()

	var openChanges, closedChanges []types.Change
	openConn := src.Connect(nil, func(r types.Row) bool { return r["closed"] == false }, nil)
	openConn.SetOutput(recordOutput(func(c types.Change) { openChanges = append(openChanges, c) }))
	closedConn := src.Connect(nil, func(r types.Row) bool { return r["closed"] == true }, nil)
	closedConn.SetOutput(recordOutput(func(c types.Change) { closedChanges = append(closedChanges, c) }))

	require.NoError(t, src.Push(ctx, types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "a", "closed": false}}))
	require.Len(t, openChanges, 1)
	require.Empty(t, closedChanges)

	require.NoError(t, src.Push(ctx, types.SourceChange{
		Kind: types.SourceEdit, OldRow: types.Row{"id": "a", "closed": false}, Row: types.Row{"id": "a", "closed": true},
	}))
	// The edit moves the row out of openConn's filter and into closedConn's.
	require.Len(t, openChanges, 2)
	require.Equal(t, types.ChangeRemove, openChanges[1].Kind)
	require.Len(t, closedChanges, 1)
	require.Equal(t, types.ChangeAdd, closedChanges[0].Kind)
}

func TestConnectorDestroyDeregistersFromSource(t *testing.T) {
	ctx := context.Background()
	src := newSource()
	conn := src.Connect(nil, nil, nil)
	var calls int
	conn.SetOutput(recordOutput(func(types.Change) { calls++ }))

	conn.Destroy()
	require.NoError(t, src.Push(ctx, types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "a", "closed": false}}))
	require.Zero(t, calls, "a destroyed connector must not observe further pushes")
}

type recordOutput func(types.Change)

func (r recordOutput) Push(_ context.Context, c types.Change) { r(c) }
