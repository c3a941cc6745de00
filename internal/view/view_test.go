package view_test

import (
	"context"
	"testing"

	"github.com/rocicorp/zero-ivm/internal/source"
	"github.com/rocicorp/zero-ivm/internal/types"
	"github.com/rocicorp/zero-ivm/internal/view"

	"github.com/stretchr/testify/require"
)

func newConnector(t *testing.T) (*source.Source, *view.View) {
	t.Helper()
	src := source.New(&types.SourceSchema{
		Table:      "item",
		Columns:    []string{"id", "rank"},
		PrimaryKey: types.PrimaryKey{"id"},
	})
	conn := src.Connect(types.Ordering{{Column: "rank"}}, nil, nil)
	format := &types.Format{Ordering: types.Ordering{{Column: "rank"}}.WithPKTiebreak(types.PrimaryKey{"id"})}
	v := view.New(context.Background(), conn, format, types.PrimaryKey{"id"})
	conn.SetOutput(v)
	return src, v
}

func TestViewKeepsRowsSortedAsChangesArrive(t *testing.T) {
	src, v := newConnector(t)

	require.NoError(t, src.Push(context.Background(), types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "a", "rank": 3.0}}))
	require.NoError(t, src.Push(context.Background(), types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "b", "rank": 1.0}}))
	require.NoError(t, src.Push(context.Background(), types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "c", "rank": 2.0}}))

	ranks := make([]float64, len(v.Data()))
	for i, e := range v.Data() {
		ranks[i] = e.Row["rank"].(float64)
	}
	require.Equal(t, []float64{1.0, 2.0, 3.0}, ranks)
}

func TestViewDataSnapshotIsImmutableAcrossSubsequentPushes(t *testing.T) {
	src, v := newConnector(t)
	require.NoError(t, src.Push(context.Background(), types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "a", "rank": 1.0}}))

	snapshot := v.Data()
	require.Len(t, snapshot, 1)

	require.NoError(t, src.Push(context.Background(), types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "b", "rank": 2.0}}))

	// The slice captured before the second push must not observe it.
	require.Len(t, snapshot, 1)
	require.Len(t, v.Data(), 2)
}

func TestViewRemoveAndEditByPrimaryKey(t *testing.T) {
	src, v := newConnector(t)
	require.NoError(t, src.Push(context.Background(), types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "a", "rank": 1.0}}))
	require.NoError(t, src.Push(context.Background(), types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "b", "rank": 2.0}}))

	require.NoError(t, src.Push(context.Background(), types.SourceChange{
		Kind: types.SourceEdit, OldRow: types.Row{"id": "a", "rank": 1.0}, Row: types.Row{"id": "a", "rank": 5.0},
	}))
	ranks := make([]float64, len(v.Data()))
	ids := make([]string, len(v.Data()))
	for i, e := range v.Data() {
		ranks[i] = e.Row["rank"].(float64)
		ids[i] = e.Row["id"].(string)
	}
	require.Equal(t, []string{"b", "a"}, ids)
	require.Equal(t, []float64{2.0, 5.0}, ranks)

	require.NoError(t, src.Push(context.Background(), types.SourceChange{Kind: types.SourceRemove, Row: types.Row{"id": "b", "rank": 2.0}}))
	require.Len(t, v.Data(), 1)
	require.Equal(t, "a", v.Data()[0].Row["id"])
}

func TestViewNotifiesListenersOnEveryCommit(t *testing.T) {
	src, v := newConnector(t)
	var calls int
	v.AddListener(func(_ []*view.Entry, _ view.ResultType) { calls++ })

	require.NoError(t, src.Push(context.Background(), types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "a", "rank": 1.0}}))
	require.NoError(t, src.Push(context.Background(), types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "b", "rank": 2.0}}))
	require.Equal(t, 2, calls)
}
