package enginetest_test

import (
	"context"
	"testing"
	"time"

	"github.com/rocicorp/zero-ivm/internal/enginetest"
	"github.com/rocicorp/zero-ivm/internal/lifecycle"
	"github.com/rocicorp/zero-ivm/internal/query"
	"github.com/rocicorp/zero-ivm/internal/schema"
	"github.com/rocicorp/zero-ivm/internal/types"
	"github.com/rocicorp/zero-ivm/internal/view"

	"github.com/stretchr/testify/require"
)

func issueUserSchema() []schema.TableDef {
	return []schema.TableDef{
		{
			Name:       "user",
			Columns:    []string{"id", "name"},
			PrimaryKey: types.PrimaryKey{"id"},
		},
		{
			Name:       "issue",
			Columns:    []string{"id", "title", "closed", "ownerId"},
			PrimaryKey: types.PrimaryKey{"id"},
			Relationships: map[string]schema.RelationshipDef{
				"owner": {
					Name:        "owner",
					DestTable:   "user",
					SourceField: []string{"ownerId"},
					DestField:   []string{"id"},
				},
			},
		},
	}
}

func TestSeedDedupesByPrimaryKeyLastOneWins(t *testing.T) {
	ctx := context.Background()
	f := enginetest.New(ctx, issueUserSchema(), lifecycle.Config{})
	defer f.Close(time.Second)

	err := f.Seed(ctx, "user", []types.Row{
		{"id": "u1", "name": "Ann"},
		{"id": "u1", "name": "Ann (renamed)"},
		{"id": "u2", "name": "Bob"},
	})
	require.NoError(t, err)

	rows := f.Sources["user"].Snapshot()
	byID := map[string]types.Row{}
	for _, r := range rows {
		byID[r["id"].(string)] = r
	}
	require.Len(t, byID, 2)
	require.Equal(t, "Ann (renamed)", byID["u1"]["name"])
	require.Equal(t, "Bob", byID["u2"]["name"])
}

// TestMaterializedViewTracksPushedChanges exercises the pipeline end to
// end: a query materialized before any data exists observes every
// subsequent committed change, including a joined relationship.
func TestMaterializedViewTracksPushedChanges(t *testing.T) {
	ctx := context.Background()
	f := enginetest.New(ctx, issueUserSchema(), lifecycle.Config{})
	defer f.Close(time.Second)

	q, err := f.Query("issue").Where("closed", "", false).Related("owner", func(q query.Query) query.Query { return q.One() })
	require.NoError(t, err)

	v, err := f.Lifecycle.Materialize(ctx, q, lifecycle.Forever)
	require.NoError(t, err)
	require.Empty(t, v.Data())

	var lastRoot []*view.Entry
	v.AddListener(func(root []*view.Entry, _ view.ResultType) { lastRoot = root })

	err = f.Transaction(func() error {
		if err := f.Coordinator.Push("user", types.SourceChange{Kind: types.SourceAdd, Row: types.Row{"id": "u1", "name": "Ann"}}); err != nil {
			return err
		}
		return f.Coordinator.Push("issue", types.SourceChange{
			Kind: types.SourceAdd,
			Row:  types.Row{"id": "i1", "title": "t1", "closed": false, "ownerId": "u1"},
		})
	})
	require.NoError(t, err)

	require.Len(t, v.Data(), 1)
	require.Equal(t, "i1", v.Data()[0].Row["id"])
	require.NotNil(t, lastRoot)
	owner := v.Data()[0].Relationships["owner"]
	require.NotNil(t, owner)
	require.Equal(t, "u1", owner.Single.Row["id"])

	// Closing the issue removes it from the materialized view.
	err = f.Transaction(func() error {
		return f.Coordinator.Push("issue", types.SourceChange{
			Kind:   types.SourceEdit,
			OldRow: types.Row{"id": "i1", "title": "t1", "closed": false, "ownerId": "u1"},
			Row:    types.Row{"id": "i1", "title": "t1", "closed": true, "ownerId": "u1"},
		})
	})
	require.NoError(t, err)
	require.Empty(t, v.Data())
}

func TestDiagnosticsRegistryReportsBothComponents(t *testing.T) {
	ctx := context.Background()
	f := enginetest.New(ctx, issueUserSchema(), lifecycle.Config{})
	defer f.Close(time.Second)

	report := f.Diagnostics.Report(ctx)
	require.Contains(t, report, "lifecycle")
	require.Contains(t, report, "coordinator")
}
