package schema_test

import (
	"testing"

	"github.com/rocicorp/zero-ivm/internal/schema"
	"github.com/rocicorp/zero-ivm/internal/types"

	"github.com/stretchr/testify/require"
)

func newTestSchema() *schema.Schema {
	return schema.New().
		Table(schema.TableDef{
			Name:       "user",
			Columns:    []string{"id", "name"},
			PrimaryKey: types.PrimaryKey{"id"},
		}).
		Table(schema.TableDef{
			Name:       "issue",
			Columns:    []string{"id", "ownerId"},
			PrimaryKey: types.PrimaryKey{"id"},
			Relationships: map[string]schema.RelationshipDef{
				"owner": {Name: "owner", DestTable: "user", SourceField: []string{"ownerId"}, DestField: []string{"id"}},
			},
		})
}

func TestLookupFindsRegisteredTable(t *testing.T) {
	s := newTestSchema()
	def, ok := s.Lookup("issue")
	require.True(t, ok)
	require.Equal(t, "issue", def.Name)

	_, ok = s.Lookup("nonexistent")
	require.False(t, ok)
}

func TestRelationshipResolvesAcrossTableAndName(t *testing.T) {
	s := newTestSchema()
	rel, ok := s.Relationship("issue", "owner")
	require.True(t, ok)
	require.Equal(t, "user", rel.DestTable)

	_, ok = s.Relationship("issue", "nonexistent")
	require.False(t, ok)

	_, ok = s.Relationship("nonexistent", "owner")
	require.False(t, ok)
}

func TestSourceSchemaForAppliesPKTiebreak(t *testing.T) {
	s := newTestSchema()
	ss, err := s.SourceSchemaFor("user", nil)
	require.NoError(t, err)
	require.Equal(t, "user", ss.Table)
	require.Equal(t, types.Ordering{{Column: "id"}}, ss.Ordering)
}

func TestSourceSchemaForUnknownTableErrors(t *testing.T) {
	s := newTestSchema()
	_, err := s.SourceSchemaFor("nonexistent", nil)
	require.Error(t, err)
}

func TestTablePathRendersTableAndRelationship(t *testing.T) {
	require.Equal(t, []string{"issue", "owner"}, []string(schema.TablePath("issue", "owner")))
}
