// Package schema holds the application-declared, typed schema that a
// Query is built against: tables, their columns and primary keys, and
// the named relationships a related()/whereExists() call may traverse.
package schema

import (
	"github.com/rocicorp/zero-ivm/internal/types"
	"github.com/rocicorp/zero-ivm/internal/util/ident"
)

// RelationshipDef declares one named relationship from a table to
// another table via a compound correlation key.
type RelationshipDef struct {
	Name          string
	DestTable     string
	SourceField   []string
	DestField     []string
	Hidden        bool
	JunctionTable string // non-empty when this hop passes through a junction table
}

// TableDef declares one table: its columns, primary key, and the
// relationships that may be named in a related()/whereExists() call
// rooted at this table.
type TableDef struct {
	Name          string
	Columns       []string
	PrimaryKey    types.PrimaryKey
	Relationships map[string]RelationshipDef
}

// Schema is the full, application-declared typed schema.
type Schema struct {
	Tables map[string]TableDef
}

// New constructs an empty Schema.
func New() *Schema {
	return &Schema{Tables: make(map[string]TableDef)}
}

// Table registers a TableDef, keyed by its Name.
func (s *Schema) Table(t TableDef) *Schema {
	s.Tables[t.Name] = t
	return s
}

// Lookup returns the TableDef for name.
func (s *Schema) Lookup(name string) (TableDef, bool) {
	t, ok := s.Tables[name]
	return t, ok
}

// Relationship resolves relationship name on table, reporting false as
// the second value if either the table or the relationship is unknown.
func (s *Schema) Relationship(table, name string) (RelationshipDef, bool) {
	t, ok := s.Tables[table]
	if !ok {
		return RelationshipDef{}, false
	}
	r, ok := t.Relationships[name]
	return r, ok
}

// SourceSchemaFor constructs a types.SourceSchema for table, without
// descending into relationships (the pipeline builder fills in
// relationship SourceSchemas itself as it recurses into related[]).
func (s *Schema) SourceSchemaFor(table string, ordering types.Ordering) (*types.SourceSchema, error) {
	t, ok := s.Tables[table]
	if !ok {
		return nil, unknownTableError(table)
	}
	return &types.SourceSchema{
		Table:         t.Name,
		Columns:       t.Columns,
		PrimaryKey:    t.PrimaryKey,
		Relationships: map[string]*types.SourceSchema{},
		Ordering:      ordering.WithPKTiebreak(t.PrimaryKey),
	}, nil
}

// TablePath renders table.relationship for diagnostics.
func TablePath(table, relationship string) ident.Path {
	return ident.Path{table, relationship}
}

func unknownTableError(table string) error {
	return &unknownTable{table: table}
}

type unknownTable struct{ table string }

func (e *unknownTable) Error() string { return "unknown table: " + e.table }

// Table returns the name of the unknown table, for callers (like the
// pipeline builder) that want to wrap this into a types.BuilderError
// with additional path context.
func (e *unknownTable) Table() string { return e.table }
