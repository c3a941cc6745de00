package types

// System discriminates the origin/purpose of a SourceSchema node, for
// relationships synthesized by permission rules, the client runtime
// itself, or test scaffolding rather than declared directly by the
// application schema.
type System int

const (
	SystemClient System = iota
	SystemPermissions
	SystemTest
)

// SourceSchema is the metadata that flows alongside every operator in
// a pipeline: which table it reads, its columns, its primary key, its
// declared relationships (each itself a SourceSchema, recursively),
// the comparator the operator's rows are ordered under, and whether
// this corner of the schema is hidden from view assembly (junction
// tables traversed for a join but never shown to a consumer).
type SourceSchema struct {
	Table         string
	Columns       []string
	PrimaryKey    PrimaryKey
	Relationships map[string]*SourceSchema
	Ordering      Ordering
	Hidden        bool
	System        System
}

// CompareRows compares two rows of this schema's table under its
// Ordering (already required to carry the PK tiebreak).
func (s *SourceSchema) CompareRows(a, b Row) int {
	return CompareRows(s.Ordering, a, b)
}

// Format is the per-query output shape descriptor: whether the query's
// own result is singular (a single Entry or undefined) versus an array
// of Entries, and recursively for each non-hidden relationship it
// projects.
type Format struct {
	Singular bool

	// Ordering is the comparator this level's own rows are sorted
	// under (query.BuildInput fills it for the root Format with the
	// query's effective ordering; Query.Related does not fill it for
	// relationship Formats). The view assembler uses
	// it to binary-insert an incoming add into the right position
	// without a side-channel schema lookup.
	Ordering Ordering

	Relationships map[string]*Format
}

// RelationshipFormat looks up the Format for a named relationship,
// returning a default plural Format if the relationship wasn't given
// an explicit entry (the common case: most relationships are arrays).
func (f *Format) RelationshipFormat(name string) *Format {
	if f.Relationships != nil {
		if rf, ok := f.Relationships[name]; ok {
			return rf
		}
	}
	return &Format{}
}
