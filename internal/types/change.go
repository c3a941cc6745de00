package types

// Node is a row plus lazily-produced streams of related child nodes.
// Relationships map a declared relationship name to a thunk that, when
// called, returns a fresh Stream of child Nodes; per the single-use
// Stream contract, each thunk call must produce an independent,
// one-shot iterator.
type Node struct {
	Row           Row
	Relationships map[string]func() NodeStream
}

// NodeStream is implemented by internal/stream.Stream[Node]; it's
// redeclared as an interface here (rather than importing the stream
// package, which would create an import cycle back into types) so that
// Node.Relationships can reference it.
type NodeStream interface {
	Next() (Node, bool)
	Cleanup()
}

// ChangeKind tags the variant of a Change.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeRemove
	ChangeEdit
	ChangeChild
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeRemove:
		return "remove"
	case ChangeEdit:
		return "edit"
	case ChangeChild:
		return "child"
	default:
		return "unknown"
	}
}

// ChildChange names the relationship a nested Change travels through
// when it reaches an ancestor as a ChangeChild.
type ChildChange struct {
	Relationship string
	Change       *Change
}

// Change is the tagged variant propagated downstream through a
// pipeline of operators: a row (and its subtree) appeared or
// disappeared, a row's own values changed (without its relationship
// subtrees changing), or a descendant changed beneath an otherwise
// unchanged row.
type Change struct {
	Kind ChangeKind

	// Node is populated for Add, Edit, and Child; it is the node in its
	// new state.
	Node Node

	// OldNode is populated for Remove (the departing node) and Edit
	// (the node's state prior to the edit). By contract, OldNode's
	// Relationships equal Node's Relationships for an Edit.
	OldNode Node

	// Child is populated when Kind == ChangeChild.
	Child ChildChange
}

// Add constructs an add Change.
func Add(node Node) Change { return Change{Kind: ChangeAdd, Node: node} }

// Remove constructs a remove Change.
func Remove(node Node) Change { return Change{Kind: ChangeRemove, OldNode: node} }

// Edit constructs an edit Change; per invariant, node and oldNode must
// share identical Relationships.
func Edit(node, oldNode Node) Change {
	return Change{Kind: ChangeEdit, Node: node, OldNode: oldNode}
}

// Child constructs a child Change wrapping a nested change reached
// through relationship.
func ChildOf(node Node, relationship string, nested Change) Change {
	return Change{
		Kind: ChangeChild,
		Node: node,
		Child: ChildChange{
			Relationship: relationship,
			Change:       &nested,
		},
	}
}

// SourceChangeKind tags the variant of a SourceChange.
type SourceChangeKind int

const (
	SourceAdd SourceChangeKind = iota
	SourceRemove
	SourceEdit
	SourceSet
)

// SourceChange is pushed into a Source to mutate its underlying
// per-table row collection. Set is an upsert: add if absent, edit if
// present.
type SourceChange struct {
	Kind   SourceChangeKind
	Row    Row
	OldRow Row // populated for Edit
}
