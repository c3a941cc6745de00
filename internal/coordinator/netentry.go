package coordinator

import (
	"time"

	"github.com/rocicorp/zero-ivm/internal/types"
)

// tableNet holds one table's net-effect changes for the open
// transaction: byKey net-combines repeated touches of the same row
// identity; order preserves first-touch order for Commit.
type tableNet struct {
	byKey map[string]*netEntry
	order []string
}

// netEntry is the net effect, so far, of every Push this transaction
// has made against one row identity. kind is the SourceChangeKind that
// will be pushed at Commit; skip marks an identity whose net effect is
// a no-op (e.g. added then removed within the same transaction).
type netEntry struct {
	kind   types.SourceChangeKind
	oldRow types.Row // row as of transaction start; populated for Edit/Remove
	row    types.Row // current row value; populated for Add/Edit/Set
	skip   bool
}

func (e *netEntry) toSourceChange() types.SourceChange {
	switch e.kind {
	case types.SourceAdd:
		return types.SourceChange{Kind: types.SourceAdd, Row: e.row}
	case types.SourceRemove:
		return types.SourceChange{Kind: types.SourceRemove, Row: e.oldRow}
	case types.SourceSet:
		// Preserved as its own upsert, not folded into Edit: a Set's
		// oldRow is never populated (it never read the prior value), so
		// emitting it as Edit would hand Source.genPush an OldRow that
		// can't resolve to the existing identity.
		return types.SourceChange{Kind: types.SourceSet, Row: e.row}
	default:
		return types.SourceChange{Kind: types.SourceEdit, Row: e.row, OldRow: e.oldRow}
	}
}

// combine folds change into table's net-effect map, keyed by the row
// identity the change names (the edited-from key for Edit and Remove,
// the row's own key for Add). It implements the edit-split-adjacent
// reductions a transaction-scoped net effect requires:
//
//	Add    + Remove -> no-op (skip)
//	Add    + Edit   -> Add with the edited row
//	Edit   + Edit   -> Edit from the original oldRow to the latest row
//	Edit   + Remove -> Remove of the original oldRow
//	Remove + Add (same key) -> Edit from the removed row to the new row
//
// A second Add, Remove, or Edit against an identity not covered above
// (e.g. an edit that also changes the primary key, touched again under
// its new key) is folded in as an independent entry under that key;
// Source.Push surfaces any resulting invariant violation at Commit.
func combine(table *tableNet, pk types.PrimaryKey, change types.SourceChange) error {
	if table.byKey == nil {
		table.byKey = map[string]*netEntry{}
	}

	var key string
	switch change.Kind {
	case types.SourceAdd, types.SourceSet:
		key = pk.KeyOf(change.Row)
	case types.SourceRemove:
		key = pk.KeyOf(change.Row)
	case types.SourceEdit:
		key = pk.KeyOf(change.OldRow)
	}

	existing, ok := table.byKey[key]
	if !ok {
		entry := &netEntry{}
		switch change.Kind {
		case types.SourceAdd:
			entry.kind = types.SourceAdd
			entry.row = change.Row
		case types.SourceSet:
			entry.kind = types.SourceSet
			entry.row = change.Row
		case types.SourceRemove:
			entry.kind = types.SourceRemove
			entry.oldRow = change.Row
		case types.SourceEdit:
			entry.kind = types.SourceEdit
			entry.oldRow = change.OldRow
			entry.row = change.Row
		}
		table.byKey[key] = entry
		table.order = append(table.order, key)
		return nil
	}

	switch {
	case existing.kind == types.SourceAdd && change.Kind == types.SourceRemove:
		existing.skip = true
	case existing.kind == types.SourceAdd && change.Kind == types.SourceEdit:
		existing.row = change.Row
	case existing.kind == types.SourceEdit && change.Kind == types.SourceEdit:
		existing.row = change.Row
	case existing.kind == types.SourceEdit && change.Kind == types.SourceRemove:
		existing.kind = types.SourceRemove
	case existing.kind == types.SourceRemove && change.Kind == types.SourceAdd:
		existing.kind = types.SourceEdit
		existing.row = change.Row
		existing.skip = false
	default:
		// Overwrite in place so the identity keeps its existing slot in
		// table.order; only a never-before-seen key grows order.
		*existing = netEntry{}
		switch change.Kind {
		case types.SourceAdd:
			existing.kind, existing.row = types.SourceAdd, change.Row
		case types.SourceSet:
			existing.kind, existing.row = types.SourceSet, change.Row
		case types.SourceRemove:
			existing.kind, existing.oldRow = types.SourceRemove, change.Row
		case types.SourceEdit:
			existing.kind, existing.oldRow, existing.row = types.SourceEdit, change.OldRow, change.Row
		}
	}
	return nil
}

func commitNanos() int64 { return time.Now().UnixNano() }
