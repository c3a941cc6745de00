// Package msort contains utility functions for sorting and
// de-duplicating batches of rows, adapted from the teacher's mutation
// deduplication helper to this engine's Row/PrimaryKey types.
package msort

import "github.com/rocicorp/zero-ivm/internal/types"

// UniqueByKey implements a "last one wins" approach to removing rows
// with duplicate primary keys from the input slice: if two rows share
// the same key, the one later in the slice is kept. The modified slice
// is returned.
//
// This function panics if pk resolves to an empty key for any row; an
// empty primary key value is a schema bug, not a recoverable input.
func UniqueByKey(pk types.PrimaryKey, rows []types.Row) []types.Row {
	seen := make(map[string]bool, len(rows))

	// Iterate backwards so the first occurrence encountered for a given
	// key is also the last occurrence in the original slice, and move
	// survivors to the rear of the slice as they're found.
	dest := len(rows)
	for src := len(rows) - 1; src >= 0; src-- {
		key := pk.KeyOf(rows[src])
		if key == "" {
			panic("msort: empty primary key")
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		dest--
		rows[dest] = rows[src]
	}

	return rows[dest:]
}
