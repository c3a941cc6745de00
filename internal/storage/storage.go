// Package storage implements the per-operator scratch key/value state
// described in the IVM pipeline's Storage component: an ordered-scan
// store used by Join to index parent rows by correlation tuple, by
// Exists to count matching children per correlation key, and by Take
// to hold its current window.
//
// google/btree is used as the backing ordered map. It's the same shape
// of dependency cdc-sink reaches for with pgx/boltdb for its own
// durable, ordered storage needs, but here
// the data is pure in-process scratch state scoped to one operator's
// lifetime, so an in-memory ordered tree -- rather than a database
// connection -- is the right tool: operator Storage is destroyed along
// with the operator, never outlives a process, and must support cheap
// ordered prefix scans on every push.
package storage

import (
	"strings"

	"github.com/google/btree"
)

// Key is a scratch-storage key, compared as a plain string. Join and
// Exists build Keys out of correlation tuples via Encode; Take uses
// zero-padded window positions.
type Key string

// Encode concatenates parts into a single Key, each part
// length-prefixed via EncodePart (no separator is used), so that prefix
// scans over a partial tuple never spuriously match a longer tuple
// sharing a textual prefix.
func Encode(parts ...string) Key {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(EncodePart(p))
	}
	return Key(b.String())
}

// EncodePart length-prefixes a single component so concatenation is
// unambiguous: "ab"+"cd" and "a"+"bcd" encode to different byte
// sequences.
func EncodePart(p string) string {
	return itoa(len(p)) + ":" + p
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits [20]byte
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}

// Entry is one key/value pair held in Storage.
type Entry struct {
	Key   Key
	Value any
}

func (e Entry) Less(than btree.Item) bool {
	return e.Key < than.(Entry).Key
}

// Storage is the per-operator scratch key/value store. Scans are
// always ordered lexicographically by Key.
type Storage interface {
	// Get returns the value stored at key, and whether it was present.
	Get(key Key) (any, bool)

	// Set stores value at key, replacing any previous value.
	Set(key Key, value any)

	// Delete removes key, if present.
	Delete(key Key)

	// Scan calls fn for every entry whose Key has the given prefix, in
	// ascending Key order, until fn returns false or entries are
	// exhausted.
	Scan(prefix Key, fn func(Key, any) bool)

	// Len returns the number of entries currently stored.
	Len() int

	// Destroy releases the Storage's backing memory. Called when the
	// owning operator is destroyed.
	Destroy()
}

// memStorage is the in-memory google/btree-backed Storage
// implementation used by every operator in this engine.
type memStorage struct {
	tree *btree.BTree
}

// New constructs an empty Storage.
func New() Storage {
	return &memStorage{tree: btree.New(32)}
}

func (s *memStorage) Get(key Key) (any, bool) {
	item := s.tree.Get(Entry{Key: key})
	if item == nil {
		return nil, false
	}
	return item.(Entry).Value, true
}

func (s *memStorage) Set(key Key, value any) {
	s.tree.ReplaceOrInsert(Entry{Key: key, Value: value})
}

func (s *memStorage) Delete(key Key) {
	s.tree.Delete(Entry{Key: key})
}

func (s *memStorage) Scan(prefix Key, fn func(Key, any) bool) {
	s.tree.AscendGreaterOrEqual(Entry{Key: prefix}, func(item btree.Item) bool {
		e := item.(Entry)
		if !strings.HasPrefix(string(e.Key), string(prefix)) {
			return false
		}
		return fn(e.Key, e.Value)
	})
}

func (s *memStorage) Len() int { return s.tree.Len() }

func (s *memStorage) Destroy() { s.tree.Clear(false) }

// Factory creates Storage instances for operators as they're built, in
// the same role as cdc-sink's BuilderDelegate.createStorage hook: the
// pipeline builder asks the delegate for a fresh Storage per operator
// rather than operators constructing their own, so that an embedding
// application can substitute a durable or shared implementation
// (e.g. backed by a persistent KV store) without changing operator
// code.
type Factory func() Storage

// DefaultFactory returns in-memory Storage instances.
func DefaultFactory() Storage { return New() }
