// Package hash renders a canonical-JSON value into the 64-bit,
// base-36 hash used to identify an AST (or a custom query's name+args
// pair) for dedup purposes, per the engine's "hash determinism"
// testable property: equal values under key-sorted canonicalization
// must hash identically regardless of input key order.
//
// cespare/xxhash/v2 is already pulled transitively by
// prometheus/client_golang (it hashes label sets); the engine depends
// on it directly here for the same non-cryptographic, high-throughput
// hashing job applied to query identity instead of metric identity.
package hash

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Of canonicalizes v (sorting all map keys recursively) and returns its
// 64-bit hash rendered in base-36, matching the wire format described
// for AST and custom-query hashes.
func Of(v any) string {
	canon := canonicalize(v)
	// encoding/json already sorts map[string]any keys when marshaling;
	// canonicalize does not reorder slices, so commutative lists (e.g.
	// AND/OR conditions) must already be sorted by the AST package.
	b, err := json.Marshal(canon)
	if err != nil {
		// v must be built entirely out of JSON-representable values;
		// a failure here means a caller handed us something else,
		// which is a programmer error, not a runtime condition.
		panic(err)
	}
	sum := xxhash.Sum64(b)
	return strconv.FormatUint(sum, 36)
}

// canonicalize recursively sorts map keys and, for []any, leaves
// element order untouched: order within a slice is semantic (e.g.
// orderBy, related[]) except where the AST package has already
// flattened and sorted commutative operators (and/or) before calling
// Of.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = canonicalize(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return v
	}
}
