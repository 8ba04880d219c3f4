// Package state holds the JSON-shaped game state tree and the schema-driven
// mutation validator that guards writes to it.
package state

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
)

// Tree is the canonical game state representation. The engine never assumes a
// shape beyond "JSON-like": values are nil, bool, float64, string,
// map[string]any or []any. Numeric values are normalized to float64 so that a
// tree survives a wire round-trip byte-identically.
type Tree = map[string]any

// Clone deep-copies a JSON-like value, normalizing numbers to float64 along
// the way.
func Clone(value any) any {
	switch v := value.(type) {
	case map[string]any:
		cloned := make(map[string]any, len(v))
		for key, child := range v {
			cloned[key] = Clone(child)
		}
		return cloned
	case []any:
		cloned := make([]any, len(v))
		for i, child := range v {
			cloned[i] = Clone(child)
		}
		return cloned
	default:
		return normalizeScalar(v)
	}
}

// CloneTree deep-copies a state tree.
func CloneTree(tree Tree) Tree {
	if tree == nil {
		return nil
	}
	return Clone(tree).(map[string]any)
}

func normalizeScalar(value any) any {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}

// Equal reports deep equality of two JSON-like values under the same numeric
// normalization Clone applies.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for key, achild := range av {
			bchild, ok := bv[key]
			if !ok || !Equal(achild, bchild) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return normalizeScalar(a) == normalizeScalar(b)
	}
}

// Canonical renders a JSON-like value with sorted object keys so two replicas
// holding equal trees produce identical bytes.
func Canonical(value any) []byte {
	return appendCanonical(nil, value)
}

func appendCanonical(dst []byte, value any) []byte {
	switch v := value.(type) {
	case nil:
		return append(dst, "null"...)
	case bool:
		if v {
			return append(dst, "true"...)
		}
		return append(dst, "false"...)
	case string:
		return strconv.AppendQuote(dst, v)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		dst = append(dst, '{')
		for i, key := range keys {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = strconv.AppendQuote(dst, key)
			dst = append(dst, ':')
			dst = appendCanonical(dst, v[key])
		}
		return append(dst, '}')
	case []any:
		dst = append(dst, '[')
		for i, child := range v {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = appendCanonical(dst, child)
		}
		return append(dst, ']')
	default:
		if f, ok := normalizeScalar(v).(float64); ok {
			return strconv.AppendFloat(dst, f, 'g', -1, 64)
		}
		// Unexpected scalar kinds degrade to their quoted Go formatting so
		// the checksum stays total.
		return strconv.AppendQuote(dst, fmt.Sprintf("%v", v))
	}
}

// Checksum computes the FNV-1a hash of the canonical rendering. It is the
// value exchanged by the desync detector and the standby heartbeat.
func Checksum(value any) uint64 {
	h := fnv.New64a()
	h.Write(appendCanonical(nil, value))
	return h.Sum64()
}
