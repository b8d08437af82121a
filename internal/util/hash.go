// Package util contains internal helpers (hashing, sharding, power-of-two math).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"fmt"
	"hash/fnv"
)

// Hash64 hashes common key types with 64-bit FNV-1a.
// Cache keys in this module are strings; integers and fmt.Stringer are
// accepted for tests and generic callers. Other types fall back to their
// fmt representation.
func Hash64[K comparable](k K) uint64 {
	h := fnv.New64a()
	switch v := any(k).(type) {
	case string:
		_, _ = h.Write([]byte(v))
	case []byte:
		_, _ = h.Write(v)
	case int:
		return mix(uint64(v))
	case int64:
		return mix(uint64(v))
	case uint64:
		return mix(v)
	case fmt.Stringer:
		_, _ = h.Write([]byte(v.String()))
	default:
		_, _ = fmt.Fprint(h, v)
	}
	return h.Sum64()
}

// mix is the splitmix64 finalizer; it spreads sequential integers across
// shards.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
