// Package shard spreads keys across fixed partitions and digests composite keys.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"strconv"
	"strings"
)

// Index returns the partition of key among n partitions.
// With n <= 1 every key goes to partition 0.
func Index(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Digest returns a fixed-length hex digest of the given key parts.
// Parts are length-prefixed so ("a#", "b") and ("a", "#b") never collide.
func Digest(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	h := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(h[:16]) // 128-bit hash as hex
}
