package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint returns a stable hash of the normalized query text. Queries
// differing only in case or surrounding whitespace share a fingerprint, so
// trivially-equivalent lookups hit the same cache entry.
func Fingerprint(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
