// Package fingerprint derives stable content hashes for resolution output
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Membership returns the SHA-256 of the sorted, de-duplicated record ids.
// The same set of members always yields the same fingerprint regardless of order.
func Membership(recordIDs []string) string {
	ids := make([]string, 0, len(recordIDs))
	seen := make(map[string]bool, len(recordIDs))
	for _, id := range recordIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)

	encoded, _ := json.Marshal(ids)
	hash := sha256.Sum256(encoded)
	return hex.EncodeToString(hash[:])
}

// Attributes returns the SHA-256 of a canonical encoding of the attributes.
// Keys are sorted and each value keeps its kind, so "1" and 1 hash differently.
func Attributes(attrs models.Attributes) string {
	var b strings.Builder
	b.WriteString("{")
	for i, k := range attrs.Keys() {
		if i > 0 {
			b.WriteString(",")
		}
		key, _ := json.Marshal(k)
		value, _ := json.Marshal(attrs[k])
		b.Write(key)
		b.WriteString(":")
		b.Write(value)
	}
	b.WriteString("}")

	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}
