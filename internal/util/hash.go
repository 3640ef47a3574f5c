package util

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// ContentHash is the content address of raw source bytes.
func ContentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// ContentVersion hashes the mutable fields of a source record. encoding/json
// sorts map keys, so equal attribute bags hash equally.
func ContentVersion(name, link, contentHash string, attributes map[string]any) string {
	attrs, err := json.Marshal(attributes)
	if err != nil {
		attrs = nil
	}
	return ContentHash([]byte(strings.Join([]string{name, link, contentHash, string(attrs)}, "|")))
}

// VersionHash combines many versions into one order independent hash.
func VersionHash(versions []string) string {
	sorted := append([]string(nil), versions...)
	sort.Strings(sorted)
	return ContentHash([]byte(strings.Join(sorted, "|")))
}
