// Package fingerprint produces deterministic content hashes for invoice
// snapshots so an unchanged rebuild can be detected without a field-by-field
// diff.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Generate creates a deterministic fingerprint for the given data.
// The fingerprint is a SHA256 hash of the canonicalized JSON.
func Generate(data map[string]any) string {
	canonical := canonicalize(data)
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:])
}

// GenerateFromValue marshals v to JSON and fingerprints the result. Struct
// field order does not matter; keys are sorted before hashing.
func GenerateFromValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return "", err
	}
	return Generate(m), nil
}

// HasChanged compares two fingerprints.
func HasChanged(oldFingerprint, newFingerprint string) bool {
	return oldFingerprint != newFingerprint
}

// canonicalize creates a deterministic string representation by sorting map
// keys and recursively processing nested structures.
func canonicalize(data any) string {
	switch v := data.(type) {
	case map[string]any:
		return canonicalizeMap(v)
	case []any:
		return canonicalizeArray(v)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func canonicalizeMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		kb, _ := json.Marshal(k)
		parts = append(parts, string(kb)+":"+canonicalize(m[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func canonicalizeArray(arr []any) string {
	parts := make([]string, 0, len(arr))
	for _, item := range arr {
		parts = append(parts, canonicalize(item))
	}
	return "[" + strings.Join(parts, ",") + "]"
}
