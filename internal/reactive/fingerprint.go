package reactive

import (
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
)

// Fingerprint computes a stable cache key for an arbitrary query-key
// value. encoding/json.Marshal already sorts map[string]any keys
// alphabetically, which gives canonical JSON for free without a
// hand-rolled canonicalizer; the result is hashed with the 128-bit
// variant of FNV-1a (spec's unspecified query-key hash, concretely
// resolved here -- see DESIGN.md) and hex-encoded.
func Fingerprint(key any) (string, error) {
	b, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	h := fnv.New128a()
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}
