package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
)

// Clients that inject a wall-clock marker into message content would defeat
// coalescing, so markers are stripped before hashing. The pattern consumes
// stacked markers in one pass, which keeps canonicalization idempotent.
var timestampRe = regexp.MustCompile(`^(?:\[\w{3}\s+\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}\s+\w+\]\s*)+`)

// Canonicalize rewrites a JSON request body into a stable byte form: object
// keys are sorted and leading timestamp markers are stripped from every
// "content" string field. Bodies that fail to parse are returned unchanged.
func Canonicalize(body []byte) []byte {
	var value interface{}
	if err := json.Unmarshal(body, &value); err != nil {
		return body
	}

	value = normalizeValue("", value)

	out, err := json.Marshal(value)
	if err != nil {
		return body
	}
	return out
}

// Key returns the dedup key for a request body: the first 16 hex characters
// of the SHA-256 of the canonicalized bytes.
func Key(body []byte) string {
	hash := sha256.Sum256(Canonicalize(body))
	return hex.EncodeToString(hash[:])[:16]
}

// normalizeValue walks the decoded JSON tree. Marshaling a
// map[string]interface{} emits keys in sorted order, so sorting falls out of
// the round-trip; the walk only has to rewrite content strings.
func normalizeValue(key string, value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		for k, child := range v {
			v[k] = normalizeValue(k, child)
		}
		return v
	case []interface{}:
		for i, child := range v {
			v[i] = normalizeValue("", child)
		}
		return v
	case string:
		if key == "content" {
			return timestampRe.ReplaceAllString(v, "")
		}
		return v
	default:
		return value
	}
}
