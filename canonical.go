package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// CanonicalJSON serializes v with lexicographically sorted object keys at
// every nesting level and no insignificant whitespace. v is marshaled,
// decoded back into generic maps and slices, and marshaled again, so a
// struct (whose fields encoding/json emits in declaration order) or a
// json.RawMessage comes out with its object keys sorted, because
// encoding/json sorts map[string]any keys and emits no whitespace.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(normalize(generic))
}

// normalize recursively copies decoded maps and slices. A Go map has no
// key order, so the sorted key order of the output comes from json.Marshal
// sorting map[string]interface{} keys, not from this copy.
func normalize(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]interface{}, len(vv))
		for _, k := range keys {
			ordered[k] = normalize(vv[k])
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = normalize(e)
		}
		return out
	default:
		return vv
	}
}

// HashBytes returns the lowercase hex-encoded SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashCanonical canonicalizes v and returns its lowercase hex SHA-256.
// Panics are never used here: a marshal failure on a value this package
// constructs itself is a programming error, so the error is still
// returned rather than silently defaulted.
func HashCanonical(v interface{}) (string, error) {
	canon, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return HashBytes(canon), nil
}

// zeroHash is the 64-character all-zero hex string used for the genesis
// previous_hash and the empty Merkle root (the hex form of 32 zero bytes).
var zeroHash = func() string {
	b := make([]byte, 32)
	return hex.EncodeToString(b)
}()
