package main

import (
	"encoding/json"
	"errors"
)

// Transaction is an opaque, consensus-visible record: a bag of
// JSON-compatible fields. The only universal fields are an optional
// "type" tag and an optional numeric "timestamp"; everything else is
// schema-specific and outside the core's concern (stake distributions,
// transfers, metrics snapshots, ...). Its identity is the SHA-256 of its
// canonical JSON form.
type Transaction map[string]interface{}

// Type returns the transaction's "type" tag, or "" if absent or not a
// string.
func (tx Transaction) Type() string {
	v, ok := tx["type"]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Timestamp returns the transaction's numeric "timestamp" field, or 0 if
// absent or not a number.
func (tx Transaction) Timestamp() float64 {
	v, ok := tx["timestamp"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// CanonicalHash returns the hex-encoded SHA-256 of tx's canonical JSON
// form. This is the value used for the Merkle tree, pending-pool keys,
// and the transaction lifecycle table's primary key.
func (tx Transaction) CanonicalHash() (string, error) {
	return HashCanonical(map[string]interface{}(tx))
}

// Clone returns a deep-enough copy of tx suitable for storing in the
// pending pool independent of the caller's mutable map.
func (tx Transaction) Clone() Transaction {
	raw, err := json.Marshal(map[string]interface{}(tx))
	if err != nil {
		return Transaction{}
	}
	var out Transaction
	if err := json.Unmarshal(raw, &out); err != nil {
		return Transaction{}
	}
	return out
}

// DecodeTransaction parses a JSON object into a Transaction. Malformed
// structure (not a JSON object) is reported as an error so callers can
// drop the transaction per the error taxonomy's ValidationError case.
func DecodeTransaction(raw []byte) (Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, errors.New("transaction is not a JSON object")
	}
	return tx, nil
}
