package main

import "errors"

// Error taxonomy for the node. Handlers map failures onto one of these
// kinds instead of using exceptions-as-control-flow; each fallible
// operation returns a plain Go error that wraps one of these sentinels so
// callers can branch with errors.Is.
var (
	// ErrConfig marks a fatal startup misconfiguration: unknown node id,
	// missing roster entry. The node must not start.
	ErrConfig = errors.New("config error")

	// ErrStorage marks an underlying store failure. Write failures must
	// prevent acknowledgment to the caller; read failures are treated as
	// "no data" and the caller falls through to re-sync.
	ErrStorage = errors.New("storage error")

	// ErrValidation marks a rejected block or transaction: Merkle
	// mismatch, wrong validator, non-monotonic index/time, stale
	// timestamp, previous-hash mismatch, energy over threshold. Rejected
	// silently (logged), never retried.
	ErrValidation = errors.New("validation error")

	// ErrTransport marks a broker disconnect or peer HTTP timeout/404.
	// The caller switches brokers or skips the peer for this round.
	ErrTransport = errors.New("transport error")

	// ErrLiveness marks "no live delegates at all". The proposer yields
	// until liveness returns; no block is produced in the meantime.
	ErrLiveness = errors.New("liveness error")
)
