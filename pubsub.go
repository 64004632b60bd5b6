package main

// Topic names for the pub/sub transport (§6). The transport is opaque
// and best-effort at-least-once; the core never assumes ordering across
// topics or publishers.
const (
	TopicBlocks           = "blocks"
	TopicTransactions     = "transactions"
	TopicMetrics          = "metrics"
	TopicNetworkStatus    = "network/status"
	TopicValidatorStatus  = "validator/status"
)

// Envelope wraps every message put on the bus: a unique id set by the
// publisher (receivers do not deduplicate on it), the topic it was
// published on, and the raw JSON payload.
type Envelope struct {
	ID      string `json:"id"`
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

// Bus is the pub/sub transport contract. Redundant brokers are allowed;
// implementations only need best-effort at-least-once delivery.
// Subscribe's handler may be invoked from the broker's own goroutine —
// callers must not assume single-threaded delivery.
type Bus interface {
	Publish(topic string, payload interface{}) error
	Subscribe(topic string, handler func(Envelope)) error
	Close() error
}
