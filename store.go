package main

// BlockMetrics is one row of the analytics series recorded alongside
// each block this node seals (§4.5, §6 block_metrics table). Blocks
// received over the bus or appended by peer sync get no row.
type BlockMetrics struct {
	BlockIndex    int64   `json:"block_index"`
	CreatedAt     float64 `json:"created_at"`
	Interval      float64 `json:"interval"`
	ConsensusTime float64 `json:"consensus_time"`
	PowerUsage    float64 `json:"power_usage"`
}

// Store is the Persistent Store operational contract from §4.5. All
// methods are safe for concurrent use; SaveBlock is idempotent (upsert
// by index).
type Store interface {
	// SaveBlock upserts b by index, persists each of its transactions
	// keyed by canonical hash with a back-reference to the block index,
	// and records each transaction's "included" lifecycle timestamp.
	SaveBlock(b *Block) error

	// GetBlock returns the block at index, or found=false if absent.
	GetBlock(index int64) (*Block, bool, error)

	// GetBlocks returns blocks in [start, end] inclusive. end == -1
	// means "to tail".
	GetBlocks(start, end int64) ([]*Block, error)

	// ChainLength returns the number of blocks stored.
	ChainLength() (int64, error)

	// LatestBlock returns the highest-index block, or found=false if
	// the chain is empty.
	LatestBlock() (*Block, bool, error)

	// SaveBlockMetrics records one analytics row.
	SaveBlockMetrics(m BlockMetrics) error

	// RecordTxReceived records the first-seen timestamp for txHash,
	// keeping the minimum across repeated calls (never regresses).
	RecordTxReceived(txHash string, ts float64) error

	// Close releases underlying resources.
	Close() error
}
