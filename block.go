package main

import "fmt"

// Block is the unit of commitment. previous_hash is 64 '0' characters for
// the genesis block; validator is "genesis" for the genesis block.
// Hash is a pure function of every other field; merkle_root is a pure
// function of Transactions.
type Block struct {
	Index         int64                  `json:"index"`
	Timestamp     float64                `json:"timestamp"`
	Transactions  []Transaction          `json:"transactions"`
	PreviousHash  string                 `json:"previous_hash"`
	Validator     string                 `json:"validator"`
	EnergyMetrics map[string]float64     `json:"energy_metrics"`
	MerkleRoot    string                 `json:"merkle_root"`
	Hash          string                 `json:"hash"`

	tree *merkleTree // rebuilt on construction/deserialize, never serialized
}

// hashableHeader is the exact field set and order that Block.Hash commits
// to: {index, timestamp, merkle_root, previous_hash, validator,
// energy_metrics}, hashed via canonical JSON so key order never matters.
type hashableHeader struct {
	Index         int64              `json:"index"`
	Timestamp     float64            `json:"timestamp"`
	MerkleRoot    string             `json:"merkle_root"`
	PreviousHash  string             `json:"previous_hash"`
	Validator     string             `json:"validator"`
	EnergyMetrics map[string]float64 `json:"energy_metrics"`
}

func (b *Block) header() hashableHeader {
	metrics := b.EnergyMetrics
	if metrics == nil {
		metrics = map[string]float64{}
	}
	return hashableHeader{
		Index:         b.Index,
		Timestamp:     b.Timestamp,
		MerkleRoot:    b.MerkleRoot,
		PreviousHash:  b.PreviousHash,
		Validator:     b.Validator,
		EnergyMetrics: metrics,
	}
}

// computeHash recomputes b.Hash from b's current fields. Idempotent:
// calling it twice with unchanged inputs yields the same value.
func (b *Block) computeHash() error {
	h, err := HashCanonical(b.header())
	if err != nil {
		return err
	}
	b.Hash = h
	return nil
}

// NewBlock builds a block: computes the Merkle root over txs, then the
// block hash over the resulting header.
func NewBlock(index int64, timestamp float64, txs []Transaction, previousHash, validator string, energyMetrics map[string]float64) (*Block, error) {
	tree, err := buildMerkleTree(txs)
	if err != nil {
		return nil, fmt.Errorf("build merkle tree: %w", err)
	}

	b := &Block{
		Index:         index,
		Timestamp:     timestamp,
		Transactions:  txs,
		PreviousHash:  previousHash,
		Validator:     validator,
		EnergyMetrics: energyMetrics,
		MerkleRoot:    tree.Root(),
		tree:          tree,
	}
	if err := b.computeHash(); err != nil {
		return nil, fmt.Errorf("compute block hash: %w", err)
	}
	return b, nil
}

// Proof returns the Merkle inclusion proof for the i-th transaction.
func (b *Block) Proof(i int) []MerkleProofStep {
	if b.tree == nil {
		return nil
	}
	return b.tree.Proof(i)
}

// VerifyInclusion checks tx against b's Merkle root using proof.
func (b *Block) VerifyInclusion(tx Transaction, proof []MerkleProofStep) bool {
	return VerifyMerkleProof(tx, proof, b.MerkleRoot)
}

// TransactionIndex returns the index of tx within b.Transactions, or -1.
func (b *Block) TransactionIndex(tx Transaction) int {
	return FindTxIndex(b.Transactions, tx)
}

// ToWire returns b's wire-format dictionary: every field except the live
// Merkle tree (json.Marshal on *Block already omits it, being
// unexported; ToWire exists so callers get a plain map for ad-hoc
// JSON composition, e.g. the /blocks endpoint).
func (b *Block) ToWire() map[string]interface{} {
	return map[string]interface{}{
		"index":          b.Index,
		"timestamp":      b.Timestamp,
		"transactions":   b.Transactions,
		"previous_hash":  b.PreviousHash,
		"validator":      b.Validator,
		"energy_metrics": b.EnergyMetrics,
		"merkle_root":    b.MerkleRoot,
		"hash":           b.Hash,
	}
}

// BlockFromWire rebuilds a Block from its wire dictionary (as decoded by
// encoding/json into a Block value — the unexported tree field is left
// zero), rebuilding the Merkle tree and rejecting the block as malformed
// if the stored merkle_root doesn't match the rebuilt one.
func BlockFromWire(w Block) (*Block, error) {
	tree, err := buildMerkleTree(w.Transactions)
	if err != nil {
		return nil, fmt.Errorf("rebuild merkle tree: %w", err)
	}
	if tree.Root() != w.MerkleRoot {
		return nil, fmt.Errorf("%w: merkle_root mismatch on deserialize (block %d)", ErrValidation, w.Index)
	}

	b := w
	b.tree = tree
	return &b, nil
}
