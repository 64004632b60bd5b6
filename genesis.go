package main

import "fmt"

// GenesisTimestamp is the fixed timestamp every node's genesis block uses,
// so independently-bootstrapped nodes agree on the genesis hash.
const GenesisTimestamp float64 = 1735689600 // 2025-01-01T00:00:00Z

// BuildGenesisBlock deterministically builds block 0: previous_hash is 64
// '0' characters, validator is "genesis", and the sole transaction is the
// stake distribution that seeds the DPoS validator set.
func BuildGenesisBlock(initialStakes map[string]float64) (*Block, error) {
	stakeTx := Transaction{
		"type":      "stake_distribution",
		"data":      stakesToJSON(initialStakes),
		"timestamp": GenesisTimestamp,
	}

	block, err := NewBlock(0, GenesisTimestamp, []Transaction{stakeTx}, zeroHash, "genesis", map[string]float64{
		"power_usage": 0,
		"cpu_percent": 0,
		"memory_percent": 0,
		"temperature": 0,
	})
	if err != nil {
		return nil, fmt.Errorf("build genesis block: %w", err)
	}
	return block, nil
}

func stakesToJSON(stakes map[string]float64) map[string]interface{} {
	out := make(map[string]interface{}, len(stakes))
	for id, stake := range stakes {
		out[id] = stake
	}
	return out
}

// VerifyGenesisBlock checks the non-deterministic-field-agnostic
// invariants of a loaded or freshly-built genesis block: index,
// previous_hash, validator, and that the first transaction has type
// stake_distribution and a data field. Further transactions and the
// contents of data are not checked.
func VerifyGenesisBlock(b *Block) error {
	if b.Index != 0 {
		return fmt.Errorf("%w: genesis index must be 0, got %d", ErrValidation, b.Index)
	}
	if b.PreviousHash != zeroHash {
		return fmt.Errorf("%w: genesis previous_hash must be all-zero", ErrValidation)
	}
	if b.Validator != "genesis" {
		return fmt.Errorf("%w: genesis validator must be \"genesis\", got %q", ErrValidation, b.Validator)
	}
	if len(b.Transactions) == 0 {
		return fmt.Errorf("%w: genesis block has no transactions", ErrValidation)
	}

	tx := b.Transactions[0]
	if tx.Type() != "stake_distribution" {
		return fmt.Errorf("%w: genesis transaction type must be stake_distribution, got %q", ErrValidation, tx.Type())
	}
	if _, ok := tx["data"]; !ok {
		return fmt.Errorf("%w: genesis stake_distribution transaction missing data", ErrValidation)
	}
	return nil
}

// GenesisStakes extracts the initial validator→stake mapping from a
// verified genesis block's stake-distribution transaction.
func GenesisStakes(b *Block) (map[string]float64, error) {
	if len(b.Transactions) == 0 {
		return nil, fmt.Errorf("%w: genesis block has no transactions", ErrValidation)
	}
	data, ok := b.Transactions[0]["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: genesis stake_distribution data is not an object", ErrValidation)
	}
	stakes := make(map[string]float64, len(data))
	for id, v := range data {
		n, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: genesis stake for %q is not numeric", ErrValidation, id)
		}
		stakes[id] = n
	}
	return stakes, nil
}
