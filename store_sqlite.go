package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// sqliteStore implements Store over the relational schema from §6:
// blocks, transactions, block_metrics, transaction_lifecycle. Driven by
// the pure-Go modernc.org/sqlite driver so the node never needs cgo,
// matching the edge-device deployment target.
type sqliteStore struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	block_index    INTEGER PRIMARY KEY,
	timestamp      REAL NOT NULL,
	validator      TEXT NOT NULL,
	previous_hash  TEXT NOT NULL,
	hash           TEXT NOT NULL,
	transactions   TEXT NOT NULL,
	energy_metrics TEXT NOT NULL,
	merkle_root    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	tx_hash     TEXT PRIMARY KEY,
	block_index INTEGER NOT NULL REFERENCES blocks(block_index),
	tx_type     TEXT,
	sender      TEXT,
	recipient   TEXT,
	amount      REAL,
	timestamp   REAL,
	tx_data     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS block_metrics (
	block_index    INTEGER PRIMARY KEY REFERENCES blocks(block_index),
	created_at     REAL NOT NULL,
	interval       REAL NOT NULL,
	consensus_time REAL NOT NULL,
	power_usage    REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS transaction_lifecycle (
	tx_hash     TEXT PRIMARY KEY,
	received_at REAL,
	included_at REAL
);
`

// OpenSQLiteStore opens (creating and migrating if necessary) the
// relational store at path, e.g. "./data/edgechain.db".
func OpenSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening sqlite store at %s: %v", ErrStorage, path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrating sqlite schema: %v", ErrStorage, err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: closing sqlite store: %v", ErrStorage, err)
	}
	return nil
}

// SaveBlock upserts b and its transactions inside a single transaction,
// so a failure partway never leaves the block without its
// back-referenced transactions.
func (s *sqliteStore) SaveBlock(b *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txsJSON, err := json.Marshal(b.Transactions)
	if err != nil {
		return fmt.Errorf("%w: marshaling transactions for block %d: %v", ErrStorage, b.Index, err)
	}
	metricsJSON, err := json.Marshal(b.EnergyMetrics)
	if err != nil {
		return fmt.Errorf("%w: marshaling energy metrics for block %d: %v", ErrStorage, b.Index, err)
	}

	dbTx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: starting transaction for block %d: %v", ErrStorage, b.Index, err)
	}
	defer dbTx.Rollback()

	_, err = dbTx.Exec(`
		INSERT INTO blocks (block_index, timestamp, validator, previous_hash, hash, transactions, energy_metrics, merkle_root)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(block_index) DO UPDATE SET
			timestamp=excluded.timestamp, validator=excluded.validator,
			previous_hash=excluded.previous_hash, hash=excluded.hash,
			transactions=excluded.transactions, energy_metrics=excluded.energy_metrics,
			merkle_root=excluded.merkle_root`,
		b.Index, b.Timestamp, b.Validator, b.PreviousHash, b.Hash, string(txsJSON), string(metricsJSON), b.MerkleRoot)
	if err != nil {
		return fmt.Errorf("%w: upserting block %d: %v", ErrStorage, b.Index, err)
	}

	for _, tx := range b.Transactions {
		hash, err := tx.CanonicalHash()
		if err != nil {
			return fmt.Errorf("%w: hashing transaction in block %d: %v", ErrStorage, b.Index, err)
		}
		dataJSON, err := json.Marshal(map[string]interface{}(tx))
		if err != nil {
			return fmt.Errorf("%w: marshaling transaction %s: %v", ErrStorage, hash, err)
		}

		sender, _ := tx["sender"].(string)
		recipient, _ := tx["recipient"].(string)
		var amount interface{}
		if v, ok := tx["amount"]; ok {
			amount = v
		}

		_, err = dbTx.Exec(`
			INSERT INTO transactions (tx_hash, block_index, tx_type, sender, recipient, amount, timestamp, tx_data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tx_hash) DO UPDATE SET
				block_index=excluded.block_index, tx_type=excluded.tx_type,
				sender=excluded.sender, recipient=excluded.recipient,
				amount=excluded.amount, timestamp=excluded.timestamp, tx_data=excluded.tx_data`,
			hash, b.Index, tx.Type(), sender, recipient, amount, tx.Timestamp(), string(dataJSON))
		if err != nil {
			return fmt.Errorf("%w: upserting transaction %s: %v", ErrStorage, hash, err)
		}

		_, err = dbTx.Exec(`
			INSERT INTO transaction_lifecycle (tx_hash, included_at)
			VALUES (?, ?)
			ON CONFLICT(tx_hash) DO UPDATE SET included_at=excluded.included_at`,
			hash, b.Timestamp)
		if err != nil {
			return fmt.Errorf("%w: recording lifecycle for transaction %s: %v", ErrStorage, hash, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("%w: committing block %d: %v", ErrStorage, b.Index, err)
	}
	return nil
}

func (s *sqliteStore) scanBlock(row interface {
	Scan(dest ...interface{}) error
}) (*Block, error) {
	var wire Block
	var txsJSON, metricsJSON string
	if err := row.Scan(&wire.Index, &wire.Timestamp, &wire.Validator, &wire.PreviousHash, &wire.Hash, &txsJSON, &metricsJSON, &wire.MerkleRoot); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(txsJSON), &wire.Transactions); err != nil {
		return nil, fmt.Errorf("unmarshal transactions: %w", err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &wire.EnergyMetrics); err != nil {
		return nil, fmt.Errorf("unmarshal energy metrics: %w", err)
	}
	return BlockFromWire(wire)
}

func (s *sqliteStore) GetBlock(index int64) (*Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT block_index, timestamp, validator, previous_hash, hash, transactions, energy_metrics, merkle_root FROM blocks WHERE block_index = ?`, index)
	b, err := s.scanBlock(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: loading block %d: %v", ErrStorage, index, err)
	}
	return b, true, nil
}

func (s *sqliteStore) GetBlocks(start, end int64) ([]*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows *sql.Rows
	var err error
	if end < 0 {
		rows, err = s.db.Query(`SELECT block_index, timestamp, validator, previous_hash, hash, transactions, energy_metrics, merkle_root FROM blocks WHERE block_index >= ? ORDER BY block_index ASC`, start)
	} else {
		rows, err = s.db.Query(`SELECT block_index, timestamp, validator, previous_hash, hash, transactions, energy_metrics, merkle_root FROM blocks WHERE block_index >= ? AND block_index <= ? ORDER BY block_index ASC`, start, end)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: querying blocks [%d,%d]: %v", ErrStorage, start, end, err)
	}
	defer rows.Close()

	var out []*Block
	for rows.Next() {
		b, err := s.scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning block in range [%d,%d]: %v", ErrStorage, start, end, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating blocks [%d,%d]: %v", ErrStorage, start, end, err)
	}
	return out, nil
}

func (s *sqliteStore) ChainLength() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM blocks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: counting blocks: %v", ErrStorage, err)
	}
	return n, nil
}

func (s *sqliteStore) LatestBlock() (*Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT block_index, timestamp, validator, previous_hash, hash, transactions, energy_metrics, merkle_root FROM blocks ORDER BY block_index DESC LIMIT 1`)
	b, err := s.scanBlock(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: loading latest block: %v", ErrStorage, err)
	}
	return b, true, nil
}

func (s *sqliteStore) SaveBlockMetrics(m BlockMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO block_metrics (block_index, created_at, interval, consensus_time, power_usage)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(block_index) DO UPDATE SET
			created_at=excluded.created_at, interval=excluded.interval,
			consensus_time=excluded.consensus_time, power_usage=excluded.power_usage`,
		m.BlockIndex, m.CreatedAt, m.Interval, m.ConsensusTime, m.PowerUsage)
	if err != nil {
		return fmt.Errorf("%w: saving block metrics for %d: %v", ErrStorage, m.BlockIndex, err)
	}
	return nil
}

// RecordTxReceived keeps the minimum received_at across repeated calls
// for the same hash: the first-seen timestamp is what matters, a later
// duplicate sighting must not push it forward.
func (s *sqliteStore) RecordTxReceived(txHash string, ts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO transaction_lifecycle (tx_hash, received_at)
		VALUES (?, ?)
		ON CONFLICT(tx_hash) DO UPDATE SET
			received_at = MIN(COALESCE(received_at, excluded.received_at), excluded.received_at)`,
		txHash, ts)
	if err != nil {
		return fmt.Errorf("%w: recording receipt of transaction %s: %v", ErrStorage, txHash, err)
	}
	return nil
}
