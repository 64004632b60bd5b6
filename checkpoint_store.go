package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v3"
)

// badgerCheckpointStore persists DPoS checkpoints keyed by block height in
// a badger KV store, the same embedded store the teacher used for the
// entire chain. Here it holds only the periodic delegate/validator
// snapshots (§3, §4.3); block data itself lives in the relational store
// (store_sqlite.go).
type badgerCheckpointStore struct {
	db *badger.DB
}

const latestCheckpointKey = "checkpoint:latest"

func checkpointKey(height int64) []byte {
	key := make([]byte, len("checkpoint:")+8)
	copy(key, "checkpoint:")
	binary.BigEndian.PutUint64(key[len("checkpoint:"):], uint64(height))
	return key
}

// badgerOptions mirrors the teacher's tuned defaults for an
// edge-device-sized embedded store: small value log, small memtable,
// small block cache.
func badgerOptions(path string) badger.Options {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.ValueLogFileSize = 16 << 20
	opts.MemTableSize = 8 << 20
	opts.BlockCacheSize = 1 << 20
	opts.NumVersionsToKeep = 1
	opts.VerifyValueChecksum = true
	opts.DetectConflicts = true
	return opts
}

// OpenCheckpointStore opens (creating if necessary) a badger-backed
// checkpoint store rooted at path.
func OpenCheckpointStore(path string) (CheckpointStore, error) {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return nil, fmt.Errorf("%w: creating checkpoint dir %s: %v", ErrStorage, path, err)
	}
	db, err := badger.Open(badgerOptions(path))
	if err != nil {
		return nil, fmt.Errorf("%w: opening checkpoint store at %s: %v", ErrStorage, path, err)
	}
	return &badgerCheckpointStore{db: db}, nil
}

// Close releases the underlying badger handle.
func (s *badgerCheckpointStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: closing checkpoint store: %v", ErrStorage, err)
	}
	return nil
}

// SaveCheckpoint writes cp under both its height key and the
// "latest" pointer, so LatestCheckpoint doesn't need a scan.
func (s *badgerCheckpointStore) SaveCheckpoint(cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("%w: marshaling checkpoint at height %d: %v", ErrStorage, cp.BlockHeight, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(checkpointKey(cp.BlockHeight), data); err != nil {
			return err
		}
		return txn.Set([]byte(latestCheckpointKey), data)
	})
	if err != nil {
		return fmt.Errorf("%w: saving checkpoint at height %d: %v", ErrStorage, cp.BlockHeight, err)
	}
	return nil
}

// LoadCheckpoint reads the checkpoint stored at height, if any.
func (s *badgerCheckpointStore) LoadCheckpoint(height int64) (Checkpoint, bool, error) {
	var cp Checkpoint
	var found bool

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(height))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("%w: loading checkpoint at height %d: %v", ErrStorage, height, err)
	}
	return cp, found, nil
}

// LatestCheckpoint returns the most recently saved checkpoint, if any.
func (s *badgerCheckpointStore) LatestCheckpoint() (Checkpoint, bool, error) {
	var cp Checkpoint
	var found bool

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(latestCheckpointKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("%w: loading latest checkpoint: %v", ErrStorage, err)
	}
	return cp, found, nil
}
