package main

import (
	"net/http/httptest"
	"testing"
	"time"
)

func newTestPeerServer(t *testing.T, store Store) *httptest.Server {
	t.Helper()
	router := NewAPIServer(store)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchBlocksFromDecodesAndValidates(t *testing.T) {
	peerStore := openTestStore(t)
	for i := int64(0); i < 3; i++ {
		b, err := NewBlock(i, 1000.0+float64(i), nil, zeroHash, "node-1", nil)
		if err != nil {
			t.Fatalf("NewBlock(%d): %v", i, err)
		}
		if err := peerStore.SaveBlock(b); err != nil {
			t.Fatalf("SaveBlock(%d): %v", i, err)
		}
	}

	srv := newTestPeerServer(t, peerStore)
	client := NewPeerClient(time.Second)

	blocks, err := client.FetchBlocksFrom(srv.URL, 0)
	if err != nil {
		t.Fatalf("FetchBlocksFrom: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	for i, b := range blocks {
		if b.Index != int64(i) {
			t.Fatalf("blocks[%d].Index = %d, want %d", i, b.Index, i)
		}
	}
}

func TestFetchBlocksFromUnreachablePeer(t *testing.T) {
	client := NewPeerClient(100 * time.Millisecond)
	_, err := client.FetchBlocksFrom("http://127.0.0.1:1", 0)
	if err == nil {
		t.Fatalf("expected an error fetching from an unreachable peer")
	}
}

func TestSyncWithPeerAppendsValidBlocks(t *testing.T) {
	now := time.Now()
	peerStore := openTestStore(t)
	localStore := openTestStore(t)

	genesis, err := BuildGenesisBlock(map[string]float64{"node-1": 10})
	if err != nil {
		t.Fatalf("BuildGenesisBlock: %v", err)
	}
	if err := peerStore.SaveBlock(genesis); err != nil {
		t.Fatalf("peerStore.SaveBlock(genesis): %v", err)
	}
	if err := localStore.SaveBlock(genesis); err != nil {
		t.Fatalf("localStore.SaveBlock(genesis): %v", err)
	}

	next, err := NewBlock(1, GenesisTimestamp+10, nil, genesis.Hash, "node-1", nil)
	if err != nil {
		t.Fatalf("NewBlock(1): %v", err)
	}
	if err := peerStore.SaveBlock(next); err != nil {
		t.Fatalf("peerStore.SaveBlock(1): %v", err)
	}

	srv := newTestPeerServer(t, peerStore)
	client := NewPeerClient(time.Second)

	liveness := NewLivenessView()
	dpos := NewDPoS(liveness, newFakeCheckpointStore())
	dpos.now = func() time.Time { return now }
	dpos.AddValidator("node-1", 10)
	dpos.RecomputeDelegates(true)

	appended, err := SyncWithPeer(client, srv.URL, localStore, dpos, 3600, func() float64 { return 0 })
	if err != nil {
		t.Fatalf("SyncWithPeer: %v", err)
	}
	if appended != 1 {
		t.Fatalf("appended = %d, want 1", appended)
	}

	length, err := localStore.ChainLength()
	if err != nil {
		t.Fatalf("ChainLength: %v", err)
	}
	if length != 2 {
		t.Fatalf("local ChainLength = %d, want 2 after sync", length)
	}
}

func TestSyncWithPeerStopsOnPreviousHashMismatch(t *testing.T) {
	now := time.Now()
	peerStore := openTestStore(t)
	localStore := openTestStore(t)

	genesis, err := BuildGenesisBlock(map[string]float64{"node-1": 10})
	if err != nil {
		t.Fatalf("BuildGenesisBlock: %v", err)
	}
	if err := localStore.SaveBlock(genesis); err != nil {
		t.Fatalf("localStore.SaveBlock(genesis): %v", err)
	}
	if err := peerStore.SaveBlock(genesis); err != nil {
		t.Fatalf("peerStore.SaveBlock(genesis): %v", err)
	}

	// Peer's block 1 claims a previous_hash that doesn't match local's
	// genesis hash, simulating a forked or corrupted peer chain.
	forked, err := NewBlock(1, GenesisTimestamp+10, nil, "not-the-real-genesis-hash", "node-1", nil)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	if err := peerStore.SaveBlock(forked); err != nil {
		t.Fatalf("peerStore.SaveBlock(forked): %v", err)
	}

	srv := newTestPeerServer(t, peerStore)
	client := NewPeerClient(time.Second)

	liveness := NewLivenessView()
	dpos := NewDPoS(liveness, newFakeCheckpointStore())
	dpos.now = func() time.Time { return now }
	dpos.AddValidator("node-1", 10)
	dpos.RecomputeDelegates(true)

	appended, err := SyncWithPeer(client, srv.URL, localStore, dpos, 3600, func() float64 { return 0 })
	if err != nil {
		t.Fatalf("SyncWithPeer: %v", err)
	}
	if appended != 0 {
		t.Fatalf("appended = %d, want 0 (previous_hash mismatch should stop sync)", appended)
	}

	length, err := localStore.ChainLength()
	if err != nil {
		t.Fatalf("ChainLength: %v", err)
	}
	if length != 1 {
		t.Fatalf("local ChainLength = %d, want 1 (forked block must not be appended)", length)
	}
}
