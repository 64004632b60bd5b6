package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PeerClient fetches catch-up blocks from a single peer's HTTP surface
// (§4.7). All errors are the caller's to log; PeerClient never panics on
// a bad peer.
type PeerClient struct {
	httpClient *http.Client
}

// NewPeerClient builds a client with the configured peer-call timeout
// (default 10s per §5).
func NewPeerClient(timeout time.Duration) *PeerClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PeerClient{httpClient: &http.Client{Timeout: timeout}}
}

// FetchBlocksFrom requests {peerBaseURL}/blocks?start_index=start&end_index=-1
// and decodes the response into Block values, rebuilding and validating
// each one's Merkle tree before returning it — a block whose stored
// merkle_root doesn't match what BlockFromWire recomputes is dropped
// from the returned slice rather than failing the whole fetch.
func (c *PeerClient) FetchBlocksFrom(peerBaseURL string, start int64) ([]*Block, error) {
	url := fmt.Sprintf("%s/blocks?start_index=%d&end_index=-1", peerBaseURL, start)

	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("%w: requesting blocks from %s: %v", ErrTransport, peerBaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: peer %s returned 404", ErrTransport, peerBaseURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: peer %s returned status %d", ErrTransport, peerBaseURL, resp.StatusCode)
	}

	var wireBlocks []Block
	if err := json.NewDecoder(resp.Body).Decode(&wireBlocks); err != nil {
		return nil, fmt.Errorf("%w: decoding blocks from %s: %v", ErrTransport, peerBaseURL, err)
	}

	blocks := make([]*Block, 0, len(wireBlocks))
	for _, w := range wireBlocks {
		b, err := BlockFromWire(w)
		if err != nil {
			PrintWarning(fmt.Sprintf("dropping malformed block %d from peer %s: %v", w.Index, peerBaseURL, err))
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// SyncWithPeer implements the Sync duty's per-peer catch-up (§4.6,
// §4.7): fetch everything the peer has from the local tail onward,
// apply the relaxed continuity check block by block, appending and
// persisting each one that passes, and stopping at the first break.
// Returns the number of blocks appended.
func SyncWithPeer(client *PeerClient, peerBaseURL string, store Store, dpos *DPoS, syncTolerance float64, powerUsage func() float64) (int, error) {
	length, err := store.ChainLength()
	if err != nil {
		return 0, fmt.Errorf("reading local chain length: %w", err)
	}

	blocks, err := client.FetchBlocksFrom(peerBaseURL, length)
	if err != nil {
		return 0, err
	}

	appended := 0
	for _, b := range blocks {
		tail, found, err := store.LatestBlock()
		if err != nil {
			return appended, fmt.Errorf("reading local tail: %w", err)
		}

		var prevIndex int64 = -1
		var prevTimestamp float64
		var prevHash string
		if found {
			prevIndex = tail.Index
			prevTimestamp = tail.Timestamp
			prevHash = tail.Hash
		} else {
			prevHash = zeroHash
		}

		if b.PreviousHash != prevHash {
			PrintWarning(fmt.Sprintf("sync with %s stopped: block %d previous_hash mismatch", peerBaseURL, b.Index))
			break
		}

		if err := dpos.ValidateForSync(b, powerUsage(), prevTimestamp, prevIndex, syncTolerance); err != nil {
			PrintWarning(fmt.Sprintf("sync with %s stopped: block %d failed validation: %v", peerBaseURL, b.Index, err))
			break
		}

		if err := store.SaveBlock(b); err != nil {
			return appended, fmt.Errorf("persisting synced block %d: %w", b.Index, err)
		}
		if err := dpos.Checkpoint(b.Index); err != nil {
			PrintWarning(fmt.Sprintf("checkpoint at height %d failed: %v", b.Index, err))
		}
		appended++
	}

	return appended, nil
}
