package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// PendingPool is the FIFO queue of transactions awaiting inclusion,
// shared between the proposer duty and the inbound transaction
// handler (§5 shared mutable state item b).
type PendingPool struct {
	mu  sync.Mutex
	txs []Transaction
}

func NewPendingPool() *PendingPool {
	return &PendingPool{}
}

// Add appends tx to the tail of the pool.
func (p *PendingPool) Add(tx Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txs = append(p.txs, tx)
}

// Take removes and returns up to n transactions from the head (FIFO).
func (p *PendingPool) Take(n int) []Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > len(p.txs) {
		n = len(p.txs)
	}
	taken := make([]Transaction, n)
	copy(taken, p.txs[:n])
	p.txs = p.txs[n:]
	return taken
}

// Len reports the number of pending transactions.
func (p *PendingPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}

// Node is the orchestrator (§4.6): it owns the DPoS engine, the
// persistent store, the liveness view, the pending pool, the pub/sub
// bus, and the three cooperative duties (heartbeat, proposer, sync)
// plus the inbound-message dispatcher. All cross-duty state is reached
// only through the members below, each independently guarded.
type Node struct {
	cfg NodeConfig

	store    Store
	dpos     *DPoS
	liveness *LivenessView
	pending  *PendingPool
	bus      Bus
	monitor  *EnergyMonitor
	peerClient *PeerClient
}

// NewNode wires together a fully-constructed orchestrator. Callers are
// responsible for having already run genesis bootstrap (EnsureGenesis)
// against store before calling Run.
func NewNode(cfg NodeConfig, store Store, dpos *DPoS, liveness *LivenessView, bus Bus) *Node {
	return &Node{
		cfg:        cfg,
		store:      store,
		dpos:       dpos,
		liveness:   liveness,
		pending:    NewPendingPool(),
		bus:        bus,
		monitor:    NewEnergyMonitor(cfg.metricsInterval()),
		peerClient: NewPeerClient(cfg.peerTimeout()),
	}
}

// EnsureGenesis seeds the store with the genesis block if the chain is
// currently empty. On a non-empty chain it leaves the store untouched and
// loads the DPoS validator set from the persisted genesis block's stake
// distribution plus initialStakes. Either way delegates are recomputed.
func EnsureGenesis(store Store, dpos *DPoS, initialStakes map[string]float64) error {
	length, err := store.ChainLength()
	if err != nil {
		return fmt.Errorf("checking chain length: %w", err)
	}
	if length > 0 {
		latest, found, err := store.LatestBlock()
		if err != nil {
			return fmt.Errorf("loading latest block: %w", err)
		}
		genesisBlock := latest
		if !found || genesisBlock.Index != 0 {
			genesisBlock, found, err = store.GetBlock(0)
			if err != nil {
				return fmt.Errorf("loading genesis block: %w", err)
			}
		}
		if found && genesisBlock.Index == 0 {
			if err := VerifyGenesisBlock(genesisBlock); err != nil {
				return err
			}
			recovered, err := GenesisStakes(genesisBlock)
			if err != nil {
				return fmt.Errorf("recovering stakes from genesis block: %w", err)
			}
			for id, stake := range recovered {
				dpos.AddValidator(id, stake)
			}
		}
		for id, stake := range initialStakes {
			dpos.AddValidator(id, stake)
		}
		dpos.RecomputeDelegates(true)
		return nil
	}

	genesis, err := BuildGenesisBlock(initialStakes)
	if err != nil {
		return fmt.Errorf("building genesis block: %w", err)
	}
	if err := store.SaveBlock(genesis); err != nil {
		return fmt.Errorf("persisting genesis block: %w", err)
	}
	for id, stake := range initialStakes {
		dpos.AddValidator(id, stake)
	}
	dpos.RecomputeDelegates(true)
	PrintSuccess("genesis block sealed: %s", genesis.Hash)
	return nil
}

// Run starts the three cooperative duties and the inbound subscriptions,
// blocking until ctx is cancelled. Each duty is isolated: a panic-free
// error inside one tick is logged and retried on the next tick; it
// never stops the other duties (§5 failure isolation).
func (n *Node) Run(ctx context.Context) error {
	if err := n.subscribeInbound(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		n.runHeartbeat(ctx)
	}()
	go func() {
		defer wg.Done()
		n.runProposer(ctx)
	}()
	go func() {
		defer wg.Done()
		n.runSync(ctx)
	}()

	wg.Wait()
	return nil
}

// runHeartbeat samples sensors, updates the local liveness entry,
// and publishes on the metrics topic every metrics_interval (§4.6).
func (n *Node) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.metricsInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.tick(ctx, "heartbeat", n.heartbeatOnce)
		}
	}
}

func (n *Node) heartbeatOnce() error {
	sample := n.monitor.Sample()
	now := time.Now()
	n.liveness.Touch(n.cfg.NodeID, now)

	length, err := n.store.ChainLength()
	if err != nil {
		return fmt.Errorf("%w: reading chain length: %v", ErrStorage, err)
	}

	current, _ := n.dpos.CurrentValidator(length - 1)

	payload := map[string]interface{}{
		"node_id":                    n.cfg.NodeID,
		"ts":                         float64(now.Unix()),
		"cpu_percent":                sample.CPUPercent,
		"memory_percent":             sample.MemoryPercent,
		"temperature":                sample.Temperature,
		"power_usage":                sample.PowerUsage,
		"block_count":                length,
		"pending_count":              n.pending.Len(),
		"current_stake":              n.dpos.Validators()[n.cfg.NodeID],
		"all_validators":             n.dpos.Validators(),
		"current_network_validator":  current,
	}

	if n.bus != nil {
		if err := n.bus.Publish(TopicMetrics, payload); err != nil {
			return err
		}
	}
	return nil
}

// runProposer attempts to seal a block roughly every second (§4.6).
func (n *Node) runProposer(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.tick(ctx, "proposer", n.proposeOnce)
		}
	}
}

func (n *Node) proposeOnce() error {
	latest, found, err := n.store.LatestBlock()
	if err != nil {
		return fmt.Errorf("%w: reading chain tail: %v", ErrStorage, err)
	}
	refIndex := int64(-1)
	var prevTimestamp float64
	var prevHash string = zeroHash
	if found {
		refIndex = latest.Index
		prevTimestamp = latest.Timestamp
		prevHash = latest.Hash
	}

	current, ok := n.dpos.CurrentValidator(refIndex)
	if !ok {
		return fmt.Errorf("%w: no live delegates, proposer yields", ErrLiveness)
	}
	if current != n.cfg.NodeID {
		return nil
	}

	sample := n.monitor.Sample()
	if ShouldThrottle(sample, n.cfg.Thresholds.CPUPercent, n.cfg.Thresholds.MemoryPercent, n.cfg.Thresholds.TemperatureC) {
		PrintProposer("yielding: health gate tripped (cpu=%.1f mem=%.1f temp=%.1f)", sample.CPUPercent, sample.MemoryPercent, sample.Temperature)
		return nil
	}

	if !n.dpos.IsTimeToPropose(prevTimestamp) {
		return nil
	}

	if n.pending.Len() == 0 {
		return nil
	}

	sealStart := time.Now()
	txs := n.pending.Take(10)

	block, err := NewBlock(refIndex+1, float64(time.Now().Unix()), txs, prevHash, n.cfg.NodeID, sample.ToEnergyMetrics())
	if err != nil {
		return fmt.Errorf("sealing new block: %w", err)
	}

	if err := n.store.SaveBlock(block); err != nil {
		// Put the transactions back: the append never happened.
		for _, tx := range txs {
			n.pending.Add(tx)
		}
		return fmt.Errorf("%w: persisting sealed block %d: %v", ErrStorage, block.Index, err)
	}

	if n.bus != nil {
		if err := n.bus.Publish(TopicBlocks, block.ToWire()); err != nil {
			PrintWarning("broadcasting block %d failed: %v", block.Index, err)
		}
	}

	if err := n.dpos.Checkpoint(block.Index); err != nil {
		PrintWarning("checkpoint at height %d failed: %v", block.Index, err)
	}

	if err := n.store.SaveBlockMetrics(BlockMetrics{
		BlockIndex:    block.Index,
		CreatedAt:     block.Timestamp,
		Interval:      block.Timestamp - prevTimestamp,
		ConsensusTime: time.Since(sealStart).Seconds(),
		PowerUsage:    sample.PowerUsage,
	}); err != nil {
		PrintWarning("recording analytics for block %d failed: %v", block.Index, err)
	}

	PrintProposer("sealed block %d with %d transactions", block.Index, len(txs))
	return nil
}

// runSync catches up with every configured peer every sync_interval
// (§4.6, §4.7).
func (n *Node) runSync(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.syncInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.tick(ctx, "sync", n.syncOnce)
		}
	}
}

func (n *Node) syncOnce() error {
	for _, peer := range n.cfg.Peers {
		if peer.ID == n.cfg.NodeID {
			continue
		}
		sample := n.monitor.Sample()
		appended, err := SyncWithPeer(n.peerClient, peer.PeerBaseURL(), n.store, n.dpos, 0, func() float64 { return sample.PowerUsage })
		if err != nil {
			PrintWarning("sync with peer %s failed: %v", peer.ID, err)
			continue
		}
		if appended > 0 {
			PrintSync("caught up %d block(s) from peer %s", appended, peer.ID)
		}
	}
	return nil
}

// tick runs fn once, logging (never propagating) any error so one
// duty's failure can't take down the others (§5 failure isolation).
func (n *Node) tick(ctx context.Context, duty string, fn func() error) {
	if err := fn(); err != nil {
		PrintWarning("%s duty: %v", duty, err)
	}
}

// subscribeInbound wires the five inbound message handlers (§4.6).
func (n *Node) subscribeInbound() error {
	if n.bus == nil {
		return nil
	}
	if err := n.bus.Subscribe(TopicBlocks, n.handleBlockReceived); err != nil {
		return fmt.Errorf("%w: subscribing to %s: %v", ErrTransport, TopicBlocks, err)
	}
	if err := n.bus.Subscribe(TopicTransactions, n.handleTransactionReceived); err != nil {
		return fmt.Errorf("%w: subscribing to %s: %v", ErrTransport, TopicTransactions, err)
	}
	if err := n.bus.Subscribe(TopicMetrics, n.handleMetricsReceived); err != nil {
		return fmt.Errorf("%w: subscribing to %s: %v", ErrTransport, TopicMetrics, err)
	}
	if err := n.bus.Subscribe(TopicValidatorStatus, n.handleValidatorStatusReceived); err != nil {
		return fmt.Errorf("%w: subscribing to %s: %v", ErrTransport, TopicValidatorStatus, err)
	}
	if err := n.bus.Subscribe(TopicNetworkStatus, n.handleNetworkStatusReceived); err != nil {
		return fmt.Errorf("%w: subscribing to %s: %v", ErrTransport, TopicNetworkStatus, err)
	}
	return nil
}

// handleBlockReceived implements the Block-received inbound handler
// (§4.6): validate Merkle integrity while decoding, dedupe by hash, then
// check previous_hash continuity and DPoS rules, and append+persist on
// success.
func (n *Node) handleBlockReceived(env Envelope) {
	var wire Block
	if err := decodeEnvelopePayload(env, &wire); err != nil {
		PrintWarning("dropping malformed block envelope: %v", err)
		return
	}

	block, err := BlockFromWire(wire)
	if err != nil {
		PrintWarning("dropping block %d: %v", wire.Index, err)
		return
	}

	if existing, found, _ := n.store.GetBlock(block.Index); found && existing.Hash == block.Hash {
		return // already have it
	}

	latest, found, err := n.store.LatestBlock()
	if err != nil {
		PrintWarning("reading tail while validating block %d: %v", block.Index, err)
		return
	}
	var prevIndex int64 = -1
	var prevTimestamp float64
	prevHash := zeroHash
	if found {
		prevIndex = latest.Index
		prevTimestamp = latest.Timestamp
		prevHash = latest.Hash
	}

	if block.PreviousHash != prevHash {
		PrintWarning("rejecting block %d: previous_hash mismatch", block.Index)
		return
	}

	sample := n.monitor.Sample()
	if err := n.dpos.ValidateBlock(block, sample.PowerUsage, prevTimestamp, prevIndex); err != nil {
		PrintWarning("rejecting block %d: %v", block.Index, err)
		return
	}

	if err := n.store.SaveBlock(block); err != nil {
		PrintError("persisting received block %d: %v", block.Index, err)
		return
	}
	if err := n.dpos.Checkpoint(block.Index); err != nil {
		PrintWarning("checkpoint at height %d failed: %v", block.Index, err)
	}
}

// handleTransactionReceived appends to the pending pool and records the
// received timestamp under the transaction's canonical hash.
func (n *Node) handleTransactionReceived(env Envelope) {
	tx, err := DecodeTransaction(env.Payload)
	if err != nil {
		PrintWarning("dropping malformed transaction envelope: %v", err)
		return
	}

	hash, err := tx.CanonicalHash()
	if err != nil {
		PrintWarning("dropping transaction with unhashable structure: %v", err)
		return
	}

	n.pending.Add(tx)
	if err := n.store.RecordTxReceived(hash, float64(time.Now().Unix())); err != nil {
		PrintWarning("recording receipt of transaction %s: %v", hash, err)
	}
}

// handleMetricsReceived updates the liveness view for the source node
// and appends the metrics record itself as a pending "metrics"
// transaction, per §4.6.
func (n *Node) handleMetricsReceived(env Envelope) {
	var metrics map[string]interface{}
	if err := decodeEnvelopePayload(env, &metrics); err != nil {
		PrintWarning("dropping malformed metrics envelope: %v", err)
		return
	}

	nodeID, _ := metrics["node_id"].(string)
	if nodeID == "" {
		return
	}
	n.liveness.Touch(nodeID, time.Now())

	metricsTx := Transaction(metrics)
	metricsTx["type"] = "metrics"
	n.pending.Add(metricsTx)
}

// handleValidatorStatusReceived upserts validators from the announced
// set.
func (n *Node) handleValidatorStatusReceived(env Envelope) {
	var announced map[string]float64
	if err := decodeEnvelopePayload(env, &announced); err != nil {
		PrintWarning("dropping malformed validator status envelope: %v", err)
		return
	}
	for id, stake := range announced {
		n.dpos.AddValidator(id, stake)
	}
	n.dpos.RecomputeDelegates(true)
}

// handleNetworkStatusReceived applies a network-load hint to the block
// time adjuster.
func (n *Node) handleNetworkStatusReceived(env Envelope) {
	var status struct {
		Load float64 `json:"load"`
	}
	if err := decodeEnvelopePayload(env, &status); err != nil {
		PrintWarning("dropping malformed network status envelope: %v", err)
		return
	}
	n.dpos.AdjustBlockTime(status.Load)
}

func decodeEnvelopePayload(env Envelope, out interface{}) error {
	return json.Unmarshal(env.Payload, out)
}
