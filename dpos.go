package main

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Default tunables, mirrored from the spec (§4.3). Block time and the
// liveness threshold are overridable through NodeConfig; the others are
// not read from configuration.
const (
	defaultMaxValidators          = 21
	defaultBlockTime              = 3 * time.Second
	defaultEnergyThreshold        = 5.0 // watts
	defaultLivenessThreshold      = 60 * time.Second
	defaultDelegateUpdateInterval = 300 * time.Second
	defaultCheckpointInterval     = 100
)

// Checkpoint is a snapshot of delegate/validator state captured every
// checkpointInterval blocks.
type Checkpoint struct {
	BlockHeight int64              `json:"block_height"`
	Delegates   []string           `json:"delegates"`
	Validators  map[string]float64 `json:"validators"`
	Timestamp   float64            `json:"timestamp"`
}

// CheckpointStore is the persistence contract DPoS uses to durably record
// and recover checkpoints. Implemented by checkpoint_store.go over badger.
type CheckpointStore interface {
	SaveCheckpoint(cp Checkpoint) error
	LoadCheckpoint(height int64) (Checkpoint, bool, error)
	LatestCheckpoint() (Checkpoint, bool, error)
	Close() error
}

// DPoS holds the validator roster, the derived delegate schedule, and the
// tunables that govern leader rotation and block admission. All mutable
// state is guarded by mu so the engine can be shared across the
// orchestrator's proposer, sync, and inbound-handler duties.
type DPoS struct {
	mu sync.RWMutex

	validators map[string]float64
	delegates  []string

	maxValidators          int
	blockTime              time.Duration
	energyThreshold        float64
	livenessThreshold      time.Duration
	delegateUpdateInterval time.Duration
	checkpointInterval     int64

	lastDelegateUpdate time.Time

	liveness *LivenessView
	cps      CheckpointStore

	now func() time.Time // overridable for tests
}

// NewDPoS constructs an engine with the spec's default tunables. liveness
// may be nil, in which case current_validator treats every delegate as
// live (§4.3 step 2).
func NewDPoS(liveness *LivenessView, cps CheckpointStore) *DPoS {
	return &DPoS{
		validators:             make(map[string]float64),
		maxValidators:          defaultMaxValidators,
		blockTime:              defaultBlockTime,
		energyThreshold:        defaultEnergyThreshold,
		livenessThreshold:      defaultLivenessThreshold,
		delegateUpdateInterval: defaultDelegateUpdateInterval,
		checkpointInterval:     defaultCheckpointInterval,
		liveness:               liveness,
		cps:                    cps,
		now:                    time.Now,
	}
}

// BlockTime returns the current block production interval.
func (d *DPoS) BlockTime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.blockTime
}

// AddValidator inserts or updates a validator's stake. Fails when the
// roster is already at maxValidators and id is new.
func (d *DPoS) AddValidator(id string, stake float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.validators[id]; !exists && len(d.validators) >= d.maxValidators {
		return false
	}
	d.validators[id] = stake
	return true
}

// RemoveValidator deletes a validator and forces a delegate
// recomputation.
func (d *DPoS) RemoveValidator(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.validators[id]; !exists {
		return false
	}
	delete(d.validators, id)
	d.recomputeDelegatesLocked(true)
	return true
}

// UpdateStake changes an existing validator's stake and forces a delegate
// recomputation. Returns false if id is unknown.
func (d *DPoS) UpdateStake(id string, newStake float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.validators[id]; !exists {
		return false
	}
	d.validators[id] = newStake
	d.recomputeDelegatesLocked(true)
	return true
}

// Validators returns a copy of the current id→stake roster.
func (d *DPoS) Validators() map[string]float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]float64, len(d.validators))
	for k, v := range d.validators {
		out[k] = v
	}
	return out
}

// Delegates returns a copy of the current delegate schedule.
func (d *DPoS) Delegates() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.delegates))
	copy(out, d.delegates)
	return out
}

// RecomputeDelegates sorts validators by (stake DESC, id ASC), truncates
// to maxValidators, and records the update time. A no-op if force is
// false and delegateUpdateInterval hasn't elapsed since the last update.
func (d *DPoS) RecomputeDelegates(force bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recomputeDelegatesLocked(force)
}

func (d *DPoS) recomputeDelegatesLocked(force bool) {
	if !force && d.now().Sub(d.lastDelegateUpdate) < d.delegateUpdateInterval {
		return
	}

	ids := make([]string, 0, len(d.validators))
	for id := range d.validators {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := d.validators[ids[i]], d.validators[ids[j]]
		if si != sj {
			return si > sj // stake DESC
		}
		return ids[i] < ids[j] // id ASC
	})
	if len(ids) > d.maxValidators {
		ids = ids[:d.maxValidators]
	}
	d.delegates = ids
	d.lastDelegateUpdate = d.now()
}

// CurrentValidator implements §4.3's deterministic leader selection:
// filter delegates to those live in the liveness view (or all of them if
// no liveness view is attached), sort the survivors ascending by id, and
// pick slot (refIndex+1) mod len(active). refIndex is the index of the
// last committed block, so the slot being computed is for the NEXT block.
// Returns "", false if there is no eligible delegate.
func (d *DPoS) CurrentValidator(refIndex int64) (string, bool) {
	d.mu.RLock()
	delegates := make([]string, len(d.delegates))
	copy(delegates, d.delegates)
	liveness := d.liveness
	d.mu.RUnlock()

	if len(delegates) == 0 {
		return "", false
	}

	var active []string
	if liveness == nil {
		active = delegates
	} else {
		now := d.now()
		for _, id := range delegates {
			if liveness.IsLive(id, now, d.livenessThresholdFor()) {
				active = append(active, id)
			}
		}
	}
	if len(active) == 0 {
		return "", false
	}

	sort.Strings(active)
	slot := ((refIndex + 1) % int64(len(active)) + int64(len(active))) % int64(len(active))
	return active[slot], true
}

func (d *DPoS) livenessThresholdFor() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.livenessThreshold
}

// IsTimeToPropose reports whether now has reached lastBlockTimestamp +
// blockTime.
func (d *DPoS) IsTimeToPropose(lastBlockTimestamp float64) bool {
	d.mu.RLock()
	blockTime := d.blockTime
	d.mu.RUnlock()
	nowSecs := float64(d.now().Unix())
	return nowSecs >= lastBlockTimestamp+blockTime.Seconds()
}

// ValidateBlock applies the full §4.3 rule set to an inbound block,
// including the strict freshness check. Used for gossip-received blocks,
// not for peer-sync catch-up (see ValidateForSync).
func (d *DPoS) ValidateBlock(b *Block, powerUsage, prevTimestamp float64, prevIndex int64) error {
	return d.validate(b, powerUsage, prevTimestamp, prevIndex, 0, true)
}

// ValidateForSync applies every §4.3 rule except the strict freshness
// check and the current-validator rule's non-relaxable failure mode: the
// schedule may have depended on a liveness view that has since moved on,
// so the "current validator" check is skipped, but Merkle integrity and
// chain continuity are never relaxed. syncTolerance allows peer-supplied
// timestamps to sit slightly below the local tail during catch-up.
func (d *DPoS) ValidateForSync(b *Block, powerUsage, prevTimestamp float64, prevIndex int64, syncTolerance float64) error {
	return d.validateRelaxed(b, powerUsage, prevTimestamp, prevIndex, syncTolerance)
}

func (d *DPoS) validate(b *Block, powerUsage, prevTimestamp float64, prevIndex int64, syncTolerance float64, strict bool) error {
	d.mu.RLock()
	delegates := make([]string, len(d.delegates))
	copy(delegates, d.delegates)
	blockTime := d.blockTime
	energyThreshold := d.energyThreshold
	d.mu.RUnlock()

	if !containsString(delegates, b.Validator) {
		return fmt.Errorf("%w: validator %q is not in the delegate set", ErrValidation, b.Validator)
	}

	current, ok := d.CurrentValidator(prevIndex)
	if !ok {
		return fmt.Errorf("%w: %v", ErrLiveness, "no live delegates available")
	}
	if b.Validator != current {
		return fmt.Errorf("%w: validator %q is not the current validator %q", ErrValidation, b.Validator, current)
	}

	if b.Timestamp <= prevTimestamp-syncTolerance {
		return fmt.Errorf("%w: block timestamp %v not strictly greater than previous %v (tolerance %v)", ErrValidation, b.Timestamp, prevTimestamp, syncTolerance)
	}
	if b.Index <= prevIndex {
		return fmt.Errorf("%w: block index %d not strictly greater than previous %d", ErrValidation, b.Index, prevIndex)
	}

	if strict {
		nowSecs := float64(d.now().Unix())
		drift := nowSecs - b.Timestamp
		if drift < 0 {
			drift = -drift
		}
		if drift > blockTime.Seconds() {
			return fmt.Errorf("%w: block timestamp %v too far from now %v", ErrValidation, b.Timestamp, nowSecs)
		}
	}

	if err := validateMerkleIntegrity(b); err != nil {
		return err
	}

	if powerUsage > energyThreshold {
		return fmt.Errorf("%w: power usage %vW exceeds threshold %vW", ErrValidation, powerUsage, energyThreshold)
	}

	return nil
}

func (d *DPoS) validateRelaxed(b *Block, powerUsage, prevTimestamp float64, prevIndex int64, syncTolerance float64) error {
	d.mu.RLock()
	delegates := make([]string, len(d.delegates))
	copy(delegates, d.delegates)
	energyThreshold := d.energyThreshold
	d.mu.RUnlock()

	if !containsString(delegates, b.Validator) {
		return fmt.Errorf("%w: validator %q is not in the delegate set", ErrValidation, b.Validator)
	}
	if b.Timestamp <= prevTimestamp-syncTolerance {
		return fmt.Errorf("%w: block timestamp %v not strictly greater than previous %v (tolerance %v)", ErrValidation, b.Timestamp, prevTimestamp, syncTolerance)
	}
	if b.Index <= prevIndex {
		return fmt.Errorf("%w: block index %d not strictly greater than previous %d", ErrValidation, b.Index, prevIndex)
	}
	if err := validateMerkleIntegrity(b); err != nil {
		return err
	}
	if powerUsage > energyThreshold {
		return fmt.Errorf("%w: power usage %vW exceeds threshold %vW", ErrValidation, powerUsage, energyThreshold)
	}
	return nil
}

func validateMerkleIntegrity(b *Block) error {
	if b.MerkleRoot == "" {
		return fmt.Errorf("%w: block %d has no merkle root", ErrValidation, b.Index)
	}
	rebuilt, err := MerkleRoot(b.Transactions)
	if err != nil {
		return fmt.Errorf("%w: rebuilding merkle tree for block %d: %v", ErrValidation, b.Index, err)
	}
	if rebuilt != b.MerkleRoot {
		return fmt.Errorf("%w: merkle root mismatch for block %d", ErrValidation, b.Index)
	}
	return nil
}

func containsString(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// AdjustBlockTime dynamically tunes block_time against network load.
func (d *DPoS) AdjustBlockTime(load float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case load > 0.8:
		d.blockTime -= 500 * time.Millisecond
		if d.blockTime < 1*time.Second {
			d.blockTime = 1 * time.Second
		}
	case load < 0.3:
		d.blockTime += 500 * time.Millisecond
		if d.blockTime > 5*time.Second {
			d.blockTime = 5 * time.Second
		}
	}
}

// Checkpoint snapshots delegates/validators if height is a multiple of
// the checkpoint interval, persisting it through the CheckpointStore.
func (d *DPoS) Checkpoint(height int64) error {
	d.mu.RLock()
	interval := d.checkpointInterval
	d.mu.RUnlock()

	if interval == 0 || height%interval != 0 {
		return nil
	}

	d.mu.RLock()
	cp := Checkpoint{
		BlockHeight: height,
		Delegates:   append([]string(nil), d.delegates...),
		Validators:  copyStakeMap(d.validators),
		Timestamp:   float64(d.now().Unix()),
	}
	d.mu.RUnlock()

	if d.cps == nil {
		return nil
	}
	if err := d.cps.SaveCheckpoint(cp); err != nil {
		return fmt.Errorf("%w: saving checkpoint at height %d: %v", ErrStorage, height, err)
	}
	return nil
}

// Restore replaces delegates and validators from the checkpoint stored
// at height. Returns false if no checkpoint exists there.
func (d *DPoS) Restore(height int64) (bool, error) {
	if d.cps == nil {
		return false, nil
	}
	cp, found, err := d.cps.LoadCheckpoint(height)
	if err != nil {
		return false, fmt.Errorf("%w: loading checkpoint at height %d: %v", ErrStorage, height, err)
	}
	if !found {
		return false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.delegates = append([]string(nil), cp.Delegates...)
	d.validators = copyStakeMap(cp.Validators)
	return true, nil
}

func copyStakeMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
