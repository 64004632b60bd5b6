package main

import (
	"errors"
	"testing"
	"time"
)

type fakeCheckpointStore struct {
	byHeight map[int64]Checkpoint
	latest   int64
	hasAny   bool
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{byHeight: make(map[int64]Checkpoint)}
}

func (f *fakeCheckpointStore) SaveCheckpoint(cp Checkpoint) error {
	f.byHeight[cp.BlockHeight] = cp
	if !f.hasAny || cp.BlockHeight > f.latest {
		f.latest = cp.BlockHeight
		f.hasAny = true
	}
	return nil
}

func (f *fakeCheckpointStore) LoadCheckpoint(height int64) (Checkpoint, bool, error) {
	cp, ok := f.byHeight[height]
	return cp, ok, nil
}

func (f *fakeCheckpointStore) LatestCheckpoint() (Checkpoint, bool, error) {
	if !f.hasAny {
		return Checkpoint{}, false, nil
	}
	return f.byHeight[f.latest], true, nil
}

func (f *fakeCheckpointStore) Close() error { return nil }

func newTestDPoS(fixedNow time.Time) (*DPoS, *LivenessView) {
	liveness := NewLivenessView()
	d := NewDPoS(liveness, newFakeCheckpointStore())
	d.now = func() time.Time { return fixedNow }
	return d, liveness
}

func TestRecomputeDelegatesOrdersByStakeThenID(t *testing.T) {
	now := time.Now()
	d, _ := newTestDPoS(now)

	d.AddValidator("b", 10)
	d.AddValidator("a", 10)
	d.AddValidator("c", 20)
	d.RecomputeDelegates(true)

	got := d.Delegates()
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("Delegates() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Delegates() = %v, want %v", got, want)
		}
	}
}

func TestRecomputeDelegatesTruncatesToMaxValidators(t *testing.T) {
	now := time.Now()
	d, _ := newTestDPoS(now)

	d.AddValidator("a", 1)
	d.AddValidator("b", 2)
	d.AddValidator("c", 3)
	d.maxValidators = 2
	d.RecomputeDelegates(true)

	got := d.Delegates()
	if len(got) != 2 {
		t.Fatalf("Delegates() length = %d, want 2", len(got))
	}
	if got[0] != "c" || got[1] != "b" {
		t.Fatalf("Delegates() = %v, want [c b]", got)
	}
}

func TestAddValidatorRejectsBeyondCapacityForNewID(t *testing.T) {
	now := time.Now()
	d, _ := newTestDPoS(now)
	d.maxValidators = 1

	if ok := d.AddValidator("a", 1); !ok {
		t.Fatalf("AddValidator(a) should have succeeded under capacity")
	}
	if ok := d.AddValidator("b", 1); ok {
		t.Fatalf("AddValidator(b) should have failed over capacity")
	}
	if ok := d.AddValidator("a", 5); !ok {
		t.Fatalf("updating an existing validator's stake should not be capacity-limited")
	}
}

func TestCurrentValidatorSlotFormula(t *testing.T) {
	now := time.Now()
	d, liveness := newTestDPoS(now)
	d.AddValidator("a", 1)
	d.AddValidator("b", 1)
	d.AddValidator("c", 1)
	d.RecomputeDelegates(true)
	liveness.Touch("a", now)
	liveness.Touch("b", now)
	liveness.Touch("c", now)

	// active sorted ascending: [a b c]; slot = (refIndex+1) mod 3
	cases := []struct {
		refIndex int64
		want     string
	}{
		{-1, "a"}, // (0) mod 3 = 0
		{0, "b"},  // (1) mod 3 = 1
		{1, "c"},  // (2) mod 3 = 2
		{2, "a"},  // (3) mod 3 = 0
	}
	for _, c := range cases {
		got, ok := d.CurrentValidator(c.refIndex)
		if !ok {
			t.Fatalf("CurrentValidator(%d): no validator found", c.refIndex)
		}
		if got != c.want {
			t.Fatalf("CurrentValidator(%d) = %s, want %s", c.refIndex, got, c.want)
		}
	}
}

func TestCurrentValidatorHandlesNegativeRefIndexBeyondMinusOne(t *testing.T) {
	now := time.Now()
	d, liveness := newTestDPoS(now)
	d.AddValidator("a", 1)
	d.AddValidator("b", 1)
	d.RecomputeDelegates(true)
	liveness.Touch("a", now)
	liveness.Touch("b", now)

	// slot = ((-2+1) mod 2 + 2) mod 2 = 1 -> "b"
	got, ok := d.CurrentValidator(-2)
	if !ok {
		t.Fatalf("CurrentValidator(-2): no validator found")
	}
	if got != "b" {
		t.Fatalf("CurrentValidator(-2) = %s, want b", got)
	}
}

func TestCurrentValidatorExcludesNonLiveDelegates(t *testing.T) {
	now := time.Now()
	d, liveness := newTestDPoS(now)
	d.AddValidator("a", 1)
	d.AddValidator("b", 1)
	d.RecomputeDelegates(true)

	liveness.Touch("a", now)
	// b never touched, so it's excluded from the active set. With both
	// live, refIndex 0 would pick slot 1 ("b"); with only a live it's "a".

	got, ok := d.CurrentValidator(0)
	if !ok {
		t.Fatalf("CurrentValidator(0): no validator found")
	}
	if got != "a" {
		t.Fatalf("CurrentValidator(0) = %s, want a (only live delegate)", got)
	}
}

func TestCurrentValidatorNoLiveDelegates(t *testing.T) {
	now := time.Now()
	d, _ := newTestDPoS(now)
	d.AddValidator("a", 1)
	d.RecomputeDelegates(true)
	// Never touched in the liveness view.

	_, ok := d.CurrentValidator(-1)
	if ok {
		t.Fatalf("expected no eligible delegate when none are live")
	}
}

func TestValidateBlockRejectsNonDelegateValidator(t *testing.T) {
	now := time.Now()
	d, liveness := newTestDPoS(now)
	d.AddValidator("a", 1)
	d.RecomputeDelegates(true)
	liveness.Touch("a", now)

	b, err := NewBlock(1, float64(now.Unix()), nil, zeroHash, "intruder", nil)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	err = d.ValidateBlock(b, 0, float64(now.Unix())-10, 0)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for non-delegate validator, got %v", err)
	}
}

func TestValidateBlockRejectsWrongCurrentValidator(t *testing.T) {
	now := time.Now()
	d, liveness := newTestDPoS(now)
	d.AddValidator("a", 1)
	d.AddValidator("b", 1)
	d.RecomputeDelegates(true)
	liveness.Touch("a", now)
	liveness.Touch("b", now)

	// refIndex=-1 -> current validator is "a"; produce a block from "b".
	b, err := NewBlock(0, float64(now.Unix()), nil, zeroHash, "b", nil)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	err = d.ValidateBlock(b, 0, float64(now.Unix())-10, -1)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for wrong current validator, got %v", err)
	}
}

func TestValidateBlockAcceptsCorrectValidator(t *testing.T) {
	now := time.Now()
	d, liveness := newTestDPoS(now)
	d.AddValidator("a", 1)
	d.RecomputeDelegates(true)
	liveness.Touch("a", now)

	b, err := NewBlock(0, float64(now.Unix()), nil, zeroHash, "a", nil)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	err = d.ValidateBlock(b, 0, float64(now.Unix())-10, -1)
	if err != nil {
		t.Fatalf("ValidateBlock rejected a well-formed block: %v", err)
	}
}

func TestValidateBlockRejectsExcessivePowerUsage(t *testing.T) {
	now := time.Now()
	d, liveness := newTestDPoS(now)
	d.AddValidator("a", 1)
	d.RecomputeDelegates(true)
	liveness.Touch("a", now)

	b, err := NewBlock(0, float64(now.Unix()), nil, zeroHash, "a", nil)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	err = d.ValidateBlock(b, d.energyThreshold+1, float64(now.Unix())-10, -1)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for excessive power usage, got %v", err)
	}
}

func TestValidateBlockRejectsNonIncreasingIndex(t *testing.T) {
	now := time.Now()
	d, liveness := newTestDPoS(now)
	d.AddValidator("a", 1)
	d.RecomputeDelegates(true)
	liveness.Touch("a", now)

	b, err := NewBlock(0, float64(now.Unix()), nil, zeroHash, "a", nil)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	err = d.ValidateBlock(b, 0, float64(now.Unix())-10, 0)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for non-increasing block index, got %v", err)
	}
}

func TestValidateForSyncSkipsCurrentValidatorCheck(t *testing.T) {
	now := time.Now()
	d, liveness := newTestDPoS(now)
	d.AddValidator("a", 1)
	d.AddValidator("b", 1)
	d.RecomputeDelegates(true)
	liveness.Touch("a", now)
	liveness.Touch("b", now)

	// "b" is not the current validator for refIndex=-1, but sync should
	// still accept it since it's a recognized delegate.
	b, err := NewBlock(0, float64(now.Unix()), nil, zeroHash, "b", nil)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	err = d.ValidateForSync(b, 0, float64(now.Unix())-10, -1, 0)
	if err != nil {
		t.Fatalf("ValidateForSync rejected a block from a recognized but non-current delegate: %v", err)
	}
}

func TestValidateForSyncStillRejectsNonDelegate(t *testing.T) {
	now := time.Now()
	d, liveness := newTestDPoS(now)
	d.AddValidator("a", 1)
	d.RecomputeDelegates(true)
	liveness.Touch("a", now)

	b, err := NewBlock(0, float64(now.Unix()), nil, zeroHash, "intruder", nil)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	err = d.ValidateForSync(b, 0, float64(now.Unix())-10, -1, 0)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for non-delegate validator during sync, got %v", err)
	}
}

func TestCheckpointAndRestoreRoundTrip(t *testing.T) {
	now := time.Now()
	d, _ := newTestDPoS(now)
	d.checkpointInterval = 10
	d.AddValidator("a", 5)
	d.AddValidator("b", 3)
	d.RecomputeDelegates(true)

	if err := d.Checkpoint(10); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	// Mutate state after checkpointing.
	d.AddValidator("c", 99)
	d.RecomputeDelegates(true)

	restored, err := d.Restore(10)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !restored {
		t.Fatalf("Restore reported no checkpoint found at height 10")
	}
	got := d.Delegates()
	if containsString(got, "c") {
		t.Fatalf("Restore did not roll back the post-checkpoint validator addition: %v", got)
	}
}

func TestCheckpointSkipsNonMultipleHeights(t *testing.T) {
	now := time.Now()
	d, _ := newTestDPoS(now)
	d.checkpointInterval = 10
	d.AddValidator("a", 5)
	d.RecomputeDelegates(true)

	if err := d.Checkpoint(7); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if _, found, err := d.cps.LoadCheckpoint(7); err != nil || found {
		t.Fatalf("expected no checkpoint saved at non-multiple height, found=%v err=%v", found, err)
	}
}

func TestAdjustBlockTimeClampsBounds(t *testing.T) {
	now := time.Now()
	d, _ := newTestDPoS(now)
	d.blockTime = 1 * time.Second
	d.AdjustBlockTime(0.9)
	if d.BlockTime() != 1*time.Second {
		t.Fatalf("BlockTime() = %v, want clamped at 1s floor", d.BlockTime())
	}

	d.blockTime = 5 * time.Second
	d.AdjustBlockTime(0.1)
	if d.BlockTime() != 5*time.Second {
		t.Fatalf("BlockTime() = %v, want clamped at 5s ceiling", d.BlockTime())
	}
}

func TestIsTimeToPropose(t *testing.T) {
	now := time.Unix(1000, 0)
	d, _ := newTestDPoS(now)
	d.blockTime = 3 * time.Second

	if d.IsTimeToPropose(998) {
		t.Fatalf("IsTimeToPropose(998) should be false: now=1000, blockTime=3s, threshold=1001")
	}
	if !d.IsTimeToPropose(997) {
		t.Fatalf("IsTimeToPropose(997) should be true: now=1000, blockTime=3s, threshold=1000")
	}
}
