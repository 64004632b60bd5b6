package main

import "testing"

func TestMerkleRootEmpty(t *testing.T) {
	root, err := MerkleRoot(nil)
	if err != nil {
		t.Fatalf("MerkleRoot(nil): %v", err)
	}
	if root != zeroHash {
		t.Fatalf("empty root = %s, want %s", root, zeroHash)
	}
}

func TestMerkleSingleTx(t *testing.T) {
	tx := Transaction{"a": float64(1)}
	h, err := tx.CanonicalHash()
	if err != nil {
		t.Fatalf("CanonicalHash: %v", err)
	}

	root, err := MerkleRoot([]Transaction{tx})
	if err != nil {
		t.Fatalf("MerkleRoot: %v", err)
	}
	if root != h {
		t.Fatalf("single-tx root = %s, want leaf hash %s", root, h)
	}

	proof, err := MerkleProof([]Transaction{tx}, 0)
	if err != nil {
		t.Fatalf("MerkleProof: %v", err)
	}
	if len(proof) != 0 {
		t.Fatalf("single-tx proof should be empty, got %v", proof)
	}
	if !VerifyMerkleProof(tx, proof, root) {
		t.Fatalf("verify failed for single-tx proof")
	}
}

func TestMerkleFourTxProof(t *testing.T) {
	txs := []Transaction{
		{"i": float64(0)},
		{"i": float64(1)},
		{"i": float64(2)},
		{"i": float64(3)},
	}

	h1, err := txs[1].CanonicalHash()
	if err != nil {
		t.Fatalf("hash tx1: %v", err)
	}
	h2, err := txs[2].CanonicalHash()
	if err != nil {
		t.Fatalf("hash tx2: %v", err)
	}
	h3, err := txs[3].CanonicalHash()
	if err != nil {
		t.Fatalf("hash tx3: %v", err)
	}
	h23 := HashBytes([]byte(h2 + h3))

	root, err := MerkleRoot(txs)
	if err != nil {
		t.Fatalf("MerkleRoot: %v", err)
	}

	proof, err := MerkleProof(txs, 0)
	if err != nil {
		t.Fatalf("MerkleProof: %v", err)
	}
	if len(proof) != 2 {
		t.Fatalf("proof length = %d, want 2", len(proof))
	}
	if proof[0].Hash != h1 || proof[0].Position != posRight {
		t.Fatalf("proof[0] = %+v, want {%s right}", proof[0], h1)
	}
	if proof[1].Hash != h23 || proof[1].Position != posRight {
		t.Fatalf("proof[1] = %+v, want {%s right}", proof[1], h23)
	}

	if !VerifyMerkleProof(txs[0], proof, root) {
		t.Fatalf("verify failed for tx0's own proof")
	}
}

func TestMerkleProofRejectsWrongTransaction(t *testing.T) {
	txs := []Transaction{
		{"i": float64(0)},
		{"i": float64(1)},
		{"i": float64(2)},
		{"i": float64(3)},
	}
	root, err := MerkleRoot(txs)
	if err != nil {
		t.Fatalf("MerkleRoot: %v", err)
	}
	proof, err := MerkleProof(txs, 0)
	if err != nil {
		t.Fatalf("MerkleProof: %v", err)
	}

	other := Transaction{"i": float64(99)}
	if VerifyMerkleProof(other, proof, root) {
		t.Fatalf("verify should fail for a transaction not at the proven index")
	}
}

func TestMerkleOddCountDuplicatesTail(t *testing.T) {
	txs := []Transaction{
		{"i": float64(0)},
		{"i": float64(1)},
		{"i": float64(2)},
	}
	root, err := MerkleRoot(txs)
	if err != nil {
		t.Fatalf("MerkleRoot: %v", err)
	}
	for i := range txs {
		proof, err := MerkleProof(txs, i)
		if err != nil {
			t.Fatalf("MerkleProof(%d): %v", i, err)
		}
		if !VerifyMerkleProof(txs[i], proof, root) {
			t.Fatalf("verify failed for tx %d in odd-count tree", i)
		}
	}
}

func TestFindTxIndex(t *testing.T) {
	txs := []Transaction{{"i": float64(0)}, {"i": float64(1)}}
	if idx := FindTxIndex(txs, txs[1]); idx != 1 {
		t.Fatalf("FindTxIndex = %d, want 1", idx)
	}
	if idx := FindTxIndex(txs, Transaction{"i": float64(99)}); idx != -1 {
		t.Fatalf("FindTxIndex for absent tx = %d, want -1", idx)
	}
}
