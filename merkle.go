package main

// MerkleProofStep is one sibling descriptor in an inclusion proof, ordered
// from the leaf upward. Position denotes where the sibling sits relative
// to the node being hashed up from.
type MerkleProofStep struct {
	Hash     string `json:"hash"`
	Position string `json:"position"` // "left" or "right"
}

const (
	posLeft  = "left"
	posRight = "right"
)

// merkleTree is a balanced-by-duplication binary tree over leaf hashes,
// stored level by level so proofs and root can both be read off cheaply.
// Levels[0] is the leaves; the last level holds exactly one hash, the
// root. Built once per Block and never mutated.
type merkleTree struct {
	levels [][]string
}

// buildMerkleTree hashes txs into leaves (SHA-256 of each transaction's
// canonical JSON) and folds them up level by level, duplicating the
// rightmost node whenever a level has an odd count.
func buildMerkleTree(txs []Transaction) (*merkleTree, error) {
	if len(txs) == 0 {
		return &merkleTree{levels: [][]string{{zeroHash}}}, nil
	}

	leaves := make([]string, len(txs))
	for i, tx := range txs {
		h, err := tx.CanonicalHash()
		if err != nil {
			return nil, err
		}
		leaves[i] = h
	}

	levels := [][]string{leaves}
	current := leaves
	for len(current) > 1 {
		next := make([]string, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			left := current[i]
			right := left
			if i+1 < len(current) {
				right = current[i+1]
			}
			next = append(next, HashBytes([]byte(left+right)))
		}
		levels = append(levels, next)
		current = next
	}

	return &merkleTree{levels: levels}, nil
}

// Root returns the hex-encoded root hash.
func (t *merkleTree) Root() string {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Proof returns the sibling path for leaf index i, ordered leaf-to-root.
// Returns nil if i is out of range or the tree is the empty-set sentinel.
func (t *merkleTree) Proof(i int) []MerkleProofStep {
	if len(t.levels) == 1 && len(t.levels[0]) == 1 && t.levels[0][0] == zeroHash {
		return nil
	}
	if i < 0 || i >= len(t.levels[0]) {
		return nil
	}

	var steps []MerkleProofStep
	idx := i
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		var siblingIdx int
		var position string
		if idx%2 == 0 {
			siblingIdx = idx + 1
			if siblingIdx >= len(nodes) {
				siblingIdx = idx // odd tail duplicated with itself
			}
			position = posRight
		} else {
			siblingIdx = idx - 1
			position = posLeft
		}
		steps = append(steps, MerkleProofStep{Hash: nodes[siblingIdx], Position: position})
		idx /= 2
	}
	return steps
}

// VerifyMerkleProof recomputes the leaf hash of tx, folds it up through
// proof in order, and compares against root.
func VerifyMerkleProof(tx Transaction, proof []MerkleProofStep, root string) bool {
	h, err := tx.CanonicalHash()
	if err != nil {
		return false
	}
	for _, step := range proof {
		if step.Position == posLeft {
			h = HashBytes([]byte(step.Hash + h))
		} else {
			h = HashBytes([]byte(h + step.Hash))
		}
	}
	return h == root
}

// MerkleRoot builds the tree over txs and returns the root hash.
func MerkleRoot(txs []Transaction) (string, error) {
	t, err := buildMerkleTree(txs)
	if err != nil {
		return "", err
	}
	return t.Root(), nil
}

// MerkleProof builds the tree over txs and returns the inclusion proof
// for the i-th transaction.
func MerkleProof(txs []Transaction, i int) ([]MerkleProofStep, error) {
	t, err := buildMerkleTree(txs)
	if err != nil {
		return nil, err
	}
	return t.Proof(i), nil
}

// FindTxIndex returns the index of tx within txs by canonical-hash
// comparison, or -1 if not present.
func FindTxIndex(txs []Transaction, tx Transaction) int {
	target, err := tx.CanonicalHash()
	if err != nil {
		return -1
	}
	for i, candidate := range txs {
		h, err := candidate.CanonicalHash()
		if err == nil && h == target {
			return i
		}
	}
	return -1
}
