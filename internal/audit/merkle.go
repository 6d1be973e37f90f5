// Package audit maintains tamper-evident anchors over transcript segment
// hashes. Every interval the anchorer folds the hashes of newly persisted
// segments into a Merkle root and appends it to an INSERT-only table; the
// verifier later recomputes roots and per-segment proofs to detect changes.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// hashPair combines two hex-encoded hashes into their parent node.
func hashPair(left, right string) string {
	sum := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(sum[:])
}

// BuildMerkleRoot folds an ordered list of segment hashes into a single root.
// A single hash is its own root. Layers with an odd node count duplicate the
// last node. An empty input yields "".
func BuildMerkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}
	layer := append([]string(nil), hashes...)
	for len(layer) > 1 {
		if len(layer)%2 == 1 {
			layer = append(layer, layer[len(layer)-1])
		}
		next := make([]string, 0, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			next = append(next, hashPair(layer[i], layer[i+1]))
		}
		layer = next
	}
	return layer[0]
}

// ProofStep is one sibling on the path from a leaf to the root. Left reports
// whether the sibling sits left of the running hash.
type ProofStep struct {
	Hash string
	Left bool
}

// BuildProof returns the inclusion proof for the leaf at index.
func BuildProof(hashes []string, index int) ([]ProofStep, error) {
	if index < 0 || index >= len(hashes) {
		return nil, fmt.Errorf("audit: proof index %d out of range [0,%d)", index, len(hashes))
	}
	var proof []ProofStep
	layer := append([]string(nil), hashes...)
	idx := index
	for len(layer) > 1 {
		if len(layer)%2 == 1 {
			layer = append(layer, layer[len(layer)-1])
		}
		sibling := idx ^ 1
		proof = append(proof, ProofStep{Hash: layer[sibling], Left: sibling < idx})

		next := make([]string, 0, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			next = append(next, hashPair(layer[i], layer[i+1]))
		}
		layer = next
		idx /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the root from a leaf and its proof and compares it
// to the expected root.
func VerifyProof(leaf string, proof []ProofStep, root string) bool {
	h := leaf
	for _, step := range proof {
		if step.Left {
			h = hashPair(step.Hash, h)
		} else {
			h = hashPair(h, step.Hash)
		}
	}
	return h == root
}
