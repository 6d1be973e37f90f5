package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
)

// leafHashes builds n distinct fake segment hashes.
func leafHashes(n int) []string {
	hashes := make([]string, n)
	for i := range hashes {
		sum := sha256.Sum256([]byte(fmt.Sprintf("segment-%d", i)))
		hashes[i] = hex.EncodeToString(sum[:])
	}
	return hashes
}

func TestBuildMerkleRoot_Empty(t *testing.T) {
	if root := BuildMerkleRoot(nil); root != "" {
		t.Errorf("empty input: want \"\", got %q", root)
	}
}

func TestBuildMerkleRoot_SingleIsItsOwnRoot(t *testing.T) {
	h := leafHashes(1)
	if root := BuildMerkleRoot(h); root != h[0] {
		t.Errorf("single leaf: want %q, got %q", h[0], root)
	}
}

func TestBuildMerkleRoot_PairMath(t *testing.T) {
	h := leafHashes(2)
	want := hashPair(h[0], h[1])
	if root := BuildMerkleRoot(h); root != want {
		t.Errorf("pair: want %q, got %q", want, root)
	}
}

func TestBuildMerkleRoot_OddDuplicatesLast(t *testing.T) {
	h := leafHashes(3)
	want := hashPair(hashPair(h[0], h[1]), hashPair(h[2], h[2]))
	if root := BuildMerkleRoot(h); root != want {
		t.Errorf("odd layer: want %q, got %q", want, root)
	}
}

func TestBuildMerkleRoot_DeterministicAndOrderSensitive(t *testing.T) {
	h := leafHashes(5)
	root := BuildMerkleRoot(h)
	if again := BuildMerkleRoot(h); again != root {
		t.Errorf("not deterministic: %q vs %q", root, again)
	}

	swapped := append([]string(nil), h...)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	if BuildMerkleRoot(swapped) == root {
		t.Error("reordering leaves must change the root")
	}
}

func TestBuildMerkleRoot_DoesNotMutateInput(t *testing.T) {
	h := leafHashes(3)
	orig := append([]string(nil), h...)
	BuildMerkleRoot(h)
	if len(h) != len(orig) {
		t.Fatalf("input length changed: %d", len(h))
	}
	for i := range h {
		if h[i] != orig[i] {
			t.Errorf("input[%d] mutated", i)
		}
	}
}

func TestBuildProof_VerifiesForEveryLeaf(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 8, 13} {
		h := leafHashes(n)
		root := BuildMerkleRoot(h)
		for i := 0; i < n; i++ {
			proof, err := BuildProof(h, i)
			if err != nil {
				t.Fatalf("n=%d BuildProof(%d): %v", n, i, err)
			}
			if !VerifyProof(h[i], proof, root) {
				t.Errorf("n=%d leaf %d: proof did not verify", n, i)
			}
		}
	}
}

func TestBuildProof_IndexOutOfRange(t *testing.T) {
	h := leafHashes(4)
	for _, idx := range []int{-1, 4, 100} {
		if _, err := BuildProof(h, idx); err == nil {
			t.Errorf("index %d: expected error", idx)
		}
	}
}

func TestVerifyProof_RejectsTampering(t *testing.T) {
	h := leafHashes(6)
	root := BuildMerkleRoot(h)
	proof, err := BuildProof(h, 2)
	if err != nil {
		t.Fatalf("BuildProof: %v", err)
	}

	if VerifyProof(h[3], proof, root) {
		t.Error("wrong leaf must not verify")
	}
	if VerifyProof(h[2], proof, BuildMerkleRoot(leafHashes(5))) {
		t.Error("wrong root must not verify")
	}

	flipped := append([]ProofStep(nil), proof...)
	flipped[0].Left = !flipped[0].Left
	if VerifyProof(h[2], flipped, root) {
		t.Error("flipped sibling position must not verify")
	}
}

func TestVerifyProof_SingleLeafEmptyProof(t *testing.T) {
	h := leafHashes(1)
	proof, err := BuildProof(h, 0)
	if err != nil {
		t.Fatalf("BuildProof: %v", err)
	}
	if len(proof) != 0 {
		t.Errorf("single leaf proof: want empty, got %d steps", len(proof))
	}
	if !VerifyProof(h[0], proof, h[0]) {
		t.Error("single leaf must verify against itself")
	}
}
