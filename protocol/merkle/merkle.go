// Package merkle implements a small sha256 Merkle accumulator used only by
// the circuit contracts layer to authenticate a CDP's membership in a
// state root at proof time. This is intentionally lighter than the
// teacher's full secure trie (core/state's trie.Trie): the circuit layer
// only needs inclusion proofs over a bounded per-block working set, not an
// authenticated on-disk state tree, so a simple sorted-leaf binary tree is
// sufficient and keeps proof generation independent of the storage
// backend.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"sort"
)

// Leaf is one (key, value) pair committed into the tree.
type Leaf struct {
	Key   []byte
	Value []byte
}

func leafHash(l Leaf) [32]byte {
	h := sha256.New()
	h.Write([]byte{0x00}) // leaf domain tag
	h.Write(l.Key)
	h.Write(l.Value)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func nodeHash(left, right [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{0x01}) // internal-node domain tag
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Proof is an inclusion proof: the leaf's sibling hashes from bottom to
// root, and whether each sibling is on the left.
type Proof struct {
	Leaf      Leaf
	Siblings  [][32]byte
	LeftSide  []bool
}

// Tree is a complete binary Merkle tree built from a sorted leaf set.
type Tree struct {
	leaves []Leaf
	layers [][][32]byte
}

// Build constructs a tree over leaves, sorted by key for determinism.
func Build(leaves []Leaf) *Tree {
	sorted := append([]Leaf(nil), leaves...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0 })

	layer := make([][32]byte, len(sorted))
	for i, l := range sorted {
		layer[i] = leafHash(l)
	}
	layers := [][][32]byte{layer}
	for len(layer) > 1 {
		next := make([][32]byte, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 < len(layer) {
				next = append(next, nodeHash(layer[i], layer[i+1]))
			} else {
				next = append(next, nodeHash(layer[i], layer[i])) // duplicate last odd leaf
			}
		}
		layers = append(layers, next)
		layer = next
	}
	return &Tree{leaves: sorted, layers: layers}
}

// Leaves returns the tree's leaves in the sorted order they were committed
// in, so a caller can locate a given key's index before calling Prove.
func (t *Tree) Leaves() []Leaf { return t.leaves }

// Root returns the tree's root hash, or the zero hash for an empty tree.
func (t *Tree) Root() [32]byte {
	if len(t.layers) == 0 || len(t.layers[len(t.layers)-1]) == 0 {
		return [32]byte{}
	}
	return t.layers[len(t.layers)-1][0]
}

// Prove returns an inclusion proof for the leaf at index, or false if out
// of range.
func (t *Tree) Prove(index int) (Proof, bool) {
	if index < 0 || index >= len(t.leaves) {
		return Proof{}, false
	}
	proof := Proof{Leaf: t.leaves[index]}
	idx := index
	for _, layer := range t.layers[:len(t.layers)-1] {
		var sibling [32]byte
		isLeft := idx%2 == 1
		if isLeft {
			sibling = layer[idx-1]
		} else if idx+1 < len(layer) {
			sibling = layer[idx+1]
		} else {
			sibling = layer[idx] // duplicated odd leaf
		}
		proof.Siblings = append(proof.Siblings, sibling)
		proof.LeftSide = append(proof.LeftSide, isLeft)
		idx /= 2
	}
	return proof, true
}

// Verify recomputes the root from a proof and reports whether it matches
// root.
func Verify(root [32]byte, proof Proof) bool {
	cur := leafHash(proof.Leaf)
	for i, sibling := range proof.Siblings {
		if proof.LeftSide[i] {
			cur = nodeHash(sibling, cur)
		} else {
			cur = nodeHash(cur, sibling)
		}
	}
	return cur == root
}
