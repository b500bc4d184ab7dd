// Package tree implements the ratchet tree: a strictly left-balanced
// binary tree of device/guardian leaves with per-epoch branch commitments,
// TreeKEM-style deterministic indexing, and policy-gated subtree
// operations (All / Any / Threshold(m,n)).
package tree

import (
	"fmt"

	"github.com/aura-project/aura-core/idhash"
)

// LeafIndex numbers leaves 0, 1, 2, ... in left-to-right insertion order.
// A leaf's index is never reused, even after removal (tombstoning).
type LeafIndex uint64

// NodeIndex addresses any node, leaf or branch, in the tree. Leaves sit at
// even indices (2*LeafIndex); branches sit at odd indices. This is the
// same TreeKEM-derived scheme MLS ratchet trees use.
type NodeIndex uint64

// ToNodeIndex returns the node index of leaf l: 2*l.
func (l LeafIndex) ToNodeIndex() NodeIndex { return NodeIndex(2 * l) }

// IsLeaf reports whether n addresses a leaf (even index).
func (n NodeIndex) IsLeaf() bool { return n%2 == 0 }

// IsBranch reports whether n addresses a branch (odd index).
func (n NodeIndex) IsBranch() bool { return n%2 == 1 }

// ToLeafIndex returns the LeafIndex for n if n is a leaf.
func (n NodeIndex) ToLeafIndex() (LeafIndex, bool) {
	if !n.IsLeaf() {
		return 0, false
	}
	return LeafIndex(n / 2), true
}

// RootIndex returns the node index of the root of a tree with numLeaves
// leaves: 2*(numLeaves-1)+1, or 0 for a single-leaf tree.
func RootIndex(numLeaves int) NodeIndex {
	if numLeaves <= 0 {
		panic("tree: cannot compute root index of an empty tree")
	}
	if numLeaves == 1 {
		return 0
	}
	return NodeIndex(2*(numLeaves-1) + 1)
}

// Parent returns the parent of n within a tree of numLeaves leaves, and
// false if n is already the root.
func (n NodeIndex) Parent(numLeaves int) (NodeIndex, bool) {
	if n >= RootIndex(numLeaves) {
		return 0, false
	}
	x := uint64(n)
	return NodeIndex(((x >> 1) | 1) << 1), true
}

// LeftChild returns the left child of branch n.
func (n NodeIndex) LeftChild() (NodeIndex, bool) {
	if n.IsLeaf() {
		return 0, false
	}
	return NodeIndex(uint64(n) ^ (uint64(n) & 1)), true
}

// RightChild returns the right child of branch n.
func (n NodeIndex) RightChild() (NodeIndex, bool) {
	if n.IsLeaf() {
		return 0, false
	}
	return NodeIndex(uint64(n) ^ 1), true
}

// Sibling returns the sibling of n: n XOR 1.
func (n NodeIndex) Sibling() NodeIndex {
	return NodeIndex(uint64(n) ^ 1)
}

// PathToRoot returns the indices from leaf to root inclusive.
func PathToRoot(leaf LeafIndex, numLeaves int) []NodeIndex {
	root := RootIndex(numLeaves)
	cur := leaf.ToNodeIndex()
	path := []NodeIndex{cur}
	for cur != root {
		p, ok := cur.Parent(numLeaves)
		if !ok {
			break
		}
		cur = p
		path = append(path, cur)
	}
	return path
}

// DirectPath returns the ancestors of leaf, excluding the leaf itself.
func DirectPath(leaf LeafIndex, numLeaves int) []NodeIndex {
	full := PathToRoot(leaf, numLeaves)
	if len(full) == 0 {
		return nil
	}
	return full[1:]
}

// Copath returns the sibling of every node on leaf's direct path: the
// minimal set of commitments needed to prove membership without revealing
// the whole tree.
func Copath(leaf LeafIndex, numLeaves int) []NodeIndex {
	direct := DirectPath(leaf, numLeaves)
	out := make([]NodeIndex, len(direct))
	for i, n := range direct {
		out[i] = n.Sibling()
	}
	return out
}

// NextLeafIndex returns the index the next leaf should occupy to keep the
// tree left-balanced.
func NextLeafIndex(numLeaves int) LeafIndex {
	return LeafIndex(numLeaves)
}

// String renders a NodeIndex for debugging.
func (n NodeIndex) String() string {
	if n.IsLeaf() {
		return fmt.Sprintf("N%d(leaf)", uint64(n))
	}
	return fmt.Sprintf("N%d(branch)", uint64(n))
}

// Hash32 aliases idhash.Hash32 so callers of this package rarely need to
// import idhash directly for commitment values.
type Hash32 = idhash.Hash32
