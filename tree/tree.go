package tree

import (
	"fmt"
	"sync"

	"github.com/aura-project/aura-core/aerrors"
	"github.com/aura-project/aura-core/idhash"
	"github.com/btcsuite/btclog"
)

// log is set via UseLogger, following the teacher's per-package logging
// convention (btclog.Logger, btclog.Disabled by default).
var log = btclog.Disabled

// UseLogger sets the package-level logger.
func UseLogger(logger btclog.Logger) { log = logger }

// Tree is a strictly left-balanced binary tree of device/guardian leaves.
// Per the DESIGN NOTES arena-and-indices rule, nodes are stored in flat,
// index-keyed maps rather than as owning pointers; parent/child/sibling
// relations are always recomputed from the index scheme, never stored.
type Tree struct {
	mu sync.RWMutex

	epoch     idhash.Epoch
	leaves    map[LeafIndex]*Leaf
	branches  map[NodeIndex]*Branch
	numLeaves int // count including tombstoned leaves; indices are never reused
	rootHash  Hash32
}

// New returns an empty tree at epoch 0.
func New() *Tree {
	return &Tree{
		leaves:   make(map[LeafIndex]*Leaf),
		branches: make(map[NodeIndex]*Branch),
	}
}

// Epoch returns the tree's current epoch.
func (t *Tree) Epoch() idhash.Epoch {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.epoch
}

// NumLeaves returns the number of leaf slots, including tombstoned ones.
func (t *Tree) NumLeaves() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.numLeaves
}

// Leaf returns a copy of the leaf at idx, if any.
func (t *Tree) Leaf(idx LeafIndex) (Leaf, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	l, ok := t.leaves[idx]
	if !ok {
		return Leaf{}, false
	}
	return *l, true
}

// AddLeaf places leaf at the leftmost free index, recomputes every branch
// commitment on its root-path, and increments the epoch.
func (t *Tree) AddLeaf(role LeafRole, deviceId idhash.DeviceId, guardianId idhash.GuardianId, pub KeyPackage, name string) (LeafIndex, idhash.Epoch) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := NextLeafIndex(t.numLeaves)
	t.numLeaves++
	t.epoch = t.epoch.Next()

	leaf := &Leaf{
		Index:      idx,
		Role:       role,
		DeviceId:   deviceId,
		GuardianId: guardianId,
		PublicKey:  pub,
		Name:       name,
	}
	t.leaves[idx] = leaf

	t.recomputePath(idx)
	log.Debugf("tree: added leaf %v (%s) at epoch %d", idx, role, t.epoch)
	return idx, t.epoch
}

// RemoveLeaf tombstones the leaf at idx (its index is never reused),
// recomputes the root-path, and increments the epoch.
func (t *Tree) RemoveLeaf(idx LeafIndex) (idhash.Epoch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	leaf, ok := t.leaves[idx]
	if !ok {
		return 0, aerrors.New(aerrors.CategoryData, aerrors.CodeTreeInvariant,
			fmt.Sprintf("no such leaf index %v", idx))
	}
	if leaf.Tombstoned {
		return t.epoch, nil // idempotent
	}
	leaf.Tombstoned = true
	t.epoch = t.epoch.Next()
	t.recomputePath(idx)
	log.Debugf("tree: removed leaf %v at epoch %d", idx, t.epoch)
	return t.epoch, nil
}

// recomputePath recomputes every branch commitment on leaf idx's
// root-path, bottom-up, using the current epoch. Caller must hold the
// write lock.
func (t *Tree) recomputePath(idx LeafIndex) {
	path := DirectPath(idx, t.numLeaves)
	for _, node := range path {
		left, _ := node.LeftChild()
		right, _ := node.RightChild()

		leftHash := t.subtreeCommitment(left)
		rightHash := t.subtreeCommitment(right)

		b, ok := t.branches[node]
		if !ok {
			b = &Branch{Index: node, Policy: Policy{Kind: PolicyAll}}
			t.branches[node] = b
		}
		b.Commitment = ComputeBranchCommitment(node, t.epoch, b.Policy, leftHash, rightHash)
	}
	root := RootIndex(t.numLeaves)
	t.rootHash = t.subtreeCommitment(root)
}

// subtreeCommitment returns the commitment hash for any node index,
// whether a leaf or a branch. Caller must hold at least the read lock.
func (t *Tree) subtreeCommitment(n NodeIndex) Hash32 {
	if n.IsLeaf() {
		li, _ := n.ToLeafIndex()
		leaf, ok := t.leaves[li]
		if !ok {
			// Blank leaf slot (not yet assigned, or beyond tree bounds):
			// commits to the zero hash so an unpopulated branch still has
			// a deterministic commitment.
			return Hash32{}
		}
		return leaf.Commitment(t.epoch)
	}
	b, ok := t.branches[n]
	if !ok {
		return Hash32{}
	}
	return b.Commitment
}

// RootCommitment returns the stored root commitment. The epoch parameter
// is accepted for API symmetry with spec §4.2 but the tree only retains
// its current root; historical roots are recovered from journal facts.
func (t *Tree) RootCommitment(epoch idhash.Epoch) (Hash32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if epoch != t.epoch {
		return Hash32{}, aerrors.New(aerrors.CategoryProtocol, aerrors.CodeEpochMismatch,
			fmt.Sprintf("requested epoch %d, tree is at %d", epoch, t.epoch))
	}
	return t.rootHash, nil
}

// Copath returns the node indices of the siblings along leafIndex's
// root-path, whose commitments prove membership without revealing the
// whole tree.
func (t *Tree) Copath(leafIndex LeafIndex) []NodeIndex {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Copath(leafIndex, t.numLeaves)
}

// Branch returns a copy of the branch at idx, if any.
func (t *Tree) Branch(idx NodeIndex) (Branch, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.branches[idx]
	if !ok {
		return Branch{}, false
	}
	return *b, true
}

// SetPolicy sets the policy of the branch at idx and recomputes its
// commitment (not a full path recompute — callers that change policy on
// an ancestor must still bump the epoch and recompute the path, mirroring
// AddLeaf/RemoveLeaf).
func (t *Tree) SetPolicy(idx NodeIndex, policy Policy) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx.IsLeaf() {
		return aerrors.New(aerrors.CategoryData, aerrors.CodeTreeInvariant, "cannot set policy on a leaf")
	}
	b, ok := t.branches[idx]
	if !ok {
		b = &Branch{Index: idx}
		t.branches[idx] = b
	}
	b.Policy = policy
	left, _ := idx.LeftChild()
	right, _ := idx.RightChild()
	b.Commitment = ComputeBranchCommitment(idx, t.epoch, policy, t.subtreeCommitment(left), t.subtreeCommitment(right))
	return nil
}

// Validate checks leaf-index contiguity (including tombstones), that
// every branch commitment equals the recomputed BLAKE3 digest of its
// policy and children, and that the stored root commitment matches.
func (t *Tree) Validate() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := 0; i < t.numLeaves; i++ {
		if _, ok := t.leaves[LeafIndex(i)]; !ok {
			return aerrors.New(aerrors.CategoryData, aerrors.CodeTreeInvariant,
				fmt.Sprintf("leaf index %d missing, indices must be contiguous", i))
		}
	}

	if t.numLeaves == 0 {
		return nil
	}

	root := RootIndex(t.numLeaves)
	recomputedRoot, err := t.validateNode(root)
	if err != nil {
		return err
	}
	if recomputedRoot != t.rootHash {
		return aerrors.New(aerrors.CategoryData, aerrors.CodeTreeInvariant,
			"stored root commitment does not match recomputed value")
	}
	return nil
}

func (t *Tree) validateNode(n NodeIndex) (Hash32, error) {
	if n.IsLeaf() {
		return t.subtreeCommitment(n), nil
	}
	b, ok := t.branches[n]
	if !ok {
		return Hash32{}, aerrors.New(aerrors.CategoryData, aerrors.CodeTreeInvariant,
			fmt.Sprintf("missing branch at %v", n))
	}
	left, _ := n.LeftChild()
	right, _ := n.RightChild()
	leftHash, err := t.validateNode(left)
	if err != nil {
		return Hash32{}, err
	}
	rightHash, err := t.validateNode(right)
	if err != nil {
		return Hash32{}, err
	}
	expected := ComputeBranchCommitment(n, t.epoch, b.Policy, leftHash, rightHash)
	if expected != b.Commitment {
		return Hash32{}, aerrors.New(aerrors.CategoryData, aerrors.CodeTreeInvariant,
			fmt.Sprintf("branch %v commitment mismatch", n))
	}
	return b.Commitment, nil
}

// Authorize reports whether the given set of participating leaf indices
// satisfies the policy of every branch on the path from root down that
// the participants cover, i.e. a recursive policy evaluation starting at
// the root. A leaf with no participants anywhere below it simply
// contributes 0 towards its ancestors' counts.
func (t *Tree) Authorize(participants map[LeafIndex]struct{}) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.numLeaves == 0 {
		return false
	}
	root := RootIndex(t.numLeaves)
	ok, _ := t.authorizeNode(root, participants)
	return ok
}

// authorizeNode returns whether the subtree rooted at n is authorized,
// and how many participants fall within it (so ancestors can count
// satisfied subtrees, not raw leaves, matching "recursively, each
// branch's policy is satisfied by the participant set").
func (t *Tree) authorizeNode(n NodeIndex, participants map[LeafIndex]struct{}) (bool, int) {
	if n.IsLeaf() {
		li, _ := n.ToLeafIndex()
		leaf, ok := t.leaves[li]
		if !ok || leaf.Tombstoned {
			return false, 0
		}
		if _, present := participants[li]; present {
			return true, 1
		}
		return false, 0
	}
	b, ok := t.branches[n]
	if !ok {
		return false, 0
	}
	left, _ := n.LeftChild()
	right, _ := n.RightChild()
	leftOK, leftCount := t.authorizeNode(left, participants)
	rightOK, rightCount := t.authorizeNode(right, participants)

	satisfiedChildren := 0
	if leftOK {
		satisfiedChildren++
	}
	if rightOK {
		satisfiedChildren++
	}
	authorized := b.Policy.IsSatisfied(satisfiedChildren, 2)
	total := leftCount + rightCount
	if authorized {
		return true, total
	}
	return false, total
}
