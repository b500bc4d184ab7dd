package tree

import (
	"fmt"

	"github.com/aura-project/aura-core/idhash"
)

// LeafRole distinguishes devices from guardians; both are leaves, but
// ceremonies and recovery treat them differently.
type LeafRole uint8

const (
	RoleDevice LeafRole = iota
	RoleGuardian
)

func (r LeafRole) String() string {
	switch r {
	case RoleDevice:
		return "device"
	case RoleGuardian:
		return "guardian"
	default:
		return "unknown"
	}
}

// KeyPackage is the cryptographic identity carried by a leaf: an Ed25519
// public signing key, plus an optional encryption key for E2E messaging
// key agreement (consumed outside this package).
type KeyPackage struct {
	SigningKey    [32]byte
	EncryptionKey []byte // optional, nil if unset
}

// Leaf is a device or guardian leaf in the ratchet tree. Once assigned, a
// leaf's Index never changes, even across Tombstone.
type Leaf struct {
	Index      LeafIndex
	Role       LeafRole
	DeviceId   idhash.DeviceId   // zero unless Role == RoleDevice
	GuardianId idhash.GuardianId // zero unless Role == RoleGuardian
	PublicKey  KeyPackage
	Name       string
	Tombstoned bool
}

// Commitment computes BLAKE3(leaf_index || epoch || public_signing_key),
// the leaf-level binding used in root-path recomputation.
func (l Leaf) Commitment(epoch idhash.Epoch) Hash32 {
	return idhash.Sum(encodeU64(uint64(l.Index)), encodeU64(uint64(epoch)), l.PublicKey.SigningKey[:])
}

// Policy governs whether a set of participants authorizes an operation on
// a branch's subtree.
type Policy struct {
	Kind PolicyKind
	M, N int // only meaningful when Kind == PolicyThreshold
}

type PolicyKind uint8

const (
	PolicyAll PolicyKind = iota
	PolicyAny
	PolicyThreshold
)

// NewThresholdPolicy validates m/n and returns a Threshold(m, n) policy.
func NewThresholdPolicy(m, n int) (Policy, error) {
	if m <= 0 {
		return Policy{}, fmt.Errorf("tree: threshold m must be positive, got %d", m)
	}
	if m > n {
		return Policy{}, fmt.Errorf("tree: threshold m=%d must not exceed n=%d", m, n)
	}
	return Policy{Kind: PolicyThreshold, M: m, N: n}, nil
}

// RequiredParticipants returns the minimum participant count for this
// policy given the branch's total child count.
func (p Policy) RequiredParticipants(totalChildren int) int {
	switch p.Kind {
	case PolicyAll:
		return totalChildren
	case PolicyAny:
		return 1
	case PolicyThreshold:
		return p.M
	default:
		return totalChildren
	}
}

// IsSatisfied reports whether participants is enough to authorize an
// operation on a branch with totalChildren children.
func (p Policy) IsSatisfied(participants, totalChildren int) bool {
	return participants >= p.RequiredParticipants(totalChildren)
}

// Tag returns a stable byte used inside branch commitments so that
// changing a policy changes the commitment even if children don't.
func (p Policy) Tag() []byte {
	switch p.Kind {
	case PolicyAll:
		return []byte("policy:all")
	case PolicyAny:
		return []byte("policy:any")
	case PolicyThreshold:
		return []byte(fmt.Sprintf("policy:threshold:%d:%d", p.M, p.N))
	default:
		return []byte("policy:unknown")
	}
}

func (p Policy) String() string {
	switch p.Kind {
	case PolicyAll:
		return "All"
	case PolicyAny:
		return "Any"
	case PolicyThreshold:
		return fmt.Sprintf("Threshold(%d/%d)", p.M, p.N)
	default:
		return "Unknown"
	}
}

// Branch is an interior node carrying a policy and a commitment binding
// its policy and both children's commitments at the current epoch.
type Branch struct {
	Index      NodeIndex
	Policy     Policy
	Commitment Hash32
}

// ComputeBranchCommitment computes
// BLAKE3(node_index || epoch || policy_tag || left_commitment || right_commitment).
func ComputeBranchCommitment(idx NodeIndex, epoch idhash.Epoch, policy Policy, left, right Hash32) Hash32 {
	return idhash.Sum(
		encodeU64(uint64(idx)),
		encodeU64(uint64(epoch)),
		policy.Tag(),
		left[:],
		right[:],
	)
}

func encodeU64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(7-i)))
	}
	return b
}
