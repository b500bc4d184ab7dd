// Package journal implements the durable, CRDT-merged, query-indexed fact
// store: the single source of truth for an authority's device/guardian
// roster, capabilities, and ceremony outcomes.
package journal

import (
	"fmt"

	"github.com/aura-project/aura-core/idhash"
)

// Kind tags a fact's type. Each kind has a fixed MergePolicy and a logical
// primary-key dimension.
type Kind string

const (
	KindDeviceEnrolled      Kind = "DeviceEnrolled"
	KindDeviceRemoved       Kind = "DeviceRemoved"
	KindGuardianBound       Kind = "GuardianBound"
	KindCapabilityGranted   Kind = "CapabilityGranted"
	KindCapabilityRevoked   Kind = "CapabilityRevoked"
	KindKeyRotated          Kind = "KeyRotated"
	KindChannelOpened       Kind = "ChannelOpened"
	KindCeremonyFinalized   Kind = "CeremonyFinalized"
	KindCeremonyAborted     Kind = "CeremonyAborted"
	KindDKGTranscript       Kind = "DKGTranscript"
	KindRecoveryRequested   Kind = "RecoveryRequested"
	KindGuardianApproval    Kind = "GuardianApproval"
	KindRecoveryCompleted   Kind = "RecoveryCompleted"
)

// Agreement tracks whether a fact is durably agreed upon.
type Agreement uint8

const (
	AgreementProvisional Agreement = iota
	AgreementFinalized
	AgreementSuperseded
)

func (a Agreement) String() string {
	switch a {
	case AgreementProvisional:
		return "Provisional"
	case AgreementFinalized:
		return "Finalized"
	case AgreementSuperseded:
		return "Superseded"
	default:
		return "Unknown"
	}
}

// PropagationState is the anti-entropy sync status of a fact. It is
// orthogonal to Agreement: a fact can be Local but Finalized (consensus
// reached, not yet synced), or Complete but Provisional (synced
// optimistically before consensus).
type PropagationState uint8

const (
	PropagationLocal PropagationState = iota
	PropagationSyncing
	PropagationComplete
	PropagationFailed
)

// Propagation carries the anti-entropy sync status plus the fields
// relevant to the current state (peers reached/known for Syncing, retry
// metadata for Failed).
type Propagation struct {
	State       PropagationState
	PeersReached uint16
	PeersKnown   uint16
	RetryAtMs    int64
	RetryCount   uint32
	Error        string
}

// Local returns the initial propagation status for a freshly appended fact.
func Local() Propagation { return Propagation{State: PropagationLocal} }

// Syncing returns a Syncing propagation status.
func Syncing(reached, known uint16) Propagation {
	return Propagation{State: PropagationSyncing, PeersReached: reached, PeersKnown: known}
}

// Complete returns a Complete propagation status.
func Complete() Propagation { return Propagation{State: PropagationComplete} }

// Failed returns a Failed propagation status with retry metadata.
func Failed(retryAtMs int64, retryCount uint32, err string) Propagation {
	return Propagation{State: PropagationFailed, RetryAtMs: retryAtMs, RetryCount: retryCount, Error: err}
}

// Progress returns sync progress in [0, 1]: 0 for Local, reached/known for
// Syncing, 1 for Complete, and 0 for Failed (a failure carries no positive
// progress signal).
func (p Propagation) Progress() float64 {
	switch p.State {
	case PropagationLocal, PropagationFailed:
		return 0
	case PropagationComplete:
		return 1
	case PropagationSyncing:
		if p.PeersKnown == 0 {
			return 0
		}
		return float64(p.PeersReached) / float64(p.PeersKnown)
	default:
		return 0
	}
}

// AdvanceSync updates Syncing progress, moving to Complete once every
// known peer has been reached. It is an error (caller bug, not a runtime
// condition) to call this on a Failed fact without first transitioning
// through Retry.
func (p Propagation) AdvanceSync(reached, known uint16) Propagation {
	if reached >= known && known > 0 {
		return Complete()
	}
	return Syncing(reached, known)
}

// Retry transitions a Failed propagation back to Syncing, the only
// Failed -> Syncing edge the progress() monotonicity invariant allows.
func (p Propagation) Retry(reached, known uint16) Propagation {
	return Syncing(reached, known)
}

func (p Propagation) String() string {
	switch p.State {
	case PropagationLocal:
		return "Local"
	case PropagationSyncing:
		return fmt.Sprintf("Syncing(%d/%d)", p.PeersReached, p.PeersKnown)
	case PropagationComplete:
		return "Complete"
	case PropagationFailed:
		return fmt.Sprintf("Failed(retry=%d, %s)", p.RetryCount, p.Error)
	default:
		return "Unknown"
	}
}

// PrimaryKey is the logical key a fact is unique on within its Kind (e.g.
// a DeviceId for DeviceEnrolled, a (ctx,peer) string for a flow-budget
// fact). It is opaque to the journal; each kind's payload type defines
// how it derives one.
type PrimaryKey string

// Fact is a single typed, signed, CRDT-mergeable journal entry.
type Fact struct {
	Kind        Kind
	PrimaryKey  PrimaryKey
	Payload     Payload
	Agreement   Agreement
	Propagation Propagation
	Authority   idhash.AuthorityId
	Epoch       idhash.Epoch
	Signature   [64]byte
}

// CID returns the content identifier for the fact: BLAKE3 over its kind,
// key, and payload bytes. Used by the anti-entropy sync digest.
func (f Fact) CID() idhash.Hash32 {
	return idhash.Sum([]byte(f.Kind), []byte(f.PrimaryKey), f.Payload.Bytes())
}

// Payload is the per-kind fact body. Each kind's concrete payload type
// implements this along with its MergePolicy.
type Payload interface {
	Bytes() []byte
	MergePolicy() MergePolicy
}
