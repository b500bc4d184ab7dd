// Package recovery implements the social recovery protocol: guardian-
// signed evidence accumulates to a threshold, then a cooldown window and
// a dispute window each give a veto path before the engine commits a
// device/guardian-set change, per spec §4.5.
package recovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/aura-project/aura-core/aerrors"
	"github.com/aura-project/aura-core/ceremony"
	"github.com/aura-project/aura-core/config"
	"github.com/aura-project/aura-core/idhash"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/google/uuid"
)

// State is a recovery run's position in its lifecycle.
type State uint8

const (
	StateRequested State = iota
	StateCooldown
	StateDispute
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "Requested"
	case StateCooldown:
		return "Cooldown"
	case StateDispute:
		return "Dispute"
	case StateCommitted:
		return "Committed"
	case StateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s never transitions further.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// Request is the evidence that opens a recovery run.
type Request struct {
	ID            idhash.RecoveryId
	Authority     idhash.AuthorityId
	Kind          ceremony.Kind
	Guardians     []idhash.GuardianId
	Threshold     int
	Reason        string
	RequestedAtMs int64
	ExpiresAtMs   int64
}

// Approval is one guardian's signed agreement to a recovery request. For
// guardians backed by a bitcoin wallet, BTCSig additionally co-signs the
// approval with a secp256k1 key, giving the guardian a second, offline-
// verifiable attestation channel independent of the authority's own
// signing stack.
type Approval struct {
	Guardian     idhash.GuardianId
	ShareData    []byte
	ApprovedAtMs int64
	BTCSig       *ecdsa.Signature
}

// hash returns the digest an approval's BTCSig, if present, is computed
// over: the recovery ID and guardian ID bound together so a co-signature
// cannot be replayed across recovery runs.
func (a Approval) hash(recoveryID idhash.RecoveryId) idhash.Hash32 {
	return idhash.Sum(recoveryID[:], a.Guardian[:], a.ShareData)
}

// Recovery is one in-flight or terminal recovery run.
type Recovery struct {
	Request          Request
	State            State
	Approvals        map[idhash.GuardianId]Approval
	CooldownEndsAtMs int64
	DisputeEndsAtMs  int64
	AbortReason      string

	vetoed bool
}

// ApprovalCount returns the number of distinct guardian approvals
// recorded so far.
func (r *Recovery) ApprovalCount() int {
	return len(r.Approvals)
}

func newRecoveryID() idhash.RecoveryId {
	u := uuid.New()
	var id idhash.RecoveryId
	copy(id[:], u[:])
	return id
}

// Engine drives every recovery run for one authority.
type Engine struct {
	mu         sync.Mutex
	recoveries map[idhash.RecoveryId]*Recovery

	defaultCooldown time.Duration
	disputeWindow   time.Duration

	// guardianCooldowns overrides defaultCooldown per guardian; a
	// recovery's cooldown is the max across its approving guardians'
	// settings (spec §4.5 step 3).
	guardianCooldowns map[idhash.GuardianId]time.Duration

	// guardianBTCKeys holds the optional secp256k1 public key for
	// guardians backed by a bitcoin wallet, used to verify Approval.BTCSig.
	guardianBTCKeys map[idhash.GuardianId]*btcec.PublicKey
}

// NewEngine builds a recovery Engine from an authority's configuration.
func NewEngine(cfg *config.Config) *Engine {
	return &Engine{
		recoveries:        make(map[idhash.RecoveryId]*Recovery),
		defaultCooldown:   cfg.RecoveryCooldownDefault,
		disputeWindow:     cfg.RecoveryDisputeWindow,
		guardianCooldowns: make(map[idhash.GuardianId]time.Duration),
		guardianBTCKeys:   make(map[idhash.GuardianId]*btcec.PublicKey),
	}
}

// SetGuardianCooldown overrides the default cooldown for one guardian.
func (e *Engine) SetGuardianCooldown(guardian idhash.GuardianId, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.guardianCooldowns[guardian] = d
}

// TrustGuardianBTCKey registers a guardian's secp256k1 co-signing key.
func (e *Engine) TrustGuardianBTCKey(guardian idhash.GuardianId, pub *btcec.PublicKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.guardianBTCKeys[guardian] = pub
}

func (e *Engine) cooldownFor(guardian idhash.GuardianId) time.Duration {
	if d, ok := e.guardianCooldowns[guardian]; ok {
		return d
	}
	return e.defaultCooldown
}

// Propose opens a new recovery run in StateRequested.
func (e *Engine) Propose(authority idhash.AuthorityId, kind ceremony.Kind, guardians []idhash.GuardianId, threshold int, reason string, nowMs, expiresAtMs int64) *Recovery {
	req := Request{
		ID:            newRecoveryID(),
		Authority:     authority,
		Kind:          kind,
		Guardians:     guardians,
		Threshold:     threshold,
		Reason:        reason,
		RequestedAtMs: nowMs,
		ExpiresAtMs:   expiresAtMs,
	}
	r := &Recovery{
		Request:   req,
		State:     StateRequested,
		Approvals: make(map[idhash.GuardianId]Approval),
	}
	e.mu.Lock()
	e.recoveries[req.ID] = r
	e.mu.Unlock()
	return r
}

// Get returns the recovery run for id, if it exists.
func (e *Engine) Get(id idhash.RecoveryId) (*Recovery, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.recoveries[id]
	return r, ok
}

// ActiveIDs returns the IDs of every non-terminal recovery run, the
// worklist a background reaper drives through Tick.
func (e *Engine) ActiveIDs() []idhash.RecoveryId {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]idhash.RecoveryId, 0, len(e.recoveries))
	for id, r := range e.recoveries {
		if !r.State.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

func guardianPermitted(guardians []idhash.GuardianId, g idhash.GuardianId) bool {
	for _, candidate := range guardians {
		if candidate == g {
			return true
		}
	}
	return false
}

// Approve records a guardian's approval. Once the recorded approvals
// reach the request's threshold, the run transitions to StateCooldown
// with a deadline equal to now plus the max cooldown among approving
// guardians.
func (e *Engine) Approve(id idhash.RecoveryId, approval Approval, nowMs int64) (thresholdReached bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.recoveries[id]
	if !ok {
		return false, aerrors.New(aerrors.CategoryProtocol, aerrors.CodeCeremonyNotFound, "recovery not found").
			With("recovery_id", id.String())
	}
	if r.State.Terminal() {
		return false, aerrors.New(aerrors.CategoryProtocol, aerrors.CodeInvalidTransition,
			fmt.Sprintf("recovery already %s", r.State))
	}
	if !guardianPermitted(r.Request.Guardians, approval.Guardian) {
		return false, aerrors.New(aerrors.CategoryAuthorization, aerrors.CodeGuardDenied,
			"guardian is not listed on this recovery request")
	}
	if approval.BTCSig != nil {
		if err := e.verifyBTCCoSign(id, approval); err != nil {
			return false, err
		}
	}

	r.Approvals[approval.Guardian] = approval

	if r.State == StateRequested && len(r.Approvals) >= r.Request.Threshold {
		var maxCooldown time.Duration
		for g := range r.Approvals {
			if c := e.cooldownFor(g); c > maxCooldown {
				maxCooldown = c
			}
		}
		r.State = StateCooldown
		r.CooldownEndsAtMs = nowMs + maxCooldown.Milliseconds()
		return true, nil
	}

	return len(r.Approvals) >= r.Request.Threshold, nil
}

func (e *Engine) verifyBTCCoSign(id idhash.RecoveryId, approval Approval) error {
	pub, ok := e.guardianBTCKeys[approval.Guardian]
	if !ok {
		return aerrors.New(aerrors.CategoryCryptographic, aerrors.CodeSignatureInvalid,
			"no trusted bitcoin co-signing key registered for guardian")
	}
	h := approval.hash(id)
	if !approval.BTCSig.Verify(h[:], pub) {
		return aerrors.New(aerrors.CategoryCryptographic, aerrors.CodeSignatureInvalid,
			"guardian bitcoin co-signature does not verify")
	}
	return nil
}

// Veto aborts a recovery run in its cooldown or dispute window. Either
// window's consumer (an interested device, or the disputing party
// itself) may call this; outside those windows a veto is rejected since
// there is nothing left to dispute (the run is either still collecting
// approvals, or already terminal).
func (e *Engine) Veto(id idhash.RecoveryId, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.recoveries[id]
	if !ok {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeCeremonyNotFound, "recovery not found")
	}
	if r.State != StateCooldown && r.State != StateDispute {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeInvalidTransition,
			fmt.Sprintf("cannot veto a recovery in state %s", r.State))
	}
	r.State = StateAborted
	r.AbortReason = reason
	r.vetoed = true
	return nil
}

// Tick advances time-driven transitions: an expired Requested run that
// never reached threshold aborts; a Cooldown run whose deadline has
// passed opens its dispute window.
func (e *Engine) Tick(id idhash.RecoveryId, nowMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.recoveries[id]
	if !ok || r.State.Terminal() {
		return
	}

	switch r.State {
	case StateRequested:
		if nowMs > r.Request.ExpiresAtMs {
			r.State = StateAborted
			r.AbortReason = "not enough approvals by expiry"
		}
	case StateCooldown:
		if nowMs >= r.CooldownEndsAtMs {
			r.State = StateDispute
			r.DisputeEndsAtMs = nowMs + e.disputeWindow.Milliseconds()
		}
	}
}

// CommitFunc performs the recovery's concrete effect — adding/removing a
// device leaf, replacing the tree, or rotating the guardian set — once
// the dispute window has elapsed without a veto. It must be all-or-
// nothing: an error leaves no partial tree change (spec §4.5 "Failure
// semantics"), mirroring ceremony.CommitFunc's contract.
type CommitFunc func(r *Recovery) error

// Commit finalizes a recovery whose dispute window has elapsed with no
// veto. It is idempotent: a duplicate Commit on an already-Committed run
// returns nil without invoking fn again.
func (e *Engine) Commit(id idhash.RecoveryId, nowMs int64, fn CommitFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.recoveries[id]
	if !ok {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeCeremonyNotFound, "recovery not found")
	}
	if r.State == StateCommitted {
		return nil
	}
	if r.State == StateAborted {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeInvalidTransition, "recovery already aborted").
			With("reason", r.AbortReason)
	}
	if r.State != StateDispute {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeInvalidTransition,
			fmt.Sprintf("cannot commit from state %s", r.State))
	}
	if nowMs < r.DisputeEndsAtMs {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeInvalidTransition, "dispute window has not elapsed")
	}

	if err := fn(r); err != nil {
		r.State = StateAborted
		r.AbortReason = err.Error()
		return fmt.Errorf("recovery: commit failed: %w", err)
	}

	r.State = StateCommitted
	return nil
}
