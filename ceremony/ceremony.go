// Package ceremony implements the multi-party state machine that drives
// device enrollment, device removal, guardian setup/rotation, recovery,
// and key rotation from proposal to a committed or aborted terminal
// state, per spec §4.3.
package ceremony

import (
	"fmt"
	"sync"

	"github.com/aura-project/aura-core/aerrors"
	"github.com/aura-project/aura-core/idhash"
	"github.com/aura-project/aura-core/queue"
	"github.com/google/uuid"
)

// Kind names the operation a ceremony drives to completion.
type Kind string

const (
	KindDeviceEnrollment Kind = "device_enrollment"
	KindDeviceRemoval    Kind = "device_removal"
	KindGuardianSetup    Kind = "guardian_setup"
	KindGuardianRotation Kind = "guardian_rotation"
	KindRecoveryAddDevice    Kind = "recovery_add_device"
	KindRecoveryRemoveDevice Kind = "recovery_remove_device"
	KindRecoveryReplaceTree  Kind = "recovery_replace_tree"
	KindRecoveryUpdateGuardians Kind = "recovery_update_guardians"
	KindKeyRotation      Kind = "key_rotation"
)

// State is the ceremony's position in the partial order of spec §3:
// Proposed < Attesting < Finalized, Proposed < Aborted; Attesting and
// Aborted are concurrent, tie-broken by timestamp.
type State uint8

const (
	StateProposed State = iota
	StateAttesting
	StateFinalized
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateProposed:
		return "Proposed"
	case StateAttesting:
		return "Attesting"
	case StateFinalized:
		return "Finalized"
	case StateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is a terminal state (Finalized or Aborted);
// no transition is ever valid out of a terminal state (invariant 4).
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateAborted
}

// canTransition encodes the partial order's allowed forward edges.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StateProposed:
		return to == StateAttesting || to == StateAborted || to == StateFinalized
	case StateAttesting:
		return to == StateFinalized || to == StateAborted
	default:
		return false
	}
}

// RequiresConsensusDKG marks ceremony kinds that must not commit without a
// DKGTranscript fact present for (authority, new epoch); the transcript
// check takes no context ID — see
// spec §4.3 "Key invariant" and scenario S6.
func (k Kind) RequiresConsensusDKG() bool {
	switch k {
	case KindGuardianSetup, KindGuardianRotation, KindKeyRotation:
		return true
	default:
		return false
	}
}

// Policy gates which participants, and how many, must respond before a
// ceremony reaches threshold.
type Policy struct {
	Participants []idhash.DeviceId
	Threshold    int // required distinct participant responses
}

// Satisfied reports whether collected meets the policy's threshold.
func (p Policy) Satisfied(collected int) bool {
	return collected >= p.Threshold
}

// Response is one participant's contribution toward threshold: either an
// acknowledgement or a cryptographic share, depending on the ceremony
// kind.
type Response struct {
	Participant idhash.DeviceId
	Share       []byte
	AckOnly     bool
}

// Ceremony is one instance of a multi-party operation in flight.
type Ceremony struct {
	ID           idhash.CeremonyId
	Kind         Kind
	Authority    idhash.AuthorityId
	Policy       Policy
	State        State
	ProposedAtMs int64
	DeadlineMs   int64
	AbortReason  string

	responses map[idhash.DeviceId]Response
	excluded  map[idhash.DeviceId]bool
}

func newCeremonyID() idhash.CeremonyId {
	u := uuid.New()
	var id idhash.CeremonyId
	copy(id[:], u[:])
	return id
}

// Registry owns every in-flight and terminal ceremony for one authority.
// Per DESIGN NOTES §9, each ceremony's state is owned exclusively; the
// registry's single lock guards both the map and every ceremony's state,
// and Commit holds it while the commit callback runs.
type Registry struct {
	mu         sync.RWMutex
	ceremonies map[idhash.CeremonyId]*Ceremony

	// pending is the deadline reaper's worklist: every non-terminal
	// ceremony is queued here after Propose and re-queued by SweepDeadlines
	// until it reaches a terminal state, so a periodic sweep never has to
	// scan the whole ceremonies map.
	pending *queue.Queue[idhash.CeremonyId]

	// hasDKGTranscript reports whether a DKGTranscript fact exists for
	// (authority, epoch), with no context ID in the key; wired to the
	// journal by the caller
	// (ceremony package does not import journal directly, avoiding an
	// import cycle, since journal facts are emitted as a result of a
	// ceremony committing).
	hasDKGTranscript func(authority idhash.AuthorityId, epoch idhash.Epoch) bool
}

// NewRegistry returns an empty Registry. transcriptCheck is consulted by
// Commit for consensus-DKG-gated kinds.
func NewRegistry(transcriptCheck func(authority idhash.AuthorityId, epoch idhash.Epoch) bool) *Registry {
	return &Registry{
		ceremonies:       make(map[idhash.CeremonyId]*Ceremony),
		pending:          queue.New[idhash.CeremonyId](),
		hasDKGTranscript: transcriptCheck,
	}
}

// Propose creates a new ceremony in StateProposed.
func (r *Registry) Propose(authority idhash.AuthorityId, kind Kind, policy Policy, nowMs, deadlineMs int64) *Ceremony {
	c := &Ceremony{
		ID:           newCeremonyID(),
		Kind:         kind,
		Authority:    authority,
		Policy:       policy,
		State:        StateProposed,
		ProposedAtMs: nowMs,
		DeadlineMs:   deadlineMs,
		responses:    make(map[idhash.DeviceId]Response),
		excluded:     make(map[idhash.DeviceId]bool),
	}
	r.mu.Lock()
	r.ceremonies[c.ID] = c
	r.mu.Unlock()
	r.pending.Push(c.ID)
	return c
}

// Get returns the ceremony for id, if it exists.
func (r *Registry) Get(id idhash.CeremonyId) (*Ceremony, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.ceremonies[id]
	return c, ok
}

// RecordResponse records a participant's response and reports whether the
// ceremony now meets its policy's threshold. Recording a response moves a
// Proposed ceremony to Attesting. A participant who has been excluded for
// supplying an invalid share earlier is rejected.
func (r *Registry) RecordResponse(id idhash.CeremonyId, resp Response) (thresholdReached bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.ceremonies[id]
	if !ok {
		return false, aerrors.New(aerrors.CategoryProtocol, aerrors.CodeCeremonyNotFound, "ceremony not found").
			With("ceremony_id", id.String())
	}
	if c.State.Terminal() {
		return false, aerrors.New(aerrors.CategoryProtocol, aerrors.CodeInvalidTransition,
			fmt.Sprintf("ceremony already %s", c.State))
	}
	if c.excluded[resp.Participant] {
		return false, aerrors.New(aerrors.CategoryAuthorization, aerrors.CodeGuardDenied,
			"participant previously excluded from this ceremony")
	}

	c.responses[resp.Participant] = resp
	if c.State == StateProposed {
		c.State = StateAttesting
	}

	return c.Policy.Satisfied(len(c.responses)), nil
}

// ExcludeParticipant drops a participant's response (e.g. because its
// share failed verification) and reports whether the remaining responses
// still meet threshold.
func (r *Registry) ExcludeParticipant(id idhash.CeremonyId, participant idhash.DeviceId) (stillSatisfied bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.ceremonies[id]
	if !ok {
		return false, aerrors.New(aerrors.CategoryProtocol, aerrors.CodeCeremonyNotFound, "ceremony not found")
	}
	c.excluded[participant] = true
	delete(c.responses, participant)
	return c.Policy.Satisfied(len(c.responses)), nil
}

// CommitFunc performs the kind-specific side effects of a ceremony
// reaching its terminal committed state (e.g. emitting a DeviceEnrolled
// fact, advancing the tree epoch). It must be idempotent with respect to
// being invoked at most once per ceremony — Commit guarantees that.
type CommitFunc func(c *Ceremony) error

// Commit attempts to finalize a ceremony that has reached threshold. It is
// idempotent: a duplicate Commit call on an already-Finalized ceremony
// returns nil without invoking fn again (spec §4.3 "Key invariant").
// Consensus-DKG-gated kinds (RequiresConsensusDKG) abort instead of
// committing when no DKGTranscript fact exists for the ceremony's
// authority/epoch.
func (r *Registry) Commit(id idhash.CeremonyId, epoch idhash.Epoch, nowMs int64, fn CommitFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.ceremonies[id]
	if !ok {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeCeremonyNotFound, "ceremony not found")
	}
	if c.State == StateFinalized {
		return nil
	}
	if c.State == StateAborted {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeInvalidTransition, "ceremony already aborted").
			With("reason", c.AbortReason)
	}
	if !canTransition(c.State, StateFinalized) {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeInvalidTransition,
			fmt.Sprintf("cannot finalize from %s", c.State))
	}
	if !c.Policy.Satisfied(len(c.responses)) {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeInvalidTransition, "threshold not yet reached")
	}

	if c.Kind.RequiresConsensusDKG() && r.hasDKGTranscript != nil && !r.hasDKGTranscript(c.Authority, epoch) {
		c.State = StateAborted
		c.AbortReason = "Missing consensus DKG transcript"
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeInvalidTransition, c.AbortReason)
	}

	if err := fn(c); err != nil {
		c.State = StateAborted
		c.AbortReason = err.Error()
		return fmt.Errorf("ceremony: commit failed: %w", err)
	}

	c.State = StateFinalized
	return nil
}

// Abort transitions a non-terminal ceremony to Aborted with reason. A
// duplicate Abort on an already-Aborted ceremony is a no-op; Abort on a
// Finalized ceremony is rejected (terminal states never transition).
func (r *Registry) Abort(id idhash.CeremonyId, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.ceremonies[id]
	if !ok {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeCeremonyNotFound, "ceremony not found")
	}
	if c.State == StateAborted {
		return nil
	}
	if c.State == StateFinalized {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeInvalidTransition, "cannot abort a finalized ceremony")
	}
	c.State = StateAborted
	c.AbortReason = reason
	return nil
}

// CheckDeadline aborts the ceremony with a timeout reason if nowMs has
// passed its deadline and it has not yet reached a terminal state.
func (r *Registry) CheckDeadline(id idhash.CeremonyId, nowMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.ceremonies[id]
	if !ok || c.State.Terminal() {
		return
	}
	if nowMs > c.DeadlineMs {
		c.State = StateAborted
		c.AbortReason = "deadline exceeded"
	}
}

// SweepDeadlines drains the pending worklist, aborting any ceremony whose
// deadline has passed and re-queuing every ceremony still non-terminal for
// the next sweep. It returns the ids aborted this pass. Meant to be driven
// by a periodic ticker rather than called per-ceremony by request handlers.
func (r *Registry) SweepDeadlines(nowMs int64) []idhash.CeremonyId {
	items := r.pending.Drain()

	var aborted []idhash.CeremonyId
	for _, id := range items {
		r.CheckDeadline(id, nowMs)

		c, ok := r.Get(id)
		if !ok {
			continue
		}
		if !c.State.Terminal() {
			r.pending.Push(id)
			continue
		}
		if c.State == StateAborted && c.AbortReason == "deadline exceeded" {
			aborted = append(aborted, id)
		}
	}
	return aborted
}

// IsCommitted reports whether the ceremony reached Finalized.
func (c *Ceremony) IsCommitted() bool {
	return c.State == StateFinalized
}

// ResponseCount returns the number of recorded (non-excluded) responses.
func (c *Ceremony) ResponseCount() int {
	return len(c.responses)
}
