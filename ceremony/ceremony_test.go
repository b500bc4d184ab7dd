package ceremony

import (
	"testing"

	"github.com/aura-project/aura-core/idhash"
	"github.com/stretchr/testify/require"
)

func alwaysHasTranscript(idhash.AuthorityId, idhash.Epoch) bool { return true }
func neverHasTranscript(idhash.AuthorityId, idhash.Epoch) bool  { return false }

// TestDeviceEnrollmentReachesThresholdAndCommits exercises scenario S1.
func TestDeviceEnrollmentReachesThresholdAndCommits(t *testing.T) {
	reg := NewRegistry(alwaysHasTranscript)
	authority := idhash.AuthorityId{1}
	d1 := idhash.DeviceId{1}

	policy := Policy{Participants: []idhash.DeviceId{d1}, Threshold: 1}
	c := reg.Propose(authority, KindDeviceEnrollment, policy, 0, 10_000)
	require.Equal(t, StateProposed, c.State)

	reached, err := reg.RecordResponse(c.ID, Response{Participant: d1, AckOnly: true})
	require.NoError(t, err)
	require.True(t, reached)
	require.Equal(t, StateAttesting, c.State)

	committed := false
	err = reg.Commit(c.ID, idhash.Epoch(1), 100, func(c *Ceremony) error {
		committed = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, committed)
	require.Equal(t, StateFinalized, c.State)
	require.True(t, c.IsCommitted())
}

func TestCommitIsIdempotent(t *testing.T) {
	reg := NewRegistry(alwaysHasTranscript)
	c := reg.Propose(idhash.AuthorityId{1}, KindDeviceEnrollment, Policy{Threshold: 0}, 0, 10_000)

	calls := 0
	commitFn := func(c *Ceremony) error {
		calls++
		return nil
	}
	require.NoError(t, reg.Commit(c.ID, idhash.Epoch(1), 100, commitFn))
	require.NoError(t, reg.Commit(c.ID, idhash.Epoch(1), 100, commitFn))
	require.Equal(t, 1, calls)
}

// TestGuardianSetupAbortsWithoutDKGTranscript exercises scenario S6.
func TestGuardianSetupAbortsWithoutDKGTranscript(t *testing.T) {
	reg := NewRegistry(neverHasTranscript)
	authority := idhash.AuthorityId{1}
	d1 := idhash.DeviceId{1}

	policy := Policy{Participants: []idhash.DeviceId{d1}, Threshold: 1}
	c := reg.Propose(authority, KindGuardianSetup, policy, 0, 10_000)
	_, err := reg.RecordResponse(c.ID, Response{Participant: d1, AckOnly: true})
	require.NoError(t, err)

	err = reg.Commit(c.ID, idhash.Epoch(1), 100, func(c *Ceremony) error { return nil })
	require.Error(t, err)
	require.Equal(t, StateAborted, c.State)
	require.Equal(t, "Missing consensus DKG transcript", c.AbortReason)
}

func TestTerminalStateNeverTransitions(t *testing.T) {
	reg := NewRegistry(alwaysHasTranscript)
	c := reg.Propose(idhash.AuthorityId{1}, KindDeviceEnrollment, Policy{Threshold: 0}, 0, 10_000)
	require.NoError(t, reg.Commit(c.ID, idhash.Epoch(1), 100, func(c *Ceremony) error { return nil }))

	err := reg.Abort(c.ID, "too late")
	require.Error(t, err)
	require.Equal(t, StateFinalized, c.State)
}

func TestAbortIsIdempotentOnAbortedCeremony(t *testing.T) {
	reg := NewRegistry(alwaysHasTranscript)
	c := reg.Propose(idhash.AuthorityId{1}, KindDeviceEnrollment, Policy{Threshold: 1}, 0, 10_000)
	require.NoError(t, reg.Abort(c.ID, "first reason"))
	require.NoError(t, reg.Abort(c.ID, "second reason"))
	require.Equal(t, "first reason", c.AbortReason)
}

func TestExcludeParticipantStillSatisfiesWithRemaining(t *testing.T) {
	reg := NewRegistry(alwaysHasTranscript)
	d1 := idhash.DeviceId{1}
	d2 := idhash.DeviceId{2}
	policy := Policy{Participants: []idhash.DeviceId{d1, d2}, Threshold: 1}
	c := reg.Propose(idhash.AuthorityId{1}, KindDeviceEnrollment, policy, 0, 10_000)

	_, err := reg.RecordResponse(c.ID, Response{Participant: d1, AckOnly: true})
	require.NoError(t, err)
	_, err = reg.RecordResponse(c.ID, Response{Participant: d2, AckOnly: true})
	require.NoError(t, err)

	stillSatisfied, err := reg.ExcludeParticipant(c.ID, d1)
	require.NoError(t, err)
	require.True(t, stillSatisfied)
}

func TestDeadlineAbortsPendingCeremony(t *testing.T) {
	reg := NewRegistry(alwaysHasTranscript)
	c := reg.Propose(idhash.AuthorityId{1}, KindDeviceEnrollment, Policy{Threshold: 1}, 0, 1000)
	reg.CheckDeadline(c.ID, 2000)
	require.Equal(t, StateAborted, c.State)
	require.Equal(t, "deadline exceeded", c.AbortReason)
}

func TestSweepDeadlinesAbortsExpiredAndRequeuesLive(t *testing.T) {
	reg := NewRegistry(alwaysHasTranscript)
	expired := reg.Propose(idhash.AuthorityId{1}, KindDeviceEnrollment, Policy{Threshold: 1}, 0, 1000)
	live := reg.Propose(idhash.AuthorityId{2}, KindDeviceEnrollment, Policy{Threshold: 1}, 0, 5000)

	aborted := reg.SweepDeadlines(2000)
	require.ElementsMatch(t, []idhash.CeremonyId{expired.ID}, aborted)

	c, ok := reg.Get(expired.ID)
	require.True(t, ok)
	require.Equal(t, StateAborted, c.State)

	l, ok := reg.Get(live.ID)
	require.True(t, ok)
	require.Equal(t, StateProposed, l.State)

	// live ceremony was re-queued; a later sweep still finds it.
	aborted = reg.SweepDeadlines(6000)
	require.ElementsMatch(t, []idhash.CeremonyId{live.ID}, aborted)
}
