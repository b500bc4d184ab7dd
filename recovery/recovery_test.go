package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/aura-project/aura-core/ceremony"
	"github.com/aura-project/aura-core/config"
	"github.com/aura-project/aura-core/idhash"
	"github.com/stretchr/testify/require"
)

func testEngine() *Engine {
	cfg := config.DefaultConfig()
	cfg.RecoveryCooldownDefault = 15 * time.Minute
	cfg.RecoveryDisputeWindow = 1 * time.Hour
	return NewEngine(cfg)
}

// TestThresholdRecoveryHappyPath exercises scenario S3: authority with
// guardians {G1, G2, G3}, threshold 2, recovery add-device request; G1
// and G2 approve, then after cooldown and the dispute window elapse with
// no veto, the recovery commits.
func TestThresholdRecoveryHappyPath(t *testing.T) {
	eng := testEngine()
	authority := idhash.AuthorityId{1}
	g1 := idhash.GuardianId{1}
	g2 := idhash.GuardianId{2}
	g3 := idhash.GuardianId{3}

	r := eng.Propose(authority, ceremony.KindRecoveryAddDevice, []idhash.GuardianId{g1, g2, g3}, 2, "lost device", 0, 100_000)
	require.Equal(t, StateRequested, r.State)

	reached, err := eng.Approve(r.Request.ID, Approval{Guardian: g1, ApprovedAtMs: 100}, 100)
	require.NoError(t, err)
	require.False(t, reached)
	require.Equal(t, StateRequested, r.State)

	reached, err = eng.Approve(r.Request.ID, Approval{Guardian: g2, ApprovedAtMs: 200}, 200)
	require.NoError(t, err)
	require.True(t, reached)
	require.Equal(t, StateCooldown, r.State)

	cooldownEnd := r.CooldownEndsAtMs
	require.Equal(t, int64(200)+(15*time.Minute).Milliseconds(), cooldownEnd)

	// Before cooldown elapses, still in Cooldown.
	eng.Tick(r.Request.ID, cooldownEnd-1)
	require.Equal(t, StateCooldown, r.State)

	// Cooldown elapses -> Dispute window opens.
	eng.Tick(r.Request.ID, cooldownEnd)
	require.Equal(t, StateDispute, r.State)
	disputeEnd := r.DisputeEndsAtMs
	require.Equal(t, cooldownEnd+(1*time.Hour).Milliseconds(), disputeEnd)

	// Commit attempted before dispute window elapses fails.
	err = eng.Commit(r.Request.ID, disputeEnd-1, func(r *Recovery) error { return nil })
	require.Error(t, err)
	require.Equal(t, StateDispute, r.State)

	committed := false
	err = eng.Commit(r.Request.ID, disputeEnd, func(r *Recovery) error {
		committed = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, committed)
	require.Equal(t, StateCommitted, r.State)

	// Idempotent: a second commit is a no-op.
	calls := 0
	err = eng.Commit(r.Request.ID, disputeEnd, func(r *Recovery) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, calls)
}

func TestRecoveryAbortsWhenExpiresBeforeThreshold(t *testing.T) {
	eng := testEngine()
	g1 := idhash.GuardianId{1}
	r := eng.Propose(idhash.AuthorityId{1}, ceremony.KindRecoveryAddDevice, []idhash.GuardianId{g1, {2}}, 2, "reason", 0, 1000)

	_, err := eng.Approve(r.Request.ID, Approval{Guardian: g1, ApprovedAtMs: 500}, 500)
	require.NoError(t, err)
	require.Equal(t, StateRequested, r.State)

	eng.Tick(r.Request.ID, 1500)
	require.Equal(t, StateAborted, r.State)
	require.Equal(t, "not enough approvals by expiry", r.AbortReason)
}

func TestVetoDuringDisputeWindowAborts(t *testing.T) {
	eng := testEngine()
	g1 := idhash.GuardianId{1}
	g2 := idhash.GuardianId{2}
	r := eng.Propose(idhash.AuthorityId{1}, ceremony.KindRecoveryRemoveDevice, []idhash.GuardianId{g1, g2}, 2, "reason", 0, 100_000)

	_, err := eng.Approve(r.Request.ID, Approval{Guardian: g1}, 0)
	require.NoError(t, err)
	_, err = eng.Approve(r.Request.ID, Approval{Guardian: g2}, 0)
	require.NoError(t, err)
	require.Equal(t, StateCooldown, r.State)

	eng.Tick(r.Request.ID, r.CooldownEndsAtMs)
	require.Equal(t, StateDispute, r.State)

	err = eng.Veto(r.Request.ID, "guardian g1 disputes this request")
	require.NoError(t, err)
	require.Equal(t, StateAborted, r.State)
	require.Equal(t, "guardian g1 disputes this request", r.AbortReason)

	err = eng.Commit(r.Request.ID, r.DisputeEndsAtMs, func(r *Recovery) error { return nil })
	require.Error(t, err)
}

func TestApproveRejectsGuardianNotOnRequest(t *testing.T) {
	eng := testEngine()
	g1 := idhash.GuardianId{1}
	outsider := idhash.GuardianId{99}
	r := eng.Propose(idhash.AuthorityId{1}, ceremony.KindRecoveryAddDevice, []idhash.GuardianId{g1}, 1, "reason", 0, 100_000)

	_, err := eng.Approve(r.Request.ID, Approval{Guardian: outsider}, 0)
	require.Error(t, err)
}

// TestCommitFailureAbortsWithoutPartialChange checks that a failing
// CommitFunc transitions the recovery to Aborted rather than leaving it
// stuck in Dispute or silently Committed.
func TestCommitFailureAbortsWithoutPartialChange(t *testing.T) {
	eng := testEngine()
	g1 := idhash.GuardianId{1}
	r := eng.Propose(idhash.AuthorityId{1}, ceremony.KindRecoveryReplaceTree, []idhash.GuardianId{g1}, 1, "reason", 0, 100_000)

	_, err := eng.Approve(r.Request.ID, Approval{Guardian: g1}, 0)
	require.NoError(t, err)
	eng.Tick(r.Request.ID, r.CooldownEndsAtMs)

	err = eng.Commit(r.Request.ID, r.DisputeEndsAtMs, func(r *Recovery) error {
		return errors.New("tree mutation failed")
	})
	require.Error(t, err)
	require.Equal(t, StateAborted, r.State)
}

func TestGuardianCooldownOverrideUsesMaxAcrossApprovers(t *testing.T) {
	eng := testEngine()
	g1 := idhash.GuardianId{1}
	g2 := idhash.GuardianId{2}
	eng.SetGuardianCooldown(g1, 5*time.Minute)
	eng.SetGuardianCooldown(g2, 30*time.Minute)

	r := eng.Propose(idhash.AuthorityId{1}, ceremony.KindRecoveryAddDevice, []idhash.GuardianId{g1, g2}, 2, "reason", 0, 100_000)
	_, err := eng.Approve(r.Request.ID, Approval{Guardian: g1}, 0)
	require.NoError(t, err)
	_, err = eng.Approve(r.Request.ID, Approval{Guardian: g2}, 0)
	require.NoError(t, err)

	require.Equal(t, (30 * time.Minute).Milliseconds(), r.CooldownEndsAtMs)
}
