package guard

import (
	"errors"
	"testing"
	"time"

	"github.com/aura-project/aura-core/idhash"
	"github.com/stretchr/testify/require"
)

func TestChainMergesEffectsWhenAllAllow(t *testing.T) {
	g1 := func(req Request) Outcome { return Allowed(ChargeFlowBudgetEffect(req.Cost)) }
	g2 := func(req Request) Outcome { return Allowed(JournalAppendEffect([]byte("fact"))) }

	chain := Chain(g1, g2)
	out := chain(Request{Cost: 100})
	require.Equal(t, OutcomeAllowed, out.Kind)
	require.Len(t, out.Effects, 2)
	require.Equal(t, EffectChargeFlowBudget, out.Effects[0].Kind)
	require.Equal(t, EffectJournalAppend, out.Effects[1].Kind)
}

// TestChainShortCircuitsOnFirstNonAllowed exercises invariant 9: a
// denial anywhere in the chain stops further evaluation and effects from
// guards after the denial never accumulate.
func TestChainShortCircuitsOnFirstNonAllowed(t *testing.T) {
	calledThird := false
	g1 := func(req Request) Outcome { return Allowed(ChargeFlowBudgetEffect(1)) }
	g2 := func(req Request) Outcome { return Denied("capability expired") }
	g3 := func(req Request) Outcome {
		calledThird = true
		return Allowed()
	}

	chain := Chain(g1, g2, g3)
	out := chain(Request{})
	require.Equal(t, OutcomeDenied, out.Kind)
	require.Equal(t, "capability expired", out.Reason)
	require.False(t, calledThird)
}

func TestChainPropagatesRequiresThreshold(t *testing.T) {
	missing := []idhash.DeviceId{{1}, {2}}
	g1 := func(req Request) Outcome { return RequiresThreshold(2, 1, missing) }
	chain := Chain(g1)
	out := chain(Request{})
	require.Equal(t, OutcomeRequiresThreshold, out.Kind)
	require.Equal(t, 2, out.Required)
	require.Equal(t, missing, out.MissingDevices)
}

func TestExecutorStopsOnFirstFailure(t *testing.T) {
	var ran []string
	ex := Executor{
		OnJournalAppend: func(fb []byte) error {
			ran = append(ran, "journal")
			return nil
		},
		OnChargeFlowBudget: func(cost uint64) error {
			ran = append(ran, "budget")
			return errors.New("budget exhausted")
		},
		OnNotifyPeer: func(peer idhash.AuthorityId, ctx idhash.ContextId) error {
			ran = append(ran, "notify")
			return nil
		},
	}

	err := ex.Execute([]EffectCommand{
		JournalAppendEffect([]byte("f")),
		ChargeFlowBudgetEffect(10),
		NotifyPeerEffect(idhash.AuthorityId{1}, idhash.ContextId{1}),
	})
	require.Error(t, err)
	require.Equal(t, []string{"journal", "budget"}, ran)
}

func TestCircuitBreakerTripsAfterThresholdAndRecoversAfterCooldown(t *testing.T) {
	b := NewCircuitBreaker(3, 1000*time.Millisecond)
	require.True(t, b.Allow(0))

	b.RecordFailure(0)
	b.RecordFailure(0)
	require.True(t, b.Allow(0))
	b.RecordFailure(0)
	require.False(t, b.Allow(0))
	require.True(t, b.IsOpen(0))

	// Still open before cooldown elapses.
	require.False(t, b.Allow(500))

	// Cooldown elapsed: half-open probe allowed once.
	require.True(t, b.Allow(1000))
	b.RecordSuccess()
	require.True(t, b.Allow(1001))
	require.False(t, b.IsOpen(1001))
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewCircuitBreaker(1, 1000*time.Millisecond)
	b.RecordFailure(0)
	require.True(t, b.IsOpen(0))

	require.True(t, b.Allow(1000))
	b.RecordFailure(1000)
	require.True(t, b.IsOpen(1000))
	require.False(t, b.Allow(1999))
	require.True(t, b.Allow(2000))
}
