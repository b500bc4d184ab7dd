package budget

import (
	"crypto/ed25519"
	"testing"

	"github.com/aura-project/aura-core/idhash"
	"github.com/stretchr/testify/require"
)

func testKey() Key {
	return Key{
		Context: idhash.ContextId{1},
		Peer:    idhash.AuthorityId{2},
		Epoch:   idhash.Epoch(0),
	}
}

// TestFlowBudgetExhaustion exercises scenario S5.
func TestFlowBudgetExhaustion(t *testing.T) {
	tbl := NewTable()
	key := testKey()
	tbl.Open(key, 1000, 0)

	require.NoError(t, tbl.Charge(key, 400))
	require.NoError(t, tbl.Charge(key, 400))

	err := tbl.Charge(key, 400)
	require.Error(t, err)

	b, ok := tbl.Get(key)
	require.True(t, ok)
	require.Equal(t, uint64(800), b.SpentBytes)

	newKey := tbl.ResetOnEpoch(key, idhash.Epoch(1), 5000)
	require.NoError(t, tbl.Charge(newKey, 400))
}

func TestChargeNeverExceedsLimit(t *testing.T) {
	tbl := NewTable()
	key := testKey()
	tbl.Open(key, 100, 0)

	require.Error(t, tbl.Charge(key, 101))
	b, _ := tbl.Get(key)
	require.Equal(t, uint64(0), b.SpentBytes)
}

func TestReceiptChainRejectsDuplicateAndOutOfOrderNonce(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	chain := NewChain()
	key := testKey()

	r1 := Receipt{Context: key.Context, Src: key.Peer, Dst: key.Peer, Epoch: key.Epoch, Cost: 10, Nonce: 1}
	r1.Sign(priv)
	require.NoError(t, chain.Append(key, r1))

	r2 := Receipt{Context: key.Context, Src: key.Peer, Dst: key.Peer, Epoch: key.Epoch, Cost: 10, Nonce: 2, PrevReceiptHash: r1.Hash()}
	r2.Sign(priv)
	require.NoError(t, chain.Append(key, r2))

	replay := Receipt{Context: key.Context, Src: key.Peer, Dst: key.Peer, Epoch: key.Epoch, Cost: 10, Nonce: 2, PrevReceiptHash: r1.Hash()}
	replay.Sign(priv)
	require.Error(t, chain.Append(key, replay))

	stale := Receipt{Context: key.Context, Src: key.Peer, Dst: key.Peer, Epoch: key.Epoch, Cost: 10, Nonce: 1, PrevReceiptHash: r1.Hash()}
	stale.Sign(priv)
	require.Error(t, chain.Append(key, stale))
}

func TestReceiptSignVerifyRoundTrips(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	r := Receipt{Context: idhash.ContextId{1}, Src: idhash.AuthorityId{2}, Dst: idhash.AuthorityId{3}, Cost: 50, Nonce: 1}
	r.Sign(priv)
	require.True(t, r.Verify(pub))

	r.Cost = 51
	require.False(t, r.Verify(pub))
}
