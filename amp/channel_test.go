package amp

import (
	"context"
	"crypto/ed25519"
	crand "crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aura-project/aura-core/ampnet/simnet"
	"github.com/aura-project/aura-core/ampwire"
	"github.com/aura-project/aura-core/aerrors"
	"github.com/aura-project/aura-core/clock"
	"github.com/aura-project/aura-core/effects"
	"github.com/aura-project/aura-core/guard"
	"github.com/aura-project/aura-core/idhash"
)

func testChannelPair(t *testing.T) (alice, bob *Channel, aliceTransport, bobTransport *simnet.Transport) {
	t.Helper()
	rnd := effects.NewSeeded(1)
	authA, err := idhash.NewAuthorityId(crand.Reader)
	require.NoError(t, err)
	authB, err := idhash.NewAuthorityId(crand.Reader)
	require.NoError(t, err)
	ctxID, err := idhash.NewContextId(crand.Reader)
	require.NoError(t, err)

	net := simnet.NewNetwork()
	tA := net.Register(authA, 16)
	tB := net.Register(authB, 16)

	pubA, privA, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pubB, privB, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_ = pubA

	clk := effects.NewPhysicalTime(clock.NewTestClock(time.Unix(0, 0)))
	shared := []byte("shared-channel-secret-for-testing")

	alice = NewChannel(NewChannelOpts{
		Context: ctxID, Self: authA, Peer: authB, Epoch: 0,
		SharedSend: shared, SharedRecv: shared,
		SendKey: privA, PeerVerify: pubB,
		Transport: tA, Rand: rnd, Clock: clk,
		Breaker: guard.NewCircuitBreaker(3, time.Second),
		Guards:  guard.Chain(),
		WindowSize: 8, FlowLimit: 1 << 20,
	})
	bob = NewChannel(NewChannelOpts{
		Context: ctxID, Self: authB, Peer: authA, Epoch: 0,
		SharedSend: shared, SharedRecv: shared,
		SendKey: privB, PeerVerify: pubA,
		Transport: tB, Rand: rnd, Clock: clk,
		Breaker: guard.NewCircuitBreaker(3, time.Second),
		Guards:  guard.Chain(),
		WindowSize: 8, FlowLimit: 1 << 20,
	})
	return alice, bob, tA, tB
}

func recvEnvelope(t *testing.T, tr *simnet.Transport) *ampwire.Envelope {
	t.Helper()
	select {
	case frame := <-tr.Inbound():
		env := &ampwire.Envelope{}
		require.NoError(t, env.Decode(&bytesReader{data: frame.Frame}))
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

// bytesReader is a minimal io.Reader over an in-memory slice, avoiding a
// bytes.Reader import for this one-shot decode in tests.
type bytesReader struct {
	data []byte
	pos  int
}

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, errEOF{}
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

type errEOF struct{}

func (errEOF) Error() string { return "EOF" }

func TestChannelSendReceiveRoundTrips(t *testing.T) {
	alice, bob, _, bobTransport := testChannelPair(t)

	err := alice.Send(context.Background(), []byte("hello bob"))
	require.NoError(t, err)

	env := recvEnvelope(t, bobTransport)
	plaintext, receipt, err := bob.Receive(env)
	require.NoError(t, err)
	require.Equal(t, "hello bob", string(plaintext))
	require.Equal(t, uint64(0), receipt.Nonce)

	// Alice records bob's returned receipt against her own chain for this
	// exchange, the side that originally sent the acknowledged envelope.
	require.NoError(t, alice.AppendReceipt(*receipt))
}

func TestChannelAntiReplayRejectsDuplicateGeneration(t *testing.T) {
	alice, bob, _, bobTransport := testChannelPair(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, alice.Send(context.Background(), []byte("msg")))
		env := recvEnvelope(t, bobTransport)
		_, _, err := bob.Receive(env)
		require.NoError(t, err)
	}

	replayed := &ampwire.Envelope{
		VersionByte: ampwire.Version,
		Header: ampwire.Header{
			Channel: alice.context, ChanEpoch: 0, RatchetGen: 1,
			Sender: alice.self, Destination: alice.peer,
		},
	}
	_, _, err := bob.Receive(replayed)
	require.Error(t, err)
	aerr, ok := err.(*aerrors.Error)
	require.True(t, ok)
	require.Equal(t, aerrors.CodeGenerationOutOfWindow, aerr.Code)
}

func TestChannelReceiveRejectsEpochMismatch(t *testing.T) {
	_, bob, _, _ := testChannelPair(t)

	env := &ampwire.Envelope{
		VersionByte: ampwire.Version,
		Header: ampwire.Header{
			Channel: bob.context, ChanEpoch: 99, RatchetGen: 0,
			Sender: bob.peer, Destination: bob.self,
		},
	}
	_, _, err := bob.Receive(env)
	require.Error(t, err)
	aerr, ok := err.(*aerrors.Error)
	require.True(t, ok)
	require.Equal(t, aerrors.CodeEpochMismatch, aerr.Code)
}

func TestChannelSendDeniedWhenFlowBudgetExhausted(t *testing.T) {
	rnd := effects.NewSeeded(2)
	authA, _ := idhash.NewAuthorityId(crand.Reader)
	authB, _ := idhash.NewAuthorityId(crand.Reader)
	ctxID, _ := idhash.NewContextId(crand.Reader)
	net := simnet.NewNetwork()
	tA := net.Register(authA, 4)
	net.Register(authB, 4)
	_, privA, _ := ed25519.GenerateKey(nil)
	pubB, _, _ := ed25519.GenerateKey(nil)
	clk := effects.NewPhysicalTime(clock.NewTestClock(time.Unix(0, 0)))

	alice := NewChannel(NewChannelOpts{
		Context: ctxID, Self: authA, Peer: authB, Epoch: 0,
		SharedSend: []byte("s"), SharedRecv: []byte("s"),
		SendKey: privA, PeerVerify: pubB,
		Transport: tA, Rand: rnd, Clock: clk,
		Breaker: guard.NewCircuitBreaker(3, time.Second),
		Guards:  guard.Chain(),
		WindowSize: 4, FlowLimit: 4,
	})

	err := alice.Send(context.Background(), []byte("12345"))
	require.Error(t, err)
	aerr, ok := err.(*aerrors.Error)
	require.True(t, ok)
	require.Equal(t, aerrors.CodeFlowBudgetExhausted, aerr.Code)
}

func TestChannelRetryPendingFailsAfterExhaustingAttempts(t *testing.T) {
	alice, _, aliceTransport, _ := testChannelPair(t)
	_ = aliceTransport

	require.NoError(t, alice.Send(context.Background(), []byte("first")))
	nowMs := int64(0)
	var lastErr error
	for i := 0; i < retryMaxAttempts+1; i++ {
		nowMs += retryBaseDelayMs << uint(i+1)
		lastErr = alice.RetryPending(context.Background(), nowMs)
		if lastErr != nil {
			break
		}
	}
	require.Error(t, lastErr)
	aerr, ok := lastErr.(*aerrors.Error)
	require.True(t, ok)
	require.Equal(t, aerrors.CodeReceiptTimeout, aerr.Code)
}
