package amp

import (
	"context"
	"crypto/ed25519"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/aura-project/aura-core/aerrors"
	"github.com/aura-project/aura-core/ampnet"
	"github.com/aura-project/aura-core/ampwire"
	"github.com/aura-project/aura-core/budget"
	"github.com/aura-project/aura-core/effects"
	"github.com/aura-project/aura-core/guard"
	"github.com/aura-project/aura-core/idhash"
)

// retryBaseDelayMs and retryMaxAttempts bound a send's exponential backoff
// before the channel gives up and reports the context as failed (spec
// §4.6 "Unacknowledged sends are retried with exponential backoff up to a
// per-context limit before failing the channel").
const (
	retryBaseDelayMs = 200
	retryMaxAttempts = 5
)

// pendingSend tracks one outbound envelope awaiting its receipt.
type pendingSend struct {
	gen      uint64
	envelope *ampwire.Envelope
	attempt  int
	deadline int64
}

// Channel is one secure session between this authority and a peer: a
// ratchet for outbound keys, a per-peer window for inbound anti-replay, a
// flow budget, a receipt chain, and a circuit breaker gating sends that
// keep failing (spec §4.6).
type Channel struct {
	mu sync.Mutex

	context     idhash.ContextId
	self        idhash.AuthorityId
	peer        idhash.AuthorityId
	sendKey     ed25519.PrivateKey
	peerVerify  ed25519.PublicKey
	transport   ampnet.PeerTransport
	rand        effects.RandomEffect
	clock       effects.PhysicalTimeEffect
	guardChain  guard.Guard
	breaker     *guard.CircuitBreaker
	sendRatchet *Ratchet
	recvRatchet *Ratchet
	recvWindow  *Window
	budgets     *budget.Table
	receipts    *budget.Chain
	budgetKey   budget.Key
	nextNonce   uint64
	pending     map[uint64]*pendingSend
}

// NewChannelOpts bundles Channel's collaborators so construction reads as
// one call site rather than a long positional argument list.
type NewChannelOpts struct {
	Context     idhash.ContextId
	Self        idhash.AuthorityId
	Peer        idhash.AuthorityId
	Epoch       idhash.Epoch
	SharedSend  []byte
	SharedRecv  []byte
	SendKey     ed25519.PrivateKey
	PeerVerify  ed25519.PublicKey
	Transport   ampnet.PeerTransport
	Rand        effects.RandomEffect
	Clock       effects.PhysicalTimeEffect
	Guards      guard.Guard
	Breaker     *guard.CircuitBreaker
	WindowSize  uint64
	FlowLimit   uint64
	FlowResetMs int64
}

// NewChannel opens a channel at opts.Epoch, deriving the send and receive
// ratchets from the caller-supplied shared secrets (established out of
// band, e.g. via threshold DKG or a pairwise key agreement) and opening
// the flow budget that guards outbound sends.
func NewChannel(opts NewChannelOpts) *Channel {
	tbl := budget.NewTable()
	key := budget.Key{Context: opts.Context, Peer: opts.Peer, Epoch: opts.Epoch}
	tbl.Open(key, opts.FlowLimit, opts.FlowResetMs)

	return &Channel{
		context:     opts.Context,
		self:        opts.Self,
		peer:        opts.Peer,
		sendKey:     opts.SendKey,
		peerVerify:  opts.PeerVerify,
		transport:   opts.Transport,
		rand:        opts.Rand,
		clock:       opts.Clock,
		guardChain:  opts.Guards,
		breaker:     opts.Breaker,
		sendRatchet: NewRatchet(opts.Epoch, opts.SharedSend),
		recvRatchet: NewRatchet(opts.Epoch, opts.SharedRecv),
		recvWindow:  NewWindow(opts.Epoch, opts.WindowSize),
		budgets:     tbl,
		receipts:    budget.NewChain(),
		budgetKey:   key,
		pending:     make(map[uint64]*pendingSend),
	}
}

// Send guards, charges, seals, and dispatches payload as a new generation
// on this channel, per spec §4.6's send path: "Guard chain -> flow-budget
// charge -> seal payload -> emit envelope -> schedule receipt
// expectation."
func (c *Channel) Send(ctx context.Context, payload []byte) error {
	nowMs := c.clock.NowMs()
	if !c.breaker.Allow(nowMs) {
		return aerrors.New(aerrors.CategoryAuthorization, aerrors.CodeCircuitOpen,
			"channel circuit breaker open").With("context", c.context.String())
	}

	if c.guardChain != nil {
		out := c.guardChain(guard.Request{
			Authority: c.self,
			Action:    "amp_send",
			Resource:  c.peer.String(),
			Context:   c.context,
			Cost:      uint64(len(payload)),
		})
		if out.Kind != guard.OutcomeAllowed {
			return aerrors.New(aerrors.CategoryAuthorization, aerrors.CodeGuardDenied,
				"amp send denied by guard chain").With("reason", out.Reason)
		}
	}

	if err := c.budgets.Charge(c.budgetKey, uint64(len(payload))); err != nil {
		c.breaker.RecordFailure(nowMs)
		return err
	}

	c.mu.Lock()
	gen := c.sendRatchet.nextGen
	epoch := c.sendRatchet.Epoch()
	c.mu.Unlock()

	key, err := c.sendRatchet.KeyFor(gen)
	if err != nil {
		c.breaker.RecordFailure(nowMs)
		return err
	}

	sealed, nonce, err := c.seal(key, payload)
	if err != nil {
		c.breaker.RecordFailure(nowMs)
		return aerrors.New(aerrors.CategoryCryptographic, aerrors.CodeAEADOpenFailed,
			"amp send seal failed")
	}

	env := ampwire.NewEnvelope(ampwire.Header{
		Channel:     c.context,
		ChanEpoch:   epoch,
		RatchetGen:  gen,
		Sender:      c.self,
		Destination: c.peer,
	}, append(nonce, sealed...), nil)

	c.mu.Lock()
	c.pending[gen] = &pendingSend{gen: gen, envelope: env, deadline: nowMs + retryBaseDelayMs}
	c.mu.Unlock()

	if err := c.dispatch(ctx, env); err != nil {
		c.breaker.RecordFailure(nowMs)
		return err
	}
	c.breaker.RecordSuccess()
	return nil
}

// seal encrypts payload under key with a fresh random nonce, returning the
// nonce alongside the ciphertext so the receiver can reconstruct it.
func (c *Channel) seal(key [messageKeyLen]byte, payload []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, nil, err
	}
	nonce = c.rand.Bytes(aead.NonceSize())
	ciphertext = aead.Seal(nil, nonce, payload, nil)
	return ciphertext, nonce, nil
}

func (c *Channel) dispatch(ctx context.Context, env *ampwire.Envelope) error {
	var buf writerBuf
	if err := env.Encode(&buf); err != nil {
		return err
	}
	return c.transport.Send(ctx, c.peer, buf.data)
}

// RetryPending resends every envelope still awaiting a receipt whose
// deadline has elapsed, doubling its backoff each attempt. A send that
// exhausts retryMaxAttempts without an ack fails the channel by tripping
// the circuit breaker open.
func (c *Channel) RetryPending(ctx context.Context, nowMs int64) error {
	c.mu.Lock()
	due := make([]*pendingSend, 0)
	for _, p := range c.pending {
		if nowMs >= p.deadline {
			due = append(due, p)
		}
	}
	c.mu.Unlock()

	for _, p := range due {
		if p.attempt >= retryMaxAttempts {
			c.breaker.RecordFailure(nowMs)
			return aerrors.New(aerrors.CategoryNetwork, aerrors.CodeReceiptTimeout,
				"amp send exhausted retry attempts without a receipt").
				With("context", c.context.String()).
				With("generation", fmtUint(p.gen))
		}
		if err := c.dispatch(ctx, p.envelope); err != nil {
			continue
		}
		c.mu.Lock()
		p.attempt++
		p.deadline = nowMs + retryBaseDelayMs<<uint(p.attempt)
		c.mu.Unlock()
	}
	return nil
}

// AckReceipt clears a pending send once its receipt has been validated by
// the caller (typically after Receive on the peer's reply channel).
func (c *Channel) AckReceipt(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, gen)
}

// Receive authenticates and decrypts an inbound envelope, enforcing the
// receive window before touching key material (spec §4.6 receive path:
// "Header window check -> authenticate -> decrypt -> emit receipt ->
// optionally charge peer's flow budget").
func (c *Channel) Receive(env *ampwire.Envelope) ([]byte, *budget.Receipt, error) {
	c.mu.Lock()
	if err := c.recvWindow.Accept(env.Header.ChanEpoch, env.Header.RatchetGen); err != nil {
		c.mu.Unlock()
		return nil, nil, err
	}
	c.mu.Unlock()

	key, err := c.recvRatchet.KeyFor(env.Header.RatchetGen)
	if err != nil {
		return nil, nil, aerrors.New(aerrors.CategoryCryptographic, aerrors.CodeAEADOpenFailed,
			"amp receive key unavailable")
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, nil, err
	}
	if len(env.Payload) < aead.NonceSize() {
		return nil, nil, aerrors.New(aerrors.CategoryCryptographic, aerrors.CodeAEADOpenFailed,
			"amp receive payload shorter than nonce")
	}
	nonce, ciphertext := env.Payload[:aead.NonceSize()], env.Payload[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, nil, aerrors.New(aerrors.CategoryCryptographic, aerrors.CodeAEADOpenFailed,
			"amp receive authentication failed")
	}

	receipt := c.issueReceipt(env)
	return plaintext, receipt, nil
}

// issueReceipt builds and signs the next monotonic-nonce receipt for an
// accepted envelope, chaining it against the last receipt recorded for
// this (context, peer, epoch) (spec §4.6, invariant 7).
func (c *Channel) issueReceipt(env *ampwire.Envelope) *budget.Receipt {
	c.mu.Lock()
	nonce := c.nextNonce
	c.nextNonce++
	c.mu.Unlock()

	chainKey := budget.Key{Context: env.Header.Channel, Peer: env.Header.Sender, Epoch: env.Header.ChanEpoch}
	prevHash, _ := c.receipts.LastHash(chainKey)

	r := &budget.Receipt{
		Context:         env.Header.Channel,
		Src:             env.Header.Sender,
		Dst:             env.Header.Destination,
		Epoch:           env.Header.ChanEpoch,
		Cost:            uint64(len(env.Payload)),
		Nonce:           nonce,
		PrevReceiptHash: prevHash,
	}
	r.Sign(c.sendKey)
	if err := c.receipts.Append(chainKey, *r); err != nil {
		// The chain only rejects our own issuance on a nonce/hash
		// programming error; surface nothing to the caller here since
		// Receive has already accepted the envelope.
		_ = err
	}
	return r
}

// AppendReceipt verifies r's signature against the peer's verification
// key and records it in this channel's receipt chain, enforcing
// invariant 7 (monotonic nonce, unbroken hash chain) before the caller
// treats a send as acknowledged.
func (c *Channel) AppendReceipt(r budget.Receipt) error {
	if !r.Verify(c.peerVerify) {
		return aerrors.New(aerrors.CategoryCryptographic, aerrors.CodeSignatureInvalid,
			"receipt signature does not verify against peer key").
			With("context", c.context.String())
	}
	return c.receipts.Append(budget.Key{Context: c.context, Peer: c.peer, Epoch: r.Epoch}, r)
}

// Rekey advances the channel to a new epoch with fresh shared secrets,
// called on membership change or explicit rotation.
func (c *Channel) Rekey(epoch idhash.Epoch, sharedSend, sharedRecv []byte, resetAtMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendRatchet.Rekey(epoch, sharedSend)
	c.recvRatchet.Rekey(epoch, sharedRecv)
	c.recvWindow = NewWindow(epoch, c.recvWindow.size)
	c.budgetKey = c.budgets.ResetOnEpoch(c.budgetKey, epoch, resetAtMs)
}

// writerBuf is a minimal growable byte sink implementing io.Writer,
// avoiding a bytes.Buffer import for the one-shot encode in dispatch.
type writerBuf struct {
	data []byte
}

func (w *writerBuf) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}
