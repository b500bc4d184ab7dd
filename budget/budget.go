// Package budget implements per-(context, peer, epoch) flow budgets and
// the signed, hash-chained receipts that acknowledge delivery, per spec
// §3/§4.6 and invariant 8 (flow-budget soundness).
package budget

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/aura-project/aura-core/aerrors"
	"github.com/aura-project/aura-core/idhash"
)

// Key identifies one flow budget: a (context, peer, epoch) triple.
type Key struct {
	Context idhash.ContextId
	Peer    idhash.AuthorityId
	Epoch   idhash.Epoch
}

// Budget is a byte allowance charged before send, reset on epoch bump.
type Budget struct {
	LimitBytes uint64
	SpentBytes uint64
	ResetAtMs  int64
}

// Remaining returns the unspent allowance.
func (b Budget) Remaining() uint64 {
	if b.SpentBytes >= b.LimitBytes {
		return 0
	}
	return b.LimitBytes - b.SpentBytes
}

// Table tracks every live flow budget for one authority, guarded by a
// single mutex since charges across different keys are independent but
// rare enough not to warrant per-key locks (matching the teacher's
// htlcswitch bandwidth-manager granularity).
type Table struct {
	mu      sync.Mutex
	budgets map[Key]Budget
}

// NewTable returns an empty budget Table.
func NewTable() *Table {
	return &Table{budgets: make(map[Key]Budget)}
}

// Open creates or replaces the budget for key with the given limit,
// resetting spent to zero. Called on epoch bump or channel open.
func (t *Table) Open(key Key, limitBytes uint64, resetAtMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.budgets[key] = Budget{LimitBytes: limitBytes, ResetAtMs: resetAtMs}
}

// Get returns the current budget for key, if one has been opened.
func (t *Table) Get(key Key) (Budget, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.budgets[key]
	return b, ok
}

// Charge atomically deducts n bytes from key's budget. It fails without
// mutating state when the charge would push spent past limit (invariant
// 8: spent never exceeds limit for a non-exhausted budget).
func (t *Table) Charge(key Key, n uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.budgets[key]
	if !ok {
		return aerrors.New(aerrors.CategoryAuthorization, aerrors.CodeFlowBudgetExhausted,
			"no flow budget open for key").
			With("context", key.Context.String()).
			With("peer", key.Peer.String())
	}
	if b.SpentBytes+n > b.LimitBytes {
		return aerrors.New(aerrors.CategoryAuthorization, aerrors.CodeFlowBudgetExhausted,
			fmt.Sprintf("flow budget exhausted: limit=%d spent=%d requested=%d", b.LimitBytes, b.SpentBytes, n)).
			With("limit", fmt.Sprintf("%d", b.LimitBytes)).
			With("spent", fmt.Sprintf("%d", b.SpentBytes)).
			With("requested", fmt.Sprintf("%d", n))
	}
	b.SpentBytes += n
	t.budgets[key] = b
	return nil
}

// ResetOnEpoch replaces key's budget with a freshly zeroed one at the same
// limit, called when the context's epoch advances (spec §3 "on epoch
// bump, budget resets").
func (t *Table) ResetOnEpoch(key Key, newEpoch idhash.Epoch, resetAtMs int64) Key {
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.budgets[key]
	newKey := Key{Context: key.Context, Peer: key.Peer, Epoch: newEpoch}
	limit := uint64(0)
	if ok {
		limit = old.LimitBytes
	}
	t.budgets[newKey] = Budget{LimitBytes: limit, ResetAtMs: resetAtMs}
	return newKey
}

// Receipt is a signed, nonce-ordered acknowledgement of envelope delivery.
type Receipt struct {
	Context         idhash.ContextId
	Src             idhash.AuthorityId
	Dst             idhash.AuthorityId
	Epoch           idhash.Epoch
	Cost            uint64
	Nonce           uint64
	PrevReceiptHash idhash.Hash32
	Signature       [64]byte
}

// signingBytes returns the canonical bytes a Receipt's signature covers.
func (r Receipt) signingBytes() []byte {
	var buf []byte
	buf = append(buf, r.Context[:]...)
	buf = append(buf, r.Src[:]...)
	buf = append(buf, r.Dst[:]...)
	epochBuf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		epochBuf[7-i] = byte(r.Epoch >> (8 * i))
	}
	buf = append(buf, epochBuf...)
	costBuf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		costBuf[7-i] = byte(r.Cost >> (8 * i))
	}
	buf = append(buf, costBuf...)
	nonceBuf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		nonceBuf[7-i] = byte(r.Nonce >> (8 * i))
	}
	buf = append(buf, nonceBuf...)
	buf = append(buf, r.PrevReceiptHash[:]...)
	return buf
}

// Hash returns the content hash of the receipt, used as the next
// receipt's PrevReceiptHash.
func (r Receipt) Hash() idhash.Hash32 {
	return idhash.Sum(r.signingBytes(), r.Signature[:])
}

// Sign computes and sets r.Signature over r's canonical bytes.
func (r *Receipt) Sign(key ed25519.PrivateKey) {
	sig := ed25519.Sign(key, r.signingBytes())
	copy(r.Signature[:], sig)
}

// Verify checks r's signature against pub.
func (r Receipt) Verify(pub ed25519.PublicKey) bool {
	return ed25519.Verify(pub, r.signingBytes(), r.Signature[:])
}

// Chain tracks the last-seen nonce and receipt hash per (ctx, src, dst,
// epoch), enforcing invariant 7 (receipt monotonicity): a replayed or
// lower nonce after a higher one is rejected.
type Chain struct {
	mu    sync.Mutex
	state map[Key]chainState
}

type chainState struct {
	lastNonce uint64
	lastHash  idhash.Hash32
	seen      bool
}

// NewChain returns an empty receipt Chain.
func NewChain() *Chain {
	return &Chain{state: make(map[Key]chainState)}
}

// Append validates and records a receipt's position in its chain. It
// rejects a receipt whose nonce does not strictly exceed the last seen
// nonce for the same key, and whose PrevReceiptHash does not match the
// chain's current head (except for the chain's first receipt).
func (c *Chain) Append(key Key, r Receipt) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state[key]
	if st.seen && r.Nonce <= st.lastNonce {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeDuplicateNonce,
			fmt.Sprintf("receipt nonce %d not greater than last seen %d", r.Nonce, st.lastNonce)).
			With("context", key.Context.String())
	}
	if st.seen && r.PrevReceiptHash != st.lastHash {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeDuplicateNonce,
			"receipt chain hash mismatch")
	}
	if !st.seen && !r.PrevReceiptHash.IsZero() {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeDuplicateNonce,
			"first receipt in chain must have a zero PrevReceiptHash")
	}

	c.state[key] = chainState{lastNonce: r.Nonce, lastHash: r.Hash(), seen: true}
	return nil
}

// LastNonce returns the last accepted nonce for key, if any.
func (c *Chain) LastNonce(key Key) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[key]
	return st.lastNonce, ok
}

// LastHash returns the chain head hash for key, if any receipt has been
// appended yet. A receipt issuer uses this as the next receipt's
// PrevReceiptHash before signing it.
func (c *Chain) LastHash(key Key) (idhash.Hash32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[key]
	return st.lastHash, ok
}
