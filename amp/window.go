package amp

import (
	"strconv"

	"github.com/aura-project/aura-core/aerrors"
	"github.com/aura-project/aura-core/idhash"
)

// Window is the receiver's per-channel anti-replay state: the accepted
// epoch and a sliding [MinGen, MaxGen] generation range, with already-
// seen generations tracked so a replayed envelope is rejected (spec
// §4.6 "Window rule").
type Window struct {
	Epoch  idhash.Epoch
	MinGen uint64
	MaxGen uint64

	size uint64
	seen map[uint64]bool
}

// NewWindow opens a window for epoch with the given size (the number of
// trailing generations tracked for replay detection and tolerated for
// out-of-order delivery).
func NewWindow(epoch idhash.Epoch, size uint64) *Window {
	if size == 0 {
		size = 1
	}
	return &Window{
		Epoch:  epoch,
		MinGen: 0,
		MaxGen: size - 1,
		size:   size,
		seen:   make(map[uint64]bool),
	}
}

// Accept validates and, if valid, records (epoch, gen) as seen, sliding
// the window forward when gen advances past the current MaxGen. It
// returns a typed *aerrors.Error on rejection: EpochMismatch, or
// GenerationOutOfWindow for both an out-of-range generation and a
// replay of one already seen in range (scenario S4) — DuplicateNonce is
// reserved for receipt-nonce monotonicity in the budget package, a
// different namespace (invariant 7).
func (w *Window) Accept(epoch idhash.Epoch, gen uint64) error {
	if epoch != w.Epoch {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeEpochMismatch,
			"envelope epoch does not match channel's current epoch").
			With("expected_epoch", fmtEpoch(w.Epoch)).
			With("got_epoch", fmtEpoch(epoch))
	}
	if gen < w.MinGen {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeGenerationOutOfWindow,
			"generation below receive window").
			With("min_gen", fmtUint(w.MinGen)).
			With("gen", fmtUint(gen))
	}

	if gen > w.MaxGen {
		newMax := gen + w.size
		var newMin uint64
		if gen+1 > w.size {
			newMin = gen + 1 - w.size
		}
		for g := range w.seen {
			if g < newMin {
				delete(w.seen, g)
			}
		}
		w.MinGen = newMin
		w.MaxGen = newMax
	}

	if w.seen[gen] {
		return aerrors.New(aerrors.CategoryProtocol, aerrors.CodeGenerationOutOfWindow,
			"generation already seen on this channel").
			With("gen", fmtUint(gen))
	}

	w.seen[gen] = true
	return nil
}

func fmtEpoch(e idhash.Epoch) string { return fmtUint(uint64(e)) }

func fmtUint(v uint64) string { return strconv.FormatUint(v, 10) }
