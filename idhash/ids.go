// Package idhash defines the authority core's stable identifier types and
// BLAKE3 content addressing. All identifiers are fixed-width opaque byte
// strings with a canonical string form; none of them are reused once
// assigned (see tree.LeafIndex for the one exception: an index, not an
// identifier, that also is never reused).
package idhash

import (
	"encoding/hex"
	"fmt"

	"github.com/tv42/zbase32"
	"lukechampine.com/blake3"
)

// Hash32 is a 32-byte BLAKE3 digest used throughout for content addressing:
// tree commitments, fact CIDs, receipt chaining.
type Hash32 [32]byte

// Sum computes the BLAKE3-256 digest of data.
func Sum(data ...[]byte) Hash32 {
	h := blake3.New(32, nil)
	for _, d := range data {
		h.Write(d)
	}
	var out Hash32
	copy(out[:], h.Sum(nil))
	return out
}

// String renders the hash as lowercase hex.
func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero hash (used as a sentinel for
// "no predecessor", e.g. the first receipt in a chain).
func (h Hash32) IsZero() bool {
	return h == Hash32{}
}

// id128 is the common representation for 128-bit identifiers.
type id128 [16]byte

func (i id128) String() string {
	return hex.EncodeToString(i[:])
}

// AuthorityId names a user's sovereign identity root.
type AuthorityId id128

func (a AuthorityId) String() string { return id128(a).String() }

// Short renders a human-friendly zbase32 short form for logs and CLI
// output, matching the teacher's node-ID rendering convention.
func (a AuthorityId) Short() string {
	return zbase32.EncodeToString(a[:8])
}

// DeviceId names a leaf in an authority's ratchet tree that is a device.
type DeviceId id128

func (d DeviceId) String() string { return id128(d).String() }

// GuardianId names a leaf in an authority's ratchet tree that is a
// guardian (trusted contact) rather than a device.
type GuardianId id128

func (g GuardianId) String() string { return id128(g).String() }

// ContextId names a relationship between two authorities (e.g. Alice's
// channel to Bob), the unit a flow budget and an AMP channel are scoped to.
type ContextId id128

func (c ContextId) String() string { return id128(c).String() }

// CeremonyId names one instance of a multi-party ceremony.
type CeremonyId id128

func (c CeremonyId) String() string { return id128(c).String() }

// RecoveryId names one instance of a social-recovery protocol run.
type RecoveryId id128

func (r RecoveryId) String() string { return id128(r).String() }

// Epoch is a monotonic per-authority version counter. It only ever
// increases; see tree.Tree and journal.Fact for the invariant enforcement.
type Epoch uint64

// Next returns e+1. Epochs never wrap in practice; overflow is not
// guarded against, matching the teacher's treatment of block height.
func (e Epoch) Next() Epoch { return e + 1 }

// FromHex parses a hex string into a Hash32, for fixtures and CLI input.
func FromHex(s string) (Hash32, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash32{}, fmt.Errorf("idhash: invalid hex: %w", err)
	}
	if len(b) != 32 {
		return Hash32{}, fmt.Errorf("idhash: expected 32 bytes, got %d", len(b))
	}
	var h Hash32
	copy(h[:], b)
	return h, nil
}
