package journal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"

	"github.com/aura-project/aura-core/idhash"
)

// Digest is a store's sync digest: an exact sorted set of fact CIDs,
// exchanged between peers as an anti-entropy summary. Despite the name
// carried over from the original Bloom-of-CIDs framing (spec §4.1), the
// wire format is exact per spec §6 — a peer that receives a Digest can
// test its own facts against it with zero false positives, never
// silently skipping a fact during sync.
type Digest struct {
	cids []idhash.Hash32
}

// NewDigest builds an empty digest.
func NewDigest() *Digest {
	return &Digest{}
}

// Add inserts a fact CID into the digest, keeping cids sorted and
// deduplicated.
func (d *Digest) Add(cid idhash.Hash32) {
	i := sort.Search(len(d.cids), func(i int) bool {
		return bytes.Compare(d.cids[i][:], cid[:]) >= 0
	})
	if i < len(d.cids) && d.cids[i] == cid {
		return
	}
	d.cids = append(d.cids, idhash.Hash32{})
	copy(d.cids[i+1:], d.cids[i:])
	d.cids[i] = cid
}

// MayContain reports whether cid is present in the digest. Exact: unlike
// a probabilistic filter, false means definitely absent and true means
// definitely present.
func (d *Digest) MayContain(cid idhash.Hash32) bool {
	i := sort.Search(len(d.cids), func(i int) bool {
		return bytes.Compare(d.cids[i][:], cid[:]) >= 0
	})
	return i < len(d.cids) && d.cids[i] == cid
}

// Len returns the number of CIDs in the digest.
func (d *Digest) Len() int { return len(d.cids) }

// BuildDigest constructs a digest summarizing every live fact currently in
// store, suitable for shipping to a peer as an anti-entropy sync request.
func BuildDigest(s *Store) *Digest {
	cids := s.AllCIDs()
	d := NewDigest()
	for _, cid := range cids {
		d.Add(cid)
	}
	return d
}

// Missing returns, from s, the facts whose CID the remote digest does NOT
// contain — the set this side should push to the peer that sent remote
// during an anti-entropy round.
func Missing(s *Store, remote *Digest) []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Fact
	for _, m := range s.byKind {
		for _, f := range m {
			if !remote.MayContain(f.CID()) {
				out = append(out, f)
			}
		}
	}
	return out
}

// Marshal serializes the digest per spec §6: a 4-byte little-endian count
// followed by each CID's 32 bytes in ascending order.
func (d *Digest) Marshal() []byte {
	out := make([]byte, 4+32*len(d.cids))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(d.cids)))
	for i, cid := range d.cids {
		copy(out[4+i*32:4+(i+1)*32], cid[:])
	}
	return out
}

// UnmarshalDigest parses a digest previously produced by Marshal.
func UnmarshalDigest(raw []byte) (*Digest, error) {
	if len(raw) < 4 {
		return nil, errDigestTooShort
	}
	n := binary.LittleEndian.Uint32(raw[0:4])
	raw = raw[4:]
	if uint64(len(raw)) != uint64(n)*32 {
		return nil, errDigestTooShort
	}
	cids := make([]idhash.Hash32, n)
	for i := uint32(0); i < n; i++ {
		copy(cids[i][:], raw[i*32:(i+1)*32])
	}
	return &Digest{cids: cids}, nil
}

var errDigestTooShort = errors.New("journal: digest payload truncated or malformed")
