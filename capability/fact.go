package capability

import (
	"encoding/binary"

	"github.com/aura-project/aura-core/idhash"
	"github.com/aura-project/aura-core/journal"
)

// GrantedPayload is the journal payload for journal.KindCapabilityGranted:
// grow-only, since a capability once issued remains a historical fact even
// after revocation (revocation is tracked separately, by
// journal.KindCapabilityRevoked).
type GrantedPayload struct {
	CapabilityID idhash.Hash32
	Subject      Subject
	MacaroonBin  []byte
}

func (p GrantedPayload) Bytes() []byte {
	out := make([]byte, 0, 32+1+16+4+len(p.MacaroonBin))
	out = append(out, p.CapabilityID[:]...)
	out = append(out, p.Subject.Bytes()...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p.MacaroonBin)))
	out = append(out, lenBuf[:]...)
	out = append(out, p.MacaroonBin...)
	return out
}

func (p GrantedPayload) MergePolicy() journal.MergePolicy { return journal.MergeGrowOnly }

// RevokedPayload is the journal payload for journal.KindCapabilityRevoked:
// grow-only set of revoked capability IDs for one subject. The journal
// does not union two such payloads: a differing fact for the same subject
// replaces the stored one, so each payload written carries the subject's
// full revoked set.
type RevokedPayload struct {
	RevokedIDs [][32]byte
}

func (p RevokedPayload) Bytes() []byte {
	out := make([]byte, 0, len(p.RevokedIDs)*32)
	for _, id := range p.RevokedIDs {
		out = append(out, id[:]...)
	}
	return out
}

func (p RevokedPayload) MergePolicy() journal.MergePolicy { return journal.MergeGrowOnly }

var (
	_ journal.Payload = GrantedPayload{}
	_ journal.Payload = RevokedPayload{}
)
