package recovery

import (
	"encoding/binary"

	"github.com/aura-project/aura-core/idhash"
	"github.com/aura-project/aura-core/journal"
)

// RequestedPayload is the journal payload for journal.KindRecoveryRequested.
// Last-writer-wins is meaningless for a request (there is exactly one per
// recovery ID); it uses MergeGrowOnly so a concurrently-replicated copy of
// the same request is idempotent rather than contested.
type RequestedPayload struct {
	RecoveryID idhash.RecoveryId
	Authority  idhash.AuthorityId
	Kind       string
	Threshold  uint32
	Reason     string
}

func (p RequestedPayload) Bytes() []byte {
	out := make([]byte, 0, 16+16+4+4+len(p.Kind)+len(p.Reason))
	out = append(out, p.RecoveryID[:]...)
	out = append(out, p.Authority[:]...)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], p.Threshold)
	out = append(out, u32[:]...)
	binary.BigEndian.PutUint32(u32[:], uint32(len(p.Kind)))
	out = append(out, u32[:]...)
	out = append(out, p.Kind...)
	out = append(out, p.Reason...)
	return out
}

func (p RequestedPayload) MergePolicy() journal.MergePolicy { return journal.MergeGrowOnly }

// ApprovalPayload is the journal payload for journal.KindGuardianApproval:
// grow-only, since every guardian's approval is independently evidentiary
// and none is ever retracted by a later merge.
type ApprovalPayload struct {
	RecoveryID   idhash.RecoveryId
	Guardian     idhash.GuardianId
	ShareData    []byte
	ApprovedAtMs int64
}

func (p ApprovalPayload) Bytes() []byte {
	out := make([]byte, 0, 16+16+8+len(p.ShareData))
	out = append(out, p.RecoveryID[:]...)
	out = append(out, p.Guardian[:]...)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(p.ApprovedAtMs))
	out = append(out, tsBuf[:]...)
	out = append(out, p.ShareData...)
	return out
}

func (p ApprovalPayload) MergePolicy() journal.MergePolicy { return journal.MergeGrowOnly }

// CompletedPayload is the journal payload for journal.KindRecoveryCompleted,
// the terminal record of a recovery run's outcome.
type CompletedPayload struct {
	RecoveryID   idhash.RecoveryId
	Success      bool
	Reason       string
	TimestampMs  int64
	WriterID     string
}

func (p CompletedPayload) Bytes() []byte {
	out := make([]byte, 0, 16+1+len(p.Reason))
	out = append(out, p.RecoveryID[:]...)
	if p.Success {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = append(out, p.Reason...)
	return out
}

func (p CompletedPayload) MergePolicy() journal.MergePolicy { return journal.MergeLww }
func (p CompletedPayload) Timestamp() int64                { return p.TimestampMs }
func (p CompletedPayload) Writer() string                  { return p.WriterID }

var (
	_ journal.Payload    = RequestedPayload{}
	_ journal.Payload    = ApprovalPayload{}
	_ journal.Payload    = CompletedPayload{}
	_ journal.LwwPayload = CompletedPayload{}
)
