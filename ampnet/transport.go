// Package ampnet is the ambient "send bytes to a peer" collaborator AMP
// needs to exercise sends and receives end to end. Concrete network I/O
// is out of the spec's scope; this package stays strictly below the AMP
// envelope boundary and never appears on spec.md's operation surface.
package ampnet

import (
	"context"

	"github.com/aura-project/aura-core/idhash"
)

// PeerTransport sends and receives opaque framed bytes (already-encoded
// ampwire.Envelope payloads) to/from a peer authority. AMP owns framing
// and security; a PeerTransport only moves bytes.
type PeerTransport interface {
	// Send delivers frame to peer. It blocks until the frame is handed
	// off to the transport's send queue, not until the peer acks it.
	Send(ctx context.Context, peer idhash.AuthorityId, frame []byte) error

	// Inbound returns the channel of frames received from any peer.
	Inbound() <-chan InboundFrame

	// Close shuts the transport down. It does not close the channel
	// Inbound returns, so a pending Inbound reader is not woken by Close.
	Close() error
}

// InboundFrame pairs a received frame with the peer it arrived from.
type InboundFrame struct {
	Peer  idhash.AuthorityId
	Frame []byte
}
