// Package simnet is an in-memory ampnet.PeerTransport fake used by tests
// and simulation: sends to a registered peer are delivered directly into
// that peer's inbound channel, with no real I/O.
package simnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/aura-project/aura-core/ampnet"
	"github.com/aura-project/aura-core/idhash"
)

// Network is a shared registry of simnet transports, modeling a single
// reachability domain every registered authority can address directly.
type Network struct {
	mu    sync.Mutex
	peers map[idhash.AuthorityId]*Transport
}

// NewNetwork returns an empty simnet network.
func NewNetwork() *Network {
	return &Network{peers: make(map[idhash.AuthorityId]*Transport)}
}

// Register creates and registers a transport for authority, with an
// inbound queue of the given buffer size.
func (n *Network) Register(authority idhash.AuthorityId, bufSize int) *Transport {
	t := &Transport{
		self:    authority,
		network: n,
		inbound: make(chan ampnet.InboundFrame, bufSize),
		quit:    make(chan struct{}),
	}
	n.mu.Lock()
	n.peers[authority] = t
	n.mu.Unlock()
	return t
}

func (n *Network) lookup(authority idhash.AuthorityId) (*Transport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.peers[authority]
	return t, ok
}

// Transport is one authority's handle into a simnet Network.
type Transport struct {
	self    idhash.AuthorityId
	network *Network
	inbound chan ampnet.InboundFrame

	closeOnce sync.Once
	quit      chan struct{}
}

var _ ampnet.PeerTransport = (*Transport)(nil)

// Send delivers frame directly into peer's inbound queue, dropping it
// (non-blocking) if that peer isn't registered or its queue is full —
// matching a real transport's best-effort delivery.
func (t *Transport) Send(ctx context.Context, peer idhash.AuthorityId, frame []byte) error {
	dest, ok := t.network.lookup(peer)
	if !ok {
		return fmt.Errorf("simnet: peer %s not reachable", peer.Short())
	}
	select {
	case dest.inbound <- ampnet.InboundFrame{Peer: t.self, Frame: frame}:
		return nil
	case <-dest.quit:
		return fmt.Errorf("simnet: peer %s closed", peer.Short())
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("simnet: peer %s inbound queue full", peer.Short())
	}
}

// Inbound returns the channel of frames received from any peer.
func (t *Transport) Inbound() <-chan ampnet.InboundFrame {
	return t.inbound
}

// Close marks the transport closed. The Inbound channel is left open, so
// a pending Inbound reader is not woken by Close.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.quit) })
	return nil
}
