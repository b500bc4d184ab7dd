package ampnet

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/aura-project/aura-core/idhash"
)

// ConnTransport is a thin net.Conn-based PeerTransport: one long-lived
// connection per peer, length-prefixed frames, a dedicated write queue
// goroutine and read goroutine per connection — the same split the
// teacher's peer.go uses for its readHandler/writeHandler pair, adapted
// from lnwire messages to opaque AMP frames.
type ConnTransport struct {
	mu    sync.Mutex
	conns map[idhash.AuthorityId]net.Conn

	inbound chan InboundFrame
	sendQ   map[idhash.AuthorityId]chan []byte

	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewConnTransport returns an empty ConnTransport; connections are added
// with AddPeer as they're dialed or accepted.
func NewConnTransport(inboundBuf int) *ConnTransport {
	return &ConnTransport{
		conns:   make(map[idhash.AuthorityId]net.Conn),
		sendQ:   make(map[idhash.AuthorityId]chan []byte),
		inbound: make(chan InboundFrame, inboundBuf),
		quit:    make(chan struct{}),
	}
}

var _ PeerTransport = (*ConnTransport)(nil)

// AddPeer registers conn as the transport for peer and starts its
// read/write goroutines. Only one connection per peer is tracked; a
// second AddPeer for the same peer replaces the first.
func (c *ConnTransport) AddPeer(peer idhash.AuthorityId, conn net.Conn) {
	sendCh := make(chan []byte, 64)

	c.mu.Lock()
	c.conns[peer] = conn
	c.sendQ[peer] = sendCh
	c.mu.Unlock()

	c.wg.Add(2)
	go c.readHandler(peer, conn)
	go c.writeHandler(peer, conn, sendCh)
}

// readHandler reads length-prefixed frames off conn and forwards them to
// the shared inbound channel until the connection errors or the
// transport is closed.
//
// NOTE: this method MUST be run as a goroutine.
func (c *ConnTransport) readHandler(peer idhash.AuthorityId, conn net.Conn) {
	defer c.wg.Done()
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		frame := make([]byte, n)
		if _, err := io.ReadFull(conn, frame); err != nil {
			return
		}
		select {
		case c.inbound <- InboundFrame{Peer: peer, Frame: frame}:
		case <-c.quit:
			return
		}
	}
}

// writeHandler drains sendCh onto conn until the transport is closed.
//
// NOTE: this method MUST be run as a goroutine.
func (c *ConnTransport) writeHandler(peer idhash.AuthorityId, conn net.Conn, sendCh chan []byte) {
	defer c.wg.Done()
	for {
		select {
		case frame := <-sendCh:
			var lenBuf [4]byte
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
			if _, err := conn.Write(lenBuf[:]); err != nil {
				return
			}
			if _, err := conn.Write(frame); err != nil {
				return
			}
		case <-c.quit:
			return
		}
	}
}

// Send queues frame for delivery to peer's write goroutine.
func (c *ConnTransport) Send(ctx context.Context, peer idhash.AuthorityId, frame []byte) error {
	c.mu.Lock()
	sendCh, ok := c.sendQ[peer]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("ampnet: no connection registered for peer %s", peer.Short())
	}
	select {
	case sendCh <- frame:
		return nil
	case <-c.quit:
		return fmt.Errorf("ampnet: transport closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inbound returns the channel of frames received from any peer.
func (c *ConnTransport) Inbound() <-chan InboundFrame {
	return c.inbound
}

// Close shuts down every connection and waits for the read/write
// goroutines to exit.
func (c *ConnTransport) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.mu.Lock()
		for _, conn := range c.conns {
			conn.Close()
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
	return nil
}
