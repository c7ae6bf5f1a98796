// Package loopback provides an in-process Transport that wires two or more
// peers directly together, analogous to the StubTransportTask described for
// the testing::mocks module in the reference implementation. It never
// touches a socket; every Send is a direct handoff to the recipient's event
// channel.
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/bitchat-mesh/bitchat/transport"
	"github.com/bitchat-mesh/bitchat/wire"
)

// Network is the shared medium a set of Transport instances are registered
// on. It routes Send calls to the matching peer's attached event channel.
type Network struct {
	mu    sync.Mutex
	peers map[wire.PeerID]*Transport
}

// NewNetwork constructs an empty in-process network.
func NewNetwork() *Network {
	return &Network{peers: make(map[wire.PeerID]*Transport)}
}

// Join registers t under id on the network, returning t for chaining.
func (n *Network) Join(id wire.PeerID, t *Transport) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	t.self = id
	t.net = n
	n.peers[id] = t
	return t
}

func (n *Network) deliver(from, to wire.PeerID, pkt *wire.Packet) error {
	n.mu.Lock()
	dst, ok := n.peers[to]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("loopback: no peer %x joined to network", to)
	}
	dst.mu.Lock()
	events := dst.events
	dst.mu.Unlock()
	if events == nil {
		return fmt.Errorf("loopback: peer %x not attached", to)
	}
	events <- transport.Event{Kind: transport.EventPacketReceived, Transport: dst.Name(), Peer: from, Packet: pkt}
	return nil
}

// Transport is one peer's handle onto a Network. It implements
// transport.Transport.
type Transport struct {
	self wire.PeerID
	net  *Network

	mu     sync.Mutex
	events chan<- transport.Event
}

// Name returns the fixed transport identifier used for routing priority.
func (t *Transport) Name() string { return "loopback" }

// Attach stores the event sink Core Logic will receive inbound events on.
func (t *Transport) Attach(events chan<- transport.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = events
}

// Send hands pkt directly to the recipient's attached event channel.
func (t *Transport) Send(ctx context.Context, peer wire.PeerID, pkt *wire.Packet) error {
	if t.net == nil {
		return fmt.Errorf("loopback: transport not joined to a network")
	}
	if err := t.net.deliver(t.self, peer, pkt); err != nil {
		return err
	}
	t.mu.Lock()
	events := t.events
	t.mu.Unlock()
	if events != nil {
		select {
		case events <- transport.Event{Kind: transport.EventSendSucceeded, Transport: t.Name(), Peer: peer, Packet: pkt}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Run blocks until ctx is cancelled; the loopback transport has no
// independent I/O loop of its own, every delivery happens synchronously
// inside Send.
func (t *Transport) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
