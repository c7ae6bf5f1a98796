// Package transport defines the Transport contract, per-transport health
// tracking, and outbound routing/failover decisions described in §4.9.
// Concrete Transport implementations live in subpackages (loopback, wsloop).
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package transport

import (
	"context"

	"github.com/bitchat-mesh/bitchat/wire"
)

// Event is something a Transport observed: an inbound packet, a peer
// becoming reachable/unreachable, or a send outcome.
type Event struct {
	Kind      EventKind
	Transport string
	Peer      wire.PeerID
	Packet    *wire.Packet
	Err       error
}

// EventKind discriminates Event payloads.
type EventKind int

const (
	EventPacketReceived EventKind = iota
	EventPeerReachable
	EventPeerUnreachable
	EventSendFailed
	EventSendSucceeded
)

// Effect is something Core Logic asks a transport to do: send a packet.
type Effect struct {
	Peer   wire.PeerID
	Packet *wire.Packet
}

// Transport is the contract every concrete transport implements. Attach
// wires the transport to its event sink; Send transmits one packet; Run
// drives the transport until ctx is cancelled.
type Transport interface {
	Name() string
	Attach(events chan<- Event)
	Send(ctx context.Context, peer wire.PeerID, pkt *wire.Packet) error
	Run(ctx context.Context) error
}
