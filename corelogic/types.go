// Package corelogic implements the single serialization point described in
// §4.10: one task consuming commands from the application, events from
// transports, and timer ticks from an internal scheduler, and emitting
// effects to transports plus app-facing events back to the application.
// Every mutation to session state, the delivery tracker, the message store,
// and the identity cache happens inside this task's event loop (§5).
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package corelogic

import (
	"time"

	"github.com/bitchat-mesh/bitchat/identity"
	"github.com/bitchat-mesh/bitchat/noise"
	"github.com/bitchat-mesh/bitchat/wire"
)

// CommandKind discriminates Command payloads, one per §6 Application API entry.
type CommandKind int

const (
	CommandSendMessage CommandKind = iota
	CommandStartDiscovery
	CommandStopDiscovery
	CommandSetTrust
	CommandBlock
	CommandUnblock
	CommandSetFavorite
	CommandPauseTransport
	CommandResumeTransport
	CommandRequestStatus
	CommandCreateInvite
	CommandAcceptInvite
	CommandShutdown
)

// Command is a request from the application into Core Logic (§6).
type Command struct {
	Kind CommandKind

	// CommandSendMessage
	To       wire.PeerID
	Content  []byte
	Reliable bool

	// CommandSetTrust / CommandBlock / CommandUnblock / CommandSetFavorite
	Fingerprint noise.Fingerprint
	TrustLevel  identity.TrustLevel
	Favorite    bool

	// CommandPauseTransport / CommandResumeTransport
	TransportName string

	// CommandCreateInvite: seal an invite token to InviteRecipientPub (a
	// 32-byte raw X25519 public key), embedding Nickname as our claimed
	// display name.
	InviteRecipientPub []byte
	Nickname           string

	// CommandAcceptInvite: open a token received out-of-band and seed a
	// SocialIdentity for its sender at trust=Known.
	InviteToken []byte
}

// AppEventKind discriminates AppEvent payloads, one per §6 AppEvents entry.
type AppEventKind int

const (
	AppEventPeerDiscovered AppEventKind = iota
	AppEventSessionEstablished
	AppEventSessionRekeyed
	AppEventMessageReceived
	AppEventMessageSent
	AppEventMessageDelivered
	AppEventDeliveryFailed
	AppEventTransportStatusChanged
	AppEventInviteCreated
	AppEventInviteAccepted
)

// AppEvent is a notification from Core Logic out to the application (§6).
type AppEvent struct {
	Kind AppEventKind

	Peer       wire.PeerID
	Transports []string

	From      wire.PeerID
	Content   []byte
	Timestamp time.Time

	MessageID string
	Reason    string

	TransportName string
	Status        string

	// AppEventInviteCreated
	Token []byte

	// AppEventInviteAccepted
	Fingerprint noise.Fingerprint
	Nickname    string
}

// timerKind discriminates the internal scheduler ticks Core Logic reacts to.
// These are ambient plumbing, not part of the application-facing §6 surface.
type timerKind int

const (
	timerRekeySweep timerKind = iota
	timerSessionSweep
	timerDeliveryRetry
	timerFragmentExpire
	timerRouterDrain
)

type timerTick struct {
	kind timerKind
}
