package corelogic

import (
	"crypto/ecdh"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bitchat-mesh/bitchat/dedup"
	"github.com/bitchat-mesh/bitchat/fragment"
	"github.com/bitchat-mesh/bitchat/identity"
	"github.com/bitchat-mesh/bitchat/internal/logger"
	"github.com/bitchat-mesh/bitchat/noise"
	"github.com/bitchat-mesh/bitchat/session"
	"github.com/bitchat-mesh/bitchat/store"
	"github.com/bitchat-mesh/bitchat/transport"
	"github.com/bitchat-mesh/bitchat/wire"
)

// defaultTTL is the hop budget stamped on packets this process originates.
const defaultTTL = 7

func peerHex(p wire.PeerID) string { return hex.EncodeToString(p[:]) }

func parsePeerHex(s string) (wire.PeerID, bool) {
	var p wire.PeerID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(p) {
		return p, false
	}
	copy(p[:], b)
	return p, true
}

// adFor derives the associated data used to encrypt/decrypt one logical
// NoiseEncrypted message: the (sender, recipient) PeerId pair. A fragmented
// message's ciphertext spans several independently headered Fragment
// packets, so the 13-byte wire header cannot serve as AD the way it does for
// an unfragmented packet (§4.2) — this pair is reconstructible by both sides
// regardless of fragmentation and identical to what the sender used.
func adFor(from, to wire.PeerID) []byte {
	ad := make([]byte, 0, 2*wire.PeerIDSize)
	ad = append(ad, from[:]...)
	ad = append(ad, to[:]...)
	return ad
}

// maybeDecompress reverses buildOutbound's compression step: when flags
// marks payload as zstd-compressed it is expanded back to the logical
// bytes, otherwise payload is returned as-is.
func (c *Core) maybeDecompress(flags wire.Flags, payload []byte) ([]byte, error) {
	if !flags.Has(wire.FlagIsCompressed) {
		return payload, nil
	}
	return wire.Decompress(payload)
}

func (c *Core) buildPacket(msgType wire.MessageType, peer wire.PeerID, payload []byte) *wire.Packet {
	return &wire.Packet{
		Header: wire.Header{
			Version:     wire.Version1,
			Type:        msgType,
			TTL:         defaultTTL,
			TimestampMs: uint64(c.now().UnixMilli()),
			Flags:       wire.FlagHasRecipient,
		},
		Sender:    c.self,
		Recipient: peer,
	}
}

// buildOutbound wraps payload into one packet, or several Fragment packets
// when it exceeds the configured MTU (§4.4). A payload at least
// CompressionMinSize long is zstd-compressed first when that actually
// shrinks it (compression never competes with fragmentation: it runs
// before the MTU check, not after), and every resulting packet carries
// flags.is-compressed so the receiver decompresses before further
// processing (§4.1).
func (c *Core) buildOutbound(origType wire.MessageType, peer wire.PeerID, payload []byte) ([]*wire.Packet, error) {
	compressed := false
	if len(payload) >= c.cfg.CompressionMinSize {
		if z, err := wire.Compress(payload); err == nil && len(z) < len(payload) {
			payload = z
			compressed = true
		}
	}

	if len(payload) <= c.cfg.MTU {
		pkt := c.buildPacket(origType, peer, payload)
		pkt.Payload = payload
		if compressed {
			pkt.Header.Flags |= wire.FlagIsCompressed
		}
		c.signOutbound(pkt)
		return []*wire.Packet{pkt}, nil
	}
	frags, err := fragment.Split(origType, payload, c.cfg.MTU)
	if err != nil {
		return nil, err
	}
	pkts := make([]*wire.Packet, len(frags))
	for i, f := range frags {
		pkt := c.buildPacket(wire.MessageTypeFragment, peer, nil)
		pkt.Payload = f.Encode()
		if compressed {
			pkt.Header.Flags |= wire.FlagIsCompressed
		}
		c.signOutbound(pkt)
		pkts[i] = pkt
	}
	return pkts, nil
}

// signOutbound sets flags.has-signature and computes pkt.Signature over its
// SignedFields when this Core carries an Ed25519 signing key; a no-op
// otherwise (signing is optional per §4.2).
func (c *Core) signOutbound(pkt *wire.Packet) {
	if c.signingKey == nil {
		return
	}
	pkt.Header.Flags |= wire.FlagHasSignature
	pkt.Signature = c.signingKey.Sign(pkt.SignedFields())
}

// verifyInbound reports whether pkt should be rejected: a signed packet
// whose sender's signing public key is already known but whose signature
// doesn't verify is dropped. An unsigned packet, or a signed packet from a
// sender whose signing key isn't known yet, is accepted (§4.2: unknown
// signing key means the caller cannot verify and must decide separately).
func (c *Core) verifyInbound(pkt *wire.Packet) bool {
	if !pkt.HasSignature() {
		return true
	}
	sess, ok := c.sessions.Get(pkt.Sender)
	if !ok {
		return true
	}
	cid, ok := c.identities.Cryptographic(sess.RemoteFingerprint)
	if !ok || cid.SigningPublicKey == nil {
		return true
	}
	if !noise.Verify((*cid.SigningPublicKey)[:], pkt.SignedFields(), pkt.Signature) {
		c.logWithPeer(pkt.Sender).Warn("dropping packet with invalid signature",
			logger.Err(logger.NewProtocolError(logger.CodeInvalidPacket, "signature verification failed", nil)))
		return false
	}
	return true
}

// routeSend hands pkt to the router, which picks the best reachable
// transport and fails over on send error (§4.9). Paused transports are
// treated as always-failing so the router degrades and routes around them.
func (c *Core) routeSend(peer wire.PeerID, pkt *wire.Packet) error {
	return c.router.Send(peer, pkt, func(t transport.Transport) error {
		c.mu.Lock()
		paused := c.paused[t.Name()]
		c.mu.Unlock()
		if paused {
			return fmt.Errorf("corelogic: transport %s paused", t.Name())
		}
		return t.Send(c.ctx, peer, pkt)
	})
}

func (c *Core) routeSendAll(peer wire.PeerID, pkts []*wire.Packet) error {
	for _, pkt := range pkts {
		if err := c.routeSend(peer, pkt); err != nil {
			return err
		}
	}
	return nil
}

// seedReachability optimistically marks peer reachable over every
// currently registered transport. The router only ever forwards to a
// transport with a recorded reachability sighting (§4.9), normally learned
// from an inbound announce or any received traffic; a brand-new peer we are
// about to contact for the first time has none yet, so first contact has to
// start somewhere rather than queue forever waiting on a sighting that can
// only arrive after the peer has already heard from us.
func (c *Core) seedReachability(peer wire.PeerID) {
	c.mu.Lock()
	names := make([]string, 0, len(c.transports))
	for name := range c.transports {
		names = append(names, name)
	}
	c.mu.Unlock()
	for _, name := range names {
		c.router.ObserveReachable(name, peer)
	}
}

func (c *Core) emitAppEvent(ev AppEvent) {
	select {
	case c.appEvents <- ev:
	default:
		// Application isn't draining fast enough; dropping an event here is
		// preferable to blocking the single Core Logic task (§4.10, §5).
	}
}

// handleCommand applies one Command from the application (§6).
func (c *Core) handleCommand(cmd Command) error {
	switch cmd.Kind {
	case CommandSendMessage:
		c.doSendMessage(cmd.To, cmd.Content, cmd.Reliable)
	case CommandStartDiscovery:
		c.discovering = true
	case CommandStopDiscovery:
		c.discovering = false
	case CommandSetTrust:
		c.identities.EnsureSocial(cmd.Fingerprint).SetTrustLevel(cmd.TrustLevel, c.now())
	case CommandBlock:
		c.identities.EnsureSocial(cmd.Fingerprint).SetBlocked(true, c.now())
	case CommandUnblock:
		c.identities.EnsureSocial(cmd.Fingerprint).SetBlocked(false, c.now())
	case CommandSetFavorite:
		c.identities.EnsureSocial(cmd.Fingerprint).SetFavorite(cmd.Favorite, c.now())
	case CommandPauseTransport:
		c.mu.Lock()
		c.paused[cmd.TransportName] = true
		c.mu.Unlock()
	case CommandResumeTransport:
		c.mu.Lock()
		c.paused[cmd.TransportName] = false
		c.mu.Unlock()
	case CommandCreateInvite:
		c.doCreateInvite(cmd.InviteRecipientPub, cmd.Nickname)
	case CommandAcceptInvite:
		c.doAcceptInvite(cmd.InviteToken)
	case CommandRequestStatus:
		c.mu.Lock()
		names := make([]string, 0, len(c.transports))
		for name := range c.transports {
			names = append(names, name)
		}
		c.mu.Unlock()
		for _, name := range names {
			st, ok := c.router.Health(name)
			if !ok {
				continue
			}
			c.emitAppEvent(AppEvent{Kind: AppEventTransportStatusChanged, TransportName: name, Status: st.String()})
		}
	case CommandShutdown:
		return ErrShutdown
	}
	return nil
}

// doSendMessage implements the SendMessage command: send directly over an
// Established session, or initiate a handshake (queuing content for replay
// on completion) otherwise (§4.3, §4.10).
func (c *Core) doSendMessage(peer wire.PeerID, content []byte, reliable bool) {
	hash := store.ComputeHash(content)
	if sent, _ := c.trySendEncrypted(peer, content, reliable, hash); sent {
		return
	}
	// No Established session yet, or a transient encrypt/route error: queue
	// for replay once the session is healthy, initiating a handshake if
	// none is already underway.
	c.initiateOrQueue(peer, content, reliable, hash)
}

func (c *Core) initiateOrQueue(peer wire.PeerID, content []byte, reliable bool, hash store.Hash) {
	pr := c.peerState(peer)
	pr.pending = append(pr.pending, pendingMessage{content: content, reliable: reliable, hash: hash})

	sess, ok := c.sessions.Get(peer)
	if ok && (sess.State == session.StateHandshaking || sess.State == session.StateRekeying || sess.State == session.StateEstablished) {
		return
	}
	c.seedReachability(peer)
	msg1, err := c.sessions.InitiateHandshake(peer)
	if err != nil {
		return
	}
	pr.handshakeStarted = c.now()
	c.identities.BeginEphemeral(peer).SetHandshakeState(identity.HandshakeInProgress(), c.now())
	_ = c.routeSend(peer, c.buildPacket(wire.MessageTypeNoiseHandshake, peer, msg1))
}

// trySendEncrypted attempts to encrypt and route content right now. It
// returns (true, nil) on success, (false, nil) when no Established session
// exists yet (caller should queue/initiate), and (false, err) on a real
// failure (e.g. quiesced for rekey, or routing error).
func (c *Core) trySendEncrypted(peer wire.PeerID, content []byte, reliable bool, hash store.Hash) (bool, error) {
	sess, ok := c.sessions.Get(peer)
	if !ok || sess.State != session.StateEstablished {
		return false, nil
	}
	if fp := sess.RemoteFingerprint; c.identities.IsBlocked(fp) {
		c.emitAppEvent(AppEvent{Kind: AppEventDeliveryFailed, MessageID: hex.EncodeToString(hash[:]), Reason: "peer blocked"})
		return true, nil
	}

	ad := adFor(c.self, peer)
	ct, _, err := sess.Encrypt(ad, encodeUserMessageFrame(content))
	if err != nil {
		return false, err
	}
	pkts, err := c.buildOutbound(wire.MessageTypeNoiseEncrypted, peer, ct)
	if err != nil {
		return false, err
	}
	if err := c.routeSendAll(peer, pkts); err != nil {
		return false, err
	}

	c.store.Insert(peerHex(c.self), peerHex(peer), content)
	c.sentContent[hash] = content
	if reliable {
		c.delivery.TrackSend(peerHex(peer), [32]byte(hash))
		c.metrics.RecordDeliverySent(false)
	}
	c.emitAppEvent(AppEvent{Kind: AppEventMessageSent, MessageID: hex.EncodeToString(hash[:])})
	return true, nil
}

// flushPending replays a peer's queued outbound messages once its session
// reaches Established (fresh handshake or rekey completion).
func (c *Core) flushPending(peer wire.PeerID) {
	pr := c.peerState(peer)
	pending := pr.pending
	pr.pending = nil
	for _, pm := range pending {
		sent, err := c.trySendEncrypted(peer, pm.content, pm.reliable, pm.hash)
		if !sent && err == nil {
			pr.pending = append(pr.pending, pm)
		}
	}
}

// failPendingFor reports every message queued for peer as failed, e.g. when
// its handshake times out (§4.3, §6 DeliveryFailed).
func (c *Core) failPendingFor(peer wire.PeerID, reason string) {
	pr := c.peerState(peer)
	for _, pm := range pr.pending {
		c.emitAppEvent(AppEvent{Kind: AppEventDeliveryFailed, MessageID: hex.EncodeToString(pm.hash[:]), Reason: reason})
	}
	pr.pending = nil
}

// doCreateInvite seals an out-of-band invite token to recipientPubRaw (a
// 32-byte raw X25519 public key), embedding our own fingerprint, Noise
// public key, and nickname so the recipient can seed a SocialIdentity for
// us at trust=Known before any Noise session exists (§4.8 bootstrap).
func (c *Core) doCreateInvite(recipientPubRaw []byte, nickname string) {
	if len(recipientPubRaw) != 32 {
		c.emitAppEvent(AppEvent{Kind: AppEventDeliveryFailed, Reason: "invite: recipient public key must be 32 bytes"})
		return
	}
	recipientPub, err := ecdh.X25519().NewPublicKey(recipientPubRaw)
	if err != nil {
		c.emitAppEvent(AppEvent{Kind: AppEventDeliveryFailed, Reason: fmt.Sprintf("invite: %v", err)})
		return
	}
	payload := noise.InvitePayload{
		Fingerprint:    noise.FingerprintOf(c.static.Public),
		Nickname:       nickname,
		NoisePublicKey: append([]byte(nil), c.static.Public.Bytes()...),
	}
	token, err := noise.SealInvite(recipientPub, payload)
	if err != nil {
		c.emitAppEvent(AppEvent{Kind: AppEventDeliveryFailed, Reason: fmt.Sprintf("invite: %v", err)})
		return
	}
	c.emitAppEvent(AppEvent{Kind: AppEventInviteCreated, Token: token})
}

// doAcceptInvite opens a token received out-of-band and seeds a
// SocialIdentity for its sender at trust=Known, ahead of any Noise
// handshake with that peer (§4.8 bootstrap).
func (c *Core) doAcceptInvite(token []byte) {
	payload, err := noise.OpenInvite(c.static.Private, token)
	if err != nil {
		c.emitAppEvent(AppEvent{Kind: AppEventDeliveryFailed, Reason: fmt.Sprintf("invite: %v", err)})
		return
	}
	if len(payload.NoisePublicKey) != 32 {
		c.emitAppEvent(AppEvent{Kind: AppEventDeliveryFailed, Reason: "invite: malformed sender public key"})
		return
	}
	var noisePub [32]byte
	copy(noisePub[:], payload.NoisePublicKey)
	cid := c.identities.EnsureCryptographic(noisePub, nil)
	social := c.identities.EnsureSocial(cid.Fingerprint)
	if payload.Nickname != "" {
		social.SetClaimedNickname(payload.Nickname, c.now())
	}
	social.SetTrustLevel(identity.TrustKnown, c.now())
	c.emitAppEvent(AppEvent{Kind: AppEventInviteAccepted, Fingerprint: cid.Fingerprint, Nickname: payload.Nickname})
}

// handleEvent applies one Event reported by a transport (§4.9, §4.10).
func (c *Core) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventPacketReceived:
		c.handlePacket(ev)
	case transport.EventPeerReachable:
		c.router.ObserveReachable(ev.Transport, ev.Peer)
		c.emitAppEvent(AppEvent{Kind: AppEventPeerDiscovered, Peer: ev.Peer, Transports: []string{ev.Transport}})
	case transport.EventPeerUnreachable:
		// Reachability sightings age out via the router's own TTL; no
		// immediate action needed.
	case transport.EventSendFailed, transport.EventSendSucceeded:
		// Our two concrete transports report send outcomes synchronously
		// through the routeSend call itself; these async variants are for
		// future transports whose Send returns before the outcome is known.
	}
}

func (c *Core) handlePacket(ev transport.Event) {
	pkt := ev.Packet
	if pkt == nil {
		return
	}
	id := dedup.ComputePacketID(pkt.Sender[:], pkt.Header.TimestampMs, pkt.Payload)
	seen, err := c.dedupe.Seen(id)
	if err != nil {
		return
	}
	c.metrics.RecordDedup(seen)
	if seen {
		return
	}
	if !c.verifyInbound(pkt) {
		return
	}
	if sess, ok := c.sessions.Get(pkt.Sender); ok && c.identities.IsBlocked(sess.RemoteFingerprint) {
		return
	}
	c.router.ObserveReachable(ev.Transport, pkt.Sender)

	switch pkt.Header.Type {
	case wire.MessageTypeAnnounce:
		c.handleAnnounce(pkt)
	case wire.MessageTypeNoiseHandshake:
		c.handleHandshakeMessage(pkt.Sender, pkt.Payload)
	case wire.MessageTypeFragment:
		f, err := wire.DecodeFragmentPayload(pkt.Payload)
		if err != nil {
			return
		}
		pendingBefore := c.reasm.Pending()
		result, complete, err := c.reasm.Add(pkt.Sender, f)
		if err != nil {
			return
		}
		if !complete {
			if c.reasm.Pending() > pendingBefore {
				c.metrics.RecordFragmentGroupStart()
			}
			return
		}
		c.metrics.RecordFragmentGroupDone(true)
		payload, err := c.maybeDecompress(pkt.Header.Flags, result.Payload)
		if err != nil {
			return
		}
		c.handleReassembled(pkt.Sender, payload)
	case wire.MessageTypeNoiseEncrypted:
		payload, err := c.maybeDecompress(pkt.Header.Flags, pkt.Payload)
		if err != nil {
			return
		}
		c.handleReassembled(pkt.Sender, payload)
	case wire.MessageTypeLeave:
		c.sessions.Leave(pkt.Sender)
		c.identities.EndEphemeral(pkt.Sender)
	case wire.MessageTypeMessage, wire.MessageTypeRequestSync, wire.MessageTypeFileTransfer:
		// No behavior defined for these beyond the frozen wire shapes; left
		// as a documented no-op, matching the RequestSync open-question note.
	}
}

func (c *Core) handleAnnounce(pkt *wire.Packet) {
	a, err := wire.DecodeAnnounce(pkt.Payload)
	if err != nil || len(a.NoisePublicKey) != 32 {
		return
	}
	var noisePub [32]byte
	copy(noisePub[:], a.NoisePublicKey)
	var signingPub *[32]byte
	if len(a.SigningPublicKey) == 32 {
		var sp [32]byte
		copy(sp[:], a.SigningPublicKey)
		signingPub = &sp
	}
	cid := c.identities.EnsureCryptographic(noisePub, signingPub)
	if a.Nickname != "" {
		c.identities.EnsureSocial(cid.Fingerprint).SetClaimedNickname(a.Nickname, c.now())
	}
	c.emitAppEvent(AppEvent{Kind: AppEventPeerDiscovered, Peer: pkt.Sender})
}

// handleReassembled decrypts and dispatches one complete NoiseEncrypted
// application message, after defragmentation if it was split (§4.1, §4.6).
func (c *Core) handleReassembled(sender wire.PeerID, ciphertext []byte) {
	sess, ok := c.sessions.Get(sender)
	if !ok || (sess.State != session.StateEstablished && sess.State != session.StateRekeying) {
		return
	}
	pr := c.peerState(sender)
	ad := adFor(sender, c.self)
	pt, err := sess.Decrypt(ad, ciphertext, pr.recvCounter, c.now())
	if err != nil {
		c.logWithPeer(sender).Warn("dropping undecryptable packet",
			logger.Err(logger.NewProtocolError(logger.CodeCryptoFailure, "session decrypt failed", err)))
		return
	}
	pr.recvCounter++

	ft, body, err := decodeFrame(pt)
	if err != nil {
		return
	}
	switch ft {
	case frameUserMessage:
		c.store.Insert(peerHex(sender), peerHex(c.self), body)
		c.emitAppEvent(AppEvent{Kind: AppEventMessageReceived, From: sender, Content: body, Timestamp: c.now()})
		c.sendAck(sender, store.ComputeHash(body))
	case frameDeliveryAck:
		if len(body) != 32 {
			return
		}
		var hash [32]byte
		copy(hash[:], body)
		if id, ok := c.delivery.Ack(hash); ok {
			sinceSend := time.Duration(0)
			if tm, ok := c.delivery.Get(id); ok {
				sinceSend = c.now().Sub(tm.SentAt)
			}
			c.metrics.RecordDeliveryOutcome(true, sinceSend)
			c.emitAppEvent(AppEvent{Kind: AppEventMessageDelivered, MessageID: id})
		}
	case frameReadReceipt:
		// No AppEvent is defined for read receipts in the application API;
		// left as a documented no-op.
	}
}

// sendAck replies to a received user message with a DeliveryAck frame,
// best-effort: failure to send the ack never blocks or fails the receive.
func (c *Core) sendAck(peer wire.PeerID, hash store.Hash) {
	sess, ok := c.sessions.Get(peer)
	if !ok || sess.State != session.StateEstablished {
		return
	}
	ad := adFor(c.self, peer)
	ct, _, err := sess.Encrypt(ad, encodeDeliveryAckFrame(hash))
	if err != nil {
		return
	}
	pkts, err := c.buildOutbound(wire.MessageTypeNoiseEncrypted, peer, ct)
	if err != nil {
		return
	}
	_ = c.routeSendAll(peer, pkts)
}

// handleHandshakeMessage dispatches one inbound NoiseHandshake packet to the
// correct handshake step, covering a fresh handshake, a peer-initiated
// rekey, and continuing an in-progress handshake/rekey as either role
// (§4.3).
func (c *Core) handleHandshakeMessage(peer wire.PeerID, payload []byte) {
	sess, ok := c.sessions.Get(peer)

	if !ok || sess.State == session.StateNone || sess.State == session.StateFailed {
		msg2, err := c.sessions.AcceptHandshake(peer, payload)
		if err != nil {
			return
		}
		c.peerState(peer).handshakeStarted = c.now()
		c.identities.BeginEphemeral(peer).SetHandshakeState(identity.HandshakeInProgress(), c.now())
		_ = c.routeSend(peer, c.buildPacket(wire.MessageTypeNoiseHandshake, peer, msg2))
		return
	}

	if sess.State == session.StateEstablished {
		// Peer-initiated rekey: message 1 arriving on an already-Established
		// session starts a fresh XX handshake in the Responder role.
		if err := sess.BeginRekey(noise.Responder, c.static, c.now()); err != nil {
			return
		}
		if err := sess.Handshake().ReadMessage1(payload); err != nil {
			sess.Fail(c.now())
			return
		}
		msg2, err := sess.Handshake().WriteMessage2()
		if err != nil {
			sess.Fail(c.now())
			return
		}
		pr := c.peerState(peer)
		pr.rekeying = true
		pr.handshakeStarted = c.now()
		_ = c.routeSend(peer, c.buildPacket(wire.MessageTypeNoiseHandshake, peer, msg2))
		return
	}

	// Handshaking or Rekeying: continue the in-progress exchange.
	hs := sess.Handshake()
	switch {
	case hs.Role() == noise.Initiator && hs.Step() == 1:
		if err := hs.ReadMessage2(payload); err != nil {
			c.failHandshake(peer, sess)
			return
		}
		msg3, err := hs.WriteMessage3()
		if err != nil {
			c.failHandshake(peer, sess)
			return
		}
		wasRekey := c.peerState(peer).rekeying
		if err := sess.CompleteHandshake(c.now()); err != nil {
			c.failHandshake(peer, sess)
			return
		}
		_ = c.routeSend(peer, c.buildPacket(wire.MessageTypeNoiseHandshake, peer, msg3))
		c.recordHandshakeDone(peer, wasRekey)
		c.onSessionReady(peer, wasRekey)
	case hs.Role() == noise.Responder && hs.Step() == 2:
		if err := hs.ReadMessage3(payload); err != nil {
			c.failHandshake(peer, sess)
			return
		}
		wasRekey := c.peerState(peer).rekeying
		if err := sess.CompleteHandshake(c.now()); err != nil {
			c.failHandshake(peer, sess)
			return
		}
		c.recordHandshakeDone(peer, wasRekey)
		c.onSessionReady(peer, wasRekey)
	}
}

// failHandshake fails sess and records the handshake-duration metric as a
// failure, guarding against a zero handshakeStarted (set only once the
// first message of this attempt was actually sent/accepted).
func (c *Core) failHandshake(peer wire.PeerID, sess *session.Session) {
	sess.Fail(c.now())
	c.logWithPeer(peer).Warn("handshake failed",
		logger.Err(logger.NewProtocolError(logger.CodeSessionError, "handshake failed", nil)))
	if eph, ok := c.identities.Ephemeral(peer); ok {
		eph.SetHandshakeState(identity.HandshakeFailed("handshake failed"), c.now())
	}
	pr := c.peerState(peer)
	if pr.handshakeStarted.IsZero() {
		return
	}
	c.metrics.RecordHandshake(false, c.now().Sub(pr.handshakeStarted))
	pr.handshakeStarted = time.Time{}
}

// logWithPeer derives a logger carrying peer's hex id as log context, so
// every entry for one peer's handshake/session lifecycle can be correlated
// (§7 error taxonomy, ambient structured logging).
func (c *Core) logWithPeer(peer wire.PeerID) logger.Logger {
	return c.log.WithContext(logger.WithPeerID(c.ctx, peerHex(peer)))
}

// recordHandshakeDone records a successful handshake/rekey completion's
// duration, and the rekey counter when this attempt was a rekey rather than
// an initial handshake.
func (c *Core) recordHandshakeDone(peer wire.PeerID, wasRekey bool) {
	pr := c.peerState(peer)
	if !pr.handshakeStarted.IsZero() {
		c.metrics.RecordHandshake(true, c.now().Sub(pr.handshakeStarted))
		pr.handshakeStarted = time.Time{}
	}
	if wasRekey {
		c.metrics.RecordRekey()
	}
}

func (c *Core) onSessionReady(peer wire.PeerID, wasRekey bool) {
	pr := c.peerState(peer)
	pr.rekeying = false
	pr.recvCounter = 0
	if sess, ok := c.sessions.Get(peer); ok {
		if eph, ok := c.identities.Ephemeral(peer); ok {
			eph.SetHandshakeState(identity.HandshakeCompleted(sess.RemoteFingerprint), c.now())
		}
	}
	if wasRekey {
		c.emitAppEvent(AppEvent{Kind: AppEventSessionRekeyed, Peer: peer})
	} else {
		c.emitAppEvent(AppEvent{Kind: AppEventSessionEstablished, Peer: peer})
	}
	c.flushPending(peer)
}

// handleTimer reacts to one internal scheduler tick (§4.3, §4.6, §4.9).
func (c *Core) handleTimer(t timerTick) {
	switch t.kind {
	case timerRekeySweep:
		c.sweepRekeys()
	case timerSessionSweep:
		timedOut, _ := c.sessions.Sweep()
		for _, peer := range timedOut {
			c.failPendingFor(peer, "session handshake timed out")
		}
		st := c.sessions.Stats()
		c.metrics.SetSessionGauges(st.Established, st.Handshaking, st.Rekeying, st.Failed)
	case timerDeliveryRetry:
		c.sweepDeliveryRetries()
	case timerFragmentExpire:
		for i := 0; i < c.reasm.ExpireStale(); i++ {
			c.metrics.RecordFragmentGroupDone(false)
		}
	case timerRouterDrain:
		c.drainRouter()
	}
}

func (c *Core) sweepRekeys() {
	for _, peer := range c.sessions.DueForRekey() {
		sess, ok := c.sessions.Get(peer)
		if !ok {
			continue
		}
		if err := sess.BeginRekey(noise.Initiator, c.static, c.now()); err != nil {
			continue
		}
		msg1, err := sess.Handshake().WriteMessage1()
		if err != nil {
			continue
		}
		pr := c.peerState(peer)
		pr.rekeying = true
		pr.handshakeStarted = c.now()
		_ = c.routeSend(peer, c.buildPacket(wire.MessageTypeNoiseHandshake, peer, msg1))
	}
}

func (c *Core) sweepDeliveryRetries() {
	retries, failed := c.delivery.DueForRetry()
	for _, tm := range retries {
		peer, ok := parsePeerHex(tm.Peer)
		if !ok {
			continue
		}
		content, ok := c.sentContent[store.Hash(tm.MessageHash)]
		if !ok {
			continue
		}
		sess, ok := c.sessions.Get(peer)
		if !ok || sess.State != session.StateEstablished {
			continue
		}
		ad := adFor(c.self, peer)
		ct, _, err := sess.Encrypt(ad, encodeUserMessageFrame(content))
		if err != nil {
			continue
		}
		pkts, err := c.buildOutbound(wire.MessageTypeNoiseEncrypted, peer, ct)
		if err != nil {
			continue
		}
		if err := c.routeSendAll(peer, pkts); err == nil {
			c.metrics.RecordDeliverySent(true)
		}
	}
	for _, f := range failed {
		msgID := f.ID
		sinceSend := time.Duration(0)
		if tm, ok := c.delivery.Get(f.ID); ok {
			msgID = hex.EncodeToString(tm.MessageHash[:])
			sinceSend = c.now().Sub(tm.SentAt)
		}
		c.metrics.RecordDeliveryOutcome(false, sinceSend)
		c.emitAppEvent(AppEvent{Kind: AppEventDeliveryFailed, MessageID: msgID, Reason: "retries exhausted"})
	}
	c.delivery.GC()
}

func (c *Core) drainRouter() {
	_, expired := c.router.Drain(func(t transport.Transport, peer wire.PeerID, pkt *wire.Packet) error {
		c.mu.Lock()
		paused := c.paused[t.Name()]
		c.mu.Unlock()
		if paused {
			return fmt.Errorf("corelogic: transport %s paused", t.Name())
		}
		return t.Send(c.ctx, peer, pkt)
	})
	for range expired {
		// The router's TTL queue carries only the wire packet, not the
		// content hash that produced it, so the failure can't be correlated
		// back to a specific MessageID here; surfaced with a generic reason.
		c.log.Warn("route queue entry expired",
			logger.Err(logger.NewProtocolError(logger.CodeTransportError, "no transport reached peer before route TTL", nil)))
		c.emitAppEvent(AppEvent{Kind: AppEventDeliveryFailed, Reason: "route ttl expired before a transport reached the peer"})
	}

	c.mu.Lock()
	names := make([]string, 0, len(c.transports))
	for name := range c.transports {
		names = append(names, name)
	}
	c.mu.Unlock()
	for _, name := range names {
		st, ok := c.router.Health(name)
		if !ok {
			continue
		}
		if last, seen := c.lastHealth[name]; !seen || last != st {
			c.lastHealth[name] = st
			c.emitAppEvent(AppEvent{Kind: AppEventTransportStatusChanged, TransportName: name, Status: st.String()})
		}
	}
}
