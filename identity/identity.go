// Package identity implements the three-layer peer identity model (§4.8):
// ephemeral per-session state, a persisted cryptographic identity, and a
// persisted social identity carrying user-assigned trust metadata.
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package identity

import (
	"time"

	"github.com/bitchat-mesh/bitchat/noise"
	"github.com/bitchat-mesh/bitchat/wire"
)

// HandshakeState mirrors the per-connection handshake progress tracked by
// the ephemeral layer.
type HandshakeState struct {
	kind        handshakeKind
	fingerprint noise.Fingerprint
	reason      string
}

type handshakeKind int

const (
	handshakeNone handshakeKind = iota
	handshakeInProgress
	handshakeCompleted
	handshakeFailed
)

// HandshakeNone is the initial state before any handshake attempt.
func HandshakeNone() HandshakeState { return HandshakeState{kind: handshakeNone} }

// HandshakeInProgress marks a handshake as underway.
func HandshakeInProgress() HandshakeState { return HandshakeState{kind: handshakeInProgress} }

// HandshakeCompleted marks a handshake as having produced fp.
func HandshakeCompleted(fp noise.Fingerprint) HandshakeState {
	return HandshakeState{kind: handshakeCompleted, fingerprint: fp}
}

// HandshakeFailed marks a handshake as failed, with a reason.
func HandshakeFailed(reason string) HandshakeState {
	return HandshakeState{kind: handshakeFailed, reason: reason}
}

// IsComplete reports whether the handshake reached Completed.
func (h HandshakeState) IsComplete() bool { return h.kind == handshakeCompleted }

// Fingerprint returns the fingerprint if the handshake completed.
func (h HandshakeState) Fingerprint() (noise.Fingerprint, bool) {
	return h.fingerprint, h.kind == handshakeCompleted
}

// EphemeralIdentity is per-session, per-process state, discarded on
// restart (§4.8).
type EphemeralIdentity struct {
	PeerID        wire.PeerID
	Handshake     HandshakeState
	SessionStart  time.Time
	LastActivity  time.Time
}

// NewEphemeralIdentity starts a fresh ephemeral identity for peerID.
func NewEphemeralIdentity(peerID wire.PeerID, now time.Time) *EphemeralIdentity {
	return &EphemeralIdentity{
		PeerID:       peerID,
		Handshake:    HandshakeNone(),
		SessionStart: now,
		LastActivity: now,
	}
}

// SetHandshakeState updates the handshake state and touches LastActivity.
func (e *EphemeralIdentity) SetHandshakeState(state HandshakeState, now time.Time) {
	e.Handshake = state
	e.LastActivity = now
}

// CryptographicIdentity is the long-lived, persisted identity: fingerprint,
// Noise public key, optional signing key, and handshake counters (§4.8).
type CryptographicIdentity struct {
	Fingerprint      noise.Fingerprint
	NoisePublicKey   [32]byte
	SigningPublicKey *[32]byte
	FirstSeen        time.Time
	LastHandshake    time.Time
	HandshakeCount   uint32
}

// NewCryptographicIdentity derives a CryptographicIdentity from a peer's
// Noise static public key (and optional Ed25519 signing key).
func NewCryptographicIdentity(noisePub [32]byte, signingPub *[32]byte, now time.Time) *CryptographicIdentity {
	var fp noise.Fingerprint
	// Fingerprint is SHA-256 of the static public key (§4.2); reuse noise's
	// FingerprintOf by round-tripping through crypto/ecdh would require a
	// curve parse, so this package computes it directly from raw bytes via
	// the same construction noise.FingerprintOf uses internally.
	fp = sha256Fingerprint(noisePub)
	return &CryptographicIdentity{
		Fingerprint:    fp,
		NoisePublicKey: noisePub,
		SigningPublicKey: signingPub,
		FirstSeen:      now,
		LastHandshake:  now,
		HandshakeCount: 0,
	}
}

// UpdateHandshakeTime records a successful handshake.
func (c *CryptographicIdentity) UpdateHandshakeTime(now time.Time) {
	c.LastHandshake = now
	c.HandshakeCount++
}

// TrustLevel ranks how much a social identity is trusted, lowest first so
// comparisons (>=) read naturally (§4.8).
type TrustLevel int

const (
	TrustUnknown TrustLevel = iota
	TrustKnown
	TrustTrusted
	TrustVerified
)

// SocialIdentity carries user-assigned metadata about a peer (§4.8).
type SocialIdentity struct {
	Fingerprint     noise.Fingerprint
	ClaimedNickname string
	LocalPetname    string
	TrustLevel      TrustLevel
	IsFavorite      bool
	IsBlocked       bool
	LastInteraction time.Time
	Notes           string
}

// NewSocialIdentity creates a fresh, unknown-trust social identity.
func NewSocialIdentity(fp noise.Fingerprint, now time.Time) *SocialIdentity {
	return &SocialIdentity{Fingerprint: fp, TrustLevel: TrustUnknown, LastInteraction: now}
}

// DisplayName resolves the name to show a user: petname, then claimed
// nickname, then a fingerprint prefix (§4.8).
func (s *SocialIdentity) DisplayName() string {
	if s.LocalPetname != "" {
		return s.LocalPetname
	}
	if s.ClaimedNickname != "" {
		return s.ClaimedNickname
	}
	return fingerprintPrefix(s.Fingerprint)
}

func (s *SocialIdentity) SetClaimedNickname(nickname string, now time.Time) {
	s.ClaimedNickname = nickname
	s.LastInteraction = now
}

func (s *SocialIdentity) SetPetname(petname string, now time.Time) {
	s.LocalPetname = petname
	s.LastInteraction = now
}

func (s *SocialIdentity) SetTrustLevel(level TrustLevel, now time.Time) {
	s.TrustLevel = level
	s.LastInteraction = now
}

func (s *SocialIdentity) SetFavorite(favorite bool, now time.Time) {
	s.IsFavorite = favorite
	s.LastInteraction = now
}

func (s *SocialIdentity) SetBlocked(blocked bool, now time.Time) {
	s.IsBlocked = blocked
	s.LastInteraction = now
}
