// Package session implements the per-peer session state machine (§4.3):
// handshake orchestration, the post-handshake transport ciphers, rekey
// triggers, and idle cleanup.
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package session

import (
	"fmt"
	"time"

	"github.com/bitchat-mesh/bitchat/noise"
	"github.com/bitchat-mesh/bitchat/wire"
)

// State is a session's position in the §4.3 state machine:
//
//	None --initiate--> Handshaking --recv-final--> Established
//	  ^                     |                           |
//	  |                     | timeout/error             | rekey-trigger
//	  |                     v                           v
//	  +---- leave ---- Failed                      Rekeying --complete--> Established
type State int

const (
	StateNone State = iota
	StateHandshaking
	StateEstablished
	StateRekeying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateRekeying:
		return "rekeying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config tunes rekey triggers, timeouts, and idle cleanup (§4.3).
type Config struct {
	HandshakeTimeout     time.Duration // default 30s
	IdleTimeout          time.Duration
	RekeyMessageCount    uint64        // default 1000
	RekeyByteCount       uint64        // 0 disables
	RekeyElapsed         time.Duration // default 1h
	HandshakeRetryBackoff time.Duration
}

// DefaultConfig matches the defaults named in §4.3.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:      30 * time.Second,
		IdleTimeout:           10 * time.Minute,
		RekeyMessageCount:     1000,
		RekeyElapsed:          time.Hour,
		HandshakeRetryBackoff: 2 * time.Second,
	}
}

// Session is one peer's handshake and transport-cipher state.
type Session struct {
	Peer  wire.PeerID
	State State

	handshake *noise.HandshakeState
	send      *noise.CipherState
	recv      *noise.CipherState

	RemoteFingerprint noise.Fingerprint
	EstablishedAt     time.Time
	LastActivity      time.Time
	HandshakeStarted  time.Time

	MessagesSent uint64
	BytesSent    uint64

	cfg Config
}

// NewSession creates a fresh session in StateNone for peer.
func NewSession(peer wire.PeerID, cfg Config) *Session {
	return &Session{Peer: peer, State: StateNone, cfg: cfg}
}

// BeginHandshake transitions None -> Handshaking and constructs the local
// HandshakeState for role.
func (s *Session) BeginHandshake(role noise.Role, static *noise.StaticKeyPair, now time.Time) error {
	if s.State != StateNone && s.State != StateFailed {
		return fmt.Errorf("session: cannot begin handshake from state %s", s.State)
	}
	s.handshake = noise.NewHandshakeState(role, static)
	s.State = StateHandshaking
	s.HandshakeStarted = now
	s.LastActivity = now
	return nil
}

// Handshake exposes the in-progress handshake state machine so Core Logic
// can drive WriteMessageN/ReadMessageN directly.
func (s *Session) Handshake() *noise.HandshakeState { return s.handshake }

// CompleteHandshake transitions Handshaking -> Established, splitting the
// handshake into directional transport ciphers and resetting counters
// (transport counter = 0 per §4.3).
func (s *Session) CompleteHandshake(now time.Time) error {
	if s.State != StateHandshaking && s.State != StateRekeying {
		return fmt.Errorf("session: cannot complete handshake from state %s", s.State)
	}
	send, recv, err := s.handshake.Split()
	if err != nil {
		return err
	}
	remoteStatic := s.handshake.RemoteStatic()
	if remoteStatic == nil {
		return fmt.Errorf("session: handshake completed without remote static key")
	}
	s.send = send
	s.recv = recv
	s.RemoteFingerprint = noise.FingerprintOf(remoteStatic)
	s.State = StateEstablished
	s.EstablishedAt = now
	s.LastActivity = now
	s.MessagesSent = 0
	s.BytesSent = 0
	s.handshake = nil
	return nil
}

// Fail transitions to StateFailed, e.g. on handshake timeout or error.
func (s *Session) Fail(now time.Time) {
	s.State = StateFailed
	s.LastActivity = now
	s.handshake = nil
}

// HandshakeTimedOut reports whether a Handshaking session has exceeded the
// configured handshake timeout (§4.3: default 30s).
func (s *Session) HandshakeTimedOut(now time.Time) bool {
	return s.State == StateHandshaking && now.Sub(s.HandshakeStarted) >= s.cfg.HandshakeTimeout
}

// NeedsRekey reports whether any rekey trigger has fired (§4.3): message
// count, byte count, or elapsed time since establishment.
func (s *Session) NeedsRekey(now time.Time) bool {
	if s.State != StateEstablished {
		return false
	}
	if s.cfg.RekeyMessageCount > 0 && s.MessagesSent >= s.cfg.RekeyMessageCount {
		return true
	}
	if s.cfg.RekeyByteCount > 0 && s.BytesSent >= s.cfg.RekeyByteCount {
		return true
	}
	if s.cfg.RekeyElapsed > 0 && now.Sub(s.EstablishedAt) >= s.cfg.RekeyElapsed {
		return true
	}
	return false
}

// BeginRekey transitions Established -> Rekeying and starts a fresh XX
// handshake in-band. In-flight messages continue under the old send/recv
// ciphers until CompleteHandshake installs the new ones (§4.3): the old
// ciphers are kept, not cleared, until the switch.
func (s *Session) BeginRekey(role noise.Role, static *noise.StaticKeyPair, now time.Time) error {
	if s.State != StateEstablished {
		return fmt.Errorf("session: cannot rekey from state %s", s.State)
	}
	s.handshake = noise.NewHandshakeState(role, static)
	s.State = StateRekeying
	s.HandshakeStarted = now
	return nil
}

// IsIdle reports whether the session has had no activity for the configured
// idle timeout (§4.3).
func (s *Session) IsIdle(now time.Time) bool {
	if s.cfg.IdleTimeout <= 0 {
		return false
	}
	return now.Sub(s.LastActivity) >= s.cfg.IdleTimeout
}

// ErrSessionQuiesced is returned by Encrypt while a rekey is in progress:
// per the resolved Open Question on rekey ordering (§9), a Rekeying session
// stops encrypting new plaintext and lets already-queued ciphertext drain
// before the new cipher pair is installed. Decrypt keeps working under the
// old keys throughout.
var ErrSessionQuiesced = fmt.Errorf("session: quiesced for rekey, not accepting new plaintext")

// Encrypt seals plaintext under the current send cipher, advancing the
// message/byte counters used by rekey triggers. Returns ErrSessionQuiesced
// while a rekey is in progress.
func (s *Session) Encrypt(header, plaintext []byte) (ciphertext []byte, counter uint64, err error) {
	if s.State == StateRekeying {
		return nil, 0, ErrSessionQuiesced
	}
	if s.State != StateEstablished {
		return nil, 0, fmt.Errorf("session: cannot encrypt in state %s", s.State)
	}
	ct, counter, err := s.send.Encrypt(header, plaintext)
	if err != nil {
		return nil, 0, err
	}
	s.MessagesSent++
	s.BytesSent += uint64(len(plaintext))
	return ct, counter, nil
}

// Decrypt opens a NoiseEncrypted payload under the current recv cipher.
func (s *Session) Decrypt(header, ciphertext []byte, counter uint64, now time.Time) ([]byte, error) {
	if s.State != StateEstablished && s.State != StateRekeying {
		return nil, fmt.Errorf("session: cannot decrypt in state %s", s.State)
	}
	pt, err := s.recv.Decrypt(header, ciphertext, counter)
	if err != nil {
		return nil, err
	}
	s.LastActivity = now
	return pt, nil
}

// Leave transitions to StateNone, tearing down cipher state (§4.3).
func (s *Session) Leave(now time.Time) {
	s.State = StateNone
	s.send = nil
	s.recv = nil
	s.handshake = nil
	s.LastActivity = now
}
