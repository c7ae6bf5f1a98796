package identity

import (
	"sync"
	"time"

	"github.com/bitchat-mesh/bitchat/noise"
	"github.com/bitchat-mesh/bitchat/wire"
)

// Manager ties the three identity layers together per peer fingerprint.
// Ephemeral state is keyed by the current session's PeerId; cryptographic
// and social state are keyed by the persisted fingerprint and survive
// across ephemeral sessions.
type Manager struct {
	mu          sync.RWMutex
	ephemeral   map[wire.PeerID]*EphemeralIdentity
	crypto      map[noise.Fingerprint]*CryptographicIdentity
	social      map[noise.Fingerprint]*SocialIdentity
	now         func() time.Time
}

// NewManager constructs an empty identity Manager.
func NewManager() *Manager {
	return &Manager{
		ephemeral: make(map[wire.PeerID]*EphemeralIdentity),
		crypto:    make(map[noise.Fingerprint]*CryptographicIdentity),
		social:    make(map[noise.Fingerprint]*SocialIdentity),
		now:       time.Now,
	}
}

// WithClock overrides the manager's clock for deterministic tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// BeginEphemeral starts tracking a new per-session identity for peerID.
func (m *Manager) BeginEphemeral(peerID wire.PeerID) *EphemeralIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := NewEphemeralIdentity(peerID, m.now())
	m.ephemeral[peerID] = e
	return e
}

// EndEphemeral discards the per-session identity for peerID, e.g. on
// process restart or session teardown.
func (m *Manager) EndEphemeral(peerID wire.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ephemeral, peerID)
}

// Ephemeral returns the tracked ephemeral identity for peerID, if any.
func (m *Manager) Ephemeral(peerID wire.PeerID) (*EphemeralIdentity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.ephemeral[peerID]
	return e, ok
}

// EnsureCryptographic returns the persisted cryptographic identity for a
// Noise static public key, creating it on first sight.
func (m *Manager) EnsureCryptographic(noisePub [32]byte, signingPub *[32]byte) *CryptographicIdentity {
	fp := sha256Fingerprint(noisePub)

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.crypto[fp]; ok {
		return c
	}
	c := NewCryptographicIdentity(noisePub, signingPub, m.now())
	m.crypto[fp] = c
	return c
}

// Cryptographic returns the cryptographic identity for a fingerprint.
func (m *Manager) Cryptographic(fp noise.Fingerprint) (*CryptographicIdentity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.crypto[fp]
	return c, ok
}

// EnsureSocial returns the persisted social identity for a fingerprint,
// creating an Unknown-trust one on first sight.
func (m *Manager) EnsureSocial(fp noise.Fingerprint) *SocialIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.social[fp]; ok {
		return s
	}
	s := NewSocialIdentity(fp, m.now())
	m.social[fp] = s
	return s
}

// Social returns the social identity for a fingerprint, if one exists.
func (m *Manager) Social(fp noise.Fingerprint) (*SocialIdentity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.social[fp]
	return s, ok
}

// IsBlocked reports whether the peer behind fp is blocked. Inbound packets
// from blocked peers must be discarded before session state is touched
// (§4.8); callers check this first, before any Noise or session work.
func (m *Manager) IsBlocked(fp noise.Fingerprint) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.social[fp]
	return ok && s.IsBlocked
}

// DisplayName resolves the display name for a fingerprint, falling back to
// the fingerprint prefix if no social identity is known yet.
func (m *Manager) DisplayName(fp noise.Fingerprint) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.social[fp]; ok {
		return s.DisplayName()
	}
	return fingerprintPrefix(fp)
}
