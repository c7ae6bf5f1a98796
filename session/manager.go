package session

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bitchat-mesh/bitchat/noise"
	"github.com/bitchat-mesh/bitchat/wire"
)

// Manager owns every peer's Session, keyed by PeerId, with a singleflight
// group guarding concurrent handshake initiation to the same peer and a
// background ticker retiring idle sessions. Grounded on the teacher's
// RWMutex-protected session map plus cleanup ticker, adapted to a
// Noise-XX/per-peer model instead of a single shared-secret session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[wire.PeerID]*Session
	cfg      Config
	static   *noise.StaticKeyPair

	initSF singleflight.Group

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	now           func() time.Time
}

// NewManager constructs a Manager using static as this process's Noise
// identity key for every session it initiates or accepts.
func NewManager(static *noise.StaticKeyPair, cfg Config) *Manager {
	m := &Manager{
		sessions:    make(map[wire.PeerID]*Session),
		cfg:         cfg,
		static:      static,
		stopCleanup: make(chan struct{}),
		now:         time.Now,
	}
	return m
}

// WithClock overrides the manager's clock for deterministic tests; must be
// called before StartCleanup.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// StartCleanup begins the background idle/timeout sweep at the given
// interval. Tests that want deterministic control call Sweep directly
// instead and never call StartCleanup.
func (m *Manager) StartCleanup(interval time.Duration) {
	m.cleanupTicker = time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-m.cleanupTicker.C:
				m.Sweep()
			case <-m.stopCleanup:
				return
			}
		}
	}()
}

// Close stops the background cleanup goroutine.
func (m *Manager) Close() {
	if m.cleanupTicker != nil {
		m.cleanupTicker.Stop()
	}
	close(m.stopCleanup)
}

// Get returns the session for peer, if any.
func (m *Manager) Get(peer wire.PeerID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[peer]
	return s, ok
}

// getOrCreate returns the existing session for peer or creates a fresh
// StateNone one.
func (m *Manager) getOrCreate(peer wire.PeerID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[peer]
	if !ok {
		s = NewSession(peer, m.cfg)
		m.sessions[peer] = s
	}
	return s
}

// InitiateHandshake begins a handshake to peer as the initiator. Concurrent
// calls for the same peer are collapsed via singleflight so at most one
// handshake is ever in flight per peer, grounded on the teacher's
// singleflight-guarded session-establishment pattern.
func (m *Manager) InitiateHandshake(peer wire.PeerID) (msg1 []byte, err error) {
	key := fmt.Sprintf("%x", peer)
	v, err, _ := m.initSF.Do(key, func() (interface{}, error) {
		s := m.getOrCreate(peer)
		if s.State == StateHandshaking {
			return s.handshake.WriteMessage1()
		}
		if err := s.BeginHandshake(noise.Initiator, m.static, m.now()); err != nil {
			return nil, err
		}
		return s.handshake.WriteMessage1()
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// AcceptHandshake begins a handshake to peer as the responder, reading the
// initiator's first message.
func (m *Manager) AcceptHandshake(peer wire.PeerID, msg1 []byte) (msg2 []byte, err error) {
	s := m.getOrCreate(peer)
	if err := s.BeginHandshake(noise.Responder, m.static, m.now()); err != nil {
		return nil, err
	}
	if err := s.handshake.ReadMessage1(msg1); err != nil {
		s.Fail(m.now())
		return nil, err
	}
	out, err := s.handshake.WriteMessage2()
	if err != nil {
		s.Fail(m.now())
		return nil, err
	}
	return out, nil
}

// ContinueInitiatorHandshake reads message 2 and produces message 3,
// completing the handshake on the initiator side.
func (m *Manager) ContinueInitiatorHandshake(peer wire.PeerID, msg2 []byte) (msg3 []byte, err error) {
	s, ok := m.Get(peer)
	if !ok || s.handshake == nil {
		return nil, fmt.Errorf("session: no in-progress handshake for peer")
	}
	if err := s.handshake.ReadMessage2(msg2); err != nil {
		s.Fail(m.now())
		return nil, err
	}
	out, err := s.handshake.WriteMessage3()
	if err != nil {
		s.Fail(m.now())
		return nil, err
	}
	if err := s.CompleteHandshake(m.now()); err != nil {
		s.Fail(m.now())
		return nil, err
	}
	return out, nil
}

// CompleteResponderHandshake reads message 3, completing the handshake on
// the responder side.
func (m *Manager) CompleteResponderHandshake(peer wire.PeerID, msg3 []byte) error {
	s, ok := m.Get(peer)
	if !ok || s.handshake == nil {
		return fmt.Errorf("session: no in-progress handshake for peer")
	}
	if err := s.handshake.ReadMessage3(msg3); err != nil {
		s.Fail(m.now())
		return err
	}
	if err := s.CompleteHandshake(m.now()); err != nil {
		s.Fail(m.now())
		return err
	}
	return nil
}

// Leave tears down the session for peer (§4.3).
func (m *Manager) Leave(peer wire.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[peer]; ok {
		s.Leave(m.now())
	}
}

// Sweep walks every session, failing timed-out handshakes and transitioning
// idle established sessions to None (§4.3). Returns the peers affected, for
// callers (Core Logic) to surface as events.
func (m *Manager) Sweep() (timedOut, idled []wire.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for peer, s := range m.sessions {
		switch {
		case s.HandshakeTimedOut(now):
			s.Fail(now)
			timedOut = append(timedOut, peer)
		case s.State == StateEstablished && s.IsIdle(now):
			s.Leave(now)
			idled = append(idled, peer)
		}
	}
	return timedOut, idled
}

// DueForRekey returns peers whose established session has crossed a rekey
// trigger (§4.3).
func (m *Manager) DueForRekey() []wire.PeerID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var due []wire.PeerID
	for peer, s := range m.sessions {
		if s.NeedsRekey(now) {
			due = append(due, peer)
		}
	}
	return due
}

// Stats summarizes session counts by state, mirroring the teacher's
// GetSessionStats shape.
type Stats struct {
	Total        int
	Established  int
	Handshaking  int
	Rekeying     int
	Failed       int
}

// Stats returns current session counts by state.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st Stats
	st.Total = len(m.sessions)
	for _, s := range m.sessions {
		switch s.State {
		case StateEstablished:
			st.Established++
		case StateHandshaking:
			st.Handshaking++
		case StateRekeying:
			st.Rekeying++
		case StateFailed:
			st.Failed++
		}
	}
	return st
}
