package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitchat-mesh/bitchat/noise"
	"github.com/bitchat-mesh/bitchat/wire"
)

func peerID(b byte) wire.PeerID {
	var id wire.PeerID
	for i := range id {
		id[i] = b
	}
	return id
}

func newTestManagers(t *testing.T, cfg Config, now *time.Time) (*Manager, *Manager) {
	aStatic, err := noise.GenerateStaticKeyPair()
	require.NoError(t, err)
	bStatic, err := noise.GenerateStaticKeyPair()
	require.NoError(t, err)

	a := NewManager(aStatic, cfg).WithClock(func() time.Time { return *now })
	b := NewManager(bStatic, cfg).WithClock(func() time.Time { return *now })
	return a, b
}

func driveHandshake(t *testing.T, a, b *Manager, peerAtoB, peerBtoA wire.PeerID) {
	msg1, err := a.InitiateHandshake(peerAtoB)
	require.NoError(t, err)

	msg2, err := b.AcceptHandshake(peerBtoA, msg1)
	require.NoError(t, err)

	msg3, err := a.ContinueInitiatorHandshake(peerAtoB, msg2)
	require.NoError(t, err)

	err = b.CompleteResponderHandshake(peerBtoA, msg3)
	require.NoError(t, err)
}

func TestManager_HandshakeEstablishesBothSides(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := DefaultConfig()
	a, b := newTestManagers(t, cfg, &now)

	pa, pb := peerID(1), peerID(2)
	driveHandshake(t, a, b, pa, pb)

	sa, ok := a.Get(pa)
	require.True(t, ok)
	require.Equal(t, StateEstablished, sa.State)

	sb, ok := b.Get(pb)
	require.True(t, ok)
	require.Equal(t, StateEstablished, sb.State)

	require.Equal(t, sb.RemoteFingerprint, noise.FingerprintOf(a.static.Public))
	require.Equal(t, sa.RemoteFingerprint, noise.FingerprintOf(b.static.Public))
}

func TestManager_EncryptDecryptAcrossSessions(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := DefaultConfig()
	a, b := newTestManagers(t, cfg, &now)

	pa, pb := peerID(1), peerID(2)
	driveHandshake(t, a, b, pa, pb)

	sa, _ := a.Get(pa)
	sb, _ := b.Get(pb)

	header := []byte("header-13byte")
	ct, counter, err := sa.Encrypt(header, []byte("hi bob"))
	require.NoError(t, err)
	pt, err := sb.Decrypt(header, ct, counter, now)
	require.NoError(t, err)
	require.Equal(t, "hi bob", string(pt))
	require.Equal(t, uint64(1), sa.MessagesSent)
}

func TestManager_HandshakeTimeout(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 5 * time.Second
	a, _ := newTestManagers(t, cfg, &now)

	pa := peerID(3)
	_, err := a.InitiateHandshake(pa)
	require.NoError(t, err)

	now = now.Add(10 * time.Second)
	timedOut, _ := a.Sweep()
	require.Contains(t, timedOut, pa)

	s, ok := a.Get(pa)
	require.True(t, ok)
	require.Equal(t, StateFailed, s.State)
}

func TestManager_IdleSessionTransitionsToNone(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := DefaultConfig()
	cfg.IdleTimeout = time.Minute
	a, b := newTestManagers(t, cfg, &now)

	pa, pb := peerID(4), peerID(5)
	driveHandshake(t, a, b, pa, pb)

	now = now.Add(2 * time.Minute)
	_, idled := a.Sweep()
	require.Contains(t, idled, pa)

	s, _ := a.Get(pa)
	require.Equal(t, StateNone, s.State)
}

func TestManager_RekeyTriggersOnMessageCount(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := DefaultConfig()
	cfg.RekeyMessageCount = 2
	cfg.RekeyElapsed = 0
	a, b := newTestManagers(t, cfg, &now)

	pa, pb := peerID(6), peerID(7)
	driveHandshake(t, a, b, pa, pb)

	sa, _ := a.Get(pa)
	header := []byte("header-13byte")
	_, _, err := sa.Encrypt(header, []byte("one"))
	require.NoError(t, err)
	_, _, err = sa.Encrypt(header, []byte("two"))
	require.NoError(t, err)

	due := a.DueForRekey()
	require.Contains(t, due, pa)
}

func TestManager_RekeyQuiescesSendButOldCiphersStillDecrypt(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := DefaultConfig()
	a, b := newTestManagers(t, cfg, &now)

	pa, pb := peerID(8), peerID(9)
	driveHandshake(t, a, b, pa, pb)

	sa, _ := a.Get(pa)
	sb, _ := b.Get(pb)
	header := []byte("header-13byte")

	// A straggler reply encrypted before the rekey began.
	ct, counter, err := sb.Encrypt(header, []byte("in flight before rekey"))
	require.NoError(t, err)

	err = sa.BeginRekey(noise.Initiator, a.static, now)
	require.NoError(t, err)
	require.Equal(t, StateRekeying, sa.State)

	// New plaintext is quiesced while rekeying...
	_, _, err = sa.Encrypt(header, []byte("new message"))
	require.ErrorIs(t, err, ErrSessionQuiesced)

	// ...but the straggler still decrypts under the old recv cipher.
	pt, err := sa.Decrypt(header, ct, counter, now)
	require.NoError(t, err)
	require.Equal(t, "in flight before rekey", string(pt))
}
