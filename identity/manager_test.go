package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitchat-mesh/bitchat/wire"
)

func TestManager_EphemeralLifecycle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewManager().WithClock(func() time.Time { return now })

	var peer wire.PeerID
	copy(peer[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	e := m.BeginEphemeral(peer)
	require.False(t, e.Handshake.IsComplete())

	fp := noiseFingerprintFixture(9)
	now = now.Add(time.Second)
	e.SetHandshakeState(HandshakeCompleted(fp), now)
	require.True(t, e.Handshake.IsComplete())
	gotFP, ok := e.Handshake.Fingerprint()
	require.True(t, ok)
	require.Equal(t, fp, gotFP)

	m.EndEphemeral(peer)
	_, ok = m.Ephemeral(peer)
	require.False(t, ok)
}

func TestManager_CryptographicIdentityIsStableAcrossSightings(t *testing.T) {
	m := NewManager()
	var pub [32]byte
	for i := range pub {
		pub[i] = byte(i)
	}

	c1 := m.EnsureCryptographic(pub, nil)
	c1.UpdateHandshakeTime(time.Now())
	c2 := m.EnsureCryptographic(pub, nil)
	require.Equal(t, c1, c2)
	require.Equal(t, uint32(1), c2.HandshakeCount)
}

func TestManager_DisplayNamePrecedence(t *testing.T) {
	now := time.Now()
	m := NewManager().WithClock(func() time.Time { return now })
	fp := noiseFingerprintFixture(1)

	require.Equal(t, fingerprintPrefix(fp), m.DisplayName(fp))

	social := m.EnsureSocial(fp)
	social.SetClaimedNickname("bob-claimed", now)
	require.Equal(t, "bob-claimed", m.DisplayName(fp))

	social.SetPetname("bobby", now)
	require.Equal(t, "bobby", m.DisplayName(fp))
}

func TestManager_BlockedPeerShortCircuits(t *testing.T) {
	m := NewManager()
	fp := noiseFingerprintFixture(2)

	require.False(t, m.IsBlocked(fp))

	social := m.EnsureSocial(fp)
	social.SetBlocked(true, time.Now())
	require.True(t, m.IsBlocked(fp))
}

func noiseFingerprintFixture(b byte) (fp [32]byte) {
	for i := range fp {
		fp[i] = b
	}
	return fp
}
