package noise

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshake_XX_EndToEnd(t *testing.T) {
	aStatic, err := GenerateStaticKeyPair()
	require.NoError(t, err)
	bStatic, err := GenerateStaticKeyPair()
	require.NoError(t, err)

	a := NewHandshakeState(Initiator, aStatic)
	b := NewHandshakeState(Responder, bStatic)

	msg1, err := a.WriteMessage1()
	require.NoError(t, err)
	require.NoError(t, b.ReadMessage1(msg1))

	msg2, err := b.WriteMessage2()
	require.NoError(t, err)
	require.NoError(t, a.ReadMessage2(msg2))
	require.Equal(t, bStatic.Public.Bytes(), a.RemoteStatic().Bytes())

	msg3, err := a.WriteMessage3()
	require.NoError(t, err)
	require.NoError(t, b.ReadMessage3(msg3))
	require.Equal(t, aStatic.Public.Bytes(), b.RemoteStatic().Bytes())

	aSend, aRecv, err := a.Split()
	require.NoError(t, err)
	bSend, bRecv, err := b.Split()
	require.NoError(t, err)

	header := []byte("13-byte-head!")
	ct, counter, err := aSend.Encrypt(header, []byte("hello bob"))
	require.NoError(t, err)
	pt, err := bRecv.Decrypt(header, ct, counter)
	require.NoError(t, err)
	require.Equal(t, "hello bob", string(pt))

	ct2, counter2, err := bSend.Encrypt(header, []byte("hello alice"))
	require.NoError(t, err)
	pt2, err := aRecv.Decrypt(header, ct2, counter2)
	require.NoError(t, err)
	require.Equal(t, "hello alice", string(pt2))
}

func TestHandshake_RejectsOutOfOrderMessages(t *testing.T) {
	aStatic, err := GenerateStaticKeyPair()
	require.NoError(t, err)
	a := NewHandshakeState(Initiator, aStatic)

	_, err = a.WriteMessage3()
	require.Error(t, err)
}

func TestCipherState_TamperedCiphertextRejected(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	cs, err := NewCipherState(key)
	require.NoError(t, err)

	header := []byte("header-bytes-")
	ct, counter, err := cs.Encrypt(header, []byte("secret"))
	require.NoError(t, err)
	ct[0] ^= 0xff

	recv, err := NewCipherState(key)
	require.NoError(t, err)
	_, err = recv.Decrypt(header, ct, counter)
	require.Error(t, err)
}

func TestIdentityKeyDerivation_PrivateAndPublicDerivationsAgree(t *testing.T) {
	edPub, edPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	derived, err := DeriveStaticFromEd25519(edPriv)
	require.NoError(t, err)

	derivedPub, err := DerivePublicFromEd25519(edPub)
	require.NoError(t, err)
	require.Equal(t, derived.Public.Bytes(), derivedPub.Bytes())
}

func TestInvite_SealOpenRoundTrip(t *testing.T) {
	recipient, err := GenerateStaticKeyPair()
	require.NoError(t, err)

	noiseKey, err := GenerateStaticKeyPair()
	require.NoError(t, err)

	payload := InvitePayload{
		Nickname:       "alice",
		NoisePublicKey: noiseKey.Public.Bytes(),
	}
	copy(payload.Fingerprint[:], []byte("0123456789abcdef0123456789abcdef"))

	token, err := SealInvite(recipient.Public, payload)
	require.NoError(t, err)

	opened, err := OpenInvite(recipient.Private, token)
	require.NoError(t, err)
	require.Equal(t, payload.Nickname, opened.Nickname)
	require.Equal(t, payload.NoisePublicKey, opened.NoisePublicKey)
	require.Equal(t, payload.Fingerprint, opened.Fingerprint)
}

func TestSigning_VerifyRoundTrip(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	require.NoError(t, err)

	fields := []byte("header||sender||recipient||payload")
	sig := kp.Sign(fields)
	require.True(t, Verify(kp.Public, fields, sig))

	fields[0] ^= 0xff
	require.False(t, Verify(kp.Public, fields, sig))
}
