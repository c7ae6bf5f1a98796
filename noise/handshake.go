package noise

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const protocolName = "Noise_XX_25519_ChaChaPoly_SHA256"

// Role distinguishes the two sides of a handshake.
type Role int

const (
	Initiator Role = iota
	Responder
)

// symmetricState implements the Noise handshake's running hash/chaining-key
// bookkeeping (MixHash/MixKey/EncryptAndHash), mirroring the session
// package's pattern of HKDF-deriving keys from a canonically ordered
// transcript rather than trusting a single shared DH output directly.
type symmetricState struct {
	h      [32]byte
	ck     [32]byte
	hasKey bool
	k      [32]byte
	n      uint64
}

func newSymmetricState() *symmetricState {
	var h [32]byte
	copy(h[:], []byte(protocolName))
	if len(protocolName) > 32 {
		h = sha256.Sum256([]byte(protocolName))
	}
	return &symmetricState{h: h, ck: h}
}

func (s *symmetricState) mixHash(data []byte) {
	h := sha256.New()
	h.Write(s.h[:])
	h.Write(data)
	copy(s.h[:], h.Sum(nil))
}

func (s *symmetricState) mixKey(ikm []byte) error {
	out := make([]byte, 64)
	r := hkdf.New(sha256.New, ikm, s.ck[:], nil)
	if _, err := fillFull(r, out); err != nil {
		return err
	}
	copy(s.ck[:], out[:32])
	copy(s.k[:], out[32:64])
	s.hasKey = true
	s.n = 0
	return nil
}

func (s *symmetricState) encryptAndHash(plaintext []byte) ([]byte, error) {
	var ct []byte
	if s.hasKey {
		aead, err := chacha20poly1305.New(s.k[:])
		if err != nil {
			return nil, err
		}
		ct = aead.Seal(nil, nonceWithCounter(s.n), plaintext, s.h[:])
		s.n++
	} else {
		ct = append([]byte(nil), plaintext...)
	}
	s.mixHash(ct)
	return ct, nil
}

func (s *symmetricState) decryptAndHash(ciphertext []byte) ([]byte, error) {
	var pt []byte
	if s.hasKey {
		aead, err := chacha20poly1305.New(s.k[:])
		if err != nil {
			return nil, err
		}
		var err2 error
		pt, err2 = aead.Open(nil, nonceWithCounter(s.n), ciphertext, s.h[:])
		if err2 != nil {
			return nil, fmt.Errorf("noise: handshake decrypt failed: %w", err2)
		}
		s.n++
	} else {
		pt = append([]byte(nil), ciphertext...)
	}
	s.mixHash(ciphertext)
	return pt, nil
}

func nonceWithCounter(n uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	for i := 0; i < 8; i++ {
		nonce[4+i] = byte(n >> (8 * i))
	}
	return nonce
}

func fillFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// HandshakeState drives one party's side of a Noise XX handshake:
//
//	-> e
//	<- e, ee, s, es
//	-> s, se
//
// Exactly three messages are exchanged before Split produces the transport
// CipherStates (§4.2, §4.3).
type HandshakeState struct {
	role   Role
	ss     *symmetricState
	static *StaticKeyPair

	localEph  *ecdh.PrivateKey
	remoteEph *ecdh.PublicKey
	remoteStatic *ecdh.PublicKey

	step int
}

// NewHandshakeState begins a fresh XX handshake for the given role.
func NewHandshakeState(role Role, static *StaticKeyPair) *HandshakeState {
	return &HandshakeState{role: role, ss: newSymmetricState(), static: static}
}

// RemoteStatic returns the peer's static public key once learned (after
// message 2 for the initiator, message 3 for the responder).
func (hs *HandshakeState) RemoteStatic() *ecdh.PublicKey { return hs.remoteStatic }

// Role reports which side of the handshake hs is driving.
func (hs *HandshakeState) Role() Role { return hs.role }

// Step reports how many handshake messages have been processed so far
// (0..3), letting a caller holding only a byte blob and a Session decide
// which WriteMessageN/ReadMessageN applies next.
func (hs *HandshakeState) Step() int { return hs.step }

func (hs *HandshakeState) dh(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("noise: dh failed: %w", err)
	}
	return secret, nil
}

// WriteMessage1 produces "-> e": initiator only.
func (hs *HandshakeState) WriteMessage1() ([]byte, error) {
	if hs.role != Initiator || hs.step != 0 {
		return nil, fmt.Errorf("noise: WriteMessage1 called out of sequence")
	}
	eph, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	hs.localEph = eph
	hs.ss.mixHash(eph.PublicKey().Bytes())
	hs.step = 1
	return eph.PublicKey().Bytes(), nil
}

// ReadMessage1 consumes "-> e": responder only.
func (hs *HandshakeState) ReadMessage1(msg []byte) error {
	if hs.role != Responder || hs.step != 0 {
		return fmt.Errorf("noise: ReadMessage1 called out of sequence")
	}
	re, err := ecdh.X25519().NewPublicKey(msg)
	if err != nil {
		return fmt.Errorf("noise: bad remote ephemeral: %w", err)
	}
	hs.remoteEph = re
	hs.ss.mixHash(msg)
	hs.step = 1
	return nil
}

// WriteMessage2 produces "<- e, ee, s, es": responder only.
func (hs *HandshakeState) WriteMessage2() ([]byte, error) {
	if hs.role != Responder || hs.step != 1 {
		return nil, fmt.Errorf("noise: WriteMessage2 called out of sequence")
	}
	eph, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	hs.localEph = eph
	hs.ss.mixHash(eph.PublicKey().Bytes())

	ee, err := hs.dh(eph, hs.remoteEph)
	if err != nil {
		return nil, err
	}
	if err := hs.ss.mixKey(ee); err != nil {
		return nil, err
	}

	encS, err := hs.ss.encryptAndHash(hs.static.Public.Bytes())
	if err != nil {
		return nil, err
	}

	es, err := hs.dh(hs.static.Private, hs.remoteEph)
	if err != nil {
		return nil, err
	}
	if err := hs.ss.mixKey(es); err != nil {
		return nil, err
	}

	payload, err := hs.ss.encryptAndHash(nil)
	if err != nil {
		return nil, err
	}

	out := append(append([]byte(nil), eph.PublicKey().Bytes()...), encS...)
	out = append(out, payload...)
	hs.step = 2
	return out, nil
}

// ReadMessage2 consumes "<- e, ee, s, es": initiator only.
func (hs *HandshakeState) ReadMessage2(msg []byte) error {
	if hs.role != Initiator || hs.step != 1 {
		return fmt.Errorf("noise: ReadMessage2 called out of sequence")
	}
	if len(msg) < 32 {
		return fmt.Errorf("noise: message 2 too short")
	}
	re, err := ecdh.X25519().NewPublicKey(msg[:32])
	if err != nil {
		return fmt.Errorf("noise: bad remote ephemeral: %w", err)
	}
	hs.remoteEph = re
	hs.ss.mixHash(msg[:32])
	rest := msg[32:]

	ee, err := hs.dh(hs.localEph, hs.remoteEph)
	if err != nil {
		return err
	}
	if err := hs.ss.mixKey(ee); err != nil {
		return err
	}

	if len(rest) < 32+16 {
		return fmt.Errorf("noise: message 2 missing static key")
	}
	encS := rest[:32+16]
	rest = rest[32+16:]
	staticBytes, err := hs.ss.decryptAndHash(encS)
	if err != nil {
		return err
	}
	remoteStatic, err := ecdh.X25519().NewPublicKey(staticBytes)
	if err != nil {
		return fmt.Errorf("noise: bad remote static: %w", err)
	}
	hs.remoteStatic = remoteStatic

	es, err := hs.dh(hs.localEph, hs.remoteStatic)
	if err != nil {
		return err
	}
	if err := hs.ss.mixKey(es); err != nil {
		return err
	}

	if _, err := hs.ss.decryptAndHash(rest); err != nil {
		return err
	}
	hs.step = 2
	return nil
}

// WriteMessage3 produces "-> s, se": initiator only.
func (hs *HandshakeState) WriteMessage3() ([]byte, error) {
	if hs.role != Initiator || hs.step != 2 {
		return nil, fmt.Errorf("noise: WriteMessage3 called out of sequence")
	}
	encS, err := hs.ss.encryptAndHash(hs.static.Public.Bytes())
	if err != nil {
		return nil, err
	}

	se, err := hs.dh(hs.static.Private, hs.remoteEph)
	if err != nil {
		return nil, err
	}
	if err := hs.ss.mixKey(se); err != nil {
		return nil, err
	}

	payload, err := hs.ss.encryptAndHash(nil)
	if err != nil {
		return nil, err
	}

	out := append(append([]byte(nil), encS...), payload...)
	hs.step = 3
	return out, nil
}

// ReadMessage3 consumes "-> s, se": responder only.
func (hs *HandshakeState) ReadMessage3(msg []byte) error {
	if hs.role != Responder || hs.step != 2 {
		return fmt.Errorf("noise: ReadMessage3 called out of sequence")
	}
	if len(msg) < 32+16 {
		return fmt.Errorf("noise: message 3 too short")
	}
	encS := msg[:32+16]
	rest := msg[32+16:]
	staticBytes, err := hs.ss.decryptAndHash(encS)
	if err != nil {
		return err
	}
	remoteStatic, err := ecdh.X25519().NewPublicKey(staticBytes)
	if err != nil {
		return fmt.Errorf("noise: bad remote static: %w", err)
	}
	hs.remoteStatic = remoteStatic

	se, err := hs.dh(hs.localEph, hs.remoteStatic)
	if err != nil {
		return err
	}
	if err := hs.ss.mixKey(se); err != nil {
		return err
	}

	if _, err := hs.ss.decryptAndHash(rest); err != nil {
		return err
	}
	hs.step = 3
	return nil
}

// Split derives the two directional transport CipherStates once the
// handshake has completed all three messages.
func (hs *HandshakeState) Split() (send, recv *CipherState, err error) {
	if hs.step != 3 {
		return nil, nil, fmt.Errorf("noise: Split called before handshake completed")
	}
	out := make([]byte, 64)
	r := hkdf.New(sha256.New, nil, hs.ss.ck[:], nil)
	if _, err := fillFull(r, out); err != nil {
		return nil, nil, err
	}
	var k1, k2 [32]byte
	copy(k1[:], out[:32])
	copy(k2[:], out[32:64])

	cs1, err := NewCipherState(k1)
	if err != nil {
		return nil, nil, err
	}
	cs2, err := NewCipherState(k2)
	if err != nil {
		return nil, nil, err
	}
	if hs.role == Initiator {
		return cs1, cs2, nil
	}
	return cs2, cs1, nil
}
