// Package noise implements the Noise XX handshake, the post-handshake
// transport cipher, Ed25519 packet signing, and identity-key derivation
// used to establish and maintain encrypted per-peer sessions.
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package noise

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
)

// FingerprintSize is the width of a static-key fingerprint: SHA-256 of the
// 32-byte X25519 static public key (§4.2).
const FingerprintSize = 32

// Fingerprint identifies a peer's long-lived Noise static key.
type Fingerprint [FingerprintSize]byte

// FingerprintOf returns the SHA-256 fingerprint of a static public key.
func FingerprintOf(staticPub *ecdh.PublicKey) Fingerprint {
	return Fingerprint(sha256.Sum256(staticPub.Bytes()))
}

// StaticKeyPair is a party's long-lived X25519 Noise identity key.
type StaticKeyPair struct {
	Private *ecdh.PrivateKey
	Public  *ecdh.PublicKey
}

// GenerateStaticKeyPair creates a fresh X25519 static keypair.
func GenerateStaticKeyPair() (*StaticKeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("noise: generate static key: %w", err)
	}
	return &StaticKeyPair{Private: priv, Public: priv.PublicKey()}, nil
}

// Fingerprint returns this keypair's fingerprint.
func (kp *StaticKeyPair) Fingerprint() Fingerprint {
	return FingerprintOf(kp.Public)
}

// StaticKeyPairFromBytes reconstructs a StaticKeyPair from a raw 32-byte
// X25519 private scalar, the form persisted by the identity CLI and by
// demo fixtures that need a stable identity across runs.
func StaticKeyPairFromBytes(raw []byte) (*StaticKeyPair, error) {
	priv, err := ecdh.X25519().NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("noise: static key from bytes: %w", err)
	}
	return &StaticKeyPair{Private: priv, Public: priv.PublicKey()}, nil
}

// DeriveStaticFromEd25519 derives an X25519 Noise static keypair from a
// long-term Ed25519 identity keypair, so a single secret can both sign
// (Ed25519) and hold a Noise session (derived X25519). This is an addition
// beyond the base handshake; implementations that manage two independent
// secrets may simply call GenerateStaticKeyPair instead.
func DeriveStaticFromEd25519(priv ed25519.PrivateKey) (*StaticKeyPair, error) {
	xPriv, err := ed25519PrivToX25519(priv)
	if err != nil {
		return nil, err
	}
	privKey, err := ecdh.X25519().NewPrivateKey(xPriv[:])
	if err != nil {
		return nil, fmt.Errorf("noise: derived x25519 private key: %w", err)
	}
	return &StaticKeyPair{Private: privKey, Public: privKey.PublicKey()}, nil
}

// DerivePublicFromEd25519 converts an Ed25519 public key to its X25519
// Montgomery-form equivalent, for verifying a peer's derived static key
// without access to their private key.
func DerivePublicFromEd25519(pub ed25519.PublicKey) (*ecdh.PublicKey, error) {
	xPub, err := ed25519PubToX25519(pub)
	if err != nil {
		return nil, err
	}
	return ecdh.X25519().NewPublicKey(xPub)
}

func ed25519PrivToX25519(priv ed25519.PrivateKey) ([32]byte, error) {
	var out [32]byte
	if l := len(priv); l != ed25519.PrivateKeySize {
		return out, fmt.Errorf("noise: bad ed25519 private key length %d", l)
	}
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	copy(out[:], h[:32])
	return out, nil
}

func ed25519PubToX25519(pub ed25519.PublicKey) ([]byte, error) {
	if l := len(pub); l != ed25519.PublicKeySize {
		return nil, fmt.Errorf("noise: bad ed25519 public key length %d", l)
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("noise: invalid ed25519 public key: %w", err)
	}
	return p.BytesMontgomery(), nil
}
