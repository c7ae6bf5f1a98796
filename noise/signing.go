package noise

import (
	"crypto/ed25519"
	"fmt"
)

// SigningKeyPair is the optional Ed25519 key used to sign outbound packets
// when flags.has-signature is set (§4.2).
type SigningKeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// GenerateSigningKeyPair creates a fresh Ed25519 signing keypair.
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("noise: generate signing key: %w", err)
	}
	return &SigningKeyPair{Private: priv, Public: pub}, nil
}

// Sign signs the packet's signed fields (header||sender||recipient||payload).
func (kp *SigningKeyPair) Sign(signedFields []byte) [64]byte {
	var sig [64]byte
	copy(sig[:], ed25519.Sign(kp.Private, signedFields))
	return sig
}

// Verify checks a signature against the packet's signed fields. Verification
// is mandatory whenever flags.has-signature is set and the signing key is
// known (§4.2); an unknown signing key means the caller cannot verify and
// must decide separately whether to accept unsigned-equivalent trust.
func Verify(pub ed25519.PublicKey, signedFields []byte, sig [64]byte) bool {
	return ed25519.Verify(pub, signedFields, sig[:])
}
