package noise

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherState is one direction's post-handshake transport cipher: a fixed
// 32-byte key plus a monotonically increasing 64-bit counter used as the
// nonce (§4.2). The counter is the only mutable state; it never resets for
// the lifetime of a CipherState.
type CipherState struct {
	aead    interface{ Seal(dst, nonce, plaintext, ad []byte) []byte }
	opener  interface{ Open(dst, nonce, ciphertext, ad []byte) ([]byte, error) }
	counter uint64
}

// NewCipherState constructs a CipherState from a 32-byte transport key.
func NewCipherState(key [32]byte) (*CipherState, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("noise: chacha20poly1305: %w", err)
	}
	return &CipherState{aead: aead, opener: aead}, nil
}

func nonceFor(counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// Encrypt seals plaintext under the next counter value, with header as the
// associated data (Core Logic passes the sender/recipient PeerId pair, not
// the 13-byte wire header). The returned ciphertext
// is ciphertext||16-byte tag, matching the NoiseEncrypted payload layout.
func (c *CipherState) Encrypt(header, plaintext []byte) (ciphertext []byte, counter uint64, err error) {
	counter = atomic.AddUint64(&c.counter, 1) - 1
	ct := c.aead.Seal(nil, nonceFor(counter), plaintext, header)
	return ct, counter, nil
}

// Decrypt opens a NoiseEncrypted payload at the given counter value. The
// counter is supplied out-of-band (carried alongside the packet or tracked
// per-session) since the wire format itself does not repeat it.
func (c *CipherState) Decrypt(header, ciphertext []byte, counter uint64) ([]byte, error) {
	pt, err := c.opener.Open(nil, nonceFor(counter), ciphertext, header)
	if err != nil {
		return nil, fmt.Errorf("noise: decrypt failed: %w", err)
	}
	return pt, nil
}

// Counter returns the next counter value that will be used for Encrypt.
func (c *CipherState) Counter() uint64 {
	return atomic.LoadUint64(&c.counter)
}
