package noise

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/cloudflare/circl/hpke"
)

var inviteSuite = hpke.NewSuite(
	hpke.KEM_X25519_HKDF_SHA256,
	hpke.KDF_HKDF_SHA256,
	hpke.AEAD_ChaCha20Poly1305,
)

// inviteInfo is the HPKE application info binding invite tokens to their
// purpose, so a token cannot be replayed as some other HPKE exchange.
var inviteInfo = []byte("bitchat-invite-token-v1")

// InvitePayload is the data sealed inside an invite token: enough for the
// recipient to seed a SocialIdentity with trust=Known before any Noise
// session exists (§4.8/§3 bootstrap, supplemented per SPEC_FULL §4.2).
type InvitePayload struct {
	Fingerprint Fingerprint
	Nickname    string
	NoisePublicKey []byte // 32 bytes
}

func (p InvitePayload) encode() []byte {
	nick := []byte(p.Nickname)
	out := make([]byte, 0, FingerprintSize+2+len(nick)+32)
	out = append(out, p.Fingerprint[:]...)
	var nickLen [2]byte
	binary.BigEndian.PutUint16(nickLen[:], uint16(len(nick)))
	out = append(out, nickLen[:]...)
	out = append(out, nick...)
	out = append(out, p.NoisePublicKey...)
	return out
}

func decodeInvitePayload(data []byte) (InvitePayload, error) {
	if len(data) < FingerprintSize+2 {
		return InvitePayload{}, fmt.Errorf("noise: invite payload too short")
	}
	var p InvitePayload
	copy(p.Fingerprint[:], data[:FingerprintSize])
	rest := data[FingerprintSize:]
	nickLen := binary.BigEndian.Uint16(rest[:2])
	rest = rest[2:]
	if len(rest) < int(nickLen)+32 {
		return InvitePayload{}, fmt.Errorf("noise: invite payload truncated")
	}
	p.Nickname = string(rest[:nickLen])
	rest = rest[nickLen:]
	p.NoisePublicKey = append([]byte(nil), rest[:32]...)
	return p, nil
}

// SealInvite seals an InvitePayload to recipientPub using HPKE
// (X25519-HKDF-SHA256 / HKDF-SHA256 / ChaCha20Poly1305), producing a token
// meant to travel out-of-band (QR code, copy-paste link).
func SealInvite(recipientPub *ecdh.PublicKey, payload InvitePayload) ([]byte, error) {
	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	rp, err := kem.UnmarshalBinaryPublicKey(recipientPub.Bytes())
	if err != nil {
		return nil, fmt.Errorf("noise: hpke unmarshal pub: %w", err)
	}
	sender, err := inviteSuite.NewSender(rp, inviteInfo)
	if err != nil {
		return nil, fmt.Errorf("noise: hpke new sender: %w", err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("noise: hpke setup: %w", err)
	}
	ct, err := sealer.Seal(payload.encode(), inviteInfo)
	if err != nil {
		return nil, fmt.Errorf("noise: hpke seal: %w", err)
	}
	return append(append([]byte(nil), enc...), ct...), nil
}

// OpenInvite reverses SealInvite using the recipient's static private key.
func OpenInvite(recipientPriv *ecdh.PrivateKey, token []byte) (InvitePayload, error) {
	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	const x25519EncLen = 32
	if len(token) < x25519EncLen {
		return InvitePayload{}, fmt.Errorf("noise: invite token too short")
	}
	enc := token[:x25519EncLen]
	ct := token[x25519EncLen:]

	skR, err := kem.UnmarshalBinaryPrivateKey(recipientPriv.Bytes())
	if err != nil {
		return InvitePayload{}, fmt.Errorf("noise: hpke unmarshal priv: %w", err)
	}
	receiver, err := inviteSuite.NewReceiver(skR, inviteInfo)
	if err != nil {
		return InvitePayload{}, fmt.Errorf("noise: hpke new receiver: %w", err)
	}
	opener, err := receiver.Setup(enc)
	if err != nil {
		return InvitePayload{}, fmt.Errorf("noise: hpke receiver setup: %w", err)
	}
	pt, err := opener.Open(ct, inviteInfo)
	if err != nil {
		return InvitePayload{}, fmt.Errorf("noise: hpke open: %w", err)
	}
	return decodeInvitePayload(pt)
}
