package wire

import "encoding/binary"

// TLVType identifies an announce-payload entry. Unknown types MUST be
// skipped by decoders, never rejected, so the set can grow across versions.
type TLVType uint8

const (
	TLVNickname        TLVType = 0x01
	TLVNoisePublicKey  TLVType = 0x02
	TLVSigningPublicKey TLVType = 0x03
	TLVCapabilities    TLVType = 0x04
)

// TLVEntry is one type|length|value entry of an Announce payload.
type TLVEntry struct {
	Type  TLVType
	Value []byte
}

// AnnouncePayload is the decoded, TLV-encoded payload of a MessageTypeAnnounce packet.
type AnnouncePayload struct {
	Nickname        string
	NoisePublicKey  []byte // 32 bytes when present
	SigningPublicKey []byte // 32 bytes when present
	Capabilities    uint8
	hasNickname     bool
	hasNoiseKey     bool
	hasSigningKey   bool
	hasCapabilities bool
	unknown         []TLVEntry
}

// EncodeAnnounce serializes a into its canonical TLV form.
func EncodeAnnounce(a AnnouncePayload) []byte {
	var entries []TLVEntry
	if a.Nickname != "" {
		entries = append(entries, TLVEntry{TLVNickname, []byte(a.Nickname)})
	}
	if len(a.NoisePublicKey) > 0 {
		entries = append(entries, TLVEntry{TLVNoisePublicKey, a.NoisePublicKey})
	}
	if len(a.SigningPublicKey) > 0 {
		entries = append(entries, TLVEntry{TLVSigningPublicKey, a.SigningPublicKey})
	}
	if a.hasCapabilities || a.Capabilities != 0 {
		entries = append(entries, TLVEntry{TLVCapabilities, []byte{a.Capabilities}})
	}
	entries = append(entries, a.unknown...)

	var size int
	for _, e := range entries {
		size += 3 + len(e.Value)
	}
	out := make([]byte, 0, size)
	for _, e := range entries {
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(e.Value)))
		out = append(out, uint8(e.Type))
		out = append(out, lenBuf[:]...)
		out = append(out, e.Value...)
	}
	return out
}

// DecodeAnnounce parses a TLV-encoded Announce payload, preserving unknown
// entries verbatim so a re-encode round-trips them.
func DecodeAnnounce(src []byte) (AnnouncePayload, error) {
	var a AnnouncePayload
	for len(src) > 0 {
		if len(src) < 3 {
			return AnnouncePayload{}, ErrMalformedTLV
		}
		typ := TLVType(src[0])
		length := binary.BigEndian.Uint16(src[1:3])
		src = src[3:]
		if len(src) < int(length) {
			return AnnouncePayload{}, ErrMalformedTLV
		}
		value := src[:length]
		src = src[length:]

		switch typ {
		case TLVNickname:
			a.Nickname = string(value)
			a.hasNickname = true
		case TLVNoisePublicKey:
			a.NoisePublicKey = append([]byte(nil), value...)
			a.hasNoiseKey = true
		case TLVSigningPublicKey:
			a.SigningPublicKey = append([]byte(nil), value...)
			a.hasSigningKey = true
		case TLVCapabilities:
			if len(value) >= 1 {
				a.Capabilities = value[0]
			}
			a.hasCapabilities = true
		default:
			// Unknown type: preserved for round-trip, not rejected.
			a.unknown = append(a.unknown, TLVEntry{typ, append([]byte(nil), value...)})
		}
	}
	return a, nil
}
