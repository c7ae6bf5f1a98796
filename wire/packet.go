package wire

// PeerID is an 8-byte on-wire peer identifier.
type PeerID [PeerIDSize]byte

// Packet is the fully-decoded form of a BitChat wire packet.
type Packet struct {
	Header    Header
	Sender    PeerID
	Recipient PeerID // valid only if Header.Flags.Has(FlagHasRecipient)
	Payload   []byte
	Signature [SignatureSize]byte // valid only if Header.Flags.Has(FlagHasSignature)
}

// HasRecipient reports whether Recipient is populated.
func (p *Packet) HasRecipient() bool { return p.Header.Flags.Has(FlagHasRecipient) }

// HasSignature reports whether Signature is populated.
func (p *Packet) HasSignature() bool { return p.Header.Flags.Has(FlagHasSignature) }

// SignedFields returns header||sender||recipient||payload, the exact byte
// range an Ed25519 signature is computed over when flags.has-signature is set.
func (p *Packet) SignedFields() []byte {
	buf := make([]byte, 0, HeaderSize+2*PeerIDSize+len(p.Payload))
	hdr := make([]byte, HeaderSize)
	p.Header.EncodeTo(hdr)
	buf = append(buf, hdr...)
	buf = append(buf, p.Sender[:]...)
	if p.HasRecipient() {
		buf = append(buf, p.Recipient[:]...)
	}
	buf = append(buf, p.Payload...)
	return buf
}

// Encode serializes p to its canonical binary form.
func Encode(p *Packet) ([]byte, error) {
	if len(p.Payload) > 255 {
		return nil, ErrPayloadTooLarge
	}
	p.Header.PayloadLen = uint8(len(p.Payload))

	size := HeaderSize + PeerIDSize
	if p.HasRecipient() {
		size += PeerIDSize
	}
	size += len(p.Payload)
	if p.HasSignature() {
		size += SignatureSize
	}

	out := make([]byte, size)
	p.Header.EncodeTo(out[:HeaderSize])
	off := HeaderSize
	copy(out[off:off+PeerIDSize], p.Sender[:])
	off += PeerIDSize
	if p.HasRecipient() {
		copy(out[off:off+PeerIDSize], p.Recipient[:])
		off += PeerIDSize
	}
	copy(out[off:off+len(p.Payload)], p.Payload)
	off += len(p.Payload)
	if p.HasSignature() {
		copy(out[off:off+SignatureSize], p.Signature[:])
		off += SignatureSize
	}
	return out, nil
}

// Decode parses the canonical binary form into a Packet.
// decode(encode(p)) == p for all valid p (§4.1 round-trip law).
func Decode(src []byte) (*Packet, error) {
	hdr, err := DecodeHeader(src)
	if err != nil {
		return nil, err
	}
	rest := src[HeaderSize:]
	if len(rest) < PeerIDSize {
		return nil, ErrTruncatedHeader
	}
	p := &Packet{Header: hdr}
	copy(p.Sender[:], rest[:PeerIDSize])
	rest = rest[PeerIDSize:]

	if hdr.Flags.Has(FlagHasRecipient) {
		if len(rest) < PeerIDSize {
			return nil, ErrTruncatedHeader
		}
		copy(p.Recipient[:], rest[:PeerIDSize])
		rest = rest[PeerIDSize:]
	}

	n := int(hdr.PayloadLen)
	if len(rest) < n {
		return nil, ErrTruncatedPayload
	}
	p.Payload = append([]byte(nil), rest[:n]...)
	rest = rest[n:]

	if hdr.Flags.Has(FlagHasSignature) {
		if len(rest) < SignatureSize {
			return nil, ErrTruncatedSig
		}
		copy(p.Signature[:], rest[:SignatureSize])
	}
	return p, nil
}
