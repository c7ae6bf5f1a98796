// Package wire implements the canonical binary encoding of BitChat packets:
// header, fragment payloads, and TLV-encoded announce payloads.
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package wire

import "encoding/binary"

// MessageType identifies the payload carried by a packet.
type MessageType uint8

// Message type codes, frozen across protocol versions.
const (
	MessageTypeAnnounce       MessageType = 0x01
	MessageTypeMessage        MessageType = 0x02
	MessageTypeLeave          MessageType = 0x03
	MessageTypeNoiseHandshake MessageType = 0x10
	MessageTypeNoiseEncrypted MessageType = 0x11
	MessageTypeFragment       MessageType = 0x20
	MessageTypeRequestSync    MessageType = 0x21
	MessageTypeFileTransfer   MessageType = 0x22
)

func (t MessageType) valid() bool {
	switch t {
	case MessageTypeAnnounce, MessageTypeMessage, MessageTypeLeave,
		MessageTypeNoiseHandshake, MessageTypeNoiseEncrypted,
		MessageTypeFragment, MessageTypeRequestSync, MessageTypeFileTransfer:
		return true
	default:
		return false
	}
}

// Flags is the single flags byte at header offset 11.
type Flags uint8

const (
	FlagHasRecipient Flags = 1 << 0
	FlagHasSignature Flags = 1 << 1
	FlagIsCompressed Flags = 1 << 2
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Version 1 is the only version this codec speaks.
const Version1 = uint8(1)

// HeaderSize is the fixed portion of the header, excluding sender/recipient.
const HeaderSize = 13

// PeerIDSize is the byte width of a PeerId on the wire.
const PeerIDSize = 8

// SignatureSize is the Ed25519 signature width.
const SignatureSize = 64

// Header is the fixed 13-byte packet header (version 1).
type Header struct {
	Version      uint8
	Type         MessageType
	TTL          uint8
	TimestampMs  uint64
	Flags        Flags
	PayloadLen   uint8
}

// EncodeTo writes the 13-byte header to dst, which must be at least HeaderSize long.
func (h Header) EncodeTo(dst []byte) {
	_ = dst[HeaderSize-1]
	dst[0] = h.Version
	dst[1] = uint8(h.Type)
	dst[2] = h.TTL
	binary.BigEndian.PutUint64(dst[3:11], h.TimestampMs)
	dst[11] = uint8(h.Flags)
	dst[12] = h.PayloadLen
}

// DecodeHeader parses the fixed 13-byte header from the front of src.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, ErrTruncatedHeader
	}
	h := Header{
		Version:     src[0],
		Type:        MessageType(src[1]),
		TTL:         src[2],
		TimestampMs: binary.BigEndian.Uint64(src[3:11]),
		Flags:       Flags(src[11]),
		PayloadLen:  src[12],
	}
	if h.Version != Version1 {
		return Header{}, ErrInvalidVersion
	}
	if !h.Type.valid() {
		return Header{}, ErrUnknownMsgType
	}
	return h, nil
}
