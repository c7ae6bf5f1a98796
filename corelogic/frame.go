package corelogic

import "fmt"

// frameType discriminates the decrypted application-level payload carried
// inside a NoiseEncrypted packet. The frozen wire message-type table (§4.1)
// has no distinct code for acks or read receipts, so — per the same
// conservative-TBD handling as the RequestSync open question — they travel
// as a one-byte-tagged frame inside the already-opaque encrypted payload
// rather than inventing a new outer wire type.
type frameType byte

const (
	frameUserMessage frameType = 0x01
	frameDeliveryAck frameType = 0x02
	frameReadReceipt frameType = 0x03
)

var errMalformedFrame = fmt.Errorf("corelogic: malformed application frame")

func encodeUserMessageFrame(content []byte) []byte {
	return append([]byte{byte(frameUserMessage)}, content...)
}

func encodeDeliveryAckFrame(hash [32]byte) []byte {
	return append([]byte{byte(frameDeliveryAck)}, hash[:]...)
}

func encodeReadReceiptFrame(hash [32]byte) []byte {
	return append([]byte{byte(frameReadReceipt)}, hash[:]...)
}

func decodeFrame(b []byte) (frameType, []byte, error) {
	if len(b) < 1 {
		return 0, nil, errMalformedFrame
	}
	ft := frameType(b[0])
	body := b[1:]
	switch ft {
	case frameDeliveryAck, frameReadReceipt:
		if len(body) != 32 {
			return 0, nil, errMalformedFrame
		}
	case frameUserMessage:
	default:
		return 0, nil, errMalformedFrame
	}
	return ft, body, nil
}
