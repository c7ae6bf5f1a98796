package wire

import "errors"

// Decoder error sentinels, per spec §4.1 "Errors".
var (
	ErrInvalidVersion   = errors.New("wire: invalid version")
	ErrTruncatedHeader  = errors.New("wire: truncated header")
	ErrPayloadTooLarge  = errors.New("wire: payload too large for version")
	ErrUnknownMsgType   = errors.New("wire: unknown message type")
	ErrMalformedTLV     = errors.New("wire: malformed TLV")
	ErrTruncatedPayload = errors.New("wire: truncated payload")
	ErrTruncatedSig     = errors.New("wire: truncated signature")
)
