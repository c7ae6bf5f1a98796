package wire

import "encoding/binary"

// FragmentHeaderSize is the fixed portion of a Fragment packet's payload,
// preceding the chunk bytes: fragment-id(8) | index(2) | total(2) | original-type(1).
const FragmentHeaderSize = 13

// FragmentPayload is the decoded payload of a MessageTypeFragment packet.
type FragmentPayload struct {
	FragmentID   uint64
	Index        uint16
	Total        uint16
	OriginalType MessageType
	Chunk        []byte
}

// Encode serializes a fragment payload to its canonical binary form.
func (f FragmentPayload) Encode() []byte {
	out := make([]byte, FragmentHeaderSize+len(f.Chunk))
	binary.BigEndian.PutUint64(out[0:8], f.FragmentID)
	binary.BigEndian.PutUint16(out[8:10], f.Index)
	binary.BigEndian.PutUint16(out[10:12], f.Total)
	out[12] = uint8(f.OriginalType)
	copy(out[FragmentHeaderSize:], f.Chunk)
	return out
}

// DecodeFragmentPayload parses a Fragment packet's payload.
func DecodeFragmentPayload(src []byte) (FragmentPayload, error) {
	if len(src) < FragmentHeaderSize {
		return FragmentPayload{}, ErrTruncatedPayload
	}
	f := FragmentPayload{
		FragmentID:   binary.BigEndian.Uint64(src[0:8]),
		Index:        binary.BigEndian.Uint16(src[8:10]),
		Total:        binary.BigEndian.Uint16(src[10:12]),
		OriginalType: MessageType(src[12]),
	}
	f.Chunk = append([]byte(nil), src[FragmentHeaderSize:]...)
	return f, nil
}
