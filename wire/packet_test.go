package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func samplePacket(flags Flags, payload []byte) *Packet {
	p := &Packet{
		Header: Header{
			Version:     Version1,
			Type:        MessageTypeMessage,
			TTL:         7,
			TimestampMs: 1_700_000_000_000,
			Flags:       flags,
		},
		Payload: payload,
	}
	copy(p.Sender[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if flags.Has(FlagHasRecipient) {
		copy(p.Recipient[:], []byte{8, 7, 6, 5, 4, 3, 2, 1})
	}
	if flags.Has(FlagHasSignature) {
		for i := range p.Signature {
			p.Signature[i] = byte(i)
		}
	}
	return p
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []Flags{
		0,
		FlagHasRecipient,
		FlagHasSignature,
		FlagHasRecipient | FlagHasSignature,
		FlagHasRecipient | FlagHasSignature | FlagIsCompressed,
	}
	for _, flags := range cases {
		p := samplePacket(flags, []byte("hello bitchat"))
		encoded, err := Encode(p)
		require.NoError(t, err)

		decoded, err := Decode(encoded)
		require.NoError(t, err)
		require.Equal(t, p, decoded)
	}
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	p := samplePacket(0, make([]byte, 256))
	_, err := Encode(p)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestDecode_InvalidVersion(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = 9
	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrInvalidVersion)
}

func TestDecode_TruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrTruncatedHeader)
}

func TestDecode_UnknownMessageType(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = Version1
	buf[1] = 0x99
	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrUnknownMsgType)
}

func TestDecode_TruncatedPayload(t *testing.T) {
	p := samplePacket(0, []byte("short"))
	encoded, err := Encode(p)
	require.NoError(t, err)
	_, err = Decode(encoded[:len(encoded)-2])
	require.ErrorIs(t, err, ErrTruncatedPayload)
}

func TestFragmentPayload_RoundTrip(t *testing.T) {
	f := FragmentPayload{
		FragmentID:   0xdeadbeefcafef00d,
		Index:        3,
		Total:        10,
		OriginalType: MessageTypeMessage,
		Chunk:        []byte("a chunk of a larger message"),
	}
	encoded := f.Encode()
	decoded, err := DecodeFragmentPayload(encoded)
	require.NoError(t, err)
	require.Equal(t, f, decoded)
}

func TestAnnouncePayload_RoundTrip(t *testing.T) {
	a := AnnouncePayload{
		Nickname:         "alice",
		NoisePublicKey:   make([]byte, 32),
		SigningPublicKey: make([]byte, 32),
		Capabilities:     0b0101,
	}
	for i := range a.NoisePublicKey {
		a.NoisePublicKey[i] = byte(i)
	}
	encoded := EncodeAnnounce(a)
	decoded, err := DecodeAnnounce(encoded)
	require.NoError(t, err)
	require.Equal(t, a.Nickname, decoded.Nickname)
	require.Equal(t, a.NoisePublicKey, decoded.NoisePublicKey)
	require.Equal(t, a.SigningPublicKey, decoded.SigningPublicKey)
	require.Equal(t, a.Capabilities, decoded.Capabilities)
}

func TestAnnouncePayload_SkipsUnknownTypes(t *testing.T) {
	var raw []byte
	raw = append(raw, 0x7f, 0x00, 0x02, 0xaa, 0xbb) // unknown type 0x7f
	raw = append(raw, 0x01, 0x00, 0x05)
	raw = append(raw, "alice"...)

	decoded, err := DecodeAnnounce(raw)
	require.NoError(t, err)
	require.Equal(t, "alice", decoded.Nickname)
	require.Len(t, decoded.unknown, 1)

	reencoded := EncodeAnnounce(decoded)
	redecoded, err := DecodeAnnounce(reencoded)
	require.NoError(t, err)
	require.Equal(t, "alice", redecoded.Nickname)
	require.Len(t, redecoded.unknown, 1)
}

func TestAnnouncePayload_MalformedTLV(t *testing.T) {
	_, err := DecodeAnnounce([]byte{0x01, 0x00})
	require.ErrorIs(t, err, ErrMalformedTLV)

	_, err = DecodeAnnounce([]byte{0x01, 0x00, 0x05, 'h', 'i'})
	require.ErrorIs(t, err, ErrMalformedTLV)
}

func TestCompression_RoundTrip(t *testing.T) {
	payload := []byte("a payload that compresses reasonably well well well well well")
	compressed, err := Compress(payload)
	require.NoError(t, err)

	decompressed, err := Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, payload, decompressed)
}
