package wire

import "github.com/DataDog/zstd"

// Compress zstd-compresses logical payload bytes before they are placed on
// the wire. Callers set flags.is-compressed and compress before fragmenting,
// never the reverse, so the fragmenter only ever sees the final wire bytes.
func Compress(payload []byte) ([]byte, error) {
	return zstd.Compress(nil, payload)
}

// Decompress reverses Compress. Callers must check flags.is-compressed
// before calling this; the codec does not infer compression from content.
func Decompress(wireBytes []byte) ([]byte, error) {
	return zstd.Decompress(nil, wireBytes)
}
