package identity

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/bitchat-mesh/bitchat/noise"
)

func sha256Fingerprint(noisePub [32]byte) noise.Fingerprint {
	return noise.Fingerprint(sha256.Sum256(noisePub[:]))
}

// fingerprintPrefix formats the first 8 bytes of a fingerprint as hex, the
// fallback display name when no nickname or petname is known (§4.8).
func fingerprintPrefix(fp noise.Fingerprint) string {
	return hex.EncodeToString(fp[:8])
}
