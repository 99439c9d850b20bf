package tlsconfig

import (
	"crypto/sha256"
	"encoding/hex"
)

func fingerprintHex(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}
