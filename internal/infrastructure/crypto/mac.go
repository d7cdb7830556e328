package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// GenerateMAC returns hex(HMAC-SHA256(key, transID + msgType + iv + message)).
func GenerateMAC(key []byte, message, iv, transID, msgType string) string {
	return hex.EncodeToString(computeMAC(key, message, iv, transID, msgType))
}

// ValidateMAC recomputes the MAC and compares it in constant time. A MAC that
// is not valid hex never validates.
func ValidateMAC(key []byte, message, iv, transID, msgType, mac string) bool {
	received, err := hex.DecodeString(mac)
	if err != nil {
		return false
	}
	return hmac.Equal(computeMAC(key, message, iv, transID, msgType), received)
}

func computeMAC(key []byte, message, iv, transID, msgType string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(transID))
	h.Write([]byte(msgType))
	h.Write([]byte(iv))
	h.Write([]byte(message))
	return h.Sum(nil)
}
