// Package logsafe derives log-safe stand-ins for identifiers and payloads that
// must not be written to logs verbatim.
package logsafe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const idLength = 12

// SafeIdentifier returns a short salted hash of value. Empty values stay empty
// so absent fields remain distinguishable in logs.
func SafeIdentifier(salt, value string) string {
	if value == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))[:idLength]
}

// PayloadFingerprint describes a request body without revealing it.
func PayloadFingerprint(salt string, body []byte) map[string]interface{} {
	return map[string]interface{}{
		"payload_hash": SafeIdentifier(salt, string(body)),
		"payload_size": len(body),
	}
}
