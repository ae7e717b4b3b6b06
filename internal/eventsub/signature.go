package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SignaturePrefix precedes the hex HMAC in the signature header.
const SignaturePrefix = "sha256="

// Sign computes the signature header value for a delivery:
// "sha256=" + hex(HMAC-SHA256(secret, messageID || timestamp || body)).
func Sign(secret, messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature authenticates the delivery. Any missing
// part fails. The comparison does not exit early on content, and unequal
// lengths are rejected without inspecting bytes.
func Verify(secret, messageID, timestamp string, body []byte, signature string) bool {
	if secret == "" || messageID == "" || timestamp == "" || signature == "" {
		return false
	}
	expected := Sign(secret, messageID, timestamp, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
