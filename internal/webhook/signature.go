package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifySignature reports whether header carries a valid HMAC-SHA256
// signature of the raw body under secret. The comparison is constant-time.
// An empty secret disables verification; the caller is expected to log
// that choice once at startup.
func VerifySignature(body []byte, header, secret string) bool {
	if strings.TrimSpace(secret) == "" {
		return true
	}
	provided := strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix)
	if provided == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}
