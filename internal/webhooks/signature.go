package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignaturePrefix names the MAC scheme in the X-Signature header value.
const SignaturePrefix = "sha256="

// Signer produces the X-Signature header value for an outgoing body.
type Signer interface {
	Sign(secret string, body []byte) (string, error)
}

// HMACSigner signs the exact wire bytes with HMAC-SHA256.
type HMACSigner struct{}

// Sign returns "sha256=<lowercase hex>" over body. An empty secret is a configuration error.
func (HMACSigner) Sign(secret string, body []byte) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", &ConfigurationError{Field: "secret", Reason: "missing signing secret"}
	}
	return SignaturePrefix + SignHMAC(secret, body), nil
}

// SignHMAC returns lowercase hex of HMAC-SHA256 for body.
func SignHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC is the receiver side check: it recomputes the MAC over the raw body and
// compares in constant time. provided may carry the "sha256=" prefix.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	provided = strings.TrimPrefix(provided, SignaturePrefix)
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), b)
}
