package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader is the header BTCPay signs webhook deliveries with.
const SignatureHeader = "BTCPAY-SIG"

const signaturePrefix = "sha256="

// Sign returns the BTCPAY-SIG header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header is the HMAC-SHA256 signature of rawBody keyed
// by secret. It fails closed on empty input and compares in constant time.
func Verify(rawBody []byte, header, secret string) bool {
	if len(rawBody) == 0 || header == "" || secret == "" {
		return false
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	return hmac.Equal([]byte(header), []byte(Sign(rawBody, secret)))
}

// VerifyAny checks header against each secret and returns the one that matched.
func VerifyAny(rawBody []byte, header string, secrets []string) (string, bool) {
	for _, secret := range secrets {
		if Verify(rawBody, header, secret) {
			return secret, true
		}
	}
	return "", false
}
