package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// VerifyPaymentSignature checks a Razorpay style checkout signature: hex
// HMAC-SHA256 of "orderId|paymentId" keyed with the API secret.
func VerifyPaymentSignature(orderID, paymentID, signature, secret string) bool {
	sig := strings.TrimSpace(signature)
	if sig == "" || secret == "" || orderID == "" || paymentID == "" {
		return false
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	return hmac.Equal(hmacSHA256([]byte(orderID+"|"+paymentID), secret), decoded)
}

// verifyHexBodySignature checks a hex HMAC-SHA256 of the raw body.
func verifyHexBodySignature(body []byte, signature, secret string) bool {
	sig := strings.TrimSpace(signature)
	if sig == "" || secret == "" {
		return false
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	return hmac.Equal(hmacSHA256(body, secret), decoded)
}

// verifyBase64TimestampSignature checks base64 HMAC-SHA256 of timestamp+body.
func verifyBase64TimestampSignature(body []byte, timestamp, signature, secret string) bool {
	sig := strings.TrimSpace(signature)
	if sig == "" || secret == "" || timestamp == "" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	payload := append([]byte(timestamp), body...)
	return hmac.Equal(hmacSHA256(payload, secret), decoded)
}

func hmacSHA256(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

// bodyDigest derives a stable event id for deliveries without one.
func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:16])
}
