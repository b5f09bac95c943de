package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"kyte-estimates/internal/models"
)

// SignatureHeader carries base64(HMAC-SHA256(body, verifier token))
const SignatureHeader = "intuit-signature"

// Sign computes the signature QuickBooks sends for body
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature against the exact bytes received.
// The body must not be re-encoded: any byte difference invalidates it.
func Verify(signature string, rawBody []byte, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hmac.Equal(got, mac.Sum(nil))
}

// Authenticate is Verify with the rejection reason spelled out
func Authenticate(signature string, rawBody []byte, secret string) error {
	switch {
	case secret == "":
		return &models.SignatureError{Reason: models.SignatureMissingSecret}
	case strings.TrimSpace(signature) == "":
		return &models.SignatureError{Reason: models.SignatureMissingHeader}
	case !Verify(signature, rawBody, secret):
		return &models.SignatureError{Reason: models.SignatureMismatch}
	}
	return nil
}
