package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"kvrelay/internal/constants"
)

// computeSignature returns base64(HMAC-SHA256(secret, body))
func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// verifySignature reports whether signature is the base64 HMAC-SHA256 of
// body. A missing signature never verifies.
func verifySignature(secret, signature string, body []byte) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// checkBearer compares the Authorization header against "Bearer <token>"
func checkBearer(r *http.Request, token string) bool {
	if token == "" {
		return false
	}
	header := r.Header.Get(constants.AuthorizationHeader)
	if !strings.HasPrefix(header, constants.BearerPrefix) {
		return false
	}
	expected := constants.BearerPrefix + token
	return subtle.ConstantTimeCompare([]byte(header), []byte(expected)) == 1
}
