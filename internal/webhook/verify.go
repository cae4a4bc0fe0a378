package webhook

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// secretHeader is the dedicated secret-token header checked first.
const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// VerifySecret reports whether the request carries the expected secret.
//
// When secret is empty every request passes — deployments that omit the
// secret explicitly opt in to an unauthenticated webhook. Otherwise the
// request is accepted if any of the following equals the secret, checked in
// this order:
//
//  1. the X-Telegram-Bot-Api-Secret-Token header
//  2. the "secret" query parameter
//  3. an "Authorization: Bearer <secret>" header
//
// All comparisons are constant-time.
func VerifySecret(req *http.Request, secret string) bool {
	if secret == "" {
		return true
	}

	if constantTimeEqual(req.Header.Get(secretHeader), secret) {
		return true
	}

	if constantTimeEqual(req.URL.Query().Get("secret"), secret) {
		return true
	}

	if bearer, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer "); ok {
		if constantTimeEqual(bearer, secret) {
			return true
		}
	}

	return false
}

// constantTimeEqual compares two strings in constant time.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
