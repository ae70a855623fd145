// Package auth extracts and checks bridge access tokens.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AccessTokenParam carries the token on websocket and event-stream requests,
// which browsers cannot decorate with an Authorization header.
const AccessTokenParam = "access_token"

// Keys is the set of accepted tokens. An empty set disables authentication.
type Keys map[string]struct{}

func (k Keys) Enabled() bool { return len(k) > 0 }

// Valid reports whether token is one of the keys.
func (k Keys) Valid(token string) bool {
	if token == "" {
		return false
	}
	ok := false
	for key := range k {
		if subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1 {
			ok = true
		}
	}
	return ok
}

// FromRequest returns the bearer token of r. GET requests may carry it in
// the access_token query parameter instead.
func FromRequest(r *http.Request) (string, bool) {
	if token, ok := bearer(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if r.Method != http.MethodGet {
		return "", false
	}
	token := strings.TrimSpace(r.URL.Query().Get(AccessTokenParam))
	return token, token != ""
}

func bearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
