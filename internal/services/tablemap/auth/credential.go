package auth

import (
	"net/http"
	"strings"
)

const (
	// CookieName carries the bearer token for browser clients.
	CookieName = "tablemap_token"
	// QueryParam carries the bearer token for clients that cannot set headers.
	QueryParam = "token"

	protocolPrefix = "bearer."
)

// CredentialFromRequest extracts a bearer token from the handshake request.
// Sources are checked in order: query parameter, Authorization header,
// Sec-WebSocket-Protocol entry, then cookie.
func CredentialFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if r.URL != nil {
		if token := strings.TrimSpace(r.URL.Query().Get(QueryParam)); token != "" {
			return token
		}
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	for _, value := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, entry := range strings.Split(value, ",") {
			entry = strings.TrimSpace(entry)
			if token, ok := strings.CutPrefix(entry, protocolPrefix); ok && token != "" {
				return token
			}
		}
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
