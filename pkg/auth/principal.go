package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// ExtractPrincipal derives the rate-limit/cache principal: if
// authHeader is "Bearer <token>" and token parses as a three-segment
// JWT, decode the middle segment as base64-url JSON and read "sub";
// principal is "user:{sub}". Otherwise, or on any parse error,
// principal falls back to "ip:{remoteIP}". This never fails the
// request: a malformed token degrades to the IP-based principal rather
// than rejecting the call at this stage.
func ExtractPrincipal(authHeader, remoteIP string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(authHeader, prefix) {
		token := strings.TrimPrefix(authHeader, prefix)
		if sub, ok := subjectFromToken(token); ok && sub != "" {
			return "user:" + sub
		}
	}
	return "ip:" + remoteIP
}

// subjectFromToken decodes a JWT's middle (payload) segment without
// verifying its signature — principal extraction for rate-limiting and
// caching does not require a trusted identity, only a stable label.
// Authenticated operations must still call Issuer.Verify separately.
func subjectFromToken(token string) (string, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", false
	}
	var payload struct {
		Sub string `json:"sub"`
	}
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return "", false
	}
	return payload.Sub, payload.Sub != ""
}
