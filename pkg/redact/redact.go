// Package redact scrubs credentials from strings before they reach a log.
//
// Every URL and every serialized message that might carry an access token,
// an Authorization header, or an `auth` query parameter must pass through
// this package on its way to the logger.
package redact

import (
	"net/url"
	"regexp"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Placeholder is the value substituted for any redacted credential.
const Placeholder = "[REDACTED]"

var (
	bearerRe     = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._~+/\-]+=*`)
	basicRe      = regexp.MustCompile(`(?i)\bBasic\s+[A-Za-z0-9+/=]+`)
	authHeaderRe = regexp.MustCompile(`(?i)("?Authorization"?\s*[:=]\s*)"?[^",}\s]+"?`)
	authFieldRe  = regexp.MustCompile(`("auth"\s*:\s*)"[^"]*"`)
)

// URL replaces the value of the `auth` query parameter in rawURL with the
// placeholder. Unparseable URLs are returned with a best-effort regex scrub
// rather than unchanged.
func URL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return String(rawURL)
	}
	q := u.Query()
	if q.Has("auth") {
		q.Set("auth", Placeholder)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// String scrubs Authorization header values, `Bearer <token>` and
// `Basic <credentials>` occurrences, and `"auth":"..."` JSON fields from s.
// Credential schemes go first so the header pass never splits them.
func String(s string) string {
	s = bearerRe.ReplaceAllString(s, "Bearer "+Placeholder)
	s = basicRe.ReplaceAllString(s, "Basic "+Placeholder)
	s = authHeaderRe.ReplaceAllString(s, `${1}"`+Placeholder+`"`)
	s = authFieldRe.ReplaceAllString(s, `${1}"`+Placeholder+`"`)
	return s
}

// JSON structurally redacts well-known credential fields in a JSON document.
// Invalid JSON falls back to the textual scrub.
func JSON(raw []byte) []byte {
	if !gjson.ValidBytes(raw) {
		return []byte(String(string(raw)))
	}
	out := raw
	for _, path := range []string{"auth", "access_token", "Authorization", "headers.Authorization", "params.auth"} {
		if gjson.GetBytes(out, path).Exists() {
			if updated, err := sjson.SetBytes(out, path, Placeholder); err == nil {
				out = updated
			}
		}
	}
	return []byte(String(string(out)))
}
