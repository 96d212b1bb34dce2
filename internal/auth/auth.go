// Package auth implements the two-tier trust model: same-origin browser
// calls are admitted implicitly, everything else must present the shared
// secret or a token signed with it.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

// Credentials are the request attributes that take part in authentication.
type Credentials struct {
	Host       string
	Origin     string
	Referer    string
	Credential string
}

// FromRequest extracts Credentials from r. The credential is taken from a
// Bearer Authorization header, falling back to X-API-Key.
func FromRequest(r *http.Request) Credentials {
	return Credentials{
		Host:       r.Host,
		Origin:     r.Header.Get("Origin"),
		Referer:    r.Header.Get("Referer"),
		Credential: Credential(r),
	}
}

func Credential(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

type Authenticator struct {
	secret string
}

// NewAuthenticator returns an Authenticator for secret. An empty secret
// only admits same-origin callers.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: secret}
}

// Authorize admits same-origin callers and callers holding a valid credential.
func (a *Authenticator) Authorize(c Credentials) error {
	if SameOrigin(c) {
		return nil
	}
	return a.Verify(c.Credential)
}

// Verify checks a presented credential: the shared secret itself or an
// access token signed with it.
func (a *Authenticator) Verify(credential string) error {
	if a.secret == "" || credential == "" {
		return ErrUnauthorized
	}
	if a.MatchesSecret(credential) {
		return nil
	}
	if _, err := ValidateToken(credential, a.secret); err == nil {
		return nil
	}
	return ErrUnauthorized
}

// MatchesSecret compares credential with the shared secret in constant time.
func (a *Authenticator) MatchesSecret(credential string) bool {
	if a.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(credential), []byte(a.secret)) == 1
}

// Secret is the signing key for access tokens.
func (a *Authenticator) Secret() string { return a.secret }

// SameOrigin reports whether Origin, or Referer when Origin is absent,
// names the host the request was sent to.
func SameOrigin(c Credentials) bool {
	if c.Host == "" {
		return false
	}
	source := c.Origin
	if source == "" || source == "null" {
		source = c.Referer
	}
	if source == "" {
		return false
	}
	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, c.Host)
}

// RequireCredential rejects requests without a valid credential. Same-origin
// requests are not enough.
func (a *Authenticator) RequireCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Verify(Credential(r)); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized","message":"Unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
