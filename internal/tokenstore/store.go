// Package tokenstore holds OAuth access tokens for auth providers: an
// in-memory store with serialized mutations and scheduled proactive refresh,
// and an OS-keychain-backed store for persistence across restarts.
package tokenstore

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryBuffer is the margin applied when checking token validity,
// and the lead time for proactive refresh scheduling.
const DefaultExpiryBuffer = 5 * time.Minute

// ErrEmptyAccessToken rejects tokens whose access token is blank.
var ErrEmptyAccessToken = errors.New("access token must not be empty")

// TokenData is a stored access token.
type TokenData struct {
	AccessToken string
	TokenType   string // defaults to "Bearer"
	ExpiresAt   time.Time
	Scope       string
}

// sanitize trims whitespace and applies the token type default. An empty
// access token after trimming is rejected.
func (t TokenData) sanitize() (TokenData, error) {
	out := t
	out.AccessToken = strings.TrimSpace(t.AccessToken)
	out.TokenType = strings.TrimSpace(t.TokenType)
	if out.AccessToken == "" {
		return TokenData{}, ErrEmptyAccessToken
	}
	if out.TokenType == "" {
		out.TokenType = "Bearer"
	}
	return out, nil
}

// expired reports whether the token is unusable within buffer. A zero
// expiry is treated as expired: every stored token carries an absolute
// expiry, so a missing one means the data is damaged.
func (t TokenData) expired(now time.Time, buffer time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(buffer).Before(t.ExpiresAt)
}

// ToOAuth2Token bridges to the x/oauth2 representation used for
// persistence.
func (t TokenData) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: t.AccessToken,
		TokenType:   t.TokenType,
		Expiry:      t.ExpiresAt,
	}
}

// FromOAuth2Token converts a persisted oauth2.Token back.
func FromOAuth2Token(tok *oauth2.Token, scope string) TokenData {
	return TokenData{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresAt:   tok.Expiry,
		Scope:       scope,
	}
}

// Store is the token storage contract shared by auth providers.
type Store interface {
	// Store saves the token, replacing any previous one.
	Store(token TokenData) error

	// Retrieve returns a defensive copy of the current token, or nil.
	Retrieve() (*TokenData, error)

	// Clear drops the current token and cancels any scheduled refresh.
	Clear() error

	// IsExpired reports whether no usable token is held, using the
	// default 5-minute buffer.
	IsExpired() bool

	// IsExpiredWithin is IsExpired with an explicit buffer.
	IsExpiredWithin(buffer time.Duration) bool
}

// RefreshScheduler is implemented by stores that support proactive refresh.
// The callback fires at expires_at minus the buffer; each Store re-schedules
// it for the new expiry.
type RefreshScheduler interface {
	ScheduleRefresh(cb func())
}
