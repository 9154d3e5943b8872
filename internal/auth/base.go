package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"funnel/internal/tokenstore"
	"funnel/pkg/logging"

	"golang.org/x/sync/singleflight"
)

// retry policy for token endpoint requests: 3 attempts with 1s, 2s backoff,
// transient errors only.
const (
	maxTokenAttempts  = 3
	retryInitialDelay = time.Second
)

// defaultExpiresIn applies when the token response omits expires_in.
const defaultExpiresIn = 3600

// tokenResponse is the token endpoint's JSON shape.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	Scope            string `json:"scope"`
	Audience         string `json:"audience"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// acquireFunc is the flow-specific token acquisition implemented by each
// OAuth2 provider.
type acquireFunc func(ctx context.Context) error

// baseProvider implements the machinery shared by the OAuth2 flows.
type baseProvider struct {
	name    string
	store   tokenstore.Store
	acquire acquireFunc

	// audience, when set, must match the audience field of a token response
	// processed with validation on; a response without an audience field is
	// accepted.
	audience string

	flight singleflight.Group
}

// newBaseProvider wires the shared base. The concrete flow assigns acquire
// after construction (it needs the base first).
func newBaseProvider(name string, store tokenstore.Store, audience string) *baseProvider {
	return &baseProvider{name: name, store: store, audience: audience}
}

// GetHeaders ensures a valid token and formats the authorization header.
func (b *baseProvider) GetHeaders(ctx context.Context) (map[string]string, error) {
	token, err := b.ensureValidToken(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Authorization": fmt.Sprintf("%s %s", token.TokenType, token.AccessToken),
	}, nil
}

// IsValid reports whether a stored, unexpired token exists.
func (b *baseProvider) IsValid() bool {
	return !b.store.IsExpired()
}

// Refresh acquires a fresh token. Single-flight: concurrent callers share
// the in-progress acquisition and observe its result.
func (b *baseProvider) Refresh(ctx context.Context) error {
	_, err, _ := b.flight.Do("refresh", func() (interface{}, error) {
		return nil, b.acquire(ctx)
	})
	return err
}

// ensureValidToken returns the stored token, refreshing first when it is
// missing or expired.
func (b *baseProvider) ensureValidToken(ctx context.Context) (*tokenstore.TokenData, error) {
	if b.IsValid() {
		if token, err := b.store.Retrieve(); err == nil && token != nil {
			return token, nil
		}
	}

	if err := b.Refresh(ctx); err != nil {
		return nil, err
	}

	token, err := b.store.Retrieve()
	if err != nil || token == nil {
		return nil, ErrTokenAcquireFailed
	}
	return token, nil
}

// scheduleProactiveRefresh registers a refresh callback with the store when
// it supports scheduling. Refresh failures are logged without any token
// material.
func (b *baseProvider) scheduleProactiveRefresh() {
	scheduler, ok := b.store.(tokenstore.RefreshScheduler)
	if !ok {
		return
	}
	scheduler.ScheduleRefresh(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := b.Refresh(ctx); err != nil {
			logging.Warn("Auth", "Proactive refresh failed for %s: %v", b.name, err)
		} else {
			logging.Debug("Auth", "Proactively refreshed token for %s", b.name)
		}
	})
}

// requestWithRetry runs fn up to 3 times with exponential backoff (1s, 2s),
// retrying only transient errors. Non-retryable errors propagate
// immediately.
func (b *baseProvider) requestWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	delay := retryInitialDelay
	var lastErr error
	for remaining := maxTokenAttempts; remaining > 0; remaining-- {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if remaining == 1 {
			break
		}
		logging.Warn("Auth", "Transient error for %s, retrying in %s (%d attempts left): %v",
			b.name, delay, remaining-1, lastErr)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return lastErr
}

// processTokenResponse parses a token endpoint success body, validates it,
// and stores the result. A storage failure is non-fatal: the token is still
// returned so the caller can use it, and a warning is logged.
func (b *baseProvider) processTokenResponse(body []byte, validateAudience bool) (*tokenstore.TokenData, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("Failed to parse OAuth2 token response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("Failed to parse OAuth2 token response: missing access_token")
	}

	if validateAudience && b.audience != "" && resp.Audience != "" && resp.Audience != b.audience {
		return nil, NewAudienceMismatchError(b.audience, resp.Audience)
	}

	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	token := tokenstore.TokenData{
		AccessToken: resp.AccessToken,
		TokenType:   tokenType,
		ExpiresAt:   time.Now().Add(time.Duration(expiresIn) * time.Second),
		Scope:       resp.Scope,
	}

	if err := b.store.Store(token); err != nil {
		logging.Warn("Auth", "Failed to store token for %s: %v", b.name, err)
	}

	logging.Info("Auth", "Acquired token for %s (expires in %ds)", b.name, expiresIn)
	return &token, nil
}

// parseErrorResponse converts a non-2xx token endpoint body into the error
// taxonomy.
func parseErrorResponse(status int, body []byte) error {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != "" {
		return &OAuth2Error{Code: resp.Error, Description: resp.ErrorDescription, StatusCode: status}
	}
	return &httpStatusError{status: status, body: string(body)}
}
