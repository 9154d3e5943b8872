package auth

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"funnel/internal/config"
	"funnel/internal/tokenstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acConfig(endpoint string) config.AuthConfig {
	return config.AuthConfig{
		Type:                  config.AuthTypeAuthorizationCode,
		ClientID:              "public-client",
		TokenEndpoint:         endpoint,
		AuthorizationEndpoint: "https://auth.example.com/authorize",
		RedirectURI:           "http://localhost:8765/callback",
		Scope:                 "openid profile",
	}
}

// startProvider builds an auth-code provider whose authorization URLs land
// on the returned channel.
func startProvider(t *testing.T, endpoint string, registry *StateRegistry) (*AuthCodeProvider, chan string) {
	t.Helper()
	store := tokenstore.NewMemoryStore()
	t.Cleanup(store.Close)
	p, err := NewAuthCodeProvider("remote", acConfig(endpoint), store, registry)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	urls := make(chan string, 4)
	p.SetAuthorizationURLHandler(func(u string) { urls <- u })
	return p, urls
}

func stateFrom(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestAuthorizationURLShape(t *testing.T) {
	registry := NewStateRegistry()
	p, urls := startProvider(t, "https://auth.example.com/token", registry)

	go func() { _ = p.Refresh(context.Background()) }()
	raw := <-urls

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "public-client", q.Get("client_id"))
	assert.Equal(t, "http://localhost:8765/callback", q.Get("redirect_uri"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("state"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "openid profile", q.Get("scope"))

	// Clean up the dangling flow.
	p.rejectFlow(q.Get("state"), ErrProviderClosed)
}

func TestCompleteFlowExchangesCode(t *testing.T) {
	e, srv := newTokenEndpoint(t, func(w http.ResponseWriter, r *http.Request, body string) {
		okToken(w)
	})
	registry := NewStateRegistry()
	p, urls := startProvider(t, srv.URL, registry)

	refreshDone := make(chan error, 1)
	go func() { refreshDone <- p.Refresh(context.Background()) }()

	state := stateFrom(t, <-urls)
	require.Same(t, p, registry.GetProviderForState(state))

	require.NoError(t, p.CompleteFlow(context.Background(), state, "the-code"))
	require.NoError(t, <-refreshDone)

	// Exchange carried the grant, code, redirect, client id, and verifier;
	// public client, so no Basic auth header.
	e.mu.Lock()
	body := e.bodies[0]
	authHeader := e.requests[0].Header.Get("Authorization")
	e.mu.Unlock()
	form, err := url.ParseQuery(body)
	require.NoError(t, err)
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "the-code", form.Get("code"))
	assert.Equal(t, "http://localhost:8765/callback", form.Get("redirect_uri"))
	assert.Equal(t, "public-client", form.Get("client_id"))
	assert.NotEmpty(t, form.Get("code_verifier"))
	assert.Empty(t, authHeader)

	// State is gone from the registry and the pending map.
	assert.Nil(t, registry.GetProviderForState(state))
	assert.Zero(t, p.PendingFlows())
	assert.True(t, p.IsValid())
}

func TestConfidentialClientSendsBasicAuth(t *testing.T) {
	e, srv := newTokenEndpoint(t, func(w http.ResponseWriter, r *http.Request, body string) {
		okToken(w)
	})
	registry := NewStateRegistry()
	store := tokenstore.NewMemoryStore()
	t.Cleanup(store.Close)
	cfg := acConfig(srv.URL)
	cfg.ClientSecret = "confidential"
	p, err := NewAuthCodeProvider("remote", cfg, store, registry)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	urls := make(chan string, 1)
	p.SetAuthorizationURLHandler(func(u string) { urls <- u })

	go func() { _ = p.Refresh(context.Background()) }()
	state := stateFrom(t, <-urls)
	require.NoError(t, p.CompleteFlow(context.Background(), state, "c"))

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Contains(t, e.requests[0].Header.Get("Authorization"), "Basic ")
}

func TestConcurrentFlowsAreIndependent(t *testing.T) {
	_, srv := newTokenEndpoint(t, func(w http.ResponseWriter, r *http.Request, body string) {
		okToken(w)
	})
	registry := NewStateRegistry()
	p, urls := startProvider(t, srv.URL, registry)

	// Two flows on the same provider. Refresh is single-flight, so drive
	// acquireToken directly to model two independent upstream sessions.
	resA := make(chan error, 1)
	resB := make(chan error, 1)
	go func() { resA <- p.acquireToken(context.Background()) }()
	stateA := stateFrom(t, <-urls)
	go func() { resB <- p.acquireToken(context.Background()) }()
	stateB := stateFrom(t, <-urls)

	require.NotEqual(t, stateA, stateB)
	assert.Equal(t, 2, p.PendingFlows())

	// Completing A resolves A and leaves B untouched.
	require.NoError(t, p.CompleteFlow(context.Background(), stateA, "code-a"))
	require.NoError(t, <-resA)

	assert.Nil(t, registry.GetProviderForState(stateA))
	require.Same(t, p, registry.GetProviderForState(stateB))
	assert.Equal(t, 1, p.PendingFlows())

	// B still completes on its own.
	require.NoError(t, p.CompleteFlow(context.Background(), stateB, "code-b"))
	require.NoError(t, <-resB)
}

func TestCompleteFlowUnknownState(t *testing.T) {
	registry := NewStateRegistry()
	p, _ := startProvider(t, "https://auth.example.com/token", registry)

	err := p.CompleteFlow(context.Background(), "never-issued", "code")
	assert.ErrorIs(t, err, ErrInvalidOAuthState)
}

func TestSweepRejectsExpiredFlows(t *testing.T) {
	registry := NewStateRegistry()
	p, urls := startProvider(t, "https://auth.example.com/token", registry)

	res := make(chan error, 1)
	go func() { res <- p.acquireToken(context.Background()) }()
	state := stateFrom(t, <-urls)

	// Backdate the flow past the 10-minute threshold, then sweep.
	p.mu.Lock()
	p.pending[state].createdAt = time.Now().Add(-stateMaxAge - time.Minute)
	p.mu.Unlock()
	p.sweepExpired()

	err := <-res
	assert.ErrorIs(t, err, ErrInvalidOAuthState)
	assert.Nil(t, registry.GetProviderForState(state))
	assert.Zero(t, p.PendingFlows())
}

func TestFreshFlowSurvivesSweep(t *testing.T) {
	registry := NewStateRegistry()
	p, urls := startProvider(t, "https://auth.example.com/token", registry)

	go func() { _ = p.acquireToken(context.Background()) }()
	state := stateFrom(t, <-urls)

	p.sweepExpired()
	assert.Same(t, p, registry.GetProviderForState(state))
	assert.Equal(t, 1, p.PendingFlows())

	p.rejectFlow(state, ErrProviderClosed)
}

func TestCloseRejectsPendingFlows(t *testing.T) {
	registry := NewStateRegistry()
	store := tokenstore.NewMemoryStore()
	t.Cleanup(store.Close)
	p, err := NewAuthCodeProvider("remote", acConfig("https://auth.example.com/token"), store, registry)
	require.NoError(t, err)
	urls := make(chan string, 1)
	p.SetAuthorizationURLHandler(func(u string) { urls <- u })

	res := make(chan error, 1)
	go func() { res <- p.acquireToken(context.Background()) }()
	state := stateFrom(t, <-urls)

	p.Close()
	assert.ErrorIs(t, <-res, ErrProviderClosed)
	assert.Nil(t, registry.GetProviderForState(state))

	// Close is idempotent.
	p.Close()
}

func TestAcquireCancelledByContext(t *testing.T) {
	registry := NewStateRegistry()
	p, urls := startProvider(t, "https://auth.example.com/token", registry)

	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan error, 1)
	go func() { res <- p.acquireToken(ctx) }()
	state := stateFrom(t, <-urls)

	cancel()
	assert.ErrorIs(t, <-res, context.Canceled)
	assert.Nil(t, registry.GetProviderForState(state))
}
