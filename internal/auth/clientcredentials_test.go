package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"funnel/internal/config"
	"funnel/internal/tokenstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var requestIDRe = regexp.MustCompile(`^\d{13}_[a-f0-9]{8}$`)

type tokenEndpoint struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string

	handler func(w http.ResponseWriter, r *http.Request, body string)
}

func newTokenEndpoint(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body string)) (*tokenEndpoint, *httptest.Server) {
	e := &tokenEndpoint{handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		e.mu.Lock()
		e.requests = append(e.requests, r.Clone(context.Background()))
		e.bodies = append(e.bodies, string(raw))
		e.mu.Unlock()
		e.handler(w, r, string(raw))
	}))
	t.Cleanup(srv.Close)
	return e, srv
}

func okToken(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"access_token":"T","token_type":"Bearer","expires_in":3600,"scope":"api:read api:write"}`))
}

func ccConfig(endpoint string) config.AuthConfig {
	return config.AuthConfig{
		Type:          config.AuthTypeClientCredentials,
		ClientID:      "my-client",
		ClientSecret:  "my-secret",
		TokenEndpoint: endpoint,
		Scope:         "api:read api:write",
		Audience:      "https://api.example.com",
	}
}

func TestClientCredentialsSuccess(t *testing.T) {
	e, srv := newTokenEndpoint(t, func(w http.ResponseWriter, r *http.Request, body string) {
		okToken(w)
	})

	store := tokenstore.NewMemoryStore()
	t.Cleanup(store.Close)
	p, err := NewClientCredentialsProvider("github", ccConfig(srv.URL), store)
	require.NoError(t, err)

	before := time.Now()
	require.NoError(t, p.Refresh(context.Background()))

	e.mu.Lock()
	require.Len(t, e.requests, 1)
	req := e.requests[0]
	body := e.bodies[0]
	e.mu.Unlock()

	assert.Equal(t,
		"audience=https%3A%2F%2Fapi.example.com&grant_type=client_credentials&scope=api%3Aread+api%3Awrite",
		body)
	assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
	// base64("my-client:my-secret")
	assert.Equal(t, "Basic bXktY2xpZW50Om15LXNlY3JldA==", req.Header.Get("Authorization"))
	assert.Regexp(t, requestIDRe, req.Header.Get("X-Request-ID"))

	token, err := store.Retrieve()
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "T", token.AccessToken)
	assert.Equal(t, "api:read api:write", token.Scope)
	assert.WithinDuration(t, before.Add(time.Hour), token.ExpiresAt, 10*time.Second)
	assert.True(t, p.IsValid())
}

func TestClientCredentialsGetHeaders(t *testing.T) {
	_, srv := newTokenEndpoint(t, func(w http.ResponseWriter, r *http.Request, body string) {
		okToken(w)
	})
	store := tokenstore.NewMemoryStore()
	t.Cleanup(store.Close)
	p, err := NewClientCredentialsProvider("github", ccConfig(srv.URL), store)
	require.NoError(t, err)

	headers, err := p.GetHeaders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer T", headers["Authorization"])
}

func TestClientCredentialsMissingConfig(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	t.Cleanup(store.Close)
	_, err := NewClientCredentialsProvider("s", config.AuthConfig{ClientID: "only-id"}, store)
	require.Error(t, err)
}

func TestClientCredentialsOAuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	_, srv := newTokenEndpoint(t, func(w http.ResponseWriter, r *http.Request, body string) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client","error_description":"bad credentials"}`))
	})
	store := tokenstore.NewMemoryStore()
	t.Cleanup(store.Close)
	p, err := NewClientCredentialsProvider("s", ccConfig(srv.URL), store)
	require.NoError(t, err)

	err = p.Refresh(context.Background())
	require.Error(t, err)
	var oauthErr *OAuth2Error
	require.ErrorAs(t, err, &oauthErr)
	assert.Equal(t, CodeInvalidClient, oauthErr.Code)
	assert.Equal(t, int32(1), calls.Load(), "4xx responses are not retried")
}

func TestClientCredentials5xxRetriedWithSameRequestID(t *testing.T) {
	var calls atomic.Int32
	e, srv := newTokenEndpoint(t, func(w http.ResponseWriter, r *http.Request, body string) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		okToken(w)
	})
	store := tokenstore.NewMemoryStore()
	t.Cleanup(store.Close)
	p, err := NewClientCredentialsProvider("s", ccConfig(srv.URL), store)
	require.NoError(t, err)

	require.NoError(t, p.Refresh(context.Background()))
	assert.Equal(t, int32(3), calls.Load())

	e.mu.Lock()
	defer e.mu.Unlock()
	first := e.requests[0].Header.Get("X-Request-ID")
	for _, req := range e.requests[1:] {
		assert.Equal(t, first, req.Header.Get("X-Request-ID"),
			"one logical request keeps one id across retries")
	}
}

func TestClientCredentialsExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	_, srv := newTokenEndpoint(t, func(w http.ResponseWriter, r *http.Request, body string) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"server_error"}`))
	})
	store := tokenstore.NewMemoryStore()
	t.Cleanup(store.Close)
	p, err := NewClientCredentialsProvider("s", ccConfig(srv.URL), store)
	require.NoError(t, err)

	require.Error(t, p.Refresh(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientCredentialsAudienceMismatch(t *testing.T) {
	_, srv := newTokenEndpoint(t, func(w http.ResponseWriter, r *http.Request, body string) {
		w.Write([]byte(`{"access_token":"T","audience":"https://other.example.com"}`))
	})
	store := tokenstore.NewMemoryStore()
	t.Cleanup(store.Close)
	p, err := NewClientCredentialsProvider("s", ccConfig(srv.URL), store)
	require.NoError(t, err)

	err = p.Refresh(context.Background())
	var oauthErr *OAuth2Error
	require.ErrorAs(t, err, &oauthErr)
	assert.Equal(t, CodeInvalidGrant, oauthErr.Code)
}

func TestClientCredentialsUnparseableResponse(t *testing.T) {
	_, srv := newTokenEndpoint(t, func(w http.ResponseWriter, r *http.Request, body string) {
		w.Write([]byte(`<html>not json</html>`))
	})
	store := tokenstore.NewMemoryStore()
	t.Cleanup(store.Close)
	p, err := NewClientCredentialsProvider("s", ccConfig(srv.URL), store)
	require.NoError(t, err)

	err = p.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to parse OAuth2 token response")
}

func TestRefreshSingleFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	_, srv := newTokenEndpoint(t, func(w http.ResponseWriter, r *http.Request, body string) {
		calls.Add(1)
		<-release
		okToken(w)
	})
	store := tokenstore.NewMemoryStore()
	t.Cleanup(store.Close)
	p, err := NewClientCredentialsProvider("s", ccConfig(srv.URL), store)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < len(errs); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.Refresh(context.Background())
		}(i)
	}

	// Let every caller pile onto the in-flight refresh, then release it.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load(), "acquire_token runs at most once per completion")
}

func TestDefaultExpiresInApplied(t *testing.T) {
	_, srv := newTokenEndpoint(t, func(w http.ResponseWriter, r *http.Request, body string) {
		w.Write([]byte(`{"access_token":"T"}`))
	})
	store := tokenstore.NewMemoryStore()
	t.Cleanup(store.Close)
	p, err := NewClientCredentialsProvider("s", ccConfig(srv.URL), store)
	require.NoError(t, err)

	require.NoError(t, p.Refresh(context.Background()))
	token, _ := store.Retrieve()
	require.NotNil(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), token.ExpiresAt, 10*time.Second)
	assert.Equal(t, "Bearer", token.TokenType)
}
