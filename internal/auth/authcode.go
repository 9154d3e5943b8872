package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"funnel/internal/config"
	"funnel/internal/tokenstore"
	"funnel/pkg/logging"
)

const (
	// flowTimeout bounds how long a user has to complete the browser leg.
	flowTimeout = 5 * time.Minute

	// sweepInterval and stateMaxAge govern the periodic expiry sweep of
	// abandoned flows.
	sweepInterval = 2 * time.Minute
	stateMaxAge   = 10 * time.Minute
)

// pendingFlow is one in-progress authorization: created when the flow
// starts, removed on completion, timeout, or sweep.
type pendingFlow struct {
	state        string
	codeVerifier string
	createdAt    time.Time
	timer        *time.Timer
	// result resolves the blocked acquireToken call exactly once.
	result chan error
}

// AuthCodeProvider implements the OAuth2 authorization code grant with PKCE
// (RFC 6749 §4.1, RFC 7636). Multiple flows may be in progress on one
// provider concurrently; the shared StateRegistry routes each callback to
// its owner in O(1).
type AuthCodeProvider struct {
	*baseProvider

	clientID              string
	clientSecret          string
	tokenEndpoint         string
	authorizationEndpoint string
	redirectURI           string
	scope                 string

	registry   *StateRegistry
	httpClient *http.Client

	// onAuthorizationURL surfaces the URL the user must open. Defaults to
	// logging it.
	onAuthorizationURL func(url string)

	mu      sync.Mutex
	pending map[string]*pendingFlow
	closed  bool

	sweepStop chan struct{}
}

// NewAuthCodeProvider validates configuration and wires the provider into
// the shared state registry.
func NewAuthCodeProvider(name string, cfg config.AuthConfig, store tokenstore.Store, registry *StateRegistry) (*AuthCodeProvider, error) {
	if cfg.ClientID == "" || cfg.TokenEndpoint == "" || cfg.AuthorizationEndpoint == "" || cfg.RedirectURI == "" {
		return nil, fmt.Errorf("authorization code auth for %s requires clientId, tokenEndpoint, authorizationEndpoint and redirectUri", name)
	}
	if registry == nil {
		return nil, fmt.Errorf("authorization code auth for %s requires a state registry", name)
	}

	p := &AuthCodeProvider{
		baseProvider:          newBaseProvider(name, store, cfg.Audience),
		clientID:              cfg.ClientID,
		clientSecret:          cfg.ClientSecret,
		tokenEndpoint:         cfg.TokenEndpoint,
		authorizationEndpoint: cfg.AuthorizationEndpoint,
		redirectURI:           cfg.RedirectURI,
		scope:                 cfg.Scope,
		registry:              registry,
		httpClient:            &http.Client{Timeout: 30 * time.Second},
		pending:               make(map[string]*pendingFlow),
		sweepStop:             make(chan struct{}),
	}
	p.acquire = p.acquireToken
	p.onAuthorizationURL = func(u string) {
		logging.Info("Auth", "Open this URL to authorize %s: %s", name, u)
	}
	p.scheduleProactiveRefresh()
	go p.sweepLoop()
	return p, nil
}

// SetAuthorizationURLHandler replaces the default log-the-URL behavior,
// e.g. to open a browser.
func (p *AuthCodeProvider) SetAuthorizationURLHandler(fn func(url string)) {
	p.onAuthorizationURL = fn
}

// acquireToken starts a new authorization flow and blocks until the
// callback completes it, the 5-minute timeout fires, or ctx is done.
func (p *AuthCodeProvider) acquireToken(ctx context.Context) error {
	state, err := GenerateState()
	if err != nil {
		return err
	}
	pkce, err := GeneratePKCE()
	if err != nil {
		return err
	}

	flow := &pendingFlow{
		state:        state,
		codeVerifier: pkce.CodeVerifier,
		createdAt:    time.Now(),
		result:       make(chan error, 1),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrProviderClosed
	}
	p.pending[state] = flow
	p.mu.Unlock()
	p.registry.register(state, p)

	flow.timer = time.AfterFunc(flowTimeout, func() {
		p.rejectFlow(state, fmt.Errorf("%w after %s", ErrFlowTimeout, flowTimeout))
	})

	p.onAuthorizationURL(p.buildAuthorizationURL(state, pkce.CodeChallenge))

	select {
	case err := <-flow.result:
		return err
	case <-ctx.Done():
		p.rejectFlow(state, ctx.Err())
		return ctx.Err()
	}
}

// buildAuthorizationURL assembles the browser URL for one flow.
func (p *AuthCodeProvider) buildAuthorizationURL(state, codeChallenge string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", p.clientID)
	q.Set("redirect_uri", p.redirectURI)
	q.Set("state", state)
	q.Set("code_challenge", codeChallenge)
	q.Set("code_challenge_method", "S256")
	if p.scope != "" {
		q.Set("scope", p.scope)
	}
	if p.audience != "" {
		q.Set("audience", p.audience)
	}

	sep := "?"
	if strings.Contains(p.authorizationEndpoint, "?") {
		sep = "&"
	}
	return p.authorizationEndpoint + sep + q.Encode()
}

// CompleteFlow finishes a pending authorization: the upstream HTTP callback
// handler calls it with the state and code from the redirect. The code is
// exchanged at the token endpoint with this flow's PKCE verifier. Both maps
// are cleaned up regardless of outcome.
func (p *AuthCodeProvider) CompleteFlow(ctx context.Context, state, code string) error {
	p.mu.Lock()
	flow, ok := p.pending[state]
	if ok {
		delete(p.pending, state)
	}
	p.mu.Unlock()
	p.registry.unregister(state)

	if !ok {
		return ErrInvalidOAuthState
	}
	flow.timer.Stop()

	err := p.exchangeCode(ctx, code, flow.codeVerifier)
	flow.result <- err
	return err
}

// exchangeCode POSTs the authorization code grant to the token endpoint.
func (p *AuthCodeProvider) exchangeCode(ctx context.Context, code, codeVerifier string) error {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", p.redirectURI)
	form.Set("client_id", p.clientID)
	form.Set("code_verifier", codeVerifier)
	body := form.Encode()

	return p.requestWithRetry(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenEndpoint, strings.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if p.clientSecret != "" {
			// Confidential client; public clients send no credentials.
			basic := base64.StdEncoding.EncodeToString([]byte(p.clientID + ":" + p.clientSecret))
			req.Header.Set("Authorization", "Basic "+basic)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("token request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("failed to read token response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return parseErrorResponse(resp.StatusCode, respBody)
		}

		_, err = p.processTokenResponse(respBody, true)
		return err
	})
}

// rejectFlow fails one pending flow and cleans up both maps. Safe to call
// for a flow that already completed.
func (p *AuthCodeProvider) rejectFlow(state string, err error) {
	p.mu.Lock()
	flow, ok := p.pending[state]
	if ok {
		delete(p.pending, state)
	}
	p.mu.Unlock()
	p.registry.unregister(state)

	if !ok {
		return
	}
	flow.timer.Stop()
	flow.result <- err
}

// sweepLoop periodically rejects flows older than the state max age.
func (p *AuthCodeProvider) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweepExpired()
		case <-p.sweepStop:
			return
		}
	}
}

func (p *AuthCodeProvider) sweepExpired() {
	cutoff := time.Now().Add(-stateMaxAge)

	p.mu.Lock()
	var expired []string
	for state, flow := range p.pending {
		if flow.createdAt.Before(cutoff) {
			expired = append(expired, state)
		}
	}
	p.mu.Unlock()

	for _, state := range expired {
		logging.Debug("Auth", "Sweeping expired OAuth state for %s", p.name)
		p.rejectFlow(state, ErrInvalidOAuthState)
	}
}

// PendingFlows returns the number of in-progress authorizations.
func (p *AuthCodeProvider) PendingFlows() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close rejects every pending flow, clears the sweeper, and detaches from
// the registry.
func (p *AuthCodeProvider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var states []string
	for state := range p.pending {
		states = append(states, state)
	}
	p.mu.Unlock()

	close(p.sweepStop)
	for _, state := range states {
		p.rejectFlow(state, ErrProviderClosed)
	}
}
