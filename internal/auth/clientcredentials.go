package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"funnel/internal/config"
	"funnel/internal/tokenstore"
	"funnel/pkg/ids"
)

// ClientCredentialsProvider implements the OAuth2 client credentials grant
// (RFC 6749 §4.4): machine-to-machine authentication against a token
// endpoint with client id and secret.
type ClientCredentialsProvider struct {
	*baseProvider

	clientID      string
	clientSecret  string
	tokenEndpoint string
	scope         string

	httpClient *http.Client
}

// NewClientCredentialsProvider validates the configuration and wires the
// provider. Missing required fields fail construction.
func NewClientCredentialsProvider(name string, cfg config.AuthConfig, store tokenstore.Store) (*ClientCredentialsProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.TokenEndpoint == "" {
		return nil, fmt.Errorf("client credentials auth for %s requires clientId, clientSecret and tokenEndpoint", name)
	}
	if _, err := url.Parse(cfg.TokenEndpoint); err != nil {
		return nil, fmt.Errorf("invalid token endpoint for %s: %w", name, err)
	}

	p := &ClientCredentialsProvider{
		baseProvider:  newBaseProvider(name, store, cfg.Audience),
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		tokenEndpoint: cfg.TokenEndpoint,
		scope:         cfg.Scope,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
	p.acquire = p.acquireToken
	p.scheduleProactiveRefresh()
	return p, nil
}

// acquireToken POSTs the client credentials grant to the token endpoint.
// One logical acquisition keeps the same X-Request-ID across its retries.
func (p *ClientCredentialsProvider) acquireToken(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if p.scope != "" {
		form.Set("scope", p.scope)
	}
	if p.audience != "" {
		form.Set("audience", p.audience)
	}
	body := form.Encode()

	requestID := ids.NewRequestID()
	basic := base64.StdEncoding.EncodeToString([]byte(p.clientID + ":" + p.clientSecret))

	return p.requestWithRetry(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenEndpoint, strings.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build token request: %w", err)
		}
		req.Header.Set("Authorization", "Basic "+basic)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Request-ID", requestID)

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

// Close releases nothing beyond the store's own timers; present to satisfy
// the Provider contract.
func (p *ClientCredentialsProvider) Close() {}
