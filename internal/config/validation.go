package config

import (
	"fmt"
	"net/url"
	"regexp"
)

// serverNameRe restricts server identifiers to names that are safe to embed
// in tool namespaces, file names, and OS keychain keys.
var serverNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidateServerName reports whether name is a legal server identifier.
func ValidateServerName(name string) error {
	if !serverNameRe.MatchString(name) {
		return fmt.Errorf("invalid server name %q: must match %s", name, serverNameRe.String())
	}
	return nil
}

// Validate checks the configuration for fatal errors. It is called after env
// resolution so that expanded values are what get validated.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("no servers configured")
	}

	for name, srv := range c.Servers {
		if err := ValidateServerName(name); err != nil {
			return err
		}
		if srv.Command == "" && srv.URL == "" {
			return fmt.Errorf("server %s: either command or url is required", name)
		}
		if srv.Command != "" && srv.URL != "" {
			return fmt.Errorf("server %s: command and url are mutually exclusive", name)
		}
		if srv.URL != "" {
			u, err := url.Parse(srv.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				return fmt.Errorf("server %s: invalid url %q", name, srv.URL)
			}
		}
		if srv.Auth != nil {
			if err := validateAuth(name, srv.Auth); err != nil {
				return err
			}
		}
		if srv.Reconnect != nil {
			if srv.Reconnect.BackoffMultiplier < 0 {
				return fmt.Errorf("server %s: backoff_multiplier must be positive", name)
			}
		}
	}

	for pattern, ov := range c.ToolOverrides {
		if ov.InputSchemaOverride != nil {
			switch ov.InputSchemaOverride.Strategy {
			case StrategyReplace, StrategyMerge, StrategyDeepMerge:
			default:
				return fmt.Errorf("toolOverrides %q: unknown strategy %q", pattern, ov.InputSchemaOverride.Strategy)
			}
		}
	}

	return nil
}

func validateAuth(server string, auth *AuthConfig) error {
	switch auth.Type {
	case AuthTypeNone, "":
	case AuthTypeBearer:
		if auth.Token == "" {
			return fmt.Errorf("server %s: bearer auth requires token", server)
		}
	case AuthTypeClientCredentials:
		if auth.ClientID == "" || auth.ClientSecret == "" || auth.TokenEndpoint == "" {
			return fmt.Errorf("server %s: client_credentials auth requires clientId, clientSecret and tokenEndpoint", server)
		}
		if err := validateEndpoint(server, auth.TokenEndpoint); err != nil {
			return err
		}
	case AuthTypeAuthorizationCode:
		if auth.ClientID == "" || auth.TokenEndpoint == "" || auth.AuthorizationEndpoint == "" || auth.RedirectURI == "" {
			return fmt.Errorf("server %s: authorization_code auth requires clientId, tokenEndpoint, authorizationEndpoint and redirectUri", server)
		}
		if err := validateEndpoint(server, auth.TokenEndpoint); err != nil {
			return err
		}
		if err := validateEndpoint(server, auth.AuthorizationEndpoint); err != nil {
			return err
		}
	default:
		return fmt.Errorf("server %s: unknown auth type %q", server, auth.Type)
	}
	return nil
}

func validateEndpoint(server, endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("server %s: invalid endpoint url %q", server, endpoint)
	}
	return nil
}
