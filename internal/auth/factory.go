package auth

import (
	"fmt"

	"funnel/internal/config"
	"funnel/internal/tokenstore"
)

// NewProvider builds the auth provider for one server from its
// configuration. OAuth2 providers get a token store per the configured
// storage backend; the registry is only consulted for authorization-code
// flows.
func NewProvider(server string, cfg *config.AuthConfig, registry *StateRegistry) (Provider, error) {
	if cfg == nil || cfg.Type == "" || cfg.Type == config.AuthTypeNone {
		return NoAuthProvider{}, nil
	}

	switch cfg.Type {
	case config.AuthTypeBearer:
		return NewStaticBearerProvider(cfg.Token)

	case config.AuthTypeClientCredentials:
		store, err := newStore(server, cfg.Storage)
		if err != nil {
			return nil, err
		}
		return NewClientCredentialsProvider(server, *cfg, store)

	case config.AuthTypeAuthorizationCode:
		store, err := newStore(server, cfg.Storage)
		if err != nil {
			return nil, err
		}
		return NewAuthCodeProvider(server, *cfg, store, registry)

	default:
		return nil, fmt.Errorf("unknown auth type %q for server %s", cfg.Type, server)
	}
}

func newStore(server, storage string) (tokenstore.Store, error) {
	switch storage {
	case "", "memory":
		return tokenstore.NewMemoryStore(), nil
	case "keychain":
		return tokenstore.NewKeychainStore(server)
	default:
		return nil, fmt.Errorf("unknown token storage %q for server %s", storage, server)
	}
}
