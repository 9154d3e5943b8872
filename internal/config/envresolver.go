package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// maxExpansionDepth bounds recursive expansion when an environment variable's
// value itself contains ${...} references.
const maxExpansionDepth = 10

var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// EnvResolver expands ${NAME} and ${NAME:default} references in config
// strings. Lookup defaults to os.LookupEnv; tests inject their own.
type EnvResolver struct {
	Lookup func(string) (string, bool)
}

// NewEnvResolver returns a resolver backed by the process environment.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{Lookup: os.LookupEnv}
}

// Expand resolves every env reference in s. A reference to an unset variable
// without a default is an error. Values containing further references are
// expanded recursively with cycle and depth guards.
func (r *EnvResolver) Expand(s string) (string, error) {
	return r.expand(s, nil, 0)
}

func (r *EnvResolver) expand(s string, visiting []string, depth int) (string, error) {
	if depth > maxExpansionDepth {
		return "", fmt.Errorf("environment reference expansion exceeded depth %d in %q", maxExpansionDepth, s)
	}

	var expandErr error
	out := envRefRe.ReplaceAllStringFunc(s, func(ref string) string {
		if expandErr != nil {
			return ref
		}
		groups := envRefRe.FindStringSubmatch(ref)
		name := groups[1]

		for _, v := range visiting {
			if v == name {
				expandErr = fmt.Errorf("cyclic environment reference involving %s", name)
				return ref
			}
		}

		value, ok := r.Lookup(name)
		if !ok {
			// groups[2] holds the default; distinguish "no default" from
			// an empty default by checking for the separator.
			if strings.Contains(ref, ":") {
				value = groups[2]
			} else {
				expandErr = fmt.Errorf("environment variable %s is not set", name)
				return ref
			}
		}

		if envRefRe.MatchString(value) {
			nested, err := r.expand(value, append(visiting, name), depth+1)
			if err != nil {
				expandErr = err
				return ref
			}
			value = nested
		}
		return value
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

// ResolveConfig expands env references in every user-supplied string of the
// configuration. All failures surface here, at startup.
func (r *EnvResolver) ResolveConfig(cfg *Config) error {
	for name, srv := range cfg.Servers {
		resolved, err := r.resolveServer(srv)
		if err != nil {
			return fmt.Errorf("server %s: %w", name, err)
		}
		cfg.Servers[name] = resolved
	}
	return nil
}

func (r *EnvResolver) resolveServer(srv ServerConfig) (ServerConfig, error) {
	var err error
	if srv.Command, err = r.Expand(srv.Command); err != nil {
		return srv, err
	}
	for i, arg := range srv.Args {
		if srv.Args[i], err = r.Expand(arg); err != nil {
			return srv, err
		}
	}
	for k, v := range srv.Env {
		if srv.Env[k], err = r.Expand(v); err != nil {
			return srv, err
		}
	}
	if srv.URL, err = r.Expand(srv.URL); err != nil {
		return srv, err
	}
	if srv.Auth != nil {
		auth := *srv.Auth
		fields := []*string{
			&auth.Token, &auth.ClientID, &auth.ClientSecret,
			&auth.TokenEndpoint, &auth.AuthorizationEndpoint,
			&auth.RedirectURI, &auth.Scope, &auth.Audience,
		}
		for _, f := range fields {
			if *f, err = r.Expand(*f); err != nil {
				return srv, err
			}
		}
		srv.Auth = &auth
	}
	return srv, nil
}
