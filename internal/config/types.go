package config

// Config is the top-level configuration structure for funnel.
type Config struct {
	// Proxy configures the upstream-facing MCP endpoint.
	Proxy ProxyConfig `yaml:"proxy,omitempty"`

	// Servers maps a unique server name to its downstream configuration.
	Servers map[string]ServerConfig `yaml:"servers"`

	// ToolOverrides maps an exact tool name or glob pattern to an override.
	ToolOverrides map[string]ToolOverride `yaml:"toolOverrides,omitempty"`

	// OverrideSettings controls dynamic override behavior.
	OverrideSettings OverrideSettings `yaml:"overrideSettings,omitempty"`

	// AutoReconnect is the global reconnection policy applied to servers
	// that do not configure their own.
	AutoReconnect AutoReconnectConfig `yaml:"autoReconnect,omitempty"`
}

// Transport identifiers for downstream servers.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// ProxyConfig defines the upstream MCP endpoint funnel exposes.
type ProxyConfig struct {
	Host     string `yaml:"host,omitempty"`     // Host to bind to (default: localhost)
	Port     int    `yaml:"port,omitempty"`     // Port for the MCP endpoint (default: 8080)
	LogLevel string `yaml:"logLevel,omitempty"` // debug, info, warn, error (default: info)
	LogFile  string `yaml:"logFile,omitempty"`  // Optional rotating log file path
}

// ServerConfig describes one downstream MCP server. It is immutable after
// load: the proxy constructs connection managers from it and never writes back.
type ServerConfig struct {
	// Name is the unique server name, filled from the map key at load time.
	Name string `yaml:"-"`

	// Stdio transport fields.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// SSE/HTTP transport fields.
	URL string `yaml:"url,omitempty"`

	// TimeoutMs is the per-request deadline in milliseconds (default 10000).
	TimeoutMs int `yaml:"timeout,omitempty"`

	// Reconnect overrides the global auto-reconnect policy for this server.
	Reconnect *ReconnectConfig `yaml:"reconnect,omitempty"`

	// Auth configures downstream authentication.
	Auth *AuthConfig `yaml:"auth,omitempty"`
}

// Transport returns the transport kind implied by the configured fields.
func (s ServerConfig) Transport() string {
	if s.URL != "" {
		return TransportSSE
	}
	return TransportStdio
}

// ReconnectConfig bounds the exponential backoff retry policy.
type ReconnectConfig struct {
	MaxAttempts       int     `yaml:"max_attempts,omitempty"`
	InitialDelayMs    int     `yaml:"initial_delay_ms,omitempty"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier,omitempty"`
	MaxDelayMs        int     `yaml:"max_delay_ms,omitempty"`
}

// AutoReconnectConfig is the global reconnection policy.
type AutoReconnectConfig struct {
	Enabled         bool `yaml:"enabled"`
	ReconnectConfig `yaml:",inline"`
}

// Auth provider types.
const (
	AuthTypeNone              = "none"
	AuthTypeBearer            = "bearer"
	AuthTypeClientCredentials = "client_credentials"
	AuthTypeAuthorizationCode = "authorization_code"
)

// AuthConfig configures downstream authentication for one server.
type AuthConfig struct {
	Type string `yaml:"type"`

	// Bearer.
	Token string `yaml:"token,omitempty"`

	// OAuth2 (client_credentials and authorization_code).
	ClientID              string `yaml:"clientId,omitempty"`
	ClientSecret          string `yaml:"clientSecret,omitempty"`
	TokenEndpoint         string `yaml:"tokenEndpoint,omitempty"`
	AuthorizationEndpoint string `yaml:"authorizationEndpoint,omitempty"`
	RedirectURI           string `yaml:"redirectUri,omitempty"`
	Scope                 string `yaml:"scope,omitempty"`
	Audience              string `yaml:"audience,omitempty"`

	// Storage selects the token store backend: "memory" (default) or "keychain".
	Storage string `yaml:"storage,omitempty"`
}

// ToolOverride rewrites an exposed tool descriptor. The zero value leaves the
// tool unchanged.
type ToolOverride struct {
	// Name renames the exposed tool.
	Name string `yaml:"name,omitempty"`

	// Description replaces the tool description.
	Description string `yaml:"description,omitempty"`

	// Enabled, when explicitly false, hides the tool from the catalog.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Annotations are merged under the tool's _meta.annotations.
	Annotations map[string]interface{} `yaml:"annotations,omitempty"`

	// InputSchemaOverride rewrites the tool's input schema.
	InputSchemaOverride *InputSchemaOverride `yaml:"inputSchemaOverride,omitempty"`
}

// Schema merge strategies.
const (
	StrategyReplace   = "replace"
	StrategyMerge     = "merge"
	StrategyDeepMerge = "deep-merge"
)

// InputSchemaOverride rewrites a tool's input schema per its strategy.
type InputSchemaOverride struct {
	Strategy          string                 `yaml:"strategy"`
	Properties        map[string]interface{} `yaml:"properties,omitempty"`
	PropertyOverrides map[string]interface{} `yaml:"property_overrides,omitempty"`
	Required          []string               `yaml:"required,omitempty"`
}

// OverrideSettings controls runtime override mutation behavior.
type OverrideSettings struct {
	// ApplyToDynamic enables runtime override mutation.
	ApplyToDynamic bool `yaml:"applyToDynamic,omitempty"`

	// ValidateOverrides validates each dynamic mutation against a synthetic
	// minimal tool before accepting it.
	ValidateOverrides bool `yaml:"validateOverrides,omitempty"`

	// WatchFile, when set, merges the overrides in this YAML file into the
	// table whenever it changes; entries removed from the file stay in
	// effect. Reloads apply only when ApplyToDynamic is on.
	WatchFile string `yaml:"watchFile,omitempty"`
}
