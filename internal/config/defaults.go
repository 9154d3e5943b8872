package config

import "time"

// Defaults applied when the configuration omits a value.
const (
	DefaultHost           = "localhost"
	DefaultPort           = 8080
	DefaultRequestTimeout = 10 * time.Second

	DefaultMaxAttempts       = 5
	DefaultInitialDelayMs    = 1000
	DefaultBackoffMultiplier = 2.0
	DefaultMaxDelayMs        = 30000
)

// GetDefaultConfig returns a Config populated with defaults.
func GetDefaultConfig() Config {
	return Config{
		Proxy: ProxyConfig{
			Host:     DefaultHost,
			Port:     DefaultPort,
			LogLevel: "info",
		},
		AutoReconnect: AutoReconnectConfig{
			Enabled: true,
			ReconnectConfig: ReconnectConfig{
				MaxAttempts:       DefaultMaxAttempts,
				InitialDelayMs:    DefaultInitialDelayMs,
				BackoffMultiplier: DefaultBackoffMultiplier,
				MaxDelayMs:        DefaultMaxDelayMs,
			},
		},
	}
}

// WithDefaults fills the zero fields of a per-server reconnect policy from
// the global policy.
func (r ReconnectConfig) WithDefaults(global ReconnectConfig) ReconnectConfig {
	out := r
	if out.MaxAttempts == 0 {
		out.MaxAttempts = global.MaxAttempts
	}
	if out.InitialDelayMs == 0 {
		out.InitialDelayMs = global.InitialDelayMs
	}
	if out.BackoffMultiplier == 0 {
		out.BackoffMultiplier = global.BackoffMultiplier
	}
	if out.MaxDelayMs == 0 {
		out.MaxDelayMs = global.MaxDelayMs
	}
	return out
}

// RequestTimeout returns the per-request deadline for a server.
func (s ServerConfig) RequestTimeout() time.Duration {
	if s.TimeoutMs > 0 {
		return time.Duration(s.TimeoutMs) * time.Millisecond
	}
	return DefaultRequestTimeout
}
