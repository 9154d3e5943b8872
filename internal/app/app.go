// Package app assembles and runs the funnel application: configuration
// loading, logging setup, the proxy itself, and process lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"funnel/internal/config"
	"funnel/internal/proxy"
	"funnel/pkg/logging"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Config carries the command-line level options.
type Config struct {
	// Debug raises the log level to debug regardless of configuration.
	Debug bool

	// ConfigPath points at the directory holding config.yaml. Empty means
	// the user default (~/.config/funnel).
	ConfigPath string
}

// NewConfig builds the application options.
func NewConfig(debug bool, configPath string) Config {
	return Config{Debug: debug, ConfigPath: configPath}
}

// Application owns the proxy and its lifecycle.
type Application struct {
	cfg   config.Config
	proxy *proxy.Proxy
}

// NewApplication loads configuration and constructs the proxy. All
// configuration failures surface here, before anything starts.
func NewApplication(appCfg Config) (*Application, error) {
	configPath := appCfg.ConfigPath
	if configPath == "" {
		var err error
		configPath, err = config.GetDefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := logging.ParseLevel(cfg.Proxy.LogLevel)
	if appCfg.Debug {
		level = logging.LevelDebug
	}
	if cfg.Proxy.LogFile != "" {
		logging.InitWithFile(level, os.Stderr, cfg.Proxy.LogFile, 0, 0)
	} else {
		logging.Init(level, os.Stderr)
	}

	p, err := proxy.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to construct proxy: %w", err)
	}

	return &Application{cfg: cfg, proxy: p}, nil
}

// Proxy exposes the proxy for embedding callers.
func (a *Application) Proxy() *proxy.Proxy {
	return a.proxy
}

// Run starts the proxy and blocks until the context is cancelled or a
// termination signal arrives.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.proxy.Start(ctx); err != nil {
		return err
	}

	// Tell systemd we are up; a no-op outside systemd supervision.
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Debug("App", "systemd notify skipped: %v", err)
	}

	<-ctx.Done()
	logging.Info("App", "Shutdown signal received")

	shutdownCtx := context.Background()
	return a.proxy.Shutdown(shutdownCtx)
}
