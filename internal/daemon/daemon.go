// Package daemon is the startup/shutdown supervisor (C9): it owns the
// fixed initialisation order config -> registry -> secret store ->
// providers -> token manager -> socket, installs the signal handlers, and
// writes/removes the PID file. Mirrors the teacher's own main()
// shape (config.Load, then construct dependents in order, then signal.Notify
// and block) but promoted into its own testable package instead of living
// in main.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/raibid-labs/sigilforge/internal/clock"
	"github.com/raibid-labs/sigilforge/internal/config"
	"github.com/raibid-labs/sigilforge/internal/httpx"
	"github.com/raibid-labs/sigilforge/internal/ipc"
	"github.com/raibid-labs/sigilforge/internal/providers"
	"github.com/raibid-labs/sigilforge/internal/registry"
	"github.com/raibid-labs/sigilforge/internal/resolver"
	"github.com/raibid-labs/sigilforge/internal/secretstore"
	"github.com/raibid-labs/sigilforge/internal/tokens"
)

// Supervisor drives the daemon's startup order and lifetime. Each
// dependent it constructs is exported so tests and sigilforgectl-adjacent
// tooling can inspect the wiring without re-running Start.
type Supervisor struct {
	ConfigDir string
	Logger    *slog.Logger

	// OpenStore selects the secret-store backend. Production daemons use
	// the default, secretstore.OpenKeyring; tests substitute an in-memory
	// store so the suite never depends on a platform keyring being present.
	OpenStore func() (secretstore.Store, error)

	Config    *config.Config
	Registry  *registry.Registry
	Store     secretstore.Store
	Providers *providers.Registry
	Tokens    *tokens.Manager
	Resolver  *resolver.Resolver
	Server    *ipc.Server

	pidFile string
}

// New builds a Supervisor bound to configDir. Nothing is opened yet; call
// Start to run the full initialisation order.
func New(configDir string, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		ConfigDir: configDir,
		Logger:    logger,
		OpenStore: func() (secretstore.Store, error) { return secretstore.OpenKeyring() },
	}
}

// Start runs the fixed initialisation order. Any failure here is fatal:
// the daemon must not partially serve, so Start never leaves a listening
// socket behind on error.
func (s *Supervisor) Start(ctx context.Context) error {
	cfg, err := config.LoadConfig(s.ConfigDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s.Config = cfg

	accountsPath := filepath.Join(cfg.ConfigDir, "accounts.json")
	s.Registry = registry.Open(accountsPath)

	store, err := s.OpenStore()
	if err != nil {
		return fmt.Errorf("open secret store: %w", err)
	}
	s.Store = store

	provReg := providers.NewRegistry()
	if err := provReg.LoadOverlay(cfg.Providers.OverlayPath); err != nil {
		return fmt.Errorf("load provider overlay: %w", err)
	}
	s.Providers = provReg

	httpClient := httpx.SharedClient(cfg.OAuth.HTTPTimeout)
	s.Tokens = tokens.NewManager(s.Store, s.Providers, clock.System{}, httpClient)
	s.Resolver = resolver.New(s.Tokens, s.Store)

	s.Server = ipc.NewServer(s.Registry, s.Tokens, s.Resolver, s.Providers, s.Logger, cfg.Daemon.SocketPath).
		WithMaxConnections(cfg.Daemon.MaxConnections)

	if err := s.writePIDFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	return nil
}

// Run starts the supervisor, then serves until ctx is cancelled or a
// termination signal arrives, then drains and removes the PID file.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Server.Serve(sigCtx) }()

	select {
	case <-sigCtx.Done():
		s.Logger.Info("shutdown signal received")
	case err := <-serveErr:
		s.removePIDFile()
		return err
	}

	shutdownCtx := context.Background()
	if err := s.Server.Shutdown(shutdownCtx); err != nil {
		s.Logger.Warn("server shutdown reported an error", "err", err)
	}
	s.removePIDFile()
	return nil
}

func (s *Supervisor) writePIDFile() error {
	if err := os.MkdirAll(s.Config.ConfigDir, 0o700); err != nil {
		return err
	}
	s.pidFile = filepath.Join(s.Config.ConfigDir, "sigilforge.pid")
	return os.WriteFile(s.pidFile, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

func (s *Supervisor) removePIDFile() {
	if s.pidFile == "" {
		return
	}
	if err := os.Remove(s.pidFile); err != nil && !os.IsNotExist(err) {
		s.Logger.Warn("failed to remove pid file", "path", s.pidFile, "err", err)
	}
}
