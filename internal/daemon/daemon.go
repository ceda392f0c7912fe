// Package daemon implements the smartd background service: it brings up
// the tool-server pool, the stage manager, and the HTTP API, and tears them
// down in order on shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/api"
	"github.com/jeffrobot494/smart-insurance-sub002/internal/config"
	"github.com/jeffrobot494/smart-insurance-sub002/internal/logging"
	"github.com/jeffrobot494/smart-insurance-sub002/internal/research"
	"github.com/jeffrobot494/smart-insurance-sub002/internal/store"
)

// StartupTimeout bounds tool-server spawning and handshakes.
const StartupTimeout = 60 * time.Second

// ShutdownTimeout is how long to wait for graceful shutdown.
const ShutdownTimeout = 15 * time.Second

// Daemon is the long-running service behind the dashboard.
type Daemon struct {
	cfg   *config.Config
	store *store.Store
	pool  *research.Pool
	mgr   *research.Manager
	http  *http.Server
}

// New opens the store and prepares the daemon. Tool servers are spawned in
// Run, not here, so a config problem surfaces before anything executes.
func New(cfg *config.Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	st, err := store.New(cfg.Daemon.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Daemon{cfg: cfg, store: st}, nil
}

// Run brings everything up and blocks until a shutdown signal arrives.
func (d *Daemon) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.Default().Logger

	startCtx, cancel := context.WithTimeout(ctx, StartupTimeout)
	pool, err := research.NewPool(startCtx, d.cfg.ToolServers, log)
	cancel()
	if err != nil {
		d.store.Close()
		return fmt.Errorf("starting tool servers: %w", err)
	}
	d.pool = pool

	d.mgr = research.NewManager(d.store, pool.Invokers(), log, research.Config{
		ResearchServer: d.cfg.Stages.ResearchServer,
		DataServer:     d.cfg.Stages.DataServer,
		Concurrency:    d.cfg.Stages.Concurrency,
	})
	if err := d.mgr.RecoverOrphans(); err != nil {
		d.pool.Close()
		d.store.Close()
		return fmt.Errorf("recovering interrupted pipelines: %w", err)
	}

	server := api.NewServer(d.store, d.mgr, log, d.cfg.Daemon.Metrics.Enabled)
	d.http = &http.Server{
		Addr:         d.cfg.Daemon.Listen,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("listening", "addr", d.cfg.Daemon.Listen)
		if err := d.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		d.shutdown()
		return err
	case <-ctx.Done():
		logging.Info("shutdown signal received")
		d.shutdown()
		return nil
	}
}

// shutdown stops intake first, then the work, then the workers' processes.
func (d *Daemon) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := d.http.Shutdown(shutdownCtx); err != nil {
		logging.Warn("http shutdown", "error", err)
	}
	d.mgr.Shutdown()
	d.pool.Close()
	if err := d.store.Close(); err != nil {
		logging.Warn("closing store", "error", err)
	}
	logging.Info("shutdown complete")
}
