// Command smartd is the smart-insurance research daemon.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/config"
	"github.com/jeffrobot494/smart-insurance-sub002/internal/daemon"
	"github.com/jeffrobot494/smart-insurance-sub002/internal/logging"
)

// Version is set at build time
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	// Top-level panic recovery
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "component", "main")
			fmt.Fprintf(os.Stderr, "FATAL: unrecovered panic: %v\n", r)
			exitCode = 2
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}

	if err := logging.Init(logging.Config{
		Level:     parseLogLevel(cfg.Daemon.LogLevel),
		SentryDSN: cfg.Daemon.SentryDSN,
		Env:       getEnv(),
		Version:   Version,
		LogFile:   cfg.Daemon.LogFile,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	defer logging.Flush(2 * time.Second)

	d, err := daemon.New(cfg)
	if err != nil {
		logging.Error("failed to initialize daemon", "error", err)
		return 1
	}

	logging.Info("starting smartd",
		"version", Version,
		"listen", cfg.Daemon.Listen,
		"tool_servers", len(cfg.ToolServers),
		"sentry", cfg.Daemon.SentryDSN != "",
	)

	if err := d.Run(); err != nil {
		logging.Error("daemon error", "error", err)
		return 1
	}
	return 0
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv() string {
	if env := os.Getenv("SMART_INSURANCE_ENV"); env != "" {
		return env
	}
	return "development"
}
