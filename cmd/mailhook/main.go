// Package main is the entry point for the mailhook bridge.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailhook/mailhook/internal/admin"
	"github.com/mailhook/mailhook/internal/config"
	"github.com/mailhook/mailhook/internal/dispatch"
	"github.com/mailhook/mailhook/internal/hook"
	"github.com/mailhook/mailhook/internal/pipeline"
	"github.com/mailhook/mailhook/internal/smtp"
	"github.com/mailhook/mailhook/internal/store"
	"github.com/mailhook/mailhook/internal/store/memory"
	smtptls "github.com/mailhook/mailhook/internal/tls"
)

// storage is the full surface both store backends implement.
type storage interface {
	hook.Registry
	hook.DeliveryLog
	hook.VerifiedDomainSource
	admin.HookStore
	admin.DomainStore
	admin.DeliveryStore
}

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	// Load or generate TLS certificates for STARTTLS
	tlsConfig, err := smtptls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}

	// Select storage backend
	st, cleanup := selectStorage(cfg)
	defer cleanup()

	policy := hook.NewUnionPolicy(cfg.SMTP.Domains, st)
	dispatcher := dispatch.New(time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second)
	runner := pipeline.NewRunner(st, st, dispatcher, slog.Default())

	server := smtp.New(smtp.ServerConfig{
		ListenAddr:     cfg.SMTP.Listen,
		Hostname:       cfg.SMTP.Hostname,
		Policy:         policy,
		Runner:         runner,
		MaxMessageSize: cfg.SMTP.MaxMessageSize,
		TLSConfig:      tlsConfig,
	})

	slog.Info("starting mailhook",
		"listen", cfg.SMTP.Listen,
		"storage", cfg.Storage.Driver,
		"domains", cfg.SMTP.Domains,
		"admin_listen", cfg.Admin.Listen,
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	// Admin API runs alongside the SMTP server
	if cfg.Admin.Listen != "" {
		adminSrv := admin.NewServer(st, st, st, slog.Default())
		go func() {
			if err := adminSrv.ListenAndServe(ctx, cfg.Admin.Listen); err != nil {
				slog.Error("admin API error", "error", err)
				cancel()
			}
		}()
	}

	// Start the SMTP server (blocks until context is cancelled)
	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("mailhook stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectStorage chooses the backing store based on configuration and
// returns it with a cleanup function.
func selectStorage(cfg *config.Config) (storage, func()) {
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := store.Connect(cfg.Storage.DSN)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		slog.Info("using postgres storage")
		return store.New(db, slog.Default()), func() {
			if err := store.Close(db); err != nil {
				slog.Error("failed to close postgres", "error", err)
			}
		}

	case "memory":
		slog.Info("using in-memory storage; hooks and logs are not persisted")
		return memory.New(), func() {}

	default:
		slog.Error("unknown storage driver", "driver", cfg.Storage.Driver)
		os.Exit(1)
		return nil, nil
	}
}
