// Package main runs a local STARTTLS SMTP relay that captures mail instead
// of delivering it. Point the gateway's SMTP_HOST/SMTP_PORT at it during
// development.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/mailgate/internal/config"
	"github.com/shineum/mailgate/internal/provider"
	"github.com/shineum/mailgate/internal/provider/mbox"
	"github.com/shineum/mailgate/internal/provider/stdout"
	"github.com/shineum/mailgate/internal/smtp"
	smtptls "github.com/shineum/mailgate/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	envFile := flag.String("env-file", "", "path to a dotenv file loaded before configuration (optional)")
	flag.Parse()

	if *envFile != "" {
		if err := config.LoadEnvFile(*envFile); err != nil {
			slog.Error("failed to load env file", "path", *envFile, "error", err)
			os.Exit(1)
		}
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Logging.SlogLevel(),
	})))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	tlsConfig, err := smtptls.LoadOrGenerateTLS(cfg.DevRelay.CertFile, cfg.DevRelay.KeyFile)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}

	tlsMode := "self-signed"
	if cfg.DevRelay.CertFile != "" && cfg.DevRelay.KeyFile != "" {
		tlsMode = "file"
	}

	var sink provider.Provider = stdout.New()
	if cfg.DevRelay.Sink == config.ProviderMbox {
		sink = mbox.New(cfg.Mbox.Path)
	}

	server := smtp.New(smtp.ServerConfig{
		ListenAddr:     cfg.DevRelay.Listen,
		Hostname:       "localhost",
		Provider:       sink,
		TLSConfig:      tlsConfig,
		AuthUsername:   cfg.DevRelay.Username,
		AuthPassword:   cfg.DevRelay.Password,
		MaxMessageSize: cfg.DevRelay.MaxMessageSize,
		RequireTLS:     true,
	})

	slog.Info("starting devrelay",
		"listen", cfg.DevRelay.Listen,
		"sink", sink.Name(),
		"auth_enabled", cfg.DevRelay.AuthEnabled(),
		"tls_mode", tlsMode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	// Blocks until ctx is cancelled.
	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("devrelay stopped")
}
