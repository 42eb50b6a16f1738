// Package main is the entry point for the mail gateway HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shineum/mailgate/internal/config"
	"github.com/shineum/mailgate/internal/gateway"
	"github.com/shineum/mailgate/internal/httpapi"
	"github.com/shineum/mailgate/internal/mailbox"
	"github.com/shineum/mailgate/internal/provider"
	"github.com/shineum/mailgate/internal/provider/graph"
	"github.com/shineum/mailgate/internal/provider/mbox"
	"github.com/shineum/mailgate/internal/provider/relay"
	"github.com/shineum/mailgate/internal/provider/ses"
	"github.com/shineum/mailgate/internal/provider/stdout"
)

// shutdownTimeout bounds in-flight HTTP requests after a signal.
const shutdownTimeout = 30 * time.Second

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

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if missing := cfg.Missing(); len(missing) > 0 {
		slog.Warn("configuration incomplete, affected operations will fail", "missing", missing)
	}

	prov := selectProvider(cfg)

	dialer := mailbox.NewIMAPDialer(mailbox.IMAPConfig{
		Host:        cfg.IMAP.Host,
		Port:        cfg.IMAP.Port,
		Username:    cfg.IMAP.Username,
		Password:    cfg.IMAP.Password,
		DialTimeout: cfg.IMAP.DialTimeout,
		OpTimeout:   cfg.IMAP.OpTimeout,
	})

	gw := gateway.New(gateway.Config{
		Sender:      cfg.Sender,
		InboxFolder: cfg.IMAP.InboxFolder,
		SentFolder:  cfg.IMAP.SentFolder,
	}, prov, dialer, slog.Default())

	router, err := httpapi.NewRouter(gw, httpapi.Options{
		AdminToken:     cfg.Auth.AdminToken,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         slog.Default(),
	})
	if err != nil {
		slog.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Sends and reads hold an upstream session; leave room for both
		// the relay timeout and the IMAP operation deadline.
		WriteTimeout: cfg.SMTP.Timeout + cfg.IMAP.DialTimeout + cfg.IMAP.OpTimeout,
	}

	slog.Info("starting mailgate",
		"listen", cfg.HTTP.Listen,
		"provider", prov.Name(),
		"imap_host", cfg.IMAP.Host,
		"cors_origins", cfg.HTTP.AllowedOrigins,
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

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
		}
	}

	slog.Info("mailgate stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output.
func setupLogger(cfg config.LoggingConfig) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})
	slog.SetDefault(slog.New(handler))
}

// selectProvider builds the delivery backend named by cfg.Provider.
func selectProvider(cfg *config.Config) provider.Provider {
	switch cfg.Provider {
	case config.ProviderSES:
		slog.Info("using AWS SES provider", "region", cfg.SES.Region)
		p, err := ses.New(context.Background(), ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})
		if err != nil {
			slog.Error("failed to create SES provider", "error", err)
			os.Exit(1)
		}
		return p

	case config.ProviderGraph:
		slog.Info("using Microsoft Graph provider", "tenant_id", cfg.Graph.TenantID)
		return graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
		})

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.New()

	case config.ProviderMbox:
		slog.Info("using mbox provider", "path", cfg.Mbox.Path)
		return mbox.New(cfg.Mbox.Path)

	default:
		slog.Info("using SMTP relay provider",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
		)
		return relay.New(relay.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Timeout:  cfg.SMTP.Timeout,
			Logger:   slog.Default(),
		})
	}
}
