// Package httpapi exposes the gateway over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shineum/mailgate/internal/email"
	"github.com/shineum/mailgate/internal/gateway"
)

// Service is the gateway surface the handlers call.
type Service interface {
	Send(ctx context.Context, msg email.OutboundMessage) (*email.Composed, error)
	List(ctx context.Context, view gateway.View, limit int) (*email.Listing, error)
	Read(ctx context.Context, id string) (*email.FullMessage, error)
}

// Options configures the router.
type Options struct {
	// AdminToken is the shared secret expected in X-Admin-Token. When
	// empty every protected request is rejected.
	AdminToken string

	// AllowedOrigins lists the CORS origins. "*" allows any origin; an
	// empty list disables CORS handling.
	AllowedOrigins []string

	Logger *slog.Logger
}

// NewRouter builds the gin engine with health, metrics and the token
// protected email routes.
func NewRouter(svc Service, opts Options) (*gin.Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	if len(opts.AllowedOrigins) > 0 {
		corsCfg, err := corsConfig(opts.AllowedOrigins)
		if err != nil {
			return nil, err
		}
		r.Use(cors.New(corsCfg))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handler{svc: svc}

	api := r.Group("/api/email")
	api.Use(tokenAuth(opts.AdminToken))
	{
		api.POST("/send", h.send)
		api.GET("/inbox", h.inbox)
		api.GET("/message", h.message)
	}

	return r, nil
}

func corsConfig(origins []string) (cors.Config, error) {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", tokenHeader, requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: true,
	}

	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg, nil
		}
	}
	for _, o := range origins {
		if !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return cors.Config{}, fmt.Errorf("invalid CORS origin %q: must start with http:// or https://", o)
		}
	}
	cfg.AllowOrigins = origins
	return cfg, nil
}
