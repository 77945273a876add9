// Command server is the gateway's entry point: it loads configuration,
// wires the credential store, quota pool, signature cache and upstream
// client into the Gateway Handlers, starts the background maintenance
// tasks, and serves the client-facing HTTP surface until a shutdown signal
// arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/arcrelay/cagateway/internal/account"
	"github.com/arcrelay/cagateway/internal/background"
	"github.com/arcrelay/cagateway/internal/config"
	"github.com/arcrelay/cagateway/internal/gateway"
	"github.com/arcrelay/cagateway/internal/logging"
	"github.com/arcrelay/cagateway/internal/oauth"
	"github.com/arcrelay/cagateway/internal/quota"
	"github.com/arcrelay/cagateway/internal/signature"
	"github.com/arcrelay/cagateway/internal/upstream"
)

// signatureRetentionDays is the "a few days" default the signature cache
// falls back to; New clamps any value below 2 up to 2 regardless.
const signatureRetentionDays = 3

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load(os.Args[1:])
	snapshot := config.NewSnapshot(cfg)

	logging.Setup(cfg.Debug)
	if err := logging.EnableFileOutput(cfg.DataDir, 200); err != nil {
		log.WithError(err).Error("failed to configure log output")
		return 1
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.WithError(err).Error("failed to create data directory")
		return 1
	}

	watcher, err := config.WatchYAML(context.Background(), snapshot, cfg.DataDir)
	if err != nil {
		log.WithError(err).Warn("config: hot-reload watcher disabled")
	} else {
		defer func() { _ = watcher.Close() }()
	}

	store := account.NewStore(filepath.Join(cfg.DataDir, "accounts.json"))
	if err := store.Load(); err != nil {
		log.WithError(err).Error("failed to load accounts store")
		return 1
	}

	if dsn := cfg.PostgresDSN; dsn != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		mirror, err := account.NewPostgresMirror(ctx, dsn, "")
		cancel()
		if err != nil {
			log.WithError(err).Warn("account: postgres mirror disabled")
		} else {
			store.SetPostgresMirror(mirror)
			defer func() { _ = mirror.Close() }()
		}
	}

	pool := quota.NewPool()

	cache, err := signature.New(cfg.DataDir, signatureRetentionDays)
	if err != nil {
		log.WithError(err).Error("failed to open signature cache")
		return 1
	}
	cache.Start()
	defer cache.Stop()

	retryStatusCodes := make(map[int]struct{}, len(cfg.RetryStatusCodes))
	for _, code := range cfg.RetryStatusCodes {
		retryStatusCodes[code] = struct{}{}
	}

	upstreamClient, err := upstream.New(upstream.Config{
		UserAgent:        cfg.APIUserAgent,
		Timeout:          cfg.Timeout(),
		ProxyURL:         cfg.Proxy,
		RetryStatusCodes: retryStatusCodes,
		RetryMaxAttempts: cfg.RetryMaxAttempts,
		Host:             upstream.EndpointHostForMode(cfg.EndpointMode),
	})
	if err != nil {
		log.WithError(err).Error("failed to construct upstream client")
		return 1
	}

	oauthClient := oauth.NewClient(oauth.Config{
		ClientID:     cfg.EffectiveGoogleClientID(),
		ClientSecret: cfg.EffectiveGoogleClientSecret(),
		Timeout:      cfg.Timeout(),
		ProxyURL:     cfg.Proxy,
	})
	refreshFunc := oauth.NewRefreshFunc(oauthClient)

	gw := gateway.New(store, pool, cache, upstreamClient, refreshFunc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refresher := background.NewTokenRefresher(store, refreshFunc)
	go refresher.Run(ctx)

	quotaRefresher := quota.NewRefresher(pool, store, upstreamClient, func(sessionID string) {
		store.TriggerBackgroundRefresh(sessionID, refreshFunc)
	})
	go quotaRefresher.Run(ctx)

	retention, err := background.StartRetentionSweep(cache)
	if err != nil {
		log.WithError(err).Warn("background: retention sweep disabled")
	} else {
		defer retention.Stop()
	}

	engine := newEngine(gw,
		func() string { return snapshot.Load().APIKey },
		func() string { return snapshot.Load().WebUIPassword },
	)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("gateway listening on %s", addr)
		serveErr <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("gateway: listener failed")
			return 1
		}
	case sig := <-sigCh:
		log.Infof("gateway: received %s, shutting down", sig)
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("gateway: graceful shutdown failed")
			return 1
		}
	}
	return 0
}

// newEngine registers the client-facing HTTP surface (§6): the OpenAI and
// Anthropic dialect endpoints (and their trailing-slash variants), the
// models listing, the health check, and the admin callables.
func newEngine(gw *gateway.Gateway, apiKey func() string, adminPassword func() string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", gw.Health)

	openaiAuth := gateway.APIKeyMiddleware(apiKey, func(msg string) gin.H {
		return gin.H{"error": gin.H{"message": msg, "type": "server_error"}}
	})
	claudeAuth := gateway.APIKeyMiddleware(apiKey, func(msg string) gin.H {
		return gin.H{"type": "error", "error": gin.H{"type": "api_error", "message": msg}}
	})

	openaiGroup := r.Group("/v1", openaiAuth)
	openaiGroup.POST("/chat/completions", gw.ChatCompletions)
	openaiGroup.POST("/chat/completions/", gw.ChatCompletions)

	claudeGroup := r.Group("/v1", claudeAuth)
	claudeGroup.POST("/messages", gw.Messages)
	claudeGroup.POST("/messages/", gw.Messages)

	// /v1/models is shared by both dialects (gw.Models picks the response
	// format); an invalid key always gets the OpenAI error shape since the
	// dialect isn't known until the body is read.
	r.GET("/v1/models", openaiAuth, gw.Models)

	admin := r.Group("/admin", gateway.AdminAuthMiddleware(adminPassword))
	admin.GET("/accounts", gw.AdminListAccounts)
	admin.POST("/accounts", gw.AdminAddAccount)
	admin.DELETE("/accounts/:index", gw.AdminDeleteAccount)
	admin.POST("/accounts/:index/enabled", gw.AdminSetEnabled)
	admin.POST("/refresh", gw.AdminRefreshAll)
	admin.GET("/quota", gw.AdminQuotaView)

	return r
}
