package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vbank/platform/api-gateway/internal/proxy"
	"github.com/vbank/platform/shared/config"
	"github.com/vbank/platform/shared/logging"
	"github.com/vbank/platform/shared/middleware"
)

const (
	upstreamTimeout = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load("api-gateway", "8080")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Service, cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery(logger), middleware.LoggingMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.Service})
	})

	var auth []gin.HandlerFunc
	if cfg.JWTSecret != "" {
		auth = append(auth, middleware.AuthMiddleware([]byte(cfg.JWTSecret)))
	} else {
		logger.Warn("JWT_SECRET not set; public routes are unauthenticated")
	}

	proxy.Register(router, proxy.Upstreams{
		AccountService:     cfg.AccountServiceURL,
		TransactionService: cfg.TransactionServiceURL,
	}, &http.Client{Timeout: upstreamTimeout}, logger, auth...)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("api gateway starting",
		zap.String("port", cfg.Port),
		zap.String("account_service", cfg.AccountServiceURL),
		zap.String("transaction_service", cfg.TransactionServiceURL),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
