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

	accountcmd "github.com/vbank/platform/account-service/internal/command"
	"github.com/vbank/platform/account-service/internal/handler"
	accountqry "github.com/vbank/platform/account-service/internal/query"
	"github.com/vbank/platform/account-service/internal/repository"
	"github.com/vbank/platform/account-service/internal/scheduler"
	"github.com/vbank/platform/account-service/internal/userdir"
	"github.com/vbank/platform/shared/config"
	"github.com/vbank/platform/shared/events"
	"github.com/vbank/platform/shared/logging"
	"github.com/vbank/platform/shared/middleware"
	"github.com/vbank/platform/shared/models"
	redisClient "github.com/vbank/platform/shared/redis"
)

const (
	auditStreamMaxLen = 100_000
	accountViewTTL    = 10 * time.Minute
	shutdownTimeout   = 10 * time.Second
)

func main() {
	cfg, err := config.Load("account-service", "8082")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Service, cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ledger (write store)
	ledger, closeLedger := openLedger(ctx, cfg, logger)
	defer closeLedger()

	// Redis (read model + event streaming), optional
	var (
		publisher events.Publisher
		cache     *redisClient.ViewCache[models.AccountView]
	)
	if cfg.RedisAddr != "" {
		redis, err := redisClient.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redis.Close()
		publisher = events.NewPublisher(redis.Client, auditStreamMaxLen)
		cache = redisClient.NewViewCache[models.AccountView](redis.Client, logger, "account:view", accountViewTTL)
	} else {
		logger.Warn("REDIS_ADDR not set; account view cache and event publishing disabled")
	}

	audit := events.NewAuditLog(cfg.Service, publisher, logger, 0)

	var users accountcmd.UserDirectory = userdir.AllowAll{}
	if cfg.UserServiceURL != "" {
		users = userdir.NewClient(cfg.UserServiceURL, cfg.LedgerTimeout)
	}

	// --- CQRS wiring ---
	readRepo := repository.NewAccountReadRepository(ledger, cache)
	commandSvc := accountcmd.NewAccountCommandService(ledger, readRepo, users, publisher, audit, logger)
	querySvc := accountqry.NewAccountQueryService(readRepo, users)
	accountHandler := handler.NewAccountHandler(commandSvc, querySvc, logger)

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery(logger), middleware.LoggingMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	accountHandler.Register(router)

	sweeper := scheduler.NewIdleAccountSweeper(commandSvc, cfg.IdleSweepInterval, cfg.IdleAccountAfter, logger)
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("shutting down")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("account service starting", zap.String("port", cfg.Port), zap.String("ledger_driver", cfg.LedgerDriver))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("failed to start server", zap.Error(err))
	}
	audit.Close()
}

func openLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Ledger, func()) {
	if cfg.LedgerDriver == "memory" {
		logger.Warn("using in-memory ledger; balances are lost on restart")
		return repository.NewMemoryLedger(), func() {}
	}

	db, err := repository.OpenLedgerDB(ctx, cfg.LedgerDriver, cfg.LedgerDSN, logger)
	if err != nil {
		logger.Fatal("failed to open ledger database", zap.Error(err))
	}
	ledger := repository.NewGormLedger(db)
	if err := ledger.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate ledger database", zap.Error(err))
	}
	return ledger, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
