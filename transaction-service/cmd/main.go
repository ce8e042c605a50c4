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

	"github.com/vbank/platform/shared/config"
	"github.com/vbank/platform/shared/events"
	"github.com/vbank/platform/shared/logging"
	"github.com/vbank/platform/shared/middleware"
	"github.com/vbank/platform/shared/models"
	redisClient "github.com/vbank/platform/shared/redis"
	txcmd "github.com/vbank/platform/transaction-service/internal/command"
	"github.com/vbank/platform/transaction-service/internal/gateway"
	"github.com/vbank/platform/transaction-service/internal/handler"
	txqry "github.com/vbank/platform/transaction-service/internal/query"
	"github.com/vbank/platform/transaction-service/internal/repository"
	"github.com/vbank/platform/transaction-service/internal/scheduler"
)

const (
	auditStreamMaxLen = 100_000
	transactionTTL    = time.Hour
	shutdownTimeout   = 10 * time.Second
	consumerGroup     = "transaction-service"
)

func main() {
	cfg, err := config.Load("transaction-service", "8084")
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

	// Transaction store (write model)
	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	// Redis (terminal transaction cache + event streaming), optional
	var (
		publisher events.Publisher
		cache     *redisClient.ViewCache[models.Transaction]
		redis     *redisClient.Client
	)
	if cfg.RedisAddr != "" {
		redis, err = redisClient.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redis.Close()
		publisher = events.NewPublisher(redis.Client, auditStreamMaxLen)
		cache = redisClient.NewViewCache[models.Transaction](redis.Client, logger, "transaction:view", transactionTTL)
	} else {
		logger.Warn("REDIS_ADDR not set; transaction cache, audit publishing and ledger events disabled")
	}

	audit := events.NewAuditLog(cfg.Service, publisher, logger, 0)

	ledger := gateway.NewLedgerGateway(gateway.Settings{
		BaseURL: cfg.LedgerServiceURL,
		Timeout: cfg.LedgerTimeout,
	}, logger)

	// --- CQRS wiring ---
	readRepo := repository.NewTransactionReadRepository(store, cache)
	coordinator := txcmd.NewTransferCoordinator(store, readRepo, ledger, audit, logger)
	querySvc := txqry.NewTransactionQueryService(readRepo)
	transactionHandler := handler.NewTransactionHandler(coordinator, querySvc, logger)

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery(logger), middleware.LoggingMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	transactionHandler.Register(router)

	reconciler := scheduler.NewReconciler(store, ledger, coordinator, cfg.ReconcileInterval, cfg.ReconcileAfter, logger)
	go reconciler.Run(ctx)

	// Ledger events settle executions faster than the reconciler can.
	if redis != nil {
		hostname, _ := os.Hostname()
		subscriber := events.NewSubscriber(redis.Client, logger, events.SubscriberConfig{
			Group:    consumerGroup,
			Consumer: consumerGroup + "-" + hostname,
			Stream:   events.AccountEventsStream,
			Handler:  coordinator.HandleLedgerEvent,
		})
		go func() {
			if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("ledger event subscriber stopped", zap.Error(err))
			}
		}()
	}

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

	logger.Info("transaction service starting",
		zap.String("port", cfg.Port),
		zap.String("ledger_url", cfg.LedgerServiceURL),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("failed to start server", zap.Error(err))
	}
	audit.Close()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.TransactionStore, func()) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory transaction store")
		return repository.NewMemoryStore(), func() {}
	}

	db, err := repository.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open transaction database", zap.Error(err))
	}
	store := repository.NewPostgresTransactionStore(db)
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate transaction database", zap.Error(err))
	}
	return store, func() { _ = db.Close() }
}
