package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/fieldforce-service/internal/api/http"
	"github.com/spec-kit/fieldforce-service/internal/api/http/handlers"
	"github.com/spec-kit/fieldforce-service/internal/auth"
	"github.com/spec-kit/fieldforce-service/internal/config"
	"github.com/spec-kit/fieldforce-service/internal/events"
	"github.com/spec-kit/fieldforce-service/internal/observability"
	"github.com/spec-kit/fieldforce-service/internal/persistence"
	"github.com/spec-kit/fieldforce-service/internal/repository"
	"github.com/spec-kit/fieldforce-service/internal/service"
	"github.com/spec-kit/fieldforce-service/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()
	if pg.PoolHandle() == nil {
		logger.Fatal("POSTGRES_DSN is required: users are loaded from postgres")
	}

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redisConn := persistence.NewRedis(cfg.Redis, logger)
	defer redisConn.Close()

	userRepo := repository.NewUserRepository(pg.PoolHandle())

	revocations := auth.NewRevocationStore(nil)
	tokens, err := auth.NewTokenService(auth.TokenServiceConfig{
		Secret:          []byte(cfg.Auth.JWTSecret),
		AccessLifetime:  cfg.Auth.AccessTokenTTL(),
		RefreshLifetime: cfg.Auth.RefreshTokenTTL(),
	}, revocations)
	if err != nil {
		logger.Fatal("failed to init token service", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher()

	var auditSink events.EventHandler
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		defer publisher.Close() //nolint:errcheck
		auditSink = publisher.Handle
		logger.Info("audit events streamed to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.AuditTopic))
	}
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger, auditSink))

	limiter := service.NewLoginLimiter(redisConn.Client, cfg.Auth.LoginMaxAttempts, cfg.Auth.LoginLockout(), logger)

	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo:   userRepo,
		Tokens:     tokens,
		Limiter:    limiter,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})
	authMiddleware := auth.NewAuthMiddleware(tokens, userRepo, metrics, logger)

	sweeperDone := worker.StartRevocationSweeper(ctx, revocations, cfg.Auth.RevocationSweepInterval(), metrics, logger)

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
		"postgres": pg,
		"redis":    redisConn,
	})
	authHandler := handlers.NewAuthHandler(authService)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Auth:           authHandler,
		Metrics:        metrics.Handler(),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()), zap.String("env", cfg.App.Env))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	<-sweeperDone
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
