package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/somuraj07/saams/internal/api/handler"
	"github.com/somuraj07/saams/internal/auth"
	"github.com/somuraj07/saams/internal/broker"
	"github.com/somuraj07/saams/internal/chathub"
	"github.com/somuraj07/saams/internal/communication"
	"github.com/somuraj07/saams/internal/config"
	"github.com/somuraj07/saams/internal/logging"
	"github.com/somuraj07/saams/internal/ratelimit"
	"github.com/somuraj07/saams/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gorm.DB, *redis.Client, error) {
	// 1. PostgreSQL
	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	// 2. Redis (необов'язковий, якщо брокер не redis)
	if cfg.RedisAddr == "" {
		if cfg.Broker == config.BrokerRedis {
			return nil, nil, errors.New("BROKER=redis needs REDIS_ADDR")
		}
		logger.Info("redis disabled, rate limiting is off")
		return db, nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	logger.Info("database and redis connections established")
	return db, rdb, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.InstanceID)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting saams messaging server",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("broker", cfg.Broker))

	// 1. Ініціалізація залежностей
	db, rdb, err := setupDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}
	s := storage.NewStorageService(db, rdb, logger)

	if cfg.AutoMigrate {
		res, err := s.Migrate()
		if err != nil {
			return err
		}
		logger.Info("migrations applied", zap.Uint("version", res.Version), zap.Bool("changed", res.Changed))
	}

	b, err := broker.New(cfg, rdb, logger)
	if err != nil {
		return err
	}
	if b != nil {
		defer b.Close()
	}

	// 2. Chat Hub та сервіс зустрічей
	hub := chathub.NewManagerService(b, cfg.InstanceID, logger)
	comm := communication.NewService(s, cfg.MaxMessageLength, logger)
	comm.SetNotifier(hub)

	go hub.Run(ctx)

	// 3. HTTP
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handler.NewHandler(hub, comm, auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL), logger)
	if rdb != nil {
		h.Limiter = ratelimit.NewLimiter(rdb, logger)
	}
	h.MessageRule = ratelimit.Rule{Key: "rl:msg:", Limit: cfg.MessageRateLimit, Window: cfg.MessageRateWindow}
	h.AllowedOrigins = cfg.AllowedOrigins

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        h.Routes(),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	<-hub.Done()
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "saams:", err)
		os.Exit(1)
	}
}
