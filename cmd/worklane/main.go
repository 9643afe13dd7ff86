package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/worklane/worklane/api"
	"github.com/worklane/worklane/audit"
	"github.com/worklane/worklane/auth"
	"github.com/worklane/worklane/config"
	"github.com/worklane/worklane/logger"
	"github.com/worklane/worklane/persistence"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.InitLogger(cfg.LogLevel)
	defer logger.Log.Sync()

	if cfg.JWTSecret == "" {
		logger.Log.Fatal("JWT_SECRET must be set")
	}

	logger.Log.Info("Starting Worklane Authentication Service",
		zap.Int("port", cfg.Port),
		zap.String("db_type", cfg.DBType),
	)

	repo, err := persistence.Open(cfg.DBType, cfg.DSN, nil)
	if err != nil {
		logger.Log.Fatal("failed to initialize storage", zap.Error(err))
	}

	clock := auth.SystemClock()
	limiterCfg := auth.LimiterConfig{
		MaxAttempts:   cfg.MaxAttempts,
		Window:        cfg.AttemptWindow,
		Lockout:       cfg.LockoutDuration,
		SweepInterval: 30 * time.Minute,
	}

	var limiter auth.Limiter
	var memLimiter *auth.MemoryLimiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = auth.NewRedisLimiter(client, "", limiterCfg)
		logger.Log.Info("using redis attempt limiter", zap.String("addr", cfg.RedisAddr))
	} else {
		memLimiter = auth.NewMemoryLimiter(limiterCfg, clock)
		limiter = memLimiter
	}

	hasher := auth.NewBcryptHasher(14)
	svc := auth.NewService(auth.ServiceConfig{
		Accounts:    repo,
		Limiter:     limiter,
		TOTP:        auth.NewTOTPManager(clock),
		Recovery:    auth.NewRecoveryCodeVault(repo, hasher),
		Devices:     auth.NewDeviceManager(repo, clock),
		Tokens:      auth.NewTokenIssuer([]byte(cfg.JWTSecret), clock),
		Audit:       audit.NewRecorder(repo, logger.Log),
		Hasher:      hasher,
		Logger:      logger.Log,
		Clock:       clock,
		IssuerLabel: cfg.TOTPIssuer,
	})

	h := api.NewHandler(svc)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	g := e.Group("/api/v1")
	h.RegisterRoutes(g)

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Log.Error("server shutdown failed", zap.Error(err))
	}
	if memLimiter != nil {
		memLimiter.Close()
	}
}
