package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/user-auth-service/internal/config"
	"github.com/iliyamo/user-auth-service/internal/database"
	"github.com/iliyamo/user-auth-service/internal/handler"
	"github.com/iliyamo/user-auth-service/internal/logger"
	"github.com/iliyamo/user-auth-service/internal/metrics"
	"github.com/iliyamo/user-auth-service/internal/middleware"
	"github.com/iliyamo/user-auth-service/internal/queue"
	"github.com/iliyamo/user-auth-service/internal/repository"
	"github.com/iliyamo/user-auth-service/internal/router"
	"github.com/iliyamo/user-auth-service/internal/service"
	"github.com/iliyamo/user-auth-service/internal/utils"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		App:    "user-auth-service",
		Env:    cfg.Env,
		Ver:    cfg.Version,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	db, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}

	pingers := []handler.Pinger{db}
	sessions, rdb, err := buildSessions(cfg, db)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		pingers = append(pingers, handler.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}
	log.Info("session registry ready", zap.String("backend", cfg.SessionBackend))

	hasher, err := utils.NewHasher(cfg.Auth.HashCost)
	if err != nil {
		return err
	}
	issuer, err := utils.NewTokenIssuer(cfg.Auth, nil)
	if err != nil {
		return err
	}

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.Events.Enabled {
		events = service.NewRabbitPublisher(cfg.Events.URL, cfg.Events.Queue)
		if cfg.Events.RunConsumer {
			consumer := &queue.AuditConsumer{
				URL:    cfg.Events.URL,
				Queue:  cfg.Events.Queue,
				LogDir: cfg.Events.LogDir,
				Log:    log.Named("audit"),
			}
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("audit consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := service.NewAuthService(service.Deps{
		Users:        repository.NewUserRepo(db),
		Sessions:     sessions,
		Hasher:       hasher,
		Issuer:       issuer,
		Verifier:     utils.NewTokenVerifier(cfg.Auth, nil),
		Events:       events,
		Metrics:      m,
		Logger:       log.Named("auth"),
		StoreTimeout: cfg.StoreTimeout,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLogger(log.Named("http")))

	router.RegisterRoutes(e, handler.Health(pingers...), promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.RegisterAuth(e,
		handler.NewAuthHandler(svc, handler.CookieConfig{
			Domain:     cfg.CookieDomain,
			AccessTTL:  cfg.Auth.AccessTTL,
			RefreshTTL: cfg.Auth.RefreshTTL,
		}, log.Named("handler")),
		middleware.NewRequestAuthenticator(svc, m, log.Named("gate")))

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		errCh <- e.Start(addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shCtx)
}

// buildSessions picks the session registry named by SESSION_BACKEND.  The
// returned client is nil for the mysql backend.
func buildSessions(cfg config.Config, db *sql.DB) (service.SessionRegistry, *redis.Client, error) {
	if cfg.SessionBackend != "redis" {
		return repository.NewSessionRepo(db), nil, nil
	}
	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("redis connect: %w", err)
	}
	return repository.NewRedisSessionRepo(rdb, cfg.Redis.Prefix, cfg.Auth.RefreshTTL), rdb, nil
}
