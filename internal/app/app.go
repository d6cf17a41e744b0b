package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ticketvia/seatlease/internal/config"
	"github.com/ticketvia/seatlease/internal/postgres"
	"github.com/ticketvia/seatlease/internal/queue"
	redisx "github.com/ticketvia/seatlease/internal/redis"
	postgresrepo "github.com/ticketvia/seatlease/internal/repository/postgres"
	redisrepo "github.com/ticketvia/seatlease/internal/repository/redis"
	"github.com/ticketvia/seatlease/internal/service"
	"github.com/ticketvia/seatlease/internal/service/lease"
	"github.com/ticketvia/seatlease/internal/sweeper"
	httpgin "github.com/ticketvia/seatlease/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	sweeper    *sweeper.Sweeper
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redisx.New(context.Background(), redisx.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	sessions := redisrepo.NewSessionIndex(rdb, 0)
	pubsub := redisx.NewLockEventsPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "seatlease:v1:rl:acquire", cfg.Limiter.Limit, cfg.Limiter.Window)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	var events lease.EventPublisher
	if cfg.Rabbit.URL != "" {
		events = queue.NewPublisher(cfg.Rabbit.URL, logger)
	}

	// Initialize services
	services := service.NewServices(store.Leases(), store.Policies(), service.Deps{
		Cache:    cache,
		Sessions: sessions,
		Pubsub:   pubsub,
		Events:   events,
		Limiter:  limiter,
		Logger:   logger,
	}, service.Config{})

	sw := sweeper.New(store.Leases(), services.Policy, pubsub, events, logger, cfg.Sweeper.Tick)

	// Initialize Gin router
	router := httpgin.NewRouter(services, idempotencyStore, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
		sweeper: sw,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Start expiry sweeper
	g.Go(func() error {
		a.sweeper.Run(gCtx)
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
