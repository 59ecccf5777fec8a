package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirinyoku/tix-ledger/internal/config"
	"github.com/kirinyoku/tix-ledger/internal/metrics"
	"github.com/kirinyoku/tix-ledger/internal/postgres"
	"github.com/kirinyoku/tix-ledger/internal/redis"
	"github.com/kirinyoku/tix-ledger/internal/repository/memory"
	postgresrepo "github.com/kirinyoku/tix-ledger/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/tix-ledger/internal/repository/redis"
	"github.com/kirinyoku/tix-ledger/internal/service"
	"github.com/kirinyoku/tix-ledger/internal/service/admission"
	"github.com/kirinyoku/tix-ledger/internal/service/ledger"
	"github.com/kirinyoku/tix-ledger/internal/service/pricing"
	httpgin "github.com/kirinyoku/tix-ledger/internal/transport/http/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	idempotencyCacheSize = 10_000
	eventCacheSize       = 4096
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	closers    []func()
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	// Storage
	repos, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	// Optional redis: cache, pubsub, limiter and idempotency
	var (
		cache    ledger.EventCache
		notifier ledger.Notifier
		feed     httpgin.FeedSubscriber
		limiter  admission.RateLimiter
		idem     httpgin.IdempotencyStore
	)

	if cfg.Redis.Addr != "" {
		rdb, err := redis.New(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })

		pubsub := redisrepo.NewLedgerPubSub(rdb)
		cache = redisrepo.NewEventCache(rdb)
		notifier = pubsub
		feed = pubsub
		idem = redisrepo.NewIdempotencyStore(rdb, cfg.Limits.IdempotencyTTL)
		if cfg.Limits.RateLimitPerMinute > 0 {
			limiter = redisrepo.NewSlidingWindowLimiter(rdb, cfg.Limits.RateLimitPerMinute, time.Minute)
		}
	} else {
		logger.Info("redis disabled, using in-process feed and idempotency store")

		mf := memory.NewFeed()
		if cfg.Storage.Driver == config.DriverMemory {
			// only a single process writes the ledger
			cache = memory.NewEventCache(eventCacheSize)
		}
		notifier = mf
		feed = mf
		idem = memory.NewIdempotencyStore(idempotencyCacheSize, cfg.Limits.IdempotencyTTL)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	observer, err := metrics.NewPrometheusObserver("tixledger", reg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	overpayment, err := admission.ParseOverpaymentPolicy(cfg.Pricing.OverpaymentPolicy)
	if err != nil {
		a.Close()
		return nil, err
	}

	// Services
	services, err := service.NewServices(repos, service.Deps{
		Cache:    cache,
		Notifier: notifier,
		Limiter:  limiter,
		Observer: observer,
		Logger:   logger,
	}, service.Config{
		Ledger:    ledger.Config{EventCacheTTL: cfg.Limits.EventCacheTTL},
		Pricing:   pricing.Config{Discount: pricing.DiscountPolicy{Percent: cfg.Pricing.DiscountPercent}},
		Admission: admission.Config{Overpayment: overpayment},
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Gin router
	router := httpgin.NewRouter(services, logger, httpgin.Options{
		Idempotency: idem,
		Feed:        feed,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		AdminToken:  cfg.Admin.Token,
	})

	if cfg.Admin.Token == "" {
		logger.Warn("ADMIN_TOKEN is empty, admin routes are unauthenticated")
	}

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

func (a *App) openStorage(ctx context.Context) (service.Repositories, error) {
	switch a.cfg.Storage.Driver {
	case config.DriverMemory:
		a.logger.Warn("using in-memory storage, the ledger is lost on exit")

		store := memory.NewStore()
		return service.Repositories{
			Tx:        store,
			Events:    store.Events(),
			Members:   store.Members(),
			Purchases: store.Purchases(),
		}, nil

	case config.DriverPostgres:
		pool, err := postgres.New(ctx, PostgresConfig(a.cfg))
		if err != nil {
			return service.Repositories{}, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		store := postgresrepo.NewStore(pool)
		return service.Repositories{
			Tx:        store,
			Events:    store.Events(),
			Members:   store.Members(),
			Purchases: store.Purchases(),
		}, nil
	}

	return service.Repositories{}, fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
}

// PostgresConfig maps the env configuration onto the pool settings.
func PostgresConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Name:     cfg.Postgres.Name,
		SSLMode:  cfg.Postgres.SSLMode,
	}
}

func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Close releases storage and redis connections in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer a.Close()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
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
