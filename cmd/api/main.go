package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"awards-miles-api/internal/cache"
	"awards-miles-api/internal/config"
	"awards-miles-api/internal/database"
	"awards-miles-api/internal/events"
	"awards-miles-api/internal/features"
	"awards-miles-api/internal/handler"
	"awards-miles-api/internal/logging"
	"awards-miles-api/internal/metrics"
	"awards-miles-api/internal/middleware"
	"awards-miles-api/internal/service"
	"awards-miles-api/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "", "Config file path (JSON or YAML)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	if err := tracing.Setup(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		SampleRatio: cfg.Tracing.SampleRatio,
	}); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	metrics.Init()

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	flags := features.NewManager()
	flags.Register(features.FeatureLedgerCache, cfg.Cache.Enabled, "Cache ledger snapshots for read queries")
	flags.Register(features.FeatureEventHooks, true, "Publish ledger events to in-process subscribers")

	ledgerCache, closeCache, err := newCache(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	eventManager := events.NewManager(func(event events.Event, err error) {
		logger.Warn("event handler failed",
			zap.String("event", string(event.Type)),
			zap.String("customer_id", event.CustomerID),
			zap.Error(err),
		)
	})
	subscribeAuditLog(eventManager, logger)

	svc := service.NewService(db, db, cfg.Loyalty, service.Options{
		Cache:    ledgerCache,
		CacheTTL: cfg.Cache.TTL(),
		Events:   eventManager,
		Features: flags,
		Logger:   logger,
	})
	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)

	if cfg.RateLimit.Enabled {
		window := time.Duration(cfg.RateLimit.Window) * time.Second

		clients := middleware.NewRateLimiter(cfg.RateLimit.Rate, window)
		defer clients.Stop()
		r.Use(middleware.RateLimitMiddleware(clients, middleware.ClientKey))

		customerWrites := middleware.NewRateLimiter(cfg.RateLimit.CustomerWriteRate, window)
		defer customerWrites.Stop()
		r.Use(middleware.RateLimitMiddleware(customerWrites, middleware.CustomerWriteKey))
	}

	r.Use(middleware.TracingMiddleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.Security.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h.Routes(r)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server",
			zap.String("addr", server.Addr),
			zap.String("database", cfg.Database.Path),
			zap.Bool("rate_limit", cfg.RateLimit.Enabled),
			zap.Bool("ledger_cache", cfg.Cache.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-sigint:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down server", zap.Error(err))
	}
	eventManager.Shutdown()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down tracer", zap.Error(err))
	}

	return nil
}

// newCache picks Redis when an address is configured and the in-process
// cache otherwise.
func newCache(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (cache.Cache, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}

	if cfg.RedisAddr == "" {
		logger.Info("using in-memory ledger cache")
		return cache.NewInMemoryCache(), func() {}, nil
	}

	redisCache, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("using redis ledger cache", zap.String("addr", cfg.RedisAddr))

	return redisCache, func() {
		if err := redisCache.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}, nil
}

func subscribeAuditLog(manager *events.Manager, logger *zap.Logger) {
	audit := func(ctx context.Context, event events.Event) error {
		logger.Info("ledger event",
			zap.String("event", string(event.Type)),
			zap.String("customer_id", event.CustomerID),
			zap.Time("timestamp", event.Timestamp),
			zap.Any("data", event.Data),
		)
		return nil
	}

	for _, eventType := range []events.EventType{
		events.EventMilesRegistered,
		events.EventMilesRemoved,
		events.EventAccountActivated,
		events.EventAccountDeactivated,
	} {
		manager.Subscribe(eventType, audit)
	}
}

func splitOrigins(origins string) []string {
	var out []string
	for _, origin := range strings.Split(origins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
