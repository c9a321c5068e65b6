package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hospitalityhub/platform/libs/config"
	"github.com/hospitalityhub/platform/libs/db"
	"github.com/hospitalityhub/platform/libs/httpx"
	"github.com/hospitalityhub/platform/libs/kafkax"
	otelx "github.com/hospitalityhub/platform/libs/otel"
	"github.com/hospitalityhub/platform/libs/resilience"
	"github.com/hospitalityhub/platform/libs/runtime"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/bulk"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/consumer"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/featuregate"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/handlers"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/metrics"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/outbox"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/renewals"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/staff"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/storage"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/subscriptions"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/usage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "entitlement-service")
	port, err := config.Port("PORT", "8090")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer runtime.Shutdown(logger, "otel", 5*time.Second, otelShutdown)
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	if config.Bool("MIGRATE_ON_START", true) {
		if err := storage.Migrate(ctx, dbURL); err != nil {
			logger.Error("migrations failed", "err", err)
			panic(err)
		}
	}
	pool, err := db.Open(ctx, dbURL, db.PoolConfig{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	catalog := tiers.NewDefaultCatalog()
	catalogPath := config.String("TIER_CATALOG_PATH", "")
	if catalogPath != "" {
		if err := catalog.Reload(catalogPath); err != nil {
			logger.Error("tier catalog rejected", "path", catalogPath, "err", err)
			panic(err)
		}
	}
	logger.Info("tier catalog loaded", "version", catalog.Version(), "path", catalogPath)

	m := metrics.New()
	outboxRepo := outbox.NewRepository()
	repo := storage.NewRepository(pool, outboxRepo)
	breaker := resilience.NewBreaker(
		"usage",
		config.Int("USAGE_BREAKER_FAILURES", 5),
		config.Seconds("USAGE_BREAKER_COOLDOWN_SECONDS", 10*time.Second),
	)
	counter := usage.NewCounter(repo, breaker)

	subsSvc := subscriptions.New(repo, counter, catalog, logger, subscriptions.Config{
		TrialPeriod: config.Seconds("TRIAL_PERIOD_SECONDS", 14*24*time.Hour),
	})
	subsSvc.OnTransition(m.ObserveTransition)
	staffSvc := staff.New(repo, repo, catalog, logger)

	gate := featuregate.New(catalog, repo, logger)
	gate.OnDecision(m.ObserveGate)

	coord := bulk.New(bulk.Config{
		Concurrency: config.Int("BULK_CONCURRENCY", 8),
		ItemTimeout: config.Seconds("BULK_ITEM_TIMEOUT_SECONDS", 5*time.Second),
	}, logger, bulk.WithDescribe(handlers.DescribeError), bulk.WithObserver(m.ObserveBulkItem))

	h := handlers.New(subsSvc, staffSvc, gate, catalog, coord, logger, handlers.Config{
		MaxBulkItems: config.Int("BULK_MAX_ITEMS", 500),
		BulkTimeout:  config.Seconds("BULK_TIMEOUT_SECONDS", 30*time.Second),
	})
	h.OnUsageUnavailable(m.UsageUnavailable)
	h.OnCatalogReplace(m.ObserveCatalogReplace)

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	if topic := config.String("KAFKA_CONSUME_TOPIC", consumer.EstablishmentApprovedV1); topic != "" && brokers != "" {
		onboarding := consumer.New(logger, repo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topic:   topic,
		}, consumer.OnboardingHandler(subsSvc, logger))
		go onboarding.Run(ctx)
	}

	if config.Bool("RENEWALS_ENABLED", true) {
		sweeper := renewals.New(repo, subsSvc, coord, logger, renewals.Config{
			Interval:  config.Seconds("RENEWALS_INTERVAL_SECONDS", 5*time.Minute),
			BatchSize: config.Int("RENEWALS_BATCH_SIZE", 200),
		})
		go sweeper.Run(ctx)
	}

	if catalogPath != "" {
		go reloadOnHangup(ctx, catalog, catalogPath, m, logger)
	}

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(config.List("KAFKA_BROKERS"))},
	}
	var limiter httpx.Limiter
	limit := config.Int("ADMIN_RATE_LIMIT", 30)
	window := config.Seconds("ADMIN_RATE_WINDOW_SECONDS", time.Minute)
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer func() { _ = rdb.Close() }()
		limiter = httpx.NewRedisLimiter(rdb, limit, window, "rl:entitlements:admin:")
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	} else {
		limiter = httpx.NewMemoryLimiter(limit, window)
	}
	adminLimit := httpx.RateLimit(limiter, httpx.ClientKey, logger, true)

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/api/v1/tiers", h.ListTiers)
	mux.HandleFunc("/api/v1/entitlements", h.GetEntitlements)
	mux.HandleFunc("/api/v1/entitlements/authorize", h.Authorize)
	mux.HandleFunc("/api/v1/features", h.GetFeature)
	mux.HandleFunc("/api/v1/subscription", h.GetSubscription)
	mux.HandleFunc("/api/v1/subscription/transition", h.Transition)
	mux.HandleFunc("/api/v1/admin/subscriptions/onboard", h.Onboard)
	mux.Handle("/api/v1/admin/subscriptions/bulk", adminLimit(http.HandlerFunc(h.BulkSubscriptions)))
	mux.Handle("/api/v1/admin/employees/bulk-status", adminLimit(http.HandlerFunc(h.BulkEmployeeStatus)))
	mux.HandleFunc("/api/v1/admin/tiers/config", h.TierConfig)
	mux.Handle("/api/v1/admin/reports/export", gate.Require("analytics")(http.HandlerFunc(h.ExportReport)))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Seconds("HTTP_HANDLER_TIMEOUT_SECONDS", 45*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "entitlements")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcPort, err := config.Port("GRPC_PORT", "9095")
	if err != nil {
		panic(err)
	}
	if err := startGrpcServer(ctx, logger, grpcPort, checks); err != nil {
		logger.Error("grpc server init failed", "err", err)
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	runtime.Shutdown(logger, "http server", 10*time.Second, srv.Shutdown)
}

// reloadOnHangup re-reads the catalog file on SIGHUP. A rejected file leaves the
// running catalog in place.
func reloadOnHangup(ctx context.Context, catalog *tiers.Catalog, path string, m *metrics.Metrics, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			err := catalog.Reload(path)
			m.ObserveCatalogReplace(err)
			if err != nil {
				logger.Error("tier catalog reload rejected", "path", path, "err", err)
				continue
			}
			logger.Info("tier catalog reloaded", "version", catalog.Version())
		}
	}
}
