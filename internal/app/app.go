package app

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/boutique-orders/internal/domain/discount"
	"github.com/xenking/boutique-orders/internal/domain/inventory"
	"github.com/xenking/boutique-orders/internal/domain/order"
	"github.com/xenking/boutique-orders/internal/handler"
	"github.com/xenking/boutique-orders/internal/storage/postgres"
	"github.com/xenking/boutique-orders/pkg/health"
	"github.com/xenking/boutique-orders/pkg/httpmiddleware"
	"github.com/xenking/boutique-orders/pkg/idempotency"
	"github.com/xenking/boutique-orders/pkg/outbox"
)

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	if cfg.Migrate.Enabled {
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			return errors.Wrap(err, "run migrations")
		}
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	healthSvc := health.New(lg.Named("health"))
	healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		healthSvc.Add(health.Readiness, "redis", 2*time.Second, health.RedisCheck(rdb))
	} else {
		lg.Warn("Redis not configured, idempotency keys and rate limits disabled")
	}

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	discountRepo := postgres.NewDiscountRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)
	orderStore := postgres.NewOrderStore(pool)
	outboxStore := postgres.NewOutboxStore(pool, cfg.Outbox.MaxRetries, cfg.Outbox.Backoff)

	// Domain services.
	stockChecker := inventory.NewChecker(productRepo)
	orderService, err := order.NewService(productRepo, stockChecker, discount.NewEngine(discountRepo), orderStore, order.Options{
		Numbers: order.ULIDNumbers{Prefix: cfg.OrderPrefix},
		Cancel: order.CancelPolicy{
			Restock:         cfg.Cancel.Restock,
			ReleaseDiscount: cfg.Cancel.ReleaseDiscount,
		},
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	// HTTP handlers.
	h := handler.NewHandler(
		handler.HandlerConfig{ImageBaseURL: cfg.ImageBaseURL, MaxBodyBytes: cfg.MaxBodyBytes},
		orderService,
		stockChecker,
		productRepo,
	)
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))

	var checkout []func(http.Handler) http.Handler
	if rdb != nil {
		checkout = append(checkout,
			httpmiddleware.RateLimit(rdb, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: handler.ClientScope,
			}),
			idempotency.Middleware(idempotency.NewStore(rdb, cfg.Idempotency.TTL), handler.ClientScope),
		)
	}

	router := chi.NewRouter()
	healthSvc.Routes(router)
	router.Mount("/", h.Router(securityHandler, checkout...))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RequestID(),
			httpmiddleware.Recovery(),
			httpmiddleware.Instrument("boutique-orders", router, m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	g, ctx := errgroup.WithContext(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		writer := &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Balancer:     &kafka.Hash{},
			BatchTimeout: cfg.Kafka.BatchTimeout,
			RequiredAcks: kafka.RequireAll,
		}
		defer func() {
			if err := writer.Close(); err != nil {
				lg.Warn("Kafka writer close", zap.Error(err))
			}
		}()
		healthSvc.Add(health.Readiness, "kafka", 2*time.Second, health.KafkaCheck(cfg.Kafka.Brokers),
			health.WithThresholds(5, 1),
		)

		relayID, _ := os.Hostname()
		relay := outbox.NewRelay(lg.Named("outbox"), outboxStore,
			outbox.NewDispatcher(lg.Named("kafka"), writer, cfg.Kafka.Topic),
			relayID,
			outbox.RelayConfig{
				BatchSize: cfg.Outbox.BatchSize,
				Interval:  cfg.Outbox.Interval,
				Lease:     cfg.Outbox.Lease,
			},
		)
		g.Go(func() error {
			return relay.Run(ctx)
		})
	} else {
		lg.Warn("Kafka not configured, order events stay in the outbox")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
