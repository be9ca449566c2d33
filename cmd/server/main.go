package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nordvik/trena/internal"
	"github.com/nordvik/trena/internal/billing"
	"github.com/nordvik/trena/internal/cache"
	"github.com/nordvik/trena/internal/email"
	"github.com/nordvik/trena/internal/handler/api"
	"github.com/nordvik/trena/internal/handler/webhook"
	"github.com/nordvik/trena/internal/repository"
	"github.com/nordvik/trena/internal/router"
	"github.com/nordvik/trena/internal/routes"
	"github.com/nordvik/trena/internal/service"
	"github.com/nordvik/trena/internal/telemetry"
)

func run() error {
	ctx := context.Background()

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// database/sql connection just for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed")

	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	repo := repository.New(pool)

	telemetry.InitBusinessMetrics("trena")
	telemetry.InitHTTPMetrics("trena")

	// Redis is optional; without it price resolution hits Stripe every time.
	var redisClient *cache.Client
	if cfg.RedisURL != "" {
		redisClient, err = cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		logger.Info("Redis connection established")
	} else {
		logger.Warn("REDIS_URL not set, price lookup caching disabled")
	}

	billingProvider := billing.NewStripeProvider(cfg.Stripe.SecretKey)

	smtpSender := email.NewSMTPSender(&email.SMTPConfig{
		Host:     cfg.Email.Host,
		Port:     int(cfg.Email.Port),
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
		FromName: cfg.Email.FromName,
	}, logger)
	emailService, err := email.NewService(smtpSender, cfg.Email.From, cfg.Email.FromName)
	if err != nil {
		return fmt.Errorf("failed to initialize email service: %w", err)
	}

	classifier := service.NewPlanClassifier(cfg.PremiumLookupKeys)
	entitlementService := service.NewEntitlementService(repo, classifier)
	priceResolver := service.NewPriceResolver(billingProvider, redisClient, logger)
	reconciler := service.NewReconcilerService(repo, billingProvider, priceResolver, emailService, logger)

	stripeWebhookHandler := webhook.NewStripeHandler(billingProvider, reconciler, webhook.StripeHandlerConfig{
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}, logger)
	entitlementHandler := api.NewEntitlementHandler(repo, entitlementService, logger)

	r := router.New(
		router.Recovery(logger),
		router.RequestID(),
		router.Metrics(),
		router.Logger(logger),
	)

	r.HandleRaw("GET /metrics", promhttp.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := pool.Ping(req.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if redisClient != nil {
			if err := redisClient.HealthCheck(req.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	routes.RegisterWebhookRoutes(r, routes.WebhookDeps{
		StripeHandler: stripeWebhookHandler.HandleWebhook,
	})
	routes.RegisterAPIRoutes(r, routes.APIDeps{
		EntitlementHandler: entitlementHandler,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("Starting server", "address", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
