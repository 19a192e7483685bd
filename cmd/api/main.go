package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wacampaign_backend/internal/billing"
	"wacampaign_backend/internal/campaign/dispatcher"
	campaignhandler "wacampaign_backend/internal/campaign/handler"
	campaignrepo "wacampaign_backend/internal/campaign/repository"
	campaignservice "wacampaign_backend/internal/campaign/service"
	apphttp "wacampaign_backend/internal/http"
	"wacampaign_backend/internal/http/router"
	"wacampaign_backend/internal/notification"
	"wacampaign_backend/internal/notification/email"
	"wacampaign_backend/internal/notification/sse"
	"wacampaign_backend/internal/provider/gateway"
	"wacampaign_backend/internal/provider/graph"
	providerrepo "wacampaign_backend/internal/provider/repository"
	"wacampaign_backend/internal/provider/resolver"
	"wacampaign_backend/internal/reconcile"
	"wacampaign_backend/internal/scheduler"
	jobrepo "wacampaign_backend/internal/scheduler/repository"
	"wacampaign_backend/internal/templates"
	"wacampaign_backend/internal/webhook"
	"wacampaign_backend/platform/config"
	"wacampaign_backend/platform/db"
	"wacampaign_backend/platform/events"
	"wacampaign_backend/platform/logger"
	"wacampaign_backend/platform/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	redisOpt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		log.Error("failed to parse redis URL", "error", err)
		panic("failed to parse redis URL: " + err.Error())
	}
	rdb := redis.NewClient(redisOpt)
	defer func() { _ = rdb.Close() }()

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Prometheus collectors shared across modules
	m := metrics.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	messageLog := campaignrepo.New(pool)
	channels := providerrepo.New(pool)
	templateRepo := templates.New(pool)
	jobs := jobrepo.New(pool)

	ledger := billing.NewLedger(pool)
	dedupe := billing.NewDedupe(rdb, cfg.GetDuplicateWindow())

	graphClient := graph.NewClient(cfg, log)
	gatewayClient := gateway.NewClient(cfg, log)
	sendResolver := resolver.New(channels, graphClient, gatewayClient)

	disp := dispatcher.New(messageLog, log, m)

	queueClient, err := scheduler.NewClient(cfg, log)
	if err != nil {
		log.Error("failed to initialize queue client", "error", err)
		panic("failed to initialize queue client: " + err.Error())
	}
	defer func() { _ = queueClient.Close() }()

	campaignSvc := campaignservice.New(
		messageLog, disp, sendResolver, templateRepo,
		ledger, dedupe, jobs, queueClient, cfg, log, m,
	)
	campaignModule := campaignhandler.NewModule(campaignSvc)

	engine := reconcile.New(messageLog, eventBus, log, m)
	webhookModule := webhook.NewModule(cfg, engine, channels, log)
	defer webhookModule.Close()

	// Notification module subscribes to domain events and fans out to SSE and email
	sseService := sse.New(log)
	defer sseService.Close()
	notificationModule := notification.NewModule(
		sseService, email.NewSender(cfg), notification.NewContactRepository(pool), log,
	)
	notificationModule.RegisterHandlers(eventBus)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Metrics:  m,
		Modules: []apphttp.Module{
			campaignModule,
			webhookModule,
			notificationModule,
		},
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router.New(app),
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
