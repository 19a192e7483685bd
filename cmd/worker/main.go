package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wacampaign_backend/internal/billing"
	"wacampaign_backend/internal/campaign/dispatcher"
	campaignrepo "wacampaign_backend/internal/campaign/repository"
	campaignservice "wacampaign_backend/internal/campaign/service"
	"wacampaign_backend/internal/notification"
	"wacampaign_backend/internal/notification/email"
	"wacampaign_backend/internal/notification/sse"
	"wacampaign_backend/internal/provider/gateway"
	"wacampaign_backend/internal/provider/graph"
	providerrepo "wacampaign_backend/internal/provider/repository"
	"wacampaign_backend/internal/provider/resolver"
	"wacampaign_backend/internal/scheduler"
	jobrepo "wacampaign_backend/internal/scheduler/repository"
	"wacampaign_backend/internal/templates"
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

	log := logger.New(cfg.Env)
	log.Info("starting dispatch worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	redisOpt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		log.Error("failed to parse redis URL", "error", err)
		panic("failed to parse redis URL: " + err.Error())
	}
	rdb := redis.NewClient(redisOpt)
	defer func() { _ = rdb.Close() }()

	eventBus := events.NewInMemoryBus(log)
	m := metrics.New()

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

	// Job summary fan-out runs in the worker because that is where final
	// batches complete.
	sseService := sse.New(log)
	defer sseService.Close()
	notificationModule := notification.NewModule(
		sseService, email.NewSender(cfg), notification.NewContactRepository(pool), log,
	)
	notificationModule.RegisterHandlers(eventBus)

	worker, err := scheduler.NewWorker(cfg, jobs, campaignSvc, eventBus, log)
	if err != nil {
		log.Error("failed to initialize dispatch worker", "error", err)
		panic("failed to initialize dispatch worker: " + err.Error())
	}

	workerErr := make(chan error, 1)
	go func() {
		workerErr <- worker.Run()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining worker")
		worker.Shutdown()
		eventBus.Wait()
	case err := <-workerErr:
		if err != nil {
			log.Error("worker error", "error", err)
			panic("worker error: " + err.Error())
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
