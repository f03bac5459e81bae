package cli

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leasify/leased/internal/api"
	"github.com/leasify/leased/internal/domain"
	"github.com/leasify/leased/internal/eventbus"
	"github.com/leasify/leased/internal/ledger"
	"github.com/leasify/leased/internal/lease"
	"github.com/leasify/leased/internal/metrics"
	"github.com/leasify/leased/internal/payment"
	"github.com/leasify/leased/internal/projection"
	"github.com/leasify/leased/internal/retry"
	"github.com/leasify/leased/internal/storage/relationaldb"
	"github.com/leasify/leased/internal/storage/relationaldb/memory"
	"github.com/leasify/leased/internal/storage/relationaldb/postgres"
	"github.com/leasify/leased/internal/worker"
)

// projectionCacheSize bounds the serve-time projection LRU.
const projectionCacheSize = 1024

var memoryStore bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lease service",
	Long: `Start the leased HTTP API together with its background workers:
the retry dispatcher, the due-payment poller and the event bus consumer.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&memoryStore, "memory", false,
		"run on in-process storage and bus (no Postgres or Redis); state is lost on exit")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prom := metrics.NewPrometheus("leased")

	// Storage.
	var repos relationaldb.RepositoryManager
	if memoryStore {
		repos = memory.NewRepositoryManager()
		logger.Warn("Running on in-process storage, state is not durable")
	} else {
		pg, err := postgres.NewRepositoryManager(&cfg.Database)
		if err != nil {
			return err
		}
		repos = pg
	}

	manager := relationaldb.NewManager(repos, &cfg.Database,
		relationaldb.WithLogger(logger.Named("db")),
		relationaldb.WithMetrics(prom),
	)
	if err := manager.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := manager.Close(context.Background()); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	// Bus, delay queue and DLQ.
	var (
		publisher eventbus.Publisher
		consumer  eventbus.Consumer
		dlq       eventbus.DeadLetterQueue
		queue     retry.DelayQueue
	)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		dlq = eventbus.NewRedisDLQ(client, domain.TopicDLQ)
		publisher = eventbus.NewRedisPublisher(client, logger.Named("bus"))
		consumer = eventbus.NewRedisConsumer(client, dlq, logger.Named("bus"))
		queue = retry.NewRedisDelayQueue(client, cfg.Redis.QueueKey)
	} else {
		bus := eventbus.NewMemoryBus()
		dlq = eventbus.NewMemoryDLQ()
		publisher = bus
		consumer = bus.NewConsumer(dlq, logger.Named("bus"))
		queue = retry.NewMemoryDelayQueue()
	}

	// Gateway and services.
	gateway := payment.NewSimulatedGateway()
	gateway.SetSuccessRate(cfg.Gateway.SuccessRate)

	leases := lease.NewService(repos, publisher,
		lease.WithLogger(logger.Named("lease")),
		lease.WithIdempotencyTTL(cfg.IdempotencyTTL),
	)
	payments := payment.NewService(repos, gateway, leases, publisher, queue,
		payment.WithLogger(logger.Named("payment")),
		payment.WithRetryConfig(cfg.Retry.Payment),
		payment.WithChargeTimeout(cfg.Gateway.ChargeTimeout),
	)
	audit := ledger.NewQueryService(repos.Ledger())
	projections, err := projection.NewReader(repos.Ledger(), projectionCacheSize)
	if err != nil {
		return err
	}

	registerProjectionInvalidation(consumer, projections)

	prom.Registry().MustRegister(metrics.NewStateCollector(repos, queue))

	// Background workers.
	pool := worker.NewPool(logger.Named("worker"),
		worker.NewRetryDispatcher(queue, payments, dlq,
			cfg.Workers.DispatchInterval, cfg.Workers.DispatchBatch, logger.Named("dispatcher")),
		worker.NewDuePoller(payments,
			cfg.Workers.DuePollInterval, cfg.Workers.DuePollBatch, logger.Named("due-poller")),
		worker.NewConsumerRunner(consumer, domain.TopicLeaseEvents, domain.TopicPaymentEvents),
	)

	// HTTP server.
	server := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewServer(api.Deps{
			Leases:      leases,
			Payments:    payments,
			Audit:       audit,
			Projections: projections,
			DLQ:         dlq,
			System:      repos.System(),
			Metrics:     prom.Handler(),
			Stats:       prom,
			Logger:      logger.Named("http"),
		}).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return pool.Run(ctx)
	})
	group.Go(func() error {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("Service started", "config", cfg.Path())
	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("Service stopped")
	return nil
}

// registerProjectionInvalidation drops cached projections whenever a
// lease's history grows.
func registerProjectionInvalidation(consumer eventbus.Consumer, projections *projection.Reader) {
	handler := func(ctx context.Context, event map[string]interface{}) error {
		raw, _ := event["lease_id"].(string)
		if raw == "" {
			return nil
		}
		if id, err := uuid.Parse(raw); err == nil {
			projections.Invalidate(id)
		}
		return nil
	}

	for _, eventType := range []domain.EventType{
		domain.EventLeaseCreated, domain.EventPaymentScheduled,
		domain.EventPaymentAttempted, domain.EventPaymentSucceeded,
		domain.EventPaymentFailed, domain.EventLeaseCompleted,
		domain.EventLeaseDefaulted,
	} {
		consumer.RegisterHandler(eventType, handler)
	}
}
