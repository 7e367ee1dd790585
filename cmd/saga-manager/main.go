// cmd/saga-manager/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/EntryDSM/Casper-Application-sub008/internal/alert"
	"github.com/EntryDSM/Casper-Application-sub008/internal/application"
	"github.com/EntryDSM/Casper-Application-sub008/internal/audit"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/config"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/database"
	stderrors "github.com/EntryDSM/Casper-Application-sub008/internal/common/errors"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/kafka"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/logger"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/observability"
	"github.com/EntryDSM/Casper-Application-sub008/internal/consumers"
	"github.com/EntryDSM/Casper-Application-sub008/internal/outbox"
	"github.com/EntryDSM/Casper-Application-sub008/internal/saga"
	"github.com/EntryDSM/Casper-Application-sub008/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// loadConfig honors an explicit CONFIG_FILE path and otherwise falls back to
// the default search locations.
func loadConfig() (*config.Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting saga manager...")

	cfg, err := loadConfig()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("saga-manager")
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis dedup cache (optional) ---
	var dedup consumers.Deduper = consumers.NopDeduper{}
	if cfg.Database.Redis.Address != "" {
		var rdb *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			rdb, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		dedup = consumers.NewRedisDeduper(rdb, config.GetDuration(cfg.Saga.DedupTTL), log)
		zapLog.Info("Redis connected successfully")
	}

	// --- Init Elasticsearch audit sink (optional) ---
	var auditSink saga.AuditSink = saga.NopAudit{}
	if cfg.Audit.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 10, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		auditSink = audit.NewElasticSink(esClient, cfg.Database.Elasticsearch.Index, log)
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Init operator alerting ---
	notifier, err := alert.NewNotifier(ctx, cfg.Alerts, log)
	if err != nil {
		zapLog.Fatal("alert notifier init failed", zap.Error(err))
	}
	reporter := stderrors.NewReporter(log, notifier.Notify)

	// --- Wire the saga core ---
	db := pg.GetDB()
	appStore := application.NewStore(db, log)
	stateStore := saga.NewStore(db)
	outboxStore := outbox.NewStore(db, log)

	orchestrator := saga.NewOrchestrator(db, stateStore, appStore, outboxStore, cfg.Saga.LockStripes, auditSink, log)

	publisher := kafka.NewPublisher(cfg.Kafka)
	defer publisher.Close()

	relay := outbox.NewRelay(
		outboxStore,
		publisher,
		registry.Default(),
		config.GetDuration(cfg.Outbox.PollInterval),
		cfg.Outbox.BatchSize,
		log,
	)

	handlers := consumers.NewHandlers(orchestrator, dedup, reporter, obs, log)

	// --- Start consumers ---
	var consumerList []*kafka.Consumer
	for _, sub := range handlers.Subscriptions(cfg.Kafka.Topics) {
		c := kafka.NewConsumer(cfg.Kafka, sub, log)
		consumerList = append(consumerList, c)
		go func(c *kafka.Consumer) {
			if err := c.Run(ctx); err != nil {
				zapLog.Error("consumer terminated", zap.Error(err))
				stop()
			}
		}(c)
	}
	defer func() {
		for _, c := range consumerList {
			c.Close()
		}
	}()

	// --- Start relay, retention and deadline sweeps ---
	go relay.Run(ctx)
	go relay.RunRetention(ctx,
		config.GetDuration(cfg.Outbox.SweepInterval),
		time.Duration(cfg.Outbox.RetentionDays)*24*time.Hour,
	)
	go orchestrator.RunDeadlineSweep(ctx,
		config.GetDuration(cfg.Saga.SweepInterval),
		config.GetDuration(cfg.Saga.Timeout),
	)

	// --- Metrics and health endpoint (pprof rides the default mux) ---
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pg.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTP.Address}
	go func() {
		zapLog.Info("metrics listener started", zap.String("address", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("metrics listener failed", zap.Error(err))
			stop()
		}
	}()

	zapLog.Info("saga manager running")
	<-ctx.Done()

	zapLog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Warn("http shutdown failed", zap.Error(err))
	}
	zapLog.Info("saga manager stopped")
}
