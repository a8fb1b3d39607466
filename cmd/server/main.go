package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/access"
	accessmetrics "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/access/metrics"
	accesstracer "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/access/tracer"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/audit"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/idempotency"
	consentmetrics "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/metrics"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/service"
	consentstore "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/consent/store"
	customerstore "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/customer/store"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/facade"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/platform/config"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/platform/database"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/platform/health"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/platform/httpserver"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/platform/kafka/producer"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/platform/logger"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/platform/redis"
	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/seeder"
	httptransport "github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
//
// Every backing service is optional: without Postgres, Redis, or Kafka the
// service runs fully in memory, which is the development and demo setup.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing datashare engine",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"single_use_consents", cfg.SingleUseConsents,
	)

	healthHandler := health.New(cfg.Environment)

	// Persistence
	var consents service.Store = consentstore.NewInMemory()
	var records customerstore.Store = customerstore.NewInMemory()
	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.PostgresURL
	pool, err := database.New(dbCfg)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		consents = consentstore.NewPostgres(pool.DB())
		records = customerstore.NewPostgres(pool.DB())
		healthHandler.RegisterCheck("postgres", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Health(ctx)
		})
		defer pool.Close() //nolint:errcheck // process is exiting
	}
	records = customerstore.NewDeduping(records)

	// Idempotency
	var idemStore idempotency.Store = idempotency.NewInMemory(cfg.IdempotencyTTL)
	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		idemStore = idempotency.NewRedis(redisClient.Client, cfg.IdempotencyTTL)
		healthHandler.RegisterCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(ctx)
		})
	}

	// Audit trail
	var auditSink audit.Store = audit.NewInMemoryStore()
	if cfg.KafkaBrokers != "" {
		kafkaProducer, err := producer.New(producer.DefaultConfig(cfg.KafkaBrokers), log)
		if err != nil {
			log.Error("kafka init failed", "error", err)
			os.Exit(1)
		}
		defer kafkaProducer.Close()
		auditSink = audit.NewKafkaStore(kafkaProducer, cfg.AuditTopic)
	}
	auditor := audit.NewPublisher(auditSink,
		audit.WithAsyncBuffer(1024),
		audit.WithPublisherLogger(log),
	)
	defer auditor.Close()

	if cfg.SeedSampleData {
		if err := seeder.Seed(context.Background(), records, log); err != nil {
			log.Error("seeding failed", "error", err)
			os.Exit(1)
		}
	}

	// Domain services
	consentSvc := service.NewService(consents, auditor, log,
		service.WithMetrics(consentmetrics.New()),
		service.WithIdempotencyStore(idemStore),
	)
	gate := access.NewGate(consents, records, auditor, log,
		access.WithMetrics(accessmetrics.New()),
		access.WithTracer(accesstracer.NewOTel()),
		access.WithSingleUseConsents(cfg.SingleUseConsents),
		access.WithRecordReadTimeout(cfg.RecordReadTimeout),
	)

	handler := httptransport.NewHandler(facade.New(consentSvc, gate, records), log)
	router := httptransport.NewRouter(handler, healthHandler, log)

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting http server", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
