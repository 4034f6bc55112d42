package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/convertcredits/backend/internal/admin"
	"github.com/convertcredits/backend/internal/audit"
	"github.com/convertcredits/backend/internal/auth"
	"github.com/convertcredits/backend/internal/config"
	"github.com/convertcredits/backend/internal/events"
	"github.com/convertcredits/backend/internal/execution"
	"github.com/convertcredits/backend/internal/infrastructure"
	"github.com/convertcredits/backend/internal/jobs"
	"github.com/convertcredits/backend/internal/ledger"
	"github.com/convertcredits/backend/internal/metrics"
	"github.com/convertcredits/backend/internal/payments"
	"github.com/convertcredits/backend/internal/policy"
	"github.com/convertcredits/backend/internal/refunds"
	"github.com/convertcredits/backend/internal/registry"
	"github.com/convertcredits/backend/internal/repository"
	"github.com/convertcredits/backend/internal/sweeper"
)

type runMode int

const (
	// modeServe runs workers and accepts API traffic.
	modeServe runMode = iota
	// modeWorker runs workers only.
	modeWorker
	// modeInsertOnly can enqueue but never works jobs.
	modeInsertOnly
)

// application holds every wired component of one process.
type application struct {
	logger   *slog.Logger
	pool     *pgxpool.Pool
	registry *prometheus.Registry
	policies *policy.Table
	river    *river.Client[pgx.Tx]

	apiKeys    *repository.APIKeyRepo
	auditLog   *repository.AuditRepo
	auth       auth.Service
	jobs       *jobs.Service
	refunds    *refunds.Service
	admin      *admin.Service
	payments   *payments.Service
	keys       registry.Service
	accounts   *repository.AccountRepo
	entries    *repository.LedgerRepo
	sweeper    *sweeper.Sweeper
	reconciler *ledger.Reconciler
	lookup     payments.PaymentLookup
}

// bootstrap connects to Postgres, and to Redis and NATS when configured,
// then builds every service from explicit constructors.
func bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger, mode runMode) (*application, func(), error) {
	pool, err := infrastructure.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	cleanupFns := []func(){pool.Close}
	cleanup := func() {
		for i := len(cleanupFns) - 1; i >= 0; i-- {
			cleanupFns[i]()
		}
	}
	logger.Info("connected to postgres")

	rdb, err := infrastructure.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
	}

	nc, err := infrastructure.ConnectNats(cfg.NatsURL)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	var bus events.Publisher = events.Noop{}
	if nc != nil {
		cleanupFns = append(cleanupFns, func() { _ = nc.Drain() })
		bus = events.NewBus(nc)
		logger.Info("connected to nats", "url", cfg.NatsURL)
	}

	policies, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	payloads, err := jobs.NewPayloadValidator()
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(reg)
	tx := cfg.Tx()

	accountRepo := repository.NewAccountRepo(pool)
	ledgerRepo := repository.NewLedgerRepo(pool)
	jobRepo := repository.NewJobRepo(pool)
	refundRepo := repository.NewRefundRepo(pool)
	paymentRepo := repository.NewPaymentRepo(pool)
	adjustmentRepo := repository.NewAdjustmentRepo(pool)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)

	ledgerSvc := ledger.NewService(accountRepo, ledgerRepo)
	auditRepo := repository.NewAuditRepo(pool)
	recorder := audit.NewRecorder(auditRepo, bus, logger)
	refundSvc := refunds.NewService(pool, jobRepo, refundRepo, ledgerRepo, ledgerSvc, recorder, bus, m, logger, refunds.Config{
		AutoRefund: cfg.AutoRefund,
		Window:     cfg.RefundWindow,
		AutoWindow: cfg.AutoRefundWindow,
		Tx:         tx,
	})

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewConvertWorker(jobRepo, execution.NewHTTPConverter(cfg.ConverterURL), refundSvc, policies, m, logger))
	riverCfg := &river.Config{Workers: workers, Logger: logger}
	if mode != modeInsertOnly {
		riverCfg.Queues = execution.QueueConfigs(policies)
	}
	riverClient, err := river.NewClient(riverpgxv5.New(pool), riverCfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create river client: %w", err)
	}
	dispatcher := execution.NewDispatcher(riverClient, policies, jobRepo, m, logger)

	authSvc, err := auth.NewService(pool, auth.NewRepository(pool), ledgerSvc, auth.Config{
		Secret:   []byte(cfg.JWTSecret),
		TokenTTL: cfg.TokenTTL,
		Tx:       tx,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var dedup payments.Dedup = payments.NoDedup{}
	var lease sweeper.Lease = sweeper.NoLease{}
	if rdb != nil {
		dedup = payments.NewRedisDedup(rdb)
		lease = sweeper.NewRedisLease(rdb, leaseOwner())
	}

	app := &application{
		logger:   logger,
		pool:     pool,
		registry: reg,
		policies: policies,
		river:    riverClient,
		apiKeys:  apiKeyRepo,
		auditLog: auditRepo,
		auth:     authSvc,
		jobs:     jobs.NewService(pool, jobRepo, ledgerSvc, policies, payloads, dispatcher, refundSvc, m, logger, tx),
		refunds:  refundSvc,
		admin: admin.NewService(pool, jobRepo, adjustmentRepo, refundRepo, refundSvc, ledgerSvc, recorder, dispatcher, logger, admin.Config{
			ApprovalThreshold: cfg.AdjustmentApprovalThreshold,
			Tx:                tx,
		}),
		payments: payments.NewService(pool, paymentRepo, ledgerSvc, dedup, bus, m, logger, tx),
		keys:     registry.NewService(apiKeyRepo, registry.DefaultMaxActiveKeys),
		accounts: accountRepo,
		entries:  ledgerRepo,
		sweeper: sweeper.New(jobRepo, dispatcher, lease, m, logger, sweeper.Config{
			Interval: cfg.SweepInterval,
			Grace:    cfg.SweepGrace,
			Batch:    cfg.SweepBatch,
		}),
		reconciler: ledger.NewReconciler(ledgerRepo, m, logger),
		lookup:     payments.NewMercadoPagoClient(cfg.MercadoPagoAPIURL, cfg.MercadoPagoAccessToken),
	}
	return app, cleanup, nil
}

func leaseOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
