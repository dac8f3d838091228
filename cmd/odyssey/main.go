package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-procure/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-procure/internal/app"
	"github.com/odyssey-erp/odyssey-procure/internal/approval"
	"github.com/odyssey-erp/odyssey-procure/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-procure/internal/audit/http"
	"github.com/odyssey-erp/odyssey-procure/internal/observability"
	"github.com/odyssey-erp/odyssey-procure/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-procure/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procure/internal/procurement"
	"github.com/odyssey-erp/odyssey-procure/internal/requisition"
	"github.com/odyssey-erp/odyssey-procure/internal/sequence"
	"github.com/odyssey-erp/odyssey-procure/internal/vendors"
	"github.com/odyssey-erp/odyssey-procure/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 {
		os.Exit(cli.Run(ctx, cfg, logger, os.Args[1:], os.Stdout, os.Stderr))
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, approval policies read from postgres", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	auditRepo := audit.NewRepository(dbpool)
	auditRecorder := audit.NewRecorder(auditRepo, logger)
	auditService := audit.NewService(auditRepo)

	sequenceService := sequence.NewService(sequence.NewRepository(dbpool), sequence.ServiceConfig{
		Retry:   cfg.SequenceRetry(),
		Logger:  logger,
		Metrics: metrics,
	})

	requisitionRepo := requisition.NewRepository(dbpool)
	requisitionService := requisition.NewService(requisitionRepo, sequenceService, auditRecorder, logger).WithRetry(cfg.TransitionRetry())

	policyCache := cache.NewVersioned(redisClient, "approval_policy", cfg.PolicyCacheTTL)
	policyStore := approval.NewPolicyStore(approval.NewPolicyRepository(dbpool), policyCache, logger)
	approvalService := approval.NewService(requisitionRepo, policyStore, auditRecorder, metrics, logger, approval.Config{
		Retry:      cfg.TransitionRetry(),
		Thresholds: cfg.EscalationThresholds(),
	})

	vendorService := vendors.NewService(vendors.NewRepository(dbpool))

	procurementRepo := procurement.NewRepository(dbpool)
	engine := procurement.NewEngine(procurementRepo, sequenceService, auditRecorder, metrics, logger, procurement.EngineConfig{
		RequireApproval: cfg.PORequireApproval,
		TaxRate:         cfg.POTaxRate,
		Currency:        cfg.POCurrency,
		Retry:           cfg.ConversionRetry(),
	})
	procurementService := procurement.NewService(procurementRepo, requisitionRepo, vendorService, engine, auditRecorder, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		RequisitionHandler: requisition.NewHandler(logger, requisitionService),
		ApprovalHandler:    approval.NewHandler(logger, approvalService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		VendorHandler:      vendors.NewHandler(logger, vendorService),
		SequenceHandler:    sequence.NewHandler(logger, sequenceService),
		AuditHandler:       audithttp.NewHandler(logger, auditService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
