package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nocassist/nocassist/internal/answer"
	"github.com/nocassist/nocassist/internal/api"
	"github.com/nocassist/nocassist/internal/audit"
	"github.com/nocassist/nocassist/internal/auth"
	"github.com/nocassist/nocassist/internal/config"
	"github.com/nocassist/nocassist/internal/guard"
	"github.com/nocassist/nocassist/internal/incident"
	"github.com/nocassist/nocassist/internal/incident/lake"
	"github.com/nocassist/nocassist/internal/incident/postgres"
	"github.com/nocassist/nocassist/internal/incident/sqlite"
	"github.com/nocassist/nocassist/internal/ingest"
	"github.com/nocassist/nocassist/internal/llm"
	"github.com/nocassist/nocassist/internal/nl2sql"
	"github.com/nocassist/nocassist/internal/observability"
	"github.com/nocassist/nocassist/internal/query"
	"github.com/nocassist/nocassist/internal/schema"
	"github.com/nocassist/nocassist/internal/session"
	s3store "github.com/nocassist/nocassist/internal/storage/s3"
)

const auditCapacity = 500

func main() {
	cfg, err := config.LoadFromEnv("nocassist-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	registry := schema.Incidents()

	store, files, err := openStore(context.Background(), cfg, registry)
	if err != nil {
		logger.Error("failed to open incident store", slog.String("backend", string(cfg.Store.Backend)), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	credentials, err := auth.NewStaticCredentialValidator(cfg.Auth.Users)
	if err != nil {
		logger.Error("failed to parse static users", slog.Any("error", err))
		os.Exit(1)
	}
	if credentials.Len() == 0 {
		logger.Warn("no users configured; login will reject every request")
	}

	translateClient, err := llm.New(llmConfig(cfg, cfg.AI.TranslateModel))
	if err != nil {
		logger.Error("failed to initialize translation model", slog.Any("error", err))
		os.Exit(1)
	}
	answerClient, err := llm.New(llmConfig(cfg, cfg.AI.AnswerModel))
	if err != nil {
		logger.Error("failed to initialize answer model", slog.Any("error", err))
		os.Exit(1)
	}
	translator, err := nl2sql.NewLLMTranslator(translateClient)
	if err != nil {
		logger.Error("failed to initialize query translator", slog.Any("error", err))
		os.Exit(1)
	}
	generator, err := answer.NewLLMGenerator(answerClient)
	if err != nil {
		logger.Error("failed to initialize answer generator", slog.Any("error", err))
		os.Exit(1)
	}

	enforcer, err := guard.NewEnforcer(registry, store.Dialect())
	if err != nil {
		logger.Error("failed to initialize query guard", slog.Any("error", err))
		os.Exit(1)
	}
	executor, err := query.NewExecutor(store.Engine(), registry, files, query.ExecutorConfig{
		RowLimit: cfg.Store.RowLimit,
		Timeout:  cfg.Store.QueryTimeout,
	})
	if err != nil {
		logger.Error("failed to initialize query executor", slog.Any("error", err))
		os.Exit(1)
	}

	auditLog := audit.NewLog(logger, auditCapacity)
	pipeline, err := session.NewPipeline(session.Dependencies{
		Registry:   registry,
		Translator: translator,
		Enforcer:   enforcer,
		Executor:   executor,
		Generator:  generator,
		Audit:      auditLog,
		Logger:     logger,
	}, session.PipelineConfig{
		SampleSize:        cfg.Memory.SampleSize,
		DisplayThreshold:  cfg.Memory.DisplayThreshold,
		NarrateAggregates: cfg.Memory.NarrateAggregates,
		ReportRowLimit:    cfg.Memory.ReportRowLimit,
		HistoryLimit:      cfg.Session.HistoryLimit,
	})
	if err != nil {
		logger.Error("failed to initialize query pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	sessions := session.NewManager(pipeline, cfg.Session.IdleTTL, logger)

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:      logger,
		Credentials: credentials,
		Sessions:    sessions,
		Ingester:    ingest.NewService(registry, store, logger),
		Stats:       store,
		Audit:       auditLog,
		Readiness: api.CombineReadinessChecks(
			api.CheckStore(store),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sessions.Run(ctx, sweepInterval(cfg.Session.IdleTTL))

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("store_backend", string(cfg.Store.Backend)),
			slog.String("ai_provider", cfg.AI.Provider),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// openStore returns the configured incident store. files is non-nil only for
// the lake backend, whose engine reads listed parquet objects.
func openStore(ctx context.Context, cfg config.Config, registry *schema.Registry) (incident.Store, query.FileSource, error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, postgres.DBConfig{
			DSN:             cfg.Store.DSN,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(db, registry), nil, nil
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.Store.SQLitePath, registry)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case config.StoreLake:
		objects, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize object store: %w", err)
		}
		store := lake.NewStore(objects, registry)
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

func llmConfig(cfg config.Config, model string) llm.Config {
	return llm.Config{
		Provider:    llm.Provider(cfg.AI.Provider),
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	}
}

func sweepInterval(idleTTL time.Duration) time.Duration {
	interval := idleTTL / 4
	if interval < 10*time.Second {
		return 10 * time.Second
	}
	if interval > 5*time.Minute {
		return 5 * time.Minute
	}
	return interval
}
