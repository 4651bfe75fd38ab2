package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/text2sql/text2sql/internal/api"
	"github.com/text2sql/text2sql/internal/auth"
	"github.com/text2sql/text2sql/internal/config"
	"github.com/text2sql/text2sql/internal/nl2sql"
	"github.com/text2sql/text2sql/internal/observability"
	"github.com/text2sql/text2sql/internal/query"
	duckdbengine "github.com/text2sql/text2sql/internal/query/duckdb"
	"github.com/text2sql/text2sql/internal/query/sqldb"
	"github.com/text2sql/text2sql/internal/repair"
	"github.com/text2sql/text2sql/internal/schema"
	s3store "github.com/text2sql/text2sql/internal/storage/s3"
)

// backend is the database questions are answered against.
type backend struct {
	executor query.Executor
	health   api.HealthChecker
	db       *sql.DB
	reload   func(ctx context.Context) error
	close    func() error
}

func main() {
	dotenvErr := godotenv.Load()

	cfg, err := config.LoadFromEnv("text2sql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	if dotenvErr != nil && !errors.Is(dotenvErr, os.ErrNotExist) {
		logger.Warn(".env file could not be loaded", slog.Any("error", dotenvErr))
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStartup()

	db, err := openBackend(startupCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to open database", slog.String("driver", cfg.Database.Driver), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.close() }()

	dialect, err := schema.ParseDialect(cfg.Database.Driver)
	if err != nil {
		logger.Error("unsupported schema dialect", slog.Any("error", err))
		os.Exit(1)
	}
	inspector := schema.NewInspector(db.db, dialect, cfg.Schema.MaxTables, cfg.Schema.SampleRows, logger)
	inspector.Exclude = cfg.Schema.ExcludeTables
	schemaCache := api.NewSchemaCache(inspector, logger)
	schemaCache.BeforeRefresh = db.reload
	if _, err := schemaCache.Get(startupCtx, false); err != nil {
		logger.Warn("initial schema introspection failed", slog.Any("error", err))
	}

	deps := api.Dependencies{
		Logger:            logger,
		Executor:          db.executor,
		Schema:            schemaCache,
		RunTimeout:        cfg.Repair.RunTimeout,
		DependencyTimeout: time.Second,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabase(db.health),
			api.CheckSchemaLoaded(schemaCache),
		),
	}

	llm, err := nl2sql.NewOpenAIClient(nl2sql.OpenAIConfig{
		BaseURL:        cfg.AI.BaseURL,
		APIKey:         cfg.AI.APIKey,
		SQLModel:       cfg.AI.SQLModel,
		DiagnosisModel: cfg.AI.DiagnosisModel,
		FixModel:       cfg.AI.FixModel,
		Dialect:        dialect.Title(),
		Temperature:    cfg.AI.Temperature,
		MaxTokens:      cfg.AI.MaxTokens,
		Timeout:        cfg.AI.Timeout,
	})
	if err != nil {
		logger.Warn("text generation is not configured; /v1/ask is disabled", slog.Any("error", err))
	} else {
		loop, err := repair.New(llm, llm, llm, repair.Config{
			MaxRetry:      cfg.Repair.MaxRetry,
			MaxErrorChars: cfg.Repair.MaxErrorChars,
		}, logger)
		if err != nil {
			logger.Error("failed to build repair loop", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Runner = loop
	}

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("driver", cfg.Database.Driver),
			slog.Int("max_retry", cfg.Repair.MaxRetry),
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

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	if strings.EqualFold(cfg.Database.Driver, "duckdb") {
		return openDuckDB(ctx, cfg, logger)
	}

	db, err := sqldb.Open(ctx, sqldb.DBConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return backend{}, err
	}
	executor := sqldb.NewExecutor(db, cfg.Database.RowLimit, cfg.Database.ReadOnly)
	return backend{executor: executor, health: executor, db: db, close: db.Close}, nil
}

func openDuckDB(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	engineCfg := duckdbengine.Config{
		Path:     cfg.Database.DSN,
		RowLimit: cfg.Database.RowLimit,
		ReadOnly: cfg.Database.ReadOnly,
	}
	if cfg.Dataset.Enabled {
		store, err := s3store.New(ctx, s3store.Config{
			Endpoint:        cfg.Dataset.Endpoint,
			Region:          cfg.Dataset.Region,
			Bucket:          cfg.Dataset.Bucket,
			AccessKeyID:     cfg.Dataset.AccessKeyID,
			SecretAccessKey: cfg.Dataset.SecretAccessKey,
			UseSSL:          cfg.Dataset.UseSSL,
			Prefix:          cfg.Dataset.Prefix,
		})
		if err != nil {
			return backend{}, err
		}
		engineCfg.Datasets = store
	}

	engine, err := duckdbengine.Open(ctx, engineCfg)
	if err != nil {
		return backend{}, err
	}
	if cfg.Dataset.Enabled {
		logger.Info("datasets loaded", slog.String("bucket", cfg.Dataset.Bucket), slog.Any("tables", engine.Tables()))
	}

	b := backend{executor: engine, health: engine, db: engine.DB(), close: engine.Close}
	if cfg.Dataset.Enabled {
		b.reload = engine.LoadDatasets
	}
	return b, nil
}
