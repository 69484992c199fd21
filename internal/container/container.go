// Package container provides dependency injection.
package container

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/finopsmind/backend/internal/classifier"
	"github.com/finopsmind/backend/internal/config"
	"github.com/finopsmind/backend/internal/crypto"
	"github.com/finopsmind/backend/internal/executor"
	"github.com/finopsmind/backend/internal/llmgateway"
	"github.com/finopsmind/backend/internal/pipeline"
	"github.com/finopsmind/backend/internal/repository"
	"github.com/finopsmind/backend/internal/scheduler"
	"github.com/finopsmind/backend/internal/webhook"
)

// Container holds all application dependencies.
type Container struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB

	endpointRepo repository.EndpointRepository
	runRepo      repository.RunRepository

	executor   *executor.Executor
	gateway    *llmgateway.Gateway
	classifier *classifier.Classifier
	dispatcher *webhook.Dispatcher

	orchestrator *pipeline.Orchestrator
	scheduler    *scheduler.Scheduler
}

// New creates a new dependency container.
func New(cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{
		cfg:    cfg,
		logger: logger,
	}

	db, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c.db = db
	logger.Info("database connected", "host", cfg.Database.Host, "database", cfg.Database.Name)

	c.endpointRepo = repository.NewPostgresEndpointRepository(db, crypto.DeriveKey(cfg.Crypto.EncryptionKey))
	c.runRepo = repository.NewPostgresRunRepository(db)

	c.executor = executor.New(executor.DefaultConfig())

	c.gateway = llmgateway.New(llmgateway.Config{
		APIKey:  cfg.Gateway.APIKey,
		BaseURL: cfg.Gateway.BaseURL,
		Model:   cfg.Gateway.Model,
		Timeout: cfg.Gateway.Timeout,
	})
	logger.Info("llm gateway configured", "model", cfg.Gateway.Model, "available", c.gateway.Available())

	c.classifier = classifier.New(c.gateway)

	webhookCfg := webhook.DefaultConfig()
	webhookCfg.MinRiskLevel = cfg.Webhook.MinRiskLevel
	webhookCfg.RequestTimeout = cfg.Webhook.Timeout
	if cfg.Webhook.Enabled {
		webhookCfg.URL = cfg.Webhook.URL
	}
	c.dispatcher = webhook.New(webhookCfg, logger)

	c.orchestrator = pipeline.New(c.endpointRepo, c.runRepo, c.executor, c.classifier, c.dispatcher)

	c.scheduler = scheduler.New(scheduler.Config{
		Enabled:       cfg.Scheduler.Enabled,
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
	}, c.endpointRepo, c.orchestrator, logger)

	return c, nil
}

// Start starts the pooled clients and the scheduler, then performs an
// initial job sync.
func (c *Container) Start(ctx context.Context) error {
	c.executor.Start()
	c.gateway.Start()
	c.dispatcher.Start()

	c.scheduler.Start()

	if c.cfg.Scheduler.Enabled {
		result, err := c.scheduler.SyncJobs(ctx)
		if err != nil {
			c.logger.Error("initial job sync failed", "error", err)
		} else {
			c.logger.Info("initial job sync complete", "added", result.Added, "total", result.Total)
		}
	}

	return nil
}

// Stop gracefully stops all components.
func (c *Container) Stop(ctx context.Context) error {
	c.logger.Info("stopping container components")

	c.scheduler.StopGraceful(ctx)

	c.dispatcher.Stop()
	c.gateway.Stop()
	c.executor.Stop()

	if c.db != nil {
		c.db.Close()
	}

	return nil
}

// Accessors

func (c *Container) Config() *config.Config                       { return c.cfg }
func (c *Container) Logger() *slog.Logger                          { return c.logger }
func (c *Container) DB() *sql.DB                                   { return c.db }
func (c *Container) EndpointRepository() repository.EndpointRepository { return c.endpointRepo }
func (c *Container) RunRepository() repository.RunRepository        { return c.runRepo }
func (c *Container) Orchestrator() *pipeline.Orchestrator            { return c.orchestrator }
func (c *Container) Scheduler() *scheduler.Scheduler                 { return c.scheduler }
func (c *Container) Gateway() *llmgateway.Gateway                    { return c.gateway }
