package bootstrap

import (
	"context"
	"sync"

	chclient "costtrend/internal/adapters/clickhouse"
	"costtrend/internal/adapters/config"
	"costtrend/internal/adapters/kafka"
	pgclient "costtrend/internal/adapters/postgres"
	redisclient "costtrend/internal/adapters/redis"
	"costtrend/internal/adapters/upstream"
	"costtrend/internal/api"
	"costtrend/internal/api/health"
	"costtrend/internal/domain/budget"
	"costtrend/internal/domain/cache"
	"costtrend/internal/domain/drift"
	"costtrend/internal/domain/job"
	"costtrend/internal/events"
	"costtrend/internal/jobs"
	chrepo "costtrend/internal/repository/clickhouse"
	"costtrend/internal/services/budgetstatus"
	"costtrend/internal/services/costanalysis"
	driftsvc "costtrend/internal/services/drift"
	trendsvc "costtrend/internal/services/trend"
	"costtrend/internal/workers"
	"costtrend/internal/workers/maintenance"
	"costtrend/pkg/errors"
	"costtrend/pkg/logger"
)

// Container holds all application dependencies and their lifecycle.
// Components are organized in initialization order.
type Container struct {
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	Repos       *Repositories
	Adapters    *Adapters
	Services    *Services
	Application *Application
	Background  *Background

	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups storage implementations
type Repositories struct {
	Consumption *chrepo.ConsumptionRepository
	Budgets     budget.Store
	Estimates   drift.EstimateSource
	Jobs        job.Store
	Cache       cache.Cache
	// Purger is set when the cache lives in process and needs sweeping
	Purger maintenance.Purger
}

// Adapters groups external adapters
type Adapters struct {
	Upstream      *upstream.Source
	KafkaProducer *kafka.Producer
	Events        events.Sink
}

// Services groups the computation services
type Services struct {
	Calculator   *trendsvc.Calculator
	Engine       *budgetstatus.Engine
	Analyzer     *driftsvc.Analyzer
	CostAnalysis *costanalysis.Service
	Jobs         *jobs.Orchestrator
}

// Application groups the HTTP surface
type Application struct {
	HTTPServer    *api.Server
	HealthHandler *health.Handler
}

// Background groups periodic workers
type Background struct {
	WorkerScheduler *workers.Scheduler
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:       &Repositories{},
		Adapters:    &Adapters{},
		Services:    &Services{},
		Application: &Application{},
		Background:  &Background{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in order.
// Panics on any initialization error.
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitServices()
	c.MustInitApplication()
	c.MustInitBackground()
}

// Start starts all background components
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	c.Repos.Consumption.Start(c.Context)

	if err := c.Services.Jobs.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start job orchestrator")
	}

	if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel()
		}
	}()

	c.Log.Info("✓ All systems operational")
	return nil
}

// Shutdown performs graceful shutdown in order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	c.Cancel()

	c.Lifecycle.Shutdown(
		c.WG,
		c.Application.HTTPServer,
		c.Background.WorkerScheduler,
		c.Services.Jobs,
		c.Repos.Consumption,
		c.Adapters.KafkaProducer,
		c.PG,
		c.CH,
		c.Redis,
		c.ErrorTracker,
		c.Log,
	)
}
