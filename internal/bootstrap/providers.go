package bootstrap

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	chclient "costtrend/internal/adapters/clickhouse"
	"costtrend/internal/adapters/config"
	errnoop "costtrend/internal/adapters/errors/noop"
	"costtrend/internal/adapters/errors/sentry"
	"costtrend/internal/adapters/kafka"
	pgclient "costtrend/internal/adapters/postgres"
	redisclient "costtrend/internal/adapters/redis"
	"costtrend/internal/adapters/upstream"
	"costtrend/internal/api"
	"costtrend/internal/api/health"
	"costtrend/internal/events"
	"costtrend/internal/jobs"
	"costtrend/internal/metrics"
	chrepo "costtrend/internal/repository/clickhouse"
	"costtrend/internal/repository/memory"
	pgrepo "costtrend/internal/repository/postgres"
	redisrepo "costtrend/internal/repository/redis"
	"costtrend/internal/services/budgetstatus"
	"costtrend/internal/services/costanalysis"
	driftsvc "costtrend/internal/services/drift"
	trendsvc "costtrend/internal/services/trend"
	"costtrend/internal/workers"
	"costtrend/internal/workers/maintenance"
	"costtrend/pkg/errors"
	"costtrend/pkg/logger"
)

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg
	if cfg.HTTP.ShutdownTimeout > 0 {
		c.Lifecycle.httpTimeout = cfg.HTTP.ShutdownTimeout
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure connects data stores and ensures their schemas
func (c *Container) MustInitInfrastructure() {
	var err error

	c.Log.Info("Connecting to PostgreSQL...")
	c.PG, err = pgclient.NewClient(c.Context, c.Config.Postgres)
	if err != nil {
		c.Log.Fatalf("failed to connect postgres: %v", err)
	}
	if err := pgrepo.EnsureSchema(c.Context, c.PG.DB()); err != nil {
		c.Log.Fatalf("failed to ensure postgres schema: %v", err)
	}
	c.Log.Info("✓ PostgreSQL connected")

	c.Log.Info("Connecting to ClickHouse...")
	c.CH, err = chclient.NewClient(c.Context, c.Config.ClickHouse)
	if err != nil {
		c.Log.Fatalf("failed to connect clickhouse: %v", err)
	}
	c.Log.Info("✓ ClickHouse connected")

	c.Log.Info("Connecting to Redis...")
	c.Redis, err = redisclient.NewClient(c.Context, c.Config.Redis)
	if err != nil {
		c.Log.Fatalf("failed to connect redis: %v", err)
	}
	c.Log.Info("✓ Redis connected")
}

// ========================================
// Phase 3: Repositories
// ========================================

// MustInitRepositories initializes storage for consumption, budgets, estimates, jobs and cache
func (c *Container) MustInitRepositories() {
	c.Repos.Consumption = chrepo.NewConsumptionRepository(c.CH.Conn(), c.Config.Upstream.PageSize, c.Log)
	if err := c.Repos.Consumption.EnsureSchema(c.Context); err != nil {
		c.Log.Fatalf("failed to ensure clickhouse schema: %v", err)
	}

	c.Repos.Budgets = pgrepo.NewBudgetRepository(c.PG.DB())
	c.Repos.Estimates = pgrepo.NewEstimateRepository(c.PG.DB())

	switch c.Config.Cache.Backend {
	case "memory":
		mc := memory.NewCache(nil)
		c.Repos.Cache = mc
		c.Repos.Purger = mc
	default:
		c.Repos.Cache = redisrepo.NewCache(c.Redis.Client(), c.Config.Cache.KeyPrefix)
	}

	switch c.Config.Jobs.Store {
	case "redis":
		c.Repos.Jobs = redisrepo.NewJobStore(c.Redis.Client(), c.Config.Cache.KeyPrefix, c.Config.Jobs.Retention)
	default:
		c.Repos.Jobs = memory.NewJobStore()
	}

	c.Log.Infow("✓ Repositories initialized",
		"cache", c.Config.Cache.Backend,
		"jobs", c.Config.Jobs.Store,
	)
}

// ========================================
// Phase 4: External Adapters
// ========================================

// MustInitAdapters wraps the consumption provider and sets up event publishing
func (c *Container) MustInitAdapters() {
	c.Adapters.Upstream = upstream.NewSource("clickhouse", c.Repos.Consumption, c.Config.Upstream, c.Log)

	if len(c.Config.Kafka.Brokers) == 0 {
		c.Log.Info("Kafka brokers not configured, job events disabled")
		c.Adapters.Events = events.NopSink{}
		return
	}

	topic := c.Config.Kafka.JobTopic
	if topic == "" {
		topic = kafka.DefaultJobTopic
	}
	c.Adapters.KafkaProducer = provideKafkaProducer(c.Config, c.Log)
	c.Adapters.Events = events.NewPublisher(c.Adapters.KafkaProducer, topic, c.Log)
}

// ========================================
// Phase 5: Services
// ========================================

// MustInitServices builds the calculators, the facade and the job orchestrator
func (c *Container) MustInitServices() {
	c.Services.Calculator = trendsvc.NewCalculator(trendsvc.Config{
		Epsilon:      c.Config.Trend.StableEpsilon,
		MaxProjected: c.Config.Trend.MaxProjected,
	}, nil, c.Log)
	c.Services.Engine = budgetstatus.NewEngine(nil, c.Log)
	c.Services.Analyzer = driftsvc.NewAnalyzer(c.Log)

	c.Services.CostAnalysis = costanalysis.NewService(costanalysis.Config{
		CacheTTL:        c.Config.Cache.TTL,
		DefaultCurrency: c.Config.Trend.DefaultCurrency,
		DriftThreshold:  c.Config.Trend.DriftThreshold,
		MaxWindowMonths: c.Config.Trend.MaxWindowMonths,
	}, costanalysis.Deps{
		Source:     c.Adapters.Upstream,
		Budgets:    c.Repos.Budgets,
		Estimates:  c.Repos.Estimates,
		Cache:      c.Repos.Cache,
		Calculator: c.Services.Calculator,
		Engine:     c.Services.Engine,
		Analyzer:   c.Services.Analyzer,
	}, c.Log)

	c.Services.Jobs = jobs.NewOrchestrator(jobs.Config{
		Workers:   c.Config.Jobs.Workers,
		QueueSize: c.Config.Jobs.QueueSize,
		Timeout:   c.Config.Jobs.Timeout,
		CacheTTL:  c.Config.Cache.TTL,
	}, c.Repos.Jobs, c.Repos.Cache, c.Services.CostAnalysis.RunTrend, c.Adapters.Events, nil, c.Log)
	c.Services.CostAnalysis.UseJobs(c.Services.Jobs)

	c.Log.Info("✓ Services initialized")
}

// ========================================
// Phase 6: Application Layer
// ========================================

// MustInitApplication wires probes, metrics and the HTTP server
func (c *Container) MustInitApplication() {
	c.Application.HealthHandler = provideHealthHandler(c)

	c.Application.HTTPServer = api.NewServer(api.ServerConfig{
		Addr:        c.Config.HTTP.Addr,
		ServiceName: c.Config.App.Name,
		Version:     c.Config.App.Version,
	}, c.Application.HealthHandler, c.Log)

	metrics.Init()
	metrics.RegisterCustomCollector(metrics.NewCustomCollector(c.Log, c.PG.DB(), c.CH.Conn()))
	c.Log.Info("✓ Metrics initialized")

	c.Log.Info("✓ Application layer initialized")
}

// ========================================
// Phase 7: Background Processing
// ========================================

// MustInitBackground registers periodic maintenance workers
func (c *Container) MustInitBackground() {
	c.Background.WorkerScheduler = workers.NewScheduler(c.Log)

	c.Background.WorkerScheduler.RegisterWorker(maintenance.NewJobReaper(
		c.Repos.Jobs,
		c.Repos.Purger,
		maintenance.ReaperConfig{
			Retention:  c.Config.Jobs.Retention,
			StaleAfter: c.Config.Jobs.StaleThreshold(),
			Interval:   reapInterval(c.Config.Jobs.ReapInterval),
		},
		nil,
		c.Log,
	))

	c.Application.HealthHandler.Register("workers", c.Background.WorkerScheduler.Check(3))

	c.Log.Info("✓ Background processing initialized")
}

// ========================================
// Helper Provider Functions
// ========================================

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("✓ Error tracking initialized (Sentry)")
	return tracker
}

func provideKafkaProducer(cfg *config.Config, log *logger.Logger) *kafka.Producer {
	producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers}, log)
	log.Infow("✓ Kafka producer initialized", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.JobTopic)
	return producer
}

func provideHealthHandler(c *Container) *health.Handler {
	h := health.New(c.Log, c.Config.App.Name, c.Config.App.Version)
	h.Register("postgres", c.PG.Health)
	h.Register("clickhouse", c.CH.Health)
	h.Register("redis", c.Redis.Health)

	source := c.Adapters.Upstream
	h.Register("upstream", func(ctx context.Context) error {
		if source.State() == gobreaker.StateOpen {
			return errors.Wrap(errors.ErrUpstreamUnavailable, "circuit breaker open")
		}
		return nil
	})
	return h
}

// reapInterval falls back to one minute when unset
func reapInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Minute
	}
	return d
}
