package app

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"brewlytics/aggregator"
	"brewlytics/anomaly"
	"brewlytics/api"
	"brewlytics/cache"
	"brewlytics/config"
	"brewlytics/database"
	"brewlytics/database/forecasts"
	"brewlytics/database/metrics"
	"brewlytics/database/registry"
	reportstore "brewlytics/database/reports"
	"brewlytics/forecast"
	"brewlytics/llm"
	"brewlytics/mailer"
	"brewlytics/reports"
	"brewlytics/scheduler"
)

// App represents the main application
type App struct {
	config *config.Config

	db    *database.Database
	redis *cache.RedisClient

	metricsRepo  *metrics.Repository
	registryRepo *registry.Repository
	forecastRepo *forecasts.Repository
	reportRepo   *reportstore.Repository

	scheduler *scheduler.Scheduler
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{config: cfg}
}

// Start starts the application
func (a *App) Start() error {
	// 1. Database Connection
	fmt.Println("🗄️  Connecting to database...")
	dbPort, err := strconv.Atoi(a.config.DatabasePort)
	if err != nil {
		return fmt.Errorf("invalid database port: %w", err)
	}
	db, err := database.Connect(
		a.config.DatabaseHost,
		dbPort,
		a.config.DatabaseName,
		a.config.DatabaseUser,
		a.config.DatabasePassword,
	)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db
	if err := a.db.InitSchema(); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	// 2. Redis Connection
	fmt.Println("🧠 Connecting to Redis...")
	a.redis = cache.NewRedisClient(
		a.config.RedisHost,
		a.config.RedisPort,
		a.config.RedisPassword,
	)
	var modelCache registry.ActiveModelCache
	var locker scheduler.JobLocker
	if a.redis != nil {
		modelCache = cache.NewModelCache(a.redis)
		locker = a.redis
	} else {
		fmt.Println("⚠️  Redis connection failed. Caching disabled.")
	}

	// 3. Repositories
	gdb := a.db.DB()
	a.metricsRepo = metrics.NewRepository(gdb)
	a.registryRepo = registry.NewRepository(gdb, modelCache)
	a.forecastRepo = forecasts.NewRepository(gdb)
	a.reportRepo = reportstore.NewRepository(gdb)

	// 4. Upstream aggregation
	upstreamClient := aggregator.NewClient(
		a.config.OrdersServiceURL,
		a.config.CatalogServiceURL,
		time.Duration(a.config.UpstreamTimeoutSeconds)*time.Second,
	)
	agg := aggregator.New(upstreamClient, a.metricsRepo)

	// 5. Trainers and detector
	forecastTrainer := forecast.NewTrainer(a.metricsRepo, a.registryRepo)
	anomalyTrainer := anomaly.NewTrainer(a.metricsRepo, a.registryRepo)
	detector := anomaly.NewDetector(a.registryRepo)

	// 6. Reporting pipeline
	var narrator reports.Narrator
	if a.config.LLM.Enabled {
		narrator = llm.NewClient(a.config.LLM.Endpoint, a.config.LLM.APIKey, a.config.LLM.Model)
		log.Printf("✅ LLM report narration ENABLED (Model: %s)", a.config.LLM.Model)
	} else {
		log.Println("ℹ️  LLM report narration DISABLED, using template")
	}
	composer := reports.NewComposer(
		a.metricsRepo, a.forecastRepo, detector, narrator, a.reportRepo,
		a.config.SMTP.Recipients,
	)
	sender := mailer.New(a.config.SMTP)
	distributor := mailer.NewDistributor(a.reportRepo, sender, a.config.MaxSendAttempts)

	// 7. Scheduler
	orch := scheduler.NewOrchestrator(
		*a.config,
		agg,
		composer,
		forecastTrainer,
		anomalyTrainer,
		a.forecastRepo,
		a.metricsRepo,
		distributor,
		locker,
	)
	a.scheduler, err = scheduler.New(orch, a.config.SchedulerTimezone)
	if err != nil {
		return fmt.Errorf("scheduler setup failed: %w", err)
	}
	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}

	// 8. API Server
	apiServer := api.NewServer(
		a.scheduler,
		a.registryRepo,
		a.metricsRepo,
		a.forecastRepo,
		a.reportRepo,
		detector,
		a.config.BranchIDs,
	)
	go func() {
		if err := apiServer.Start(a.config.APIPort); err != nil {
			log.Printf("⚠️  API Server failed: %v", err)
		}
	}()

	// 9. Wait for interrupt and perform graceful shutdown
	return a.gracefulShutdown()
}

// gracefulShutdown waits for an interrupt, stops the scheduler, and closes
// connections. In-flight per-branch work finishes before the process exits.
func (a *App) gracefulShutdown() error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	<-interrupt
	fmt.Println("\n🛑 Shutdown signal received, initiating graceful shutdown...")

	done := make(chan struct{})
	go func() {
		if a.scheduler != nil {
			fmt.Println("📊 Stopping scheduler...")
			a.scheduler.Stop()
		}
		if a.redis != nil {
			a.redis.Close()
		}
		if a.db != nil {
			a.db.Close()
		}
		close(done)
	}()

	select {
	case <-done:
		fmt.Println("✅ Graceful shutdown complete")
	case <-time.After(30 * time.Second):
		fmt.Println("⚠️  Shutdown timed out, forcing exit")
	}
	return nil
}
