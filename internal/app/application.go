package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	webhookhandlers "github.com/coinpay-service/coinpay_service/internal/api/handlers/webhooks"
	"github.com/coinpay-service/coinpay_service/internal/api/routes"
	"github.com/coinpay-service/coinpay_service/internal/domain/services/reconciliation"
	"github.com/coinpay-service/coinpay_service/internal/infrastructure/adapters/circle"
	"github.com/coinpay-service/coinpay_service/internal/infrastructure/config"
	"github.com/coinpay-service/coinpay_service/internal/infrastructure/database"
	"github.com/coinpay-service/coinpay_service/internal/infrastructure/repositories"
	"github.com/coinpay-service/coinpay_service/internal/workers/transaction_monitor"
	"github.com/coinpay-service/coinpay_service/pkg/logger"
	"github.com/coinpay-service/coinpay_service/pkg/metrics"
	"github.com/coinpay-service/coinpay_service/pkg/security"
	"github.com/coinpay-service/coinpay_service/pkg/tracing"
)

// Application represents the main application
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	server *http.Server
	db     *sqlx.DB
	redis  *redis.Client

	scheduler *transaction_monitor.Scheduler

	tracingShutdown func(context.Context) error
}

// NewApplication creates a new application instance
func NewApplication() *Application {
	return &Application{}
}

// Initialize initializes the application
func (app *Application) Initialize() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.cfg = cfg

	log := logger.New(cfg.LogLevel, cfg.Environment)
	app.log = log

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db

	if err := database.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := app.initializeTracing(); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	app.initializeRedis()

	// Domain wiring
	transactionRepo := repositories.NewTransactionRepository(db)
	walletRepo := repositories.NewWalletRepository(db)

	var replayStore security.ReplayStore
	if app.redis != nil {
		replayStore = app.redis
	}
	replay := security.NewWebhookReplayProtection(replayStore, security.DefaultWebhookReplayConfig(), log.Zap())
	reconciliationService := reconciliation.NewService(transactionRepo, replay, log.Zap())

	circleConfig := circle.DefaultConfig()
	circleConfig.BaseURL = cfg.Circle.APIURL
	circleConfig.APIKey = cfg.Circle.APIKey
	circleConfig.AppID = cfg.Circle.AppID
	circleConfig.MaxRetries = cfg.Reconciliation.MaxRetries
	circleConfig.RetryBackoff = cfg.Reconciliation.RetryBackoff
	circleClient := circle.NewClient(circleConfig, log.Zap())

	if err := app.initializeWorker(transactionRepo, walletRepo, circleClient, reconciliationService); err != nil {
		return fmt.Errorf("failed to initialize reconciliation worker: %w", err)
	}

	app.initializeServer(reconciliationService)
	return nil
}

// initializeTracing initializes OpenTelemetry tracing
func (app *Application) initializeTracing() error {
	tracingConfig := tracing.Config{
		Enabled:      app.cfg.Tracing.Enabled,
		CollectorURL: app.cfg.Tracing.CollectorURL,
		Environment:  app.cfg.Environment,
		SampleRate:   getSampleRate(app.cfg.Environment),
	}

	tracingShutdown, err := tracing.InitTracer(context.Background(), tracingConfig, app.log.Zap())
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	app.tracingShutdown = tracingShutdown
	if tracingConfig.Enabled {
		app.log.Info("OpenTelemetry tracing initialized", "collector_url", tracingConfig.CollectorURL)
	}
	return nil
}

// initializeRedis connects the optional dedup store. Without redis the
// webhook path still converges through the conditional status update.
func (app *Application) initializeRedis() {
	if app.cfg.Redis.Addr == "" {
		app.log.Warn("Redis not configured, webhook deduplication disabled")
		return
	}
	app.redis = redis.NewClient(&redis.Options{
		Addr:     app.cfg.Redis.Addr,
		Password: app.cfg.Redis.Password,
		DB:       app.cfg.Redis.DB,
	})
}

// initializeWorker builds and starts the reconciliation scheduler
func (app *Application) initializeWorker(
	transactionRepo *repositories.TransactionRepository,
	walletRepo *repositories.WalletRepository,
	circleClient *circle.Client,
	service *reconciliation.Service,
) error {
	if !app.cfg.Reconciliation.Enabled {
		app.log.Info("Reconciliation worker disabled")
		return nil
	}

	worker := transaction_monitor.NewWorker(
		transactionRepo,
		walletRepo,
		circleClient,
		service,
		transaction_monitor.Config{
			Currencies:        app.cfg.Reconciliation.Currencies,
			MaxTransactionAge: app.cfg.Reconciliation.MaxTransactionAge,
		},
		app.log.Zap(),
	)

	scheduler := transaction_monitor.NewScheduler(worker, app.cfg.Reconciliation.Interval, app.log.Zap())
	if err := scheduler.Start(); err != nil {
		return err
	}
	app.scheduler = scheduler
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer(service *reconciliation.Service) {
	if app.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	circleWebhook := webhookhandlers.NewCircleWebhookHandler(
		service,
		app.log.Zap(),
		app.cfg.Circle.WebhookSecret,
		app.cfg.Circle.SkipWebhookVerification,
	)

	router := routes.SetupRoutes(app.db, circleWebhook)

	app.server = &http.Server{
		Addr:           fmt.Sprintf(":%d", app.cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(app.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(app.cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
}

// Start starts the application
func (app *Application) Start() error {
	go func() {
		app.log.Info("Starting server",
			"port", app.cfg.Server.Port,
			"environment", app.cfg.Environment,
		)

		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.Fatal("Failed to start server", "error", err)
		}
	}()

	go app.startMetricsCollection()

	return nil
}

// startMetricsCollection starts background metrics collection
func (app *Application) startMetricsCollection() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := app.db.Stats()
		metrics.DatabaseConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
		metrics.DatabaseConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
		metrics.DatabaseConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
	}
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.log.Info("Shutting down server...")

	if app.scheduler != nil {
		app.log.Info("Stopping reconciliation scheduler...")
		app.scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.log.Fatal("Server forced to shutdown", "error", err)
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.log.Warn("Error closing redis client", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.log.Warn("Error closing database", "error", err)
	}

	if app.tracingShutdown != nil {
		app.tracingShutdown(context.Background())
	}

	app.log.Info("Server exited gracefully")
	return nil
}

// WaitForShutdown waits for interrupt signal
func (app *Application) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

// getSampleRate returns appropriate sampling rate based on environment
func getSampleRate(env string) float64 {
	switch env {
	case "production":
		return 0.1 // 10% sampling in production
	case "staging":
		return 0.5 // 50% sampling in staging
	default:
		return 1.0 // 100% sampling in development/test
	}
}
