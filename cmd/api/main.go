package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	_ "github.com/joho/godotenv/autoload"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/sjperalta/fintera-invoicing/docs" // Swagger docs
	"github.com/sjperalta/fintera-invoicing/internal/config"
	"github.com/sjperalta/fintera-invoicing/internal/database"
	"github.com/sjperalta/fintera-invoicing/internal/exportgate"
	"github.com/sjperalta/fintera-invoicing/internal/handlers"
	"github.com/sjperalta/fintera-invoicing/internal/jobs"
	"github.com/sjperalta/fintera-invoicing/internal/ledger"
	"github.com/sjperalta/fintera-invoicing/internal/middleware"
	"github.com/sjperalta/fintera-invoicing/internal/policy"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/sjperalta/fintera-invoicing/internal/services"
	"github.com/sjperalta/fintera-invoicing/internal/storage"
	"github.com/sjperalta/fintera-invoicing/pkg/logger"

	"github.com/gin-gonic/gin"
)

// @title Fintera Invoicing API
// @version 1.0
// @description Derives invoices from contracts and work events, routes exceptions to reviewers, gates approval and keeps a hash-chained audit ledger.

// @contact.name API Support
// @contact.email support@fintera.app

// @host localhost:8080
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Setup(cfg.Environment, cfg.LogLevel)

	// Initialize Sentry (GlitchTip) when DSN is configured
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
		}); err != nil {
			logger.Error("Sentry initialization failed", "error", err)
		} else {
			logger.Info("Sentry initialized")
		}
	}

	if cfg.ResendAPIKey == "" || cfg.FromEmail == "" {
		logger.Warn("Resend email disabled: RESEND_API_KEY or FROM_EMAIL not set. Reviewers will not be notified of assignments.")
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL, cfg.Environment)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		logger.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to database")

	// Routing and derivation policy
	p, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		logger.Error("Failed to load policy", "file", cfg.PolicyFile, "error", err)
		os.Exit(1)
	}
	logger.Info("Loaded policy", "threshold", p.ConfidenceThreshold, "sensitive_categories", p.SensitiveCategories)

	// Initialize storage
	store, err := storage.NewLocalStorage(cfg.StoragePath)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	logger.Info("Initialized local storage")

	signer, err := ledger.NewHMACSigner(cfg.AuditSigningKey)
	if err != nil {
		logger.Error("Failed to initialize audit signer", "error", err)
		os.Exit(1)
	}

	if cfg.ExportGateURL == "" {
		logger.Warn("EXPORT_GATE_URL not set, pushing invoices to the sandbox gate")
	}
	gate := exportgate.New(cfg.ExportGateURL, cfg.ExportGateToken)

	// Initialize repositories
	repos := repository.NewRepositories(db)

	// Initialize background worker
	worker := jobs.NewWorker(cfg.WorkerCount)
	logger.Info("Started background worker", "goroutines", cfg.WorkerCount)

	// Initialize services
	svcs := services.NewServices(repos, worker, store, cfg, p, gate, signer)

	if err := svcs.User.EnsureAdmin(context.Background(), cfg.AdminEmail, cfg.AdminPassword); err != nil {
		logger.Error("Failed to create bootstrap admin", "error", err)
		os.Exit(1)
	}

	// Schedule recurring jobs
	scheduleJobs(worker, svcs, cfg)

	// Initialize handlers
	h := handlers.NewHandlers(svcs)

	// Setup router
	router := setupRouter(h, cfg)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15*time.Second + cfg.PushTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Shutdown background worker
	worker.Shutdown()
	logger.Info("Background worker stopped")

	// Flush Sentry events before exit
	if cfg.SentryDSN != "" {
		sentry.Flush(5 * time.Second)
	}

	logger.Info("Server exited gracefully")
}

func setupRouter(h *handlers.Handlers, cfg *config.Config) *gin.Engine {
	router := gin.New()

	// Global middleware
	if cfg.SentryDSN != "" {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// Redirect root to swagger
	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	handlers.RegisterRoutes(router, h, cfg.JWTSecret)

	return router
}

func scheduleJobs(worker *jobs.Worker, svcs *services.Services, cfg *config.Config) {
	// Re-push approved invoices whose last attempt failed and whose backoff elapsed
	worker.ScheduleEvery("push_retry", cfg.PushRetryInterval, func(ctx context.Context) error {
		pushed, err := svcs.Push.RetryFailed(ctx)
		if pushed > 0 {
			logger.Info("[Job] Retried failed pushes", "pushed", pushed)
		}
		return err
	})

	// Verify every audit lineage and hold the ones that no longer verify
	worker.ScheduleEveryImmediate("integrity_sweep", cfg.IntegritySweepInterval, func(ctx context.Context) error {
		broken, err := svcs.Audit.Sweep(ctx)
		if err != nil {
			return err
		}
		for _, lineageID := range broken {
			sentry.CaptureMessage("audit chain broken: " + lineageID)
		}
		return nil
	})

	logger.Info("Scheduled recurring jobs")
}
