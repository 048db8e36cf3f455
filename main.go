package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/datapulse-io/datapulse-engine/pkg/auth"
	"github.com/datapulse-io/datapulse-engine/pkg/config"
	"github.com/datapulse-io/datapulse-engine/pkg/database"
	"github.com/datapulse-io/datapulse-engine/pkg/handlers"
	"github.com/datapulse-io/datapulse-engine/pkg/llm"
	"github.com/datapulse-io/datapulse-engine/pkg/logging"
	"github.com/datapulse-io/datapulse-engine/pkg/notify"
	"github.com/datapulse-io/datapulse-engine/pkg/repositories"
	"github.com/datapulse-io/datapulse-engine/pkg/services"
	"github.com/datapulse-io/datapulse-engine/pkg/storage"
	"github.com/datapulse-io/datapulse-engine/pkg/workqueue"
	"github.com/datapulse-io/datapulse-engine/pkg/ws"

	"go.uber.org/zap"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Configuration loaded:")
	log.Printf("  Environment: %s", cfg.Env)
	log.Printf("  Database: %s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	log.Printf("  Scheduler tick: %ds", cfg.Scheduler.TickSeconds)

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, cfg.Database.ConnectionString(), cfg.Database.MaxConnections)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	rdb, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	hub := ws.NewHub(rdb, logger)
	go hub.Run(ctx)

	blobs, err := newBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize blob storage", zap.Error(err))
	}

	var summarizer llm.Summarizer
	if cfg.Insight.IsAvailable() {
		client, err := llm.NewClient(&llm.Config{
			BaseURL: cfg.Insight.BaseURL,
			Model:   cfg.Insight.Model,
			APIKey:  cfg.Insight.APIKey,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create summarizer client", zap.Error(err))
		}
		summarizer = client
	}

	var mailer notify.Mailer
	if cfg.SMTP.IsAvailable() {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, logger)
	}

	workspaceRepo := repositories.NewWorkspaceRepository()
	uploadRepo := repositories.NewUploadRepository()
	alertRuleRepo := repositories.NewAlertRuleRepository()
	notificationRepo := repositories.NewNotificationRepository()
	userRepo := repositories.NewUserRepository()

	dispatcher := services.NewDispatcher(hub, notificationRepo, mailer, logger)
	guard := services.NewPollerGuard(workspaceRepo, hub, logger)
	apiFetcher := services.NewAPIFetcher(uploadRepo, cfg.Fetch, logger)
	dbFetcher := services.NewDBFetcher(uploadRepo, cfg.Fetch, logger)
	analyzer := services.NewAnalyzer(uploadRepo, workspaceRepo, userRepo, dispatcher, summarizer, cfg.Fetch.MaxRows, logger)
	alertEngine := services.NewAlertEngine(alertRuleRepo, notificationRepo, workspaceRepo, userRepo, dispatcher, logger)
	pollService := services.NewPollService(workspaceRepo, uploadRepo, apiFetcher, dbFetcher, guard, analyzer, alertEngine, hub,
		cfg.Fetch.MaxUploadsPerWorkspace, logger)
	workspaceService := services.NewWorkspaceService(workspaceRepo, userRepo, logger)
	uploadService := services.NewUploadService(uploadRepo, workspaceRepo, blobs, analyzer, alertEngine, hub,
		cfg.Fetch, cfg.Storage.SignedURLTTL(), logger)
	alertRuleService := services.NewAlertRuleService(alertRuleRepo, workspaceRepo, logger)
	notificationService := services.NewNotificationService(notificationRepo, logger)

	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewThrottledStrategy(cfg.Scheduler.MaxConcurrentFetches)))

	scopes := database.NewScopeProvider(db)
	scheduler := services.NewScheduler(db, scopes, workspaceRepo, pollService, queue, cfg.Scheduler, logger)
	go scheduler.Run(ctx)

	authService := auth.NewAuthService(cfg.Auth.Secret)
	authMiddleware := auth.NewMiddleware(authService, logger)
	scoped := handlers.Middleware(database.WithWorkspaceContext(db, logger))
	global := handlers.Middleware(database.WithGlobalContext(db, logger))

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg.Version, db, logger).RegisterRoutes(mux)
	handlers.NewWorkspaceHandler(workspaceService, pollService, logger).RegisterRoutes(mux, authMiddleware, global, scoped)
	handlers.NewUploadHandler(uploadService, logger).RegisterRoutes(mux, authMiddleware, scoped)
	handlers.NewAlertRuleHandler(alertRuleService, logger).RegisterRoutes(mux, authMiddleware, scoped)
	handlers.NewNotificationHandler(notificationService, logger).RegisterRoutes(mux, authMiddleware, global)
	handlers.NewWSHandler(hub, workspaceService, logger).RegisterRoutes(mux, authMiddleware, scoped)

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		logger.Info("Starting datapulse-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Error("Queue shutdown incomplete", zap.Error(err))
	}
}

// runMigrations applies pending schema migrations over a short-lived
// database/sql connection.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger)
}

func newBlobStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.BlobStore, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("No storage bucket configured, keeping raw uploads on rows only")
		return storage.NewMemoryStore(), nil
	}
	logger.Info("Using GCS blob storage", zap.String("bucket", cfg.Storage.Bucket))
	return storage.NewGCSStore(ctx, cfg.Storage.Bucket)
}
