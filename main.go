package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"competition-lifecycle/config"
	"competition-lifecycle/handlers"
	"competition-lifecycle/middleware"
	"competition-lifecycle/services"
	"competition-lifecycle/utils"
	"competition-lifecycle/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type competitionBackend interface {
	services.CompetitionStore
	services.SettingsStore
}

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	logger := utils.NewLogger(cfg.LogLevel, "competition-lifecycle")
	if envErr != nil {
		logger.Warn("⚠️ no .env file found, reading environment variables directly")
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	loc, err := utils.LoadTimezone(cfg.Lifecycle.Timezone)
	if err != nil {
		logger.Error("invalid competition timezone", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open competition store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}

	metrics := services.NewMetrics()
	scheduler, err := services.NewJobScheduler(clockwork.NewRealClock(), logger, metrics)
	if err != nil {
		logger.Error("failed to create job scheduler", "error", err)
		os.Exit(1)
	}

	tracker, err := services.NewWiseOldManClient(services.WiseOldManOptions{
		BaseURL:       cfg.Tracker.BaseURL,
		APIKey:        cfg.Tracker.APIKey,
		Timeout:       cfg.Tracker.Timeout,
		RetryAttempts: cfg.Tracker.RetryAttempts,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("failed to create tracker client", "error", err)
		os.Exit(1)
	}
	chat, err := services.NewChatGatewayClient(services.ChatGatewayOptions{
		BaseURL:       cfg.Chat.BaseURL,
		Token:         cfg.Chat.Token,
		Timeout:       cfg.Chat.Timeout,
		RetryAttempts: cfg.Chat.RetryAttempts,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("failed to create chat gateway client", "error", err)
		os.Exit(1)
	}

	deps := services.CompetitionServiceDeps{
		Store:     store,
		Settings:  store,
		Tracker:   tracker,
		Votes:     chat,
		Announcer: chat,
		Scheduler: scheduler,
		Logger:    logger,
		Metrics:   metrics,
	}
	if cfg.Archive.Enabled {
		r2, err := utils.NewR2Client(ctx, utils.R2Config{
			AccountID:       cfg.Archive.AccountID,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			AccessKeySecret: cfg.Archive.AccessKeySecret,
			Bucket:          cfg.Archive.Bucket,
			PublicBaseURL:   cfg.Archive.PublicBaseURL,
			Endpoint:        cfg.Archive.Endpoint,
		})
		if err != nil {
			logger.Error("failed to initialize R2 client", "error", err)
			os.Exit(1)
		}
		deps.Archive = services.NewObjectResultsArchive(r2, "", logger)
	}

	svc, err := services.NewCompetitionService(deps, services.LifecycleOptions{
		Location:              loc,
		DefaultStartingHour:   cfg.Lifecycle.DefaultStartingHour,
		CompetitionLength:     cfg.Lifecycle.CompetitionLength,
		DefaultDaysAfterPoll:  cfg.Lifecycle.DefaultDaysAfterPoll,
		DefaultTiebreakerDays: cfg.Lifecycle.DefaultTiebreakerDays,
		MaxTiebreakerRounds:   cfg.Lifecycle.MaxTiebreakerRounds,
		RecentMetricWindow:    cfg.Lifecycle.RecentMetricWindow,
		PollOptionCount:       cfg.Lifecycle.PollOptionCount,
		TrackerPageURL:        cfg.Tracker.PageURL,
		Participants:          cfg.Tracker.Participants,
	})
	if err != nil {
		logger.Error("failed to create competition service", "error", err)
		os.Exit(1)
	}

	// Reconcile and arm every timer before the scheduler starts dispatching.
	report, err := svc.RescheduleAll(ctx)
	if err != nil {
		logger.Error("startup catch-up pass failed", "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	go workers.WatchCompetitions(ctx, svc, cfg.Lifecycle.PollWatchInterval, logger)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		Immutable:             true,
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-Service-Token",
		MaxAge:       86400,
	}))
	handlers.SetupOpsRoutes(app, metrics.Registry)
	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken, logger))
	handlers.SetupCompetitionRoutes(app, handlers.NewCompetitionHandler(svc, scheduler, logger))

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	logger.Info("✅ competition lifecycle running",
		"port", cfg.Port,
		"store", cfg.StoreDriver,
		"timezone", loc.String(),
		"jobs_armed", report.JobsArmed,
		"results_archive", cfg.Archive.Enabled)

	<-ctx.Done()
	logger.Info("shutting down")
	shutdown(app, scheduler, logger)
}

func openStore(cfg config.Config) (competitionBackend, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		return services.NewMemoryStore(), nil
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	store := services.NewGormCompetitionStore(db)
	if err := store.AutoMigrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func shutdown(app *fiber.App, scheduler *services.JobScheduler, logger *slog.Logger) {
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := scheduler.Shutdown(); err != nil {
		logger.Warn("scheduler shutdown", "error", err)
	}
}
