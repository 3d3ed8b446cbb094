package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"lab-competition-system/config"
	"lab-competition-system/handlers"
	"lab-competition-system/logger"
	"lab-competition-system/middleware"
	"lab-competition-system/models"
	"lab-competition-system/services"
	"lab-competition-system/utils"
)

func main() {
	cfg, dotenv, err := config.Load()
	log, logErr := logger.New(os.Getenv("LOG_MODE"))
	if logErr != nil {
		panic(logErr)
	}
	defer log.Sync()
	if !dotenv {
		log.Info("no .env file found, reading environment variables directly")
	}
	if err != nil {
		log.Fatal("invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatal("failed to migrate database", "error", err)
	}

	var notifier services.UpdateNotifier = services.NewLocalUpdateNotifier()
	if cfg.RedisAddr != "" {
		rn, err := services.NewRedisUpdateNotifier(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Fatal("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
		}
		defer rn.Close()
		notifier = rn
	}

	var store services.ObjectStore
	s3Store, err := utils.NewS3Store(ctx, cfg.S3)
	if err != nil {
		log.Fatal("failed to initialize object storage", "error", err)
	}
	if s3Store != nil {
		store = s3Store
	} else {
		log.Info("S3_BUCKET not set, results archive disabled")
	}

	platformAPI := services.NewPlatformHTTP(utils.NewHTTPClient(cfg.Platform.Timeout))
	sessions := services.NewSessionManager(platformAPI, cfg.Platform, log)
	platform := services.NewLabPlatformClient(platformAPI, sessions, log)
	creds := services.NewCredentialClient(utils.NewHTTPClient(cfg.Credentials.Timeout), cfg.Credentials, log)

	comps := services.NewCompetitionService(db, sessions, platform, notifier, log)
	leaderboard := services.NewLeaderboardService(db, log)
	labs := services.NewLabService(db, log)
	kkz := services.NewKkzService(db, comps, log)
	teams := services.NewTeamService(db, sessions, platform, cfg.Platform.StudentRoot, log)
	users := services.NewUserService(db, comps, creds, log)
	archive := services.NewResultsArchive(db, store, leaderboard, log)

	scheduler := services.NewScheduler(db, comps, archive, cfg.TeardownPause, log)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal("failed to start scheduler", "error", err)
	}

	app := handlers.NewApp(log)
	app.Use(cors.New(cors.Config{
		AllowOrigins: config.Origins(cfg.AllowedOrigins),
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID, X-Request-ID",
		MaxAge:       86400,
	}))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	secured := app.Group("/", middleware.APITokenMiddleware(cfg.APIToken, log))
	handlers.SetupParticipantRoutes(secured, comps, leaderboard, notifier, log)
	handlers.SetupAdminRoutes(secured, db, labs, comps, kkz, teams, users, log)

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			log.Error("server error", "error", err)
			stop()
		}
	}()
	log.Info("server running", "addr", cfg.HTTPAddr, "platform", cfg.Platform.URL != "", "origins", config.Origins(cfg.AllowedOrigins))

	<-ctx.Done()
	log.Info("shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn("server shutdown", "error", err)
	}
	if err := scheduler.Shutdown(); err != nil {
		log.Warn("scheduler shutdown", "error", err)
	}
	sessions.Logout(context.Background())
}
