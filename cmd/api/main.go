package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-compass/internal/config"
	"github.com/noah-isme/gema-compass/internal/database"
	"github.com/noah-isme/gema-compass/internal/handler"
	"github.com/noah-isme/gema-compass/internal/middleware"
	"github.com/noah-isme/gema-compass/internal/repository"
	"github.com/noah-isme/gema-compass/internal/router"
	"github.com/noah-isme/gema-compass/internal/service"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "gema-compass").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis not configured, assessment events stay local")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Drain()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	submissionRepo := repository.NewModelingSubmissionRepository(db)
	resultRepo := repository.NewModelingResultRepository(db)
	conflictRepo := repository.NewConflictRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	activityService := service.NewActivityService(activityRepo, validate, logger)
	events := service.NewCompassEventPublisher(redisClient, natsConn, cfg.Compass.EventChannel, logger)
	compassService := service.NewCompassService(
		submissionRepo,
		resultRepo,
		conflictRepo,
		events,
		activityService,
		validate,
		service.CompassSettings{
			EqualityThreshold: cfg.Compass.EqualityThreshold,
			WaitingListSize:   cfg.Compass.WaitingListSize,
			ConflictTolerance: cfg.Compass.ConflictTolerance,
			Retention:         cfg.Compass.Retention,
			EvictionInterval:  cfg.Compass.EvictionInterval,
		},
		logger,
	)
	conflictService := service.NewConflictService(conflictRepo, activityService, logger)

	compassService.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    8 << 20,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, CORSOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		CompassHandler:  handler.NewCompassHandler(compassService, cfg.Compass.AssessRateLimit, logger),
		ConflictHandler: handler.NewConflictHandler(conflictService, logger),
		ActivityHandler: handler.NewActivityHandler(activityService, logger),
		Engines:         compassService,
		JWTMiddleware:   middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	shutdown(app, logger)
}

func shutdown(app *fiber.App, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
