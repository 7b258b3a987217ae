package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/crewtalk-io/crewtalk-api/internal/config"
	"github.com/crewtalk-io/crewtalk-api/internal/database"
	"github.com/crewtalk-io/crewtalk-api/internal/handler"
	"github.com/crewtalk-io/crewtalk-api/internal/middleware"
	"github.com/crewtalk-io/crewtalk-api/internal/models"
	"github.com/crewtalk-io/crewtalk-api/internal/repository"
	"github.com/crewtalk-io/crewtalk-api/internal/router"
	"github.com/crewtalk-io/crewtalk-api/internal/service"
	cloud "github.com/crewtalk-io/crewtalk-api/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.Membership{},
		&models.Message{},
		&models.RoomEvent{},
		&models.ManagerAssignment{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSAddress != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSAddress)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	var uploader service.AvatarUploader
	if cfg.CloudinaryCloudName != "" {
		cloudService, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		uploader = cloudService
	} else {
		logger.Warn().Msg("cloudinary credentials missing, group avatar uploads disabled")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	userRepo := repository.NewUserRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	roomEventRepo := repository.NewRoomEventRepository(db)
	managerRepo := repository.NewManagerRepository(db)

	hub := service.NewHub(logger)
	locks := service.NewRoomLocks()
	dispatcher := service.NewDispatcher(membershipRepo, hub, redisClient, natsConn, cfg.EventChannel, logger)

	presenceService := service.NewPresenceService(userRepo, redisClient, cfg.PresenceTTL, logger)
	messageService := service.NewMessageService(db, roomRepo, messageRepo, roomEventRepo, validate, logger)
	groupService := service.NewGroupService(db, userRepo, roomRepo, membershipRepo, messageRepo, roomEventRepo, uploader, validate, logger)
	rosterService := service.NewRosterService(db, userRepo, roomRepo, membershipRepo, managerRepo, validate, logger)
	sessionService := service.NewChatSessionService(messageService, groupService, presenceService, dispatcher, hub, locks, logger)

	runCtx, stopBridge := context.WithCancel(context.Background())
	defer stopBridge()
	if err := dispatcher.Start(runCtx); err != nil {
		log.Fatalf("failed to start event bridge: %v", err)
	}

	chatHandler := handler.NewChatHandler(sessionService, messageService, groupService, validate, cfg.JWTSecret, logger)
	rosterHandler := handler.NewRosterHandler(rosterService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:   chatHandler,
		RosterHandler: rosterHandler,
		JWTMiddleware: middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
