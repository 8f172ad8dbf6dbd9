package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/DevGruGold/suite-sub006/internal/config"
	"github.com/DevGruGold/suite-sub006/internal/handler"
	"github.com/DevGruGold/suite-sub006/internal/handler/middleware"
	"github.com/DevGruGold/suite-sub006/internal/repository/postgres"
	"github.com/DevGruGold/suite-sub006/internal/service"
	"github.com/DevGruGold/suite-sub006/pkg/geoip"
	"github.com/DevGruGold/suite-sub006/pkg/rewards"
	"github.com/DevGruGold/suite-sub006/pkg/validator"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	db, err := initDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database connection: %v", err)
		}
	}()
	log.Println("✓ Database connection established")

	// Initialize Redis client
	redisClient, err := initRedis(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("Error closing Redis connection: %v", err)
		}
	}()
	log.Println("✓ Redis connection established")

	// Initialize validator
	validate := validator.NewValidator()

	// Initialize repositories
	deviceRepo := postgres.NewDeviceRepository(db)
	sessionRepo := postgres.NewSessionRepository(db)
	commandRepo := postgres.NewCommandRepository(db)
	activityRepo := postgres.NewActivityRepository(db)

	// Initialize reward points ledger
	ledger := rewards.NewLedger(redisClient)
	log.Println("✓ Reward ledger initialized")

	// Initialize geolocation client (optional enrichment)
	var geo service.GeoLocator
	if cfg.Geo.Enabled {
		geoClient, err := geoip.NewClient(&geoip.Config{
			BaseURL: cfg.Geo.ServiceURL,
			Timeout: cfg.Geo.Timeout,
		})
		if err != nil {
			log.Printf("Warning: Failed to initialize geolocation client: %v", err)
			log.Println("Location enrichment will be disabled")
		} else {
			geo = geoClient
			log.Printf("✓ Geolocation client initialized - %s", cfg.Geo.ServiceURL)
		}
	} else {
		log.Println("ℹ Geolocation disabled (set GEO_ENABLED=true to enable)")
	}

	// Initialize services
	brokerService := service.NewBrokerService(deviceRepo, sessionRepo, commandRepo, activityRepo, geo, ledger, cfg)
	claimService := service.NewClaimService(deviceRepo, sessionRepo, ledger, cfg)

	// Initialize handlers
	brokerHandler := handler.NewBrokerHandler(brokerService, claimService, validate)
	healthHandler := handler.NewHealthHandler()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Device Broker v1.0",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	// Setup global middlewares
	app.Use(middleware.RecoveryMiddleware())
	app.Use(middleware.LoggerMiddleware())
	app.Use(middleware.CORSMiddleware())

	// Setup routes
	handler.SetupRoutes(app, brokerHandler, healthHandler)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Start server in goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("🚀 Server starting on http://localhost%s", addr)
		log.Printf("📝 Environment: %s", cfg.Server.Environment)
		if err := app.Listen(addr); err != nil {
			// Don't use log.Fatalf in goroutine, send error to main
			log.Printf("❌ Server failed to start: %v", err)
			stop() // Trigger shutdown
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	log.Println("⏳ Shutting down server gracefully...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown server
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("❌ Server forced to shutdown: %v", err)
	}

	log.Println("✓ Server stopped")
}

func initDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func initRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}
