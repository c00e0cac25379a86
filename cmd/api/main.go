package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kinetic-apps/automation-platform/setup-service/internal/client"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/config"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/db"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/http"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/repository"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/service"
)

func main() {
	log.Println("Starting Setup Service...")

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Run migrations before opening the pool
	if err := db.Migrate(cfg.Database.DSN()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize database
	database, err := db.New(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	pool := database.Pool

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(pool)
	phoneRepo := repository.NewPhoneRepository(pool)
	proxyRepo := repository.NewProxyRepository(pool)
	credentialRepo := repository.NewCredentialRepository(pool)
	rentalRepo := repository.NewRentalRepository(pool)
	taskRepo := repository.NewTaskRepository(pool)
	logRepo := repository.NewLogRepository(pool)

	// Initialize clients
	phoneClient := client.NewPhoneClient(
		cfg.Phone.BaseURL,
		cfg.Phone.AppID,
		cfg.Phone.APIKey,
	)

	smsClient := client.NewSMSClient(
		cfg.SMS.BaseURL,
		cfg.SMS.APIKey,
		cfg.SMS.ServiceCode,
	)

	// Initialize services
	allocator := service.NewProxyAllocator(proxyRepo, phoneClient, logRepo)
	watcher := service.NewTaskWatcher(phoneClient, accountRepo, taskRepo, logRepo)
	monitor := service.NewLifecycleMonitor(phoneClient, accountRepo, phoneRepo, taskRepo, logRepo)
	supervisor := service.NewSupervisor()

	setupService := service.NewSetupService(
		cfg,
		accountRepo,
		phoneRepo,
		credentialRepo,
		rentalRepo,
		taskRepo,
		logRepo,
		allocator,
		phoneClient,
		smsClient,
		watcher,
		monitor,
		supervisor,
	)

	batchService := service.NewBatchService(setupService, logRepo, cfg.Setup.BatchConcurrency)

	// Initialize HTTP server
	server := http.NewServer(cfg, pool, setupService, batchService, logRepo)

	// Start server in goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("Server starting on %s", addr)
		if err := server.Run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Drain watcher and monitor goroutines before closing the pool
	if err := supervisor.Shutdown(ctx); err != nil {
		log.Printf("Background workers did not drain cleanly: %v", err)
	}

	log.Println("Server exited")
}
