package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ikkeifujio/WakeOrPay/internal/auth"
	"github.com/ikkeifujio/WakeOrPay/internal/config"
	"github.com/ikkeifujio/WakeOrPay/internal/db"
	httphandler "github.com/ikkeifujio/WakeOrPay/internal/http"
	"github.com/ikkeifujio/WakeOrPay/internal/http/handlers"
	"github.com/ikkeifujio/WakeOrPay/internal/relay"
	"github.com/ikkeifujio/WakeOrPay/internal/repo"
)

func main() {
	// Load .env from CWD so it works in local deployments (env vars override)
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create context for startup operations
	ctx := context.Background()

	// Open database connection
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := db.Migrate(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repository and SMS sender
	registrationRepo := repo.NewRegistrationRepo(database)

	var sender relay.Sender
	if cfg.DevMode {
		log.Println("DEV_MODE: SMS sends are logged, not delivered")
		sender = relay.LogSender{}
	} else {
		sender = relay.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	}

	// Initialize handlers
	tokens := auth.NewTokenService(cfg.RelaySecret)
	webhookHandler := handlers.NewWebhookHandler(registrationRepo, sender)

	// Create router
	router := httphandler.NewRouter(webhookHandler, tokens)

	// Start the deadline sweeper
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	sweeper := relay.NewSweeper(registrationRepo, sender, cfg.SweepInterval, cfg.SMSRetryAfter)
	go sweeper.Run(sweepCtx)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Relay starting on port %s (sweep every %v)", cfg.Port, cfg.SweepInterval)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down relay...")
	stopSweeper()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Relay exited")
}
