package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinfolio-go/internal/config"
	"coinfolio-go/internal/database"
	"coinfolio-go/internal/engine"
	"coinfolio-go/internal/logger"
	"coinfolio-go/internal/pricing"
	"coinfolio-go/internal/tracker"

	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// The stable/fiat allowlist is configuration, shared by the engine and
	// the price client.
	stable := engine.NewStableSet(cfg.Accounting.StableTickers...)
	prices := pricing.NewClient(&cfg.Pricing, stable, log.Named("pricing"))

	svc := tracker.NewService(db, prices, stable, log.Named("tracker"))
	handler := NewAPIHandler(log.Named("api"), svc)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: handler.Routes(),
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	go func() {
		log.Info("Starting web server", zap.String("address", addr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal("Web server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	log.Info("Server has been shut down.")
}
