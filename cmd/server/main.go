package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vesabooks/printapi/internal/api"
	"github.com/vesabooks/printapi/internal/config"
	"github.com/vesabooks/printapi/internal/fulfiller"
	"github.com/vesabooks/printapi/internal/payment"
	"github.com/vesabooks/printapi/internal/repository/postgres"
	"github.com/vesabooks/printapi/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	var logger *zap.Logger
	if cfg.Environment == "production" {
		logger, _ = zap.NewProduction()
	} else {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	logger.Info("Starting print fulfillment API server",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
	)

	// Initialize database
	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize repositories and collaborators
	repos := postgres.NewRepositories(db, logger)
	fulfillerClient := fulfiller.NewClient(cfg.Fulfiller, logger)
	charger := payment.NewClient(cfg.Payment, logger)

	reconciler := service.NewReconciler(repos, charger, fulfillerClient, logger)
	submitter := service.NewSubmitter(repos, fulfillerClient, service.URLAssetRenderer{}, cfg.Fulfiller, logger)

	// Initialize router
	router := api.NewRouter(cfg, repos, submitter, reconciler, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Reconciliation sweep: polls the fulfiller for print orders stuck
	// waiting on a callback that never arrived. Runs on startup, then on the
	// configured interval.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go service.RunReconciliationSweepLoop(sweepCtx, cfg.Sweep, repos, reconciler, fulfillerClient, logger)
	logger.Info("Reconciliation sweep started",
		zap.Duration("interval", cfg.Sweep.Interval),
		zap.Duration("stuck_threshold", cfg.Sweep.StuckThreshold))

	logger.Info("Server started successfully", zap.String("address", srv.Addr))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopSweep()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
