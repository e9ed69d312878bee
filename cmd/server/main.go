package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "fulfillment-engine/internal/api/grpc"
	httpapi "fulfillment-engine/internal/api/http"
	"fulfillment-engine/internal/app"
	"fulfillment-engine/internal/config"
	"fulfillment-engine/internal/jobs"
	"fulfillment-engine/internal/logger"
	"fulfillment-engine/internal/scheduler"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Fulfillment Engine...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "address", cfg.GetServerAddress(), "grpc_address", cfg.GetGRPCAddress(), "store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize engine", "error", err)
		log.Fatalf("Failed to initialize engine: %v", err)
	}
	defer a.Close()

	// HTTP API
	handler := httpapi.NewHandler(a.Transactions, a.Ledger, a.Reconciler, a.Store)
	router := httpapi.NewRouter(handler, httpapi.NewAuthMiddleware(a.Tokens))
	httpServer := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	// gRPC health and reflection
	if addr := cfg.GetGRPCAddress(); addr != "" {
		monitor := api.NewHealthMonitor(a.Store)
		go monitor.Run(ctx, 15*time.Second)

		grpcServer := api.NewServer(a.Tokens, monitor)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			logger.Error("Failed to listen", "error", err, "address", addr)
			log.Fatalf("Failed to listen: %v", err)
		}
		go func() {
			logger.Info("gRPC server listening", "address", addr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("Failed to serve gRPC", "error", err)
			}
		}()
		defer grpcServer.GracefulStop()
	}

	// The memory store is private to this process, so its jobs run here.
	if cfg.Store.Driver == "memory" {
		runner := jobs.NewJobRunner(&jobs.Services{Transactions: a.Transactions, Ledger: a.Ledger}, a.Gateways, cfg)
		cronScheduler := scheduler.NewScheduler(runner)
		cronScheduler.Start()
		defer cronScheduler.Stop()
	}

	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
}
