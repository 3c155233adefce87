package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asakaida/fieldshift/internal/app"
	"github.com/asakaida/fieldshift/internal/infrastructure/config"
	"github.com/asakaida/fieldshift/internal/infrastructure/logging"
)

const (
	defaultEnv            = "dev"
	metricsUpdateInterval = 10 * time.Second
	shutdownTimeout       = 30 * time.Second
)

func main() {
	// Get environment from ENV variable or use default
	env := os.Getenv("ENV")
	if env == "" {
		env = defaultEnv
	}

	if err := config.InitConfig(env); err != nil {
		log.Fatal("Failed to initialize config", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", "err", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatal("Failed to create logger", "err", err)
	}

	a, err := app.New(cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Fatal("Failed to start", "err", err)
	}
	logger.Info("Connected to database", "driver", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := app.NewWorker(a, cfg.Migration.PollInterval)
	if err := worker.Start(ctx); err != nil {
		a.Close()
		logger.Fatal("Failed to start worker", "err", err)
	}
	logger.Info("Worker started", "workers", cfg.Migration.Workers)

	serverErrors := make(chan error, 1)
	var metricsServer *http.Server
	if cfg.Metrics.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := a.DB.HealthCheck(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(metricsUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.Exporter.Update()
			}
		}
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", "err", err)
	case sig := <-sigChan:
		logger.Info("Received signal", "signal", sig)
	}

	logger.Info("Initiating graceful shutdown...")

	// running migrations stop scheduling new items, committed items stay
	cancel()

	stopped := make(chan struct{})
	go func() {
		if err := worker.Stop(); err != nil {
			logger.Warn("Error stopping worker", "err", err)
		}
		close(stopped)
	}()

	select {
	case <-stopped:
		logger.Info("Worker stopped gracefully")
	case <-time.After(shutdownTimeout):
		logger.Warn("Shutdown timeout exceeded, forcing stop")
	}

	if metricsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error stopping metrics server", "err", err)
		}
	}

	if err := a.Close(); err != nil {
		logger.Warn("Error closing database connection", "err", err)
	}

	logger.Info("Shutdown complete")
}
