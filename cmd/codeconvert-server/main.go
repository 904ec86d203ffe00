// Package main provides the entry point for the migration HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Satyacharanv/CodeConversionAI/internal/config"
	"github.com/Satyacharanv/CodeConversionAI/internal/llm"
	"github.com/Satyacharanv/CodeConversionAI/internal/metrics"
	"github.com/Satyacharanv/CodeConversionAI/internal/migrate"
	"github.com/Satyacharanv/CodeConversionAI/internal/server"
	"github.com/Satyacharanv/CodeConversionAI/internal/service"
	"github.com/Satyacharanv/CodeConversionAI/internal/tools"
	"github.com/Satyacharanv/CodeConversionAI/internal/workspace"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	// Parse flags
	configFile := flag.String("config", os.Getenv("CODECONVERT_CONFIG"), "optional YAML config file")
	flag.Parse()

	// Load configuration
	cfg := config.Load()
	if *configFile != "" {
		if err := cfg.ApplyFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	// Initialize logging
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	if cfg.LogLevel > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	slog.Info("starting codeconvert-server",
		"port", cfg.Port,
		"version", Version,
		"provider", cfg.LLMProvider,
		"resources_dir", cfg.ResourcesDir,
		"documents_dir", cfg.DocumentsDir,
	)

	collector := metrics.NewCollector()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	model, err := llm.NewModel(ctx, cfg, collector, logger)
	cancel()
	if err != nil {
		slog.Error("failed to create LLM client", "error", err)
		os.Exit(1)
	}

	layout := workspace.Layout{Root: cfg.ResourcesDir}
	registry := tools.NewDefaultRegistry(&tools.Dependencies{
		Logger:       logger,
		Metrics:      collector,
		Roots:        []string{cfg.ResourcesDir, cfg.DocumentsDir},
		MaxReadBytes: tools.DefaultMaxReadBytes,
	})
	agent := llm.NewAgent(model, registry, cfg.AgentMaxSteps, collector, logger)

	migrator := migrate.New(agent, migrate.Options{
		DocumentsDir:   cfg.DocumentsDir,
		PhaseTimeout:   cfg.PhaseTimeout,
		FileTimeout:    cfg.FileTimeout,
		Concurrency:    cfg.Concurrency,
		CodeExtensions: cfg.CodeExtensions,
		Logger:         logger,
		Metrics:        collector,
	})

	svc := service.NewMigrationService(service.MigrationServiceOptions{
		Layout:          layout,
		Runner:          migrator,
		MaxArchiveBytes: cfg.MaxArchiveBytes,
		Logger:          logger,
		Metrics:         collector,
	})

	srv := server.New(server.Options{
		Service:        svc,
		Metrics:        collector,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Version:        Version,
	})

	// No write timeout: synchronous migrations hold the response for minutes.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("upload endpoint available", "url", fmt.Sprintf("http://localhost:%s/api/upload_files", cfg.Port))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := svc.Shutdown(ctx); err != nil {
		slog.Error("background migrations did not stop in time", "error", err)
	}

	slog.Info("server stopped")
}
