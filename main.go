package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/draftmill/orchestrator/internal/adapter/charts"
	"github.com/draftmill/orchestrator/internal/adapter/llm"
	"github.com/draftmill/orchestrator/internal/adapter/search"
	"github.com/draftmill/orchestrator/internal/config"
	"github.com/draftmill/orchestrator/internal/executor"
	"github.com/draftmill/orchestrator/internal/planner"
	"github.com/draftmill/orchestrator/internal/policy"
	store "github.com/draftmill/orchestrator/internal/repository"
	"github.com/draftmill/orchestrator/internal/service"
	httpserver "github.com/draftmill/orchestrator/internal/transport/http"
	"github.com/draftmill/orchestrator/internal/tools"
)

func main() {
	// Load configuration
	cfg := config.Load()

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	log.Info("Starting orchestrator...")
	log.Infof("HTTP Port: %d", cfg.HTTPPort)
	log.Infof("Database: %s", cfg.DatabaseURL)
	log.Infof("LLM Provider: %s", cfg.LLMProvider)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize LLM client
	completion := llm.NewCompletionClient(cfg.LLMProvider, cfg.CompletionModel)

	// Initialize collaborating service clients
	searcher := search.NewClient(cfg.SearchURL, cfg.StepTimeout)
	renderer := charts.NewClient(cfg.ChartsURL, cfg.StepTimeout)

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize tool registry
	registry := tools.NewBuiltinRegistry(completion, searcher, renderer)

	// Initialize executor and planner
	exec := executor.New(db, registry, policyEngine, cfg)
	pl := planner.New(completion)

	// Initialize service
	svc := service.New(db, pl, exec, cfg)

	// Create HTTP server
	e := httpserver.NewServer(svc, cfg)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Infof("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down orchestrator...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Failed to shutdown server gracefully: %v", err)
	}

	log.Info("Orchestrator stopped")
}
