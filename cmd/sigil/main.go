// Sigil agent server: exposes the streaming agent runtime over HTTP,
// runs the background profile learner, and fans task events out to
// subscribed clients.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/sigil-dev/sigil/pkg/agent/controller"
	"github.com/sigil-dev/sigil/pkg/agent/prompt"
	"github.com/sigil-dev/sigil/pkg/api"
	"github.com/sigil-dev/sigil/pkg/config"
	"github.com/sigil-dev/sigil/pkg/events"
	"github.com/sigil-dev/sigil/pkg/knowledge"
	"github.com/sigil-dev/sigil/pkg/learner"
	"github.com/sigil-dev/sigil/pkg/llm"
	"github.com/sigil-dev/sigil/pkg/memory"
	"github.com/sigil-dev/sigil/pkg/store"
	"github.com/sigil-dev/sigil/pkg/store/memstore"
	"github.com/sigil-dev/sigil/pkg/store/postgres"
	"github.com/sigil-dev/sigil/pkg/tools"
	"github.com/sigil-dev/sigil/pkg/tools/builtin"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("SIGIL_CONFIG", ""),
		"Path to configuration file (empty uses built-in defaults)")
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envFile)
	}

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Semantic index: persistent when a knowledge directory is configured.
	var index *knowledge.Index
	if cfg.Store.KnowledgeDir != "" {
		index, err = knowledge.NewPersistentIndex(cfg.Store.KnowledgeDir, nil)
		if err != nil {
			slog.Error("Failed to open knowledge index", "dir", cfg.Store.KnowledgeDir, "error", err)
			os.Exit(1)
		}
		slog.Info("Knowledge index opened", "dir", cfg.Store.KnowledgeDir)
	} else {
		index = knowledge.NewIndex(nil)
	}

	var st store.Store
	switch cfg.Store.Backend {
	case "postgres":
		st, err = postgres.New(ctx, cfg.Store.DatabaseURL, index)
		if err != nil {
			slog.Error("Failed to connect to PostgreSQL store", "error", err)
			os.Exit(1)
		}
		slog.Info("Connected to PostgreSQL store")
	default:
		st = memstore.NewWithIndex(index)
		slog.Info("Using in-memory store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()

	client, err := llm.NewOpenAIClient(llm.OpenAIOptions{
		APIKey:      os.Getenv(cfg.LLM.APIKeyEnv),
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Error("Error closing LLM client", "error", err)
		}
	}()

	registry, err := tools.NewRegistry(
		&builtin.ShellTool{Timeout: cfg.Tools.ShellTimeout},
		&builtin.FilesTool{Root: cfg.Tools.FilesRoot},
		&builtin.SearchTool{},
	)
	if err != nil {
		slog.Error("Failed to build tool registry", "error", err)
		os.Exit(1)
	}
	scheduler := tools.NewScheduler(registry, cfg.Agent.HeuristicEnabled(), nil)

	retriever, err := knowledge.NewRetriever(st,
		cfg.Agent.AutomaticRetrievalTopK, cfg.Agent.KnowledgeRetrievalThreshold)
	if err != nil {
		slog.Error("Failed to build knowledge retriever", "error", err)
		os.Exit(1)
	}

	manager := events.NewManager()
	defer manager.Close()

	pool := learner.NewPool(st, client, cfg.Learner)
	pool.Start(ctx)

	engine := controller.NewEngine(controller.Deps{
		Store:     st,
		LLM:       client,
		Registry:  registry,
		Scheduler: scheduler,
		Prompts:   prompt.NewBuilder(),
		Retriever: retriever,
		Publisher: events.NewEventPublisher(manager),
		OnMessage: pool.Observe,
	}, controller.Config{
		MaxIterations:      cfg.Agent.MaxIterations,
		Mode:               memory.Mode(cfg.Agent.Mode),
		ModeSwitchCooldown: cfg.Agent.ModeSwitchCooldownIters,
	})

	server := api.NewServer(engine, st, manager, cfg.Server)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Sigil started",
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Backend,
		"mode", cfg.Agent.Mode,
		"max_iterations", cfg.Agent.MaxIterations)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// The learner drains queued work before exiting.
	pool.Stop()

	slog.Info("Shutdown complete")
}
