package main

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"

	"nexus/backend/internal/config"
	"nexus/backend/internal/generation"
	"nexus/backend/internal/logging"
	"nexus/backend/internal/repository"
	"nexus/backend/internal/services"
)

func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	return cfg, logger, nil
}

// openStore opens the configured workflow store with the shared pool
// settings. Postgres stores are migrated before use.
func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.ManagedStore, error) {
	logger.Debug("Opening workflow store", "driver", cfg.DB.Driver)
	return repository.Open(ctx, cfg, logger.WithModule("repository"))
}

// newPlanCache connects to Redis when an address is configured. An
// unreachable Redis disables caching rather than failing startup.
func newPlanCache(ctx context.Context, cfg *config.Config, logger *logging.Logger) (services.PlanCache, func()) {
	if cfg.Redis.Addr == "" {
		return nil, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable, plan cache disabled", "addr", cfg.Redis.Addr, "error", err)
		_ = client.Close()
		return nil, func() {}
	}

	logger.Info("Plan cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.PlanTTL)
	return services.NewRedisPlanCache(client, cfg.Redis.PlanTTL), func() { _ = client.Close() }
}

// newWorkflowService builds the planner, executor and orchestrator around
// store. The returned func releases the plan cache connection.
func newWorkflowService(ctx context.Context, cfg *config.Config, store repository.WorkflowStore, logger *logging.Logger) (*services.WorkflowService, func(), error) {
	gen, err := generation.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Generation.Provider == "mock" {
		logger.Warn("Using the mock generation provider")
	}

	cache, closeCache := newPlanCache(ctx, cfg, logger)
	serviceLogger := logger.WithModule("services")

	planner := services.NewPlanner(gen, services.PlannerOptions{
		MaxTasks: cfg.Workflow.MaxTasks,
		Timeout:  cfg.Workflow.PlanTimeout,
		Cache:    cache,
		Logger:   serviceLogger,
	})
	executor := services.NewExecutor(gen, cfg.Workflow.TaskTimeout)

	svc := services.NewWorkflowService(planner, executor, store, services.WorkflowOptions{
		MaxConcurrency:      cfg.Workflow.MaxConcurrency,
		DefaultHistoryLimit: cfg.Workflow.DefaultHistoryLimit,
		MaxHistoryLimit:     cfg.Workflow.MaxHistoryLimit,
		Logger:              serviceLogger,
	})
	return svc, closeCache, nil
}

func closeStore(store repository.WorkflowStore, logger *logging.Logger) {
	if err := store.Close(); err != nil {
		logger.Error("Failed to close store", "error", err)
	}
}
