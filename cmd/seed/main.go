package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nexus/backend/internal/config"
	"nexus/backend/internal/logging"
	"nexus/backend/internal/repository"
	"nexus/backend/pkg/models"
)

var (
	configPath string
	owner      string
)

var rootCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert sample workflow records for one owner",
	Long: `Insert sample workflow records for one owner so the history views have
something to show. Topics the owner already has are skipped.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config.yaml")
	rootCmd.Flags().StringVar(&owner, "owner", "dev-user", "Identity that owns the seeded records")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	store, err := repository.Open(ctx, cfg, logger.WithModule("repository"))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	identity := models.Identity(owner)
	if identity.IsZero() {
		return fmt.Errorf("--owner must not be blank")
	}

	existing, err := store.ListActive(ctx, identity, models.Page{Limit: 100})
	if err != nil {
		return fmt.Errorf("failed to list existing workflows: %w", err)
	}
	existingTopics := make(map[string]bool, len(existing))
	for _, rec := range existing {
		existingTopics[rec.Topic] = true
	}

	for _, sample := range sampleWorkflows() {
		if existingTopics[sample.Topic] {
			logger.Info("Skipping existing workflow", "topic", sample.Topic)
			continue
		}
		rec, err := store.Create(ctx, identity, sample)
		if err != nil {
			logger.Error("Failed to seed workflow", "topic", sample.Topic, "error", err)
			continue
		}
		logger.Info("Seeded workflow", "topic", rec.Topic, "id", rec.ID)
	}
	logger.Info("Seeding complete", "owner", identity)
	return nil
}

func completed(role, task, content string, duration float64) models.AgentResult {
	return models.AgentResult{
		Role:     role,
		Task:     task,
		Status:   models.AgentStatusCompleted,
		Content:  content,
		Duration: duration,
	}
}

func sampleWorkflows() []*models.WorkflowRecord {
	return []*models.WorkflowRecord{
		{
			Topic: "electric vehicle charging",
			Results: []models.AgentResult{
				completed(models.RoleMarketResearcher, "size the public charging market",
					"Public charging grows with fleet electrification; utilisation is the main margin driver.", 1.8),
				completed(models.RoleTechnicalAnalyst, "assess grid connection constraints",
					"Grid interconnection lead times dominate site rollout schedules.", 2.1),
				completed(models.RoleCompetitorAnalyst, "name the strongest incumbent",
					"Vertically integrated automakers with proprietary networks hold the best sites.", 1.6),
			},
			TotalTime: 2.1,
		},
		{
			Topic: "market strategy",
			Results: []models.AgentResult{
				completed(models.RoleMarketResearcher, "identify the target segment",
					"Mid-size teams adopt fastest and churn least.", 1.2),
				{
					Role:   models.RoleTechnicalAnalyst,
					Task:   "review the delivery risks",
					Status: models.AgentStatusFailed,
					Error:  "generation timed out",
				},
			},
			TotalTime: 2.0,
		},
	}
}
