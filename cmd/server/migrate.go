package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the workflow schema",
	Long: `Create the workflow table, its immutability triggers and, on Postgres, the
row-level security policy. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		// opening the store applies the schema for either driver
		store, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore(store, logger)

		logger.Info("Schema is up to date", "driver", cfg.DB.Driver)
		return nil
	},
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Rewrite legacy result payloads into the canonical shape",
	Long: `Rewrite stored workflow results that use a legacy shape (an object wrapping
the results, or entries keyed by agent_name) into the canonical result list.

This spans every owner. On Postgres the configured db.user must be a superuser
or have BYPASSRLS, otherwise the owner policy hides every row.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore(store, logger)

		n, err := store.NormalizeLegacyResults(cmd.Context())
		if err != nil {
			return fmt.Errorf("normalize legacy results: %w", err)
		}
		logger.Info("Legacy results normalized", "rows", n)
		fmt.Fprintf(cmd.OutOrStdout(), "normalized %d rows\n", n)
		return nil
	},
}
