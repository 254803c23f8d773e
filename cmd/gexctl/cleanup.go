package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexflow/internal/store"
)

func cleanupCmd() *cobra.Command {
	var olderThanHours int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete gamma-history rows past the retention ceiling",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.Database.Enabled {
				return fmt.Errorf("database is not enabled in config")
			}

			repo, err := store.Open(cfg.Database.DSN, cfg.Database.TablePrefix)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}

			hours := olderThanHours
			if hours <= 0 {
				hours = cfg.Engine.HistoryRetentionHours
			}
			cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)

			purged, err := repo.PurgeHistory(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("purging history: %w", err)
			}

			logger.Info("history cleanup complete",
				zap.Int64("rowsDeleted", purged),
				zap.Time("cutoff", cutoff),
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThanHours, "older-than", 0, "override retention window in hours")
	return cmd
}
