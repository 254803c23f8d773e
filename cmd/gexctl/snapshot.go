package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexflow/internal/broker"
	"github.com/dgnsrekt/gexflow/internal/gex"
	"github.com/dgnsrekt/gexflow/internal/server"
	"github.com/dgnsrekt/gexflow/internal/store"
)

func snapshotCmd() *cobra.Command {
	var levelsOnly bool

	cmd := &cobra.Command{
		Use:   "snapshot [symbol]",
		Short: "Fetch and print one gamma snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := args[0]
			ctx := cmd.Context()

			opts := []gex.Option{}
			if cfg.Database.Enabled {
				repo, err := store.Open(cfg.Database.DSN, cfg.Database.TablePrefix)
				if err != nil {
					return fmt.Errorf("opening database: %w", err)
				}
				opts = append(opts, gex.WithRepository(repo))
			}

			engine, err := gex.NewEngine(cfg.Engine, logger, opts...)
			if err != nil {
				return fmt.Errorf("creating engine: %w", err)
			}
			engine.Rehydrate(ctx)

			client := broker.NewClient(
				cfg.Broker.BaseURL,
				cfg.Broker.APIKey,
				cfg.Broker.RatePerSecond,
				time.Duration(cfg.Broker.TimeoutSec)*time.Second,
				time.Duration(cfg.Broker.RetryDelaySec)*time.Second,
				cfg.Broker.RetryCount,
				logger,
			)
			vixSource := broker.NewVIXSource(client, cfg.VIX.Symbols, logger)

			service := server.NewService(engine, client, vixSource, logger)
			result := service.Snapshot(ctx, symbol)

			if result.State == gex.StateUnavailable {
				return fmt.Errorf("snapshot unavailable: %s (%s)", result.Reason, result.Message)
			}

			logger.Info("snapshot produced",
				zap.String("symbol", symbol),
				zap.String("state", string(result.State)),
			)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			if levelsOnly {
				snap := result.Snapshot
				return enc.Encode(map[string]any{
					"symbol":          snap.Symbol,
					"spot_price":      snap.SpotPrice,
					"total_net_gamma": snap.TotalNetGamma,
					"gamma_regime":    snap.GammaRegime,
					"flip_point":      snap.FlipPoint,
					"call_wall":       snap.CallWall,
					"put_wall":        snap.PutWall,
					"expected_move":   snap.ExpectedMove,
					"magnets":         snap.Magnets,
					"pinning_status":  snap.PinningStatus,
				})
			}
			return enc.Encode(result)
		},
	}

	cmd.Flags().BoolVar(&levelsOnly, "levels", false, "print key levels only, no per-strike rows")
	return cmd
}
