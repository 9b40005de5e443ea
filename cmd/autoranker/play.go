// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/blinklabs-io/autoranker/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// runWithDriver loads a driver for a one-shot command and calls fn with a
// context cancelled on SIGINT/SIGTERM
func runWithDriver(
	cmd *cobra.Command,
	fn func(ctx context.Context, loaded *service.Loaded, logger *slog.Logger) error,
) {
	cfg := configFromCmd(cmd)
	logger := commonRun()
	ctx, stop := signal.NotifyContext(
		cmd.Context(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()
	loaded, err := service.Load(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	stopWatch := service.WatchEvents(loaded.Driver.EventBus(), logger)
	err = fn(ctx, loaded, logger)
	stopWatch()
	if closeErr := loaded.Close(); closeErr != nil {
		logger.Error("shutdown errors occurred", "error", closeErr)
	}
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func registerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Import the item feed and register items missing from the ledger",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := configFromCmd(cmd)
			runWithDriver(cmd, func(ctx context.Context, loaded *service.Loaded, logger *slog.Logger) error {
				result, err := service.Import(ctx, cfg, loaded.Driver, logger)
				if err != nil {
					return err
				}
				registered := 0
				for _, batch := range result.Batches {
					registered += len(batch)
				}
				fmt.Printf(
					"registered %d items in %d batches, %d already on ledger, %d skipped\n",
					registered,
					len(result.Batches),
					len(result.Existing),
					len(result.Skipped),
				)
				return nil
			})
		},
	}
}

func syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh local ranks from the ledger",
		Run: func(cmd *cobra.Command, args []string) {
			runWithDriver(cmd, func(ctx context.Context, loaded *service.Loaded, _ *slog.Logger) error {
				report, err := loaded.Driver.SyncRanks(ctx)
				if err != nil {
					return err
				}
				fmt.Printf(
					"%d updated, %d diverged, %d unknown locally\n",
					len(report.Updated),
					len(report.Diverged),
					len(report.Skipped),
				)
				return nil
			})
		},
	}
}

func pushCommand() *cobra.Command {
	var itemID uint64
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Drive one item's voting round to completion",
		Run: func(cmd *cobra.Command, args []string) {
			runWithDriver(cmd, func(ctx context.Context, loaded *service.Loaded, _ *slog.Logger) error {
				return loaded.Driver.PushRound(ctx, itemID)
			})
		},
	}
	cmd.Flags().Uint64Var(&itemID, "item", 0, "item id")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func playCommand() *cobra.Command {
	var rounds int
	var itemID uint64
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Sync ranks and push rounds on randomly chosen items",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := configFromCmd(cmd)
			if !cmd.Flags().Changed("rounds") {
				rounds = cfg.RoundsPerCycle
			}
			runWithDriver(cmd, func(ctx context.Context, loaded *service.Loaded, logger *slog.Logger) error {
				if itemID != 0 {
					if _, err := loaded.Driver.SyncRanks(ctx); err != nil {
						return err
					}
					return loaded.Driver.PushRound(ctx, itemID)
				}
				return service.Cycle(loaded.Driver, rounds, logger)(ctx)
			})
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 1, "number of items to push")
	cmd.Flags().Uint64Var(&itemID, "item", 0, "push only this item")
	return cmd
}
