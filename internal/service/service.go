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

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/autoranker"
	"github.com/blinklabs-io/autoranker/internal/config"
	"github.com/blinklabs-io/autoranker/registrar"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle syncs ranks from the ledger and then pushes a batch of rounds
func Cycle(d *autoranker.Driver, rounds int, logger *slog.Logger) CycleFunc {
	return func(ctx context.Context) error {
		if _, err := d.SyncRanks(ctx); err != nil {
			return fmt.Errorf("sync ranks: %w", err)
		}
		report, err := d.PushRounds(ctx, rounds)
		if err != nil {
			if errors.Is(err, autoranker.ErrNoEligibleItems) {
				logger.Info("no items eligible for a round", "component", "service")
				return nil
			}
			return err
		}
		logger.Info(
			fmt.Sprintf(
				"play cycle complete: %d pushed, %d failed",
				len(report.Pushed),
				len(report.Failed),
			),
			"component", "service",
		)
		return nil
	}
}

// Run serves metrics and plays rounds on the configured schedule until
// interrupted
func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "service")
	shutdownTimeout := cfg.ShutdownTimeoutDuration()

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	loaded, err := Load(signalCtx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer func() {
		if err := loaded.Close(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
		}
	}()
	stopWatch := WatchEvents(loaded.Driver.EventBus(), logger)
	defer stopWatch()

	if cfg.ImportUrl != "" {
		if _, err := Import(signalCtx, cfg, loaded.Driver, logger); err != nil {
			if !errors.Is(err, registrar.ErrNoOwner) {
				return fmt.Errorf("import: %w", err)
			}
			logger.Warn(
				"no treasury configured, skipping registration",
				"component", "service",
			)
		}
	}

	// Metrics listener
	var metricsServer *http.Server
	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr: fmt.Sprintf(
				"%s:%d",
				cfg.BindAddr,
				cfg.MetricsPort,
			),
			Handler:           mux,
			ReadHeaderTimeout: 60 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		logger.Info(
			"serving prometheus metrics on "+metricsServer.Addr,
			"component", "service",
		)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				logger.Error(
					fmt.Sprintf("failed to start metrics listener: %s", err),
					"component", "service",
				)
				signalCtxStop()
			}
		}()
	}

	scheduler, err := NewScheduler(
		SchedulerConfig{
			Schedule: cfg.PlaySchedule,
			Cycle:    Cycle(loaded.Driver, cfg.RoundsPerCycle, logger),
			Logger:   logger,
		},
	)
	if err != nil {
		return err
	}
	scheduler.Start(signalCtx)

	<-signalCtx.Done()
	logger.Info("signal received, initiating graceful shutdown")
	scheduler.Stop()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}
	logger.Info("shutdown complete")
	return nil
}
