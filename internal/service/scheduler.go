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
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// CycleFunc runs one scheduled play cycle
type CycleFunc func(ctx context.Context) error

type SchedulerConfig struct {
	// Schedule is a cron spec such as "@every 5m" or "*/10 * * * *"
	Schedule string
	Cycle    CycleFunc
	Logger   *slog.Logger
}

// Scheduler runs play cycles on a cron schedule. A cycle that is still
// running when the next one is due causes that one to be skipped.
type Scheduler struct {
	config SchedulerConfig
	logger *slog.Logger
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	s := &Scheduler{
		config: cfg,
		logger: cfg.Logger.With("component", "scheduler"),
	}
	cronLogger := cronLogAdapter{logger: s.logger}
	s.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		),
	)
	if _, err := s.cron.AddFunc(cfg.Schedule, s.runCycle); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins scheduling. Cycles receive a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.config.Schedule)
}

// Stop cancels any running cycle and waits for it to return
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

func (s *Scheduler) runCycle() {
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	if err := s.config.Cycle(s.ctx); err != nil {
		s.logger.Error("play cycle failed", "error", err)
	}
}

// cronLogAdapter routes cron's logging to slog
type cronLogAdapter struct {
	logger *slog.Logger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Error(msg, append(keysAndValues, "error", err)...)
}
