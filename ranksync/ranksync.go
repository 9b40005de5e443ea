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

// Package ranksync reconciles locally cached item ranks with the ledger's
// rank listing.
package ranksync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/blinklabs-io/autoranker/event"
	"github.com/blinklabs-io/autoranker/ledger"
	"github.com/blinklabs-io/autoranker/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ErrMalformedListing = errors.New("ledger listing ids and ranks differ in length")

type SynchronizerConfig struct {
	Gateway      ledger.Gateway
	EventBus     *event.EventBus
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
}

// Report lists the item ids affected by one sync pass
type Report struct {
	Updated  []uint64
	Diverged []uint64
	// Skipped holds ledger items not present in the local store
	Skipped []uint64
}

type Synchronizer struct {
	config  SynchronizerConfig
	logger  *slog.Logger
	metrics *syncMetrics
}

type syncMetrics struct {
	changesTotal  prometheus.Counter
	divergedItems prometheus.Gauge
	listedItems   prometheus.Gauge
}

func NewSynchronizer(cfg SynchronizerConfig) *Synchronizer {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s := &Synchronizer{
		config: cfg,
		logger: cfg.Logger.With("component", "ranksync"),
	}
	if cfg.PromRegistry != nil {
		promautoFactory := promauto.With(cfg.PromRegistry)
		s.metrics = &syncMetrics{
			changesTotal: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "autoranker_ranksync_changes_total",
				Help: "rank changes observed on the ledger",
			}),
			divergedItems: promautoFactory.NewGauge(prometheus.GaugeOpts{
				Name: "autoranker_items_diverged",
				Help: "local items missing from the ledger listing",
			}),
			listedItems: promautoFactory.NewGauge(prometheus.GaugeOpts{
				Name: "autoranker_items_listed",
				Help: "items in the last ledger listing",
			}),
		}
	}
	return s
}

// Sync copies ledger ranks into st. Local items absent from the listing are
// marked diverged; ledger items unknown locally are left alone.
func (s *Synchronizer) Sync(ctx context.Context, st *store.Store) (*Report, error) {
	ids, ranks, err := s.config.Gateway.ListItemsWithRank(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items with rank: %w", err)
	}
	if len(ids) != len(ranks) {
		return nil, ErrMalformedListing
	}
	report := &Report{}
	listed := make(map[uint64]struct{}, len(ids))
	for i, id := range ids {
		listed[id] = struct{}{}
		if _, ok := st.Get(id); !ok {
			report.Skipped = append(report.Skipped, id)
			continue
		}
		prev, changed, err := st.SetRank(id, ranks[i])
		if err != nil {
			return report, err
		}
		if changed {
			report.Updated = append(report.Updated, id)
			s.rankChanged(id, prev, ranks[i])
		}
	}
	diverged := 0
	for _, item := range st.Items() {
		if _, ok := listed[item.ID]; ok {
			continue
		}
		diverged++
		transitioned, err := st.MarkDiverged(item.ID)
		if err != nil {
			return report, err
		}
		if !transitioned {
			continue
		}
		report.Diverged = append(report.Diverged, item.ID)
		s.logger.Warn(
			"item missing from ledger listing",
			"item", item.ID,
		)
		if s.config.EventBus != nil {
			s.config.EventBus.Publish(
				event.ItemDivergedEventType,
				event.NewEvent(
					event.ItemDivergedEventType,
					event.ItemDivergedEvent{ItemID: item.ID},
				),
			)
		}
	}
	if s.metrics != nil {
		s.metrics.divergedItems.Set(float64(diverged))
		s.metrics.listedItems.Set(float64(len(ids)))
	}
	s.logger.Debug(
		"rank sync complete",
		"updated", len(report.Updated),
		"diverged", len(report.Diverged),
		"skipped", len(report.Skipped),
	)
	return report, nil
}

func (s *Synchronizer) rankChanged(id uint64, prev *big.Int, rank *big.Int) {
	s.logger.Info(
		"rank changed",
		"item", id,
		"old", prev,
		"new", rank,
	)
	if s.metrics != nil {
		s.metrics.changesTotal.Inc()
	}
	if s.config.EventBus == nil {
		return
	}
	s.config.EventBus.Publish(
		event.RankChangedEventType,
		event.NewEvent(
			event.RankChangedEventType,
			event.RankChangedEvent{
				ItemID:  id,
				OldRank: prev,
				NewRank: new(big.Int).Set(rank),
			},
		),
	)
}
