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

// Package registrar registers locally known items that the ledger does not
// list yet, in batches bounded by the ledger's maximum call size.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/blinklabs-io/autoranker/event"
	"github.com/blinklabs-io/autoranker/executor"
	"github.com/blinklabs-io/autoranker/ledger"
	"github.com/blinklabs-io/autoranker/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultMaxBatchSize = 32
	DefaultSettleDelay  = 10 * time.Second
)

var ErrNoOwner = errors.New("registrar requires a registry owner signer")

type RegistrarConfig struct {
	Gateway ledger.Gateway
	// Owner signs registration batches
	Owner          ledger.Signer
	MaxBatchSize   int
	SettleDelay    time.Duration
	ConfirmTimeout time.Duration
	Sleep          executor.SleepFunc
	EventBus       *event.EventBus
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
}

// Result describes one RegisterMissing pass
type Result struct {
	// Batches holds the ids of each confirmed registration call, in order
	Batches [][]uint64
	// Existing holds items already on the ledger, whose rank was only recorded
	Existing []uint64
	// Skipped holds unregistered items without an import rank
	Skipped []uint64
}

type Registrar struct {
	config  RegistrarConfig
	logger  *slog.Logger
	metrics *registrarMetrics
}

type registrarMetrics struct {
	batchesTotal prometheus.Counter
	itemsTotal   prometheus.Counter
}

func NewRegistrar(cfg RegistrarConfig) (*Registrar, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("registrar requires a ledger gateway")
	}
	if cfg.Owner == nil {
		return nil, ErrNoOwner
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.Sleep == nil {
		cfg.Sleep = executor.SleepContext
	}
	r := &Registrar{
		config: cfg,
		logger: cfg.Logger.With("component", "registrar"),
	}
	if cfg.PromRegistry != nil {
		promautoFactory := promauto.With(cfg.PromRegistry)
		r.metrics = &registrarMetrics{
			batchesTotal: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "autoranker_registrar_batches_total",
				Help: "confirmed registration batches",
			}),
			itemsTotal: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "autoranker_registrar_items_total",
				Help: "items registered on the ledger",
			}),
		}
	}
	return r, nil
}

// RegisterMissing submits every item of st that the ledger does not list.
// Items already listed are never written; their ledger rank is recorded
// locally. A failed batch stops the pass; batches confirmed before it stay.
func (r *Registrar) RegisterMissing(ctx context.Context, st *store.Store) (*Result, error) {
	ids, ranks, err := r.config.Gateway.ListItemsWithRank(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items with rank: %w", err)
	}
	onLedger := make(map[uint64]*big.Int, len(ids))
	for i, id := range ids {
		if i < len(ranks) {
			onLedger[id] = ranks[i]
		}
	}
	result := &Result{}
	var batchIDs []uint64
	var batchRanks []*big.Int
	for _, item := range st.Items() {
		if rank, ok := onLedger[item.ID]; ok {
			result.Existing = append(result.Existing, item.ID)
			if _, _, err := st.SetRank(item.ID, rank); err != nil {
				return result, err
			}
			continue
		}
		if item.ImportRank == nil {
			r.logger.Warn(
				"item has no import rank, not registering",
				"item", item.ID,
			)
			result.Skipped = append(result.Skipped, item.ID)
			continue
		}
		batchIDs = append(batchIDs, item.ID)
		batchRanks = append(batchRanks, item.ImportRank)
		if len(batchIDs) == r.config.MaxBatchSize {
			if err := r.flush(ctx, st, result, batchIDs, batchRanks); err != nil {
				return result, err
			}
			batchIDs, batchRanks = nil, nil
		}
	}
	if len(batchIDs) > 0 {
		if err := r.flush(ctx, st, result, batchIDs, batchRanks); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (r *Registrar) flush(
	ctx context.Context,
	st *store.Store,
	result *Result,
	ids []uint64,
	ranks []*big.Int,
) error {
	// Let the ledger settle after the previous batch
	if len(result.Batches) > 0 && r.config.SettleDelay > 0 {
		if err := r.config.Sleep(ctx, r.config.SettleDelay); err != nil {
			return err
		}
	}
	ref, err := r.config.Gateway.SubmitRegisterBatch(ctx, r.config.Owner, ids, ranks)
	switch ledger.Classify(err) {
	case ledger.ClassNone:
	case ledger.ClassPending:
		ref, _ = ledger.PendingRef(err)
		r.logger.Info(
			"registration batch already pending, awaiting original transaction",
			"tx", ref.String(),
		)
	default:
		return fmt.Errorf("register batch of %d items: %w", len(ids), err)
	}
	awaitCtx := ctx
	if r.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		awaitCtx, cancel = context.WithTimeout(ctx, r.config.ConfirmTimeout)
		defer cancel()
	}
	if err := r.config.Gateway.AwaitConfirmation(awaitCtx, ref); err != nil {
		return fmt.Errorf("await registration %s: %w", ref, err)
	}
	for i, id := range ids {
		if _, _, err := st.SetRank(id, ranks[i]); err != nil {
			return err
		}
	}
	result.Batches = append(result.Batches, append([]uint64(nil), ids...))
	r.logger.Info(
		fmt.Sprintf("registered batch of %d items", len(ids)),
		"tx", ref.String(),
	)
	if r.metrics != nil {
		r.metrics.batchesTotal.Inc()
		r.metrics.itemsTotal.Add(float64(len(ids)))
	}
	if r.config.EventBus != nil {
		r.config.EventBus.Publish(
			event.BatchRegisteredEventType,
			event.NewEvent(
				event.BatchRegisteredEventType,
				event.BatchRegisteredEvent{
					IDs:   append([]uint64(nil), ids...),
					TxRef: ref.String(),
				},
			),
		)
	}
	return nil
}
