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

// Package autoranker drives items of a commit-reveal ranking ledger through
// voting rounds with a pool of curator accounts.
package autoranker

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/blinklabs-io/autoranker/commitment"
	"github.com/blinklabs-io/autoranker/database"
	"github.com/blinklabs-io/autoranker/database/models"
	"github.com/blinklabs-io/autoranker/event"
	"github.com/blinklabs-io/autoranker/executor"
	"github.com/blinklabs-io/autoranker/keystore"
	"github.com/blinklabs-io/autoranker/ledger"
	"github.com/blinklabs-io/autoranker/planner"
	"github.com/blinklabs-io/autoranker/ranksync"
	"github.com/blinklabs-io/autoranker/registrar"
	"github.com/blinklabs-io/autoranker/round"
	"github.com/blinklabs-io/autoranker/store"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
)

var (
	ErrUnknownItem     = store.ErrUnknownItem
	ErrNotRegistered   = errors.New("item is not registered on the ledger")
	ErrNoAccounts      = keystore.ErrNoAccounts
	ErrNoEligibleItems = errors.New("no items eligible for a round")
	ErrAllVoted        = errors.New("every curator account already voted in this round")
)

// Driver ties the ledger, the local working set and the curator pool together
type Driver struct {
	config        Config
	db            *database.Database
	store         *store.Store
	eventBus      *event.EventBus
	planner       *planner.Planner
	executor      *executor.Executor
	registrar     *registrar.Registrar
	synchronizer  *ranksync.Synchronizer
	rnd           *lockedRand
	metrics       *driverMetrics
	itemMu        sync.Mutex
	itemLocks     map[uint64]*sync.Mutex
	shutdownFuncs []func(context.Context) error
	historyDone   chan struct{}
	closeOnce     sync.Once
}

// PushReport summarises a PushRounds run
type PushReport struct {
	Pushed []uint64
	Failed map[uint64]error
}

func New(cfg Config) (*Driver, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.clock == nil {
		if clock, ok := cfg.gateway.(ledger.Clock); ok {
			cfg.clock = clock
		}
	}
	if cfg.rand == nil {
		var seed [32]byte
		if _, err := crand.Read(seed[:]); err != nil {
			return nil, fmt.Errorf("seed random source: %w", err)
		}
		cfg.rand = rand.New(rand.NewChaCha8(seed)) //nolint:gosec
	}
	if cfg.sleep == nil {
		cfg.sleep = executor.SleepContext
	}
	d := &Driver{
		config:    cfg,
		rnd:       &lockedRand{rnd: cfg.rand},
		itemLocks: make(map[uint64]*sync.Mutex),
	}
	// Configure tracing
	if cfg.tracing {
		if err := d.setupTracing(); err != nil {
			return nil, err
		}
	}
	db, err := database.New(cfg.logger, cfg.dataDir)
	if err != nil {
		_ = d.shutdown()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	d.db = db
	d.store, err = store.New(store.StoreConfig{
		Logger:    cfg.logger,
		Persister: db,
	})
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	d.eventBus = event.NewEventBus(cfg.promRegistry, cfg.logger)
	d.recordRankHistory()
	treasury, err := cfg.keyStore.Treasury()
	if err != nil && !errors.Is(err, keystore.ErrNoTreasury) {
		_ = d.Close()
		return nil, err
	}
	plannerCfg := planner.PlannerConfig{
		Logger:          cfg.logger,
		FundEtherAmount: cfg.fundEtherAmount,
		FundTokenAmount: cfg.fundTokenAmount,
		FundGrace:       cfg.fundGrace,
		CommitWindow:    cfg.commitWindow,
		RevealWindow:    cfg.revealWindow,
	}
	if treasury != nil {
		plannerCfg.Treasury = treasury
	}
	d.planner = planner.NewPlanner(plannerCfg)
	d.executor, err = executor.NewExecutor(executor.ExecutorConfig{
		Gateway:        cfg.gateway,
		Intents:        db,
		Recorder:       db,
		EventBus:       d.eventBus,
		Logger:         cfg.logger,
		PromRegistry:   cfg.promRegistry,
		TracerProvider: otel.GetTracerProvider(),
		WaitPadding:    cfg.waitPadding,
		ConfirmTimeout: cfg.confirmTimeout,
		Sleep:          cfg.sleep,
	})
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	if treasury != nil {
		d.registrar, err = registrar.NewRegistrar(registrar.RegistrarConfig{
			Gateway:        cfg.gateway,
			Owner:          treasury,
			MaxBatchSize:   cfg.maxBatchSize,
			SettleDelay:    cfg.settleDelay,
			ConfirmTimeout: cfg.confirmTimeout,
			Sleep:          cfg.sleep,
			EventBus:       d.eventBus,
			Logger:         cfg.logger,
			PromRegistry:   cfg.promRegistry,
		})
		if err != nil {
			_ = d.Close()
			return nil, err
		}
	}
	d.synchronizer = ranksync.NewSynchronizer(ranksync.SynchronizerConfig{
		Gateway:      cfg.gateway,
		EventBus:     d.eventBus,
		Logger:       cfg.logger,
		PromRegistry: cfg.promRegistry,
	})
	if cfg.promRegistry != nil {
		d.initMetrics(cfg.promRegistry)
	}
	return d, nil
}

// Store returns the local working set
func (d *Driver) Store() *store.Store {
	return d.store
}

func (d *Driver) Database() *database.Database {
	return d.db
}

func (d *Driver) EventBus() *event.EventBus {
	return d.eventBus
}

// RegisterMissing registers every local item the ledger does not know yet
func (d *Driver) RegisterMissing(ctx context.Context) (*registrar.Result, error) {
	if d.registrar == nil {
		return nil, registrar.ErrNoOwner
	}
	return d.registrar.RegisterMissing(ctx, d.store)
}

// SyncRanks copies the ledger's ranks into the local working set
func (d *Driver) SyncRanks(ctx context.Context) (*ranksync.Report, error) {
	return d.synchronizer.Sync(ctx, d.store)
}

// PushRound drives one item's current round as far as the ledger allows
func (d *Driver) PushRound(ctx context.Context, itemID uint64) error {
	lock := d.itemLock(itemID)
	lock.Lock()
	defer lock.Unlock()
	err := d.pushRound(ctx, itemID)
	d.countPush(err)
	return err
}

func (d *Driver) pushRound(ctx context.Context, itemID uint64) error {
	logger := d.config.logger.With("component", "driver", "item", itemID)
	if _, ok := d.store.Get(itemID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownItem, itemID)
	}
	gw := d.config.gateway
	item, err := gw.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrNotRegistered, itemID)
		}
		return fmt.Errorf("get item: %w", err)
	}
	var curRound *round.Round
	var info *ledger.RoundInfo
	if item.ActiveRoundID != 0 {
		info, err = gw.GetRound(ctx, item.ActiveRoundID)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("get round: %w", err)
		}
		if info != nil {
			state, err := gw.GetRoundState(ctx, info.ID)
			if err != nil {
				return fmt.Errorf("get round state: %w", err)
			}
			curRound = info.Round(state)
		}
	}
	now, err := d.now(ctx)
	if err != nil {
		return err
	}
	res := round.Resolve(now, curRound)
	activeID := uint64(0)
	if res.Phase != round.PhaseNoActiveRound {
		activeID = curRound.ID
	} else {
		info = nil
	}
	if err := d.store.SetActiveRound(itemID, activeID); err != nil {
		return err
	}
	account, intent, err := d.selectAccount(itemID, res.Phase, info)
	if err != nil {
		return err
	}
	if intent == nil && phaseCommits(res.Phase) {
		intent, err = commitment.GenerateIntent(
			itemID,
			now,
			commitment.Params{
				Granularity:   d.config.commitGranularity,
				MaxStake:      d.config.maxStake,
				UpProbability: d.config.upProbability,
			},
			d.rnd,
		)
		if err != nil {
			return fmt.Errorf("generate vote intent: %w", err)
		}
	}
	balances, err := gw.GetAccountBalances(ctx, account.Address())
	if err != nil {
		return fmt.Errorf("get balances: %w", err)
	}
	actions := d.planner.Plan(planner.Input{
		ItemID:     itemID,
		Round:      curRound,
		Resolution: res,
		Intent:     intent,
		Account:    account,
		Balances:   balances,
	})
	logger.Debug(
		"planned round",
		"phase", res.Phase.String(),
		"account", account.Address().Hex(),
		"actions", fmt.Sprint(planner.Kinds(actions)),
	)
	execErr := d.executor.Execute(ctx, actions)
	d.forgetRevealed(actions)
	if err := d.refresh(ctx, itemID); err != nil {
		logger.Warn("failed to refresh item after round", "error", err)
	}
	if execErr != nil {
		return execErr
	}
	return nil
}

func phaseCommits(phase round.Phase) bool {
	switch phase {
	case round.PhaseNoActiveRound, round.PhasePreStart, round.PhaseCommit:
		return true
	}
	return false
}

// selectAccount picks the curator for the next queue. While the round
// takes commits only accounts that have not voted in it are drawn; when
// every account already voted, one of them resumes with its stored intent.
// During the reveal phase an account holding a stored intent for the round
// is preferred.
func (d *Driver) selectAccount(
	itemID uint64,
	phase round.Phase,
	info *ledger.RoundInfo,
) (*keystore.Account, *commitment.VoteIntent, error) {
	intents, err := d.liveIntents(itemID, phase, info)
	if err != nil {
		return nil, nil, err
	}
	switch phase {
	case round.PhasePreStart, round.PhaseCommit:
		var fresh []*keystore.Account
		for _, account := range d.config.keyStore.Accounts() {
			if info.HasVoter(account.Address()) {
				continue
			}
			if intent, ok := intents[account.Address()]; ok && intent.RoundID == info.ID {
				continue
			}
			fresh = append(fresh, account)
		}
		if len(fresh) > 0 {
			return fresh[d.rnd.IntN(len(fresh))], nil, nil
		}
		if account, intent := d.committedAccount(intents, info); account != nil {
			return account, intent, nil
		}
		if len(d.config.keyStore.Accounts()) > 0 {
			return nil, nil, fmt.Errorf("%w: round %d", ErrAllVoted, info.ID)
		}
	case round.PhaseReveal:
		if account, intent := d.committedAccount(intents, info); account != nil {
			return account, intent, nil
		}
	}
	account, err := d.config.keyStore.Random(d.rnd)
	if err != nil {
		return nil, nil, err
	}
	return account, nil, nil
}

// committedAccount returns a local account holding the intent behind a vote
// in the open round
func (d *Driver) committedAccount(
	intents map[common.Address]*commitment.VoteIntent,
	info *ledger.RoundInfo,
) (*keystore.Account, *commitment.VoteIntent) {
	var fallback *keystore.Account
	var fallbackIntent *commitment.VoteIntent
	for addr, intent := range intents {
		account, err := d.config.keyStore.Lookup(addr)
		if err != nil {
			continue
		}
		if intent.RoundID == info.ID {
			return account, intent
		}
		// Commit confirmed but its round was never recorded
		if intent.RoundID == 0 && info.HasVoter(addr) && fallback == nil {
			fallback, fallbackIntent = account, intent
		}
	}
	return fallback, fallbackIntent
}

// liveIntents loads the item's stored intents and deletes the ones that can
// no longer be revealed: intents bound to another round, and unbound intents
// whose commit never reached the round once its commit window closed
func (d *Driver) liveIntents(
	itemID uint64,
	phase round.Phase,
	info *ledger.RoundInfo,
) (map[common.Address]*commitment.VoteIntent, error) {
	intents, err := d.db.IntentsForItem(itemID)
	if err != nil {
		return nil, fmt.Errorf("load vote intents: %w", err)
	}
	commitClosed := phase == round.PhaseReveal || phase == round.PhaseFinishEligible
	for addr, intent := range intents {
		var stale bool
		switch {
		case intent.RoundID != 0:
			stale = info == nil || intent.RoundID != info.ID
		case commitClosed:
			stale = !info.HasVoter(addr)
		}
		if !stale {
			continue
		}
		delete(intents, addr)
		if err := d.db.DeleteIntent(itemID, addr); err != nil {
			return nil, fmt.Errorf("delete stale vote intent: %w", err)
		}
		d.config.logger.Debug(
			"deleted stale vote intent",
			"component", "driver",
			"item", itemID,
			"account", addr.Hex(),
			"round", intent.RoundID,
		)
	}
	return intents, nil
}

// forgetRevealed drops intents whose reveal was confirmed
func (d *Driver) forgetRevealed(actions []*planner.Action) {
	for _, action := range actions {
		if action.Kind != planner.KindReveal || !action.Completed() || action.Signer == nil {
			continue
		}
		if err := d.db.DeleteIntent(action.ItemID, action.Signer.Address()); err != nil {
			d.config.logger.Warn(
				"failed to delete revealed intent",
				"component", "driver",
				"item", action.ItemID,
				"error", err,
			)
		}
	}
}

// recordRankHistory stores every published rank change until the bus stops
func (d *Driver) recordRankHistory() {
	_, evtCh := d.eventBus.Subscribe(event.RankChangedEventType)
	d.historyDone = make(chan struct{})
	go func() {
		defer close(d.historyDone)
		for evt := range evtCh {
			data, ok := evt.Data.(event.RankChangedEvent)
			if !ok {
				continue
			}
			if err := d.db.RecordRankChange(
				data.ItemID,
				data.OldRank,
				data.NewRank,
				evt.Timestamp,
			); err != nil {
				d.config.logger.Warn(
					"failed to record rank change",
					"component", "driver",
					"item", data.ItemID,
					"error", err,
				)
			}
		}
	}()
}

// RankHistory returns the rank changes observed for an item, oldest first
func (d *Driver) RankHistory(itemID uint64) ([]models.RankChange, error) {
	return d.db.RankHistory(itemID)
}

// refresh re-reads the item's rank and round from the ledger
func (d *Driver) refresh(ctx context.Context, itemID uint64) error {
	item, err := d.config.gateway.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	prev, changed, err := d.store.SetRank(itemID, item.Rank)
	if err != nil {
		return err
	}
	if changed && prev != nil {
		d.eventBus.PublishAsync(
			event.RankChangedEventType,
			event.NewEvent(
				event.RankChangedEventType,
				event.RankChangedEvent{
					ItemID:  itemID,
					OldRank: prev,
					NewRank: item.Rank,
				},
			),
		)
	}
	return d.store.SetActiveRound(itemID, item.ActiveRoundID)
}

// PushRounds pushes n randomly chosen eligible items, each at most once.
// Failures are logged and collected; the run continues with the next item.
func (d *Driver) PushRounds(ctx context.Context, n int) (*PushReport, error) {
	eligible := d.eligibleItems()
	if len(eligible) == 0 {
		return nil, ErrNoEligibleItems
	}
	d.rnd.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	if n < len(eligible) {
		eligible = eligible[:max(n, 0)]
	}
	report := &PushReport{Failed: make(map[uint64]error)}
	for _, itemID := range eligible {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := d.PushRound(ctx, itemID); err != nil {
			if ctx.Err() != nil {
				report.Failed[itemID] = err
				return report, ctx.Err()
			}
			d.config.logger.Warn(
				"round push failed",
				"component", "driver",
				"item", itemID,
				"error", err,
			)
			report.Failed[itemID] = err
			continue
		}
		report.Pushed = append(report.Pushed, itemID)
	}
	return report, nil
}

// eligibleItems are local items known to the ledger and not diverged
func (d *Driver) eligibleItems() []uint64 {
	var ret []uint64
	for _, item := range d.store.Items() {
		if item.SyncState == store.SyncDiverged || !item.Registered() {
			continue
		}
		ret = append(ret, item.ID)
	}
	return ret
}

func (d *Driver) itemLock(itemID uint64) *sync.Mutex {
	d.itemMu.Lock()
	defer d.itemMu.Unlock()
	lock, ok := d.itemLocks[itemID]
	if !ok {
		lock = &sync.Mutex{}
		d.itemLocks[itemID] = lock
	}
	return lock
}

func (d *Driver) now(ctx context.Context) (time.Time, error) {
	if d.config.clock == nil {
		return time.Now(), nil
	}
	now, err := d.config.clock.Now(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("read ledger time: %w", err)
	}
	return now, nil
}

// Close stops background work and closes the database
func (d *Driver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.eventBus != nil {
			d.eventBus.Stop()
		}
		if d.historyDone != nil {
			<-d.historyDone
		}
		if d.db != nil {
			err = errors.Join(err, d.db.Close())
		}
		err = errors.Join(err, d.shutdown())
	})
	return err
}

func (d *Driver) shutdown() error {
	timeout := DefaultShutdownTimeout
	if d.config.shutdownTimeout > 0 {
		timeout = d.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var err error
	for _, fn := range d.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	d.shutdownFuncs = nil
	return err
}

// lockedRand makes a *rand.Rand safe for concurrent pushes
type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

func (r *lockedRand) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Uint64()
}

func (r *lockedRand) Uint64N(n uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Uint64N(n)
}

func (r *lockedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.IntN(n)
}

func (r *lockedRand) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rnd.Shuffle(n, swap)
}
