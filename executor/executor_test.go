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

package executor_test

import (
	"context"
	"errors"
	"math/big"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/autoranker/commitment"
	"github.com/blinklabs-io/autoranker/event"
	"github.com/blinklabs-io/autoranker/executor"
	"github.com/blinklabs-io/autoranker/keystore"
	"github.com/blinklabs-io/autoranker/ledger"
	"github.com/blinklabs-io/autoranker/ledger/sim"
	"github.com/blinklabs-io/autoranker/planner"
	"github.com/blinklabs-io/autoranker/round"
)

type intentKey struct {
	itemID  uint64
	account common.Address
}

type memIntents struct {
	mu      sync.Mutex
	saved   []commitment.VoteIntent
	current map[intentKey]commitment.VoteIntent
}

func (m *memIntents) SaveIntent(account common.Address, intent *commitment.VoteIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, *intent)
	if m.current == nil {
		m.current = make(map[intentKey]commitment.VoteIntent)
	}
	m.current[intentKey{intent.ItemID, account}] = *intent
	return nil
}

func (m *memIntents) LookupIntent(
	itemID uint64,
	account common.Address,
) (*commitment.VoteIntent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.current[intentKey{itemID, account}]
	if !ok {
		return nil, false, nil
	}
	return &intent, true, nil
}

type harness struct {
	ledger   *sim.Ledger
	clock    *sim.ManualClock
	owner    *keystore.Account
	curator  *keystore.Account
	intents  *memIntents
	registry *prometheus.Registry
	exec     *executor.Executor
	planner  *planner.Planner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := sim.NewManualClock(time.Unix(1_000_000, 0))
	owner, err := keystore.GenerateAccount()
	require.NoError(t, err)
	curator, err := keystore.GenerateAccount()
	require.NoError(t, err)
	l := sim.New(sim.Config{Owner: owner.Address(), Now: clock.Now})
	_, err = l.SubmitRegisterBatch(
		context.Background(),
		owner,
		[]uint64{1},
		[]*big.Int{big.NewInt(1_000)},
	)
	require.NoError(t, err)
	h := &harness{
		ledger:   l,
		clock:    clock,
		owner:    owner,
		curator:  curator,
		intents:  &memIntents{},
		registry: prometheus.NewRegistry(),
	}
	h.exec, err = executor.NewExecutor(executor.ExecutorConfig{
		Gateway:      l,
		Intents:      h.intents,
		PromRegistry: h.registry,
		WaitPadding:  time.Second,
		Sleep:        clock.Sleep,
	})
	require.NoError(t, err)
	h.planner = planner.NewPlanner(planner.PlannerConfig{
		Treasury:        owner,
		FundEtherAmount: big.NewInt(10),
		FundTokenAmount: big.NewInt(10),
	})
	return h
}

func (h *harness) intent(t *testing.T) *commitment.VoteIntent {
	return h.intentFrom(t, rand.New(rand.NewPCG(5, 6)))
}

func (h *harness) intentFrom(t *testing.T, rnd *rand.Rand) *commitment.VoteIntent {
	intent, err := commitment.GenerateIntent(
		1,
		h.clock.Now(),
		commitment.Params{
			Granularity:   30 * time.Second,
			MaxStake:      big.NewInt(300),
			UpProbability: 1,
		},
		rnd,
	)
	require.NoError(t, err)
	return intent
}

func TestExecuteFullCycle(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	exec, err := executor.NewExecutor(executor.ExecutorConfig{
		Gateway:     h.ledger,
		Intents:     h.intents,
		EventBus:    eb,
		WaitPadding: time.Second,
		Sleep:       h.clock.Sleep,
	})
	require.NoError(t, err)
	_, confirmedCh := eb.Subscribe(event.ActionConfirmedEventType)
	intent := h.intent(t)
	actions := h.planner.Plan(planner.Input{
		ItemID:     1,
		Resolution: round.Resolution{Phase: round.PhaseNoActiveRound},
		Intent:     intent,
		Account:    h.curator,
	})
	require.NoError(t, exec.Execute(context.Background(), actions))
	for _, a := range actions {
		assert.Equal(t, planner.StateConfirmed, a.State)
		assert.NotEmpty(t, a.TxRef)
	}
	item, err := h.ledger.GetItem(context.Background(), 1)
	require.NoError(t, err)
	expected := new(big.Int).Add(big.NewInt(1_000), intent.Magnitude)
	assert.Equal(t, expected, item.Rank)
	assert.Zero(t, item.ActiveRoundID)
	// Persisted before submission and again with the round bound
	require.Len(t, h.intents.saved, 2)
	assert.Zero(t, h.intents.saved[0].RoundID)
	assert.Equal(t, uint64(1), h.intents.saved[1].RoundID)
	for range actions {
		select {
		case <-confirmedCh:
		case <-time.After(time.Second):
			t.Fatal("missing action event")
		}
	}
}

func TestExecuteFailClosed(t *testing.T) {
	h := newHarness(t)
	h.ledger.FailNext(sim.OpReveal, errors.New("gas too low"))
	actions := h.planner.Plan(planner.Input{
		ItemID:     1,
		Resolution: round.Resolution{Phase: round.PhaseNoActiveRound},
		Intent:     h.intent(t),
		Account:    h.curator,
	})
	err := h.exec.Execute(context.Background(), actions)
	require.Error(t, err)
	var actionErr *executor.ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, 1, actionErr.Index)
	assert.Equal(t, planner.KindReveal, actionErr.Kind)
	assert.Equal(t, planner.StateConfirmed, actions[0].State)
	assert.Equal(t, planner.StateFailed, actions[1].State)
	assert.Equal(t, planner.StatePlanned, actions[2].State)
	assert.Equal(t, 0, h.ledger.Calls(sim.OpFinalize))
	expected := `
# HELP autoranker_actions_total ledger actions processed by kind and result
# TYPE autoranker_actions_total counter
autoranker_actions_total{kind="commit",result="confirmed"} 1
autoranker_actions_total{kind="reveal",result="failed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(
		h.registry,
		strings.NewReader(expected),
		"autoranker_actions_total",
	))
}

func TestExecutePendingRecovery(t *testing.T) {
	h := newHarness(t)
	h.ledger.PendNext(sim.OpCommit)
	actions := h.planner.Plan(planner.Input{
		ItemID:     1,
		Resolution: round.Resolution{Phase: round.PhaseNoActiveRound},
		Intent:     h.intent(t),
		Account:    h.curator,
	})
	require.NoError(t, h.exec.Execute(context.Background(), actions))
	// The pending commit is awaited, not resubmitted
	assert.Equal(t, 1, h.ledger.Calls(sim.OpCommit))
	assert.NotEmpty(t, actions[0].TxRef)
}

func TestExecuteRevealWithoutIntent(t *testing.T) {
	h := newHarness(t)
	actions := h.planner.Plan(planner.Input{
		ItemID:     1,
		Resolution: round.Resolution{Phase: round.PhaseReveal, Remaining: time.Second},
		Account:    h.curator,
	})
	err := h.exec.Execute(context.Background(), actions)
	require.ErrorIs(t, err, executor.ErrMissingIntent)
	assert.Equal(t, 0, h.ledger.Calls(sim.OpReveal))
	assert.Equal(t, 0, h.ledger.Calls(sim.OpFinalize))
}

func TestExecuteFinalizeAlreadyClosed(t *testing.T) {
	h := newHarness(t)
	actions := h.planner.Plan(planner.Input{
		ItemID:     1,
		Resolution: round.Resolution{Phase: round.PhaseFinishEligible},
		Account:    h.curator,
	})
	require.NoError(t, h.exec.Execute(context.Background(), actions))
	assert.True(t, actions[0].Completed())
	assert.Empty(t, actions[0].TxRef)
	assert.Equal(t, 0, h.ledger.Calls(sim.OpFinalize))
}

func TestExecuteFunding(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetBalances(h.owner.Address(), big.NewInt(100), big.NewInt(100))
	ctx := context.Background()
	balances, err := h.ledger.GetAccountBalances(ctx, h.curator.Address())
	require.NoError(t, err)
	actions := h.planner.Plan(planner.Input{
		ItemID:     1,
		Resolution: round.Resolution{Phase: round.PhaseFinishEligible},
		Account:    h.curator,
		Balances:   balances,
	})
	require.Equal(
		t,
		[]planner.Kind{planner.KindFundEther, planner.KindFundToken, planner.KindFinalize},
		planner.Kinds(actions),
	)
	// Another worker funds the token balance first
	_, err = h.ledger.SubmitFund(ctx, h.owner, ledger.AssetToken, h.curator.Address(), big.NewInt(3))
	require.NoError(t, err)
	require.NoError(t, h.exec.Execute(ctx, actions))
	assert.Equal(t, 2, h.ledger.Calls(sim.OpFund))
	balances, err = h.ledger.GetAccountBalances(ctx, h.curator.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(10), balances.Native.Int64())
	assert.Equal(t, int64(3), balances.Token.Int64())
}

func TestExecuteCancelledDuringWait(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	exec, err := executor.NewExecutor(executor.ExecutorConfig{
		Gateway: h.ledger,
		Sleep: func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		},
	})
	require.NoError(t, err)
	actions := h.planner.Plan(planner.Input{
		ItemID:     1,
		Resolution: round.Resolution{Phase: round.PhaseNoActiveRound},
		Intent:     h.intent(t),
		Account:    h.curator,
	})
	err = exec.Execute(ctx, actions)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, planner.StateFailed, actions[1].State)
	assert.Equal(t, 0, h.ledger.Calls(sim.OpReveal))
}

func TestExecuteResumesInterruptedCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	interrupted, err := executor.NewExecutor(executor.ExecutorConfig{
		Gateway: h.ledger,
		Intents: h.intents,
		Sleep: func(context.Context, time.Duration) error {
			return context.Canceled
		},
	})
	require.NoError(t, err)
	committed := h.intent(t)
	actions := h.planner.Plan(planner.Input{
		ItemID:     1,
		Resolution: round.Resolution{Phase: round.PhaseNoActiveRound},
		Intent:     committed,
		Account:    h.curator,
	})
	require.ErrorIs(t, interrupted.Execute(ctx, actions), context.Canceled)
	require.Equal(t, 1, h.ledger.Calls(sim.OpCommit))

	// Same commit phase, fresh draw for the same account
	fresh := h.intentFrom(t, rand.New(rand.NewPCG(7, 8)))
	require.NotEqual(t, committed.CommitHash, fresh.CommitHash)
	actions = h.planner.Plan(planner.Input{
		ItemID:     1,
		Resolution: round.Resolution{Phase: round.PhaseCommit, Remaining: 30 * time.Second},
		Intent:     fresh,
		Account:    h.curator,
	})
	require.NoError(t, h.exec.Execute(ctx, actions))
	assert.Equal(t, 1, h.ledger.Calls(sim.OpCommit))
	assert.Equal(t, committed.CommitHash, actions[1].Intent.CommitHash)
	stored, ok, err := h.intents.LookupIntent(1, h.curator.Address())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, committed.CommitHash, stored.CommitHash)
	assert.Equal(t, uint64(1), stored.RoundID)
	item, err := h.ledger.GetItem(ctx, 1)
	require.NoError(t, err)
	expected := new(big.Int).Add(big.NewInt(1_000), committed.Magnitude)
	assert.Equal(t, expected, item.Rank)
}

func TestExecuteCommittedWithoutStoredIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	other := h.intentFrom(t, rand.New(rand.NewPCG(9, 10)))
	_, err := h.ledger.SubmitCommit(ctx, h.curator, 1, other.CommitHash)
	require.NoError(t, err)
	actions := h.planner.Plan(planner.Input{
		ItemID:     1,
		Resolution: round.Resolution{Phase: round.PhaseCommit, Remaining: 30 * time.Second},
		Intent:     h.intent(t),
		Account:    h.curator,
	})
	err = h.exec.Execute(ctx, actions)
	require.ErrorIs(t, err, executor.ErrAlreadyCommitted)
	assert.Empty(t, h.intents.saved)
	assert.Equal(t, 1, h.ledger.Calls(sim.OpCommit))
}

func TestExecuteWaitsFollowLedgerRound(t *testing.T) {
	clock := sim.NewManualClock(time.Unix(1_000_000, 0))
	owner, err := keystore.GenerateAccount()
	require.NoError(t, err)
	curator, err := keystore.GenerateAccount()
	require.NoError(t, err)
	l := sim.New(sim.Config{
		Owner:        owner.Address(),
		Now:          clock.Now,
		CommitWindow: 50 * time.Second,
		RevealWindow: 40 * time.Second,
	})
	ctx := context.Background()
	_, err = l.SubmitRegisterBatch(ctx, owner, []uint64{1}, []*big.Int{big.NewInt(1_000)})
	require.NoError(t, err)
	var sleeps []time.Duration
	exec, err := executor.NewExecutor(executor.ExecutorConfig{
		Gateway:     l,
		Intents:     &memIntents{},
		WaitPadding: time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return clock.Sleep(ctx, d)
		},
	})
	require.NoError(t, err)
	// The planner only knows its default 30s windows
	p := planner.NewPlanner(planner.PlannerConfig{})
	h := &harness{clock: clock}
	actions := p.Plan(planner.Input{
		ItemID:     1,
		Resolution: round.Resolution{Phase: round.PhaseNoActiveRound},
		Intent:     h.intent(t),
		Account:    curator,
	})
	require.NoError(t, exec.Execute(ctx, actions))
	assert.Equal(t, []time.Duration{51 * time.Second, 41 * time.Second}, sleeps)
	assert.Equal(t, 1, l.Calls(sim.OpFinalize))
}
