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

package planner

import (
	"bytes"
	"crypto/ecdsa"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/blinklabs-io/autoranker/ledger"
	"github.com/blinklabs-io/autoranker/round"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSigner struct {
	key *ecdsa.PrivateKey
}

func newTestSigner(t *testing.T) *testSigner {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &testSigner{key: key}
}

func (s *testSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *testSigner) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}

func funded() *ledger.Balances {
	return &ledger.Balances{Native: big.NewInt(1), Token: big.NewInt(1)}
}

func TestPlanTable(t *testing.T) {
	w := 30 * time.Second
	openRound := &round.Round{
		ID:           4,
		ItemID:       1,
		StartTime:    time.Unix(50, 0),
		CommitWindow: w,
		RevealWindow: w,
	}
	p := NewPlanner(PlannerConfig{
		CommitWindow: 40 * time.Second,
		RevealWindow: 50 * time.Second,
	})
	testDefs := []struct {
		name  string
		now   int64
		round *round.Round
		kinds []Kind
		waits []time.Duration
	}{
		{
			name:  "no active round",
			now:   100,
			round: nil,
			kinds: []Kind{KindCommit, KindReveal, KindFinalize},
			waits: []time.Duration{40 * time.Second, 50 * time.Second, 0},
		},
		{
			name:  "pre start",
			now:   10,
			round: openRound,
			kinds: []Kind{KindCommit, KindReveal, KindFinalize},
			waits: []time.Duration{w, w, 0},
		},
		{
			name:  "commit",
			now:   60,
			round: openRound,
			kinds: []Kind{KindCommit, KindReveal, KindFinalize},
			waits: []time.Duration{20 * time.Second, w, 0},
		},
		{
			name:  "reveal",
			now:   100,
			round: openRound,
			kinds: []Kind{KindReveal, KindFinalize},
			waits: []time.Duration{10 * time.Second, 0},
		},
		{
			name:  "finish eligible",
			now:   200,
			round: openRound,
			kinds: []Kind{KindFinalize},
			waits: []time.Duration{0},
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			signer := newTestSigner(t)
			res := round.Resolve(time.Unix(testDef.now, 0), testDef.round)
			actions := p.Plan(Input{
				ItemID:     1,
				Round:      testDef.round,
				Resolution: res,
				Account:    signer,
				Balances:   funded(),
			})
			assert.Equal(t, testDef.kinds, Kinds(actions))
			for i, a := range actions {
				assert.Equal(t, testDef.waits[i], a.WaitAfter, "action %d", i)
				assert.Equal(t, StatePlanned, a.State)
				assert.Equal(t, uint64(1), a.ItemID)
			}
		})
	}
}

func TestPlanPreStartWithoutRound(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlanner(PlannerConfig{
		Logger:       slog.New(slog.NewJSONHandler(&buf, nil)),
		CommitWindow: 40 * time.Second,
		RevealWindow: 50 * time.Second,
	})
	var actions []*Action
	require.NotPanics(t, func() {
		actions = p.Plan(Input{
			ItemID:     1,
			Resolution: round.Resolution{Phase: round.PhasePreStart},
			Account:    newTestSigner(t),
			Balances:   funded(),
		})
	})
	assert.Equal(t, []Kind{KindCommit, KindReveal, KindFinalize}, Kinds(actions))
	assert.Equal(t, 40*time.Second, actions[0].WaitAfter)
	assert.Contains(t, buf.String(), "round start is in the future")
	assert.NotContains(t, buf.String(), `"start"`)
}

func TestPlanFunding(t *testing.T) {
	treasury := newTestSigner(t)
	account := newTestSigner(t)
	p := NewPlanner(PlannerConfig{
		Treasury:        treasury,
		FundEtherAmount: big.NewInt(100),
		FundTokenAmount: big.NewInt(200),
		FundGrace:       3 * time.Second,
	})
	actions := p.Plan(Input{
		ItemID:     9,
		Resolution: round.Resolution{Phase: round.PhaseFinishEligible},
		Account:    account,
		Balances: &ledger.Balances{
			Native: big.NewInt(0),
			Token:  big.NewInt(0),
		},
	})
	require.Equal(
		t,
		[]Kind{KindFundEther, KindFundToken, KindFinalize},
		Kinds(actions),
	)
	assert.Equal(t, account.Address(), actions[0].To)
	assert.Equal(t, treasury, actions[0].Signer)
	assert.Equal(t, big.NewInt(100), actions[0].Amount)
	assert.Equal(t, 3*time.Second, actions[0].WaitAfter)
	assert.Equal(t, big.NewInt(200), actions[1].Amount)
	assert.Equal(t, []any{account.Address(), big.NewInt(200)}, actions[1].Params())

	// Only the empty balance is topped up
	actions = p.Plan(Input{
		ItemID:     9,
		Resolution: round.Resolution{Phase: round.PhaseFinishEligible},
		Account:    account,
		Balances: &ledger.Balances{
			Native: big.NewInt(5),
			Token:  big.NewInt(0),
		},
	})
	assert.Equal(t, []Kind{KindFundToken, KindFinalize}, Kinds(actions))
}

func TestPlanFundingWithoutTreasury(t *testing.T) {
	p := NewPlanner(PlannerConfig{})
	actions := p.Plan(Input{
		ItemID:     9,
		Resolution: round.Resolution{Phase: round.PhaseFinishEligible},
		Account:    newTestSigner(t),
		Balances:   &ledger.Balances{},
	})
	assert.Equal(t, []Kind{KindFinalize}, Kinds(actions))
}

func TestActionStateTransitions(t *testing.T) {
	a := &Action{Kind: KindFinalize, ItemID: 3}
	assert.Equal(t, []any{uint64(3)}, a.Params())
	assert.False(t, a.Completed())
	a.MarkSubmitted("0x01")
	assert.Equal(t, StateSubmitted, a.State)
	assert.Equal(t, ledger.TxRef("0x01"), a.TxRef)
	a.MarkConfirmed()
	assert.True(t, a.Completed())
	assert.Equal(t, "finalize(item=3, wait=0s, state=confirmed)", a.String())
}
