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

// Package planner turns a round phase into the ordered queue of ledger
// actions that is legal to attempt next.
package planner

import (
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/blinklabs-io/autoranker/commitment"
	"github.com/blinklabs-io/autoranker/ledger"
	"github.com/blinklabs-io/autoranker/round"
)

const (
	DefaultCommitWindow = 30 * time.Second
	DefaultRevealWindow = 30 * time.Second
	DefaultFundGrace    = 5 * time.Second
)

type PlannerConfig struct {
	Logger *slog.Logger
	// Treasury funds accounts with an empty balance. Funding is skipped when nil.
	Treasury        ledger.Signer
	FundEtherAmount *big.Int
	FundTokenAmount *big.Int
	FundGrace       time.Duration
	// Windows used when no round is open yet and the ledger has not told us its timing
	CommitWindow time.Duration
	RevealWindow time.Duration
}

type Planner struct {
	config PlannerConfig
	logger *slog.Logger
}

func NewPlanner(cfg PlannerConfig) *Planner {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.CommitWindow == 0 {
		cfg.CommitWindow = DefaultCommitWindow
	}
	if cfg.RevealWindow == 0 {
		cfg.RevealWindow = DefaultRevealWindow
	}
	if cfg.FundGrace == 0 {
		cfg.FundGrace = DefaultFundGrace
	}
	return &Planner{
		config: cfg,
		logger: cfg.Logger.With("component", "planner"),
	}
}

// Input is the snapshot a plan is built from
type Input struct {
	ItemID     uint64
	Round      *round.Round
	Resolution round.Resolution
	Intent     *commitment.VoteIntent
	Account    ledger.Signer
	// Balances of Account, read right before planning. Nil skips funding.
	Balances *ledger.Balances
}

// Plan returns the ordered action queue for the given phase
func (p *Planner) Plan(in Input) []*Action {
	commitWindow, revealWindow := p.windows(in.Round)
	var ret []*Action
	ret = append(ret, p.funding(in)...)
	switch in.Resolution.Phase {
	case round.PhaseNoActiveRound, round.PhasePreStart:
		if in.Resolution.Phase == round.PhasePreStart {
			args := []any{"item", in.ItemID}
			if in.Round != nil {
				args = append(args, "start", in.Round.StartTime)
			}
			p.logger.Warn("round start is in the future", args...)
		}
		ret = append(
			ret,
			p.commit(in, commitWindow),
			p.reveal(in, revealWindow),
			p.finalize(in),
		)
	case round.PhaseCommit:
		ret = append(
			ret,
			p.commit(in, in.Resolution.Remaining),
			p.reveal(in, revealWindow),
			p.finalize(in),
		)
	case round.PhaseReveal:
		ret = append(
			ret,
			p.reveal(in, in.Resolution.Remaining),
			p.finalize(in),
		)
	case round.PhaseFinishEligible:
		ret = append(ret, p.finalize(in))
	}
	return ret
}

func (p *Planner) windows(r *round.Round) (time.Duration, time.Duration) {
	if r == nil || r.ID == 0 {
		return p.config.CommitWindow, p.config.RevealWindow
	}
	return r.CommitWindow, r.RevealWindow
}

func (p *Planner) funding(in Input) []*Action {
	if in.Balances == nil || in.Account == nil {
		return nil
	}
	if !in.Balances.Empty() {
		return nil
	}
	if p.config.Treasury == nil {
		p.logger.Warn(
			"account has an empty balance and no treasury is configured",
			"account", in.Account.Address().Hex(),
		)
		return nil
	}
	var ret []*Action
	if in.Balances.NativeEmpty() {
		ret = append(ret, &Action{
			Kind:      KindFundEther,
			ItemID:    in.ItemID,
			Signer:    p.config.Treasury,
			To:        in.Account.Address(),
			Amount:    p.config.FundEtherAmount,
			WaitAfter: p.config.FundGrace,
		})
	}
	if in.Balances.TokenEmpty() {
		ret = append(ret, &Action{
			Kind:      KindFundToken,
			ItemID:    in.ItemID,
			Signer:    p.config.Treasury,
			To:        in.Account.Address(),
			Amount:    p.config.FundTokenAmount,
			WaitAfter: p.config.FundGrace,
		})
	}
	return ret
}

func (p *Planner) commit(in Input, wait time.Duration) *Action {
	return &Action{
		Kind:      KindCommit,
		ItemID:    in.ItemID,
		Signer:    in.Account,
		Intent:    in.Intent,
		WaitAfter: wait,
	}
}

func (p *Planner) reveal(in Input, wait time.Duration) *Action {
	return &Action{
		Kind:      KindReveal,
		ItemID:    in.ItemID,
		Signer:    in.Account,
		Intent:    in.Intent,
		WaitAfter: wait,
	}
}

func (p *Planner) finalize(in Input) *Action {
	return &Action{
		Kind:   KindFinalize,
		ItemID: in.ItemID,
		Signer: in.Account,
	}
}
