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

// Package sim provides an in-memory ranking ledger that follows the same
// commit-reveal rules as the on-chain ranking contract. It is used for
// development runs and tests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/blinklabs-io/autoranker/commitment"
	"github.com/blinklabs-io/autoranker/ledger"
	"github.com/blinklabs-io/autoranker/round"
	"github.com/ethereum/go-ethereum/common"
)

// Op names a kind of ledger submission
type Op string

const (
	OpCommit   Op = "commit"
	OpReveal   Op = "reveal"
	OpFinalize Op = "finalize"
	OpFund     Op = "fund"
	OpRegister Op = "register"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyRegistered = errors.New("item already registered")
	ErrAlreadyVoted      = errors.New("account already voted in this round")
	ErrNotCommitted      = errors.New("account has no commitment in this round")
	ErrHashMismatch      = errors.New("revealed vote does not match commitment")
	ErrBadBatch          = errors.New("ids and ranks length mismatch")
)

type Config struct {
	Owner        common.Address
	CommitWindow time.Duration
	RevealWindow time.Duration
	// RequireFunds makes votes fail for accounts holding no native or token balance
	RequireFunds bool
	Now          func() time.Time
}

type item struct {
	id            uint64
	owner         common.Address
	rank          *big.Int
	activeRoundID uint64
}

type vote struct {
	hash      common.Hash
	revealed  bool
	direction commitment.Direction
	magnitude *big.Int
}

type simRound struct {
	info     ledger.RoundInfo
	finished bool
	votes    map[common.Address]*vote
	voters   []common.Address
}

type injected struct {
	err     error
	pending bool
}

// Ledger is an in-memory implementation of ledger.Gateway
type Ledger struct {
	mu          sync.Mutex
	config      Config
	items       map[uint64]*item
	order       []uint64
	rounds      map[uint64]*simRound
	lastRoundID uint64
	native      map[common.Address]*big.Int
	token       map[common.Address]*big.Int
	txs         map[ledger.TxRef]error
	nonce       uint64
	calls       map[Op]int
	inject      map[Op][]injected
}

var _ ledger.Gateway = (*Ledger)(nil)

func New(cfg Config) *Ledger {
	if cfg.CommitWindow == 0 {
		cfg.CommitWindow = 30 * time.Second
	}
	if cfg.RevealWindow == 0 {
		cfg.RevealWindow = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ledger{
		config: cfg,
		items:  make(map[uint64]*item),
		rounds: make(map[uint64]*simRound),
		native: make(map[common.Address]*big.Int),
		token:  make(map[common.Address]*big.Int),
		txs:    make(map[ledger.TxRef]error),
		calls:  make(map[Op]int),
		inject: make(map[Op][]injected),
	}
}

// SetBalances sets the native and token balances of an account
func (l *Ledger) SetBalances(addr common.Address, native, token *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.native[addr] = new(big.Int).Set(native)
	l.token[addr] = new(big.Int).Set(token)
}

// FailNext makes the next submission of op fail with err without applying it
func (l *Ledger) FailNext(op Op, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inject[op] = append(l.inject[op], injected{err: err})
}

// PendNext makes the next submission of op apply but report that it was
// already pending, as when a node has seen an identical transaction
func (l *Ledger) PendNext(op Op) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inject[op] = append(l.inject[op], injected{pending: true})
}

// Calls returns the number of submissions attempted for op
func (l *Ledger) Calls(op Op) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

// Voters returns the accounts that committed in a round
func (l *Ledger) Voters(roundID uint64) []common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rounds[roundID]
	if !ok {
		return nil
	}
	return append([]common.Address(nil), r.voters...)
}

func (l *Ledger) Now(_ context.Context) (time.Time, error) {
	return l.config.Now(), nil
}

func (l *Ledger) GetItem(_ context.Context, id uint64) (*ledger.Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[id]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", id, ledger.ErrNotFound)
	}
	return &ledger.Item{
		ID:            it.id,
		Owner:         it.owner,
		Rank:          new(big.Int).Set(it.rank),
		Balance:       new(big.Int),
		ActiveRoundID: it.activeRoundID,
	}, nil
}

func (l *Ledger) GetItemState(_ context.Context, id uint64) (ledger.ItemState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[id]
	if !ok {
		return ledger.ItemStateNone, fmt.Errorf("item %d: %w", id, ledger.ErrNotFound)
	}
	if it.activeRoundID != 0 {
		return ledger.ItemStateInRound, nil
	}
	return ledger.ItemStateNone, nil
}

func (l *Ledger) GetRound(_ context.Context, roundID uint64) (*ledger.RoundInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rounds[roundID]
	if !ok {
		return nil, fmt.Errorf("round %d: %w", roundID, ledger.ErrNotFound)
	}
	info := r.info
	info.Voters = append([]common.Address(nil), r.voters...)
	return &info, nil
}

func (l *Ledger) GetRoundState(_ context.Context, roundID uint64) (ledger.RoundState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rounds[roundID]
	if !ok {
		return ledger.RoundStateFinished, fmt.Errorf("round %d: %w", roundID, ledger.ErrNotFound)
	}
	return l.roundState(r), nil
}

func (l *Ledger) roundState(r *simRound) ledger.RoundState {
	if r.finished {
		return ledger.RoundStateFinished
	}
	switch round.Resolve(l.config.Now(), r.info.Round(ledger.RoundStateCommitting)).Phase {
	case round.PhasePreStart, round.PhaseCommit:
		return ledger.RoundStateCommitting
	default:
		return ledger.RoundStateRevealing
	}
}

func (l *Ledger) ListItemsWithRank(_ context.Context) ([]uint64, []*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]uint64, 0, len(l.order))
	ranks := make([]*big.Int, 0, len(l.order))
	for _, id := range l.order {
		ids = append(ids, id)
		ranks = append(ranks, new(big.Int).Set(l.items[id].rank))
	}
	return ids, ranks, nil
}

func (l *Ledger) GetAccountBalances(_ context.Context, addr common.Address) (*ledger.Balances, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &ledger.Balances{
		Native: new(big.Int).Set(l.balance(l.native, addr)),
		Token:  new(big.Int).Set(l.balance(l.token, addr)),
	}, nil
}

func (l *Ledger) balance(m map[common.Address]*big.Int, addr common.Address) *big.Int {
	if b, ok := m[addr]; ok {
		return b
	}
	return new(big.Int)
}

// submit runs apply under the ledger lock, honoring injected failures
func (l *Ledger) submit(op Op, apply func() error) (ledger.TxRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[op]++
	var inj injected
	if q := l.inject[op]; len(q) > 0 {
		inj = q[0]
		l.inject[op] = q[1:]
	}
	if inj.err != nil {
		return "", &ledger.SubmissionError{Op: string(op), Err: inj.err}
	}
	if err := apply(); err != nil {
		return "", &ledger.SubmissionError{Op: string(op), Err: err}
	}
	l.nonce++
	ref := ledger.TxRef(common.BigToHash(new(big.Int).SetUint64(l.nonce)).Hex())
	l.txs[ref] = nil
	if inj.pending {
		return "", &ledger.PendingError{Ref: ref, Err: errors.New("already known")}
	}
	return ref, nil
}

func (l *Ledger) activeRound(itemID uint64) (*item, *simRound, error) {
	it, ok := l.items[itemID]
	if !ok {
		return nil, nil, fmt.Errorf("item %d: %w", itemID, ledger.ErrNotFound)
	}
	if it.activeRoundID == 0 {
		return it, nil, nil
	}
	return it, l.rounds[it.activeRoundID], nil
}

func (l *Ledger) checkFunds(addr common.Address) error {
	if !l.config.RequireFunds {
		return nil
	}
	if l.balance(l.native, addr).Sign() == 0 || l.balance(l.token, addr).Sign() == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

func (l *Ledger) SubmitCommit(
	_ context.Context,
	signer ledger.Signer,
	itemID uint64,
	hash common.Hash,
) (ledger.TxRef, error) {
	return l.submit(OpCommit, func() error {
		it, r, err := l.activeRound(itemID)
		if err != nil {
			return err
		}
		if err := l.checkFunds(signer.Address()); err != nil {
			return err
		}
		now := l.config.Now()
		if r == nil {
			l.lastRoundID++
			r = &simRound{
				info: ledger.RoundInfo{
					ID:           l.lastRoundID,
					ItemID:       itemID,
					StartTime:    now,
					CommitWindow: l.config.CommitWindow,
					RevealWindow: l.config.RevealWindow,
				},
				votes: make(map[common.Address]*vote),
			}
			l.rounds[r.info.ID] = r
			it.activeRoundID = r.info.ID
		}
		if round.Resolve(now, r.info.Round(ledger.RoundStateCommitting)).Phase != round.PhaseCommit {
			return ledger.ErrWrongPhase
		}
		if _, ok := r.votes[signer.Address()]; ok {
			return ErrAlreadyVoted
		}
		r.votes[signer.Address()] = &vote{hash: hash}
		r.voters = append(r.voters, signer.Address())
		return nil
	})
}

func (l *Ledger) SubmitReveal(
	_ context.Context,
	signer ledger.Signer,
	itemID uint64,
	direction commitment.Direction,
	magnitude *big.Int,
	salt *big.Int,
) (ledger.TxRef, error) {
	return l.submit(OpReveal, func() error {
		_, r, err := l.activeRound(itemID)
		if err != nil {
			return err
		}
		if r == nil {
			return ledger.ErrWrongPhase
		}
		if round.Resolve(l.config.Now(), r.info.Round(ledger.RoundStateCommitting)).Phase != round.PhaseReveal {
			return ledger.ErrWrongPhase
		}
		v, ok := r.votes[signer.Address()]
		if !ok {
			return ErrNotCommitted
		}
		if v.revealed {
			return ErrAlreadyVoted
		}
		if commitment.Hash(direction, magnitude, salt) != v.hash {
			return ErrHashMismatch
		}
		v.revealed = true
		v.direction = direction
		v.magnitude = new(big.Int).Set(magnitude)
		return nil
	})
}

func (l *Ledger) SubmitFinalize(
	_ context.Context,
	_ ledger.Signer,
	itemID uint64,
) (ledger.TxRef, error) {
	return l.submit(OpFinalize, func() error {
		it, r, err := l.activeRound(itemID)
		if err != nil {
			return err
		}
		if r == nil {
			return ledger.ErrWrongPhase
		}
		if round.Resolve(l.config.Now(), r.info.Round(ledger.RoundStateCommitting)).Phase != round.PhaseFinishEligible {
			return ledger.ErrWrongPhase
		}
		net := new(big.Int)
		for _, addr := range r.voters {
			v := r.votes[addr]
			if !v.revealed {
				continue
			}
			if v.direction == commitment.DirectionUp {
				net.Add(net, v.magnitude)
			} else {
				net.Sub(net, v.magnitude)
			}
		}
		it.rank.Add(it.rank, net)
		if it.rank.Sign() < 0 {
			it.rank.SetInt64(0)
		}
		r.finished = true
		it.activeRoundID = 0
		return nil
	})
}

func (l *Ledger) SubmitFund(
	_ context.Context,
	from ledger.Signer,
	asset ledger.Asset,
	to common.Address,
	amount *big.Int,
) (ledger.TxRef, error) {
	return l.submit(OpFund, func() error {
		balances := l.native
		if asset == ledger.AssetToken {
			balances = l.token
		}
		src := l.balance(balances, from.Address())
		if src.Cmp(amount) < 0 {
			return ErrInsufficientFunds
		}
		balances[from.Address()] = new(big.Int).Sub(src, amount)
		balances[to] = new(big.Int).Add(l.balance(balances, to), amount)
		return nil
	})
}

func (l *Ledger) SubmitRegisterBatch(
	_ context.Context,
	owner ledger.Signer,
	ids []uint64,
	ranks []*big.Int,
) (ledger.TxRef, error) {
	return l.submit(OpRegister, func() error {
		if owner.Address() != l.config.Owner {
			return ledger.ErrNotOwner
		}
		if len(ids) != len(ranks) {
			return ErrBadBatch
		}
		for _, id := range ids {
			if _, ok := l.items[id]; ok {
				return fmt.Errorf("%w: %d", ErrAlreadyRegistered, id)
			}
		}
		for i, id := range ids {
			l.items[id] = &item{
				id:    id,
				owner: owner.Address(),
				rank:  new(big.Int).Set(ranks[i]),
			}
			l.order = append(l.order, id)
		}
		return nil
	})
}

func (l *Ledger) AwaitConfirmation(ctx context.Context, ref ledger.TxRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	txErr, ok := l.txs[ref]
	if !ok {
		return fmt.Errorf("transaction %s: %w", ref, ledger.ErrNotFound)
	}
	if txErr != nil {
		return fmt.Errorf("%w: %s", ledger.ErrReverted, txErr)
	}
	return nil
}

// Remove deletes an item from the ledger listing, as when an item is delisted
func (l *Ledger) Remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.items, id)
	for i, oid := range l.order {
		if oid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}
