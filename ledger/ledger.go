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

// Package ledger defines the gateway through which the driver reads and
// writes the authoritative ranking ledger.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/blinklabs-io/autoranker/commitment"
	"github.com/blinklabs-io/autoranker/round"
	"github.com/ethereum/go-ethereum/common"
)

// TxRef identifies a submitted transaction
type TxRef string

func (r TxRef) String() string {
	return string(r)
}

type ItemState int

const (
	ItemStateNone ItemState = iota
	ItemStateInRound
)

type RoundState int

const (
	RoundStateCommitting RoundState = iota
	RoundStateRevealing
	RoundStateFinished
)

func (s RoundState) String() string {
	switch s {
	case RoundStateCommitting:
		return "committing"
	case RoundStateRevealing:
		return "revealing"
	case RoundStateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Asset selects which balance a fund transfer moves
type Asset int

const (
	AssetNative Asset = iota
	AssetToken
)

func (a Asset) String() string {
	if a == AssetToken {
		return "token"
	}
	return "native"
}

// Item is the ledger's view of a ranked entry
type Item struct {
	ID            uint64
	Owner         common.Address
	Rank          *big.Int
	Balance       *big.Int
	ActiveRoundID uint64
}

// RoundInfo holds the public timing parameters of a round
type RoundInfo struct {
	ID           uint64
	ItemID       uint64
	StartTime    time.Time
	CommitWindow time.Duration
	RevealWindow time.Duration
	// Voters are the accounts that committed in this round, in commit order
	Voters []common.Address
}

// HasVoter reports whether addr committed in the round
func (r *RoundInfo) HasVoter(addr common.Address) bool {
	if r == nil {
		return false
	}
	for _, voter := range r.Voters {
		if voter == addr {
			return true
		}
	}
	return false
}

// Round converts the ledger view into a round with the given status applied
func (r *RoundInfo) Round(state RoundState) *round.Round {
	return &round.Round{
		ID:           r.ID,
		ItemID:       r.ItemID,
		StartTime:    r.StartTime,
		CommitWindow: r.CommitWindow,
		RevealWindow: r.RevealWindow,
		Finished:     state == RoundStateFinished,
	}
}

// Balances of an account
type Balances struct {
	Native *big.Int
	Token  *big.Int
}

// Empty reports whether either balance is zero
func (b *Balances) Empty() bool {
	return b.NativeEmpty() || b.TokenEmpty()
}

func (b *Balances) NativeEmpty() bool {
	return b.Native == nil || b.Native.Sign() == 0
}

func (b *Balances) TokenEmpty() bool {
	return b.Token == nil || b.Token.Sign() == 0
}

// Signer is an account able to sign ledger transactions
type Signer interface {
	Address() common.Address
	PrivateKey() *ecdsa.PrivateKey
}

// Gateway is the narrow interface to the ranking ledger. Read methods return
// ErrNotFound for absent items and rounds. Submit methods return a *PendingError
// when the ledger already holds an identical pending submission.
type Gateway interface {
	GetItem(ctx context.Context, id uint64) (*Item, error)
	GetItemState(ctx context.Context, id uint64) (ItemState, error)
	GetRound(ctx context.Context, roundID uint64) (*RoundInfo, error)
	GetRoundState(ctx context.Context, roundID uint64) (RoundState, error)
	// ListItemsWithRank returns index-aligned ids and ranks
	ListItemsWithRank(ctx context.Context) ([]uint64, []*big.Int, error)
	GetAccountBalances(ctx context.Context, address common.Address) (*Balances, error)

	SubmitCommit(ctx context.Context, signer Signer, itemID uint64, hash common.Hash) (TxRef, error)
	SubmitReveal(
		ctx context.Context,
		signer Signer,
		itemID uint64,
		direction commitment.Direction,
		magnitude *big.Int,
		salt *big.Int,
	) (TxRef, error)
	SubmitFinalize(ctx context.Context, signer Signer, itemID uint64) (TxRef, error)
	SubmitFund(
		ctx context.Context,
		from Signer,
		asset Asset,
		to common.Address,
		amount *big.Int,
	) (TxRef, error)
	SubmitRegisterBatch(
		ctx context.Context,
		owner Signer,
		ids []uint64,
		ranks []*big.Int,
	) (TxRef, error)

	// AwaitConfirmation blocks until ref is included. It returns ErrReverted
	// when the transaction was included but failed.
	AwaitConfirmation(ctx context.Context, ref TxRef) error
}

// Clock is implemented by gateways that know the ledger's notion of time
type Clock interface {
	Now(ctx context.Context) (time.Time, error)
}
