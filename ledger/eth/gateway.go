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

// Package eth implements the ledger gateway on an Ethereum JSON-RPC node
// hosting the ranking contract.
package eth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/blinklabs-io/autoranker/commitment"
	"github.com/blinklabs-io/autoranker/ledger"
	"github.com/blinklabs-io/autoranker/round"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/txpool"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
)

const (
	DefaultPollInterval  = 2 * time.Second
	DefaultSubmitTimeout = 30 * time.Second
)

var (
	ErrNoBackend        = errors.New("no ethereum backend configured")
	ErrNoContract       = errors.New("ranking contract address is not set")
	ErrUnexpectedOutput = errors.New("unexpected contract call output")
	ErrInvalidTxRef     = errors.New("invalid transaction reference")
	ErrMismatchedBatch  = errors.New("ids and ranks differ in length")
	ErrValueOutOfRange  = errors.New("contract value out of range")
)

var (
	_ ledger.Gateway = (*Gateway)(nil)
	_ ledger.Clock   = (*Gateway)(nil)
)

// Backend is the node API the gateway needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type GatewayConfig struct {
	Backend         Backend
	ContractAddress common.Address
	// TokenAddress defaults to ContractAddress
	TokenAddress  common.Address
	ChainID       *big.Int
	PollInterval  time.Duration
	SubmitTimeout time.Duration
	Logger        *slog.Logger
}

// Gateway talks to the ranking contract
type Gateway struct {
	config       GatewayConfig
	logger       *slog.Logger
	chainID      *big.Int
	ranking      *bind.BoundContract
	token        *bind.BoundContract
	accountMu    sync.Mutex
	accountLocks map[common.Address]*sync.Mutex
	closeFunc    func()
}

// Dial connects to rpcURL and creates a gateway that owns the connection
func Dial(ctx context.Context, rpcURL string, cfg GatewayConfig) (*Gateway, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	cfg.Backend = client
	g, err := NewGateway(ctx, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	g.closeFunc = client.Close
	return g, nil
}

func NewGateway(ctx context.Context, cfg GatewayConfig) (*Gateway, error) {
	if cfg.Backend == nil {
		return nil, ErrNoBackend
	}
	if cfg.ContractAddress == (common.Address{}) {
		return nil, ErrNoContract
	}
	if cfg.TokenAddress == (common.Address{}) {
		cfg.TokenAddress = cfg.ContractAddress
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	parsed, err := RankingABI()
	if err != nil {
		return nil, fmt.Errorf("parse ranking ABI: %w", err)
	}
	chainID := cfg.ChainID
	if chainID == nil {
		chainID, err = cfg.Backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("query chain id: %w", err)
		}
	}
	return &Gateway{
		config:  cfg,
		logger:  cfg.Logger.With("component", "ledger"),
		chainID: new(big.Int).Set(chainID),
		ranking: bind.NewBoundContract(
			cfg.ContractAddress, parsed, cfg.Backend, cfg.Backend, cfg.Backend,
		),
		token: bind.NewBoundContract(
			cfg.TokenAddress, parsed, cfg.Backend, cfg.Backend, cfg.Backend,
		),
		accountLocks: make(map[common.Address]*sync.Mutex),
	}, nil
}

// Close releases the node connection if the gateway dialed it
func (g *Gateway) Close() {
	if g.closeFunc != nil {
		g.closeFunc()
	}
}

func (g *Gateway) ChainID() *big.Int {
	return new(big.Int).Set(g.chainID)
}

// Now returns the timestamp of the latest block
func (g *Gateway) Now(ctx context.Context) (time.Time, error) {
	header, err := g.config.Backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest header: %w", err)
	}
	return time.Unix(int64(header.Time), 0), nil //nolint:gosec
}

func (g *Gateway) GetItem(ctx context.Context, id uint64) (*ledger.Item, error) {
	out, err := g.call(ctx, g.ranking, methodGetItem, new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	if len(out) < 4 {
		return nil, fmt.Errorf("%s: %w", methodGetItem, ErrUnexpectedOutput)
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("%s owner: %w", methodGetItem, ErrUnexpectedOutput)
	}
	if owner == (common.Address{}) {
		return nil, fmt.Errorf("item %d: %w", id, ledger.ErrNotFound)
	}
	rank, err := bigOut(out, 1)
	if err != nil {
		return nil, err
	}
	balance, err := bigOut(out, 2)
	if err != nil {
		return nil, err
	}
	votingID, err := uint64Out(out, 3)
	if err != nil {
		return nil, err
	}
	return &ledger.Item{
		ID:            id,
		Owner:         owner,
		Rank:          rank,
		Balance:       balance,
		ActiveRoundID: votingID,
	}, nil
}

func (g *Gateway) GetItemState(ctx context.Context, id uint64) (ledger.ItemState, error) {
	item, err := g.GetItem(ctx, id)
	if err != nil {
		return ledger.ItemStateNone, err
	}
	if item.ActiveRoundID != 0 {
		return ledger.ItemStateInRound, nil
	}
	return ledger.ItemStateNone, nil
}

func (g *Gateway) GetRound(ctx context.Context, roundID uint64) (*ledger.RoundInfo, error) {
	out, err := g.call(ctx, g.ranking, methodGetVoting, new(big.Int).SetUint64(roundID))
	if err != nil {
		return nil, err
	}
	vals := make([]uint64, 4)
	for i := range vals {
		if vals[i], err = uint64Out(out, i); err != nil {
			return nil, err
		}
	}
	if vals[0] == 0 {
		return nil, fmt.Errorf("round %d: %w", roundID, ledger.ErrNotFound)
	}
	if len(out) < 6 {
		return nil, ErrUnexpectedOutput
	}
	voters, ok := out[5].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("%w: voters is %T", ErrUnexpectedOutput, out[5])
	}
	return &ledger.RoundInfo{
		ID:           roundID,
		ItemID:       vals[3],
		StartTime:    time.Unix(int64(vals[0]), 0),         //nolint:gosec
		CommitWindow: time.Duration(vals[1]) * time.Second, //nolint:gosec
		RevealWindow: time.Duration(vals[2]) * time.Second, //nolint:gosec
		Voters:       voters,
	}, nil
}

// GetRoundState reports a round finished once its item no longer points at it
func (g *Gateway) GetRoundState(ctx context.Context, roundID uint64) (ledger.RoundState, error) {
	info, err := g.GetRound(ctx, roundID)
	if err != nil {
		return ledger.RoundStateFinished, err
	}
	item, err := g.GetItem(ctx, info.ItemID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.RoundStateFinished, nil
		}
		return ledger.RoundStateFinished, err
	}
	if item.ActiveRoundID != roundID {
		return ledger.RoundStateFinished, nil
	}
	now, err := g.Now(ctx)
	if err != nil {
		return ledger.RoundStateFinished, err
	}
	switch round.Resolve(now, info.Round(ledger.RoundStateCommitting)).Phase {
	case round.PhasePreStart, round.PhaseCommit:
		return ledger.RoundStateCommitting, nil
	default:
		return ledger.RoundStateRevealing, nil
	}
}

func (g *Gateway) ListItemsWithRank(ctx context.Context) ([]uint64, []*big.Int, error) {
	out, err := g.call(ctx, g.ranking, methodGetItemsWithRank)
	if err != nil {
		return nil, nil, err
	}
	if len(out) != 2 {
		return nil, nil, fmt.Errorf("%s: %w", methodGetItemsWithRank, ErrUnexpectedOutput)
	}
	rawIDs, ok := out[0].([]*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("%s ids: %w", methodGetItemsWithRank, ErrUnexpectedOutput)
	}
	ranks, ok := out[1].([]*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("%s ranks: %w", methodGetItemsWithRank, ErrUnexpectedOutput)
	}
	ids := make([]uint64, len(rawIDs))
	for i, id := range rawIDs {
		if !id.IsUint64() {
			return nil, nil, fmt.Errorf("item id %s: %w", id, ErrValueOutOfRange)
		}
		ids[i] = id.Uint64()
	}
	return ids, ranks, nil
}

func (g *Gateway) GetAccountBalances(ctx context.Context, address common.Address) (*ledger.Balances, error) {
	native, err := g.config.Backend.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("native balance of %s: %w", address, err)
	}
	out, err := g.call(ctx, g.token, methodBalanceOf, address)
	if err != nil {
		return nil, err
	}
	token, err := bigOut(out, 0)
	if err != nil {
		return nil, err
	}
	return &ledger.Balances{Native: native, Token: token}, nil
}

func (g *Gateway) SubmitCommit(
	ctx context.Context,
	signer ledger.Signer,
	itemID uint64,
	hash common.Hash,
) (ledger.TxRef, error) {
	return g.transact(ctx, "commit", signer, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return g.ranking.Transact(
			opts,
			methodVoteCommit,
			new(big.Int).SetUint64(itemID),
			[32]byte(hash),
		)
	})
}

func (g *Gateway) SubmitReveal(
	ctx context.Context,
	signer ledger.Signer,
	itemID uint64,
	direction commitment.Direction,
	magnitude *big.Int,
	salt *big.Int,
) (ledger.TxRef, error) {
	return g.transact(ctx, "reveal", signer, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return g.ranking.Transact(
			opts,
			methodVoteReveal,
			new(big.Int).SetUint64(itemID),
			uint8(direction),
			magnitude,
			salt,
		)
	})
}

func (g *Gateway) SubmitFinalize(
	ctx context.Context,
	signer ledger.Signer,
	itemID uint64,
) (ledger.TxRef, error) {
	return g.transact(ctx, "finalize", signer, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return g.ranking.Transact(
			opts,
			methodFinishVoting,
			new(big.Int).SetUint64(itemID),
		)
	})
}

func (g *Gateway) SubmitFund(
	ctx context.Context,
	from ledger.Signer,
	asset ledger.Asset,
	to common.Address,
	amount *big.Int,
) (ledger.TxRef, error) {
	return g.transact(ctx, "fund", from, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		if asset == ledger.AssetToken {
			return g.token.Transact(opts, methodTransfer, to, amount)
		}
		// Plain value transfer to an account without code
		opts.Value = amount
		opts.GasLimit = params.TxGas
		recipient := bind.NewBoundContract(
			to,
			abi.ABI{},
			g.config.Backend,
			g.config.Backend,
			g.config.Backend,
		)
		return recipient.Transfer(opts)
	})
}

func (g *Gateway) SubmitRegisterBatch(
	ctx context.Context,
	owner ledger.Signer,
	ids []uint64,
	ranks []*big.Int,
) (ledger.TxRef, error) {
	if len(ids) != len(ranks) {
		return "", &ledger.SubmissionError{Op: "register", Err: ErrMismatchedBatch}
	}
	rawIDs := make([]*big.Int, len(ids))
	for i, id := range ids {
		rawIDs[i] = new(big.Int).SetUint64(id)
	}
	return g.transact(ctx, "register", owner, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return g.ranking.Transact(opts, methodNewItemsWithRanks, rawIDs, ranks)
	})
}

// AwaitConfirmation polls for the receipt of ref until it is mined or ctx ends
func (g *Gateway) AwaitConfirmation(ctx context.Context, ref ledger.TxRef) error {
	hash, err := parseTxRef(ref)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(g.config.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := g.config.Backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return fmt.Errorf("transaction %s: %w", ref, ledger.ErrReverted)
			}
			return nil
		case errors.Is(err, ethereum.NotFound):
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.logger.Debug(
				"receipt lookup failed",
				"tx", ref.String(),
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (g *Gateway) call(
	ctx context.Context,
	contract *bind.BoundContract,
	method string,
	args ...any,
) ([]any, error) {
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

// accountLock serializes nonce assignment per sending account
func (g *Gateway) accountLock(addr common.Address) *sync.Mutex {
	g.accountMu.Lock()
	defer g.accountMu.Unlock()
	lock, ok := g.accountLocks[addr]
	if !ok {
		lock = &sync.Mutex{}
		g.accountLocks[addr] = lock
	}
	return lock
}

// transact signs the transaction built by build without sending it, then
// sends it. Signing first gives the hash to report when the node already
// holds the transaction.
func (g *Gateway) transact(
	ctx context.Context,
	op string,
	signer ledger.Signer,
	build func(*bind.TransactOpts) (*types.Transaction, error),
) (ledger.TxRef, error) {
	lock := g.accountLock(signer.Address())
	lock.Lock()
	defer lock.Unlock()
	opts, err := bind.NewKeyedTransactorWithChainID(signer.PrivateKey(), g.chainID)
	if err != nil {
		return "", &ledger.SubmissionError{Op: op, Err: err}
	}
	opts.Context = ctx
	opts.NoSend = true
	tx, err := build(opts)
	if err != nil {
		return "", &ledger.SubmissionError{Op: op, Err: err}
	}
	ref := ledger.TxRef(tx.Hash().Hex())
	sendCtx, cancel := context.WithTimeout(ctx, g.config.SubmitTimeout)
	defer cancel()
	err = g.config.Backend.SendTransaction(sendCtx, tx)
	switch {
	case err == nil:
		g.logger.Debug(
			"submitted transaction",
			"op", op,
			"tx", ref.String(),
			"from", signer.Address().Hex(),
			"nonce", tx.Nonce(),
		)
		return ref, nil
	case isAlreadyKnown(err):
		return "", &ledger.PendingError{Ref: ref, Err: err}
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		// The node may have accepted it before the deadline
		return "", &ledger.PendingError{Ref: ref, Err: err}
	default:
		return "", &ledger.SubmissionError{Op: op, Err: err}
	}
}

func isAlreadyKnown(err error) bool {
	if errors.Is(err, txpool.ErrAlreadyKnown) {
		return true
	}
	// Errors returned over RPC only carry the message
	return strings.Contains(err.Error(), txpool.ErrAlreadyKnown.Error())
}

func parseTxRef(ref ledger.TxRef) (common.Hash, error) {
	s := string(ref)
	if len(s) != 2+2*common.HashLength || !strings.HasPrefix(s, "0x") {
		return common.Hash{}, fmt.Errorf("%w: %q", ErrInvalidTxRef, s)
	}
	return common.HexToHash(s), nil
}

func bigOut(out []any, idx int) (*big.Int, error) {
	if idx >= len(out) {
		return nil, fmt.Errorf("output %d: %w", idx, ErrUnexpectedOutput)
	}
	v, ok := out[idx].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("output %d: %w", idx, ErrUnexpectedOutput)
	}
	return v, nil
}

func uint64Out(out []any, idx int) (uint64, error) {
	v, err := bigOut(out, idx)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("output %d = %s: %w", idx, v, ErrValueOutOfRange)
	}
	return v.Uint64(), nil
}
