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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/blinklabs-io/autoranker"
	"github.com/blinklabs-io/autoranker/importfeed"
	"github.com/blinklabs-io/autoranker/internal/config"
	"github.com/blinklabs-io/autoranker/keystore"
	"github.com/blinklabs-io/autoranker/ledger"
	"github.com/blinklabs-io/autoranker/ledger/eth"
	"github.com/blinklabs-io/autoranker/ledger/sim"
	"github.com/blinklabs-io/autoranker/registrar"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

// simCurators is the size of the throwaway key pack used by the simulated
// ledger when no keys file is configured
const simCurators = 8

var ErrNoImportUrl = errors.New("no import URL configured")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// Loaded is a driver together with the resources it was built from
type Loaded struct {
	Driver   *autoranker.Driver
	Gateway  ledger.Gateway
	KeyStore *keystore.KeyStore
	closers  []func()
}

// Close shuts down the driver and then the ledger connection
func (l *Loaded) Close() error {
	err := l.Driver.Close()
	for i := len(l.closers) - 1; i >= 0; i-- {
		l.closers[i]()
	}
	return err
}

// Load builds a driver from the configuration
func Load(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*Loaded, error) {
	if logger == nil {
		logger = discardLogger()
	}
	ks := keystore.NewKeyStore(
		keystore.KeyStoreConfig{
			KeysFile:        cfg.KeysFile,
			TreasuryKeyFile: cfg.TreasuryKeyFile,
			Logger:          logger,
		},
	)
	ret := &Loaded{KeyStore: ks}
	switch cfg.Network {
	case config.NetworkSim:
		gw, err := loadSim(cfg, ks, logger)
		if err != nil {
			return nil, err
		}
		ret.Gateway = gw
	case config.NetworkRpc:
		if err := ks.Load(); err != nil {
			return nil, fmt.Errorf("load keys: %w", err)
		}
		gwCfg := eth.GatewayConfig{
			ContractAddress: common.HexToAddress(cfg.ContractAddress),
			Logger:          logger,
		}
		if cfg.TokenAddress != "" {
			gwCfg.TokenAddress = common.HexToAddress(cfg.TokenAddress)
		}
		if cfg.ChainId != 0 {
			gwCfg.ChainID = new(big.Int).SetUint64(cfg.ChainId)
		}
		gw, err := eth.Dial(ctx, cfg.RpcUrl, gwCfg)
		if err != nil {
			return nil, err
		}
		logger.Info(
			"connected to ledger",
			"component", "service",
			"chain_id", gw.ChainID().String(),
			"contract", cfg.ContractAddress,
		)
		ret.Gateway = gw
		ret.closers = append(ret.closers, gw.Close)
	default:
		return nil, fmt.Errorf("unknown network: %s", cfg.Network)
	}
	d, err := autoranker.New(
		autoranker.NewConfig(
			autoranker.WithGateway(ret.Gateway),
			autoranker.WithKeyStore(ks),
			autoranker.WithDatabasePath(cfg.DatabasePath),
			autoranker.WithLogger(logger),
			autoranker.WithPrometheusRegistry(promRegistry),
			autoranker.WithCommitGranularity(cfg.CommitGranularity),
			autoranker.WithMaxStake(cfg.MaxStakeAmount()),
			autoranker.WithUpProbability(cfg.UpProbability),
			autoranker.WithFundAmounts(cfg.FundEtherWei(), cfg.FundTokenWei()),
			autoranker.WithFundGrace(cfg.FundGrace),
			autoranker.WithRoundWindows(cfg.CommitWindow, cfg.RevealWindow),
			autoranker.WithWaitPadding(cfg.WaitPadding),
			autoranker.WithConfirmTimeout(cfg.ConfirmTimeout),
			autoranker.WithMaxBatchSize(cfg.MaxBatchSize),
			autoranker.WithSettleDelay(cfg.SettleDelay),
			autoranker.WithTracing(cfg.Tracing),
			autoranker.WithTracingStdout(cfg.TracingStdout),
			autoranker.WithShutdownTimeout(cfg.ShutdownTimeoutDuration()),
		),
	)
	if err != nil {
		for _, closer := range ret.closers {
			closer()
		}
		return nil, err
	}
	ret.Driver = d
	return ret, nil
}

// loadSim creates an in-memory ledger owned by the treasury. Without a keys
// file a throwaway curator pool and treasury are generated.
func loadSim(
	cfg *config.Config,
	ks *keystore.KeyStore,
	logger *slog.Logger,
) (*sim.Ledger, error) {
	if cfg.KeysFile != "" {
		if err := ks.Load(); err != nil {
			return nil, fmt.Errorf("load keys: %w", err)
		}
	} else {
		accounts, err := keystore.GenerateKeyPack(simCurators + 1)
		if err != nil {
			return nil, err
		}
		ks.Set(accounts[1:], accounts[0])
		logger.Warn(
			"no keys file configured, using generated accounts",
			"component", "service",
			"curators", simCurators,
		)
	}
	treasury, err := ks.Treasury()
	if err != nil && !errors.Is(err, keystore.ErrNoTreasury) {
		return nil, err
	}
	simCfg := sim.Config{
		CommitWindow: cfg.CommitWindow,
		RevealWindow: cfg.RevealWindow,
		RequireFunds: true,
	}
	if treasury != nil {
		simCfg.Owner = treasury.Address()
	}
	gw := sim.New(simCfg)
	if treasury != nil {
		// Enough for the treasury to fund every curator many times over
		reserve := new(big.Int).Mul(cfg.FundEtherWei(), big.NewInt(1_000_000))
		tokens := new(big.Int).Mul(cfg.FundTokenWei(), big.NewInt(1_000_000))
		gw.SetBalances(treasury.Address(), reserve, tokens)
	}
	return gw, nil
}

// Import fetches the import feed, merges it into the working set and
// registers items missing from the ledger
func Import(
	ctx context.Context,
	cfg *config.Config,
	d *autoranker.Driver,
	logger *slog.Logger,
) (*registrar.Result, error) {
	if logger == nil {
		logger = discardLogger()
	}
	if cfg.ImportUrl == "" {
		return nil, ErrNoImportUrl
	}
	client := importfeed.NewClient(
		cfg.ImportUrl,
		importfeed.WithLogger(logger),
		importfeed.WithCacheDir(cfg.ImportCacheDir),
		importfeed.WithCacheTTL(cfg.ImportCacheTtl),
	)
	entries, err := client.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch import feed: %w", err)
	}
	added, err := importfeed.LoadInto(
		d.Store(),
		entries,
		cfg.InitialRankAmount(),
	)
	if err != nil {
		return nil, err
	}
	logger.Info(
		fmt.Sprintf("imported %d entries (%d new)", len(entries), added),
		"component", "service",
	)
	return d.RegisterMissing(ctx)
}
