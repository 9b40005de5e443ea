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

// Package keystore manages the curator accounts that sign votes and the
// treasury account that funds them and owns the registry.
package keystore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrKeysNotLoaded    = errors.New("keys not loaded")
	ErrNoAccounts       = errors.New("key pack contains no accounts")
	ErrNoTreasury       = errors.New("treasury key not configured")
	ErrUnknownAccount   = errors.New("unknown account")
	ErrAddressMismatch  = errors.New("address does not match private key")
	ErrInsecureFileMode = errors.New("insecure file permissions")
)

// IntSource picks a random index. *math/rand/v2.Rand satisfies it.
type IntSource interface {
	IntN(n int) int
}

type KeyStoreConfig struct {
	// KeysFile is the curator key pack
	KeysFile string
	// TreasuryKeyFile is a key pack whose first entry is the treasury
	TreasuryKeyFile string
	Logger          *slog.Logger
}

// KeyStore holds the loaded curator pool and treasury
type KeyStore struct {
	config   KeyStoreConfig
	logger   *slog.Logger
	mu       sync.RWMutex
	accounts []*Account
	byAddr   map[common.Address]*Account
	treasury *Account
	loaded   bool
}

func NewKeyStore(cfg KeyStoreConfig) *KeyStore {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &KeyStore{
		config: cfg,
		logger: cfg.Logger.With("component", "keystore"),
		byAddr: make(map[common.Address]*Account),
	}
}

// Load reads the configured key files
func (k *KeyStore) Load() error {
	accounts, err := LoadKeyPack(k.config.KeysFile)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return ErrNoAccounts
	}
	var treasury *Account
	if k.config.TreasuryKeyFile != "" {
		tmpAccounts, err := LoadKeyPack(k.config.TreasuryKeyFile)
		if err != nil {
			return fmt.Errorf("load treasury: %w", err)
		}
		if len(tmpAccounts) == 0 {
			return fmt.Errorf("load treasury: %w", ErrNoAccounts)
		}
		treasury = tmpAccounts[0]
	}
	k.Set(accounts, treasury)
	k.logger.Info(
		fmt.Sprintf("loaded %d curator accounts", len(accounts)),
		"treasury", treasury != nil,
	)
	return nil
}

// Set replaces the loaded accounts
func (k *KeyStore) Set(accounts []*Account, treasury *Account) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.accounts = append([]*Account(nil), accounts...)
	k.byAddr = make(map[common.Address]*Account, len(accounts))
	for _, acct := range accounts {
		k.byAddr[acct.Address()] = acct
	}
	k.treasury = treasury
	k.loaded = true
}

// Accounts returns the curator pool in file order
func (k *KeyStore) Accounts() []*Account {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append([]*Account(nil), k.accounts...)
}

// Random picks a curator account
func (k *KeyStore) Random(rnd IntSource) (*Account, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.loaded {
		return nil, ErrKeysNotLoaded
	}
	if len(k.accounts) == 0 {
		return nil, ErrNoAccounts
	}
	return k.accounts[rnd.IntN(len(k.accounts))], nil
}

// Lookup finds a curator account by address
func (k *KeyStore) Lookup(addr common.Address) (*Account, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	acct, ok := k.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, addr.Hex())
	}
	return acct, nil
}

// Treasury returns the funding and registry owner account
func (k *KeyStore) Treasury() (*Account, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.treasury == nil {
		return nil, ErrNoTreasury
	}
	return k.treasury, nil
}
