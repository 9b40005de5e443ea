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

package keystore

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Key pack files are small; anything larger is not a key pack
const maxKeyFileSize = 1 << 20

// KeyPackEntry is one account in a key pack file
type KeyPackEntry struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
	Address    string `json:"address"`
}

// Account is a curator or treasury signing key
type Account struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewAccount(key *ecdsa.PrivateKey) *Account {
	return &Account{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// GenerateAccount creates an account with a fresh secp256k1 key
func GenerateAccount() (*Account, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewAccount(key), nil
}

func (a *Account) Address() common.Address {
	return a.address
}

func (a *Account) PrivateKey() *ecdsa.PrivateKey {
	return a.key
}

// Entry returns the key pack representation of the account
func (a *Account) Entry() KeyPackEntry {
	// uncompressed public key without the 0x04 prefix
	pub := crypto.FromECDSAPub(&a.key.PublicKey)[1:]
	return KeyPackEntry{
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(a.key)),
		PublicKey:  hex.EncodeToString(pub),
		Address:    a.address.Hex(),
	}
}

func accountFromEntry(entry KeyPackEntry) (*Account, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(entry.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	acct := NewAccount(key)
	if entry.Address != "" {
		if !common.IsHexAddress(entry.Address) ||
			common.HexToAddress(entry.Address) != acct.address {
			return nil, fmt.Errorf(
				"%w: file has %s, key derives %s",
				ErrAddressMismatch,
				entry.Address,
				acct.address.Hex(),
			)
		}
	}
	return acct, nil
}

// GenerateKeyPack creates n new accounts
func GenerateKeyPack(n int) ([]*Account, error) {
	if n <= 0 {
		return nil, errors.New("key pack size must be positive")
	}
	ret := make([]*Account, 0, n)
	for range n {
		acct, err := GenerateAccount()
		if err != nil {
			return nil, err
		}
		ret = append(ret, acct)
	}
	return ret, nil
}

// EncodeKeyPack writes accounts as an indented key pack JSON document
func EncodeKeyPack(w io.Writer, accounts []*Account) error {
	entries := make([]KeyPackEntry, 0, len(accounts))
	for _, acct := range accounts {
		entries = append(entries, acct.Entry())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(entries)
}

// WriteKeyPack writes accounts to path, readable only by the owner
func WriteKeyPack(path string, accounts []*Account) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create key file %q: %w", path, err)
	}
	defer f.Close()
	// An existing file keeps its old mode through O_CREATE
	if err := f.Chmod(0o600); err != nil {
		return fmt.Errorf("failed to set key file mode %q: %w", path, err)
	}
	if err := EncodeKeyPack(f, accounts); err != nil {
		return fmt.Errorf("failed to write key file %q: %w", path, err)
	}
	return f.Close()
}

// LoadKeyPack reads and verifies a key pack file.
// Returns ErrInsecureFileMode if the file is accessible by other users.
func LoadKeyPack(path string) ([]*Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file %q: %w", path, err)
	}
	defer f.Close()
	if err := checkOpenFilePermissions(f); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(f, maxKeyFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %q: %w", path, err)
	}
	var entries []KeyPackEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse key file %q: %w", path, err)
	}
	ret := make([]*Account, 0, len(entries))
	for i, entry := range entries {
		acct, err := accountFromEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("key file %q entry %d: %w", path, i, err)
		}
		ret = append(ret, acct)
	}
	return ret, nil
}
