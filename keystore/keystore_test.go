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
	"bytes"
	"encoding/json"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPackRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.json")
	accounts, err := GenerateKeyPack(7)
	require.NoError(t, err)
	require.NoError(t, WriteKeyPack(path, accounts))
	if runtime.GOOS != "windows" {
		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	}
	loaded, err := LoadKeyPack(path)
	require.NoError(t, err)
	require.Len(t, loaded, 7)
	for i := range accounts {
		assert.Equal(t, accounts[i].Address(), loaded[i].Address())
	}
}

func TestKeyPackEntryFormat(t *testing.T) {
	acct, err := GenerateAccount()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, EncodeKeyPack(&buf, []*Account{acct}))
	var entries []map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Len(t, entries[0]["private_key"], 64)
	assert.Len(t, entries[0]["public_key"], 128)
	// checksummed
	assert.Equal(t, acct.Address().Hex(), entries[0]["address"])
	assert.True(t, strings.HasPrefix(entries[0]["address"], "0x"))
}

func TestLoadKeyPackAddressMismatch(t *testing.T) {
	acct, err := GenerateAccount()
	require.NoError(t, err)
	entry := acct.Entry()
	entry.Address = common.HexToAddress("0x01").Hex()
	data, err := json.Marshal([]KeyPackEntry{entry})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	_, err = LoadKeyPack(path)
	require.ErrorIs(t, err, ErrAddressMismatch)
}

func TestLoadKeyPackInsecureMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file mode bits are not used on windows")
	}
	accounts, err := GenerateKeyPack(1)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, WriteKeyPack(path, accounts))
	require.NoError(t, os.Chmod(path, 0o644))
	_, err = LoadKeyPack(path)
	require.ErrorIs(t, err, ErrInsecureFileMode)
}

func TestLoadKeyPackDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directory handles are checked by ACL on windows")
	}
	dir := filepath.Join(t.TempDir(), "keys")
	require.NoError(t, os.Mkdir(dir, 0o700))
	_, err := LoadKeyPack(dir)
	require.ErrorIs(t, err, ErrInsecureFileMode)
}

func TestKeyStore(t *testing.T) {
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "keys.json")
	treasuryPath := filepath.Join(dir, "treasury.json")
	accounts, err := GenerateKeyPack(3)
	require.NoError(t, err)
	treasury, err := GenerateKeyPack(1)
	require.NoError(t, err)
	require.NoError(t, WriteKeyPack(keysPath, accounts))
	require.NoError(t, WriteKeyPack(treasuryPath, treasury))

	ks := NewKeyStore(KeyStoreConfig{KeysFile: keysPath})
	_, err = ks.Random(rand.New(rand.NewPCG(1, 1)))
	require.ErrorIs(t, err, ErrKeysNotLoaded)
	require.NoError(t, ks.Load())
	_, err = ks.Treasury()
	require.ErrorIs(t, err, ErrNoTreasury)

	ks = NewKeyStore(KeyStoreConfig{
		KeysFile:        keysPath,
		TreasuryKeyFile: treasuryPath,
	})
	require.NoError(t, ks.Load())
	tr, err := ks.Treasury()
	require.NoError(t, err)
	assert.Equal(t, treasury[0].Address(), tr.Address())
	assert.Len(t, ks.Accounts(), 3)
	picked, err := ks.Random(rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	found, err := ks.Lookup(picked.Address())
	require.NoError(t, err)
	assert.Same(t, picked, found)
	_, err = ks.Lookup(tr.Address())
	require.ErrorIs(t, err, ErrUnknownAccount)
}
