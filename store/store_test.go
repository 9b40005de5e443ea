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

package store

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	mu    sync.Mutex
	items map[uint64]Item
	saves int
	err   error
}

func (p *memPersister) SaveItem(item Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.items == nil {
		p.items = make(map[uint64]Item)
	}
	p.items[item.ID] = item
	p.saves++
	return nil
}

func (p *memPersister) LoadItems() ([]Item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ret := make([]Item, 0, len(p.items))
	for _, item := range p.items {
		ret = append(ret, item)
	}
	return ret, nil
}

func fixedNow() time.Time {
	return time.Unix(1000, 0)
}

func TestStoreAddAndGet(t *testing.T) {
	s, err := New(StoreConfig{Now: fixedNow})
	require.NoError(t, err)
	added, err := s.Add(Item{ID: 5, Name: "five", ImportRank: big.NewInt(50)})
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.Add(Item{ID: 5, Name: "other"})
	require.NoError(t, err)
	assert.False(t, added)
	item, ok := s.Get(5)
	require.True(t, ok)
	assert.Equal(t, "five", item.Name)
	assert.Equal(t, fixedNow(), item.UpdatedAt)
	assert.False(t, item.Registered())
	// Returned copies do not alias store state
	item.ImportRank.SetInt64(1)
	item, _ = s.Get(5)
	assert.Equal(t, int64(50), item.ImportRank.Int64())
	_, ok = s.Get(6)
	assert.False(t, ok)
}

func TestStoreSetRank(t *testing.T) {
	s, err := New(StoreConfig{})
	require.NoError(t, err)
	_, err = s.Add(Item{ID: 1})
	require.NoError(t, err)
	prev, changed, err := s.SetRank(1, big.NewInt(10))
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.True(t, changed)
	_, changed, err = s.SetRank(1, big.NewInt(10))
	require.NoError(t, err)
	assert.False(t, changed)
	prev, changed, err = s.SetRank(1, big.NewInt(12))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(10), prev.Int64())
	item, _ := s.Get(1)
	assert.Equal(t, SyncSynced, item.SyncState)
	_, _, err = s.SetRank(2, big.NewInt(1))
	require.ErrorIs(t, err, ErrUnknownItem)
}

func TestStoreDivergence(t *testing.T) {
	s, err := New(StoreConfig{})
	require.NoError(t, err)
	_, err = s.Add(Item{ID: 1})
	require.NoError(t, err)
	transitioned, err := s.MarkDiverged(1)
	require.NoError(t, err)
	assert.True(t, transitioned)
	transitioned, err = s.MarkDiverged(1)
	require.NoError(t, err)
	assert.False(t, transitioned)
	// A later ledger read with the same rank resyncs the item
	_, _, err = s.SetRank(1, big.NewInt(3))
	require.NoError(t, err)
	item, _ := s.Get(1)
	assert.Equal(t, SyncSynced, item.SyncState)
}

func TestStorePersistence(t *testing.T) {
	p := &memPersister{}
	s, err := New(StoreConfig{Persister: p})
	require.NoError(t, err)
	_, err = s.Add(Item{ID: 2, Name: "two"})
	require.NoError(t, err)
	_, err = s.Add(Item{ID: 1, Name: "one"})
	require.NoError(t, err)
	require.NoError(t, s.SetActiveRound(1, 7))
	require.NoError(t, s.SetActiveRound(1, 7))
	assert.Equal(t, 3, p.saves)

	s2, err := New(StoreConfig{Persister: p})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, s2.IDs())
	item, ok := s2.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(7), item.ActiveRoundID)
	items := s2.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "one", items[0].Name)

	p.err = errors.New("disk full")
	_, err = s2.Add(Item{ID: 3})
	require.Error(t, err)
}
