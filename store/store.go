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

// Package store holds the local working set of ranked items. The ledger
// is authoritative: local ranks are a cache of the last ledger read.
package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"slices"
	"sync"
	"time"
)

var ErrUnknownItem = errors.New("unknown item")

type SyncState int

const (
	SyncUnknown SyncState = iota
	SyncSynced
	SyncDiverged
)

func (s SyncState) String() string {
	switch s {
	case SyncSynced:
		return "synced"
	case SyncDiverged:
		return "diverged"
	default:
		return "unknown"
	}
}

// Item is a locally tracked ranked entry
type Item struct {
	ID   uint64
	Name string
	// Rank is the last rank read from the ledger, nil until first read
	Rank *big.Int
	// ImportRank is the rank proposed by the import feed for registration
	ImportRank    *big.Int
	ActiveRoundID uint64
	SyncState     SyncState
	UpdatedAt     time.Time
}

func (i Item) clone() Item {
	if i.Rank != nil {
		i.Rank = new(big.Int).Set(i.Rank)
	}
	if i.ImportRank != nil {
		i.ImportRank = new(big.Int).Set(i.ImportRank)
	}
	return i
}

// Registered reports whether a ledger rank has been observed for the item
func (i Item) Registered() bool {
	return i.Rank != nil
}

// Persister provides durable storage for items
type Persister interface {
	SaveItem(item Item) error
	LoadItems() ([]Item, error)
}

type StoreConfig struct {
	Logger    *slog.Logger
	Persister Persister
	// Now defaults to time.Now
	Now func() time.Time
}

// Store is the working set shared by the registrar, synchronizer and driver
type Store struct {
	mu        sync.RWMutex
	items     map[uint64]*Item
	persister Persister
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a store and loads any previously persisted items
func New(cfg StoreConfig) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Store{
		items:     make(map[uint64]*Item),
		persister: cfg.Persister,
		logger:    cfg.Logger.With("component", "store"),
		now:       cfg.Now,
	}
	if s.persister != nil {
		items, err := s.persister.LoadItems()
		if err != nil {
			return nil, fmt.Errorf("load items: %w", err)
		}
		for _, item := range items {
			tmpItem := item.clone()
			s.items[item.ID] = &tmpItem
		}
		s.logger.Debug(
			fmt.Sprintf("loaded %d items", len(items)),
		)
	}
	return s, nil
}

// Get returns a copy of an item
func (s *Store) Get(id uint64) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return Item{}, false
	}
	return item.clone(), true
}

// Add inserts an item if it is not already known. It returns false for
// known items, which are left untouched.
func (s *Store) Add(item Item) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return false, nil
	}
	tmpItem := item.clone()
	if tmpItem.UpdatedAt.IsZero() {
		tmpItem.UpdatedAt = s.now()
	}
	s.items[item.ID] = &tmpItem
	return true, s.persist(&tmpItem)
}

// IDs returns the ids of all known items in ascending order
func (s *Store) IDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]uint64, 0, len(s.items))
	for id := range s.items {
		ret = append(ret, id)
	}
	slices.Sort(ret)
	return ret
}

// Items returns copies of all known items ordered by id
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		ret = append(ret, item.clone())
	}
	slices.SortFunc(ret, func(a, b Item) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return ret
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// SetRank records a rank read from the ledger and marks the item synced.
// It returns the previous rank and whether the rank value changed.
func (s *Store) SetRank(id uint64, rank *big.Int) (*big.Int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownItem, id)
	}
	prev := item.Rank
	changed := prev == nil || prev.Cmp(rank) != 0
	if !changed && item.SyncState == SyncSynced {
		return prev, false, nil
	}
	item.Rank = new(big.Int).Set(rank)
	item.SyncState = SyncSynced
	item.UpdatedAt = s.now()
	return prev, changed, s.persist(item)
}

// MarkDiverged flags an item the ledger no longer lists. It returns true
// only on the transition into the diverged state.
func (s *Store) MarkDiverged(id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownItem, id)
	}
	if item.SyncState == SyncDiverged {
		return false, nil
	}
	item.SyncState = SyncDiverged
	item.UpdatedAt = s.now()
	return true, s.persist(item)
}

// SetActiveRound records the round currently open for an item, 0 for none
func (s *Store) SetActiveRound(id uint64, roundID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownItem, id)
	}
	if item.ActiveRoundID == roundID {
		return nil
	}
	item.ActiveRoundID = roundID
	item.UpdatedAt = s.now()
	return s.persist(item)
}

// SetImportRank updates the feed-proposed rank and name of an item
func (s *Store) SetImportRank(id uint64, name string, rank *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownItem, id)
	}
	item.Name = name
	if rank != nil {
		item.ImportRank = new(big.Int).Set(rank)
	}
	item.UpdatedAt = s.now()
	return s.persist(item)
}

// persist must be called with the lock held
func (s *Store) persist(item *Item) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.SaveItem(item.clone()); err != nil {
		return fmt.Errorf("persist item %d: %w", item.ID, err)
	}
	return nil
}
