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

package database

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/blinklabs-io/autoranker/commitment"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
)

var ErrIntentNotFound = errors.New("vote intent not found")

const intentKeyPrefix = "intent:"

type intentRecord struct {
	ItemID     uint64      `json:"item_id"`
	Direction  uint8       `json:"direction"`
	Magnitude  string      `json:"magnitude"`
	Salt       string      `json:"salt"`
	CommitHash common.Hash `json:"commit_hash"`
	Bucket     string      `json:"bucket"`
	RoundID    uint64      `json:"round_id"`
}

func intentPrefix(itemID uint64) []byte {
	key := make([]byte, 0, len(intentKeyPrefix)+8+common.AddressLength)
	key = append(key, intentKeyPrefix...)
	return binary.BigEndian.AppendUint64(key, itemID)
}

func intentKey(itemID uint64, account common.Address) []byte {
	return append(intentPrefix(itemID), account.Bytes()...)
}

func encodeIntent(intent *commitment.VoteIntent) ([]byte, error) {
	if intent.Magnitude == nil || intent.Salt == nil {
		return nil, errors.New("vote intent is incomplete")
	}
	return json.Marshal(intentRecord{
		ItemID:     intent.ItemID,
		Direction:  uint8(intent.Direction),
		Magnitude:  intent.Magnitude.String(),
		Salt:       intent.Salt.String(),
		CommitHash: intent.CommitHash,
		Bucket:     intent.Bucket,
		RoundID:    intent.RoundID,
	})
}

func decodeIntent(data []byte) (*commitment.VoteIntent, error) {
	var rec intentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode vote intent: %w", err)
	}
	magnitude, ok := new(big.Int).SetString(rec.Magnitude, 10)
	if !ok {
		return nil, fmt.Errorf("decode vote intent magnitude %q", rec.Magnitude)
	}
	salt, ok := new(big.Int).SetString(rec.Salt, 10)
	if !ok {
		return nil, fmt.Errorf("decode vote intent salt %q", rec.Salt)
	}
	return &commitment.VoteIntent{
		ItemID:     rec.ItemID,
		Direction:  commitment.Direction(rec.Direction),
		Magnitude:  magnitude,
		Salt:       salt,
		CommitHash: rec.CommitHash,
		Bucket:     rec.Bucket,
		RoundID:    rec.RoundID,
	}, nil
}

// SaveIntent stores the vote intent an account committed for an item,
// replacing any earlier one
func (d *Database) SaveIntent(account common.Address, intent *commitment.VoteIntent) error {
	data, err := encodeIntent(intent)
	if err != nil {
		return err
	}
	return d.blob.DB().Update(func(txn *badger.Txn) error {
		return txn.Set(intentKey(intent.ItemID, account), data)
	})
}

// Intent returns the stored intent of an account for an item
func (d *Database) Intent(itemID uint64, account common.Address) (*commitment.VoteIntent, error) {
	var ret *commitment.VoteIntent
	err := d.blob.DB().View(func(txn *badger.Txn) error {
		item, err := txn.Get(intentKey(itemID, account))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrIntentNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			ret, err = decodeIntent(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// LookupIntent is Intent with a miss reported through ok
func (d *Database) LookupIntent(
	itemID uint64,
	account common.Address,
) (*commitment.VoteIntent, bool, error) {
	intent, err := d.Intent(itemID, account)
	if err != nil {
		if errors.Is(err, ErrIntentNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return intent, true, nil
}

// IntentsForItem returns all stored intents for an item keyed by account
func (d *Database) IntentsForItem(itemID uint64) (map[common.Address]*commitment.VoteIntent, error) {
	ret := make(map[common.Address]*commitment.VoteIntent)
	prefix := intentPrefix(itemID)
	err := d.blob.DB().View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			account := common.BytesToAddress(item.Key()[len(prefix):])
			if err := item.Value(func(val []byte) error {
				intent, err := decodeIntent(val)
				if err != nil {
					return err
				}
				ret[account] = intent
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// DeleteIntent removes a revealed or stale intent
func (d *Database) DeleteIntent(itemID uint64, account common.Address) error {
	return d.blob.DB().Update(func(txn *badger.Txn) error {
		return txn.Delete(intentKey(itemID, account))
	})
}
