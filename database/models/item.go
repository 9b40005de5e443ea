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

package models

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

var ErrInvalidAmount = errors.New("invalid decimal amount")

// Item is the persisted form of a locally tracked item. Amounts are stored
// as base-10 strings since they exceed 64 bits.
type Item struct {
	ID            uint64 `gorm:"primarykey;autoIncrement:false"`
	Name          string
	Rank          string
	ImportRank    string
	ActiveRoundID uint64
	SyncState     int `gorm:"index"`
	UpdatedAt     time.Time
}

func (Item) TableName() string {
	return "item"
}

// FormatAmount encodes an optional amount
func FormatAmount(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// ParseAmount decodes an amount written by FormatAmount
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil //nolint:nilnil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return v, nil
}
