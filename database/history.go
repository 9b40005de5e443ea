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
	"fmt"
	"math/big"
	"time"

	"github.com/blinklabs-io/autoranker/database/models"
)

// RecordRankChange appends a rank change to the item's history
func (d *Database) RecordRankChange(
	itemID uint64,
	oldRank *big.Int,
	newRank *big.Int,
	observedAt time.Time,
) error {
	rec := models.RankChange{
		ItemID:     itemID,
		OldRank:    models.FormatAmount(oldRank),
		NewRank:    models.FormatAmount(newRank),
		ObservedAt: observedAt,
	}
	if result := d.metadata.DB().Create(&rec); result.Error != nil {
		return fmt.Errorf("record rank change: %w", result.Error)
	}
	return nil
}

// RankHistory returns the recorded rank changes of an item, oldest first
func (d *Database) RankHistory(itemID uint64) ([]models.RankChange, error) {
	var ret []models.RankChange
	result := d.metadata.DB().
		Where("item_id = ?", itemID).
		Order("observed_at").
		Order("id").
		Find(&ret)
	if result.Error != nil {
		return nil, fmt.Errorf("load rank history: %w", result.Error)
	}
	return ret, nil
}
