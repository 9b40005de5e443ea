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

	"github.com/blinklabs-io/autoranker/database/models"
	"github.com/blinklabs-io/autoranker/store"
	"gorm.io/gorm/clause"
)

// SaveItem upserts an item
func (d *Database) SaveItem(item store.Item) error {
	tmpItem := models.Item{
		ID:            item.ID,
		Name:          item.Name,
		Rank:          models.FormatAmount(item.Rank),
		ImportRank:    models.FormatAmount(item.ImportRank),
		ActiveRoundID: item.ActiveRoundID,
		SyncState:     int(item.SyncState),
		UpdatedAt:     item.UpdatedAt,
	}
	result := d.metadata.DB().Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&tmpItem)
	if result.Error != nil {
		return fmt.Errorf("save item %d: %w", item.ID, result.Error)
	}
	return nil
}

// LoadItems returns all persisted items
func (d *Database) LoadItems() ([]store.Item, error) {
	var tmpItems []models.Item
	if result := d.metadata.DB().Order("id").Find(&tmpItems); result.Error != nil {
		return nil, fmt.Errorf("load items: %w", result.Error)
	}
	ret := make([]store.Item, 0, len(tmpItems))
	for _, tmpItem := range tmpItems {
		rank, err := models.ParseAmount(tmpItem.Rank)
		if err != nil {
			return nil, fmt.Errorf("item %d rank: %w", tmpItem.ID, err)
		}
		importRank, err := models.ParseAmount(tmpItem.ImportRank)
		if err != nil {
			return nil, fmt.Errorf("item %d import rank: %w", tmpItem.ID, err)
		}
		ret = append(ret, store.Item{
			ID:            tmpItem.ID,
			Name:          tmpItem.Name,
			Rank:          rank,
			ImportRank:    importRank,
			ActiveRoundID: tmpItem.ActiveRoundID,
			SyncState:     store.SyncState(tmpItem.SyncState),
			UpdatedAt:     tmpItem.UpdatedAt,
		})
	}
	return ret, nil
}
