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
	"github.com/blinklabs-io/autoranker/planner"
)

// RecordAction appends an executed action to the action log
func (d *Database) RecordAction(action *planner.Action) error {
	rec := models.ActionRecord{
		ItemID: action.ItemID,
		Kind:   action.Kind.String(),
		State:  action.State.String(),
		TxRef:  action.TxRef.String(),
	}
	if action.Signer != nil {
		rec.Account = action.Signer.Address().Hex()
	}
	if action.Err != nil {
		rec.Error = action.Err.Error()
	}
	if result := d.metadata.DB().Create(&rec); result.Error != nil {
		return fmt.Errorf("record action: %w", result.Error)
	}
	return nil
}

// ActionsForItem returns the action log of an item, oldest first
func (d *Database) ActionsForItem(itemID uint64) ([]models.ActionRecord, error) {
	var ret []models.ActionRecord
	result := d.metadata.DB().
		Where("item_id = ?", itemID).
		Order("id").
		Find(&ret)
	if result.Error != nil {
		return nil, fmt.Errorf("load actions: %w", result.Error)
	}
	return ret, nil
}
