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
	"time"
)

// RankChange is one observed change of an item's ledger rank. Ranks are
// base-10 strings.
type RankChange struct {
	ID         uint   `gorm:"primarykey"`
	ItemID     uint64 `gorm:"index"`
	OldRank    string
	NewRank    string
	ObservedAt time.Time
}

func (RankChange) TableName() string {
	return "rank_change"
}
