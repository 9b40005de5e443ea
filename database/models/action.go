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

// ActionRecord is one executed ledger action
type ActionRecord struct {
	ID        uint   `gorm:"primarykey"`
	ItemID    uint64 `gorm:"index"`
	Kind      string
	Account   string `gorm:"index;size:42"`
	State     string
	TxRef     string `gorm:"size:66"`
	Error     string
	CreatedAt time.Time
}

func (ActionRecord) TableName() string {
	return "action_record"
}
