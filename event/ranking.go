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

package event

import (
	"math/big"
)

const (
	ActionConfirmedEventType = EventType("action.confirmed")
	ActionFailedEventType    = EventType("action.failed")
	RankChangedEventType     = EventType("rank.changed")
	ItemDivergedEventType    = EventType("item.diverged")
	BatchRegisteredEventType = EventType("batch.registered")
)

// ActionEvent is emitted when an action in a queue reaches a final state
type ActionEvent struct {
	ItemID  uint64
	Kind    string
	Index   int
	Account string
	TxRef   string
	// Skipped is set when the ledger state made the action unnecessary
	Skipped bool
	Error   string
}

// RankChangedEvent is emitted once per observed change of a ledger rank
type RankChangedEvent struct {
	ItemID  uint64
	OldRank *big.Int
	NewRank *big.Int
}

// ItemDivergedEvent is emitted when a local item is missing from the ledger listing
type ItemDivergedEvent struct {
	ItemID uint64
}

// BatchRegisteredEvent is emitted after a registration batch is confirmed
type BatchRegisteredEvent struct {
	IDs   []uint64
	TxRef string
}
