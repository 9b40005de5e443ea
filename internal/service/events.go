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

package service

import (
	"log/slog"

	"github.com/blinklabs-io/autoranker/event"
)

// WatchEvents logs the driver's per-item outcomes as they are published. The
// returned func unsubscribes.
func WatchEvents(bus *event.EventBus, logger *slog.Logger) func() {
	if logger == nil {
		logger = discardLogger()
	}
	logger = logger.With("component", "events")
	handlers := map[event.EventType]event.EventHandlerFunc{
		event.ActionFailedEventType: func(evt event.Event) {
			data, ok := evt.Data.(event.ActionEvent)
			if !ok {
				return
			}
			logger.Warn(
				"round action failed",
				"item", data.ItemID,
				"action", data.Kind,
				"account", data.Account,
				"error", data.Error,
			)
		},
		event.RankChangedEventType: func(evt event.Event) {
			data, ok := evt.Data.(event.RankChangedEvent)
			if !ok {
				return
			}
			logger.Info(
				"rank changed",
				"item", data.ItemID,
				"old", data.OldRank.String(),
				"new", data.NewRank.String(),
			)
		},
		event.ItemDivergedEventType: func(evt event.Event) {
			data, ok := evt.Data.(event.ItemDivergedEvent)
			if !ok {
				return
			}
			logger.Warn("item missing from ledger", "item", data.ItemID)
		},
		event.BatchRegisteredEventType: func(evt event.Event) {
			data, ok := evt.Data.(event.BatchRegisteredEvent)
			if !ok {
				return
			}
			logger.Info(
				"registration batch confirmed",
				"items", len(data.IDs),
				"tx", data.TxRef,
			)
		},
	}
	subs := make(map[event.EventType]event.EventSubscriberId, len(handlers))
	for evtType, handler := range handlers {
		subs[evtType] = bus.SubscribeFunc(evtType, handler)
	}
	return func() {
		for evtType, subId := range subs {
			bus.Unsubscribe(evtType, subId)
		}
	}
}
