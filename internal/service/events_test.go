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
	"bytes"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/autoranker/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchEventsLogsOutcomes(t *testing.T) {
	defer goleak.VerifyNone(t)
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	var out lockedBuffer
	stop := WatchEvents(eb, slog.New(slog.NewJSONHandler(&out, nil)))

	eb.Publish(
		event.ActionFailedEventType,
		event.NewEvent(event.ActionFailedEventType, event.ActionEvent{
			ItemID: 7,
			Kind:   "reveal",
			Error:  "round closed",
		}),
	)
	require.True(t, eb.PublishAsync(
		event.RankChangedEventType,
		event.NewEvent(event.RankChangedEventType, event.RankChangedEvent{
			ItemID:  7,
			OldRank: big.NewInt(10),
			NewRank: big.NewInt(25),
		}),
	))
	eb.Publish(
		event.ItemDivergedEventType,
		event.NewEvent(event.ItemDivergedEventType, event.ItemDivergedEvent{ItemID: 8}),
	)
	eb.Publish(
		event.BatchRegisteredEventType,
		event.NewEvent(event.BatchRegisteredEventType, event.BatchRegisteredEvent{
			IDs:   []uint64{1, 2},
			TxRef: "0x01",
		}),
	)
	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "\n") == 4
	}, time.Second, 5*time.Millisecond)
	logged := out.String()
	assert.Contains(t, logged, `"msg":"round action failed"`)
	assert.Contains(t, logged, `"error":"round closed"`)
	assert.Contains(t, logged, `"msg":"rank changed"`)
	assert.Contains(t, logged, `"new":"25"`)
	assert.Contains(t, logged, `"msg":"item missing from ledger"`)
	assert.Contains(t, logged, `"msg":"registration batch confirmed"`)

	// Nothing is logged once unsubscribed
	stop()
	eb.Publish(
		event.ItemDivergedEventType,
		event.NewEvent(event.ItemDivergedEventType, event.ItemDivergedEvent{ItemID: 9}),
	)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, strings.Count(out.String(), "\n"))
}
