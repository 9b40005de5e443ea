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

package event_test

import (
	"math/big"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/autoranker/event"
)

func receive(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "event channel closed unexpectedly")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return event.Event{}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t)
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, sub1Ch := eb.Subscribe(event.RankChangedEventType)
	_, sub2Ch := eb.Subscribe(event.RankChangedEventType)
	data := event.RankChangedEvent{
		ItemID:  3,
		OldRank: big.NewInt(1),
		NewRank: big.NewInt(2),
	}
	eb.Publish(
		event.RankChangedEventType,
		event.NewEvent(event.RankChangedEventType, data),
	)
	for _, ch := range []<-chan event.Event{sub1Ch, sub2Ch} {
		evt := receive(t, ch)
		got, ok := evt.Data.(event.RankChangedEvent)
		require.True(t, ok)
		assert.Equal(t, uint64(3), got.ItemID)
		assert.Equal(t, event.RankChangedEventType, evt.Type)
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	subId, subCh := eb.Subscribe(event.ItemDivergedEventType)
	eb.Unsubscribe(event.ItemDivergedEventType, subId)
	eb.Publish(
		event.ItemDivergedEventType,
		event.NewEvent(event.ItemDivergedEventType, event.ItemDivergedEvent{}),
	)
	_, ok := <-subCh
	assert.False(t, ok)
	// Unknown ids are ignored
	eb.Unsubscribe(event.ItemDivergedEventType, subId)
}

func TestEventBusStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	eb := event.NewEventBus(nil, nil)
	var calls atomic.Int32
	eb.SubscribeFunc(event.ActionConfirmedEventType, func(event.Event) {
		calls.Add(1)
	})
	_, subCh := eb.Subscribe(event.ActionConfirmedEventType)
	eb.Publish(
		event.ActionConfirmedEventType,
		event.NewEvent(event.ActionConfirmedEventType, event.ActionEvent{}),
	)
	receive(t, subCh)
	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, time.Second, 5*time.Millisecond)
	eb.Stop()
	for range subCh {
	}
	// Bus is reusable after Stop
	_, subCh2 := eb.Subscribe(event.ActionConfirmedEventType)
	require.True(t, eb.PublishAsync(
		event.ActionConfirmedEventType,
		event.NewEvent(event.ActionConfirmedEventType, event.ActionEvent{}),
	))
	receive(t, subCh2)
	eb.Stop()
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubscribeFuncPanicRecovery(t *testing.T) {
	defer goleak.VerifyNone(t)
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	var received atomic.Int32
	eb.SubscribeFunc(event.ActionFailedEventType, func(event.Event) {
		if received.Add(1) == 1 {
			panic("boom")
		}
	})
	for range 2 {
		eb.Publish(
			event.ActionFailedEventType,
			event.NewEvent(event.ActionFailedEventType, event.ActionEvent{}),
		)
	}
	require.Eventually(t, func() bool {
		return received.Load() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestPublishDoesNotBlockOnFullQueue(t *testing.T) {
	defer goleak.VerifyNone(t)
	reg := prometheus.NewRegistry()
	eb := event.NewEventBus(reg, nil)
	defer eb.Stop()
	_, _ = eb.Subscribe(event.BatchRegisteredEventType)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range event.EventQueueSize + 5 {
			eb.Publish(
				event.BatchRegisteredEventType,
				event.NewEvent(
					event.BatchRegisteredEventType,
					event.BatchRegisteredEvent{},
				),
			)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber queue")
	}
	count, err := testutil.GatherAndCount(
		reg,
		"autoranker_event_delivery_errors_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	expected := `
# HELP autoranker_events_total total events published by type
# TYPE autoranker_events_total counter
autoranker_events_total{type="batch.registered"} 25
`
	require.NoError(t, testutil.GatherAndCompare(
		reg,
		strings.NewReader(expected),
		"autoranker_events_total",
	))
}
