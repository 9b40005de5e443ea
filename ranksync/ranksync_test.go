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

package ranksync_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/autoranker/event"
	"github.com/blinklabs-io/autoranker/keystore"
	"github.com/blinklabs-io/autoranker/ledger/sim"
	"github.com/blinklabs-io/autoranker/ranksync"
	"github.com/blinklabs-io/autoranker/store"
)

func TestSync(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	owner, err := keystore.GenerateAccount()
	require.NoError(t, err)
	l := sim.New(sim.Config{Owner: owner.Address()})
	_, err = l.SubmitRegisterBatch(
		ctx,
		owner,
		[]uint64{1, 2, 3},
		[]*big.Int{big.NewInt(10), big.NewInt(20), big.NewInt(30)},
	)
	require.NoError(t, err)
	st, err := store.New(store.StoreConfig{})
	require.NoError(t, err)
	for _, id := range []uint64{1, 2, 4} {
		_, err := st.Add(store.Item{ID: id})
		require.NoError(t, err)
	}
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, rankCh := eb.Subscribe(event.RankChangedEventType)
	_, divergedCh := eb.Subscribe(event.ItemDivergedEventType)
	s := ranksync.NewSynchronizer(ranksync.SynchronizerConfig{
		Gateway:  l,
		EventBus: eb,
	})

	report, err := s.Sync(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, report.Updated)
	assert.Equal(t, []uint64{4}, report.Diverged)
	assert.Equal(t, []uint64{3}, report.Skipped)
	item, _ := st.Get(2)
	assert.Equal(t, int64(20), item.Rank.Int64())
	assert.Equal(t, store.SyncSynced, item.SyncState)
	item, _ = st.Get(4)
	assert.Equal(t, store.SyncDiverged, item.SyncState)
	_, ok := st.Get(3)
	assert.False(t, ok)

	// Nothing changed: no updates and no repeated divergence reports
	report, err = s.Sync(ctx, st)
	require.NoError(t, err)
	assert.Empty(t, report.Updated)
	assert.Empty(t, report.Diverged)

	got := 0
	for got < 2 {
		select {
		case evt := <-rankCh:
			data := evt.Data.(event.RankChangedEvent)
			assert.Nil(t, data.OldRank)
			got++
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for rank change")
		}
	}
	select {
	case evt := <-divergedCh:
		assert.Equal(t, uint64(4), evt.Data.(event.ItemDivergedEvent).ItemID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for divergence")
	}
	select {
	case <-rankCh:
		t.Fatal("rank change reported twice")
	default:
	}
}
