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

package registrar_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/autoranker/keystore"
	"github.com/blinklabs-io/autoranker/ledger/sim"
	"github.com/blinklabs-io/autoranker/registrar"
	"github.com/blinklabs-io/autoranker/store"
)

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

func setup(t *testing.T, n int) (*sim.Ledger, *store.Store, *keystore.Account) {
	t.Helper()
	owner, err := keystore.GenerateAccount()
	require.NoError(t, err)
	l := sim.New(sim.Config{Owner: owner.Address()})
	st, err := store.New(store.StoreConfig{})
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		_, err := st.Add(store.Item{
			ID:         uint64(i),
			ImportRank: big.NewInt(int64(i * 10)),
		})
		require.NoError(t, err)
	}
	return l, st, owner
}

func TestRegisterMissingBatches(t *testing.T) {
	l, st, owner := setup(t, 65)
	sleeper := &sleepRecorder{}
	r, err := registrar.NewRegistrar(registrar.RegistrarConfig{
		Gateway:      l,
		Owner:        owner,
		MaxBatchSize: 32,
		SettleDelay:  5 * time.Second,
		Sleep:        sleeper.Sleep,
	})
	require.NoError(t, err)
	result, err := r.RegisterMissing(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, result.Batches, 3)
	assert.Len(t, result.Batches[0], 32)
	assert.Len(t, result.Batches[1], 32)
	assert.Len(t, result.Batches[2], 1)
	assert.Equal(t, 3, l.Calls(sim.OpRegister))
	// Settle only between batches
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeper.calls)
	item, _ := st.Get(65)
	assert.Equal(t, int64(650), item.Rank.Int64())
	assert.Equal(t, store.SyncSynced, item.SyncState)

	// Second run issues no writes
	result, err = r.RegisterMissing(context.Background(), st)
	require.NoError(t, err)
	assert.Empty(t, result.Batches)
	assert.Len(t, result.Existing, 65)
	assert.Equal(t, 3, l.Calls(sim.OpRegister))
}

func TestRegisterMissingKeepsLedgerRank(t *testing.T) {
	l, st, owner := setup(t, 3)
	_, err := l.SubmitRegisterBatch(
		context.Background(),
		owner,
		[]uint64{2},
		[]*big.Int{big.NewInt(999)},
	)
	require.NoError(t, err)
	_, err = st.Add(store.Item{ID: 7})
	require.NoError(t, err)
	r, err := registrar.NewRegistrar(registrar.RegistrarConfig{
		Gateway: l,
		Owner:   owner,
	})
	require.NoError(t, err)
	result, err := r.RegisterMissing(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, [][]uint64{{1, 3}}, result.Batches)
	assert.Equal(t, []uint64{2}, result.Existing)
	assert.Equal(t, []uint64{7}, result.Skipped)
	item, _ := st.Get(2)
	assert.Equal(t, int64(999), item.Rank.Int64())
	ledgerItem, err := l.GetItem(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(999), ledgerItem.Rank.Int64())
}

func TestRegisterMissingPendingAndFailure(t *testing.T) {
	l, st, owner := setup(t, 5)
	r, err := registrar.NewRegistrar(registrar.RegistrarConfig{
		Gateway:      l,
		Owner:        owner,
		MaxBatchSize: 2,
		Sleep:        (&sleepRecorder{}).Sleep,
	})
	require.NoError(t, err)
	l.PendNext(sim.OpRegister)
	l.FailNext(sim.OpRegister, errors.New("out of gas"))
	result, err := r.RegisterMissing(context.Background(), st)
	require.Error(t, err)
	// First batch recovered from the pending report, second aborted the pass
	assert.Equal(t, [][]uint64{{1, 2}}, result.Batches)
	assert.Equal(t, 2, l.Calls(sim.OpRegister))
	ids, _, err := l.ListItemsWithRank(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)
}

func TestNewRegistrarRequiresOwner(t *testing.T) {
	l := sim.New(sim.Config{})
	_, err := registrar.NewRegistrar(registrar.RegistrarConfig{Gateway: l})
	require.ErrorIs(t, err, registrar.ErrNoOwner)
}
