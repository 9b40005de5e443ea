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

package autoranker

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/autoranker/keystore"
	"github.com/blinklabs-io/autoranker/ledger/sim"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.NotNil(t, cfg.logger)
	assert.Equal(t, DefaultCommitGranularity, cfg.commitGranularity)
	assert.Equal(t, DefaultWaitPadding, cfg.waitPadding)
	assert.Equal(t, 32, cfg.maxBatchSize)
	assert.Equal(t, 0, cfg.maxStake.Cmp(DefaultMaxStake))
}

func TestWithOptions(t *testing.T) {
	cfg := NewConfig(
		WithRoundWindows(10*time.Second, 20*time.Second),
		WithFundAmounts(big.NewInt(1), big.NewInt(2)),
		WithUpProbability(0.9),
		WithDatabasePath("/tmp/x"),
		WithTracing(true),
		WithTracingStdout(true),
	)
	assert.Equal(t, 10*time.Second, cfg.commitWindow)
	assert.Equal(t, 20*time.Second, cfg.revealWindow)
	assert.Equal(t, int64(2), cfg.fundTokenAmount.Int64())
	assert.InDelta(t, 0.9, cfg.upProbability, 1e-9)
	assert.Equal(t, "/tmp/x", cfg.dataDir)
	assert.True(t, cfg.tracing)
	assert.True(t, cfg.tracingStdout)
}

func TestConfigValidate(t *testing.T) {
	cfg := NewConfig()
	require.Error(t, cfg.validate())

	gw := sim.New(sim.Config{})
	ks := keystore.NewKeyStore(keystore.KeyStoreConfig{})
	cfg = NewConfig(WithGateway(gw), WithKeyStore(ks))
	require.NoError(t, cfg.validate())

	for _, opt := range []ConfigOptionFunc{
		WithUpProbability(1.5),
		WithCommitGranularity(0),
		WithMaxStake(big.NewInt(0)),
		WithWaitPadding(-time.Second),
	} {
		bad := NewConfig(WithGateway(gw), WithKeyStore(ks), opt)
		require.Error(t, bad.validate())
	}
}
