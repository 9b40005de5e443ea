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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"time"

	"github.com/blinklabs-io/autoranker/executor"
	"github.com/blinklabs-io/autoranker/keystore"
	"github.com/blinklabs-io/autoranker/ledger"
	"github.com/blinklabs-io/autoranker/planner"
	"github.com/blinklabs-io/autoranker/registrar"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultCommitGranularity = 30 * time.Second
	DefaultUpProbability     = 0.5
	DefaultWaitPadding       = 2 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
)

// DefaultMaxStake is 1000 tokens of 18 decimals
var DefaultMaxStake = new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))

type Config struct {
	gateway           ledger.Gateway
	clock             ledger.Clock
	keyStore          *keystore.KeyStore
	promRegistry      prometheus.Registerer
	logger            *slog.Logger
	rand              *rand.Rand
	sleep             executor.SleepFunc
	dataDir           string
	commitGranularity time.Duration
	maxStake          *big.Int
	upProbability     float64
	fundEtherAmount   *big.Int
	fundTokenAmount   *big.Int
	fundGrace         time.Duration
	commitWindow      time.Duration
	revealWindow      time.Duration
	waitPadding       time.Duration
	confirmTimeout    time.Duration
	maxBatchSize      int
	settleDelay       time.Duration
	tracing           bool
	tracingStdout     bool
	shutdownTimeout   time.Duration
}

func (c *Config) validate() error {
	if c.gateway == nil {
		return errors.New("no ledger gateway configured")
	}
	if c.keyStore == nil {
		return errors.New("no key store configured")
	}
	if c.commitGranularity <= 0 {
		return fmt.Errorf(
			"invalid commit granularity: %s",
			c.commitGranularity,
		)
	}
	if c.upProbability < 0 || c.upProbability > 1 {
		return fmt.Errorf(
			"up probability must be within [0, 1]: %v",
			c.upProbability,
		)
	}
	if c.maxStake == nil || c.maxStake.Sign() <= 0 {
		return errors.New("max stake must be positive")
	}
	if c.waitPadding < 0 {
		return fmt.Errorf("invalid wait padding: %s", c.waitPadding)
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the driver config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new driver config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		commitGranularity: DefaultCommitGranularity,
		maxStake:          DefaultMaxStake,
		upProbability:     DefaultUpProbability,
		commitWindow:      planner.DefaultCommitWindow,
		revealWindow:      planner.DefaultRevealWindow,
		fundGrace:         planner.DefaultFundGrace,
		waitPadding:       DefaultWaitPadding,
		maxBatchSize:      registrar.DefaultMaxBatchSize,
		settleDelay:       registrar.DefaultSettleDelay,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithGateway specifies the ledger the driver acts on
func WithGateway(gateway ledger.Gateway) ConfigOptionFunc {
	return func(c *Config) {
		c.gateway = gateway
	}
}

// WithClock overrides the source of the current time. By default the
// gateway is used if it implements ledger.Clock, else the local clock.
func WithClock(clock ledger.Clock) ConfigOptionFunc {
	return func(c *Config) {
		c.clock = clock
	}
}

// WithKeyStore specifies the voting accounts and the treasury
func WithKeyStore(keyStore *keystore.KeyStore) ConfigOptionFunc {
	return func(c *Config) {
		c.keyStore = keyStore
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithRandom specifies the random source for votes and account selection
func WithRandom(rnd *rand.Rand) ConfigOptionFunc {
	return func(c *Config) {
		c.rand = rnd
	}
}

// WithSleep replaces the function used to wait between actions and batches
func WithSleep(sleep executor.SleepFunc) ConfigOptionFunc {
	return func(c *Config) {
		c.sleep = sleep
	}
}

// WithCommitGranularity sets the time bucket size used to label vote intents
func WithCommitGranularity(granularity time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.commitGranularity = granularity
	}
}

// WithMaxStake sets the upper bound of a vote's magnitude
func WithMaxStake(maxStake *big.Int) ConfigOptionFunc {
	return func(c *Config) {
		c.maxStake = maxStake
	}
}

// WithUpProbability sets the chance of voting up
func WithUpProbability(p float64) ConfigOptionFunc {
	return func(c *Config) {
		c.upProbability = p
	}
}

// WithFundAmounts sets what the treasury sends to an account with an empty
// native or token balance
func WithFundAmounts(ether *big.Int, token *big.Int) ConfigOptionFunc {
	return func(c *Config) {
		c.fundEtherAmount = ether
		c.fundTokenAmount = token
	}
}

// WithFundGrace sets the wait after each funding transfer
func WithFundGrace(grace time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.fundGrace = grace
	}
}

// WithRoundWindows sets the commit and reveal windows assumed before the ledger opens a round
func WithRoundWindows(commitWindow, revealWindow time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.commitWindow = commitWindow
		c.revealWindow = revealWindow
	}
}

// WithWaitPadding sets the extra time added to every wait between actions,
// so that the next action lands after the phase boundary
func WithWaitPadding(padding time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.waitPadding = padding
	}
}

// WithConfirmTimeout bounds each wait for a transaction confirmation. The default of 0 waits indefinitely
func WithConfirmTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.confirmTimeout = timeout
	}
}

// WithMaxBatchSize sets the number of items per registration call
func WithMaxBatchSize(size int) ConfigOptionFunc {
	return func(c *Config) {
		c.maxBatchSize = size
	}
}

// WithSettleDelay sets the pause between registration batches
func WithSettleDelay(delay time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.settleDelay = delay
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for flushing traces on close. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
