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

package config

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "autoranker.config"

const (
	NetworkSim = "sim"
	NetworkRpc = "rpc"
)

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidAddress = errors.New("invalid address")
)

type Config struct {
	Network           string        `yaml:"network"           envconfig:"AUTORANKER_NETWORK"             validate:"oneof=sim rpc"`
	RpcUrl            string        `yaml:"rpcUrl"            envconfig:"AUTORANKER_RPC_URL"             validate:"required_if=Network rpc"`
	ChainId           uint64        `yaml:"chainId"           envconfig:"AUTORANKER_CHAIN_ID"`
	ContractAddress   string        `yaml:"contractAddress"   envconfig:"AUTORANKER_CONTRACT_ADDRESS"    validate:"required_if=Network rpc"`
	TokenAddress      string        `yaml:"tokenAddress"      envconfig:"AUTORANKER_TOKEN_ADDRESS"`
	KeysFile          string        `yaml:"keysFile"          envconfig:"AUTORANKER_KEYS_FILE"`
	TreasuryKeyFile   string        `yaml:"treasuryKeyFile"   envconfig:"AUTORANKER_TREASURY_KEY_FILE"`
	DatabasePath      string        `yaml:"databasePath"      envconfig:"AUTORANKER_DATABASE_PATH"`
	ImportUrl         string        `yaml:"importUrl"         envconfig:"AUTORANKER_IMPORT_URL"          validate:"omitempty,url"`
	ImportCacheDir    string        `yaml:"importCacheDir"    envconfig:"AUTORANKER_IMPORT_CACHE_DIR"`
	ImportCacheTtl    time.Duration `yaml:"importCacheTtl"    envconfig:"AUTORANKER_IMPORT_CACHE_TTL"    validate:"gte=0"`
	InitialRank       string        `yaml:"initialRank"       envconfig:"AUTORANKER_INITIAL_RANK"        validate:"required"`
	MaxBatchSize      int           `yaml:"maxBatchSize"      envconfig:"AUTORANKER_MAX_BATCH_SIZE"      validate:"gte=1"`
	SettleDelay       time.Duration `yaml:"settleDelay"       envconfig:"AUTORANKER_SETTLE_DELAY"        validate:"gte=0"`
	CommitWindow      time.Duration `yaml:"commitWindow"      envconfig:"AUTORANKER_COMMIT_WINDOW"       validate:"gt=0"`
	RevealWindow      time.Duration `yaml:"revealWindow"      envconfig:"AUTORANKER_REVEAL_WINDOW"       validate:"gt=0"`
	CommitGranularity time.Duration `yaml:"commitGranularity" envconfig:"AUTORANKER_COMMIT_GRANULARITY"  validate:"gt=0"`
	MaxStake          string        `yaml:"maxStake"          envconfig:"AUTORANKER_MAX_STAKE"           validate:"required"`
	UpProbability     float64       `yaml:"upProbability"     envconfig:"AUTORANKER_UP_PROBABILITY"      validate:"gte=0,lte=1"`
	FundEtherAmount   string        `yaml:"fundEtherAmount"   envconfig:"AUTORANKER_FUND_ETHER_AMOUNT"`
	FundTokenAmount   string        `yaml:"fundTokenAmount"   envconfig:"AUTORANKER_FUND_TOKEN_AMOUNT"`
	FundGrace         time.Duration `yaml:"fundGrace"         envconfig:"AUTORANKER_FUND_GRACE"          validate:"gte=0"`
	WaitPadding       time.Duration `yaml:"waitPadding"       envconfig:"AUTORANKER_WAIT_PADDING"        validate:"gte=0"`
	ConfirmTimeout    time.Duration `yaml:"confirmTimeout"    envconfig:"AUTORANKER_CONFIRM_TIMEOUT"     validate:"gte=0"`
	PlaySchedule      string        `yaml:"playSchedule"      envconfig:"AUTORANKER_PLAY_SCHEDULE"       validate:"required"`
	RoundsPerCycle    int           `yaml:"roundsPerCycle"    envconfig:"AUTORANKER_ROUNDS_PER_CYCLE"    validate:"gte=1"`
	BindAddr          string        `yaml:"bindAddr"          envconfig:"AUTORANKER_BIND_ADDR"`
	MetricsPort       uint          `yaml:"metricsPort"       envconfig:"AUTORANKER_METRICS_PORT"        validate:"lte=65535"`
	ShutdownTimeout   string        `yaml:"shutdownTimeout"   envconfig:"AUTORANKER_SHUTDOWN_TIMEOUT"`
	Tracing           bool          `yaml:"tracing"           envconfig:"AUTORANKER_TRACING"`
	TracingStdout     bool          `yaml:"tracingStdout"     envconfig:"AUTORANKER_TRACING_STDOUT"`
}

func defaultConfig() *Config {
	return &Config{
		Network:           NetworkSim,
		DatabasePath:      ".autoranker",
		ImportCacheDir:    os.TempDir(),
		ImportCacheTtl:    24 * time.Hour,
		InitialRank:       "1000000000000000000000",
		MaxBatchSize:      32,
		SettleDelay:       10 * time.Second,
		CommitWindow:      30 * time.Second,
		RevealWindow:      30 * time.Second,
		CommitGranularity: 30 * time.Second,
		MaxStake:          "1000000000000000000000",
		UpProbability:     0.5,
		FundEtherAmount:   "100000000000000000",
		FundTokenAmount:   "10000000000000000000000",
		FundGrace:         5 * time.Second,
		WaitPadding:       2 * time.Second,
		ConfirmTimeout:    2 * time.Minute,
		PlaySchedule:      "@every 5m",
		RoundsPerCycle:    1,
		BindAddr:          "0.0.0.0",
		MetricsPort:       12799,
		ShutdownTimeout:   DefaultShutdownTimeout,
	}
}

var globalConfig = defaultConfig()

func LoadConfig(configFile string) (*Config, error) {
	cfg := defaultConfig()
	// Try load from default paths if no file was given
	if configFile == "" {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			userPath := filepath.Join(homeDir, ".autoranker", "autoranker.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
		if configFile == "" {
			if _, err := os.Stat("/etc/autoranker/autoranker.yaml"); err == nil {
				configFile = "/etc/autoranker/autoranker.yaml"
			}
		}
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process("autoranker", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

func GetConfig() *Config {
	return globalConfig
}

// Validate checks struct constraints plus the values that are carried as
// strings: wei amounts and hex addresses.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name, val := range map[string]string{
		"initialRank":     c.InitialRank,
		"maxStake":        c.MaxStake,
		"fundEtherAmount": c.FundEtherAmount,
		"fundTokenAmount": c.FundTokenAmount,
	} {
		if _, err := ParseAmount(val); err != nil {
			return fmt.Errorf("invalid config: %s: %w", name, err)
		}
	}
	for name, val := range map[string]string{
		"contractAddress": c.ContractAddress,
		"tokenAddress":    c.TokenAddress,
	} {
		if val != "" && !common.IsHexAddress(val) {
			return fmt.Errorf(
				"invalid config: %s: %w: %s",
				name,
				ErrInvalidAddress,
				val,
			)
		}
	}
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid config: shutdownTimeout: %w", err)
	}
	return nil
}

// ParseAmount parses a non-negative base-10 integer. An empty string is zero.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	ret, ok := new(big.Int).SetString(s, 10)
	if !ok || ret.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return ret, nil
}

func (c *Config) InitialRankAmount() *big.Int {
	ret, _ := ParseAmount(c.InitialRank)
	return ret
}

func (c *Config) MaxStakeAmount() *big.Int {
	ret, _ := ParseAmount(c.MaxStake)
	return ret
}

func (c *Config) FundEtherWei() *big.Int {
	ret, _ := ParseAmount(c.FundEtherAmount)
	return ret
}

func (c *Config) FundTokenWei() *big.Int {
	ret, _ := ParseAmount(c.FundTokenAmount)
	return ret
}

func (c *Config) ShutdownTimeoutDuration() time.Duration {
	ret, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		ret, _ = time.ParseDuration(DefaultShutdownTimeout)
	}
	return ret
}
