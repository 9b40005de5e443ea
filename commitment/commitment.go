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

// Package commitment builds salted commit-reveal vote intents and the
// commitment hash the ranking contract verifies at reveal time.
package commitment

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// Direction is the signed sense of a vote
type Direction uint8

const (
	DirectionDown Direction = 0
	DirectionUp   Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionDown:
		return "down"
	case DirectionUp:
		return "up"
	default:
		return "unknown(" + strconv.Itoa(int(d)) + ")"
	}
}

// magnitudeSteps is the resolution used when drawing a magnitude from [0, MaxStake]
const magnitudeSteps = 1_000_000

var (
	ErrInvalidGranularity = errors.New("commit granularity must be positive")
	ErrInvalidMaxStake    = errors.New("max stake must be positive")
	ErrInvalidProbability = errors.New("up probability must be within [0, 1]")
)

// Source is the randomness used to draw a vote. *math/rand/v2.Rand satisfies it.
type Source interface {
	Float64() float64
	Uint64N(n uint64) uint64
	Uint64() uint64
}

// Params controls how a vote intent is drawn
type Params struct {
	Granularity   time.Duration
	MaxStake      *big.Int
	UpProbability float64
}

func (p Params) validate() error {
	if p.Granularity <= 0 {
		return ErrInvalidGranularity
	}
	if p.MaxStake == nil || p.MaxStake.Sign() <= 0 {
		return ErrInvalidMaxStake
	}
	if p.UpProbability < 0 || p.UpProbability > 1 {
		return ErrInvalidProbability
	}
	return nil
}

// VoteIntent is a committed-but-not-yet-revealed vote. It must be kept until
// reveal: the hash cannot be reproduced without the exact magnitude and salt.
type VoteIntent struct {
	ItemID     uint64
	Direction  Direction
	Magnitude  *big.Int
	Salt       *big.Int
	CommitHash common.Hash
	// Bucket is the "{itemId}_{bucketStart}" label of the time bucket the intent was drawn in
	Bucket string
	// RoundID is set once the commit has been accepted by the ledger
	RoundID uint64
}

// Verify reports whether the intent's hash matches its revealed values
func (v *VoteIntent) Verify() bool {
	return Hash(v.Direction, v.Magnitude, v.Salt) == v.CommitHash
}

// BucketStart returns the start of the granularity bucket containing now, in unix seconds
func BucketStart(now time.Time, granularity time.Duration) int64 {
	g := int64(granularity / time.Second)
	if g <= 0 {
		g = 1
	}
	ts := now.Unix()
	start := ts - (ts % g)
	if ts < 0 && ts%g != 0 {
		start -= g
	}
	return start
}

// BucketLabel returns the reproducible bucket label for an item at a point in time
func BucketLabel(itemID uint64, now time.Time, granularity time.Duration) string {
	return fmt.Sprintf("%d_%d", itemID, BucketStart(now, granularity))
}

// GenerateIntent draws a vote for itemID. The result depends only on its
// arguments and the values drawn from src.
func GenerateIntent(
	itemID uint64,
	now time.Time,
	params Params,
	src Source,
) (*VoteIntent, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	dir := DirectionDown
	if src.Float64() < params.UpProbability {
		dir = DirectionUp
	}
	// magnitude = maxStake * k / steps, k in [0, steps]
	k := src.Uint64N(magnitudeSteps + 1)
	magnitude := new(big.Int).Mul(params.MaxStake, new(big.Int).SetUint64(k))
	magnitude.Quo(magnitude, big.NewInt(magnitudeSteps))
	if magnitude.Sign() == 0 {
		magnitude.SetInt64(1)
	}
	salt := new(big.Int).SetUint64(src.Uint64())
	return &VoteIntent{
		ItemID:     itemID,
		Direction:  dir,
		Magnitude:  magnitude,
		Salt:       salt,
		CommitHash: Hash(dir, magnitude, salt),
		Bucket:     BucketLabel(itemID, now, params.Granularity),
	}, nil
}

// Hash computes keccak256(uint256(direction) ++ uint256(magnitude) ++ uint256(salt)),
// the tightly packed encoding used by the ranking contract.
func Hash(direction Direction, magnitude *big.Int, salt *big.Int) common.Hash {
	return crypto.Keccak256Hash(
		math.U256Bytes(new(big.Int).SetUint64(uint64(direction))),
		math.U256Bytes(new(big.Int).Set(magnitude)),
		math.U256Bytes(new(big.Int).Set(salt)),
	)
}
