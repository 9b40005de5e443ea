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

package main

import (
	"bytes"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/autoranker/database/models"
)

func TestFormatEther(t *testing.T) {
	oneAndHalf, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, "1.5000", formatEther(oneAndHalf))
	assert.Equal(t, "0.0000", formatEther(new(big.Int)))
	assert.Equal(t, "-", formatEther(nil))
}

func TestSortRanking(t *testing.T) {
	rows := []rankingRow{
		{id: 3, rank: big.NewInt(5)},
		{id: 1, rank: big.NewInt(7)},
		{id: 2, rank: big.NewInt(5)},
	}
	sortRanking(rows)
	ids := []uint64{rows[0].id, rows[1].id, rows[2].id}
	assert.Equal(t, []uint64{1, 2, 3}, ids)
}

func TestRenderHistory(t *testing.T) {
	eth, _ := new(big.Int).SetString("1000000000000000000", 10)
	twoEth := new(big.Int).Mul(eth, big.NewInt(2))
	observed := time.Unix(1_700_000_000, 0)
	var out bytes.Buffer
	require.NoError(t, renderHistory(&out, []models.RankChange{
		{ItemID: 1, OldRank: eth.String(), NewRank: twoEth.String(), ObservedAt: observed},
		{ItemID: 1, OldRank: twoEth.String(), NewRank: eth.String(), ObservedAt: observed.Add(time.Minute)},
	}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	rendered := out.String()
	assert.Contains(t, rendered, "2023-11-14T22:13:20Z")
	assert.Contains(t, rendered, "+1.0000")
	assert.Contains(t, rendered, "-1.0000")
	// Oldest change first
	assert.Less(t, strings.Index(rendered, "+1.0000"), strings.Index(rendered, "-1.0000"))
	assert.Greater(t, len(lines), 2)

	out.Reset()
	require.Error(t, renderHistory(&out, []models.RankChange{{OldRank: "x"}}))
}
