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

package importfeed

import (
	"fmt"
	"math/big"

	"github.com/blinklabs-io/autoranker/store"
)

// feedRank parses a feed rank. Missing, malformed and negative ranks count as zero.
func feedRank(e Entry) *big.Rat {
	r, ok := new(big.Rat).SetString(e.Rank.String())
	if !ok || r.Sign() < 0 {
		return new(big.Rat)
	}
	return r
}

// Normalize scales feed ranks so the highest maps to 2*initialRank.
// Results are rounded half up. Later duplicates of an id win.
func Normalize(entries []Entry, initialRank *big.Int) map[uint64]*big.Int {
	ret := make(map[uint64]*big.Int, len(entries))
	maxRank := new(big.Rat)
	for _, e := range entries {
		if r := feedRank(e); r.Cmp(maxRank) > 0 {
			maxRank = r
		}
	}
	if maxRank.Sign() == 0 || initialRank == nil || initialRank.Sign() <= 0 {
		for _, e := range entries {
			ret[e.ID] = new(big.Int)
		}
		return ret
	}
	top := new(big.Rat).SetInt(new(big.Int).Lsh(initialRank, 1))
	scale := new(big.Rat).Quo(top, maxRank)
	two := big.NewInt(2)
	for _, e := range entries {
		v := new(big.Rat).Mul(feedRank(e), scale)
		// floor((2*num + den) / (2*den))
		num := new(big.Int).Mul(v.Num(), two)
		num.Add(num, v.Denom())
		den := new(big.Int).Mul(v.Denom(), two)
		ret[e.ID] = num.Quo(num, den)
	}
	return ret
}

// LoadInto adds feed items unknown to the store with their normalised
// import rank and refreshes the name and import rank of known ones. The
// ledger rank is never touched. It returns the number of items added.
func LoadInto(st *store.Store, entries []Entry, initialRank *big.Int) (int, error) {
	ranks := Normalize(entries, initialRank)
	added := 0
	for _, e := range entries {
		if e.ID == 0 {
			continue
		}
		ok, err := st.Add(store.Item{
			ID:         e.ID,
			Name:       e.Name,
			ImportRank: ranks[e.ID],
		})
		if err != nil {
			return added, fmt.Errorf("add item %d: %w", e.ID, err)
		}
		if ok {
			added++
			continue
		}
		if err := st.SetImportRank(e.ID, e.Name, ranks[e.ID]); err != nil {
			return added, fmt.Errorf("update item %d: %w", e.ID, err)
		}
	}
	return added, nil
}
