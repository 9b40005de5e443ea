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

package eth

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// rankingABI covers the subset of the ranking contract the driver uses.
// The contract is also the ERC-20 voting token.
const rankingABI = `[
{"type":"function","name":"voteCommit","stateMutability":"nonpayable","inputs":[{"name":"_itemId","type":"uint256"},{"name":"_commitment","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"voteReveal","stateMutability":"nonpayable","inputs":[{"name":"_itemId","type":"uint256"},{"name":"_direction","type":"uint8"},{"name":"_stake","type":"uint256"},{"name":"_salt","type":"uint256"}],"outputs":[]},
{"type":"function","name":"finishVoting","stateMutability":"nonpayable","inputs":[{"name":"_itemId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"newItemsWithRanks","stateMutability":"nonpayable","inputs":[{"name":"_ids","type":"uint256[]"},{"name":"_ranks","type":"uint256[]"}],"outputs":[]},
{"type":"function","name":"getItemsWithRank","stateMutability":"view","inputs":[],"outputs":[{"name":"ids","type":"uint256[]"},{"name":"ranks","type":"uint256[]"}]},
{"type":"function","name":"getItem","stateMutability":"view","inputs":[{"name":"_itemId","type":"uint256"}],"outputs":[{"name":"owner","type":"address"},{"name":"rank","type":"uint256"},{"name":"balance","type":"uint256"},{"name":"votingId","type":"uint256"},{"name":"movingsIds","type":"uint256[]"}]},
{"type":"function","name":"getVoting","stateMutability":"view","inputs":[{"name":"_votingId","type":"uint256"}],"outputs":[{"name":"startTime","type":"uint256"},{"name":"commitTtl","type":"uint256"},{"name":"revealTtl","type":"uint256"},{"name":"itemId","type":"uint256"},{"name":"revealsCount","type":"uint256"},{"name":"voters","type":"address[]"},{"name":"avgStake","type":"uint256"}]},
{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"_owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const (
	methodVoteCommit        = "voteCommit"
	methodVoteReveal        = "voteReveal"
	methodFinishVoting      = "finishVoting"
	methodNewItemsWithRanks = "newItemsWithRanks"
	methodGetItemsWithRank  = "getItemsWithRank"
	methodGetItem           = "getItem"
	methodGetVoting         = "getVoting"
	methodTransfer          = "transfer"
	methodBalanceOf         = "balanceOf"
)

// RankingABI returns the parsed contract ABI
func RankingABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(rankingABI))
}
