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

package planner

import (
	"fmt"
	"math/big"
	"time"

	"github.com/blinklabs-io/autoranker/commitment"
	"github.com/blinklabs-io/autoranker/ledger"
	"github.com/ethereum/go-ethereum/common"
)

type Kind int

const (
	KindCommit Kind = iota + 1
	KindReveal
	KindFinalize
	KindFundEther
	KindFundToken
)

func (k Kind) String() string {
	switch k {
	case KindCommit:
		return "commit"
	case KindReveal:
		return "reveal"
	case KindFinalize:
		return "finalize"
	case KindFundEther:
		return "fundEther"
	case KindFundToken:
		return "fundToken"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// State tracks an action through execution
type State int

const (
	StatePlanned State = iota
	StateSubmitted
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePlanned:
		return "planned"
	case StateSubmitted:
		return "submitted"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Action is a single planned ledger interaction.
// Intent is set for commit and reveal, To and Amount for the fund kinds.
type Action struct {
	Kind      Kind
	ItemID    uint64
	Signer    ledger.Signer
	Intent    *commitment.VoteIntent
	To        common.Address
	Amount    *big.Int
	WaitAfter time.Duration

	State State
	TxRef ledger.TxRef
	Err   error
}

// Completed reports whether the action reached confirmation
func (a *Action) Completed() bool {
	return a.State == StateConfirmed
}

// Params returns the ledger call arguments in call order
func (a *Action) Params() []any {
	switch a.Kind {
	case KindCommit:
		if a.Intent == nil {
			return []any{a.ItemID}
		}
		return []any{a.ItemID, a.Intent.CommitHash}
	case KindReveal:
		if a.Intent == nil {
			return []any{a.ItemID}
		}
		return []any{
			a.ItemID,
			a.Intent.Direction,
			a.Intent.Magnitude,
			a.Intent.Salt,
		}
	case KindFinalize:
		return []any{a.ItemID}
	case KindFundEther, KindFundToken:
		return []any{a.To, a.Amount}
	default:
		return nil
	}
}

// MarkSubmitted records the transaction reference of a submission
func (a *Action) MarkSubmitted(ref ledger.TxRef) {
	a.State = StateSubmitted
	a.TxRef = ref
}

func (a *Action) MarkConfirmed() {
	a.State = StateConfirmed
	a.Err = nil
}

func (a *Action) MarkFailed(err error) {
	a.State = StateFailed
	a.Err = err
}

func (a *Action) String() string {
	return fmt.Sprintf(
		"%s(item=%d, wait=%s, state=%s)",
		a.Kind,
		a.ItemID,
		a.WaitAfter,
		a.State,
	)
}

// Kinds returns the kind sequence of a queue
func Kinds(actions []*Action) []Kind {
	ret := make([]Kind, 0, len(actions))
	for _, a := range actions {
		ret = append(ret, a.Kind)
	}
	return ret
}
