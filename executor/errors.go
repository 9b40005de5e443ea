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

package executor

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/autoranker/planner"
)

var (
	ErrMissingIntent = errors.New("no vote intent available")
	ErrRoundClosed   = errors.New("round is no longer open for this action")
	// ErrAlreadyCommitted means the ledger lists the account as a voter of the
	// open round but no stored intent can reveal that vote
	ErrAlreadyCommitted = errors.New("account already committed without a stored vote intent")
	ErrIntentMismatch   = errors.New(
		"vote intent hash does not match its revealed values",
	)
)

// ActionError identifies the action that stopped a queue
type ActionError struct {
	Index  int
	Kind   planner.Kind
	ItemID uint64
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf(
		"action %d (%s) for item %d failed: %s",
		e.Index,
		e.Kind,
		e.ItemID,
		e.Err,
	)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
