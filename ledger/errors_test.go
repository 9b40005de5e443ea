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

package ledger_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/blinklabs-io/autoranker/ledger"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	testDefs := []struct {
		name     string
		err      error
		expected ledger.ErrorClass
	}{
		{name: "nil", err: nil, expected: ledger.ClassNone},
		{
			name:     "not found",
			err:      fmt.Errorf("get item 3: %w", ledger.ErrNotFound),
			expected: ledger.ClassNotFound,
		},
		{
			name: "pending with ref",
			err: &ledger.SubmissionError{
				Op:  "commit",
				Err: &ledger.PendingError{Ref: "0xabc"},
			},
			expected: ledger.ClassPending,
		},
		{
			name:     "pending without ref",
			err:      ledger.ErrAlreadyPending,
			expected: ledger.ClassUnrecoverable,
		},
		{
			name:     "other",
			err:      errors.New("insufficient funds"),
			expected: ledger.ClassUnrecoverable,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			assert.Equal(t, testDef.expected, ledger.Classify(testDef.err))
		})
	}
}

func TestPendingRef(t *testing.T) {
	err := fmt.Errorf(
		"submit: %w",
		&ledger.PendingError{Ref: "0x01", Err: errors.New("already known")},
	)
	ref, ok := ledger.PendingRef(err)
	assert.True(t, ok)
	assert.Equal(t, ledger.TxRef("0x01"), ref)
	assert.ErrorIs(t, err, ledger.ErrAlreadyPending)
	_, ok = ledger.PendingRef(errors.New("boom"))
	assert.False(t, ok)
}
