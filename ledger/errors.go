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

package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyPending = errors.New("transaction already pending")
	ErrReverted       = errors.New("transaction reverted")
	ErrNotOwner       = errors.New("signer is not the registry owner")
	ErrWrongPhase     = errors.New("action not allowed in current round phase")
)

// PendingError reports that an equivalent submission is already in flight.
// Ref identifies the original transaction, which should be awaited instead
// of resubmitting.
type PendingError struct {
	Ref TxRef
	Err error
}

func (e *PendingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pending transaction %s: %s", e.Ref, e.Err)
	}
	return fmt.Sprintf("pending transaction %s", e.Ref)
}

func (e *PendingError) Is(target error) bool {
	return target == ErrAlreadyPending
}

func (e *PendingError) Unwrap() error {
	return e.Err
}

// SubmissionError wraps a rejected ledger write
type SubmissionError struct {
	Op  string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s submission failed: %s", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassNotFound
	ClassPending
	ClassUnrecoverable
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassNotFound:
		return "not-found"
	case ClassPending:
		return "pending"
	default:
		return "unrecoverable"
	}
}

// Classify maps a gateway error onto the driver's error taxonomy
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrAlreadyPending):
		var pendErr *PendingError
		if errors.As(err, &pendErr) && pendErr.Ref != "" {
			return ClassPending
		}
		return ClassUnrecoverable
	default:
		return ClassUnrecoverable
	}
}

// PendingRef returns the transaction to await for a pending error
func PendingRef(err error) (TxRef, bool) {
	var pendErr *PendingError
	if errors.As(err, &pendErr) && pendErr.Ref != "" {
		return pendErr.Ref, true
	}
	return "", false
}
