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

// Package round models commit-reveal rounds and classifies a point in time
// into the phase of a round.
package round

import (
	"time"
)

type Phase int

const (
	PhaseNoActiveRound Phase = iota
	PhasePreStart
	PhaseCommit
	PhaseReveal
	PhaseFinishEligible
)

func (p Phase) String() string {
	switch p {
	case PhaseNoActiveRound:
		return "no-active-round"
	case PhasePreStart:
		return "pre-start"
	case PhaseCommit:
		return "commit"
	case PhaseReveal:
		return "reveal"
	case PhaseFinishEligible:
		return "finish-eligible"
	default:
		return "unknown"
	}
}

// Round is one commit-reveal cycle for an item as reported by the ledger
type Round struct {
	ID           uint64
	ItemID       uint64
	StartTime    time.Time
	CommitWindow time.Duration
	RevealWindow time.Duration
	// Finished is the ledger's own verdict and takes precedence over the timestamps
	Finished bool
}

// CommitDeadline returns the last instant at which a commit is accepted
func (r *Round) CommitDeadline() time.Time {
	return r.StartTime.Add(r.CommitWindow)
}

// RevealDeadline returns the last instant at which a reveal is accepted
func (r *Round) RevealDeadline() time.Time {
	return r.CommitDeadline().Add(r.RevealWindow)
}

// Resolution is the phase of a round at a given instant.
// Remaining is set for the commit and reveal phases, Overdue for finish-eligible.
type Resolution struct {
	Phase     Phase
	Remaining time.Duration
	Overdue   time.Duration
}

// Resolve classifies now against r. A nil or finished round has no active phase.
func Resolve(now time.Time, r *Round) Resolution {
	if r == nil || r.ID == 0 || r.Finished {
		return Resolution{Phase: PhaseNoActiveRound}
	}
	if now.Before(r.StartTime) {
		return Resolution{Phase: PhasePreStart}
	}
	commitEnd := r.CommitDeadline()
	if !now.After(commitEnd) {
		return Resolution{
			Phase:     PhaseCommit,
			Remaining: commitEnd.Sub(now),
		}
	}
	revealEnd := r.RevealDeadline()
	if !now.After(revealEnd) {
		return Resolution{
			Phase:     PhaseReveal,
			Remaining: revealEnd.Sub(now),
		}
	}
	return Resolution{
		Phase:   PhaseFinishEligible,
		Overdue: now.Sub(revealEnd),
	}
}
