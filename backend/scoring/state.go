// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scoring

import "sort"

// Status is the lifecycle of a game.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusFinal      Status = "final"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusScheduled || s == StatusInProgress || s == StatusFinal
}

// OutsPerHalfInning is the number of outs that ends a half-inning.
const OutsPerHalfInning = 3

// GameState is the derived state of a game.
type GameState struct {
	CurrentInning int    `json:"currentInning"`
	IsTopOfInning bool   `json:"isTopOfInning"`
	Outs          int    `json:"outsInCurrentInning"`
	OurScore      int    `json:"ourScore"`
	OpponentScore int    `json:"opponentScore"`
	Status        Status `json:"status"`
}

// NewGameState returns the state of a game before the first pitch.
func NewGameState() GameState {
	return GameState{
		CurrentInning: 1,
		IsTopOfInning: true,
		Status:        StatusScheduled,
	}
}

// Advance applies one at-bat to the state: runs, outs and half-inning
// rollover. It is the only place these rules live. Status is not touched.
func (s *GameState) Advance(ab AtBat) error {
	if !ab.Result.Valid() {
		return &IntegrityError{AtBatID: ab.ID, Number: ab.Number, Result: ab.Result}
	}
	if ab.Batter.IsOurs() {
		s.OurScore += ab.RBI
	} else {
		s.OpponentScore += ab.RBI
	}
	s.Outs += ab.Result.OutsProduced()
	if s.Outs >= OutsPerHalfInning {
		s.Outs = 0
		if s.IsTopOfInning {
			s.IsTopOfInning = false
		} else {
			s.IsTopOfInning = true
			s.CurrentInning++
		}
	}
	return nil
}

// Replay folds the log from a fresh state, in at-bat number order, and keeps
// the given status. The log is not modified.
func Replay(status Status, log []AtBat) (GameState, error) {
	s := NewGameState()
	s.Status = status
	for _, ab := range sortedByNumber(log) {
		if err := s.Advance(ab); err != nil {
			return GameState{}, err
		}
	}
	return s, nil
}

func sortedByNumber(log []AtBat) []AtBat {
	out := make([]AtBat, len(log))
	copy(out, log)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
