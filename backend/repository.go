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

package backend

import (
	"context"
	"errors"
	"iter"

	"github.com/ttbt-io/statkeeper/backend/scoring"
)

// ErrGameExists is returned when a game id is already taken.
var ErrGameExists = errors.New("conflict: game already exists")

// GameRepository persists whole game aggregates. Every write replaces the
// stored record in one unit.
//
// The index argument is the raft log index of the command being applied, or
// zero outside of a cluster. A repository remembers the highest index applied
// to each game and silently skips a command whose index is not newer, so that
// log replay after a restart is idempotent.
type GameRepository interface {
	CreateGame(ctx context.Context, g *scoring.Game, index uint64) error
	LoadGame(ctx context.Context, id string) (*scoring.Game, error)
	// UpdateGame runs fn on a copy of the stored game while holding the
	// game's write lock and stores the result. Nothing is written when fn
	// returns an error.
	UpdateGame(ctx context.Context, id string, index uint64, fn func(*scoring.Game) error) (*scoring.Game, error)
	// PutGame stores g unconditionally. Used when restoring snapshots.
	PutGame(ctx context.Context, g *scoring.Game, index uint64) error
	DeleteGame(ctx context.Context, id string, index uint64) error
	ListGameSummaries(ctx context.Context) iter.Seq2[GameSummary, error]
	ListAllGames(ctx context.Context) iter.Seq2[*scoring.Game, error]
	Close() error
}

// GameSummary holds the fields needed to index, list and authorize a game
// without loading its log.
type GameSummary struct {
	ID            string         `json:"id"`
	TeamID        string         `json:"teamId"`
	SeasonID      string         `json:"seasonId,omitempty"`
	OwnerID       string         `json:"ownerId"`
	OpponentName  string         `json:"opponentName"`
	Date          string         `json:"gameDate"`
	IsHome        bool           `json:"isHome"`
	Status        scoring.Status `json:"status"`
	OurScore      int            `json:"ourScore"`
	OpponentScore int            `json:"opponentScore"`
	UpdatedAt     int64          `json:"updatedAt"`
	DeletedAt     int64          `json:"deletedAt,omitempty"`
}

func summarize(g *scoring.Game) GameSummary {
	return GameSummary{
		ID:            g.ID,
		TeamID:        g.TeamID,
		SeasonID:      g.SeasonID,
		OwnerID:       g.OwnerID,
		OpponentName:  g.OpponentName,
		Date:          g.Date,
		IsHome:        g.IsHome,
		Status:        g.State.Status,
		OurScore:      g.State.OurScore,
		OpponentScore: g.State.OpponentScore,
		UpdatedAt:     g.UpdatedAt,
	}
}

// Deleted reports whether the summary is a tombstone.
func (s GameSummary) Deleted() bool {
	return s.DeletedAt != 0
}

// Outcome returns "W", "L" or "T" for a final game and "" otherwise.
func (s GameSummary) Outcome() string {
	if s.Status != scoring.StatusFinal {
		return ""
	}
	switch {
	case s.OurScore > s.OpponentScore:
		return "W"
	case s.OurScore < s.OpponentScore:
		return "L"
	}
	return "T"
}

// gamePurger is implemented by repositories that keep tombstones.
type gamePurger interface {
	PurgeGame(id string) error
}

// alreadyApplied reports whether a command at index has been reflected in a
// record last written at stored.
func alreadyApplied(stored, index uint64) bool {
	return index > 0 && stored >= index
}
