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

import (
	"strings"
	"unicode/utf8"
)

// MaxNotesLength is the maximum number of characters in at-bat notes.
const MaxNotesLength = 500

// Side identifies which ledger an at-bat belongs to.
type Side string

const (
	OurSide      Side = "ours"
	OpponentSide Side = "opponent"
)

// BatterRef identifies the batter: a player on our roster or an opponent
// batter recorded on the game.
type BatterRef struct {
	Side Side   `json:"side"`
	ID   string `json:"id"`
}

// OurBatter references a player on our roster.
func OurBatter(playerID string) BatterRef {
	return BatterRef{Side: OurSide, ID: playerID}
}

// OpponentBatterRef references an opponent batter of the game.
func OpponentBatterRef(batterID string) BatterRef {
	return BatterRef{Side: OpponentSide, ID: batterID}
}

// NewBatterRef builds a reference from the two mutually exclusive ids used
// on the wire. Exactly one must be set.
func NewBatterRef(playerID, opponentBatterID string) (BatterRef, error) {
	playerID = strings.TrimSpace(playerID)
	opponentBatterID = strings.TrimSpace(opponentBatterID)
	switch {
	case playerID != "" && opponentBatterID != "":
		return BatterRef{}, invalid("batter", "both playerId and opponentBatterId are set")
	case playerID != "":
		return OurBatter(playerID), nil
	case opponentBatterID != "":
		return OpponentBatterRef(opponentBatterID), nil
	}
	return BatterRef{}, invalid("batter", "one of playerId or opponentBatterId is required")
}

// IsOurs reports whether the batter is on our roster.
func (b BatterRef) IsOurs() bool {
	return b.Side == OurSide
}

// Validate checks that the reference is well formed.
func (b BatterRef) Validate() error {
	if b.Side != OurSide && b.Side != OpponentSide {
		return invalid("batter", "unknown side %q", string(b.Side))
	}
	if strings.TrimSpace(b.ID) == "" {
		return invalid("batter", "missing id")
	}
	return nil
}

// Location is a normalized field position in [0,1]x[0,1].
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Validate checks the coordinate range.
func (l Location) Validate() error {
	if l.X < 0 || l.X > 1 || l.Y < 0 || l.Y > 1 {
		return invalid("location", "(%g, %g) is outside [0,1]", l.X, l.Y)
	}
	return nil
}

// AtBat is one recorded plate appearance.
type AtBat struct {
	ID                string    `json:"id"`
	Number            int       `json:"atBatNumberInGame"`
	Batter            BatterRef `json:"batter"`
	OpponentPitcherID string    `json:"opponentPitcherId,omitempty"`
	Inning            int       `json:"inning"`
	IsTop             bool      `json:"isTopOfInning"`
	Result            Result    `json:"result"`
	RBI               int       `json:"rbi"`
	RunnerScored      bool      `json:"runnerScored"`
	StolenBases       int       `json:"stolenBases"`
	CaughtStealing    int       `json:"caughtStealing"`
	HitLocation       *Location `json:"hitLocation,omitempty"`
	Pitches           []Pitch   `json:"pitches,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	RecordedAt        int64     `json:"recordedAt"`
}

// Validate checks the fields a caller supplies when recording an at-bat.
func (ab AtBat) Validate() error {
	if err := ab.Batter.Validate(); err != nil {
		return err
	}
	if !ab.Result.Valid() {
		return invalid("result", "unknown result code %q", string(ab.Result))
	}
	if ab.Inning < 0 {
		return invalid("inning", "must be at least 1")
	}
	if err := validateCounts(ab.RBI, ab.StolenBases, ab.CaughtStealing); err != nil {
		return err
	}
	if ab.HitLocation != nil {
		if !ab.Result.IsBattedBall() {
			return invalid("hitLocation", "not allowed for %s", ab.Result)
		}
		if err := ab.HitLocation.Validate(); err != nil {
			return err
		}
	}
	for _, p := range ab.Pitches {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return validateNotes(ab.Notes)
}

func validateCounts(rbi, sb, cs int) error {
	if rbi < 0 {
		return invalid("rbi", "must not be negative")
	}
	if sb < 0 {
		return invalid("stolenBases", "must not be negative")
	}
	if cs < 0 {
		return invalid("caughtStealing", "must not be negative")
	}
	return nil
}

func validateNotes(notes string) error {
	if utf8.RuneCountInString(notes) > MaxNotesLength {
		return invalid("notes", "longer than %d characters", MaxNotesLength)
	}
	return nil
}

// AtBatPatch lists the fields that may be corrected after recording.
// The result code is immutable.
type AtBatPatch struct {
	RBI            *int    `json:"rbi,omitempty"`
	StolenBases    *int    `json:"stolenBases,omitempty"`
	CaughtStealing *int    `json:"caughtStealing,omitempty"`
	RunnerScored   *bool   `json:"runnerScored,omitempty"`
	Notes          *string `json:"notes,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p AtBatPatch) Empty() bool {
	return p.RBI == nil && p.StolenBases == nil && p.CaughtStealing == nil && p.RunnerScored == nil && p.Notes == nil
}

func (p AtBatPatch) apply(ab *AtBat) error {
	next := *ab
	if p.RBI != nil {
		next.RBI = *p.RBI
	}
	if p.StolenBases != nil {
		next.StolenBases = *p.StolenBases
	}
	if p.CaughtStealing != nil {
		next.CaughtStealing = *p.CaughtStealing
	}
	if p.RunnerScored != nil {
		next.RunnerScored = *p.RunnerScored
	}
	if p.Notes != nil {
		next.Notes = *p.Notes
	}
	if err := validateCounts(next.RBI, next.StolenBases, next.CaughtStealing); err != nil {
		return err
	}
	if err := validateNotes(next.Notes); err != nil {
		return err
	}
	*ab = next
	return nil
}
