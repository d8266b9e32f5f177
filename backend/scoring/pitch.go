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

import "strings"

// PitchResult is the outcome of a single pitch.
type PitchResult string

// Pitch result codes.
const (
	CalledStrike   PitchResult = "called_strike"
	SwingingStrike PitchResult = "swinging_strike"
	Foul           PitchResult = "foul"
	Ball           PitchResult = "ball"
	InPlay         PitchResult = "in_play"
	PitchHitBatter PitchResult = "hit_by_pitch"
)

var pitchResults = map[PitchResult]bool{
	CalledStrike:   true,
	SwingingStrike: true,
	Foul:           true,
	Ball:           true,
	InPlay:         true,
	PitchHitBatter: true,
}

// ParsePitchResult normalizes s into a pitch result code.
func ParsePitchResult(s string) (PitchResult, error) {
	p := PitchResult(strings.ToLower(strings.TrimSpace(s)))
	if p == "hbp" {
		p = PitchHitBatter
	}
	if !p.Valid() {
		return "", invalid("pitch", "unknown pitch result %q", s)
	}
	return p, nil
}

// Valid reports whether p is in the closed enumeration.
func (p PitchResult) Valid() bool {
	return pitchResults[p]
}

func (p PitchResult) isStrike() bool {
	return p == CalledStrike || p == SwingingStrike
}

// Pitch is one pitch of a plate appearance.
type Pitch struct {
	Number   int         `json:"pitchNumber"`
	Result   PitchResult `json:"result"`
	Location *Location   `json:"location,omitempty"`
}

// Validate checks the pitch result and location.
func (p Pitch) Validate() error {
	if !p.Result.Valid() {
		return invalid("pitch", "unknown pitch result %q", string(p.Result))
	}
	if p.Location != nil {
		if err := p.Location.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Count is the ball-strike count.
type Count struct {
	Balls   int `json:"balls"`
	Strikes int `json:"strikes"`
}

// CountOf derives the count from a pitch sequence. Fouls only add a strike
// below two strikes.
func CountOf(pitches []Pitch) Count {
	var c Count
	for _, p := range pitches {
		switch {
		case p.Result.isStrike():
			c.Strikes++
		case p.Result == Foul:
			if c.Strikes < 2 {
				c.Strikes++
			}
		case p.Result == Ball:
			c.Balls++
		}
	}
	return c
}

// SuggestResult proposes the plate appearance outcome implied by the pitch
// sequence. The second return value is false while the at-bat is unresolved
// or the ball was put in play.
func SuggestResult(pitches []Pitch) (Result, bool) {
	if len(pitches) == 0 {
		return "", false
	}
	if pitches[len(pitches)-1].Result == PitchHitBatter {
		return HitByPitch, true
	}
	c := CountOf(pitches)
	if c.Strikes >= 3 {
		for i := len(pitches) - 1; i >= 0; i-- {
			if pitches[i].Result == CalledStrike {
				return StrikeoutLooking, true
			}
			if pitches[i].Result.isStrike() {
				break
			}
		}
		return StrikeoutSwinging, true
	}
	if c.Balls >= 4 {
		return Walk, true
	}
	return "", false
}

// renumber assigns contiguous 1-based pitch numbers.
func renumber(pitches []Pitch) []Pitch {
	out := make([]Pitch, len(pitches))
	for i, p := range pitches {
		p.Number = i + 1
		out[i] = p
	}
	return out
}
