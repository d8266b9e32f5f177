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

// Result is the outcome of a plate appearance.
type Result string

// Result codes.
const (
	Single               Result = "single"
	Double               Result = "double"
	Triple               Result = "triple"
	HomeRun              Result = "home_run"
	Walk                 Result = "walk"
	IntentionalWalk      Result = "intentional_walk"
	HitByPitch           Result = "hit_by_pitch"
	CatchersInterference Result = "catchers_interference"
	StrikeoutSwinging    Result = "strikeout_swinging"
	StrikeoutLooking     Result = "strikeout_looking"
	Groundout            Result = "groundout"
	Flyout               Result = "flyout"
	Lineout              Result = "lineout"
	Popout               Result = "popout"
	FieldersChoice       Result = "fielders_choice"
	DoublePlay           Result = "double_play"
	SacrificeFly         Result = "sacrifice_fly"
	SacrificeBunt        Result = "sacrifice_bunt"
	ReachedOnError       Result = "error"
)

// Category groups result codes.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryHit
	CategoryWalk
	CategoryStrikeout
	CategoryOut
	CategoryError
)

func (c Category) String() string {
	switch c {
	case CategoryHit:
		return "hit"
	case CategoryWalk:
		return "walk"
	case CategoryStrikeout:
		return "strikeout"
	case CategoryOut:
		return "out"
	case CategoryError:
		return "error"
	}
	return "unknown"
}

type resultInfo struct {
	category   Category
	outs       int
	bases      int
	sacrifice  bool
	battedBall bool
}

// resultTable is the single source for every classification below. The
// state machine and the batting aggregator both read it.
var resultTable = map[Result]resultInfo{
	Single:               {category: CategoryHit, bases: 1, battedBall: true},
	Double:               {category: CategoryHit, bases: 2, battedBall: true},
	Triple:               {category: CategoryHit, bases: 3, battedBall: true},
	HomeRun:              {category: CategoryHit, bases: 4, battedBall: true},
	Walk:                 {category: CategoryWalk},
	IntentionalWalk:      {category: CategoryWalk},
	HitByPitch:           {category: CategoryWalk},
	CatchersInterference: {category: CategoryWalk},
	StrikeoutSwinging:    {category: CategoryStrikeout, outs: 1},
	StrikeoutLooking:     {category: CategoryStrikeout, outs: 1},
	Groundout:            {category: CategoryOut, outs: 1, battedBall: true},
	Flyout:               {category: CategoryOut, outs: 1, battedBall: true},
	Lineout:              {category: CategoryOut, outs: 1, battedBall: true},
	Popout:               {category: CategoryOut, outs: 1, battedBall: true},
	FieldersChoice:       {category: CategoryOut, outs: 1, battedBall: true},
	DoublePlay:           {category: CategoryOut, outs: 2, battedBall: true},
	SacrificeFly:         {category: CategoryOut, outs: 1, sacrifice: true, battedBall: true},
	SacrificeBunt:        {category: CategoryOut, outs: 1, sacrifice: true, battedBall: true},
	ReachedOnError:       {category: CategoryError, battedBall: true},
}

var allResults = []Result{
	Single, Double, Triple, HomeRun,
	Walk, IntentionalWalk, HitByPitch, CatchersInterference,
	StrikeoutSwinging, StrikeoutLooking,
	Groundout, Flyout, Lineout, Popout, FieldersChoice, DoublePlay,
	SacrificeFly, SacrificeBunt,
	ReachedOnError,
}

// Short codes accepted on input.
var resultAliases = map[string]Result{
	"hbp": HitByPitch,
	"ibb": IntentionalWalk,
	"ci":  CatchersInterference,
	"roe": ReachedOnError,
}

// Results returns every result code in display order.
func Results() []Result {
	out := make([]Result, len(allResults))
	copy(out, allResults)
	return out
}

// ParseResult normalizes s into a result code.
func ParseResult(s string) (Result, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if r, ok := resultAliases[s]; ok {
		return r, nil
	}
	r := Result(s)
	if !r.Valid() {
		return "", invalid("result", "unknown result code %q", s)
	}
	return r, nil
}

// Valid reports whether r is in the closed enumeration.
func (r Result) Valid() bool {
	_, ok := resultTable[r]
	return ok
}

// Category returns the semantic category of r.
func (r Result) Category() Category {
	return resultTable[r].category
}

// IsHit is true for single, double, triple and home_run.
func (r Result) IsHit() bool {
	return r.Category() == CategoryHit
}

// IsWalkLike is true for outcomes that reach base without an official at-bat.
func (r Result) IsWalkLike() bool {
	return r.Category() == CategoryWalk
}

// IsStrikeout is true for both strikeout variants.
func (r Result) IsStrikeout() bool {
	return r.Category() == CategoryStrikeout
}

// IsSacrifice is true for sacrifice flies and bunts.
func (r Result) IsSacrifice() bool {
	return resultTable[r].sacrifice
}

// IsOfficialAtBat is false for walk-like outcomes and sacrifices.
func (r Result) IsOfficialAtBat() bool {
	info, ok := resultTable[r]
	if !ok {
		return false
	}
	return info.category != CategoryWalk && !info.sacrifice
}

// OutsProduced is the number of outs recorded by r.
func (r Result) OutsProduced() int {
	return resultTable[r].outs
}

// TotalBases is 1 to 4 for hits, 0 otherwise.
func (r Result) TotalBases() int {
	return resultTable[r].bases
}

// IsBattedBall is true when the ball was put in play.
func (r Result) IsBattedBall() bool {
	return resultTable[r].battedBall
}
