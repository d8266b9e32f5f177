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
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
)

// BattingLine is the batting record derived from a set of at-bats. It is
// never stored.
type BattingLine struct {
	Games                int `json:"games"`
	PlateAppearances     int `json:"plateAppearances"`
	AtBats               int `json:"atBats"`
	Hits                 int `json:"hits"`
	Singles              int `json:"singles"`
	Doubles              int `json:"doubles"`
	Triples              int `json:"triples"`
	HomeRuns             int `json:"homeRuns"`
	RBI                  int `json:"rbi"`
	RunsScored           int `json:"runsScored"`
	Walks                int `json:"walks"`
	HBP                  int `json:"hbp"`
	CatchersInterference int `json:"catchersInterference"`
	Strikeouts           int `json:"strikeouts"`
	SacrificeFlies       int `json:"sacrificeFlies"`
	SacrificeBunts       int `json:"sacrificeBunts"`
	StolenBases          int `json:"stolenBases"`
	CaughtStealing       int `json:"caughtStealing"`
	TotalBases           int `json:"totalBases"`

	AVG   float64 `json:"-"`
	OBP   float64 `json:"-"`
	SLG   float64 `json:"-"`
	OPS   float64 `json:"-"`
	SBPct float64 `json:"-"`
}

// Aggregate computes the batting line of one batter. The caller filters the
// events; gamesPlayed is reported as is.
func Aggregate(events []AtBat, gamesPlayed int) BattingLine {
	l := BattingLine{Games: gamesPlayed}
	for _, ab := range events {
		l.PlateAppearances++
		if ab.Result.IsOfficialAtBat() {
			l.AtBats++
		}
		switch ab.Result {
		case Single:
			l.Singles++
		case Double:
			l.Doubles++
		case Triple:
			l.Triples++
		case HomeRun:
			l.HomeRuns++
		case Walk, IntentionalWalk:
			l.Walks++
		case HitByPitch:
			l.HBP++
		case CatchersInterference:
			l.CatchersInterference++
		case SacrificeFly:
			l.SacrificeFlies++
		case SacrificeBunt:
			l.SacrificeBunts++
		}
		if ab.Result.IsHit() {
			l.Hits++
		}
		if ab.Result.IsStrikeout() {
			l.Strikeouts++
		}
		l.TotalBases += ab.Result.TotalBases()
		l.RBI += ab.RBI
		l.StolenBases += ab.StolenBases
		l.CaughtStealing += ab.CaughtStealing
		if ab.RunnerScored {
			l.RunsScored++
		}
	}
	l.AVG = ratio(l.Hits, l.AtBats)
	l.OBP = ratio(l.Hits+l.Walks+l.HBP+l.CatchersInterference, l.PlateAppearances)
	l.SLG = ratio(l.TotalBases, l.AtBats)
	l.OPS = l.OBP + l.SLG
	l.SBPct = ratio(l.StolenBases, l.StolenBases+l.CaughtStealing)
	return l
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// FormatRate renders a rate with three decimals and no leading zero below
// one: 0.345 is ".345", 1 is "1.000".
func FormatRate(v float64) string {
	s := strconv.FormatFloat(v, 'f', 3, 64)
	if strings.HasPrefix(s, "0.") {
		return s[1:]
	}
	return s
}

// FormatPercent renders a rate as a whole percentage: 0.75 is "75%".
func FormatPercent(v float64) string {
	return strconv.FormatFloat(math.Round(v*100), 'f', 0, 64) + "%"
}

// MarshalJSON adds the display form of the rate stats.
func (l BattingLine) MarshalJSON() ([]byte, error) {
	type counts BattingLine
	return json.Marshal(struct {
		counts
		AVG   string `json:"avg"`
		OBP   string `json:"obp"`
		SLG   string `json:"slg"`
		OPS   string `json:"ops"`
		SBPct string `json:"sbPct"`
	}{
		counts: counts(l),
		AVG:    FormatRate(l.AVG),
		OBP:    FormatRate(l.OBP),
		SLG:    FormatRate(l.SLG),
		OPS:    FormatRate(l.OPS),
		SBPct:  FormatPercent(l.SBPct),
	})
}

// BatterLine is a batting line attributed to one batter.
type BatterLine struct {
	Batter BatterRef   `json:"batter"`
	Name   string      `json:"name"`
	Jersey *int        `json:"jerseyNumber,omitempty"`
	Stats  BattingLine `json:"stats"`
}

// WithPlateAppearances drops the lines of batters who never came to the
// plate.
func WithPlateAppearances(lines []BatterLine) []BatterLine {
	return slices.DeleteFunc(slices.Clone(lines), func(l BatterLine) bool {
		return l.Stats.PlateAppearances == 0
	})
}
