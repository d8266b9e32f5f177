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

import "testing"

func pitches(rs ...PitchResult) []Pitch {
	out := make([]Pitch, len(rs))
	for i, r := range rs {
		out[i] = Pitch{Number: i + 1, Result: r}
	}
	return out
}

func TestCountOf(t *testing.T) {
	tests := []struct {
		name string
		seq  []Pitch
		want Count
	}{
		{"empty", nil, Count{}},
		{"fouls stop at two strikes", pitches(Foul, Foul, Foul, Foul), Count{Strikes: 2}},
		{"full count", pitches(Ball, CalledStrike, Ball, SwingingStrike, Ball, Foul), Count{Balls: 3, Strikes: 2}},
		{"in play not counted", pitches(Ball, InPlay), Count{Balls: 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CountOf(tc.seq); got != tc.want {
				t.Errorf("CountOf = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestSuggestResult(t *testing.T) {
	tests := []struct {
		name   string
		seq    []Pitch
		want   Result
		wantOK bool
	}{
		{"empty", nil, "", false},
		{"unresolved", pitches(Ball, CalledStrike), "", false},
		{"looking", pitches(SwingingStrike, Foul, CalledStrike), StrikeoutLooking, true},
		{"swinging", pitches(CalledStrike, CalledStrike, Foul, SwingingStrike), StrikeoutSwinging, true},
		{"walk", pitches(Ball, Ball, Foul, Ball, Ball), Walk, true},
		{"hit by pitch", pitches(Ball, PitchHitBatter), HitByPitch, true},
		{"in play", pitches(Ball, InPlay), "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SuggestResult(tc.seq)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("SuggestResult = (%q, %v), want (%q, %v)", got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestPitchValidate(t *testing.T) {
	if err := (Pitch{Result: "knuckle"}).Validate(); !IsValidation(err) {
		t.Errorf("unknown pitch: err = %v", err)
	}
	if err := (Pitch{Result: Ball, Location: &Location{X: 1.2, Y: 0}}).Validate(); !IsValidation(err) {
		t.Errorf("bad location: err = %v", err)
	}
	if _, err := ParsePitchResult("HBP"); err != nil {
		t.Errorf("ParsePitchResult(HBP): %v", err)
	}
}
