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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"regexp"

	"github.com/ttbt-io/statkeeper/backend/scoring"
)

// uuidRegex is a regex for standard UUIDs (8-4-4-4-12 hex digits)
var uuidRegex = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$`)

// isValidUUID checks if the string is a valid UUID.
func isValidUUID(id string) bool {
	return uuidRegex.MatchString(id)
}

// isValidEmail checks if the string is a valid email address.
func isValidEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

// decodeJSON reads a JSON request body of at most limit bytes into v.
// Unknown fields are rejected. Malformed bodies are validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return &scoring.ValidationError{Reason: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)}
		case errors.Is(err, io.EOF):
			return &scoring.ValidationError{Reason: "empty request body"}
		default:
			return &scoring.ValidationError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
		}
	}
	if dec.More() {
		return &scoring.ValidationError{Reason: "trailing data after JSON body"}
	}
	return nil
}

// PitchRequest is the body of POST /api/games/{gameId}/pitches.
type PitchRequest struct {
	Result   string            `json:"result"`
	Location *scoring.Location `json:"location,omitempty"`
}

func (p PitchRequest) toPitch() (scoring.Pitch, error) {
	res, err := scoring.ParsePitchResult(p.Result)
	if err != nil {
		return scoring.Pitch{}, err
	}
	pitch := scoring.Pitch{Result: res, Location: p.Location}
	if err := pitch.Validate(); err != nil {
		return scoring.Pitch{}, err
	}
	return pitch, nil
}

// AtBatRequest is the body of POST /api/games/{gameId}/at-bats. Exactly one
// of PlayerID and OpponentBatterID names the batter. Inning and
// IsTopOfInning default to the current inning and half independently. When
// Pitches is omitted the pending pitch sequence is attached.
type AtBatRequest struct {
	PlayerID          string            `json:"playerId,omitempty"`
	OpponentBatterID  string            `json:"opponentBatterId,omitempty"`
	OpponentPitcherID string            `json:"opponentPitcherId,omitempty"`
	Result            string            `json:"result"`
	RBI               int               `json:"rbi"`
	RunnerScored      bool              `json:"runnerScored"`
	StolenBases       int               `json:"stolenBases"`
	CaughtStealing    int               `json:"caughtStealing"`
	HitLocation       *scoring.Location `json:"hitLocation,omitempty"`
	Inning            int               `json:"inning,omitempty"`
	IsTopOfInning     *bool             `json:"isTopOfInning,omitempty"`
	Pitches           []PitchRequest    `json:"pitches,omitempty"`
	Notes             string            `json:"notes,omitempty"`
}

func (req AtBatRequest) toAtBat() (scoring.AtBat, error) {
	batter, err := scoring.NewBatterRef(req.PlayerID, req.OpponentBatterID)
	if err != nil {
		return scoring.AtBat{}, err
	}
	res, err := scoring.ParseResult(req.Result)
	if err != nil {
		return scoring.AtBat{}, err
	}
	ab := scoring.AtBat{
		Batter:            batter,
		OpponentPitcherID: req.OpponentPitcherID,
		Inning:            req.Inning,
		Result:            res,
		RBI:               req.RBI,
		RunnerScored:      req.RunnerScored,
		StolenBases:       req.StolenBases,
		CaughtStealing:    req.CaughtStealing,
		HitLocation:       req.HitLocation,
		Notes:             req.Notes,
	}
	for _, p := range req.Pitches {
		pitch, err := p.toPitch()
		if err != nil {
			return scoring.AtBat{}, err
		}
		ab.Pitches = append(ab.Pitches, pitch)
	}
	if err := ab.Validate(); err != nil {
		return scoring.AtBat{}, err
	}
	return ab, nil
}

// PitchingRequest is the body of POST /api/games/{gameId}/pitching.
type PitchingRequest struct {
	PlayerID string `json:"playerId"`
	scoring.PitchingLine
}

// validatePolicy checks an access policy posted by an admin and normalizes
// its emails.
func validatePolicy(p *UserAccessPolicy) error {
	if p.DefaultPolicy == "" {
		p.DefaultPolicy = "allow"
	}
	if p.DefaultPolicy != "allow" && p.DefaultPolicy != "deny" {
		return &scoring.ValidationError{Field: "defaultPolicy", Reason: "must be allow or deny"}
	}
	if p.DefaultMaxGames < -1 || p.DefaultMaxTeams < -1 {
		return &scoring.ValidationError{Field: "quota", Reason: "must be -1, 0 or positive"}
	}
	admins := make([]string, 0, len(p.Admins))
	for _, a := range p.Admins {
		a = normalizeEmail(a)
		if !isValidEmail(a) {
			return &scoring.ValidationError{Field: "admins", Reason: fmt.Sprintf("invalid email %q", a)}
		}
		admins = append(admins, a)
	}
	p.Admins = admins
	users := make(map[string]UserOverride, len(p.Users))
	for email, o := range p.Users {
		email = normalizeEmail(email)
		if !isValidEmail(email) {
			return &scoring.ValidationError{Field: "users", Reason: fmt.Sprintf("invalid email %q", email)}
		}
		if o.Access != "" && o.Access != "allow" && o.Access != "deny" {
			return &scoring.ValidationError{Field: "users", Reason: fmt.Sprintf("%s: access must be allow or deny", email)}
		}
		users[email] = o
	}
	p.Users = users
	return nil
}
