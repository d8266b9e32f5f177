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
	"fmt"
	"strings"
	"time"
)

// DefaultInnings is used when neither the game nor its team sets a length.
const DefaultInnings = 9

// OpponentBatter is a batter of the opposing team, recorded per game.
type OpponentBatter struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Jersey      *int   `json:"jerseyNumber,omitempty"`
	Bats        string `json:"bats"`
	OrderInGame int    `json:"orderInGame"`
}

// OpponentPitcher is a pitcher of the opposing team, recorded per game.
type OpponentPitcher struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Throws      string `json:"throwsHand"`
	OrderInGame int    `json:"orderInGame"`
}

// LineupEntry is one slot of our batting order.
type LineupEntry struct {
	PlayerID     string `json:"playerId"`
	BattingOrder int    `json:"battingOrder"`
	Position     string `json:"position,omitempty"`
	IsStarter    bool   `json:"isStarter"`
}

// PitchingLine holds raw pitching counts for one appearance. No rates are
// derived from it.
type PitchingLine struct {
	OutsRecorded    int  `json:"outsRecorded"`
	HitsAllowed     int  `json:"hitsAllowed"`
	RunsAllowed     int  `json:"runsAllowed"`
	EarnedRuns      int  `json:"earnedRuns"`
	Walks           int  `json:"walks"`
	Strikeouts      int  `json:"strikeouts"`
	HomeRunsAllowed int  `json:"homeRunsAllowed"`
	PitchesThrown   *int `json:"pitchesThrown,omitempty"`
	HitBatters      int  `json:"hitBatters"`
}

func (p PitchingLine) validate() error {
	for name, v := range map[string]int{
		"outsRecorded":    p.OutsRecorded,
		"hitsAllowed":     p.HitsAllowed,
		"runsAllowed":     p.RunsAllowed,
		"earnedRuns":      p.EarnedRuns,
		"walks":           p.Walks,
		"strikeouts":      p.Strikeouts,
		"homeRunsAllowed": p.HomeRunsAllowed,
		"hitBatters":      p.HitBatters,
	} {
		if v < 0 {
			return invalid(name, "must not be negative")
		}
	}
	if p.PitchesThrown != nil && *p.PitchesThrown < 0 {
		return invalid("pitchesThrown", "must not be negative")
	}
	return nil
}

// PitchingAppearance is one of our pitchers' stints in a game.
type PitchingAppearance struct {
	ID              string `json:"id"`
	PlayerID        string `json:"playerId"`
	AppearanceOrder int    `json:"appearanceOrder"`
	PitchingLine
}

// Game is the aggregate that owns the at-bat log and the derived state. All
// changes go through its methods so that the state always matches a replay
// of the log.
type Game struct {
	ID           string `json:"id"`
	TeamID       string `json:"teamId"`
	SeasonID     string `json:"seasonId,omitempty"`
	OwnerID      string `json:"ownerId"`
	OpponentName string `json:"opponentName"`
	Date         string `json:"gameDate"`
	Time         string `json:"gameTime,omitempty"`
	Location     string `json:"location,omitempty"`
	IsHome       bool   `json:"isHome"`
	Innings      int    `json:"inningsCount"`
	Notes        string `json:"notes,omitempty"`

	State           GameState `json:"state"`
	AtBats          []AtBat   `json:"atBats"`
	LastAtBatNumber int       `json:"lastAtBatNumber"`

	Lineup           []LineupEntry        `json:"lineup,omitempty"`
	OpponentBatters  []OpponentBatter     `json:"opponentBatters,omitempty"`
	OpponentPitchers []OpponentPitcher    `json:"opponentPitchers,omitempty"`
	PendingPitches   []Pitch              `json:"pendingPitches,omitempty"`
	Pitching         []PitchingAppearance `json:"pitching,omitempty"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// NewGame returns a scheduled game with a fresh state.
func NewGame(id, teamID, ownerID, opponent, date string, innings int) *Game {
	if innings <= 0 {
		innings = DefaultInnings
	}
	return &Game{
		ID:           id,
		TeamID:       teamID,
		OwnerID:      ownerID,
		OpponentName: strings.TrimSpace(opponent),
		Date:         date,
		Innings:      innings,
		State:        NewGameState(),
		AtBats:       []AtBat{},
	}
}

// Validate checks the descriptive fields of a new game.
func (g *Game) Validate() error {
	if strings.TrimSpace(g.OpponentName) == "" {
		return invalid("opponentName", "required")
	}
	if g.Innings < 1 || g.Innings > 20 {
		return invalid("inningsCount", "must be between 1 and 20")
	}
	if !isDate(g.Date) {
		return invalid("gameDate", "%q is not YYYY-MM-DD", g.Date)
	}
	return nil
}

// Clone returns a deep copy of the game.
func (g *Game) Clone() *Game {
	c := *g
	c.AtBats = make([]AtBat, len(g.AtBats))
	for i, ab := range g.AtBats {
		ab.Pitches = append([]Pitch(nil), ab.Pitches...)
		c.AtBats[i] = ab
	}
	c.Lineup = append([]LineupEntry(nil), g.Lineup...)
	c.OpponentBatters = append([]OpponentBatter(nil), g.OpponentBatters...)
	c.OpponentPitchers = append([]OpponentPitcher(nil), g.OpponentPitchers...)
	c.PendingPitches = append([]Pitch(nil), g.PendingPitches...)
	c.Pitching = append([]PitchingAppearance(nil), g.Pitching...)
	return &c
}

// IsFinal reports whether the game has ended.
func (g *Game) IsFinal() bool {
	return g.State.Status == StatusFinal
}

// RecordAtBat appends ab to the log and advances the state. The number and
// the timestamp are assigned here; the id comes from the caller. The at-bat
// is placed in the current inning when ab.Inning is zero, and in the current
// half when isTop is nil. When ab carries no pitches the pending sequence is
// frozen into it. On error the game is unchanged.
func (g *Game) RecordAtBat(ab AtBat, isTop *bool, now int64) (AtBat, error) {
	if g.IsFinal() {
		return AtBat{}, ErrGameFinal
	}
	if ab.Inning == 0 {
		ab.Inning = g.State.CurrentInning
	}
	ab.IsTop = g.State.IsTopOfInning
	if isTop != nil {
		ab.IsTop = *isTop
	}
	if err := ab.Validate(); err != nil {
		return AtBat{}, err
	}
	if err := g.checkRefs(ab); err != nil {
		return AtBat{}, err
	}
	if ab.ID == "" {
		return AtBat{}, invalid("id", "missing")
	}
	if _, ok := g.findAtBat(ab.ID); ok {
		return AtBat{}, invalid("id", "duplicate at-bat id %s", ab.ID)
	}

	fromPending := len(ab.Pitches) == 0
	if fromPending {
		ab.Pitches = g.PendingPitches
	}
	ab.Pitches = renumber(ab.Pitches)
	if len(ab.Pitches) == 0 {
		ab.Pitches = nil
	}
	ab.Number = g.LastAtBatNumber + 1
	ab.RecordedAt = now

	next := g.State
	if err := next.Advance(ab); err != nil {
		return AtBat{}, err
	}
	if next.Status == StatusScheduled {
		next.Status = StatusInProgress
	}

	g.State = next
	g.AtBats = append(g.AtBats, ab)
	g.LastAtBatNumber = ab.Number
	if fromPending {
		g.PendingPitches = nil
	}
	g.UpdatedAt = now
	return ab, nil
}

// DeleteAtBat removes one at-bat and recomputes the state from the rest.
func (g *Game) DeleteAtBat(id string, now int64) error {
	if g.IsFinal() {
		return ErrGameFinal
	}
	i, ok := g.findAtBat(id)
	if !ok {
		return fmt.Errorf("at-bat %s: %w", id, ErrNotFound)
	}
	rest := make([]AtBat, 0, len(g.AtBats)-1)
	rest = append(rest, g.AtBats[:i]...)
	rest = append(rest, g.AtBats[i+1:]...)
	state, err := Replay(g.State.Status, rest)
	if err != nil {
		return err
	}
	g.AtBats = rest
	g.State = state
	g.UpdatedAt = now
	return nil
}

// PatchAtBat corrects the counted fields of one at-bat and recomputes the
// state.
func (g *Game) PatchAtBat(id string, p AtBatPatch, now int64) (AtBat, error) {
	if g.IsFinal() {
		return AtBat{}, ErrGameFinal
	}
	i, ok := g.findAtBat(id)
	if !ok {
		return AtBat{}, fmt.Errorf("at-bat %s: %w", id, ErrNotFound)
	}
	ab := g.AtBats[i]
	if err := p.apply(&ab); err != nil {
		return AtBat{}, err
	}
	log := append([]AtBat(nil), g.AtBats...)
	log[i] = ab
	state, err := Replay(g.State.Status, log)
	if err != nil {
		return AtBat{}, err
	}
	g.AtBats = log
	g.State = state
	g.UpdatedAt = now
	return ab, nil
}

// Recompute rebuilds the state from the log. The status is kept.
func (g *Game) Recompute() error {
	state, err := Replay(g.State.Status, g.AtBats)
	if err != nil {
		return err
	}
	g.State = state
	return nil
}

// End marks the game final.
func (g *Game) End(now int64) error {
	if g.IsFinal() {
		return ErrGameFinal
	}
	g.State.Status = StatusFinal
	g.PendingPitches = nil
	g.UpdatedAt = now
	return nil
}

// AddPitch appends a pitch to the pending sequence of the current batter.
func (g *Game) AddPitch(p Pitch, now int64) (Pitch, error) {
	if g.IsFinal() {
		return Pitch{}, ErrGameFinal
	}
	if err := p.Validate(); err != nil {
		return Pitch{}, err
	}
	p.Number = len(g.PendingPitches) + 1
	g.PendingPitches = append(g.PendingPitches, p)
	g.UpdatedAt = now
	return p, nil
}

// UndoPitch removes the last pending pitch.
func (g *Game) UndoPitch(now int64) error {
	if g.IsFinal() {
		return ErrGameFinal
	}
	if len(g.PendingPitches) == 0 {
		return fmt.Errorf("pending pitch: %w", ErrNotFound)
	}
	g.PendingPitches = g.PendingPitches[:len(g.PendingPitches)-1]
	g.UpdatedAt = now
	return nil
}

// ClearPitches drops the pending sequence.
func (g *Game) ClearPitches(now int64) error {
	if g.IsFinal() {
		return ErrGameFinal
	}
	g.PendingPitches = nil
	g.UpdatedAt = now
	return nil
}

// PendingCount is the count of the pending sequence with its suggested result.
type PendingCount struct {
	Pitches   []Pitch `json:"pitches"`
	Count     Count   `json:"count"`
	Suggested Result  `json:"suggestedResult,omitempty"`
}

// Pending returns the pending pitch sequence and what it implies.
func (g *Game) Pending() PendingCount {
	pc := PendingCount{
		Pitches: append([]Pitch{}, g.PendingPitches...),
		Count:   CountOf(g.PendingPitches),
	}
	if r, ok := SuggestResult(g.PendingPitches); ok {
		pc.Suggested = r
	}
	return pc
}

// AddOpponentBatter registers an opposing batter. OrderInGame is assigned.
func (g *Game) AddOpponentBatter(b OpponentBatter, now int64) (OpponentBatter, error) {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return OpponentBatter{}, invalid("name", "required")
	}
	if b.ID == "" {
		return OpponentBatter{}, invalid("id", "missing")
	}
	bats, err := normalizeHand("bats", b.Bats, true)
	if err != nil {
		return OpponentBatter{}, err
	}
	b.Bats = bats
	order := 0
	for _, o := range g.OpponentBatters {
		order = max(order, o.OrderInGame)
	}
	b.OrderInGame = order + 1
	g.OpponentBatters = append(g.OpponentBatters, b)
	g.UpdatedAt = now
	return b, nil
}

// LoadOpponentBatters fills an empty opposing batting order, numbering it
// from 1 in the given order. It does nothing when the game already has
// opposing batters.
func (g *Game) LoadOpponentBatters(batters []OpponentBatter, now int64) ([]OpponentBatter, error) {
	if len(g.OpponentBatters) > 0 {
		return nil, nil
	}
	added := make([]OpponentBatter, 0, len(batters))
	for _, b := range batters {
		b, err := g.AddOpponentBatter(b, now)
		if err != nil {
			g.OpponentBatters = g.OpponentBatters[:0]
			return nil, err
		}
		added = append(added, b)
	}
	return added, nil
}

// AddOpponentPitcher registers an opposing pitcher. OrderInGame is assigned.
func (g *Game) AddOpponentPitcher(p OpponentPitcher, now int64) (OpponentPitcher, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return OpponentPitcher{}, invalid("name", "required")
	}
	if p.ID == "" {
		return OpponentPitcher{}, invalid("id", "missing")
	}
	throws, err := normalizeHand("throwsHand", p.Throws, false)
	if err != nil {
		return OpponentPitcher{}, err
	}
	p.Throws = throws
	order := 0
	for _, o := range g.OpponentPitchers {
		order = max(order, o.OrderInGame)
	}
	p.OrderInGame = order + 1
	g.OpponentPitchers = append(g.OpponentPitchers, p)
	g.UpdatedAt = now
	return p, nil
}

// SetLineup replaces our batting order.
func (g *Game) SetLineup(entries []LineupEntry, now int64) error {
	seen := make(map[string]bool)
	for _, e := range entries {
		if strings.TrimSpace(e.PlayerID) == "" {
			return invalid("lineup", "missing playerId")
		}
		if seen[e.PlayerID] {
			return invalid("lineup", "player %s listed twice", e.PlayerID)
		}
		if e.BattingOrder < 1 {
			return invalid("lineup", "battingOrder must be at least 1")
		}
		seen[e.PlayerID] = true
	}
	g.Lineup = append([]LineupEntry(nil), entries...)
	g.UpdatedAt = now
	return nil
}

// RecordPitching stores a new pitching appearance. AppearanceOrder is assigned.
func (g *Game) RecordPitching(a PitchingAppearance, now int64) (PitchingAppearance, error) {
	if a.ID == "" {
		return PitchingAppearance{}, invalid("id", "missing")
	}
	if strings.TrimSpace(a.PlayerID) == "" {
		return PitchingAppearance{}, invalid("playerId", "required")
	}
	if err := a.PitchingLine.validate(); err != nil {
		return PitchingAppearance{}, err
	}
	order := 0
	for _, p := range g.Pitching {
		order = max(order, p.AppearanceOrder)
	}
	a.AppearanceOrder = order + 1
	g.Pitching = append(g.Pitching, a)
	g.UpdatedAt = now
	return a, nil
}

// UpdatePitching replaces the counts of an existing appearance.
func (g *Game) UpdatePitching(id string, line PitchingLine, now int64) (PitchingAppearance, error) {
	if err := line.validate(); err != nil {
		return PitchingAppearance{}, err
	}
	for i := range g.Pitching {
		if g.Pitching[i].ID == id {
			g.Pitching[i].PitchingLine = line
			g.UpdatedAt = now
			return g.Pitching[i], nil
		}
	}
	return PitchingAppearance{}, fmt.Errorf("pitching appearance %s: %w", id, ErrNotFound)
}

// AtBat returns the at-bat with the given id.
func (g *Game) AtBat(id string) (AtBat, bool) {
	i, ok := g.findAtBat(id)
	if !ok {
		return AtBat{}, false
	}
	return g.AtBats[i], true
}

// OrderedAtBats returns the log in at-bat number order.
func (g *Game) OrderedAtBats() []AtBat {
	return sortedByNumber(g.AtBats)
}

// OpponentBatterByID returns the opposing batter with the given id.
func (g *Game) OpponentBatterByID(id string) (OpponentBatter, bool) {
	for _, b := range g.OpponentBatters {
		if b.ID == id {
			return b, true
		}
	}
	return OpponentBatter{}, false
}

// OpponentPitcherByID returns the opposing pitcher with the given id.
func (g *Game) OpponentPitcherByID(id string) (OpponentPitcher, bool) {
	for _, p := range g.OpponentPitchers {
		if p.ID == id {
			return p, true
		}
	}
	return OpponentPitcher{}, false
}

func (g *Game) findAtBat(id string) (int, bool) {
	for i, ab := range g.AtBats {
		if ab.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (g *Game) checkRefs(ab AtBat) error {
	if !ab.Batter.IsOurs() {
		if _, ok := g.OpponentBatterByID(ab.Batter.ID); !ok {
			return invalid("opponentBatterId", "unknown opponent batter %s", ab.Batter.ID)
		}
	}
	if ab.OpponentPitcherID != "" {
		if _, ok := g.OpponentPitcherByID(ab.OpponentPitcherID); !ok {
			return invalid("opponentPitcherId", "unknown opponent pitcher %s", ab.OpponentPitcherID)
		}
	}
	return nil
}

func normalizeHand(field, v string, allowSwitch bool) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "":
		return "right", nil
	case "left", "right":
		return v, nil
	case "switch":
		if allowSwitch {
			return v, nil
		}
	}
	return "", invalid(field, "unknown hand %q", v)
}

func isDate(s string) bool {
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}
