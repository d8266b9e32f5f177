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
	"reflect"
	"testing"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/ttbt-io/statkeeper/backend/scoring"
)

const testOwner = "coach@example.com"

type testEnv struct {
	dir   string
	s     *storage.Storage
	games *GameStore
	teams *TeamStore
	reg   *Registry
	sk    *Scorekeeper
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	s := storage.New(dir, nil)
	gs := NewGameStore(dir, s)
	ts := NewTeamStore(dir, s)
	reg := NewRegistry(gs, ts)
	sk := NewScorekeeper(gs, ts, reg, s, nil)
	clock := int64(1_700_000_000_000)
	sk.now = func() time.Time {
		clock++
		return time.UnixMilli(clock)
	}
	return &testEnv{dir: dir, s: s, games: gs, teams: ts, reg: reg, sk: sk}
}

// newTeam creates a team with one roster entry per player id.
func (e *testEnv) newTeam(t *testing.T, playerIds ...string) *Team {
	t.Helper()
	team := Team{Name: "Bears", DefaultInnings: 7}
	for _, id := range playerIds {
		team.Players = append(team.Players, Player{ID: id, FirstName: "Player", LastName: id, Active: true})
	}
	created, err := e.sk.CreateTeam(context.Background(), testOwner, team)
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	return created
}

func (e *testEnv) newGame(t *testing.T, teamId, opponent, date string) *scoring.Game {
	t.Helper()
	g, err := e.sk.CreateGame(context.Background(), testOwner, NewGameRequest{TeamID: teamId, OpponentName: opponent, Date: date})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	return g
}

func (e *testEnv) record(t *testing.T, gameId string, ab scoring.AtBat) scoring.AtBat {
	t.Helper()
	recorded, _, err := e.sk.RecordAtBat(context.Background(), gameId, ab, nil)
	if err != nil {
		t.Fatalf("RecordAtBat(%+v): %v", ab, err)
	}
	return recorded
}

func ours(playerId string, r scoring.Result, rbi int) scoring.AtBat {
	return scoring.AtBat{Batter: scoring.OurBatter(playerId), Result: r, RBI: rbi}
}

func TestScorekeeperGameFlow(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	team := e.newTeam(t, "p1", "p2")
	g := e.newGame(t, team.ID, "Tigers", "2025-05-01")

	if g.Innings != 7 {
		t.Errorf("Innings = %d, want team default 7", g.Innings)
	}
	if g.State.Status != scoring.StatusScheduled {
		t.Errorf("Status = %s, want scheduled", g.State.Status)
	}

	first := e.record(t, g.ID, ours("p1", scoring.Single, 0))
	if first.Number != 1 || first.Inning != 1 || !first.IsTop {
		t.Errorf("first at-bat = %+v", first)
	}
	hr := e.record(t, g.ID, ours("p2", scoring.HomeRun, 2))
	for range 3 {
		e.record(t, g.ID, ours("p1", scoring.Groundout, 0))
	}

	loaded, err := e.sk.Game(ctx, g.ID)
	if err != nil {
		t.Fatalf("Game: %v", err)
	}
	want := scoring.GameState{CurrentInning: 1, IsTopOfInning: false, Outs: 0, OurScore: 2, Status: scoring.StatusInProgress}
	if loaded.State != want {
		t.Errorf("State = %+v, want %+v", loaded.State, want)
	}
	if loaded.LastAtBatNumber != 5 {
		t.Errorf("LastAtBatNumber = %d, want 5", loaded.LastAtBatNumber)
	}

	// Deleting an at-bat replays the rest of the log.
	after, err := e.sk.DeleteAtBat(ctx, g.ID, hr.ID)
	if err != nil {
		t.Fatalf("DeleteAtBat: %v", err)
	}
	if after.State.OurScore != 0 {
		t.Errorf("OurScore after delete = %d, want 0", after.State.OurScore)
	}
	if after.State.IsTopOfInning || after.State.Outs != 0 {
		t.Errorf("State after delete = %+v", after.State)
	}

	// Numbers are never reused.
	next := e.record(t, g.ID, ours("p2", scoring.Walk, 0))
	if next.Number != 6 {
		t.Errorf("Number after delete = %d, want 6", next.Number)
	}

	// Patching the RBI of an at-bat changes the score.
	rbi := 1
	patched, pg, err := e.sk.PatchAtBat(ctx, g.ID, next.ID, scoring.AtBatPatch{RBI: &rbi})
	if err != nil {
		t.Fatalf("PatchAtBat: %v", err)
	}
	if patched.RBI != 1 || pg.State.OurScore != 1 {
		t.Errorf("PatchAtBat = %+v, score %d", patched, pg.State.OurScore)
	}

	ended, err := e.sk.EndGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("EndGame: %v", err)
	}
	if ended.State.Status != scoring.StatusFinal {
		t.Errorf("Status = %s, want final", ended.State.Status)
	}

	// A final game rejects every change to its log.
	if _, _, err := e.sk.RecordAtBat(ctx, g.ID, ours("p1", scoring.Single, 0), nil); !errors.Is(err, scoring.ErrGameFinal) {
		t.Errorf("RecordAtBat on final game: got %v, want ErrGameFinal", err)
	}
	if _, err := e.sk.DeleteAtBat(ctx, g.ID, first.ID); !errors.Is(err, scoring.ErrGameFinal) {
		t.Errorf("DeleteAtBat on final game: got %v, want ErrGameFinal", err)
	}
	if _, err := e.sk.EndGame(ctx, g.ID); !errors.Is(err, scoring.ErrGameFinal) {
		t.Errorf("EndGame twice: got %v, want ErrGameFinal", err)
	}
	if _, err := e.sk.AddPitch(ctx, g.ID, scoring.Pitch{Result: scoring.Ball}); !errors.Is(err, scoring.ErrGameFinal) {
		t.Errorf("AddPitch on final game: got %v, want ErrGameFinal", err)
	}

	final, err := e.sk.Game(ctx, g.ID)
	if err != nil {
		t.Fatalf("Game: %v", err)
	}
	if final.State.OurScore != 1 || len(final.AtBats) != 5 {
		t.Errorf("final game changed: score %d, %d at-bats", final.State.OurScore, len(final.AtBats))
	}
}

func TestScorekeeperPendingPitches(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	team := e.newTeam(t, "p1")
	g := e.newGame(t, team.ID, "Tigers", "2025-05-01")

	for _, r := range []scoring.PitchResult{scoring.Ball, scoring.CalledStrike, scoring.Ball} {
		if _, err := e.sk.AddPitch(ctx, g.ID, scoring.Pitch{Result: r}); err != nil {
			t.Fatalf("AddPitch(%s): %v", r, err)
		}
	}
	pending, err := e.sk.UndoPitch(ctx, g.ID)
	if err != nil {
		t.Fatalf("UndoPitch: %v", err)
	}
	if pending.Count != (scoring.Count{Balls: 1, Strikes: 1}) || len(pending.Pitches) != 2 {
		t.Errorf("pending after undo = %+v", pending)
	}

	for range 3 {
		pending, err = e.sk.AddPitch(ctx, g.ID, scoring.Pitch{Result: scoring.Ball})
		if err != nil {
			t.Fatalf("AddPitch: %v", err)
		}
	}
	if pending.Suggested != scoring.Walk {
		t.Errorf("Suggested = %q, want walk", pending.Suggested)
	}

	// The pending sequence is attached to the next at-bat.
	ab := e.record(t, g.ID, ours("p1", scoring.Walk, 0))
	if len(ab.Pitches) != 5 || ab.Pitches[4].Number != 5 {
		t.Errorf("at-bat pitches = %+v", ab.Pitches)
	}
	loaded, _ := e.sk.Game(ctx, g.ID)
	if len(loaded.PendingPitches) != 0 {
		t.Errorf("pending pitches not cleared: %+v", loaded.PendingPitches)
	}

	if _, err := e.sk.UndoPitch(ctx, g.ID); !errors.Is(err, scoring.ErrNotFound) {
		t.Errorf("UndoPitch on empty sequence: got %v, want ErrNotFound", err)
	}
	if _, err := e.sk.AddPitch(ctx, g.ID, scoring.Pitch{Result: scoring.Foul}); err != nil {
		t.Fatalf("AddPitch: %v", err)
	}
	pending, err = e.sk.ClearPitches(ctx, g.ID)
	if err != nil {
		t.Fatalf("ClearPitches: %v", err)
	}
	if len(pending.Pitches) != 0 {
		t.Errorf("ClearPitches left %d pitches", len(pending.Pitches))
	}
}

func TestScorekeeperOpponents(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	team := e.newTeam(t, "p1")
	g := e.newGame(t, team.ID, "Tigers", "2025-05-01")

	if _, _, err := e.sk.RecordAtBat(ctx, g.ID, scoring.AtBat{Batter: scoring.OpponentBatterRef("nobody"), Result: scoring.Single}, nil); !scoring.IsValidation(err) {
		t.Errorf("unknown opponent batter: got %v, want validation error", err)
	}

	b, err := e.sk.AddOpponentBatter(ctx, g.ID, scoring.OpponentBatter{Name: "Sam Lee", Bats: "Left"})
	if err != nil {
		t.Fatalf("AddOpponentBatter: %v", err)
	}
	if b.ID == "" || b.OrderInGame != 1 || b.Bats != "left" {
		t.Errorf("AddOpponentBatter = %+v", b)
	}
	p, err := e.sk.AddOpponentPitcher(ctx, g.ID, scoring.OpponentPitcher{Name: "Bo Smith", Throws: "left"})
	if err != nil {
		t.Fatalf("AddOpponentPitcher: %v", err)
	}

	_, g2, err := e.sk.RecordAtBat(ctx, g.ID, scoring.AtBat{Batter: scoring.OpponentBatterRef(b.ID), Result: scoring.Double, RBI: 1}, nil)
	if err != nil {
		t.Fatalf("RecordAtBat: %v", err)
	}
	if g2.State.OpponentScore != 1 || g2.State.OurScore != 0 {
		t.Errorf("State = %+v", g2.State)
	}

	ab := ours("p1", scoring.StrikeoutLooking, 0)
	ab.OpponentPitcherID = p.ID
	if recorded := e.record(t, g.ID, ab); recorded.OpponentPitcherID != p.ID {
		t.Errorf("OpponentPitcherID = %q, want %q", recorded.OpponentPitcherID, p.ID)
	}
}

func TestScorekeeperLoadPreviousOpponentBatters(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	team := e.newTeam(t, "p1")

	addBatters := func(gameId string, names ...string) []scoring.OpponentBatter {
		var out []scoring.OpponentBatter
		for _, n := range names {
			b, err := e.sk.AddOpponentBatter(ctx, gameId, scoring.OpponentBatter{Name: n})
			if err != nil {
				t.Fatalf("AddOpponentBatter: %v", err)
			}
			out = append(out, b)
		}
		return out
	}
	older := e.newGame(t, team.ID, "Tigers", "2025-04-01")
	addBatters(older.ID, "Old One", "Old Two")
	recent := e.newGame(t, team.ID, "TIGERS", "2025-04-08")
	prev := addBatters(recent.ID, "Ray Ortiz", "Sam Lee", "Tom Hall")
	other := e.newGame(t, team.ID, "Lions", "2025-04-10")
	addBatters(other.ID, "Leo King")
	e.newGame(t, team.ID, "tigers", "2025-04-12")

	g := e.newGame(t, team.ID, "tigers", "2025-04-15")
	added, err := e.sk.LoadPreviousOpponentBatters(ctx, testOwner, g.ID)
	if err != nil {
		t.Fatalf("LoadPreviousOpponentBatters: %v", err)
	}
	var names []string
	for i, b := range added {
		names = append(names, b.Name)
		if b.OrderInGame != i+1 {
			t.Errorf("batter %d orderInGame = %d", i, b.OrderInGame)
		}
		if b.ID == "" || b.ID == prev[i].ID {
			t.Errorf("batter %d id = %q", i, b.ID)
		}
	}
	if want := []string{"Ray Ortiz", "Sam Lee", "Tom Hall"}; !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
	stored, err := e.sk.Game(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.OpponentBatters) != 3 {
		t.Errorf("stored batters = %+v", stored.OpponentBatters)
	}

	again, err := e.sk.LoadPreviousOpponentBatters(ctx, testOwner, g.ID)
	if err != nil || len(again) != 0 {
		t.Errorf("second load = %+v, %v, want none", again, err)
	}
	if stored, _ := e.sk.Game(ctx, g.ID); len(stored.OpponentBatters) != 3 {
		t.Errorf("second load changed batters: %+v", stored.OpponentBatters)
	}

	none := e.newGame(t, team.ID, "Bears B", "2025-04-20")
	if got, err := e.sk.LoadPreviousOpponentBatters(ctx, testOwner, none.ID); err != nil || len(got) != 0 {
		t.Errorf("no history load = %+v, %v", got, err)
	}
}

func TestScorekeeperLoadOpponentBattersFromRoster(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	team := e.newTeam(t, "p1")
	num := func(n int) *int { return &n }
	if _, err := e.sk.CreateTeam(ctx, testOwner, Team{Name: "Tigers", DefaultInnings: 7, Players: []Player{
		{ID: "t1", FirstName: "Ann", LastName: "Lee", Jersey: num(12), Bats: "L", Active: true},
		{ID: "t2", FirstName: "Cy", LastName: "Ng", Active: true},
		{ID: "t3", FirstName: "Bo", LastName: "Diaz", Jersey: num(3), Active: true},
		{ID: "t4", FirstName: "Al", LastName: "Bench", Jersey: num(1)},
		{ID: "t5", FirstName: "Ed", LastName: "Abel", Active: true},
	}}); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}

	g := e.newGame(t, team.ID, "tigers", "2025-05-01")
	added, err := e.sk.LoadPreviousOpponentBatters(ctx, testOwner, g.ID)
	if err != nil {
		t.Fatalf("LoadPreviousOpponentBatters: %v", err)
	}
	var names []string
	for _, b := range added {
		names = append(names, b.Name)
	}
	if want := []string{"Bo Diaz", "Ann Lee", "Ed Abel", "Cy Ng"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	if added[1].Bats != "left" || added[1].Jersey == nil || *added[1].Jersey != 12 || added[1].OrderInGame != 2 {
		t.Errorf("Ann Lee = %+v", added[1])
	}

	if got, err := e.sk.LoadPreviousOpponentBatters(ctx, "stranger@example.com", e.newGame(t, team.ID, "Tigers", "2025-05-02").ID); err != nil {
		t.Errorf("stranger load err = %v", err)
	} else if len(got) != 4 {
		t.Errorf("previous game should win over roster, got %+v", got)
	}
}

func TestScorekeeperRosterChecks(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	team := e.newTeam(t, "p1", "p2")
	g := e.newGame(t, team.ID, "Tigers", "2025-05-01")

	if _, _, err := e.sk.RecordAtBat(ctx, g.ID, ours("stranger", scoring.Single, 0), nil); !scoring.IsValidation(err) {
		t.Errorf("RecordAtBat for unknown player: got %v, want validation error", err)
	}
	if _, _, err := e.sk.RecordAtBat(ctx, "00000000-0000-4000-8000-000000000000", ours("p1", scoring.Single, 0), nil); !errors.Is(err, scoring.ErrNotFound) {
		t.Errorf("RecordAtBat for unknown game: got %v, want ErrNotFound", err)
	}

	lineup := []scoring.LineupEntry{
		{PlayerID: "p2", BattingOrder: 1, Position: "SS", IsStarter: true},
		{PlayerID: "p1", BattingOrder: 2, Position: "CF", IsStarter: true},
	}
	lg, err := e.sk.SetLineup(ctx, g.ID, lineup)
	if err != nil {
		t.Fatalf("SetLineup: %v", err)
	}
	if len(lg.Lineup) != 2 || lg.Lineup[0].PlayerID != "p2" {
		t.Errorf("Lineup = %+v", lg.Lineup)
	}
	if _, err := e.sk.SetLineup(ctx, g.ID, []scoring.LineupEntry{{PlayerID: "stranger", BattingOrder: 1}}); !scoring.IsValidation(err) {
		t.Errorf("SetLineup with unknown player: got %v, want validation error", err)
	}

	app, err := e.sk.RecordPitching(ctx, g.ID, scoring.PitchingAppearance{PlayerID: "p1", PitchingLine: scoring.PitchingLine{OutsRecorded: 9, Strikeouts: 4}})
	if err != nil {
		t.Fatalf("RecordPitching: %v", err)
	}
	if app.AppearanceOrder != 1 || app.Strikeouts != 4 {
		t.Errorf("RecordPitching = %+v", app)
	}
	updated, err := e.sk.UpdatePitching(ctx, g.ID, app.ID, scoring.PitchingLine{OutsRecorded: 12, Strikeouts: 6})
	if err != nil {
		t.Fatalf("UpdatePitching: %v", err)
	}
	if updated.OutsRecorded != 12 || updated.PlayerID != "p1" {
		t.Errorf("UpdatePitching = %+v", updated)
	}
	if _, err := e.sk.UpdatePitching(ctx, g.ID, "missing", scoring.PitchingLine{}); !errors.Is(err, scoring.ErrNotFound) {
		t.Errorf("UpdatePitching unknown appearance: got %v, want ErrNotFound", err)
	}
}

func TestScorekeeperCreateGameValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	team := e.newTeam(t)

	tests := []struct {
		name string
		req  NewGameRequest
	}{
		{"NoOpponent", NewGameRequest{TeamID: team.ID, Date: "2025-05-01"}},
		{"BadDate", NewGameRequest{TeamID: team.ID, OpponentName: "Tigers", Date: "May 1st"}},
		{"TooManyInnings", NewGameRequest{TeamID: team.ID, OpponentName: "Tigers", Date: "2025-05-01", Innings: 25}},
		{"UnknownSeason", NewGameRequest{TeamID: team.ID, OpponentName: "Tigers", Date: "2025-05-01", SeasonID: "spring"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.sk.CreateGame(ctx, testOwner, tc.req); !scoring.IsValidation(err) {
				t.Errorf("CreateGame: got %v, want validation error", err)
			}
		})
	}

	if _, err := e.sk.CreateGame(ctx, testOwner, NewGameRequest{TeamID: "no-such-team", OpponentName: "Tigers", Date: "2025-05-01"}); !errors.Is(err, scoring.ErrNotFound) {
		t.Errorf("CreateGame for unknown team: got %v, want ErrNotFound", err)
	}
	if n := e.reg.CountOwnedGames(testOwner); n != 0 {
		t.Errorf("CountOwnedGames = %d after rejected creates, want 0", n)
	}
}

func TestScorekeeperTeams(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	created, err := e.sk.CreateTeam(ctx, "Coach@Example.com", Team{
		Name:    "Bears",
		Players: []Player{{FirstName: "Ada", LastName: "Park"}},
		Seasons: []Season{{Name: "Spring 2025", Active: true}},
	})
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	if created.OwnerID != testOwner {
		t.Errorf("OwnerID = %q, want %q", created.OwnerID, testOwner)
	}
	if created.Players[0].ID == "" || created.Seasons[0].ID == "" {
		t.Errorf("ids not assigned: %+v", created)
	}
	if created.DefaultInnings != scoring.DefaultInnings {
		t.Errorf("DefaultInnings = %d, want %d", created.DefaultInnings, scoring.DefaultInnings)
	}

	if _, err := e.sk.CreateTeam(ctx, testOwner, Team{}); !scoring.IsValidation(err) {
		t.Errorf("CreateTeam without name: got %v, want validation error", err)
	}

	update := *created
	update.Name = "Grizzlies"
	update.OwnerID = "thief@example.com"
	updated, err := e.sk.UpdateTeam(ctx, created.ID, update)
	if err != nil {
		t.Fatalf("UpdateTeam: %v", err)
	}
	if updated.Name != "Grizzlies" || updated.OwnerID != testOwner {
		t.Errorf("UpdateTeam = %+v", updated)
	}

	g, err := e.sk.CreateGame(ctx, testOwner, NewGameRequest{TeamID: created.ID, SeasonID: created.Seasons[0].ID, OpponentName: "Tigers", Date: "2025-05-01"})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	if err := e.sk.DeleteTeam(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTeam: %v", err)
	}
	if _, err := e.sk.Team(ctx, created.ID); !errors.Is(err, scoring.ErrNotFound) {
		t.Errorf("Team after delete: got %v, want ErrNotFound", err)
	}
	if e.reg.TeamExists(created.ID) {
		t.Error("registry still lists the deleted team")
	}
	// The games of a deleted team stay with their owner.
	if _, err := e.sk.Game(ctx, g.ID); err != nil {
		t.Errorf("Game of deleted team: %v", err)
	}
	if level := e.reg.GetGameAccess(ctx, testOwner, g.ID); level != AccessAdmin {
		t.Errorf("owner access to game of deleted team = %s, want admin", level)
	}
}

func TestScorekeeperDeleteGame(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	team := e.newTeam(t, "p1")
	g := e.newGame(t, team.ID, "Tigers", "2025-05-01")
	e.record(t, g.ID, ours("p1", scoring.Single, 0))

	if err := e.sk.DeleteGame(ctx, g.ID); err != nil {
		t.Fatalf("DeleteGame: %v", err)
	}
	if _, err := e.sk.Game(ctx, g.ID); !errors.Is(err, scoring.ErrNotFound) {
		t.Errorf("Game after delete: got %v, want ErrNotFound", err)
	}
	if err := e.sk.DeleteGame(ctx, g.ID); !errors.Is(err, scoring.ErrNotFound) {
		t.Errorf("DeleteGame twice: got %v, want ErrNotFound", err)
	}
	if n := e.reg.CountOwnedGames(testOwner); n != 0 {
		t.Errorf("CountOwnedGames = %d, want 0", n)
	}
	if games := e.reg.TeamGames(ctx, team.ID); len(games) != 0 {
		t.Errorf("TeamGames = %+v, want none", games)
	}
}

type recordingObserver struct {
	changed []string
	deleted []string
}

func (o *recordingObserver) GameChanged(ctx context.Context, g *scoring.Game) {
	o.changed = append(o.changed, g.ID)
}

func (o *recordingObserver) GameDeleted(ctx context.Context, gameId string) {
	o.deleted = append(o.deleted, gameId)
}

func TestScorekeeperObservers(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	obs := &recordingObserver{}
	e.sk = NewScorekeeper(e.games, e.teams, e.reg, e.s, nil, obs)

	team := e.newTeam(t, "p1")
	g := e.newGame(t, team.ID, "Tigers", "2025-05-01")
	e.record(t, g.ID, ours("p1", scoring.Single, 0))
	// Rejected changes are not observed.
	e.sk.RecordAtBat(ctx, g.ID, ours("p1", "bunt_single", 0), nil)
	if err := e.sk.DeleteGame(ctx, g.ID); err != nil {
		t.Fatalf("DeleteGame: %v", err)
	}

	if len(obs.changed) != 2 {
		t.Errorf("changed = %v, want create and record", obs.changed)
	}
	if len(obs.deleted) != 1 || obs.deleted[0] != g.ID {
		t.Errorf("deleted = %v", obs.deleted)
	}
}
