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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ttbt-io/statkeeper/backend/scoring"
)

type testClient struct {
	handler http.Handler
	user    string
}

func (c testClient) do(method, url string, body any) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, url, bytes.NewReader(b))
	if c.user != "" {
		req.AddCookie(&http.Cookie{Name: "mock_auth_user", Value: c.user})
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Unmarshal(%s): %v", w.Body.String(), err)
	}
}

func newTestServer(t *testing.T, opts Options) (string, http.Handler) {
	t.Helper()
	dir := t.TempDir()
	opts.DataDir = dir
	opts.UseMockAuth = true
	srv, handler, err := NewServerHandler(opts)
	if err != nil {
		t.Fatalf("NewServerHandler: %v", err)
	}
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return dir, handler
}

func TestHTTPHandlers(t *testing.T) {
	dir, handler := newTestServer(t, Options{})
	coach := testClient{handler: handler, user: "coach@example.com"}
	fan := testClient{handler: handler, user: "fan@example.com"}
	stranger := testClient{handler: handler, user: "stranger@example.com"}
	anon := testClient{handler: handler}

	var team Team
	var game scoring.Game
	var firstAtBat scoring.AtBat

	t.Run("CreateTeam", func(t *testing.T) {
		w := coach.do("POST", "/api/teams", Team{
			Name:           "Bears",
			DefaultInnings: 7,
			Players: []Player{
				{ID: "p1", FirstName: "Ann", LastName: "Lee", Active: true},
				{ID: "p2", FirstName: "Bo", LastName: "Diaz", Active: true},
			},
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("CreateTeam: %d - %s", w.Code, w.Body.String())
		}
		decodeBody(t, w, &team)
		if !isValidUUID(team.ID) || team.OwnerID != "coach@example.com" {
			t.Errorf("team = %+v", team)
		}
		if w.Header().Get("X-Frame-Options") != "DENY" {
			t.Errorf("Missing X-Frame-Options header")
		}
		if w.Header().Get("Cache-Control") == "" {
			t.Errorf("Missing Cache-Control header")
		}

		if w := coach.do("POST", "/api/teams", Team{Name: " "}); w.Code != http.StatusBadRequest {
			t.Errorf("team without name: %d", w.Code)
		}
		if w := anon.do("GET", "/api/teams", nil); w.Code != http.StatusForbidden {
			t.Errorf("anonymous list: %d", w.Code)
		}
	})

	t.Run("ShareTeam", func(t *testing.T) {
		team.Roles.Spectators = []string{"Fan@Example.com"}
		w := coach.do("PUT", "/api/teams/"+team.ID, team)
		if w.Code != http.StatusOK {
			t.Fatalf("UpdateTeam: %d - %s", w.Code, w.Body.String())
		}
		if w := fan.do("PUT", "/api/teams/"+team.ID, team); w.Code != http.StatusForbidden {
			t.Errorf("spectator update: %d", w.Code)
		}
		if w := stranger.do("GET", "/api/teams/"+team.ID, nil); w.Code != http.StatusNotFound {
			t.Errorf("stranger get: %d", w.Code)
		}
		if w := coach.do("GET", "/api/teams/not-a-uuid", nil); w.Code != http.StatusBadRequest {
			t.Errorf("bad team id: %d", w.Code)
		}

		var teams []TeamMetadata
		w = fan.do("GET", "/api/teams", nil)
		decodeBody(t, w, &teams)
		if len(teams) != 1 || teams[0].ID != team.ID {
			t.Errorf("spectator teams = %+v", teams)
		}
	})

	t.Run("CreateGame", func(t *testing.T) {
		w := coach.do("POST", "/api/teams/"+team.ID+"/games", NewGameRequest{OpponentName: "Tigers", Date: "2025-05-01"})
		if w.Code != http.StatusCreated {
			t.Fatalf("CreateGame: %d - %s", w.Code, w.Body.String())
		}
		decodeBody(t, w, &game)
		if game.Innings != 7 || game.State.Status != scoring.StatusScheduled {
			t.Errorf("game = %+v", game)
		}
		if _, err := os.Stat(filepath.Join(dir, "games", game.ID+".json")); err != nil {
			t.Errorf("game file not created: %v", err)
		}

		if w := coach.do("POST", "/api/teams/"+team.ID+"/games", NewGameRequest{OpponentName: "Lions", Date: "May 1"}); w.Code != http.StatusBadRequest {
			t.Errorf("bad date: %d", w.Code)
		}
		if w := fan.do("POST", "/api/teams/"+team.ID+"/games", NewGameRequest{OpponentName: "Lions", Date: "2025-06-01"}); w.Code != http.StatusForbidden {
			t.Errorf("spectator create: %d", w.Code)
		}
	})

	t.Run("RecordAtBats", func(t *testing.T) {
		w := coach.do("POST", "/api/games/"+game.ID+"/at-bats", AtBatRequest{PlayerID: "p1", Result: "single"})
		if w.Code != http.StatusCreated {
			t.Fatalf("RecordAtBat: %d - %s", w.Code, w.Body.String())
		}
		var resp struct {
			AtBat scoring.AtBat     `json:"atBat"`
			State scoring.GameState `json:"state"`
		}
		decodeBody(t, w, &resp)
		firstAtBat = resp.AtBat
		if resp.AtBat.Number != 1 || resp.AtBat.ID == "" {
			t.Errorf("atBat = %+v", resp.AtBat)
		}
		if resp.State.Status != scoring.StatusInProgress {
			t.Errorf("state = %+v", resp.State)
		}

		w = coach.do("POST", "/api/games/"+game.ID+"/at-bats", AtBatRequest{PlayerID: "p2", Result: "home_run", RBI: 2})
		if w.Code != http.StatusCreated {
			t.Fatalf("RecordAtBat: %d - %s", w.Code, w.Body.String())
		}
		decodeBody(t, w, &resp)
		if resp.State.OurScore != 2 {
			t.Errorf("OurScore = %d, want 2", resp.State.OurScore)
		}

		tests := []struct {
			name string
			user testClient
			req  AtBatRequest
			code int
		}{
			{"UnknownResult", coach, AtBatRequest{PlayerID: "p1", Result: "triple_play"}, http.StatusBadRequest},
			{"NotOnRoster", coach, AtBatRequest{PlayerID: "p9", Result: "single"}, http.StatusBadRequest},
			{"NoBatter", coach, AtBatRequest{Result: "single"}, http.StatusBadRequest},
			{"Spectator", fan, AtBatRequest{PlayerID: "p1", Result: "single"}, http.StatusForbidden},
			{"Stranger", stranger, AtBatRequest{PlayerID: "p1", Result: "single"}, http.StatusNotFound},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				if w := tc.user.do("POST", "/api/games/"+game.ID+"/at-bats", tc.req); w.Code != tc.code {
					t.Errorf("got %d, want %d - %s", w.Code, tc.code, w.Body.String())
				}
			})
		}

		var atBats []scoring.AtBat
		w = fan.do("GET", "/api/games/"+game.ID+"/at-bats", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ListAtBats: %d", w.Code)
		}
		decodeBody(t, w, &atBats)
		if len(atBats) != 2 || atBats[1].Result != scoring.HomeRun {
			t.Errorf("atBats = %+v", atBats)
		}
	})

	t.Run("PatchAtBat", func(t *testing.T) {
		notes := "line drive to left"
		w := coach.do("PATCH", "/api/games/"+game.ID+"/at-bats/"+firstAtBat.ID, scoring.AtBatPatch{Notes: &notes})
		if w.Code != http.StatusOK {
			t.Fatalf("PatchAtBat: %d - %s", w.Code, w.Body.String())
		}
		var resp struct {
			AtBat scoring.AtBat `json:"atBat"`
		}
		decodeBody(t, w, &resp)
		if resp.AtBat.Notes != notes || resp.AtBat.Result != scoring.Single {
			t.Errorf("patched = %+v", resp.AtBat)
		}
		if w := coach.do("PATCH", "/api/games/"+game.ID+"/at-bats/nope", scoring.AtBatPatch{Notes: &notes}); w.Code != http.StatusNotFound {
			t.Errorf("patch of unknown at-bat: %d", w.Code)
		}
	})

	t.Run("Pitches", func(t *testing.T) {
		for _, r := range []string{"ball", "called_strike", "foul"} {
			if w := coach.do("POST", "/api/games/"+game.ID+"/pitches", PitchRequest{Result: r}); w.Code != http.StatusCreated {
				t.Fatalf("AddPitch(%s): %d - %s", r, w.Code, w.Body.String())
			}
		}
		var pending scoring.PendingCount
		w := fan.do("GET", "/api/games/"+game.ID+"/pitches", nil)
		decodeBody(t, w, &pending)
		if pending.Count != (scoring.Count{Balls: 1, Strikes: 2}) || len(pending.Pitches) != 3 {
			t.Errorf("pending = %+v", pending)
		}

		w = coach.do("DELETE", "/api/games/"+game.ID+"/pitches/last", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("UndoPitch: %d", w.Code)
		}
		decodeBody(t, w, &pending)
		if pending.Count != (scoring.Count{Balls: 1, Strikes: 1}) {
			t.Errorf("after undo = %+v", pending)
		}

		if w := coach.do("POST", "/api/games/"+game.ID+"/pitches", PitchRequest{Result: "knuckleball"}); w.Code != http.StatusBadRequest {
			t.Errorf("unknown pitch: %d", w.Code)
		}

		w = coach.do("DELETE", "/api/games/"+game.ID+"/pitches", nil)
		decodeBody(t, w, &pending)
		if len(pending.Pitches) != 0 {
			t.Errorf("after clear = %+v", pending)
		}
	})

	t.Run("GameStateETag", func(t *testing.T) {
		w := fan.do("GET", "/api/games/"+game.ID+"/state", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("GameState: %d", w.Code)
		}
		etag := w.Header().Get("ETag")
		if etag == "" {
			t.Fatal("missing ETag")
		}
		var state gameStateResponse
		decodeBody(t, w, &state)
		if state.LastAtBatNumber != 2 || state.State.OurScore != 2 {
			t.Errorf("state = %+v", state)
		}

		req := httptest.NewRequest("GET", "/api/games/"+game.ID+"/state", nil)
		req.AddCookie(&http.Cookie{Name: "mock_auth_user", Value: fan.user})
		req.Header.Set("If-None-Match", etag)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotModified {
			t.Errorf("revalidation: %d, want 304", rec.Code)
		}

		coach.do("POST", "/api/games/"+game.ID+"/at-bats", AtBatRequest{PlayerID: "p1", Result: "strikeout_swinging"})
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || rec.Header().Get("ETag") == etag {
			t.Errorf("after a change: %d %s", rec.Code, rec.Header().Get("ETag"))
		}
	})

	t.Run("BoxScore", func(t *testing.T) {
		w := fan.do("GET", "/api/games/"+game.ID+"/box", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("BoxScore: %d - %s", w.Code, w.Body.String())
		}
		var box scoring.BoxScore
		decodeBody(t, w, &box)
		if len(box.OurBatters) != 2 {
			t.Errorf("OurBatters = %+v", box.OurBatters)
		}

		w = fan.do("GET", "/api/games/"+game.ID+"/box?format=text", nil)
		if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
			t.Errorf("Content-Type = %q", w.Header().Get("Content-Type"))
		}
		for _, want := range []string{"Tigers", "Ann Lee", "Bo Diaz"} {
			if !strings.Contains(w.Body.String(), want) {
				t.Errorf("text box score is missing %q:\n%s", want, w.Body.String())
			}
		}
	})

	t.Run("EndGame", func(t *testing.T) {
		if w := fan.do("POST", "/api/games/"+game.ID+"/end", nil); w.Code != http.StatusForbidden {
			t.Errorf("spectator end: %d", w.Code)
		}
		w := coach.do("POST", "/api/games/"+game.ID+"/end", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("EndGame: %d - %s", w.Code, w.Body.String())
		}
		if w := coach.do("POST", "/api/games/"+game.ID+"/at-bats", AtBatRequest{PlayerID: "p1", Result: "single"}); w.Code != http.StatusConflict {
			t.Errorf("at-bat after final: %d, want 409", w.Code)
		}
	})

	t.Run("ListGames", func(t *testing.T) {
		coach.do("POST", "/api/teams/"+team.ID+"/games", NewGameRequest{OpponentName: "Lions", Date: "2025-06-10"})

		var resp struct {
			Games []GameSummary `json:"games"`
			Total int           `json:"total"`
		}
		w := fan.do("GET", "/api/teams/"+team.ID+"/games", nil)
		decodeBody(t, w, &resp)
		if resp.Total != 2 || resp.Games[0].OpponentName != "Lions" {
			t.Errorf("games = %+v", resp)
		}

		w = fan.do("GET", "/api/teams/"+team.ID+"/games?q=opponent:tigers&limit=1", nil)
		decodeBody(t, w, &resp)
		if resp.Total != 1 || resp.Games[0].ID != game.ID {
			t.Errorf("filtered games = %+v", resp)
		}

		if w := fan.do("GET", "/api/teams/"+team.ID+"/games?q=weather:rain", nil); w.Code != http.StatusBadRequest {
			t.Errorf("unknown filter: %d", w.Code)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		w := fan.do("GET", "/api/teams/"+team.ID+"/stats", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("TeamStats: %d - %s", w.Code, w.Body.String())
		}
		var stats TeamStats
		decodeBody(t, w, &stats)
		if stats.Record != (Record{Wins: 1}) || stats.Totals.Hits != 2 || stats.Totals.HomeRuns != 1 {
			t.Errorf("stats = %+v", stats)
		}

		w = fan.do("GET", "/api/teams/"+team.ID+"/players/p1/stats", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("PlayerStats: %d - %s", w.Code, w.Body.String())
		}
		var ps PlayerStats
		decodeBody(t, w, &ps)
		if ps.Stats.AtBats != 2 || ps.Stats.Hits != 1 || ps.Stats.Strikeouts != 1 {
			t.Errorf("p1 stats = %+v", ps.Stats)
		}

		if w := fan.do("GET", "/api/teams/"+team.ID+"/players/p9/stats", nil); w.Code != http.StatusNotFound {
			t.Errorf("unknown player: %d", w.Code)
		}
		if w := fan.do("GET", "/api/teams/"+team.ID+"/stats?q=color:red", nil); w.Code != http.StatusBadRequest {
			t.Errorf("unknown filter: %d", w.Code)
		}
	})

	t.Run("Me", func(t *testing.T) {
		var me struct {
			ID      string `json:"id"`
			Allowed bool   `json:"allowed"`
			Quotas  struct {
				GamesUsed int `json:"gamesUsed"`
				TeamsUsed int `json:"teamsUsed"`
			} `json:"quotas"`
		}
		w := coach.do("GET", "/api/me", nil)
		decodeBody(t, w, &me)
		if !me.Allowed || me.Quotas.GamesUsed != 2 || me.Quotas.TeamsUsed != 1 {
			t.Errorf("me = %+v", me)
		}
	})

	t.Run("LoadOpponentBatters", func(t *testing.T) {
		var first, second scoring.Game
		decodeBody(t, coach.do("POST", "/api/teams/"+team.ID+"/games", NewGameRequest{OpponentName: "Tigers", Date: "2025-06-20"}), &first)
		w := coach.do("POST", "/api/games/"+first.ID+"/opponent-batters/load-from-previous", nil)
		if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
			t.Errorf("nothing to load: %d - %s", w.Code, w.Body.String())
		}
		if w := coach.do("POST", "/api/games/"+first.ID+"/opponent-batters", scoring.OpponentBatter{Name: "Sam Lee"}); w.Code != http.StatusCreated {
			t.Fatalf("AddOpponentBatter: %d - %s", w.Code, w.Body.String())
		}

		decodeBody(t, coach.do("POST", "/api/teams/"+team.ID+"/games", NewGameRequest{OpponentName: "tigers", Date: "2025-06-27"}), &second)
		url := "/api/games/" + second.ID + "/opponent-batters/load-from-previous"
		if w := fan.do("POST", url, nil); w.Code != http.StatusForbidden {
			t.Errorf("spectator load: %d", w.Code)
		}
		w = coach.do("POST", url, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("load: %d - %s", w.Code, w.Body.String())
		}
		var loaded []scoring.OpponentBatter
		decodeBody(t, w, &loaded)
		if len(loaded) != 1 || loaded[0].Name != "Sam Lee" || loaded[0].OrderInGame != 1 {
			t.Errorf("loaded = %+v", loaded)
		}
		if w := coach.do("POST", url, nil); w.Code != http.StatusOK {
			t.Errorf("second load: %d", w.Code)
		}

		for _, id := range []string{first.ID, second.ID} {
			if w := coach.do("DELETE", "/api/games/"+id, nil); w.Code != http.StatusNoContent {
				t.Fatalf("DeleteGame: %d", w.Code)
			}
		}
	})

	t.Run("DeleteGame", func(t *testing.T) {
		if w := fan.do("DELETE", "/api/games/"+game.ID, nil); w.Code != http.StatusForbidden {
			t.Errorf("spectator delete: %d", w.Code)
		}
		if w := coach.do("DELETE", "/api/games/"+game.ID, nil); w.Code != http.StatusNoContent {
			t.Fatalf("DeleteGame: %d - %s", w.Code, w.Body.String())
		}
		if w := coach.do("GET", "/api/games/"+game.ID, nil); w.Code != http.StatusNotFound {
			t.Errorf("get after delete: %d", w.Code)
		}
	})

	t.Run("Health", func(t *testing.T) {
		var health struct {
			Status string `json:"status"`
			Games  int    `json:"games"`
			Teams  int    `json:"teams"`
		}
		w := anon.do("GET", "/api/health", nil)
		decodeBody(t, w, &health)
		if health.Status != "ok" || health.Games != 1 || health.Teams != 1 {
			t.Errorf("health = %+v", health)
		}
		if w := anon.do("GET", "/api/cluster/status", nil); w.Code != http.StatusNotImplemented {
			t.Errorf("cluster status without raft: %d", w.Code)
		}
	})
}

func TestHTTPAccessPolicy(t *testing.T) {
	_, handler := newTestServer(t, Options{BootstrapAdmin: "admin@example.com"})
	admin := testClient{handler: handler, user: "Admin@Example.com"}
	user := testClient{handler: handler, user: "user@example.com"}
	limited := testClient{handler: handler, user: "limited@example.com"}

	// 1. Only admins see the policy.
	if w := user.do("GET", "/api/admin/policy", nil); w.Code != http.StatusForbidden {
		t.Errorf("non-admin get policy: %d", w.Code)
	}
	var policy UserAccessPolicy
	w := admin.do("GET", "/api/admin/policy", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get policy: %d - %s", w.Code, w.Body.String())
	}
	decodeBody(t, w, &policy)
	if policy.DefaultPolicy != "allow" {
		t.Errorf("default policy = %+v", policy)
	}

	// 2. Deny by default, with one allowed user limited to a single team.
	w = admin.do("POST", "/api/admin/policy", UserAccessPolicy{
		DefaultPolicy:      "deny",
		DefaultDenyMessage: "invite only",
		Users:              map[string]UserOverride{"Limited@Example.com": {Access: "allow", MaxTeams: 1}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("set policy: %d - %s", w.Code, w.Body.String())
	}
	if w := admin.do("POST", "/api/admin/policy", UserAccessPolicy{DefaultPolicy: "maybe"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid policy: %d", w.Code)
	}

	// 3. The policy is enforced.
	w = user.do("GET", "/api/teams", nil)
	if w.Code != http.StatusForbidden || !strings.Contains(w.Body.String(), "invite only") {
		t.Errorf("denied user: %d - %s", w.Code, w.Body.String())
	}
	if w := limited.do("POST", "/api/teams", Team{Name: "Bears"}); w.Code != http.StatusCreated {
		t.Fatalf("first team: %d - %s", w.Code, w.Body.String())
	}
	if w := limited.do("POST", "/api/teams", Team{Name: "Cubs"}); w.Code != http.StatusForbidden {
		t.Errorf("team over quota: %d", w.Code)
	}
	if w := admin.do("POST", "/api/teams", Team{Name: "Admins"}); w.Code != http.StatusCreated {
		t.Errorf("admin team: %d - %s", w.Code, w.Body.String())
	}

	var me struct {
		Allowed bool   `json:"allowed"`
		Message string `json:"message"`
		Admin   bool   `json:"admin"`
	}
	decodeBody(t, user.do("GET", "/api/me", nil), &me)
	if me.Allowed || me.Message != "invite only" || me.Admin {
		t.Errorf("me = %+v", me)
	}
}

func TestHTTPRequirePaid(t *testing.T) {
	_, handler := newTestServer(t, Options{RequirePaid: true})
	coach := testClient{handler: handler, user: "coach@example.com"}

	w := coach.do("POST", "/api/teams", Team{Name: "Bears"})
	if w.Code != http.StatusCreated {
		t.Fatalf("CreateTeam: %d - %s", w.Code, w.Body.String())
	}
	var team Team
	decodeBody(t, w, &team)

	body := `{"opponentName":"Tigers","gameDate":"2025-05-01"}`
	post := func(paid bool) int {
		req := httptest.NewRequest("POST", "/api/teams/"+team.ID+"/games", strings.NewReader(body))
		req.AddCookie(&http.Cookie{Name: "mock_auth_user", Value: coach.user})
		if paid {
			req.AddCookie(&http.Cookie{Name: "mock_auth_paid", Value: "true"})
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := post(false); code != http.StatusForbidden {
		t.Errorf("unpaid create: %d, want 403", code)
	}
	if code := post(true); code != http.StatusCreated {
		t.Errorf("paid create: %d, want 201", code)
	}
}

func TestHTTPRejectsRaftWithPostgres(t *testing.T) {
	_, _, err := NewServerHandler(Options{
		DataDir:     t.TempDir(),
		PostgresDSN: "postgres://localhost/statkeeper",
		RaftEnabled: true,
	})
	if err == nil {
		t.Fatal("NewServerHandler accepted raft with postgres")
	}
}
