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
	"slices"

	"github.com/ttbt-io/statkeeper/backend/scoring"
	"github.com/ttbt-io/statkeeper/backend/search"
)

// Record is the win/loss/tie record of a team over final games.
type Record struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Ties   int `json:"ties"`
}

// TeamStats is the batting report of a team over the games matching a
// filter.
type TeamStats struct {
	TeamID  string               `json:"teamId"`
	Query   string               `json:"query,omitempty"`
	Games   int                  `json:"games"`
	Record  Record               `json:"record"`
	Batting []scoring.BatterLine `json:"batting"`
	Totals  scoring.BattingLine  `json:"totals"`
}

// PlayerGame is one game of a player's game log.
type PlayerGame struct {
	GameID       string              `json:"gameId"`
	Date         string              `json:"gameDate"`
	OpponentName string              `json:"opponentName"`
	Stats        scoring.BattingLine `json:"stats"`
}

// PlayerStats is the batting report of one player.
type PlayerStats struct {
	Player  Player              `json:"player"`
	Query   string              `json:"query,omitempty"`
	Stats   scoring.BattingLine `json:"stats"`
	GameLog []PlayerGame        `json:"gameLog"`
}

// gameEvents holds the at-bats of our batters in one game that passed the
// filter.
type gameEvents struct {
	summary GameSummary
	events  []scoring.AtBat
}

func parseQuery(query string) (search.Criteria, error) {
	c, err := search.ParseCriteria(query)
	if err != nil {
		return search.Criteria{}, &scoring.ValidationError{Field: "q", Reason: err.Error()}
	}
	return c, nil
}

// collect loads the games of a team matching c and keeps our at-bats that
// match the pitcher filters.
func (s *Scorekeeper) collect(ctx context.Context, teamId string, c search.Criteria) ([]gameEvents, error) {
	var out []gameEvents
	for _, summary := range s.registry.TeamGames(ctx, teamId) {
		if !c.MatchOpponent(summary.OpponentName) || !c.MatchDate(summary.Date) {
			continue
		}
		if c.SeasonID != "" && summary.SeasonID != c.SeasonID {
			continue
		}
		g, err := s.repo.LoadGame(ctx, summary.ID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		ge := gameEvents{summary: summary}
		for _, ab := range g.OrderedAtBats() {
			if !ab.Batter.IsOurs() {
				continue
			}
			p, known := g.OpponentPitcherByID(ab.OpponentPitcherID)
			if !c.MatchPitcher(p.Name, p.Throws, known && ab.OpponentPitcherID != "") {
				continue
			}
			ge.events = append(ge.events, ab)
		}
		out = append(out, ge)
	}
	return out, nil
}

// teamRecord counts the outcomes of final games, restricted to one season
// when seasonId is set.
func teamRecord(games []GameSummary, seasonId string) Record {
	var r Record
	for _, g := range games {
		if seasonId != "" && g.SeasonID != seasonId {
			continue
		}
		switch g.Outcome() {
		case "W":
			r.Wins++
		case "L":
			r.Losses++
		case "T":
			r.Ties++
		}
	}
	return r
}

// TeamStats computes per-player batting lines and team totals over the games
// matching query. The record only honors the season filter. Players without
// a plate appearance are left out.
func (s *Scorekeeper) TeamStats(ctx context.Context, teamId, query string) (*TeamStats, error) {
	c, err := parseQuery(query)
	if err != nil {
		return nil, err
	}
	team, err := s.teams.LoadTeam(teamId)
	if err != nil {
		return nil, err
	}
	games, err := s.collect(ctx, teamId, c)
	if err != nil {
		return nil, err
	}

	out := &TeamStats{TeamID: teamId, Query: query, Batting: []scoring.BatterLine{}}
	byPlayer := make(map[string][]scoring.AtBat)
	gamesByPlayer := make(map[string]map[string]bool)
	var all []scoring.AtBat
	out.Record = teamRecord(s.registry.TeamGames(ctx, teamId), c.SeasonID)
	for _, ge := range games {
		if len(ge.events) > 0 {
			out.Games++
		}
		for _, ab := range ge.events {
			id := ab.Batter.ID
			byPlayer[id] = append(byPlayer[id], ab)
			if gamesByPlayer[id] == nil {
				gamesByPlayer[id] = make(map[string]bool)
			}
			gamesByPlayer[id][ge.summary.ID] = true
			all = append(all, ab)
		}
	}

	// Roster order first, then batters no longer on the roster.
	var ids []string
	for _, p := range team.Players {
		ids = append(ids, p.ID)
	}
	var former []string
	for id := range byPlayer {
		if _, ok := team.Player(id); !ok {
			former = append(former, id)
		}
	}
	slices.Sort(former)
	ids = append(ids, former...)

	lines := make([]scoring.BatterLine, 0, len(ids))
	for _, id := range ids {
		name, jersey := team.PlayerInfo(id)
		if name == "" {
			name = id
		}
		lines = append(lines, scoring.BatterLine{
			Batter: scoring.OurBatter(id),
			Name:   name,
			Jersey: jersey,
			Stats:  scoring.Aggregate(byPlayer[id], len(gamesByPlayer[id])),
		})
	}
	out.Batting = scoring.WithPlateAppearances(lines)
	out.Totals = scoring.Aggregate(all, out.Games)
	return out, nil
}

// PlayerStats computes the batting line and game log of one player over the
// games of their team matching query.
func (s *Scorekeeper) PlayerStats(ctx context.Context, teamId, playerId, query string) (*PlayerStats, error) {
	c, err := parseQuery(query)
	if err != nil {
		return nil, err
	}
	team, err := s.teams.LoadTeam(teamId)
	if err != nil {
		return nil, err
	}
	player, ok := team.Player(playerId)
	if !ok {
		return nil, notFound("player", playerId)
	}
	games, err := s.collect(ctx, teamId, c)
	if err != nil {
		return nil, err
	}

	out := &PlayerStats{Player: player, Query: query, GameLog: []PlayerGame{}}
	var all []scoring.AtBat
	for _, ge := range games {
		var mine []scoring.AtBat
		for _, ab := range ge.events {
			if ab.Batter.ID == playerId {
				mine = append(mine, ab)
			}
		}
		if len(mine) == 0 {
			continue
		}
		all = append(all, mine...)
		out.GameLog = append(out.GameLog, PlayerGame{
			GameID:       ge.summary.ID,
			Date:         ge.summary.Date,
			OpponentName: ge.summary.OpponentName,
			Stats:        scoring.Aggregate(mine, 1),
		})
	}
	out.Stats = scoring.Aggregate(all, len(out.GameLog))
	return out, nil
}
