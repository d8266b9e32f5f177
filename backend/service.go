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
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/google/uuid"
	"github.com/ttbt-io/statkeeper/backend/scoring"
)

// MutationOp names a change to a game.
type MutationOp string

const (
	OpCreateGame          MutationOp = "create_game"
	OpDeleteGame          MutationOp = "delete_game"
	OpRecordAtBat         MutationOp = "record_at_bat"
	OpDeleteAtBat         MutationOp = "delete_at_bat"
	OpPatchAtBat          MutationOp = "patch_at_bat"
	OpEndGame             MutationOp = "end_game"
	OpAddPitch            MutationOp = "add_pitch"
	OpUndoPitch           MutationOp = "undo_pitch"
	OpClearPitches        MutationOp = "clear_pitches"
	OpAddOpponentBatter   MutationOp = "add_opponent_batter"
	OpAddOpponentPitcher  MutationOp = "add_opponent_pitcher"
	OpLoadOpponentBatters MutationOp = "load_opponent_batters"
	OpSetLineup           MutationOp = "set_lineup"
	OpRecordPitching      MutationOp = "record_pitching"
	OpUpdatePitching      MutationOp = "update_pitching"
)

// recomputes reports whether op replays the at-bat log.
func (op MutationOp) recomputes() bool {
	return op == OpDeleteAtBat || op == OpPatchAtBat
}

// GameMutation is one change to a game, complete with the ids and the
// timestamp it needs. Applying the same mutation to the same game always
// yields the same result.
type GameMutation struct {
	Op     MutationOp `json:"op"`
	GameID string     `json:"gameId"`
	// At is the time of the change in Unix milliseconds.
	At int64 `json:"at"`

	Game            *scoring.Game               `json:"game,omitempty"`
	AtBat           *scoring.AtBat              `json:"atBat,omitempty"`
	IsTop           *bool                       `json:"isTopOfInning,omitempty"`
	AtBatID         string                      `json:"atBatId,omitempty"`
	Patch           *scoring.AtBatPatch         `json:"patch,omitempty"`
	Pitch           *scoring.Pitch              `json:"pitch,omitempty"`
	OpponentBatter  *scoring.OpponentBatter     `json:"opponentBatter,omitempty"`
	OpponentBatters []scoring.OpponentBatter    `json:"opponentBatters,omitempty"`
	OpponentPitcher *scoring.OpponentPitcher    `json:"opponentPitcher,omitempty"`
	Lineup          []scoring.LineupEntry       `json:"lineup,omitempty"`
	Pitching        *scoring.PitchingAppearance `json:"pitching,omitempty"`
	AppearanceID    string                      `json:"appearanceId,omitempty"`
	Line            *scoring.PitchingLine       `json:"line,omitempty"`
}

// MutationResult is what applying a GameMutation produced. Game is the
// stored game after the change; it is nil after a deletion.
type MutationResult struct {
	Game            *scoring.Game
	AtBat           *scoring.AtBat
	Pitch           *scoring.Pitch
	OpponentBatter  *scoring.OpponentBatter
	OpponentBatters []scoring.OpponentBatter
	OpponentPitcher *scoring.OpponentPitcher
	Pitching        *scoring.PitchingAppearance
}

// GameObserver is told about every committed change. Observers must not
// block.
type GameObserver interface {
	GameChanged(ctx context.Context, g *scoring.Game)
	GameDeleted(ctx context.Context, gameId string)
}

// applier performs committed changes against the stores. It is called
// directly in standalone mode and by the FSM in a cluster, where index is
// the raft log index of the command.
type applier struct {
	repo      GameRepository
	teams     *TeamStore
	registry  *Registry
	storage   *storage.Storage
	metrics   *Metrics
	observers []GameObserver
}

func missing(field string) error {
	return &scoring.ValidationError{Field: field, Reason: "required"}
}

func (a *applier) applyGame(ctx context.Context, m *GameMutation, index uint64) (res *MutationResult, err error) {
	start := time.Now()
	defer func() {
		a.metrics.ObserveMutation(m.Op, time.Since(start), err)
	}()

	switch m.Op {
	case OpCreateGame:
		if m.Game == nil {
			return nil, missing("game")
		}
		if err := m.Game.Validate(); err != nil {
			return nil, err
		}
		if err := a.repo.CreateGame(ctx, m.Game, index); err != nil {
			return nil, err
		}
		a.committed(ctx, m.Game)
		return &MutationResult{Game: m.Game}, nil

	case OpDeleteGame:
		if err := a.repo.DeleteGame(ctx, m.GameID, index); err != nil {
			return nil, err
		}
		a.registry.DeleteGame(m.GameID)
		for _, o := range a.observers {
			o.GameDeleted(ctx, m.GameID)
		}
		return &MutationResult{}, nil
	}

	res = &MutationResult{}
	g, err := a.repo.UpdateGame(ctx, m.GameID, index, func(g *scoring.Game) error {
		return mutate(g, m, res)
	})
	if err != nil {
		if scoring.IsIntegrity(err) {
			log.Printf("[SCORING] Integrity fault in game %s: %v", m.GameID, err)
		}
		return nil, err
	}
	res.Game = g
	a.committed(ctx, g)
	return res, nil
}

func (a *applier) committed(ctx context.Context, g *scoring.Game) {
	a.registry.UpdateGame(summarize(g))
	for _, o := range a.observers {
		o.GameChanged(ctx, g)
	}
}

// mutate applies m to g and records what it created in res.
func mutate(g *scoring.Game, m *GameMutation, res *MutationResult) error {
	switch m.Op {
	case OpRecordAtBat:
		if m.AtBat == nil {
			return missing("atBat")
		}
		ab, err := g.RecordAtBat(*m.AtBat, m.IsTop, m.At)
		if err != nil {
			return err
		}
		res.AtBat = &ab
	case OpDeleteAtBat:
		return g.DeleteAtBat(m.AtBatID, m.At)
	case OpPatchAtBat:
		if m.Patch == nil || m.Patch.Empty() {
			return missing("patch")
		}
		ab, err := g.PatchAtBat(m.AtBatID, *m.Patch, m.At)
		if err != nil {
			return err
		}
		res.AtBat = &ab
	case OpEndGame:
		return g.End(m.At)
	case OpAddPitch:
		if m.Pitch == nil {
			return missing("pitch")
		}
		p, err := g.AddPitch(*m.Pitch, m.At)
		if err != nil {
			return err
		}
		res.Pitch = &p
	case OpUndoPitch:
		return g.UndoPitch(m.At)
	case OpClearPitches:
		return g.ClearPitches(m.At)
	case OpAddOpponentBatter:
		if m.OpponentBatter == nil {
			return missing("opponentBatter")
		}
		b, err := g.AddOpponentBatter(*m.OpponentBatter, m.At)
		if err != nil {
			return err
		}
		res.OpponentBatter = &b
	case OpLoadOpponentBatters:
		added, err := g.LoadOpponentBatters(m.OpponentBatters, m.At)
		if err != nil {
			return err
		}
		res.OpponentBatters = added
	case OpAddOpponentPitcher:
		if m.OpponentPitcher == nil {
			return missing("opponentPitcher")
		}
		p, err := g.AddOpponentPitcher(*m.OpponentPitcher, m.At)
		if err != nil {
			return err
		}
		res.OpponentPitcher = &p
	case OpSetLineup:
		return g.SetLineup(m.Lineup, m.At)
	case OpRecordPitching:
		if m.Pitching == nil {
			return missing("pitching")
		}
		p, err := g.RecordPitching(*m.Pitching, m.At)
		if err != nil {
			return err
		}
		res.Pitching = &p
	case OpUpdatePitching:
		if m.Line == nil {
			return missing("line")
		}
		p, err := g.UpdatePitching(m.AppearanceID, *m.Line, m.At)
		if err != nil {
			return err
		}
		res.Pitching = &p
	default:
		return &scoring.ValidationError{Field: "op", Reason: fmt.Sprintf("unknown mutation %q", m.Op)}
	}
	return nil
}

func (a *applier) applySaveTeam(t *Team, index uint64) error {
	if alreadyApplied(a.teams.LastRaftIndex(t.ID), index) {
		return nil
	}
	t.LastRaftIndex = index
	if err := a.teams.SaveTeam(t); err != nil {
		return err
	}
	a.registry.UpdateTeam(t)
	return nil
}

func (a *applier) applyDeleteTeam(teamId string, index uint64) error {
	if err := a.teams.DeleteTeam(teamId, index); err != nil {
		return err
	}
	a.registry.DeleteTeam(teamId)
	return nil
}

func (a *applier) applyAccessPolicy(policy *UserAccessPolicy) error {
	if a.storage != nil {
		if err := a.storage.SaveDataFile(policyFile, policy); err != nil {
			return fmt.Errorf("failed to save access policy: %w", err)
		}
	}
	a.registry.UpdateAccessPolicy(policy)
	return nil
}

// loadAccessPolicy reads the stored policy into the registry.
func loadAccessPolicy(s *storage.Storage, r *Registry) {
	var policy UserAccessPolicy
	if err := s.ReadDataFile(policyFile, &policy); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Error loading access policy: %v", err)
		}
		return
	}
	r.UpdateAccessPolicy(&policy)
}

// Scorekeeper is the entry point for every operation on games and teams.
// Changes are validated here, completed with ids and timestamps, and then
// applied locally or proposed to the raft cluster.
type Scorekeeper struct {
	repo     GameRepository
	teams    *TeamStore
	registry *Registry
	applier  *applier
	raft     *RaftManager

	now   func() time.Time
	newID func() string
}

// NewScorekeeper wires the service. metrics may be nil.
func NewScorekeeper(repo GameRepository, ts *TeamStore, r *Registry, s *storage.Storage, m *Metrics, observers ...GameObserver) *Scorekeeper {
	return &Scorekeeper{
		repo:     repo,
		teams:    ts,
		registry: r,
		applier: &applier{
			repo:      repo,
			teams:     ts,
			registry:  r,
			storage:   s,
			metrics:   m,
			observers: observers,
		},
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// SetRaft switches the service to clustered mode.
func (s *Scorekeeper) SetRaft(rm *RaftManager) {
	s.raft = rm
}

func (s *Scorekeeper) propose(cmd RaftCommand) (any, error) {
	resp, err := s.raft.Propose(cmd)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Scorekeeper) submit(ctx context.Context, m *GameMutation) (*MutationResult, error) {
	if m.At == 0 {
		m.At = s.now().UnixMilli()
	}
	if s.raft == nil {
		return s.applier.applyGame(ctx, m, 0)
	}
	resp, err := s.propose(RaftCommand{Type: CmdGameMutation, Mutation: m, ID: m.GameID})
	if err != nil {
		return nil, err
	}
	res, ok := resp.(*MutationResult)
	if !ok {
		return nil, fmt.Errorf("unexpected raft response %T", resp)
	}
	return res, nil
}

// NewGameRequest describes a game to schedule.
type NewGameRequest struct {
	TeamID       string `json:"teamId"`
	SeasonID     string `json:"seasonId,omitempty"`
	OpponentName string `json:"opponentName"`
	Date         string `json:"gameDate"`
	Time         string `json:"gameTime,omitempty"`
	Location     string `json:"location,omitempty"`
	IsHome       bool   `json:"isHome"`
	Innings      int    `json:"inningsCount,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// CreateGame schedules a game for a team. The number of innings defaults to
// the team's.
func (s *Scorekeeper) CreateGame(ctx context.Context, ownerId string, req NewGameRequest) (*scoring.Game, error) {
	team, err := s.teams.LoadTeam(req.TeamID)
	if err != nil {
		return nil, err
	}
	if req.SeasonID != "" && !team.HasSeason(req.SeasonID) {
		return nil, &scoring.ValidationError{Field: "seasonId", Reason: fmt.Sprintf("unknown season %s", req.SeasonID)}
	}
	innings := req.Innings
	if innings == 0 {
		innings = team.DefaultInnings
	}
	now := s.now().UnixMilli()
	g := scoring.NewGame(s.newID(), team.ID, normalizeEmail(ownerId), req.OpponentName, req.Date, innings)
	g.SeasonID = req.SeasonID
	g.Time = req.Time
	g.Location = req.Location
	g.IsHome = req.IsHome
	g.Notes = req.Notes
	g.CreatedAt = now
	g.UpdatedAt = now
	if err := g.Validate(); err != nil {
		return nil, err
	}
	res, err := s.submit(ctx, &GameMutation{Op: OpCreateGame, GameID: g.ID, At: now, Game: g})
	if err != nil {
		return nil, err
	}
	return res.Game, nil
}

// Game returns a game.
func (s *Scorekeeper) Game(ctx context.Context, gameId string) (*scoring.Game, error) {
	return s.repo.LoadGame(ctx, gameId)
}

// DeleteGame deletes a game and its log.
func (s *Scorekeeper) DeleteGame(ctx context.Context, gameId string) error {
	if _, err := s.repo.LoadGame(ctx, gameId); err != nil {
		return err
	}
	_, err := s.submit(ctx, &GameMutation{Op: OpDeleteGame, GameID: gameId})
	return err
}

// checkRoster verifies that playerId is on the roster of the game's team.
func (s *Scorekeeper) checkRoster(ctx context.Context, gameId string, playerIds ...string) error {
	summary, ok := s.registry.Summary(ctx, gameId)
	if !ok || summary.Deleted() {
		return notFound("game", gameId)
	}
	team, err := s.teams.LoadTeam(summary.TeamID)
	if err != nil {
		if isNotFound(err) {
			return &scoring.ValidationError{Field: "teamId", Reason: fmt.Sprintf("team %s no longer exists", summary.TeamID)}
		}
		return err
	}
	for _, id := range playerIds {
		if _, ok := team.Player(id); !ok {
			return &scoring.ValidationError{Field: "playerId", Reason: fmt.Sprintf("player %s is not on the roster", id)}
		}
	}
	return nil
}

// RecordAtBat records a plate appearance and returns it with its assigned
// number, along with the updated game. A nil isTop places it in the current
// half-inning.
func (s *Scorekeeper) RecordAtBat(ctx context.Context, gameId string, ab scoring.AtBat, isTop *bool) (scoring.AtBat, *scoring.Game, error) {
	if ab.Batter.IsOurs() {
		if err := s.checkRoster(ctx, gameId, ab.Batter.ID); err != nil {
			return scoring.AtBat{}, nil, err
		}
	}
	ab.ID = s.newID()
	res, err := s.submit(ctx, &GameMutation{Op: OpRecordAtBat, GameID: gameId, AtBat: &ab, IsTop: isTop})
	if err != nil {
		return scoring.AtBat{}, nil, err
	}
	if res.AtBat == nil {
		// Replayed command: the at-bat was recorded by an earlier apply.
		recorded, _ := res.Game.AtBat(ab.ID)
		return recorded, res.Game, nil
	}
	return *res.AtBat, res.Game, nil
}

// DeleteAtBat removes an at-bat and recomputes the game state.
func (s *Scorekeeper) DeleteAtBat(ctx context.Context, gameId, atBatId string) (*scoring.Game, error) {
	res, err := s.submit(ctx, &GameMutation{Op: OpDeleteAtBat, GameID: gameId, AtBatID: atBatId})
	if err != nil {
		return nil, err
	}
	return res.Game, nil
}

// PatchAtBat corrects the counted fields of an at-bat and recomputes the
// game state.
func (s *Scorekeeper) PatchAtBat(ctx context.Context, gameId, atBatId string, p scoring.AtBatPatch) (scoring.AtBat, *scoring.Game, error) {
	res, err := s.submit(ctx, &GameMutation{Op: OpPatchAtBat, GameID: gameId, AtBatID: atBatId, Patch: &p})
	if err != nil {
		return scoring.AtBat{}, nil, err
	}
	ab, _ := res.Game.AtBat(atBatId)
	return ab, res.Game, nil
}

// EndGame marks a game final.
func (s *Scorekeeper) EndGame(ctx context.Context, gameId string) (*scoring.Game, error) {
	res, err := s.submit(ctx, &GameMutation{Op: OpEndGame, GameID: gameId})
	if err != nil {
		return nil, err
	}
	return res.Game, nil
}

// AddPitch appends a pitch to the pending sequence.
func (s *Scorekeeper) AddPitch(ctx context.Context, gameId string, p scoring.Pitch) (scoring.PendingCount, error) {
	res, err := s.submit(ctx, &GameMutation{Op: OpAddPitch, GameID: gameId, Pitch: &p})
	if err != nil {
		return scoring.PendingCount{}, err
	}
	return res.Game.Pending(), nil
}

// UndoPitch removes the last pending pitch.
func (s *Scorekeeper) UndoPitch(ctx context.Context, gameId string) (scoring.PendingCount, error) {
	res, err := s.submit(ctx, &GameMutation{Op: OpUndoPitch, GameID: gameId})
	if err != nil {
		return scoring.PendingCount{}, err
	}
	return res.Game.Pending(), nil
}

// ClearPitches drops the pending sequence.
func (s *Scorekeeper) ClearPitches(ctx context.Context, gameId string) (scoring.PendingCount, error) {
	res, err := s.submit(ctx, &GameMutation{Op: OpClearPitches, GameID: gameId})
	if err != nil {
		return scoring.PendingCount{}, err
	}
	return res.Game.Pending(), nil
}

// AddOpponentBatter registers a batter of the opposing team.
func (s *Scorekeeper) AddOpponentBatter(ctx context.Context, gameId string, b scoring.OpponentBatter) (scoring.OpponentBatter, error) {
	b.ID = s.newID()
	res, err := s.submit(ctx, &GameMutation{Op: OpAddOpponentBatter, GameID: gameId, OpponentBatter: &b})
	if err != nil {
		return scoring.OpponentBatter{}, err
	}
	added, _ := res.Game.OpponentBatterByID(b.ID)
	return added, nil
}

// LoadPreviousOpponentBatters fills the empty opposing batting order of a
// game. It copies the order of the most recent other game of the same team
// against the same opponent. Failing that, it uses the active roster of a
// team visible to userId whose name matches the opponent. Nothing is loaded
// when the game already has opposing batters.
func (s *Scorekeeper) LoadPreviousOpponentBatters(ctx context.Context, userId, gameId string) ([]scoring.OpponentBatter, error) {
	g, err := s.repo.LoadGame(ctx, gameId)
	if err != nil {
		return nil, err
	}
	if len(g.OpponentBatters) > 0 {
		return []scoring.OpponentBatter{}, nil
	}
	batters := s.previousOpponentBatters(ctx, g)
	if len(batters) == 0 {
		batters = s.opponentRoster(userId, g)
	}
	if len(batters) == 0 {
		return []scoring.OpponentBatter{}, nil
	}
	for i := range batters {
		batters[i].ID = s.newID()
		batters[i].OrderInGame = 0
	}
	res, err := s.submit(ctx, &GameMutation{Op: OpLoadOpponentBatters, GameID: gameId, OpponentBatters: batters})
	if err != nil {
		return nil, err
	}
	if res.OpponentBatters == nil {
		return []scoring.OpponentBatter{}, nil
	}
	return res.OpponentBatters, nil
}

func (s *Scorekeeper) previousOpponentBatters(ctx context.Context, g *scoring.Game) []scoring.OpponentBatter {
	games := s.registry.TeamGames(ctx, g.TeamID)
	for _, sum := range slices.Backward(games) {
		if sum.ID == g.ID || !strings.EqualFold(strings.TrimSpace(sum.OpponentName), g.OpponentName) {
			continue
		}
		prev, err := s.repo.LoadGame(ctx, sum.ID)
		if err != nil {
			log.Printf("[ERROR] Load game %s: %v", sum.ID, err)
			continue
		}
		if len(prev.OpponentBatters) == 0 {
			continue
		}
		out := slices.Clone(prev.OpponentBatters)
		slices.SortStableFunc(out, func(a, b scoring.OpponentBatter) int {
			return cmp.Compare(a.OrderInGame, b.OrderInGame)
		})
		return out
	}
	return nil
}

func (s *Scorekeeper) opponentRoster(userId string, g *scoring.Game) []scoring.OpponentBatter {
	for _, meta := range s.registry.ListTeams(userId) {
		if meta.ID == g.TeamID || meta.Status == statusDeleted || !strings.EqualFold(strings.TrimSpace(meta.Name), g.OpponentName) {
			continue
		}
		team, err := s.teams.LoadTeam(meta.ID)
		if err != nil {
			log.Printf("[ERROR] Load team %s: %v", meta.ID, err)
			continue
		}
		var players []Player
		for _, p := range team.Players {
			if p.Active {
				players = append(players, p)
			}
		}
		if len(players) == 0 {
			continue
		}
		slices.SortStableFunc(players, func(a, b Player) int {
			switch {
			case a.Jersey == nil && b.Jersey != nil:
				return 1
			case a.Jersey != nil && b.Jersey == nil:
				return -1
			case a.Jersey != nil && b.Jersey != nil && *a.Jersey != *b.Jersey:
				return cmp.Compare(*a.Jersey, *b.Jersey)
			}
			return cmp.Compare(a.LastName, b.LastName)
		})
		out := make([]scoring.OpponentBatter, 0, len(players))
		for _, p := range players {
			out = append(out, scoring.OpponentBatter{Name: p.DisplayName(), Jersey: p.Jersey, Bats: rosterHand(p.Bats)})
		}
		return out
	}
	return nil
}

// rosterHand maps a free-form roster hand to one a batter accepts.
func rosterHand(v string) string {
	switch v = strings.ToLower(strings.TrimSpace(v)); v {
	case "left", "right", "switch":
		return v
	case "l":
		return "left"
	case "s":
		return "switch"
	}
	return ""
}

// AddOpponentPitcher registers a pitcher of the opposing team.
func (s *Scorekeeper) AddOpponentPitcher(ctx context.Context, gameId string, p scoring.OpponentPitcher) (scoring.OpponentPitcher, error) {
	p.ID = s.newID()
	res, err := s.submit(ctx, &GameMutation{Op: OpAddOpponentPitcher, GameID: gameId, OpponentPitcher: &p})
	if err != nil {
		return scoring.OpponentPitcher{}, err
	}
	added, _ := res.Game.OpponentPitcherByID(p.ID)
	return added, nil
}

// SetLineup replaces our batting order. Every player must be on the roster.
func (s *Scorekeeper) SetLineup(ctx context.Context, gameId string, entries []scoring.LineupEntry) (*scoring.Game, error) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.PlayerID
	}
	if err := s.checkRoster(ctx, gameId, ids...); err != nil {
		return nil, err
	}
	res, err := s.submit(ctx, &GameMutation{Op: OpSetLineup, GameID: gameId, Lineup: entries})
	if err != nil {
		return nil, err
	}
	return res.Game, nil
}

// RecordPitching stores the raw line of one of our pitchers.
func (s *Scorekeeper) RecordPitching(ctx context.Context, gameId string, a scoring.PitchingAppearance) (scoring.PitchingAppearance, error) {
	if err := s.checkRoster(ctx, gameId, a.PlayerID); err != nil {
		return scoring.PitchingAppearance{}, err
	}
	a.ID = s.newID()
	res, err := s.submit(ctx, &GameMutation{Op: OpRecordPitching, GameID: gameId, Pitching: &a})
	if err != nil {
		return scoring.PitchingAppearance{}, err
	}
	return findAppearance(res.Game, a.ID), nil
}

// UpdatePitching replaces the raw line of a pitching appearance.
func (s *Scorekeeper) UpdatePitching(ctx context.Context, gameId, appearanceId string, line scoring.PitchingLine) (scoring.PitchingAppearance, error) {
	res, err := s.submit(ctx, &GameMutation{Op: OpUpdatePitching, GameID: gameId, AppearanceID: appearanceId, Line: &line})
	if err != nil {
		return scoring.PitchingAppearance{}, err
	}
	return findAppearance(res.Game, appearanceId), nil
}

func findAppearance(g *scoring.Game, id string) scoring.PitchingAppearance {
	for _, p := range g.Pitching {
		if p.ID == id {
			return p
		}
	}
	return scoring.PitchingAppearance{}
}

// BoxScore builds the box score of a game with roster names.
func (s *Scorekeeper) BoxScore(ctx context.Context, gameId string) (*scoring.BoxScore, error) {
	g, err := s.repo.LoadGame(ctx, gameId)
	if err != nil {
		return nil, err
	}
	teamName := "Home team"
	var players scoring.PlayerInfo
	if team, err := s.teams.LoadTeam(g.TeamID); err == nil {
		teamName = team.Name
		players = team.PlayerInfo
	}
	return scoring.BuildBoxScore(g, teamName, players)
}

// Team returns a live team.
func (s *Scorekeeper) Team(ctx context.Context, teamId string) (*Team, error) {
	return s.teams.LoadTeam(teamId)
}

// CreateTeam stores a new team owned by ownerId.
func (s *Scorekeeper) CreateTeam(ctx context.Context, ownerId string, t Team) (*Team, error) {
	t.ID = s.newID()
	t.OwnerID = ownerId
	t.Status = ""
	t.DeletedAt = 0
	return s.saveTeam(t)
}

// UpdateTeam replaces the name, roster, seasons and roles of a team. The id
// and the owner cannot change.
func (s *Scorekeeper) UpdateTeam(ctx context.Context, teamId string, t Team) (*Team, error) {
	existing, err := s.teams.LoadTeam(teamId)
	if err != nil {
		return nil, err
	}
	t.ID = existing.ID
	t.OwnerID = existing.OwnerID
	t.Status = ""
	t.DeletedAt = 0
	return s.saveTeam(t)
}

func (s *Scorekeeper) saveTeam(t Team) (*Team, error) {
	for i := range t.Players {
		if t.Players[i].ID == "" {
			t.Players[i].ID = s.newID()
		}
	}
	for i := range t.Seasons {
		if t.Seasons[i].ID == "" {
			t.Seasons[i].ID = s.newID()
		}
	}
	t.normalize()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.UpdatedAt = s.now().UnixMilli()
	t.LastRaftIndex = 0

	if s.raft == nil {
		if err := s.applier.applySaveTeam(&t, 0); err != nil {
			return nil, err
		}
		return &t, nil
	}
	if _, err := s.propose(RaftCommand{Type: CmdSaveTeam, TeamData: &t, ID: t.ID}); err != nil {
		return nil, err
	}
	return s.teams.LoadTeam(t.ID)
}

// DeleteTeam deletes a team. Its games are kept and stay visible to their
// owners.
func (s *Scorekeeper) DeleteTeam(ctx context.Context, teamId string) error {
	if _, err := s.teams.LoadTeam(teamId); err != nil {
		return err
	}
	if s.raft == nil {
		return s.applier.applyDeleteTeam(teamId, 0)
	}
	_, err := s.propose(RaftCommand{Type: CmdDeleteTeam, ID: teamId})
	return err
}

// UpdateAccessPolicy replaces the global access policy.
func (s *Scorekeeper) UpdateAccessPolicy(ctx context.Context, policy *UserAccessPolicy) error {
	if s.raft == nil {
		return s.applier.applyAccessPolicy(policy)
	}
	_, err := s.propose(RaftCommand{Type: CmdUpdateAccessPolicy, PolicyData: policy})
	return err
}

// isNotFound reports whether err means the entity does not exist.
func isNotFound(err error) bool {
	return errors.Is(err, scoring.ErrNotFound)
}
