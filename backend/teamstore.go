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
	"fmt"
	"iter"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/ttbt-io/statkeeper/backend/scoring"
)

// TeamRoles defines the members of a team by their role.
type TeamRoles struct {
	Admins       []string `json:"admins"`
	Scorekeepers []string `json:"scorekeepers"`
	Spectators   []string `json:"spectators"`
}

func (r *TeamRoles) normalize() {
	norm := func(list []string) []string {
		out := make([]string, 0, len(list))
		for _, u := range list {
			if u = normalizeEmail(u); u != "" {
				out = append(out, u)
			}
		}
		return out
	}
	r.Admins = norm(r.Admins)
	r.Scorekeepers = norm(r.Scorekeepers)
	r.Spectators = norm(r.Spectators)
}

// Player is a member of the team roster.
type Player struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Jersey    *int   `json:"jerseyNumber,omitempty"`
	Bats      string `json:"bats,omitempty"`
	Throws    string `json:"throws,omitempty"`
	Position  string `json:"position,omitempty"`
	Active    bool   `json:"active"`
}

// DisplayName returns "First Last".
func (p Player) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Season is a named date range games can be attached to.
type Season struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	Active    bool   `json:"active"`
}

// Team represents a persistent team roster and its permissions.
type Team struct {
	ID             string    `json:"id"`
	SchemaVersion  int       `json:"schemaVersion"`
	Name           string    `json:"name"`
	Level          string    `json:"level,omitempty"`
	DefaultInnings int       `json:"defaultInnings"`
	OwnerID        string    `json:"ownerId"`
	Roles          TeamRoles `json:"roles"`
	Players        []Player  `json:"players"`
	Seasons        []Season  `json:"seasons"`
	UpdatedAt      int64     `json:"updatedAt,omitempty"`

	// Status can be "active" (default/empty) or "deleted"
	Status string `json:"status,omitempty"`
	// DeletedAt is the timestamp (Unix Nano) when the team was deleted.
	DeletedAt int64 `json:"deletedAt,omitempty"`

	// LastRaftIndex is the index of the last raft entry applied to this team.
	LastRaftIndex uint64 `json:"lastRaftIndex,omitempty"`
}

func (t *Team) normalize() {
	if t.SchemaVersion == 0 {
		t.SchemaVersion = CurrentSchemaVersion
	}
	if t.DefaultInnings == 0 {
		t.DefaultInnings = scoring.DefaultInnings
	}
	if t.Players == nil {
		t.Players = make([]Player, 0)
	}
	if t.Seasons == nil {
		t.Seasons = make([]Season, 0)
	}
	t.OwnerID = normalizeEmail(t.OwnerID)
	t.Roles.normalize()
}

// Validate checks a team submitted by a client.
func (t *Team) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return &scoring.ValidationError{Field: "name", Reason: "required"}
	}
	if t.DefaultInnings < 1 || t.DefaultInnings > 20 {
		return &scoring.ValidationError{Field: "defaultInnings", Reason: "must be between 1 and 20"}
	}
	seen := make(map[string]bool)
	for _, p := range t.Players {
		if p.ID == "" || seen[p.ID] {
			return &scoring.ValidationError{Field: "players", Reason: fmt.Sprintf("missing or duplicate player id %q", p.ID)}
		}
		seen[p.ID] = true
		if p.DisplayName() == "" {
			return &scoring.ValidationError{Field: "players", Reason: fmt.Sprintf("player %s has no name", p.ID)}
		}
		if p.Jersey != nil && (*p.Jersey < 0 || *p.Jersey > 99) {
			return &scoring.ValidationError{Field: "jerseyNumber", Reason: "must be between 0 and 99"}
		}
	}
	seen = make(map[string]bool)
	for _, s := range t.Seasons {
		if s.ID == "" || seen[s.ID] {
			return &scoring.ValidationError{Field: "seasons", Reason: fmt.Sprintf("missing or duplicate season id %q", s.ID)}
		}
		seen[s.ID] = true
	}
	return nil
}

// Player looks up a roster entry.
func (t *Team) Player(id string) (Player, bool) {
	for _, p := range t.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// HasSeason reports whether the team has a season with the given id.
func (t *Team) HasSeason(id string) bool {
	for _, s := range t.Seasons {
		if s.ID == id {
			return true
		}
	}
	return false
}

// PlayerInfo resolves roster names for box scores.
func (t *Team) PlayerInfo(id string) (string, *int) {
	if p, ok := t.Player(id); ok {
		return p.DisplayName(), p.Jersey
	}
	return "", nil
}

// TeamStore manages team persistence to disk.
type TeamStore struct {
	DataDir string
	storage *storage.Storage
	mu      sync.Map // *sync.Mutex per team id
}

// NewTeamStore creates a new TeamStore.
func NewTeamStore(dataDir string, s *storage.Storage) *TeamStore {
	return &TeamStore{
		DataDir: dataDir,
		storage: s,
	}
}

func (ts *TeamStore) lock(teamId string) *sync.Mutex {
	m, _ := ts.mu.LoadOrStore(teamId, &sync.Mutex{})
	return m.(*sync.Mutex)
}

func teamFile(teamId string) string {
	return filepath.Join("teams", fmt.Sprintf("%s.json", url.PathEscape(teamId)))
}

// SaveTeam saves the team data atomically.
func (ts *TeamStore) SaveTeam(team *Team) error {
	mutex := ts.lock(team.ID)
	mutex.Lock()
	defer mutex.Unlock()

	team.normalize()
	if err := ts.storage.SaveDataFile(teamFile(team.ID), team); err != nil {
		return fmt.Errorf("storage.SaveDataFile: %w", err)
	}
	return nil
}

// read returns the stored record, tombstones included.
func (ts *TeamStore) read(teamId string) (*Team, error) {
	var t Team
	if err := ts.storage.ReadDataFile(teamFile(teamId), &t); err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("ReadDataFile: %w", err)
	}
	t.normalize()
	return &t, nil
}

// LoadTeam loads a live team by id.
func (ts *TeamStore) LoadTeam(teamId string) (*Team, error) {
	t, err := ts.read(teamId)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("team", teamId)
		}
		return nil, err
	}
	if t.Status == statusDeleted {
		return nil, notFound("team", teamId)
	}
	return t, nil
}

// LastRaftIndex returns the index recorded on a team, or zero.
func (ts *TeamStore) LastRaftIndex(teamId string) uint64 {
	t, err := ts.read(teamId)
	if err != nil {
		return 0
	}
	return t.LastRaftIndex
}

// TeamMetadata contains only the fields needed for indexing.
type TeamMetadata struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	Roles     TeamRoles `json:"roles"`
	UpdatedAt int64     `json:"updatedAt"`
	Status    string    `json:"status"`
	DeletedAt int64     `json:"deletedAt"`
}

// Metadata returns the indexed fields of the team.
func (t *Team) Metadata() TeamMetadata {
	return TeamMetadata{
		ID:        t.ID,
		Name:      t.Name,
		OwnerID:   t.OwnerID,
		Roles:     t.Roles,
		UpdatedAt: t.UpdatedAt,
		Status:    t.Status,
		DeletedAt: t.DeletedAt,
	}
}

// ListAllTeamIDs returns the ids of all stored teams, tombstones included.
func (ts *TeamStore) ListAllTeamIDs() ([]string, error) {
	files, err := os.ReadDir(filepath.Join(ts.DataDir, "teams"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read teams directory: %w", err)
	}
	var ids []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if encoded, ok := strings.CutSuffix(file.Name(), ".json"); ok {
			if id, err := url.PathUnescape(encoded); err == nil {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// ListAllTeamMetadata returns an iterator over metadata for all teams,
// tombstones included.
func (ts *TeamStore) ListAllTeamMetadata() iter.Seq2[TeamMetadata, error] {
	return func(yield func(TeamMetadata, error) bool) {
		ids, err := ts.ListAllTeamIDs()
		if err != nil {
			yield(TeamMetadata{}, err)
			return
		}
		for _, id := range ids {
			t, err := ts.read(id)
			if err != nil {
				log.Printf("Warning: could not load team '%s': %v", id, err)
				continue
			}
			if !yield(t.Metadata(), nil) {
				return
			}
		}
	}
}

// ListAllTeams returns an iterator over all live teams.
func (ts *TeamStore) ListAllTeams() iter.Seq2[*Team, error] {
	return func(yield func(*Team, error) bool) {
		ids, err := ts.ListAllTeamIDs()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, id := range ids {
			t, err := ts.LoadTeam(id)
			if err != nil {
				if !isNotFound(err) {
					log.Printf("Warning: could not load team '%s': %v", id, err)
				}
				continue
			}
			if !yield(t, nil) {
				return
			}
		}
	}
}

// DeleteTeam deletes a specific team by overwriting it with a tombstone.
func (ts *TeamStore) DeleteTeam(teamId string, index uint64) error {
	t, err := ts.LoadTeam(teamId)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}

	mutex := ts.lock(teamId)
	mutex.Lock()
	defer mutex.Unlock()

	tombstone := &Team{
		ID:            teamId,
		SchemaVersion: CurrentSchemaVersion,
		OwnerID:       t.OwnerID,
		Status:        statusDeleted,
		DeletedAt:     time.Now().UnixNano(),
		LastRaftIndex: max(t.LastRaftIndex, index),
	}
	if err := ts.storage.SaveDataFile(teamFile(teamId), tombstone); err != nil {
		return fmt.Errorf("storage.SaveDataFile (tombstone): %w", err)
	}
	return nil
}

// PurgeTeam permanently deletes the team file.
func (ts *TeamStore) PurgeTeam(teamId string) error {
	mutex := ts.lock(teamId)
	mutex.Lock()
	defer mutex.Unlock()

	if err := os.Remove(filepath.Join(ts.DataDir, teamFile(teamId))); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("could not purge team file: %w", err)
	}
	return nil
}
