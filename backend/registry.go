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
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const tombstoneTTL = 30 * 24 * time.Hour
const gcInterval = 12 * time.Hour

// Registry is the in-memory index of teams and games. It answers access,
// quota and listing questions without loading at-bat logs. It is rebuilt
// from the stores at startup and after a snapshot restore.
type Registry struct {
	repo      GameRepository
	teamStore *TeamStore

	mu sync.RWMutex

	// Team metadata, tombstones included.
	teams map[string]TeamMetadata
	// Game ids by team id.
	teamGames map[string]map[string]bool
	// Game owner by game id, live games only.
	gameOwners map[string]string

	// Summary cache. Misses fall back to the repository.
	summaries *lru.Cache[string, GameSummary]

	accessPolicy *UserAccessPolicy

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a Registry and indexes the stores.
func NewRegistry(repo GameRepository, ts *TeamStore) *Registry {
	cache, _ := lru.New[string, GameSummary](5000)
	r := &Registry{
		repo:       repo,
		teamStore:  ts,
		teams:      make(map[string]TeamMetadata),
		teamGames:  make(map[string]map[string]bool),
		gameOwners: make(map[string]string),
		summaries:  cache,
		stopChan:   make(chan struct{}),
	}
	r.Rebuild(context.Background())
	return r
}

// StartGC starts the background tombstone garbage collector.
func (r *Registry) StartGC() {
	go func() {
		ticker := time.NewTicker(gcInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.PurgeOldTombstones(context.Background())
			case <-r.stopChan:
				return
			}
		}
	}()
}

// StopGC stops the background tombstone garbage collector.
func (r *Registry) StopGC() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
}

// PurgeOldTombstones permanently deletes tombstones older than tombstoneTTL.
func (r *Registry) PurgeOldTombstones(ctx context.Context) {
	cutoff := time.Now().Add(-tombstoneTTL).UnixNano()
	var purgedTeams, purgedGames int

	for t, err := range r.teamStore.ListAllTeamMetadata() {
		if err != nil {
			break
		}
		if t.Status == statusDeleted && t.DeletedAt > 0 && t.DeletedAt < cutoff {
			if err := r.teamStore.PurgeTeam(t.ID); err == nil {
				purgedTeams++
				r.mu.Lock()
				delete(r.teams, t.ID)
				r.mu.Unlock()
			}
		}
	}

	if purger, ok := r.repo.(gamePurger); ok {
		for s, err := range r.repo.ListGameSummaries(ctx) {
			if err != nil {
				break
			}
			if s.Deleted() && s.DeletedAt < cutoff {
				if err := purger.PurgeGame(s.ID); err == nil {
					purgedGames++
					r.summaries.Remove(s.ID)
				}
			}
		}
	}

	if purgedTeams > 0 || purgedGames > 0 {
		log.Printf("Registry: GC complete. Purged %d games, %d teams.", purgedGames, purgedTeams)
	}
}

// UpdateAccessPolicy updates the cached access policy.
func (r *Registry) UpdateAccessPolicy(policy *UserAccessPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accessPolicy = policy
}

// GetAccessPolicy returns the current access policy, or nil when none is set.
func (r *Registry) GetAccessPolicy() *UserAccessPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accessPolicy
}

// Rebuild reconstructs the index by scanning the stores.
func (r *Registry) Rebuild(ctx context.Context) {
	teams := make(map[string]TeamMetadata)
	for t, err := range r.teamStore.ListAllTeamMetadata() {
		if err != nil {
			log.Printf("Registry: Error listing teams: %v", err)
			break
		}
		teams[t.ID] = t
	}

	teamGames := make(map[string]map[string]bool)
	owners := make(map[string]string)
	r.summaries.Purge()
	for s, err := range r.repo.ListGameSummaries(ctx) {
		if err != nil {
			log.Printf("Registry: Error listing games: %v", err)
			break
		}
		r.summaries.Add(s.ID, s)
		if s.Deleted() {
			continue
		}
		owners[s.ID] = s.OwnerID
		if teamGames[s.TeamID] == nil {
			teamGames[s.TeamID] = make(map[string]bool)
		}
		teamGames[s.TeamID][s.ID] = true
	}

	r.mu.Lock()
	r.teams = teams
	r.teamGames = teamGames
	r.gameOwners = owners
	r.mu.Unlock()

	log.Printf("Registry: Rebuild complete. Indexed %d games, %d teams.", len(owners), len(teams))
}

// UpdateTeam indexes a saved team.
func (r *Registry) UpdateTeam(t *Team) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teams[t.ID] = t.Metadata()
}

// DeleteTeam marks a team deleted. Its games stay indexed under their
// owners.
func (r *Registry) DeleteTeam(teamId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.teams[teamId]
	m.ID = teamId
	m.Status = statusDeleted
	m.DeletedAt = time.Now().UnixNano()
	r.teams[teamId] = m
}

// UpdateGame indexes the summary of a created or mutated game.
func (r *Registry) UpdateGame(s GameSummary) {
	r.summaries.Add(s.ID, s)
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Deleted() {
		r.removeGameLocked(s.ID)
		return
	}
	r.gameOwners[s.ID] = s.OwnerID
	if r.teamGames[s.TeamID] == nil {
		r.teamGames[s.TeamID] = make(map[string]bool)
	}
	r.teamGames[s.TeamID][s.ID] = true
}

// DeleteGame removes a game from the index.
func (r *Registry) DeleteGame(gameId string) {
	if s, ok := r.summaries.Peek(gameId); ok {
		s.DeletedAt = time.Now().UnixNano()
		r.summaries.Add(gameId, s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeGameLocked(gameId)
}

func (r *Registry) removeGameLocked(gameId string) {
	delete(r.gameOwners, gameId)
	for _, games := range r.teamGames {
		delete(games, gameId)
	}
}

// Team returns the metadata of a team, tombstones included.
func (r *Registry) Team(teamId string) (TeamMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.teams[teamId]
	return t, ok
}

// TeamExists reports whether a live team has the given id.
func (r *Registry) TeamExists(teamId string) bool {
	t, ok := r.Team(teamId)
	return ok && t.Status != statusDeleted
}

// Summary returns the summary of a game, tombstones included.
func (r *Registry) Summary(ctx context.Context, gameId string) (GameSummary, bool) {
	if s, ok := r.summaries.Get(gameId); ok {
		return s, true
	}
	g, err := r.repo.LoadGame(ctx, gameId)
	if err != nil {
		return GameSummary{}, false
	}
	s := summarize(g)
	r.summaries.Add(gameId, s)
	return s, true
}

// GetTeamAccess returns the access level of a user on a team.
func (r *Registry) GetTeamAccess(userId, teamId string) AccessLevel {
	t, ok := r.Team(teamId)
	if !ok {
		return AccessNone
	}
	return GetTeamAccess(userId, t)
}

// GetGameAccess returns the access level of a user on a game.
func (r *Registry) GetGameAccess(ctx context.Context, userId, gameId string) AccessLevel {
	s, ok := r.Summary(ctx, gameId)
	if !ok {
		return AccessNone
	}
	var team *TeamMetadata
	if t, ok := r.Team(s.TeamID); ok {
		team = &t
	}
	return GetGameAccess(userId, s, team)
}

// CountOwnedGames returns the number of live games owned by a user.
func (r *Registry) CountOwnedGames(userId string) int {
	userId = normalizeEmail(userId)
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, owner := range r.gameOwners {
		if owner == userId {
			n++
		}
	}
	return n
}

// CountOwnedTeams returns the number of live teams owned by a user.
func (r *Registry) CountOwnedTeams(userId string) int {
	userId = normalizeEmail(userId)
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.teams {
		if t.Status != statusDeleted && t.OwnerID == userId {
			n++
		}
	}
	return n
}

// CountTotalGames returns the number of live games.
func (r *Registry) CountTotalGames() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.gameOwners)
}

// CountTotalTeams returns the number of live teams.
func (r *Registry) CountTotalTeams() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.teams {
		if t.Status != statusDeleted {
			n++
		}
	}
	return n
}

// ListTeams returns the live teams a user can read, by name.
func (r *Registry) ListTeams(userId string) []TeamMetadata {
	r.mu.RLock()
	var out []TeamMetadata
	for _, t := range r.teams {
		if GetTeamAccess(userId, t) >= AccessRead {
			out = append(out, t)
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b TeamMetadata) int {
		return cmp.Or(cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// TeamGames returns the summaries of the live games of a team in date order.
func (r *Registry) TeamGames(ctx context.Context, teamId string) []GameSummary {
	r.mu.RLock()
	ids := make([]string, 0, len(r.teamGames[teamId]))
	for id := range r.teamGames[teamId] {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]GameSummary, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.Summary(ctx, id); ok && !s.Deleted() {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b GameSummary) int {
		return cmp.Or(cmp.Compare(a.Date, b.Date), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// ListGames returns the games of a team that match a filter query, sorted by
// "date" (default, newest first) or "opponent".
func (r *Registry) ListGames(ctx context.Context, teamId, sortBy, order, query string) ([]GameSummary, error) {
	c, err := parseQuery(query)
	if err != nil {
		return nil, err
	}
	if sortBy == "" {
		sortBy = "date"
	}
	if order == "" {
		order = "asc"
		if sortBy == "date" {
			order = "desc"
		}
	}

	games := slices.DeleteFunc(r.TeamGames(ctx, teamId), func(s GameSummary) bool {
		return !c.MatchOpponent(s.OpponentName) || !c.MatchDate(s.Date) ||
			(c.SeasonID != "" && s.SeasonID != c.SeasonID)
	})
	slices.SortStableFunc(games, func(a, b GameSummary) int {
		var n int
		switch sortBy {
		case "opponent":
			n = cmp.Compare(strings.ToLower(a.OpponentName), strings.ToLower(b.OpponentName))
		default:
			n = cmp.Compare(a.Date, b.Date)
		}
		n = cmp.Or(n, cmp.Compare(a.ID, b.ID))
		if order == "desc" {
			return -n
		}
		return n
	})
	return games, nil
}
