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

// storedGame is the on-disk record of a game. A deleted game keeps its
// record as a tombstone until the registry purges it.
type storedGame struct {
	ID            string        `json:"id"`
	SchemaVersion int           `json:"schemaVersion"`
	LastRaftIndex uint64        `json:"lastRaftIndex,omitempty"`
	Status        string        `json:"status,omitempty"`
	DeletedAt     int64         `json:"deletedAt,omitempty"`
	TeamID        string        `json:"teamId,omitempty"`
	OwnerID       string        `json:"ownerId,omitempty"`
	Game          *scoring.Game `json:"game,omitempty"`
}

func (sg *storedGame) deleted() bool {
	return sg.Status == statusDeleted || sg.Game == nil
}

func (sg *storedGame) summary() GameSummary {
	if sg.deleted() {
		return GameSummary{ID: sg.ID, TeamID: sg.TeamID, OwnerID: sg.OwnerID, DeletedAt: sg.DeletedAt}
	}
	return summarize(sg.Game)
}

// gameMeta is the sidecar written next to each game so that the registry can
// be rebuilt without reading at-bat logs.
type gameMeta struct {
	GameSummary
	LastRaftIndex uint64 `json:"lastRaftIndex,omitempty"`
}

// GameStore is the encrypted file implementation of GameRepository.
type GameStore struct {
	DataDir string
	Debug   bool
	storage *storage.Storage
	mu      sync.Map // *sync.RWMutex per game id
}

// NewGameStore creates a new GameStore.
func NewGameStore(dataDir string, s *storage.Storage) *GameStore {
	return &GameStore{
		DataDir: dataDir,
		storage: s,
	}
}

var _ GameRepository = (*GameStore)(nil)

func (gs *GameStore) lock(gameId string) *sync.RWMutex {
	m, _ := gs.mu.LoadOrStore(gameId, &sync.RWMutex{})
	return m.(*sync.RWMutex)
}

func gameFiles(gameId string) (filename, metaFilename string) {
	encodedGameId := url.PathEscape(gameId)
	return filepath.Join("games", fmt.Sprintf("%s.json", encodedGameId)),
		filepath.Join("games", fmt.Sprintf("%s.meta.json", encodedGameId))
}

// read loads the record of a game. The caller holds the game's lock.
func (gs *GameStore) read(gameId string) (*storedGame, error) {
	filename, _ := gameFiles(gameId)
	var sg storedGame
	if err := gs.storage.ReadDataFile(filename, &sg); err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("ReadDataFile: %w", err)
	}
	if sg.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("game %s has schema version %d, newer than %d", gameId, sg.SchemaVersion, CurrentSchemaVersion)
	}
	return &sg, nil
}

// write replaces the record of a game. The caller holds the game's write
// lock. The sidecar is advisory: a failure to write it is logged and the
// registry falls back to the main record.
func (gs *GameStore) write(sg *storedGame) error {
	sg.SchemaVersion = CurrentSchemaVersion
	filename, metaFilename := gameFiles(sg.ID)
	if err := gs.storage.SaveDataFile(filename, sg); err != nil {
		return fmt.Errorf("storage.SaveDataFile: %w", err)
	}
	meta := gameMeta{GameSummary: sg.summary(), LastRaftIndex: sg.LastRaftIndex}
	if err := gs.storage.SaveDataFile(metaFilename, &meta); err != nil {
		log.Printf("Warning: Failed to save metadata sidecar for game %s: %v", sg.ID, err)
	}
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, scoring.ErrNotFound)
}

// CreateGame stores a new game.
func (gs *GameStore) CreateGame(ctx context.Context, g *scoring.Game, index uint64) error {
	mutex := gs.lock(g.ID)
	mutex.Lock()
	defer mutex.Unlock()

	existing, err := gs.read(g.ID)
	switch {
	case err == nil && alreadyApplied(existing.LastRaftIndex, index):
		return nil
	case err == nil && !existing.deleted():
		return fmt.Errorf("game %s: %w", g.ID, ErrGameExists)
	case err != nil && !os.IsNotExist(err):
		return err
	}
	return gs.write(&storedGame{ID: g.ID, LastRaftIndex: index, Game: g})
}

// LoadGame loads a game by id.
func (gs *GameStore) LoadGame(ctx context.Context, gameId string) (*scoring.Game, error) {
	mutex := gs.lock(gameId)
	mutex.RLock()
	defer mutex.RUnlock()

	sg, err := gs.read(gameId)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("game", gameId)
		}
		return nil, err
	}
	if sg.deleted() {
		return nil, notFound("game", gameId)
	}
	if gs.Debug {
		log.Printf("[STORE] Loaded game %s (%d at-bats)", gameId, len(sg.Game.AtBats))
	}
	return sg.Game, nil
}

// UpdateGame applies fn to the stored game under its write lock.
func (gs *GameStore) UpdateGame(ctx context.Context, gameId string, index uint64, fn func(*scoring.Game) error) (*scoring.Game, error) {
	mutex := gs.lock(gameId)
	mutex.Lock()
	defer mutex.Unlock()

	sg, err := gs.read(gameId)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("game", gameId)
		}
		return nil, err
	}
	if sg.deleted() {
		return nil, notFound("game", gameId)
	}
	if alreadyApplied(sg.LastRaftIndex, index) {
		return sg.Game, nil
	}

	work := sg.Game.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	sg.Game = work
	sg.LastRaftIndex = max(sg.LastRaftIndex, index)
	if err := gs.write(sg); err != nil {
		return nil, err
	}
	return work, nil
}

// PutGame overwrites a game record.
func (gs *GameStore) PutGame(ctx context.Context, g *scoring.Game, index uint64) error {
	mutex := gs.lock(g.ID)
	mutex.Lock()
	defer mutex.Unlock()
	return gs.write(&storedGame{ID: g.ID, LastRaftIndex: index, Game: g})
}

// DeleteGame replaces a game with a tombstone. Deleting a missing game is
// not an error.
func (gs *GameStore) DeleteGame(ctx context.Context, gameId string, index uint64) error {
	mutex := gs.lock(gameId)
	mutex.Lock()
	defer mutex.Unlock()

	sg, err := gs.read(gameId)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if sg.deleted() || alreadyApplied(sg.LastRaftIndex, index) {
		return nil
	}
	tombstone := &storedGame{
		ID:            gameId,
		LastRaftIndex: max(sg.LastRaftIndex, index),
		Status:        statusDeleted,
		DeletedAt:     time.Now().UnixNano(),
		TeamID:        sg.Game.TeamID,
		OwnerID:       sg.Game.OwnerID,
	}
	if err := gs.write(tombstone); err != nil {
		return fmt.Errorf("tombstone: %w", err)
	}
	return nil
}

// PurgeGame permanently deletes the game files.
func (gs *GameStore) PurgeGame(gameId string) error {
	mutex := gs.lock(gameId)
	mutex.Lock()
	defer mutex.Unlock()

	filename, metaFilename := gameFiles(gameId)
	if err := os.Remove(filepath.Join(gs.DataDir, filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not purge game file: %w", err)
	}
	if err := os.Remove(filepath.Join(gs.DataDir, metaFilename)); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not purge meta file for game %s: %v", gameId, err)
	}
	return nil
}

// scan lists the ids found in the games directory, split by whether a
// sidecar exists.
func (gs *GameStore) scan() (ids []string, hasMeta map[string]bool, err error) {
	files, err := os.ReadDir(filepath.Join(gs.DataDir, "games"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("could not read games directory: %w", err)
	}
	hasMeta = make(map[string]bool)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		name := file.Name()
		if encoded, ok := strings.CutSuffix(name, ".meta.json"); ok {
			if id, err := url.PathUnescape(encoded); err == nil {
				hasMeta[id] = true
			}
			continue
		}
		if encoded, ok := strings.CutSuffix(name, ".json"); ok {
			if id, err := url.PathUnescape(encoded); err == nil {
				ids = append(ids, id)
			}
		}
	}
	return ids, hasMeta, nil
}

// ListAllGameIDs returns the ids of all stored records, tombstones included.
func (gs *GameStore) ListAllGameIDs() ([]string, error) {
	ids, _, err := gs.scan()
	return ids, err
}

// ListGameSummaries returns the summaries of all records, tombstones
// included. Sidecars are used when present.
func (gs *GameStore) ListGameSummaries(ctx context.Context) iter.Seq2[GameSummary, error] {
	return func(yield func(GameSummary, error) bool) {
		ids, hasMeta, err := gs.scan()
		if err != nil {
			yield(GameSummary{}, err)
			return
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				yield(GameSummary{}, ctx.Err())
				return
			}
			if hasMeta[id] {
				_, metaFilename := gameFiles(id)
				var meta gameMeta
				err := gs.storage.ReadDataFile(metaFilename, &meta)
				if err == nil {
					if !yield(meta.GameSummary, nil) {
						return
					}
					continue
				}
				log.Printf("Registry Warning: failed to load metadata for %s: %v. Falling back to main file.", id, err)
			}
			mutex := gs.lock(id)
			mutex.RLock()
			sg, err := gs.read(id)
			mutex.RUnlock()
			if err != nil {
				log.Printf("Registry Warning: failed to load game %s from disk: %v", id, err)
				continue
			}
			if !yield(sg.summary(), nil) {
				return
			}
		}
	}
}

// ListAllGames returns every live game.
func (gs *GameStore) ListAllGames(ctx context.Context) iter.Seq2[*scoring.Game, error] {
	return func(yield func(*scoring.Game, error) bool) {
		ids, _, err := gs.scan()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, id := range ids {
			g, err := gs.LoadGame(ctx, id)
			if err != nil {
				if !isNotFound(err) {
					log.Printf("Warning: could not load game '%s': %v", id, err)
				}
				continue
			}
			if !yield(g, nil) {
				return
			}
		}
	}
}

// Close implements GameRepository.
func (gs *GameStore) Close() error {
	return nil
}
