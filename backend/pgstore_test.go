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
	"os"
	"testing"

	"github.com/c2FmZQ/storage"
	"github.com/google/uuid"
	"github.com/ttbt-io/statkeeper/backend/scoring"
)

// testRepositoryContract checks the behavior every GameRepository shares.
func testRepositoryContract(t *testing.T, repo GameRepository) {
	ctx := context.Background()
	gameId := uuid.NewString()

	g := newStoredGame(gameId)
	if err := repo.CreateGame(ctx, g, 10); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if err := repo.CreateGame(ctx, newStoredGame(gameId), 0); !errors.Is(err, ErrGameExists) {
		t.Errorf("duplicate CreateGame: got %v, want ErrGameExists", err)
	}

	loaded, err := repo.LoadGame(ctx, gameId)
	if err != nil {
		t.Fatalf("LoadGame: %v", err)
	}
	if loaded.OpponentName != "Tigers" || loaded.Date != "2025-05-01" {
		t.Errorf("LoadGame = %+v", loaded)
	}

	record := func(g *scoring.Game) error {
		_, err := g.RecordAtBat(scoring.AtBat{ID: uuid.NewString(), Batter: scoring.OurBatter("p1"), Result: scoring.Single}, nil, 2000)
		return err
	}
	for _, index := range []uint64{11, 11, 9} {
		if _, err := repo.UpdateGame(ctx, gameId, index, record); err != nil {
			t.Fatalf("UpdateGame(%d): %v", index, err)
		}
	}
	loaded, _ = repo.LoadGame(ctx, gameId)
	if len(loaded.AtBats) != 1 || loaded.State.Status != scoring.StatusInProgress {
		t.Errorf("after updates: %d at-bats, status %s", len(loaded.AtBats), loaded.State.Status)
	}
	if _, err := repo.UpdateGame(ctx, uuid.NewString(), 0, record); !errors.Is(err, scoring.ErrNotFound) {
		t.Errorf("UpdateGame of missing game: got %v, want ErrNotFound", err)
	}

	live := func() bool {
		for s, err := range repo.ListGameSummaries(ctx) {
			if err != nil {
				t.Fatalf("ListGameSummaries: %v", err)
			}
			if s.ID == gameId && !s.Deleted() {
				if s.Status != scoring.StatusInProgress {
					t.Errorf("summary status = %s", s.Status)
				}
				return true
			}
		}
		return false
	}
	if !live() {
		t.Error("game not listed")
	}

	if err := repo.DeleteGame(ctx, gameId, 12); err != nil {
		t.Fatalf("DeleteGame: %v", err)
	}
	if _, err := repo.LoadGame(ctx, gameId); !errors.Is(err, scoring.ErrNotFound) {
		t.Errorf("LoadGame after delete: got %v, want ErrNotFound", err)
	}
	if live() {
		t.Error("deleted game still listed")
	}
}

func TestGameStoreContract(t *testing.T) {
	tempDir := t.TempDir()
	testRepositoryContract(t, NewGameStore(tempDir, storage.New(tempDir, nil)))
}

func TestPostgresGameStore(t *testing.T) {
	dsn := os.Getenv("SK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SK_TEST_POSTGRES_DSN not set")
	}
	repo, err := NewPostgresGameStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("NewPostgresGameStore: %v", err)
	}
	defer repo.Close()
	testRepositoryContract(t, repo)
}
