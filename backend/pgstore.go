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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/lib/pq"
	"github.com/ttbt-io/statkeeper/backend/scoring"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS games (
	id              TEXT PRIMARY KEY,
	team_id         TEXT NOT NULL,
	season_id       TEXT NOT NULL DEFAULT '',
	owner_id        TEXT NOT NULL,
	opponent_name   TEXT NOT NULL,
	game_date       TEXT NOT NULL,
	is_home         BOOLEAN NOT NULL DEFAULT FALSE,
	status          TEXT NOT NULL,
	our_score       INTEGER NOT NULL DEFAULT 0,
	opponent_score  INTEGER NOT NULL DEFAULT 0,
	last_raft_index BIGINT NOT NULL DEFAULT 0,
	updated_at      BIGINT NOT NULL DEFAULT 0,
	data            JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS games_team_id_idx ON games (team_id);
`

const pgUniqueViolation = "23505"

// PostgresGameStore is the PostgreSQL implementation of GameRepository. The
// aggregate is stored as JSONB next to the summary columns used for
// indexing.
type PostgresGameStore struct {
	db *sql.DB
}

var _ GameRepository = (*PostgresGameStore)(nil)

// NewPostgresGameStore connects to dsn and creates the schema if needed.
func NewPostgresGameStore(ctx context.Context, dsn string) (*PostgresGameStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresGameStore{db: db}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func pgUpsert(ctx context.Context, db execer, g *scoring.Game, index uint64) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	s := summarize(g)
	_, err = db.ExecContext(ctx, `
		INSERT INTO games (id, team_id, season_id, owner_id, opponent_name, game_date, is_home,
			status, our_score, opponent_score, last_raft_index, updated_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			team_id = EXCLUDED.team_id, season_id = EXCLUDED.season_id,
			owner_id = EXCLUDED.owner_id, opponent_name = EXCLUDED.opponent_name,
			game_date = EXCLUDED.game_date, is_home = EXCLUDED.is_home,
			status = EXCLUDED.status, our_score = EXCLUDED.our_score,
			opponent_score = EXCLUDED.opponent_score,
			last_raft_index = GREATEST(games.last_raft_index, EXCLUDED.last_raft_index),
			updated_at = EXCLUDED.updated_at, data = EXCLUDED.data`,
		s.ID, s.TeamID, s.SeasonID, s.OwnerID, s.OpponentName, s.Date, s.IsHome,
		string(s.Status), s.OurScore, s.OpponentScore, int64(index), s.UpdatedAt, data)
	return err
}

// CreateGame inserts a new game.
func (p *PostgresGameStore) CreateGame(ctx context.Context, g *scoring.Game, index uint64) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	s := summarize(g)
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO games (id, team_id, season_id, owner_id, opponent_name, game_date, is_home,
			status, our_score, opponent_score, last_raft_index, updated_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.TeamID, s.SeasonID, s.OwnerID, s.OpponentName, s.Date, s.IsHome,
		string(s.Status), s.OurScore, s.OpponentScore, int64(index), s.UpdatedAt, data)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return fmt.Errorf("game %s: %w", g.ID, ErrGameExists)
	}
	return err
}

// LoadGame selects one game.
func (p *PostgresGameStore) LoadGame(ctx context.Context, id string) (*scoring.Game, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx, `SELECT data FROM games WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("game", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select game %s: %w", id, err)
	}
	var g scoring.Game
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", id, err)
	}
	return &g, nil
}

// UpdateGame locks the row for the duration of fn.
func (p *PostgresGameStore) UpdateGame(ctx context.Context, id string, index uint64, fn func(*scoring.Game) error) (*scoring.Game, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		data      []byte
		lastIndex int64
	)
	err = tx.QueryRowContext(ctx, `SELECT data, last_raft_index FROM games WHERE id = $1 FOR UPDATE`, id).Scan(&data, &lastIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("game", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select game %s: %w", id, err)
	}
	var g scoring.Game
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", id, err)
	}
	if alreadyApplied(uint64(lastIndex), index) {
		return &g, nil
	}
	if err := fn(&g); err != nil {
		return nil, err
	}
	if err := pgUpsert(ctx, tx, &g, index); err != nil {
		return nil, fmt.Errorf("update game %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &g, nil
}

// PutGame upserts a game.
func (p *PostgresGameStore) PutGame(ctx context.Context, g *scoring.Game, index uint64) error {
	return pgUpsert(ctx, p.db, g, index)
}

// DeleteGame removes the row. There are no tombstones in this store.
func (p *PostgresGameStore) DeleteGame(ctx context.Context, id string, index uint64) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM games WHERE id = $1`, id)
	return err
}

// ListGameSummaries reads the summary columns of every game.
func (p *PostgresGameStore) ListGameSummaries(ctx context.Context) iter.Seq2[GameSummary, error] {
	return func(yield func(GameSummary, error) bool) {
		rows, err := p.db.QueryContext(ctx, `
			SELECT id, team_id, season_id, owner_id, opponent_name, game_date, is_home,
				status, our_score, opponent_score, updated_at
			FROM games ORDER BY game_date, id`)
		if err != nil {
			yield(GameSummary{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			var (
				s      GameSummary
				status string
			)
			if err := rows.Scan(&s.ID, &s.TeamID, &s.SeasonID, &s.OwnerID, &s.OpponentName, &s.Date,
				&s.IsHome, &status, &s.OurScore, &s.OpponentScore, &s.UpdatedAt); err != nil {
				yield(GameSummary{}, err)
				return
			}
			s.Status = scoring.Status(status)
			if !yield(s, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(GameSummary{}, err)
		}
	}
}

// ListAllGames decodes every game.
func (p *PostgresGameStore) ListAllGames(ctx context.Context) iter.Seq2[*scoring.Game, error] {
	return func(yield func(*scoring.Game, error) bool) {
		rows, err := p.db.QueryContext(ctx, `SELECT data FROM games ORDER BY game_date, id`)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			var data []byte
			if err := rows.Scan(&data); err != nil {
				yield(nil, err)
				return
			}
			var g scoring.Game
			if err := json.Unmarshal(data, &g); err != nil {
				yield(nil, err)
				return
			}
			if !yield(&g, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// Close closes the connection pool.
func (p *PostgresGameStore) Close() error {
	return p.db.Close()
}
