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
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ttbt-io/statkeeper/backend/scoring"
)

const (
	// UpdatesStream is the redis stream that receives every committed change.
	UpdatesStream  = "games.updates"
	publishTimeout = 5 * time.Second
	publishQueue   = 1024
)

// stateKey is the redis key holding the latest state of a game.
func stateKey(gameId string) string {
	return fmt.Sprintf("game:%s:state", gameId)
}

// StateUpdate is the message published for a changed game.
type StateUpdate struct {
	GameID        string            `json:"gameId"`
	TeamID        string            `json:"teamId"`
	OpponentName  string            `json:"opponentName"`
	State         scoring.GameState `json:"state"`
	LastAtBat     int               `json:"lastAtBatNumber"`
	UpdatedAt     int64             `json:"updatedAt"`
	Deleted       bool              `json:"deleted,omitempty"`
	SchemaVersion int               `json:"schemaVersion"`
}

// RedisPublisher mirrors committed game states to redis for external
// pollers: the latest state is cached under game:<id>:state and each change
// is appended to the games.updates stream.
//
// Updates are published one at a time, in commit order, by a single worker.
type RedisPublisher struct {
	client *redis.Client
	// primary reports whether this node publishes. In a cluster every node
	// applies each change, and only the leader should publish it.
	primary func() bool
	metrics *Metrics
	publish func(context.Context, StateUpdate) error

	mu     sync.RWMutex
	closed bool
	queue  chan StateUpdate
	done   chan struct{}
}

// NewRedisPublisher connects to the redis server at addr.
func NewRedisPublisher(ctx context.Context, addr string, m *Metrics) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisPublisher(client, m, publishQueue), nil
}

func newRedisPublisher(client *redis.Client, m *Metrics, size int) *RedisPublisher {
	p := &RedisPublisher{
		client:  client,
		metrics: m,
		queue:   make(chan StateUpdate, size),
		done:    make(chan struct{}),
	}
	p.publish = p.Publish
	go p.run()
	return p
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for u := range p.queue {
		p.send(u)
	}
}

// SetPrimary installs the function that decides whether this node publishes.
func (p *RedisPublisher) SetPrimary(f func() bool) {
	p.primary = f
}

// Close publishes the queued updates and closes the redis connection.
func (p *RedisPublisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
	return p.client.Close()
}

// enqueue never blocks the caller: when the worker falls behind, the update
// is dropped and counted.
func (p *RedisPublisher) enqueue(u StateUpdate) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- u:
	default:
		log.Printf("[REDIS] Publish queue full, dropping update of game %s", u.GameID)
		p.metrics.PublishDropped()
	}
}

func (p *RedisPublisher) enabled() bool {
	return p.primary == nil || p.primary()
}

// ttlFor keeps live games around shorter than final ones.
func ttlFor(status scoring.Status) time.Duration {
	if status == scoring.StatusFinal {
		return FinalGameTTL
	}
	return LiveGameTTL
}

// GameChanged implements GameObserver.
func (p *RedisPublisher) GameChanged(ctx context.Context, g *scoring.Game) {
	if !p.enabled() {
		return
	}
	update := StateUpdate{
		GameID:        g.ID,
		TeamID:        g.TeamID,
		OpponentName:  g.OpponentName,
		State:         g.State,
		LastAtBat:     g.LastAtBatNumber,
		UpdatedAt:     g.UpdatedAt,
		SchemaVersion: CurrentSchemaVersion,
	}
	p.enqueue(update)
}

// GameDeleted implements GameObserver.
func (p *RedisPublisher) GameDeleted(ctx context.Context, gameId string) {
	if !p.enabled() {
		return
	}
	p.enqueue(StateUpdate{GameID: gameId, Deleted: true, SchemaVersion: CurrentSchemaVersion})
}

func (p *RedisPublisher) send(u StateUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.publish(ctx, u); err != nil {
		log.Printf("[REDIS] Failed to publish game %s: %v", u.GameID, err)
		p.metrics.PublishFailed()
	}
}

// Publish writes one update to the state cache and the stream.
func (p *RedisPublisher) Publish(ctx context.Context, u StateUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshaling state update: %w", err)
	}
	pipe := p.client.TxPipeline()
	if u.Deleted {
		pipe.Del(ctx, stateKey(u.GameID))
	} else {
		pipe.Set(ctx, stateKey(u.GameID), data, ttlFor(u.State.Status))
	}
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: UpdatesStream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]any{
			"data":    string(data),
			"game_id": u.GameID,
			"status":  string(u.State.Status),
		},
	})
	_, err = pipe.Exec(ctx)
	return err
}

// CachedState reads the cached state of a game.
func (p *RedisPublisher) CachedState(ctx context.Context, gameId string) (*StateUpdate, error) {
	data, err := p.client.Get(ctx, stateKey(gameId)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, notFound("cached state", gameId)
		}
		return nil, err
	}
	var u StateUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("unmarshaling state update: %w", err)
	}
	return &u, nil
}
