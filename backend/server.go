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
	"bufio"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
	"github.com/ttbt-io/statkeeper/backend/scoring"
)

func generateETag(data []byte) string {
	return fmt.Sprintf("\"%x\"", sha256.Sum256(data))
}

func parsePagination(r *http.Request) (int, int, string, string, string) {
	limit := 50
	offset := 0
	sortBy := r.URL.Query().Get("sortBy")
	order := r.URL.Query().Get("order")
	query := r.URL.Query().Get("q")

	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if val, err := strconv.Atoi(o); err == nil {
			offset = val
		}
	}

	if limit < 1 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	return limit, offset, sortBy, order, query
}

// Options represent server options.
type Options struct {
	Addr        string
	Cert        *tls.Certificate
	DataDir     string
	UseMockAuth bool
	Debug       bool
	Storage     *storage.Storage
	MasterKey   crypto.MasterKey
	Listener    net.Listener

	// Games overrides the game repository. When nil, PostgresDSN selects the
	// Postgres repository and the encrypted file store is used otherwise.
	Games       GameRepository
	PostgresDSN string

	// RedisAddr enables publishing of game states to redis.
	RedisAddr string

	// Raft Options
	RaftEnabled           bool
	RaftBind              string
	RaftAdvertise         string
	HTTPAdvertise         string // Address other nodes use to reach this node's HTTP API
	RaftSecret            string
	RaftJoin              string // Address of leader to join
	RaftBootstrap         bool
	UseProductionTimeouts bool // Set to true to use longer timeouts (e.g. for production)

	// Auth Options
	AuthCookieName string
	AuthJWKSURL    string

	// Access Control Options
	BootstrapAdmin string
	RequirePaid    bool
}

// Server represents the running server instance.
type Server struct {
	httpServer *http.Server
	raftMgr    *RaftManager
	registry   *Registry
	publisher  *RedisPublisher
	repo       GameRepository
}

// RaftManager returns the raft node, or nil in standalone mode.
func (s *Server) RaftManager() *RaftManager {
	return s.raftMgr
}

// Shutdown gracefully shuts down the server and Raft node.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []string

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("http: %v", err))
		}
	}
	if s.raftMgr != nil {
		if err := s.raftMgr.Shutdown(); err != nil {
			errs = append(errs, fmt.Sprintf("raft: %v", err))
		}
	}
	if s.registry != nil {
		s.registry.StopGC()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("redis: %v", err))
		}
	}
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("repository: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %s", strings.Join(errs, ", "))
	}
	return nil
}

// StartServer starts the web server and registers the API handlers.
func StartServer(opts Options) (*Server, error) {
	srv, handler, err := NewServerHandler(opts)
	if err != nil {
		return nil, err
	}

	if srv.raftMgr != nil {
		// Wait for Raft to replay log and catch up to ensure data consistency
		// before starting the public HTTP server.
		if err := srv.raftMgr.WaitForSync(30 * time.Second); err != nil {
			log.Printf("Warning: Raft sync timed out: %v", err)
		}
	}

	httpServer := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if opts.Cert != nil {
		httpServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{*opts.Cert},
		}
	}
	srv.httpServer = httpServer

	go func() {
		var err error
		switch {
		case opts.Listener != nil && opts.Cert != nil:
			log.Printf("Starting HTTPS server on provided listener %s...", opts.Listener.Addr())
			err = httpServer.ServeTLS(opts.Listener, "", "")
		case opts.Listener != nil:
			log.Printf("Starting HTTP server on provided listener %s...", opts.Listener.Addr())
			err = httpServer.Serve(opts.Listener)
		case opts.Cert != nil:
			log.Printf("Starting HTTPS server on %s...", opts.Addr)
			err = httpServer.ListenAndServeTLS("", "")
		default:
			log.Printf("Starting HTTP server on %s...", opts.Addr)
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, net.ErrClosed) && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	return srv, nil
}

// NewServerHandler creates the stores and services and returns the HTTP
// handler serving them. The returned Server owns the resources; call its
// Shutdown to release them.
func NewServerHandler(opts Options) (*Server, http.Handler, error) {
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	if opts.Storage == nil {
		opts.Storage = storage.New(opts.DataDir, opts.MasterKey)
	}

	repo := opts.Games
	if repo == nil && opts.PostgresDSN != "" {
		if opts.RaftEnabled {
			return nil, nil, errors.New("raft replication requires the file game store")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pg, err := NewPostgresGameStore(ctx, opts.PostgresDSN)
		cancel()
		if err != nil {
			return nil, nil, err
		}
		repo = pg
	}
	if repo == nil {
		repo = NewGameStore(opts.DataDir, opts.Storage)
	}
	teams := NewTeamStore(opts.DataDir, opts.Storage)

	registry := NewRegistry(repo, teams)
	loadAccessPolicy(opts.Storage, registry)
	registry.StartGC()

	srv := &Server{registry: registry, repo: repo}
	metrics := NewMetrics(registry)
	hm := NewHubManager(repo, registry, metrics)
	observers := []GameObserver{hm}
	if opts.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pub, err := NewRedisPublisher(ctx, opts.RedisAddr, metrics)
		cancel()
		if err != nil {
			srv.Shutdown(context.Background())
			return nil, nil, err
		}
		srv.publisher = pub
		observers = append(observers, pub)
	}
	sk := NewScorekeeper(repo, teams, registry, opts.Storage, metrics, observers...)

	debugf := func(string, ...any) {}
	if opts.Debug {
		debugf = func(f string, a ...any) {
			log.Printf("[DEBUG BACKEND] "+f, a...)
		}
	}

	if opts.RaftEnabled {
		fsm := NewFSM(sk, opts.Storage)
		rm := NewRaftManager(opts.DataDir, opts.RaftBind, opts.RaftAdvertise, opts.HTTPAdvertise, opts.RaftSecret, fsm, metrics)
		rm.UseProductionTimeouts = opts.UseProductionTimeouts
		rm.MasterKey = opts.MasterKey
		sk.SetRaft(rm)
		if srv.publisher != nil {
			srv.publisher.SetPrimary(rm.IsLeader)
		}
		if err := rm.Start(opts.RaftBootstrap); err != nil {
			srv.Shutdown(context.Background())
			return nil, nil, fmt.Errorf("failed to start raft: %w", err)
		}
		srv.raftMgr = rm
		if opts.RaftJoin != "" {
			go func() {
				if err := rm.JoinCluster(opts.RaftJoin); err != nil {
					log.Printf("[RAFT] Failed to join cluster at %s: %v", opts.RaftJoin, err)
				}
			}()
		}
	}

	api := &apiServer{
		sk:       sk,
		registry: registry,
		access:   NewAccessControl(registry, opts.BootstrapAdmin, opts.RequirePaid),
		hubs:     hm,
		metrics:  metrics,
		raftMgr:  srv.raftMgr,
		debugf:   debugf,
	}
	mux := http.NewServeMux()
	api.register(mux)

	handler := http.Handler(mux)
	if srv.raftMgr != nil {
		handler = leaderMiddleware(srv.raftMgr, handler)
	}
	if opts.UseMockAuth {
		handler = mockAuthMiddleware(handler)
	} else {
		handler = jwtAuthMiddleware(opts, handler)
	}
	handler = loggingMiddleware(metrics, debugf, handler)
	handler = securityMiddleware(handler)
	handler = cacheControlMiddleware(handler)

	return srv, handler, nil
}

// apiServer holds what the HTTP handlers need.
type apiServer struct {
	sk       *Scorekeeper
	registry *Registry
	access   *AccessControl
	hubs     *HubManager
	metrics  *Metrics
	raftMgr  *RaftManager
	debugf   func(string, ...any)
}

func (a *apiServer) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.Handle("GET /metrics", a.metrics.Handler())
	mux.HandleFunc("GET /api/me", a.handleMe)
	mux.HandleFunc("GET /api/admin/policy", a.handleGetPolicy)
	mux.HandleFunc("POST /api/admin/policy", a.handleSetPolicy)
	mux.HandleFunc("GET /api/ws", a.handleWS)

	mux.HandleFunc("POST /api/cluster/join", a.handleClusterJoin)
	mux.HandleFunc("GET /api/cluster/status", a.handleClusterStatus)

	mux.HandleFunc("GET /api/teams", a.handleListTeams)
	mux.HandleFunc("POST /api/teams", a.handleCreateTeam)
	mux.HandleFunc("GET /api/teams/{teamId}", a.handleGetTeam)
	mux.HandleFunc("PUT /api/teams/{teamId}", a.handleUpdateTeam)
	mux.HandleFunc("DELETE /api/teams/{teamId}", a.handleDeleteTeam)
	mux.HandleFunc("GET /api/teams/{teamId}/games", a.handleListGames)
	mux.HandleFunc("POST /api/teams/{teamId}/games", a.handleCreateGame)
	mux.HandleFunc("GET /api/teams/{teamId}/stats", a.handleTeamStats)
	mux.HandleFunc("GET /api/teams/{teamId}/players/{playerId}/stats", a.handlePlayerStats)

	mux.HandleFunc("GET /api/games/{gameId}", a.handleGetGame)
	mux.HandleFunc("DELETE /api/games/{gameId}", a.handleDeleteGame)
	mux.HandleFunc("GET /api/games/{gameId}/state", a.handleGameState)
	mux.HandleFunc("GET /api/games/{gameId}/box", a.handleBoxScore)
	mux.HandleFunc("POST /api/games/{gameId}/end", a.handleEndGame)
	mux.HandleFunc("GET /api/games/{gameId}/at-bats", a.handleListAtBats)
	mux.HandleFunc("POST /api/games/{gameId}/at-bats", a.handleRecordAtBat)
	mux.HandleFunc("PATCH /api/games/{gameId}/at-bats/{atBatId}", a.handlePatchAtBat)
	mux.HandleFunc("DELETE /api/games/{gameId}/at-bats/{atBatId}", a.handleDeleteAtBat)
	mux.HandleFunc("GET /api/games/{gameId}/pitches", a.handlePending)
	mux.HandleFunc("POST /api/games/{gameId}/pitches", a.handleAddPitch)
	mux.HandleFunc("DELETE /api/games/{gameId}/pitches", a.handleClearPitches)
	mux.HandleFunc("DELETE /api/games/{gameId}/pitches/last", a.handleUndoPitch)
	mux.HandleFunc("POST /api/games/{gameId}/opponent-batters", a.handleAddOpponentBatter)
	mux.HandleFunc("POST /api/games/{gameId}/opponent-batters/load-from-previous", a.handleLoadOpponentBatters)
	mux.HandleFunc("POST /api/games/{gameId}/opponent-pitchers", a.handleAddOpponentPitcher)
	mux.HandleFunc("PUT /api/games/{gameId}/lineup", a.handleSetLineup)
	mux.HandleFunc("POST /api/games/{gameId}/pitching", a.handleRecordPitching)
	mux.HandleFunc("PUT /api/games/{gameId}/pitching/{appearanceId}", a.handleUpdatePitching)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// writeError maps an error to its HTTP status. Storage and other unexpected
// errors are logged and reported as 500 without details.
func writeError(w http.ResponseWriter, err error) {
	var ve *scoring.ValidationError
	var ie *scoring.IntegrityError
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Error(), http.StatusBadRequest)
	case isNotFound(err):
		http.Error(w, "Not Found", http.StatusNotFound)
	case errors.Is(err, scoring.ErrGameFinal), errors.Is(err, ErrGameExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrNotLeader):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "Service Unavailable: no leader", http.StatusServiceUnavailable)
	case errors.As(err, &ie):
		log.Printf("[SCORING] %v", ie)
		http.Error(w, "Integrity fault: "+ie.Error(), http.StatusInternalServerError)
	default:
		log.Printf("Internal error: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// user returns the authenticated caller, or writes 403 when there is none
// or the access policy denies them.
func (a *apiServer) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	userId := getUserID(r)
	if userId == "" || !isValidEmail(userId) {
		http.Error(w, "Unauthenticated", http.StatusForbidden)
		return "", false
	}
	if allowed, msg := a.access.IsAllowed(userId); !allowed {
		http.Error(w, "Forbidden: "+msg, http.StatusForbidden)
		return "", false
	}
	return userId, true
}

// authorize checks that the caller has at least need on the entity named by
// the request path. Entities the caller cannot read do not exist for them.
func (a *apiServer) authorize(w http.ResponseWriter, r *http.Request, kind string, need AccessLevel) (string, string, bool) {
	userId, ok := a.user(w, r)
	if !ok {
		return "", "", false
	}
	id := r.PathValue(kind + "Id")
	if !isValidUUID(id) {
		http.Error(w, "Invalid "+kind+"Id", http.StatusBadRequest)
		return "", "", false
	}
	var level AccessLevel
	if kind == "team" {
		level = a.registry.GetTeamAccess(userId, id)
	} else {
		level = a.registry.GetGameAccess(r.Context(), userId, id)
	}
	if level < AccessRead {
		a.debugf("%s has no access to %s %s", maskEmail(userId), kind, id)
		http.Error(w, "Not Found", http.StatusNotFound)
		return "", "", false
	}
	if level < need {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return "", "", false
	}
	return userId, id, true
}

func (a *apiServer) game(w http.ResponseWriter, r *http.Request, need AccessLevel) (string, bool) {
	_, id, ok := a.authorize(w, r, "game", need)
	return id, ok
}

func (a *apiServer) team(w http.ResponseWriter, r *http.Request, need AccessLevel) (string, string, bool) {
	return a.authorize(w, r, "team", need)
}

func (a *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":     "ok",
		"appVersion": CurrentAppVersion,
		"games":      a.registry.CountTotalGames(),
		"teams":      a.registry.CountTotalTeams(),
	}
	if a.raftMgr != nil {
		status["raftState"] = a.raftMgr.Raft.State().String()
		status["leader"] = a.raftMgr.IsLeader()
	}
	writeJSON(w, http.StatusOK, status)
}

// handleMe reports the caller's identity, access and quota usage.
func (a *apiServer) handleMe(w http.ResponseWriter, r *http.Request) {
	userId := getUserID(r)
	if userId == "" || !isValidEmail(userId) {
		http.Error(w, "Unauthenticated", http.StatusForbidden)
		return
	}

	allowed, msg := a.access.IsAllowed(userId)
	maxGames, maxTeams := a.access.GetUserQuotas(userId)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      userId,
		"allowed": allowed,
		"message": msg,
		"admin":   a.access.IsAdmin(userId),
		"paid":    isPaid(r.Context()),
		"quotas": map[string]int{
			"maxGames":  maxGames,
			"maxTeams":  maxTeams,
			"gamesUsed": a.registry.CountOwnedGames(userId),
			"teamsUsed": a.registry.CountOwnedTeams(userId),
		},
	})
}

func (a *apiServer) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	if !a.access.IsAdmin(getUserID(r)) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	policy := a.registry.GetAccessPolicy()
	if policy == nil {
		policy = &UserAccessPolicy{
			DefaultPolicy: "allow",
			Admins:        []string{},
			Users:         make(map[string]UserOverride),
		}
	}
	writeJSON(w, http.StatusOK, policy)
}

func (a *apiServer) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	userId := getUserID(r)
	if !a.access.IsAdmin(userId) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	var policy UserAccessPolicy
	if err := decodeJSON(w, r, maxBodyBytes, &policy); err != nil {
		writeError(w, err)
		return
	}
	if err := validatePolicy(&policy); err != nil {
		writeError(w, err)
		return
	}
	if err := a.sk.UpdateAccessPolicy(r.Context(), &policy); err != nil {
		writeError(w, err)
		return
	}
	log.Printf("[ADMIN] Access policy updated by %s", maskEmail(userId))
	writeJSON(w, http.StatusOK, &policy)
}

func (a *apiServer) handleWS(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.user(w, r); !ok {
		return
	}
	ServeWS(a.hubs, w, r, a.debugf)
}

func (a *apiServer) handleClusterJoin(w http.ResponseWriter, r *http.Request) {
	if a.raftMgr == nil {
		http.Error(w, "Raft is not enabled on this node", http.StatusBadRequest)
		return
	}
	a.raftMgr.handleJoin(w, r)
}

func (a *apiServer) handleClusterStatus(w http.ResponseWriter, r *http.Request) {
	if a.raftMgr == nil {
		http.Error(w, "Raft is not enabled on this node", http.StatusNotImplemented)
		return
	}
	a.raftMgr.handleStatus(w, r)
}

func (a *apiServer) handleListTeams(w http.ResponseWriter, r *http.Request) {
	userId, ok := a.user(w, r)
	if !ok {
		return
	}
	teams := a.registry.ListTeams(userId)
	if teams == nil {
		teams = []TeamMetadata{}
	}
	writeJSON(w, http.StatusOK, teams)
}

func (a *apiServer) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	userId, ok := a.user(w, r)
	if !ok {
		return
	}
	if err := a.access.CheckTeamQuota(userId, a.registry.CountOwnedTeams(userId)); err != nil {
		writeError(w, err)
		return
	}
	var t Team
	if err := decodeJSON(w, r, maxBodyBytes, &t); err != nil {
		writeError(w, err)
		return
	}
	created, err := a.sk.CreateTeam(r.Context(), userId, t)
	if err != nil {
		writeError(w, err)
		return
	}
	a.debugf("%s created team %s", maskEmail(userId), created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *apiServer) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	_, teamId, ok := a.team(w, r, AccessRead)
	if !ok {
		return
	}
	t, err := a.sk.Team(r.Context(), teamId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *apiServer) handleUpdateTeam(w http.ResponseWriter, r *http.Request) {
	_, teamId, ok := a.team(w, r, AccessAdmin)
	if !ok {
		return
	}
	var t Team
	if err := decodeJSON(w, r, maxBodyBytes, &t); err != nil {
		writeError(w, err)
		return
	}
	updated, err := a.sk.UpdateTeam(r.Context(), teamId, t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *apiServer) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	userId, teamId, ok := a.team(w, r, AccessAdmin)
	if !ok {
		return
	}
	if err := a.sk.DeleteTeam(r.Context(), teamId); err != nil {
		writeError(w, err)
		return
	}
	a.debugf("%s deleted team %s", maskEmail(userId), teamId)
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) handleListGames(w http.ResponseWriter, r *http.Request) {
	_, teamId, ok := a.team(w, r, AccessRead)
	if !ok {
		return
	}
	limit, offset, sortBy, order, query := parsePagination(r)
	games, err := a.registry.ListGames(r.Context(), teamId, sortBy, order, query)
	if err != nil {
		writeError(w, err)
		return
	}
	total := len(games)
	page := games[min(offset, total):min(offset+limit, total)]
	writeJSON(w, http.StatusOK, map[string]any{
		"games":  page,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *apiServer) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	userId, teamId, ok := a.team(w, r, AccessWrite)
	if !ok {
		return
	}
	if err := a.access.CanCreateGame(userId, isPaid(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	var req NewGameRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, err)
		return
	}
	req.TeamID = teamId
	g, err := a.sk.CreateGame(r.Context(), userId, req)
	if err != nil {
		writeError(w, err)
		return
	}
	a.debugf("%s created game %s for team %s", maskEmail(userId), g.ID, teamId)
	writeJSON(w, http.StatusCreated, g)
}

func (a *apiServer) handleTeamStats(w http.ResponseWriter, r *http.Request) {
	_, teamId, ok := a.team(w, r, AccessRead)
	if !ok {
		return
	}
	stats, err := a.sk.TeamStats(r.Context(), teamId, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *apiServer) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	_, teamId, ok := a.team(w, r, AccessRead)
	if !ok {
		return
	}
	stats, err := a.sk.PlayerStats(r.Context(), teamId, r.PathValue("playerId"), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *apiServer) handleGetGame(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessRead)
	if !ok {
		return
	}
	g, err := a.sk.Game(r.Context(), gameId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (a *apiServer) handleDeleteGame(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessAdmin)
	if !ok {
		return
	}
	if err := a.sk.DeleteGame(r.Context(), gameId); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// gameStateResponse is what clients poll while a game is in progress.
type gameStateResponse struct {
	GameID          string               `json:"gameId"`
	State           scoring.GameState    `json:"state"`
	LastAtBatNumber int                  `json:"lastAtBatNumber"`
	Pending         scoring.PendingCount `json:"pending"`
	UpdatedAt       int64                `json:"updatedAt"`
}

// handleGameState serves the derived state with an ETag so that pollers can
// revalidate cheaply.
func (a *apiServer) handleGameState(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessRead)
	if !ok {
		return
	}
	g, err := a.sk.Game(r.Context(), gameId)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := json.Marshal(gameStateResponse{
		GameID:          g.ID,
		State:           g.State,
		LastAtBatNumber: g.LastAtBatNumber,
		Pending:         g.Pending(),
		UpdatedAt:       g.UpdatedAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	etag := generateETag(data)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (a *apiServer) handleBoxScore(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessRead)
	if !ok {
		return
	}
	box, err := a.sk.BoxScore(r.Context(), gameId)
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, box.Text())
		return
	}
	writeJSON(w, http.StatusOK, box)
}

func (a *apiServer) handleEndGame(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessWrite)
	if !ok {
		return
	}
	g, err := a.sk.EndGame(r.Context(), gameId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": g.State})
}

func (a *apiServer) handleListAtBats(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessRead)
	if !ok {
		return
	}
	g, err := a.sk.Game(r.Context(), gameId)
	if err != nil {
		writeError(w, err)
		return
	}
	atBats := g.OrderedAtBats()
	if atBats == nil {
		atBats = []scoring.AtBat{}
	}
	writeJSON(w, http.StatusOK, atBats)
}

func (a *apiServer) handleRecordAtBat(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessWrite)
	if !ok {
		return
	}
	var req AtBatRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, err)
		return
	}
	ab, err := req.toAtBat()
	if err != nil {
		writeError(w, err)
		return
	}
	recorded, g, err := a.sk.RecordAtBat(r.Context(), gameId, ab, req.IsTopOfInning)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"atBat": recorded, "state": g.State})
}

func (a *apiServer) handlePatchAtBat(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessWrite)
	if !ok {
		return
	}
	var patch scoring.AtBatPatch
	if err := decodeJSON(w, r, maxBodyBytes, &patch); err != nil {
		writeError(w, err)
		return
	}
	ab, g, err := a.sk.PatchAtBat(r.Context(), gameId, r.PathValue("atBatId"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"atBat": ab, "state": g.State})
}

func (a *apiServer) handleDeleteAtBat(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessWrite)
	if !ok {
		return
	}
	g, err := a.sk.DeleteAtBat(r.Context(), gameId, r.PathValue("atBatId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": g.State})
}

func (a *apiServer) handlePending(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessRead)
	if !ok {
		return
	}
	g, err := a.sk.Game(r.Context(), gameId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g.Pending())
}

func (a *apiServer) handleAddPitch(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessWrite)
	if !ok {
		return
	}
	var req PitchRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := req.toPitch()
	if err != nil {
		writeError(w, err)
		return
	}
	pending, err := a.sk.AddPitch(r.Context(), gameId, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pending)
}

func (a *apiServer) handleUndoPitch(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessWrite)
	if !ok {
		return
	}
	pending, err := a.sk.UndoPitch(r.Context(), gameId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (a *apiServer) handleClearPitches(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessWrite)
	if !ok {
		return
	}
	pending, err := a.sk.ClearPitches(r.Context(), gameId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (a *apiServer) handleAddOpponentBatter(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessWrite)
	if !ok {
		return
	}
	var b scoring.OpponentBatter
	if err := decodeJSON(w, r, maxBodyBytes, &b); err != nil {
		writeError(w, err)
		return
	}
	added, err := a.sk.AddOpponentBatter(r.Context(), gameId, b)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (a *apiServer) handleLoadOpponentBatters(w http.ResponseWriter, r *http.Request) {
	userId, gameId, ok := a.authorize(w, r, "game", AccessWrite)
	if !ok {
		return
	}
	added, err := a.sk.LoadPreviousOpponentBatters(r.Context(), userId, gameId)
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusOK
	if len(added) > 0 {
		code = http.StatusCreated
	}
	writeJSON(w, code, added)
}

func (a *apiServer) handleAddOpponentPitcher(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessWrite)
	if !ok {
		return
	}
	var p scoring.OpponentPitcher
	if err := decodeJSON(w, r, maxBodyBytes, &p); err != nil {
		writeError(w, err)
		return
	}
	added, err := a.sk.AddOpponentPitcher(r.Context(), gameId, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (a *apiServer) handleSetLineup(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessWrite)
	if !ok {
		return
	}
	var entries []scoring.LineupEntry
	if err := decodeJSON(w, r, maxBodyBytes, &entries); err != nil {
		writeError(w, err)
		return
	}
	g, err := a.sk.SetLineup(r.Context(), gameId, entries)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g.Lineup)
}

func (a *apiServer) handleRecordPitching(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessWrite)
	if !ok {
		return
	}
	var req PitchingRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := a.sk.RecordPitching(r.Context(), gameId, scoring.PitchingAppearance{
		PlayerID:     req.PlayerID,
		PitchingLine: req.PitchingLine,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (a *apiServer) handleUpdatePitching(w http.ResponseWriter, r *http.Request) {
	gameId, ok := a.game(w, r, AccessWrite)
	if !ok {
		return
	}
	var line scoring.PitchingLine
	if err := decodeJSON(w, r, maxBodyBytes, &line); err != nil {
		writeError(w, err)
		return
	}
	app, err := a.sk.UpdatePitching(r.Context(), gameId, r.PathValue("appearanceId"), line)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// leaderMiddleware sends API writes received by a follower to the leader.
// Reads are served locally from the replicated stores.
func leaderMiddleware(rm *RaftManager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		write := r.Method != http.MethodGet && r.Method != http.MethodHead
		if write && strings.HasPrefix(r.URL.Path, "/api/") && !strings.HasPrefix(r.URL.Path, "/api/cluster/") && !rm.IsLeader() {
			rm.forwardRequestToLeader(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cacheControlMiddleware disables caching of API responses. Polling clients
// revalidate with ETags.
func cacheControlMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Cache-Control", "private, no-cache, no-transform")
		}
		next.ServeHTTP(w, r)
	})
}

// securityMiddleware adds HTTP security headers to responses.
func securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Hijack supports the websocket upgrade.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

// loggingMiddleware logs every incoming HTTP request and records its status
// and latency.
func loggingMiddleware(m *Metrics, debugf func(string, ...any), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		debugf("Received request: %s %s", r.Method, r.URL.Path)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.ObserveRequest(r.Method, rec.code, time.Since(start))
	})
}
