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
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"runtime"
	"strings"
	"sync"

	"github.com/hashicorp/raft"
	"github.com/ttbt-io/statkeeper/backend/scoring"
)

const maxSnapshotEntry = 10 * 1024 * 1024

type snapshotManifest struct {
	NodeMap   map[string]*NodeMeta `json:"nodeMap"`
	Policy    *UserAccessPolicy    `json:"policy,omitempty"`
	RaftIndex uint64               `json:"raftIndex"`
}

// FSMSnapshot is a point-in-time copy of every live game and team.
type FSMSnapshot struct {
	manifest snapshotManifest
	games    []*scoring.Game
	teams    []*Team
}

// Snapshot captures the state. Raft never runs it concurrently with Apply,
// so the copy is consistent with LastAppliedIndex.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	ctx := context.Background()
	snap := &FSMSnapshot{
		manifest: snapshotManifest{
			NodeMap:   f.nodes(),
			Policy:    f.applier.registry.GetAccessPolicy(),
			RaftIndex: f.LastAppliedIndex(),
		},
	}
	for g, err := range f.applier.repo.ListAllGames(ctx) {
		if err != nil {
			return nil, fmt.Errorf("snapshot games: %w", err)
		}
		snap.games = append(snap.games, g)
	}
	for t, err := range f.applier.teams.ListAllTeams() {
		if err != nil {
			return nil, fmt.Errorf("snapshot teams: %w", err)
		}
		snap.teams = append(snap.teams, t)
	}
	f.saveState(snap.manifest.RaftIndex)
	return snap, nil
}

// Persist writes the snapshot as a gzipped tar: manifest.json, then one
// games/<id>.json and teams/<id>.json entry per record.
func (s *FSMSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := s.write(sink); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *FSMSnapshot) write(w io.Writer) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	manifestBytes, err := json.Marshal(s.manifest)
	if err != nil {
		return err
	}
	if err := writeFileToTar(tw, "manifest.json", manifestBytes); err != nil {
		return err
	}
	for _, g := range s.games {
		data, err := json.Marshal(g)
		if err != nil {
			log.Printf("Snapshot Warning: failed to marshal game %s: %v", g.ID, err)
			continue
		}
		if err := writeFileToTar(tw, fmt.Sprintf("games/%s.json", url.PathEscape(g.ID)), data); err != nil {
			return err
		}
	}
	for _, t := range s.teams {
		data, err := json.Marshal(t)
		if err != nil {
			log.Printf("Snapshot Warning: failed to marshal team %s: %v", t.ID, err)
			continue
		}
		if err := writeFileToTar(tw, fmt.Sprintf("teams/%s.json", url.PathEscape(t.ID)), data); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}

// Release implements raft.FSMSnapshot.
func (s *FSMSnapshot) Release() {}

// Restore replaces the state with a snapshot. When the local stores already
// reflect the snapshot's index, only the node map is taken from it.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	if err := f.restore(rc); err != nil {
		return err
	}
	return nil
}

func (f *FSM) restore(rc io.Reader) error {
	gz, err := gzip.NewReader(rc)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	ctx := context.Background()
	a := f.applier
	var manifest snapshotManifest
	processedGames := make(map[string]bool)
	processedTeams := make(map[string]bool)
	skip := false

	// Worker pool for the game and team writes.
	numWorkers := runtime.NumCPU()
	jobs := make(chan any, numWorkers)
	errCh := make(chan error, 1)
	var wg sync.WaitGroup
	fail := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				switch v := job.(type) {
				case *scoring.Game:
					if err := a.repo.PutGame(ctx, v, manifest.RaftIndex); err != nil {
						fail(fmt.Errorf("restore game %s: %w", v.ID, err))
					}
				case *Team:
					v.LastRaftIndex = manifest.RaftIndex
					if err := a.teams.SaveTeam(v); err != nil {
						fail(fmt.Errorf("restore team %s: %w", v.ID, err))
					}
				}
			}
		}()
	}
	teardown := func() { close(jobs); wg.Wait() }
	enqueue := func(job any) error {
		select {
		case jobs <- job:
			return nil
		case err := <-errCh:
			return err
		}
	}

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			teardown()
			return err
		}
		if header.Size > maxSnapshotEntry {
			teardown()
			return fmt.Errorf("snapshot entry %s too large: %d bytes", header.Name, header.Size)
		}

		switch {
		case header.Name == "manifest.json":
			if err := json.NewDecoder(tr).Decode(&manifest); err != nil {
				teardown()
				return err
			}
			for k, v := range manifest.NodeMap {
				f.nodeMap.Store(k, v)
			}
			if local := f.localIndex(); manifest.RaftIndex > 0 && local >= manifest.RaftIndex {
				log.Printf("Smart Restore: Local state (Index %d) is fresh enough. Skipping.", local)
				skip = true
			}
		case skip:
		case strings.HasPrefix(header.Name, "games/"):
			var g scoring.Game
			if err := json.NewDecoder(tr).Decode(&g); err != nil {
				log.Printf("Restore Warning: failed to decode %s: %v", header.Name, err)
				continue
			}
			processedGames[g.ID] = true
			if err := enqueue(&g); err != nil {
				teardown()
				return err
			}
		case strings.HasPrefix(header.Name, "teams/"):
			var t Team
			if err := json.NewDecoder(tr).Decode(&t); err != nil {
				log.Printf("Restore Warning: failed to decode %s: %v", header.Name, err)
				continue
			}
			processedTeams[t.ID] = true
			if err := enqueue(&t); err != nil {
				teardown()
				return err
			}
		}
	}

	teardown()
	select {
	case err := <-errCh:
		return err
	default:
	}

	f.saveNodes()
	f.lastAppliedIndex.Store(manifest.RaftIndex)
	if skip {
		return nil
	}

	// Records that are not in the snapshot were deleted in the meantime.
	for s, err := range a.repo.ListGameSummaries(ctx) {
		if err != nil {
			log.Printf("Restore Cleanup Warning: failed to list games for zombie cleanup: %v", err)
			break
		}
		if !s.Deleted() && !processedGames[s.ID] {
			if err := a.repo.DeleteGame(ctx, s.ID, 0); err != nil {
				log.Printf("Restore Cleanup Warning: game %s: %v", s.ID, err)
			}
		}
	}
	for t, err := range a.teams.ListAllTeamMetadata() {
		if err != nil {
			log.Printf("Restore Cleanup Warning: failed to list teams for zombie cleanup: %v", err)
			break
		}
		if t.Status != statusDeleted && !processedTeams[t.ID] {
			if err := a.teams.DeleteTeam(t.ID, 0); err != nil {
				log.Printf("Restore Cleanup Warning: team %s: %v", t.ID, err)
			}
		}
	}

	if manifest.Policy != nil {
		if err := a.applyAccessPolicy(manifest.Policy); err != nil {
			return err
		}
	}
	a.registry.Rebuild(ctx)
	f.saveState(manifest.RaftIndex)
	return nil
}

func writeFileToTar(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name: name,
		Size: int64(len(data)),
		Mode: 0644,
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
