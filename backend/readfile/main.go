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

// readfile prints stored game and team records, decrypting them with the
// master key when SK_MASTER_KEY is set.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/ttbt-io/statkeeper/backend"
	"github.com/ttbt-io/statkeeper/backend/scoring"
)

var (
	dataDir = flag.String("data-dir", "data", "Directory for game and team data")
	box     = flag.Bool("box", false, "Print the box score of game records instead of JSON")
	list    = flag.Bool("list", false, "List every stored game")
)

// gameRecord mirrors the on-disk game record.
type gameRecord struct {
	ID            string        `json:"id"`
	SchemaVersion int           `json:"schemaVersion"`
	LastRaftIndex uint64        `json:"lastRaftIndex,omitempty"`
	Status        string        `json:"status,omitempty"`
	DeletedAt     int64         `json:"deletedAt,omitempty"`
	TeamID        string        `json:"teamId,omitempty"`
	Game          *scoring.Game `json:"game,omitempty"`
}

func main() {
	flag.Parse()
	var masterKey crypto.MasterKey
	if passphrase := os.Getenv("SK_MASTER_KEY"); passphrase != "" {
		var err error
		masterKey, err = crypto.ReadMasterKey([]byte(passphrase), filepath.Join(*dataDir, "master.key"))
		if err != nil {
			log.Fatalf("Failed to read master key: %v", err)
		}
	} else if _, err := os.Stat(filepath.Join(*dataDir, "master.key")); err == nil {
		log.Fatalf("%s exists but SK_MASTER_KEY is not set", filepath.Join(*dataDir, "master.key"))
	}
	store := storage.New(*dataDir, masterKey)

	if *list {
		listGames(store)
		return
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, arg := range flag.Args() {
		arg = strings.TrimPrefix(strings.TrimPrefix(arg, *dataDir), "/")
		size := "?"
		if fi, err := os.Stat(filepath.Join(*dataDir, arg)); err == nil {
			size = humanize.Bytes(uint64(fi.Size()))
		}

		if strings.HasPrefix(arg, "games") {
			var rec gameRecord
			if err := store.ReadDataFile(arg, &rec); err != nil {
				log.Printf("%s: %v", arg, err)
				continue
			}
			fmt.Printf("=========== %s (%s on disk) ===========\n", arg, size)
			if rec.Game == nil {
				fmt.Printf("Tombstone, deleted %s\n", humanize.Time(time.Unix(0, rec.DeletedAt)))
				continue
			}
			fmt.Printf("Updated %s, %d at-bats, raft index %d\n", humanize.Time(time.UnixMilli(rec.Game.UpdatedAt)), len(rec.Game.AtBats), rec.LastRaftIndex)
			if *box {
				printBoxScore(store, rec.Game)
				continue
			}
			if err := enc.Encode(rec); err != nil {
				log.Printf("JSON: %s: %v", arg, err)
			}
			continue
		}

		var team backend.Team
		if err := store.ReadDataFile(arg, &team); err != nil {
			log.Printf("%s: %v", arg, err)
			continue
		}
		fmt.Printf("=========== %s (%s on disk) ===========\n", arg, size)
		if err := enc.Encode(team); err != nil {
			log.Printf("JSON: %s: %v", arg, err)
		}
	}
}

func loadTeam(store *storage.Storage, teamId string) *backend.Team {
	var team backend.Team
	if err := store.ReadDataFile(filepath.Join("teams", teamId+".json"), &team); err != nil {
		return nil
	}
	return &team
}

func printBoxScore(store *storage.Storage, g *scoring.Game) {
	teamName := "Home team"
	var players scoring.PlayerInfo
	if team := loadTeam(store, g.TeamID); team != nil {
		teamName = team.Name
		players = team.PlayerInfo
	}
	bs, err := scoring.BuildBoxScore(g, teamName, players)
	if err != nil {
		log.Printf("Box score of %s: %v", g.ID, err)
		return
	}
	fmt.Println(bs.Text())
}

func listGames(store *storage.Storage) {
	entries, err := os.ReadDir(filepath.Join(*dataDir, "games"))
	if err != nil {
		log.Fatalf("Failed to read games: %v", err)
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Game", "Date", "Opponent", "Status", "Score", "At-bats", "Updated"})
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".meta.json") {
			continue
		}
		var rec gameRecord
		if err := store.ReadDataFile(filepath.Join("games", name), &rec); err != nil {
			log.Printf("%s: %v", name, err)
			continue
		}
		if rec.Game == nil {
			t.AppendRow(table.Row{rec.ID, "", "", "deleted", "", "", humanize.Time(time.Unix(0, rec.DeletedAt))})
			continue
		}
		g := rec.Game
		t.AppendRow(table.Row{
			g.ID, g.Date, g.OpponentName, string(g.State.Status),
			fmt.Sprintf("%d-%d", g.State.OurScore, g.State.OpponentScore),
			humanize.Comma(int64(len(g.AtBats))),
			humanize.Time(time.UnixMilli(g.UpdatedAt)),
		})
	}
	t.Render()
}
