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

package scoring

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SideTotals is one row of the line score.
type SideTotals struct {
	Name string `json:"name"`
	Runs []int  `json:"runs"`
	R    int    `json:"r"`
	H    int    `json:"h"`
	E    int    `json:"e"`
}

// BoxScore is the per-game summary: a line score and the batting lines of
// both sides.
type BoxScore struct {
	GameID          string       `json:"gameId"`
	Date            string       `json:"gameDate"`
	State           GameState    `json:"state"`
	Away            SideTotals   `json:"away"`
	Home            SideTotals   `json:"home"`
	OurBatters      []BatterLine `json:"ourBatters"`
	OpponentBatters []BatterLine `json:"opponentBatters"`
}

// PlayerInfo resolves our roster for display.
type PlayerInfo func(playerID string) (name string, jersey *int)

// BuildBoxScore folds the log of g into a box score. Runs are credited to the
// inning in which the at-bat was applied by the state machine, so the line
// score always adds up to the game state.
func BuildBoxScore(g *Game, teamName string, players PlayerInfo) (*BoxScore, error) {
	ours := SideTotals{Name: teamName}
	theirs := SideTotals{Name: g.OpponentName}

	var order []BatterRef
	byBatter := make(map[BatterRef][]AtBat)

	s := NewGameState()
	s.Status = g.State.Status
	for _, ab := range g.OrderedAtBats() {
		inning := s.CurrentInning
		if err := s.Advance(ab); err != nil {
			return nil, err
		}
		side, fielding := &theirs, &ours
		if ab.Batter.IsOurs() {
			side, fielding = &ours, &theirs
		}
		for len(side.Runs) < inning {
			side.Runs = append(side.Runs, 0)
		}
		side.Runs[inning-1] += ab.RBI
		side.R += ab.RBI
		if ab.Result.IsHit() {
			side.H++
		}
		if ab.Result == ReachedOnError {
			fielding.E++
		}

		if _, ok := byBatter[ab.Batter]; !ok {
			order = append(order, ab.Batter)
		}
		byBatter[ab.Batter] = append(byBatter[ab.Batter], ab)
	}

	innings := max(g.Innings, s.CurrentInning, len(ours.Runs), len(theirs.Runs))
	for _, st := range []*SideTotals{&ours, &theirs} {
		for len(st.Runs) < innings {
			st.Runs = append(st.Runs, 0)
		}
	}

	b := &BoxScore{
		GameID:          g.ID,
		Date:            g.Date,
		State:           s,
		OurBatters:      []BatterLine{},
		OpponentBatters: []BatterLine{},
	}
	if g.IsHome {
		b.Away, b.Home = theirs, ours
	} else {
		b.Away, b.Home = ours, theirs
	}
	for _, ref := range order {
		line := BatterLine{Batter: ref, Stats: Aggregate(byBatter[ref], 1)}
		if ref.IsOurs() {
			if players != nil {
				line.Name, line.Jersey = players(ref.ID)
			}
			if line.Name == "" {
				line.Name = ref.ID
			}
			b.OurBatters = append(b.OurBatters, line)
			continue
		}
		if ob, ok := g.OpponentBatterByID(ref.ID); ok {
			line.Name, line.Jersey = ob.Name, ob.Jersey
		} else {
			line.Name = ref.ID
		}
		b.OpponentBatters = append(b.OpponentBatters, line)
	}
	return b, nil
}

// Text renders the box score as plain text tables.
func (b *BoxScore) Text() string {
	var sb strings.Builder

	ls := newTable(fmt.Sprintf("%s  %s", b.Date, statusLabel(b.State)))
	header := table.Row{""}
	for i := range b.Away.Runs {
		header = append(header, strconv.Itoa(i+1))
	}
	header = append(header, "R", "H", "E")
	ls.AppendHeader(header)
	for _, st := range []SideTotals{b.Away, b.Home} {
		row := table.Row{st.Name}
		for _, r := range st.Runs {
			row = append(row, r)
		}
		row = append(row, st.R, st.H, st.E)
		ls.AppendRow(row)
	}
	sb.WriteString(ls.Render())
	sb.WriteString("\n\n")

	sb.WriteString(battingTable("Batting", b.OurBatters))
	sb.WriteString("\n\n")
	sb.WriteString(battingTable("Opponent batting", b.OpponentBatters))
	sb.WriteString("\n")
	return sb.String()
}

// newTable returns a writer that keeps the case of headers and footers.
func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	t.SetTitle(title)
	return t
}

func battingTable(title string, lines []BatterLine) string {
	t := newTable(title)
	t.AppendHeader(table.Row{"#", "Batter", "PA", "AB", "R", "H", "RBI", "BB", "K", "SB", "AVG"})
	for _, l := range lines {
		jersey := ""
		if l.Jersey != nil {
			jersey = strconv.Itoa(*l.Jersey)
		}
		s := l.Stats
		t.AppendRow(table.Row{jersey, l.Name, s.PlateAppearances, s.AtBats, s.RunsScored, s.Hits, s.RBI, s.Walks, s.Strikeouts, s.StolenBases, FormatRate(s.AVG)})
	}
	sum := sumLines(lines)
	t.AppendFooter(table.Row{"", "Totals", sum.PlateAppearances, sum.AtBats, sum.RunsScored, sum.Hits, sum.RBI, sum.Walks, sum.Strikeouts, sum.StolenBases, FormatRate(sum.AVG)})
	return t.Render()
}

func sumLines(lines []BatterLine) BattingLine {
	var s BattingLine
	for _, l := range lines {
		s.PlateAppearances += l.Stats.PlateAppearances
		s.AtBats += l.Stats.AtBats
		s.RunsScored += l.Stats.RunsScored
		s.Hits += l.Stats.Hits
		s.RBI += l.Stats.RBI
		s.Walks += l.Stats.Walks
		s.Strikeouts += l.Stats.Strikeouts
		s.StolenBases += l.Stats.StolenBases
	}
	s.AVG = ratio(s.Hits, s.AtBats)
	return s
}

func statusLabel(s GameState) string {
	switch s.Status {
	case StatusFinal:
		return "Final"
	case StatusScheduled:
		return "Scheduled"
	}
	half := "Bot"
	if s.IsTopOfInning {
		half = "Top"
	}
	return fmt.Sprintf("%s %d, %d out", half, s.CurrentInning, s.Outs)
}
