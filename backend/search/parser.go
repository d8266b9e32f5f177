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

// Package search parses the filter language of the stats views, e.g.
//
//	opponent:Tigers pitcher:"Bo Smith" hand:left date:2025-04-01..2025-06-30
package search

import (
	"fmt"
	"strings"
	"unicode"
)

type Operator string

const (
	OpEqual          Operator = "="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpRange          Operator = ".."
)

// Longest prefix first.
var prefixOperators = []Operator{OpGreaterOrEqual, OpLessOrEqual, OpGreater, OpLess}

type Filter struct {
	Key      string
	Value    string
	MaxValue string // OpRange only
	Operator Operator
}

type Query struct {
	Filters  []Filter
	FreeText []string
}

// Parse splits input into key:value filters and free text. Quoted values may
// contain spaces and colons.
func Parse(input string) Query {
	q := Query{
		Filters:  make([]Filter, 0),
		FreeText: make([]string, 0),
	}
	for _, token := range tokenize(input) {
		f, ok := parseFilter(token)
		if !ok {
			q.FreeText = append(q.FreeText, removeQuotes(token))
			continue
		}
		q.Filters = append(q.Filters, f)
	}
	return q
}

func parseFilter(token string) (Filter, bool) {
	key, val, found := strings.Cut(token, ":")
	if !found {
		return Filter{}, false
	}
	key = strings.ToLower(strings.TrimSpace(key))
	val = strings.TrimSpace(val)
	if key == "" || val == "" {
		return Filter{}, false
	}
	// An unquoted second colon is ambiguous.
	if strings.Contains(val, ":") && !strings.HasPrefix(val, `"`) && !strings.HasPrefix(val, "'") {
		return Filter{}, false
	}
	if lo, hi, ok := strings.Cut(val, ".."); ok && !isQuoted(val) {
		return Filter{Key: key, Value: removeQuotes(lo), MaxValue: removeQuotes(hi), Operator: OpRange}, true
	}
	for _, op := range prefixOperators {
		if rest, ok := strings.CutPrefix(val, string(op)); ok {
			return Filter{Key: key, Value: removeQuotes(rest), Operator: op}, true
		}
	}
	return Filter{Key: key, Value: removeQuotes(val), Operator: OpEqual}, true
}

func tokenize(input string) []string {
	var tokens []string
	var cur strings.Builder
	var quote rune

	for _, r := range input {
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case unicode.IsSpace(r):
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		case r == '"' || r == '\'':
			quote = r
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func isQuoted(s string) bool {
	return len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0]
}

func removeQuotes(s string) string {
	if isQuoted(s) {
		return s[1 : len(s)-1]
	}
	return s
}

// Criteria is the typed form of a stats filter query. Empty fields match
// everything.
type Criteria struct {
	Opponent string
	Pitcher  string
	Hand     string
	SeasonID string
	Date     *Filter
	FreeText []string
}

// ParseCriteria parses a stats filter query. Unknown keys are rejected.
func ParseCriteria(input string) (Criteria, error) {
	var c Criteria
	q := Parse(input)
	for _, f := range q.Filters {
		switch f.Key {
		case "opponent", "vs":
			c.Opponent = f.Value
		case "pitcher":
			c.Pitcher = f.Value
		case "hand", "throws":
			h := strings.ToLower(f.Value)
			switch h {
			case "l", "left":
				c.Hand = "left"
			case "r", "right":
				c.Hand = "right"
			default:
				return Criteria{}, fmt.Errorf("hand: %q is not left or right", f.Value)
			}
		case "season":
			c.SeasonID = f.Value
		case "date":
			if err := checkDate(f.Value); err != nil {
				return Criteria{}, err
			}
			if f.Operator == OpRange {
				if err := checkDate(f.MaxValue); err != nil {
					return Criteria{}, err
				}
			}
			df := f
			c.Date = &df
		default:
			return Criteria{}, fmt.Errorf("unknown filter %q", f.Key)
		}
	}
	c.FreeText = q.FreeText
	return c, nil
}

// checkDate accepts YYYY, YYYY-MM and YYYY-MM-DD.
func checkDate(v string) error {
	if len(v) != 4 && len(v) != 7 && len(v) != 10 {
		return fmt.Errorf("date: %q is not YYYY[-MM[-DD]]", v)
	}
	for i, r := range v {
		if i == 4 || i == 7 {
			if r != '-' {
				return fmt.Errorf("date: %q is not YYYY[-MM[-DD]]", v)
			}
			continue
		}
		if r < '0' || r > '9' {
			return fmt.Errorf("date: %q is not YYYY[-MM[-DD]]", v)
		}
	}
	return nil
}

// MatchDate reports whether a YYYY-MM-DD date satisfies the date filter. A
// partial bound such as 2025-04 covers the whole month.
func (c Criteria) MatchDate(date string) bool {
	f := c.Date
	if f == nil {
		return true
	}
	trunc := func(bound string) string {
		if len(date) > len(bound) {
			return date[:len(bound)]
		}
		return date
	}
	switch f.Operator {
	case OpRange:
		return trunc(f.Value) >= f.Value && trunc(f.MaxValue) <= f.MaxValue
	case OpGreater:
		return trunc(f.Value) > f.Value
	case OpGreaterOrEqual:
		return trunc(f.Value) >= f.Value
	case OpLess:
		return trunc(f.Value) < f.Value
	case OpLessOrEqual:
		return trunc(f.Value) <= f.Value
	}
	return trunc(f.Value) == f.Value
}

// MatchOpponent reports whether an opponent name satisfies the opponent
// filter and the free text, both case-insensitive substrings.
func (c Criteria) MatchOpponent(name string) bool {
	name = strings.ToLower(name)
	if c.Opponent != "" && !strings.Contains(name, strings.ToLower(c.Opponent)) {
		return false
	}
	for _, w := range c.FreeText {
		if !strings.Contains(name, strings.ToLower(w)) {
			return false
		}
	}
	return true
}

// MatchPitcher reports whether an opposing pitcher satisfies the pitcher
// name and hand filters. With either filter set, at-bats without a known
// pitcher are excluded.
func (c Criteria) MatchPitcher(name, throws string, known bool) bool {
	if c.Pitcher == "" && c.Hand == "" {
		return true
	}
	if !known {
		return false
	}
	if c.Pitcher != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(c.Pitcher)) {
		return false
	}
	return c.Hand == "" || strings.EqualFold(throws, c.Hand)
}
