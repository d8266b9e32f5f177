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
	"log"
	"net/http"
	"strings"
)

type contextKey struct{ name string }

// Context keys for the authenticated identity. The user id is always a
// normalized email string; the paid flag is a bool.
var (
	userIDKey = contextKey{"userID"}
	paidKey   = contextKey{"paid"}
)

// withIdentity returns a context carrying the caller's identity.
func withIdentity(ctx context.Context, userId string, paid bool) context.Context {
	ctx = context.WithValue(ctx, userIDKey, normalizeEmail(userId))
	return context.WithValue(ctx, paidKey, paid)
}

// getUserID returns the UserID from the request context, if present.
func getUserID(r *http.Request) string {
	return userFromContext(r.Context())
}

func userFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(userIDKey).(string); ok {
		return s
	}
	return ""
}

// isPaid reports whether the caller holds a paid entitlement.
func isPaid(ctx context.Context) bool {
	paid, _ := ctx.Value(paidKey).(bool)
	return paid
}

// normalizeEmail ensures consistent casing and whitespace for User IDs.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// maskEmail obscures an email address for safe logging.
// e.g. "user@example.com" -> "u***@example.com"
func maskEmail(email string) string {
	if email == "" {
		return "<empty>"
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 || len(parts[0]) < 1 {
		return "****"
	}
	return string(parts[0][0]) + "***@" + parts[1]
}

type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessRead
	AccessWrite
	AccessAdmin
)

func (l AccessLevel) String() string {
	switch l {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessAdmin:
		return "admin"
	}
	return "none"
}

// GetTeamAccess calculates the effective access level for a user on a team.
func GetTeamAccess(userId string, team TeamMetadata) AccessLevel {
	userId = normalizeEmail(userId)
	if userId == "" || team.Status == statusDeleted {
		return AccessNone
	}
	if normalizeEmail(team.OwnerID) == userId {
		return AccessAdmin
	}

	for _, u := range team.Roles.Admins {
		if normalizeEmail(u) == userId {
			return AccessAdmin
		}
	}
	for _, u := range team.Roles.Scorekeepers {
		if normalizeEmail(u) == userId {
			return AccessWrite
		}
	}
	for _, u := range team.Roles.Spectators {
		if normalizeEmail(u) == userId {
			return AccessRead
		}
	}

	return AccessNone
}

// GetGameAccess calculates the effective access level for a user on a game.
// The owner has full access; everyone else inherits their role on the
// game's team. team may be nil when the team no longer exists.
func GetGameAccess(userId string, game GameSummary, team *TeamMetadata) AccessLevel {
	userId = normalizeEmail(userId)
	if userId == "" || game.Deleted() {
		return AccessNone
	}
	if normalizeEmail(game.OwnerID) == userId {
		return AccessAdmin
	}
	if team == nil {
		return AccessNone
	}
	level := GetTeamAccess(userId, *team)
	if level == AccessNone {
		log.Printf("[AUTH] user=%s has no role on team %s of game %s", maskEmail(userId), game.TeamID, game.ID)
	}
	return level
}
