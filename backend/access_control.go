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
	"errors"
	"fmt"
	"strings"
)

// ErrForbidden is returned when the caller is authenticated but not allowed
// to perform an operation.
var ErrForbidden = errors.New("forbidden")

// AccessControl applies the global access policy: who may use the service,
// who administers it, and how many games and teams each user may own.
type AccessControl struct {
	r *Registry
	// Bootstrap admin email (from flag)
	bootstrapAdmin string
	// When set, creating a game requires the paid entitlement.
	requirePaid bool
}

// NewAccessControl creates a new AccessControl service.
func NewAccessControl(r *Registry, bootstrapAdmin string, requirePaid bool) *AccessControl {
	return &AccessControl{
		r:              r,
		bootstrapAdmin: normalizeEmail(bootstrapAdmin),
		requirePaid:    requirePaid,
	}
}

// IsAllowed checks if a user is allowed to access the service.
// Returns allowed status and a denial message (if denied).
func (ac *AccessControl) IsAllowed(email string) (bool, string) {
	if email == "" {
		return false, "Authentication required"
	}
	if ac.IsAdmin(email) {
		return true, ""
	}
	policy := ac.r.GetAccessPolicy()
	if policy == nil {
		return true, ""
	}
	if override, ok := policy.Users[normalizeEmail(email)]; ok {
		if override.Access == "deny" {
			return false, policy.DefaultDenyMessage
		}
		return true, ""
	}
	if policy.DefaultPolicy == "deny" {
		return false, policy.DefaultDenyMessage
	}
	return true, ""
}

// IsAdmin checks if a user has admin privileges.
func (ac *AccessControl) IsAdmin(email string) bool {
	email = normalizeEmail(email)
	if email == "" {
		return false
	}
	if ac.bootstrapAdmin != "" && email == ac.bootstrapAdmin {
		return true
	}
	policy := ac.r.GetAccessPolicy()
	if policy == nil {
		return false
	}
	for _, admin := range policy.Admins {
		if strings.EqualFold(admin, email) {
			return true
		}
	}
	return false
}

// GetUserQuotas returns the effective max games and teams for a user. Zero
// means unlimited.
func (ac *AccessControl) GetUserQuotas(email string) (maxGames, maxTeams int) {
	policy := ac.r.GetAccessPolicy()
	if policy == nil {
		return 0, 0
	}
	maxGames, maxTeams = policy.DefaultMaxGames, policy.DefaultMaxTeams
	if override, ok := policy.Users[normalizeEmail(email)]; ok {
		if override.MaxGames != 0 {
			maxGames = override.MaxGames
		}
		if override.MaxTeams != 0 {
			maxTeams = override.MaxTeams
		}
	}
	return maxGames, maxTeams
}

func checkLimit(kind string, limit, current int) error {
	// A limit of 0 means unlimited. A negative limit means none.
	if limit != 0 && current >= limit {
		return fmt.Errorf("%w: %s limit reached (%d)", ErrForbidden, kind, max(limit, 0))
	}
	return nil
}

// CheckGameQuota verifies that a user may create one more game.
func (ac *AccessControl) CheckGameQuota(email string, currentCount int) error {
	limit, _ := ac.GetUserQuotas(email)
	return checkLimit("game", limit, currentCount)
}

// CheckTeamQuota verifies that a user may create one more team.
func (ac *AccessControl) CheckTeamQuota(email string, currentCount int) error {
	_, limit := ac.GetUserQuotas(email)
	return checkLimit("team", limit, currentCount)
}

// CanCreateGame combines the entitlement and quota checks for a new game.
// Admins are always entitled.
func (ac *AccessControl) CanCreateGame(email string, paid bool) error {
	if ac.requirePaid && !paid && !ac.IsAdmin(email) {
		return fmt.Errorf("%w: creating games requires a paid account", ErrForbidden)
	}
	return ac.CheckGameQuota(email, ac.r.CountOwnedGames(email))
}
