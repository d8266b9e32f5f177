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
	"testing"
)

func newTestAccessControl(t *testing.T, policy *UserAccessPolicy, requirePaid bool) (*AccessControl, *testEnv) {
	t.Helper()
	e := newTestEnv(t)
	if policy != nil {
		e.reg.UpdateAccessPolicy(policy)
	}
	return NewAccessControl(e.reg, "Root@Example.com", requirePaid), e
}

func TestAccessControlIsAllowed(t *testing.T) {
	policy := &UserAccessPolicy{
		DefaultPolicy:      "deny",
		DefaultDenyMessage: "invite only",
		Admins:             []string{"ops@example.com"},
		Users: map[string]UserOverride{
			"friend@example.com": {Access: "allow"},
			"banned@example.com": {Access: "deny"},
		},
	}
	ac, _ := newTestAccessControl(t, policy, false)

	tests := []struct {
		email   string
		allowed bool
		msg     string
	}{
		{"", false, "Authentication required"},
		{"root@example.com", true, ""},
		{"OPS@example.com", true, ""},
		{"Friend@Example.com", true, ""},
		{"banned@example.com", false, "invite only"},
		{"stranger@example.com", false, "invite only"},
	}
	for _, tc := range tests {
		allowed, msg := ac.IsAllowed(tc.email)
		if allowed != tc.allowed || msg != tc.msg {
			t.Errorf("IsAllowed(%q) = %v, %q; want %v, %q", tc.email, allowed, msg, tc.allowed, tc.msg)
		}
	}

	// Without a policy everyone is allowed.
	open, _ := newTestAccessControl(t, nil, false)
	if allowed, _ := open.IsAllowed("stranger@example.com"); !allowed {
		t.Error("stranger denied without a policy")
	}
	if open.IsAdmin("stranger@example.com") {
		t.Error("stranger is admin without a policy")
	}
	if !open.IsAdmin(" ROOT@example.com") {
		t.Error("bootstrap admin not recognized")
	}
}

func TestAccessControlQuotas(t *testing.T) {
	policy := &UserAccessPolicy{
		DefaultMaxGames: 2,
		DefaultMaxTeams: 1,
		Users: map[string]UserOverride{
			"big@example.com":  {MaxGames: 10},
			"none@example.com": {MaxGames: -1, MaxTeams: -1},
		},
	}
	ac, e := newTestAccessControl(t, policy, false)

	if g, tm := ac.GetUserQuotas("someone@example.com"); g != 2 || tm != 1 {
		t.Errorf("default quotas = %d, %d", g, tm)
	}
	if g, tm := ac.GetUserQuotas("big@example.com"); g != 10 || tm != 1 {
		t.Errorf("override quotas = %d, %d", g, tm)
	}

	if err := ac.CheckGameQuota("someone@example.com", 1); err != nil {
		t.Errorf("CheckGameQuota under limit: %v", err)
	}
	if err := ac.CheckGameQuota("someone@example.com", 2); !errors.Is(err, ErrForbidden) {
		t.Errorf("CheckGameQuota at limit: got %v, want ErrForbidden", err)
	}
	if err := ac.CheckTeamQuota("none@example.com", 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("CheckTeamQuota with negative limit: got %v, want ErrForbidden", err)
	}

	// CanCreateGame counts the games the registry knows about.
	team := e.newTeam(t)
	e.newGame(t, team.ID, "Tigers", "2025-05-01")
	e.newGame(t, team.ID, "Lions", "2025-05-02")
	if err := ac.CanCreateGame(testOwner, true); !errors.Is(err, ErrForbidden) {
		t.Errorf("CanCreateGame over quota: got %v, want ErrForbidden", err)
	}

	unlimited, _ := newTestAccessControl(t, nil, false)
	if err := unlimited.CheckGameQuota("someone@example.com", 1000); err != nil {
		t.Errorf("CheckGameQuota without a policy: %v", err)
	}
}

func TestAccessControlRequirePaid(t *testing.T) {
	ac, _ := newTestAccessControl(t, nil, true)
	if err := ac.CanCreateGame("free@example.com", false); !errors.Is(err, ErrForbidden) {
		t.Errorf("unpaid CanCreateGame: got %v, want ErrForbidden", err)
	}
	if err := ac.CanCreateGame("paid@example.com", true); err != nil {
		t.Errorf("paid CanCreateGame: %v", err)
	}
	if err := ac.CanCreateGame("root@example.com", false); err != nil {
		t.Errorf("admin CanCreateGame: %v", err)
	}
}
