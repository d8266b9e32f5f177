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

import "time"

// Versions reported by cluster nodes and stamped on stored records.
const (
	CurrentSchemaVersion   = 1
	CurrentProtocolVersion = 1
	CurrentAppVersion      = "0.1.0"
)

// Request body limits.
const (
	maxBodyBytes     = 1 << 20
	maxGameBodyBytes = 4 << 20
)

// Redis cache lifetimes of a published game state.
const (
	LiveGameTTL  = 2 * time.Hour
	FinalGameTTL = 6 * time.Hour
)

const (
	statusDeleted = "deleted"
	policyFile    = "sys_access_policy"
)
