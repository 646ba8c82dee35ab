// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package gcs

import (
	"github.com/galera-go/replicator/internal/core/gtid"
)

// ActionType distinguishes the kinds of action the group communication
// layer delivers through Recv, mirroring gcs_act_type_t.
type ActionType int

// The action types the core's dispatch loop switches on.
const (
	ActionUnknown ActionType = iota
	ActionWriteSet
	ActionCommitCut
	ActionConfigChange
	ActionStateRequest
	ActionJoin
	ActionSync
	ActionVote
	ActionInconsistency
)

func (t ActionType) String() string {
	switch t {
	case ActionWriteSet:
		return "WRITESET"
	case ActionCommitCut:
		return "COMMIT_CUT"
	case ActionConfigChange:
		return "CONFIG_CHANGE"
	case ActionStateRequest:
		return "STATE_REQUEST"
	case ActionJoin:
		return "JOIN"
	case ActionSync:
		return "SYNC"
	case ActionVote:
		return "VOTE"
	case ActionInconsistency:
		return "INCONSISTENCY"
	default:
		return "UNKNOWN"
	}
}

// Action is a single delivered group-communication event: the Go
// analogue of gcs_action, which is a tagged union in the original.
type Action struct {
	Type        ActionType
	LocalSeqno  gtid.LocalSeqno
	GlobalSeqno gtid.GlobalSeqno // defined for every action once total order is known, per §3
	Payload     []byte

	// View is only populated when Type == ActionConfigChange.
	View *ConfigChange
}

// ConfigChange carries the fields the cc package needs out of a
// delivered configuration-change action; it is a thin projection of
// view.View plus the protocol metadata the original passes alongside
// gcs_act_conf_t.
type ConfigChange struct {
	Members      []Member
	ConfID       int64
	MyIdx        int
	ProtoVer     int
	AppliedSeqno gtid.GlobalSeqno
	Primary      bool
}

// Member mirrors the per-node fields carried in a gcs_act_conf_t view.
type Member struct {
	ID       gtid.GroupID
	Name     string
	Incoming string
}
