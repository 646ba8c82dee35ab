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

package trx

import "github.com/pkg/errors"

// MasterState is the lifecycle of a transaction as tracked by the
// client-facing (master) side of the core.
type MasterState int

// The states a Master transaction passes through.
const (
	MasterExecuting MasterState = iota
	MasterReplicating
	MasterCertifying
	MasterApplying
	MasterCommitting
	MasterMustAbort
	MasterAborting
	MasterMustReplay
	MasterReplaying
	MasterRollingBack
	MasterCommitted
	MasterRolledBack
)

func (s MasterState) String() string {
	switch s {
	case MasterExecuting:
		return "EXECUTING"
	case MasterReplicating:
		return "REPLICATING"
	case MasterCertifying:
		return "CERTIFYING"
	case MasterApplying:
		return "APPLYING"
	case MasterCommitting:
		return "COMMITTING"
	case MasterMustAbort:
		return "MUST_ABORT"
	case MasterAborting:
		return "ABORTING"
	case MasterMustReplay:
		return "MUST_REPLAY"
	case MasterReplaying:
		return "REPLAYING"
	case MasterRollingBack:
		return "ROLLING_BACK"
	case MasterCommitted:
		return "COMMITTED"
	case MasterRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// masterTrans is built once and describes every legal master-side
// transition. Any state not listed as a key has no outgoing edges other
// than the ones MUST_ABORT injects (see canAbortFrom).
var masterTrans = map[MasterState]map[MasterState]bool{
	MasterExecuting:    {MasterReplicating: true},
	MasterReplicating:  {MasterCertifying: true},
	MasterCertifying:   {MasterApplying: true, MasterAborting: true},
	MasterApplying:     {MasterCommitting: true},
	MasterCommitting:   {MasterCommitted: true},
	MasterCommitted:    {MasterExecuting: true}, // streaming replication fragments only
	MasterMustAbort:    {MasterAborting: true, MasterMustReplay: true},
	MasterAborting:     {MasterRollingBack: true},
	MasterMustReplay:   {MasterReplaying: true},
	MasterReplaying:    {MasterCommitting: true},
	MasterRollingBack:  {MasterRolledBack: true},
}

// canAbortFrom reports whether MUST_ABORT may be entered from from. Any
// state except COMMITTED and ROLLED_BACK is eligible, per spec §4.3.
func canAbortFrom(from MasterState) bool {
	return from != MasterCommitted && from != MasterRolledBack
}

// Validate reports an error if the from->to edge is not a legal master
// transition.
func (s MasterState) validate(to MasterState) error {
	if to == MasterMustAbort {
		if !canAbortFrom(s) {
			return errors.Errorf("trx: cannot MUST_ABORT from %s", s)
		}
		return nil
	}
	if masterTrans[s][to] {
		return nil
	}
	return errors.Errorf("trx: illegal master transition %s -> %s", s, to)
}

// SlaveState is the lifecycle of a transaction as tracked by the
// replicated (slave) side of the core.
type SlaveState int

// The states a Slave write-set passes through.
const (
	SlaveReplicating SlaveState = iota
	SlaveCertifying
	SlaveApplying
	SlaveReplaying
	SlaveCommitting
	SlaveAborting
	SlaveRollingBack
	SlaveCommitted
	SlaveRolledBack
)

func (s SlaveState) String() string {
	switch s {
	case SlaveReplicating:
		return "REPLICATING"
	case SlaveCertifying:
		return "CERTIFYING"
	case SlaveApplying:
		return "APPLYING"
	case SlaveReplaying:
		return "REPLAYING"
	case SlaveCommitting:
		return "COMMITTING"
	case SlaveAborting:
		return "ABORTING"
	case SlaveRollingBack:
		return "ROLLING_BACK"
	case SlaveCommitted:
		return "COMMITTED"
	case SlaveRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

var slaveTrans = map[SlaveState]map[SlaveState]bool{
	SlaveReplicating: {SlaveCertifying: true},
	SlaveCertifying:  {SlaveApplying: true, SlaveAborting: true},
	SlaveApplying:    {SlaveCommitting: true, SlaveReplaying: true},
	SlaveReplaying:   {SlaveCommitting: true},
	SlaveCommitting:  {SlaveCommitted: true},
	SlaveAborting:    {SlaveRollingBack: true},
	SlaveRollingBack: {SlaveRolledBack: true},
}

func (s SlaveState) validate(to SlaveState) error {
	if slaveTrans[s][to] {
		return nil
	}
	return errors.Errorf("trx: illegal slave transition %s -> %s", s, to)
}
