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

import (
	"sync"
	"sync/atomic"

	"github.com/galera-go/replicator/internal/core/errs"
	"github.com/galera-go/replicator/internal/core/gtid"
)

// Master is the client-facing handle to a transaction: the one the
// local SQL layer drives through Execute/Replicate/Commit calls. It
// owns a reference-counted Slave handle once the write-set has been
// replicated, but it is never itself referenced by the Slave.
type Master struct {
	Ident Ident
	Flags Flag

	mustAbort  atomic.Bool
	bfSeqno    atomic.Int64 // gtid.GlobalSeqno of the preempting trx, once mustAbort is set

	mu struct {
		sync.Mutex
		state MasterState
		slave *Slave
	}
}

// NewMaster returns a Master in the EXECUTING state.
func NewMaster(ident Ident, flags Flag) *Master {
	m := &Master{Ident: ident, Flags: flags}
	m.mu.state = MasterExecuting
	m.bfSeqno.Store(int64(gtid.Undefined))
	return m
}

// State returns the master's current state.
func (m *Master) State() MasterState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.state
}

// Shift validates and applies a state transition.
func (m *Master) Shift(to MasterState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mu.state.validate(to); err != nil {
		return err
	}
	m.mu.state = to
	return nil
}

// AttachSlave associates the replicated Slave view with this Master
// once the write-set has been handed to the group communication layer.
// AttachSlave takes ownership of the caller's reference.
func (m *Master) AttachSlave(s *Slave) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mu.slave = s
}

// Slave returns the attached Slave view, if any.
func (m *Master) Slave() (*Slave, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.slave, m.mu.slave != nil
}

// MustAbort reports whether a brute-force abort has been requested and,
// if so, the global seqno of the preempting transaction.
func (m *Master) MustAbort() (bool, gtid.GlobalSeqno) {
	if !m.mustAbort.Load() {
		return false, gtid.Undefined
	}
	return true, gtid.GlobalSeqno(m.bfSeqno.Load())
}

// Abort requests a brute-force abort of this transaction on behalf of a
// certified write-set carrying bfSeqno. It implements the BF-abort
// contract: the victim is rejected with ErrNotAllowed if it has already
// committed (its own global seqno is defined and no larger than
// bfSeqno, and it carries the COMMIT flag), is already unwinding
// (ABORTING or REPLAYING), or has finished (COMMITTED or ROLLED_BACK);
// otherwise bfSeqno is recorded and the mustAbort flag is raised, for
// the victim's own thread to read through MustAbort.
func (m *Master) Abort(bfSeqno gtid.GlobalSeqno, victimSeqno gtid.GlobalSeqno) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.mu.state {
	case MasterAborting, MasterReplaying, MasterCommitted, MasterRolledBack:
		return errs.ErrNotAllowed
	}
	if victimSeqno != gtid.Undefined && victimSeqno <= bfSeqno && m.Flags.Has(FlagCommit) {
		return errs.ErrNotAllowed
	}

	m.bfSeqno.Store(int64(bfSeqno))
	m.mustAbort.Store(true)
	return nil
}

// ClearAbort resets the mustAbort flag once the victim has observed it
// and begun unwinding, so a subsequent Abort call (from a different
// preempting trx, during MUST_REPLAY) can be distinguished.
func (m *Master) ClearAbort() {
	m.mustAbort.Store(false)
	m.bfSeqno.Store(int64(gtid.Undefined))
}
