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

	"github.com/galera-go/replicator/internal/core/gtid"
)

// Slave is the replicated view of a write-set: the certification engine
// and applier threads operate on a Slave, never on the originating
// Master. A Master that certifies locally owns a reference-counted
// Slave handle; the Slave itself keeps only the non-owning Ident of its
// Master, never a pointer back, so the two can be freed independently.
type Slave struct {
	Ident Ident
	Flags Flag

	// Keys are the raw certification keys carried by the write-set; the
	// engine fingerprints each one when it certifies the write-set.
	Keys [][]byte

	// Action is the applier payload bytes.
	Action []byte

	refs int32 // atomic

	mu struct {
		sync.Mutex
		state         SlaveState
		globalSeqno   gtid.GlobalSeqno
		localSeqno    gtid.LocalSeqno
		dependsSeqno  gtid.GlobalSeqno
		lastSeenSeqno gtid.GlobalSeqno
	}
}

// NewSlave returns a Slave in the REPLICATING state with one reference
// held by the caller.
func NewSlave(ident Ident, flags Flag, keys [][]byte) *Slave {
	s := &Slave{Ident: ident, Flags: flags, Keys: keys, refs: 1}
	s.mu.state = SlaveReplicating
	s.mu.globalSeqno = gtid.Undefined
	s.mu.dependsSeqno = gtid.Undefined
	s.mu.lastSeenSeqno = gtid.Undefined
	return s
}

// Ref increments the reference count. It is called whenever a new
// collaborator (the certification index, an apply-monitor waiter, ...)
// retains a handle to this write-set.
func (s *Slave) Ref() { atomic.AddInt32(&s.refs, 1) }

// Unref decrements the reference count and reports whether this was the
// last reference, in which case the caller should discard the handle
// and release any associated cache.Buffer.
func (s *Slave) Unref() bool {
	return atomic.AddInt32(&s.refs, -1) == 0
}

// State returns the slave's current state.
func (s *Slave) State() SlaveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.state
}

// Shift validates and applies a state transition.
func (s *Slave) Shift(to SlaveState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mu.state.validate(to); err != nil {
		return err
	}
	s.mu.state = to
	return nil
}

// SetSeqnos records the position this write-set was assigned by total
// order: its global seqno, its local (per-node receive) seqno, and the
// global seqno of the last write-set it depends on for parallel apply.
func (s *Slave) SetSeqnos(global gtid.GlobalSeqno, local gtid.LocalSeqno, depends gtid.GlobalSeqno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.globalSeqno = global
	s.mu.localSeqno = local
	s.mu.dependsSeqno = depends
}

// GlobalSeqno returns the global sequence number assigned to this
// write-set, or gtid.Undefined before SetSeqnos has been called.
func (s *Slave) GlobalSeqno() gtid.GlobalSeqno {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.globalSeqno
}

// LocalSeqno returns the local receive-order sequence number.
func (s *Slave) LocalSeqno() gtid.LocalSeqno {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.localSeqno
}

// DependsSeqno returns the global seqno of the last write-set this one
// must wait behind during parallel apply.
func (s *Slave) DependsSeqno() gtid.GlobalSeqno {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.dependsSeqno
}

// SetLastSeenSeqno records the highest global seqno the certifying node
// had already applied when this write-set was replicated, used by the
// certification engine to bound how far back it needs to check keys.
func (s *Slave) SetLastSeenSeqno(seqno gtid.GlobalSeqno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.lastSeenSeqno = seqno
}

// LastSeenSeqno returns the value set by SetLastSeenSeqno.
func (s *Slave) LastSeenSeqno() gtid.GlobalSeqno {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.lastSeenSeqno
}
