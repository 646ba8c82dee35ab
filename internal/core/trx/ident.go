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

// Package trx contains the per-transaction state kept on the master
// (client-facing) and slave (replicated) sides of the core, and the
// finite state machines that govern each.
package trx

import "github.com/galera-go/replicator/internal/core/gtid"

// Ident identifies a transaction independent of which node produced it:
// the triple (source_node, conn_id, trx_id). A Slave keeps only this
// non-owning identity for its master, never a pointer, per the
// ownership-direction design note: the master owns a reference-counted
// handle to the slave, the slave never owns the master back.
type Ident struct {
	Source gtid.GroupID
	ConnID int64
	TrxID  int64
}

// Flag is a bitmask describing properties of a write-set.
type Flag uint32

// The write-set flags the core understands.
const (
	FlagBegin Flag = 1 << iota
	FlagCommit
	FlagRollback
	FlagIsolation
	FlagPAUnsafe
	FlagPreOrdered
)

// Has reports whether all bits in want are set in f.
func (f Flag) Has(want Flag) bool { return f&want == want }
