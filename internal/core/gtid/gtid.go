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

// Package gtid defines the sequence-number and group-identity types
// that the replication core orders write-sets by.
package gtid

import (
	"strconv"

	"github.com/google/uuid"
)

// GlobalSeqno is a 64-bit identifier assigned by group communication in
// total order across the cluster.
type GlobalSeqno int64

// LocalSeqno is a 64-bit identifier assigned by group communication,
// unique per delivering node.
type LocalSeqno int64

// Undefined is the reserved value meaning "no seqno".
const Undefined = -1

// UndefinedGlobal and UndefinedLocal are the typed forms of Undefined.
const (
	UndefinedGlobal = GlobalSeqno(Undefined)
	UndefinedLocal  = LocalSeqno(Undefined)
)

// IsDefined reports whether g is a real, assigned seqno.
func (g GlobalSeqno) IsDefined() bool { return g != UndefinedGlobal }

// IsDefined reports whether l is a real, assigned seqno.
func (l LocalSeqno) IsDefined() bool { return l != UndefinedLocal }

// GroupID is the 128-bit identifier of a cluster incarnation. It
// changes on every non-primary/primary transition.
type GroupID uuid.UUID

// NilGroupID is the zero-value group, used before a primary component
// has ever formed.
var NilGroupID = GroupID(uuid.Nil)

// NewGroupID returns a freshly generated, random group identifier.
func NewGroupID() GroupID {
	return GroupID(uuid.New())
}

// ParseGroupID parses the canonical string form of a GroupID.
func ParseGroupID(s string) (GroupID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GroupID{}, err
	}
	return GroupID(u), nil
}

func (g GroupID) String() string { return uuid.UUID(g).String() }

// GTID is a group transaction id: the pair (uuid, g).
type GTID struct {
	Group GroupID
	Seqno GlobalSeqno
}

// UndefinedGTID returns the GTID representing "no position in no group".
func UndefinedGTID() GTID {
	return GTID{Group: NilGroupID, Seqno: UndefinedGlobal}
}

// SameHistory reports whether a and b describe positions within the
// same cluster incarnation.
func (a GTID) SameHistory(b GTID) bool {
	return a.Group == b.Group
}

// Compare orders two GTIDs from the same history by their Seqno. It
// panics if the two GTIDs belong to different histories, since ordering
// across histories is meaningless; callers must check SameHistory
// first.
func (a GTID) Compare(b GTID) int {
	if !a.SameHistory(b) {
		panic("gtid: Compare called across different group histories")
	}
	switch {
	case a.Seqno < b.Seqno:
		return -1
	case a.Seqno > b.Seqno:
		return 1
	default:
		return 0
	}
}

func (a GTID) String() string {
	return a.Group.String() + ":" + strconv.FormatInt(int64(a.Seqno), 10)
}
