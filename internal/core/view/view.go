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

// Package view describes a primary component of the cluster at a
// moment in time.
package view

import "github.com/galera-go/replicator/internal/core/gtid"

// Status describes whether a View is a primary component capable of
// processing transactions.
type Status int

// The two possible statuses of a View.
const (
	NonPrimary Status = iota
	Primary
)

func (s Status) String() string {
	if s == Primary {
		return "PRIMARY"
	}
	return "NON_PRIMARY"
}

// Member describes one node within a View.
type Member struct {
	ID           gtid.GroupID
	Name         string
	Incoming     string
	ProtoVersion int
}

// A View is a membership list stamped with a monotone id while the
// cluster remains primary.
type View struct {
	Members      []Member
	ID           int64 // monotone while Status == Primary
	Status       Status
	Capabilities uint32
	MyIdx        int
}

// Empty returns the zero-member, non-primary view used when a node
// leaves the cluster or is marked corrupt.
func Empty() View {
	return View{Status: NonPrimary, MyIdx: -1}
}

// Contains reports whether id appears in the view's membership.
func (v View) Contains(id gtid.GroupID) bool {
	for _, m := range v.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Self returns the Member describing this node, if MyIdx is valid.
func (v View) Self() (Member, bool) {
	if v.MyIdx < 0 || v.MyIdx >= len(v.Members) {
		return Member{}, false
	}
	return v.Members[v.MyIdx], true
}

// IsSelfLeave reports whether this view represents the node departing
// the cluster on its own (a negative conf id with no membership).
func (v View) IsSelfLeave() bool {
	return v.ID < 0 && len(v.Members) == 0
}
