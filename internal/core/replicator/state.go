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

// Package replicator implements the node-lifecycle state machine and
// the action dispatch loop that turns a group-communication stream into
// certified, applied, and committed write-sets.
package replicator

import "github.com/pkg/errors"

// State is a node's position in its own lifecycle, independent of the
// certification state of any particular transaction.
type State int

// The states a Core passes through, per the node lifecycle
// CLOSED->CONNECTED->JOINING->JOINED->SYNCED, with DONOR entered and
// left while serving as a state-transfer donor.
const (
	Destroyed State = iota
	Closed
	Connected
	Joining
	Joined
	Synced
	Donor
)

func (s State) String() string {
	switch s {
	case Destroyed:
		return "DESTROYED"
	case Closed:
		return "CLOSED"
	case Connected:
		return "CONNECTED"
	case Joining:
		return "JOINING"
	case Joined:
		return "JOINED"
	case Synced:
		return "SYNCED"
	case Donor:
		return "DONOR"
	default:
		return "UNKNOWN"
	}
}

// transitions is built once and describes every legal state edge.
var transitions map[State]map[State]bool

func init() {
	transitions = map[State]map[State]bool{
		Closed:    {Connected: true, Destroyed: true},
		Connected: {Joining: true, Closed: true, Destroyed: true},
		Joining:   {Joined: true, Connected: true, Closed: true, Destroyed: true},
		Joined:    {Synced: true, Donor: true, Connected: true, Closed: true, Destroyed: true},
		Synced:    {Donor: true, Connected: true, Closed: true, Destroyed: true},
		Donor:     {Joined: true, Connected: true, Closed: true, Destroyed: true},
	}
}

// validate reports an error if the from->to edge is not a legal
// transition.
func (s State) validate(to State) error {
	if transitions[s][to] {
		return nil
	}
	return errors.Errorf("replicator: illegal state transition %s -> %s", s, to)
}

// isAboveConnected reports whether s is one of the states above
// CONNECTED: JOINING, JOINED, SYNCED or DONOR (used by shiftTo to decide
// whether entering CONNECTED fires the Connected callback).
func (s State) isAboveConnected() bool {
	switch s {
	case Joining, Joined, Synced, Donor:
		return true
	default:
		return false
	}
}
