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

// Package gcs defines the contract between the replication core and the
// group communication layer that actually orders and delivers
// write-sets across the cluster, translating the original's GcsI
// (galera_gcs.hpp) into idiomatic Go.
package gcs

import (
	"context"

	"github.com/galera-go/replicator/internal/core/gtid"
)

// WriteSetVector is a scatter/gather list of write-set fragments handed
// to SendV/ReplV, the Go analogue of WriteSetNG::GatherVector.
type WriteSetVector [][]byte

// GCS is the full surface the core needs from a group communication
// provider: connection lifecycle, message delivery, replication calls,
// flow control, state transfer requests, and node voting.
type GCS interface {
	// Connect joins clusterName at clusterURL, optionally bootstrapping
	// a new cluster if one does not already exist.
	Connect(ctx context.Context, clusterName, clusterURL string, bootstrap bool) error

	// SetInitialPosition tells the provider the GTID this node is
	// starting from, so it can compute how far behind it is.
	SetInitialPosition(ctx context.Context, id gtid.GTID) error

	// Close releases the connection. It is idempotent.
	Close(ctx context.Context) error

	// Recv blocks until the next action is available.
	Recv(ctx context.Context) (Action, error)

	// SendV and Send broadcast a message without requesting total-order
	// delivery back to the sender (non-replicating send).
	SendV(ctx context.Context, act WriteSetVector, typ ActionType, scheduled, grab bool) error
	Send(ctx context.Context, act []byte, typ ActionType, scheduled bool) error

	// ReplV and Repl broadcast a message and block until it comes back
	// through Recv in total order, returning the LocalSeqno it was
	// assigned.
	ReplV(ctx context.Context, act WriteSetVector, typ ActionType, scheduled bool) (gtid.LocalSeqno, error)
	Repl(ctx context.Context, act []byte, typ ActionType, scheduled bool) (gtid.LocalSeqno, error)

	// Caused blocks until a causal barrier identified by gtid has been
	// observed by this node's own Recv stream, or the context expires.
	Caused(ctx context.Context, id gtid.GTID) error

	// Schedule reserves a slot for a future Repl/ReplV call, returning a
	// handle Interrupt can later cancel.
	Schedule(ctx context.Context) (int64, error)
	Interrupt(ctx context.Context, handle int64) error

	// ResumeRecv un-pauses a Recv loop previously blocked by flow
	// control.
	ResumeRecv(ctx context.Context) error

	// RequestStateTransfer asks the group to designate a donor and
	// stream state (SST or IST) starting at istGTID, returning the
	// local seqno the request itself was ordered at.
	RequestStateTransfer(
		ctx context.Context, version int, req []byte, donor string, istGTID gtid.GTID,
	) (gtid.LocalSeqno, error)

	// Desync requests this node leave the flow-controlled set
	// temporarily (to act as a donor), returning the local seqno the
	// desync was ordered at.
	Desync(ctx context.Context) (gtid.LocalSeqno, error)

	// Join announces this node has finished joining (SST/IST complete)
	// at the given GTID; code carries a provider-specific success/error
	// status.
	Join(ctx context.Context, id gtid.GTID, code int) error

	// LocalSequence returns the highest local seqno this node has seen,
	// without blocking.
	LocalSequence() gtid.LocalSeqno

	// SetLastApplied reports the highest GTID this node has applied, for
	// use in donor selection during later state transfers.
	SetLastApplied(ctx context.Context, id gtid.GTID) error

	// Vote casts this node's opinion (code, plus optional data) on the
	// outcome of the transaction identified by gtid, for use in
	// consistency-voting protocols.
	Vote(ctx context.Context, id gtid.GTID, code uint64, data []byte) error

	// ParamGet and ParamSet read and write provider-specific runtime
	// parameters.
	ParamGet(ctx context.Context, key string) (string, error)
	ParamSet(ctx context.Context, key, value string) error

	// MaxActionSize returns the largest single action the provider will
	// transport.
	MaxActionSize() int
}
