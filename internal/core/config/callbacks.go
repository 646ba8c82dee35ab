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

package config

import (
	"context"

	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/core/trx"
	"github.com/galera-go/replicator/internal/core/view"
)

// Callbacks is the set of functions the embedder supplies to the core.
// A struct-of-funcs is used rather than a one-method-per-interface set
// because the embedder only ever contributes behavior here, never
// state to hold alongside it.
type Callbacks struct {
	// View is invoked whenever a new view.View has been installed,
	// including the empty view surfaced when the node leaves or is
	// marked corrupt.
	View func(ctx context.Context, v view.View) error

	// Connected fires each time the node shifts into CONNECTED from a
	// state that is not above CONNECTED (that is, from CLOSED), so a
	// reconnect after CLOSED fires it again.
	Connected func(ctx context.Context) error

	// SSTRequest asks the embedder to produce (or locate) a state
	// snapshot transfer request payload describing how a donor should
	// send this node a full snapshot.
	SSTRequest func(ctx context.Context) ([]byte, error)

	// Apply hands a certified write-set to the embedder's applier.
	Apply func(ctx context.Context, ts *trx.Slave) error

	// Unordered delivers a payload that bypassed total-order delivery
	// (schema-change broadcasts and the like).
	Unordered func(ctx context.Context, data []byte) error

	// SSTDonate asks the embedder to act as a state donor for req,
	// streaming a snapshot as of id.
	SSTDonate func(ctx context.Context, req []byte, id gtid.GTID) error

	// Synced fires once the node has caught up and is ready to serve
	// consistent reads.
	Synced func(ctx context.Context) error
}
