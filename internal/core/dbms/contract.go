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

// Package dbms describes the contract between the replication core and
// the embedding DBMS's local transaction manager. The core only needs
// to begin a transaction, hand pre-formed SQL to it, and commit or roll
// it back in step with the commit monitor; query planning, encoding,
// and schema awareness all live outside this module, per §1's
// non-goals. Three adapters satisfy the same contract over different
// drivers, mirroring the teacher's pgx (CockroachDB)/lib-pq
// (PostgreSQL)/go-sql-driver (MySQL) split.
package dbms

import "context"

// Product names the family of embedding DBMS a connection belongs to,
// used only for logging and version probing.
type Product int

// The DBMS families this module ships an ApplyConn adapter for.
const (
	ProductUnknown Product = iota
	ProductCockroachDB
	ProductPostgreSQL
	ProductMySQL
)

func (p Product) String() string {
	switch p {
	case ProductCockroachDB:
		return "cockroachdb"
	case ProductPostgreSQL:
		return "postgresql"
	case ProductMySQL:
		return "mysql"
	default:
		return "unknown"
	}
}

// ApplyConn is the external collaborator a certified write-set's
// apply-monitor stage executes pre-formed statements against, one
// target transaction per write-set. The apply callback (config.
// Callbacks.Apply) receives a *trx.Slave and is expected to open one of
// these, run ts.Action's statements, and Commit before returning.
type ApplyConn interface {
	// Begin opens a local transaction scoped to a single write-set
	// apply. It must not be shared across concurrently-applying
	// write-sets (the apply monitor already admits disjoint write-sets
	// in parallel, so each needs its own connection/transaction).
	Begin(ctx context.Context) (ApplyTx, error)

	// Product reports which DBMS family this connection targets.
	Product() Product

	// Close releases the underlying pool.
	Close() error
}

// ApplyTx is the minimal surface a single write-set's apply needs: run
// statements, then commit or roll back.
type ApplyTx interface {
	Exec(ctx context.Context, stmt string, args ...any) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
