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

package dbms

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PgxConn is the ApplyConn adapter for a CockroachDB-family embedding
// DBMS, following the teacher's types.StagingPool pattern of wrapping a
// *pgxpool.Pool directly rather than re-deriving its API.
type PgxConn struct {
	pool *pgxpool.Pool
}

var _ ApplyConn = (*PgxConn)(nil)

// OpenPgx opens a pgxpool-backed ApplyConn.
func OpenPgx(ctx context.Context, connString string) (*PgxConn, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "dbms: open pgx pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "dbms: ping pgx pool")
	}
	return &PgxConn{pool: pool}, nil
}

func (c *PgxConn) Product() Product { return ProductCockroachDB }

func (c *PgxConn) Close() error {
	c.pool.Close()
	return nil
}

func (c *PgxConn) Begin(ctx context.Context) (ApplyTx, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "dbms: begin pgx transaction")
	}
	return &pgxTx{tx: tx}, nil
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Exec(ctx context.Context, stmt string, args ...any) error {
	_, err := t.tx.Exec(ctx, stmt, args...)
	return errors.Wrap(err, "dbms: pgx exec")
}

func (t *pgxTx) Commit(ctx context.Context) error {
	return errors.Wrap(t.tx.Commit(ctx), "dbms: pgx commit")
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	return errors.Wrap(t.tx.Rollback(ctx), "dbms: pgx rollback")
}
