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
	"database/sql"

	_ "github.com/lib/pq" // register driver
	"github.com/pkg/errors"
)

// PqConn is the ApplyConn adapter for a PostgreSQL-family embedding
// DBMS, over database/sql + lib/pq, the same driver/pool pairing
// sink.go's original resolved-timestamp writer used.
type PqConn struct {
	db *sql.DB
}

var _ ApplyConn = (*PqConn)(nil)

// OpenPq opens a lib/pq-backed ApplyConn.
func OpenPq(connString string) (*PqConn, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, errors.Wrap(err, "dbms: open pq pool")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "dbms: ping pq pool")
	}
	return &PqConn{db: db}, nil
}

func (c *PqConn) Product() Product { return ProductPostgreSQL }

func (c *PqConn) Close() error { return c.db.Close() }

func (c *PqConn) Begin(ctx context.Context) (ApplyTx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dbms: begin pq transaction")
	}
	return &sqlTx{tx: tx}, nil
}

// sqlTx adapts *sql.Tx to ApplyTx; shared by the pq and mysql adapters
// since both sit on database/sql.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Exec(ctx context.Context, stmt string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, stmt, args...)
	return errors.Wrap(err, "dbms: sql exec")
}

func (t *sqlTx) Commit(ctx context.Context) error {
	return errors.Wrap(t.tx.Commit(), "dbms: sql commit")
}

func (t *sqlTx) Rollback(ctx context.Context) error {
	return errors.Wrap(t.tx.Rollback(), "dbms: sql rollback")
}
