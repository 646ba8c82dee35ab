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

	_ "github.com/go-sql-driver/mysql" // register driver
	"github.com/pkg/errors"
)

// MySQLConn is the ApplyConn adapter for a MySQL-family embedding DBMS,
// over database/sql + go-sql-driver/mysql. OpenMySQL opens the pool and
// pings it once; it makes no server-version probe.
type MySQLConn struct {
	db *sql.DB
}

var _ ApplyConn = (*MySQLConn)(nil)

// OpenMySQL opens a go-sql-driver-backed ApplyConn.
func OpenMySQL(dataSourceName string) (*MySQLConn, error) {
	db, err := sql.Open("mysql", dataSourceName)
	if err != nil {
		return nil, errors.Wrap(err, "dbms: open mysql pool")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "dbms: ping mysql pool")
	}
	return &MySQLConn{db: db}, nil
}

func (c *MySQLConn) Product() Product { return ProductMySQL }

func (c *MySQLConn) Close() error { return c.db.Close() }

func (c *MySQLConn) Begin(ctx context.Context) (ApplyTx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dbms: begin mysql transaction")
	}
	return &sqlTx{tx: tx}, nil
}
