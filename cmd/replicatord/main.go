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

// Command replicatord runs a single replication-core node: it dials the
// group communication sequencer, wires a replicator.Core to an apply
// target, and runs the action dispatch loop until signaled to stop.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/galera-go/replicator/internal/core/cache/memcache"
	"github.com/galera-go/replicator/internal/core/config"
	"github.com/galera-go/replicator/internal/core/dbms"
	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/core/replicator"
	"github.com/galera-go/replicator/internal/core/trx"
	"github.com/galera-go/replicator/internal/core/view"
	"github.com/galera-go/replicator/internal/gcs/client"
	"github.com/galera-go/replicator/internal/ist"
	"github.com/galera-go/replicator/internal/util/stopper"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Fatal("replicatord exiting")
	}
}

func run() error {
	cfg := &config.Config{}
	cfg.Bind(pflag.CommandLine)
	graPath := pflag.String("grastate_file", "grastate.dat", "path to the persisted position file")
	clusterName := pflag.String("cluster_name", "", "the cluster name to join")
	targetDSN := pflag.String("target_dsn", "", "data source name for the embedding DBMS's apply connection")
	targetProduct := pflag.String("target_product", "cockroachdb", "one of cockroachdb, postgresql, mysql")
	pflag.Parse()

	if cfg.ConfigFile != "" {
		fileCfg, err := config.LoadFile(cfg.ConfigFile)
		if err != nil {
			return errors.Wrap(err, "replicatord: load config file")
		}
		cfg = fileCfg
	}

	if err := cfg.Preflight(); err != nil {
		return errors.Wrap(err, "replicatord: invalid configuration")
	}

	st, err := config.ReadGraState(*graPath)
	if err != nil {
		return errors.Wrap(err, "replicatord: read grastate")
	}

	ctx := stopper.WithContext(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			log.Info("shutdown requested")
			ctx.Stop(0)
		case <-ctx.Stopping():
		}
	}()

	apply, err := openApplyConn(ctx, *targetProduct, *targetDSN)
	if err != nil {
		return errors.Wrap(err, "replicatord: open apply connection")
	}
	defer apply.Close()

	gcsConn, err := client.New(ctx, client.Config{Addr: cfg.BaseHost})
	if err != nil {
		return errors.Wrap(err, "replicatord: dial group communication")
	}

	id, err := st.GTID()
	if err != nil {
		return errors.Wrap(err, "replicatord: parse grastate position")
	}

	cb := config.Callbacks{
		View: func(_ context.Context, v view.View) error {
			log.WithField("status", v.Status).Info("view installed")
			return nil
		},
		Connected: func(context.Context) error { log.Info("connected"); return nil },
		Synced:    func(context.Context) error { log.Info("synced"); return nil },
		SSTRequest: func(context.Context) ([]byte, error) {
			return nil, errors.New("replicatord: SST donation not configured for this node")
		},
		SSTDonate: func(_ context.Context, req []byte, _ gtid.GTID) error {
			if cfg.ISTAuthHash != "" && !config.VerifySSTAuth(cfg.ISTAuthHash, string(req)) {
				return errors.New("replicatord: state transfer auth rejected")
			}
			return errors.New("replicatord: SST donation not configured for this node")
		},
		Apply: func(ctx context.Context, ts *trx.Slave) error {
			return applyWriteSet(ctx, apply, ts)
		},
	}

	cacheInst := memcache.New()
	ce := replicator.ProvideCertEngine()
	core, err := replicator.ProvideCore(gcsConn, cacheInst, ce, cb, st)
	if err != nil {
		return errors.Wrap(err, "replicatord: wire replicator core")
	}

	if _, err := ist.NewReceiver(ctx, ist.ReceiverConfig{
		ListenAddr: strings.TrimPrefix(cfg.ISTRecvAddr, "tcp://"),
		Cache:      cacheInst,
		MaxAction:  gcsConn.MaxActionSize(),
		Handler:    core.ISTHandler(),
	}); err != nil {
		return errors.Wrap(err, "replicatord: start IST receiver")
	}

	bootstrap := *clusterName == ""
	if err := gcsConn.Connect(ctx, *clusterName, cfg.ISTRecvAddr, bootstrap); err != nil {
		return errors.Wrap(err, "replicatord: connect to cluster")
	}
	if err := gcsConn.SetInitialPosition(ctx, id); err != nil {
		return errors.Wrap(err, "replicatord: report initial position")
	}

	log.WithFields(log.Fields{
		"base_host": cfg.BaseHost,
		"base_port": cfg.BasePort,
		"position":  id.String(),
	}).Info("replicatord starting")

	ctx.Go(func() error { return core.Process(ctx) })
	<-ctx.Stopping()
	ctx.Stop(0)
	return ctx.Err()
}

func openApplyConn(ctx context.Context, product, dsn string) (dbms.ApplyConn, error) {
	switch product {
	case "postgresql":
		return dbms.OpenPq(dsn)
	case "mysql":
		return dbms.OpenMySQL(dsn)
	default:
		return dbms.OpenPgx(ctx, dsn)
	}
}

func applyWriteSet(ctx context.Context, conn dbms.ApplyConn, ts *trx.Slave) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "replicatord: begin apply transaction")
	}
	if err := tx.Exec(ctx, string(ts.Action)); err != nil {
		_ = tx.Rollback(ctx)
		return errors.Wrap(err, "replicatord: apply write-set")
	}
	return errors.Wrap(tx.Commit(ctx), "replicatord: commit write-set")
}
