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

package replicator

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/galera-go/replicator/internal/core/cache"
	"github.com/galera-go/replicator/internal/core/cc"
	"github.com/galera-go/replicator/internal/core/cert"
	"github.com/galera-go/replicator/internal/core/config"
	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/core/monitor"
	"github.com/galera-go/replicator/internal/core/view"
	"github.com/galera-go/replicator/internal/gcs"
)

// Core is the replication core: it owns the node's lifecycle state, the
// three ordering monitors, the certification engine, and the
// configuration-change processor, and drives them from the action
// dispatch loop in dispatch.go.
type Core struct {
	gcs   gcs.GCS
	cache cache.Cache
	cert  *cert.Engine
	cb    config.Callbacks
	cc    *cc.Processor
	log   *log.Entry

	local  *monitor.Monitor[gtid.LocalSeqno]
	apply  *monitor.ApplyMonitor
	commit *monitor.Monitor[gtid.GlobalSeqno]

	mu struct {
		sync.Mutex
		state   State
		corrupt bool
	}
}

// New wires a Core from its collaborators. protoVer is the transaction
// protocol version this node starts at, normally read back from
// grastate.dat.
func New(g gcs.GCS, c cache.Cache, ce *cert.Engine, cb config.Callbacks, protoVer int) *Core {
	core := &Core{
		gcs:    g,
		cache:  c,
		cert:   ce,
		cb:     cb,
		log:    log.WithField("component", "replicator"),
		local:  monitor.New[gtid.LocalSeqno]("local", gtid.UndefinedLocal),
		apply:  monitor.NewApply(gtid.UndefinedGlobal),
		commit: monitor.New[gtid.GlobalSeqno]("commit", gtid.UndefinedGlobal),
	}
	core.mu.state = Closed

	hooks := cc.Hooks{
		ShiftConnected:   func(ctx context.Context) error { return core.shiftTo(ctx, Connected) },
		ShiftJoining:     func(ctx context.Context) error { return core.shiftTo(ctx, Joining) },
		ShiftJoined:      func(ctx context.Context) error { return core.shiftTo(ctx, Joined) },
		ShiftDonor:       func(ctx context.Context) error { return core.shiftTo(ctx, Donor) },
		ShiftClosed:      func(ctx context.Context) error { return core.shiftTo(ctx, Closed) },
		IsAboveConnected: core.isAboveConnected,
		IsCorrupt:        core.isCorrupt,
		DrainAll:         core.drainAll,
	}
	core.cc = cc.New(core.local, core.apply, core.commit, ce, c, cb, hooks, protoVer)
	return core
}

// State returns the node's current lifecycle state.
func (r *Core) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.state
}

func (r *Core) isAboveConnected() bool {
	return r.State().isAboveConnected()
}

func (r *Core) isCorrupt() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.corrupt
}

// shiftTo validates and applies a lifecycle transition, logging exactly
// as the teacher's resolver logs a retirement-watermark advance.
func (r *Core) shiftTo(ctx context.Context, to State) error {
	r.mu.Lock()
	from := r.mu.state
	if err := from.validate(to); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.state = to
	r.mu.Unlock()

	r.log.WithFields(log.Fields{"from": from, "to": to}).Info("state shift")
	if to == Connected && !from.isAboveConnected() {
		if err := r.cb.Connected(ctx); err != nil {
			return errors.Wrap(err, "replicator: connected callback")
		}
	}
	if to == Synced {
		if err := r.cb.Synced(ctx); err != nil {
			return errors.Wrap(err, "replicator: synced callback")
		}
	}
	return nil
}

// markCorrupt drains every monitor, then leaves the cluster via a
// generated empty view, per §4.2's corruption-handling requirement.
// Process calls it whenever dispatch returns a fatal error, including
// an inconsistency voted by the group.
func (r *Core) markCorrupt(ctx context.Context) error {
	r.mu.Lock()
	r.mu.corrupt = true
	r.mu.Unlock()

	if err := r.drainAll(ctx); err != nil {
		r.log.WithError(err).Warn("drain failed while marking corrupt")
	}
	if err := r.cb.View(ctx, view.Empty()); err != nil {
		return errors.Wrap(err, "replicator: view callback during corruption")
	}
	return r.shiftTo(ctx, Closed)
}

// drainAll calls Drain on each of the three ordering monitors with that
// monitor's own current LastLeft as the target. Drain returns once
// LastLeft has reached the target, which it already has, so drainAll
// does not wait for holders that are still inside a monitor to leave.
// The three calls run concurrently via errgroup.
func (r *Core) drainAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return errors.Wrap(r.local.Drain(gctx, r.local.LastLeft()), "replicator: drain local monitor")
	})
	g.Go(func() error {
		return errors.Wrap(r.apply.Drain(gctx, r.apply.LastLeft()), "replicator: drain apply monitor")
	})
	g.Go(func() error {
		return errors.Wrap(r.commit.Drain(gctx, r.commit.LastLeft()), "replicator: drain commit monitor")
	})
	return g.Wait()
}
