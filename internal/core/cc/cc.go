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

// Package cc processes configuration-change actions: new view
// installs, protocol version transitions, and the decision of whether a
// joining node needs a state transfer before it can resume ordinary
// write-set processing.
package cc

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/galera-go/replicator/internal/core/cache"
	"github.com/galera-go/replicator/internal/core/cert"
	"github.com/galera-go/replicator/internal/core/config"
	"github.com/galera-go/replicator/internal/core/errs"
	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/core/monitor"
	"github.com/galera-go/replicator/internal/core/view"
	"github.com/galera-go/replicator/internal/gcs"
)

// orderedCCProtoVersion is the protocol version at and above which
// configuration changes are delivered in order by IST itself, so the
// processor no longer needs to run further CC-triggered index resets
// once a state transfer has been issued (spec §4.6 step 3c).
const orderedCCProtoVersion = 6

// Hooks lets the processor drive the replicator's own state machine and
// query its corruption status without importing the replicator package,
// avoiding an import cycle (the replicator package constructs and owns
// a Processor).
type Hooks struct {
	ShiftConnected func(ctx context.Context) error
	ShiftJoining   func(ctx context.Context) error
	ShiftJoined    func(ctx context.Context) error
	ShiftDonor     func(ctx context.Context) error
	ShiftClosed    func(ctx context.Context) error

	IsAboveConnected func() bool
	IsCorrupt        func() bool
	DrainAll         func(ctx context.Context) error
}

// Processor implements the five numbered steps of configuration-change
// handling.
type Processor struct {
	local  *monitor.Monitor[gtid.LocalSeqno]
	apply  *monitor.ApplyMonitor
	commit *monitor.Monitor[gtid.GlobalSeqno]
	cert   *cert.Engine
	cache  cache.Cache
	cb     config.Callbacks
	hooks  Hooks

	protoVer int
}

// New returns a configuration-change processor wired to the core's
// local monitor, apply monitor, commit monitor, certification engine,
// and cache.
func New(
	local *monitor.Monitor[gtid.LocalSeqno], apply *monitor.ApplyMonitor, commit *monitor.Monitor[gtid.GlobalSeqno],
	cert *cert.Engine, c cache.Cache, cb config.Callbacks, hooks Hooks, protoVer int,
) *Processor {
	return &Processor{local: local, apply: apply, commit: commit, cert: cert, cache: c, cb: cb, hooks: hooks, protoVer: protoVer}
}

// Handle processes one ActionConfigChange action.
func (p *Processor) Handle(ctx context.Context, action gcs.Action) error {
	if action.Type != gcs.ActionConfigChange || action.View == nil {
		return errors.New("cc: Handle called with a non-configuration-change action")
	}
	cc := action.View

	// 1. Enter local monitor at l, drain pending-cert queue through l.
	if err := p.local.Enter(ctx, action.LocalSeqno); err != nil {
		return errors.Wrap(err, "cc: enter local monitor")
	}
	if err := p.cert.DrainPendingThrough(action.LocalSeqno); err != nil {
		return errors.Wrap(err, "cc: drain pending certs")
	}

	var err error
	if !cc.Primary {
		err = p.handleNonPrimary(ctx, cc)
	} else {
		err = p.handlePrimary(ctx, action, cc)
	}

	// 4. Leave local monitor. The processor holds no GCS handle, so GC
	// consumption is neither paused nor resumed here.
	p.local.Leave(action.LocalSeqno)

	if err != nil {
		return err
	}

	// 5. If self-leave, shift to CLOSED.
	if cc.ConfID < 0 && len(cc.Members) == 0 {
		return p.hooks.ShiftClosed(ctx)
	}
	return nil
}

// handleNonPrimary implements step 2.
func (p *Processor) handleNonPrimary(ctx context.Context, cc *gcs.ConfigChange) error {
	if !p.hooks.IsCorrupt() {
		if err := p.hooks.DrainAll(ctx); err != nil {
			return errors.Wrap(err, "cc: drain monitors before non-primary view")
		}
	}
	if err := p.cb.View(ctx, toView(cc)); err != nil {
		return errors.Wrap(err, "cc: view callback")
	}
	if p.hooks.IsAboveConnected() {
		if err := p.hooks.ShiftConnected(ctx); err != nil {
			return err
		}
	}
	return nil
}

// handlePrimary implements step 3.
func (p *Processor) handlePrimary(ctx context.Context, action gcs.Action, cc *gcs.ConfigChange) error {
	// a. Validate self membership.
	if cc.MyIdx < 0 || cc.MyIdx >= len(cc.Members) {
		return errors.Wrap(errs.ErrFatal, "cc: node does not appear in its own primary view")
	}

	// b. Update incoming-member list / protocol version. oldProtoVer is
	// kept around for the step-c/d decisions, which compare against the
	// version this node was running before this view.
	v := toView(cc)
	oldProtoVer := p.protoVer

	// c. Decide whether state transfer is required.
	if p.sstPending(cc, oldProtoVer) {
		if _, err := p.cb.SSTRequest(ctx); err != nil {
			return errors.Wrap(err, "cc: sst request callback")
		}
		log.WithField("conf_id", cc.ConfID).Info("state transfer requested; deferring further CC processing to IST")
		p.protoVer = cc.ProtoVer
		return nil
	}

	// d. Otherwise, reset/adjust the cert index, shift state, submit
	// the view, assign the CC buffer, and cancel the monitors' slot.
	if p.crossesOrderedCCThreshold(cc, oldProtoVer) || p.protoVersionChanged(cc, oldProtoVer) {
		if err := p.cert.AdjustPosition(&v, gtid.GTID{Seqno: action.View.AppliedSeqno}, cc.ProtoVer); err != nil {
			return errors.Wrap(err, "cc: adjust cert position")
		}
	}
	p.protoVer = cc.ProtoVer

	if err := p.shiftForView(ctx, v); err != nil {
		return err
	}
	if err := p.cb.View(ctx, v); err != nil {
		return errors.Wrap(err, "cc: view callback")
	}

	// A configuration change consumes a single slot in the global
	// sequence and never passes through the apply or commit monitors, so
	// action.GlobalSeqno (not cc.AppliedSeqno, a separate field on the
	// view) is the one seqno used consistently for the cache assignment
	// and all three monitor calls below.
	if action.GlobalSeqno.IsDefined() {
		buf, err := p.cache.Allocate(ctx, 0)
		if err == nil {
			_ = p.cache.Assign(ctx, buf, action.GlobalSeqno, cache.EntryCCChange, false)
		}
		p.apply.Interrupt(action.GlobalSeqno)
		p.apply.SelfCancel(action.GlobalSeqno)
		p.commit.SelfCancel(action.GlobalSeqno)
	}
	return nil
}

// sstPending reports whether step 3c's state-transfer decision applies:
// a protocol upgrade past the point where this node can keep applying
// CCs the old way, while it has not yet joined a primary component.
func (p *Processor) sstPending(cc *gcs.ConfigChange, oldProtoVer int) bool {
	return p.protoVersionChanged(cc, oldProtoVer) && cc.ProtoVer > orderedCCProtoVersion && !p.hooks.IsAboveConnected()
}

func (p *Processor) crossesOrderedCCThreshold(cc *gcs.ConfigChange, oldProtoVer int) bool {
	return oldProtoVer < orderedCCProtoVersion && cc.ProtoVer >= orderedCCProtoVersion
}

func (p *Processor) protoVersionChanged(cc *gcs.ConfigChange, oldProtoVer int) bool {
	return cc.ProtoVer != oldProtoVer
}

func (p *Processor) shiftForView(ctx context.Context, v view.View) error {
	switch {
	case !p.hooks.IsAboveConnected():
		return p.hooks.ShiftJoining(ctx)
	default:
		return p.hooks.ShiftJoined(ctx)
	}
}

func toView(cc *gcs.ConfigChange) view.View {
	members := make([]view.Member, len(cc.Members))
	for i, m := range cc.Members {
		members[i] = view.Member{ID: m.ID, Name: m.Name, Incoming: m.Incoming}
	}
	status := view.NonPrimary
	if cc.Primary {
		status = view.Primary
	}
	return view.View{Members: members, ID: cc.ConfID, Status: status, MyIdx: cc.MyIdx}
}
