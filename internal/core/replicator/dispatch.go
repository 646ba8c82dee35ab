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
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/galera-go/replicator/internal/core/cache"
	"github.com/galera-go/replicator/internal/core/errs"
	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/core/metrics"
	"github.com/galera-go/replicator/internal/core/trx"
	"github.com/galera-go/replicator/internal/gcs"
	"github.com/galera-go/replicator/internal/util/stopper"
)

// errHoldForIST is the Recv error that Process treats as a hold for an
// incremental state transfer: instead of returning, it sleeps briefly
// and calls Recv again. It is unexported, so no GCS implementation
// outside this package returns it.
var errHoldForIST = errors.New("replicator: holding for IST handoff")

// Process runs the action dispatch loop until ctx is stopped or a fatal
// error is encountered. It is the Go analogue of the original's
// gcs_conn_t consumer thread body.
func (r *Core) Process(ctx *stopper.Context) error {
	for {
		select {
		case <-ctx.Stopping():
			return nil
		default:
		}

		action, err := r.gcs.Recv(ctx)
		if err != nil {
			if errors.Is(err, errHoldForIST) {
				// Controlled handoff to IST: the loop sleeps briefly and
				// retries rather than spinning, giving the IST receiver
				// goroutine a chance to take over ordered delivery.
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}

		metrics.DispatchActionsTotal.WithLabelValues(action.Type.String()).Inc()

		if derr := r.dispatch(ctx, action); derr != nil {
			if errs.IsFatal(derr) {
				r.log.WithError(derr).Error("fatal error in dispatch; marking corrupt")
				if merr := r.markCorrupt(ctx); merr != nil {
					r.log.WithError(merr).Error("failed to unwind after corruption")
				}
				return derr
			}
			r.log.WithError(derr).Warn("non-fatal dispatch error")
		}
	}
}

func (r *Core) dispatch(ctx *stopper.Context, action gcs.Action) error {
	switch action.Type {
	case gcs.ActionWriteSet:
		return r.handleWriteSet(ctx, action)
	case gcs.ActionCommitCut:
		return r.handleCommitCut(ctx, action)
	case gcs.ActionConfigChange:
		return r.cc.Handle(ctx, action)
	case gcs.ActionStateRequest:
		return r.handleStateRequest(ctx, action)
	case gcs.ActionJoin:
		return r.handleJoin(ctx, action)
	case gcs.ActionSync:
		return r.handleSync(ctx, action)
	case gcs.ActionVote:
		return r.handleVote(ctx, action)
	case gcs.ActionInconsistency:
		return r.handleInconsistency(ctx, action)
	default:
		r.log.WithField("type", action.Type).Warn("dispatch: unrecognized action type")
		return nil
	}
}

// handleWriteSet implements the WRITESET row of §4.1's dispatch table:
// enter local monitor, certify, on success enter apply monitor, apply,
// enter commit monitor, leave both. The safe-to-discard seqno returned
// by SetTrxCommitted is logged at trace level; it is not reported to
// group communication.
//
// A write-set's payload is also assigned into the cache at its global
// seqno as soon as certification succeeds, independent of the apply
// callback: this is what lets this node later act as an IST donor,
// since the sender streams exactly these cached bytes to a joiner.
func (r *Core) handleWriteSet(ctx *stopper.Context, action gcs.Action) error {
	if err := r.local.Enter(ctx, action.LocalSeqno); err != nil {
		return errors.Wrap(err, "replicator: enter local monitor")
	}
	defer r.local.Leave(action.LocalSeqno)

	ts, err := decodeWriteSet(action.Payload)
	if err != nil {
		return errors.Wrap(errs.ErrFatal, err.Error())
	}
	ts.SetSeqnos(action.GlobalSeqno, action.LocalSeqno, gtid.UndefinedGlobal)

	// §4.7.4 overlap handling: during a joiner's IST catch-up, the same
	// write-set can be delivered twice, once by IST and once (slightly
	// later, since GC keeps flowing concurrently) by ordinary group
	// communication. lastCommittedApply reports the highest seqno the
	// IST handler has already driven through apply and commit; a GC
	// delivery at or below that point has nothing left to apply, so
	// certification merely installs its keys to keep the index
	// byte-identical with every other node, and both monitor slots are
	// self-cancelled rather than entered a second time.
	if action.GlobalSeqno.IsDefined() && action.GlobalSeqno <= r.lastCommittedApply() {
		if err := ts.Shift(trx.SlaveCertifying); err != nil {
			return errors.Wrap(errs.ErrFatal, err.Error())
		}
		if err := r.cert.AppendTrx(ts); err != nil {
			r.log.WithError(err).Debug("replicator: overlapping write-set failed certification")
		}
		r.apply.SelfCancel(action.GlobalSeqno)
		r.commit.SelfCancel(action.GlobalSeqno)
		return nil
	}

	if err := ts.Shift(trx.SlaveCertifying); err != nil {
		return errors.Wrap(errs.ErrFatal, err.Error())
	}

	if err := r.cert.AppendTrx(ts); err != nil {
		return r.rollbackWriteSet(ts, err)
	}

	if buf, err := r.cache.Allocate(ctx, len(action.Payload)); err != nil {
		r.log.WithError(err).Warn("replicator: allocate cache buffer for write-set")
	} else {
		buf.Data = action.Payload
		if err := r.cache.Assign(ctx, buf, action.GlobalSeqno, cache.EntryTrx, false); err != nil {
			r.log.WithError(err).Warn("replicator: assign write-set to cache")
		}
	}

	return r.applyAndCommit(ctx, ts)
}

// applyAndCommit drives a successfully-certified write-set through the
// apply and commit monitors and into the embedder's applier.
func (r *Core) applyAndCommit(ctx *stopper.Context, ts *trx.Slave) error {
	if err := ts.Shift(trx.SlaveApplying); err != nil {
		return errors.Wrap(errs.ErrFatal, err.Error())
	}
	if err := r.apply.Enter(ctx, ts.GlobalSeqno(), ts.DependsSeqno()); err != nil {
		return errors.Wrap(err, "replicator: enter apply monitor")
	}

	if err := r.cb.Apply(ctx, ts); err != nil {
		r.apply.Leave(ts.GlobalSeqno())
		return errors.Wrap(err, "replicator: apply callback")
	}
	r.apply.Leave(ts.GlobalSeqno())

	if err := ts.Shift(trx.SlaveCommitting); err != nil {
		return errors.Wrap(errs.ErrFatal, err.Error())
	}
	if err := r.commit.Enter(ctx, ts.GlobalSeqno()); err != nil {
		return errors.Wrap(err, "replicator: enter commit monitor")
	}
	defer r.commit.Leave(ts.GlobalSeqno())

	if err := ts.Shift(trx.SlaveCommitted); err != nil {
		return errors.Wrap(errs.ErrFatal, err.Error())
	}

	safeToDiscard := r.cert.SetTrxCommitted(ts)
	r.log.WithFields(log.Fields{
		"seqno":           ts.GlobalSeqno(),
		"safe_to_discard": safeToDiscard,
	}).Trace("write-set committed")

	if ts.Unref() {
		r.cache.Release(ctx, cache.Buffer{Data: ts.Action, Seqno: ts.GlobalSeqno()})
	}
	return nil
}

// rollbackWriteSet unwinds a write-set that failed certification: it
// never reached a state any applier callback observed, so unwinding it
// is purely a slave-FSM bookkeeping exercise, not a real data rollback.
// Because a failed write-set never enters the apply or commit monitors,
// its global seqno's slot is cancelled on both exactly as a
// configuration change cancels its own, so a later write-set's Enter
// does not wait on a predecessor that will never leave.
func (r *Core) rollbackWriteSet(ts *trx.Slave, certErr error) error {
	if err := ts.Shift(trx.SlaveAborting); err != nil {
		return errors.Wrap(errs.ErrFatal, err.Error())
	}
	if err := ts.Shift(trx.SlaveRollingBack); err != nil {
		return errors.Wrap(errs.ErrFatal, err.Error())
	}
	if err := ts.Shift(trx.SlaveRolledBack); err != nil {
		return errors.Wrap(errs.ErrFatal, err.Error())
	}
	r.apply.SelfCancel(ts.GlobalSeqno())
	r.commit.SelfCancel(ts.GlobalSeqno())
	r.log.WithFields(log.Fields{
		"seqno": ts.GlobalSeqno(),
		"error": certErr,
	}).Debug("write-set rolled back after failed certification")
	return nil
}

// handleCommitCut implements the COMMIT_CUT row: enter local monitor,
// drain pending-cert queue up to l, purge cert index up to g, leave.
func (r *Core) handleCommitCut(ctx *stopper.Context, action gcs.Action) error {
	if err := r.local.Enter(ctx, action.LocalSeqno); err != nil {
		return errors.Wrap(err, "replicator: enter local monitor")
	}
	defer r.local.Leave(action.LocalSeqno)

	if err := r.cert.DrainPendingThrough(action.LocalSeqno); err != nil {
		return errors.Wrap(err, "replicator: drain pending certs")
	}
	if err := r.cert.PurgeTrxsUpto(action.GlobalSeqno, true); err != nil {
		return errors.Wrap(err, "replicator: purge cert index")
	}
	return nil
}

// handleStateRequest runs donor logic: spawning an IST sender is the
// embedder's responsibility via SSTDonate, since the donor side needs
// access to the joiner's socket address carried in the request payload,
// which is opaque to the core.
func (r *Core) handleStateRequest(ctx *stopper.Context, action gcs.Action) error {
	id := gtid.GTID{Seqno: action.GlobalSeqno}
	if err := r.cb.SSTDonate(ctx, action.Payload, id); err != nil {
		return errors.Wrap(err, "replicator: sst donate callback")
	}
	return nil
}

func (r *Core) handleJoin(ctx *stopper.Context, action gcs.Action) error {
	if err := r.drainAll(ctx); err != nil {
		return errors.Wrap(err, "replicator: drain before join")
	}
	return r.shiftTo(ctx, Joined)
}

func (r *Core) handleSync(ctx *stopper.Context, action gcs.Action) error {
	if err := r.drainAll(ctx); err != nil {
		return errors.Wrap(err, "replicator: drain before sync")
	}
	return r.shiftTo(ctx, Synced)
}

// handleVote participates in consistency voting: it drains the ordering
// monitors and then casts a success (errs.KindOK) vote for the action's
// global seqno. No embedder callback is consulted for the vote.
func (r *Core) handleVote(ctx *stopper.Context, action gcs.Action) error {
	if err := r.drainAll(ctx); err != nil {
		return errors.Wrap(err, "replicator: drain before vote")
	}
	return r.gcs.Vote(ctx, gtid.GTID{Seqno: action.GlobalSeqno}, uint64(errs.KindOK), nil)
}

// handleInconsistency marks the node corrupt and returns a fatal error,
// causing Process to unwind via markCorrupt and exit.
func (r *Core) handleInconsistency(ctx *stopper.Context, action gcs.Action) error {
	return errors.Wrap(errs.ErrFatal, "replicator: inconsistency voted by the group")
}
