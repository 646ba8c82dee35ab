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

	"github.com/pkg/errors"

	"github.com/galera-go/replicator/internal/core/cache"
	"github.com/galera-go/replicator/internal/core/errs"
	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/core/trx"
	"github.com/galera-go/replicator/internal/ist"
)

// lastCommittedApply reports the highest global seqno this node has
// driven all the way through the apply monitor, whether that happened
// via the ordinary GC dispatch loop or via an IST replay. handleWriteSet
// compares against this to detect the §4.7.4 overlap between the two
// streams during a joiner's catch-up.
func (r *Core) lastCommittedApply() gtid.GlobalSeqno {
	return r.apply.LastLeft()
}

// ISTHandler returns the ist.Handler that feeds a donor's TRX/CCHANGE
// stream into this node's own certification/apply/commit pipeline,
// implementing the ist_trx/ist_cc dispatch of §4.7.3: a write-set in
// the preload range only installs its keys (must_apply=false), one at
// or past first_seqno is certified, applied, and committed exactly as
// if it had arrived over ordinary group communication, keeping this
// node's apply-monitor position (and hence lastCommittedApply) moving
// forward so GC deliveries that overlap the tail of the IST range take
// the cert-only branch in handleWriteSet instead of double-applying.
func (r *Core) ISTHandler() ist.Handler {
	return ist.Handler{
		WriteSet:     r.istWriteSet,
		ConfigChange: r.istConfigChange,
	}
}

func (r *Core) istWriteSet(ctx context.Context, seqno gtid.GlobalSeqno, payload []byte, mustApply, preload bool) error {
	ts, err := decodeWriteSet(payload)
	if err != nil {
		return errors.Wrap(errs.ErrFatal, err.Error())
	}
	ts.SetSeqnos(seqno, gtid.UndefinedLocal, gtid.UndefinedGlobal)

	if err := ts.Shift(trx.SlaveCertifying); err != nil {
		return errors.Wrap(errs.ErrFatal, err.Error())
	}
	if err := r.cert.AppendTrx(ts); err != nil {
		r.log.WithError(err).WithField("seqno", seqno).Debug("ist: write-set failed certification during replay")
		if mustApply && !preload {
			return r.rollbackWriteSet(ts, err)
		}
	}

	if buf, err := r.cache.Allocate(ctx, len(payload)); err == nil {
		buf.Data = payload
		_ = r.cache.Assign(ctx, buf, seqno, cache.EntryTrx, false)
	}

	if preload || !mustApply {
		// Preload range, or not yet past first_seqno: the cert index
		// (and the cache copy above, for a later IST donor) is all that
		// needs updating here, since the donor already applied and
		// committed this write-set elsewhere.
		return nil
	}

	if err := ts.Shift(trx.SlaveApplying); err != nil {
		return errors.Wrap(errs.ErrFatal, err.Error())
	}
	if err := r.apply.Enter(ctx, seqno, gtid.UndefinedGlobal); err != nil {
		return errors.Wrap(err, "ist: enter apply monitor")
	}
	if err := r.cb.Apply(ctx, ts); err != nil {
		r.apply.Leave(seqno)
		return errors.Wrap(err, "ist: apply callback")
	}
	r.apply.Leave(seqno)

	if err := ts.Shift(trx.SlaveCommitting); err != nil {
		return errors.Wrap(errs.ErrFatal, err.Error())
	}
	if err := r.commit.Enter(ctx, seqno); err != nil {
		return errors.Wrap(err, "ist: enter commit monitor")
	}
	defer r.commit.Leave(seqno)
	if err := ts.Shift(trx.SlaveCommitted); err != nil {
		return errors.Wrap(errs.ErrFatal, err.Error())
	}
	r.cert.SetTrxCommitted(ts)
	return nil
}

// istConfigChange installs a replayed configuration-change buffer into
// the cache and, for a must-apply delivery, cancels the apply/commit
// slots it occupies, mirroring cc.Processor.handlePrimary's treatment
// of a configuration change's own global seqno.
func (r *Core) istConfigChange(ctx context.Context, seqno gtid.GlobalSeqno, payload []byte, mustApply, preload bool) error {
	if buf, err := r.cache.Allocate(ctx, len(payload)); err == nil {
		buf.Data = payload
		_ = r.cache.Assign(ctx, buf, seqno, cache.EntryCCChange, false)
	}
	if mustApply {
		r.apply.SelfCancel(seqno)
		r.commit.SelfCancel(seqno)
	}
	_ = preload
	return nil
}
