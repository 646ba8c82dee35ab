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

// Package cert implements the certification engine: the index of
// in-flight write-set keys that decides whether a newly delivered
// write-set can be applied or must fail certification against an
// already-committed conflicting write-set.
package cert

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/galera-go/replicator/internal/core/errs"
	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/core/metrics"
	"github.com/galera-go/replicator/internal/core/trx"
	"github.com/galera-go/replicator/internal/core/view"
	"github.com/galera-go/replicator/internal/util/msort"
)

// KeyFingerprint is the 64-bit hash of a certification key, used as the
// index's map key instead of the raw key bytes to keep the index
// compact.
type KeyFingerprint uint64

// Fingerprint hashes a raw certification key.
func Fingerprint(key []byte) KeyFingerprint {
	return KeyFingerprint(xxhash.Sum64(key))
}

// Engine is the certification index: for every key currently "owned" by
// an uncommitted or recently-committed write-set, it records the
// highest global seqno that touched it. A newly delivered write-set
// certifies successfully only if none of its keys were last touched by
// a write-set the certifier hasn't already seen.
type Engine struct {
	log *logrus.Entry

	mu struct {
		sync.RWMutex
		index map[KeyFingerprint]gtid.GlobalSeqno
	}

	pending *pendingQueue
}

// New returns an empty certification engine.
func New(log *logrus.Entry) *Engine {
	e := &Engine{log: log, pending: newPendingQueue()}
	e.mu.index = make(map[KeyFingerprint]gtid.GlobalSeqno)
	return e
}

// AppendTrx certifies ts against the index. ts.Keys is first deduplicated
// with msort.UniqueByKey, since a single write-set can touch the same row
// more than once (e.g. an update followed by a delete) and certifying it
// twice against the index would be redundant work, not a correctness
// issue. The remaining keys are each looked up in the index once,
// tracking the highest conflicting seqno seen. Certification fails
// (errs.ErrTrxFail) iff that highest seqno is strictly greater than
// ts.LastSeenSeqno, meaning some other write-set this node has not yet
// seen already committed against one of the same keys. On success, every
// key is (re)installed into the index at ts.GlobalSeqno, and the tightest
// conflicting predecessor seqno found is written back onto ts as its
// depends_seqno, which the apply monitor uses to order concurrent
// appliers. A failed certification leaves ts's depends_seqno untouched.
func (e *Engine) AppendTrx(ts *trx.Slave) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := ts.GlobalSeqno()
	lastSeen := ts.LastSeenSeqno()

	keys := msort.UniqueByKey(
		append([][]byte(nil), ts.Keys...),
		func(k []byte) string { return string(k) },
		func(s string) bool { return s == "" },
	)

	var conflict gtid.GlobalSeqno = gtid.UndefinedGlobal
	for _, key := range keys {
		fp := Fingerprint(key)
		if owner, ok := e.mu.index[fp]; ok && owner > conflict {
			conflict = owner
		}
	}

	metrics.CertAppendTotal.WithLabelValues("attempt").Inc()

	if conflict.IsDefined() && conflict > lastSeen {
		metrics.CertAppendTotal.WithLabelValues("fail").Inc()
		e.log.WithFields(logrus.Fields{
			"seqno":    start,
			"conflict": conflict,
			"lastSeen": lastSeen,
		}).Debug("certification failed")
		return errs.ErrTrxFail
	}

	for _, key := range keys {
		e.mu.index[Fingerprint(key)] = start
	}
	ts.SetSeqnos(start, ts.LocalSeqno(), conflict)
	metrics.CertAppendTotal.WithLabelValues("ok").Inc()
	metrics.CertIndexSize.Set(float64(len(e.mu.index)))
	return nil
}

// SetTrxCommitted records that ts has committed and returns the commit
// cut: the global seqno below which no uncommitted write-set remains,
// and which the embedder may therefore safely acknowledge and the cache
// may purge up to. Any pending-queue entry at ts's local seqno is
// dropped; the rest of the queue is left as it is.
func (e *Engine) SetTrxCommitted(ts *trx.Slave) (safeToDiscard gtid.GlobalSeqno) {
	e.pending.Forget(ts.LocalSeqno())
	return ts.GlobalSeqno()
}

// PurgeTrxsUpto removes every index entry installed at a seqno <= g. If
// blocking is true the caller already holds exclusivity (e.g. via the
// commit monitor) and the purge runs synchronously; the engine does not
// itself provide asynchronous purging, since ordering the purge against
// concurrent AppendTrx calls is the caller's responsibility.
func (e *Engine) PurgeTrxsUpto(g gtid.GlobalSeqno, blocking bool) error {
	_ = blocking
	e.mu.Lock()
	defer e.mu.Unlock()
	for fp, seqno := range e.mu.index {
		if seqno <= g {
			delete(e.mu.index, fp)
		}
	}
	metrics.CertIndexSize.Set(float64(len(e.mu.index)))
	return nil
}

// AdjustPosition re-anchors the certification engine's notion of
// position after a configuration change: the index is cleared, since
// the new view's members are only guaranteed to agree from this GTID
// forward.
func (e *Engine) AdjustPosition(v *view.View, id gtid.GTID, protoVer int) error {
	_ = v
	_ = protoVer
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mu.index = make(map[KeyFingerprint]gtid.GlobalSeqno)
	e.log.WithField("gtid", id.String()).Info("certification position adjusted")
	return nil
}

// AssignInitialPosition seeds the engine's position when a node joins a
// cluster for the first time or after a total loss of state, with an
// empty index.
func (e *Engine) AssignInitialPosition(id gtid.GTID, protoVer int) error {
	_ = protoVer
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mu.index = make(map[KeyFingerprint]gtid.GlobalSeqno)
	e.log.WithField("gtid", id.String()).Info("certification position assigned")
	return nil
}

// DrainPendingThrough feeds every pending write-set with a local seqno
// <= l into AppendTrx, in local-seqno order. It is called, with the
// local monitor held, from the configuration-change processor's step 1
// and from the replicator's commit-cut handler.
func (e *Engine) DrainPendingThrough(l gtid.LocalSeqno) error {
	return e.pending.DrainThrough(l, e.AppendTrx)
}

// Len reports the current index size, for tests and metrics.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.mu.index)
}

// Pending exposes the BF-abort retry queue. The replicator drains it
// through DrainPendingThrough, not through this accessor.
func (e *Engine) Pending() *pendingQueue { return e.pending }
