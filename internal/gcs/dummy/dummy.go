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

// Package dummy is a single-member, in-process implementation of
// gcs.GCS, generalized from the teacher's dummy-DB-connection precedent
// (a fake collaborator good enough to exercise the real call sites in
// tests) to a dummy group communication provider: there is exactly one
// member, this node, and every Repl call is immediately "delivered" back
// through Recv in the order it was sent.
package dummy

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/gcs"
)

// GCS is a dummy, single-member group communication provider.
type GCS struct {
	self gtid.GroupID

	// localSeqno also serves as the global seqno in this single-member
	// provider: with one node there is nothing for "global" ordering to
	// add over "local" ordering.
	localSeqno atomic.Int64

	recvCh chan gcs.Action

	mu struct {
		sync.Mutex
		lastApplied gtid.GTID
		closed      bool
	}
}

// New returns a dummy GCS that has not yet connected.
func New() *GCS {
	g := &GCS{self: gtid.NewGroupID(), recvCh: make(chan gcs.Action, 256)}
	g.localSeqno.Store(int64(gtid.Undefined))
	return g
}

var _ gcs.GCS = (*GCS)(nil)

// Connect delivers a single synthetic ActionConfigChange describing a
// one-member primary view, as the real provider would upon a successful
// cluster bootstrap.
func (g *GCS) Connect(ctx context.Context, _, _ string, bootstrap bool) error {
	_ = bootstrap
	confID := g.localSeqno.Add(1)
	act := gcs.Action{
		Type:        gcs.ActionConfigChange,
		LocalSeqno:  gtid.LocalSeqno(confID),
		GlobalSeqno: gtid.GlobalSeqno(confID),
		View: &gcs.ConfigChange{
			Members:      []gcs.Member{{ID: g.self, Name: "dummy"}},
			ConfID:       confID,
			MyIdx:        0,
			ProtoVer:     4,
			Primary:      true,
			AppliedSeqno: gtid.GlobalSeqno(confID),
		},
	}
	return g.deliver(ctx, act)
}

func (g *GCS) SetInitialPosition(context.Context, gtid.GTID) error { return nil }

func (g *GCS) Close(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.mu.closed {
		g.mu.closed = true
		close(g.recvCh)
	}
	return nil
}

func (g *GCS) Recv(ctx context.Context) (gcs.Action, error) {
	select {
	case act, ok := <-g.recvCh:
		if !ok {
			return gcs.Action{}, context.Canceled
		}
		return act, nil
	case <-ctx.Done():
		return gcs.Action{}, ctx.Err()
	}
}

func (g *GCS) SendV(ctx context.Context, act gcs.WriteSetVector, typ gcs.ActionType, _, _ bool) error {
	var joined []byte
	for _, part := range act {
		joined = append(joined, part...)
	}
	return g.Send(ctx, joined, typ, false)
}

func (g *GCS) Send(ctx context.Context, act []byte, typ gcs.ActionType, _ bool) error {
	seqno := g.localSeqno.Add(1)
	return g.deliver(ctx, gcs.Action{
		Type: typ, LocalSeqno: gtid.LocalSeqno(seqno), GlobalSeqno: gtid.GlobalSeqno(seqno), Payload: act,
	})
}

func (g *GCS) ReplV(ctx context.Context, act gcs.WriteSetVector, typ gcs.ActionType, scheduled bool) (gtid.LocalSeqno, error) {
	var joined []byte
	for _, part := range act {
		joined = append(joined, part...)
	}
	return g.Repl(ctx, joined, typ, scheduled)
}

func (g *GCS) Repl(ctx context.Context, act []byte, typ gcs.ActionType, _ bool) (gtid.LocalSeqno, error) {
	raw := g.localSeqno.Add(1)
	seqno := gtid.LocalSeqno(raw)
	act2 := gcs.Action{Type: typ, LocalSeqno: seqno, GlobalSeqno: gtid.GlobalSeqno(raw), Payload: act}
	if err := g.deliver(ctx, act2); err != nil {
		return gtid.UndefinedLocal, err
	}
	return seqno, nil
}

func (g *GCS) deliver(ctx context.Context, act gcs.Action) error {
	select {
	case g.recvCh <- act:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *GCS) Caused(context.Context, gtid.GTID) error { return nil }

func (g *GCS) Schedule(context.Context) (int64, error) { return g.localSeqno.Add(1), nil }

func (g *GCS) Interrupt(context.Context, int64) error { return nil }

func (g *GCS) ResumeRecv(context.Context) error { return nil }

func (g *GCS) RequestStateTransfer(
	ctx context.Context, _ int, _ []byte, _ string, _ gtid.GTID,
) (gtid.LocalSeqno, error) {
	return gtid.LocalSeqno(g.localSeqno.Add(1)), nil
}

func (g *GCS) Desync(context.Context) (gtid.LocalSeqno, error) {
	return gtid.LocalSeqno(g.localSeqno.Add(1)), nil
}

func (g *GCS) Join(context.Context, gtid.GTID, int) error { return nil }

func (g *GCS) LocalSequence() gtid.LocalSeqno {
	return gtid.LocalSeqno(g.localSeqno.Load())
}

// SetLastApplied stores only the maximum GTID seen so far within one
// history; a GTID from a different history replaces it outright. This is a
// deliberate choice matching the real adapter's documented
// report_last_applied_ coalescing behavior, not an oversight.
func (g *GCS) SetLastApplied(_ context.Context, id gtid.GTID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.mu.lastApplied.SameHistory(id) || id.Compare(g.mu.lastApplied) > 0 {
		g.mu.lastApplied = id
	}
	return nil
}

// LastApplied returns the coalesced value SetLastApplied has recorded,
// for tests.
func (g *GCS) LastApplied() gtid.GTID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mu.lastApplied
}

func (g *GCS) Vote(context.Context, gtid.GTID, uint64, []byte) error { return nil }

func (g *GCS) ParamGet(context.Context, string) (string, error) { return "", nil }

func (g *GCS) ParamSet(context.Context, string, string) error { return nil }

func (g *GCS) MaxActionSize() int { return 64 * 1024 * 1024 }
