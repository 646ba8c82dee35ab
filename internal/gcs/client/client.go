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

// Package client is a real-shaped TCP implementation of gcs.GCS: it
// frames every action with internal/ist/wire's Header and trusts a peer
// on the other end of the socket to do the actual total-ordering (a
// sequencer process, or another node acting as one), rather than
// reimplementing group membership and atomic broadcast itself.
package client

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/gcs"
	"github.com/galera-go/replicator/internal/ist/wire"
	"github.com/galera-go/replicator/internal/util/stopper"
)

// Config configures a client connection to a gcs sequencer.
type Config struct {
	// Addr is the sequencer's dial address, e.g. "sequencer:4567".
	Addr string
	// MaxAction bounds the largest single frame this client will send
	// or accept; it is reported back via MaxActionSize.
	MaxAction int
}

// GCS is a TCP-transport implementation of gcs.GCS.
type GCS struct {
	cfg  Config
	conn net.Conn

	localSeqno atomic.Int64

	recvCh chan gcs.Action
	ctx    *stopper.Context

	writeMu sync.Mutex
}

// New dials cfg.Addr and returns a GCS ready to Connect.
func New(ctx *stopper.Context, cfg Config) (*GCS, error) {
	if cfg.MaxAction == 0 {
		cfg.MaxAction = 64 * 1024 * 1024
	}
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "gcs/client: dial %s", cfg.Addr)
	}
	g := &GCS{cfg: cfg, conn: conn, recvCh: make(chan gcs.Action, 256), ctx: ctx}
	g.localSeqno.Store(int64(gtid.Undefined))
	return g, nil
}

var _ gcs.GCS = (*GCS)(nil)

// Connect starts the background read loop. clusterName/clusterURL are
// forwarded to the sequencer as a single JOIN-style frame; the
// sequencer is responsible for interpreting bootstrap semantics.
func (g *GCS) Connect(ctx context.Context, clusterName, clusterURL string, bootstrap bool) error {
	payload := []byte(clusterName + "\x00" + clusterURL)
	if bootstrap {
		payload = append(payload, 1)
	} else {
		payload = append(payload, 0)
	}
	if err := g.writeFrame(wire.FrameCtrl, wire.CtrlOK, payload, 0); err != nil {
		return err
	}
	g.ctx.Go(g.readLoop)
	return nil
}

func (g *GCS) SetInitialPosition(ctx context.Context, id gtid.GTID) error {
	return g.writeFrame(wire.FrameCtrl, wire.CtrlOK, []byte(id.String()), int64(id.Seqno))
}

func (g *GCS) Close(context.Context) error {
	return g.conn.Close()
}

func (g *GCS) Recv(ctx context.Context) (gcs.Action, error) {
	select {
	case act, ok := <-g.recvCh:
		if !ok {
			return gcs.Action{}, io.EOF
		}
		return act, nil
	case <-ctx.Done():
		return gcs.Action{}, ctx.Err()
	}
}

func (g *GCS) readLoop() error {
	for {
		hdr, payload, err := g.readFrame()
		if err != nil {
			close(g.recvCh)
			return err
		}
		// The sequencer assigns hdr.Seqno as the total order directly, so
		// it serves as both local and global seqno here: unlike the
		// dummy provider there is no separate local stream to reconcile,
		// since every frame this client receives has already passed
		// through the sequencer's single ordering point.
		act := gcs.Action{
			Type:        frameToAction(hdr.Type),
			LocalSeqno:  gtid.LocalSeqno(hdr.Seqno),
			GlobalSeqno: gtid.GlobalSeqno(hdr.Seqno),
			Payload:     payload,
		}
		select {
		case g.recvCh <- act:
		case <-g.ctx.Stopping():
			return nil
		}
	}
}

func frameToAction(t wire.FrameType) gcs.ActionType {
	switch t {
	case wire.FrameWriteSet:
		return gcs.ActionWriteSet
	case wire.FrameCommitCut:
		return gcs.ActionCommitCut
	case wire.FrameConfigChange:
		return gcs.ActionConfigChange
	default:
		return gcs.ActionUnknown
	}
}

func (g *GCS) writeFrame(typ wire.FrameType, ctrl byte, payload []byte, seqno int64) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	hdr := wire.Header{
		Version: wire.CurrentVersion,
		Type:    typ,
		Ctrl:    ctrl,
		Length:  uint32(len(payload)),
		Seqno:   seqno,
	}
	data, err := hdr.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := g.conn.Write(data); err != nil {
		return errors.Wrap(err, "gcs/client: write header")
	}
	if len(payload) > 0 {
		if _, err := g.conn.Write(payload); err != nil {
			return errors.Wrap(err, "gcs/client: write payload")
		}
	}
	return nil
}

func (g *GCS) readFrame() (wire.Header, []byte, error) {
	buf := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(g.conn, buf); err != nil {
		return wire.Header{}, nil, err
	}
	var hdr wire.Header
	if err := hdr.UnmarshalBinary(buf); err != nil {
		return wire.Header{}, nil, err
	}
	if hdr.Length > uint32(g.cfg.MaxAction) {
		return wire.Header{}, nil, errors.Errorf("gcs/client: frame of %d bytes exceeds max action size", hdr.Length)
	}
	payload := make([]byte, hdr.Length)
	if hdr.Length > 0 {
		if _, err := io.ReadFull(g.conn, payload); err != nil {
			return wire.Header{}, nil, err
		}
	}
	return hdr, payload, nil
}

func (g *GCS) SendV(ctx context.Context, act gcs.WriteSetVector, typ gcs.ActionType, scheduled, grab bool) error {
	var joined []byte
	for _, part := range act {
		joined = append(joined, part...)
	}
	return g.Send(ctx, joined, typ, scheduled)
}

func (g *GCS) Send(_ context.Context, act []byte, typ gcs.ActionType, _ bool) error {
	return g.writeFrame(actionToFrame(typ), wire.CtrlOK, act, 0)
}

func (g *GCS) ReplV(ctx context.Context, act gcs.WriteSetVector, typ gcs.ActionType, scheduled bool) (gtid.LocalSeqno, error) {
	var joined []byte
	for _, part := range act {
		joined = append(joined, part...)
	}
	return g.Repl(ctx, joined, typ, scheduled)
}

// Repl writes act to the sequencer tagged with the next local seqno and
// returns that seqno as soon as the write succeeds. It does not wait for
// the ordered delivery to come back through the read loop.
func (g *GCS) Repl(ctx context.Context, act []byte, typ gcs.ActionType, _ bool) (gtid.LocalSeqno, error) {
	seqno := g.localSeqno.Add(1)
	if err := g.writeFrame(actionToFrame(typ), wire.CtrlOK, act, seqno); err != nil {
		return gtid.UndefinedLocal, err
	}
	return gtid.LocalSeqno(seqno), nil
}

func actionToFrame(t gcs.ActionType) wire.FrameType {
	switch t {
	case gcs.ActionWriteSet:
		return wire.FrameWriteSet
	case gcs.ActionCommitCut:
		return wire.FrameCommitCut
	case gcs.ActionConfigChange:
		return wire.FrameConfigChange
	default:
		return wire.FrameCtrl
	}
}

func (g *GCS) Caused(ctx context.Context, id gtid.GTID) error {
	return g.writeFrame(wire.FrameCtrl, wire.CtrlOK, nil, int64(id.Seqno))
}

func (g *GCS) Schedule(context.Context) (int64, error) {
	return g.localSeqno.Add(1), nil
}

func (g *GCS) Interrupt(context.Context, int64) error { return nil }

func (g *GCS) ResumeRecv(context.Context) error { return nil }

func (g *GCS) RequestStateTransfer(
	ctx context.Context, version int, req []byte, donor string, istGTID gtid.GTID,
) (gtid.LocalSeqno, error) {
	payload := append([]byte(donor+"\x00"), req...)
	seqno := g.localSeqno.Add(1)
	if err := g.writeFrame(wire.FrameCtrl, wire.CtrlOK, payload, seqno); err != nil {
		return gtid.UndefinedLocal, err
	}
	log.WithFields(log.Fields{"donor": donor, "ist_gtid": istGTID.String(), "version": version}).
		Info("requested state transfer")
	return gtid.LocalSeqno(seqno), nil
}

func (g *GCS) Desync(context.Context) (gtid.LocalSeqno, error) {
	seqno := g.localSeqno.Add(1)
	return gtid.LocalSeqno(seqno), g.writeFrame(wire.FrameCtrl, wire.CtrlOK, nil, seqno)
}

func (g *GCS) Join(_ context.Context, id gtid.GTID, code int) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(code))
	return g.writeFrame(wire.FrameCtrl, wire.CtrlOK, payload, int64(id.Seqno))
}

func (g *GCS) LocalSequence() gtid.LocalSeqno {
	return gtid.LocalSeqno(g.localSeqno.Load())
}

func (g *GCS) SetLastApplied(_ context.Context, id gtid.GTID) error {
	return g.writeFrame(wire.FrameCtrl, wire.CtrlOK, []byte(id.String()), int64(id.Seqno))
}

func (g *GCS) Vote(_ context.Context, id gtid.GTID, code uint64, data []byte) error {
	payload := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(payload[:8], code)
	copy(payload[8:], data)
	return g.writeFrame(wire.FrameCtrl, wire.CtrlOK, payload, int64(id.Seqno))
}

func (g *GCS) ParamGet(context.Context, string) (string, error) { return "", nil }

func (g *GCS) ParamSet(context.Context, string, string) error { return nil }

func (g *GCS) MaxActionSize() int { return g.cfg.MaxAction }
