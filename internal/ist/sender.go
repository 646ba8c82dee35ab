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

// Package ist implements the incremental state transfer protocol: a
// point-to-point stream of already-certified write-sets from a donor
// node's cache to a joining node, used when the joiner's gap is small
// enough not to require a full snapshot transfer.
package ist

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"

	"github.com/galera-go/replicator/internal/core/cache"
	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/ist/wire"
	"github.com/galera-go/replicator/internal/util/stopper"
)

// MaxBatch bounds how many seqnos the sender pulls from the cache in one
// batch (see §4.7.1); cancellation is checked before every frame.
const MaxBatch = 1024

// handshakePayloadSize is the HANDSHAKE frame's payload: last(8) then
// preload_start(8), both big-endian int64.
const handshakePayloadSize = 16

// Sender streams the write-sets in [first, last] from cache over conn,
// optionally preceded by [preloadStart, first) to rebuild the joiner's
// certification index.
type Sender struct {
	cache        cache.Cache
	conn         net.Conn
	first, last  gtid.GlobalSeqno
	preloadStart gtid.GlobalSeqno
	protoVer     int
}

// NewSender returns a Sender that will stream [first, last] once Run is
// called. preloadStart, if it precedes first, tells the sender to also
// stream [preloadStart, first) ahead of the requested range, flagged
// PRELOAD, so the joiner can rebuild its certification index before the
// must-apply portion begins.
func NewSender(c cache.Cache, conn net.Conn, first, last, preloadStart gtid.GlobalSeqno, protoVer int) *Sender {
	return &Sender{cache: c, conn: conn, first: first, last: last, preloadStart: preloadStart, protoVer: protoVer}
}

// Run performs the handshake/stream/EOF dialog of §4.7.1 and returns
// once the full range has been sent and the receiver's own half-close
// has been observed, or ctx is stopped. It holds the cache's seqno lock
// at the stream's true start (preload-inclusive) for the duration of
// the transfer so the range being streamed cannot be purged out from
// underneath it.
func (s *Sender) Run(ctx *stopper.Context) error {
	streamFrom := s.first
	if s.hasPreload() && s.preloadStart < streamFrom {
		streamFrom = s.preloadStart
	}

	if err := s.cache.LockSeqno(ctx, streamFrom); err != nil {
		return errors.Wrap(err, "ist: sender lock")
	}
	defer s.cache.UnlockSeqno(ctx, streamFrom)

	hsPayload := make([]byte, handshakePayloadSize)
	binary.BigEndian.PutUint64(hsPayload[0:8], uint64(s.last))
	binary.BigEndian.PutUint64(hsPayload[8:16], uint64(s.preloadStart))
	if err := writeFrame(s.conn, wire.FrameHandshake, wire.CtrlOK, 0, hsPayload, int64(s.first)); err != nil {
		return errors.Wrap(err, "ist: sender handshake")
	}

	hdr, _, err := readFrame(s.conn, 0)
	if err != nil {
		return errors.Wrap(err, "ist: sender awaiting handshake response")
	}
	if hdr.Type != wire.FrameHandshakeResponse {
		return errors.Errorf("ist: sender expected HANDSHAKE_RESPONSE, got frame type %d", hdr.Type)
	}

	if err := writeFrame(s.conn, wire.FrameCtrl, wire.CtrlOK, 0, nil, int64(s.first)); err != nil {
		return errors.Wrap(err, "ist: sender ctrl ok")
	}

	for seqno := streamFrom; seqno <= s.last; {
		batchEnd := seqno + gtid.GlobalSeqno(MaxBatch) - 1
		if batchEnd > s.last {
			batchEnd = s.last
		}
		for cur := seqno; cur <= batchEnd; cur++ {
			select {
			case <-ctx.Stopping():
				return errors.WithStack(ctx.Err())
			default:
			}
			if err := s.sendOne(ctx, cur); err != nil {
				return err
			}
		}
		seqno = batchEnd + 1
	}

	if err := writeFrame(s.conn, wire.FrameCtrl, wire.CtrlEOF, 0, nil, int64(s.last)); err != nil {
		return errors.Wrap(err, "ist: sender eof")
	}

	// Half-close: wait for the receiver's own CTRL(EOF) echo rather than
	// tearing down the connection the moment our side is done, so a
	// receiver-detected error (PROTO, CORRUPTED) on the last few frames
	// is still observed here instead of racing conn.Close.
	for {
		hdr, _, err := readFrame(s.conn, 0)
		if err != nil {
			return errors.Wrap(err, "ist: sender awaiting half-close")
		}
		if hdr.Type == wire.FrameCtrl && hdr.Ctrl == wire.CtrlEOF {
			return nil
		}
	}
}

func (s *Sender) hasPreload() bool {
	return s.preloadStart.IsDefined() && s.preloadStart > 0
}

// sendOne streams the buffer at cur, substituting a SKIP frame for a
// cache miss, per §4.7.2's "type is TRX, CCHANGE, or SKIP" rule.
func (s *Sender) sendOne(ctx *stopper.Context, cur gtid.GlobalSeqno) error {
	var flags byte
	if s.hasPreload() && cur >= s.preloadStart && cur < s.first {
		flags |= wire.FlagPreload
	}

	buf, err := s.cache.Get(ctx, cur)
	if errors.Is(err, cache.ErrNotFound) {
		return writeFrame(s.conn, wire.FrameSkip, wire.CtrlOK, flags, nil, int64(cur))
	}
	if err != nil {
		return errors.Wrapf(err, "ist: sender fetching seqno %d", cur)
	}

	ftype := wire.FrameWriteSet
	switch buf.Type {
	case cache.EntryCCChange:
		ftype = wire.FrameConfigChange
	case cache.EntrySkip:
		ftype = wire.FrameSkip
	}
	return writeFrame(s.conn, ftype, wire.CtrlOK, flags, buf.Data, int64(cur))
}

func writeFrame(conn net.Conn, typ wire.FrameType, ctrl, flags byte, payload []byte, seqno int64) error {
	hdr := wire.Header{Version: wire.CurrentVersion, Type: typ, Flags: flags, Ctrl: ctrl, Length: uint32(len(payload)), Seqno: seqno}
	data, err := hdr.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := conn.Write(data); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

func readFrame(conn net.Conn, maxLen int) (wire.Header, []byte, error) {
	buf := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return wire.Header{}, nil, err
	}
	var hdr wire.Header
	if err := hdr.UnmarshalBinary(buf); err != nil {
		return wire.Header{}, nil, err
	}
	if maxLen > 0 && int(hdr.Length) > maxLen {
		return wire.Header{}, nil, errors.Errorf("ist: frame of %d bytes exceeds limit", hdr.Length)
	}
	payload := make([]byte, hdr.Length)
	if hdr.Length > 0 {
		if _, err := io.ReadFull(conn, payload); err != nil {
			return wire.Header{}, nil, err
		}
	}
	return hdr, payload, nil
}

// decodeHandshake parses a HANDSHAKE frame's payload into (last,
// preloadStart).
func decodeHandshake(payload []byte) (last, preloadStart gtid.GlobalSeqno, err error) {
	if len(payload) != handshakePayloadSize {
		return 0, 0, errors.Errorf("ist: handshake payload must be %d bytes, got %d", handshakePayloadSize, len(payload))
	}
	last = gtid.GlobalSeqno(binary.BigEndian.Uint64(payload[0:8]))
	preloadStart = gtid.GlobalSeqno(binary.BigEndian.Uint64(payload[8:16]))
	return last, preloadStart, nil
}
