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

package ist

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/galera-go/replicator/internal/core/cache"
	"github.com/galera-go/replicator/internal/core/cache/memcache"
	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/ist/wire"
	"github.com/galera-go/replicator/internal/util/stopper"
)

func seedCache(t *testing.T, c *memcache.Cache, from, to gtid.GlobalSeqno) {
	t.Helper()
	ctx := context.Background()
	for seqno := from; seqno <= to; seqno++ {
		buf, err := c.Allocate(ctx, 8)
		require.NoError(t, err)
		buf.Data = []byte{byte(seqno)}
		require.NoError(t, c.Assign(ctx, buf, seqno, cache.EntryTrx, false))
	}
}

// driveReceiverSide plays the receiver half of the §4.7.1 dialog
// against a Sender under test, recording every TRX/CCHANGE/SKIP frame
// it sees, and returns once it has echoed the half-close.
func driveReceiverSide(t *testing.T, conn net.Conn) []wire.Header {
	t.Helper()

	hdr, payload, err := readFrame(conn, 0)
	require.NoError(t, err)
	require.Equal(t, wire.FrameHandshake, hdr.Type)
	last, preloadStart, err := decodeHandshake(payload)
	require.NoError(t, err)
	_ = last
	_ = preloadStart

	require.NoError(t, writeFrame(conn, wire.FrameHandshakeResponse, wire.CtrlOK, 0, nil, hdr.Seqno))

	hdr, _, err = readFrame(conn, 0)
	require.NoError(t, err)
	require.Equal(t, wire.FrameCtrl, hdr.Type)
	require.Equal(t, wire.CtrlOK, hdr.Ctrl)

	var frames []wire.Header
	for {
		hdr, _, err := readFrame(conn, 0)
		require.NoError(t, err)
		if hdr.Type == wire.FrameCtrl && hdr.Ctrl == wire.CtrlEOF {
			require.NoError(t, writeFrame(conn, wire.FrameCtrl, wire.CtrlEOF, 0, nil, hdr.Seqno))
			return frames
		}
		frames = append(frames, hdr)
	}
}

func TestSenderReceiverRoundTrip(t *testing.T) {
	donor := memcache.New()
	seedCache(t, donor, 1, 5)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sCtx := stopper.WithContext(context.Background())
	sender := NewSender(donor, client, gtid.GlobalSeqno(1), gtid.GlobalSeqno(5), gtid.UndefinedGlobal, 10)

	errCh := make(chan error, 1)
	go func() { errCh <- sender.Run(sCtx) }()

	frames := driveReceiverSide(t, server)

	var got []gtid.GlobalSeqno
	for _, hdr := range frames {
		require.Equal(t, wire.FrameWriteSet, hdr.Type)
		got = append(got, gtid.GlobalSeqno(hdr.Seqno))
	}

	require.Equal(t, []gtid.GlobalSeqno{1, 2, 3, 4, 5}, got)
	require.NoError(t, <-errCh)
}

// TestSenderPreloadRange exercises S4 (IST preload overlap): the donor
// streams the preload portion flagged, and the requested range
// unflagged.
func TestSenderPreloadRange(t *testing.T) {
	donor := memcache.New()
	seedCache(t, donor, 80, 200)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sCtx := stopper.WithContext(context.Background())
	sender := NewSender(donor, client, gtid.GlobalSeqno(100), gtid.GlobalSeqno(200), gtid.GlobalSeqno(80), 10)

	errCh := make(chan error, 1)
	go func() { errCh <- sender.Run(sCtx) }()

	frames := driveReceiverSide(t, server)
	require.Len(t, frames, 121) // 80..200 inclusive

	for _, hdr := range frames {
		seqno := gtid.GlobalSeqno(hdr.Seqno)
		preloaded := hdr.Flags&wire.FlagPreload != 0
		if seqno < 100 {
			require.Truef(t, preloaded, "seqno %d should carry PRELOAD", seqno)
		} else {
			require.Falsef(t, preloaded, "seqno %d must not carry PRELOAD", seqno)
		}
	}

	require.NoError(t, <-errCh)
}

func TestReceiverAppliesStream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	joiner := memcache.New()
	ctx := stopper.WithContext(context.Background())

	recv := &Receiver{cfg: ReceiverConfig{Cache: joiner}, ln: ln}
	recv.mu.ready = make(map[gtid.GlobalSeqno]chan struct{})
	recv.mu.last = gtid.UndefinedGlobal
	ctx.Go(func() error { return recv.acceptAndApply(ctx) })

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	donor := memcache.New()
	seedCache(t, donor, 10, 12)
	sender := NewSender(donor, conn, gtid.GlobalSeqno(10), gtid.GlobalSeqno(12), gtid.UndefinedGlobal, 10)
	require.NoError(t, sender.Run(ctx))

	select {
	case <-recv.Ready(gtid.GlobalSeqno(10)):
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never became ready")
	}

	require.Eventually(t, func() bool {
		return recv.LastApplied() == gtid.GlobalSeqno(12)
	}, 2*time.Second, 10*time.Millisecond)

	for seqno := gtid.GlobalSeqno(10); seqno <= 12; seqno++ {
		buf, err := joiner.Get(context.Background(), seqno)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(seqno)}, buf.Data)
	}

	ctx.Stop(2 * time.Second)
}

// TestReceiverDispatchMustApplyAndPreload drives a real Sender/Receiver
// pair through S4's preload overlap and asserts the receiver computes
// must_apply/preload_flag exactly as §4.7.3 specifies, by capturing
// every ist_trx call through a Handler instead of letting frames fall
// through to the plain cache-populating default.
func TestReceiverDispatchMustApplyAndPreload(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	type call struct {
		seqno               gtid.GlobalSeqno
		mustApply, preload bool
	}
	var calls []call

	handler := Handler{
		WriteSet: func(_ context.Context, seqno gtid.GlobalSeqno, _ []byte, mustApply, preload bool) error {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, call{seqno, mustApply, preload})
			return nil
		},
	}

	joiner := memcache.New()
	ctx := stopper.WithContext(context.Background())
	recv := &Receiver{cfg: ReceiverConfig{Cache: joiner, Handler: handler}, ln: ln}
	recv.mu.ready = make(map[gtid.GlobalSeqno]chan struct{})
	recv.mu.last = gtid.UndefinedGlobal
	ctx.Go(func() error { return recv.acceptAndApply(ctx) })

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	donor := memcache.New()
	seedCache(t, donor, 80, 200)
	sender := NewSender(donor, conn, gtid.GlobalSeqno(100), gtid.GlobalSeqno(200), gtid.GlobalSeqno(80), 10)
	require.NoError(t, sender.Run(ctx))

	require.Eventually(t, func() bool {
		return recv.LastApplied() == gtid.GlobalSeqno(200)
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 121)
	for _, c := range calls {
		if c.seqno < 100 {
			require.True(t, c.preload, "seqno %d", c.seqno)
			require.False(t, c.mustApply, "seqno %d", c.seqno)
		} else {
			require.False(t, c.preload, "seqno %d", c.seqno)
			require.True(t, c.mustApply, "seqno %d", c.seqno)
		}
	}

	ctx.Stop(2 * time.Second)
}

// TestReceiverReportsCorruption exercises S5: a single-bit flip in a
// mid-stream header's checksum must surface as wire.ErrCorrupted
// through Receiver.Err, not a silent skip or panic.
func TestReceiverReportsCorruption(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	joiner := memcache.New()
	ctx := stopper.WithContext(context.Background())
	recv := &Receiver{cfg: ReceiverConfig{Cache: joiner}, ln: ln}
	recv.mu.ready = make(map[gtid.GlobalSeqno]chan struct{})
	recv.mu.last = gtid.UndefinedGlobal
	done := make(chan struct{})
	ctx.Go(func() error {
		defer close(done)
		return recv.acceptAndApply(ctx)
	})

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, writeFrame(conn, wire.FrameHandshake, wire.CtrlOK, 0, make([]byte, handshakePayloadSize), 1))

	hdr, _, err := readFrame(conn, 0)
	require.NoError(t, err)
	require.Equal(t, wire.FrameHandshakeResponse, hdr.Type)

	require.NoError(t, writeFrame(conn, wire.FrameCtrl, wire.CtrlOK, 0, nil, 1))

	// A header with a corrupted checksum, sent in place of the first
	// write-set frame.
	bad := wire.Header{Version: wire.CurrentVersion, Type: wire.FrameWriteSet, Seqno: 1}
	data, err := bad.MarshalBinary()
	require.NoError(t, err)
	data[16] ^= 0x01
	_, err = conn.Write(data)
	require.NoError(t, err)

	<-done
	require.ErrorIs(t, recv.Err(), wire.ErrCorrupted)
}
