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
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/galera-go/replicator/internal/core/cache"
	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/ist/wire"
	"github.com/galera-go/replicator/internal/util/stopper"
)

// Handler lets the receiver hand each delivered frame to the owning
// replication core instead of only writing its payload into the cache,
// implementing the ist_trx/ist_cc dispatch of §4.7.3. mustApply reports
// whether seqno is at or past the requested first_seqno (earlier
// seqnos, the preload range, exist only to rebuild the cert index);
// preload mirrors the frame's PRELOAD flag. A zero-value Handler (no
// funcs set) falls back to writing every frame straight into the
// cache, which is sufficient for a plain donor-side cache warm-up.
type Handler struct {
	WriteSet     func(ctx context.Context, seqno gtid.GlobalSeqno, payload []byte, mustApply, preload bool) error
	ConfigChange func(ctx context.Context, seqno gtid.GlobalSeqno, payload []byte, mustApply, preload bool) error
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// ListenAddr is a bare host:port, or an "ssl://host:port" URL to
	// require TLS for the inbound donor connection.
	ListenAddr string
	TLSConfig  *tls.Config
	Cache      cache.Cache
	MaxAction  int
	Handler    Handler
}

// Receiver accepts a single IST sender connection and applies the
// incoming write-sets into Cache.
type Receiver struct {
	cfg ReceiverConfig
	ln  net.Listener

	mu struct {
		sync.Mutex
		ready map[gtid.GlobalSeqno]chan struct{}
		last  gtid.GlobalSeqno
		err   error
		done  bool
	}
}

// NewReceiver opens a listener on cfg.ListenAddr (TLS if ListenAddr
// starts with "ssl://") and spawns the single reader goroutine that
// accepts one connection and applies its stream.
func NewReceiver(ctx *stopper.Context, cfg ReceiverConfig) (*Receiver, error) {
	addr, useTLS := splitSSL(cfg.ListenAddr)

	var ln net.Listener
	var err error
	if useTLS {
		ln, err = tls.Listen("tcp", addr, cfg.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "ist: listen on %s", cfg.ListenAddr)
	}

	r := &Receiver{cfg: cfg, ln: ln}
	r.mu.ready = make(map[gtid.GlobalSeqno]chan struct{})
	r.mu.last = gtid.UndefinedGlobal

	ctx.Go(func() error {
		defer ln.Close()
		return r.acceptAndApply(ctx)
	})
	return r, nil
}

func splitSSL(addr string) (string, bool) {
	const prefix = "ssl://"
	if len(addr) > len(prefix) && addr[:len(prefix)] == prefix {
		return addr[len(prefix):], true
	}
	return addr, false
}

// Ready returns a channel that is closed once the receiver's handshake
// reports it is starting from exactly first.
func (r *Receiver) Ready(first gtid.GlobalSeqno) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.mu.ready[first]
	if !ok {
		ch = make(chan struct{})
		r.mu.ready[first] = ch
	}
	return ch
}

// LastApplied returns the highest seqno applied so far.
func (r *Receiver) LastApplied() gtid.GlobalSeqno {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.last
}

// Err returns the terminal error the reader goroutine exited with, if
// any, once Ready's channel (or the stopper context) has fired.
func (r *Receiver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.err
}

func (r *Receiver) acceptAndApply(ctx *stopper.Context) error {
	conn, err := r.ln.Accept()
	if err != nil {
		r.fail(err)
		return err
	}
	defer conn.Close()

	hdr, payload, err := readFrame(conn, r.cfg.MaxAction)
	if err != nil {
		r.fail(err)
		return err
	}
	if hdr.Type != wire.FrameHandshake {
		err := errors.Errorf("ist: receiver expected HANDSHAKE, got frame type %d", hdr.Type)
		r.fail(err)
		return err
	}
	first := gtid.GlobalSeqno(hdr.Seqno)
	last, _, err := decodeHandshake(payload)
	if err != nil {
		r.fail(err)
		return err
	}

	if err := writeFrame(conn, wire.FrameHandshakeResponse, wire.CtrlOK, 0, nil, int64(first)); err != nil {
		r.fail(err)
		return err
	}

	hdr, _, err = readFrame(conn, r.cfg.MaxAction)
	if err != nil {
		r.fail(err)
		return err
	}
	if hdr.Type != wire.FrameCtrl || hdr.Ctrl != wire.CtrlOK {
		err := errors.New("ist: receiver expected CTRL(OK) after handshake")
		r.fail(err)
		return err
	}

	r.markReady(first)
	current := gtid.UndefinedGlobal
	throttle := newProgressThrottle(time.Now())

	for {
		select {
		case <-ctx.Stopping():
			return nil
		default:
		}

		hdr, payload, err := readFrame(conn, r.cfg.MaxAction)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			r.fail(err)
			return err
		}

		if hdr.Type == wire.FrameCtrl && hdr.Ctrl == wire.CtrlEOF {
			// Half-close: echo our own CTRL(EOF) back before returning,
			// per §4.7.1's dialog, so the sender can observe this side's
			// clean shutdown rather than a reset connection.
			_ = writeFrame(conn, wire.FrameCtrl, wire.CtrlEOF, 0, nil, hdr.Seqno)
			if last.IsDefined() && current.IsDefined() && current != last {
				err := errors.Errorf("ist: receiver stream ended at %d, want %d", current, last)
				r.fail(err)
				return err
			}
			return nil
		}

		seqno := gtid.GlobalSeqno(hdr.Seqno)
		mustApply := seqno >= first
		preload := hdr.Flags&wire.FlagPreload != 0

		if err := r.dispatch(ctx, hdr.Type, seqno, payload, mustApply, preload); err != nil {
			r.fail(err)
			return err
		}

		current = seqno
		r.mu.Lock()
		r.mu.last = seqno
		r.mu.Unlock()

		if throttle.Tick(time.Now()) {
			log.WithField("seqno", seqno).Info("ist: receive progress")
		}
	}
}

// dispatch delivers one ordered frame to ist_trx/ist_cc, per §4.7.3.
// SKIP carries no payload to store; it only advances current_seqno.
func (r *Receiver) dispatch(ctx context.Context, typ wire.FrameType, seqno gtid.GlobalSeqno, payload []byte, mustApply, preload bool) error {
	switch typ {
	case wire.FrameSkip:
		return nil
	case wire.FrameWriteSet:
		if r.cfg.Handler.WriteSet != nil {
			return r.cfg.Handler.WriteSet(ctx, seqno, payload, mustApply, preload)
		}
		return r.storeToCache(ctx, seqno, payload, cache.EntryTrx)
	case wire.FrameConfigChange:
		if r.cfg.Handler.ConfigChange != nil {
			return r.cfg.Handler.ConfigChange(ctx, seqno, payload, mustApply, preload)
		}
		return r.storeToCache(ctx, seqno, payload, cache.EntryCCChange)
	default:
		return errors.Errorf("ist: unexpected frame type %d", typ)
	}
}

// storeToCache is the fallback for a Handler-less Receiver: it installs
// the frame directly into the cache, matching step 2 of §4.7.3 without
// any ist_trx/ist_cc semantics layered on top.
func (r *Receiver) storeToCache(ctx context.Context, seqno gtid.GlobalSeqno, payload []byte, typ cache.EntryType) error {
	buf, err := r.cfg.Cache.Allocate(ctx, len(payload))
	if err != nil {
		return err
	}
	buf.Data = payload
	return r.cfg.Cache.Assign(ctx, buf, seqno, typ, false)
}

func (r *Receiver) markReady(first gtid.GlobalSeqno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.mu.ready[first]
	if !ok {
		ch = make(chan struct{})
		r.mu.ready[first] = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (r *Receiver) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.err = err
	r.mu.done = true
}
