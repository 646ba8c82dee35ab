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

package monitor

import (
	"context"
	"sync"

	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/pkg/errors"
)

// ApplyMonitor is the apply-stage variant of Monitor: unlike the local
// and commit monitors, multiple holders may be inside it at once, as
// long as each holder's DependsSeqno predecessor has already left. It
// still reports a contiguous LastLeft low-water mark so that commit-cut
// and IST overlap handling (spec §4.7.4) can reason about "everything up
// to g has finished applying" even though completions arrive out of
// order.
type ApplyMonitor struct {
	mu struct {
		sync.Mutex
		contiguous  gtid.GlobalSeqno
		left        map[gtid.GlobalSeqno]struct{}
		interrupted map[gtid.GlobalSeqno]struct{}
		onDepends   map[gtid.GlobalSeqno][]*waiter
		drainers    map[gtid.GlobalSeqno]*waiter
	}
}

// NewApply returns an ApplyMonitor seeded at init: every seqno <= init
// is considered to have already left.
func NewApply(init gtid.GlobalSeqno) *ApplyMonitor {
	a := &ApplyMonitor{}
	a.mu.contiguous = init
	a.mu.left = make(map[gtid.GlobalSeqno]struct{})
	a.mu.interrupted = make(map[gtid.GlobalSeqno]struct{})
	a.mu.onDepends = make(map[gtid.GlobalSeqno][]*waiter)
	a.mu.drainers = make(map[gtid.GlobalSeqno]*waiter)
	return a
}

// Enter blocks until depends has left the monitor (depends ==
// gtid.UndefinedGlobal means "no dependency"), then admits key. Several
// callers may hold the monitor concurrently.
func (a *ApplyMonitor) Enter(ctx context.Context, key, depends gtid.GlobalSeqno) error {
	if !depends.IsDefined() {
		return a.waitInterrupt(ctx, key)
	}

	for {
		a.mu.Lock()
		if _, gone := a.mu.interrupted[key]; gone {
			delete(a.mu.interrupted, key)
			a.mu.Unlock()
			return ErrInterrupted
		}
		if depends <= a.mu.contiguous {
			a.mu.Unlock()
			return a.waitInterrupt(ctx, key)
		}
		if _, done := a.mu.left[depends]; done {
			a.mu.Unlock()
			return a.waitInterrupt(ctx, key)
		}
		w := &waiter{ch: make(chan struct{})}
		a.mu.onDepends[depends] = append(a.mu.onDepends[depends], w)
		a.mu.Unlock()

		select {
		case <-w.ch:
			continue
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		}
	}
}

// waitInterrupt performs the final "am I interrupted right now" check
// before admitting a caller whose dependency has already been
// satisfied.
func (a *ApplyMonitor) waitInterrupt(ctx context.Context, key gtid.GlobalSeqno) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, gone := a.mu.interrupted[key]; gone {
		delete(a.mu.interrupted, key)
		return ErrInterrupted
	}
	return nil
}

// Leave records that key has finished applying and wakes any holder
// waiting on it as a dependency, advancing the contiguous low-water
// mark as far as it now can.
func (a *ApplyMonitor) Leave(key gtid.GlobalSeqno) {
	a.mu.Lock()
	a.mu.left[key] = struct{}{}

	for {
		if _, ok := a.mu.left[a.mu.contiguous+1]; !ok {
			break
		}
		a.mu.contiguous++
		delete(a.mu.left, a.mu.contiguous)
		if w, ok := a.mu.drainers[a.mu.contiguous]; ok {
			w.wake()
			delete(a.mu.drainers, a.mu.contiguous)
		}
	}

	if waiters, ok := a.mu.onDepends[key]; ok {
		for _, w := range waiters {
			w.wake()
		}
		delete(a.mu.onDepends, key)
	}
	a.mu.Unlock()
}

// SelfCancel marks key as occupying a slot in the global sequence
// without ever having entered the monitor, advancing the contiguous
// low-water mark exactly as Leave would. It is used for actions (such
// as a configuration change) that consume a global seqno but never
// apply anything themselves, so that a later write-set's seqno is not
// stuck waiting on a gap that will never be filled.
func (a *ApplyMonitor) SelfCancel(key gtid.GlobalSeqno) {
	a.Leave(key)
}

// Interrupt causes a caller blocked in Enter(key, ...) to return
// ErrInterrupted.
func (a *ApplyMonitor) Interrupt(key gtid.GlobalSeqno) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mu.interrupted[key] = struct{}{}
	for _, waiters := range a.mu.onDepends {
		for _, w := range waiters {
			w.wake()
		}
	}
}

// Drain blocks until every seqno <= upto has left, contiguously.
func (a *ApplyMonitor) Drain(ctx context.Context, upto gtid.GlobalSeqno) error {
	for {
		a.mu.Lock()
		if a.mu.contiguous >= upto {
			a.mu.Unlock()
			return nil
		}
		w, ok := a.mu.drainers[upto]
		if !ok {
			w = &waiter{ch: make(chan struct{})}
			a.mu.drainers[upto] = w
		}
		a.mu.Unlock()

		select {
		case <-w.ch:
			continue
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		}
	}
}

// LastLeft returns the contiguous low-water mark: every seqno <= this
// value has left the monitor.
func (a *ApplyMonitor) LastLeft() gtid.GlobalSeqno {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mu.contiguous
}
