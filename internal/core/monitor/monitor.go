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

// Package monitor implements the ordered admission gate used by the
// local, apply, and commit stages of the replication core: callers
// enter and leave in strictly increasing key order, and any blocked
// caller can be interrupted to unwind a BF-abort.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/galera-go/replicator/internal/core/metrics"
	"github.com/galera-go/replicator/internal/util/notify"
	"github.com/pkg/errors"
)

// ErrInterrupted is returned by Enter when the caller's wait was
// cancelled by Interrupt rather than by the key becoming admissible.
var ErrInterrupted = errors.New("monitor: enter was interrupted")

// An Ordered key is any totally-ordered sequence number the monitor can
// be keyed by.
type Ordered interface {
	~int64
}

// waiter is a single-shot wakeup channel. Monitor itself broadcasts
// through notify.Var now, but ApplyMonitor still uses waiter directly:
// its onDepends wakeups must target callers waiting on one specific
// depends seqno, not every blocked caller, so a single shared broadcast
// channel is the wrong shape there.
type waiter struct {
	ch        chan struct{}
	closeOnce sync.Once
}

func (w *waiter) wake() {
	w.closeOnce.Do(func() { close(w.ch) })
}

// A Monitor admits callers in strictly increasing key order: Enter(k)
// blocks until every key less than k has Left or been self-cancelled,
// then admits k. Multiple concurrent holders of different keys are
// possible; at most one caller may hold any given key at a time, since
// keys are expected to be unique (as local and global seqnos are).
//
// lastLeft is broadcast through a notify.Var, the same condition
// variable idiom the teacher's resolver uses for its own watermarks
// (`r.marked.Get()` / `case <-wakeup:`): every blocked Enter/Drain call
// re-reads lastLeft and loops rather than being woken individually, so
// a single Set wakes every waiter whose turn may now have come.
type Monitor[K Ordered] struct {
	name string

	mu struct {
		sync.Mutex
		lastLeft    K
		entered     map[K]struct{}
		interrupted map[K]struct{}
	}
	watch notify.Var[K]
}

// New returns a Monitor whose initial LastLeft is seeded at init. Every
// key less than or equal to init is considered already admitted.
func New[K Ordered](name string, init K) *Monitor[K] {
	m := &Monitor[K]{name: name}
	m.mu.lastLeft = init
	m.mu.entered = make(map[K]struct{})
	m.mu.interrupted = make(map[K]struct{})
	m.watch.Set(init)
	return m
}

// Enter blocks until all keys less than key have left the monitor, then
// admits key. It returns ErrInterrupted if Interrupt(key) is called
// while the caller is blocked, and ctx.Err() if the context is
// cancelled first.
func (m *Monitor[K]) Enter(ctx context.Context, key K) error {
	start := time.Now()
	defer func() {
		metrics.MonitorEnterDuration.WithLabelValues(m.name).Observe(time.Since(start).Seconds())
	}()

	for {
		m.mu.Lock()
		if _, gone := m.mu.interrupted[key]; gone {
			delete(m.mu.interrupted, key)
			m.mu.Unlock()
			return ErrInterrupted
		}
		if key <= m.mu.lastLeft+1 {
			m.mu.entered[key] = struct{}{}
			m.mu.Unlock()
			return nil
		}
		// Fetch the wakeup channel while still holding mu, so no Leave
		// racing in between can close a channel we never waited on.
		_, wakeup := m.watch.Get()
		m.mu.Unlock()

		select {
		case <-wakeup:
			// Re-check the predicate; we may have been woken by an
			// Interrupt rather than by lastLeft advancing far enough.
			continue
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		}
	}
}

// Leave releases key and raises LastLeft to key if key is higher than
// it, broadcasting to every blocked Enter/Drain call.
func (m *Monitor[K]) Leave(key K) {
	m.mu.Lock()
	delete(m.mu.entered, key)
	if key > m.mu.lastLeft {
		m.mu.lastLeft = key
	}
	m.watch.Set(m.mu.lastLeft)
	m.mu.Unlock()
}

// SelfCancel marks key as "never entered" for ordering purposes. It has
// the same effect, from the point of view of successors, as Enter(key)
// immediately followed by Leave(key).
func (m *Monitor[K]) SelfCancel(key K) {
	m.mu.Lock()
	if key > m.mu.lastLeft {
		m.mu.lastLeft = key
	}
	m.watch.Set(m.mu.lastLeft)
	m.mu.Unlock()
}

// Interrupt causes a caller blocked in Enter(key) to return
// ErrInterrupted. It has no effect, and returns false, if key has
// already been entered. Otherwise it records the interrupt and returns
// true; if no one is waiting on key yet, the interrupt takes effect the
// moment Enter(key) is called.
func (m *Monitor[K]) Interrupt(key K) bool {
	m.mu.Lock()
	if _, already := m.mu.entered[key]; already {
		m.mu.Unlock()
		return false
	}
	m.mu.interrupted[key] = struct{}{}
	metrics.MonitorInterrupts.WithLabelValues(m.name).Inc()
	m.watch.Set(m.mu.lastLeft)
	m.mu.Unlock()
	return true
}

// Drain blocks until LastLeft() >= upto.
func (m *Monitor[K]) Drain(ctx context.Context, upto K) error {
	for {
		m.mu.Lock()
		if m.mu.lastLeft >= upto {
			m.mu.Unlock()
			return nil
		}
		_, wakeup := m.watch.Get()
		m.mu.Unlock()

		select {
		case <-wakeup:
			continue
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		}
	}
}

// LastLeft returns the highest key known to have left (or
// self-cancelled).
func (m *Monitor[K]) LastLeft() K {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.lastLeft
}

// Entered reports whether key is currently held.
func (m *Monitor[K]) Entered(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mu.entered[key]
	return ok
}
