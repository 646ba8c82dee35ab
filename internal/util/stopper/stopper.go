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

// Package stopper provides a context.Context that tracks the
// goroutines spawned beneath it, so that callers can ask for a clean
// shutdown and wait for every tracked goroutine to actually return.
package stopper

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// A Context decorates a context.Context with goroutine tracking. Every
// goroutine started with Go is waited on by Stop.
type Context struct {
	context.Context

	cancel context.CancelFunc

	stopping     chan struct{}
	stoppingOnce sync.Once

	wg sync.WaitGroup

	mu struct {
		sync.Mutex
		err error
	}
}

// WithContext wraps a context.Context in a Context whose cancellation
// is independent of, but derived from, the parent.
func WithContext(parent context.Context) *Context {
	inner, cancel := context.WithCancel(parent)
	return &Context{
		Context:  inner,
		cancel:   cancel,
		stopping: make(chan struct{}),
	}
}

// Go runs fn in a new goroutine that is tracked by the Context. If fn
// returns a non-nil error, Stopping() is closed and the underlying
// context is cancelled so that sibling goroutines unwind; the failing
// goroutine does not wait for them to return.
func (c *Context) Go(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			c.mu.Lock()
			if c.mu.err == nil {
				c.mu.err = err
			}
			c.mu.Unlock()
			log.WithError(err).Trace("goroutine exited with error; stopping siblings")
			c.stoppingOnce.Do(func() { close(c.stopping) })
			c.cancel()
		}
	}()
}

// Stopping returns a channel that is closed once Stop has been called.
// Long-running goroutines should select on this channel to begin an
// orderly shutdown.
func (c *Context) Stopping() <-chan struct{} {
	return c.stopping
}

// Stop requests that all goroutines tracked by the Context terminate
// and blocks until they have, or until timeout elapses. A timeout of
// zero waits forever. Stop is safe to call more than once.
func (c *Context) Stop(timeout time.Duration) {
	c.stoppingOnce.Do(func() { close(c.stopping) })
	c.cancel()

	if timeout <= 0 {
		c.wg.Wait()
		return
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn("stopper: timed out waiting for goroutines to exit")
	}
}

// Err returns the first error returned by a tracked goroutine, if any.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mu.err != nil {
		return c.mu.err
	}
	return errors.WithStack(c.Context.Err())
}
