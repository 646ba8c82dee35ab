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

// Package memcache is an in-memory implementation of cache.Cache, used
// for tests in the same spirit as the replication core's dummy group
// communication adapter.
package memcache

import (
	"context"
	"sync"

	"github.com/galera-go/replicator/internal/core/cache"
	"github.com/galera-go/replicator/internal/core/gtid"
)

// Cache is a map-backed cache.Cache. It never trims eagerly; PurgeUpto
// simply deletes entries, and LockSeqno/UnlockSeqno only track that a
// lock is held, since there is no background compaction to race with in
// tests.
type Cache struct {
	mu struct {
		sync.Mutex
		entries map[gtid.GlobalSeqno]cache.Buffer
		locked  map[gtid.GlobalSeqno]struct{}
	}
}

// New returns an empty in-memory cache.
func New() *Cache {
	c := &Cache{}
	c.mu.entries = make(map[gtid.GlobalSeqno]cache.Buffer)
	c.mu.locked = make(map[gtid.GlobalSeqno]struct{})
	return c
}

var _ cache.Cache = (*Cache)(nil)

// Get implements cache.Cache.
func (c *Cache) Get(_ context.Context, seqno gtid.GlobalSeqno) (cache.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.mu.entries[seqno]
	if !ok {
		return cache.Buffer{}, cache.ErrNotFound
	}
	return buf, nil
}

// Allocate implements cache.Cache.
func (c *Cache) Allocate(_ context.Context, size int) (cache.Buffer, error) {
	return cache.Buffer{Data: make([]byte, size)}, nil
}

// Assign implements cache.Cache.
func (c *Cache) Assign(
	_ context.Context, buf cache.Buffer, seqno gtid.GlobalSeqno, typ cache.EntryType, skip bool,
) error {
	buf.Seqno = seqno
	buf.Type = typ
	buf.Skip = skip
	c.mu.Lock()
	c.mu.entries[seqno] = buf
	c.mu.Unlock()
	return nil
}

// Release implements cache.Cache.
func (c *Cache) Release(context.Context, cache.Buffer) {}

// LockSeqno implements cache.Cache.
func (c *Cache) LockSeqno(_ context.Context, seqno gtid.GlobalSeqno) error {
	c.mu.Lock()
	c.mu.locked[seqno] = struct{}{}
	c.mu.Unlock()
	return nil
}

// UnlockSeqno implements cache.Cache.
func (c *Cache) UnlockSeqno(_ context.Context, seqno gtid.GlobalSeqno) {
	c.mu.Lock()
	delete(c.mu.locked, seqno)
	c.mu.Unlock()
}

// PurgeUpto implements cache.Cache.
func (c *Cache) PurgeUpto(_ context.Context, g gtid.GlobalSeqno) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for seqno := range c.mu.entries {
		if seqno <= g {
			delete(c.mu.entries, seqno)
		}
	}
	return nil
}

// Range is a test helper that returns the seqnos currently stored, in
// no particular order.
func (c *Cache) Range() []gtid.GlobalSeqno {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]gtid.GlobalSeqno, 0, len(c.mu.entries))
	for seqno := range c.mu.entries {
		out = append(out, seqno)
	}
	return out
}
