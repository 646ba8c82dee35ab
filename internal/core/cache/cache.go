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

// Package cache describes the contract between the replication core and
// the external block cache that hands off write-set buffers by
// sequence number. The cache's own storage strategy (ring buffer,
// mmap'd file, ...) is out of scope for this module; only the contract
// is specified here.
package cache

import (
	"context"

	"github.com/galera-go/replicator/internal/core/gtid"
)

// EntryType distinguishes the kind of payload a Buffer carries.
type EntryType int

// The entry types a Cache may hand back.
const (
	EntryTrx EntryType = iota
	EntryCCChange
	EntrySkip // a cache miss placeholder, or an entry skipped in older protocols
)

// A Buffer is a pointer-and-length handed out by the cache. Ownership
// transfers to the caller until it is returned via Cache.Release or
// associated with a sequence number via Cache.Assign.
type Buffer struct {
	Data  []byte
	Seqno gtid.GlobalSeqno
	Type  EntryType
	Skip  bool
}

// Cache is the external collaborator that hands off write-set buffers
// by global sequence number, per spec §1 ("the local block cache used
// to hand off write-set buffers by sequence number" is treated as an
// external collaborator; only its contract is specified here).
type Cache interface {
	// Get returns the buffer previously assigned to seqno, or
	// ErrNotFound if it has been purged or was never stored.
	Get(ctx context.Context, seqno gtid.GlobalSeqno) (Buffer, error)

	// Allocate returns a fresh, writable buffer of the given size. The
	// caller must eventually call Assign or Release.
	Allocate(ctx context.Context, size int) (Buffer, error)

	// Assign associates a previously allocated buffer with a sequence
	// number and entry type, making it visible to future Get calls.
	Assign(ctx context.Context, buf Buffer, seqno gtid.GlobalSeqno, typ EntryType, skip bool) error

	// Release returns a buffer to the cache without assigning it a
	// sequence number.
	Release(ctx context.Context, buf Buffer)

	// LockSeqno prevents the cache from trimming entries at or above
	// seqno until UnlockSeqno is called. The IST sender holds this lock
	// for the duration of a send so that the range it streams cannot be
	// purged out from underneath it.
	LockSeqno(ctx context.Context, seqno gtid.GlobalSeqno) error
	UnlockSeqno(ctx context.Context, seqno gtid.GlobalSeqno)

	// PurgeUpto discards all buffers with seqno <= g. It is invoked
	// after certification reports a new commit cut.
	PurgeUpto(ctx context.Context, g gtid.GlobalSeqno) error
}

// ErrNotFound is returned by Get when no buffer is stored for a seqno.
var ErrNotFound = cacheMiss{}

type cacheMiss struct{}

func (cacheMiss) Error() string { return "cache: no buffer for that seqno" }
