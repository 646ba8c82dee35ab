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

package cert

import (
	"sort"
	"sync"

	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/core/trx"
)

// pendingQueue holds write-sets that were BF-aborted before their local
// monitor slot came up and must be replayed (or finally rolled back)
// once it does. It is kept in local-seqno order, the same order the
// local monitor admits callers in, so DrainThrough can stop at the
// first entry past its cutoff.
type pendingQueue struct {
	mu      sync.Mutex
	entries []*trx.Slave
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{}
}

// Add inserts ts into the queue, keeping entries ordered by LocalSeqno.
func (q *pendingQueue) Add(ts *trx.Slave) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, ts)
	sort.Slice(q.entries, func(i, j int) bool {
		return q.entries[i].LocalSeqno() < q.entries[j].LocalSeqno()
	})
}

// Forget removes the entry at local seqno l, if present, without
// invoking it. It is called once a write-set commits through the
// ordinary path rather than via replay.
func (q *pendingQueue) Forget(l gtid.LocalSeqno) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.LocalSeqno() == l {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

// DrainThrough invokes fn, in local-seqno order, for every entry with
// LocalSeqno() <= upto, removing each as it is handed off. The engine's
// DrainPendingThrough calls it while the caller holds the local monitor,
// on every commit cut and configuration change.
func (q *pendingQueue) DrainThrough(upto gtid.LocalSeqno, fn func(*trx.Slave) error) error {
	q.mu.Lock()
	var due []*trx.Slave
	i := 0
	for ; i < len(q.entries); i++ {
		if q.entries[i].LocalSeqno() > upto {
			break
		}
		due = append(due, q.entries[i])
	}
	q.entries = q.entries[i:]
	q.mu.Unlock()

	for _, ts := range due {
		if err := fn(ts); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of entries currently queued.
func (q *pendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
