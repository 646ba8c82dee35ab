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

package replicator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/galera-go/replicator/internal/core/cache/memcache"
	"github.com/galera-go/replicator/internal/core/cert"
	"github.com/galera-go/replicator/internal/core/config"
	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/core/trx"
	"github.com/galera-go/replicator/internal/core/view"
	"github.com/galera-go/replicator/internal/gcs"
	"github.com/galera-go/replicator/internal/gcs/dummy"
	"github.com/galera-go/replicator/internal/util/stopper"
)

type testFixture struct {
	core    *Core
	gcs     *dummy.GCS
	ctx     *stopper.Context
	applied chan *trx.Slave

	mu    sync.Mutex
	views []view.View
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		gcs:     dummy.New(),
		applied: make(chan *trx.Slave, 16),
	}
	ce := cert.New(logrus.NewEntry(logrus.New()))
	cb := config.Callbacks{
		View: func(_ context.Context, v view.View) error {
			f.mu.Lock()
			f.views = append(f.views, v)
			f.mu.Unlock()
			return nil
		},
		Connected:  func(context.Context) error { return nil },
		Synced:     func(context.Context) error { return nil },
		SSTRequest: func(context.Context) ([]byte, error) { return nil, nil },
		Apply: func(_ context.Context, ts *trx.Slave) error {
			f.applied <- ts
			return nil
		},
	}
	f.core = New(f.gcs, memcache.New(), ce, cb, 0)
	f.ctx = stopper.WithContext(context.Background())
	return f
}

// bootstrap connects the dummy GCS, manually advances the node to
// CONNECTED (as the embedder does once the socket-level connect
// succeeds and before ordered actions are consumed), starts the
// dispatch loop, and waits for the resulting first-view CC to shift the
// node to JOINING.
func (f *testFixture) bootstrap(t *testing.T) {
	t.Helper()
	require.NoError(t, f.gcs.Connect(context.Background(), "cluster", "gcomm://", true))
	require.NoError(t, f.core.shiftTo(context.Background(), Connected))
	f.ctx.Go(func() error { return f.core.Process(f.ctx) })
	require.Eventually(t, func() bool {
		return f.core.State() == Joining
	}, 2*time.Second, 5*time.Millisecond)
}

func (f *testFixture) stop() {
	f.ctx.Stop(time.Second)
}

func writeSet(t *testing.T, keys [][]byte, lastSeen gtid.GlobalSeqno) []byte {
	t.Helper()
	ident := trx.Ident{Source: gtid.NewGroupID(), ConnID: 1, TrxID: 1}
	payload, err := encodeWriteSet(ident, trx.FlagBegin|trx.FlagCommit, keys, lastSeen, []byte("row-data"))
	require.NoError(t, err)
	return payload
}

func TestBootstrapShiftsToJoining(t *testing.T) {
	f := newFixture(t)
	defer f.stop()
	f.bootstrap(t)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.views, 1)
	require.Equal(t, view.Primary, f.views[0].Status)
}

func TestWriteSetCertifiesAppliesAndCommits(t *testing.T) {
	f := newFixture(t)
	defer f.stop()
	f.bootstrap(t)

	payload := writeSet(t, [][]byte{[]byte("key-a")}, gtid.UndefinedGlobal)
	_, err := f.gcs.Repl(context.Background(), payload, gcs.ActionWriteSet, false)
	require.NoError(t, err)

	select {
	case ts := <-f.applied:
		require.Eventually(t, func() bool {
			return ts.State() == trx.SlaveCommitted
		}, 2*time.Second, 5*time.Millisecond)
		require.Equal(t, 1, f.core.cert.Len())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write-set to apply")
	}
}

func TestConflictingWriteSetFailsCertificationWithoutApplying(t *testing.T) {
	f := newFixture(t)
	defer f.stop()
	f.bootstrap(t)

	first := writeSet(t, [][]byte{[]byte("key-b")}, gtid.UndefinedGlobal)
	_, err := f.gcs.Repl(context.Background(), first, gcs.ActionWriteSet, false)
	require.NoError(t, err)
	<-f.applied

	// The second write-set claims to have last seen nothing (as if it
	// were certified concurrently on another node before the first
	// committed), so it must lose to the already-installed key.
	second := writeSet(t, [][]byte{[]byte("key-b")}, gtid.UndefinedGlobal)
	_, err = f.gcs.Repl(context.Background(), second, gcs.ActionWriteSet, false)
	require.NoError(t, err)

	select {
	case ts := <-f.applied:
		t.Fatalf("conflicting write-set should not have reached Apply: %+v", ts)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDisjointWriteSetsBothCommit(t *testing.T) {
	f := newFixture(t)
	defer f.stop()
	f.bootstrap(t)

	a := writeSet(t, [][]byte{[]byte("key-c")}, gtid.UndefinedGlobal)
	b := writeSet(t, [][]byte{[]byte("key-d")}, gtid.UndefinedGlobal)
	_, err := f.gcs.Repl(context.Background(), a, gcs.ActionWriteSet, false)
	require.NoError(t, err)
	_, err = f.gcs.Repl(context.Background(), b, gcs.ActionWriteSet, false)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-f.applied:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for write-set %d to apply", i)
		}
	}
	require.Equal(t, 2, f.core.cert.Len())
}
