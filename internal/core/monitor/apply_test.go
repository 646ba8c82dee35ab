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

package monitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/core/monitor"
	"github.com/stretchr/testify/require"
)

func TestApplyMonitorParallelEntryWithoutDependency(t *testing.T) {
	r := require.New(t)
	a := monitor.NewApply(gtid.UndefinedGlobal)
	ctx := context.Background()

	// Neither entry depends on anything, so both should be admitted
	// concurrently without blocking on each other.
	done := make(chan struct{}, 2)
	for _, k := range []gtid.GlobalSeqno{0, 1} {
		k := k
		go func() {
			r.NoError(a.Enter(ctx, k, gtid.UndefinedGlobal))
			done <- struct{}{}
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("independent entries should not block each other")
		}
	}
}

func TestApplyMonitorWaitsForDependency(t *testing.T) {
	r := require.New(t)
	a := monitor.NewApply(gtid.UndefinedGlobal)
	ctx := context.Background()

	r.NoError(a.Enter(ctx, 0, gtid.UndefinedGlobal))

	entered := make(chan struct{})
	go func() {
		r.NoError(a.Enter(ctx, 1, 0)) // depends on 0
		close(entered)
	}()

	select {
	case <-entered:
		t.Fatal("dependent entry admitted before its dependency left")
	case <-time.After(50 * time.Millisecond):
	}

	a.Leave(0)
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("dependent entry not admitted after dependency left")
	}
}

func TestApplyMonitorContiguousLastLeft(t *testing.T) {
	r := require.New(t)
	a := monitor.NewApply(gtid.UndefinedGlobal)
	ctx := context.Background()

	r.NoError(a.Enter(ctx, 0, gtid.UndefinedGlobal))
	r.NoError(a.Enter(ctx, 1, gtid.UndefinedGlobal))

	// Leave out of order: 1 leaves first, but the contiguous mark must
	// not advance past 0 until 0 also leaves.
	a.Leave(1)
	r.Equal(gtid.UndefinedGlobal, a.LastLeft())

	a.Leave(0)
	r.Equal(gtid.GlobalSeqno(1), a.LastLeft())
}

func TestApplyMonitorInterrupt(t *testing.T) {
	r := require.New(t)
	a := monitor.NewApply(gtid.UndefinedGlobal)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Enter(ctx, 1, 0) // depends on 0, which never leaves
	}()

	time.Sleep(50 * time.Millisecond)
	a.Interrupt(1)

	select {
	case err := <-errCh:
		r.ErrorIs(err, monitor.ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("interrupt did not unblock dependent waiter")
	}
}
