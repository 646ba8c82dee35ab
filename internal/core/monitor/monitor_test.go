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
	"sync"
	"testing"
	"time"

	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/core/monitor"
	"github.com/stretchr/testify/require"
)

func TestEnterLeaveIdentity(t *testing.T) {
	r := require.New(t)
	m := monitor.New[gtid.GlobalSeqno]("test", -1)
	ctx := context.Background()

	r.NoError(m.Enter(ctx, 0))
	m.Leave(0)
	r.GreaterOrEqual(int64(m.LastLeft()), int64(0))
}

func TestSelfCancelEquivalentToEnterLeave(t *testing.T) {
	r := require.New(t)
	m := monitor.New[gtid.GlobalSeqno]("test", -1)
	ctx := context.Background()

	m.SelfCancel(0)
	// A successor at 1 should now be admissible immediately.
	done := make(chan struct{})
	go func() {
		_ = m.Enter(ctx, 1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("successor was not admitted after SelfCancel")
	}
	r.True(m.Entered(1))
	r.Equal(gtid.GlobalSeqno(0), m.LastLeft())
}

func TestStrictOrdering(t *testing.T) {
	r := require.New(t)
	m := monitor.New[gtid.GlobalSeqno]("test", -1)
	ctx := context.Background()

	var order []int
	var mu sync.Mutex
	done := make(chan struct{}, 3)

	for _, k := range []gtid.GlobalSeqno{2, 1, 0} {
		k := k
		go func() {
			r.NoError(m.Enter(ctx, k))
			mu.Lock()
			order = append(order, int(k))
			mu.Unlock()
			m.Leave(k)
			done <- struct{}{}
		}()
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for strict ordering to complete")
		}
	}
	r.Equal([]int{0, 1, 2}, order)
}

func TestInterruptUnblocksWaiter(t *testing.T) {
	r := require.New(t)
	m := monitor.New[gtid.GlobalSeqno]("test", -1)
	ctx := context.Background()

	r.NoError(m.Enter(ctx, 0)) // holds 0, never leaves

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Enter(ctx, 1)
	}()

	time.Sleep(50 * time.Millisecond)
	r.True(m.Interrupt(1))

	select {
	case err := <-errCh:
		r.ErrorIs(err, monitor.ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("interrupt did not unblock waiter")
	}
}

func TestInterruptNoEffectAfterEntered(t *testing.T) {
	m := monitor.New[gtid.GlobalSeqno]("test", -1)
	ctx := context.Background()
	require.NoError(t, m.Enter(ctx, 0))
	require.False(t, m.Interrupt(0))
}

func TestDrainBlocksUntilLastLeft(t *testing.T) {
	r := require.New(t)
	m := monitor.New[gtid.GlobalSeqno]("test", -1)
	ctx := context.Background()

	r.NoError(m.Enter(ctx, 0))

	done := make(chan struct{})
	go func() {
		r.NoError(m.Drain(ctx, 0))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("drain returned before the holder left")
	case <-time.After(50 * time.Millisecond):
	}

	m.Leave(0)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain did not unblock after leave")
	}
}

