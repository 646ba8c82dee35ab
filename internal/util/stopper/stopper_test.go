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

package stopper_test

import (
	"context"
	"testing"
	"time"

	"github.com/galera-go/replicator/internal/util/stopper"
	"github.com/stretchr/testify/require"
)

func TestGoRunsUntilStopping(t *testing.T) {
	r := require.New(t)
	ctx := stopper.WithContext(context.Background())

	started := make(chan struct{})
	exited := make(chan struct{})
	ctx.Go(func() error {
		close(started)
		<-ctx.Stopping()
		close(exited)
		return nil
	})

	<-started
	select {
	case <-exited:
		t.Fatal("goroutine exited before Stop was called")
	default:
	}

	ctx.Stop(time.Second)
	select {
	case <-exited:
	default:
		t.Fatal("goroutine did not exit after Stop")
	}
	r.NoError(nil)
}

func TestGoErrorStopsSiblings(t *testing.T) {
	ctx := stopper.WithContext(context.Background())

	siblingStopped := make(chan struct{})
	ctx.Go(func() error {
		<-ctx.Stopping()
		close(siblingStopped)
		return nil
	})
	ctx.Go(func() error {
		return context.Canceled
	})

	select {
	case <-siblingStopped:
	case <-time.After(time.Second):
		t.Fatal("sibling was not stopped after a peer goroutine failed")
	}
}
