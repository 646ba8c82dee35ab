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

package notify_test

import (
	"testing"
	"time"

	"github.com/galera-go/replicator/internal/util/notify"
	"github.com/stretchr/testify/require"
)

func TestVarWakesWaiters(t *testing.T) {
	r := require.New(t)

	var v notify.Var[int]
	val, wake := v.Get()
	r.Equal(0, val)

	done := make(chan int, 1)
	go func() {
		<-wake
		next, _ := v.Get()
		done <- next
	}()

	v.Set(42)

	select {
	case got := <-done:
		r.Equal(42, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for wakeup")
	}
}

func TestVarMultipleSets(t *testing.T) {
	r := require.New(t)
	var v notify.Var[string]

	v.Set("a")
	val, wake := v.Get()
	r.Equal("a", val)

	v.Set("b")
	select {
	case <-wake:
	default:
		t.Fatal("expected channel to be closed after Set")
	}

	val, _ = v.Get()
	r.Equal("b", val)
}
