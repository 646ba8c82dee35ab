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

package gtid_test

import (
	"testing"

	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/stretchr/testify/require"
)

func TestUndefined(t *testing.T) {
	r := require.New(t)
	r.False(gtid.UndefinedGlobal.IsDefined())
	r.False(gtid.UndefinedLocal.IsDefined())
	r.True(gtid.GlobalSeqno(0).IsDefined())
}

func TestCompareSameHistory(t *testing.T) {
	r := require.New(t)
	g := gtid.NewGroupID()
	a := gtid.GTID{Group: g, Seqno: 1}
	b := gtid.GTID{Group: g, Seqno: 5}

	r.True(a.SameHistory(b))
	r.Equal(-1, a.Compare(b))
	r.Equal(1, b.Compare(a))
	r.Equal(0, a.Compare(a))
}

func TestCompareDifferentHistoryPanics(t *testing.T) {
	a := gtid.GTID{Group: gtid.NewGroupID(), Seqno: 1}
	b := gtid.GTID{Group: gtid.NewGroupID(), Seqno: 1}
	require.False(t, a.SameHistory(b))
	require.Panics(t, func() { a.Compare(b) })
}

func TestParseGroupIDRoundTrip(t *testing.T) {
	r := require.New(t)
	g := gtid.NewGroupID()
	parsed, err := gtid.ParseGroupID(g.String())
	r.NoError(err)
	r.Equal(g, parsed)
}
