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

package trx

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/galera-go/replicator/internal/core/errs"
	"github.com/galera-go/replicator/internal/core/gtid"
)

func testIdent() Ident {
	return Ident{Source: gtid.NewGroupID(), ConnID: 1, TrxID: 42}
}

func TestMasterHappyPath(t *testing.T) {
	m := NewMaster(testIdent(), FlagBegin|FlagCommit)
	require.Equal(t, MasterExecuting, m.State())

	require.NoError(t, m.Shift(MasterReplicating))
	require.NoError(t, m.Shift(MasterCertifying))
	require.NoError(t, m.Shift(MasterApplying))
	require.NoError(t, m.Shift(MasterCommitting))
	require.NoError(t, m.Shift(MasterCommitted))
	require.Equal(t, MasterCommitted, m.State())
}

func TestMasterIllegalTransition(t *testing.T) {
	m := NewMaster(testIdent(), FlagBegin|FlagCommit)
	err := m.Shift(MasterCommitting)
	require.Error(t, err)
	require.Equal(t, MasterExecuting, m.State())
}

func TestAbortRejectedOnceCommitted(t *testing.T) {
	m := NewMaster(testIdent(), FlagBegin|FlagCommit)
	require.NoError(t, m.Shift(MasterReplicating))
	require.NoError(t, m.Shift(MasterCertifying))
	require.NoError(t, m.Shift(MasterApplying))
	require.NoError(t, m.Shift(MasterCommitting))
	require.NoError(t, m.Shift(MasterCommitted))

	err := m.Abort(gtid.GlobalSeqno(100), gtid.GlobalSeqno(50))
	require.ErrorIs(t, err, errs.ErrNotAllowed)
}

func TestAbortRejectedWhenAlreadyAborting(t *testing.T) {
	m := NewMaster(testIdent(), FlagBegin|FlagCommit)
	require.NoError(t, m.Shift(MasterReplicating))
	require.NoError(t, m.Shift(MasterCertifying))
	require.NoError(t, m.Shift(MasterAborting))

	err := m.Abort(gtid.GlobalSeqno(100), gtid.Undefined)
	require.ErrorIs(t, err, errs.ErrNotAllowed)
}

func TestAbortOKWhileExecuting(t *testing.T) {
	m := NewMaster(testIdent(), FlagBegin|FlagCommit)

	err := m.Abort(gtid.GlobalSeqno(7), gtid.Undefined)
	require.NoError(t, err)

	must, bf := m.MustAbort()
	require.True(t, must)
	require.Equal(t, gtid.GlobalSeqno(7), bf)
}

func TestAbortRejectedWhenVictimSeqnoAlreadyLower(t *testing.T) {
	m := NewMaster(testIdent(), FlagBegin|FlagCommit)
	require.NoError(t, m.Shift(MasterReplicating))
	require.NoError(t, m.Shift(MasterCertifying))

	// The victim was already certified at seqno 10 and carries the
	// commit flag; a preempting trx at seqno 20 is too late.
	err := m.Abort(gtid.GlobalSeqno(20), gtid.GlobalSeqno(10))
	require.ErrorIs(t, err, errs.ErrNotAllowed)
}

func TestSlaveRefcounting(t *testing.T) {
	s := NewSlave(testIdent(), FlagBegin|FlagCommit, [][]byte{[]byte("k1")})
	s.Ref()
	require.False(t, s.Unref())
	require.True(t, s.Unref())
}

func TestSlaveStateMachine(t *testing.T) {
	s := NewSlave(testIdent(), FlagBegin|FlagCommit, nil)
	require.Equal(t, SlaveReplicating, s.State())

	require.NoError(t, s.Shift(SlaveCertifying))
	require.NoError(t, s.Shift(SlaveApplying))
	require.NoError(t, s.Shift(SlaveCommitting))
	require.NoError(t, s.Shift(SlaveCommitted))

	require.Error(t, s.Shift(SlaveApplying))
}

func TestSlaveSeqnoBookkeeping(t *testing.T) {
	s := NewSlave(testIdent(), FlagBegin|FlagCommit, nil)
	require.Equal(t, gtid.UndefinedGlobal, s.GlobalSeqno())
	require.Equal(t, gtid.UndefinedGlobal, s.DependsSeqno())

	s.SetSeqnos(gtid.GlobalSeqno(5), gtid.LocalSeqno(5), gtid.GlobalSeqno(3))
	require.Equal(t, gtid.GlobalSeqno(5), s.GlobalSeqno())
	require.Equal(t, gtid.LocalSeqno(5), s.LocalSeqno())
	require.Equal(t, gtid.GlobalSeqno(3), s.DependsSeqno())

	s.SetLastSeenSeqno(gtid.GlobalSeqno(2))
	require.Equal(t, gtid.GlobalSeqno(2), s.LastSeenSeqno())
}
