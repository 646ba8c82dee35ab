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

package cc

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/galera-go/replicator/internal/core/cache/memcache"
	"github.com/galera-go/replicator/internal/core/cert"
	"github.com/galera-go/replicator/internal/core/config"
	"github.com/galera-go/replicator/internal/core/gtid"
	"github.com/galera-go/replicator/internal/core/monitor"
	"github.com/galera-go/replicator/internal/core/view"
	"github.com/galera-go/replicator/internal/gcs"
)

type harness struct {
	proc       *Processor
	viewsSeen  []view.View
	aboveConn  bool
	corrupt    bool
	shifted    []string
	drainCalls int
}

func newHarness(protoVer int) *harness {
	h := &harness{}
	local := monitor.New[gtid.LocalSeqno]("local", gtid.UndefinedLocal)
	apply := monitor.NewApply(gtid.UndefinedGlobal)
	commit := monitor.New[gtid.GlobalSeqno]("commit", gtid.UndefinedGlobal)
	ce := cert.New(logrus.NewEntry(logrus.New()))
	c := memcache.New()

	cb := config.Callbacks{
		View: func(_ context.Context, v view.View) error {
			h.viewsSeen = append(h.viewsSeen, v)
			return nil
		},
		SSTRequest: func(context.Context) ([]byte, error) { return []byte("sst"), nil },
	}
	hooks := Hooks{
		ShiftConnected: func(context.Context) error { h.shifted = append(h.shifted, "CONNECTED"); return nil },
		ShiftJoining:   func(context.Context) error { h.shifted = append(h.shifted, "JOINING"); return nil },
		ShiftJoined:    func(context.Context) error { h.shifted = append(h.shifted, "JOINED"); return nil },
		ShiftDonor:     func(context.Context) error { h.shifted = append(h.shifted, "DONOR"); return nil },
		ShiftClosed:    func(context.Context) error { h.shifted = append(h.shifted, "CLOSED"); return nil },
		IsAboveConnected: func() bool { return h.aboveConn },
		IsCorrupt:        func() bool { return h.corrupt },
		DrainAll:         func(context.Context) error { h.drainCalls++; return nil },
	}

	h.proc = New(local, apply, commit, ce, c, cb, hooks, protoVer)
	return h
}

func TestHandleNonPrimaryDrainsAndSubmitsView(t *testing.T) {
	h := newHarness(6)
	h.aboveConn = true

	action := gcs.Action{
		Type:       gcs.ActionConfigChange,
		LocalSeqno: gtid.LocalSeqno(0),
		View:       &gcs.ConfigChange{ConfID: 5, Primary: false},
	}
	err := h.proc.Handle(context.Background(), action)
	require.NoError(t, err)
	require.Equal(t, 1, h.drainCalls)
	require.Len(t, h.viewsSeen, 1)
	require.Equal(t, view.NonPrimary, h.viewsSeen[0].Status)
	require.Contains(t, h.shifted, "CONNECTED")
}

func TestHandlePrimaryFirstViewShiftsJoining(t *testing.T) {
	h := newHarness(0)
	action := gcs.Action{
		Type:       gcs.ActionConfigChange,
		LocalSeqno: gtid.LocalSeqno(0),
		View: &gcs.ConfigChange{
			ConfID:   1,
			MyIdx:    0,
			ProtoVer: 4,
			Primary:  true,
			Members:  []gcs.Member{{ID: gtid.NewGroupID(), Name: "n0"}},
		},
	}
	err := h.proc.Handle(context.Background(), action)
	require.NoError(t, err)
	require.Contains(t, h.shifted, "JOINING")
	require.Len(t, h.viewsSeen, 1)
}

func TestHandlePrimaryMissingSelfIsFatal(t *testing.T) {
	h := newHarness(4)
	action := gcs.Action{
		Type:       gcs.ActionConfigChange,
		LocalSeqno: gtid.LocalSeqno(0),
		View: &gcs.ConfigChange{
			ConfID:   1,
			MyIdx:    3, // out of range: not a member of its own view
			ProtoVer: 4,
			Primary:  true,
			Members:  []gcs.Member{{ID: gtid.NewGroupID(), Name: "n0"}},
		},
	}
	err := h.proc.Handle(context.Background(), action)
	require.Error(t, err)
}

func TestHandleSelfLeaveShiftsClosed(t *testing.T) {
	h := newHarness(4)
	action := gcs.Action{
		Type:       gcs.ActionConfigChange,
		LocalSeqno: gtid.LocalSeqno(0),
		View:       &gcs.ConfigChange{ConfID: -1, Primary: false},
	}
	err := h.proc.Handle(context.Background(), action)
	require.NoError(t, err)
	require.Contains(t, h.shifted, "CLOSED")
}

func TestHandleProtocolUpgradeRequestsSST(t *testing.T) {
	h := newHarness(4)
	h.aboveConn = false
	action := gcs.Action{
		Type:       gcs.ActionConfigChange,
		LocalSeqno: gtid.LocalSeqno(0),
		View: &gcs.ConfigChange{
			ConfID:   2,
			MyIdx:    0,
			ProtoVer: 8,
			Primary:  true,
			Members:  []gcs.Member{{ID: gtid.NewGroupID(), Name: "n0"}},
		},
	}
	err := h.proc.Handle(context.Background(), action)
	require.NoError(t, err)
	// SST was requested, so no view was submitted and no shift occurred.
	require.Empty(t, h.viewsSeen)
	require.Empty(t, h.shifted)
}
