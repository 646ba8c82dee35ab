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

// Package metrics contains the prometheus collectors shared across the
// replication core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets is used by every duration histogram in this module.
var LatencyBuckets = []float64{
	.001, .002, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30,
}

var (
	// CertAppendTotal counts append_trx calls by verdict (attempt/ok/fail).
	CertAppendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cert_append_total",
		Help: "the number of append_trx calls by verdict",
	}, []string{"verdict"})

	// CertAppendDuration measures how long certification took per call.
	CertAppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cert_append_duration_seconds",
		Help:    "the length of time append_trx took to certify a write-set",
		Buckets: LatencyBuckets,
	})

	// CertIndexSize reports the number of live entries in the
	// certification index.
	CertIndexSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cert_index_size",
		Help: "the number of live entries in the certification index",
	})

	// MonitorEnterDuration measures the time a caller spent blocked in
	// Monitor.Enter, labeled by monitor name.
	MonitorEnterDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "monitor_enter_duration_seconds",
		Help:    "the length of time a caller was blocked in Monitor.Enter",
		Buckets: LatencyBuckets,
	}, []string{"monitor"})

	// MonitorInterrupts counts Monitor.Interrupt calls by monitor name.
	MonitorInterrupts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_interrupts_total",
		Help: "the number of times a blocked enter was interrupted",
	}, []string{"monitor"})

	// DispatchActionsTotal counts actions processed by the dispatch
	// loop, labeled by action type.
	DispatchActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_actions_total",
		Help: "the number of group-communication actions processed",
	}, []string{"type"})

	// ISTBytesTotal counts bytes transferred by the IST sender/receiver.
	ISTBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ist_bytes_total",
		Help: "the number of bytes transferred over an IST connection",
	}, []string{"role"})

	// ISTMessagesTotal counts IST wire messages by type.
	ISTMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ist_messages_total",
		Help: "the number of IST wire messages exchanged, by type",
	}, []string{"type"})
)
