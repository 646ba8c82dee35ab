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

package ist

import "time"

// progressThrottle decides when the receiver should log a progress
// update: once every 10 seconds, or every 16 events, whichever comes
// *later* — both thresholds must be met before a report fires, so a
// burst of events doesn't spam the log. A slow trickle of events is
// reported only once 16 of them have arrived.
type progressThrottle struct {
	lastReport       time.Time
	eventsSinceReport int
}

func newProgressThrottle(now time.Time) *progressThrottle {
	return &progressThrottle{lastReport: now}
}

// Tick records one more event and reports whether a progress update
// should be logged now, resetting its counters if so.
func (p *progressThrottle) Tick(now time.Time) bool {
	p.eventsSinceReport++
	if now.Sub(p.lastReport) < 10*time.Second || p.eventsSinceReport < 16 {
		return false
	}
	p.lastReport = now
	p.eventsSinceReport = 0
	return true
}
