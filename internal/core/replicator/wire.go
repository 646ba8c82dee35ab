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
	"github.com/google/wire"
	log "github.com/sirupsen/logrus"

	"github.com/galera-go/replicator/internal/core/cache"
	"github.com/galera-go/replicator/internal/core/cert"
	"github.com/galera-go/replicator/internal/core/config"
	"github.com/galera-go/replicator/internal/gcs"
)

// Set is the wire provider set for constructing a Core, mirroring the
// teacher's package-level `var Set = wire.NewSet(...)` convention.
var Set = wire.NewSet(
	ProvideCertEngine,
	ProvideCore,
)

// ProvideCertEngine constructs the certification engine used by a Core.
func ProvideCertEngine() *cert.Engine {
	return cert.New(log.WithField("component", "cert"))
}

// ProvideCore wires a Core from its collaborators. It takes New's
// arguments, except that the protocol version is read from st (whose
// GTID must parse); it exists as a separate Provide* function only so
// wire's injector shape (a flat sequence of Provide* calls) is
// preserved even though no cleanup closure is needed here.
func ProvideCore(
	g gcs.GCS, c cache.Cache, ce *cert.Engine, cb config.Callbacks, st config.GraState,
) (*Core, error) {
	id, err := st.GTID()
	if err != nil {
		return nil, err
	}
	_ = id // the starting position is handed to gcs.SetInitialPosition by the caller, not stored on Core
	return New(g, c, ce, cb, st.ProtoVer), nil
}
