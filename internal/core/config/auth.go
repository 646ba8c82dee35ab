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

package config

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// HashSSTAuth bcrypt-hashes a cluster's shared state-transfer auth
// token, the Go analogue of the original's wsrep_sst_auth secret, so
// the plaintext token never needs to sit in grastate.dat or a log line
// alongside the rest of a node's configuration.
func HashSSTAuth(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	return string(h), errors.Wrap(err, "config: hash sst auth token")
}

// VerifySSTAuth reports whether token matches hash, the check a donor
// runs against an incoming SSTRequest payload before agreeing to stream
// a snapshot to the requesting node.
func VerifySSTAuth(hash, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
