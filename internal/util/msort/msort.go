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

// Package msort contains utility functions for sorting and
// de-duplicating batches of keyed values.
package msort

// UniqueByKey implements a "last one wins" approach to removing entries
// with duplicate keys from x: if two entries share a key, the one
// appearing later in the slice is kept. The backwards sweep-and-compact
// shape mirrors a certification engine walking a write-set's key list
// once while tracking the highest-ranked entry seen per key.
//
// The modified slice is returned. It panics if key(x[i]) is empty for
// any entry, since an empty certification key is always a coding error
// upstream rather than a value worth silently dropping.
func UniqueByKey[T any, K comparable](x []T, key func(T) K, empty func(K) bool) []T {
	seenIdx := make(map[K]int, len(x))

	dest := len(x)
	for src := len(x) - 1; src >= 0; src-- {
		k := key(x[src])
		if empty(k) {
			panic("msort: empty key")
		}
		if _, found := seenIdx[k]; !found {
			dest--
			seenIdx[k] = dest
			x[dest] = x[src]
		}
	}

	return x[dest:]
}
