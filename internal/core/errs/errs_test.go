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

package errs_test

import (
	"testing"

	"github.com/galera-go/replicator/internal/core/errs"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrapped(t *testing.T) {
	r := require.New(t)

	wrapped := pkgerrors.Wrap(errs.ErrTrxFail, "append_trx")
	r.True(pkgerrors.Is(wrapped, errs.ErrTrxFail))
	r.Equal(errs.KindTrxFail, errs.KindOf(wrapped))
}

func TestKindOfNilIsOK(t *testing.T) {
	require.Equal(t, errs.KindOK, errs.KindOf(nil))
}

func TestIsFatal(t *testing.T) {
	r := require.New(t)
	r.True(errs.IsFatal(errs.ErrFatal))
	r.False(errs.IsFatal(errs.ErrTrxFail))
	r.False(errs.IsFatal(nil))
}

func TestUnrecognizedErrorIsFatal(t *testing.T) {
	require.True(t, errs.IsFatal(pkgerrors.New("boom")))
}
