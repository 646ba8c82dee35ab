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

// Package errs defines the error-kind taxonomy that the replication
// core surfaces to its embedder.
package errs

import "github.com/pkg/errors"

// Kind classifies an error returned by the core.
type Kind int

// The error kinds surfaced through the provider ABI.
const (
	KindOK Kind = iota
	KindWarning
	KindTrxMissing
	KindTrxFail
	KindBFAbort
	KindSizeExceeded
	KindConnFail
	KindNodeFail
	KindFatal
	KindNotAllowed
	KindNotImplemented
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "OK"
	case KindWarning:
		return "WARNING"
	case KindTrxMissing:
		return "TRX_MISSING"
	case KindTrxFail:
		return "TRX_FAIL"
	case KindBFAbort:
		return "BF_ABORT"
	case KindSizeExceeded:
		return "SIZE_EXCEEDED"
	case KindConnFail:
		return "CONN_FAIL"
	case KindNodeFail:
		return "NODE_FAIL"
	case KindFatal:
		return "FATAL"
	case KindNotAllowed:
		return "NOT_ALLOWED"
	case KindNotImplemented:
		return "NOT_IMPLEMENTED"
	default:
		return "UNKNOWN"
	}
}

// kindError is a sentinel that carries a Kind and is comparable with
// errors.Is.
type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

// Is allows errors.Is(err, ErrTrxFail) to match any error wrapping a
// kindError with the same Kind, regardless of message.
func (e *kindError) Is(target error) bool {
	other, ok := target.(*kindError)
	return ok && other.kind == e.kind
}

func newKind(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Sentinel errors for each non-OK kind. Wrap with errors.Wrap/WithStack
// at the point of creation so that a %+v format prints a trace; compare
// with errors.Is against these values.
var (
	ErrWarning        = newKind(KindWarning, "warning")
	ErrTrxMissing     = newKind(KindTrxMissing, "transaction not found")
	ErrTrxFail        = newKind(KindTrxFail, "certification failed")
	ErrBFAbort        = newKind(KindBFAbort, "preempted by a higher-priority transaction")
	ErrSizeExceeded   = newKind(KindSizeExceeded, "write-set too large")
	ErrConnFail       = newKind(KindConnFail, "not in an applying state")
	ErrNodeFail       = newKind(KindNodeFail, "non-fatal local failure")
	ErrFatal          = newKind(KindFatal, "unrecoverable inconsistency detected")
	ErrNotAllowed     = newKind(KindNotAllowed, "operation not allowed")
	ErrNotImplemented = newKind(KindNotImplemented, "not implemented")
)

// KindOf extracts the Kind carried by err, defaulting to KindOK when err
// is nil and KindFatal when err carries no recognizable Kind (an
// unexpected error should never be silently treated as recoverable).
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindFatal
}

// IsFatal reports whether err represents a condition from which the
// node cannot recover and must abort.
func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}
