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

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Version: CurrentVersion,
		Type:    FrameWriteSet,
		Flags:   0x1,
		Ctrl:    CtrlOK,
		Length:  1024,
		Seqno:   987654321,
	}
	data, err := h.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, HeaderSize)

	var got Header
	require.NoError(t, got.UnmarshalBinary(data))
	require.True(t, h.Equal(got))
	require.Equal(t, h.Seqno, got.Seqno)
	require.Equal(t, h.Length, got.Length)
}

func TestHeaderCorruptionDetected(t *testing.T) {
	h := Header{Version: CurrentVersion, Type: FrameCtrl, Ctrl: CtrlEOF, Seqno: 42}
	data, err := h.MarshalBinary()
	require.NoError(t, err)

	data[0] ^= 0xFF // flip every bit in the version byte, ahead of the checksum

	var got Header
	err = got.UnmarshalBinary(data)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestHeaderChecksumBitFlipDetected(t *testing.T) {
	h := Header{Version: CurrentVersion, Type: FrameCommitCut, Seqno: 7}
	data, err := h.MarshalBinary()
	require.NoError(t, err)

	data[16] ^= 0x01 // flip a single bit within the checksum field itself

	var got Header
	err = got.UnmarshalBinary(data)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestHeaderWrongSize(t *testing.T) {
	var got Header
	err := got.UnmarshalBinary(make([]byte, HeaderSize-1))
	require.Error(t, err)
}

func TestLegacyHeaderRoundTrip(t *testing.T) {
	h := legacyHeader{Type: FrameWriteSet, Flags: 0x2, Length: 256, Seqno: 12345}
	data, err := h.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, legacyHeaderSize)

	var got legacyHeader
	require.NoError(t, got.UnmarshalBinary(data))
	require.Equal(t, h, got)
}
