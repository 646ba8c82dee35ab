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

// Package wire implements the framing header shared by the IST stream
// and the gcs/client TCP transport: a fixed-size, checksummed header
// describing the frame that follows it.
package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// CurrentVersion is the protocol version this header format was
// introduced in. Streams below it use the legacy 12-byte header.
const CurrentVersion = 10

// HeaderSize is the on-wire size of a Header, in bytes.
const HeaderSize = 40

// ErrCorrupted is returned by UnmarshalBinary when the recomputed checksum
// does not match the one carried on the wire.
var ErrCorrupted = errors.New("wire: header checksum mismatch")

// FrameType distinguishes the kind of payload a Header introduces.
type FrameType byte

// The frame types the IST and gcs/client protocols exchange. NONE,
// HANDSHAKE and HANDSHAKE_RESPONSE only appear on the IST stream, ahead
// of the CTRL(OK) that opens the ordinary seqno range; SKIP stands in
// for a cache miss or a frame a pre-v10 peer can't represent.
const (
	FrameNone FrameType = iota
	FrameHandshake
	FrameHandshakeResponse
	FrameCtrl
	FrameWriteSet
	FrameCommitCut
	FrameConfigChange
	FrameSkip
)

// Ctrl values, carried in the Ctrl field of a FrameCtrl header.
const (
	CtrlOK byte = iota
	CtrlEOF
	CtrlError
)

// FlagPreload marks a TRX/CCHANGE frame that falls in the preload range
// preceding the joiner's requested first_seqno: it exists only to
// rebuild the certification index and is never must_apply.
const FlagPreload byte = 0x1

// Header is the 40-byte frame header introduced in protocol version 10:
// version(1) type(1) flags(1) ctrl(1) length(4) seqno(8) checksum(8),
// padded to 40 bytes to leave room for future fields without breaking
// alignment.
type Header struct {
	Version  byte
	Type     FrameType
	Flags    byte
	Ctrl     byte
	Length   uint32
	Seqno    int64
	Checksum uint64
}

// MarshalBinary encodes h as big-endian bytes with the checksum field
// computed over every preceding byte, matching the endian-normalized
// checksum the original IST protocol requires regardless of host byte
// order.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Version
	buf[1] = byte(h.Type)
	buf[2] = h.Flags
	buf[3] = h.Ctrl
	binary.BigEndian.PutUint32(buf[4:8], h.Length)
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.Seqno))

	checksum := xxhash.Sum64(buf[:16])
	binary.BigEndian.PutUint64(buf[16:24], checksum)
	// buf[24:40] is reserved padding, left zeroed.
	return buf, nil
}

// UnmarshalBinary decodes a Header from exactly HeaderSize bytes and
// verifies its checksum, returning ErrCorrupted if it does not match.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) != HeaderSize {
		return errors.Errorf("wire: header must be %d bytes, got %d", HeaderSize, len(data))
	}
	want := binary.BigEndian.Uint64(data[16:24])
	got := xxhash.Sum64(data[:16])
	if want != got {
		return ErrCorrupted
	}

	h.Version = data[0]
	h.Type = FrameType(data[1])
	h.Flags = data[2]
	h.Ctrl = data[3]
	h.Length = binary.BigEndian.Uint32(data[4:8])
	h.Seqno = int64(binary.BigEndian.Uint64(data[8:16]))
	h.Checksum = want
	return nil
}

// legacyHeader is the pre-v10 12-byte framing header: type(1) flags(1)
// pad(2) length(4) seqno(4). It carries no checksum and its fields
// cannot overlap with Header's, so it is a distinct type rather than a
// variant of Header, and neither format's zero value can be mistaken
// for the other's.
type legacyHeader struct {
	Type   FrameType
	Flags  byte
	Length uint32
	Seqno  int32
}

const legacyHeaderSize = 12

// MarshalBinary encodes a legacyHeader for interop with pre-v10 peers.
func (h legacyHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, legacyHeaderSize)
	buf[0] = byte(h.Type)
	buf[1] = h.Flags
	binary.BigEndian.PutUint32(buf[4:8], h.Length)
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.Seqno))
	return buf, nil
}

// UnmarshalBinary decodes a legacyHeader.
func (h *legacyHeader) UnmarshalBinary(data []byte) error {
	if len(data) != legacyHeaderSize {
		return errors.Errorf("wire: legacy header must be %d bytes, got %d", legacyHeaderSize, len(data))
	}
	h.Type = FrameType(data[0])
	h.Flags = data[1]
	h.Length = binary.BigEndian.Uint32(data[4:8])
	h.Seqno = int32(binary.BigEndian.Uint32(data[8:12]))
	return nil
}

// Equal reports whether two headers carry the same logical fields,
// ignoring the reserved padding bytes.
func (h Header) Equal(o Header) bool {
	return bytes.Equal(mustMarshal(h), mustMarshal(o))
}

func mustMarshal(h Header) []byte {
	b, _ := h.MarshalBinary()
	return b
}
