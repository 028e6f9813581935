// Copyright 2021 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wire

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/nslogger-project/nslogger/pkg/record"
)

// part is an encode-time intermediate: one typed, keyed value plus its raw
// payload bytes, kept sorted by key so encoding is deterministic (§4.3
// "Part ordering is fixed by ascending partKey").
type part struct {
	key     uint8
	typ     partType
	payload []byte
}

// EncodeRecord serializes r into one complete frame (length prefix plus
// parts), per §4.3.
func EncodeRecord(r *record.LogRecord) []byte {
	parts := collectParts(r)
	return encodeFrame(parts)
}

// EncodeClientIdentity serializes a CLIENT_INFO record for ci, at the
// given sequence number (continuation CLIENT_INFO records after a
// reconnect reuse the run's existing unique_id but may bump sequence,
// see §4.2).
func EncodeClientIdentity(ci *record.ClientIdentity, ts record.Timestamp, sequence uint32) []byte {
	parts := []part{
		{keyMessageType, wireInt16, int16Bytes(int16(record.TypeClientInfo))},
		{keyTimestamp, wireTimeval, timevalBytes(ts)},
		{keySequence, wireInt32, int32Bytes(int32(sequence))},
		{keyClientName, wireString, stringBytes(ci.ClientName)},
		{keyClientVersion, wireString, stringBytes(ci.ClientVersion)},
		{keyOSName, wireString, stringBytes(ci.OSName)},
		{keyOSVersion, wireString, stringBytes(ci.OSVersion)},
		{keyDevice, wireString, stringBytes(ci.Device)},
		{keyUniqueID, wireString, stringBytes(ci.UniqueID)},
	}
	sortParts(parts)
	return encodeFrame(parts)
}

func collectParts(r *record.LogRecord) []part {
	parts := make([]part, 0, 12)
	parts = append(parts,
		part{keyMessageType, wireInt16, int16Bytes(int16(r.Type))},
		part{keyTimestamp, wireTimeval, timevalBytes(r.Timestamp)},
		part{keySequence, wireInt32, int32Bytes(int32(r.Sequence))},
	)
	if r.ThreadID != "" {
		parts = append(parts, part{keyThreadID, wireString, stringBytes(r.ThreadID)})
	}
	if r.HasTag {
		parts = append(parts, part{keyTag, wireString, stringBytes(r.Tag)})
	}
	if r.Type == record.TypeLog {
		parts = append(parts, part{keyLevel, wireInt16, int16Bytes(int16(r.Level))})
	}
	switch r.Payload.Kind {
	case record.PayloadText:
		parts = append(parts, part{keyMessage, wireString, stringBytes(r.Payload.Text)})
	case record.PayloadBinary:
		parts = append(parts, part{keyMessage, wireBinary, binaryBytes(r.Payload.Bytes)})
	case record.PayloadImage:
		parts = append(parts,
			part{keyMessage, wireImage, binaryBytes(r.Payload.Bytes)},
			part{keyImageWidth, wireInt32, int32Bytes(r.Payload.Width)},
			part{keyImageHeight, wireInt32, int32Bytes(r.Payload.Height)},
		)
	}
	if r.HasFilename {
		parts = append(parts, part{keyFilename, wireString, stringBytes(r.Filename)})
	}
	if r.HasLine {
		parts = append(parts, part{keyLineNumber, wireInt32, int32Bytes(r.Line)})
	}
	if r.HasFunction {
		parts = append(parts, part{keyFunction, wireString, stringBytes(r.Function)})
	}
	if r.HasDomain {
		parts = append(parts, part{keyDomain, wireString, stringBytes(r.Domain)})
	}
	for _, u := range r.Unknown {
		parts = append(parts, part{u.Key, partType(u.WireTyp), u.Raw})
	}
	sortParts(parts)
	return parts
}

// sortParts enforces ascending-key determinism. Go's append order above is
// already close to ascending for the common case, but Unknown parts and
// future additions are not guaranteed to be, so an explicit stable sort is
// the only way to guarantee §4.3's ordering contract holds always.
func sortParts(parts []part) {
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].key < parts[j].key })
}

func encodeFrame(parts []part) []byte {
	var payload bytes.Buffer
	for _, p := range parts {
		payload.WriteByte(p.key)
		payload.WriteByte(uint8(p.typ))
		payload.Write(p.payload)
	}

	var frame bytes.Buffer
	frame.Grow(4 + payload.Len())
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(payload.Len()))
	frame.Write(sizeBuf[:])
	frame.Write(payload.Bytes())
	return frame.Bytes()
}

func int16Bytes(v int16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	return b[:]
}

func int32Bytes(v int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return b[:]
}

func timevalBytes(ts record.Timestamp) []byte {
	var b [12]byte
	binary.BigEndian.PutUint64(b[0:8], ts.Seconds)
	binary.BigEndian.PutUint32(b[8:12], ts.Microseconds)
	return b[:]
}

func stringBytes(s string) []byte {
	return binaryBytes([]byte(s))
}

func binaryBytes(data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(data)))
	copy(out[4:], data)
	return out
}
