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

package wire_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nslogger-project/nslogger/pkg/record"
	"github.com/nslogger-project/nslogger/pkg/wire"
)

func TestEncodeDecodeTextLogRoundTrip(t *testing.T) {
	r := &record.LogRecord{
		Sequence:  1,
		Timestamp: record.Timestamp{Seconds: 1700000000, Microseconds: 123456},
		Type:      record.TypeLog,
		Level:     record.LevelDebug,
		Domain:    "net",
		HasDomain: true,
		ThreadID:  "main",
		Payload:   record.Payload{Kind: record.PayloadText, Text: "hello"},
	}

	frame := wire.EncodeRecord(r)
	require.GreaterOrEqual(t, len(frame), 4)

	declaredSize := binary.BigEndian.Uint32(frame[0:4])
	require.EqualValues(t, len(frame)-4, declaredSize)

	var dec wire.Decoder
	dec.Feed(frame)
	got, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, r.Sequence, got.Sequence)
	require.Equal(t, r.Timestamp, got.Timestamp)
	require.Equal(t, r.Type, got.Type)
	require.Equal(t, r.Level, got.Level)
	require.Equal(t, r.Domain, got.Domain)
	require.True(t, got.HasDomain)
	require.Equal(t, r.ThreadID, got.ThreadID)
	require.Equal(t, r.Payload, got.Payload)

	// Re-encoding the decoded record must reproduce the same bytes.
	require.Equal(t, frame, wire.EncodeRecord(got))
}

func TestDecodeShortReadIsPureState(t *testing.T) {
	r := &record.LogRecord{
		Sequence:  1,
		Timestamp: record.Timestamp{Seconds: 1, Microseconds: 0},
		Type:      record.TypeMark,
		Tag:       "checkpoint",
		HasTag:    true,
	}
	frame := wire.EncodeRecord(r)

	var dec wire.Decoder
	// Feed one byte at a time; Next() must report ok=false, err=nil until
	// the full frame has arrived.
	for i := 0; i < len(frame)-1; i++ {
		dec.Feed(frame[i : i+1])
		_, ok, err := dec.Next()
		require.NoError(t, err)
		require.False(t, ok)
	}
	dec.Feed(frame[len(frame)-1:])
	got, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, r.Tag, got.Tag)
	require.True(t, got.HasTag)
}

func TestDecodeMultipleFramesInOneFeed(t *testing.T) {
	r1 := &record.LogRecord{Sequence: 1, Type: record.TypeLog, Payload: record.Payload{Kind: record.PayloadText, Text: "one"}}
	r2 := &record.LogRecord{Sequence: 2, Type: record.TypeLog, Payload: record.Payload{Kind: record.PayloadText, Text: "two"}}

	var dec wire.Decoder
	dec.Feed(append(wire.EncodeRecord(r1), wire.EncodeRecord(r2)...))

	got1, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", got1.Payload.Text)

	got2, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "two", got2.Payload.Text)

	_, ok, err = dec.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEncodeDecodeBinaryAndImagePayloads(t *testing.T) {
	bin := &record.LogRecord{Sequence: 1, Type: record.TypeLog, Payload: record.Payload{Kind: record.PayloadBinary, Bytes: []byte{1, 2, 3, 4}}}
	var dec wire.Decoder
	dec.Feed(wire.EncodeRecord(bin))
	got, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.PayloadBinary, got.Payload.Kind)
	require.Equal(t, []byte{1, 2, 3, 4}, got.Payload.Bytes)

	// Image payloads may legitimately carry zero width/height.
	img := &record.LogRecord{Sequence: 2, Type: record.TypeLog, Payload: record.Payload{Kind: record.PayloadImage, Bytes: []byte{0xFF}, Width: 0, Height: 0}}
	dec = wire.Decoder{}
	dec.Feed(wire.EncodeRecord(img))
	got, ok, err = dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.PayloadImage, got.Payload.Kind)
	require.EqualValues(t, 0, got.Payload.Width)
	require.EqualValues(t, 0, got.Payload.Height)
}

func TestUnknownPartsRoundTripVerbatim(t *testing.T) {
	r := &record.LogRecord{
		Sequence: 1,
		Type:     record.TypeLog,
		Payload:  record.Payload{Kind: record.PayloadText, Text: "x"},
		Unknown:  []record.UnknownPart{{Key: 200, WireTyp: 0, Raw: []byte{0x00, 0x2A}}},
	}
	var dec wire.Decoder
	dec.Feed(wire.EncodeRecord(r))
	got, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Unknown, 1)
	require.EqualValues(t, 200, got.Unknown[0].Key)
	require.Equal(t, []byte{0x00, 0x2A}, got.Unknown[0].Raw)

	require.Equal(t, wire.EncodeRecord(r), wire.EncodeRecord(got))
}

func TestEncodeDecodeClientIdentity(t *testing.T) {
	ci := &record.ClientIdentity{
		ClientName:    "demo",
		ClientVersion: "1.0",
		OSName:        "linux",
		OSVersion:     "6.1",
		Device:        "host1",
		UniqueID:      "abc-123",
	}
	frame := wire.EncodeClientIdentity(ci, record.Timestamp{Seconds: 1, Microseconds: 2}, 0)

	var dec wire.Decoder
	dec.Feed(frame)
	rec, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.TypeClientInfo, rec.Type)

	got := wire.DecodeClientIdentity(rec)
	require.Equal(t, ci, got)
}

func TestDecodeOversizedFrameLengthIsShortRead(t *testing.T) {
	frame := wire.EncodeRecord(&record.LogRecord{Sequence: 1, Type: record.TypeLog})
	// Corrupt the length prefix to claim far more payload than actually follows.
	binary.BigEndian.PutUint32(frame[0:4], 0xFFFFFFF0)

	var dec wire.Decoder
	dec.Feed(frame)
	_, ok, err := dec.Next()
	require.NoError(t, err)
	require.False(t, ok) // not enough bytes yet; ShortRead, not an error
}

func TestDecodeRejectsUnknownPartType(t *testing.T) {
	// Hand-build a one-part frame with an invalid part type (99).
	payload := []byte{0 /*key*/, 99 /*type*/}
	var frame []byte
	size := make([]byte, 4)
	binary.BigEndian.PutUint32(size, uint32(len(payload)))
	frame = append(frame, size...)
	frame = append(frame, payload...)

	var dec wire.Decoder
	dec.Feed(frame)
	_, ok, err := dec.Next()
	require.Error(t, err)
	require.False(t, ok)
}
