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
	"encoding/binary"

	"github.com/nslogger-project/nslogger/pkg/nlerr"
	"github.com/nslogger-project/nslogger/pkg/record"
)

// Decoder reassembles frames out of a byte stream that may arrive in
// arbitrary-sized chunks (Feed), per §4.3's self-describing-frame
// contract: the consumer reads parts until the declared size is consumed,
// and a short read is pure state, never an error.
type Decoder struct {
	buf []byte
}

// Feed appends newly-read bytes to the decoder's internal buffer.
func (d *Decoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Next attempts to decode one complete frame from the buffered bytes.
//
// ok is false when there are not yet enough bytes buffered for a full
// frame (ShortRead, §4.3 "pure state, not an error"); the caller should
// Feed more data and retry. err is non-nil only for a malformed frame
// (BadLength, an unknown part type, a missing message-type part, or a
// part whose type or size does not fit its key), which is fatal for the
// session per §4.3/§7.
func (d *Decoder) Next() (rec *record.LogRecord, ok bool, err error) {
	if len(d.buf) < 4 {
		return nil, false, nil
	}
	size := binary.BigEndian.Uint32(d.buf[0:4])
	frameEnd := 4 + int(size)
	if frameEnd < 0 || len(d.buf) < frameEnd {
		return nil, false, nil
	}

	payload := d.buf[4:frameEnd]
	rec, err = decodePayload(payload)
	if err != nil {
		return nil, false, err
	}

	remaining := make([]byte, len(d.buf)-frameEnd)
	copy(remaining, d.buf[frameEnd:])
	d.buf = remaining
	return rec, true, nil
}

func decodePayload(payload []byte) (*record.LogRecord, error) {
	rec := &record.LogRecord{}
	seenType := false

	pos := 0
	for pos < len(payload) {
		if pos+2 > len(payload) {
			return nil, nlerr.Protocol("wire: truncated part header at offset %d", pos)
		}
		key := payload[pos]
		typ := partType(payload[pos+1])
		pos += 2

		length, dataStart, err := partLength(payload, pos, typ)
		if err != nil {
			return nil, err
		}
		dataEnd := dataStart + length
		if dataEnd > len(payload) {
			return nil, nlerr.Protocol("wire: part key=%d length=%d exceeds frame remainder", key, length)
		}
		raw := payload[dataStart:dataEnd]

		if err := applyPart(rec, key, typ, raw); err != nil {
			return nil, err
		}
		if key == keyMessageType {
			seenType = true
		}
		pos = dataEnd
	}

	if !seenType {
		return nil, nlerr.Protocol("wire: frame missing required message-type part")
	}
	return rec, nil
}

// partLength returns the byte length of the part's payload (excluding the
// 2-byte key+type header already consumed) and the offset at which the
// payload data itself begins (dataStart == headerPos for fixed-size
// integer/timeval types, or headerPos+4 for length-prefixed types).
func partLength(payload []byte, headerPos int, typ partType) (length int, dataStart int, err error) {
	switch typ {
	case wireInt16:
		return 2, headerPos, nil
	case wireInt32:
		return 4, headerPos, nil
	case wireInt64:
		return 8, headerPos, nil
	case wireTimeval:
		return 12, headerPos, nil
	case wireString, wireBinary, wireImage:
		if headerPos+4 > len(payload) {
			return 0, 0, nlerr.Protocol("wire: truncated length prefix at offset %d", headerPos)
		}
		n := int(binary.BigEndian.Uint32(payload[headerPos : headerPos+4]))
		return n, headerPos + 4, nil
	default:
		return 0, 0, nlerr.Protocol("wire: unknown part type %d", uint8(typ))
	}
}

func applyPart(rec *record.LogRecord, key uint8, typ partType, raw []byte) error {
	switch key {
	case keyMessageType:
		v, err := asInt16(raw, typ, key)
		if err != nil {
			return err
		}
		rec.Type = record.Type(v)
	case keyTimestamp:
		if typ != wireTimeval || len(raw) != 12 {
			return nlerr.Protocol("wire: timestamp part has wrong shape")
		}
		rec.Timestamp = record.Timestamp{
			Seconds:      binary.BigEndian.Uint64(raw[0:8]),
			Microseconds: binary.BigEndian.Uint32(raw[8:12]),
		}
	case keySequence:
		v, err := asInt32(raw, typ, key)
		if err != nil {
			return err
		}
		rec.Sequence = uint32(v)
	case keyThreadID:
		rec.ThreadID = string(raw)
	case keyTag:
		rec.Tag = string(raw)
		rec.HasTag = true
	case keyLevel:
		v, err := asInt16(raw, typ, key)
		if err != nil {
			return err
		}
		rec.Level = record.Level(v)
	case keyMessage:
		switch typ {
		case wireString:
			rec.Payload = record.Payload{Kind: record.PayloadText, Text: string(raw)}
		case wireBinary:
			rec.Payload = record.Payload{Kind: record.PayloadBinary, Bytes: append([]byte(nil), raw...)}
		case wireImage:
			rec.Payload = record.Payload{Kind: record.PayloadImage, Bytes: append([]byte(nil), raw...)}
		default:
			return nlerr.Protocol("wire: message part has unexpected type %d", uint8(typ))
		}
	case keyImageWidth:
		v, err := asInt32(raw, typ, key)
		if err != nil {
			return err
		}
		rec.Payload.Width = v
	case keyImageHeight:
		v, err := asInt32(raw, typ, key)
		if err != nil {
			return err
		}
		rec.Payload.Height = v
	case keyFilename:
		rec.Filename = string(raw)
		rec.HasFilename = true
	case keyLineNumber:
		v, err := asInt32(raw, typ, key)
		if err != nil {
			return err
		}
		rec.Line = v
		rec.HasLine = true
	case keyFunction:
		rec.Function = string(raw)
		rec.HasFunction = true
	case keyDomain:
		rec.Domain = string(raw)
		rec.HasDomain = true
	default:
		// Unknown optional key: preserve verbatim (§8 Property 1), never fatal.
		rec.Unknown = append(rec.Unknown, record.UnknownPart{Key: key, WireTyp: uint8(typ), Raw: append([]byte(nil), raw...)})
	}
	return nil
}

func asInt16(raw []byte, typ partType, key uint8) (int16, error) {
	if typ != wireInt16 || len(raw) != 2 {
		return 0, nlerr.Protocol("wire: part key=%d expected int16", key)
	}
	return int16(binary.BigEndian.Uint16(raw)), nil
}

func asInt32(raw []byte, typ partType, key uint8) (int32, error) {
	if typ != wireInt32 || len(raw) != 4 {
		return 0, nlerr.Protocol("wire: part key=%d expected int32", key)
	}
	return int32(binary.BigEndian.Uint32(raw)), nil
}

// DecodeClientIdentity extracts a ClientIdentity from a decoded CLIENT_INFO
// record. The caller is responsible for having checked rec.Type ==
// TypeClientInfo.
func DecodeClientIdentity(rec *record.LogRecord) *record.ClientIdentity {
	ci := &record.ClientIdentity{}
	for _, u := range rec.Unknown {
		switch u.Key {
		case keyClientName:
			ci.ClientName = string(u.Raw)
		case keyClientVersion:
			ci.ClientVersion = string(u.Raw)
		case keyOSName:
			ci.OSName = string(u.Raw)
		case keyOSVersion:
			ci.OSVersion = string(u.Raw)
		case keyDevice:
			ci.Device = string(u.Raw)
		case keyUniqueID:
			ci.UniqueID = string(u.Raw)
		}
	}
	return ci
}
