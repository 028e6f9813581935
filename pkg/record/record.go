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

// Package record defines the in-memory canonical log record shared by the
// client producer and the viewer consumer.
package record

import "fmt"

// Type is the record variant tag carried on the wire as part key 0.
type Type uint8

const (
	TypeLog Type = iota
	TypeBlockStart
	TypeBlockEnd
	TypeClientInfo
	TypeDisconnect
	TypeMark
)

func (t Type) String() string {
	switch t {
	case TypeLog:
		return "LOG"
	case TypeBlockStart:
		return "BLOCK_START"
	case TypeBlockEnd:
		return "BLOCK_END"
	case TypeClientInfo:
		return "CLIENT_INFO"
	case TypeDisconnect:
		return "DISCONNECT"
	case TypeMark:
		return "MARK"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Level is the verbosity level of a LOG record, 0 (least verbose) to 7
// (most verbose). Unused for non-LOG types.
type Level uint8

const (
	LevelError Level = 0
	LevelWarn  Level = 1
	LevelInfo  Level = 2
	LevelDebug Level = 3
	LevelVerbose Level = 4
)

// PayloadKind selects which of the payload variant's fields is meaningful.
type PayloadKind uint8

const (
	PayloadNone PayloadKind = iota
	PayloadText
	PayloadBinary
	PayloadImage
)

// Payload is the tagged union carried by LOG records: exactly one of
// Text/Bytes is meaningful per Kind, and Width/Height apply only to
// PayloadImage (and may legitimately be zero, see the image-dimensions
// open question in the spec).
type Payload struct {
	Kind   PayloadKind
	Text   string
	Bytes  []byte
	Width  int32
	Height int32
}

// Timestamp is the (seconds, microseconds) pair captured at ingest time.
type Timestamp struct {
	Seconds      uint64
	Microseconds uint32
}

// LogRecord is the canonical, symmetric form of one wire frame.
//
// A LogRecord is never mutated once handed to a consumer: every field is
// set at construction (client side) or decode (viewer side).
type LogRecord struct {
	Sequence   uint32
	Timestamp  Timestamp
	Type       Type
	Level      Level
	Domain     string
	ThreadID   string
	Filename   string
	Function   string
	Line       int32
	Payload    Payload
	Tag        string

	// HasDomain/HasFilename/HasFunction/HasLine record whether the
	// corresponding optional field was present on the wire, since the
	// zero value (""/0) is itself a valid value for these fields and must
	// round-trip as "absent" rather than "empty string" / "line 0".
	HasDomain   bool
	HasFilename bool
	HasFunction bool
	HasLine     bool
	HasTag      bool

	// Unknown carries any part keys this decoder did not recognize, so
	// that §8 Property 1 ("unknown-key fields MUST be preserved as opaque
	// parts") holds even as the part-key table grows over time.
	Unknown []UnknownPart
}

// UnknownPart is an opaque, unrecognized wire part preserved verbatim.
type UnknownPart struct {
	Key     uint8
	WireTyp uint8
	Raw     []byte
}

// ClientIdentity is the payload of the first CLIENT_INFO record of every
// run (§3).
type ClientIdentity struct {
	ClientName    string
	ClientVersion string
	OSName        string
	OSVersion     string
	Device        string
	UniqueID      string
}

// IsBlockMarker reports whether t opens or closes a hierarchical block.
func (t Type) IsBlockMarker() bool {
	return t == TypeBlockStart || t == TypeBlockEnd
}
