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

// Package wire implements the NSLogger framed wire protocol: a stream of
// length-prefixed frames, each holding an ascending-key-ordered sequence
// of typed parts.
//
// The codec is hand-rolled over encoding/binary rather than built on a
// generic length-field codec library, because §8 Property 1 requires
// byte-for-byte deterministic encode/decode round trips independent of
// any library's internal buffer-growth behavior — see DESIGN.md.
package wire

// partType identifies how a part's payload is laid out on the wire.
type partType uint8

const (
	wireInt16   partType = 0
	wireInt32   partType = 1
	wireInt64   partType = 2
	wireString  partType = 3
	wireBinary  partType = 4
	wireImage   partType = 5
	wireTimeval partType = 6
)

// Part keys, fixed by the wire contract (§4.3).
const (
	keyMessageType  uint8 = 0
	keyTimestamp    uint8 = 1
	keySequence     uint8 = 2
	keyThreadID     uint8 = 3
	keyTag          uint8 = 4
	keyLevel        uint8 = 5
	keyMessage      uint8 = 6 // text / binary / image payload
	keyImageWidth   uint8 = 7
	keyImageHeight  uint8 = 8
	keyFilename     uint8 = 9
	keyLineNumber   uint8 = 10
	keyFunction     uint8 = 11
	keyDomain       uint8 = 12

	keyClientName    uint8 = 20
	keyClientVersion uint8 = 21
	keyOSName        uint8 = 22
	keyOSVersion     uint8 = 23
	keyDevice        uint8 = 24
	keyUniqueID      uint8 = 25
	keyRunID         uint8 = 26
)
