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

package client

// state is one point in the transmit worker's state machine (§5):
//
//	IDLE -> [DISCOVERING -> RESOLVING ->] CONNECTING -> HANDSHAKING ->
//	STREAMING -> DISCONNECTED -> IDLE (retry, after backoff)
//	STREAMING -> DRAINING -> TERMINATED (shutdown)
//
// A failure in DISCOVERING, RESOLVING, CONNECTING or HANDSHAKING also
// leads to DISCONNECTED; cancellation in any state other than DRAINING
// leads straight to TERMINATED.
type state int32

const (
	stateIdle state = iota
	stateDiscovering
	stateResolving
	stateConnecting
	stateHandshaking
	stateStreaming
	stateDraining
	stateDisconnected
	stateTerminated
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateDiscovering:
		return "DISCOVERING"
	case stateResolving:
		return "RESOLVING"
	case stateConnecting:
		return "CONNECTING"
	case stateHandshaking:
		return "HANDSHAKING"
	case stateStreaming:
		return "STREAMING"
	case stateDraining:
		return "DRAINING"
	case stateDisconnected:
		return "DISCONNECTED"
	case stateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}
