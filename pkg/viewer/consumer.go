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

package viewer

import "github.com/nslogger-project/nslogger/pkg/record"

// Consumer receives batched delivery from a ConnectionSession (§4.5). A
// host application (a UI, a log-to-disk sink, a test harness) implements
// this to observe a run without touching the session's internal state.
type Consumer interface {
	// DidReceiveMessages is called with one batch of newly-decoded
	// records, in the order they were appended to the session's
	// messages (never interleaved across sessions).
	DidReceiveMessages(session *ConnectionSession, records []*record.LogRecord)

	// RemoteDisconnected is called exactly once, when the session's
	// connection ends, whether cleanly (DISCONNECT record, nil err) or
	// not (transport error or ProtocolError).
	RemoteDisconnected(session *ConnectionSession, err error)
}
