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

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nslogger-project/nslogger/pkg/nlerr"
	"github.com/nslogger-project/nslogger/pkg/record"
	"github.com/nslogger-project/nslogger/pkg/wire"
)

// recordingConsumer accumulates every delivered batch and the terminal
// disconnect error, for assertions from the test goroutine.
type recordingConsumer struct {
	mu       sync.Mutex
	batches  [][]*record.LogRecord
	done     chan struct{}
	finalErr error
}

func newRecordingConsumer() *recordingConsumer {
	return &recordingConsumer{done: make(chan struct{})}
}

func (c *recordingConsumer) DidReceiveMessages(_ *ConnectionSession, records []*record.LogRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, records)
}

func (c *recordingConsumer) RemoteDisconnected(_ *ConnectionSession, err error) {
	c.mu.Lock()
	c.finalErr = err
	c.mu.Unlock()
	close(c.done)
}

func logRecord(seq uint32, text string) *record.LogRecord {
	return &record.LogRecord{
		Sequence: seq,
		Type:     record.TypeLog,
		Level:    record.LevelInfo,
		Payload:  record.Payload{Kind: record.PayloadText, Text: text},
	}
}

func waitDone(t *testing.T, c *recordingConsumer) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session to terminate")
	}
}

// TestSessionGapDetectionTerminatesWithProtocolError feeds sequences
// 1, 2, 4 (skipping 3); the session must terminate with a ProtocolError
// after the third frame, having delivered exactly two messages.
func TestSessionGapDetectionTerminatesWithProtocolError(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	consumer := newRecordingConsumer()
	session := newConnectionSession(record.ClientIdentity{UniqueID: "u1"}, consumer)
	session.attach(server)

	go session.readLoop(context.Background())

	go func() {
		for _, seq := range []uint32{1, 2, 4} {
			client.Write(wire.EncodeRecord(logRecord(seq, "m")))
		}
	}()

	waitDone(t, consumer)

	require.True(t, nlerr.IsProtocol(consumer.finalErr))
	require.Len(t, session.Messages(), 2)
}

// TestSessionSequenceMonotonicity feeds a contiguous run and checks every
// record is delivered in order with no gaps.
func TestSessionSequenceMonotonicity(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	consumer := newRecordingConsumer()
	session := newConnectionSession(record.ClientIdentity{UniqueID: "u2"}, consumer)
	session.attach(server)

	go session.readLoop(context.Background())

	go func() {
		for seq := uint32(1); seq <= 5; seq++ {
			client.Write(wire.EncodeRecord(logRecord(seq, "m")))
		}
		client.Write(wire.EncodeRecord(&record.LogRecord{Sequence: 6, Type: record.TypeDisconnect}))
	}()

	waitDone(t, consumer)
	require.NoError(t, consumer.finalErr)

	msgs := session.Messages()
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		require.EqualValues(t, i+1, m.Sequence)
	}
}

// TestSessionReconnectMergesRun exercises S4: a CLIENT_INFO continuation
// frame arriving mid-stream (as the Listener would forward it after a
// reconnect) is skipped rather than validated against expectedSeq, and
// the run's sequence numbering continues unbroken across it.
func TestSessionReconnectMergesRun(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	consumer := newRecordingConsumer()
	identity := record.ClientIdentity{UniqueID: "u3"}
	session := newConnectionSession(identity, consumer)
	session.attach(server)

	go session.readLoop(context.Background())

	go func() {
		client.Write(wire.EncodeRecord(logRecord(1, "a")))
		client.Write(wire.EncodeRecord(logRecord(2, "b")))
		client.Write(wire.EncodeRecord(logRecord(3, "c")))
		// Reconnection continuation: re-announces identity, not counted
		// toward messages or expectedSeq.
		client.Write(wire.EncodeClientIdentity(&identity, record.Timestamp{}, 0))
		client.Write(wire.EncodeRecord(logRecord(4, "d")))
		client.Write(wire.EncodeRecord(logRecord(5, "e")))
		client.Write(wire.EncodeRecord(&record.LogRecord{Sequence: 6, Type: record.TypeDisconnect}))
	}()

	waitDone(t, consumer)
	require.NoError(t, consumer.finalErr)

	msgs := session.Messages()
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		require.EqualValues(t, i+1, m.Sequence)
	}
}

// TestSessionUnmatchedBlockEndIsLoggedNotFatal verifies a BLOCK_END with
// no open BLOCK_START does not terminate the session.
func TestSessionUnmatchedBlockEndIsLoggedNotFatal(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	consumer := newRecordingConsumer()
	session := newConnectionSession(record.ClientIdentity{UniqueID: "u4"}, consumer)
	session.attach(server)

	go session.readLoop(context.Background())

	go func() {
		client.Write(wire.EncodeRecord(&record.LogRecord{Sequence: 1, Type: record.TypeBlockEnd}))
		client.Write(wire.EncodeRecord(logRecord(2, "after")))
		client.Write(wire.EncodeRecord(&record.LogRecord{Sequence: 3, Type: record.TypeDisconnect}))
	}()

	waitDone(t, consumer)
	require.NoError(t, consumer.finalErr)
	require.Len(t, session.Messages(), 2)
}

// TestSessionBlockNesting verifies that a BLOCK_START/BLOCK_END pair
// around one LOG leaves parentIndexStack empty and keeps all three
// records in messages.
func TestSessionBlockNesting(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	consumer := newRecordingConsumer()
	session := newConnectionSession(record.ClientIdentity{UniqueID: "u5"}, consumer)
	session.attach(server)

	go session.readLoop(context.Background())

	go func() {
		client.Write(wire.EncodeRecord(&record.LogRecord{Sequence: 1, Type: record.TypeBlockStart}))
		client.Write(wire.EncodeRecord(logRecord(2, "inner")))
		client.Write(wire.EncodeRecord(&record.LogRecord{Sequence: 3, Type: record.TypeBlockEnd}))
		client.Write(wire.EncodeRecord(&record.LogRecord{Sequence: 4, Type: record.TypeDisconnect}))
	}()

	waitDone(t, consumer)
	require.NoError(t, consumer.finalErr)
	require.Empty(t, session.parentIndexStack)
	require.Len(t, session.Messages(), 3)
}
