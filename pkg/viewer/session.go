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

// Package viewer implements the two viewer-side components of §4: V1,
// the Listener that accepts client connections (direct TCP and/or
// discovery-published), and V2, the per-run ConnectionSession state
// machine that turns a byte stream into an ordered, validated batch of
// LogRecords delivered to a Consumer.
package viewer

import (
	"context"
	"net"
	"sync"

	"github.com/nslogger-project/nslogger/pkg/logutil"
	"github.com/nslogger-project/nslogger/pkg/metrics"
	"github.com/nslogger-project/nslogger/pkg/nlerr"
	"github.com/nslogger-project/nslogger/pkg/record"
	"github.com/nslogger-project/nslogger/pkg/wire"
)

// ConnectionSession is one client run (§4.5). It outlives any single TCP
// connection: when the viewer is configured with KeepMultipleRuns=false,
// a reconnecting client with the same run identity is reattached to its
// existing ConnectionSession rather than starting a new one (S4).
type ConnectionSession struct {
	id       string // client's unique_id (run identity)
	identity record.ClientIdentity
	consumer Consumer

	mu          sync.Mutex
	conn        net.Conn
	decoder     wire.Decoder
	expectedSeq uint32 // next expected sequence among LOG/BLOCK/MARK records; §8 "strictly increasing and densely contiguous starting at 1"

	parentIndexStack []int
	messages         []*record.LogRecord
	filenames        map[string]struct{}
	functions        map[string]struct{}

	terminated bool
}

func newConnectionSession(identity record.ClientIdentity, consumer Consumer) *ConnectionSession {
	return &ConnectionSession{
		id:          identity.UniqueID,
		identity:    identity,
		consumer:    consumer,
		expectedSeq: 1,
		filenames:   map[string]struct{}{},
		functions:   map[string]struct{}{},
	}
}

// ID returns the run's unique_id.
func (s *ConnectionSession) ID() string { return s.id }

// Identity returns the run's CLIENT_INFO identity.
func (s *ConnectionSession) Identity() record.ClientIdentity { return s.identity }

// Messages returns a snapshot of every record delivered on this session
// so far, in sequence order.
func (s *ConnectionSession) Messages() []*record.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*record.LogRecord, len(s.messages))
	copy(out, s.messages)
	return out
}

// attach binds a new net.Conn to this session, for both the initial
// connection and every later reconnection onto the same run.
func (s *ConnectionSession) attach(conn net.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.decoder = wire.Decoder{}
	s.terminated = false
	s.mu.Unlock()
}

// readLoop reads and decodes frames from the attached connection until
// it errors, ctx is cancelled, or a DISCONNECT record is received,
// delivering decoded records to the consumer in batches (one batch per
// successful read, §4.5 "batched delivery").
func (s *ConnectionSession) readLoop(ctx context.Context) {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			s.finish(nlerr.Cancelled("viewer: listener shutting down"))
			return
		default:
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			s.decoder.Feed(buf[:n])
			batch, done, decErr := s.drainFrames()
			if len(batch) > 0 {
				s.consumer.DidReceiveMessages(s, batch)
			}
			if decErr != nil {
				metrics.DecodeErrors.Inc()
				s.finish(decErr)
				return
			}
			if done {
				s.finish(nil)
				return
			}
		}
		if err != nil {
			s.finish(nlerr.Transport(err, "viewer: connection read failed"))
			return
		}
	}
}

// drainFrames decodes every complete frame currently buffered and
// applies it to session state, returning the batch of records that
// belong in `messages` (CLIENT_INFO/DISCONNECT are consumed but never
// appear in the batch).
func (s *ConnectionSession) drainFrames() (batch []*record.LogRecord, done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		rec, ok, nextErr := s.decoder.Next()
		if nextErr != nil {
			return batch, false, nextErr
		}
		if !ok {
			return batch, false, nil
		}

		switch rec.Type {
		case record.TypeClientInfo:
			// A reconnection's continuation CLIENT_INFO (§4.2): validated
			// by the Listener before reattachment, so here it is just a
			// marker to skip, never part of messages, never touching
			// expectedSeq.
			continue
		case record.TypeDisconnect:
			return batch, true, nil
		}

		if rec.Sequence != s.expectedSeq {
			return batch, false, nlerr.Protocol("viewer: session %s sequence gap: expected %d, got %d", s.id, s.expectedSeq, rec.Sequence)
		}
		s.expectedSeq++

		switch rec.Type {
		case record.TypeBlockStart:
			s.parentIndexStack = append(s.parentIndexStack, len(s.messages))
		case record.TypeBlockEnd:
			if len(s.parentIndexStack) == 0 {
				// Unmatched BLOCK_END: log and ignore rather than
				// terminate the session (§9 open-question decision).
				logutil.Warnf("viewer: session %s received BLOCK_END with no open block", s.id)
			} else {
				s.parentIndexStack = s.parentIndexStack[:len(s.parentIndexStack)-1]
			}
		}

		if rec.HasFilename {
			s.filenames[rec.Filename] = struct{}{}
		}
		if rec.HasFunction {
			s.functions[rec.Function] = struct{}{}
		}

		s.messages = append(s.messages, rec)
		batch = append(batch, rec)
	}
}

func (s *ConnectionSession) finish(err error) {
	s.mu.Lock()
	already := s.terminated
	s.terminated = true
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if already {
		return
	}
	if nlerr.IsCancelled(err) {
		s.consumer.RemoteDisconnected(s, nil)
		return
	}
	s.consumer.RemoteDisconnected(s, err)
}
