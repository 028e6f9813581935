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

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nslogger-project/nslogger/pkg/config"
	"github.com/nslogger-project/nslogger/pkg/record"
)

// failAfterNConn is a net.Conn whose Write fails starting from the Nth
// call; every other method is unused by writeRecords, so embedding a nil
// net.Conn for them is safe.
type failAfterNConn struct {
	net.Conn
	failFrom int
	calls    int
}

func (c *failAfterNConn) Write(b []byte) (int, error) {
	c.calls++
	if c.calls >= c.failFrom {
		return 0, errors.New("simulated write failure")
	}
	return len(b), nil
}

// TestWriteRecordsRequeuesUnsentSuffixOnFailure exercises §4.2/S4: a
// write failure partway through a drained batch must not lose the
// records after the failure point — they belong back at the head of the
// queue so the next STREAMING entry re-sends them whole rather than the
// worker silently dropping them.
func TestWriteRecordsRequeuesUnsentSuffixOnFailure(t *testing.T) {
	w := newWorker(config.NewClientConfig(), newIdentity("t", "1"), newQueue(0, 0))
	conn := &failAfterNConn{failFrom: 2}

	recs := []*record.LogRecord{textRecord(1, "a"), textRecord(2, "b"), textRecord(3, "c")}
	err := w.writeRecords(conn, recs)
	require.Error(t, err)
	require.EqualValues(t, 1, w.lastSent)

	remaining := w.queue.drainNonBlocking()
	require.Len(t, remaining, 2)
	require.EqualValues(t, 2, remaining[0].Sequence)
	require.EqualValues(t, 3, remaining[1].Sequence)
}
