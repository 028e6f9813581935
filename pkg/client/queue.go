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
	"sync"

	"github.com/nslogger-project/nslogger/pkg/metrics"
	"github.com/nslogger-project/nslogger/pkg/record"
)

// queue is the bounded, FIFO, producer/consumer buffer between the
// ingest API and the transmit worker (§5). It is sized two ways at
// once: a count cap (capacity) and a byte cap (maxBytes); whichever is
// hit first evicts the oldest record to make room for the newest,
// mirroring the "ring buffer, drop oldest" eviction policy of §4.2.
type queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    []*record.LogRecord
	bytes    int64
	capacity int
	maxBytes int64
	closed   bool
}

func newQueue(capacity int, maxBytes int64) *queue {
	q := &queue{capacity: capacity, maxBytes: maxBytes}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// approxSize is a cheap upper bound on a record's encoded size, good
// enough for budget accounting without re-running the wire encoder on
// every push.
func approxSize(r *record.LogRecord) int64 {
	n := 64 // fixed parts: type, timestamp, sequence, level, headers
	n += len(r.Domain) + len(r.ThreadID) + len(r.Tag) + len(r.Filename) + len(r.Function)
	n += len(r.Payload.Text) + len(r.Payload.Bytes)
	return int64(n)
}

// push appends r, evicting the oldest buffered records as needed to stay
// within capacity/maxBytes. Every eviction increments
// metrics.RecordsDropped{reason="overflow"} (§7 CapacityError territory,
// though push itself never returns an error: overflow is handled by
// eviction, not by rejecting the producer).
func (q *queue) push(r *record.LogRecord) {
	size := approxSize(r)

	q.mu.Lock()
	q.items = append(q.items, r)
	q.bytes += size
	for (q.capacity > 0 && len(q.items) > q.capacity) || (q.maxBytes > 0 && q.bytes > q.maxBytes) {
		if len(q.items) <= 1 {
			break
		}
		evicted := q.items[0]
		q.items = q.items[1:]
		q.bytes -= approxSize(evicted)
		metrics.RecordsDropped.WithLabelValues("overflow").Inc()
	}
	q.notEmpty.Signal()
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(q.len()))
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain removes and returns everything currently buffered, in FIFO
// order. It blocks until at least one item is available or the queue is
// closed.
func (q *queue) drain() []*record.LogRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	q.bytes = 0
	metrics.QueueDepth.Set(0)
	return out
}

// requeue puts recs back at the head of the queue, ahead of anything
// pushed since they were drained. It exists for the STREAMING write path
// (§4.2): a write failure partway through a drained batch must not lose
// the unwritten suffix, since an encoded record is never split across
// reconnections — the whole record is re-sent from the next STREAMING
// entry (S4). The usual capacity/byte eviction still applies, so a
// requeue during sustained overflow drops from the head like any other
// push.
func (q *queue) requeue(recs []*record.LogRecord) {
	if len(recs) == 0 {
		return
	}
	size := int64(0)
	for _, r := range recs {
		size += approxSize(r)
	}

	q.mu.Lock()
	q.items = append(append([]*record.LogRecord(nil), recs...), q.items...)
	q.bytes += size
	for (q.capacity > 0 && len(q.items) > q.capacity) || (q.maxBytes > 0 && q.bytes > q.maxBytes) {
		if len(q.items) <= 1 {
			break
		}
		evicted := q.items[0]
		q.items = q.items[1:]
		q.bytes -= approxSize(evicted)
		metrics.RecordsDropped.WithLabelValues("overflow").Inc()
	}
	q.notEmpty.Signal()
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(q.len()))
}

// drainNonBlocking is drain's non-blocking counterpart, used for the
// best-effort final flush on shutdown.
func (q *queue) drainNonBlocking() []*record.LogRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	q.bytes = 0
	metrics.QueueDepth.Set(0)
	return out
}

// close unblocks any goroutine parked in drain.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
