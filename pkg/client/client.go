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

// Package client implements the two client-side components of §4: C1,
// the log ingest API a host application calls from any number of
// goroutines, and C2, the single transmit worker that owns the wire
// connection. Ingest never blocks on the network: it only ever touches
// the bounded in-memory queue (§5 "producers never observe the
// connection state machine").
package client

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nslogger-project/nslogger/pkg/config"
	"github.com/nslogger-project/nslogger/pkg/discovery"
	"github.com/nslogger-project/nslogger/pkg/logutil"
	"github.com/nslogger-project/nslogger/pkg/record"
)

// Option customizes a Logger at construction time.
type Option func(*Logger)

// WithDiscovery installs a discovery.Browser the transmit worker uses to
// locate a viewer when cfg.Host is empty and cfg.BrowseBonjour is set
// (§4.6 browse-and-resolve).
func WithDiscovery(b discovery.Browser) Option {
	return func(l *Logger) { l.worker.browser = b }
}

// Logger is one client run: an identity, a sequence counter, a bounded
// queue and the background transmit worker draining it.
type Logger struct {
	cfg      *config.ClientConfig
	identity record.ClientIdentity
	seq      uint32 // atomic, last sequence number assigned (0 before the first record)

	queue  *queue
	worker *worker

	blockMu    sync.Mutex
	blockDepth int

	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a Logger for the given configuration and client identity.
// The transmit worker begins running in the background immediately;
// callers are free to start logging before any connection exists.
func New(cfg *config.ClientConfig, opts ...Option) (*Logger, error) {
	maxBytes, err := cfg.MaxBufferedBytesValue()
	if err != nil {
		return nil, err
	}

	l := &Logger{
		cfg:      cfg,
		identity: newIdentity(cfg.ClientName, cfg.ClientVersion),
		queue:    newQueue(cfg.QueueCapacity, maxBytes),
		done:     make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.worker = newWorker(cfg, l.identity, l.queue)

	for _, opt := range opts {
		opt(l)
	}

	go func() {
		defer close(l.done)
		l.worker.run(ctx)
	}()

	return l, nil
}

// Close stops the transmit worker. It attempts to flush whatever is
// still queued before returning, bounded by cfg.ConnectTimeout.
func (l *Logger) Close() {
	l.cancel()
	l.queue.close()
	select {
	case <-l.done:
	case <-time.After(l.cfg.ConnectTimeout):
		logutil.Warnf("client: worker did not stop within %s", l.cfg.ConnectTimeout)
	}
}

// nextSequence returns the next sequence number for this run, starting
// at 1 per §8 Property 1 ("strictly increasing and densely contiguous
// starting at 1").
func (l *Logger) nextSequence() uint32 {
	return atomic.AddUint32(&l.seq, 1)
}

func now() record.Timestamp {
	t := time.Now()
	return record.Timestamp{Seconds: uint64(t.Unix()), Microseconds: uint32(t.Nanosecond() / 1000)}
}

// Log enqueues a text LOG record (§4.1 "Log").
func (l *Logger) Log(domain string, level record.Level, tag string, message string) {
	r := &record.LogRecord{
		Sequence:  l.nextSequence(),
		Timestamp: now(),
		Type:      record.TypeLog,
		Level:     level,
		Payload:   record.Payload{Kind: record.PayloadText, Text: message},
	}
	if domain != "" {
		r.Domain, r.HasDomain = domain, true
	}
	if tag != "" {
		r.Tag, r.HasTag = tag, true
	}
	l.enqueue(r)
}

// LogAt is Log with an explicit call site (filename/function/line),
// mirroring the NSLog-macro-captured call site of the original client
// libraries.
func (l *Logger) LogAt(domain string, level record.Level, tag, filename, function string, line int32, message string) {
	r := &record.LogRecord{
		Sequence:  l.nextSequence(),
		Timestamp: now(),
		Type:      record.TypeLog,
		Level:     level,
		Payload:   record.Payload{Kind: record.PayloadText, Text: message},
	}
	if domain != "" {
		r.Domain, r.HasDomain = domain, true
	}
	if tag != "" {
		r.Tag, r.HasTag = tag, true
	}
	if filename != "" {
		r.Filename, r.HasFilename = filename, true
	}
	if function != "" {
		r.Function, r.HasFunction = function, true
	}
	if line != 0 {
		r.Line, r.HasLine = line, true
	}
	l.enqueue(r)
}

// LogBytes enqueues a binary-payload LOG record (§4.1 "LogData").
func (l *Logger) LogBytes(domain string, level record.Level, tag string, data []byte) {
	r := &record.LogRecord{
		Sequence:  l.nextSequence(),
		Timestamp: now(),
		Type:      record.TypeLog,
		Level:     level,
		Payload:   record.Payload{Kind: record.PayloadBinary, Bytes: append([]byte(nil), data...)},
	}
	if domain != "" {
		r.Domain, r.HasDomain = domain, true
	}
	if tag != "" {
		r.Tag, r.HasTag = tag, true
	}
	l.enqueue(r)
}

// LogImage enqueues an image-payload LOG record (§4.1 "LogImageData").
// width/height may legitimately be zero when the caller cannot determine
// the image's dimensions up front (open question resolved in DESIGN.md).
func (l *Logger) LogImage(domain string, level record.Level, tag string, data []byte, width, height int32) {
	r := &record.LogRecord{
		Sequence:  l.nextSequence(),
		Timestamp: now(),
		Type:      record.TypeLog,
		Level:     level,
		Payload:   record.Payload{Kind: record.PayloadImage, Bytes: append([]byte(nil), data...), Width: width, Height: height},
	}
	if domain != "" {
		r.Domain, r.HasDomain = domain, true
	}
	if tag != "" {
		r.Tag, r.HasTag = tag, true
	}
	l.enqueue(r)
}

// LogBlockStart opens a named hierarchical block (§4.1 "LogStartBlock").
// Nested blocks are the caller's responsibility to balance with
// LogBlockEnd; the viewer enforces nesting independently via its own
// parentIndexStack (§4.5).
func (l *Logger) LogBlockStart(tag string) {
	r := &record.LogRecord{
		Sequence:  l.nextSequence(),
		Timestamp: now(),
		Type:      record.TypeBlockStart,
	}
	if tag != "" {
		r.Tag, r.HasTag = tag, true
	}
	l.blockMu.Lock()
	l.blockDepth++
	l.blockMu.Unlock()
	l.enqueue(r)
}

// LogBlockEnd closes the innermost open block (§4.1 "LogEndBlock").
// Calling it with no block open is a caller bug; the record is still
// sent; the viewer's own BLOCK_END-unmatched handling (§9 decision:
// log-and-ignore) is the backstop.
func (l *Logger) LogBlockEnd() {
	r := &record.LogRecord{
		Sequence:  l.nextSequence(),
		Timestamp: now(),
		Type:      record.TypeBlockEnd,
	}
	l.blockMu.Lock()
	if l.blockDepth > 0 {
		l.blockDepth--
	} else {
		logutil.Warnf("client: LogBlockEnd called with no open block")
	}
	l.blockMu.Unlock()
	l.enqueue(r)
}

// LogMark inserts a visual marker into the viewer timeline (§4.1
// "LogMark").
func (l *Logger) LogMark(label string) {
	r := &record.LogRecord{
		Sequence:  l.nextSequence(),
		Timestamp: now(),
		Type:      record.TypeMark,
	}
	if label != "" {
		r.Tag, r.HasTag = label, true
	}
	l.enqueue(r)
}

func (l *Logger) enqueue(r *record.LogRecord) {
	if l.cfg.LogToConsole {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", r.Type, describePayload(r))
	}
	l.queue.push(r)
}

func describePayload(r *record.LogRecord) string {
	switch r.Payload.Kind {
	case record.PayloadText:
		return r.Payload.Text
	case record.PayloadBinary:
		return "<binary>"
	case record.PayloadImage:
		return "<image>"
	default:
		return r.Tag
	}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// SetDefault installs l as the package-level default logger used by the
// package-level Log function.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Default returns the package-level default logger, or nil if SetDefault
// has never been called.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Log logs through the default logger, if one has been installed.
func Log(domain string, level record.Level, tag string, message string) {
	if l := Default(); l != nil {
		l.Log(domain, level, tag, message)
	}
}
