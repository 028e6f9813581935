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
	"context"
	"math/rand"
	"net"
	"strconv"
	"time"

	"github.com/nslogger-project/nslogger/pkg/config"
	"github.com/nslogger-project/nslogger/pkg/discovery"
	"github.com/nslogger-project/nslogger/pkg/logutil"
	"github.com/nslogger-project/nslogger/pkg/metrics"
	"github.com/nslogger-project/nslogger/pkg/nlerr"
	"github.com/nslogger-project/nslogger/pkg/record"
	"github.com/nslogger-project/nslogger/pkg/tlsadapter"
	"github.com/nslogger-project/nslogger/pkg/wire"
)

// worker is the single goroutine that owns the wire connection (C2, §4.2).
// All ingest calls only ever touch the queue; the worker is the only
// thing that ever dials, writes, reads or reconnects.
type worker struct {
	cfg      *config.ClientConfig
	identity record.ClientIdentity
	queue    *queue
	browser  discovery.Browser // optional; nil means skip discovery and dial cfg.Host:Port directly

	attempt  int
	lastSent uint32 // sequence number of the last record written without error; CLIENT_INFO reuses identity across reconnects
}

func newWorker(cfg *config.ClientConfig, identity record.ClientIdentity, q *queue) *worker {
	return &worker{cfg: cfg, identity: identity, queue: q}
}

// run drives the state machine until ctx is cancelled.
func (w *worker) run(ctx context.Context) {
	st := stateIdle
	var host string
	var port int
	var conn net.Conn

	for {
		select {
		case <-ctx.Done():
			if st != stateDraining {
				st = stateTerminated
			}
		default:
		}

		switch st {
		case stateIdle:
			if w.cfg.Host != "" {
				host, port = w.cfg.Host, w.cfg.Port
				st = stateConnecting
			} else if w.browser != nil && w.cfg.BrowseBonjour {
				st = stateDiscovering
			} else {
				logutil.Errorf("client: no host configured and no discovery adapter installed")
				st = stateTerminated
			}

		case stateDiscovering:
			svc, err := w.discover(ctx)
			if err != nil {
				logutil.Warnf("client: discovery failed: %v", err)
				st = stateDisconnected
				continue
			}
			host, port = svc.Host, svc.Port
			st = stateResolving

		case stateResolving:
			if _, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port))); err != nil {
				logutil.Warnf("client: resolve %s:%d failed: %v", host, port, err)
				st = stateDisconnected
				continue
			}
			st = stateConnecting

		case stateConnecting:
			c, err := w.dial(ctx, host, port)
			if err != nil {
				logutil.Warnf("client: connect to %s:%d failed: %v", host, port, err)
				st = stateDisconnected
				continue
			}
			conn = c
			metrics.ReconnectionCount.Inc()
			st = stateHandshaking

		case stateHandshaking:
			c, err := w.handshake(ctx, conn)
			if err != nil {
				logutil.Warnf("client: handshake with %s:%d failed: %v", host, port, err)
				_ = conn.Close()
				st = stateDisconnected
				continue
			}
			conn = c
			if err := w.sendClientInfo(conn); err != nil {
				logutil.Warnf("client: failed to send CLIENT_INFO: %v", err)
				_ = conn.Close()
				st = stateDisconnected
				continue
			}
			w.attempt = 0
			st = stateStreaming

		case stateStreaming:
			if err := w.stream(ctx, conn); err != nil {
				if nlerr.IsCancelled(err) {
					st = stateDraining
					continue
				}
				logutil.Warnf("client: stream to %s:%d broke: %v", host, port, err)
				_ = conn.Close()
				st = stateDisconnected
				continue
			}
			st = stateDraining

		case stateDraining:
			w.flushBestEffort(conn)
			_ = conn.Close()
			st = stateTerminated

		case stateDisconnected:
			delay := w.backoff()
			select {
			case <-ctx.Done():
				st = stateTerminated
			case <-time.After(delay):
				st = stateIdle
			}

		case stateTerminated:
			return
		}
	}
}

func (w *worker) discover(ctx context.Context) (discovery.Service, error) {
	svcCtx, cancel := context.WithTimeout(ctx, w.cfg.ConnectTimeout)
	defer cancel()
	ch, handle, err := w.browser.Browse(svcCtx, "")
	if err != nil {
		return discovery.Service{}, err
	}
	defer handle.Close()
	for {
		select {
		case svc, ok := <-ch:
			if !ok {
				return discovery.Service{}, nlerr.Transport(nil, "client: discovery closed with no services found")
			}
			if w.cfg.BonjourServiceName != "" && svc.Name != w.cfg.BonjourServiceName {
				continue
			}
			return svc, nil
		case <-svcCtx.Done():
			return discovery.Service{}, nlerr.Transport(svcCtx.Err(), "client: discovery timed out")
		}
	}
}

func (w *worker) dial(ctx context.Context, host string, port int) (net.Conn, error) {
	d := net.Dialer{Timeout: w.cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, nlerr.Transport(err, "client: dial %s:%d failed", host, port)
	}
	return conn, nil
}

func (w *worker) handshake(ctx context.Context, conn net.Conn) (net.Conn, error) {
	if w.cfg.TLS == nil || !w.cfg.TLS.Enabled {
		return conn, nil
	}
	tlsCfg, err := tlsadapter.ClientConfig(w.cfg.TLS)
	if err != nil {
		return nil, err
	}
	hctx, cancel := context.WithTimeout(ctx, w.cfg.ConnectTimeout)
	defer cancel()
	return tlsadapter.HandshakeClient(hctx, conn, tlsCfg)
}

func (w *worker) sendClientInfo(conn net.Conn) error {
	frame := wire.EncodeClientIdentity(&w.identity, now(), w.lastSent)
	_, err := conn.Write(frame)
	if err != nil {
		return nlerr.Transport(err, "client: failed to write CLIENT_INFO frame")
	}
	return nil
}

// stream is the STREAMING state: repeatedly drain the queue and write
// frames until the connection fails or ctx is cancelled (in which case
// it returns a Cancelled error so run() proceeds to DRAINING rather than
// reconnecting).
func (w *worker) stream(ctx context.Context, conn net.Conn) error {
	notify := make(chan []*record.LogRecord, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			recs := w.queue.drain()
			if recs == nil {
				return // queue closed
			}
			select {
			case notify <- recs:
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nlerr.Cancelled("client: shutting down")
		case recs, ok := <-notify:
			if !ok {
				return nil
			}
			if err := w.writeRecords(conn, recs); err != nil {
				return err
			}
		}
	}
}

// writeRecords writes recs in order. A mid-batch write failure requeues
// the unwritten suffix (including the record that failed) at the head
// of the queue before returning, so the next STREAMING entry re-sends it
// whole rather than losing it (§4.2, S4).
func (w *worker) writeRecords(conn net.Conn, recs []*record.LogRecord) error {
	for i, r := range recs {
		frame := wire.EncodeRecord(r)
		if _, err := conn.Write(frame); err != nil {
			w.queue.requeue(recs[i:])
			return nlerr.Transport(err, "client: write failed")
		}
		w.lastSent = r.Sequence
	}
	return nil
}

// flushBestEffort tries to send whatever is left in the queue once, with
// no retry, as part of graceful shutdown (§5 DRAINING).
func (w *worker) flushBestEffort(conn net.Conn) {
	if conn == nil {
		return
	}
	recs := w.queue.drainNonBlocking()
	if len(recs) == 0 {
		return
	}
	if err := w.writeRecords(conn, recs); err != nil {
		logutil.Warnf("client: final flush failed: %v", err)
	}
}

// backoff computes the next reconnect delay: exponential from
// ReconnectBackoffMin, capped at ReconnectBackoffMax, with up to 20%
// jitter so many clients reconnecting to the same viewer don't thunder
// back in lockstep (Open Question resolved in DESIGN.md).
func (w *worker) backoff() time.Duration {
	base := w.cfg.ReconnectBackoffMin
	for i := 0; i < w.attempt; i++ {
		base *= 2
		if base >= w.cfg.ReconnectBackoffMax {
			base = w.cfg.ReconnectBackoffMax
			break
		}
	}
	w.attempt++
	jitter := time.Duration(rand.Int63n(int64(base) / 5))
	return base + jitter
}
