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
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/ratelimit"

	"github.com/nslogger-project/nslogger/pkg/config"
	"github.com/nslogger-project/nslogger/pkg/discovery"
	"github.com/nslogger-project/nslogger/pkg/logutil"
	"github.com/nslogger-project/nslogger/pkg/metrics"
	"github.com/nslogger-project/nslogger/pkg/nlerr"
	"github.com/nslogger-project/nslogger/pkg/record"
	"github.com/nslogger-project/nslogger/pkg/tlsadapter"
	"github.com/nslogger-project/nslogger/pkg/wire"
)

// Listener is V1 (§4.4): it accepts client connections (direct TCP
// and/or a published discovery service) and hands each one to a
// ConnectionSession, merging reconnections onto an existing run when
// cfg.KeepMultipleRuns is false.
type Listener struct {
	cfg       *config.ViewerConfig
	consumer  Consumer
	publisher discovery.Publisher

	mu       sync.Mutex
	sessions map[string]*ConnectionSession // keyed by run unique_id (or a disambiguated key when KeepMultipleRuns)
}

// NewListener constructs a Listener. publisher may be nil to skip
// discovery announcement and rely on direct TCP only.
func NewListener(cfg *config.ViewerConfig, consumer Consumer, publisher discovery.Publisher) *Listener {
	return &Listener{
		cfg:       cfg,
		consumer:  consumer,
		publisher: publisher,
		sessions:  map[string]*ConnectionSession{},
	}
}

// Serve listens on addr (e.g. ":0" to let the OS assign a port, per §6's
// "no well-known port") and accepts connections until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nlerr.Configuration(err, "viewer: failed to listen on %s", addr)
	}

	var tlsCfg *tls.Config
	if l.cfg.TLS != nil && l.cfg.TLS.Enabled {
		tlsCfg, err = tlsadapter.ServerConfig(l.cfg.TLS)
		if err != nil {
			_ = ln.Close()
			return err
		}
	}

	var handle discovery.Handle
	if l.publisher != nil && l.cfg.PublishesBonjourService {
		host, port := splitListenAddr(ln.Addr())
		svc := discovery.Service{Name: l.cfg.BonjourServiceName, Host: host, Port: port, TXT: map[string]string{}}
		if tlsCfg != nil {
			svc.TXT["p"] = "1"
		}
		h, err := l.publisher.Publish(ctx, svc)
		if err != nil {
			logutil.Warnf("viewer: discovery publish failed: %v", err)
		} else {
			handle = h
		}
	}

	go func() {
		<-ctx.Done()
		if handle != nil {
			_ = handle.Close()
		}
		_ = ln.Close()
	}()

	var limiter ratelimit.Limiter
	if l.cfg.MaxAcceptsPerSecond > 0 {
		limiter = ratelimit.New(l.cfg.MaxAcceptsPerSecond)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return nlerr.Transport(err, "viewer: accept failed")
			}
		}
		if limiter != nil {
			limiter.Take()
		}
		metrics.ActiveSessions.Inc()
		go l.handleConn(ctx, conn, tlsCfg)
	}
}

// ActiveSessions returns the identities of every run currently tracked by
// this listener, for introspection/diagnostics.
func (l *Listener) ActiveSessions() []record.ClientIdentity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return lo.MapToSlice(l.sessions, func(_ string, s *ConnectionSession) record.ClientIdentity {
		return s.Identity()
	})
}

func splitListenAddr(addr net.Addr) (string, int) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		host := tcp.IP.String()
		if tcp.IP.IsUnspecified() {
			host = "0.0.0.0"
		}
		return host, tcp.Port
	}
	return "", 0
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn, tlsCfg *tls.Config) {
	if tlsCfg != nil {
		c, err := tlsadapter.HandshakeServer(ctx, conn, tlsCfg)
		if err != nil {
			logutil.Warnf("viewer: TLS handshake failed: %v", err)
			metrics.ActiveSessions.Dec()
			return
		}
		conn = c
	}

	var dec wire.Decoder
	rec, err := readFirstFrame(conn, &dec)
	if err != nil {
		logutil.Warnf("viewer: failed to read initial CLIENT_INFO: %v", err)
		_ = conn.Close()
		metrics.ActiveSessions.Dec()
		return
	}

	identity := *wire.DecodeClientIdentity(rec)
	session := l.lookupOrCreate(identity)
	session.attach(conn)
	session.mu.Lock()
	session.decoder = dec // carry over any bytes already buffered past the first frame
	session.mu.Unlock()

	session.readLoop(ctx)
	metrics.ActiveSessions.Dec()

	if l.cfg.CloseWithoutSaving {
		l.mu.Lock()
		delete(l.sessions, session.id)
		l.mu.Unlock()
	}
}

// readFirstFrame blocks on conn until one full frame has been decoded,
// validating it is CLIENT_INFO per §4.4/§7 ("first frame that isn't
// CLIENT_INFO" is a ProtocolError).
func readFirstFrame(conn net.Conn, dec *wire.Decoder) (*record.LogRecord, error) {
	buf := make([]byte, 4096)
	for {
		rec, ok, err := dec.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			if rec.Type != record.TypeClientInfo {
				return nil, nlerr.Protocol("viewer: first frame is not CLIENT_INFO")
			}
			return rec, nil
		}
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			continue
		}
		if err != nil {
			return nil, nlerr.Transport(err, "viewer: connection closed before CLIENT_INFO")
		}
	}
}

func (l *Listener) lookupOrCreate(identity record.ClientIdentity) *ConnectionSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.cfg.KeepMultipleRuns {
		if existing, ok := l.sessions[identity.UniqueID]; ok {
			return existing
		}
		session := newConnectionSession(identity, l.consumer)
		l.sessions[identity.UniqueID] = session
		return session
	}
	session := newConnectionSession(identity, l.consumer)
	l.sessions[fmt.Sprintf("%s/%p", identity.UniqueID, session)] = session
	return session
}
