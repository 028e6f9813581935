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

// Package multicastbeacon is a minimal UDP-multicast stand-in for
// Bonjour/DNS-SD (§1, "Bonjour/DNS-SD itself ... treated as a pluggable
// discovery source"), for environments with no mDNS responder available.
// A publisher periodically announces a textual "name host port txt..."
// datagram to a multicast group; a browser joins the group and parses
// datagrams back into discovery.Service values.
package multicastbeacon

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nslogger-project/nslogger/pkg/discovery"
	"github.com/nslogger-project/nslogger/pkg/logutil"
	"github.com/nslogger-project/nslogger/pkg/nlerr"
)

// DefaultGroup is the multicast group address used when none is
// configured, chosen from the IPv4 administratively-scoped range so it
// never leaves the local network.
const DefaultGroup = "239.192.48.1:51360"

// Adapter implements discovery.Publisher and discovery.Browser over UDP
// multicast.
type Adapter struct {
	// Group is the multicast group "host:port" to announce/listen on.
	Group string
	// Interval is how often a publication re-announces itself.
	Interval time.Duration
}

// New returns an Adapter using DefaultGroup and a 2s announce interval.
func New() *Adapter {
	return &Adapter{Group: DefaultGroup, Interval: 2 * time.Second}
}

var _ discovery.Publisher = (*Adapter)(nil)
var _ discovery.Browser = (*Adapter)(nil)

type handle struct {
	cancel context.CancelFunc
	conn   *net.UDPConn
}

func (h *handle) Close() error {
	h.cancel()
	return h.conn.Close()
}

// Publish implements discovery.Publisher by re-announcing svc on the
// multicast group every a.Interval until the returned Handle is closed.
func (a *Adapter) Publish(ctx context.Context, svc discovery.Service) (discovery.Handle, error) {
	addr, err := net.ResolveUDPAddr("udp4", a.Group)
	if err != nil {
		return nil, nlerr.Configuration(err, "multicastbeacon: bad group address %q", a.Group)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, nlerr.Transport(err, "multicastbeacon: failed to open publish socket")
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel, conn: conn}

	go func() {
		ticker := time.NewTicker(a.Interval)
		defer ticker.Stop()
		msg := []byte(encode(svc))
		for {
			if _, err := conn.Write(msg); err != nil {
				logutil.Debugf("multicastbeacon: announce write failed: %v", err)
			}
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return h, nil
}

// Browse implements discovery.Browser by listening on the multicast group
// and parsing announcements into Service values. serviceType is matched
// against svc.TXT["type"] when non-empty.
func (a *Adapter) Browse(ctx context.Context, serviceType string) (<-chan discovery.Service, discovery.Handle, error) {
	addr, err := net.ResolveUDPAddr("udp4", a.Group)
	if err != nil {
		return nil, nil, nlerr.Configuration(err, "multicastbeacon: bad group address %q", a.Group)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, nil, nlerr.Transport(err, "multicastbeacon: failed to join multicast group")
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel, conn: conn}
	out := make(chan discovery.Service)

	go func() {
		defer close(out)
		buf := make([]byte, 4096)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
			n, _, err := conn.ReadFromUDP(buf)
			select {
			case <-runCtx.Done():
				return
			default:
			}
			if err != nil {
				continue // read timeout; loop to re-check runCtx
			}
			svc, ok := decode(buf[:n])
			if !ok {
				continue
			}
			if serviceType != "" && svc.TXT["type"] != serviceType {
				continue
			}
			select {
			case out <- svc:
			case <-runCtx.Done():
				return
			}
		}
	}()

	return out, h, nil
}

// encode/decode use a simple tab-separated line format: name\thost\tport\tk=v\tk=v...
func encode(svc discovery.Service) string {
	var b strings.Builder
	b.WriteString(svc.Name)
	b.WriteByte('\t')
	b.WriteString(svc.Host)
	b.WriteByte('\t')
	b.WriteString(strconv.Itoa(svc.Port))
	for k, v := range svc.TXT {
		b.WriteByte('\t')
		fmt.Fprintf(&b, "%s=%s", k, v)
	}
	return b.String()
}

func decode(data []byte) (discovery.Service, bool) {
	fields := strings.Split(string(data), "\t")
	if len(fields) < 3 {
		return discovery.Service{}, false
	}
	port, err := strconv.Atoi(fields[2])
	if err != nil {
		return discovery.Service{}, false
	}
	svc := discovery.Service{Name: fields[0], Host: fields[1], Port: port, TXT: map[string]string{}}
	for _, kv := range fields[3:] {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			svc.TXT[parts[0]] = parts[1]
		}
	}
	return svc, true
}
