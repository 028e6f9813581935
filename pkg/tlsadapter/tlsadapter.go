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

// Package tlsadapter implements the optional transport wrapper of §4.7:
// a handshake over an existing net.Conn, with either a server-auth
// (pinned CA) or anonymous trust policy. The anonymous policy is
// InsecureSkipVerify: the server certificate is not verified, and nothing
// is remembered or pinned after the first connection. Certificates
// are supplied as PEM byte blobs by the host, never read from a platform
// keychain (out of scope, §1).
package tlsadapter

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"

	"github.com/nslogger-project/nslogger/pkg/config"
	"github.com/nslogger-project/nslogger/pkg/nlerr"
)

// ClientConfig builds a *tls.Config for the client side from a
// config.TLSClientConfig.
func ClientConfig(c *config.TLSClientConfig) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
	if len(c.CACertPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(c.CACertPEM) {
			return nil, nlerr.Configuration(nil, "tlsadapter: failed to parse CA certificate PEM")
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// ServerConfig builds a *tls.Config for the viewer side from a
// config.TLSServerConfig.
func ServerConfig(c *config.TLSServerConfig) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(c.CertPEM, c.KeyPEM)
	if err != nil {
		return nil, nlerr.Configuration(err, "tlsadapter: failed to load server certificate/key")
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	if len(c.ClientCAPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(c.ClientCAPEM) {
			return nil, nlerr.Configuration(nil, "tlsadapter: failed to parse client CA certificate PEM")
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// HandshakeClient performs a client-side TLS handshake over conn, closing
// conn on failure so callers never leak the raw socket on a failed
// handshake (the same resource-cleanup-on-error contract the teacher
// applies to every connection-returning step in pkg/proxy).
func HandshakeClient(ctx context.Context, conn net.Conn, cfg *tls.Config) (net.Conn, error) {
	tconn := tls.Client(conn, cfg)
	if err := tconn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, nlerr.Transport(err, "tlsadapter: client handshake failed")
	}
	return tconn, nil
}

// HandshakeServer performs a server-side TLS handshake over conn.
func HandshakeServer(ctx context.Context, conn net.Conn, cfg *tls.Config) (net.Conn, error) {
	tconn := tls.Server(conn, cfg)
	if err := tconn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, nlerr.Transport(err, "tlsadapter: server handshake failed")
	}
	return tconn, nil
}
