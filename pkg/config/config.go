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

// Package config holds the client and viewer configuration surfaces of
// §6, following the teacher's own constructor-returns-defaults pattern
// (config.FrontendParameters{}; fp.SetDefaultValues() in
// pkg/proxy/server_conn.go).
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	units "github.com/docker/go-units"

	"github.com/nslogger-project/nslogger/pkg/nlerr"
)

// ClientConfig is the client-side configuration of §6.
type ClientConfig struct {
	LogToConsole           bool
	BufferUntilConnection  bool
	MaxBufferedBytes       string
	QueueCapacity          int
	BrowseBonjour          bool
	BrowseOnlyLocalDomain  bool
	BonjourServiceName     string
	Host                   string
	Port                   int
	ConnectTimeout         time.Duration
	ReconnectBackoffMin    time.Duration
	ReconnectBackoffMax    time.Duration
	ClientName             string
	ClientVersion          string
	TLS                    *TLSClientConfig
}

// TLSClientConfig configures the client-side TLS adapter (X).
type TLSClientConfig struct {
	Enabled            bool
	ServerName         string
	CACertPEM          []byte
	InsecureSkipVerify bool // anonymous policy, opt-in only (§4.7): no certificate verification, nothing pinned
}

// NewClientConfig returns a ClientConfig with the defaults of §6.
func NewClientConfig() *ClientConfig {
	return &ClientConfig{
		LogToConsole:          false,
		BufferUntilConnection: true,
		MaxBufferedBytes:      "16MiB",
		QueueCapacity:         4096,
		BrowseBonjour:         true,
		BrowseOnlyLocalDomain: true,
		ConnectTimeout:        10 * time.Second,
		ReconnectBackoffMin:   500 * time.Millisecond,
		ReconnectBackoffMax:   30 * time.Second,
	}
}

// MaxBufferedBytesValue parses MaxBufferedBytes ("16MiB", "1GB", ...) into
// a byte count.
func (c *ClientConfig) MaxBufferedBytesValue() (int64, error) {
	n, err := units.RAMInBytes(c.MaxBufferedBytes)
	if err != nil {
		return 0, nlerr.Configuration(err, "config: invalid MaxBufferedBytes %q", c.MaxBufferedBytes)
	}
	return n, nil
}

// LoadClientConfigTOML loads a ClientConfig from a TOML file, starting
// from NewClientConfig's defaults so the file need only override what it
// cares about.
func LoadClientConfigTOML(path string) (*ClientConfig, error) {
	cfg := NewClientConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, nlerr.Configuration(err, "config: failed to load client config from %s", path)
	}
	return cfg, nil
}

// ViewerConfig is the viewer-side configuration of §6.
type ViewerConfig struct {
	PublishesBonjourService bool
	HasDirectTCPResponder   bool
	DirectTCPResponderPort  int
	BonjourServiceName      string
	KeepMultipleRuns        bool
	CloseWithoutSaving      bool
	TLS                     *TLSServerConfig
	MetricsAddr             string
	// MaxAcceptsPerSecond bounds how fast the listener hands accepted
	// connections off to handleConn, guarding against a connection storm
	// overwhelming the viewer process. 0 disables the limit.
	MaxAcceptsPerSecond int
}

// TLSServerConfig configures the viewer-side TLS adapter (X).
type TLSServerConfig struct {
	Enabled     bool
	CertPEM     []byte
	KeyPEM      []byte
	ClientCAPEM []byte // non-empty enables mutual-TLS verification
}

// NewViewerConfig returns a ViewerConfig with sensible defaults.
func NewViewerConfig() *ViewerConfig {
	return &ViewerConfig{
		HasDirectTCPResponder:  true,
		DirectTCPResponderPort: 0, // 0 == OS-assigned; no well-known port (§6)
		KeepMultipleRuns:       false,
		CloseWithoutSaving:     true,
	}
}

// LoadViewerConfigTOML loads a ViewerConfig from a TOML file.
func LoadViewerConfigTOML(path string) (*ViewerConfig, error) {
	cfg := NewViewerConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, nlerr.Configuration(err, "config: failed to load viewer config from %s", path)
	}
	return cfg, nil
}
