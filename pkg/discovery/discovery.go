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

// Package discovery defines the abstract publish/browse contract of §4.6.
// The concrete Bonjour/DNS-SD resolver is out of scope (§1); this package
// ships two adapters of its own (multicastbeacon, gossip) behind the same
// interfaces.
package discovery

import "context"

// Service describes one discoverable endpoint.
type Service struct {
	Name string
	Host string
	Port int
	// TXT carries auxiliary key/value records, including the "p"="1" key
	// that signals TLS is required (§6).
	TXT map[string]string
}

// Publisher is implemented by viewer-side discovery adapters (§4.6
// publish).
type Publisher interface {
	// Publish announces svc until the returned Handle is closed.
	Publish(ctx context.Context, svc Service) (Handle, error)
}

// Handle represents one active publication or browse session.
type Handle interface {
	Close() error
}

// Browser is implemented by client-side discovery adapters (§4.6 browse
// and resolve).
type Browser interface {
	// Browse streams discovered services matching serviceType until ctx is
	// cancelled or the returned channel is drained and closed.
	Browse(ctx context.Context, serviceType string) (<-chan Service, Handle, error)
}
