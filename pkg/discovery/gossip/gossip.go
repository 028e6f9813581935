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

// Package gossip implements discovery.Publisher/discovery.Browser on top
// of github.com/hashicorp/memberlist, for deployments where client and
// viewer already run inside the same gossiped cluster (the teacher itself
// depends on memberlist for its HAKeeper/prophet membership layer; here
// the same gossip substrate carries service-announcement metadata instead
// of cluster membership state).
package gossip

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/nslogger-project/nslogger/pkg/discovery"
	"github.com/nslogger-project/nslogger/pkg/logutil"
	"github.com/nslogger-project/nslogger/pkg/nlerr"
)

// Adapter implements discovery.Publisher/discovery.Browser via a
// memberlist cluster.
type Adapter struct {
	// NodeName is this process's gossip node name; empty picks a
	// memberlist-generated default.
	NodeName string
	// BindAddr/BindPort configure the gossip transport; zero values use
	// memberlist's own defaults.
	BindAddr string
	BindPort int
	// Seeds is the list of existing cluster member addresses to join.
	Seeds []string
	// PollInterval controls how often Browse re-scans cluster members.
	PollInterval time.Duration
}

var _ discovery.Publisher = (*Adapter)(nil)
var _ discovery.Browser = (*Adapter)(nil)

type serviceDelegate struct {
	meta []byte
}

func (d *serviceDelegate) NodeMeta(limit int) []byte {
	if len(d.meta) > limit {
		return d.meta[:limit]
	}
	return d.meta
}
func (d *serviceDelegate) NotifyMsg([]byte)                           {}
func (d *serviceDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *serviceDelegate) LocalState(join bool) []byte                { return nil }
func (d *serviceDelegate) MergeRemoteState(buf []byte, join bool)     {}

func (a *Adapter) newConfig(delegate memberlist.Delegate) *memberlist.Config {
	cfg := memberlist.DefaultLocalConfig()
	if a.NodeName != "" {
		cfg.Name = a.NodeName
	}
	if a.BindAddr != "" {
		cfg.BindAddr = a.BindAddr
	}
	if a.BindPort != 0 {
		cfg.BindPort = a.BindPort
		cfg.AdvertisePort = a.BindPort
	}
	cfg.Delegate = delegate
	return cfg
}

type handle struct {
	ml     *memberlist.Memberlist
	cancel context.CancelFunc
}

func (h *handle) Close() error {
	if h.cancel != nil {
		h.cancel()
	}
	return h.ml.Leave(5 * time.Second)
}

// Publish implements discovery.Publisher by joining (or forming) the
// gossip cluster and advertising svc as this node's metadata.
func (a *Adapter) Publish(ctx context.Context, svc discovery.Service) (discovery.Handle, error) {
	meta, err := json.Marshal(svc)
	if err != nil {
		return nil, nlerr.Configuration(err, "gossip: failed to marshal service metadata")
	}
	ml, err := memberlist.Create(a.newConfig(&serviceDelegate{meta: meta}))
	if err != nil {
		return nil, nlerr.Transport(err, "gossip: failed to start memberlist")
	}
	if len(a.Seeds) > 0 {
		if _, err := ml.Join(a.Seeds); err != nil {
			logutil.Warnf("gossip: join failed, continuing as seed node: %v", err)
		}
	}
	return &handle{ml: ml}, nil
}

// Browse implements discovery.Browser by periodically scanning cluster
// members and decoding their gossip metadata into Service values.
func (a *Adapter) Browse(ctx context.Context, serviceType string) (<-chan discovery.Service, discovery.Handle, error) {
	ml, err := memberlist.Create(a.newConfig(&serviceDelegate{}))
	if err != nil {
		return nil, nil, nlerr.Transport(err, "gossip: failed to start memberlist")
	}
	if len(a.Seeds) > 0 {
		if _, err := ml.Join(a.Seeds); err != nil {
			_ = ml.Shutdown()
			return nil, nil, nlerr.Transport(err, "gossip: failed to join seeds %v", a.Seeds)
		}
	}

	interval := a.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	runCtx, cancel := context.WithCancel(ctx)
	out := make(chan discovery.Service)

	go func() {
		defer close(out)
		seen := map[string]struct{}{}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			for _, node := range ml.Members() {
				if len(node.Meta) == 0 {
					continue
				}
				var svc discovery.Service
				if err := json.Unmarshal(node.Meta, &svc); err != nil {
					continue
				}
				if serviceType != "" && svc.TXT["type"] != serviceType {
					continue
				}
				key := node.Name + "/" + svc.Host
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				select {
				case out <- svc:
				case <-runCtx.Done():
					return
				}
			}
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out, &handle{ml: ml, cancel: cancel}, nil
}
