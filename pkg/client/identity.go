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
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/nslogger-project/nslogger/pkg/record"
)

// newIdentity builds the CLIENT_INFO payload for one run: clientName and
// clientVersion come from the caller, the rest is auto-populated from the
// host the process runs on (§3, "populated automatically where the host
// platform exposes it"). uniqueID is generated once per run and must
// survive reconnects (§4.2).
func newIdentity(clientName, clientVersion string) record.ClientIdentity {
	ci := record.ClientIdentity{
		ClientName:    clientName,
		ClientVersion: clientVersion,
		UniqueID:      uuid.NewString(),
	}
	if info, err := host.Info(); err == nil {
		ci.OSName = info.Platform
		ci.OSVersion = info.PlatformVersion
		ci.Device = info.Hostname
	}
	return ci
}
