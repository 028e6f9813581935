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

// Package metrics exposes Prometheus instrumentation for the client and
// viewer pipelines, in the call shape of the teacher's own
// pkg/util/metric/v2 counters/histograms (v2.CdcReadDurationHistogram.Observe,
// v2.CdcMpoolInUseBytesGauge.Set, seen in pkg/cdc/reader.go).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// QueueDepth reports the current number of records buffered in the
	// client transmit worker's pending queue.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nslogger",
		Subsystem: "client",
		Name:      "queue_depth",
		Help:      "Number of LogRecords currently queued for transmission.",
	})

	// RecordsDropped counts records dropped by back-pressure (§4.1, §4.2).
	RecordsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nslogger",
		Subsystem: "client",
		Name:      "records_dropped_total",
		Help:      "Total LogRecords dropped due to queue or buffer capacity.",
	}, []string{"reason"})

	// ReconnectionCount counts transport reconnection attempts.
	ReconnectionCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nslogger",
		Subsystem: "client",
		Name:      "reconnections_total",
		Help:      "Total number of times the transmit worker re-entered CONNECTING after a disconnect.",
	})

	// ActiveSessions reports the number of live viewer ConnectionSessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nslogger",
		Subsystem: "viewer",
		Name:      "active_sessions",
		Help:      "Number of ConnectionSessions currently connected.",
	})

	// DecodeErrors counts fatal protocol decode errors per §7.
	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nslogger",
		Subsystem: "viewer",
		Name:      "decode_errors_total",
		Help:      "Total number of sessions terminated by a ProtocolError.",
	})
)

// Register registers all collectors on reg. Call once at startup; safe to
// call with prometheus.DefaultRegisterer.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		QueueDepth, RecordsDropped, ReconnectionCount, ActiveSessions, DecodeErrors,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
