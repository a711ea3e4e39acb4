// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import "github.com/edgeo-scada/keybridge/internal/metrics"

// Metrics holds the session manager counters.
type Metrics struct {
	KeepAliveSignals    metrics.Counter
	KeepAliveBad        metrics.Counter
	KeepAliveFaults     metrics.Counter
	RecoveriesStarted   metrics.Counter
	ReconnectAttempts   metrics.Counter
	RecoveriesSucceeded metrics.Counter
	RecoveriesAbandoned metrics.Counter
	Writes              metrics.Counter
	WritesRejected      metrics.Counter
	WriteLatency        *metrics.LatencyHistogram

	bus *Bus
}

func newMetrics(bus *Bus) *Metrics {
	return &Metrics{
		WriteLatency: metrics.NewLatencyHistogram(),
		bus:          bus,
	}
}

// Collect returns all metrics as a map.
func (m *Metrics) Collect() map[string]interface{} {
	return map[string]interface{}{
		"keepalive_signals":    m.KeepAliveSignals.Value(),
		"keepalive_bad":        m.KeepAliveBad.Value(),
		"keepalive_faults":     m.KeepAliveFaults.Value(),
		"recoveries_started":   m.RecoveriesStarted.Value(),
		"reconnect_attempts":   m.ReconnectAttempts.Value(),
		"recoveries_succeeded": m.RecoveriesSucceeded.Value(),
		"recoveries_abandoned": m.RecoveriesAbandoned.Value(),
		"writes":               m.Writes.Value(),
		"writes_rejected":      m.WritesRejected.Value(),
		"write_latency":        m.WriteLatency.Stats(),
		"events_dropped":       m.bus.Dropped(),
	}
}
