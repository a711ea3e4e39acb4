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

package opcua

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/edgeo-scada/keybridge/internal/metrics"
	"github.com/edgeo-scada/keybridge/opcua/internal/transport"
)

// ServiceMetrics counts requests and errors for one service.
type ServiceMetrics struct {
	Requests metrics.Counter
	Errors   metrics.Counter
	Latency  *metrics.LatencyHistogram
}

func newServiceMetricsSet() *xsync.MapOf[ServiceID, *ServiceMetrics] {
	return xsync.NewMapOf[ServiceID, *ServiceMetrics]()
}

func forService(m *xsync.MapOf[ServiceID, *ServiceMetrics], svc ServiceID) *ServiceMetrics {
	sm, _ := m.LoadOrCompute(svc, func() *ServiceMetrics {
		return &ServiceMetrics{Latency: metrics.NewLatencyHistogram()}
	})
	return sm
}

func collectServices(m *xsync.MapOf[ServiceID, *ServiceMetrics]) map[string]interface{} {
	out := make(map[string]interface{})
	m.Range(func(svc ServiceID, sm *ServiceMetrics) bool {
		out[svc.String()] = map[string]interface{}{
			"requests": sm.Requests.Value(),
			"errors":   sm.Errors.Value(),
			"latency":  sm.Latency.Stats(),
		}
		return true
	})
	return out
}

// Metrics holds client counters. Values survive reconnects.
type Metrics struct {
	Requests   metrics.Counter
	Responses  metrics.Counter
	Errors     metrics.Counter
	Reconnects metrics.Counter
	Restores   metrics.Counter
	KeepAlives metrics.Counter
	Publishes  metrics.Counter
	Latency    *metrics.LatencyHistogram

	io       transport.Stats
	services *xsync.MapOf[ServiceID, *ServiceMetrics]
}

// NewMetrics returns zeroed client metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Latency:  metrics.NewLatencyHistogram(),
		services: newServiceMetricsSet(),
	}
}

// ForService returns the counters of one service.
func (m *Metrics) ForService(svc ServiceID) *ServiceMetrics {
	return forService(m.services, svc)
}

// Collect returns all metrics as a map.
func (m *Metrics) Collect() map[string]interface{} {
	result := map[string]interface{}{
		"requests":   m.Requests.Value(),
		"responses":  m.Responses.Value(),
		"errors":     m.Errors.Value(),
		"reconnects": m.Reconnects.Value(),
		"restores":   m.Restores.Value(),
		"keepalives": m.KeepAlives.Value(),
		"publishes":  m.Publishes.Value(),
		"bytes_in":   m.io.BytesIn.Load(),
		"bytes_out":  m.io.BytesOut.Load(),
		"latency":    m.Latency.Stats(),
	}
	if svc := collectServices(m.services); len(svc) > 0 {
		result["services"] = svc
	}
	return result
}

// ServerMetrics holds server counters.
type ServerMetrics struct {
	Requests    metrics.Counter
	Errors      metrics.Counter
	Connections metrics.Counter
	Sessions    metrics.Counter
	Writes      metrics.Counter

	io       transport.Stats
	services *xsync.MapOf[ServiceID, *ServiceMetrics]
}

// NewServerMetrics returns zeroed server metrics.
func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{services: newServiceMetricsSet()}
}

// ForService returns the counters of one service.
func (m *ServerMetrics) ForService(svc ServiceID) *ServiceMetrics {
	return forService(m.services, svc)
}

// Collect returns all server metrics as a map.
func (m *ServerMetrics) Collect() map[string]interface{} {
	result := map[string]interface{}{
		"requests":    m.Requests.Value(),
		"errors":      m.Errors.Value(),
		"connections": m.Connections.Value(),
		"sessions":    m.Sessions.Value(),
		"writes":      m.Writes.Value(),
		"bytes_in":    m.io.BytesIn.Load(),
		"bytes_out":   m.io.BytesOut.Load(),
	}
	if svc := collectServices(m.services); len(svc) > 0 {
		result["services"] = svc
	}
	return result
}
