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

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgeo-scada/keybridge/opcua"
)

// current snapshots the session for one request.
func (m *Manager) current() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.handle != nil || m.state == StateRecovering:
		return nil, ErrRecovering
	case m.state != StateConnected || m.sess == nil:
		return nil, ErrNoSession
	}
	return m.sess, nil
}

// Write pushes value to the Value attribute of ref. value may be a Go value
// accepted by opcua.NewVariant or an *opcua.Variant. A non-good result is
// returned as *WriteRejected.
func (m *Manager) Write(ctx context.Context, ref VariableRef, value interface{}) error {
	sess, err := m.current()
	if err != nil {
		return err
	}

	v, ok := value.(*opcua.Variant)
	if !ok {
		if v, err = opcua.NewVariant(value); err != nil {
			return fmt.Errorf("session: write %s: %w", ref, err)
		}
	}

	m.metrics.Writes.Inc()
	start := time.Now()
	status, err := sess.Write(ctx, ref.NodeID(), v)
	m.metrics.WriteLatency.Observe(time.Since(start))
	if err != nil {
		return fmt.Errorf("session: write %s: %w", ref, err)
	}
	if !status.IsGood() {
		m.metrics.WritesRejected.Inc()
		return &WriteRejected{Ref: ref, Status: status}
	}

	m.logger.Debug("write",
		slog.String("node", ref.NodeID().String()),
		slog.String("value", v.String()))
	return nil
}

// Read reads the Value attribute of ref on the current session.
func (m *Manager) Read(ctx context.Context, ref VariableRef) (*opcua.DataValue, error) {
	sess, err := m.current()
	if err != nil {
		return nil, err
	}

	dv, err := sess.Read(ctx, ref.NodeID())
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", ref, err)
	}
	if dv == nil {
		return nil, fmt.Errorf("session: read %s: %w", ref, opcua.ErrInvalidResponse)
	}
	if dv.Status.IsBad() {
		return dv, fmt.Errorf("session: read %s: %w", ref, dv.Status)
	}
	return dv, nil
}
