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
	"fmt"
	"log/slog"
	"time"
)

// keepAliveHandler binds keepalive signals to the session generation they
// were wired for.
func (m *Manager) keepAliveHandler(gen uint64) func(KeepAlive) {
	return func(ka KeepAlive) {
		m.onKeepAlive(gen, ka)
	}
}

// onKeepAlive runs on a stack goroutine. Nothing it raises may escape.
func (m *Manager) onKeepAlive(gen uint64, ka KeepAlive) {
	defer func() {
		if r := recover(); r != nil {
			m.callbackFault("keepalive", fmt.Errorf("panic: %v", r))
		}
	}()

	m.metrics.KeepAliveSignals.Inc()
	if err := m.handleKeepAlive(gen, ka); err != nil {
		m.callbackFault("keepalive", err)
	}
}

func (m *Manager) handleKeepAlive(gen uint64, ka KeepAlive) error {
	m.mu.Lock()
	if gen != m.gen || m.sess == nil {
		m.mu.Unlock()
		return nil
	}
	if ka.Good() {
		m.lastSeen = time.Now()
		m.mu.Unlock()
		return nil
	}

	m.metrics.KeepAliveBad.Inc()
	// While connecting the next tick decides. During recovery the handle
	// already exists.
	if m.handle != nil || m.state != StateConnected {
		m.mu.Unlock()
		return nil
	}
	if err := checkTransition(m.state, StateRecovering); err != nil {
		m.mu.Unlock()
		return err
	}
	m.handles++
	h := newReconnectHandle(m.handles)
	m.handle = h
	m.state = StateRecovering
	sess := m.sess
	m.emit(Disconnected)
	go m.reconnectLoop(h, sess)
	m.mu.Unlock()

	m.metrics.RecoveriesStarted.Inc()
	m.flush()
	m.logger.Warn("keepalive failed, starting recovery",
		slog.String("status", ka.Status.String()),
		slog.String("server_state", ka.ServerState.String()),
		slog.Uint64("handle", h.id),
		slog.Duration("period", m.cfg.ReconnectPeriod))
	return nil
}

func (m *Manager) callbackFault(source string, err error) {
	m.metrics.KeepAliveFaults.Inc()
	m.logger.Error("callback fault",
		slog.String("source", source),
		slog.String("error", err.Error()))
}
