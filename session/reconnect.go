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
)

// reconnectHandle marks a recovery in flight. The manager tracks at most
// one; a callback carrying any other handle is stale.
type reconnectHandle struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newReconnectHandle(id uint64) *reconnectHandle {
	ctx, cancel := context.WithCancel(context.Background())
	return &reconnectHandle{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// stop cancels the attempts and waits for the goroutine or ctx.
func (h *reconnectHandle) stop(ctx context.Context) {
	h.cancel()
	select {
	case <-h.done:
	case <-ctx.Done():
	}
}

// reconnectLoop retries sess.Reconnect every period until it succeeds, the
// attempts are exhausted or the handle is cancelled.
func (m *Manager) reconnectLoop(h *reconnectHandle, sess Session) {
	defer close(h.done)

	period := m.cfg.ReconnectPeriod
	timer := time.NewTimer(period)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-h.ctx.Done():
			return
		case <-timer.C:
		}

		m.metrics.ReconnectAttempts.Inc()
		ctx, cancel := context.WithTimeout(h.ctx, m.cfg.SessionTimeout)
		restored, err := sess.Reconnect(ctx)
		cancel()

		if err == nil {
			m.recovered(h, sess, restored)
			return
		}
		if h.ctx.Err() != nil {
			return
		}

		m.logger.Warn("reconnect attempt failed",
			slog.Uint64("handle", h.id),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		if m.cfg.MaxReconnectAttempts > 0 && attempt >= m.cfg.MaxReconnectAttempts {
			m.abandon(h, sess, attempt)
			return
		}

		period = nextPeriod(period, m.cfg.ReconnectBackoff, m.cfg.MaxReconnectPeriod)
		timer.Reset(period)
	}
}

func nextPeriod(cur time.Duration, backoff float64, ceiling time.Duration) time.Duration {
	next := cur
	if backoff > 1 {
		next = time.Duration(float64(cur) * backoff)
	}
	if ceiling > 0 && next > ceiling {
		next = ceiling
	}
	return next
}

// recovered is the recovery callback. The handle stays set while the
// subscription is re-attached, so writes keep failing with ErrRecovering
// and further bad keepalives are ignored. The manager goes to Connected
// only if no Disconnect or Connect replaced the handle in the meantime.
func (m *Manager) recovered(h *reconnectHandle, sess Session, restored bool) {
	defer func() {
		if r := recover(); r != nil {
			m.callbackFault("recovery", fmt.Errorf("panic: %v", r))
		}
	}()

	m.mu.Lock()
	if m.handle != h {
		m.mu.Unlock()
		m.logger.Debug("stale recovery ignored", slog.Uint64("handle", h.id))
		return
	}
	gen := m.gen
	m.mu.Unlock()

	m.logger.Debug("re-attaching subscription",
		slog.Uint64("handle", h.id),
		slog.String("session", sess.ID()))
	ctx, cancel := context.WithTimeout(h.ctx, m.cfg.SessionTimeout)
	sub, err := m.subs.attach(ctx, sess)
	cancel()
	if err != nil && h.ctx.Err() == nil {
		m.logger.Error("re-attach subscription failed", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	if m.handle != h || m.gen != gen || m.sess != sess {
		m.mu.Unlock()
		m.dropSubscription(sub)
		m.logger.Debug("recovery superseded", slog.Uint64("handle", h.id))
		return
	}
	if err := checkTransition(m.state, StateConnected); err != nil {
		m.mu.Unlock()
		m.callbackFault("recovery", err)
		return
	}
	m.handle = nil
	m.state = StateConnected
	m.lastSeen = time.Now()
	m.emit(Connected)
	m.mu.Unlock()

	m.metrics.RecoveriesSucceeded.Inc()
	m.flush()
	m.logger.Info("session recovered",
		slog.Uint64("handle", h.id),
		slog.Bool("restored", restored),
		slog.String("session", sess.ID()))
}

// abandon gives up after the last allowed attempt.
func (m *Manager) abandon(h *reconnectHandle, sess Session, attempts int) {
	m.mu.Lock()
	if m.handle != h {
		m.mu.Unlock()
		return
	}
	m.handle = nil
	m.sess = nil
	m.gen++
	m.state = StateDisconnected
	m.mu.Unlock()

	m.metrics.RecoveriesAbandoned.Inc()
	m.logger.Error("recovery abandoned",
		slog.Uint64("handle", h.id),
		slog.Int("attempts", attempts))

	m.subs.forget()
	m.closeSession(sess)
}
