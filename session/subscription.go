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
	"sync"
	"sync/atomic"

	"github.com/edgeo-scada/keybridge/opcua"
)

// LivenessHandle is the client handle of the Server_ServerStatus_CurrentTime
// item every session subscription carries.
const LivenessHandle uint32 = 1

// SubscriptionInfo describes the subscription of the current session.
type SubscriptionInfo struct {
	ID        uint32
	SessionID string
	Items     int
	Active    bool
}

// subscriptions keeps exactly one subscription per session.
type subscriptions struct {
	params  SubscriptionParams
	item    MonitoredItem
	handler func(Notification)
	logger  *slog.Logger

	sink atomic.Pointer[func(Notification)]

	mu        sync.Mutex
	sessionID string
	sub       Subscription
}

func newSubscriptions(cfg Config, handler func(Notification), logger *slog.Logger) *subscriptions {
	s := &subscriptions{
		params: SubscriptionParams{
			PublishingInterval: cfg.PublishingInterval,
			PublishingEnabled:  true,
		},
		item: MonitoredItem{
			NodeID:           opcua.NodeServerStatusCurrentTime,
			ClientHandle:     LivenessHandle,
			SamplingInterval: cfg.SamplingInterval,
			QueueSize:        10,
			DiscardOldest:    true,
		},
		handler: handler,
		logger:  logger,
	}
	if s.handler == nil {
		s.handler = s.discard
	}
	return s
}

// attach makes sure sess owns one live subscription with the liveness item.
// A live subscription of the same session is kept and only the handler is
// registered again.
func (s *subscriptions) attach(ctx context.Context, sess Session) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sink.Store(&s.handler)

	id := sess.ID()
	if s.sub != nil && s.sessionID == id && s.sub.Active() {
		s.logger.Debug("subscription kept",
			slog.String("session", id),
			slog.Uint64("subscription", uint64(s.sub.ID())))
		return s.sub, nil
	}
	if s.sub != nil {
		s.cancel(ctx)
	}

	sub, err := sess.Subscribe(ctx, s.params, s.dispatch)
	if err != nil {
		return nil, fmt.Errorf("session: create subscription: %w", err)
	}
	if err := sub.Monitor(ctx, s.item); err != nil {
		_ = sub.Cancel(ctx)
		return nil, fmt.Errorf("session: monitor %s: %w", s.item.NodeID, err)
	}

	s.sub = sub
	s.sessionID = id
	s.logger.Debug("subscription created",
		slog.String("session", id),
		slog.Uint64("subscription", uint64(sub.ID())),
		slog.Duration("publishing_interval", s.params.PublishingInterval))
	return sub, nil
}

// detach deletes the subscription.
func (s *subscriptions) detach(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		s.cancel(ctx)
	}
}

// drop deletes sub, which an aborted connect or recovery created.
func (s *subscriptions) drop(ctx context.Context, sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == sub {
		s.cancel(ctx)
		return
	}
	if sub.Active() {
		_ = sub.Cancel(ctx)
	}
}

// forget drops the subscription without talking to the server.
func (s *subscriptions) forget() {
	s.mu.Lock()
	s.sub = nil
	s.sessionID = ""
	s.mu.Unlock()
}

func (s *subscriptions) cancel(ctx context.Context) {
	if s.sub.Active() {
		if err := s.sub.Cancel(ctx); err != nil {
			s.logger.Warn("delete subscription failed",
				slog.Uint64("subscription", uint64(s.sub.ID())),
				slog.String("error", err.Error()))
		}
	}
	s.sub = nil
	s.sessionID = ""
}

func (s *subscriptions) info() (SubscriptionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return SubscriptionInfo{}, false
	}
	return SubscriptionInfo{
		ID:        s.sub.ID(),
		SessionID: s.sessionID,
		Items:     s.sub.ItemCount(),
		Active:    s.sub.Active(),
	}, true
}

func (s *subscriptions) dispatch(n Notification) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notification handler panicked", slog.Any("panic", r))
		}
	}()
	if fn := s.sink.Load(); fn != nil {
		(*fn)(n)
	}
}

func (s *subscriptions) discard(n Notification) {
	if n.Value == nil {
		return
	}
	s.logger.Debug("notification",
		slog.Uint64("handle", uint64(n.ClientHandle)),
		slog.String("value", n.Value.Value.String()))
}
