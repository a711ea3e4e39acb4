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


package gopcuastack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	gopcua "github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/edgeo-scada/keybridge/opcua"
	"github.com/edgeo-scada/keybridge/session"
)

// Subscription adapts *gopcua.Subscription. The notification channel is
// owned by the library and is never closed here.
type Subscription struct {
	sub    *gopcua.Subscription
	logger *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	active   atomic.Bool
	items    atomic.Int32
}

func (s *Subscription) run(notifs <-chan *gopcua.PublishNotificationData, handler func(session.Notification)) {
	for {
		select {
		case <-s.stop:
			return
		case msg := <-notifs:
			if msg == nil {
				continue
			}
			if msg.Error != nil {
				s.logger.Warn("publish failed", slog.Uint64("subscription_id", uint64(msg.SubscriptionID)), slog.Any("error", msg.Error))
				continue
			}
			dc, ok := msg.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, item := range dc.MonitoredItems {
				if item == nil {
					continue
				}
				dv, err := fromUADataValue(item.Value)
				if err != nil {
					s.logger.Debug("notification value dropped", slog.Any("error", err))
					continue
				}
				handler(session.Notification{ClientHandle: item.ClientHandle, Value: dv})
			}
		}
	}
}

func (s *Subscription) invalidate() {
	s.active.Store(false)
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Subscription) ID() uint32 { return s.sub.SubscriptionID }

func (s *Subscription) Monitor(ctx context.Context, item session.MonitoredItem) error {
	if !s.active.Load() {
		return opcua.ErrSubscriptionNotFound
	}
	id, err := toUANodeID(item.NodeID)
	if err != nil {
		return err
	}

	req := gopcua.NewMonitoredItemCreateRequestWithDefaults(id, ua.AttributeIDValue, item.ClientHandle)
	req.RequestedParameters.SamplingInterval = float64(item.SamplingInterval.Milliseconds())
	req.RequestedParameters.QueueSize = item.QueueSize
	req.RequestedParameters.DiscardOldest = item.DiscardOldest

	res, err := s.sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	if err != nil {
		return err
	}
	if len(res.Results) == 0 {
		return opcua.ErrInvalidResponse
	}
	if sc := res.Results[0].StatusCode; sc != ua.StatusOK {
		return fmt.Errorf("gopcuastack: monitor %s: %w", item.NodeID, opcua.StatusCode(sc))
	}
	s.items.Add(1)
	return nil
}

func (s *Subscription) ItemCount() int { return int(s.items.Load()) }

func (s *Subscription) Active() bool { return s.active.Load() }

func (s *Subscription) Cancel(ctx context.Context) error {
	if !s.active.CompareAndSwap(true, false) {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stop) })
	return s.sub.Cancel(ctx)
}
