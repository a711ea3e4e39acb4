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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const publishRetryDelay = time.Second

// SubscriptionParameters are the requested subscription settings. Zero
// counts let the server choose.
type SubscriptionParameters struct {
	Interval                   time.Duration
	LifetimeCount              uint32
	MaxKeepAliveCount          uint32
	MaxNotificationsPerPublish uint32
	Priority                   uint8
}

// MonitorItem requests monitoring of one node's Value attribute.
type MonitorItem struct {
	NodeID           NodeID
	ClientHandle     uint32
	SamplingInterval time.Duration
	QueueSize        uint32
	DiscardOldest    bool
}

// DataChange is one value delivered by a subscription.
type DataChange struct {
	SubscriptionID uint32
	ClientHandle   uint32
	Value          *DataValue
}

// Subscription is a server-side subscription owned by a Client. Data
// changes are delivered to the handler from the client's publish loop.
type Subscription struct {
	c       *Client
	id      uint32
	params  SubscriptionParameters
	handler func(DataChange)
	active  atomic.Bool
}

// Subscribe creates a subscription. handler may be nil.
func (c *Client) Subscribe(ctx context.Context, params SubscriptionParameters, handler func(DataChange)) (*Subscription, error) {
	req := &CreateSubscriptionRequest{
		RequestedPublishingInterval: float64(params.Interval / time.Millisecond),
		RequestedLifetimeCount:      params.LifetimeCount,
		RequestedMaxKeepAliveCount:  params.MaxKeepAliveCount,
		MaxNotificationsPerPublish:  params.MaxNotificationsPerPublish,
		PublishingEnabled:           true,
		Priority:                    params.Priority,
	}
	resp := &CreateSubscriptionResponse{}
	if err := c.call(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("opcua: create subscription: %w", err)
	}

	revised := params
	revised.Interval = time.Duration(resp.RevisedPublishingInterval * float64(time.Millisecond))
	revised.LifetimeCount = resp.RevisedLifetimeCount
	revised.MaxKeepAliveCount = resp.RevisedMaxKeepAliveCount

	s := &Subscription{c: c, id: resp.SubscriptionID, params: revised, handler: handler}
	s.active.Store(true)
	c.subs.Store(s.id, s)

	c.logger.Debug("subscription created",
		slog.Uint64("id", uint64(s.id)),
		slog.Duration("interval", revised.Interval))

	c.startPublishing()
	return s, nil
}

// ID returns the server-assigned subscription id.
func (s *Subscription) ID() uint32 { return s.id }

// Parameters returns the revised parameters.
func (s *Subscription) Parameters() SubscriptionParameters { return s.params }

// Active reports whether the subscription still exists on the current
// session. It turns false after Cancel, Close, or a reconnect that had to
// create a new session.
func (s *Subscription) Active() bool { return s.active.Load() }

// Monitor adds monitored items. The results are returned even when some
// items failed; err then names the first failure.
func (s *Subscription) Monitor(ctx context.Context, items ...MonitorItem) ([]MonitoredItemCreateResult, error) {
	if !s.Active() {
		return nil, ErrSubscriptionNotFound
	}
	req := &CreateMonitoredItemsRequest{
		SubscriptionID:     s.id,
		TimestampsToReturn: TimestampsToReturnBoth,
		ItemsToCreate:      make([]MonitoredItemCreateRequest, len(items)),
	}
	for i, it := range items {
		req.ItemsToCreate[i] = MonitoredItemCreateRequest{
			ItemToMonitor:  ReadValueID{NodeID: it.NodeID, AttributeID: AttributeValue},
			MonitoringMode: MonitoringModeReporting,
			RequestedParameters: MonitoringParameters{
				ClientHandle:     it.ClientHandle,
				SamplingInterval: float64(it.SamplingInterval / time.Millisecond),
				QueueSize:        it.QueueSize,
				DiscardOldest:    it.DiscardOldest,
			},
		}
	}
	resp := &CreateMonitoredItemsResponse{}
	if err := s.c.call(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("opcua: create monitored items: %w", err)
	}
	for i, r := range resp.Results {
		if r.StatusCode.IsBad() {
			return resp.Results, fmt.Errorf("opcua: monitor %s: %w", items[i].NodeID, newServiceError(ServiceCreateMonitoredItems, r.StatusCode))
		}
	}
	return resp.Results, nil
}

// Cancel deletes the subscription on the server. A subscription the server
// no longer knows counts as deleted.
func (s *Subscription) Cancel(ctx context.Context) error {
	if !s.active.CompareAndSwap(true, false) {
		return nil
	}
	s.c.subs.Delete(s.id)

	resp := &DeleteSubscriptionsResponse{}
	if err := s.c.call(ctx, &DeleteSubscriptionsRequest{SubscriptionIDs: []uint32{s.id}}, resp); err != nil {
		if errors.Is(err, StatusBadSubscriptionIDInvalid) || errors.Is(err, StatusBadNoSubscription) {
			return nil
		}
		return fmt.Errorf("opcua: delete subscription: %w", err)
	}
	if len(resp.Results) == 1 && resp.Results[0].IsBad() && resp.Results[0] != StatusBadSubscriptionIDInvalid {
		return newServiceError(ServiceDeleteSubscriptions, resp.Results[0])
	}
	return nil
}

func (s *Subscription) deliver(n *NotificationMessage) {
	if s.handler == nil || !s.Active() {
		return
	}
	for _, dc := range n.DataChanges {
		s.dispatch(DataChange{SubscriptionID: s.id, ClientHandle: dc.ClientHandle, Value: dc.Value})
	}
}

func (s *Subscription) dispatch(dc DataChange) {
	defer func() {
		if r := recover(); r != nil {
			s.c.logger.Error("subscription handler panicked",
				slog.Uint64("subscription", uint64(s.id)),
				slog.Any("panic", r))
		}
	}()
	s.handler(dc)
}

func (c *Client) invalidateSubscriptions() {
	c.subs.Range(func(id uint32, s *Subscription) bool {
		s.active.Store(false)
		c.subs.Delete(id)
		return true
	})
}

func (c *Client) startPublishing() {
	if c.publishing.CompareAndSwap(false, true) {
		go c.publishLoop()
	}
}

func (c *Client) publishLoop() {
	for {
		c.publish()
		c.publishing.Store(false)
		if c.closing() || c.subs.Size() == 0 || !c.publishing.CompareAndSwap(false, true) {
			return
		}
	}
}

// publish keeps one Publish request outstanding while subscriptions exist.
func (c *Client) publish() {
	var acks []SubscriptionAcknowledgement
	for !c.closing() && c.subs.Size() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), c.publishTimeout())
		resp := &PublishResponse{}
		err := c.call(ctx, &PublishRequest{Acknowledgements: acks}, resp)
		cancel()
		acks = nil

		if err != nil {
			if errors.Is(err, ErrClientClosed) {
				return
			}
			c.logger.Debug("publish failed", slog.String("error", err.Error()))
			select {
			case <-c.closeCh:
				return
			case <-time.After(publishRetryDelay):
			}
			continue
		}

		c.metrics.Publishes.Inc()
		if len(resp.Notification.DataChanges) == 0 {
			continue
		}
		acks = append(acks, SubscriptionAcknowledgement{
			SubscriptionID: resp.SubscriptionID,
			SequenceNumber: resp.Notification.SequenceNumber,
		})
		if s, ok := c.subs.Load(resp.SubscriptionID); ok {
			s.deliver(&resp.Notification)
		}
	}
}

// publishTimeout allows the slowest subscription to send its keep-alive.
func (c *Client) publishTimeout() time.Duration {
	longest := time.Duration(0)
	c.subs.Range(func(_ uint32, s *Subscription) bool {
		keepAlive := s.params.Interval * time.Duration(max(s.params.MaxKeepAliveCount, 1))
		if keepAlive > longest {
			longest = keepAlive
		}
		return true
	})
	return c.opts.requestTimeout + longest
}

func (c *Client) closing() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}
