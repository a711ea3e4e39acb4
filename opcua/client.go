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
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// ConnectionState of a Client.
type ConnectionState int32

// Connection states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// KeepAlive is one liveness observation delivered to the WithKeepAlive callback.
type KeepAlive struct {
	Status      StatusCode
	ServerState ServerState
	CurrentTime time.Time
}

// Good reports whether the server answered and is running.
func (k KeepAlive) Good() bool {
	return k.Status.IsGood() && k.ServerState == ServerStateRunning
}

// Client is an OPC UA TCP client. It keeps one secure channel and one
// session. It never reconnects on its own: a lost transport is reported
// through the keepalive callback and the owner calls Reconnect.
type Client struct {
	endpointURL string
	addr        string
	opts        *clientOptions
	metrics     *Metrics
	logger      *slog.Logger

	handles atomic.Uint32

	mu         sync.Mutex
	ch         *secureChannel
	state      ConnectionState
	authToken  NodeID
	sessionID  NodeID
	serverCert []byte
	policyID   string

	closeCh       chan struct{}
	keepAliveOnce sync.Once

	subs       *xsync.MapOf[uint32, *Subscription]
	publishing atomic.Bool
}

// ParseEndpoint validates an opc.tcp URL and returns its dial address.
// A missing port defaults to 4840.
func ParseEndpoint(endpointURL string) (string, error) {
	u, err := url.Parse(endpointURL)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, endpointURL, err)
	}
	if u.Scheme != "opc.tcp" || u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpointURL)
	}
	port := u.Port()
	if port == "" {
		port = strconv.Itoa(DefaultPort)
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// NewClient creates a client for endpointURL. No connection is made.
func NewClient(endpointURL string, opts ...Option) (*Client, error) {
	addr, err := ParseEndpoint(endpointURL)
	if err != nil {
		return nil, err
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Client{
		endpointURL: endpointURL,
		addr:        addr,
		opts:        options,
		metrics:     NewMetrics(),
		logger:      options.logger,
		state:       StateDisconnected,
		policyID:    "anonymous",
		closeCh:     make(chan struct{}),
		subs:        xsync.NewMapOf[uint32, *Subscription](),
	}, nil
}

// Connect opens the secure channel, creates and activates a session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClientClosed
	case StateConnected:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Debug("connecting", slog.String("endpoint", c.endpointURL))

	ch, err := c.openChannel(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}
	token, err := c.createSession(ctx, ch)
	if err == nil {
		err = c.activateSession(ctx, ch, token)
	}
	if err != nil {
		ch.close()
		c.setState(StateDisconnected)
		return err
	}

	if err := c.attach(ch, token); err != nil {
		return err
	}
	c.logger.Info("session active",
		slog.String("endpoint", c.endpointURL),
		slog.String("session", c.SessionID().String()))

	c.keepAliveOnce.Do(func() {
		if c.opts.onKeepAlive != nil && c.opts.keepAliveInterval > 0 {
			go c.keepAliveLoop()
		}
	})
	return nil
}

// Reconnect replaces the transport. It first tries to move the existing
// session onto a new channel; restored reports whether that worked. When it
// did not, a new session is created and every subscription of the old one
// is invalidated.
func (c *Client) Reconnect(ctx context.Context) (restored bool, err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false, ErrClientClosed
	}
	old := c.ch
	c.ch = nil
	token := c.authToken
	c.state = StateConnecting
	c.mu.Unlock()

	if old != nil {
		old.close()
	}
	c.metrics.Reconnects.Inc()

	c.logger.Info("attempting reconnection", slog.String("addr", c.addr))

	ch, err := c.openChannel(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return false, err
	}

	if !token.IsNull() {
		if err := c.activateSession(ctx, ch, token); err == nil {
			restored = true
		} else {
			c.logger.Debug("session not restored", slog.String("error", err.Error()))
		}
	}
	if !restored {
		c.invalidateSubscriptions()
		token, err = c.createSession(ctx, ch)
		if err == nil {
			err = c.activateSession(ctx, ch, token)
		}
		if err != nil {
			ch.close()
			c.setState(StateDisconnected)
			return false, err
		}
	}

	if err := c.attach(ch, token); err != nil {
		return false, err
	}
	if restored {
		c.metrics.Restores.Inc()
		if c.subs.Size() > 0 {
			c.startPublishing()
		}
	}
	c.logger.Info("reconnected", slog.String("addr", c.addr), slog.Bool("restored", restored))
	return restored, nil
}

// attach makes ch the current channel unless the client was closed meanwhile.
func (c *Client) attach(ch *secureChannel, token NodeID) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		ch.close()
		return ErrClientClosed
	}
	c.ch = ch
	c.authToken = token
	c.state = StateConnected
	c.mu.Unlock()

	go c.watch(ch)
	return nil
}

// Close closes the session, deleting its subscriptions, and the channel.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	close(c.closeCh)
	ch := c.ch
	token := c.authToken
	c.ch = nil
	c.mu.Unlock()

	c.invalidateSubscriptions()
	if ch == nil {
		return nil
	}

	c.logger.Debug("closing session", slog.String("addr", c.addr))
	err := c.callOn(ctx, ch, token, &CloseSessionRequest{DeleteSubscriptions: true}, &CloseSessionResponse{})
	ch.close()
	if err != nil && !errors.Is(err, ErrConnectionClosed) {
		return err
	}
	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true if the client has an active session.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// SessionID returns the id of the current or last session.
func (c *Client) SessionID() NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ServerCertificate returns the certificate the server sent in CreateSession.
func (c *Client) ServerCertificate() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverCert
}

// Metrics returns the client metrics.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// EndpointURL returns the URL the client connects to.
func (c *Client) EndpointURL() string {
	return c.endpointURL
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Client) openChannel(ctx context.Context) (*secureChannel, error) {
	ch, err := dialChannel(ctx, c.endpointURL, c.addr, c.opts, &c.metrics.io)
	if err != nil {
		return nil, err
	}
	resp, err := ch.open(ctx, SecurityTokenIssue, c.opts.channelLifetime)
	if err != nil {
		ch.close()
		return nil, fmt.Errorf("opcua: open secure channel: %w", err)
	}
	go c.renewLoop(ch, revisedLifetime(resp, c.opts.channelLifetime))
	return ch, nil
}

func revisedLifetime(resp *OpenSecureChannelResponse, requested time.Duration) time.Duration {
	if resp.RevisedLifetime == 0 {
		return requested
	}
	return time.Duration(resp.RevisedLifetime) * time.Millisecond
}

// renewLoop renews the security token at 75% of its lifetime.
func (c *Client) renewLoop(ch *secureChannel, lifetime time.Duration) {
	for {
		t := time.NewTimer(lifetime * 3 / 4)
		select {
		case <-ch.done:
			t.Stop()
			return
		case <-c.closeCh:
			t.Stop()
			return
		case <-t.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.requestTimeout)
		resp, err := ch.open(ctx, SecurityTokenRenew, c.opts.channelLifetime)
		cancel()
		if err != nil {
			if !ch.isDone() {
				c.logger.Warn("security token renewal failed", slog.String("error", err.Error()))
				ch.fail(err)
			}
			return
		}
		lifetime = revisedLifetime(resp, c.opts.channelLifetime)
	}
}

// watch reports the loss of ch when it is still the current channel.
func (c *Client) watch(ch *secureChannel) {
	<-ch.done

	c.mu.Lock()
	if c.ch != ch {
		c.mu.Unlock()
		return
	}
	c.ch = nil
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	c.logger.Warn("disconnected", slog.String("addr", c.addr), slog.Any("error", ch.failErr))
	c.notifyKeepAlive(KeepAlive{Status: StatusBadConnectionClosed, ServerState: ServerStateUnknown})
}

func (c *Client) createSession(ctx context.Context, ch *secureChannel) (NodeID, error) {
	nonce, err := GenerateNonce(32)
	if err != nil {
		return NodeID{}, err
	}
	req := &CreateSessionRequest{
		ClientDescription: ApplicationDescription{
			ApplicationURI:  c.opts.applicationURI,
			ProductURI:      c.opts.productURI,
			ApplicationName: LocalizedText{Text: c.opts.applicationName},
			ApplicationType: ApplicationTypeClient,
		},
		EndpointURL:             c.endpointURL,
		SessionName:             c.opts.sessionName,
		ClientNonce:             nonce,
		RequestedSessionTimeout: float64(c.opts.sessionTimeout / time.Millisecond),
		MaxResponseMessageSize:  c.opts.maxMessageSize,
	}
	if c.opts.identity != nil {
		req.ClientCertificate = c.opts.identity.CertificateDER
	}

	resp := &CreateSessionResponse{}
	if err := c.callOn(ctx, ch, NodeID{}, req, resp); err != nil {
		return NodeID{}, fmt.Errorf("opcua: create session: %w", err)
	}
	if c.opts.validator != nil && len(resp.ServerCertificate) > 0 {
		if err := c.opts.validator.Validate(resp.ServerCertificate); err != nil {
			return NodeID{}, err
		}
	}

	policy := "anonymous"
	for i := range resp.ServerEndpoints {
		if resp.ServerEndpoints[i].SecurityMode == MessageSecurityModeNone {
			policy = resp.ServerEndpoints[i].AnonymousPolicyID()
			break
		}
	}

	c.mu.Lock()
	c.sessionID = resp.SessionID
	c.serverCert = resp.ServerCertificate
	c.policyID = policy
	c.mu.Unlock()
	return resp.AuthenticationToken, nil
}

func (c *Client) activateSession(ctx context.Context, ch *secureChannel, token NodeID) error {
	c.mu.Lock()
	policy := c.policyID
	c.mu.Unlock()

	req := &ActivateSessionRequest{PolicyID: policy, LocaleIDs: []string{"en"}}
	if err := c.callOn(ctx, ch, token, req, &ActivateSessionResponse{}); err != nil {
		return fmt.Errorf("opcua: activate session: %w", err)
	}
	return nil
}

// call sends req on the current channel with the session token.
func (c *Client) call(ctx context.Context, req request, resp response) error {
	c.mu.Lock()
	ch := c.ch
	token := c.authToken
	state := c.state
	c.mu.Unlock()

	if state == StateClosed {
		return ErrClientClosed
	}
	if ch == nil {
		return ErrNotConnected
	}
	return c.callOn(ctx, ch, token, req, resp)
}

func (c *Client) callOn(ctx context.Context, ch *secureChannel, token NodeID, req request, resp response) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.requestTimeout)
		defer cancel()
	}

	h := req.header()
	h.AuthenticationToken = token
	h.Timestamp = time.Now()
	h.RequestHandle = c.handles.Add(1)
	if dl, ok := ctx.Deadline(); ok {
		h.TimeoutHint = uint32(time.Until(dl) / time.Millisecond)
	}

	svc := ServiceID(req.binaryID())
	sm := c.metrics.ForService(svc)
	c.metrics.Requests.Inc()
	sm.Requests.Inc()

	start := time.Now()
	err := ch.call(ctx, MessageTypeMessage, req, resp)
	elapsed := time.Since(start)
	c.metrics.Latency.Observe(elapsed)
	sm.Latency.Observe(elapsed)

	if err != nil {
		c.metrics.Errors.Inc()
		sm.Errors.Inc()
		return err
	}
	c.metrics.Responses.Inc()
	return nil
}

// GetEndpoints lists the endpoints of the connected server.
func (c *Client) GetEndpoints(ctx context.Context) ([]EndpointDescription, error) {
	resp := &GetEndpointsResponse{}
	if err := c.call(ctx, &GetEndpointsRequest{EndpointURL: c.endpointURL}, resp); err != nil {
		return nil, err
	}
	return resp.Endpoints, nil
}

// GetEndpoints opens a channel without a session, lists the endpoints the
// server offers and closes the channel again.
func GetEndpoints(ctx context.Context, endpointURL string, opts ...Option) ([]EndpointDescription, error) {
	c, err := NewClient(endpointURL, opts...)
	if err != nil {
		return nil, err
	}
	ch, err := c.openChannel(ctx)
	if err != nil {
		return nil, err
	}
	defer ch.close()

	resp := &GetEndpointsResponse{}
	if err := c.callOn(ctx, ch, NodeID{}, &GetEndpointsRequest{EndpointURL: endpointURL}, resp); err != nil {
		return nil, fmt.Errorf("opcua: get endpoints: %w", err)
	}
	return resp.Endpoints, nil
}

// Read reads attributes.
func (c *Client) Read(ctx context.Context, nodes ...ReadValueID) ([]*DataValue, error) {
	req := &ReadRequest{
		TimestampsToReturn: TimestampsToReturnBoth,
		NodesToRead:        nodes,
	}
	resp := &ReadResponse{}
	if err := c.call(ctx, req, resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(nodes) {
		return nil, fmt.Errorf("%w: %d results for %d nodes", ErrInvalidResponse, len(resp.Results), len(nodes))
	}
	return resp.Results, nil
}

// ReadValue reads the Value attribute of one node.
func (c *Client) ReadValue(ctx context.Context, id NodeID) (*DataValue, error) {
	res, err := c.Read(ctx, ReadValueID{NodeID: id, AttributeID: AttributeValue})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// Write writes attributes and returns one status per value.
func (c *Client) Write(ctx context.Context, values ...WriteValue) ([]StatusCode, error) {
	resp := &WriteResponse{}
	if err := c.call(ctx, &WriteRequest{NodesToWrite: values}, resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(values) {
		return nil, fmt.Errorf("%w: %d results for %d writes", ErrInvalidResponse, len(resp.Results), len(values))
	}
	return resp.Results, nil
}

// WriteValue writes the Value attribute of one node. The returned status
// is the per-node result; err is set only when the service itself failed.
func (c *Client) WriteValue(ctx context.Context, id NodeID, v *Variant) (StatusCode, error) {
	res, err := c.Write(ctx, WriteValue{
		NodeID:      id,
		AttributeID: AttributeValue,
		Value:       &DataValue{Value: v},
	})
	if err != nil {
		return StatusOf(err), err
	}
	return res[0], nil
}

func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(c.opts.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
		}
		ka := c.probe()
		select {
		case <-c.closeCh:
			return
		default:
		}
		c.notifyKeepAlive(ka)
	}
}

// probe reads Server_ServerStatus_State.
func (c *Client) probe() KeepAlive {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.requestTimeout)
	defer cancel()

	dv, err := c.ReadValue(ctx, NodeServerStatusState)
	if err != nil {
		return KeepAlive{Status: StatusOf(err), ServerState: ServerStateUnknown}
	}
	ka := KeepAlive{Status: dv.Status, ServerState: ServerStateUnknown, CurrentTime: dv.ServerTimestamp}
	if dv.Value != nil {
		switch v := dv.Value.Value.(type) {
		case int32:
			ka.ServerState = ServerState(v)
		case uint32:
			ka.ServerState = ServerState(v)
		}
	}
	return ka
}

func (c *Client) notifyKeepAlive(ka KeepAlive) {
	c.metrics.KeepAlives.Inc()
	if c.opts.onKeepAlive == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("keepalive callback panicked", slog.Any("panic", r))
		}
	}()
	c.opts.onKeepAlive(ka)
}
