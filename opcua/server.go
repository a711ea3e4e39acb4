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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/edgeo-scada/keybridge/opcua/internal/transport"
)

// Handler is the address space behind a Server.
type Handler interface {
	Read(nodes []ReadValueID) []*DataValue
	Write(values []WriteValue) []StatusCode
}

// Server is a small OPC UA TCP server speaking SecurityPolicy None with
// anonymous sessions. It serves Read, Write and data-change subscriptions
// and is used to simulate a PLC.
type Server struct {
	addr     string
	opts     *serverOptions
	handler  Handler
	listener net.Listener
	metrics  *ServerMetrics
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	closeCh chan struct{}

	conns     *xsync.MapOf[*serverConn, struct{}]
	sessions  *xsync.MapOf[string, *serverSession]
	connCount atomic.Int32

	channelIDs atomic.Uint32
	tokenIDs   atomic.Uint32
	subIDs     atomic.Uint32
	itemIDs    atomic.Uint32
}

type serverConn struct {
	conn      *transport.Conn
	channelID uint32
	tokenID   atomic.Uint32
	seq       atomic.Uint32
}

type serverSession struct {
	id        NodeID
	token     NodeID
	activated atomic.Bool

	mu   sync.Mutex
	subs map[uint32]*serverSubscription
}

type serverSubscription struct {
	id             uint32
	interval       time.Duration
	keepAliveCount uint32
	lifetimeCount  uint32

	mu       sync.Mutex
	items    []*serverItem
	seq      uint32
	lastSent time.Time
}

type serverItem struct {
	id     uint32
	handle uint32
	node   NodeID
	last   *DataValue
}

// NewServer creates a server listening on addr once started.
func NewServer(addr string, handler Handler, opts ...ServerOption) (*Server, error) {
	if addr == "" {
		return nil, errors.New("opcua: address cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("opcua: handler cannot be nil")
	}

	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Server{
		addr:     addr,
		opts:     options,
		handler:  handler,
		metrics:  NewServerMetrics(),
		logger:   options.logger,
		closeCh:  make(chan struct{}),
		conns:    xsync.NewMapOf[*serverConn, struct{}](),
		sessions: xsync.NewMapOf[string, *serverSession](),
	}, nil
}

// Start starts listening and accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("opcua: server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("opcua: listen failed: %w", err)
	}

	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.logger.Info("server started", slog.String("addr", listener.Addr().String()))

	go s.acceptLoop()
	return nil
}

// Stop closes the listener, every connection and every session.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.closeCh)
	s.mu.Unlock()

	s.listener.Close()
	s.DropConnections()
	s.sessions.Clear()

	s.logger.Info("server stopped")
	return nil
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// EndpointURL returns the advertised opc.tcp URL.
func (s *Server) EndpointURL() string {
	host, port := "localhost", strconv.Itoa(DefaultPort)
	if a := s.Addr(); a != nil {
		if h, p, err := net.SplitHostPort(a.String()); err == nil {
			host, port = h, p
		}
	}
	if s.opts.advertisedHost != "" {
		host = s.opts.advertisedHost
	}
	return "opc.tcp://" + net.JoinHostPort(host, port)
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *ServerMetrics {
	return s.metrics
}

// DropConnections closes every open connection without closing sessions,
// so that clients can restore them on a new channel.
func (s *Server) DropConnections() {
	s.conns.Range(func(sc *serverConn, _ struct{}) bool {
		sc.conn.Close()
		return true
	})
}

// ExpireSessions forgets every session. Clients must create new ones.
func (s *Server) ExpireSessions() {
	s.sessions.Clear()
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	return s.sessions.Size()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
				s.logger.Error("accept failed", slog.String("error", err.Error()))
				continue
			}
		}

		if int(s.connCount.Load()) >= s.opts.maxConnections {
			s.logger.Warn("connection limit reached, rejecting connection")
			conn.Close()
			continue
		}
		s.connCount.Add(1)
		s.metrics.Connections.Inc()

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(nc net.Conn) {
	sc := &serverConn{conn: transport.NewConn(nc, DefaultMaxMessageSize, &s.metrics.io)}
	s.conns.Store(sc, struct{}{})
	defer func() {
		s.conns.Delete(sc)
		s.connCount.Add(-1)
		sc.conn.Close()
	}()

	logger := s.logger.With(slog.String("remote", nc.RemoteAddr().String()))
	logger.Debug("connection accepted")

	for {
		if s.opts.idleTimeout > 0 {
			sc.conn.SetDeadline(time.Now().Add(s.opts.idleTimeout))
		}
		msg, err := sc.conn.ReadMessage()
		if err != nil {
			if !sc.conn.Closed() {
				logger.Debug("connection closed", slog.String("error", err.Error()))
			}
			return
		}

		switch msg.Type {
		case MessageTypeHello:
			var hello HelloMessage
			if err := hello.Decode(msg.Body); err != nil {
				s.sendError(sc, StatusBadDecodingError, err.Error())
				return
			}
			ack := AcknowledgeMessage{
				ProtocolVersion:   ProtocolVersion,
				ReceiveBufferSize: DefaultReceiveBufferSize,
				SendBufferSize:    DefaultSendBufferSize,
				MaxMessageSize:    DefaultMaxMessageSize,
			}
			if err := sc.conn.WriteMessage(MessageTypeAcknowledge, ChunkFinal, ack.Encode()); err != nil {
				return
			}
		case MessageTypeOpenChannel:
			if err := s.handleOpenSecureChannel(sc, msg.Body); err != nil {
				logger.Warn("open secure channel failed", slog.String("error", err.Error()))
				s.sendError(sc, StatusBadDecodingError, err.Error())
				return
			}
		case MessageTypeCloseChannel:
			logger.Debug("secure channel closed by client")
			return
		case MessageTypeMessage:
			if err := s.handleMessage(sc, msg.Body); err != nil {
				logger.Warn("bad message", slog.String("error", err.Error()))
				s.sendError(sc, StatusBadDecodingError, err.Error())
				return
			}
		default:
			s.sendError(sc, StatusBadTcpMessageTypeInvalid, msg.Type)
			return
		}
	}
}

func (s *Server) sendError(sc *serverConn, code StatusCode, reason string) {
	em := ErrorMessage{Code: code, Reason: reason}
	sc.conn.WriteMessage(MessageTypeError, ChunkFinal, em.Encode())
}

func (s *Server) handleOpenSecureChannel(sc *serverConn, body []byte) error {
	h, payload, err := decodeSecure(MessageTypeOpenChannel, body)
	if err != nil {
		return err
	}
	if h.PolicyURI != "" && h.PolicyURI != SecurityPolicyNone {
		return fmt.Errorf("%w: %s", ErrSecurityPolicyNotSupported, h.PolicyURI)
	}
	typeID, d, err := peekBinaryID(payload)
	if err != nil {
		return err
	}
	if typeID != idOpenSecureChannelRequest {
		return fmt.Errorf("%w: type %d in OPN", ErrInvalidMessage, typeID)
	}
	var req OpenSecureChannelRequest
	if err := decodeInto(d, &req); err != nil {
		return err
	}

	if sc.channelID == 0 {
		sc.channelID = s.channelIDs.Add(1)
	}
	sc.tokenID.Store(s.tokenIDs.Add(1))

	lifetime := req.RequestedLifetime
	if lifetime == 0 {
		lifetime = uint32(time.Hour / time.Millisecond)
	}
	resp := &OpenSecureChannelResponse{
		Header:                ResponseHeader{Timestamp: time.Now(), RequestHandle: req.Header.RequestHandle},
		ServerProtocolVersion: ProtocolVersion,
		ChannelID:             sc.channelID,
		TokenID:               sc.tokenID.Load(),
		CreatedAt:             time.Now(),
		RevisedLifetime:       lifetime,
	}
	out, err := encodeMessage(resp)
	if err != nil {
		return err
	}
	rh := secureHeader{
		ChannelID: sc.channelID,
		PolicyURI: SecurityPolicyNone,
		Sequence:  sc.seq.Add(1),
		RequestID: h.RequestID,
	}
	return sc.conn.WriteMessage(MessageTypeOpenChannel, ChunkFinal, encodeSecure(MessageTypeOpenChannel, rh, out))
}

func (s *Server) handleMessage(sc *serverConn, body []byte) error {
	h, payload, err := decodeSecure(MessageTypeMessage, body)
	if err != nil {
		return err
	}
	typeID, d, err := peekBinaryID(payload)
	if err != nil {
		return err
	}
	req := newRequest(typeID)
	if req == nil {
		s.metrics.Errors.Inc()
		return s.reply(sc, h.RequestID, fault(0, StatusBadServiceUnsupported))
	}
	if err := decodeInto(d, req); err != nil {
		return err
	}

	svc := ServiceID(typeID)
	s.metrics.Requests.Inc()
	s.metrics.ForService(svc).Requests.Inc()

	if pub, ok := req.(*PublishRequest); ok {
		sess, code := s.session(pub.Header.AuthenticationToken)
		if code.IsBad() {
			return s.reply(sc, h.RequestID, fault(pub.Header.RequestHandle, code))
		}
		go s.handlePublish(sc, h.RequestID, sess, pub)
		return nil
	}

	resp := s.dispatch(sc, req)
	if f, ok := resp.(*ServiceFault); ok {
		s.metrics.Errors.Inc()
		s.metrics.ForService(svc).Errors.Inc()
		s.logger.Debug("service fault",
			slog.String("service", svc.String()),
			slog.String("status", f.Header.ServiceResult.String()))
	}
	return s.reply(sc, h.RequestID, resp)
}

func (s *Server) reply(sc *serverConn, requestID uint32, resp response) error {
	hdr := resp.header()
	if hdr.Timestamp.IsZero() {
		hdr.Timestamp = time.Now()
	}
	out, err := encodeMessage(resp)
	if err != nil {
		return err
	}
	h := secureHeader{
		ChannelID: sc.channelID,
		TokenID:   sc.tokenID.Load(),
		Sequence:  sc.seq.Add(1),
		RequestID: requestID,
	}
	return sc.conn.WriteMessage(MessageTypeMessage, ChunkFinal, encodeSecure(MessageTypeMessage, h, out))
}

func fault(handle uint32, code StatusCode) *ServiceFault {
	return &ServiceFault{Header: ResponseHeader{Timestamp: time.Now(), RequestHandle: handle, ServiceResult: code}}
}

func (s *Server) session(token NodeID) (*serverSession, StatusCode) {
	sess, ok := s.sessions.Load(token.Key())
	if !ok {
		return nil, StatusBadSessionIDInvalid
	}
	if !sess.activated.Load() {
		return nil, StatusBadSessionNotActivated
	}
	return sess, StatusOK
}

func (s *Server) dispatch(sc *serverConn, req request) response {
	handle := req.header().RequestHandle
	ok := ResponseHeader{RequestHandle: handle}

	switch r := req.(type) {
	case *GetEndpointsRequest:
		return &GetEndpointsResponse{Header: ok, Endpoints: s.endpoints()}

	case *CreateSessionRequest:
		if s.sessions.Size() >= s.opts.maxSessions {
			return fault(handle, StatusBadTooManySessions)
		}
		sess := &serverSession{
			id:    NewGUIDNodeID(1, uuid.New()),
			token: NewGUIDNodeID(0, uuid.New()),
			subs:  make(map[uint32]*serverSubscription),
		}
		s.sessions.Store(sess.token.Key(), sess)
		s.metrics.Sessions.Inc()
		nonce, _ := GenerateNonce(32)
		resp := &CreateSessionResponse{
			Header:                ok,
			SessionID:             sess.id,
			AuthenticationToken:   sess.token,
			RevisedSessionTimeout: r.RequestedSessionTimeout,
			ServerNonce:           nonce,
			ServerEndpoints:       s.endpoints(),
			MaxRequestMessageSize: DefaultMaxMessageSize,
		}
		if s.opts.identity != nil {
			resp.ServerCertificate = s.opts.identity.CertificateDER
		}
		s.logger.Debug("session created",
			slog.String("session", sess.id.String()),
			slog.String("name", r.SessionName))
		return resp

	case *ActivateSessionRequest:
		sess, found := s.sessions.Load(r.Header.AuthenticationToken.Key())
		if !found {
			return fault(handle, StatusBadSessionIDInvalid)
		}
		sess.activated.Store(true)
		nonce, _ := GenerateNonce(32)
		return &ActivateSessionResponse{Header: ok, ServerNonce: nonce}

	case *CloseSessionRequest:
		if _, found := s.sessions.LoadAndDelete(r.Header.AuthenticationToken.Key()); !found {
			return fault(handle, StatusBadSessionIDInvalid)
		}
		return &CloseSessionResponse{Header: ok}
	}

	sess, code := s.session(req.header().AuthenticationToken)
	if code.IsBad() {
		return fault(handle, code)
	}

	switch r := req.(type) {
	case *ReadRequest:
		return &ReadResponse{Header: ok, Results: s.handler.Read(r.NodesToRead)}

	case *WriteRequest:
		s.metrics.Writes.Add(int64(len(r.NodesToWrite)))
		return &WriteResponse{Header: ok, Results: s.handler.Write(r.NodesToWrite)}

	case *CreateSubscriptionRequest:
		sub := newServerSubscription(s.subIDs.Add(1), r)
		sess.mu.Lock()
		sess.subs[sub.id] = sub
		sess.mu.Unlock()
		return &CreateSubscriptionResponse{
			Header:                    ok,
			SubscriptionID:            sub.id,
			RevisedPublishingInterval: float64(sub.interval / time.Millisecond),
			RevisedLifetimeCount:      sub.lifetimeCount,
			RevisedMaxKeepAliveCount:  sub.keepAliveCount,
		}

	case *CreateMonitoredItemsRequest:
		sess.mu.Lock()
		sub, found := sess.subs[r.SubscriptionID]
		sess.mu.Unlock()
		if !found {
			return fault(handle, StatusBadSubscriptionIDInvalid)
		}
		results := make([]MonitoredItemCreateResult, len(r.ItemsToCreate))
		for i, it := range r.ItemsToCreate {
			probe := s.handler.Read([]ReadValueID{it.ItemToMonitor})
			if len(probe) == 1 && (probe[0].Status == StatusBadNodeIDUnknown || probe[0].Status == StatusBadAttributeIDInvalid) {
				results[i] = MonitoredItemCreateResult{StatusCode: probe[0].Status}
				continue
			}
			item := &serverItem{
				id:     s.itemIDs.Add(1),
				handle: it.RequestedParameters.ClientHandle,
				node:   it.ItemToMonitor.NodeID,
			}
			sub.mu.Lock()
			sub.items = append(sub.items, item)
			sub.mu.Unlock()
			results[i] = MonitoredItemCreateResult{
				MonitoredItemID:         item.id,
				RevisedSamplingInterval: float64(sub.interval / time.Millisecond),
				RevisedQueueSize:        1,
			}
		}
		return &CreateMonitoredItemsResponse{Header: ok, Results: results}

	case *DeleteSubscriptionsRequest:
		results := make([]StatusCode, len(r.SubscriptionIDs))
		sess.mu.Lock()
		for i, id := range r.SubscriptionIDs {
			if _, found := sess.subs[id]; !found {
				results[i] = StatusBadSubscriptionIDInvalid
				continue
			}
			delete(sess.subs, id)
		}
		sess.mu.Unlock()
		return &DeleteSubscriptionsResponse{Header: ok, Results: results}
	}

	return fault(handle, StatusBadServiceUnsupported)
}

func newServerSubscription(id uint32, r *CreateSubscriptionRequest) *serverSubscription {
	interval := time.Duration(r.RequestedPublishingInterval * float64(time.Millisecond))
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	keepAlive := r.RequestedMaxKeepAliveCount
	if keepAlive == 0 {
		keepAlive = 10
	}
	lifetime := r.RequestedLifetimeCount
	if lifetime < 3*keepAlive {
		lifetime = 3 * keepAlive
	}
	return &serverSubscription{
		id:             id,
		interval:       interval,
		keepAliveCount: keepAlive,
		lifetimeCount:  lifetime,
		lastSent:       time.Now(),
	}
}

// handlePublish waits until one of the session's subscriptions has changed
// values or is due for a keep-alive, then answers the request.
func (s *Server) handlePublish(sc *serverConn, requestID uint32, sess *serverSession, req *PublishRequest) {
	handle := req.Header.RequestHandle
	for {
		sess.mu.Lock()
		subs := make([]*serverSubscription, 0, len(sess.subs))
		for _, sub := range sess.subs {
			subs = append(subs, sub)
		}
		sess.mu.Unlock()

		if len(subs) == 0 {
			s.reply(sc, requestID, fault(handle, StatusBadNoSubscription))
			return
		}

		wait := subs[0].interval
		for _, sub := range subs {
			if resp := s.sample(sub); resp != nil {
				resp.Header.RequestHandle = handle
				s.reply(sc, requestID, resp)
				return
			}
			if sub.interval < wait {
				wait = sub.interval
			}
		}

		select {
		case <-s.closeCh:
			return
		case <-time.After(wait):
		}
		if sc.conn.Closed() {
			return
		}
		if cur, ok := s.sessions.Load(sess.token.Key()); !ok || cur != sess {
			s.reply(sc, requestID, fault(handle, StatusBadSessionIDInvalid))
			return
		}
	}
}

// sample returns a publish response when sub has data changes or owes a
// keep-alive, and nil otherwise.
func (s *Server) sample(sub *serverSubscription) *PublishResponse {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	now := time.Now()
	if now.Sub(sub.lastSent) < sub.interval {
		return nil
	}

	var changes []MonitoredItemNotification
	for _, it := range sub.items {
		dv := s.handler.Read([]ReadValueID{{NodeID: it.node, AttributeID: AttributeValue}})[0]
		if it.last != nil && sameValue(it.last, dv) {
			continue
		}
		it.last = dv
		changes = append(changes, MonitoredItemNotification{ClientHandle: it.handle, Value: dv})
	}

	if len(changes) > 0 {
		sub.seq++
		sub.lastSent = now
		return &PublishResponse{
			SubscriptionID: sub.id,
			Notification: NotificationMessage{
				SequenceNumber: sub.seq,
				PublishTime:    now,
				DataChanges:    changes,
			},
		}
	}
	if now.Sub(sub.lastSent) >= sub.interval*time.Duration(sub.keepAliveCount) {
		sub.lastSent = now
		return &PublishResponse{
			SubscriptionID: sub.id,
			Notification:   NotificationMessage{SequenceNumber: sub.seq + 1, PublishTime: now},
		}
	}
	return nil
}

func sameValue(a, b *DataValue) bool {
	if a.Status != b.Status {
		return false
	}
	if a.Value == nil || b.Value == nil {
		return a.Value == b.Value
	}
	return a.Value.Type == b.Value.Type && reflect.DeepEqual(a.Value.Value, b.Value.Value)
}

func (s *Server) endpoints() []EndpointDescription {
	desc := ApplicationDescription{
		ApplicationURI:  s.opts.applicationURI,
		ProductURI:      s.opts.productURI,
		ApplicationName: LocalizedText{Text: s.opts.applicationName},
		ApplicationType: ApplicationTypeServer,
		DiscoveryURLs:   []string{s.EndpointURL()},
	}
	ep := EndpointDescription{
		EndpointURL:       s.EndpointURL(),
		Server:            desc,
		SecurityMode:      MessageSecurityModeNone,
		SecurityPolicyURI: SecurityPolicyNone,
		UserIdentityTokens: []UserTokenPolicy{
			{PolicyID: "anonymous", TokenType: UserTokenTypeAnonymous},
		},
		TransportProfileURI: TransportProfileBinary,
	}
	if s.opts.identity != nil {
		ep.ServerCertificate = s.opts.identity.CertificateDER
	}
	return []EndpointDescription{ep}
}

// MemoryHandler is an in-memory address space. It always holds the server
// status nodes; variables are added with AddVariable.
type MemoryHandler struct {
	nodes *xsync.MapOf[string, *memoryNode]
	state atomic.Int32
}

type memoryNode struct {
	id       NodeID
	writable bool

	mu    sync.Mutex
	value *Variant
	ts    time.Time
}

// NewMemoryHandler returns a handler with the server status nodes.
func NewMemoryHandler() *MemoryHandler {
	h := &MemoryHandler{nodes: xsync.NewMapOf[string, *memoryNode]()}
	h.state.Store(int32(ServerStateRunning))
	return h
}

// AddVariable adds or replaces a variable node.
func (h *MemoryHandler) AddVariable(id NodeID, initial *Variant, writable bool) {
	h.nodes.Store(id.Key(), &memoryNode{id: id, writable: writable, value: initial, ts: time.Now()})
}

// SetValue changes a variable's value regardless of its access level.
func (h *MemoryHandler) SetValue(id NodeID, v *Variant) bool {
	n, ok := h.nodes.Load(id.Key())
	if !ok {
		return false
	}
	n.mu.Lock()
	n.value = v
	n.ts = time.Now()
	n.mu.Unlock()
	return true
}

// Value returns a variable's current value.
func (h *MemoryHandler) Value(id NodeID) (*Variant, bool) {
	n, ok := h.nodes.Load(id.Key())
	if !ok {
		return nil, false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.value, true
}

// SetServerState changes the value reported by Server_ServerStatus_State.
func (h *MemoryHandler) SetServerState(st ServerState) {
	h.state.Store(int32(st))
}

// Read implements Handler.
func (h *MemoryHandler) Read(nodes []ReadValueID) []*DataValue {
	now := time.Now()
	out := make([]*DataValue, len(nodes))
	for i, rv := range nodes {
		if rv.AttributeID != AttributeValue {
			out[i] = &DataValue{Status: StatusBadAttributeIDInvalid, ServerTimestamp: now}
			continue
		}
		switch {
		case rv.NodeID.Equal(NodeServerStatusCurrentTime):
			out[i] = &DataValue{Value: MustVariant(now), SourceTimestamp: now, ServerTimestamp: now}
			continue
		case rv.NodeID.Equal(NodeServerStatusState):
			out[i] = &DataValue{Value: MustVariant(h.state.Load()), SourceTimestamp: now, ServerTimestamp: now}
			continue
		}
		n, ok := h.nodes.Load(rv.NodeID.Key())
		if !ok {
			out[i] = &DataValue{Status: StatusBadNodeIDUnknown, ServerTimestamp: now}
			continue
		}
		n.mu.Lock()
		out[i] = &DataValue{Value: n.value, SourceTimestamp: n.ts, ServerTimestamp: now}
		n.mu.Unlock()
	}
	return out
}

// Write implements Handler. A value must keep the variable's type.
func (h *MemoryHandler) Write(values []WriteValue) []StatusCode {
	out := make([]StatusCode, len(values))
	for i, wv := range values {
		if wv.AttributeID != AttributeValue {
			out[i] = StatusBadAttributeIDInvalid
			continue
		}
		n, ok := h.nodes.Load(wv.NodeID.Key())
		if !ok {
			out[i] = StatusBadNodeIDUnknown
			continue
		}
		if !n.writable {
			out[i] = StatusBadNotWritable
			continue
		}
		if wv.Value == nil || wv.Value.Value == nil {
			out[i] = StatusBadTypeMismatch
			continue
		}
		n.mu.Lock()
		if n.value != nil && n.value.Type != wv.Value.Value.Type {
			out[i] = StatusBadTypeMismatch
		} else {
			n.value = wv.Value.Value
			n.ts = time.Now()
		}
		n.mu.Unlock()
	}
	return out
}
