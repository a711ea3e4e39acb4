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
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/edgeo-scada/keybridge/opcua/internal/transport"
)

// reply is what the reader hands back to a waiting request.
type reply struct {
	payload []byte
	err     error
}

// secureChannel is one connection with its security token. Responses are
// matched to requests by request id; a dedicated goroutine reads them.
type secureChannel struct {
	conn   *transport.Conn
	logger *slog.Logger

	id      uint32
	tokenID atomic.Uint32
	seq     atomic.Uint32
	reqID   atomic.Uint32

	pending *xsync.MapOf[uint32, chan reply]

	done     chan struct{}
	failOnce sync.Once
	failErr  error
}

// dialChannel connects, exchanges HEL/ACK and starts the reader. The
// channel is not open until open is called.
func dialChannel(ctx context.Context, endpointURL, addr string, opts *clientOptions, stats *transport.Stats) (*secureChannel, error) {
	conn, err := transport.Dial(ctx, addr, opts.maxMessageSize, stats)
	if err != nil {
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	} else {
		conn.SetDeadline(time.Now().Add(opts.requestTimeout))
	}

	hello := HelloMessage{
		ProtocolVersion:   ProtocolVersion,
		ReceiveBufferSize: DefaultReceiveBufferSize,
		SendBufferSize:    DefaultSendBufferSize,
		MaxMessageSize:    opts.maxMessageSize,
		EndpointURL:       endpointURL,
	}
	if err := conn.WriteMessage(MessageTypeHello, ChunkFinal, hello.Encode()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("opcua: send hello: %w", err)
	}
	msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opcua: read acknowledge: %w", err)
	}
	switch msg.Type {
	case MessageTypeAcknowledge:
		var ack AcknowledgeMessage
		if err := ack.Decode(msg.Body); err != nil {
			conn.Close()
			return nil, err
		}
	case MessageTypeError:
		var em ErrorMessage
		conn.Close()
		if err := em.Decode(msg.Body); err != nil {
			return nil, err
		}
		return nil, &em
	default:
		conn.Close()
		return nil, fmt.Errorf("%w: expected ACK, got %s", ErrInvalidResponse, msg.Type)
	}
	conn.SetDeadline(time.Time{})

	ch := &secureChannel{
		conn:    conn,
		logger:  opts.logger,
		pending: xsync.NewMapOf[uint32, chan reply](),
		done:    make(chan struct{}),
	}
	go ch.readLoop()
	return ch, nil
}

// open issues or renews the security token. Only SecurityPolicy None is spoken.
func (ch *secureChannel) open(ctx context.Context, requestType uint32, lifetime time.Duration) (*OpenSecureChannelResponse, error) {
	req := &OpenSecureChannelRequest{
		Header: RequestHeader{
			Timestamp:   time.Now(),
			TimeoutHint: uint32(lifetime / time.Millisecond),
		},
		ClientProtocolVersion: ProtocolVersion,
		RequestType:           requestType,
		SecurityMode:          MessageSecurityModeNone,
		RequestedLifetime:     uint32(lifetime / time.Millisecond),
	}
	resp := &OpenSecureChannelResponse{}
	if err := ch.call(ctx, MessageTypeOpenChannel, req, resp); err != nil {
		return nil, err
	}
	if ch.id == 0 {
		ch.id = resp.ChannelID
	}
	ch.tokenID.Store(resp.TokenID)
	return resp, nil
}

// call sends req and decodes the answer into resp. A ServiceFault or a bad
// service result is returned as *OPCUAError.
func (ch *secureChannel) call(ctx context.Context, msgType string, req request, resp response) error {
	payload, err := encodeMessage(req)
	if err != nil {
		return err
	}

	id := ch.reqID.Add(1)
	wait := make(chan reply, 1)
	ch.pending.Store(id, wait)
	defer ch.pending.Delete(id)

	h := secureHeader{
		ChannelID: ch.id,
		TokenID:   ch.tokenID.Load(),
		PolicyURI: SecurityPolicyNone,
		Sequence:  ch.seq.Add(1),
		RequestID: id,
	}
	if err := ch.conn.WriteMessage(msgType, ChunkFinal, encodeSecure(msgType, h, payload)); err != nil {
		ch.fail(err)
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	var r reply
	select {
	case r = <-wait:
	case <-ch.done:
		return ch.closedErr()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrTimeout, serviceName(req))
		}
		return ctx.Err()
	}
	if r.err != nil {
		return r.err
	}

	typeID, d, err := peekBinaryID(r.payload)
	if err != nil {
		return err
	}
	svc := ServiceID(req.binaryID())
	if typeID == idServiceFault {
		var fault ServiceFault
		if err := decodeInto(d, &fault); err != nil {
			return err
		}
		return newServiceError(svc, fault.Header.ServiceResult)
	}
	if typeID != resp.binaryID() {
		return fmt.Errorf("%w: %s answered with type %d", ErrInvalidResponse, serviceName(req), typeID)
	}
	if err := decodeInto(d, resp); err != nil {
		return err
	}
	if sc := resp.header().ServiceResult; sc.IsBad() {
		return newServiceError(svc, sc)
	}
	return nil
}

// post sends a message that has no response.
func (ch *secureChannel) post(msgType string, req request) error {
	payload, err := encodeMessage(req)
	if err != nil {
		return err
	}
	h := secureHeader{
		ChannelID: ch.id,
		TokenID:   ch.tokenID.Load(),
		Sequence:  ch.seq.Add(1),
		RequestID: ch.reqID.Add(1),
	}
	return ch.conn.WriteMessage(msgType, ChunkFinal, encodeSecure(msgType, h, payload))
}

func (ch *secureChannel) readLoop() {
	for {
		msg, err := ch.conn.ReadMessage()
		if err != nil {
			ch.fail(err)
			return
		}
		switch msg.Type {
		case MessageTypeMessage, MessageTypeOpenChannel:
			h, payload, err := decodeSecure(msg.Type, msg.Body)
			if err != nil {
				ch.fail(err)
				return
			}
			wait, ok := ch.pending.LoadAndDelete(h.RequestID)
			if !ok {
				ch.logger.Debug("dropping response for unknown request", slog.Uint64("request_id", uint64(h.RequestID)))
				continue
			}
			r := reply{payload: payload}
			if msg.Chunk != ChunkFinal {
				r = reply{err: fmt.Errorf("%w: chunked response (%c)", ErrInvalidMessage, msg.Chunk)}
			}
			wait <- r
		case MessageTypeError:
			em := &ErrorMessage{}
			if err := em.Decode(msg.Body); err != nil {
				ch.fail(err)
			} else {
				ch.fail(em)
			}
			return
		case MessageTypeCloseChannel:
			ch.fail(ErrConnectionClosed)
			return
		default:
			ch.logger.Debug("ignoring message", slog.String("type", msg.Type))
		}
	}
}

// fail closes the connection once and releases every waiting request.
func (ch *secureChannel) fail(err error) {
	ch.failOnce.Do(func() {
		ch.failErr = err
		ch.conn.Close()
		close(ch.done)
		ch.pending.Range(func(id uint32, wait chan reply) bool {
			select {
			case wait <- reply{err: ch.closedErr()}:
			default:
			}
			return true
		})
		ch.pending.Clear()
	})
}

func (ch *secureChannel) closedErr() error {
	var em *ErrorMessage
	if errors.As(ch.failErr, &em) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, em)
	}
	return ErrConnectionClosed
}

// close sends CLO and tears the connection down.
func (ch *secureChannel) close() {
	select {
	case <-ch.done:
		return
	default:
	}
	ch.post(MessageTypeCloseChannel, &CloseSecureChannelRequest{Header: RequestHeader{Timestamp: time.Now()}})
	ch.fail(ErrConnectionClosed)
}

// isDone reports whether the channel has failed or been closed.
func (ch *secureChannel) isDone() bool {
	select {
	case <-ch.done:
		return true
	default:
		return false
	}
}

func serviceName(m message) string {
	switch m.binaryID() {
	case idOpenSecureChannelRequest:
		return "OpenSecureChannel"
	case idCloseSecureChannelRequest:
		return "CloseSecureChannel"
	}
	return ServiceID(m.binaryID()).String()
}
