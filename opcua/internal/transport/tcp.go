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

// Package transport frames OPC UA TCP messages over a net.Conn.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// HeaderSize is the size of the UA-TCP message header.
const HeaderSize = 8

// ErrMessageTooLarge is returned when a peer announces a message above the limit.
var ErrMessageTooLarge = errors.New("transport: message too large")

// Message is one framed UA-TCP message. Body excludes the 8 byte header.
type Message struct {
	Type  string
	Chunk byte
	Body  []byte
}

// Stats accumulates traffic across connections. It is owned by the caller
// so that counters survive reconnects.
type Stats struct {
	BytesIn  atomic.Int64
	BytesOut atomic.Int64
}

// Conn is a framed connection. Reads must come from a single goroutine;
// writes are serialized internally.
type Conn struct {
	conn    net.Conn
	maxSize uint32
	stats   *Stats

	wmu    sync.Mutex
	closed atomic.Bool
}

// Dial opens a TCP connection with keep-alive and no-delay enabled.
func Dial(ctx context.Context, addr string, maxSize uint32, stats *Stats) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tcp, ok := c.(*net.TCPConn); ok {
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(30 * time.Second)
		tcp.SetNoDelay(true)
	}
	return NewConn(c, maxSize, stats), nil
}

// NewConn wraps an accepted or dialed connection.
func NewConn(c net.Conn, maxSize uint32, stats *Stats) *Conn {
	if stats == nil {
		stats = &Stats{}
	}
	return &Conn{conn: c, maxSize: maxSize, stats: stats}
}

// ReadMessage blocks until a full message has arrived.
func (c *Conn) ReadMessage() (Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		return Message{}, err
	}
	size := binary.LittleEndian.Uint32(hdr[4:8])
	if size < HeaderSize {
		return Message{}, fmt.Errorf("transport: invalid message size %d", size)
	}
	if c.maxSize > 0 && size > c.maxSize {
		return Message{}, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, size, c.maxSize)
	}
	body := make([]byte, size-HeaderSize)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return Message{}, err
	}
	c.stats.BytesIn.Add(int64(size))
	return Message{Type: string(hdr[0:3]), Chunk: hdr[3], Body: body}, nil
}

// WriteMessage frames body with a header and writes it in one call.
func (c *Conn) WriteMessage(msgType string, chunk byte, body []byte) error {
	if len(msgType) != 3 {
		return fmt.Errorf("transport: bad message type %q", msgType)
	}
	size := HeaderSize + len(body)
	buf := make([]byte, size)
	copy(buf[0:3], msgType)
	buf[3] = chunk
	binary.LittleEndian.PutUint32(buf[4:8], uint32(size))
	copy(buf[HeaderSize:], body)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.conn.Write(buf); err != nil {
		return err
	}
	c.stats.BytesOut.Add(int64(size))
	return nil
}

// SetDeadline applies to both directions.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
