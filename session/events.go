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
	"log/slog"
	"sync"

	"github.com/edgeo-scada/keybridge/internal/metrics"
)

// Event is a connection signal.
type Event int

// Connection events.
const (
	Connected Event = iota + 1
	Disconnected
)

func (e Event) String() string {
	switch e {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Listener receives events one at a time, in the order the manager changed
// state. It runs on a manager goroutine and should return quickly; it may
// call back into the Manager.
type Listener func(Event)

type listenerEntry struct {
	id uint64
	fn Listener
}

// Bus delivers events to its listeners in registration order.
type Bus struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listenerEntry
	logger    *slog.Logger

	dropped metrics.Counter
}

// NewBus returns an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers fn and returns a function that removes it again.
func (b *Bus) Subscribe(fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listenerEntry{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Publish calls every listener with e. A panicking listener is logged and
// skipped.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	listeners := b.listeners
	b.mu.Unlock()

	for _, l := range listeners {
		b.invoke(l.fn, e)
	}
}

func (b *Bus) invoke(fn Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				slog.String("event", e.String()),
				slog.Any("panic", r))
		}
	}()
	fn(e)
}

// Chan returns a channel fed with events. Events that do not fit into the
// buffer of size n are dropped and counted. The channel is never closed;
// call the returned function to stop delivery.
func (b *Bus) Chan(n int) (<-chan Event, func()) {
	ch := make(chan Event, n)
	unsubscribe := b.Subscribe(func(e Event) {
		select {
		case ch <- e:
		default:
			b.dropped.Inc()
			b.logger.Warn("event dropped", slog.String("event", e.String()))
		}
	})
	return ch, unsubscribe
}

// Len returns the number of listeners.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Dropped returns how many events the channel adapters discarded.
func (b *Bus) Dropped() int64 {
	return b.dropped.Value()
}
