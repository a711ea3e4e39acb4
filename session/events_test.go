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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusOrder(t *testing.T) {
	bus := NewBus(quietLogger())

	var got []string
	bus.Subscribe(func(e Event) { got = append(got, "a:"+e.String()) })
	bus.Subscribe(func(e Event) { got = append(got, "b:"+e.String()) })
	bus.Subscribe(func(e Event) { got = append(got, "c:"+e.String()) })

	bus.Publish(Connected)
	bus.Publish(Disconnected)
	assert.Equal(t, []string{
		"a:connected", "b:connected", "c:connected",
		"a:disconnected", "b:disconnected", "c:disconnected",
	}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(quietLogger())

	var a, b int
	unsubA := bus.Subscribe(func(Event) { a++ })
	bus.Subscribe(func(Event) { b++ })
	require.Equal(t, 2, bus.Len())

	bus.Publish(Connected)
	unsubA()
	unsubA()
	bus.Publish(Connected)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, 1, bus.Len())
}

func TestBusListenerPanic(t *testing.T) {
	bus := NewBus(quietLogger())

	var after int
	bus.Subscribe(func(Event) { panic("listener bug") })
	bus.Subscribe(func(Event) { after++ })

	assert.NotPanics(t, func() { bus.Publish(Connected) })
	assert.Equal(t, 1, after)
}

func TestBusUnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus(quietLogger())

	var calls int
	var unsub func()
	unsub = bus.Subscribe(func(Event) { unsub() })
	bus.Subscribe(func(Event) { calls++ })

	bus.Publish(Connected)
	bus.Publish(Connected)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, bus.Len())
}

func TestBusChan(t *testing.T) {
	bus := NewBus(quietLogger())
	ch, stop := bus.Chan(2)

	bus.Publish(Connected)
	bus.Publish(Disconnected)
	bus.Publish(Connected)

	assert.Equal(t, Connected, <-ch)
	assert.Equal(t, Disconnected, <-ch)
	assert.Equal(t, int64(1), bus.Dropped())

	stop()
	bus.Publish(Connected)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %s after stop", e)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestManagerEventsDropped(t *testing.T) {
	m, _ := newTestManager(t, testConfig(), newFakeStack())
	ch, stop := m.Bus().Chan(0)
	defer stop()

	require.NoError(t, m.Connect(context.Background()))
	assert.Empty(t, ch)
	assert.Equal(t, int64(1), m.Metrics().Collect()["events_dropped"])
}
