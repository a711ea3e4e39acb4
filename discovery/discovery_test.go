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


package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(instance string, port int, ip string, txt ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, ServiceType, Domain)
	e.HostName = instance + ".local."
	e.Port = port
	e.Text = txt
	if ip != "" {
		e.AddrIPv4 = []net.IP{net.ParseIP(ip)}
	}
	return e
}

func fakeBrowser(fn browseFunc) *Browser {
	b := NewBrowser(WithTimeout(200*time.Millisecond), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	b.browse = fn
	return b
}

func send(ctx context.Context, ch chan<- *zeroconf.ServiceEntry, e *zeroconf.ServiceEntry) {
	select {
	case ch <- e:
	case <-ctx.Done():
	}
}

func TestBrowseMergesAnswers(t *testing.T) {
	b := fakeBrowser(func(ctx context.Context, service, domain string, entries, removed chan<- *zeroconf.ServiceEntry) error {
		assert.Equal(t, ServiceType, service)
		assert.Equal(t, Domain, domain)
		send(ctx, entries, entry("plc-1", 4840, "10.0.0.5", "path=/ua", "caps=LDS,DA"))
		send(ctx, entries, entry("plc-1", 4840, "10.0.1.5"))
		send(ctx, entries, entry("plc-2", 4841, "10.0.0.6"))
		send(ctx, entries, entry("gone", 4842, "10.0.0.7"))
		send(ctx, removed, entry("gone", 4842, ""))
		<-ctx.Done()
		return ctx.Err()
	})

	servers, err := b.Browse(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 2)

	assert.Equal(t, "plc-1", servers[0].Instance)
	assert.Equal(t, []string{"10.0.0.5", "10.0.1.5"}, servers[0].Addresses)
	assert.Equal(t, "/ua", servers[0].Path)
	assert.Equal(t, []string{"LDS", "DA"}, servers[0].Caps)
	assert.Equal(t, "opc.tcp://10.0.0.5:4840/ua", servers[0].URL())
	assert.Equal(t, "plc-2", servers[1].Instance)
}

func TestDiscover(t *testing.T) {
	b := fakeBrowser(func(ctx context.Context, _, _ string, entries, _ chan<- *zeroconf.ServiceEntry) error {
		send(ctx, entries, entry("plc", 4840, "192.168.1.20"))
		<-ctx.Done()
		return ctx.Err()
	})
	url, err := b.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opc.tcp://192.168.1.20:4840", url)
}

func TestDiscoverNothing(t *testing.T) {
	b := fakeBrowser(func(ctx context.Context, _, _ string, _, _ chan<- *zeroconf.ServiceEntry) error {
		return nil
	})
	_, err := b.Discover(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBrowseError(t *testing.T) {
	boom := errors.New("no multicast interface")
	b := fakeBrowser(func(ctx context.Context, _, _ string, _, _ chan<- *zeroconf.ServiceEntry) error {
		return boom
	})
	_, err := b.Browse(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestServerURLFallsBackToHost(t *testing.T) {
	srv := Server{Host: "plc.local.", Port: 4840}
	assert.Equal(t, "opc.tcp://plc.local:4840", srv.URL())

	srv = Server{Host: "plc.local.", Port: 4840, Addresses: []string{"fe80::1"}}
	assert.Equal(t, "opc.tcp://[fe80::1]:4840", srv.URL())
}

func TestFromEntry(t *testing.T) {
	assert.Nil(t, fromEntry(nil))
	assert.Nil(t, fromEntry(entry("no-port", 0, "10.0.0.1")))

	srv := fromEntry(entry("plc", 4840, "", "path=ua"))
	require.NotNil(t, srv)
	assert.Equal(t, "/ua", srv.Path)
}

func TestTXT(t *testing.T) {
	assert.Equal(t, []string{"path=/"}, TXT("/"))
	assert.Equal(t, []string{"path=/ua", "caps=DA,LDS"}, TXT("/ua", "LDS", "DA"))
}
