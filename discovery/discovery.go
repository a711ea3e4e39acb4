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


// Package discovery finds and advertises OPC UA servers with multicast DNS
// (OPC UA Part 12 service type _opcua-tcp._tcp).
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

const (
	// ServiceType is the OPC UA TCP service type.
	ServiceType = "_opcua-tcp._tcp"
	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultBrowseTimeout bounds a browse.
	DefaultBrowseTimeout = 3 * time.Second
)

// ErrNotFound is returned when no server answered.
var ErrNotFound = errors.New("discovery: no OPC UA server found")

// Server is one advertised OPC UA server.
type Server struct {
	Instance  string
	Host      string
	Port      int
	Addresses []string
	// Path is the endpoint path from the "path" TXT record.
	Path string
	// Caps are the server capabilities from the "caps" TXT record.
	Caps []string
}

// URL returns opc.tcp://<addr>:<port><path>, preferring the first
// resolved address over the host name.
func (s Server) URL() string {
	host := strings.TrimSuffix(s.Host, ".")
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return "opc.tcp://" + net.JoinHostPort(host, strconv.Itoa(s.Port)) + s.Path
}

type browseFunc func(ctx context.Context, service, domain string, entries, removed chan<- *zeroconf.ServiceEntry) error

// Browser browses for OPC UA servers.
type Browser struct {
	timeout time.Duration
	ifaces  []net.Interface
	logger  *slog.Logger
	browse  browseFunc
}

// BrowserOption configures a Browser.
type BrowserOption func(*Browser)

// WithTimeout sets how long a browse collects answers.
func WithTimeout(d time.Duration) BrowserOption {
	return func(b *Browser) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithInterface restricts browsing to one network interface.
func WithInterface(name string) BrowserOption {
	return func(b *Browser) {
		if iface, err := net.InterfaceByName(name); err == nil {
			b.ifaces = []net.Interface{*iface}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BrowserOption {
	return func(b *Browser) { b.logger = logger }
}

// NewBrowser returns a browser.
func NewBrowser(opts ...BrowserOption) *Browser {
	b := &Browser{
		timeout: DefaultBrowseTimeout,
		logger:  slog.Default(),
	}
	b.browse = b.zeroconfBrowse
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Browser) zeroconfBrowse(ctx context.Context, service, domain string, entries, removed chan<- *zeroconf.ServiceEntry) error {
	var opts []zeroconf.ClientOption
	if len(b.ifaces) > 0 {
		opts = append(opts, zeroconf.SelectIfaces(b.ifaces))
	}
	return zeroconf.Browse(ctx, service, domain, entries, removed, opts...)
}

// Browse collects servers until the browse timeout or ctx ends. Answers
// for the same instance are merged.
func (b *Browser) Browse(ctx context.Context) ([]Server, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	errc := make(chan error, 1)
	go func() { errc <- b.browse(ctx, ServiceType, Domain, entries, removed) }()

	found := make(map[string]*Server)
	var (
		order     []string
		browseErr error
	)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case browseErr = <-errc:
			break loop
		case e, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			srv := fromEntry(e)
			if srv == nil {
				continue
			}
			if cur, ok := found[srv.Instance]; ok {
				cur.Addresses = merge(cur.Addresses, srv.Addresses)
				continue
			}
			b.logger.Debug("server found", slog.String("instance", srv.Instance), slog.String("url", srv.URL()))
			found[srv.Instance] = srv
			order = append(order, srv.Instance)
		case e, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			if e != nil {
				delete(found, e.Instance)
			}
		}
	}

	if browseErr != nil && !errors.Is(browseErr, context.DeadlineExceeded) && !errors.Is(browseErr, context.Canceled) {
		return nil, fmt.Errorf("discovery: browse: %w", browseErr)
	}

	out := make([]Server, 0, len(found))
	for _, name := range order {
		if srv, ok := found[name]; ok {
			out = append(out, *srv)
		}
	}
	return out, nil
}

// Discover returns the URL of the first server found. It implements
// session.Discoverer.
func (b *Browser) Discover(ctx context.Context) (string, error) {
	servers, err := b.Browse(ctx)
	if err != nil {
		return "", err
	}
	if len(servers) == 0 {
		return "", ErrNotFound
	}
	return servers[0].URL(), nil
}

func fromEntry(e *zeroconf.ServiceEntry) *Server {
	if e == nil || e.Port <= 0 {
		return nil
	}
	srv := &Server{
		Instance: e.Instance,
		Host:     e.HostName,
		Port:     e.Port,
	}
	for _, ip := range e.AddrIPv4 {
		srv.Addresses = append(srv.Addresses, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		srv.Addresses = append(srv.Addresses, ip.String())
	}
	for _, kv := range e.Text {
		k, v, _ := strings.Cut(kv, "=")
		switch strings.ToLower(k) {
		case "path":
			if v != "" && !strings.HasPrefix(v, "/") {
				v = "/" + v
			}
			srv.Path = v
		case "caps":
			for _, c := range strings.Split(v, ",") {
				if c = strings.TrimSpace(c); c != "" {
					srv.Caps = append(srv.Caps, c)
				}
			}
		}
	}
	return srv
}

func merge(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			a = append(a, s)
			seen[s] = struct{}{}
		}
	}
	return a
}

// Advertiser registers OPC UA servers on the local network.
type Advertiser struct {
	mu      sync.Mutex
	servers map[string]*zeroconf.Server
	logger  *slog.Logger
}

// NewAdvertiser returns an advertiser.
func NewAdvertiser(logger *slog.Logger) *Advertiser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{servers: make(map[string]*zeroconf.Server), logger: logger}
}

// TXT builds the Part 12 TXT records for path and caps.
func TXT(path string, caps ...string) []string {
	txt := []string{"path=" + path}
	if len(caps) > 0 {
		sorted := append([]string(nil), caps...)
		sort.Strings(sorted)
		txt = append(txt, "caps="+strings.Join(sorted, ","))
	}
	return txt
}

// Advertise registers instance on port. A previous registration of the
// same instance is replaced.
func (a *Advertiser) Advertise(instance string, port int, path string, caps ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if old, ok := a.servers[instance]; ok {
		old.Shutdown()
		delete(a.servers, instance)
	}
	srv, err := zeroconf.Register(instance, ServiceType, Domain, port, TXT(path, caps...), nil)
	if err != nil {
		return fmt.Errorf("discovery: register %s: %w", instance, err)
	}
	a.servers[instance] = srv
	a.logger.Info("advertising server", slog.String("instance", instance), slog.Int("port", port))
	return nil
}

// Shutdown withdraws every registration.
func (a *Advertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for name, srv := range a.servers {
		srv.Shutdown()
		delete(a.servers, name)
	}
}
