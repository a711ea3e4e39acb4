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


package panel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgeo-scada/keybridge/internal/metrics"
	"github.com/edgeo-scada/keybridge/session"
)

// SwitchSentinel is the remembered key switch byte after a (re)connect. It
// forces the next sample to push the switches.
const SwitchSentinel uint8 = 255

// DefaultInterval is the sampling period.
const DefaultInterval = 100 * time.Millisecond

// Writer pushes one value to the PLC. *session.Manager implements it.
type Writer interface {
	Write(ctx context.Context, ref session.VariableRef, value interface{}) error
}

// Variables are the PLC variables the sampler writes.
type Variables struct {
	KeySwitch session.VariableRef
	Keys      []session.VariableRef
}

// Stats counts sampler activity.
type Stats struct {
	Samples     metrics.Counter
	Resyncs     metrics.Counter
	Writes      metrics.Counter
	WriteErrors metrics.Counter
	PanelErrors metrics.Counter
}

// Collect returns the counters by name.
func (s *Stats) Collect() map[string]int64 {
	return map[string]int64{
		"samples":      s.Samples.Value(),
		"resyncs":      s.Resyncs.Value(),
		"writes":       s.Writes.Value(),
		"write_errors": s.WriteErrors.Value(),
		"panel_errors": s.PanelErrors.Value(),
	}
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithInterval sets the sampling period.
func WithInterval(d time.Duration) SamplerOption {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithWriteTimeout bounds each write.
func WithWriteTimeout(d time.Duration) SamplerOption {
	return func(s *Sampler) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SamplerOption {
	return func(s *Sampler) { s.logger = logger }
}

// Sampler polls a Panel and writes the values that changed. The remembered
// state is owned by the Run goroutine.
type Sampler struct {
	panel        Panel
	w            Writer
	vars         Variables
	interval     time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
	stats        Stats

	lastSwitches uint8
	lastKeys     []bool
}

// NewSampler returns a sampler for p writing through w.
func NewSampler(p Panel, w Writer, vars Variables, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		panel:        p,
		w:            w,
		vars:         vars,
		interval:     DefaultInterval,
		writeTimeout: 5 * time.Second,
		logger:       slog.Default(),
		lastSwitches: SwitchSentinel,
		lastKeys:     make([]bool, len(vars.Keys)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the sampler counters.
func (s *Sampler) Stats() *Stats { return &s.stats }

// Run samples every interval until ctx ends. Each Connected event received
// from events triggers a full resync.
func (s *Sampler) Run(ctx context.Context, events <-chan session.Event) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if e == session.Connected {
				s.Resync(ctx)
			}
		case <-ticker.C:
			s.Sample(ctx)
		}
	}
}

// Sample reads the panel once and writes the changes.
func (s *Sampler) Sample(ctx context.Context) {
	s.stats.Samples.Inc()
	if err := s.panel.Select(); err != nil {
		s.panelError("select panel", err)
		return
	}
	s.sampleSwitches(ctx)
	s.sampleKeys(ctx)
}

// Resync forgets the remembered state and pushes the key switches and
// every key.
func (s *Sampler) Resync(ctx context.Context) {
	s.stats.Resyncs.Inc()
	s.logger.Debug("resynchronising panel state")
	s.lastSwitches = SwitchSentinel
	if err := s.panel.Select(); err != nil {
		s.panelError("select panel", err)
		return
	}
	s.sampleSwitches(ctx)

	for i, ref := range s.vars.Keys {
		v, err := s.panel.Key(ref.KeyIndex)
		if err != nil {
			s.panelError("read key", err)
			continue
		}
		s.lastKeys[i] = v
		s.write(ctx, ref, v)
	}
}

func (s *Sampler) sampleSwitches(ctx context.Context) {
	v, err := s.panel.KeySwitches()
	if err != nil {
		s.panelError("read key switches", err)
		return
	}
	if v != s.lastSwitches {
		s.logger.Debug("key switches", slog.String("value", fmt.Sprintf("%02Xh", v)))
		s.write(ctx, s.vars.KeySwitch, uint16(v))
	}
	s.lastSwitches = v
}

func (s *Sampler) sampleKeys(ctx context.Context) {
	for i, ref := range s.vars.Keys {
		v, err := s.panel.Key(ref.KeyIndex)
		if err != nil {
			s.panelError("read key", err)
			continue
		}
		if v != s.lastKeys[i] {
			s.logger.Debug("key", slog.Int("key", ref.KeyIndex), slog.Bool("pressed", v))
			s.write(ctx, ref, v)
			s.lastKeys[i] = v
		}
	}
}

func (s *Sampler) write(ctx context.Context, ref session.VariableRef, v interface{}) {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	s.stats.Writes.Inc()
	if err := s.w.Write(ctx, ref, v); err != nil {
		s.stats.WriteErrors.Inc()
		s.logger.Error("write failed", slog.String("variable", ref.String()), slog.Any("error", err))
	}
}

func (s *Sampler) panelError(op string, err error) {
	s.stats.PanelErrors.Inc()
	s.logger.Error("panel "+op+" failed", slog.Any("error", err))
}
