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


// Package panel samples an operator panel's key switches and key matrix and
// pushes every change to the PLC.
package panel

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoPanel is returned when the panel cannot be selected.
var ErrNoPanel = errors.New("panel: no panel selected")

// Panel reads the operator panel hardware.
type Panel interface {
	// Select makes the panel current. It is called before every sample.
	Select() error
	// KeySwitches returns the key switch byte.
	KeySwitches() (uint8, error)
	// Key returns the state of key n of the key matrix.
	Key(n int) (bool, error)
}

// SimPanel is an in-memory Panel.
type SimPanel struct {
	mu        sync.Mutex
	switches  uint8
	keys      map[int]bool
	selectErr error
	readErr   error
}

// NewSimPanel returns a panel with all keys released and all switches off.
func NewSimPanel() *SimPanel {
	return &SimPanel{keys: make(map[int]bool)}
}

func (p *SimPanel) Select() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selectErr
}

func (p *SimPanel) KeySwitches() (uint8, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return 0, p.readErr
	}
	return p.switches, nil
}

func (p *SimPanel) Key(n int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return false, p.readErr
	}
	if n < 0 {
		return false, fmt.Errorf("panel: key %d out of range", n)
	}
	return p.keys[n], nil
}

// SetKeySwitches sets the key switch byte.
func (p *SimPanel) SetKeySwitches(v uint8) {
	p.mu.Lock()
	p.switches = v
	p.mu.Unlock()
}

// SetKey presses or releases key n.
func (p *SimPanel) SetKey(n int, pressed bool) {
	p.mu.Lock()
	p.keys[n] = pressed
	p.mu.Unlock()
}

// ToggleKey flips key n and returns its new state.
func (p *SimPanel) ToggleKey(n int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[n] = !p.keys[n]
	return p.keys[n]
}

// ToggleSwitch flips bit of the key switch byte and returns the new byte.
func (p *SimPanel) ToggleSwitch(bit uint) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.switches ^= 1 << (bit % 8)
	return p.switches
}

// Fail makes Select fail with selectErr and reads fail with readErr.
// Nil errors restore normal operation.
func (p *SimPanel) Fail(selectErr, readErr error) {
	p.mu.Lock()
	p.selectErr, p.readErr = selectErr, readErr
	p.mu.Unlock()
}
