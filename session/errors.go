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
	"errors"
	"fmt"

	"github.com/edgeo-scada/keybridge/opcua"
)

var (
	// ErrResolution is matched by every *ResolutionError.
	ErrResolution = errors.New("session: endpoint resolution failed")

	// ErrSessionCreationFailed is returned by Connect when the stack could
	// not establish a session in time.
	ErrSessionCreationFailed = errors.New("session: session creation failed")

	// ErrNoSession is returned by Write and Read when no session is current.
	ErrNoSession = errors.New("session: no active session")

	// ErrRecovering is returned by Write and Read while a reconnect is in
	// flight. It matches ErrNoSession.
	ErrRecovering = fmt.Errorf("%w: recovery in progress", ErrNoSession)

	// ErrInvalidTransition is returned for state changes outside the table.
	ErrInvalidTransition = errors.New("session: invalid state transition")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: manager closed")
)

// ResolutionError reports that no usable endpoint could be selected.
type ResolutionError struct {
	URL string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("session: resolve %s: %v", e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrResolution) hold.
func (e *ResolutionError) Is(target error) bool {
	return target == ErrResolution
}

// WriteRejected is returned when the server answered a write with a
// non-good status.
type WriteRejected struct {
	Ref    VariableRef
	Status opcua.StatusCode
}

func (e *WriteRejected) Error() string {
	return fmt.Sprintf("session: write %s rejected: %s", e.Ref, e.Status)
}

// Unwrap exposes the status code so errors.Is(err, opcua.StatusBadNotWritable)
// works.
func (e *WriteRejected) Unwrap() error { return e.Status }
