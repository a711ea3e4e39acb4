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
)

// StatusCode is an OPC UA status code. The top two bits carry the severity.
type StatusCode uint32

const statusSeverityMask uint32 = 0xC0000000

// Status codes produced or interpreted by this package.
const (
	StatusOK                          StatusCode = 0x00000000
	StatusUncertain                   StatusCode = 0x40000000
	StatusBad                         StatusCode = 0x80000000
	StatusBadUnexpectedError          StatusCode = 0x80010000
	StatusBadInternalError            StatusCode = 0x80020000
	StatusBadCommunicationError       StatusCode = 0x80050000
	StatusBadDecodingError            StatusCode = 0x80070000
	StatusBadTimeout                  StatusCode = 0x800A0000
	StatusBadServiceUnsupported       StatusCode = 0x800B0000
	StatusBadShutdown                 StatusCode = 0x800C0000
	StatusBadServerNotConnected       StatusCode = 0x800D0000
	StatusBadNothingToDo              StatusCode = 0x800F0000
	StatusBadCertificateInvalid       StatusCode = 0x80120000
	StatusBadCertificateUntrusted     StatusCode = 0x801A0000
	StatusBadUserAccessDenied         StatusCode = 0x801F0000
	StatusBadIdentityTokenInvalid     StatusCode = 0x80200000
	StatusBadSecureChannelIDInvalid   StatusCode = 0x80220000
	StatusBadSessionIDInvalid         StatusCode = 0x80250000
	StatusBadSessionClosed            StatusCode = 0x80260000
	StatusBadSessionNotActivated      StatusCode = 0x80270000
	StatusBadSubscriptionIDInvalid    StatusCode = 0x80280000
	StatusBadNoSubscription           StatusCode = 0x80790000
	StatusBadNodeIDInvalid            StatusCode = 0x80330000
	StatusBadNodeIDUnknown            StatusCode = 0x80340000
	StatusBadAttributeIDInvalid       StatusCode = 0x80350000
	StatusBadNotReadable              StatusCode = 0x803A0000
	StatusBadNotWritable              StatusCode = 0x803B0000
	StatusBadOutOfRange               StatusCode = 0x803C0000
	StatusBadNotSupported             StatusCode = 0x803D0000
	StatusBadTypeMismatch             StatusCode = 0x80740000
	StatusBadSecurityModeRejected     StatusCode = 0x80540000
	StatusBadSecurityPolicyRejected   StatusCode = 0x80550000
	StatusBadTooManySessions          StatusCode = 0x80560000
	StatusBadTcpMessageTypeInvalid    StatusCode = 0x807E0000
	StatusBadTcpEndpointURLInvalid    StatusCode = 0x80830000
	StatusBadConnectionClosed         StatusCode = 0x80AE0000
	StatusBadNotConnected             StatusCode = 0x808A0000
	StatusBadDeviceFailure            StatusCode = 0x808B0000
	StatusBadSecureChannelClosed      StatusCode = 0x80860000
	StatusBadTooManyPublishRequests   StatusCode = 0x80780000
	StatusBadWaitingForInitialData    StatusCode = 0x80320000
	StatusGoodSubscriptionTransferred StatusCode = 0x002D0000
)

var statusNames = map[StatusCode]string{
	StatusOK:                          "Good",
	StatusUncertain:                   "Uncertain",
	StatusBad:                         "Bad",
	StatusBadUnexpectedError:          "BadUnexpectedError",
	StatusBadInternalError:            "BadInternalError",
	StatusBadCommunicationError:       "BadCommunicationError",
	StatusBadDecodingError:            "BadDecodingError",
	StatusBadTimeout:                  "BadTimeout",
	StatusBadServiceUnsupported:       "BadServiceUnsupported",
	StatusBadShutdown:                 "BadShutdown",
	StatusBadServerNotConnected:       "BadServerNotConnected",
	StatusBadNothingToDo:              "BadNothingToDo",
	StatusBadCertificateInvalid:       "BadCertificateInvalid",
	StatusBadCertificateUntrusted:     "BadCertificateUntrusted",
	StatusBadUserAccessDenied:         "BadUserAccessDenied",
	StatusBadIdentityTokenInvalid:     "BadIdentityTokenInvalid",
	StatusBadSecureChannelIDInvalid:   "BadSecureChannelIdInvalid",
	StatusBadSessionIDInvalid:         "BadSessionIdInvalid",
	StatusBadSessionClosed:            "BadSessionClosed",
	StatusBadSessionNotActivated:      "BadSessionNotActivated",
	StatusBadSubscriptionIDInvalid:    "BadSubscriptionIdInvalid",
	StatusBadNoSubscription:           "BadNoSubscription",
	StatusBadNodeIDInvalid:            "BadNodeIdInvalid",
	StatusBadNodeIDUnknown:            "BadNodeIdUnknown",
	StatusBadAttributeIDInvalid:       "BadAttributeIdInvalid",
	StatusBadNotReadable:              "BadNotReadable",
	StatusBadNotWritable:              "BadNotWritable",
	StatusBadOutOfRange:               "BadOutOfRange",
	StatusBadNotSupported:             "BadNotSupported",
	StatusBadTypeMismatch:             "BadTypeMismatch",
	StatusBadSecurityModeRejected:     "BadSecurityModeRejected",
	StatusBadSecurityPolicyRejected:   "BadSecurityPolicyRejected",
	StatusBadTooManySessions:          "BadTooManySessions",
	StatusBadTcpMessageTypeInvalid:    "BadTcpMessageTypeInvalid",
	StatusBadTcpEndpointURLInvalid:    "BadTcpEndpointUrlInvalid",
	StatusBadConnectionClosed:         "BadConnectionClosed",
	StatusBadNotConnected:             "BadNotConnected",
	StatusBadDeviceFailure:            "BadDeviceFailure",
	StatusBadSecureChannelClosed:      "BadSecureChannelClosed",
	StatusBadTooManyPublishRequests:   "BadTooManyPublishRequests",
	StatusBadWaitingForInitialData:    "BadWaitingForInitialData",
	StatusGoodSubscriptionTransferred: "GoodSubscriptionTransferred",
}

// String returns the symbolic name of the status code, or its hex form.
func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StatusCode(0x%08X)", uint32(s))
}

// Error implements the error interface.
func (s StatusCode) Error() string {
	return fmt.Sprintf("%s (0x%08X)", s.String(), uint32(s))
}

// IsGood reports whether the severity is good.
func (s StatusCode) IsGood() bool {
	return uint32(s)&statusSeverityMask == 0
}

// IsUncertain reports whether the severity is uncertain.
func (s StatusCode) IsUncertain() bool {
	return uint32(s)&statusSeverityMask == 0x40000000
}

// IsBad reports whether the severity is bad.
func (s StatusCode) IsBad() bool {
	return uint32(s)&0x80000000 != 0
}

// OPCUAError is a service-level failure reported by the peer.
type OPCUAError struct {
	Service    ServiceID
	StatusCode StatusCode
	Message    string
}

func (e *OPCUAError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("opcua: %s: %s: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("opcua: %s: %s", e.Service, e.StatusCode)
}

// Is matches another *OPCUAError or a bare StatusCode with the same code.
func (e *OPCUAError) Is(target error) bool {
	switch t := target.(type) {
	case *OPCUAError:
		return e.StatusCode == t.StatusCode
	case StatusCode:
		return e.StatusCode == t
	}
	return false
}

func newServiceError(svc ServiceID, sc StatusCode) *OPCUAError {
	return &OPCUAError{Service: svc, StatusCode: sc}
}

var (
	// ErrInvalidMessage is returned for malformed or truncated messages.
	ErrInvalidMessage = errors.New("opcua: invalid message")

	// ErrInvalidResponse is returned when the peer answers with an unexpected type.
	ErrInvalidResponse = errors.New("opcua: invalid response")

	// ErrTimeout is returned when a request does not complete in time.
	ErrTimeout = errors.New("opcua: timeout")

	// ErrNotConnected is returned when the client has no usable transport.
	ErrNotConnected = errors.New("opcua: not connected")

	// ErrConnectionClosed is returned to pending requests when the transport drops.
	ErrConnectionClosed = errors.New("opcua: connection closed")

	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("opcua: client closed")

	// ErrInvalidNodeID is returned by ParseNodeID.
	ErrInvalidNodeID = errors.New("opcua: invalid node ID")

	// ErrInvalidEndpoint is returned for a URL that is not opc.tcp://host:port.
	ErrInvalidEndpoint = errors.New("opcua: invalid endpoint")

	// ErrSecurityPolicyNotSupported is returned when the peer requires a policy other than None.
	ErrSecurityPolicyNotSupported = errors.New("opcua: security policy not supported")

	// ErrCertificateUntrusted is returned when a peer certificate fails validation.
	ErrCertificateUntrusted = errors.New("opcua: certificate untrusted")

	// ErrSubscriptionNotFound is returned for an unknown subscription ID.
	ErrSubscriptionNotFound = errors.New("opcua: subscription not found")
)

// StatusOf extracts the status code carried by err, or StatusBad when there is none.
func StatusOf(err error) StatusCode {
	if err == nil {
		return StatusOK
	}
	var oe *OPCUAError
	if errors.As(err, &oe) {
		return oe.StatusCode
	}
	var sc StatusCode
	if errors.As(err, &sc) {
		return sc
	}
	switch {
	case errors.Is(err, ErrTimeout):
		return StatusBadTimeout
	case errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrNotConnected):
		return StatusBadNotConnected
	}
	return StatusBad
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, StatusBadTimeout)
}

// IsSessionInvalid reports whether the server no longer knows the session.
func IsSessionInvalid(err error) bool {
	return errors.Is(err, StatusBadSessionIDInvalid) ||
		errors.Is(err, StatusBadSessionClosed) ||
		errors.Is(err, StatusBadSessionNotActivated)
}
