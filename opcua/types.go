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

// Package opcua is a compact OPC UA binary stack: a client that speaks
// SecurityPolicy None with session-level certificate exchange, and a
// cooperative in-memory server used for tests and demonstrations.
package opcua

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NodeIDType is the identifier kind of a NodeID.
type NodeIDType uint8

// NodeID identifier kinds.
const (
	NodeIDTypeNumeric NodeIDType = iota
	NodeIDTypeString
	NodeIDTypeGUID
	NodeIDTypeOpaque
)

// NodeID addresses a node in a server's address space.
type NodeID struct {
	Type      NodeIDType
	Namespace uint16
	Numeric   uint32
	Name      string
	GUID      [16]byte
	Opaque    []byte
}

// NewNumericNodeID returns ns=<namespace>;i=<id>.
func NewNumericNodeID(namespace uint16, id uint32) NodeID {
	return NodeID{Type: NodeIDTypeNumeric, Namespace: namespace, Numeric: id}
}

// NewStringNodeID returns ns=<namespace>;s=<id>.
func NewStringNodeID(namespace uint16, id string) NodeID {
	return NodeID{Type: NodeIDTypeString, Namespace: namespace, Name: id}
}

// NewGUIDNodeID returns ns=<namespace>;g=<id>.
func NewGUIDNodeID(namespace uint16, id [16]byte) NodeID {
	return NodeID{Type: NodeIDTypeGUID, Namespace: namespace, GUID: id}
}

// IsNull reports whether n is the null NodeID (ns=0;i=0).
func (n NodeID) IsNull() bool {
	return n.Type == NodeIDTypeNumeric && n.Namespace == 0 && n.Numeric == 0
}

// Equal compares two NodeIDs by value.
func (n NodeID) Equal(o NodeID) bool {
	return n.Key() == o.Key()
}

// Key returns a canonical string usable as a map key.
func (n NodeID) Key() string {
	return n.String()
}

// String renders the NodeID in the standard ns=;x= notation.
func (n NodeID) String() string {
	var id string
	switch n.Type {
	case NodeIDTypeString:
		id = "s=" + n.Name
	case NodeIDTypeGUID:
		g := n.GUID
		id = fmt.Sprintf("g=%x-%x-%x-%x-%x", g[0:4], g[4:6], g[6:8], g[8:10], g[10:16])
	case NodeIDTypeOpaque:
		id = "b=" + hex.EncodeToString(n.Opaque)
	default:
		id = "i=" + strconv.FormatUint(uint64(n.Numeric), 10)
	}
	if n.Namespace == 0 {
		return id
	}
	return "ns=" + strconv.FormatUint(uint64(n.Namespace), 10) + ";" + id
}

// ParseNodeID parses ns=<n>;i=<id>, ns=<n>;s=<name>, ns=<n>;g=<guid> and
// ns=<n>;b=<hex>. The namespace prefix is optional.
func ParseNodeID(s string) (NodeID, error) {
	var ns uint64
	rest := s
	if strings.HasPrefix(rest, "ns=") {
		i := strings.IndexByte(rest, ';')
		if i < 0 {
			return NodeID{}, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
		}
		v, err := strconv.ParseUint(rest[3:i], 10, 16)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %q: namespace: %v", ErrInvalidNodeID, s, err)
		}
		ns = v
		rest = rest[i+1:]
	}
	if len(rest) < 2 || rest[1] != '=' {
		return NodeID{}, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
	}
	id := rest[2:]
	switch rest[0] {
	case 'i':
		v, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %q: %v", ErrInvalidNodeID, s, err)
		}
		return NewNumericNodeID(uint16(ns), uint32(v)), nil
	case 's':
		return NewStringNodeID(uint16(ns), id), nil
	case 'g':
		raw, err := hex.DecodeString(strings.ReplaceAll(id, "-", ""))
		if err != nil || len(raw) != 16 {
			return NodeID{}, fmt.Errorf("%w: %q: bad guid", ErrInvalidNodeID, s)
		}
		var g [16]byte
		copy(g[:], raw)
		return NewGUIDNodeID(uint16(ns), g), nil
	case 'b':
		raw, err := hex.DecodeString(id)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %q: %v", ErrInvalidNodeID, s, err)
		}
		return NodeID{Type: NodeIDTypeOpaque, Namespace: uint16(ns), Opaque: raw}, nil
	}
	return NodeID{}, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
}

// Well-known nodes in namespace 0.
var (
	NodeServerStatus            = NewNumericNodeID(0, 2256)
	NodeServerStatusCurrentTime = NewNumericNodeID(0, 2258)
	NodeServerStatusState       = NewNumericNodeID(0, 2259)
)

// ServerState is the value of Server_ServerStatus_State.
type ServerState int32

// Server states.
const (
	ServerStateRunning ServerState = iota
	ServerStateFailed
	ServerStateNoConfiguration
	ServerStateSuspended
	ServerStateShutdown
	ServerStateTest
	ServerStateCommunicationFault
	ServerStateUnknown
)

func (s ServerState) String() string {
	switch s {
	case ServerStateRunning:
		return "Running"
	case ServerStateFailed:
		return "Failed"
	case ServerStateNoConfiguration:
		return "NoConfiguration"
	case ServerStateSuspended:
		return "Suspended"
	case ServerStateShutdown:
		return "Shutdown"
	case ServerStateTest:
		return "Test"
	case ServerStateCommunicationFault:
		return "CommunicationFault"
	}
	return "Unknown"
}

// ServiceID is the binary encoding id of a service request. The matching
// response id is always three higher.
type ServiceID uint32

// Services spoken by the client and the server.
const (
	ServiceGetEndpoints         ServiceID = 428
	ServiceCreateSession        ServiceID = 461
	ServiceActivateSession      ServiceID = 467
	ServiceCloseSession         ServiceID = 473
	ServiceRead                 ServiceID = 631
	ServiceWrite                ServiceID = 673
	ServiceCreateMonitoredItems ServiceID = 751
	ServiceCreateSubscription   ServiceID = 787
	ServicePublish              ServiceID = 826
	ServiceDeleteSubscriptions  ServiceID = 847
)

// ResponseID returns the binary encoding id of the service's response.
func (s ServiceID) ResponseID() uint32 {
	return uint32(s) + 3
}

func (s ServiceID) String() string {
	switch s {
	case ServiceGetEndpoints:
		return "GetEndpoints"
	case ServiceCreateSession:
		return "CreateSession"
	case ServiceActivateSession:
		return "ActivateSession"
	case ServiceCloseSession:
		return "CloseSession"
	case ServiceRead:
		return "Read"
	case ServiceWrite:
		return "Write"
	case ServiceCreateMonitoredItems:
		return "CreateMonitoredItems"
	case ServiceCreateSubscription:
		return "CreateSubscription"
	case ServicePublish:
		return "Publish"
	case ServiceDeleteSubscriptions:
		return "DeleteSubscriptions"
	}
	return fmt.Sprintf("Service(%d)", uint32(s))
}

// Binary encoding ids of structures that are not service requests.
const (
	idServiceFault              uint32 = 397
	idOpenSecureChannelRequest  uint32 = 446
	idOpenSecureChannelResponse uint32 = 449
	idCloseSecureChannelRequest uint32 = 452
	idAnonymousIdentityToken    uint32 = 321
	idDataChangeNotification    uint32 = 811
)

// AttributeID selects a node attribute.
type AttributeID uint32

// Attributes used by this package.
const (
	AttributeNodeID      AttributeID = 1
	AttributeBrowseName  AttributeID = 3
	AttributeDisplayName AttributeID = 4
	AttributeValue       AttributeID = 13
	AttributeDataType    AttributeID = 14
)

// TimestampsToReturn selects which timestamps a read returns.
type TimestampsToReturn uint32

// Timestamp selections.
const (
	TimestampsToReturnSource TimestampsToReturn = iota
	TimestampsToReturnServer
	TimestampsToReturnBoth
	TimestampsToReturnNeither
)

// MonitoringMode of a monitored item.
type MonitoringMode uint32

// Monitoring modes.
const (
	MonitoringModeDisabled MonitoringMode = iota
	MonitoringModeSampling
	MonitoringModeReporting
)

// MessageSecurityMode of an endpoint.
type MessageSecurityMode uint32

// Security modes.
const (
	MessageSecurityModeInvalid MessageSecurityMode = iota
	MessageSecurityModeNone
	MessageSecurityModeSign
	MessageSecurityModeSignAndEncrypt
)

func (m MessageSecurityMode) String() string {
	switch m {
	case MessageSecurityModeNone:
		return "None"
	case MessageSecurityModeSign:
		return "Sign"
	case MessageSecurityModeSignAndEncrypt:
		return "SignAndEncrypt"
	}
	return "Invalid"
}

// ParseSecurityMode maps None, Sign and SignAndEncrypt (case-insensitive).
func ParseSecurityMode(s string) (MessageSecurityMode, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return MessageSecurityModeNone, nil
	case "sign":
		return MessageSecurityModeSign, nil
	case "signandencrypt":
		return MessageSecurityModeSignAndEncrypt, nil
	}
	return MessageSecurityModeInvalid, fmt.Errorf("opcua: unknown security mode %q", s)
}

// SecurityPolicyURIPrefix precedes every security policy short name.
const SecurityPolicyURIPrefix = "http://opcfoundation.org/UA/SecurityPolicy#"

// Security policy URIs.
const (
	SecurityPolicyNone           = SecurityPolicyURIPrefix + "None"
	SecurityPolicyBasic256Sha256 = SecurityPolicyURIPrefix + "Basic256Sha256"
)

// SecurityPolicyURI expands a short policy name such as "None" into its URI.
// Full URIs are returned unchanged.
func SecurityPolicyURI(name string) string {
	if name == "" {
		return SecurityPolicyNone
	}
	if strings.Contains(name, "://") {
		return name
	}
	return SecurityPolicyURIPrefix + name
}

// Protocol limits and defaults.
const (
	DefaultPort                     = 4840
	DefaultRequestTimeout           = 5 * time.Second
	DefaultReceiveBufferSize uint32 = 65535
	DefaultSendBufferSize    uint32 = 65535
	DefaultMaxMessageSize    uint32 = 16 * 1024 * 1024
	ProtocolVersion          uint32 = 0
)

// QualifiedName is a namespace-qualified name.
type QualifiedName struct {
	NamespaceIndex uint16
	Name           string
}

// LocalizedText is a text with an optional locale.
type LocalizedText struct {
	Locale string
	Text   string
}

// ApplicationType of an application description.
type ApplicationType uint32

// Application types.
const (
	ApplicationTypeServer ApplicationType = iota
	ApplicationTypeClient
	ApplicationTypeClientAndServer
	ApplicationTypeDiscoveryServer
)

// ApplicationDescription identifies a client or server application.
type ApplicationDescription struct {
	ApplicationURI      string
	ProductURI          string
	ApplicationName     LocalizedText
	ApplicationType     ApplicationType
	GatewayServerURI    string
	DiscoveryProfileURI string
	DiscoveryURLs       []string
}

// UserTokenType of a user token policy.
type UserTokenType uint32

// User token types.
const (
	UserTokenTypeAnonymous UserTokenType = iota
	UserTokenTypeUserName
	UserTokenTypeCertificate
	UserTokenTypeIssuedToken
)

// UserTokenPolicy is one identity token an endpoint accepts.
type UserTokenPolicy struct {
	PolicyID          string
	TokenType         UserTokenType
	IssuedTokenType   string
	IssuerEndpointURL string
	SecurityPolicyURI string
}

// EndpointDescription is one entry of a GetEndpoints response.
type EndpointDescription struct {
	EndpointURL         string
	Server              ApplicationDescription
	ServerCertificate   []byte
	SecurityMode        MessageSecurityMode
	SecurityPolicyURI   string
	UserIdentityTokens  []UserTokenPolicy
	TransportProfileURI string
	SecurityLevel       uint8
}

// AnonymousPolicyID returns the policy id of the endpoint's anonymous
// token, or "anonymous" when none is advertised.
func (e *EndpointDescription) AnonymousPolicyID() string {
	for _, t := range e.UserIdentityTokens {
		if t.TokenType == UserTokenTypeAnonymous {
			return t.PolicyID
		}
	}
	return "anonymous"
}

// TransportProfileBinary is the UA-TCP binary transport profile.
const TransportProfileBinary = "http://opcfoundation.org/UA-Profile/Transport/uatcp-uasc-uabinary"
