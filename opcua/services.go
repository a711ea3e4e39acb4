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
	"fmt"
	"time"
)

// message is a structure that travels as the payload of a secure message:
// its binary encoding id followed by its fields.
type message interface {
	binaryID() uint32
	encode(e *Encoder)
	decode(d *Decoder)
}

// request is a message carrying a RequestHeader.
type request interface {
	message
	header() *RequestHeader
}

// response is a message carrying a ResponseHeader.
type response interface {
	message
	header() *ResponseHeader
}

// encodeMessage writes the binary id and body of m.
func encodeMessage(m message) ([]byte, error) {
	e := NewEncoder()
	e.WriteNodeID(NewNumericNodeID(0, m.binaryID()))
	m.encode(e)
	if err := e.Err(); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// peekBinaryID returns the encoding id at the front of a payload and a
// decoder positioned after it.
func peekBinaryID(payload []byte) (uint32, *Decoder, error) {
	d := NewDecoder(payload)
	id := d.ReadNodeID()
	if err := d.Err(); err != nil {
		return 0, nil, err
	}
	if id.Type != NodeIDTypeNumeric || id.Namespace != 0 {
		return 0, nil, fmt.Errorf("%w: type id %s", ErrInvalidMessage, id)
	}
	return id.Numeric, d, nil
}

// decodeInto decodes the body remaining in d into m.
func decodeInto(d *Decoder, m message) error {
	m.decode(d)
	return d.Err()
}

// RequestHeader precedes every service request.
type RequestHeader struct {
	AuthenticationToken NodeID
	Timestamp           time.Time
	RequestHandle       uint32
	ReturnDiagnostics   uint32
	AuditEntryID        string
	TimeoutHint         uint32
}

func (h *RequestHeader) encode(e *Encoder) {
	e.WriteNodeID(h.AuthenticationToken)
	e.WriteDateTime(h.Timestamp)
	e.WriteUInt32(h.RequestHandle)
	e.WriteUInt32(h.ReturnDiagnostics)
	e.WriteString(h.AuditEntryID)
	e.WriteUInt32(h.TimeoutHint)
	e.WriteExtensionObject(NodeID{}, nil)
}

func (h *RequestHeader) decode(d *Decoder) {
	h.AuthenticationToken = d.ReadNodeID()
	h.Timestamp = d.ReadDateTime()
	h.RequestHandle = d.ReadUInt32()
	h.ReturnDiagnostics = d.ReadUInt32()
	h.AuditEntryID = d.ReadString()
	h.TimeoutHint = d.ReadUInt32()
	d.ReadExtensionObject()
}

// ResponseHeader precedes every service response.
type ResponseHeader struct {
	Timestamp     time.Time
	RequestHandle uint32
	ServiceResult StatusCode
	StringTable   []string
}

func (h *ResponseHeader) encode(e *Encoder) {
	e.WriteDateTime(h.Timestamp)
	e.WriteUInt32(h.RequestHandle)
	e.WriteStatusCode(h.ServiceResult)
	e.WriteByte(0) // empty diagnostic info
	e.WriteStringArray(h.StringTable)
	e.WriteExtensionObject(NodeID{}, nil)
}

func (h *ResponseHeader) decode(d *Decoder) {
	h.Timestamp = d.ReadDateTime()
	h.RequestHandle = d.ReadUInt32()
	h.ServiceResult = d.ReadStatusCode()
	d.skipDiagnosticInfo()
	h.StringTable = d.ReadStringArray()
	d.ReadExtensionObject()
}

func writeStatusCodes(e *Encoder, v []StatusCode) {
	e.WriteInt32(int32(len(v)))
	for _, s := range v {
		e.WriteStatusCode(s)
	}
}

func readStatusCodes(d *Decoder) []StatusCode {
	n := d.arrayLen()
	out := make([]StatusCode, n)
	for i := range out {
		out[i] = d.ReadStatusCode()
	}
	return out
}

func writeUInt32s(e *Encoder, v []uint32) {
	e.WriteInt32(int32(len(v)))
	for _, x := range v {
		e.WriteUInt32(x)
	}
}

func readUInt32s(d *Decoder) []uint32 {
	n := d.arrayLen()
	out := make([]uint32, n)
	for i := range out {
		out[i] = d.ReadUInt32()
	}
	return out
}

// ServiceFault is returned in place of any response when a service fails.
type ServiceFault struct {
	Header ResponseHeader
}

func (*ServiceFault) binaryID() uint32 { return idServiceFault }
func (m *ServiceFault) header() *ResponseHeader { return &m.Header }
func (m *ServiceFault) encode(e *Encoder) { m.Header.encode(e) }
func (m *ServiceFault) decode(d *Decoder) { m.Header.decode(d) }

// Secure channel request types.
const (
	SecurityTokenIssue uint32 = 0
	SecurityTokenRenew uint32 = 1
)

// OpenSecureChannelRequest opens or renews a secure channel.
type OpenSecureChannelRequest struct {
	Header                RequestHeader
	ClientProtocolVersion uint32
	RequestType           uint32
	SecurityMode          MessageSecurityMode
	ClientNonce           []byte
	RequestedLifetime     uint32
}

func (*OpenSecureChannelRequest) binaryID() uint32 { return idOpenSecureChannelRequest }
func (m *OpenSecureChannelRequest) header() *RequestHeader { return &m.Header }

func (m *OpenSecureChannelRequest) encode(e *Encoder) {
	m.Header.encode(e)
	e.WriteUInt32(m.ClientProtocolVersion)
	e.WriteUInt32(m.RequestType)
	e.WriteUInt32(uint32(m.SecurityMode))
	e.WriteByteString(m.ClientNonce)
	e.WriteUInt32(m.RequestedLifetime)
}

func (m *OpenSecureChannelRequest) decode(d *Decoder) {
	m.Header.decode(d)
	m.ClientProtocolVersion = d.ReadUInt32()
	m.RequestType = d.ReadUInt32()
	m.SecurityMode = MessageSecurityMode(d.ReadUInt32())
	m.ClientNonce = d.ReadByteString()
	m.RequestedLifetime = d.ReadUInt32()
}

// OpenSecureChannelResponse carries the channel id and security token.
type OpenSecureChannelResponse struct {
	Header                ResponseHeader
	ServerProtocolVersion uint32
	ChannelID             uint32
	TokenID               uint32
	CreatedAt             time.Time
	RevisedLifetime       uint32
	ServerNonce           []byte
}

func (*OpenSecureChannelResponse) binaryID() uint32 { return idOpenSecureChannelResponse }
func (m *OpenSecureChannelResponse) header() *ResponseHeader { return &m.Header }

func (m *OpenSecureChannelResponse) encode(e *Encoder) {
	m.Header.encode(e)
	e.WriteUInt32(m.ServerProtocolVersion)
	e.WriteUInt32(m.ChannelID)
	e.WriteUInt32(m.TokenID)
	e.WriteDateTime(m.CreatedAt)
	e.WriteUInt32(m.RevisedLifetime)
	e.WriteByteString(m.ServerNonce)
}

func (m *OpenSecureChannelResponse) decode(d *Decoder) {
	m.Header.decode(d)
	m.ServerProtocolVersion = d.ReadUInt32()
	m.ChannelID = d.ReadUInt32()
	m.TokenID = d.ReadUInt32()
	m.CreatedAt = d.ReadDateTime()
	m.RevisedLifetime = d.ReadUInt32()
	m.ServerNonce = d.ReadByteString()
}

// CloseSecureChannelRequest closes the channel. It has no response.
type CloseSecureChannelRequest struct {
	Header RequestHeader
}

func (*CloseSecureChannelRequest) binaryID() uint32 { return idCloseSecureChannelRequest }
func (m *CloseSecureChannelRequest) header() *RequestHeader { return &m.Header }
func (m *CloseSecureChannelRequest) encode(e *Encoder) { m.Header.encode(e) }
func (m *CloseSecureChannelRequest) decode(d *Decoder) { m.Header.decode(d) }

func (a *ApplicationDescription) encode(e *Encoder) {
	e.WriteString(a.ApplicationURI)
	e.WriteString(a.ProductURI)
	e.WriteLocalizedText(a.ApplicationName)
	e.WriteUInt32(uint32(a.ApplicationType))
	e.WriteString(a.GatewayServerURI)
	e.WriteString(a.DiscoveryProfileURI)
	e.WriteStringArray(a.DiscoveryURLs)
}

func (a *ApplicationDescription) decode(d *Decoder) {
	a.ApplicationURI = d.ReadString()
	a.ProductURI = d.ReadString()
	a.ApplicationName = d.ReadLocalizedText()
	a.ApplicationType = ApplicationType(d.ReadUInt32())
	a.GatewayServerURI = d.ReadString()
	a.DiscoveryProfileURI = d.ReadString()
	a.DiscoveryURLs = d.ReadStringArray()
}

func (p *UserTokenPolicy) encode(e *Encoder) {
	e.WriteString(p.PolicyID)
	e.WriteUInt32(uint32(p.TokenType))
	e.WriteString(p.IssuedTokenType)
	e.WriteString(p.IssuerEndpointURL)
	e.WriteString(p.SecurityPolicyURI)
}

func (p *UserTokenPolicy) decode(d *Decoder) {
	p.PolicyID = d.ReadString()
	p.TokenType = UserTokenType(d.ReadUInt32())
	p.IssuedTokenType = d.ReadString()
	p.IssuerEndpointURL = d.ReadString()
	p.SecurityPolicyURI = d.ReadString()
}

func (ep *EndpointDescription) encode(e *Encoder) {
	e.WriteString(ep.EndpointURL)
	ep.Server.encode(e)
	e.WriteByteString(ep.ServerCertificate)
	e.WriteUInt32(uint32(ep.SecurityMode))
	e.WriteString(ep.SecurityPolicyURI)
	e.WriteInt32(int32(len(ep.UserIdentityTokens)))
	for i := range ep.UserIdentityTokens {
		ep.UserIdentityTokens[i].encode(e)
	}
	e.WriteString(ep.TransportProfileURI)
	e.WriteByte(ep.SecurityLevel)
}

func (ep *EndpointDescription) decode(d *Decoder) {
	ep.EndpointURL = d.ReadString()
	ep.Server.decode(d)
	ep.ServerCertificate = d.ReadByteString()
	ep.SecurityMode = MessageSecurityMode(d.ReadUInt32())
	ep.SecurityPolicyURI = d.ReadString()
	n := d.arrayLen()
	ep.UserIdentityTokens = make([]UserTokenPolicy, n)
	for i := 0; i < n && d.err == nil; i++ {
		ep.UserIdentityTokens[i].decode(d)
	}
	ep.TransportProfileURI = d.ReadString()
	ep.SecurityLevel = d.ReadByte()
}

func writeEndpoints(e *Encoder, v []EndpointDescription) {
	e.WriteInt32(int32(len(v)))
	for i := range v {
		v[i].encode(e)
	}
}

func readEndpoints(d *Decoder) []EndpointDescription {
	n := d.arrayLen()
	out := make([]EndpointDescription, n)
	for i := 0; i < n && d.err == nil; i++ {
		out[i].decode(d)
	}
	return out
}

// GetEndpointsRequest lists the endpoints a server offers.
type GetEndpointsRequest struct {
	Header      RequestHeader
	EndpointURL string
	LocaleIDs   []string
	ProfileURIs []string
}

func (*GetEndpointsRequest) binaryID() uint32 { return uint32(ServiceGetEndpoints) }
func (m *GetEndpointsRequest) header() *RequestHeader { return &m.Header }

func (m *GetEndpointsRequest) encode(e *Encoder) {
	m.Header.encode(e)
	e.WriteString(m.EndpointURL)
	e.WriteStringArray(m.LocaleIDs)
	e.WriteStringArray(m.ProfileURIs)
}

func (m *GetEndpointsRequest) decode(d *Decoder) {
	m.Header.decode(d)
	m.EndpointURL = d.ReadString()
	m.LocaleIDs = d.ReadStringArray()
	m.ProfileURIs = d.ReadStringArray()
}

// GetEndpointsResponse carries the server's endpoints.
type GetEndpointsResponse struct {
	Header    ResponseHeader
	Endpoints []EndpointDescription
}

func (*GetEndpointsResponse) binaryID() uint32 { return ServiceGetEndpoints.ResponseID() }
func (m *GetEndpointsResponse) header() *ResponseHeader { return &m.Header }

func (m *GetEndpointsResponse) encode(e *Encoder) {
	m.Header.encode(e)
	writeEndpoints(e, m.Endpoints)
}

func (m *GetEndpointsResponse) decode(d *Decoder) {
	m.Header.decode(d)
	m.Endpoints = readEndpoints(d)
}

// SignatureData is an algorithm URI and a signature.
type SignatureData struct {
	Algorithm string
	Signature []byte
}

func (s *SignatureData) encode(e *Encoder) {
	e.WriteString(s.Algorithm)
	e.WriteByteString(s.Signature)
}

func (s *SignatureData) decode(d *Decoder) {
	s.Algorithm = d.ReadString()
	s.Signature = d.ReadByteString()
}

// CreateSessionRequest creates a session on the current channel.
type CreateSessionRequest struct {
	Header                  RequestHeader
	ClientDescription       ApplicationDescription
	ServerURI               string
	EndpointURL             string
	SessionName             string
	ClientNonce             []byte
	ClientCertificate       []byte
	RequestedSessionTimeout float64
	MaxResponseMessageSize  uint32
}

func (*CreateSessionRequest) binaryID() uint32 { return uint32(ServiceCreateSession) }
func (m *CreateSessionRequest) header() *RequestHeader { return &m.Header }

func (m *CreateSessionRequest) encode(e *Encoder) {
	m.Header.encode(e)
	m.ClientDescription.encode(e)
	e.WriteString(m.ServerURI)
	e.WriteString(m.EndpointURL)
	e.WriteString(m.SessionName)
	e.WriteByteString(m.ClientNonce)
	e.WriteByteString(m.ClientCertificate)
	e.WriteDouble(m.RequestedSessionTimeout)
	e.WriteUInt32(m.MaxResponseMessageSize)
}

func (m *CreateSessionRequest) decode(d *Decoder) {
	m.Header.decode(d)
	m.ClientDescription.decode(d)
	m.ServerURI = d.ReadString()
	m.EndpointURL = d.ReadString()
	m.SessionName = d.ReadString()
	m.ClientNonce = d.ReadByteString()
	m.ClientCertificate = d.ReadByteString()
	m.RequestedSessionTimeout = d.ReadDouble()
	m.MaxResponseMessageSize = d.ReadUInt32()
}

// CreateSessionResponse returns the session id and authentication token.
type CreateSessionResponse struct {
	Header                ResponseHeader
	SessionID             NodeID
	AuthenticationToken   NodeID
	RevisedSessionTimeout float64
	ServerNonce           []byte
	ServerCertificate     []byte
	ServerEndpoints       []EndpointDescription
	ServerSignature       SignatureData
	MaxRequestMessageSize uint32
}

func (*CreateSessionResponse) binaryID() uint32 { return ServiceCreateSession.ResponseID() }
func (m *CreateSessionResponse) header() *ResponseHeader { return &m.Header }

func (m *CreateSessionResponse) encode(e *Encoder) {
	m.Header.encode(e)
	e.WriteNodeID(m.SessionID)
	e.WriteNodeID(m.AuthenticationToken)
	e.WriteDouble(m.RevisedSessionTimeout)
	e.WriteByteString(m.ServerNonce)
	e.WriteByteString(m.ServerCertificate)
	writeEndpoints(e, m.ServerEndpoints)
	e.WriteInt32(0) // no software certificates
	m.ServerSignature.encode(e)
	e.WriteUInt32(m.MaxRequestMessageSize)
}

func (m *CreateSessionResponse) decode(d *Decoder) {
	m.Header.decode(d)
	m.SessionID = d.ReadNodeID()
	m.AuthenticationToken = d.ReadNodeID()
	m.RevisedSessionTimeout = d.ReadDouble()
	m.ServerNonce = d.ReadByteString()
	m.ServerCertificate = d.ReadByteString()
	m.ServerEndpoints = readEndpoints(d)
	for i, n := 0, d.arrayLen(); i < n && d.err == nil; i++ {
		d.ReadByteString()
		d.ReadByteString()
	}
	m.ServerSignature.decode(d)
	m.MaxRequestMessageSize = d.ReadUInt32()
}

// ActivateSessionRequest activates, or re-binds to a new channel, a session.
// Only anonymous identity tokens are produced.
type ActivateSessionRequest struct {
	Header          RequestHeader
	ClientSignature SignatureData
	LocaleIDs       []string
	PolicyID        string
}

func (*ActivateSessionRequest) binaryID() uint32 { return uint32(ServiceActivateSession) }
func (m *ActivateSessionRequest) header() *RequestHeader { return &m.Header }

func (m *ActivateSessionRequest) encode(e *Encoder) {
	m.Header.encode(e)
	m.ClientSignature.encode(e)
	e.WriteInt32(0) // no software certificates
	e.WriteStringArray(m.LocaleIDs)
	token := NewEncoder()
	token.WriteString(m.PolicyID)
	e.WriteExtensionObject(NewNumericNodeID(0, idAnonymousIdentityToken), token.Bytes())
	(&SignatureData{}).encode(e)
}

func (m *ActivateSessionRequest) decode(d *Decoder) {
	m.Header.decode(d)
	m.ClientSignature.decode(d)
	for i, n := 0, d.arrayLen(); i < n && d.err == nil; i++ {
		d.ReadByteString()
		d.ReadByteString()
	}
	m.LocaleIDs = d.ReadStringArray()
	typeID, body := d.ReadExtensionObject()
	if typeID.Numeric == idAnonymousIdentityToken && body != nil {
		m.PolicyID = NewDecoder(body).ReadString()
	}
	(&SignatureData{}).decode(d)
}

// ActivateSessionResponse returns a fresh server nonce.
type ActivateSessionResponse struct {
	Header      ResponseHeader
	ServerNonce []byte
	Results     []StatusCode
}

func (*ActivateSessionResponse) binaryID() uint32 { return ServiceActivateSession.ResponseID() }
func (m *ActivateSessionResponse) header() *ResponseHeader { return &m.Header }

func (m *ActivateSessionResponse) encode(e *Encoder) {
	m.Header.encode(e)
	e.WriteByteString(m.ServerNonce)
	writeStatusCodes(e, m.Results)
	e.WriteInt32(0)
}

func (m *ActivateSessionResponse) decode(d *Decoder) {
	m.Header.decode(d)
	m.ServerNonce = d.ReadByteString()
	m.Results = readStatusCodes(d)
	d.skipDiagnosticInfos()
}

// CloseSessionRequest closes the session bound to the authentication token.
type CloseSessionRequest struct {
	Header              RequestHeader
	DeleteSubscriptions bool
}

func (*CloseSessionRequest) binaryID() uint32 { return uint32(ServiceCloseSession) }
func (m *CloseSessionRequest) header() *RequestHeader { return &m.Header }

func (m *CloseSessionRequest) encode(e *Encoder) {
	m.Header.encode(e)
	e.WriteBoolean(m.DeleteSubscriptions)
}

func (m *CloseSessionRequest) decode(d *Decoder) {
	m.Header.decode(d)
	m.DeleteSubscriptions = d.ReadBoolean()
}

// CloseSessionResponse acknowledges CloseSession.
type CloseSessionResponse struct {
	Header ResponseHeader
}

func (*CloseSessionResponse) binaryID() uint32 { return ServiceCloseSession.ResponseID() }
func (m *CloseSessionResponse) header() *ResponseHeader { return &m.Header }
func (m *CloseSessionResponse) encode(e *Encoder) { m.Header.encode(e) }
func (m *CloseSessionResponse) decode(d *Decoder) { m.Header.decode(d) }

// ReadValueID names one attribute to read or monitor.
type ReadValueID struct {
	NodeID       NodeID
	AttributeID  AttributeID
	IndexRange   string
	DataEncoding QualifiedName
}

func (r *ReadValueID) encode(e *Encoder) {
	e.WriteNodeID(r.NodeID)
	e.WriteUInt32(uint32(r.AttributeID))
	e.WriteString(r.IndexRange)
	e.WriteQualifiedName(r.DataEncoding)
}

func (r *ReadValueID) decode(d *Decoder) {
	r.NodeID = d.ReadNodeID()
	r.AttributeID = AttributeID(d.ReadUInt32())
	r.IndexRange = d.ReadString()
	r.DataEncoding = d.ReadQualifiedName()
}

// ReadRequest reads one or more attributes.
type ReadRequest struct {
	Header             RequestHeader
	MaxAge             float64
	TimestampsToReturn TimestampsToReturn
	NodesToRead        []ReadValueID
}

func (*ReadRequest) binaryID() uint32 { return uint32(ServiceRead) }
func (m *ReadRequest) header() *RequestHeader { return &m.Header }

func (m *ReadRequest) encode(e *Encoder) {
	m.Header.encode(e)
	e.WriteDouble(m.MaxAge)
	e.WriteUInt32(uint32(m.TimestampsToReturn))
	e.WriteInt32(int32(len(m.NodesToRead)))
	for i := range m.NodesToRead {
		m.NodesToRead[i].encode(e)
	}
}

func (m *ReadRequest) decode(d *Decoder) {
	m.Header.decode(d)
	m.MaxAge = d.ReadDouble()
	m.TimestampsToReturn = TimestampsToReturn(d.ReadUInt32())
	n := d.arrayLen()
	m.NodesToRead = make([]ReadValueID, n)
	for i := 0; i < n && d.err == nil; i++ {
		m.NodesToRead[i].decode(d)
	}
}

// ReadResponse holds one DataValue per node read.
type ReadResponse struct {
	Header  ResponseHeader
	Results []*DataValue
}

func (*ReadResponse) binaryID() uint32 { return ServiceRead.ResponseID() }
func (m *ReadResponse) header() *ResponseHeader { return &m.Header }

func (m *ReadResponse) encode(e *Encoder) {
	m.Header.encode(e)
	e.WriteInt32(int32(len(m.Results)))
	for _, dv := range m.Results {
		e.WriteDataValue(dv)
	}
	e.WriteInt32(0)
}

func (m *ReadResponse) decode(d *Decoder) {
	m.Header.decode(d)
	n := d.arrayLen()
	m.Results = make([]*DataValue, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		m.Results = append(m.Results, d.ReadDataValue())
	}
	d.skipDiagnosticInfos()
}

// WriteValue is one attribute write.
type WriteValue struct {
	NodeID      NodeID
	AttributeID AttributeID
	IndexRange  string
	Value       *DataValue
}

// WriteRequest writes one or more attributes.
type WriteRequest struct {
	Header       RequestHeader
	NodesToWrite []WriteValue
}

func (*WriteRequest) binaryID() uint32 { return uint32(ServiceWrite) }
func (m *WriteRequest) header() *RequestHeader { return &m.Header }

func (m *WriteRequest) encode(e *Encoder) {
	m.Header.encode(e)
	e.WriteInt32(int32(len(m.NodesToWrite)))
	for _, w := range m.NodesToWrite {
		e.WriteNodeID(w.NodeID)
		e.WriteUInt32(uint32(w.AttributeID))
		e.WriteString(w.IndexRange)
		e.WriteDataValue(w.Value)
	}
}

func (m *WriteRequest) decode(d *Decoder) {
	m.Header.decode(d)
	n := d.arrayLen()
	m.NodesToWrite = make([]WriteValue, n)
	for i := 0; i < n && d.err == nil; i++ {
		w := &m.NodesToWrite[i]
		w.NodeID = d.ReadNodeID()
		w.AttributeID = AttributeID(d.ReadUInt32())
		w.IndexRange = d.ReadString()
		w.Value = d.ReadDataValue()
	}
}

// WriteResponse holds one status per write.
type WriteResponse struct {
	Header  ResponseHeader
	Results []StatusCode
}

func (*WriteResponse) binaryID() uint32 { return ServiceWrite.ResponseID() }
func (m *WriteResponse) header() *ResponseHeader { return &m.Header }

func (m *WriteResponse) encode(e *Encoder) {
	m.Header.encode(e)
	writeStatusCodes(e, m.Results)
	e.WriteInt32(0)
}

func (m *WriteResponse) decode(d *Decoder) {
	m.Header.decode(d)
	m.Results = readStatusCodes(d)
	d.skipDiagnosticInfos()
}

// CreateSubscriptionRequest creates a subscription on the session.
type CreateSubscriptionRequest struct {
	Header                      RequestHeader
	RequestedPublishingInterval float64
	RequestedLifetimeCount      uint32
	RequestedMaxKeepAliveCount  uint32
	MaxNotificationsPerPublish  uint32
	PublishingEnabled           bool
	Priority                    byte
}

func (*CreateSubscriptionRequest) binaryID() uint32 { return uint32(ServiceCreateSubscription) }
func (m *CreateSubscriptionRequest) header() *RequestHeader { return &m.Header }

func (m *CreateSubscriptionRequest) encode(e *Encoder) {
	m.Header.encode(e)
	e.WriteDouble(m.RequestedPublishingInterval)
	e.WriteUInt32(m.RequestedLifetimeCount)
	e.WriteUInt32(m.RequestedMaxKeepAliveCount)
	e.WriteUInt32(m.MaxNotificationsPerPublish)
	e.WriteBoolean(m.PublishingEnabled)
	e.WriteByte(m.Priority)
}

func (m *CreateSubscriptionRequest) decode(d *Decoder) {
	m.Header.decode(d)
	m.RequestedPublishingInterval = d.ReadDouble()
	m.RequestedLifetimeCount = d.ReadUInt32()
	m.RequestedMaxKeepAliveCount = d.ReadUInt32()
	m.MaxNotificationsPerPublish = d.ReadUInt32()
	m.PublishingEnabled = d.ReadBoolean()
	m.Priority = d.ReadByte()
}

// CreateSubscriptionResponse returns the subscription id and revised values.
type CreateSubscriptionResponse struct {
	Header                    ResponseHeader
	SubscriptionID            uint32
	RevisedPublishingInterval float64
	RevisedLifetimeCount      uint32
	RevisedMaxKeepAliveCount  uint32
}

func (*CreateSubscriptionResponse) binaryID() uint32 {
	return ServiceCreateSubscription.ResponseID()
}
func (m *CreateSubscriptionResponse) header() *ResponseHeader { return &m.Header }

func (m *CreateSubscriptionResponse) encode(e *Encoder) {
	m.Header.encode(e)
	e.WriteUInt32(m.SubscriptionID)
	e.WriteDouble(m.RevisedPublishingInterval)
	e.WriteUInt32(m.RevisedLifetimeCount)
	e.WriteUInt32(m.RevisedMaxKeepAliveCount)
}

func (m *CreateSubscriptionResponse) decode(d *Decoder) {
	m.Header.decode(d)
	m.SubscriptionID = d.ReadUInt32()
	m.RevisedPublishingInterval = d.ReadDouble()
	m.RevisedLifetimeCount = d.ReadUInt32()
	m.RevisedMaxKeepAliveCount = d.ReadUInt32()
}

// MonitoringParameters of a monitored item. Filters are not supported.
type MonitoringParameters struct {
	ClientHandle     uint32
	SamplingInterval float64
	QueueSize        uint32
	DiscardOldest    bool
}

// MonitoredItemCreateRequest describes one item to monitor.
type MonitoredItemCreateRequest struct {
	ItemToMonitor       ReadValueID
	MonitoringMode      MonitoringMode
	RequestedParameters MonitoringParameters
}

func (r *MonitoredItemCreateRequest) encode(e *Encoder) {
	r.ItemToMonitor.encode(e)
	e.WriteUInt32(uint32(r.MonitoringMode))
	p := &r.RequestedParameters
	e.WriteUInt32(p.ClientHandle)
	e.WriteDouble(p.SamplingInterval)
	e.WriteExtensionObject(NodeID{}, nil)
	e.WriteUInt32(p.QueueSize)
	e.WriteBoolean(p.DiscardOldest)
}

func (r *MonitoredItemCreateRequest) decode(d *Decoder) {
	r.ItemToMonitor.decode(d)
	r.MonitoringMode = MonitoringMode(d.ReadUInt32())
	p := &r.RequestedParameters
	p.ClientHandle = d.ReadUInt32()
	p.SamplingInterval = d.ReadDouble()
	d.ReadExtensionObject()
	p.QueueSize = d.ReadUInt32()
	p.DiscardOldest = d.ReadBoolean()
}

// CreateMonitoredItemsRequest adds items to a subscription.
type CreateMonitoredItemsRequest struct {
	Header             RequestHeader
	SubscriptionID     uint32
	TimestampsToReturn TimestampsToReturn
	ItemsToCreate      []MonitoredItemCreateRequest
}

func (*CreateMonitoredItemsRequest) binaryID() uint32 {
	return uint32(ServiceCreateMonitoredItems)
}
func (m *CreateMonitoredItemsRequest) header() *RequestHeader { return &m.Header }

func (m *CreateMonitoredItemsRequest) encode(e *Encoder) {
	m.Header.encode(e)
	e.WriteUInt32(m.SubscriptionID)
	e.WriteUInt32(uint32(m.TimestampsToReturn))
	e.WriteInt32(int32(len(m.ItemsToCreate)))
	for i := range m.ItemsToCreate {
		m.ItemsToCreate[i].encode(e)
	}
}

func (m *CreateMonitoredItemsRequest) decode(d *Decoder) {
	m.Header.decode(d)
	m.SubscriptionID = d.ReadUInt32()
	m.TimestampsToReturn = TimestampsToReturn(d.ReadUInt32())
	n := d.arrayLen()
	m.ItemsToCreate = make([]MonitoredItemCreateRequest, n)
	for i := 0; i < n && d.err == nil; i++ {
		m.ItemsToCreate[i].decode(d)
	}
}

// MonitoredItemCreateResult is the outcome for one item.
type MonitoredItemCreateResult struct {
	StatusCode              StatusCode
	MonitoredItemID         uint32
	RevisedSamplingInterval float64
	RevisedQueueSize        uint32
}

// CreateMonitoredItemsResponse holds one result per requested item.
type CreateMonitoredItemsResponse struct {
	Header  ResponseHeader
	Results []MonitoredItemCreateResult
}

func (*CreateMonitoredItemsResponse) binaryID() uint32 {
	return ServiceCreateMonitoredItems.ResponseID()
}
func (m *CreateMonitoredItemsResponse) header() *ResponseHeader { return &m.Header }

func (m *CreateMonitoredItemsResponse) encode(e *Encoder) {
	m.Header.encode(e)
	e.WriteInt32(int32(len(m.Results)))
	for _, r := range m.Results {
		e.WriteStatusCode(r.StatusCode)
		e.WriteUInt32(r.MonitoredItemID)
		e.WriteDouble(r.RevisedSamplingInterval)
		e.WriteUInt32(r.RevisedQueueSize)
		e.WriteExtensionObject(NodeID{}, nil)
	}
	e.WriteInt32(0)
}

func (m *CreateMonitoredItemsResponse) decode(d *Decoder) {
	m.Header.decode(d)
	n := d.arrayLen()
	m.Results = make([]MonitoredItemCreateResult, n)
	for i := 0; i < n && d.err == nil; i++ {
		r := &m.Results[i]
		r.StatusCode = d.ReadStatusCode()
		r.MonitoredItemID = d.ReadUInt32()
		r.RevisedSamplingInterval = d.ReadDouble()
		r.RevisedQueueSize = d.ReadUInt32()
		d.ReadExtensionObject()
	}
	d.skipDiagnosticInfos()
}

// DeleteSubscriptionsRequest removes subscriptions from the session.
type DeleteSubscriptionsRequest struct {
	Header          RequestHeader
	SubscriptionIDs []uint32
}

func (*DeleteSubscriptionsRequest) binaryID() uint32 {
	return uint32(ServiceDeleteSubscriptions)
}
func (m *DeleteSubscriptionsRequest) header() *RequestHeader { return &m.Header }

func (m *DeleteSubscriptionsRequest) encode(e *Encoder) {
	m.Header.encode(e)
	writeUInt32s(e, m.SubscriptionIDs)
}

func (m *DeleteSubscriptionsRequest) decode(d *Decoder) {
	m.Header.decode(d)
	m.SubscriptionIDs = readUInt32s(d)
}

// DeleteSubscriptionsResponse holds one status per subscription.
type DeleteSubscriptionsResponse struct {
	Header  ResponseHeader
	Results []StatusCode
}

func (*DeleteSubscriptionsResponse) binaryID() uint32 {
	return ServiceDeleteSubscriptions.ResponseID()
}
func (m *DeleteSubscriptionsResponse) header() *ResponseHeader { return &m.Header }

func (m *DeleteSubscriptionsResponse) encode(e *Encoder) {
	m.Header.encode(e)
	writeStatusCodes(e, m.Results)
	e.WriteInt32(0)
}

func (m *DeleteSubscriptionsResponse) decode(d *Decoder) {
	m.Header.decode(d)
	m.Results = readStatusCodes(d)
	d.skipDiagnosticInfos()
}

// SubscriptionAcknowledgement acknowledges one notification message.
type SubscriptionAcknowledgement struct {
	SubscriptionID uint32
	SequenceNumber uint32
}

// PublishRequest hands the server a slot for the next notification.
type PublishRequest struct {
	Header           RequestHeader
	Acknowledgements []SubscriptionAcknowledgement
}

func (*PublishRequest) binaryID() uint32 { return uint32(ServicePublish) }
func (m *PublishRequest) header() *RequestHeader { return &m.Header }

func (m *PublishRequest) encode(e *Encoder) {
	m.Header.encode(e)
	e.WriteInt32(int32(len(m.Acknowledgements)))
	for _, a := range m.Acknowledgements {
		e.WriteUInt32(a.SubscriptionID)
		e.WriteUInt32(a.SequenceNumber)
	}
}

func (m *PublishRequest) decode(d *Decoder) {
	m.Header.decode(d)
	n := d.arrayLen()
	m.Acknowledgements = make([]SubscriptionAcknowledgement, n)
	for i := 0; i < n && d.err == nil; i++ {
		m.Acknowledgements[i].SubscriptionID = d.ReadUInt32()
		m.Acknowledgements[i].SequenceNumber = d.ReadUInt32()
	}
}

// MonitoredItemNotification is one sampled value.
type MonitoredItemNotification struct {
	ClientHandle uint32
	Value        *DataValue
}

// NotificationMessage is the body of a publish response. Only data change
// notifications are decoded; other notification types are skipped.
type NotificationMessage struct {
	SequenceNumber uint32
	PublishTime    time.Time
	DataChanges    []MonitoredItemNotification
}

func (n *NotificationMessage) encode(e *Encoder) {
	e.WriteUInt32(n.SequenceNumber)
	e.WriteDateTime(n.PublishTime)
	if len(n.DataChanges) == 0 {
		e.WriteInt32(0)
		return
	}
	body := NewEncoder()
	body.WriteInt32(int32(len(n.DataChanges)))
	for _, it := range n.DataChanges {
		body.WriteUInt32(it.ClientHandle)
		body.WriteDataValue(it.Value)
	}
	body.WriteInt32(0)
	e.WriteInt32(1)
	e.WriteExtensionObject(NewNumericNodeID(0, idDataChangeNotification), body.Bytes())
}

func (n *NotificationMessage) decode(d *Decoder) {
	n.SequenceNumber = d.ReadUInt32()
	n.PublishTime = d.ReadDateTime()
	count := d.arrayLen()
	for i := 0; i < count && d.err == nil; i++ {
		typeID, body := d.ReadExtensionObject()
		if typeID.Numeric != idDataChangeNotification || body == nil {
			continue
		}
		bd := NewDecoder(body)
		items := bd.arrayLen()
		for j := 0; j < items && bd.err == nil; j++ {
			h := bd.ReadUInt32()
			n.DataChanges = append(n.DataChanges, MonitoredItemNotification{ClientHandle: h, Value: bd.ReadDataValue()})
		}
		if bd.err != nil && d.err == nil {
			d.err = bd.err
		}
	}
}

// PublishResponse delivers a notification message or a keep-alive.
type PublishResponse struct {
	Header                   ResponseHeader
	SubscriptionID           uint32
	AvailableSequenceNumbers []uint32
	MoreNotifications        bool
	Notification             NotificationMessage
	Results                  []StatusCode
}

func (*PublishResponse) binaryID() uint32 { return ServicePublish.ResponseID() }
func (m *PublishResponse) header() *ResponseHeader { return &m.Header }

func (m *PublishResponse) encode(e *Encoder) {
	m.Header.encode(e)
	e.WriteUInt32(m.SubscriptionID)
	writeUInt32s(e, m.AvailableSequenceNumbers)
	e.WriteBoolean(m.MoreNotifications)
	m.Notification.encode(e)
	writeStatusCodes(e, m.Results)
	e.WriteInt32(0)
}

func (m *PublishResponse) decode(d *Decoder) {
	m.Header.decode(d)
	m.SubscriptionID = d.ReadUInt32()
	m.AvailableSequenceNumbers = readUInt32s(d)
	m.MoreNotifications = d.ReadBoolean()
	m.Notification.decode(d)
	m.Results = readStatusCodes(d)
	d.skipDiagnosticInfos()
}

// newResponse returns an empty response value for a request binary id.
func newResponse(svc ServiceID) response {
	switch svc {
	case ServiceGetEndpoints:
		return &GetEndpointsResponse{}
	case ServiceCreateSession:
		return &CreateSessionResponse{}
	case ServiceActivateSession:
		return &ActivateSessionResponse{}
	case ServiceCloseSession:
		return &CloseSessionResponse{}
	case ServiceRead:
		return &ReadResponse{}
	case ServiceWrite:
		return &WriteResponse{}
	case ServiceCreateSubscription:
		return &CreateSubscriptionResponse{}
	case ServiceCreateMonitoredItems:
		return &CreateMonitoredItemsResponse{}
	case ServiceDeleteSubscriptions:
		return &DeleteSubscriptionsResponse{}
	case ServicePublish:
		return &PublishResponse{}
	}
	return nil
}

// newRequest returns an empty request value for a binary id, used by the server.
func newRequest(id uint32) request {
	switch ServiceID(id) {
	case ServiceGetEndpoints:
		return &GetEndpointsRequest{}
	case ServiceCreateSession:
		return &CreateSessionRequest{}
	case ServiceActivateSession:
		return &ActivateSessionRequest{}
	case ServiceCloseSession:
		return &CloseSessionRequest{}
	case ServiceRead:
		return &ReadRequest{}
	case ServiceWrite:
		return &WriteRequest{}
	case ServiceCreateSubscription:
		return &CreateSubscriptionRequest{}
	case ServiceCreateMonitoredItems:
		return &CreateMonitoredItemsRequest{}
	case ServiceDeleteSubscriptions:
		return &DeleteSubscriptionsRequest{}
	case ServicePublish:
		return &PublishRequest{}
	}
	switch id {
	case idOpenSecureChannelRequest:
		return &OpenSecureChannelRequest{}
	case idCloseSecureChannelRequest:
		return &CloseSecureChannelRequest{}
	}
	return nil
}
