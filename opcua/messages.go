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
)

// UA-TCP message types.
const (
	MessageTypeHello        = "HEL"
	MessageTypeAcknowledge  = "ACK"
	MessageTypeError        = "ERR"
	MessageTypeOpenChannel  = "OPN"
	MessageTypeCloseChannel = "CLO"
	MessageTypeMessage      = "MSG"
)

// Chunk types.
const (
	ChunkFinal        byte = 'F'
	ChunkIntermediate byte = 'C'
	ChunkAbort        byte = 'A'
)

// HelloMessage opens a UA-TCP connection.
type HelloMessage struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
	EndpointURL       string
}

func (m *HelloMessage) Encode() []byte {
	e := NewEncoder()
	e.WriteUInt32(m.ProtocolVersion)
	e.WriteUInt32(m.ReceiveBufferSize)
	e.WriteUInt32(m.SendBufferSize)
	e.WriteUInt32(m.MaxMessageSize)
	e.WriteUInt32(m.MaxChunkCount)
	e.WriteString(m.EndpointURL)
	return e.Bytes()
}

func (m *HelloMessage) Decode(data []byte) error {
	d := NewDecoder(data)
	m.ProtocolVersion = d.ReadUInt32()
	m.ReceiveBufferSize = d.ReadUInt32()
	m.SendBufferSize = d.ReadUInt32()
	m.MaxMessageSize = d.ReadUInt32()
	m.MaxChunkCount = d.ReadUInt32()
	m.EndpointURL = d.ReadString()
	return d.Err()
}

// AcknowledgeMessage answers a HelloMessage.
type AcknowledgeMessage struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

func (m *AcknowledgeMessage) Encode() []byte {
	e := NewEncoder()
	e.WriteUInt32(m.ProtocolVersion)
	e.WriteUInt32(m.ReceiveBufferSize)
	e.WriteUInt32(m.SendBufferSize)
	e.WriteUInt32(m.MaxMessageSize)
	e.WriteUInt32(m.MaxChunkCount)
	return e.Bytes()
}

func (m *AcknowledgeMessage) Decode(data []byte) error {
	d := NewDecoder(data)
	m.ProtocolVersion = d.ReadUInt32()
	m.ReceiveBufferSize = d.ReadUInt32()
	m.SendBufferSize = d.ReadUInt32()
	m.MaxMessageSize = d.ReadUInt32()
	m.MaxChunkCount = d.ReadUInt32()
	return d.Err()
}

// ErrorMessage reports a fatal transport error before the peer closes.
type ErrorMessage struct {
	Code   StatusCode
	Reason string
}

func (m *ErrorMessage) Encode() []byte {
	e := NewEncoder()
	e.WriteStatusCode(m.Code)
	e.WriteString(m.Reason)
	return e.Bytes()
}

func (m *ErrorMessage) Decode(data []byte) error {
	d := NewDecoder(data)
	m.Code = d.ReadStatusCode()
	m.Reason = d.ReadString()
	return d.Err()
}

func (m *ErrorMessage) Error() string {
	if m.Reason == "" {
		return fmt.Sprintf("opcua: server error: %s", m.Code)
	}
	return fmt.Sprintf("opcua: server error: %s: %s", m.Code, m.Reason)
}

// Unwrap exposes the status code to errors.Is.
func (m *ErrorMessage) Unwrap() error { return m.Code }

// secureHeader is the secure channel framing shared by OPN, MSG and CLO.
// The asymmetric fields are used by OPN only; TokenID by MSG and CLO only.
type secureHeader struct {
	ChannelID  uint32
	TokenID    uint32
	PolicyURI  string
	SenderCert []byte
	Thumbprint []byte
	Sequence   uint32
	RequestID  uint32
}

// encodeSecure builds the body of an OPN, MSG or CLO message.
func encodeSecure(msgType string, h secureHeader, payload []byte) []byte {
	e := NewEncoder()
	e.WriteUInt32(h.ChannelID)
	if msgType == MessageTypeOpenChannel {
		e.WriteString(h.PolicyURI)
		e.WriteByteString(h.SenderCert)
		e.WriteByteString(h.Thumbprint)
	} else {
		e.WriteUInt32(h.TokenID)
	}
	e.WriteUInt32(h.Sequence)
	e.WriteUInt32(h.RequestID)
	e.WriteRaw(payload)
	return e.Bytes()
}

// decodeSecure splits a secure message body into its header and payload.
func decodeSecure(msgType string, body []byte) (secureHeader, []byte, error) {
	d := NewDecoder(body)
	var h secureHeader
	h.ChannelID = d.ReadUInt32()
	if msgType == MessageTypeOpenChannel {
		h.PolicyURI = d.ReadString()
		h.SenderCert = d.ReadByteString()
		h.Thumbprint = d.ReadByteString()
	} else {
		h.TokenID = d.ReadUInt32()
	}
	h.Sequence = d.ReadUInt32()
	h.RequestID = d.ReadUInt32()
	if err := d.Err(); err != nil {
		return h, nil, err
	}
	return h, body[d.pos:], nil
}
