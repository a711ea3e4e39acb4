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

package gopcuastack

import (
	"errors"
	"fmt"

	"github.com/gopcua/opcua/ua"

	"github.com/edgeo-scada/keybridge/opcua"
	"github.com/edgeo-scada/keybridge/session"
)

func toUANodeID(id opcua.NodeID) (*ua.NodeID, error) {
	switch id.Type {
	case opcua.NodeIDTypeNumeric:
		return ua.NewNumericNodeID(id.Namespace, id.Numeric), nil
	case opcua.NodeIDTypeString:
		return ua.NewStringNodeID(id.Namespace, id.Name), nil
	case opcua.NodeIDTypeOpaque:
		return ua.NewByteStringNodeID(id.Namespace, id.Opaque), nil
	default:
		return ua.ParseNodeID(id.String())
	}
}

func toUAVariant(v *opcua.Variant) (*ua.Variant, error) {
	if v == nil {
		return nil, fmt.Errorf("gopcuastack: nil variant")
	}
	if v.IsArray {
		return nil, fmt.Errorf("gopcuastack: array variants are not supported")
	}
	switch val := v.Value.(type) {
	case opcua.NodeID:
		id, err := toUANodeID(val)
		if err != nil {
			return nil, err
		}
		return ua.NewVariant(id)
	case opcua.StatusCode:
		return ua.NewVariant(ua.StatusCode(val))
	default:
		return ua.NewVariant(val)
	}
}

func fromUAVariant(v *ua.Variant) (*opcua.Variant, error) {
	if v == nil {
		return nil, nil
	}
	switch val := v.Value().(type) {
	case nil:
		return nil, nil
	case ua.StatusCode:
		return opcua.NewVariant(opcua.StatusCode(val))
	case *ua.NodeID:
		id, err := opcua.ParseNodeID(val.String())
		if err != nil {
			return nil, err
		}
		return opcua.NewVariant(id)
	default:
		return opcua.NewVariant(val)
	}
}

func fromUADataValue(dv *ua.DataValue) (*opcua.DataValue, error) {
	if dv == nil {
		return nil, nil
	}
	v, err := fromUAVariant(dv.Value)
	if err != nil {
		return nil, err
	}
	return &opcua.DataValue{
		Value:             v,
		Status:            opcua.StatusCode(dv.Status),
		SourceTimestamp:   dv.SourceTimestamp,
		ServerTimestamp:   dv.ServerTimestamp,
		SourcePicoseconds: dv.SourcePicoseconds,
		ServerPicoseconds: dv.ServerPicoseconds,
	}, nil
}

func fromUAEndpoint(ep *ua.EndpointDescription) session.Endpoint {
	out := session.Endpoint{
		URL:               ep.EndpointURL,
		SecurityPolicyURI: ep.SecurityPolicyURI,
		SecurityMode:      opcua.MessageSecurityMode(ep.SecurityMode),
		ServerCertificate: ep.ServerCertificate,
		SecurityLevel:     ep.SecurityLevel,
	}
	for _, t := range ep.UserIdentityTokens {
		if t != nil && t.TokenType == ua.UserTokenTypeAnonymous {
			out.UserTokenPolicyID = t.PolicyID
			break
		}
	}
	return out
}

func toUAEndpoint(ep session.Endpoint) *ua.EndpointDescription {
	policyID := ep.UserTokenPolicyID
	if policyID == "" {
		policyID = "anonymous"
	}
	return &ua.EndpointDescription{
		EndpointURL:       ep.URL,
		SecurityPolicyURI: ep.SecurityPolicyURI,
		SecurityMode:      ua.MessageSecurityMode(ep.SecurityMode),
		ServerCertificate: ep.ServerCertificate,
		SecurityLevel:     ep.SecurityLevel,
		UserIdentityTokens: []*ua.UserTokenPolicy{{
			PolicyID:  policyID,
			TokenType: ua.UserTokenTypeAnonymous,
		}},
	}
}

// statusOf maps library status errors onto opcua status codes.
func statusOf(err error) opcua.StatusCode {
	var sc ua.StatusCode
	if errors.As(err, &sc) {
		return opcua.StatusCode(sc)
	}
	return opcua.StatusOf(err)
}
