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
	"context"
	"fmt"
	"time"

	"github.com/edgeo-scada/keybridge/opcua"
)

// Endpoint is a resolved server endpoint. It does not change after New.
type Endpoint struct {
	URL               string
	SecurityPolicyURI string
	SecurityMode      opcua.MessageSecurityMode
	ServerCertificate []byte
	SecurityLevel     uint8
	UserTokenPolicyID string
}

// KeepAlive is the periodic health signal a stack raises for a session.
type KeepAlive = opcua.KeepAlive

// OpenOptions are passed to Stack.Open.
type OpenOptions struct {
	// Timeout bounds the whole open sequence.
	Timeout           time.Duration
	KeepAliveInterval time.Duration
	// OnKeepAlive is called from a stack goroutine.
	OnKeepAlive func(KeepAlive)
	SessionName string
}

// Stack is the protocol implementation the manager drives.
type Stack interface {
	GetEndpoints(ctx context.Context, url string) ([]Endpoint, error)
	Open(ctx context.Context, ep Endpoint, o OpenOptions) (Session, error)
}

// Session is a live protocol session.
//
// Reconnect replaces the transport under the same Session value. It reports
// restored when the server kept the session; otherwise the stack created a
// new one and ID changes.
type Session interface {
	ID() string
	Write(ctx context.Context, id opcua.NodeID, v *opcua.Variant) (opcua.StatusCode, error)
	Read(ctx context.Context, id opcua.NodeID) (*opcua.DataValue, error)
	Subscribe(ctx context.Context, p SubscriptionParams, handler func(Notification)) (Subscription, error)
	Reconnect(ctx context.Context) (restored bool, err error)
	Close(ctx context.Context) error
}

// SubscriptionParams configure a server-side subscription.
type SubscriptionParams struct {
	PublishingInterval time.Duration
	// LifetimeCount 0 leaves the choice to the server.
	LifetimeCount     uint32
	MaxKeepAliveCount uint32
	PublishingEnabled bool
}

// MonitoredItem is one item of a subscription.
type MonitoredItem struct {
	NodeID           opcua.NodeID
	ClientHandle     uint32
	SamplingInterval time.Duration
	QueueSize        uint32
	DiscardOldest    bool
}

// Subscription is a server-side subscription owned by a Session.
type Subscription interface {
	ID() uint32
	Monitor(ctx context.Context, item MonitoredItem) error
	ItemCount() int
	// Active is false once the subscription was cancelled or lost with
	// its session.
	Active() bool
	Cancel(ctx context.Context) error
}

// Notification is one data change delivered by a subscription.
type Notification struct {
	ClientHandle uint32
	Value        *opcua.DataValue
}

// VariableRef names a PLC variable. KeyIndex is -1 for plain variables.
type VariableRef struct {
	Name      string
	Namespace uint16
	KeyIndex  int
}

// NewRef returns a reference without a key index.
func NewRef(name string, ns uint16) VariableRef {
	return VariableRef{Name: name, Namespace: ns, KeyIndex: -1}
}

// KeyRef returns a reference to one key of the key matrix.
func KeyRef(name string, ns uint16, key int) VariableRef {
	return VariableRef{Name: name, Namespace: ns, KeyIndex: key}
}

// NodeID returns the string node id ns=<Namespace>;s=<Name>.
func (r VariableRef) NodeID() opcua.NodeID {
	return opcua.NewStringNodeID(r.Namespace, r.Name)
}

func (r VariableRef) String() string {
	if r.KeyIndex >= 0 {
		return fmt.Sprintf("%s[key %d]", r.NodeID(), r.KeyIndex)
	}
	return r.NodeID().String()
}
