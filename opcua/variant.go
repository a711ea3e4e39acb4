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

// TypeID is an OPC UA built-in type.
type TypeID uint8

// Built-in types.
const (
	TypeNull            TypeID = 0
	TypeBoolean         TypeID = 1
	TypeSByte           TypeID = 2
	TypeByte            TypeID = 3
	TypeInt16           TypeID = 4
	TypeUInt16          TypeID = 5
	TypeInt32           TypeID = 6
	TypeUInt32          TypeID = 7
	TypeInt64           TypeID = 8
	TypeUInt64          TypeID = 9
	TypeFloat           TypeID = 10
	TypeDouble          TypeID = 11
	TypeString          TypeID = 12
	TypeDateTime        TypeID = 13
	TypeGUID            TypeID = 14
	TypeByteString      TypeID = 15
	TypeNodeID          TypeID = 17
	TypeStatusCode      TypeID = 19
	TypeQualifiedName   TypeID = 20
	TypeLocalizedText   TypeID = 21
	TypeExtensionObject TypeID = 22
)

var typeNames = map[TypeID]string{
	TypeNull:          "Null",
	TypeBoolean:       "Boolean",
	TypeSByte:         "SByte",
	TypeByte:          "Byte",
	TypeInt16:         "Int16",
	TypeUInt16:        "UInt16",
	TypeInt32:         "Int32",
	TypeUInt32:        "UInt32",
	TypeInt64:         "Int64",
	TypeUInt64:        "UInt64",
	TypeFloat:         "Float",
	TypeDouble:        "Double",
	TypeString:        "String",
	TypeDateTime:      "DateTime",
	TypeGUID:          "Guid",
	TypeByteString:    "ByteString",
	TypeNodeID:        "NodeId",
	TypeStatusCode:    "StatusCode",
	TypeQualifiedName: "QualifiedName",
	TypeLocalizedText: "LocalizedText",
}

func (t TypeID) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Variant is a typed value. Arrays hold a []interface{} of scalar values.
type Variant struct {
	Type    TypeID
	Value   interface{}
	IsArray bool
}

// NewVariant infers the built-in type from a Go value. It accepts the
// scalar Go types that map one-to-one onto built-in types.
func NewVariant(v interface{}) (*Variant, error) {
	var t TypeID
	switch v.(type) {
	case nil:
		t = TypeNull
	case bool:
		t = TypeBoolean
	case int8:
		t = TypeSByte
	case uint8:
		t = TypeByte
	case int16:
		t = TypeInt16
	case uint16:
		t = TypeUInt16
	case int32:
		t = TypeInt32
	case uint32:
		t = TypeUInt32
	case int64:
		t = TypeInt64
	case int:
		v, t = int64(v.(int)), TypeInt64
	case uint64:
		t = TypeUInt64
	case float32:
		t = TypeFloat
	case float64:
		t = TypeDouble
	case string:
		t = TypeString
	case time.Time:
		t = TypeDateTime
	case []byte:
		t = TypeByteString
	case NodeID:
		t = TypeNodeID
	case StatusCode:
		t = TypeStatusCode
	case QualifiedName:
		t = TypeQualifiedName
	case LocalizedText:
		t = TypeLocalizedText
	case *Variant:
		return v.(*Variant), nil
	default:
		return nil, fmt.Errorf("opcua: no variant type for %T", v)
	}
	return &Variant{Type: t, Value: v}, nil
}

// MustVariant is NewVariant for values known to be supported.
func MustVariant(v interface{}) *Variant {
	vv, err := NewVariant(v)
	if err != nil {
		panic(err)
	}
	return vv
}

func (v *Variant) String() string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%v)", v.Type, v.Value)
}

// Data value encoding mask bits.
const (
	DataValueValue             byte = 0x01
	DataValueStatusCode        byte = 0x02
	DataValueSourceTimestamp   byte = 0x04
	DataValueServerTimestamp   byte = 0x08
	DataValueSourcePicoseconds byte = 0x10
	DataValueServerPicoseconds byte = 0x20
)

// DataValue is a value with its status and timestamps.
type DataValue struct {
	Value             *Variant
	Status            StatusCode
	SourceTimestamp   time.Time
	ServerTimestamp   time.Time
	SourcePicoseconds uint16
	ServerPicoseconds uint16
}

// encodingMask derives the mask from the fields that are set.
func (dv *DataValue) encodingMask() byte {
	var m byte
	if dv.Value != nil {
		m |= DataValueValue
	}
	if dv.Status != StatusOK {
		m |= DataValueStatusCode
	}
	if !dv.SourceTimestamp.IsZero() {
		m |= DataValueSourceTimestamp
	}
	if !dv.ServerTimestamp.IsZero() {
		m |= DataValueServerTimestamp
	}
	if dv.SourcePicoseconds != 0 {
		m |= DataValueSourcePicoseconds
	}
	if dv.ServerPicoseconds != 0 {
		m |= DataValueServerPicoseconds
	}
	return m
}
