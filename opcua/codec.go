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
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// ticks between 1601-01-01 and 1970-01-01 in 100 ns units.
const dateTimeEpochOffset = 116444736000000000

// Encoder writes OPC UA binary encoded values to a growing buffer.
type Encoder struct {
	buf bytes.Buffer
	err error
}

// NewEncoder returns an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Bytes returns the encoded bytes.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int { return e.buf.Len() }

// Err returns the first error raised while encoding.
func (e *Encoder) Err() error { return e.err }

func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// WriteRaw appends b unchanged.
func (e *Encoder) WriteRaw(b []byte) { e.buf.Write(b) }

func (e *Encoder) WriteBoolean(v bool) {
	if v {
		e.buf.WriteByte(1)
		return
	}
	e.buf.WriteByte(0)
}

func (e *Encoder) WriteByte(v byte) { e.buf.WriteByte(v) }

func (e *Encoder) WriteSByte(v int8) { e.buf.WriteByte(byte(v)) }

func (e *Encoder) WriteUInt16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) WriteInt16(v int16) { e.WriteUInt16(uint16(v)) }

func (e *Encoder) WriteUInt32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) WriteInt32(v int32) { e.WriteUInt32(uint32(v)) }

func (e *Encoder) WriteUInt64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) WriteInt64(v int64) { e.WriteUInt64(uint64(v)) }

func (e *Encoder) WriteFloat(v float32) { e.WriteUInt32(math.Float32bits(v)) }

func (e *Encoder) WriteDouble(v float64) { e.WriteUInt64(math.Float64bits(v)) }

// WriteString writes a length-prefixed UTF-8 string. The empty string is
// encoded as null (-1).
func (e *Encoder) WriteString(v string) {
	if v == "" {
		e.WriteInt32(-1)
		return
	}
	e.WriteInt32(int32(len(v)))
	e.buf.WriteString(v)
}

// WriteByteString writes a length-prefixed byte string. nil is encoded as null.
func (e *Encoder) WriteByteString(v []byte) {
	if v == nil {
		e.WriteInt32(-1)
		return
	}
	e.WriteInt32(int32(len(v)))
	e.buf.Write(v)
}

func (e *Encoder) WriteStringArray(v []string) {
	if v == nil {
		e.WriteInt32(-1)
		return
	}
	e.WriteInt32(int32(len(v)))
	for _, s := range v {
		e.WriteString(s)
	}
}

// WriteDateTime writes t as 100 ns ticks since 1601. The zero time is 0.
func (e *Encoder) WriteDateTime(t time.Time) {
	if t.IsZero() {
		e.WriteInt64(0)
		return
	}
	e.WriteInt64(t.UnixNano()/100 + dateTimeEpochOffset)
}

// WriteGUID writes a GUID in its mixed-endian wire form.
func (e *Encoder) WriteGUID(v [16]byte) {
	e.WriteUInt32(binary.BigEndian.Uint32(v[0:4]))
	e.WriteUInt16(binary.BigEndian.Uint16(v[4:6]))
	e.WriteUInt16(binary.BigEndian.Uint16(v[6:8]))
	e.buf.Write(v[8:16])
}

// WriteNodeID picks the most compact encoding for numeric ids.
func (e *Encoder) WriteNodeID(n NodeID) {
	switch n.Type {
	case NodeIDTypeNumeric:
		switch {
		case n.Namespace == 0 && n.Numeric <= 0xFF:
			e.WriteByte(0x00)
			e.WriteByte(byte(n.Numeric))
		case n.Namespace <= 0xFF && n.Numeric <= 0xFFFF:
			e.WriteByte(0x01)
			e.WriteByte(byte(n.Namespace))
			e.WriteUInt16(uint16(n.Numeric))
		default:
			e.WriteByte(0x02)
			e.WriteUInt16(n.Namespace)
			e.WriteUInt32(n.Numeric)
		}
	case NodeIDTypeString:
		e.WriteByte(0x03)
		e.WriteUInt16(n.Namespace)
		e.WriteString(n.Name)
	case NodeIDTypeGUID:
		e.WriteByte(0x04)
		e.WriteUInt16(n.Namespace)
		e.WriteGUID(n.GUID)
	case NodeIDTypeOpaque:
		e.WriteByte(0x05)
		e.WriteUInt16(n.Namespace)
		e.WriteByteString(n.Opaque)
	default:
		e.fail(fmt.Errorf("%w: node id type %d", ErrInvalidNodeID, n.Type))
	}
}

func (e *Encoder) WriteQualifiedName(q QualifiedName) {
	e.WriteUInt16(q.NamespaceIndex)
	e.WriteString(q.Name)
}

func (e *Encoder) WriteLocalizedText(l LocalizedText) {
	var mask byte
	if l.Locale != "" {
		mask |= 0x01
	}
	if l.Text != "" {
		mask |= 0x02
	}
	e.WriteByte(mask)
	if l.Locale != "" {
		e.WriteString(l.Locale)
	}
	if l.Text != "" {
		e.WriteString(l.Text)
	}
}

func (e *Encoder) WriteStatusCode(s StatusCode) { e.WriteUInt32(uint32(s)) }

// WriteExtensionObject writes a binary-bodied extension object. A null
// typeID writes an empty object.
func (e *Encoder) WriteExtensionObject(typeID NodeID, body []byte) {
	e.WriteNodeID(typeID)
	if typeID.IsNull() && body == nil {
		e.WriteByte(0x00)
		return
	}
	e.WriteByte(0x01)
	e.WriteByteString(body)
}

// WriteVariant writes v. A nil variant is written as Null.
func (e *Encoder) WriteVariant(v *Variant) {
	if v == nil || v.Type == TypeNull {
		e.WriteByte(0)
		return
	}
	if v.IsArray {
		items, ok := v.Value.([]interface{})
		if !ok {
			e.fail(fmt.Errorf("opcua: array variant holds %T", v.Value))
			return
		}
		e.WriteByte(byte(v.Type) | 0x80)
		e.WriteInt32(int32(len(items)))
		for _, it := range items {
			e.writeScalar(v.Type, it)
		}
		return
	}
	e.WriteByte(byte(v.Type))
	e.writeScalar(v.Type, v.Value)
}

func (e *Encoder) writeScalar(t TypeID, val interface{}) {
	ok := true
	switch t {
	case TypeBoolean:
		var x bool
		x, ok = val.(bool)
		e.WriteBoolean(x)
	case TypeSByte:
		var x int8
		x, ok = val.(int8)
		e.WriteSByte(x)
	case TypeByte:
		var x uint8
		x, ok = val.(uint8)
		e.WriteByte(x)
	case TypeInt16:
		var x int16
		x, ok = val.(int16)
		e.WriteInt16(x)
	case TypeUInt16:
		var x uint16
		x, ok = val.(uint16)
		e.WriteUInt16(x)
	case TypeInt32:
		var x int32
		x, ok = val.(int32)
		e.WriteInt32(x)
	case TypeUInt32:
		var x uint32
		x, ok = val.(uint32)
		e.WriteUInt32(x)
	case TypeInt64:
		var x int64
		x, ok = val.(int64)
		e.WriteInt64(x)
	case TypeUInt64:
		var x uint64
		x, ok = val.(uint64)
		e.WriteUInt64(x)
	case TypeFloat:
		var x float32
		x, ok = val.(float32)
		e.WriteFloat(x)
	case TypeDouble:
		var x float64
		x, ok = val.(float64)
		e.WriteDouble(x)
	case TypeString:
		var x string
		x, ok = val.(string)
		e.WriteString(x)
	case TypeDateTime:
		var x time.Time
		x, ok = val.(time.Time)
		e.WriteDateTime(x)
	case TypeGUID:
		var x [16]byte
		x, ok = val.([16]byte)
		e.WriteGUID(x)
	case TypeByteString:
		var x []byte
		x, ok = val.([]byte)
		e.WriteByteString(x)
	case TypeNodeID:
		var x NodeID
		x, ok = val.(NodeID)
		e.WriteNodeID(x)
	case TypeStatusCode:
		var x StatusCode
		x, ok = val.(StatusCode)
		e.WriteStatusCode(x)
	case TypeQualifiedName:
		var x QualifiedName
		x, ok = val.(QualifiedName)
		e.WriteQualifiedName(x)
	case TypeLocalizedText:
		var x LocalizedText
		x, ok = val.(LocalizedText)
		e.WriteLocalizedText(x)
	default:
		e.fail(fmt.Errorf("opcua: cannot encode variant type %s", t))
		return
	}
	if !ok {
		e.fail(fmt.Errorf("opcua: variant type %s holds %T", t, val))
	}
}

// WriteDataValue writes dv with a mask derived from its set fields.
func (e *Encoder) WriteDataValue(dv *DataValue) {
	if dv == nil {
		e.WriteByte(0)
		return
	}
	mask := dv.encodingMask()
	e.WriteByte(mask)
	if mask&DataValueValue != 0 {
		e.WriteVariant(dv.Value)
	}
	if mask&DataValueStatusCode != 0 {
		e.WriteStatusCode(dv.Status)
	}
	if mask&DataValueSourceTimestamp != 0 {
		e.WriteDateTime(dv.SourceTimestamp)
	}
	if mask&DataValueSourcePicoseconds != 0 {
		e.WriteUInt16(dv.SourcePicoseconds)
	}
	if mask&DataValueServerTimestamp != 0 {
		e.WriteDateTime(dv.ServerTimestamp)
	}
	if mask&DataValueServerPicoseconds != 0 {
		e.WriteUInt16(dv.ServerPicoseconds)
	}
}

// Decoder reads OPC UA binary encoded values. The first failure is sticky:
// later reads return zero values and Err reports the original cause.
type Decoder struct {
	data []byte
	pos  int
	err  error
}

// NewDecoder returns a decoder over data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Err returns the first decoding error.
func (d *Decoder) Err() error { return d.err }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.data) - d.pos }

func (d *Decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidMessage}, args...)...)
	}
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.pos+n > len(d.data) {
		d.fail("need %d bytes at offset %d, have %d", n, d.pos, len(d.data)-d.pos)
		return nil
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *Decoder) ReadBoolean() bool { return d.ReadByte() != 0 }

func (d *Decoder) ReadByte() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *Decoder) ReadSByte() int8 { return int8(d.ReadByte()) }

func (d *Decoder) ReadUInt16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *Decoder) ReadInt16() int16 { return int16(d.ReadUInt16()) }

func (d *Decoder) ReadUInt32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *Decoder) ReadInt32() int32 { return int32(d.ReadUInt32()) }

func (d *Decoder) ReadUInt64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *Decoder) ReadInt64() int64 { return int64(d.ReadUInt64()) }

func (d *Decoder) ReadFloat() float32 { return math.Float32frombits(d.ReadUInt32()) }

func (d *Decoder) ReadDouble() float64 { return math.Float64frombits(d.ReadUInt64()) }

func (d *Decoder) ReadString() string {
	n := d.ReadInt32()
	if n <= 0 {
		return ""
	}
	return string(d.take(int(n)))
}

func (d *Decoder) ReadByteString() []byte {
	n := d.ReadInt32()
	if n < 0 {
		return nil
	}
	b := d.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// arrayLen reads an array length and bounds it by the remaining input.
func (d *Decoder) arrayLen() int {
	n := d.ReadInt32()
	if n <= 0 {
		return 0
	}
	if int(n) > d.Remaining() {
		d.fail("array length %d exceeds message", n)
		return 0
	}
	return int(n)
}

func (d *Decoder) ReadStringArray() []string {
	n := d.arrayLen()
	if n == 0 {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = d.ReadString()
	}
	return out
}

func (d *Decoder) ReadDateTime() time.Time {
	ticks := d.ReadInt64()
	if ticks == 0 {
		return time.Time{}
	}
	return time.Unix(0, (ticks-dateTimeEpochOffset)*100).UTC()
}

func (d *Decoder) ReadGUID() [16]byte {
	var g [16]byte
	binary.BigEndian.PutUint32(g[0:4], d.ReadUInt32())
	binary.BigEndian.PutUint16(g[4:6], d.ReadUInt16())
	binary.BigEndian.PutUint16(g[6:8], d.ReadUInt16())
	copy(g[8:16], d.take(8))
	return g
}

// ReadNodeID reads any NodeID encoding. Expanded node id flags are accepted
// and their extra fields discarded.
func (d *Decoder) ReadNodeID() NodeID {
	enc := d.ReadByte()
	var n NodeID
	switch enc & 0x0F {
	case 0x00:
		n = NewNumericNodeID(0, uint32(d.ReadByte()))
	case 0x01:
		ns := d.ReadByte()
		n = NewNumericNodeID(uint16(ns), uint32(d.ReadUInt16()))
	case 0x02:
		ns := d.ReadUInt16()
		n = NewNumericNodeID(ns, d.ReadUInt32())
	case 0x03:
		ns := d.ReadUInt16()
		n = NewStringNodeID(ns, d.ReadString())
	case 0x04:
		ns := d.ReadUInt16()
		n = NewGUIDNodeID(ns, d.ReadGUID())
	case 0x05:
		ns := d.ReadUInt16()
		n = NodeID{Type: NodeIDTypeOpaque, Namespace: ns, Opaque: d.ReadByteString()}
	default:
		d.fail("unknown node id encoding 0x%02x", enc)
	}
	if enc&0x80 != 0 {
		d.ReadString()
	}
	if enc&0x40 != 0 {
		d.ReadUInt32()
	}
	return n
}

func (d *Decoder) ReadQualifiedName() QualifiedName {
	ns := d.ReadUInt16()
	return QualifiedName{NamespaceIndex: ns, Name: d.ReadString()}
}

func (d *Decoder) ReadLocalizedText() LocalizedText {
	mask := d.ReadByte()
	var l LocalizedText
	if mask&0x01 != 0 {
		l.Locale = d.ReadString()
	}
	if mask&0x02 != 0 {
		l.Text = d.ReadString()
	}
	return l
}

func (d *Decoder) ReadStatusCode() StatusCode { return StatusCode(d.ReadUInt32()) }

// ReadExtensionObject returns the type id and the raw binary body. XML
// bodies are skipped and reported with a nil body.
func (d *Decoder) ReadExtensionObject() (NodeID, []byte) {
	typeID := d.ReadNodeID()
	switch d.ReadByte() {
	case 0x00:
		return typeID, nil
	case 0x01:
		return typeID, d.ReadByteString()
	case 0x02:
		d.ReadByteString()
		return typeID, nil
	default:
		d.fail("bad extension object encoding")
		return typeID, nil
	}
}

// skipDiagnosticInfo consumes a DiagnosticInfo without keeping it.
func (d *Decoder) skipDiagnosticInfo() {
	mask := d.ReadByte()
	if mask&0x01 != 0 {
		d.ReadInt32()
	}
	if mask&0x02 != 0 {
		d.ReadInt32()
	}
	if mask&0x04 != 0 {
		d.ReadInt32()
	}
	if mask&0x08 != 0 {
		d.ReadInt32()
	}
	if mask&0x10 != 0 {
		d.ReadString()
	}
	if mask&0x20 != 0 {
		d.ReadStatusCode()
	}
	if mask&0x40 != 0 && d.err == nil {
		d.skipDiagnosticInfo()
	}
}

func (d *Decoder) skipDiagnosticInfos() {
	n := d.arrayLen()
	for i := 0; i < n && d.err == nil; i++ {
		d.skipDiagnosticInfo()
	}
}

func (d *Decoder) ReadVariant() *Variant {
	mask := d.ReadByte()
	t := TypeID(mask & 0x3F)
	if t == TypeNull {
		return &Variant{Type: TypeNull}
	}
	if mask&0x80 == 0 {
		return &Variant{Type: t, Value: d.readScalar(t)}
	}
	n := d.arrayLen()
	items := make([]interface{}, n)
	for i := 0; i < n && d.err == nil; i++ {
		items[i] = d.readScalar(t)
	}
	if mask&0x40 != 0 {
		dims := d.arrayLen()
		for i := 0; i < dims; i++ {
			d.ReadInt32()
		}
	}
	return &Variant{Type: t, Value: items, IsArray: true}
}

func (d *Decoder) readScalar(t TypeID) interface{} {
	switch t {
	case TypeBoolean:
		return d.ReadBoolean()
	case TypeSByte:
		return d.ReadSByte()
	case TypeByte:
		return d.ReadByte()
	case TypeInt16:
		return d.ReadInt16()
	case TypeUInt16:
		return d.ReadUInt16()
	case TypeInt32:
		return d.ReadInt32()
	case TypeUInt32:
		return d.ReadUInt32()
	case TypeInt64:
		return d.ReadInt64()
	case TypeUInt64:
		return d.ReadUInt64()
	case TypeFloat:
		return d.ReadFloat()
	case TypeDouble:
		return d.ReadDouble()
	case TypeString:
		return d.ReadString()
	case TypeDateTime:
		return d.ReadDateTime()
	case TypeGUID:
		return d.ReadGUID()
	case TypeByteString:
		return d.ReadByteString()
	case TypeNodeID:
		return d.ReadNodeID()
	case TypeStatusCode:
		return d.ReadStatusCode()
	case TypeQualifiedName:
		return d.ReadQualifiedName()
	case TypeLocalizedText:
		return d.ReadLocalizedText()
	case TypeExtensionObject:
		_, body := d.ReadExtensionObject()
		return body
	}
	d.fail("unsupported variant type %s", t)
	return nil
}

func (d *Decoder) ReadDataValue() *DataValue {
	mask := d.ReadByte()
	dv := &DataValue{}
	if mask&DataValueValue != 0 {
		dv.Value = d.ReadVariant()
	}
	if mask&DataValueStatusCode != 0 {
		dv.Status = d.ReadStatusCode()
	}
	if mask&DataValueSourceTimestamp != 0 {
		dv.SourceTimestamp = d.ReadDateTime()
	}
	if mask&DataValueSourcePicoseconds != 0 {
		dv.SourcePicoseconds = d.ReadUInt16()
	}
	if mask&DataValueServerTimestamp != 0 {
		dv.ServerTimestamp = d.ReadDateTime()
	}
	if mask&DataValueServerPicoseconds != 0 {
		dv.ServerPicoseconds = d.ReadUInt16()
	}
	return dv
}
