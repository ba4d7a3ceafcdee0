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

package bacnet

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	bvlcHeaderLen  = 4
	npduVersion    = 0x01
	maxNestedDepth = 16
)

// Max-APDU-length-accepted codes, indexed by code
var maxAPDUSizes = [...]uint16{50, 128, 206, 480, 1024, 1476}

// maxAPDUCode returns the largest code whose size does not exceed n
func maxAPDUCode(n uint16) byte {
	code := 0
	for i, size := range maxAPDUSizes {
		if n >= size {
			code = i
		}
	}
	return byte(code)
}

func maxAPDUFromCode(code byte) uint16 {
	if int(code) < len(maxAPDUSizes) {
		return maxAPDUSizes[code]
	}
	return 0
}

// BVLCHeader is the BACnet Virtual Link Control header
type BVLCHeader struct {
	Type     BVLCType
	Function BVLCFunction
	Length   uint16
	// Origin is the original sender of a Forwarded-NPDU
	Origin *net.UDPAddr
}

// AppendBVLC appends a BVLC header for a payload of payloadLen bytes
func AppendBVLC(dst []byte, function BVLCFunction, payloadLen int) []byte {
	total := bvlcHeaderLen + payloadLen
	return append(dst, byte(BVLCTypeBACnetIP), byte(function), byte(total>>8), byte(total))
}

// DecodeBVLC decodes a BVLC header and returns the NPDU that follows it
func DecodeBVLC(data []byte) (*BVLCHeader, []byte, error) {
	if len(data) < bvlcHeaderLen {
		return nil, nil, ErrInvalidBVLC
	}

	h := &BVLCHeader{
		Type:     BVLCType(data[0]),
		Function: BVLCFunction(data[1]),
		Length:   binary.BigEndian.Uint16(data[2:4]),
	}
	if h.Type != BVLCTypeBACnetIP {
		return nil, nil, fmt.Errorf("%w: type %02x", ErrInvalidBVLC, data[0])
	}
	if int(h.Length) < bvlcHeaderLen || int(h.Length) > len(data) {
		return nil, nil, fmt.Errorf("%w: length %d of %d bytes", ErrInvalidBVLC, h.Length, len(data))
	}

	payload := data[bvlcHeaderLen:h.Length]
	switch h.Function {
	case BVLCOriginalUnicastNPDU, BVLCOriginalBroadcastNPDU:
	case BVLCForwardedNPDU:
		if len(payload) < 6 {
			return nil, nil, fmt.Errorf("%w: short forwarded origin", ErrInvalidBVLC)
		}
		h.Origin = &net.UDPAddr{
			IP:   net.IPv4(payload[0], payload[1], payload[2], payload[3]).To4(),
			Port: int(binary.BigEndian.Uint16(payload[4:6])),
		}
		payload = payload[6:]
	default:
		return h, nil, fmt.Errorf("%w: function %02x carries no NPDU", ErrInvalidBVLC, byte(h.Function))
	}

	return h, payload, nil
}

// NPDU (Network Protocol Data Unit)
type NPDU struct {
	Version     uint8
	Control     NPDUControl
	DestNet     uint16
	DestAddr    []byte
	HopCount    uint8
	SrcNet      uint16
	SrcAddr     []byte
	MessageType uint8
	VendorID    uint16
}

// IsNetworkMessage reports whether the NPDU carries a network layer message
// instead of an APDU.
func (n *NPDU) IsNetworkMessage() bool {
	return n.Control&NPDUControlNetworkLayerMessage != 0
}

// AppendNPDU appends an NPDU header. A routed dest adds DNET/DADR, a routed
// src adds SNET/SADR.
func AppendNPDU(dst []byte, dest, src *Address, expectingReply bool) []byte {
	control := NPDUControlPriorityNormal
	if expectingReply {
		control |= NPDUControlExpectingReply
	}
	routedDest := dest != nil && dest.IsRouted()
	routedSrc := src != nil && src.IsRouted()
	if routedDest {
		control |= NPDUControlDestSpecifier
	}
	if routedSrc {
		control |= NPDUControlSourceSpecifier
	}

	dst = append(dst, npduVersion, byte(control))
	if routedDest {
		dst = append(dst, byte(dest.Net>>8), byte(dest.Net), byte(len(dest.Adr)))
		dst = append(dst, dest.Adr...)
	}
	if routedSrc {
		dst = append(dst, byte(src.Net>>8), byte(src.Net), byte(len(src.Adr)))
		dst = append(dst, src.Adr...)
	}
	if routedDest {
		dst = append(dst, 0xFF)
	}
	return dst
}

// DecodeNPDU decodes an NPDU header and returns the APDU that follows it
func DecodeNPDU(data []byte) (*NPDU, []byte, error) {
	if len(data) < 2 {
		return nil, nil, ErrInvalidNPDU
	}

	npdu := &NPDU{
		Version: data[0],
		Control: NPDUControl(data[1]),
	}
	if npdu.Version != npduVersion {
		return nil, nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidNPDU, npdu.Version)
	}

	offset := 2
	readSpec := func() (uint16, []byte, error) {
		if len(data) < offset+3 {
			return 0, nil, ErrInvalidNPDU
		}
		netNum := binary.BigEndian.Uint16(data[offset:])
		addrLen := int(data[offset+2])
		offset += 3
		if len(data) < offset+addrLen {
			return 0, nil, ErrInvalidNPDU
		}
		addr := make([]byte, addrLen)
		copy(addr, data[offset:offset+addrLen])
		offset += addrLen
		return netNum, addr, nil
	}

	var err error
	if npdu.Control&NPDUControlDestSpecifier != 0 {
		if npdu.DestNet, npdu.DestAddr, err = readSpec(); err != nil {
			return nil, nil, err
		}
	}
	if npdu.Control&NPDUControlSourceSpecifier != 0 {
		if npdu.SrcNet, npdu.SrcAddr, err = readSpec(); err != nil {
			return nil, nil, err
		}
	}
	if npdu.Control&NPDUControlDestSpecifier != 0 {
		if len(data) < offset+1 {
			return nil, nil, ErrInvalidNPDU
		}
		npdu.HopCount = data[offset]
		offset++
	}

	if npdu.IsNetworkMessage() {
		if len(data) < offset+1 {
			return nil, nil, ErrInvalidNPDU
		}
		npdu.MessageType = data[offset]
		offset++
		if npdu.MessageType >= 0x80 {
			if len(data) < offset+2 {
				return nil, nil, ErrInvalidNPDU
			}
			npdu.VendorID = binary.BigEndian.Uint16(data[offset:])
			offset += 2
		}
	}

	return npdu, data[offset:], nil
}

// APDU is a decoded APDU header. Data holds the service parameters.
type APDU struct {
	Type        PDUType
	Segmented   bool
	MoreFollows bool
	Server      bool
	MaxSegments uint8
	MaxAPDU     uint16
	InvokeID    uint8
	SequenceNum uint8
	WindowSize  uint8
	// Service is the service choice, or the reason for Reject and Abort
	Service uint8
	Data    []byte
}

// DecodeAPDU decodes an APDU header
func DecodeAPDU(data []byte) (*APDU, error) {
	if len(data) < 1 {
		return nil, ErrInvalidAPDU
	}

	switch PDUType(data[0] & 0xF0) {
	case PDUTypeConfirmedRequest:
		return decodeConfirmedRequest(data)
	case PDUTypeUnconfirmedRequest:
		if len(data) < 2 {
			return nil, ErrInvalidAPDU
		}
		return &APDU{Type: PDUTypeUnconfirmedRequest, Service: data[1], Data: data[2:]}, nil
	case PDUTypeSimpleAck:
		if len(data) < 3 {
			return nil, ErrInvalidAPDU
		}
		return &APDU{Type: PDUTypeSimpleAck, InvokeID: data[1], Service: data[2]}, nil
	case PDUTypeComplexAck:
		return decodeComplexAck(data)
	case PDUTypeError:
		if len(data) < 3 {
			return nil, ErrInvalidAPDU
		}
		return &APDU{Type: PDUTypeError, InvokeID: data[1], Service: data[2], Data: data[3:]}, nil
	case PDUTypeReject:
		if len(data) < 3 {
			return nil, ErrInvalidAPDU
		}
		return &APDU{Type: PDUTypeReject, InvokeID: data[1], Service: data[2]}, nil
	case PDUTypeAbort:
		if len(data) < 3 {
			return nil, ErrInvalidAPDU
		}
		return &APDU{Type: PDUTypeAbort, Server: data[0]&0x01 != 0, InvokeID: data[1], Service: data[2]}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported PDU type %02x", ErrInvalidAPDU, data[0]&0xF0)
	}
}

func decodeConfirmedRequest(data []byte) (*APDU, error) {
	if len(data) < 4 {
		return nil, ErrInvalidAPDU
	}

	apdu := &APDU{
		Type:        PDUTypeConfirmedRequest,
		Segmented:   data[0]&0x08 != 0,
		MoreFollows: data[0]&0x04 != 0,
		MaxSegments: (data[1] >> 4) & 0x07,
		MaxAPDU:     maxAPDUFromCode(data[1] & 0x0F),
		InvokeID:    data[2],
		Service:     data[3],
		Data:        data[4:],
	}
	if apdu.Segmented {
		if len(data) < 6 {
			return nil, ErrInvalidAPDU
		}
		apdu.SequenceNum = data[3]
		apdu.WindowSize = data[4]
		apdu.Service = data[5]
		apdu.Data = data[6:]
	}
	return apdu, nil
}

func decodeComplexAck(data []byte) (*APDU, error) {
	if len(data) < 3 {
		return nil, ErrInvalidAPDU
	}

	apdu := &APDU{
		Type:        PDUTypeComplexAck,
		Segmented:   data[0]&0x08 != 0,
		MoreFollows: data[0]&0x04 != 0,
		InvokeID:    data[1],
		Service:     data[2],
		Data:        data[3:],
	}
	if apdu.Segmented {
		if len(data) < 5 {
			return nil, ErrInvalidAPDU
		}
		apdu.SequenceNum = data[2]
		apdu.WindowSize = data[3]
		apdu.Service = data[4]
		apdu.Data = data[5:]
	}
	return apdu, nil
}

// appendConfirmedHeader appends a confirmed request header. The
// segmented-response-accepted bit is never set.
func appendConfirmedHeader(dst []byte, invokeID uint8, service ConfirmedServiceChoice, maxAPDU uint16) []byte {
	return append(dst, byte(PDUTypeConfirmedRequest), maxAPDUCode(maxAPDU), invokeID, byte(service))
}

// Tag is a decoded tag header
type Tag struct {
	Number uint8
	Class  TagClass
	// Length is the content length. For application booleans it is the
	// value itself and no content follows.
	Length  uint32
	Opening bool
	Closing bool
}

// DecodeTag decodes one tag header and returns it with the header length
func DecodeTag(data []byte) (Tag, int, error) {
	if len(data) < 1 {
		return Tag{}, 0, ErrInvalidAPDU
	}

	t := Tag{
		Number: data[0] >> 4,
		Class:  TagClass((data[0] >> 3) & 0x01),
	}
	lvt := data[0] & 0x07
	n := 1

	if t.Number == 0x0F {
		if len(data) < 2 {
			return Tag{}, 0, ErrInvalidAPDU
		}
		t.Number = data[1]
		n = 2
	}

	switch {
	case t.Class == TagClassContext && lvt == 6:
		t.Opening = true
		return t, n, nil
	case t.Class == TagClassContext && lvt == 7:
		t.Closing = true
		return t, n, nil
	case lvt < 5:
		t.Length = uint32(lvt)
		return t, n, nil
	case lvt > 5:
		return Tag{}, 0, fmt.Errorf("%w: application tag with lvt %d", ErrInvalidAPDU, lvt)
	}

	// Extended length
	if len(data) < n+1 {
		return Tag{}, 0, ErrInvalidAPDU
	}
	ext := data[n]
	n++
	switch {
	case ext < 254:
		t.Length = uint32(ext)
	case ext == 254:
		if len(data) < n+2 {
			return Tag{}, 0, ErrInvalidAPDU
		}
		t.Length = uint32(binary.BigEndian.Uint16(data[n:]))
		n += 2
	default:
		if len(data) < n+4 {
			return Tag{}, 0, ErrInvalidAPDU
		}
		t.Length = binary.BigEndian.Uint32(data[n:])
		n += 4
	}
	return t, n, nil
}

// AppendTag appends a tag header for length bytes of content
func AppendTag(dst []byte, tagNum uint8, class TagClass, length int) []byte {
	first := uint8(class) << 3
	if tagNum < 15 {
		first |= tagNum << 4
	} else {
		first |= 0xF0
	}

	if length < 5 {
		dst = append(dst, first|uint8(length))
	} else {
		dst = append(dst, first|0x05)
	}
	if tagNum >= 15 {
		dst = append(dst, tagNum)
	}

	switch {
	case length < 5:
	case length < 254:
		dst = append(dst, byte(length))
	case length < 65536:
		dst = append(dst, 254, byte(length>>8), byte(length))
	default:
		dst = append(dst, 255, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
	}
	return dst
}

// AppendOpeningTag appends a context opening tag
func AppendOpeningTag(dst []byte, tagNum uint8) []byte {
	if tagNum < 15 {
		return append(dst, tagNum<<4|0x0E)
	}
	return append(dst, 0xFE, tagNum)
}

// AppendClosingTag appends a context closing tag
func AppendClosingTag(dst []byte, tagNum uint8) []byte {
	if tagNum < 15 {
		return append(dst, tagNum<<4|0x0F)
	}
	return append(dst, 0xFF, tagNum)
}

func unsignedBytes(value uint32) []byte {
	switch {
	case value < 0x100:
		return []byte{byte(value)}
	case value < 0x10000:
		return []byte{byte(value >> 8), byte(value)}
	case value < 0x1000000:
		return []byte{byte(value >> 16), byte(value >> 8), byte(value)}
	}
	return []byte{byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value)}
}

func signedBytes(value int32) []byte {
	switch {
	case value >= -128 && value < 128:
		return []byte{byte(value)}
	case value >= -32768 && value < 32768:
		return []byte{byte(value >> 8), byte(value)}
	case value >= -8388608 && value < 8388608:
		return []byte{byte(value >> 16), byte(value >> 8), byte(value)}
	}
	return []byte{byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value)}
}

func appendTagged(dst []byte, tagNum uint8, class TagClass, content []byte) []byte {
	dst = AppendTag(dst, tagNum, class, len(content))
	return append(dst, content...)
}

// AppendContextUnsigned appends a context-tagged unsigned integer
func AppendContextUnsigned(dst []byte, tagNum uint8, value uint32) []byte {
	return appendTagged(dst, tagNum, TagClassContext, unsignedBytes(value))
}

// AppendContextEnumerated appends a context-tagged enumeration
func AppendContextEnumerated(dst []byte, tagNum uint8, value uint32) []byte {
	return appendTagged(dst, tagNum, TagClassContext, unsignedBytes(value))
}

// AppendContextObjectID appends a context-tagged object identifier
func AppendContextObjectID(dst []byte, tagNum uint8, oid ObjectIdentifier) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], oid.Encode())
	return appendTagged(dst, tagNum, TagClassContext, b[:])
}

// AppendApplicationValue appends v with its application tag. Slices append
// one element after another.
func AppendApplicationValue(dst []byte, v interface{}) ([]byte, error) {
	app := func(tag ApplicationTag, content []byte) []byte {
		return appendTagged(dst, uint8(tag), TagClassApplication, content)
	}

	switch val := v.(type) {
	case nil:
		return append(dst, 0x00), nil
	case bool:
		if val {
			return append(dst, 0x11), nil
		}
		return append(dst, 0x10), nil
	case uint32:
		return app(TagUnsignedInt, unsignedBytes(val)), nil
	case uint16:
		return app(TagUnsignedInt, unsignedBytes(uint32(val))), nil
	case int:
		if val >= 0 && int64(val) <= math.MaxUint32 {
			return app(TagUnsignedInt, unsignedBytes(uint32(val))), nil
		}
		if int64(val) < math.MinInt32 || val > 0 {
			return nil, fmt.Errorf("value %d out of range", val)
		}
		return app(TagSignedInt, signedBytes(int32(val))), nil
	case int32:
		return app(TagSignedInt, signedBytes(val)), nil
	case float32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], math.Float32bits(val))
		return app(TagReal, b[:]), nil
	case float64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(val))
		return app(TagDouble, b[:]), nil
	case []byte:
		return app(TagOctetString, val), nil
	case string:
		content := make([]byte, 0, 1+len(val))
		content = append(content, 0) // UTF-8
		content = append(content, val...)
		return app(TagCharacterString, content), nil
	case BitString:
		return app(TagBitString, bitStringBytes(val)), nil
	case Enumerated:
		return app(TagEnumerated, unsignedBytes(uint32(val))), nil
	case Date:
		return app(TagDate, []byte{byte(val.Year - 1900), val.Month, val.Day, val.Weekday}), nil
	case Time:
		return app(TagTime, []byte{val.Hour, val.Minute, val.Second, val.Hundredth}), nil
	case ObjectIdentifier:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], val.Encode())
		return app(TagObjectID, b[:]), nil
	case []ObjectIdentifier:
		var err error
		for _, oid := range val {
			if dst, err = AppendApplicationValue(dst, oid); err != nil {
				return nil, err
			}
		}
		return dst, nil
	case []interface{}:
		var err error
		for _, elem := range val {
			if dst, err = AppendApplicationValue(dst, elem); err != nil {
				return nil, err
			}
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

func bitStringBytes(b BitString) []byte {
	n := (len(b.Bits) + 7) / 8
	out := make([]byte, 1+n)
	out[0] = byte(n*8 - len(b.Bits))
	for i, bit := range b.Bits {
		if bit {
			out[1+i/8] |= 0x80 >> (i % 8)
		}
	}
	return out
}

// tagReader walks tagged content with bounds checks on every read
type tagReader struct {
	data []byte
	off  int
}

func (r *tagReader) empty() bool {
	return r.off >= len(r.data)
}

func (r *tagReader) peek() (Tag, int, error) {
	return DecodeTag(r.data[r.off:])
}

func (r *tagReader) next() (Tag, error) {
	t, n, err := r.peek()
	if err != nil {
		return Tag{}, err
	}
	r.off += n
	return t, nil
}

// content consumes the content that follows t
func (r *tagReader) content(t Tag) ([]byte, error) {
	if t.Opening || t.Closing || (t.Class == TagClassApplication && t.Number == uint8(TagBoolean)) {
		return nil, nil
	}
	if t.Length > uint32(len(r.data)-r.off) {
		return nil, fmt.Errorf("%w: tag length %d exceeds %d remaining bytes", ErrInvalidAPDU, t.Length, len(r.data)-r.off)
	}
	b := r.data[r.off : r.off+int(t.Length)]
	r.off += int(t.Length)
	return b, nil
}

// peekContext reports whether the next tag is the primitive context tag num
func (r *tagReader) peekContext(num uint8) bool {
	if r.empty() {
		return false
	}
	t, _, err := r.peek()
	return err == nil && t.Class == TagClassContext && !t.Opening && !t.Closing && t.Number == num
}

func (r *tagReader) context(num uint8) ([]byte, error) {
	t, err := r.next()
	if err != nil {
		return nil, err
	}
	if t.Class != TagClassContext || t.Opening || t.Closing || t.Number != num {
		return nil, fmt.Errorf("%w: expected context tag %d", ErrInvalidAPDU, num)
	}
	return r.content(t)
}

func (r *tagReader) contextUnsigned(num uint8) (uint32, error) {
	b, err := r.context(num)
	if err != nil {
		return 0, err
	}
	return decodeUnsigned(b)
}

func (r *tagReader) contextObjectID(num uint8) (ObjectIdentifier, error) {
	b, err := r.context(num)
	if err != nil {
		return ObjectIdentifier{}, err
	}
	if len(b) != 4 {
		return ObjectIdentifier{}, fmt.Errorf("%w: object identifier of %d bytes", ErrInvalidAPDU, len(b))
	}
	return DecodeObjectIdentifier(binary.BigEndian.Uint32(b)), nil
}

func (r *tagReader) opening(num uint8) error {
	t, err := r.next()
	if err != nil {
		return err
	}
	if !t.Opening || t.Number != num {
		return fmt.Errorf("%w: expected opening tag %d", ErrInvalidAPDU, num)
	}
	return nil
}

// application reads one application-tagged value
func (r *tagReader) application() (interface{}, ApplicationTag, error) {
	t, err := r.next()
	if err != nil {
		return nil, 0, err
	}
	if t.Class != TagClassApplication {
		return nil, 0, fmt.Errorf("%w: expected application tag", ErrInvalidAPDU)
	}
	b, err := r.content(t)
	if err != nil {
		return nil, 0, err
	}
	v, err := decodeApplicationValue(ApplicationTag(t.Number), t.Length, b)
	return v, ApplicationTag(t.Number), err
}

// values decodes elements until the closing tag num and consumes it
func (r *tagReader) values(num uint8, depth int) ([]interface{}, error) {
	if depth > maxNestedDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrInvalidAPDU)
	}

	out := []interface{}{}
	for {
		if r.empty() {
			return nil, fmt.Errorf("%w: missing closing tag %d", ErrInvalidAPDU, num)
		}
		t, err := r.next()
		if err != nil {
			return nil, err
		}

		switch {
		case t.Closing:
			if t.Number != num {
				return nil, fmt.Errorf("%w: closing tag %d inside %d", ErrInvalidAPDU, t.Number, num)
			}
			return out, nil
		case t.Opening:
			nested, err := r.values(t.Number, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, nested)
		case t.Class == TagClassContext:
			b, err := r.content(t)
			if err != nil {
				return nil, err
			}
			out = append(out, append([]byte(nil), b...))
		default:
			b, err := r.content(t)
			if err != nil {
				return nil, err
			}
			v, err := decodeApplicationValue(ApplicationTag(t.Number), t.Length, b)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
}

func decodeApplicationValue(tag ApplicationTag, lvt uint32, b []byte) (interface{}, error) {
	switch tag {
	case TagNull:
		return nil, nil
	case TagBoolean:
		if lvt > 1 {
			return nil, fmt.Errorf("%w: boolean value %d", ErrInvalidAPDU, lvt)
		}
		return lvt == 1, nil
	case TagUnsignedInt:
		return decodeUnsigned(b)
	case TagSignedInt:
		return decodeSigned(b)
	case TagReal:
		if len(b) != 4 {
			return nil, fmt.Errorf("%w: real of %d bytes", ErrInvalidAPDU, len(b))
		}
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case TagDouble:
		if len(b) != 8 {
			return nil, fmt.Errorf("%w: double of %d bytes", ErrInvalidAPDU, len(b))
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case TagOctetString:
		return append([]byte(nil), b...), nil
	case TagCharacterString:
		return decodeCharacterString(b)
	case TagBitString:
		return decodeBitString(b)
	case TagEnumerated:
		v, err := decodeUnsigned(b)
		return Enumerated(v), err
	case TagDate:
		if len(b) != 4 {
			return nil, fmt.Errorf("%w: date of %d bytes", ErrInvalidAPDU, len(b))
		}
		return Date{Year: 1900 + int(b[0]), Month: b[1], Day: b[2], Weekday: b[3]}, nil
	case TagTime:
		if len(b) != 4 {
			return nil, fmt.Errorf("%w: time of %d bytes", ErrInvalidAPDU, len(b))
		}
		return Time{Hour: b[0], Minute: b[1], Second: b[2], Hundredth: b[3]}, nil
	case TagObjectID:
		if len(b) != 4 {
			return nil, fmt.Errorf("%w: object identifier of %d bytes", ErrInvalidAPDU, len(b))
		}
		return DecodeObjectIdentifier(binary.BigEndian.Uint32(b)), nil
	}
	return nil, fmt.Errorf("%w: reserved application tag %d", ErrInvalidAPDU, tag)
}

func decodeUnsigned(b []byte) (uint32, error) {
	if len(b) == 0 || len(b) > 4 {
		return 0, fmt.Errorf("%w: unsigned of %d bytes", ErrInvalidAPDU, len(b))
	}
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v, nil
}

func decodeSigned(b []byte) (int32, error) {
	if len(b) == 0 || len(b) > 4 {
		return 0, fmt.Errorf("%w: signed of %d bytes", ErrInvalidAPDU, len(b))
	}
	var v int32
	if b[0]&0x80 != 0 {
		v = -1
	}
	for _, c := range b {
		v = v<<8 | int32(c)
	}
	return v, nil
}

// Character sets
const (
	charsetUTF8      = 0
	charsetUCS2      = 4
	charsetISO8859_1 = 5
)

func decodeCharacterString(b []byte) (string, error) {
	if len(b) == 0 {
		return "", fmt.Errorf("%w: character string without charset", ErrInvalidAPDU)
	}
	text := b[1:]

	switch b[0] {
	case charsetUTF8:
		if utf8.Valid(text) {
			return string(text), nil
		}
		return strings.ToValidUTF8(string(text), "\uFFFD"), nil
	case charsetUCS2:
		if len(text)%2 != 0 {
			return "", fmt.Errorf("%w: odd UCS-2 length", ErrInvalidAPDU)
		}
		units := make([]uint16, len(text)/2)
		for i := range units {
			units[i] = binary.BigEndian.Uint16(text[2*i:])
		}
		return string(utf16.Decode(units)), nil
	case charsetISO8859_1:
		return latin1(text), nil
	default:
		// best available reading of the other legacy charsets
		return latin1(text), nil
	}
}

func latin1(text []byte) string {
	runes := make([]rune, len(text))
	for i, c := range text {
		runes[i] = rune(c)
	}
	return string(runes)
}

func decodeBitString(b []byte) (BitString, error) {
	if len(b) == 0 {
		return BitString{}, fmt.Errorf("%w: empty bit string", ErrInvalidAPDU)
	}
	unused := int(b[0])
	total := (len(b)-1)*8 - unused
	if unused > 7 || total < 0 {
		return BitString{}, fmt.Errorf("%w: bit string with %d unused bits", ErrInvalidAPDU, unused)
	}
	bits := make([]bool, total)
	for i := range bits {
		bits[i] = b[1+i/8]&(0x80>>(i%8)) != 0
	}
	return BitString{Bits: bits}, nil
}
