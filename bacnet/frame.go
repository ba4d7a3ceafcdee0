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
	"fmt"
	"net"
)

// FrameKind classifies a decoded datagram
type FrameKind uint8

const (
	FrameUnrecognized FrameKind = iota
	FrameIAm
	FrameWhoIs
	FrameReadPropertyRequest
	FrameReadPropertyAck
	FrameSimpleAck
	FrameError
	FrameReject
	FrameAbort
)

func (k FrameKind) String() string {
	switch k {
	case FrameIAm:
		return "i-am"
	case FrameWhoIs:
		return "who-is"
	case FrameReadPropertyRequest:
		return "read-property"
	case FrameReadPropertyAck:
		return "read-property-ack"
	case FrameSimpleAck:
		return "simple-ack"
	case FrameError:
		return "error"
	case FrameReject:
		return "reject"
	case FrameAbort:
		return "abort"
	}
	return "unrecognized"
}

// IsReply reports whether the frame answers a confirmed request
func (k FrameKind) IsReply() bool {
	switch k {
	case FrameReadPropertyAck, FrameSimpleAck, FrameError, FrameReject, FrameAbort:
		return true
	}
	return false
}

// IAm is the content of an I-Am
type IAm struct {
	Device       ObjectIdentifier
	MaxAPDU      uint16
	Segmentation Segmentation
	VendorID     uint16
}

// WhoIs is the content of a Who-Is. Nil limits cover every instance.
type WhoIs struct {
	Low  *uint32
	High *uint32
}

// Covers reports whether instance falls inside the requested range
func (w WhoIs) Covers(instance uint32) bool {
	if w.Low == nil || w.High == nil {
		return true
	}
	return instance >= *w.Low && instance <= *w.High
}

// ReadPropertyRequest is the content of a ReadProperty request
type ReadPropertyRequest struct {
	Object     ObjectIdentifier
	Property   PropertyIdentifier
	ArrayIndex *uint32
}

// ReadPropertyAck is the content of a ReadProperty complex ack. Value holds
// one decoded element, or []interface{} when the property carried several.
type ReadPropertyAck struct {
	Object     ObjectIdentifier
	Property   PropertyIdentifier
	ArrayIndex *uint32
	Value      interface{}
}

// Frame is one classified datagram. Only the fields for its Kind are set.
type Frame struct {
	Kind FrameKind
	// Reason says why a frame is FrameUnrecognized
	Reason string

	Function BVLCFunction
	Origin   *net.UDPAddr
	SrcNet   uint16
	SrcAddr  []byte
	DestNet  uint16
	DestAddr []byte

	InvokeID  uint8
	Service   uint8
	MaxAPDU   uint16
	Segmented bool

	IAm         *IAm
	WhoIs       *WhoIs
	Request     *ReadPropertyRequest
	Ack         *ReadPropertyAck
	Error       *BACnetError
	Reject      RejectReason
	Abort       AbortReason
	AbortServer bool
}

func unrecognized(format string, args ...interface{}) Frame {
	return Frame{Kind: FrameUnrecognized, Reason: fmt.Sprintf(format, args...)}
}

// Source returns the address of the device that sent the frame, given the
// datagram's source endpoint.
func (f *Frame) Source(from *net.UDPAddr) Address {
	udp := from
	if f.Origin != nil {
		udp = f.Origin
	}
	addr := AddressFromUDP(udp)
	if f.SrcNet != 0 {
		addr.Net = f.SrcNet
		addr.Adr = append([]byte(nil), f.SrcAddr...)
	}
	return addr
}

// Err converts an Error, Reject, Abort or segmented ack into an error
func (f *Frame) Err() error {
	switch f.Kind {
	case FrameError:
		return f.Error
	case FrameReject:
		return &RejectError{InvokeID: f.InvokeID, Reason: f.Reject}
	case FrameAbort:
		return &AbortError{InvokeID: f.InvokeID, Server: f.AbortServer, Reason: f.Abort}
	case FrameReadPropertyAck:
		if f.Segmented {
			return ErrSegmentationNotSupported
		}
	}
	return nil
}

// Decode classifies one datagram. It never fails: anything it cannot parse
// comes back as FrameUnrecognized with a Reason.
func Decode(data []byte) Frame {
	bvlc, npduData, err := DecodeBVLC(data)
	if err != nil {
		return unrecognized("bvlc: %v", err)
	}

	npdu, apduData, err := DecodeNPDU(npduData)
	if err != nil {
		return unrecognized("npdu: %v", err)
	}
	if npdu.IsNetworkMessage() {
		return unrecognized("network layer message %02x", npdu.MessageType)
	}

	apdu, err := DecodeAPDU(apduData)
	if err != nil {
		return unrecognized("apdu: %v", err)
	}

	f := Frame{
		Function:  bvlc.Function,
		Origin:    bvlc.Origin,
		SrcNet:    npdu.SrcNet,
		SrcAddr:   npdu.SrcAddr,
		DestNet:   npdu.DestNet,
		DestAddr:  npdu.DestAddr,
		InvokeID:  apdu.InvokeID,
		Service:   apdu.Service,
		MaxAPDU:   apdu.MaxAPDU,
		Segmented: apdu.Segmented,
	}

	switch apdu.Type {
	case PDUTypeUnconfirmedRequest:
		switch UnconfirmedServiceChoice(apdu.Service) {
		case ServiceIAm:
			iam, err := decodeIAm(apdu.Data)
			if err != nil {
				return unrecognized("i-am: %v", err)
			}
			f.Kind, f.IAm = FrameIAm, iam
		case ServiceWhoIs:
			whoIs, err := decodeWhoIs(apdu.Data)
			if err != nil {
				return unrecognized("who-is: %v", err)
			}
			f.Kind, f.WhoIs = FrameWhoIs, whoIs
		default:
			return unrecognized("unconfirmed service %s", UnconfirmedServiceChoice(apdu.Service))
		}

	case PDUTypeConfirmedRequest:
		if ConfirmedServiceChoice(apdu.Service) != ServiceReadProperty || apdu.Segmented {
			return unrecognized("confirmed service %s", ConfirmedServiceChoice(apdu.Service))
		}
		req, err := decodeReadPropertyRequest(apdu.Data)
		if err != nil {
			return unrecognized("read-property: %v", err)
		}
		f.Kind, f.Request = FrameReadPropertyRequest, req

	case PDUTypeComplexAck:
		if ConfirmedServiceChoice(apdu.Service) != ServiceReadProperty {
			return unrecognized("complex ack for %s", ConfirmedServiceChoice(apdu.Service))
		}
		f.Kind = FrameReadPropertyAck
		if apdu.Segmented {
			return f
		}
		ack, err := decodeReadPropertyAck(apdu.Data)
		if err != nil {
			return unrecognized("read-property-ack: %v", err)
		}
		f.Ack = ack

	case PDUTypeSimpleAck:
		f.Kind = FrameSimpleAck

	case PDUTypeError:
		bacnetErr, err := decodeErrorPDU(apdu.Data)
		if err != nil {
			return unrecognized("error pdu: %v", err)
		}
		f.Kind, f.Error = FrameError, bacnetErr

	case PDUTypeReject:
		f.Kind, f.Reject = FrameReject, RejectReason(apdu.Service)
		f.Service = 0

	case PDUTypeAbort:
		f.Kind, f.Abort, f.AbortServer = FrameAbort, AbortReason(apdu.Service), apdu.Server
		f.Service = 0

	default:
		return unrecognized("pdu type %02x", byte(apdu.Type))
	}

	return f
}

func decodeIAm(data []byte) (*IAm, error) {
	r := &tagReader{data: data}

	v, tag, err := r.application()
	if err != nil {
		return nil, err
	}
	oid, ok := v.(ObjectIdentifier)
	if tag != TagObjectID || !ok || oid.Type != ObjectTypeDevice {
		return nil, fmt.Errorf("%w: i-am without device identifier", ErrInvalidAPDU)
	}

	v, tag, err = r.application()
	if err != nil {
		return nil, err
	}
	maxAPDU, ok := v.(uint32)
	if tag != TagUnsignedInt || !ok || maxAPDU > 0xFFFF {
		return nil, fmt.Errorf("%w: i-am max apdu", ErrInvalidAPDU)
	}

	v, tag, err = r.application()
	if err != nil {
		return nil, err
	}
	seg, ok := v.(Enumerated)
	if tag != TagEnumerated || !ok || seg > 0xFF {
		return nil, fmt.Errorf("%w: i-am segmentation", ErrInvalidAPDU)
	}

	v, tag, err = r.application()
	if err != nil {
		return nil, err
	}
	vendor, ok := v.(uint32)
	if tag != TagUnsignedInt || !ok || vendor > 0xFFFF {
		return nil, fmt.Errorf("%w: i-am vendor id", ErrInvalidAPDU)
	}

	return &IAm{
		Device:       oid,
		MaxAPDU:      uint16(maxAPDU),
		Segmentation: Segmentation(seg),
		VendorID:     uint16(vendor),
	}, nil
}

func decodeWhoIs(data []byte) (*WhoIs, error) {
	if len(data) == 0 {
		return &WhoIs{}, nil
	}
	r := &tagReader{data: data}
	low, err := r.contextUnsigned(0)
	if err != nil {
		return nil, err
	}
	high, err := r.contextUnsigned(1)
	if err != nil {
		return nil, err
	}
	return &WhoIs{Low: &low, High: &high}, nil
}

func decodeReadPropertyRequest(data []byte) (*ReadPropertyRequest, error) {
	r := &tagReader{data: data}
	oid, err := r.contextObjectID(0)
	if err != nil {
		return nil, err
	}
	prop, err := r.contextUnsigned(1)
	if err != nil {
		return nil, err
	}
	req := &ReadPropertyRequest{Object: oid, Property: PropertyIdentifier(prop)}
	if r.peekContext(2) {
		idx, err := r.contextUnsigned(2)
		if err != nil {
			return nil, err
		}
		req.ArrayIndex = &idx
	}
	return req, nil
}

func decodeReadPropertyAck(data []byte) (*ReadPropertyAck, error) {
	r := &tagReader{data: data}
	oid, err := r.contextObjectID(0)
	if err != nil {
		return nil, err
	}
	prop, err := r.contextUnsigned(1)
	if err != nil {
		return nil, err
	}
	ack := &ReadPropertyAck{Object: oid, Property: PropertyIdentifier(prop)}
	if r.peekContext(2) {
		idx, err := r.contextUnsigned(2)
		if err != nil {
			return nil, err
		}
		ack.ArrayIndex = &idx
	}

	if err := r.opening(3); err != nil {
		return nil, err
	}
	values, err := r.values(3, 0)
	if err != nil {
		return nil, err
	}
	if len(values) == 1 {
		ack.Value = values[0]
	} else {
		ack.Value = values
	}
	return ack, nil
}

func decodeErrorPDU(data []byte) (*BACnetError, error) {
	r := &tagReader{data: data}

	class, tag, err := r.application()
	if err != nil {
		return nil, err
	}
	c, ok := class.(Enumerated)
	if tag != TagEnumerated || !ok {
		return nil, fmt.Errorf("%w: error class", ErrInvalidAPDU)
	}

	code, tag, err := r.application()
	if err != nil {
		return nil, err
	}
	k, ok := code.(Enumerated)
	if tag != TagEnumerated || !ok {
		return nil, fmt.Errorf("%w: error code", ErrInvalidAPDU)
	}

	return NewBACnetError(ErrorClass(c), ErrorCode(k)), nil
}

func buildFrame(function BVLCFunction, dest, src *Address, expectingReply bool, apdu []byte) []byte {
	npdu := AppendNPDU(make([]byte, 0, 24), dest, src, expectingReply)
	out := make([]byte, 0, bvlcHeaderLen+len(npdu)+len(apdu))
	out = AppendBVLC(out, function, len(npdu)+len(apdu))
	out = append(out, npdu...)
	return append(out, apdu...)
}

// EncodeWhoIs builds a broadcast Who-Is. Nil limits ask every device.
func EncodeWhoIs(low, high *uint32) []byte {
	apdu := []byte{byte(PDUTypeUnconfirmedRequest), byte(ServiceWhoIs)}
	if low != nil && high != nil {
		apdu = AppendContextUnsigned(apdu, 0, *low)
		apdu = AppendContextUnsigned(apdu, 1, *high)
	}
	return buildFrame(BVLCOriginalBroadcastNPDU, nil, nil, false, apdu)
}

// EncodeIAm builds an I-Am. A routed from adds SNET/SADR.
func EncodeIAm(from Address, iam IAm, broadcast bool) []byte {
	apdu := []byte{byte(PDUTypeUnconfirmedRequest), byte(ServiceIAm)}
	apdu, _ = AppendApplicationValue(apdu, iam.Device)
	apdu, _ = AppendApplicationValue(apdu, uint32(iam.MaxAPDU))
	apdu, _ = AppendApplicationValue(apdu, Enumerated(iam.Segmentation))
	apdu, _ = AppendApplicationValue(apdu, uint32(iam.VendorID))

	function := BVLCOriginalUnicastNPDU
	if broadcast {
		function = BVLCOriginalBroadcastNPDU
	}
	return buildFrame(function, nil, &from, false, apdu)
}

// EncodeReadProperty builds a unicast ReadProperty request for target
func EncodeReadProperty(target Address, req ReadPropertyRequest, invokeID uint8, maxAPDU uint16) []byte {
	apdu := appendConfirmedHeader(make([]byte, 0, 24), invokeID, ServiceReadProperty, maxAPDU)
	apdu = AppendContextObjectID(apdu, 0, req.Object)
	apdu = AppendContextEnumerated(apdu, 1, uint32(req.Property))
	if req.ArrayIndex != nil {
		apdu = AppendContextUnsigned(apdu, 2, *req.ArrayIndex)
	}
	return buildFrame(BVLCOriginalUnicastNPDU, &target, nil, true, apdu)
}

// EncodeReadPropertyAck builds the complex ack answering a ReadProperty
func EncodeReadPropertyAck(from Address, invokeID uint8, ack ReadPropertyAck) ([]byte, error) {
	apdu := []byte{byte(PDUTypeComplexAck), invokeID, byte(ServiceReadProperty)}
	apdu = AppendContextObjectID(apdu, 0, ack.Object)
	apdu = AppendContextEnumerated(apdu, 1, uint32(ack.Property))
	if ack.ArrayIndex != nil {
		apdu = AppendContextUnsigned(apdu, 2, *ack.ArrayIndex)
	}
	apdu = AppendOpeningTag(apdu, 3)
	apdu, err := AppendApplicationValue(apdu, ack.Value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ack.Property, err)
	}
	apdu = AppendClosingTag(apdu, 3)
	return buildFrame(BVLCOriginalUnicastNPDU, nil, &from, false, apdu), nil
}

// EncodeError builds an Error PDU
func EncodeError(from Address, invokeID uint8, service ConfirmedServiceChoice, class ErrorClass, code ErrorCode) []byte {
	apdu := []byte{byte(PDUTypeError), invokeID, byte(service)}
	apdu, _ = AppendApplicationValue(apdu, Enumerated(class))
	apdu, _ = AppendApplicationValue(apdu, Enumerated(code))
	return buildFrame(BVLCOriginalUnicastNPDU, nil, &from, false, apdu)
}

// EncodeReject builds a Reject PDU
func EncodeReject(from Address, invokeID uint8, reason RejectReason) []byte {
	apdu := []byte{byte(PDUTypeReject), invokeID, byte(reason)}
	return buildFrame(BVLCOriginalUnicastNPDU, nil, &from, false, apdu)
}

// EncodeAbort builds an Abort PDU. A server abort is sent by the responding
// device and addr is its own address; a client abort is sent to the device at
// addr.
func EncodeAbort(addr Address, invokeID uint8, reason AbortReason, server bool) []byte {
	apdu := []byte{byte(PDUTypeAbort), invokeID, byte(reason)}
	if server {
		apdu[0] |= 0x01
		return buildFrame(BVLCOriginalUnicastNPDU, nil, &addr, false, apdu)
	}
	return buildFrame(BVLCOriginalUnicastNPDU, &addr, nil, false, apdu)
}
