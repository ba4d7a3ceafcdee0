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

package bacnettest

import (
	"fmt"
	"sync"
	"time"

	"github.com/edgeo-scada/bacscan/bacnet"
)

type propertyKey struct {
	object   bacnet.ObjectIdentifier
	property bacnet.PropertyIdentifier
}

// Device is a simulated BACnet device. It answers Who-Is and ReadProperty
// from an in-memory object database.
type Device struct {
	Instance uint32
	// Addr is the B/IP endpoint ("10.0.0.5:47808"). For a routed device it
	// is the router's endpoint.
	Addr string
	// Net and MAC place the device behind a router when Net is non-zero
	Net uint16
	MAC []byte

	VendorID     uint16
	MaxAPDU      uint16
	Segmentation bacnet.Segmentation

	// NoObjectList makes objectList reads fail with unknown-property
	NoObjectList bool
	// SegmentObjectList aborts whole objectList reads with
	// segmentation-not-supported; indexed reads still work.
	SegmentObjectList bool
	// ObjectListLength, when non-zero, is reported at objectList index 0
	// instead of the real element count
	ObjectListLength uint32
	// Delay is applied before every ReadProperty reply
	Delay time.Duration
	// IAmDelay is applied before the I-Am reply
	IAmDelay time.Duration
	// Silent devices answer nothing
	Silent bool

	mu       sync.Mutex
	objects  map[bacnet.ObjectIdentifier]map[bacnet.PropertyIdentifier]interface{}
	order    []bacnet.ObjectIdentifier
	muted    map[propertyKey]bool
	mutedObj map[bacnet.ObjectIdentifier]bool
	requests []bacnet.ReadPropertyRequest
}

// NewDevice creates a device whose device object carries the usual
// identification properties.
func NewDevice(instance uint32, addr string) *Device {
	d := &Device{
		Instance:     instance,
		Addr:         addr,
		VendorID:     15,
		MaxAPDU:      1476,
		Segmentation: bacnet.SegmentationNone,
		objects:      make(map[bacnet.ObjectIdentifier]map[bacnet.PropertyIdentifier]interface{}),
		muted:        make(map[propertyKey]bool),
		mutedObj:     make(map[bacnet.ObjectIdentifier]bool),
	}

	oid := d.DeviceID()
	d.AddObject(oid, map[bacnet.PropertyIdentifier]interface{}{
		bacnet.PropertyObjectIdentifier: oid,
		bacnet.PropertyObjectName:       fmt.Sprintf("DEV-%d", instance),
		bacnet.PropertyObjectType:       bacnet.Enumerated(bacnet.ObjectTypeDevice),
		bacnet.PropertyVendorIdentifier: uint32(d.VendorID),
		bacnet.PropertyVendorName:       "Edgeo Controls",
		bacnet.PropertyModelName:        "SIM-100",
		bacnet.PropertyLocation:         "Plant room",
		bacnet.PropertyDescription:      "Simulated controller",
		bacnet.PropertySystemStatus:     bacnet.Enumerated(bacnet.DeviceStatusOperational),
		bacnet.PropertyFirmwareRevision: "1.0.0",
	})
	return d
}

// DeviceID returns the device object identifier
func (d *Device) DeviceID() bacnet.ObjectIdentifier {
	return bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, d.Instance)
}

// Address returns the address a participant reaches the device at
func (d *Device) Address() bacnet.Address {
	addr, err := bacnet.ParseAddress(d.Addr)
	if err != nil {
		panic(err)
	}
	addr.Net = d.Net
	addr.Adr = append([]byte(nil), d.MAC...)
	return addr
}

// AddObject adds or replaces an object. The objectList of the device object
// lists objects in the order they were added.
func (d *Device) AddObject(oid bacnet.ObjectIdentifier, props map[bacnet.PropertyIdentifier]interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.objects[oid]; !ok {
		d.order = append(d.order, oid)
	}
	cp := make(map[bacnet.PropertyIdentifier]interface{}, len(props))
	for k, v := range props {
		cp[k] = v
	}
	d.objects[oid] = cp
}

// SetProperty sets one property value
func (d *Device) SetProperty(oid bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	props, ok := d.objects[oid]
	if !ok {
		props = make(map[bacnet.PropertyIdentifier]interface{})
		d.objects[oid] = props
		d.order = append(d.order, oid)
	}
	props[prop] = value
}

// Mute makes reads of one property go unanswered
func (d *Device) Mute(oid bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier) {
	d.mu.Lock()
	d.muted[propertyKey{oid, prop}] = true
	d.mu.Unlock()
}

// MuteObject makes every read of an object go unanswered
func (d *Device) MuteObject(oid bacnet.ObjectIdentifier) {
	d.mu.Lock()
	d.mutedObj[oid] = true
	d.mu.Unlock()
}

// Requests returns the ReadProperty requests received so far
func (d *Device) Requests() []bacnet.ReadPropertyRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bacnet.ReadPropertyRequest(nil), d.requests...)
}

func (d *Device) iam() bacnet.IAm {
	return bacnet.IAm{
		Device:       d.DeviceID(),
		MaxAPDU:      d.MaxAPDU,
		Segmentation: d.Segmentation,
		VendorID:     d.VendorID,
	}
}

// route is the source address the device stamps on what it sends
func (d *Device) route() bacnet.Address {
	return bacnet.Address{Net: d.Net, Adr: d.MAC}
}

// answer builds the reply to a ReadProperty. A nil reply means silence.
func (d *Device) answer(invokeID uint8, req *bacnet.ReadPropertyRequest) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, *req)

	oid := req.Object
	if oid.Type == bacnet.ObjectTypeDevice && oid.Instance == bacnet.WildcardInstance {
		oid = d.DeviceID()
	}
	if d.mutedObj[oid] || d.muted[propertyKey{oid, req.Property}] {
		return nil
	}

	from := d.route()
	props, ok := d.objects[oid]
	if !ok {
		return bacnet.EncodeError(from, invokeID, bacnet.ServiceReadProperty, bacnet.ErrorClassObject, bacnet.ErrorCodeUnknownObject)
	}

	if oid == d.DeviceID() && req.Property == bacnet.PropertyObjectList {
		return d.answerObjectList(from, invokeID, req)
	}

	value, ok := props[req.Property]
	if !ok {
		return bacnet.EncodeError(from, invokeID, bacnet.ServiceReadProperty, bacnet.ErrorClassProperty, bacnet.ErrorCodeUnknownProperty)
	}
	if req.ArrayIndex != nil {
		return bacnet.EncodeError(from, invokeID, bacnet.ServiceReadProperty, bacnet.ErrorClassProperty, bacnet.ErrorCodePropertyIsNotAnArray)
	}
	return d.ack(from, invokeID, req, value)
}

func (d *Device) answerObjectList(from bacnet.Address, invokeID uint8, req *bacnet.ReadPropertyRequest) []byte {
	if d.NoObjectList {
		return bacnet.EncodeError(from, invokeID, bacnet.ServiceReadProperty, bacnet.ErrorClassProperty, bacnet.ErrorCodeUnknownProperty)
	}

	list := make([]interface{}, 0, len(d.order))
	for _, oid := range d.order {
		list = append(list, oid)
	}

	if req.ArrayIndex == nil {
		if d.SegmentObjectList {
			return bacnet.EncodeAbort(from, invokeID, bacnet.AbortReasonSegmentationNotSupported, true)
		}
		return d.ack(from, invokeID, req, list)
	}

	idx := *req.ArrayIndex
	switch {
	case idx == 0:
		if d.ObjectListLength != 0 {
			return d.ack(from, invokeID, req, d.ObjectListLength)
		}
		return d.ack(from, invokeID, req, uint32(len(list)))
	case int(idx) <= len(list):
		return d.ack(from, invokeID, req, list[idx-1])
	default:
		return bacnet.EncodeError(from, invokeID, bacnet.ServiceReadProperty, bacnet.ErrorClassProperty, bacnet.ErrorCodeInvalidArrayIndex)
	}
}

func (d *Device) ack(from bacnet.Address, invokeID uint8, req *bacnet.ReadPropertyRequest, value interface{}) []byte {
	out, err := bacnet.EncodeReadPropertyAck(from, invokeID, bacnet.ReadPropertyAck{
		Object:     req.Object,
		Property:   req.Property,
		ArrayIndex: req.ArrayIndex,
		Value:      value,
	})
	if err != nil {
		return bacnet.EncodeReject(from, invokeID, bacnet.RejectReasonOther)
	}
	return out
}
