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
	"context"
	"fmt"
	"log/slog"
)

// ReadProperty reads one property from an object on the device at target.
//
// Errors are ErrTimeout when no reply arrived in time, *BACnetError,
// *RejectError or *AbortError when the device refused, and
// ErrSegmentationNotSupported when the reply would need segmentation.
func (p *Participant) ReadProperty(ctx context.Context, target Address, oid ObjectIdentifier, prop PropertyIdentifier, opts ...ReadOption) (interface{}, error) {
	options := &ReadOptions{}
	for _, opt := range opts {
		opt(options)
	}

	req := ReadPropertyRequest{Object: oid, Property: prop, ArrayIndex: options.ArrayIndex}
	f, err := p.roundTrip(ctx, target, ServiceReadProperty, options.Timeout, func(invokeID uint8) []byte {
		return EncodeReadProperty(target, req, invokeID, p.identity.MaxAPDU)
	})
	if err != nil {
		p.logger.Debug("read property failed",
			slog.String("target", target.String()),
			slog.String("object", oid.String()),
			slog.String("property", prop.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if f.Kind != FrameReadPropertyAck || f.Ack == nil {
		return nil, fmt.Errorf("%w: %s in reply to read-property", ErrInvalidResponse, f.Kind)
	}
	wildcard := oid.Type == ObjectTypeDevice && oid.Instance == WildcardInstance
	if (f.Ack.Object != oid && !wildcard) || f.Ack.Property != prop {
		return nil, fmt.Errorf("%w: ack for %s %s", ErrInvalidResponse, f.Ack.Object, f.Ack.Property)
	}
	return f.Ack.Value, nil
}

// ReadObjectList reads a device's whole objectList in one request
func (p *Participant) ReadObjectList(ctx context.Context, target Address, device uint32, opts ...ReadOption) ([]ObjectIdentifier, error) {
	v, err := p.ReadProperty(ctx, target, NewObjectIdentifier(ObjectTypeDevice, device), PropertyObjectList, opts...)
	if err != nil {
		return nil, err
	}

	switch list := v.(type) {
	case ObjectIdentifier:
		return []ObjectIdentifier{list}, nil
	case []interface{}:
		out := make([]ObjectIdentifier, 0, len(list))
		for _, item := range list {
			oid, ok := item.(ObjectIdentifier)
			if !ok {
				return nil, fmt.Errorf("%w: objectList element %T", ErrInvalidResponse, item)
			}
			out = append(out, oid)
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: objectList value %T", ErrInvalidResponse, v)
	}
}

// MaxObjectListLength bounds the element count ReadObjectListIndexed accepts
// from a device.
const MaxObjectListLength = 65535

// ReadObjectListIndexed reads objectList one element at a time, starting with
// its length at index 0. Elements that cannot be read are skipped. A length
// above MaxObjectListLength fails with ErrInvalidResponse.
func (p *Participant) ReadObjectListIndexed(ctx context.Context, target Address, device uint32, opts ...ReadOption) ([]ObjectIdentifier, error) {
	deviceID := NewObjectIdentifier(ObjectTypeDevice, device)

	v, err := p.ReadProperty(ctx, target, deviceID, PropertyObjectList, append(opts, WithArrayIndex(0))...)
	if err != nil {
		return nil, err
	}
	length, ok := v.(uint32)
	if !ok {
		return nil, fmt.Errorf("%w: objectList length %T", ErrInvalidResponse, v)
	}
	if length > MaxObjectListLength {
		return nil, fmt.Errorf("%w: objectList length %d exceeds %d", ErrInvalidResponse, length, MaxObjectListLength)
	}

	var objects []ObjectIdentifier
	for i := uint32(1); i <= length; i++ {
		if err := ctx.Err(); err != nil {
			return objects, err
		}

		v, err := p.ReadProperty(ctx, target, deviceID, PropertyObjectList, append(opts, WithArrayIndex(i))...)
		if err != nil {
			continue
		}
		if oid, ok := v.(ObjectIdentifier); ok {
			objects = append(objects, oid)
		}
	}

	return objects, nil
}
