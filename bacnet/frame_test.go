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
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unicast wraps an APDU in a local, non-routed BVLC/NPDU envelope
func unicast(apdu []byte) []byte {
	return buildFrame(BVLCOriginalUnicastNPDU, nil, nil, false, apdu)
}

var iAm999001 = []byte{
	0x81, 0x0B, 0x00, 0x14, // BVLC broadcast, 20 bytes
	0x01, 0x00, // NPDU
	0x10, 0x00, // unconfirmed I-Am
	0xC4, 0x02, 0x0F, 0x3E, 0x59, // device:999001
	0x22, 0x05, 0xC4, // max APDU 1476
	0x91, 0x00, // segmented-both
	0x21, 0x0F, // vendor 15
}

func TestEncodeWhoIs(t *testing.T) {
	t.Run("unbounded", func(t *testing.T) {
		assert.Equal(t, []byte{0x81, 0x0B, 0x00, 0x08, 0x01, 0x00, 0x10, 0x08}, EncodeWhoIs(nil, nil))
	})

	t.Run("ranged", func(t *testing.T) {
		low, high := uint32(10), uint32(20)
		assert.Equal(t,
			[]byte{0x81, 0x0B, 0x00, 0x0C, 0x01, 0x00, 0x10, 0x08, 0x09, 0x0A, 0x19, 0x14},
			EncodeWhoIs(&low, &high))
	})

	t.Run("decodes back", func(t *testing.T) {
		low, high := uint32(100), uint32(4194302)
		f := Decode(EncodeWhoIs(&low, &high))
		require.Equal(t, FrameWhoIs, f.Kind)
		assert.True(t, f.WhoIs.Covers(100))
		assert.True(t, f.WhoIs.Covers(4194302))
		assert.False(t, f.WhoIs.Covers(99))

		f = Decode(EncodeWhoIs(nil, nil))
		require.Equal(t, FrameWhoIs, f.Kind)
		assert.True(t, f.WhoIs.Covers(0))
		assert.Equal(t, BVLCOriginalBroadcastNPDU, f.Function)
	})
}

func TestEncodeReadProperty(t *testing.T) {
	target := NewAddress(net.ParseIP("10.0.0.5"), 0)
	req := ReadPropertyRequest{
		Object:   NewObjectIdentifier(ObjectTypeAnalogInput, 1),
		Property: PropertyPresentValue,
	}

	got := EncodeReadProperty(target, req, 5, 1476)
	assert.Equal(t, []byte{
		0x81, 0x0A, 0x00, 0x11,
		0x01, 0x04, // expecting reply
		0x00, 0x05, 0x05, 0x0C, // confirmed, max APDU 1476, invoke 5, read-property
		0x0C, 0x00, 0x00, 0x00, 0x01, // [0] analogInput:1
		0x19, 0x55, // [1] presentValue
	}, got)

	f := Decode(got)
	require.Equal(t, FrameReadPropertyRequest, f.Kind, f.Reason)
	assert.Equal(t, uint8(5), f.InvokeID)
	assert.Equal(t, uint16(1476), f.MaxAPDU)
	assert.Equal(t, req.Object, f.Request.Object)
	assert.Equal(t, req.Property, f.Request.Property)
	assert.Nil(t, f.Request.ArrayIndex)
}

func TestEncodeReadPropertyRouted(t *testing.T) {
	target, err := ParseAddress("2001:0a@10.0.0.1")
	require.NoError(t, err)

	idx := uint32(3)
	req := ReadPropertyRequest{
		Object:     NewObjectIdentifier(ObjectTypeDevice, 42),
		Property:   PropertyObjectList,
		ArrayIndex: &idx,
	}

	f := Decode(EncodeReadProperty(target, req, 9, 480))
	require.Equal(t, FrameReadPropertyRequest, f.Kind, f.Reason)
	assert.Equal(t, uint16(2001), f.DestNet)
	assert.Equal(t, []byte{0x0A}, f.DestAddr)
	assert.Equal(t, uint16(480), f.MaxAPDU)
	require.NotNil(t, f.Request.ArrayIndex)
	assert.Equal(t, uint32(3), *f.Request.ArrayIndex)
}

func TestDecodeIAm(t *testing.T) {
	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: DefaultPort}

	t.Run("local", func(t *testing.T) {
		f := Decode(iAm999001)
		require.Equal(t, FrameIAm, f.Kind, f.Reason)
		assert.Equal(t, NewObjectIdentifier(ObjectTypeDevice, 999001), f.IAm.Device)
		assert.Equal(t, uint16(1476), f.IAm.MaxAPDU)
		assert.Equal(t, SegmentationBoth, f.IAm.Segmentation)
		assert.Equal(t, uint16(15), f.IAm.VendorID)

		src := f.Source(from)
		assert.Equal(t, "10.0.0.5", src.String())
		assert.False(t, src.IsRouted())
	})

	t.Run("forwarded", func(t *testing.T) {
		data := []byte{0x81, 0x04, 0x00, 0x1A, 0x0A, 0x00, 0x00, 0x07, 0xBA, 0xC1}
		data = append(data, iAm999001[4:]...)

		f := Decode(data)
		require.Equal(t, FrameIAm, f.Kind, f.Reason)
		src := f.Source(&net.UDPAddr{IP: net.ParseIP("10.0.0.254"), Port: DefaultPort})
		assert.Equal(t, "10.0.0.7:47809", src.String())
	})

	t.Run("routed source", func(t *testing.T) {
		data := []byte{0x81, 0x0B, 0x00, 0x18, 0x01, 0x08, 0x07, 0xD1, 0x01, 0x0A}
		data = append(data, iAm999001[6:]...)

		f := Decode(data)
		require.Equal(t, FrameIAm, f.Kind, f.Reason)
		src := f.Source(from)
		assert.True(t, src.IsRouted())
		assert.Equal(t, uint16(2001), src.Net)
		assert.Equal(t, "2001:0a@10.0.0.5", src.String())
	})

	t.Run("encoder agrees", func(t *testing.T) {
		iam := IAm{
			Device:       NewObjectIdentifier(ObjectTypeDevice, 999001),
			MaxAPDU:      1476,
			Segmentation: SegmentationBoth,
			VendorID:     15,
		}
		assert.Equal(t, iAm999001, EncodeIAm(Address{}, iam, true))
	})
}

func TestDecodeReadPropertyAckValues(t *testing.T) {
	oid := NewObjectIdentifier(ObjectTypeAnalogValue, 7)
	tests := []struct {
		name  string
		value interface{}
	}{
		{name: "null", value: nil},
		{name: "boolean", value: true},
		{name: "unsigned", value: uint32(70000)},
		{name: "signed", value: int32(-3)},
		{name: "real", value: float32(21.5)},
		{name: "double", value: 1234.5678},
		{name: "octet string", value: []byte{0xDE, 0xAD}},
		{name: "character string", value: "Zone Temp"},
		{name: "bit string", value: BitString{Bits: []bool{false, true, false, false}}},
		{name: "enumerated", value: Enumerated(62)},
		{name: "date", value: Date{Year: 2024, Month: 3, Day: 14, Weekday: 4}},
		{name: "time", value: Time{Hour: 13, Minute: 5, Second: 9, Hundredth: 50}},
		{name: "object id", value: NewObjectIdentifier(ObjectTypeBinaryOutput, 2)},
		{name: "list", value: []interface{}{
			NewObjectIdentifier(ObjectTypeDevice, 1),
			NewObjectIdentifier(ObjectTypeAnalogInput, 1),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeReadPropertyAck(Address{}, 17, ReadPropertyAck{
				Object:   oid,
				Property: PropertyPresentValue,
				Value:    tt.value,
			})
			require.NoError(t, err)

			f := Decode(data)
			require.Equal(t, FrameReadPropertyAck, f.Kind, f.Reason)
			assert.Equal(t, uint8(17), f.InvokeID)
			assert.Equal(t, byte(ServiceReadProperty), f.Service)
			require.NotNil(t, f.Ack)
			assert.Equal(t, oid, f.Ack.Object)
			assert.Equal(t, PropertyPresentValue, f.Ack.Property)
			assert.Equal(t, tt.value, f.Ack.Value)
			assert.NoError(t, f.Err())
		})
	}
}

func TestDecodeCharacterSets(t *testing.T) {
	header := []byte{0x30, 0x01, 0x0C, 0x0C, 0x00, 0x00, 0x00, 0x01, 0x19, 0x4D, 0x3E}
	tests := []struct {
		name    string
		content []byte
		want    string
	}{
		{name: "utf-8", content: []byte{0x75, 0x06, 0x00, 'c', 'a', 'f', 0xC3, 0xA9}, want: "café"},
		{name: "latin-1", content: []byte{0x75, 0x05, 0x05, 'c', 'a', 'f', 0xE9}, want: "café"},
		{name: "ucs-2", content: []byte{0x75, 0x05, 0x04, 0x00, 'H', 0x00, 'i'}, want: "Hi"},
		{name: "invalid utf-8", content: []byte{0x74, 0x00, 'o', 0xFF, 'k'}, want: "o�k"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apdu := append(append(append([]byte{}, header...), tt.content...), 0x3F)
			f := Decode(unicast(apdu))
			require.Equal(t, FrameReadPropertyAck, f.Kind, f.Reason)
			assert.Equal(t, tt.want, f.Ack.Value)
		})
	}
}

func TestDecodeErrorRejectAbort(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		f := Decode(EncodeError(Address{}, 4, ServiceReadProperty, ErrorClassProperty, ErrorCodeUnknownProperty))
		require.Equal(t, FrameError, f.Kind, f.Reason)
		assert.Equal(t, uint8(4), f.InvokeID)
		assert.Equal(t, byte(ServiceReadProperty), f.Service)
		assert.Equal(t, ErrorClassProperty, f.Error.Class)
		assert.Equal(t, ErrorCodeUnknownProperty, f.Error.Code)

		err := f.Err()
		assert.True(t, IsPropertyNotFound(err))
		assert.True(t, IsProtocolError(err))
		assert.EqualError(t, err, "bacnet error: class=property, code=unknown-property")
	})

	t.Run("reject", func(t *testing.T) {
		f := Decode(EncodeReject(Address{}, 3, RejectReasonUnrecognizedService))
		require.Equal(t, FrameReject, f.Kind, f.Reason)
		assert.Equal(t, uint8(3), f.InvokeID)
		assert.Equal(t, RejectReasonUnrecognizedService, f.Reject)
		assert.Zero(t, f.Service)

		var rejectErr *RejectError
		require.ErrorAs(t, f.Err(), &rejectErr)
		assert.Equal(t, RejectReasonUnrecognizedService, rejectErr.Reason)
	})

	t.Run("server abort", func(t *testing.T) {
		f := Decode(EncodeAbort(Address{}, 8, AbortReasonSegmentationNotSupported, true))
		require.Equal(t, FrameAbort, f.Kind, f.Reason)
		assert.True(t, f.AbortServer)
		assert.Equal(t, AbortReasonSegmentationNotSupported, f.Abort)
		assert.ErrorIs(t, f.Err(), ErrSegmentationNotSupported)
		assert.True(t, IsResponseTooLong(f.Err()))
	})

	t.Run("client abort to routed device", func(t *testing.T) {
		target := Address{IP: net.ParseIP("10.0.0.1").To4(), Port: DefaultPort, Net: 5, Adr: []byte{0x01}}
		f := Decode(EncodeAbort(target, 8, AbortReasonSegmentationNotSupported, false))
		require.Equal(t, FrameAbort, f.Kind, f.Reason)
		assert.False(t, f.AbortServer)
		assert.Equal(t, uint16(5), f.DestNet)
	})

	t.Run("segmented ack", func(t *testing.T) {
		apdu := []byte{0x38, 0x07, 0x00, 0x04, 0x0C, 0x0C, 0x02, 0x00, 0x00, 0x01, 0x19, 0x4C, 0x3E}
		f := Decode(unicast(apdu))
		require.Equal(t, FrameReadPropertyAck, f.Kind, f.Reason)
		assert.True(t, f.Segmented)
		assert.Nil(t, f.Ack)
		assert.Equal(t, uint8(7), f.InvokeID)
		assert.ErrorIs(t, f.Err(), ErrSegmentationNotSupported)
	})
}

func TestDecodeUnrecognized(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "not bacnet/ip", data: []byte{0x82, 0x0A, 0x00, 0x06, 0x01, 0x00}},
		{name: "bvlc result", data: []byte{0x81, 0x00, 0x00, 0x06, 0x00, 0x00}},
		{name: "length beyond datagram", data: []byte{0x81, 0x0A, 0x00, 0x40, 0x01, 0x00, 0x10, 0x08}},
		{name: "npdu version", data: []byte{0x81, 0x0A, 0x00, 0x08, 0x02, 0x00, 0x10, 0x08}},
		{name: "network message", data: []byte{0x81, 0x0B, 0x00, 0x07, 0x01, 0x80, 0x00}},
		{name: "unsupported unconfirmed service", data: unicast([]byte{0x10, 0x07})},
		{name: "write-property request", data: unicast([]byte{0x00, 0x05, 0x01, 0x0F})},
		{name: "complex ack for other service", data: unicast([]byte{0x30, 0x01, 0x0E})},
		{name: "i-am for non-device", data: unicast([]byte{0x10, 0x00, 0xC4, 0x00, 0x00, 0x00, 0x01, 0x21, 0x32, 0x91, 0x00, 0x21, 0x0F})},
		{name: "application lvt 6", data: unicast([]byte{0x30, 0x01, 0x0C, 0x0C, 0x00, 0x00, 0x00, 0x01, 0x19, 0x55, 0x3E, 0x26, 0x3F})},
		{name: "missing closing tag", data: unicast([]byte{0x30, 0x01, 0x0C, 0x0C, 0x00, 0x00, 0x00, 0x01, 0x19, 0x55, 0x3E, 0x21, 0x01})},
		{name: "content past end", data: unicast([]byte{0x30, 0x01, 0x0C, 0x0C, 0x00, 0x00, 0x00, 0x01, 0x19, 0x55, 0x3E, 0x44, 0x41})},
		{name: "who-is with one limit", data: unicast([]byte{0x10, 0x08, 0x09, 0x0A})},
		{name: "segment ack pdu", data: unicast([]byte{0x40, 0x01, 0x00, 0x01})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Decode(tt.data)
			assert.Equal(t, FrameUnrecognized, f.Kind)
			assert.NotEmpty(t, f.Reason)
		})
	}
}

func TestDecodeNestedDepthLimit(t *testing.T) {
	apdu := []byte{0x30, 0x01, 0x0C, 0x0C, 0x00, 0x00, 0x00, 0x01, 0x19, 0x55, 0x3E}
	for i := 0; i < 40; i++ {
		apdu = append(apdu, 0x0E)
	}
	for i := 0; i < 40; i++ {
		apdu = append(apdu, 0x0F)
	}
	apdu = append(apdu, 0x3F)

	f := Decode(unicast(apdu))
	assert.Equal(t, FrameUnrecognized, f.Kind)
}

func validFrames(t testing.TB) [][]byte {
	ack, err := EncodeReadPropertyAck(Address{Net: 7, Adr: []byte{1, 2}}, 1, ReadPropertyAck{
		Object:   NewObjectIdentifier(ObjectTypeDevice, 1),
		Property: PropertyObjectList,
		Value: []interface{}{
			NewObjectIdentifier(ObjectTypeDevice, 1),
			NewObjectIdentifier(ObjectTypeAnalogInput, 1),
			NewObjectIdentifier(ObjectTypeBinaryOutput, 2),
		},
	})
	require.NoError(t, err)

	low, high := uint32(1), uint32(2)
	target := Address{IP: net.ParseIP("10.0.0.1").To4(), Port: DefaultPort, Net: 3, Adr: []byte{9}}
	return [][]byte{
		iAm999001,
		EncodeWhoIs(&low, &high),
		EncodeReadProperty(target, ReadPropertyRequest{Object: NewObjectIdentifier(ObjectTypeAnalogInput, 3), Property: PropertyUnits}, 2, 1024),
		ack,
		EncodeError(Address{}, 1, ServiceReadProperty, ErrorClassObject, ErrorCodeUnknownObject),
		EncodeReject(Address{}, 1, RejectReasonOther),
		EncodeAbort(Address{}, 1, AbortReasonOther, true),
	}
}

func TestDecodeTruncation(t *testing.T) {
	for _, data := range validFrames(t) {
		require.NotEqual(t, FrameUnrecognized, Decode(data).Kind)

		for i := 0; i < len(data); i++ {
			prefix := append([]byte(nil), data[:i]...)
			f := Decode(prefix)
			assert.Equal(t, FrameUnrecognized, f.Kind, "prefix of %d bytes", i)
			assert.Equal(t, f, Decode(prefix), "decode is deterministic")

			// Same prefix with a consistent BVLC length so the inner layers
			// see the truncation.
			if i >= bvlcHeaderLen {
				prefix[2], prefix[3] = byte(i>>8), byte(i)
				assert.NotPanics(t, func() { Decode(prefix) })
			}
		}
	}
}

func FuzzDecode(f *testing.F) {
	for _, data := range validFrames(f) {
		f.Add(data)
	}
	f.Add([]byte{0x81, 0x0A, 0x00, 0x04})
	f.Add([]byte{0x81, 0x04, 0x00, 0x0A, 0, 0, 0, 0, 0, 0})

	f.Fuzz(func(t *testing.T, data []byte) {
		first := Decode(data)
		second := Decode(data)
		if first.Kind != second.Kind || first.Reason != second.Reason {
			t.Fatalf("non-deterministic decode: %v/%q then %v/%q", first.Kind, first.Reason, second.Kind, second.Reason)
		}
		if first.Kind == FrameUnrecognized && first.Reason == "" {
			t.Fatal("unrecognized frame without reason")
		}
		if err := first.Err(); err != nil && !IsProtocolError(err) && !errors.Is(err, ErrSegmentationNotSupported) {
			t.Fatalf("unexpected frame error type %T", err)
		}
	})
}

func TestTagCodec(t *testing.T) {
	tests := []struct {
		name    string
		num     uint8
		class   TagClass
		length  int
		encoded []byte
	}{
		{name: "short", num: 2, class: TagClassApplication, length: 1, encoded: []byte{0x21}},
		{name: "context", num: 1, class: TagClassContext, length: 4, encoded: []byte{0x1C}},
		{name: "extended number", num: 20, class: TagClassContext, length: 2, encoded: []byte{0xFA, 0x14}},
		{name: "length 5", num: 7, class: TagClassApplication, length: 5, encoded: []byte{0x75, 0x05}},
		{name: "length 300", num: 6, class: TagClassApplication, length: 300, encoded: []byte{0x65, 0xFE, 0x01, 0x2C}},
		{name: "length 70000", num: 6, class: TagClassApplication, length: 70000, encoded: []byte{0x65, 0xFF, 0x00, 0x01, 0x11, 0x70}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AppendTag(nil, tt.num, tt.class, tt.length)
			assert.Equal(t, tt.encoded, got)

			tag, n, err := DecodeTag(got)
			require.NoError(t, err)
			assert.Equal(t, len(got), n)
			assert.Equal(t, tt.num, tag.Number)
			assert.Equal(t, tt.class, tag.Class)
			assert.Equal(t, uint32(tt.length), tag.Length)
		})
	}

	t.Run("opening and closing", func(t *testing.T) {
		tag, _, err := DecodeTag(AppendOpeningTag(nil, 3))
		require.NoError(t, err)
		assert.True(t, tag.Opening)
		assert.Equal(t, uint8(3), tag.Number)

		tag, _, err = DecodeTag(AppendClosingTag(nil, 3))
		require.NoError(t, err)
		assert.True(t, tag.Closing)
	})

	t.Run("truncated extended length", func(t *testing.T) {
		_, _, err := DecodeTag([]byte{0x65, 0xFE, 0x01})
		assert.ErrorIs(t, err, ErrInvalidAPDU)
	})
}

func TestMaxAPDUCode(t *testing.T) {
	tests := []struct {
		size uint16
		code byte
	}{
		{size: 0, code: 0},
		{size: 50, code: 0},
		{size: 206, code: 2},
		{size: 480, code: 3},
		{size: 1023, code: 3},
		{size: 1024, code: 4},
		{size: 1476, code: 5},
		{size: 9000, code: 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, maxAPDUCode(tt.size), "size %d", tt.size)
	}
	assert.Equal(t, uint16(1476), maxAPDUFromCode(5))
	assert.Zero(t, maxAPDUFromCode(9))
}

func TestAppendApplicationValueErrors(t *testing.T) {
	_, err := AppendApplicationValue(nil, struct{}{})
	assert.Error(t, err)

	_, err = AppendApplicationValue(nil, []interface{}{uint32(1), struct{}{}})
	assert.Error(t, err)

	got, err := AppendApplicationValue(nil, -5)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x31, 0xFB}, got)
}
