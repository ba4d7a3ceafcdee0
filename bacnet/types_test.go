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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseObjectType(t *testing.T) {
	tests := []struct {
		in   string
		want ObjectType
		ok   bool
	}{
		{in: "analogInput", want: ObjectTypeAnalogInput, ok: true},
		{in: "analog-input", want: ObjectTypeAnalogInput, ok: true},
		{in: "ANALOG_INPUT", want: ObjectTypeAnalogInput, ok: true},
		{in: "ai", want: ObjectTypeAnalogInput, ok: true},
		{in: "bo", want: ObjectTypeBinaryOutput, ok: true},
		{in: "msv", want: ObjectTypeMultiStateValue, ok: true},
		{in: "device", want: ObjectTypeDevice, ok: true},
		{in: "thermostat", ok: false},
		{in: "", ok: false},
	}

	for _, tt := range tests {
		got, ok := ParseObjectType(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestParsePropertyIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want PropertyIdentifier
		ok   bool
	}{
		{in: "presentValue", want: PropertyPresentValue, ok: true},
		{in: "present-value", want: PropertyPresentValue, ok: true},
		{in: "pv", want: PropertyPresentValue, ok: true},
		{in: "name", want: PropertyObjectName, ok: true},
		{in: "object_list", want: PropertyObjectList, ok: true},
		{in: "priorityArray", ok: false},
	}

	for _, tt := range tests {
		got, ok := ParsePropertyIdentifier(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "analogInput:3", NewObjectIdentifier(ObjectTypeAnalogInput, 3).String())
	assert.Equal(t, "proprietary(130)", ObjectType(130).String())
	assert.Equal(t, "presentValue", PropertyPresentValue.String())
	assert.Equal(t, "property(9999)", PropertyIdentifier(9999).String())
	assert.Equal(t, "degreesCelsius", UnitsDegreesCelsius.String())
	assert.Equal(t, "kilowatts", UnitsKilowatts.String())
	assert.Equal(t, "segmentedBoth", SegmentationBoth.String())
	assert.True(t, ObjectTypeAnalogValue.IsAnalog())
	assert.False(t, ObjectTypeBinaryValue.IsAnalog())
	assert.True(t, ObjectTypeBinaryValue.IsBinary())
}

func TestObjectIdentifierWireForm(t *testing.T) {
	oid := NewObjectIdentifier(ObjectTypeDevice, 999001)
	assert.Equal(t, uint32(0x020F3E59), oid.Encode())
	assert.Equal(t, oid, DecodeObjectIdentifier(oid.Encode()))
}

func TestValueStrings(t *testing.T) {
	assert.Equal(t, "0100", BitString{Bits: []bool{false, true, false, false}}.String())
	assert.Equal(t, "2024-03-14", Date{Year: 2024, Month: 3, Day: 14, Weekday: 4}.String())
	assert.Equal(t, "****-**-01", Date{Year: 1900 + 0xFF, Month: 0xFF, Day: 1, Weekday: 0xFF}.String())
	assert.Equal(t, "07:05:00.**", Time{Hour: 7, Minute: 5, Second: 0, Hundredth: 0xFF}.String())
}
