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

// Package bacnet implements the part of BACnet/IP needed to discover devices
// on a network and read their object inventory: Who-Is/I-Am, ReadProperty and
// the error, reject and abort replies a ReadProperty can produce.
package bacnet

import (
	"fmt"
	"strings"
)

// DefaultPort is the standard BACnet/IP UDP port
const DefaultPort = 47808

// MaxAPDULength is the largest APDU that fits a BACnet/IP datagram
const MaxAPDULength = 1476

// MaxInstance is the largest assignable object instance. 4194303 is the
// wildcard instance.
const MaxInstance = 0x3FFFFE

// WildcardInstance addresses "whatever device answers" in a device object id.
const WildcardInstance = 0x3FFFFF

// BVLCType identifies the BVLL in use
type BVLCType uint8

const (
	BVLCTypeBACnetIP BVLCType = 0x81
)

// BVLCFunction is the BVLC message function
type BVLCFunction uint8

const (
	BVLCResult                BVLCFunction = 0x00
	BVLCForwardedNPDU         BVLCFunction = 0x04
	BVLCRegisterForeignDevice BVLCFunction = 0x05
	BVLCOriginalUnicastNPDU   BVLCFunction = 0x0A
	BVLCOriginalBroadcastNPDU BVLCFunction = 0x0B
)

// NPDUControl holds the NPDU control octet flags
type NPDUControl uint8

const (
	NPDUControlNetworkLayerMessage NPDUControl = 0x80
	NPDUControlDestSpecifier       NPDUControl = 0x20
	NPDUControlSourceSpecifier     NPDUControl = 0x08
	NPDUControlExpectingReply      NPDUControl = 0x04
	NPDUControlPriorityNormal      NPDUControl = 0x00
)

// PDUType is the APDU type nibble
type PDUType uint8

const (
	PDUTypeConfirmedRequest   PDUType = 0x00
	PDUTypeUnconfirmedRequest PDUType = 0x10
	PDUTypeSimpleAck          PDUType = 0x20
	PDUTypeComplexAck         PDUType = 0x30
	PDUTypeSegmentAck         PDUType = 0x40
	PDUTypeError              PDUType = 0x50
	PDUTypeReject             PDUType = 0x60
	PDUTypeAbort              PDUType = 0x70
)

// ConfirmedServiceChoice identifies a confirmed service
type ConfirmedServiceChoice uint8

const (
	ServiceReadProperty         ConfirmedServiceChoice = 12
	ServiceReadPropertyMultiple ConfirmedServiceChoice = 14
	ServiceWriteProperty        ConfirmedServiceChoice = 15
)

func (s ConfirmedServiceChoice) String() string {
	switch s {
	case ServiceReadProperty:
		return "readProperty"
	case ServiceReadPropertyMultiple:
		return "readPropertyMultiple"
	case ServiceWriteProperty:
		return "writeProperty"
	}
	return fmt.Sprintf("confirmedService(%d)", uint8(s))
}

// UnconfirmedServiceChoice identifies an unconfirmed service
type UnconfirmedServiceChoice uint8

const (
	ServiceIAm    UnconfirmedServiceChoice = 0
	ServiceIHave  UnconfirmedServiceChoice = 1
	ServiceWhoHas UnconfirmedServiceChoice = 7
	ServiceWhoIs  UnconfirmedServiceChoice = 8
)

func (s UnconfirmedServiceChoice) String() string {
	switch s {
	case ServiceIAm:
		return "iAm"
	case ServiceIHave:
		return "iHave"
	case ServiceWhoHas:
		return "whoHas"
	case ServiceWhoIs:
		return "whoIs"
	}
	return fmt.Sprintf("unconfirmedService(%d)", uint8(s))
}

// ObjectType represents BACnet object types
type ObjectType uint16

const (
	ObjectTypeAnalogInput       ObjectType = 0
	ObjectTypeAnalogOutput      ObjectType = 1
	ObjectTypeAnalogValue       ObjectType = 2
	ObjectTypeBinaryInput       ObjectType = 3
	ObjectTypeBinaryOutput      ObjectType = 4
	ObjectTypeBinaryValue       ObjectType = 5
	ObjectTypeCalendar          ObjectType = 6
	ObjectTypeCommand           ObjectType = 7
	ObjectTypeDevice            ObjectType = 8
	ObjectTypeEventEnrollment   ObjectType = 9
	ObjectTypeFile              ObjectType = 10
	ObjectTypeGroup             ObjectType = 11
	ObjectTypeLoop              ObjectType = 12
	ObjectTypeMultiStateInput   ObjectType = 13
	ObjectTypeMultiStateOutput  ObjectType = 14
	ObjectTypeNotificationClass ObjectType = 15
	ObjectTypeProgram           ObjectType = 16
	ObjectTypeSchedule          ObjectType = 17
	ObjectTypeAveraging         ObjectType = 18
	ObjectTypeMultiStateValue   ObjectType = 19
	ObjectTypeTrendLog          ObjectType = 20
	ObjectTypeAccumulator       ObjectType = 23
	ObjectTypeTrendLogMultiple  ObjectType = 27
	ObjectTypeStructuredView    ObjectType = 29
	ObjectTypeIntegerValue      ObjectType = 45
	ObjectTypeNetworkPort       ObjectType = 56
)

var objectTypeNames = map[ObjectType]string{
	ObjectTypeAnalogInput:       "analogInput",
	ObjectTypeAnalogOutput:      "analogOutput",
	ObjectTypeAnalogValue:       "analogValue",
	ObjectTypeBinaryInput:       "binaryInput",
	ObjectTypeBinaryOutput:      "binaryOutput",
	ObjectTypeBinaryValue:       "binaryValue",
	ObjectTypeCalendar:          "calendar",
	ObjectTypeCommand:           "command",
	ObjectTypeDevice:            "device",
	ObjectTypeEventEnrollment:   "eventEnrollment",
	ObjectTypeFile:              "file",
	ObjectTypeGroup:             "group",
	ObjectTypeLoop:              "loop",
	ObjectTypeMultiStateInput:   "multiStateInput",
	ObjectTypeMultiStateOutput:  "multiStateOutput",
	ObjectTypeNotificationClass: "notificationClass",
	ObjectTypeProgram:           "program",
	ObjectTypeSchedule:          "schedule",
	ObjectTypeAveraging:         "averaging",
	ObjectTypeMultiStateValue:   "multiStateValue",
	ObjectTypeTrendLog:          "trendLog",
	ObjectTypeAccumulator:       "accumulator",
	ObjectTypeTrendLogMultiple:  "trendLogMultiple",
	ObjectTypeStructuredView:    "structuredView",
	ObjectTypeIntegerValue:      "integerValue",
	ObjectTypeNetworkPort:       "networkPort",
}

// short aliases accepted by ParseObjectType
var objectTypeAliases = map[string]ObjectType{
	"ai":  ObjectTypeAnalogInput,
	"ao":  ObjectTypeAnalogOutput,
	"av":  ObjectTypeAnalogValue,
	"bi":  ObjectTypeBinaryInput,
	"bo":  ObjectTypeBinaryOutput,
	"bv":  ObjectTypeBinaryValue,
	"dev": ObjectTypeDevice,
	"msi": ObjectTypeMultiStateInput,
	"mso": ObjectTypeMultiStateOutput,
	"msv": ObjectTypeMultiStateValue,
	"sch": ObjectTypeSchedule,
	"tl":  ObjectTypeTrendLog,
	"nc":  ObjectTypeNotificationClass,
}

// String returns the BACnet identifier name (e.g. "analogInput")
func (o ObjectType) String() string {
	if name, ok := objectTypeNames[o]; ok {
		return name
	}
	if o >= 128 {
		return fmt.Sprintf("proprietary(%d)", uint16(o))
	}
	return fmt.Sprintf("objectType(%d)", uint16(o))
}

// IsAnalog reports whether o is one of the analog input/output/value types
func (o ObjectType) IsAnalog() bool {
	return o == ObjectTypeAnalogInput || o == ObjectTypeAnalogOutput || o == ObjectTypeAnalogValue
}

// IsBinary reports whether o is one of the binary input/output/value types
func (o ObjectType) IsBinary() bool {
	return o == ObjectTypeBinaryInput || o == ObjectTypeBinaryOutput || o == ObjectTypeBinaryValue
}

// ParseObjectType accepts the camelCase identifier ("analogInput"), the
// hyphenated form ("analog-input") or a short alias ("ai").
func ParseObjectType(s string) (ObjectType, bool) {
	key := normalizeName(s)
	if t, ok := objectTypeAliases[key]; ok {
		return t, true
	}
	for t, name := range objectTypeNames {
		if strings.ToLower(name) == key {
			return t, true
		}
	}
	return 0, false
}

// normalizeName folds "analog-input", "analog_input" and "analogInput" to
// "analoginput".
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
}

// PropertyIdentifier represents BACnet property identifiers
type PropertyIdentifier uint32

const (
	PropertyDescription                PropertyIdentifier = 28
	PropertyEventState                 PropertyIdentifier = 36
	PropertyFirmwareRevision           PropertyIdentifier = 44
	PropertyApplicationSoftwareVersion PropertyIdentifier = 12
	PropertyLocation                   PropertyIdentifier = 58
	PropertyMaxApduLengthAccepted      PropertyIdentifier = 62
	PropertyModelName                  PropertyIdentifier = 70
	PropertyNumberOfStates             PropertyIdentifier = 74
	PropertyObjectIdentifier           PropertyIdentifier = 75
	PropertyObjectList                 PropertyIdentifier = 76
	PropertyObjectName                 PropertyIdentifier = 77
	PropertyObjectType                 PropertyIdentifier = 79
	PropertyOutOfService               PropertyIdentifier = 81
	PropertyPresentValue               PropertyIdentifier = 85
	PropertyProtocolVersion            PropertyIdentifier = 98
	PropertyReliability                PropertyIdentifier = 103
	PropertySegmentationSupported      PropertyIdentifier = 107
	PropertyStatusFlags                PropertyIdentifier = 111
	PropertySystemStatus               PropertyIdentifier = 112
	PropertyUnits                      PropertyIdentifier = 117
	PropertyVendorIdentifier           PropertyIdentifier = 120
	PropertyVendorName                 PropertyIdentifier = 121
	PropertyProtocolRevision           PropertyIdentifier = 139
	PropertyDatabaseRevision           PropertyIdentifier = 155
)

var propertyNames = map[PropertyIdentifier]string{
	PropertyDescription:                "description",
	PropertyEventState:                 "eventState",
	PropertyFirmwareRevision:           "firmwareRevision",
	PropertyApplicationSoftwareVersion: "applicationSoftwareVersion",
	PropertyLocation:                   "location",
	PropertyMaxApduLengthAccepted:      "maxApduLengthAccepted",
	PropertyModelName:                  "modelName",
	PropertyNumberOfStates:             "numberOfStates",
	PropertyObjectIdentifier:           "objectIdentifier",
	PropertyObjectList:                 "objectList",
	PropertyObjectName:                 "objectName",
	PropertyObjectType:                 "objectType",
	PropertyOutOfService:               "outOfService",
	PropertyPresentValue:               "presentValue",
	PropertyProtocolVersion:            "protocolVersion",
	PropertyReliability:                "reliability",
	PropertySegmentationSupported:      "segmentationSupported",
	PropertyStatusFlags:                "statusFlags",
	PropertySystemStatus:               "systemStatus",
	PropertyUnits:                      "units",
	PropertyVendorIdentifier:           "vendorIdentifier",
	PropertyVendorName:                 "vendorName",
	PropertyProtocolRevision:           "protocolRevision",
	PropertyDatabaseRevision:           "databaseRevision",
}

var propertyAliases = map[string]PropertyIdentifier{
	"name": PropertyObjectName,
	"pv":   PropertyPresentValue,
	"desc": PropertyDescription,
	"sf":   PropertyStatusFlags,
	"oos":  PropertyOutOfService,
	"oid":  PropertyObjectIdentifier,
}

// String returns the BACnet identifier name (e.g. "presentValue")
func (p PropertyIdentifier) String() string {
	if name, ok := propertyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("property(%d)", uint32(p))
}

// ParsePropertyIdentifier accepts camelCase, hyphenated or alias names
func ParsePropertyIdentifier(s string) (PropertyIdentifier, bool) {
	key := normalizeName(s)
	if p, ok := propertyAliases[key]; ok {
		return p, true
	}
	for p, name := range propertyNames {
		if strings.ToLower(name) == key {
			return p, true
		}
	}
	return 0, false
}

// ObjectIdentifier represents a BACnet object identifier (type + instance)
type ObjectIdentifier struct {
	Type     ObjectType
	Instance uint32
}

// NewObjectIdentifier creates a new ObjectIdentifier
func NewObjectIdentifier(objectType ObjectType, instance uint32) ObjectIdentifier {
	return ObjectIdentifier{Type: objectType, Instance: instance}
}

// Encode packs the identifier into its 32-bit wire form
func (o ObjectIdentifier) Encode() uint32 {
	return (uint32(o.Type)&0x3FF)<<22 | (o.Instance & 0x3FFFFF)
}

// DecodeObjectIdentifier unpacks a 32-bit wire value
func DecodeObjectIdentifier(value uint32) ObjectIdentifier {
	return ObjectIdentifier{
		Type:     ObjectType((value >> 22) & 0x3FF),
		Instance: value & 0x3FFFFF,
	}
}

func (o ObjectIdentifier) String() string {
	return fmt.Sprintf("%s:%d", o.Type, o.Instance)
}

func (o ObjectIdentifier) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Segmentation represents the BACnet segmentation capability
type Segmentation uint8

const (
	SegmentationBoth     Segmentation = 0
	SegmentationTransmit Segmentation = 1
	SegmentationReceive  Segmentation = 2
	SegmentationNone     Segmentation = 3
)

func (s Segmentation) String() string {
	switch s {
	case SegmentationBoth:
		return "segmentedBoth"
	case SegmentationTransmit:
		return "segmentedTransmit"
	case SegmentationReceive:
		return "segmentedReceive"
	case SegmentationNone:
		return "noSegmentation"
	}
	return fmt.Sprintf("segmentation(%d)", uint8(s))
}

// DeviceStatus is the device object's systemStatus
type DeviceStatus uint8

const (
	DeviceStatusOperational         DeviceStatus = 0
	DeviceStatusOperationalReadOnly DeviceStatus = 1
	DeviceStatusDownloadRequired    DeviceStatus = 2
	DeviceStatusDownloadInProgress  DeviceStatus = 3
	DeviceStatusNonOperational      DeviceStatus = 4
	DeviceStatusBackupInProgress    DeviceStatus = 5
)

func (d DeviceStatus) String() string {
	names := [...]string{
		"operational",
		"operationalReadOnly",
		"downloadRequired",
		"downloadInProgress",
		"nonOperational",
		"backupInProgress",
	}
	if int(d) < len(names) {
		return names[d]
	}
	return fmt.Sprintf("deviceStatus(%d)", uint8(d))
}

// EventState is an object's eventState
type EventState uint8

func (e EventState) String() string {
	names := [...]string{"normal", "fault", "offnormal", "highLimit", "lowLimit", "lifeSafetyAlarm"}
	if int(e) < len(names) {
		return names[e]
	}
	return fmt.Sprintf("eventState(%d)", uint8(e))
}

// Reliability is an object's reliability
type Reliability uint8

func (r Reliability) String() string {
	names := [...]string{
		"noFaultDetected", "noSensor", "overRange", "underRange", "openLoop",
		"shortedLoop", "noOutput", "unreliableOther", "processError",
		"multiStateFault", "configurationError",
	}
	if int(r) < len(names) {
		return names[r]
	}
	if r == 12 {
		return "communicationFailure"
	}
	return fmt.Sprintf("reliability(%d)", uint8(r))
}

// BinaryPV is the present value of binary objects
type BinaryPV uint8

const (
	BinaryInactive BinaryPV = 0
	BinaryActive   BinaryPV = 1
)

func (b BinaryPV) String() string {
	switch b {
	case BinaryInactive:
		return "inactive"
	case BinaryActive:
		return "active"
	}
	return fmt.Sprintf("binaryPV(%d)", uint8(b))
}

// EngineeringUnits represents BACnet engineering units
type EngineeringUnits uint16

const (
	UnitsAmperes                 EngineeringUnits = 3
	UnitsVolts                   EngineeringUnits = 5
	UnitsKilowattHours           EngineeringUnits = 19
	UnitsHertz                   EngineeringUnits = 27
	UnitsPercentRelativeHumidity EngineeringUnits = 29
	UnitsWatts                   EngineeringUnits = 47
	UnitsKilowatts               EngineeringUnits = 48
	UnitsPascals                 EngineeringUnits = 53
	UnitsKilopascals             EngineeringUnits = 54
	UnitsDegreesCelsius          EngineeringUnits = 62
	UnitsDegreesKelvin           EngineeringUnits = 63
	UnitsDegreesFahrenheit       EngineeringUnits = 64
	UnitsHours                   EngineeringUnits = 71
	UnitsMinutes                 EngineeringUnits = 72
	UnitsSeconds                 EngineeringUnits = 73
	UnitsCubicFeetPerMinute      EngineeringUnits = 84
	UnitsLitersPerSecond         EngineeringUnits = 87
	UnitsNoUnits                 EngineeringUnits = 95
	UnitsPartsPerMillion         EngineeringUnits = 96
	UnitsPercent                 EngineeringUnits = 98
	UnitsRevolutionsPerMinute    EngineeringUnits = 104
)

var unitNames = map[EngineeringUnits]string{
	UnitsAmperes:                 "amperes",
	UnitsVolts:                   "volts",
	UnitsKilowattHours:           "kilowattHours",
	UnitsHertz:                   "hertz",
	UnitsPercentRelativeHumidity: "percentRelativeHumidity",
	UnitsWatts:                   "watts",
	UnitsKilowatts:               "kilowatts",
	UnitsPascals:                 "pascals",
	UnitsKilopascals:             "kilopascals",
	UnitsDegreesCelsius:          "degreesCelsius",
	UnitsDegreesKelvin:           "degreesKelvin",
	UnitsDegreesFahrenheit:       "degreesFahrenheit",
	UnitsHours:                   "hours",
	UnitsMinutes:                 "minutes",
	UnitsSeconds:                 "seconds",
	UnitsCubicFeetPerMinute:      "cubicFeetPerMinute",
	UnitsLitersPerSecond:         "litersPerSecond",
	UnitsNoUnits:                 "noUnits",
	UnitsPartsPerMillion:         "partsPerMillion",
	UnitsPercent:                 "percent",
	UnitsRevolutionsPerMinute:    "revolutionsPerMinute",
}

func (u EngineeringUnits) String() string {
	if name, ok := unitNames[u]; ok {
		return name
	}
	return fmt.Sprintf("units(%d)", uint16(u))
}

// DeviceInfo describes a device learned from an I-Am
type DeviceInfo struct {
	ObjectID      ObjectIdentifier
	Address       Address
	MaxAPDULength uint16
	Segmentation  Segmentation
	VendorID      uint16
}

// Instance returns the device instance number
func (d *DeviceInfo) Instance() uint32 {
	return d.ObjectID.Instance
}

// TagClass distinguishes application and context tags
type TagClass uint8

const (
	TagClassApplication TagClass = 0
	TagClassContext     TagClass = 1
)

// ApplicationTag is an application tag number
type ApplicationTag uint8

const (
	TagNull            ApplicationTag = 0
	TagBoolean         ApplicationTag = 1
	TagUnsignedInt     ApplicationTag = 2
	TagSignedInt       ApplicationTag = 3
	TagReal            ApplicationTag = 4
	TagDouble          ApplicationTag = 5
	TagOctetString     ApplicationTag = 6
	TagCharacterString ApplicationTag = 7
	TagBitString       ApplicationTag = 8
	TagEnumerated      ApplicationTag = 9
	TagDate            ApplicationTag = 10
	TagTime            ApplicationTag = 11
	TagObjectID        ApplicationTag = 12
)
