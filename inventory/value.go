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

package inventory

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/edgeo-scada/bacscan/bacnet"
)

// Value is the observed value of one property. It is one of Number, Text,
// EnumSymbol or Unreadable.
type Value interface {
	fmt.Stringer
	isValue()
}

// Number is a numeric property value
type Number struct {
	V float64
}

// Text is a string property value
type Text struct {
	S string
}

// EnumSymbol is an enumerated property value rendered by name
type EnumSymbol struct {
	Symbol string
}

// Unreadable marks a property that was probed but could not be read
type Unreadable struct {
	Reason string
}

func (Number) isValue()     {}
func (Text) isValue()       {}
func (EnumSymbol) isValue() {}
func (Unreadable) isValue() {}

func (n Number) String() string {
	return strconv.FormatFloat(n.V, 'f', -1, 64)
}

func (t Text) String() string       { return t.S }
func (e EnumSymbol) String() string { return e.Symbol }

// String is empty: unreadable properties export as empty cells
func (u Unreadable) String() string { return "" }

func (n Number) MarshalText() ([]byte, error)     { return []byte(n.String()), nil }
func (t Text) MarshalText() ([]byte, error)       { return []byte(t.S), nil }
func (e EnumSymbol) MarshalText() ([]byte, error) { return []byte(e.Symbol), nil }
func (u Unreadable) MarshalText() ([]byte, error) { return nil, nil }

// IsReadable reports whether v holds an observed value
func IsReadable(v Value) bool {
	if v == nil {
		return false
	}
	_, bad := v.(Unreadable)
	return !bad
}

// Value kinds, as persisted
const (
	KindNumber     = "number"
	KindText       = "text"
	KindEnum       = "enum"
	KindUnreadable = "unreadable"
)

// KindOf returns the kind name of v and the text that restores it with
// ValueOf. For Unreadable the text is the reason.
func KindOf(v Value) (kind, text string) {
	switch v := v.(type) {
	case Number:
		return KindNumber, v.String()
	case Text:
		return KindText, v.S
	case EnumSymbol:
		return KindEnum, v.Symbol
	case Unreadable:
		return KindUnreadable, v.Reason
	}
	return KindUnreadable, "no value"
}

// ValueOf rebuilds a Value from KindOf's output
func ValueOf(kind, text string) Value {
	switch kind {
	case KindNumber:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Text{S: text}
		}
		return Number{V: f}
	case KindText:
		return Text{S: text}
	case KindEnum:
		return EnumSymbol{Symbol: text}
	default:
		return Unreadable{Reason: text}
	}
}

// UnreadableFrom converts a failed read into an Unreadable value
func UnreadableFrom(err error) Unreadable {
	var (
		bacnetErr *bacnet.BACnetError
		rejectErr *bacnet.RejectError
		abortErr  *bacnet.AbortError
	)
	switch {
	case err == nil:
		return Unreadable{Reason: "no value"}
	case bacnet.IsTimeout(err):
		return Unreadable{Reason: "timeout"}
	case errors.As(err, &bacnetErr):
		return Unreadable{Reason: fmt.Sprintf("bacnet error: %s/%s", bacnetErr.Class, bacnetErr.Code)}
	case errors.As(err, &rejectErr):
		return Unreadable{Reason: "reject: " + rejectErr.Reason.String()}
	case errors.As(err, &abortErr):
		return Unreadable{Reason: "abort: " + abortErr.Reason.String()}
	case errors.Is(err, bacnet.ErrSegmentationNotSupported):
		return Unreadable{Reason: "abort: segmentation-not-supported"}
	}
	return Unreadable{Reason: err.Error()}
}

// FromRaw maps a decoded property value to a Value. Enumerations are named
// after the property they belong to.
func FromRaw(prop bacnet.PropertyIdentifier, objType bacnet.ObjectType, raw interface{}) Value {
	switch v := raw.(type) {
	case nil:
		return EnumSymbol{Symbol: "null"}
	case bool:
		return Text{S: strconv.FormatBool(v)}
	case uint32:
		return Number{V: float64(v)}
	case int32:
		return Number{V: float64(v)}
	case float32:
		// Round-trip through the shortest float32 text so 21.3 stays 21.3
		f, _ := strconv.ParseFloat(strconv.FormatFloat(float64(v), 'g', -1, 32), 64)
		return Number{V: f}
	case float64:
		return Number{V: v}
	case string:
		return Text{S: v}
	case []byte:
		return Text{S: hex.EncodeToString(v)}
	case bacnet.Enumerated:
		return EnumSymbol{Symbol: enumName(prop, objType, v)}
	case bacnet.ObjectIdentifier:
		return Text{S: v.String()}
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, FromRaw(prop, objType, item).String())
		}
		return Text{S: strings.Join(parts, ", ")}
	case fmt.Stringer:
		return Text{S: v.String()}
	}
	return Text{S: fmt.Sprint(raw)}
}

func enumName(prop bacnet.PropertyIdentifier, objType bacnet.ObjectType, v bacnet.Enumerated) string {
	switch prop {
	case bacnet.PropertyUnits:
		return bacnet.EngineeringUnits(v).String()
	case bacnet.PropertyPresentValue:
		if objType.IsBinary() {
			return bacnet.BinaryPV(v).String()
		}
	case bacnet.PropertyObjectType:
		return bacnet.ObjectType(v).String()
	case bacnet.PropertySystemStatus:
		return bacnet.DeviceStatus(v).String()
	case bacnet.PropertyEventState:
		return bacnet.EventState(v).String()
	case bacnet.PropertyReliability:
		return bacnet.Reliability(v).String()
	case bacnet.PropertySegmentationSupported:
		return bacnet.Segmentation(v).String()
	}
	return strconv.FormatUint(uint64(v), 10)
}
