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
	"strings"
)

// Decoded application values are plain Go values where one fits:
//
//	null              nil
//	boolean           bool
//	unsigned          uint32
//	signed            int32
//	real              float32
//	double            float64
//	octet string      []byte
//	character string  string
//	object id         ObjectIdentifier
//
// The remaining application types get their own types below. A property
// holding more than one element, such as objectList, decodes to
// []interface{}.

// Enumerated is an application-tagged enumeration. Its meaning depends on the
// property it was read from.
type Enumerated uint32

// BitString is an application bit string, bit 0 first
type BitString struct {
	Bits []bool
}

func (b BitString) String() string {
	var sb strings.Builder
	for _, bit := range b.Bits {
		if bit {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// Date is a BACnet date. 0xFF in any field means "unspecified".
type Date struct {
	Year    int // full year, or 0xFF+1900 when unspecified
	Month   uint8
	Day     uint8
	Weekday uint8
}

func (d Date) String() string {
	field := func(v uint8, width int) string {
		if v == 0xFF {
			return strings.Repeat("*", width)
		}
		return fmt.Sprintf("%0*d", width, v)
	}
	year := "****"
	if d.Year != 1900+0xFF {
		year = fmt.Sprintf("%04d", d.Year)
	}
	return year + "-" + field(d.Month, 2) + "-" + field(d.Day, 2)
}

// Time is a BACnet time of day. 0xFF in any field means "unspecified".
type Time struct {
	Hour      uint8
	Minute    uint8
	Second    uint8
	Hundredth uint8
}

func (t Time) String() string {
	field := func(v uint8) string {
		if v == 0xFF {
			return "**"
		}
		return fmt.Sprintf("%02d", v)
	}
	return field(t.Hour) + ":" + field(t.Minute) + ":" + field(t.Second) + "." + field(t.Hundredth)
}
