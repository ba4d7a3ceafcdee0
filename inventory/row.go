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
	"strconv"
	"strings"

	"github.com/edgeo-scada/bacscan/bacnet"
)

// PropertyRow is one (device, object, property) observation. Rows are never
// modified after a scan creates them.
type PropertyRow struct {
	DeviceInstance uint32 `json:"device_instance" yaml:"device_instance"`
	DeviceIP       string `json:"device_ip" yaml:"device_ip"`
	NetworkNumber  uint16 `json:"network_number,omitempty" yaml:"network_number,omitempty"`
	ObjectType     string `json:"object_type" yaml:"object_type"`
	ObjectInstance uint32 `json:"object_instance" yaml:"object_instance"`
	PropertyName   string `json:"property_name" yaml:"property_name"`
	Value          Value  `json:"value" yaml:"value"`
	VendorName     string `json:"vendor_name" yaml:"vendor_name"`
	ModelName      string `json:"model_name" yaml:"model_name"`
	Location       string `json:"location" yaml:"location"`
}

// DeepScanHeader is the fixed column order of deep-scan exports
var DeepScanHeader = []string{
	"device_instance",
	"device_ip",
	"network_number",
	"object_type",
	"object_instance",
	"property_name",
	"value",
	"vendor_name",
	"model_name",
	"location",
}

// Record returns the row in DeepScanHeader order
func (r PropertyRow) Record() []string {
	value := ""
	if r.Value != nil {
		value = r.Value.String()
	}
	return []string{
		strconv.FormatUint(uint64(r.DeviceInstance), 10),
		r.DeviceIP,
		networkNumber(r.NetworkNumber),
		r.ObjectType,
		strconv.FormatUint(uint64(r.ObjectInstance), 10),
		r.PropertyName,
		value,
		r.VendorName,
		r.ModelName,
		r.Location,
	}
}

// Readable reports whether the property was read successfully
func (r PropertyRow) Readable() bool {
	return IsReadable(r.Value)
}

func networkNumber(n uint16) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatUint(uint64(n), 10)
}

// DiscoveryHeader returns the discovery export columns
func DiscoveryHeader(enriched bool) []string {
	if !enriched {
		return []string{"device_instance", "address"}
	}
	return []string{"device_instance", "address", "object_name", "vendor_name", "model_name"}
}

// DeviceRecord returns d in DiscoveryHeader order
func DeviceRecord(d DeviceInstance, enriched bool) []string {
	rec := []string{strconv.FormatUint(uint64(d.Instance), 10), d.Address.String()}
	if enriched {
		rec = append(rec, d.ObjectName, d.VendorName, d.ModelName)
	}
	return rec
}

// Assembler folds property observations of one device into rows
type Assembler struct {
	device DeviceInstance
	vendor string
	model  string
}

// NewAssembler creates an assembler for device
func NewAssembler(device DeviceInstance) *Assembler {
	return &Assembler{
		device: device,
		vendor: clean(device.VendorName),
		model:  clean(device.ModelName),
	}
}

// Row builds the row for one observation
func (a *Assembler) Row(oid bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier, v Value) PropertyRow {
	if v == nil {
		v = Unreadable{Reason: "no value"}
	}
	return PropertyRow{
		DeviceInstance: a.device.Instance,
		DeviceIP:       a.device.Address.Host(),
		NetworkNumber:  a.device.Address.Net,
		ObjectType:     oid.Type.String(),
		ObjectInstance: oid.Instance,
		PropertyName:   prop.String(),
		Value:          v,
		VendorName:     a.vendor,
		ModelName:      a.model,
		Location:       a.device.Location,
	}
}

func clean(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// PointsHeader returns the columns of the one-row-per-object layout.
// Property columns follow the first appearance of each property in rows.
func PointsHeader(rows []PropertyRow) []string {
	header := []string{"device_instance", "device_ip", "object_type", "object_instance"}
	return append(header, propertyColumns(rows)...)
}

// PointRecords pivots rows into one record per object, in PointsHeader order
func PointRecords(rows []PropertyRow) [][]string {
	type pointKey struct {
		device   uint32
		objType  string
		instance uint32
	}

	columns := propertyColumns(rows)
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i + 4
	}

	var (
		out  [][]string
		seen = make(map[pointKey]int)
	)
	for _, r := range rows {
		k := pointKey{r.DeviceInstance, r.ObjectType, r.ObjectInstance}
		i, ok := seen[k]
		if !ok {
			rec := make([]string, 4+len(columns))
			rec[0] = strconv.FormatUint(uint64(r.DeviceInstance), 10)
			rec[1] = r.DeviceIP
			rec[2] = r.ObjectType
			rec[3] = strconv.FormatUint(uint64(r.ObjectInstance), 10)
			out = append(out, rec)
			i = len(out) - 1
			seen[k] = i
		}
		if r.Value != nil {
			out[i][index[r.PropertyName]] = r.Value.String()
		}
	}
	return out
}

func propertyColumns(rows []PropertyRow) []string {
	var (
		cols []string
		seen = make(map[string]bool)
	)
	for _, r := range rows {
		if !seen[r.PropertyName] {
			seen[r.PropertyName] = true
			cols = append(cols, r.PropertyName)
		}
	}
	return cols
}
