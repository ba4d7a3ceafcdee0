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

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/bacscan/bacnet"
	"github.com/edgeo-scada/bacscan/inventory"
)

// infoProperties are read by the info command, in display order
var infoProperties = []struct {
	name string
	prop bacnet.PropertyIdentifier
}{
	{"Object Name", bacnet.PropertyObjectName},
	{"Description", bacnet.PropertyDescription},
	{"Location", bacnet.PropertyLocation},
	{"Vendor Name", bacnet.PropertyVendorName},
	{"Vendor ID", bacnet.PropertyVendorIdentifier},
	{"Model Name", bacnet.PropertyModelName},
	{"Firmware Revision", bacnet.PropertyFirmwareRevision},
	{"Application Software", bacnet.PropertyApplicationSoftwareVersion},
	{"Protocol Version", bacnet.PropertyProtocolVersion},
	{"Protocol Revision", bacnet.PropertyProtocolRevision},
	{"System Status", bacnet.PropertySystemStatus},
	{"Max APDU Length", bacnet.PropertyMaxApduLengthAccepted},
	{"Segmentation", bacnet.PropertySegmentationSupported},
	{"Database Revision", bacnet.PropertyDatabaseRevision},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display device information",
	Long: `Info reads the device object of one device and shows its identification
properties and object count.

Examples:
  # Get device info
  edgeo-bacscan info -d 999001 -a 192.168.0.20

  # Get info in YAML format
  edgeo-bacscan info -d 999001 -a 192.168.0.20 -o yaml`,

	RunE: runInfo,
}

func init() {
	addTargetFlags(infoCmd)
}

// deviceInfo is the structured form of the info sheet
type deviceInfo struct {
	Device      inventory.DeviceInstance `json:"device" yaml:"device"`
	ObjectCount *uint32                  `json:"object_count,omitempty" yaml:"object_count,omitempty"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	target, err := inventory.ParseTarget(targetDevice, targetAddress)
	if err != nil {
		return err
	}
	out, err := NewFormatter(viper.GetString("output"))
	if err != nil {
		return err
	}
	opts, err := inventoryOptions()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	p, err := connectPrimary(ctx)
	if err != nil {
		return err
	}
	defer closeParticipant(p)

	info := deviceInfo{Device: inventory.DeviceInstance{Instance: target.Instance, Address: target.Address}}

	props := make([]bacnet.PropertyIdentifier, 0, len(infoProperties))
	for _, ip := range infoProperties {
		props = append(props, ip.prop)
	}
	if n := inventory.NewDiscoverer(p, opts...).Describe(ctx, &info.Device, props...); n == 0 {
		return fmt.Errorf("device %d at %s did not answer", target.Instance, target.Address)
	}

	raw, err := p.ReadProperty(ctx, target.Address, info.Device.ObjectID(), bacnet.PropertyObjectList,
		bacnet.WithArrayIndex(0), bacnet.WithReadTimeout(viper.GetDuration("timeout")))
	if err == nil {
		if count, ok := raw.(uint32); ok {
			info.ObjectCount = &count
		}
	}

	if out.Structured() {
		return out.Encode(info)
	}
	return printInfoSheet(out, info)
}

func printInfoSheet(out *Formatter, info deviceInfo) error {
	values := map[string]string{
		"Device":  strconv.FormatUint(uint64(info.Device.Instance), 10),
		"Address": info.Device.Address.String(),
	}
	order := []string{"Device", "Address"}
	for _, ip := range infoProperties {
		if v, ok := infoValue(info.Device, ip.prop); ok {
			values[ip.name] = v
		}
		order = append(order, ip.name)
	}
	if info.ObjectCount != nil {
		values["Object Count"] = strconv.FormatUint(uint64(*info.ObjectCount), 10)
	}
	order = append(order, "Object Count")

	if out.format == FormatCSV {
		records := make([][]string, 0, len(order))
		for _, key := range order {
			if v, ok := values[key]; ok {
				records = append(records, []string{key, v})
			}
		}
		return out.PrintRecords([]string{"property", "value"}, records)
	}
	out.PrintKeyValue(values, order)
	return nil
}

// infoValue returns the text Describe stored for prop
func infoValue(d inventory.DeviceInstance, prop bacnet.PropertyIdentifier) (string, bool) {
	var v string
	switch prop {
	case bacnet.PropertyObjectName:
		v = d.ObjectName
	case bacnet.PropertyVendorName:
		v = d.VendorName
	case bacnet.PropertyModelName:
		v = d.ModelName
	case bacnet.PropertyLocation:
		v = d.Location
	case bacnet.PropertyDescription:
		v = d.Description
	case bacnet.PropertySystemStatus:
		v = d.SystemStatus
	case bacnet.PropertyFirmwareRevision:
		v = d.FirmwareRevision
	default:
		s, ok := d.Extra[prop.String()]
		return s, ok
	}
	return v, v != ""
}
