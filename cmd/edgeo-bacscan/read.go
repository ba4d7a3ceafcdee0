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
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/bacscan/bacnet"
	"github.com/edgeo-scada/bacscan/inventory"
)

var (
	readObject     string
	readProperty   string
	readArrayIndex int
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read one property of a BACnet object",
	Long: `Read retrieves a single property value and shows it the way deep scans
report it.

Object types can be given by name, short alias or number:
  analogInput, analog-input, ai, 0
  binaryOutput, binary-output, bo, 4
  multiStateValue, multi-state-value, msv, 19

Properties can be given by name, alias or number:
  presentValue, present-value, pv, 85
  objectName, name, 77
  statusFlags, sf, 111

Examples:
  # Read the present value of analog input 1
  edgeo-bacscan read -d 999001 -a 192.168.0.20 -O ai:1 -P pv

  # Read the object count of a device
  edgeo-bacscan read -d 999001 -a 192.168.0.20 -O device:999001 -P objectList --index 0`,

	RunE: runRead,
}

func init() {
	addTargetFlags(readCmd)
	readCmd.Flags().StringVarP(&readObject, "object", "O", "", "Object type and instance (e.g. analog-input:1 or ai:1)")
	readCmd.Flags().StringVarP(&readProperty, "property", "P", "present-value", "Property identifier")
	readCmd.Flags().IntVar(&readArrayIndex, "index", -1, "Array index (-1 for no index)")

	readCmd.MarkFlagRequired("object")
}

// readResult is the structured form of a single read
type readResult struct {
	Device   uint32                  `json:"device_instance" yaml:"device_instance"`
	Object   bacnet.ObjectIdentifier `json:"object" yaml:"object"`
	Property string                  `json:"property" yaml:"property"`
	Kind     string                  `json:"kind" yaml:"kind"`
	Value    inventory.Value         `json:"value" yaml:"value"`
}

func runRead(cmd *cobra.Command, args []string) error {
	target, err := inventory.ParseTarget(targetDevice, targetAddress)
	if err != nil {
		return err
	}
	objectID, err := parseObjectIdentifier(readObject)
	if err != nil {
		return fmt.Errorf("invalid object: %w", err)
	}
	propID, err := parsePropertyIdentifier(readProperty)
	if err != nil {
		return fmt.Errorf("invalid property: %w", err)
	}
	out, err := NewFormatter(viper.GetString("output"))
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

	var readOpts []bacnet.ReadOption
	if readArrayIndex >= 0 {
		readOpts = append(readOpts, bacnet.WithArrayIndex(uint32(readArrayIndex)))
	}

	raw, err := p.ReadProperty(ctx, target.Address, objectID, propID, readOpts...)
	if err != nil {
		return fmt.Errorf("read property: %s", inventory.UnreadableFrom(err).Reason)
	}
	value := inventory.FromRaw(propID, objectID.Type, raw)
	kind, _ := inventory.KindOf(value)

	res := readResult{
		Device:   target.Instance,
		Object:   objectID,
		Property: propID.String(),
		Kind:     kind,
		Value:    value,
	}

	switch out.format {
	case FormatJSON, FormatYAML:
		return out.Encode(res)
	case FormatCSV:
		return out.PrintRecords(
			[]string{"object", "property", "value"},
			[][]string{{objectID.String(), propID.String(), value.String()}},
		)
	default:
		out.PrintKeyValue(map[string]string{
			"Object":   objectID.String(),
			"Property": propID.String(),
			"Value":    value.String(),
			"Kind":     kind,
		}, []string{"Object", "Property", "Value", "Kind"})
		return nil
	}
}

func parseObjectIdentifier(s string) (bacnet.ObjectIdentifier, error) {
	// type:instance, e.g. analog-input:1, ai:1 or 0:1
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return bacnet.ObjectIdentifier{}, fmt.Errorf("expected format type:instance (e.g., analog-input:1)")
	}

	instance, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil || instance > bacnet.WildcardInstance {
		return bacnet.ObjectIdentifier{}, fmt.Errorf("invalid instance number: %s", parts[1])
	}

	if typeNum, err := strconv.ParseUint(parts[0], 10, 10); err == nil {
		return bacnet.NewObjectIdentifier(bacnet.ObjectType(typeNum), uint32(instance)), nil
	}

	objType, ok := bacnet.ParseObjectType(parts[0])
	if !ok {
		return bacnet.ObjectIdentifier{}, fmt.Errorf("unknown object type: %s", parts[0])
	}

	return bacnet.NewObjectIdentifier(objType, uint32(instance)), nil
}

func parsePropertyIdentifier(s string) (bacnet.PropertyIdentifier, error) {
	s = strings.TrimSpace(s)
	if propNum, err := strconv.ParseUint(s, 10, 22); err == nil {
		return bacnet.PropertyIdentifier(propNum), nil
	}

	prop, ok := bacnet.ParsePropertyIdentifier(s)
	if !ok {
		return 0, fmt.Errorf("unknown property: %s", s)
	}

	return prop, nil
}
