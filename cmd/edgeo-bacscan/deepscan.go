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
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/bacscan/bacnet"
	"github.com/edgeo-scada/bacscan/inventory"
)

var (
	targetDevice  string
	targetAddress string
	rowsFile      string
	rowsLayout    string
	extraProps    []string
)

var deepScanCmd = &cobra.Command{
	Use:   "deep-scan",
	Short: "Read the point inventory of one device",
	Long: `Deep-scan reads the objectList of a device and a fixed property set of
every analog, binary and multi-state object it lists. When the device has no
usable objectList, the configured catalog of object types is probed instead.

Properties that cannot be read are reported with an empty value. A device
that yields nothing is reported as unresponsive; this is not an error.

Examples:
  # Inventory a device
  edgeo-bacscan deep-scan --device 999001 --address 192.168.0.20

  # One row per object, written to a CSV file
  edgeo-bacscan deep-scan --device 999001 --address 192.168.0.20 --layout points --file points.csv

  # Also read statusFlags and reliability
  edgeo-bacscan deep-scan --device 5 --address 2001:0a@192.168.0.1 --extra-props statusFlags,reliability`,

	RunE: runDeepScan,
}

func init() {
	addTargetFlags(deepScanCmd)
	addRowFlags(deepScanCmd)
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&targetDevice, "device", "d", "", "Target device instance")
	cmd.Flags().StringVarP(&targetAddress, "address", "a", "", "Target address (ip[:port] or net:mac@ip[:port])")
	cmd.MarkFlagRequired("device")
	cmd.MarkFlagRequired("address")
}

func addRowFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&rowsFile, "file", "f", "", "Write rows as CSV to this file")
	cmd.Flags().StringVar(&rowsLayout, "layout", LayoutLong, "Row layout (long, points)")
	cmd.Flags().StringSliceVar(&extraProps, "extra-props", nil, "Properties read on every object besides the default set")
}

// scanOptions adds the --extra-props properties to the shared options
func scanOptions() ([]inventory.Option, error) {
	props := make([]bacnet.PropertyIdentifier, 0, len(extraProps))
	for _, name := range extraProps {
		prop, err := parsePropertyIdentifier(name)
		if err != nil {
			return nil, err
		}
		props = append(props, prop)
	}
	return inventoryOptions(inventory.WithExtraProperties(props...))
}

func runDeepScan(cmd *cobra.Command, args []string) error {
	target, err := inventory.ParseTarget(targetDevice, targetAddress)
	if err != nil {
		return err
	}
	out, err := NewFormatter(viper.GetString("output"))
	if err != nil {
		return err
	}
	opts, err := scanOptions()
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

	res, err := inventory.NewDeepScanner(p, opts...).Scan(ctx, target)
	if err != nil {
		return fmt.Errorf("deep scan: %w", err)
	}
	reportStatus(res)

	if err := saveDeepScans(ctx, []*inventory.DeepScanResult{res}); err != nil {
		return err
	}
	return emitRows(out, []*inventory.DeepScanResult{res})
}

// emitRows writes rows to --file when set, otherwise to stdout
func emitRows(out *Formatter, results []*inventory.DeepScanResult) error {
	if rowsFile != "" {
		if err := writeRowsFile(rowsFile, results, rowsLayout); err != nil {
			return err
		}
		logger.Info("rows written", slog.String("file", rowsFile), slog.Int("rows", len(collectRows(results))))
		return nil
	}
	return out.PrintRows(results, rowsLayout)
}

// saveDeepScans records results when a database is configured
func saveDeepScans(ctx context.Context, results []*inventory.DeepScanResult) error {
	db, err := openStore()
	if err != nil || db == nil {
		return err
	}
	defer db.Close()

	ctx = context.WithoutCancel(ctx)
	for _, res := range results {
		if res == nil {
			continue
		}
		if err := db.SaveDeepScan(ctx, res); err != nil {
			return fmt.Errorf("save deep scan of device %d: %w", res.Device.Instance, err)
		}
	}
	return nil
}
