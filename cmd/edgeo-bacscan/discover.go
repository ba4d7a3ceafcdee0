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
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/bacscan/bacnet"
	"github.com/edgeo-scada/bacscan/inventory"
)

var (
	discoverEnrich    bool
	discoverFull      bool
	discoverLowLimit  uint32
	discoverHighLimit uint32
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover BACnet devices on the network",
	Long: `Discover broadcasts one Who-Is and lists the devices that answer within
the discovery window.

Examples:
  # Discover all devices
  edgeo-bacscan discover -i 192.168.0.63/24

  # Read device names, vendors and models too
  edgeo-bacscan discover --enrich

  # Discover devices with instances 1000-2000, as CSV
  edgeo-bacscan discover --low 1000 --high 2000 -o csv`,

	RunE: runDiscover,
}

func init() {
	addDiscoverFlags(discoverCmd)
	discoverCmd.Flags().BoolVar(&discoverEnrich, "enrich", false, "Read device-level properties of every device")
	discoverCmd.Flags().BoolVar(&discoverFull, "full", false, "Read the full device property set when enriching")
}

func addDiscoverFlags(cmd *cobra.Command) {
	cmd.Flags().Uint32Var(&discoverLowLimit, "low", 0, "Low limit of the device instance range")
	cmd.Flags().Uint32Var(&discoverHighLimit, "high", 0, "High limit of the device instance range (0 = no range)")
}

// discoverParams builds the session parameters from flags and config
func discoverParams(enrich bool) inventory.DiscoverParams {
	params := inventory.DiscoverParams{
		Window: viper.GetDuration("window"),
		Enrich: enrich,
	}
	if discoverHighLimit > 0 {
		low, high := discoverLowLimit, discoverHighLimit
		if high > bacnet.MaxInstance {
			high = bacnet.MaxInstance
		}
		params.LowLimit = &low
		params.HighLimit = &high
	}
	return params
}

// signalContext is cancelled on interrupt
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	out, err := NewFormatter(viper.GetString("output"))
	if err != nil {
		return err
	}

	var extra []inventory.Option
	if discoverFull {
		extra = append(extra, inventory.WithDeviceProperties(inventory.FullDeviceProperties...))
	}
	opts, err := inventoryOptions(extra...)
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

	fmt.Fprintf(os.Stderr, "Discovering BACnet devices (%s)...\n", viper.GetDuration("window"))

	res, err := inventory.NewDiscoverer(p, opts...).Discover(ctx, discoverParams(discoverEnrich))
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	if err := saveDiscovery(ctx, res); err != nil {
		return err
	}

	if res.Status == inventory.StatusNoDevices && !out.Structured() {
		fmt.Fprintln(os.Stderr, "No devices found")
		return nil
	}
	if err := out.PrintDiscovery(res); err != nil {
		return err
	}
	if !out.Structured() {
		fmt.Fprintf(os.Stderr, "Found %d device(s)\n", len(res.Devices))
	}
	return nil
}

// saveDiscovery records res when a database is configured
func saveDiscovery(ctx context.Context, res *inventory.DiscoveryResult) error {
	db, err := openStore()
	if err != nil || db == nil {
		return err
	}
	defer db.Close()

	if err := db.SaveDiscovery(context.WithoutCancel(ctx), res); err != nil {
		return fmt.Errorf("save discovery: %w", err)
	}
	logger.Debug("discovery saved", slog.String("session", res.SessionID.String()), slog.String("db", db.Path()))
	return nil
}
