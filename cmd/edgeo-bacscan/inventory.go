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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/edgeo-scada/bacscan/bacnet"
	"github.com/edgeo-scada/bacscan/inventory"
)

const maxParallel = 8

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Discover devices and read the point inventory of each",
	Long: `Inventory runs a discovery session, then deep-scans every device found.

With --parallel N the deep scans run on N local participants at once: the
discovery participant plus N-1 more bound to --deep-port and the ports after
it, each with its own device instance. Rows are always written in the order
the devices were discovered.

Examples:
  # Inventory the whole network
  edgeo-bacscan inventory -i 192.168.0.63/24 --file inventory.csv

  # Two scan channels, results recorded in SQLite
  edgeo-bacscan inventory --parallel 2 --db scans.db`,

	RunE: runInventory,
}

func init() {
	addDiscoverFlags(inventoryCmd)
	addRowFlags(inventoryCmd)
	inventoryCmd.Flags().Int("parallel", 1, "Number of deep scans run at once")
	inventoryCmd.Flags().Int("deep-port", bacnet.DefaultPort+1, "First local port of the extra scan participants")
	viper.BindPFlag("parallel", inventoryCmd.Flags().Lookup("parallel"))
	viper.BindPFlag("deep-port", inventoryCmd.Flags().Lookup("deep-port"))
}

func runInventory(cmd *cobra.Command, args []string) error {
	out, err := NewFormatter(viper.GetString("output"))
	if err != nil {
		return err
	}

	parallel := viper.GetInt("parallel")
	if parallel < 1 || parallel > maxParallel {
		return fmt.Errorf("--parallel must be between 1 and %d", maxParallel)
	}
	localID := viper.GetUint32("device-id")
	ignore := make([]uint32, 0, parallel-1)
	for i := 1; i < parallel; i++ {
		ignore = append(ignore, localID+uint32(i))
	}

	discoverOpts, err := inventoryOptions(inventory.WithIgnoreInstances(ignore...))
	if err != nil {
		return err
	}
	scanOpts, err := scanOptions()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	primary, err := connectPrimary(ctx)
	if err != nil {
		return err
	}
	defer closeParticipant(primary)

	fmt.Fprintf(os.Stderr, "Discovering BACnet devices (%s)...\n", viper.GetDuration("window"))
	disc, err := inventory.NewDiscoverer(primary, discoverOpts...).Discover(ctx, discoverParams(true))
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if err := saveDiscovery(ctx, disc); err != nil {
		return err
	}
	if disc.Status == inventory.StatusNoDevices {
		fmt.Fprintln(os.Stderr, "No devices found")
		return nil
	}
	fmt.Fprintf(os.Stderr, "Found %d device(s), scanning with %d channel(s)\n", len(disc.Devices), parallel)

	participants := []*bacnet.Participant{primary}
	deepPort := viper.GetInt("deep-port")
	for i := 1; i < parallel && i < len(disc.Devices); i++ {
		p, err := newParticipant(deepPort+i-1, localID+uint32(i))
		if err != nil {
			return fmt.Errorf("create scan participant: %w", err)
		}
		if err := p.Connect(ctx); err != nil {
			return fmt.Errorf("connect scan participant: %w", err)
		}
		defer closeParticipant(p)
		participants = append(participants, p)
	}

	results, err := scanAll(ctx, participants, disc.Devices, scanOpts)
	if err != nil {
		return err
	}
	for _, res := range results {
		if res != nil {
			reportStatus(res)
		}
	}

	if err := saveDeepScans(ctx, results); err != nil {
		return err
	}
	return emitRows(out, results)
}

// scanAll deep-scans devices with one worker per participant. Results keep
// the order of devices; a device not reached before ctx ends has a nil
// result.
func scanAll(ctx context.Context, participants []*bacnet.Participant, devices []inventory.DeviceInstance, opts []inventory.Option) ([]*inventory.DeepScanResult, error) {
	results := make([]*inventory.DeepScanResult, len(devices))
	jobs := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range devices {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for _, p := range participants {
		p := p
		scanner := inventory.NewDeepScanner(p, opts...)
		g.Go(func() error {
			for i := range jobs {
				dev := devices[i]
				res, err := scanner.Scan(gctx, inventory.TargetFor(dev))
				if err != nil {
					return fmt.Errorf("deep scan of device %d: %w", dev.Instance, err)
				}
				logger.Debug("device scanned",
					slog.Uint64("device_id", uint64(dev.Instance)),
					slog.Uint64("channel", uint64(p.Identity().Device.Instance)),
					slog.String("status", string(res.Status)),
				)
				results[i] = res
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
