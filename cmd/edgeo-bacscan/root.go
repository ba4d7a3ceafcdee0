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
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/bacscan/bacnet"
	"github.com/edgeo-scada/bacscan/internal/store"
	"github.com/edgeo-scada/bacscan/inventory"
)

// version is set at build time
var version = "dev"

var (
	cfgFile string
	logger  = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "edgeo-bacscan",
	Short: "BACnet/IP discovery and point inventory",
	Long: `edgeo-bacscan finds BACnet/IP devices on the local network and reads
their point inventory.

Examples:
  # Discover devices and read their names
  edgeo-bacscan discover --enrich -i 192.168.0.63/24

  # Inventory one device to CSV
  edgeo-bacscan deep-scan --device 999001 --address 192.168.0.20 --file points.csv

  # Discover and inventory everything, keeping the results
  edgeo-bacscan inventory --parallel 2 --db ~/.edgeo-bacscan/scans.db`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if viper.GetBool("verbose") {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.edgeo-bacscan.yaml)")
	flags.StringP("interface", "i", "", "Local interface as IPv4/mask (e.g. 192.168.0.63/24)")
	flags.IntP("port", "p", bacnet.DefaultPort, "BACnet/IP port")
	flags.Uint32("device-id", bacnet.DefaultDeviceID, "Local device instance")
	flags.DurationP("timeout", "t", 3*time.Second, "Timeout per ReadProperty")
	flags.DurationP("window", "w", inventory.DefaultWindow, "Discovery window")
	flags.StringSlice("catalog", nil, "Object types probed when a device has no objectList")
	flags.Uint32("ceiling", inventory.DefaultCeiling, "Highest instance probed per catalog type")
	flags.StringP("output", "o", "table", "Output format (table, json, csv, yaml)")
	flags.String("db", "", "SQLite file to record results in")
	flags.BoolP("verbose", "v", false, "Enable debug logging")

	bindFlag("interface", "interface")
	bindFlag("port", "port")
	bindFlag("device-id", "device-id")
	bindFlag("timeout", "timeout")
	bindFlag("window", "window")
	bindFlag("catalog.types", "catalog")
	bindFlag("catalog.ceiling", "ceiling")
	bindFlag("output", "output")
	bindFlag("db", "db")
	bindFlag("verbose", "verbose")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(deepScanCmd)
	rootCmd.AddCommand(inventoryCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func bindFlag(key, name string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
		panic(err)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".edgeo-bacscan")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BACSCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// newParticipant creates a participant bound to port with the given local
// device instance.
func newParticipant(port int, deviceID uint32) (*bacnet.Participant, error) {
	opts := []bacnet.Option{
		bacnet.WithPort(port),
		bacnet.WithBroadcastPort(viper.GetInt("port")),
		bacnet.WithDeviceID(deviceID),
		bacnet.WithTimeout(viper.GetDuration("timeout")),
		bacnet.WithLogger(logger),
	}
	if iface := viper.GetString("interface"); iface != "" {
		opts = append(opts, bacnet.WithInterface(iface))
	}
	return bacnet.NewParticipant(opts...)
}

// connectPrimary creates and connects the participant on the configured port
func connectPrimary(ctx context.Context) (*bacnet.Participant, error) {
	p, err := newParticipant(viper.GetInt("port"), viper.GetUint32("device-id"))
	if err != nil {
		return nil, fmt.Errorf("create participant: %w", err)
	}
	if err := p.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return p, nil
}

// closeParticipant closes p and logs its metrics
func closeParticipant(p *bacnet.Participant) {
	m := p.Metrics().Snapshot()
	logger.Debug("participant metrics",
		slog.Uint64("local_device", uint64(p.Identity().Device.Instance)),
		slog.Int64("requests_sent", m.RequestsSent),
		slog.Int64("requests_matched", m.RequestsMatched),
		slog.Int64("requests_timed_out", m.RequestsTimedOut),
		slog.Int64("requests_errored", m.RequestsErrored),
		slog.Int64("unmatched_replies", m.UnmatchedReplies),
		slog.Int64("malformed_frames", m.MalformedFrames),
		slog.Int64("iam_received", m.IAmReceived),
		slog.Duration("latency_avg", m.Latency.Avg),
		slog.Duration("uptime", m.Uptime.Round(time.Millisecond)),
		slog.Time("last_activity", m.LastActivity),
	)
	if err := p.Close(); err != nil {
		logger.Warn("close participant", slog.String("error", err.Error()))
	}
}

// inventoryOptions builds the options shared by discovery and deep scans
func inventoryOptions(extra ...inventory.Option) ([]inventory.Option, error) {
	catalog, err := catalogFromConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	opts := []inventory.Option{
		inventory.WithLogger(logger),
		inventory.WithReadTimeout(viper.GetDuration("timeout")),
		inventory.WithCatalog(catalog),
	}
	return append(opts, extra...), nil
}

// catalogFromConfig reads catalog.types either as a list of type names or
// as a list of {type, ceiling, properties} entries.
func catalogFromConfig(v *viper.Viper) (inventory.Catalog, error) {
	ceiling := v.GetUint32("catalog.ceiling")
	if ceiling == 0 {
		ceiling = inventory.DefaultCeiling
	}

	switch items := v.Get("catalog.types").(type) {
	case nil:
		return inventory.DefaultCatalog(ceiling), nil
	case string:
		if strings.TrimSpace(items) == "" {
			return inventory.DefaultCatalog(ceiling), nil
		}
		return inventory.ParseCatalog(strings.Split(items, ","), ceiling)
	case []string:
		if len(items) == 0 {
			return inventory.DefaultCatalog(ceiling), nil
		}
		return inventory.ParseCatalog(items, ceiling)
	case []interface{}:
		if len(items) == 0 {
			return inventory.DefaultCatalog(ceiling), nil
		}
		names := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				names = nil
				break
			}
			names = append(names, s)
		}
		if names != nil {
			return inventory.ParseCatalog(names, ceiling)
		}

		var specs []inventory.EntrySpec
		if err := v.UnmarshalKey("catalog.types", &specs); err != nil {
			return inventory.Catalog{}, fmt.Errorf("catalog: %w", err)
		}
		return inventory.BuildCatalog(specs, ceiling)
	default:
		return inventory.Catalog{}, fmt.Errorf("catalog: unsupported value %T", items)
	}
}

// openStore opens the result database when --db is set
func openStore() (*store.Store, error) {
	path := viper.GetString("db")
	if path == "" {
		return nil, nil
	}
	s, err := store.Open(store.Config{Path: expandHome(path)})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("edgeo-bacscan version %s\n", version)
	},
}
