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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/bacscan/internal/store"
	"github.com/edgeo-scada/bacscan/inventory"
)

var (
	historyRun   string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded scan runs",
	Long: `History reads the runs recorded with --db. Without --run it lists the
most recent runs; with --run it prints the devices or rows of that run.

Examples:
  edgeo-bacscan history --db scans.db
  edgeo-bacscan history --db scans.db --run 4c2f8d0e-5b6a-4f1e-9d3c-2a7b8e9f0a1b -o csv`,

	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Session id of the run to show")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs listed (0 = all)")
	addRowLayoutFlag(historyCmd)
}

func addRowLayoutFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&rowsLayout, "layout", LayoutLong, "Row layout (long, points)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	out, err := NewFormatter(viper.GetString("output"))
	if err != nil {
		return err
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("history needs a database (--db or db in the config file)")
	}
	defer db.Close()

	ctx := context.Background()
	if historyRun == "" {
		runs, err := db.Runs(ctx, historyLimit)
		if err != nil {
			return err
		}
		return printRuns(out, runs)
	}

	id, err := uuid.Parse(historyRun)
	if err != nil {
		return fmt.Errorf("invalid run id: %w", err)
	}
	return printRun(ctx, out, db, id)
}

func printRuns(out *Formatter, runs []store.Run) error {
	if out.Structured() {
		return out.Encode(runs)
	}
	records := make([][]string, 0, len(runs))
	for _, r := range runs {
		records = append(records, []string{
			r.SessionID.String(),
			r.Kind,
			r.Started.Local().Format(time.DateTime),
			r.Finished.Sub(r.Started).Round(time.Millisecond).String(),
			string(r.Status),
			r.Source,
			strconv.Itoa(r.Devices),
			strconv.Itoa(r.Rows),
		})
	}
	return out.PrintRecords(
		[]string{"session_id", "kind", "started", "elapsed", "status", "source", "devices", "rows"},
		records,
	)
}

func printRun(ctx context.Context, out *Formatter, db *store.Store, id uuid.UUID) error {
	rows, err := db.Rows(ctx, id)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		if out.Structured() {
			return out.Encode(rows)
		}
		header, records, err := rowRecords(rows, rowsLayout)
		if err != nil {
			return err
		}
		return out.PrintRecords(header, records)
	}

	devices, err := db.Devices(ctx, id)
	if err != nil {
		return err
	}
	if out.Structured() {
		return out.Encode(devices)
	}
	records := make([][]string, 0, len(devices))
	for _, d := range devices {
		records = append(records, inventory.DeviceRecord(d, true))
	}
	return out.PrintRecords(inventory.DiscoveryHeader(true), records)
}
