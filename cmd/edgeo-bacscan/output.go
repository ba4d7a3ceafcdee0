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
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/edgeo-scada/bacscan/inventory"
)

// OutputFormat represents output format types
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
	FormatYAML  OutputFormat = "yaml"
)

// Row layouts of deep-scan output
const (
	LayoutLong   = "long"
	LayoutPoints = "points"
)

// Formatter handles output formatting
type Formatter struct {
	format OutputFormat
	writer io.Writer
}

// NewFormatter creates a formatter writing to stdout
func NewFormatter(format string) (*Formatter, error) {
	switch f := OutputFormat(format); f {
	case FormatTable, FormatJSON, FormatCSV, FormatYAML:
		return &Formatter{format: f, writer: os.Stdout}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// SetWriter sets the output writer
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Structured reports whether the format serializes whole results
func (f *Formatter) Structured() bool {
	return f.format == FormatJSON || f.format == FormatYAML
}

// PrintTable prints data in table format
func (f *Formatter) PrintTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Fprintf(f.writer, "%-*s ", widths[i], h)
	}
	fmt.Fprintln(f.writer)

	for i := range headers {
		for j := 0; j < widths[i]; j++ {
			fmt.Fprint(f.writer, "-")
		}
		fmt.Fprint(f.writer, " ")
	}
	fmt.Fprintln(f.writer)

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(f.writer, "%-*s ", widths[i], cell)
			}
		}
		fmt.Fprintln(f.writer)
	}
}

// PrintKeyValue prints key-value pairs in the given order
func (f *Formatter) PrintKeyValue(pairs map[string]string, order []string) {
	maxKeyLen := 0
	for _, key := range order {
		if len(key) > maxKeyLen {
			maxKeyLen = len(key)
		}
	}

	for _, key := range order {
		if val, ok := pairs[key]; ok {
			fmt.Fprintf(f.writer, "%-*s: %s\n", maxKeyLen, key, val)
		}
	}
}

// PrintRecords prints a header and records as a table or CSV
func (f *Formatter) PrintRecords(header []string, records [][]string) error {
	if f.format == FormatCSV {
		return writeCSV(f.writer, header, records)
	}
	f.PrintTable(header, records)
	return nil
}

// Encode serializes v as JSON or YAML
func (f *Formatter) Encode(v interface{}) error {
	switch f.format {
	case FormatJSON:
		enc := json.NewEncoder(f.writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(f.writer)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %s cannot encode values", f.format)
	}
}

// PrintDiscovery prints the devices of a discovery session
func (f *Formatter) PrintDiscovery(res *inventory.DiscoveryResult) error {
	if f.Structured() {
		return f.Encode(res)
	}
	records := make([][]string, 0, len(res.Devices))
	for _, d := range res.Devices {
		records = append(records, inventory.DeviceRecord(d, res.Enriched))
	}
	return f.PrintRecords(inventory.DiscoveryHeader(res.Enriched), records)
}

// PrintRows prints deep-scan rows in the long or points layout. Structured
// formats encode results instead.
func (f *Formatter) PrintRows(results []*inventory.DeepScanResult, layout string) error {
	if f.Structured() {
		if len(results) == 1 {
			return f.Encode(results[0])
		}
		return f.Encode(results)
	}
	header, records, err := rowRecords(collectRows(results), layout)
	if err != nil {
		return err
	}
	return f.PrintRecords(header, records)
}

func collectRows(results []*inventory.DeepScanResult) []inventory.PropertyRow {
	var rows []inventory.PropertyRow
	for _, res := range results {
		if res != nil {
			rows = append(rows, res.Rows...)
		}
	}
	return rows
}

func rowRecords(rows []inventory.PropertyRow, layout string) ([]string, [][]string, error) {
	switch layout {
	case LayoutLong, "":
		records := make([][]string, 0, len(rows))
		for _, r := range rows {
			records = append(records, r.Record())
		}
		return inventory.DeepScanHeader, records, nil
	case LayoutPoints:
		return inventory.PointsHeader(rows), inventory.PointRecords(rows), nil
	default:
		return nil, nil, fmt.Errorf("unknown layout %q", layout)
	}
}

func writeCSV(w io.Writer, header []string, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(records); err != nil {
		return err
	}
	return cw.Error()
}

// writeRowsFile writes deep-scan rows as CSV to path
func writeRowsFile(path string, results []*inventory.DeepScanResult, layout string) error {
	header, records, err := rowRecords(collectRows(results), layout)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := writeCSV(file, header, records); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}

// reportStatus prints the one-line outcome of a deep scan to stderr
func reportStatus(res *inventory.DeepScanResult) {
	fmt.Fprintf(os.Stderr, "device %d (%s): %s [%s]\n",
		res.Device.Instance, res.Device.Address, res.Summary(), res.Status)
}
