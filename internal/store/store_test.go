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

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/bacscan/bacnet"
	"github.com/edgeo-scada/bacscan/inventory"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "nested", "scans.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func device(t *testing.T, instance uint32, addr string) inventory.DeviceInstance {
	t.Helper()
	a, err := bacnet.ParseAddress(addr)
	require.NoError(t, err)
	return inventory.DeviceInstance{
		Instance:     instance,
		Address:      a,
		MaxAPDU:      1476,
		Segmentation: "noSegmentation",
		VendorID:     15,
		ObjectName:   "AHU-1",
		VendorName:   "Edgeo Controls",
	}
}

func TestOpen(t *testing.T) {
	s := openTemp(t)
	_, err := os.Stat(s.Path())
	assert.NoError(t, err)

	// Reopening applies the schema again without error
	require.NoError(t, s.Close())
	s2, err := Open(Config{Path: s.Path(), BusyTimeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, s2.Close())

	_, err = Open(Config{})
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/var/lib/bacscan/scans.db", "file:/var/lib/bacscan/scans.db"},
		{"scans.db", "file:scans.db"},
		{"/tmp/site?a#1.db", "file:/tmp/site%3Fa%231.db"},
		{"/tmp/100%/scans.db", "file:/tmp/100%25/scans.db"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t,
				tt.want+"?_busy_timeout=2500&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
				dsn(tt.path, 2500*time.Millisecond))
		})
	}
}

func TestOpenPathWithURIDelimiters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site?a#1", "scans.db")
	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = os.Stat(path)
	require.NoError(t, err, "database created at the literal path")

	runs, err := s.Runs(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSaveDiscovery(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	res := &inventory.DiscoveryResult{
		SessionID: uuid.New(),
		Started:   started,
		Finished:  started.Add(5 * time.Second),
		Devices: []inventory.DeviceInstance{
			device(t, 999001, "10.0.0.5"),
			device(t, 999002, "2001:0a@10.0.0.9:47809"),
		},
		Status: inventory.StatusOK,
	}
	require.NoError(t, s.SaveDiscovery(ctx, res))

	runs, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.SessionID, runs[0].SessionID)
	assert.Equal(t, KindDiscovery, runs[0].Kind)
	assert.Equal(t, inventory.StatusOK, runs[0].Status)
	assert.Equal(t, 2, runs[0].Devices)
	assert.True(t, started.Equal(runs[0].Started))

	devices, err := s.Devices(ctx, res.SessionID)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "10.0.0.5", devices[0].Address.String())
	assert.Equal(t, "2001:0a@10.0.0.9:47809", devices[1].Address.String())
	assert.Equal(t, "AHU-1", devices[1].ObjectName)
	assert.Equal(t, uint16(1476), devices[1].MaxAPDU)

	// A session id is stored once
	assert.Error(t, s.SaveDiscovery(ctx, res))
	runs, err = s.Runs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSaveDeepScan(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	dev := device(t, 999001, "2001:0a@10.0.0.9")
	asm := inventory.NewAssembler(dev)
	ai1 := bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 1)
	bo2 := bacnet.NewObjectIdentifier(bacnet.ObjectTypeBinaryOutput, 2)

	res := &inventory.DeepScanResult{
		SessionID: uuid.New(),
		Device:    dev,
		Source:    inventory.SourceObjectList,
		Objects:   []bacnet.ObjectIdentifier{ai1, bo2},
		Rows: []inventory.PropertyRow{
			asm.Row(ai1, bacnet.PropertyObjectName, inventory.Text{S: "Supply Temp"}),
			asm.Row(ai1, bacnet.PropertyPresentValue, inventory.Number{V: 21.5}),
			asm.Row(bo2, bacnet.PropertyPresentValue, inventory.EnumSymbol{Symbol: "active"}),
			asm.Row(bo2, bacnet.PropertyUnits, inventory.Unreadable{Reason: "timeout"}),
		},
		Status:   inventory.StatusPartial,
		Started:  time.Now(),
		Finished: time.Now(),
	}
	require.NoError(t, s.SaveDeepScan(ctx, res))

	rows, err := s.Rows(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, res.Rows, rows)
	assert.Equal(t, uint16(2001), rows[0].NetworkNumber)

	runs, err := s.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, KindDeepScan, runs[0].Kind)
	assert.Equal(t, "objectList", runs[0].Source)
	assert.Equal(t, 4, runs[0].Rows)

	_, err = s.Rows(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunsOrderAndLimit(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		res := &inventory.DiscoveryResult{
			SessionID: uuid.New(),
			Started:   base.Add(time.Duration(i) * time.Minute),
			Finished:  base.Add(time.Duration(i)*time.Minute + time.Second),
			Status:    inventory.StatusNoDevices,
		}
		require.NoError(t, s.SaveDiscovery(ctx, res))
		ids = append(ids, res.SessionID)
	}

	runs, err := s.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].SessionID)
	assert.Equal(t, ids[1], runs[1].SessionID)

	rows, err := s.Rows(ctx, ids[0])
	require.NoError(t, err)
	assert.Empty(t, rows, "discovery runs carry no rows")
}
