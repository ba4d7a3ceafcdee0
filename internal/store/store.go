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

// Package store persists discovery and deep-scan results in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/edgeo-scada/bacscan/inventory"
)

//go:embed schema.sql
var schema string

const (
	dirPermissions  = 0750
	filePermissions = 0600

	defaultBusyTimeout = 5 * time.Second
	pingTimeout        = 5 * time.Second
)

// Run kinds
const (
	KindDiscovery = "discovery"
	KindDeepScan  = "deep-scan"
)

// ErrRunNotFound is returned by Rows for an unknown session
var ErrRunNotFound = errors.New("store: run not found")

// Config configures the database
type Config struct {
	// Path of the database file. Its directory is created when missing.
	Path string
	// BusyTimeout bounds the wait for the write lock
	BusyTimeout time.Duration
}

// Run summarizes one persisted session
type Run struct {
	SessionID uuid.UUID        `json:"session_id" yaml:"session_id"`
	Kind      string           `json:"kind" yaml:"kind"`
	Started   time.Time        `json:"started" yaml:"started"`
	Finished  time.Time        `json:"finished" yaml:"finished"`
	Status    inventory.Status `json:"status" yaml:"status"`
	Source    string           `json:"source,omitempty" yaml:"source,omitempty"`
	Devices   int              `json:"devices" yaml:"devices"`
	Rows      int              `json:"rows" yaml:"rows"`
}

// Store is a SQLite-backed result store. It is safe for concurrent use;
// writes are serialized on a single connection.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database and applies the schema
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	db, err := sql.Open("sqlite3", dsn(cfg.Path, busy))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	_ = os.Chmod(cfg.Path, filePermissions)

	return &Store{db: db, path: cfg.Path}, nil
}

// dsn builds the SQLite URI for path. The path is escaped so that '?', '#'
// and '%' in file names reach SQLite intact.
func dsn(path string, busy time.Duration) string {
	params := url.Values{}
	params.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	return "file:" + (&url.URL{Path: path}).EscapedPath() + "?" + params.Encode()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// SaveDiscovery stores a discovery session and its devices
func (s *Store) SaveDiscovery(ctx context.Context, res *inventory.DiscoveryResult) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		run := Run{
			SessionID: res.SessionID,
			Kind:      KindDiscovery,
			Started:   res.Started,
			Finished:  res.Finished,
			Status:    res.Status,
			Devices:   len(res.Devices),
		}
		if err := insertRun(ctx, tx, run); err != nil {
			return err
		}
		for i := range res.Devices {
			if err := insertDevice(ctx, tx, res.SessionID, &res.Devices[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveDeepScan stores a deep-scan session, its device and its rows
func (s *Store) SaveDeepScan(ctx context.Context, res *inventory.DeepScanResult) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		run := Run{
			SessionID: res.SessionID,
			Kind:      KindDeepScan,
			Started:   res.Started,
			Finished:  res.Finished,
			Status:    res.Status,
			Source:    string(res.Source),
			Devices:   1,
			Rows:      len(res.Rows),
		}
		if err := insertRun(ctx, tx, run); err != nil {
			return err
		}
		if err := insertDevice(ctx, tx, res.SessionID, &res.Device); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO property_rows (
			session_id, seq, device_instance, device_ip, network_number,
			object_type, object_instance, property_name, value_kind, value_text,
			vendor_name, model_name, location
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing row insert: %w", err)
		}
		defer stmt.Close()

		for i, r := range res.Rows {
			kind, text := inventory.KindOf(r.Value)
			if _, err := stmt.ExecContext(ctx,
				res.SessionID.String(), i, r.DeviceInstance, r.DeviceIP, r.NetworkNumber,
				r.ObjectType, r.ObjectInstance, r.PropertyName, kind, text,
				r.VendorName, r.ModelName, r.Location,
			); err != nil {
				return fmt.Errorf("inserting row %d: %w", i, err)
			}
		}
		return nil
	})
}

// Runs returns the most recent runs first. limit <= 0 returns all of them.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT session_id, kind, started, finished, status, source, device_count, row_count
		FROM runs ORDER BY started DESC, rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r  Run
			id string
		)
		if err := rows.Scan(&id, &r.Kind, &r.Started, &r.Finished, &r.Status, &r.Source, &r.Devices, &r.Rows); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if r.SessionID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("run %q: %w", id, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Devices returns the devices recorded for a session
func (s *Store) Devices(ctx context.Context, sessionID uuid.UUID) ([]inventory.DeviceInstance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT device_instance, address, max_apdu, segmentation, vendor_id,
			object_name, vendor_name, model_name, location, description, system_status, firmware_revision
		FROM devices WHERE session_id = ? ORDER BY rowid`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []inventory.DeviceInstance
	for rows.Next() {
		var (
			d    inventory.DeviceInstance
			addr string
		)
		if err := rows.Scan(&d.Instance, &addr, &d.MaxAPDU, &d.Segmentation, &d.VendorID,
			&d.ObjectName, &d.VendorName, &d.ModelName, &d.Location, &d.Description,
			&d.SystemStatus, &d.FirmwareRevision); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		if err := d.Address.UnmarshalText([]byte(addr)); err != nil {
			return nil, fmt.Errorf("device %d: %w", d.Instance, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Rows returns the property rows of a deep-scan session in scan order
func (s *Store) Rows(ctx context.Context, sessionID uuid.UUID) ([]inventory.PropertyRow, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE session_id = ?`, sessionID.String()).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, sessionID)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT device_instance, device_ip, network_number, object_type,
			object_instance, property_name, value_kind, value_text, vendor_name, model_name, location
		FROM property_rows WHERE session_id = ? ORDER BY seq`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("querying rows: %w", err)
	}
	defer rows.Close()

	var out []inventory.PropertyRow
	for rows.Next() {
		var (
			r          inventory.PropertyRow
			kind, text string
		)
		if err := rows.Scan(&r.DeviceInstance, &r.DeviceIP, &r.NetworkNumber, &r.ObjectType,
			&r.ObjectInstance, &r.PropertyName, &kind, &text, &r.VendorName, &r.ModelName, &r.Location); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.Value = inventory.ValueOf(kind, text)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertRun(ctx context.Context, tx *sql.Tx, r Run) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO runs (
		session_id, kind, started, finished, status, source, device_count, row_count
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID.String(), r.Kind, r.Started.UTC(), r.Finished.UTC(), string(r.Status), r.Source, r.Devices, r.Rows)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", r.SessionID, err)
	}
	return nil
}

func insertDevice(ctx context.Context, tx *sql.Tx, session uuid.UUID, d *inventory.DeviceInstance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO devices (
		session_id, device_instance, address, max_apdu, segmentation, vendor_id,
		object_name, vendor_name, model_name, location, description, system_status, firmware_revision
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.String(), d.Instance, d.Address.String(), d.MaxAPDU, d.Segmentation, d.VendorID,
		d.ObjectName, d.VendorName, d.ModelName, d.Location, d.Description, d.SystemStatus, d.FirmwareRevision)
	if err != nil {
		return fmt.Errorf("inserting device %d: %w", d.Instance, err)
	}
	return nil
}
