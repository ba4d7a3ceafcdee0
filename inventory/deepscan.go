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

package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edgeo-scada/bacscan/bacnet"
)

// ErrInvalidTarget is returned for a malformed device address or instance
var ErrInvalidTarget = errors.New("inventory: invalid target")

// UnresponsiveSummary is reported for a device that yielded no rows
const UnresponsiveSummary = "No objects found or device did not respond."

// Source tells how the objects of a deep scan were found
type Source string

const (
	SourceObjectList        Source = "objectList"
	SourceIndexedObjectList Source = "indexedObjectList"
	SourceCatalog           Source = "catalog"
)

// DeepScanTarget is the device a deep scan reads
type DeepScanTarget struct {
	Instance uint32
	Address  bacnet.Address
	// Device carries metadata from discovery. When nil the scan reads the
	// vendor, model and location itself.
	Device *DeviceInstance
}

// TargetFor returns the target for a discovered device
func TargetFor(dev DeviceInstance) DeepScanTarget {
	return DeepScanTarget{Instance: dev.Instance, Address: dev.Address, Device: &dev}
}

// ParseTarget validates a device instance and address given as text
func ParseTarget(instance, address string) (DeepScanTarget, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(instance), 10, 32)
	if err != nil || n > bacnet.MaxInstance {
		return DeepScanTarget{}, fmt.Errorf("%w: device instance %q", ErrInvalidTarget, instance)
	}
	addr, err := bacnet.ParseAddress(address)
	if err != nil {
		return DeepScanTarget{}, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	return DeepScanTarget{Instance: uint32(n), Address: addr}, nil
}

// DeepScanResult is the outcome of one deep scan
type DeepScanResult struct {
	SessionID uuid.UUID                 `json:"session_id" yaml:"session_id"`
	Device    DeviceInstance            `json:"device" yaml:"device"`
	Source    Source                    `json:"source,omitempty" yaml:"source,omitempty"`
	Objects   []bacnet.ObjectIdentifier `json:"objects" yaml:"objects"`
	Rows      []PropertyRow             `json:"rows" yaml:"rows"`
	Status    Status                    `json:"status" yaml:"status"`
	Started   time.Time                 `json:"started" yaml:"started"`
	Finished  time.Time                 `json:"finished" yaml:"finished"`
}

// Unreadable returns the number of rows without a value
func (r *DeepScanResult) Unreadable() int {
	n := 0
	for _, row := range r.Rows {
		if !row.Readable() {
			n++
		}
	}
	return n
}

// Summary describes the result in one line
func (r *DeepScanResult) Summary() string {
	if r.Status == StatusUnresponsive {
		return UnresponsiveSummary
	}
	return fmt.Sprintf("%d objects, %d properties (%d unreadable) via %s",
		len(r.Objects), len(r.Rows), r.Unreadable(), r.Source)
}

// DeepScanner reads the point inventory of single devices
type DeepScanner struct {
	p    *bacnet.Participant
	opts *options
}

// NewDeepScanner creates a deep scanner
func NewDeepScanner(p *bacnet.Participant, opts ...Option) *DeepScanner {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &DeepScanner{p: p, opts: o}
}

var metadataProperties = []bacnet.PropertyIdentifier{
	bacnet.PropertyVendorName,
	bacnet.PropertyModelName,
	bacnet.PropertyLocation,
}

// Scan reads the objectList of the target and a fixed property set of every
// listed object. Without a usable objectList it probes the catalog instead.
// Failed reads become Unreadable rows; only an invalid target is an error.
// A cancelled ctx stops the scan and returns the rows read so far.
func (s *DeepScanner) Scan(ctx context.Context, target DeepScanTarget) (*DeepScanResult, error) {
	if target.Address.IP == nil || target.Instance > bacnet.MaxInstance {
		return nil, fmt.Errorf("%w: device %d at %q", ErrInvalidTarget, target.Instance, target.Address.String())
	}
	if s.p.State() != bacnet.StateConnected {
		return nil, bacnet.ErrNotConnected
	}

	res := &DeepScanResult{
		SessionID: uuid.New(),
		Started:   time.Now(),
	}
	logger := s.opts.logger.With(
		slog.String("session", res.SessionID.String()),
		slog.Uint64("device_id", uint64(target.Instance)),
	)

	if target.Device != nil {
		res.Device = *target.Device
	} else {
		res.Device = DeviceInstance{Instance: target.Instance, Address: target.Address}
		describe(ctx, s.p, s.opts, &res.Device, metadataProperties)
	}
	asm := NewAssembler(res.Device)

	logger.Info("deep scan started", slog.String("address", target.Address.String()))

	objects, source, err := s.objectList(ctx, target)
	objects = s.reportable(objects)

	switch {
	case ctx.Err() != nil:
	case err == nil && len(objects) > 0:
		res.Source = source
		res.Objects = objects
		for _, oid := range objects {
			if !s.readObject(ctx, res, asm, target.Address, oid, false) {
				break
			}
		}
	default:
		if err != nil {
			logger.Warn("objectList unavailable, probing catalog",
				slog.String("error", err.Error()),
				slog.Int("probes", s.opts.catalog.Probes()),
			)
		} else {
			logger.Warn("objectList lists no catalog objects, probing catalog")
		}
		res.Source = SourceCatalog
		s.probeCatalog(ctx, res, asm, target.Address)
	}

	res.Finished = time.Now()
	res.Status = status(res.Rows, ctx.Err() != nil)

	logger.Info("deep scan finished",
		slog.String("status", string(res.Status)),
		slog.String("source", string(res.Source)),
		slog.Int("objects", len(res.Objects)),
		slog.Int("rows", len(res.Rows)),
		slog.Duration("elapsed", res.Finished.Sub(res.Started)),
	)
	return res, nil
}

func status(rows []PropertyRow, cancelled bool) Status {
	if len(rows) == 0 {
		return StatusUnresponsive
	}
	if cancelled {
		return StatusPartial
	}
	for _, r := range rows {
		if !r.Readable() {
			return StatusPartial
		}
	}
	return StatusComplete
}

// objectList reads the whole list, or element by element when the device
// cannot return it in one APDU.
func (s *DeepScanner) objectList(ctx context.Context, target DeepScanTarget) ([]bacnet.ObjectIdentifier, Source, error) {
	list, err := s.p.ReadObjectList(ctx, target.Address, target.Instance, s.opts.readOpts()...)
	if err == nil {
		return list, SourceObjectList, nil
	}
	if !bacnet.IsResponseTooLong(err) {
		return nil, "", err
	}

	s.opts.logger.Debug("objectList too long, reading by index",
		slog.Uint64("device_id", uint64(target.Instance)),
	)
	list, err = s.p.ReadObjectListIndexed(ctx, target.Address, target.Instance, s.opts.readOpts()...)
	if err != nil {
		return nil, "", err
	}
	return list, SourceIndexedObjectList, nil
}

// reportable keeps the catalog objects of a list, without the device object
func (s *DeepScanner) reportable(list []bacnet.ObjectIdentifier) []bacnet.ObjectIdentifier {
	out := make([]bacnet.ObjectIdentifier, 0, len(list))
	for _, oid := range list {
		if oid.Type == bacnet.ObjectTypeDevice || !s.opts.catalog.Has(oid.Type) {
			continue
		}
		out = append(out, oid)
	}
	return out
}

func (s *DeepScanner) properties(t bacnet.ObjectType) []bacnet.PropertyIdentifier {
	props := s.opts.catalog.Properties(t)
	if len(s.opts.extraProperties) == 0 {
		return props
	}
	out := append([]bacnet.PropertyIdentifier(nil), props...)
	for _, extra := range s.opts.extraProperties {
		dup := false
		for _, p := range out {
			if p == extra {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, extra)
		}
	}
	return out
}

// readObject appends one row per property of oid. skipName leaves out
// objectName when the caller already recorded it. It returns false once ctx
// is done.
func (s *DeepScanner) readObject(ctx context.Context, res *DeepScanResult, asm *Assembler, addr bacnet.Address, oid bacnet.ObjectIdentifier, skipName bool) bool {
	for _, prop := range s.properties(oid.Type) {
		if skipName && prop == bacnet.PropertyObjectName {
			continue
		}
		if ctx.Err() != nil {
			return false
		}

		raw, err := s.p.ReadProperty(ctx, addr, oid, prop, s.opts.readOpts()...)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			res.Rows = append(res.Rows, asm.Row(oid, prop, UnreadableFrom(err)))
			continue
		}
		res.Rows = append(res.Rows, asm.Row(oid, prop, FromRaw(prop, oid.Type, raw)))
	}
	return true
}

// probeCatalog tries objectName on every catalog type and instance. Only
// instances that answer are read further.
func (s *DeepScanner) probeCatalog(ctx context.Context, res *DeepScanResult, asm *Assembler, addr bacnet.Address) {
	for _, entry := range s.opts.catalog.Entries {
		for i := uint32(1); i <= entry.Ceiling; i++ {
			if ctx.Err() != nil {
				return
			}

			oid := bacnet.NewObjectIdentifier(entry.Type, i)
			raw, err := s.p.ReadProperty(ctx, addr, oid, bacnet.PropertyObjectName, s.opts.readOpts()...)
			if err != nil {
				continue
			}

			res.Objects = append(res.Objects, oid)
			res.Rows = append(res.Rows, asm.Row(oid, bacnet.PropertyObjectName, FromRaw(bacnet.PropertyObjectName, oid.Type, raw)))
			if !s.readObject(ctx, res, asm, addr, oid, true) {
				return
			}
		}
	}
}
