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

// Package inventory turns BACnet discovery and property reads into device
// and point inventories.
package inventory

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/edgeo-scada/bacscan/bacnet"
)

// Status is the outcome of a session
type Status string

const (
	StatusOK           Status = "ok"
	StatusNoDevices    Status = "no-devices"
	StatusComplete     Status = "complete"
	StatusPartial      Status = "partial"
	StatusUnresponsive Status = "unresponsive"
)

// DeviceInstance is one discovered controller. Instance and Address come from
// its I-Am; the names are filled by enrichment and may stay empty.
type DeviceInstance struct {
	Instance     uint32         `json:"device_instance" yaml:"device_instance"`
	Address      bacnet.Address `json:"address" yaml:"address"`
	MaxAPDU      uint16         `json:"max_apdu" yaml:"max_apdu"`
	Segmentation string         `json:"segmentation" yaml:"segmentation"`
	VendorID     uint16         `json:"vendor_id" yaml:"vendor_id"`

	ObjectName       string            `json:"object_name,omitempty" yaml:"object_name,omitempty"`
	VendorName       string            `json:"vendor_name,omitempty" yaml:"vendor_name,omitempty"`
	ModelName        string            `json:"model_name,omitempty" yaml:"model_name,omitempty"`
	Location         string            `json:"location,omitempty" yaml:"location,omitempty"`
	Description      string            `json:"description,omitempty" yaml:"description,omitempty"`
	SystemStatus     string            `json:"system_status,omitempty" yaml:"system_status,omitempty"`
	FirmwareRevision string            `json:"firmware_revision,omitempty" yaml:"firmware_revision,omitempty"`
	Extra            map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// DeviceFromInfo converts an I-Am observation
func DeviceFromInfo(info *bacnet.DeviceInfo) DeviceInstance {
	return DeviceInstance{
		Instance:     info.Instance(),
		Address:      info.Address,
		MaxAPDU:      info.MaxAPDULength,
		Segmentation: info.Segmentation.String(),
		VendorID:     info.VendorID,
	}
}

// ObjectID returns the device object identifier
func (d DeviceInstance) ObjectID() bacnet.ObjectIdentifier {
	return bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, d.Instance)
}

func (d *DeviceInstance) set(prop bacnet.PropertyIdentifier, v Value) {
	s := v.String()
	switch prop {
	case bacnet.PropertyObjectName:
		d.ObjectName = s
	case bacnet.PropertyVendorName:
		d.VendorName = s
	case bacnet.PropertyModelName:
		d.ModelName = s
	case bacnet.PropertyLocation:
		d.Location = s
	case bacnet.PropertyDescription:
		d.Description = s
	case bacnet.PropertySystemStatus:
		d.SystemStatus = s
	case bacnet.PropertyFirmwareRevision:
		d.FirmwareRevision = s
	default:
		if d.Extra == nil {
			d.Extra = make(map[string]string)
		}
		d.Extra[prop.String()] = s
	}
}

// DiscoverParams controls one discovery session
type DiscoverParams struct {
	// Window is how long I-Am replies are collected. Zero means DefaultWindow.
	Window time.Duration
	// Enrich reads device-level properties of every discovered device
	Enrich bool
	// Properties overrides the enrichment property set
	Properties []bacnet.PropertyIdentifier
	// LowLimit and HighLimit restrict the Who-Is to an instance range
	LowLimit  *uint32
	HighLimit *uint32
}

// DiscoveryResult is the outcome of one discovery session
type DiscoveryResult struct {
	SessionID uuid.UUID        `json:"session_id" yaml:"session_id"`
	Started   time.Time        `json:"started" yaml:"started"`
	Finished  time.Time        `json:"finished" yaml:"finished"`
	Enriched  bool             `json:"enriched" yaml:"enriched"`
	Devices   []DeviceInstance `json:"devices" yaml:"devices"`
	Status    Status           `json:"status" yaml:"status"`
}

// Discoverer runs discovery sessions on one participant
type Discoverer struct {
	p      *bacnet.Participant
	opts   *options
	logger *slog.Logger
}

// NewDiscoverer creates a discoverer
func NewDiscoverer(p *bacnet.Participant, opts ...Option) *Discoverer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Discoverer{p: p, opts: o, logger: o.logger}
}

// Discover broadcasts one Who-Is and collects the devices that answer within
// the window, in arrival order. Finding nothing is not an error; the result
// status is StatusNoDevices. A cancelled ctx ends the session early with
// what was collected so far.
func (d *Discoverer) Discover(ctx context.Context, params DiscoverParams) (*DiscoveryResult, error) {
	window := params.Window
	if window <= 0 {
		window = DefaultWindow
	}

	res := &DiscoveryResult{
		SessionID: uuid.New(),
		Started:   time.Now(),
		Enriched:  params.Enrich,
	}
	logger := d.logger.With(slog.String("session", res.SessionID.String()))

	whoIsOpts := []bacnet.DiscoverOption{bacnet.WithDiscoveryTimeout(window)}
	if params.LowLimit != nil && params.HighLimit != nil {
		whoIsOpts = append(whoIsOpts, bacnet.WithDeviceRange(*params.LowLimit, *params.HighLimit))
	}

	infos, err := d.p.WhoIs(ctx, whoIsOpts...)
	if err != nil && ctx.Err() == nil {
		return nil, err
	}

	res.Devices = make([]DeviceInstance, 0, len(infos))
	for _, info := range infos {
		if d.opts.ignore[info.Instance()] {
			continue
		}
		res.Devices = append(res.Devices, DeviceFromInfo(info))
	}

	if params.Enrich {
		props := params.Properties
		if len(props) == 0 {
			props = d.opts.deviceProperties
		}
		for i := range res.Devices {
			if ctx.Err() != nil {
				break
			}
			d.Describe(ctx, &res.Devices[i], props...)
		}
	}

	res.Finished = time.Now()
	res.Status = StatusOK
	if len(res.Devices) == 0 {
		res.Status = StatusNoDevices
	}

	logger.Info("discovery finished",
		slog.Int("devices", len(res.Devices)),
		slog.String("status", string(res.Status)),
		slog.Duration("elapsed", res.Finished.Sub(res.Started)),
	)
	return res, nil
}

// Describe reads device-level properties into dev and returns how many were
// read. Properties that fail stay empty. With no props the configured device
// property set is read.
func (d *Discoverer) Describe(ctx context.Context, dev *DeviceInstance, props ...bacnet.PropertyIdentifier) int {
	if len(props) == 0 {
		props = d.opts.deviceProperties
	}
	return describe(ctx, d.p, d.opts, dev, props)
}

func describe(ctx context.Context, p *bacnet.Participant, o *options, dev *DeviceInstance, props []bacnet.PropertyIdentifier) int {
	read := 0
	for _, prop := range props {
		if ctx.Err() != nil {
			break
		}
		raw, err := p.ReadProperty(ctx, dev.Address, dev.ObjectID(), prop, o.readOpts()...)
		if err != nil {
			o.logger.Debug("device property unavailable",
				slog.Uint64("device_id", uint64(dev.Instance)),
				slog.String("property", prop.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		dev.set(prop, FromRaw(prop, bacnet.ObjectTypeDevice, raw))
		read++
	}
	return read
}
