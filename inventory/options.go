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
	"log/slog"
	"time"

	"github.com/edgeo-scada/bacscan/bacnet"
)

// DefaultWindow is the default Who-Is observation window
const DefaultWindow = 5 * time.Second

var (
	// BasicDeviceProperties are read when enriching discovered devices
	BasicDeviceProperties = []bacnet.PropertyIdentifier{
		bacnet.PropertyObjectName,
		bacnet.PropertyVendorName,
		bacnet.PropertyModelName,
		bacnet.PropertyLocation,
	}

	// FullDeviceProperties is the complete device-level property sheet
	FullDeviceProperties = []bacnet.PropertyIdentifier{
		bacnet.PropertyObjectName,
		bacnet.PropertyVendorName,
		bacnet.PropertyModelName,
		bacnet.PropertyDescription,
		bacnet.PropertySystemStatus,
		bacnet.PropertyFirmwareRevision,
		bacnet.PropertyLocation,
	}
)

type options struct {
	logger           *slog.Logger
	catalog          Catalog
	readTimeout      time.Duration
	extraProperties  []bacnet.PropertyIdentifier
	deviceProperties []bacnet.PropertyIdentifier
	ignore           map[uint32]bool
}

func defaultOptions() *options {
	return &options{
		logger:           slog.Default(),
		catalog:          DefaultCatalog(DefaultCeiling),
		deviceProperties: BasicDeviceProperties,
		ignore:           make(map[uint32]bool),
	}
}

// Option configures a Discoverer or DeepScanner
type Option func(*options)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCatalog sets the object types a deep scan reports and probes
func WithCatalog(c Catalog) Option {
	return func(o *options) {
		o.catalog = c
	}
}

// WithReadTimeout bounds each ReadProperty round trip. Zero uses the
// participant's timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) {
		o.readTimeout = d
	}
}

// WithExtraProperties appends properties to every object's property set
func WithExtraProperties(props ...bacnet.PropertyIdentifier) Option {
	return func(o *options) {
		o.extraProperties = append(o.extraProperties, props...)
	}
}

// WithDeviceProperties sets the device-level properties read during
// enrichment and deep scans
func WithDeviceProperties(props ...bacnet.PropertyIdentifier) Option {
	return func(o *options) {
		o.deviceProperties = props
	}
}

// WithIgnoreInstances drops devices from discovery results, e.g. the
// instances of secondary local participants.
func WithIgnoreInstances(instances ...uint32) Option {
	return func(o *options) {
		for _, id := range instances {
			o.ignore[id] = true
		}
	}
}

func (o *options) readOpts(extra ...bacnet.ReadOption) []bacnet.ReadOption {
	if o.readTimeout > 0 {
		extra = append(extra, bacnet.WithReadTimeout(o.readTimeout))
	}
	return extra
}
