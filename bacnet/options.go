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

package bacnet

import (
	"log/slog"
	"time"

	"github.com/edgeo-scada/bacscan/bacnet/internal/transport"
)

// Default identity of the local participant
const (
	DefaultDeviceID   = 1234
	DefaultVendorID   = 15
	DefaultObjectName = "edgeo-bacscan"
)

// participantOptions holds configuration for a Participant
type participantOptions struct {
	// Identity
	deviceID     uint32
	vendorID     uint16
	objectName   string
	maxAPDU      uint16
	segmentation Segmentation

	// Binding
	iface         string
	port          int
	broadcastPort int
	transport     transport.Transport

	// Requests
	timeout    time.Duration
	serialized bool

	logger *slog.Logger
}

// defaultOptions returns the default participant options
func defaultOptions() *participantOptions {
	return &participantOptions{
		deviceID:     DefaultDeviceID,
		vendorID:     DefaultVendorID,
		objectName:   DefaultObjectName,
		maxAPDU:      1024,
		segmentation: SegmentationBoth,
		port:         DefaultPort,
		timeout:      3 * time.Second,
		serialized:   true,
		logger:       slog.Default(),
	}
}

// Option is a functional option for configuring a Participant
type Option func(*participantOptions)

// WithDeviceID sets the local device instance. It must differ from every
// device the participant talks to.
func WithDeviceID(id uint32) Option {
	return func(o *participantOptions) {
		o.deviceID = id
	}
}

// WithVendorID sets the vendor identifier announced in I-Am
func WithVendorID(id uint16) Option {
	return func(o *participantOptions) {
		o.vendorID = id
	}
}

// WithObjectName sets the local device object name
func WithObjectName(name string) Option {
	return func(o *participantOptions) {
		o.objectName = name
	}
}

// WithMaxAPDULength sets the maximum APDU length accepted in replies
func WithMaxAPDULength(length uint16) Option {
	return func(o *participantOptions) {
		o.maxAPDU = length
	}
}

// WithSegmentation sets the segmentation capability announced in I-Am
func WithSegmentation(seg Segmentation) Option {
	return func(o *participantOptions) {
		o.segmentation = seg
	}
}

// WithInterface sets the local interface as "192.168.0.63/24". The mask
// selects the directed broadcast address; without one 255.255.255.255 is
// used.
func WithInterface(cidr string) Option {
	return func(o *participantOptions) {
		o.iface = cidr
	}
}

// WithPort sets the local UDP port
func WithPort(port int) Option {
	return func(o *participantOptions) {
		o.port = port
	}
}

// WithBroadcastPort sets the port Who-Is broadcasts are sent to. It defaults
// to the local port.
func WithBroadcastPort(port int) Option {
	return func(o *participantOptions) {
		o.broadcastPort = port
	}
}

// WithTransport replaces the UDP socket, e.g. with an in-memory endpoint
func WithTransport(t transport.Transport) Option {
	return func(o *participantOptions) {
		o.transport = t
	}
}

// WithTimeout sets the default per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(o *participantOptions) {
		o.timeout = d
	}
}

// WithSerializedRequests controls whether round trips hold the participant
// lock, allowing one outstanding request at a time. Enabled by default.
func WithSerializedRequests(enable bool) Option {
	return func(o *participantOptions) {
		o.serialized = enable
	}
}

// WithLogger sets the logger for the participant
func WithLogger(logger *slog.Logger) Option {
	return func(o *participantOptions) {
		o.logger = logger
	}
}

// DiscoverOptions holds configuration for a Who-Is window
type DiscoverOptions struct {
	// Range limits for WhoIs
	LowLimit  *uint32
	HighLimit *uint32

	// Timeout is the observation window
	Timeout time.Duration
}

// DiscoverOption is a functional option for discovery
type DiscoverOption func(*DiscoverOptions)

// defaultDiscoverOptions returns default discovery options
func defaultDiscoverOptions() *DiscoverOptions {
	return &DiscoverOptions{
		Timeout: 5 * time.Second,
	}
}

// WithDeviceRange sets the device instance range for discovery
func WithDeviceRange(low, high uint32) DiscoverOption {
	return func(o *DiscoverOptions) {
		o.LowLimit = &low
		o.HighLimit = &high
	}
}

// WithDiscoveryTimeout sets the observation window
func WithDiscoveryTimeout(d time.Duration) DiscoverOption {
	return func(o *DiscoverOptions) {
		o.Timeout = d
	}
}

// ReadOptions holds configuration for read operations
type ReadOptions struct {
	ArrayIndex *uint32
	Timeout    time.Duration
}

// ReadOption is a functional option for read operations
type ReadOption func(*ReadOptions)

// WithArrayIndex sets the array index for reading array properties
func WithArrayIndex(index uint32) ReadOption {
	return func(o *ReadOptions) {
		o.ArrayIndex = &index
	}
}

// WithReadTimeout overrides the participant's request timeout for one read
func WithReadTimeout(d time.Duration) ReadOption {
	return func(o *ReadOptions) {
		o.Timeout = d
	}
}
