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
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// collector gathers the I-Am replies seen during one Who-Is window
type collector struct {
	filter WhoIs

	mu      sync.Mutex
	seen    map[uint32]struct{}
	devices []*DeviceInfo
}

func newCollector(filter WhoIs) *collector {
	return &collector{
		filter: filter,
		seen:   make(map[uint32]struct{}),
	}
}

func (c *collector) offer(info *DeviceInfo) {
	if !c.filter.Covers(info.Instance()) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.seen[info.Instance()]; dup {
		return
	}
	c.seen[info.Instance()] = struct{}{}
	dev := *info
	c.devices = append(c.devices, &dev)
}

func (c *collector) result() []*DeviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*DeviceInfo(nil), c.devices...)
}

// WhoIs broadcasts one Who-Is and collects I-Am replies until the window
// closes. Devices are returned once each, first reply wins, in arrival order.
//
// A ctx deadline shortens the window. A cancelled ctx or a closed participant
// returns what was collected so far together with the error.
func (p *Participant) WhoIs(ctx context.Context, opts ...DiscoverOption) ([]*DeviceInfo, error) {
	options := defaultDiscoverOptions()
	for _, opt := range opts {
		opt(options)
	}

	if p.State() != StateConnected {
		return nil, ErrNotConnected
	}

	c := newCollector(WhoIs{Low: options.LowLimit, High: options.HighLimit})
	p.collectorsMu.Lock()
	p.collectors[c] = struct{}{}
	p.collectorsMu.Unlock()

	defer func() {
		p.collectorsMu.Lock()
		delete(p.collectors, c)
		p.collectorsMu.Unlock()
	}()

	dst := p.broadcastAddr()
	if err := p.Request(ctx, dst, EncodeWhoIs(options.LowLimit, options.HighLimit)); err != nil {
		return nil, err
	}
	p.metrics.WhoIsSent.Inc()

	p.logger.Info("who-is sent",
		slog.String("broadcast", dst.String()),
		slog.Duration("window", options.Timeout),
	)

	timer := time.NewTimer(options.Timeout)
	defer timer.Stop()

	var err error
	select {
	case <-timer.C:
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = ctx.Err()
		}
	case <-p.closing:
		err = ErrConnectionClosed
	}

	devices := c.result()
	p.logger.Info("who-is window closed", slog.Int("devices", len(devices)))
	return devices, err
}

// Devices returns every device seen since Connect, in order of first I-Am
func (p *Participant) Devices() []*DeviceInfo {
	p.devicesMu.RLock()
	defer p.devicesMu.RUnlock()

	out := make([]*DeviceInfo, 0, len(p.deviceOrder))
	for _, instance := range p.deviceOrder {
		dev := *p.devices[instance]
		out = append(out, &dev)
	}
	return out
}

// Device returns the cached entry for a device instance
func (p *Participant) Device(instance uint32) (*DeviceInfo, bool) {
	p.devicesMu.RLock()
	defer p.devicesMu.RUnlock()

	dev, ok := p.devices[instance]
	if !ok {
		return nil, false
	}
	out := *dev
	return &out, true
}

// Locate returns the address of a device, asking for it with a ranged
// Who-Is when it is not cached yet.
func (p *Participant) Locate(ctx context.Context, instance uint32, window time.Duration) (*DeviceInfo, error) {
	if dev, ok := p.Device(instance); ok {
		return dev, nil
	}

	devices, err := p.WhoIs(ctx, WithDeviceRange(instance, instance), WithDiscoveryTimeout(window))
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Instance() == instance {
			return dev, nil
		}
	}
	return nil, ErrDeviceNotFound
}
