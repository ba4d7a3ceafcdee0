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

// Package bacnettest provides an in-memory BACnet/IP LAN with simulated
// devices, for testing code built on the bacnet package without sockets.
package bacnettest

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/edgeo-scada/bacscan/bacnet"
	"github.com/edgeo-scada/bacscan/bacnet/internal/transport"
)

// Network is an in-memory LAN segment
type Network struct {
	lan *transport.MemoryNetwork

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	hosts map[string]*host
}

// host is one B/IP endpoint serving one or more devices. Several routed
// devices can share their router's endpoint.
type host struct {
	ep *transport.MemoryTransport

	mu      sync.Mutex
	devices []*Device
}

// NewNetwork creates a LAN for cidr, e.g. "10.0.0.0/24"
func NewNetwork(cidr string) (*Network, error) {
	lan, err := transport.NewMemoryNetwork(cidr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Network{
		lan:    lan,
		ctx:    ctx,
		cancel: cancel,
		hosts:  make(map[string]*host),
	}, nil
}

// Participant creates an unconnected participant bound to addr on this LAN
func (n *Network) Participant(addr string, opts ...bacnet.Option) (*bacnet.Participant, error) {
	ep, err := n.lan.Endpoint(addr)
	if err != nil {
		return nil, err
	}
	return bacnet.NewParticipant(append(opts, bacnet.WithTransport(ep))...)
}

// AddDevice attaches a simulated device and starts serving it
func (n *Network) AddDevice(d *Device) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	h, ok := n.hosts[d.Addr]
	if ok {
		h.mu.Lock()
		h.devices = append(h.devices, d)
		h.mu.Unlock()
		return nil
	}

	ep, err := n.lan.Endpoint(d.Addr)
	if err != nil {
		return err
	}
	if err := ep.Open(n.ctx); err != nil {
		return err
	}

	h = &host{ep: ep, devices: []*Device{d}}
	n.hosts[d.Addr] = h

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		h.serve(n.ctx)
	}()
	return nil
}

// SetDrop installs a hook that loses datagrams in flight; nil delivers all
func (n *Network) SetDrop(fn func(from, to *net.UDPAddr, data []byte) bool) {
	if fn == nil {
		n.lan.SetDrop(nil)
		return
	}
	n.lan.SetDrop(transport.DropFunc(fn))
}

// Inject delivers raw bytes to `to` as if sent from `from`
func (n *Network) Inject(from, to string, data []byte) error {
	src, err := net.ResolveUDPAddr("udp4", from)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", from, err)
	}
	dst, err := net.ResolveUDPAddr("udp4", to)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", to, err)
	}
	n.lan.Inject(src, dst, data)
	return nil
}

// Close stops every simulated device
func (n *Network) Close() {
	n.cancel()

	n.mu.Lock()
	for _, h := range n.hosts {
		_ = h.ep.Close()
	}
	n.mu.Unlock()

	n.wg.Wait()
}

func (h *host) serve(ctx context.Context) {
	for {
		data, from, err := h.ep.Receive(ctx)
		if err != nil {
			return
		}

		f := bacnet.Decode(data)
		switch f.Kind {
		case bacnet.FrameWhoIs:
			h.whoIs(ctx, f.WhoIs, from)
		case bacnet.FrameReadPropertyRequest:
			h.readProperty(ctx, &f, from)
		}
	}
}

func (h *host) snapshot() []*Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Device(nil), h.devices...)
}

func (h *host) whoIs(ctx context.Context, whoIs *bacnet.WhoIs, from *net.UDPAddr) {
	for _, d := range h.snapshot() {
		if d.Silent || !whoIs.Covers(d.Instance) {
			continue
		}

		out := bacnet.EncodeIAm(d.route(), d.iam(), true)
		dst := &net.UDPAddr{IP: h.ep.BroadcastAddr().IP, Port: from.Port}
		if d.IAmDelay > 0 {
			go func(delay time.Duration) {
				select {
				case <-ctx.Done():
				case <-time.After(delay):
					_ = h.ep.Send(ctx, dst, out)
				}
			}(d.IAmDelay)
			continue
		}
		_ = h.ep.Send(ctx, dst, out)
	}
}

func (h *host) readProperty(ctx context.Context, f *bacnet.Frame, from *net.UDPAddr) {
	for _, d := range h.snapshot() {
		if d.Net != f.DestNet || !bytes.Equal(d.MAC, f.DestAddr) {
			continue
		}
		if d.Silent {
			return
		}

		out := d.answer(f.InvokeID, f.Request)
		if out == nil {
			return
		}
		if d.Delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.Delay):
			}
		}
		_ = h.ep.Send(ctx, from, out)
		return
	}
}
