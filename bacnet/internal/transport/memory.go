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

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// inboxSize bounds each endpoint's receive queue. A full queue drops
// datagrams, as a socket buffer would.
const inboxSize = 256

var errAddrInUse = errors.New("address already in use")

// DropFunc decides whether a datagram in flight is lost.
type DropFunc func(from, to *net.UDPAddr, data []byte) bool

// MemoryNetwork is an in-process IPv4 LAN segment. Endpoints are keyed by
// ip:port; datagrams to the segment's broadcast address reach every bound
// endpoint on the destination port, including the sender.
type MemoryNetwork struct {
	mu        sync.RWMutex
	ipnet     *net.IPNet
	broadcast net.IP
	endpoints map[string]*MemoryTransport
	drop      DropFunc
}

// NewMemoryNetwork creates a LAN segment for cidr, e.g. "10.0.0.0/24".
func NewMemoryNetwork(cidr string) (*MemoryNetwork, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("parse network: %w", err)
	}
	return &MemoryNetwork{
		ipnet:     ipnet,
		broadcast: DirectedBroadcast(ip, ipnet.Mask),
		endpoints: make(map[string]*MemoryTransport),
	}, nil
}

// SetDrop installs a loss hook; nil delivers everything.
func (n *MemoryNetwork) SetDrop(fn DropFunc) {
	n.mu.Lock()
	n.drop = fn
	n.mu.Unlock()
}

// Endpoint returns an unbound transport for addr ("10.0.0.5:47808").
func (n *MemoryNetwork) Endpoint(addr string) (*MemoryTransport, error) {
	ua, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve endpoint: %w", err)
	}
	ua.IP = ua.IP.To4()
	return &MemoryTransport{
		network: n,
		addr:    ua,
		inbox:   make(chan datagram, inboxSize),
		done:    make(chan struct{}),
	}, nil
}

// Inject delivers raw bytes as if sent from `from`. It bypasses the drop hook.
func (n *MemoryNetwork) Inject(from, to *net.UDPAddr, data []byte) {
	n.deliver(from, to, data, false)
}

func (n *MemoryNetwork) bind(t *MemoryTransport) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := t.addr.String()
	if _, ok := n.endpoints[key]; ok {
		return &BindError{Addr: key, Err: errAddrInUse}
	}
	if !n.ipnet.Contains(t.addr.IP) {
		return &BindError{Addr: key, Err: errors.New("address not on this network")}
	}
	n.endpoints[key] = t
	return nil
}

func (n *MemoryNetwork) unbind(t *MemoryTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[t.addr.String()] == t {
		delete(n.endpoints, t.addr.String())
	}
}

func (n *MemoryNetwork) isBroadcast(ip net.IP) bool {
	return ip.Equal(n.broadcast) || ip.Equal(net.IPv4bcast)
}

func (n *MemoryNetwork) deliver(from, to *net.UDPAddr, data []byte, lossy bool) {
	n.mu.RLock()
	var targets []*MemoryTransport
	if n.isBroadcast(to.IP) {
		for _, ep := range n.endpoints {
			if ep.addr.Port == to.Port {
				targets = append(targets, ep)
			}
		}
	} else if ep, ok := n.endpoints[to.String()]; ok {
		targets = append(targets, ep)
	}
	drop := n.drop
	n.mu.RUnlock()

	for _, ep := range targets {
		if lossy && drop != nil && drop(from, ep.addr, data) {
			continue
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		src := &net.UDPAddr{IP: from.IP, Port: from.Port}
		select {
		case ep.inbox <- datagram{data: buf, from: src}:
		default:
		}
	}
}

type datagram struct {
	data []byte
	from *net.UDPAddr
}

// MemoryTransport is one endpoint on a MemoryNetwork.
type MemoryTransport struct {
	network *MemoryNetwork
	addr    *net.UDPAddr
	inbox   chan datagram

	mu     sync.Mutex
	opened bool
	closed bool
	done   chan struct{}
}

// Open binds the endpoint on its network
func (t *MemoryTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.opened && !t.closed {
		return nil
	}
	if t.closed {
		return ErrClosed
	}
	if err := t.network.bind(t); err != nil {
		return err
	}
	t.opened = true
	return nil
}

// Close unbinds the endpoint
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.opened || t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	t.network.unbind(t)
	return nil
}

// LocalAddr returns the endpoint address
func (t *MemoryTransport) LocalAddr() *net.UDPAddr {
	return t.addr
}

// BroadcastAddr returns the network broadcast address on the endpoint's port
func (t *MemoryTransport) BroadcastAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: t.network.broadcast, Port: t.addr.Port}
}

// Send delivers one datagram
func (t *MemoryTransport) Send(ctx context.Context, addr *net.UDPAddr, data []byte) error {
	t.mu.Lock()
	opened, closed := t.opened, t.closed
	t.mu.Unlock()

	if !opened {
		return ErrNotOpen
	}
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.network.deliver(t.addr, addr, data, true)
	return nil
}

// Receive waits for one datagram or ctx expiry
func (t *MemoryTransport) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	t.mu.Lock()
	opened := t.opened
	t.mu.Unlock()
	if !opened {
		return nil, nil, ErrNotOpen
	}

	select {
	case dg := <-t.inbox:
		return dg.data, dg.from, nil
	case <-t.done:
		return nil, nil, ErrClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// IsClosed returns true if the endpoint is closed
func (t *MemoryTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
