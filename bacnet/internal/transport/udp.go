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
	"fmt"
	"net"
	"sync"
	"time"
)

// maxDatagram is the largest BACnet/IP datagram we expect (Ethernet MTU).
const maxDatagram = 1500

// UDPTransport implements Transport over a UDP socket.
//
// The socket is bound to the wildcard address on the configured port:
// Linux does not deliver subnet broadcasts to a socket bound to a unicast
// address, and I-Am replies are frequently broadcast. The interface address
// is kept as the advertised local address and used to derive the broadcast
// destination.
type UDPTransport struct {
	iface     net.IP
	port      int
	broadcast *net.UDPAddr

	mu           sync.RWMutex
	conn         *net.UDPConn
	writeTimeout time.Duration
	closed       bool
}

// NewUDPTransport creates a UDP transport for the interface ip/mask and port.
// A nil ip binds and advertises the wildcard address.
func NewUDPTransport(ip net.IP, mask net.IPMask, port int) *UDPTransport {
	return &UDPTransport{
		iface: ip,
		port:  port,
		broadcast: &net.UDPAddr{
			IP:   DirectedBroadcast(ip, mask),
			Port: port,
		},
		writeTimeout: 3 * time.Second,
	}
}

// SetWriteTimeout sets the write timeout used when ctx carries no deadline
func (t *UDPTransport) SetWriteTimeout(d time.Duration) {
	t.mu.Lock()
	t.writeTimeout = d
	t.mu.Unlock()
}

// Open binds the UDP socket. An interface address the host does not own
// fails with a BindError wrapping ErrAddrNotLocal.
func (t *UDPTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil && !t.closed {
		return nil
	}

	if t.iface != nil && !t.iface.IsUnspecified() {
		ips, err := HostIPs()
		if err != nil {
			return &BindError{Addr: HostPort(t.iface, t.port), Err: err}
		}
		if !ContainsIP(ips, t.iface) {
			return &BindError{Addr: HostPort(t.iface, t.port), Err: ErrAddrNotLocal}
		}
	}

	bind := &net.UDPAddr{IP: net.IPv4zero, Port: t.port}
	conn, err := net.ListenUDP("udp4", bind)
	if err != nil {
		return &BindError{Addr: HostPort(t.iface, t.port), Err: err}
	}

	t.conn = conn
	t.closed = false
	return nil
}

// Close closes the UDP socket
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.closed {
		return nil
	}

	t.closed = true
	return t.conn.Close()
}

// LocalAddr returns the advertised local address
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()

	port := t.port
	if t.conn != nil {
		if la, ok := t.conn.LocalAddr().(*net.UDPAddr); ok {
			port = la.Port
		}
	}
	ip := t.iface
	if ip == nil {
		ip = net.IPv4zero
	}
	return &net.UDPAddr{IP: ip, Port: port}
}

// BroadcastAddr returns the directed broadcast destination
func (t *UDPTransport) BroadcastAddr() *net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.broadcast
}

// Send sends one datagram to addr
func (t *UDPTransport) Send(ctx context.Context, addr *net.UDPAddr, data []byte) error {
	t.mu.RLock()
	conn := t.conn
	closed := t.closed
	writeTimeout := t.writeTimeout
	t.mu.RUnlock()

	if conn == nil {
		return ErrNotOpen
	}
	if closed {
		return ErrClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	n, err := conn.WriteToUDP(data, addr)
	if err != nil {
		return fmt.Errorf("write UDP: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("partial write: %d of %d bytes", n, len(data))
	}

	return nil
}

// Receive reads one datagram, giving up when ctx expires
func (t *UDPTransport) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	t.mu.RLock()
	conn := t.conn
	closed := t.closed
	t.mu.RUnlock()

	if conn == nil {
		return nil, nil, ErrNotOpen
	}
	if closed {
		return nil, nil, ErrClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Second)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, fmt.Errorf("set read deadline: %w", err)
	}

	buf := make([]byte, maxDatagram)
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}

	return buf[:n], addr, nil
}

// IsClosed returns true if the transport is closed
func (t *UDPTransport) IsClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
