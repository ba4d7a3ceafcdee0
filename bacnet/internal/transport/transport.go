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

// Package transport provides the datagram endpoints a BACnet/IP participant
// sends and receives through.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Errors returned by transports
var (
	ErrClosed  = errors.New("transport: closed")
	ErrNotOpen = errors.New("transport: not open")
	// ErrAddrNotLocal is wrapped in a BindError when the configured
	// interface address is not assigned to this host
	ErrAddrNotLocal = errors.New("transport: address not assigned to any interface")
)

// Transport is a bound datagram endpoint.
//
// Receive returns one datagram per call and a timeout error (net.Error with
// Timeout() true) when ctx expires first. Callers poll it in a loop.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	LocalAddr() *net.UDPAddr
	BroadcastAddr() *net.UDPAddr
	Send(ctx context.Context, addr *net.UDPAddr, data []byte) error
	Receive(ctx context.Context) ([]byte, *net.UDPAddr, error)
	IsClosed() bool
}

// BindError reports that an endpoint could not be bound.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// ParseInterface parses a local interface setting. Accepted forms are
// "192.168.0.63/24", "192.168.0.63" and "" (any address, no mask).
func ParseInterface(s string) (net.IP, net.IPMask, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil, nil
	}

	if strings.Contains(s, "/") {
		ip, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, nil, fmt.Errorf("parse interface %q: %w", s, err)
		}
		ip4 := ip.To4()
		if ip4 == nil {
			return nil, nil, fmt.Errorf("parse interface %q: not an IPv4 address", s)
		}
		return ip4, ipnet.Mask, nil
	}

	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return nil, nil, fmt.Errorf("parse interface %q: not an IPv4 address", s)
	}
	return ip.To4(), nil, nil
}

// DirectedBroadcast returns the subnet broadcast address for ip/mask, or the
// limited broadcast address when either is missing.
func DirectedBroadcast(ip net.IP, mask net.IPMask) net.IP {
	ip4 := ip.To4()
	if ip4 == nil || len(mask) != net.IPv4len {
		return net.IPv4bcast.To4()
	}
	out := make(net.IP, net.IPv4len)
	for i := range out {
		out[i] = ip4[i] | ^mask[i]
	}
	return out
}

// HostPort joins an IPv4 address and a port, treating a nil IP as the
// wildcard address.
func HostPort(ip net.IP, port int) string {
	host := "0.0.0.0"
	if ip != nil {
		host = ip.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// HostIPs returns the IPv4 addresses assigned to this host's interfaces
func HostIPs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("list interface addresses: %w", err)
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			ips = append(ips, ip4)
		}
	}
	return ips, nil
}

// ContainsIP reports whether ip is one of ips
func ContainsIP(ips []net.IP, ip net.IP) bool {
	for _, candidate := range ips {
		if candidate.Equal(ip) {
			return true
		}
	}
	return false
}

// IsTimeout reports whether err is a receive timeout rather than a failure.
func IsTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
